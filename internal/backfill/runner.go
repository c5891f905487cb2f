// Package backfill scrapes many chats from a targets file.
package backfill

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MikeSquared-Agency/scribe/internal/scrape"
)

// Scraper runs one scrape to completion. *scrape.Service implements it; a
// cancelled ctx cancels the scrape.
type Scraper interface {
	Run(ctx context.Context, req scrape.Request) (string, scrape.Result)
}

// Config holds the batch command configuration.
type Config struct {
	// Concurrency bounds how many profiles scrape at once. The targets file
	// overrides it when set.
	Concurrency int
	// State, when set, skips chats a previous run completed.
	State *State
}

// JobResult is the outcome of one chat.
type JobResult struct {
	Request scrape.Request `json:"request"`
	Handle  string         `json:"handle,omitempty"`
	Result  scrape.Result  `json:"result"`
	Skipped bool           `json:"skipped,omitempty"`
}

// Summary aggregates a batch run.
type Summary struct {
	Total     int           `json:"total"`
	OK        int           `json:"ok"`
	Errors    int           `json:"errors"`
	Cancelled int           `json:"cancelled"`
	Skipped   int           `json:"skipped"`
	Inserted  int           `json:"inserted"`
	Duration  time.Duration `json:"duration"`
	Jobs      []JobResult   `json:"jobs"`
}

// Runner orchestrates a batch. Profiles run concurrently; the chats of one
// profile run one after another because a profile drives a single browser.
type Runner struct {
	cfg     Config
	scraper Scraper
	logger  *slog.Logger
}

// NewRunner creates a batch runner.
func NewRunner(cfg Config, scraper Scraper, logger *slog.Logger) *Runner {
	return &Runner{cfg: cfg, scraper: scraper, logger: logger}
}

// Run scrapes every target. Cancelling ctx cancels in-flight scrapes, which
// still flush what they collected, and marks the rest cancelled.
func (r *Runner) Run(ctx context.Context, targets Targets) Summary {
	started := time.Now()
	groups := targets.byProfile()

	limit := r.cfg.Concurrency
	if targets.Concurrency > 0 {
		limit = targets.Concurrency
	}
	if limit <= 0 {
		limit = 1
	}

	r.logger.Info("batch starting", "profiles", len(groups), "concurrency", limit)

	var mu sync.Mutex
	var jobs []JobResult
	record := func(j JobResult) {
		mu.Lock()
		defer mu.Unlock()
		jobs = append(jobs, j)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, group := range groups {
		g.Go(func() error {
			for _, req := range group {
				record(r.runOne(gctx, req))
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := r.cfg.State.Save(); err != nil {
		r.logger.Warn("failed to save batch state", "error", err)
	}

	sum := summarize(jobs)
	sum.Duration = time.Since(started)
	r.logger.Info("batch finished",
		"total", sum.Total,
		"ok", sum.OK,
		"errors", sum.Errors,
		"cancelled", sum.Cancelled,
		"skipped", sum.Skipped,
		"inserted", sum.Inserted,
		"duration", sum.Duration.String(),
	)
	return sum
}

func (r *Runner) runOne(ctx context.Context, req scrape.Request) JobResult {
	if r.cfg.State.IsCompleted(req.ProfileID, req.ChatURL) {
		r.logger.Info("skipping completed chat", "profile_id", req.ProfileID, "chat_url", req.ChatURL)
		return JobResult{Request: req, Skipped: true}
	}
	if ctx.Err() != nil {
		return JobResult{Request: req, Result: scrape.Result{Outcome: scrape.OutcomeCancelled}}
	}

	handle, res := r.scraper.Run(ctx, req)
	switch res.Outcome {
	case scrape.OutcomeOK:
		r.cfg.State.MarkCompleted(req.ProfileID, req.ChatURL)
	case scrape.OutcomeError:
		r.cfg.State.AddError(fmt.Sprintf("%s %s: %s", req.ProfileID, req.ChatURL, res.Reason))
	}
	if err := r.cfg.State.Save(); err != nil {
		r.logger.Warn("failed to save batch state", "error", err)
	}
	return JobResult{Request: req, Handle: handle, Result: res}
}

func summarize(jobs []JobResult) Summary {
	s := Summary{Total: len(jobs), Jobs: jobs}
	for _, j := range jobs {
		if j.Skipped {
			s.Skipped++
			continue
		}
		switch j.Result.Outcome {
		case scrape.OutcomeOK:
			s.OK++
		case scrape.OutcomeCancelled:
			s.Cancelled++
		default:
			s.Errors++
		}
		s.Inserted += j.Result.Stats.Inserted
	}
	return s
}
