package scrape

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MikeSquared-Agency/scribe/internal/browser"
	"github.com/MikeSquared-Agency/scribe/internal/dates"
	"github.com/MikeSquared-Agency/scribe/internal/extractor"
	"github.com/MikeSquared-Agency/scribe/internal/message"
	"github.com/MikeSquared-Agency/scribe/internal/octo"
)

// SessionManager starts and stops browser profiles. *octo.Client implements it.
type SessionManager interface {
	Start(ctx context.Context, profileID string) (octo.StartResult, error)
	Stop(ctx context.Context, profileID string) error
	ForceRestart(ctx context.Context, profileID string, maxAttempts int) (octo.StartResult, error)
}

// Dialer opens a page on a CDP endpoint.
type Dialer func(ctx context.Context, endpoint string) (browser.Page, error)

// Request names one chat to scrape.
type Request struct {
	ProfileID  string `json:"profile_id"`
	ChatURL    string `json:"chat_url"`
	UpdateOnly bool   `json:"update_only"`
}

func (r Request) chat() message.ChatIdentity {
	return message.ChatIdentity{ProfileID: r.ProfileID, ChatURL: r.ChatURL}
}

func (r Request) validate() error {
	if r.ProfileID == "" {
		return fmt.Errorf("profile_id is required")
	}
	if r.ChatURL == "" {
		return fmt.Errorf("chat_url is required")
	}
	if _, err := extractor.Detect(r.ChatURL); err != nil {
		return err
	}
	return nil
}

// Deps are the collaborators every session shares.
type Deps struct {
	Sessions  SessionManager
	Dial      Dialer
	Store     Store
	Dates     *dates.Normalizer
	Options   Options
	Extractor extractor.Options
	// RestartAttempts bounds ForceRestart after a failed start.
	RestartAttempts int
	// StopProfile stops profiles this process started once the scrape ends.
	StopProfile bool
	Logger      *slog.Logger
}

// Session is one scrape of one chat.
type Session struct {
	Handle string
	req    Request
	state  *SessionState
	deps   Deps
	logger *slog.Logger
}

// NewSession prepares a scrape. Nothing runs until Run.
func NewSession(handle string, req Request, deps Deps) *Session {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	platform, _ := extractor.Detect(req.ChatURL)
	return &Session{
		Handle: handle,
		req:    req,
		state:  NewSessionState(req.chat()),
		deps:   deps,
		logger: logger.With("session", handle, "profile_id", req.ProfileID, "platform", string(platform)),
	}
}

// State exposes the session's cancel flag and buffer.
func (s *Session) State() *SessionState {
	return s.state
}

// Run performs the scrape and records the result on the session state. It
// never returns an error: failures are reported in the Result.
func (s *Session) Run(ctx context.Context) Result {
	started := time.Now().UTC()
	res := s.run(ctx)
	res.StartedAt = started
	res.FinishedAt = time.Now().UTC()
	s.state.finish(res)

	s.logger.Info("scrape finished",
		"chat_url", s.req.ChatURL,
		"status", string(res.Outcome),
		"reason", res.Reason,
		"collected", res.Stats.Collected,
		"inserted", res.Stats.Inserted,
		"scrolls", res.Stats.Scrolls,
		"duration", res.FinishedAt.Sub(started).String(),
	)
	return res
}

func (s *Session) run(ctx context.Context) Result {
	adapter, err := extractor.New(s.req.ChatURL, s.deps.Extractor)
	if err != nil {
		return failed(err.Error(), Stats{})
	}
	if s.stopRequested(ctx) {
		return cancelled(Stats{})
	}

	start, err := s.startProfile(ctx)
	if err != nil {
		if s.stopRequested(ctx) {
			return cancelled(Stats{})
		}
		return failed(err.Error(), Stats{})
	}
	if s.deps.StopProfile && !start.AlreadyRunning {
		defer s.stopProfile(ctx)
	}
	if s.stopRequested(ctx) {
		return cancelled(Stats{})
	}

	page, err := s.deps.Dial(ctx, start.Endpoint)
	if err != nil {
		return failed(fmt.Sprintf("connect to browser: %v", err), Stats{})
	}
	pageOpen := true
	closePage := func() {
		if !pageOpen {
			return
		}
		pageOpen = false
		if err := page.Close(); err != nil {
			s.logger.Warn("failed to close page", "error", err)
		}
	}
	defer closePage()
	if s.stopRequested(ctx) {
		return cancelled(Stats{})
	}

	c := &collector{state: s.state, dates: s.dates(), logger: s.logger}
	s.intercept(page, adapter, c)

	opts := s.deps.Options
	opts.UpdateOnly = s.req.UpdateOnly
	driver := newScrollDriver(page, adapter, s.state, c, NewBatchPersister(s.deps.Store, s.logger), opts, s.logger)
	terminal, err := driver.Run(ctx, s.req.ChatURL)

	// Closing the page drains in-flight responses into the buffer.
	closePage()
	driver.flushRemaining(ctx)
	stats := driver.Stats()

	switch terminal {
	case StateConverged:
		if err := s.deps.Store.RecordParsed(context.WithoutCancel(ctx), s.req.ProfileID, time.Now().UTC()); err != nil {
			s.logger.Warn("failed to record parse time", "error", err)
		}
		return ok(stats)
	case StateCancelled:
		return cancelled(stats)
	}
	if err == nil {
		err = fmt.Errorf("scroll driver stopped in state %s", terminal)
	}
	return failed(err.Error(), stats)
}

func (s *Session) startProfile(ctx context.Context) (octo.StartResult, error) {
	res, err := s.deps.Sessions.Start(ctx, s.req.ProfileID)
	if err == nil && res.Endpoint != "" {
		return res, nil
	}
	if err == nil {
		err = fmt.Errorf("%w: no endpoint returned", octo.ErrSessionStart)
	}
	if ctx.Err() != nil {
		return octo.StartResult{}, err
	}

	s.logger.Warn("profile start failed, restarting", "error", err)
	res, err = s.deps.Sessions.ForceRestart(ctx, s.req.ProfileID, s.deps.RestartAttempts)
	if err != nil {
		return octo.StartResult{}, fmt.Errorf("start profile %s: %w", s.req.ProfileID, err)
	}
	return res, nil
}

func (s *Session) stopProfile(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := s.deps.Sessions.Stop(ctx, s.req.ProfileID); err != nil {
		s.logger.Warn("failed to stop profile", "error", err)
	}
}

// intercept subscribes the adapter to the page's responses. It must run
// before navigation so the first page of history is not missed.
func (s *Session) intercept(page browser.Page, adapter extractor.Adapter, c *collector) {
	page.Subscribe(
		func(meta browser.ResponseMeta) bool {
			return meta.Status < 400 && adapter.MatchResponse(meta.URL, meta.ContentType)
		},
		func(resp browser.Response) {
			cands, err := adapter.ParseResponse(resp.URL, resp.Body())
			if err != nil {
				s.logger.Warn("failed to parse intercepted response", "url", resp.URL, "error", err)
				return
			}
			if len(cands) == 0 {
				return
			}
			added := c.add(cands)
			s.logger.Debug("intercepted messages", "url", resp.URL, "candidates", len(cands), "added", added)
		},
	)
}

func (s *Session) dates() *dates.Normalizer {
	if s.deps.Dates != nil {
		return s.deps.Dates
	}
	return dates.New(nil)
}

func (s *Session) stopRequested(ctx context.Context) bool {
	return s.state.CancelRequested() || ctx.Err() != nil
}
