// Package processor bridges NATS subjects and the scrape service.
package processor

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/MikeSquared-Agency/scribe/internal/hermes"
	"github.com/MikeSquared-Agency/scribe/internal/scrape"
)

// Scraper is the part of scrape.Service the handlers drive.
type Scraper interface {
	Start(ctx context.Context, req scrape.Request) (string, error)
	Cancel(handle string) bool
}

// Publisher is satisfied by *hermes.Client.
type Publisher interface {
	Publish(subject string, data any) error
}

// Processor handles scrape requests arriving over NATS and announces
// finished sessions.
type Processor struct {
	scraper   Scraper
	publisher Publisher
	logger    *slog.Logger
}

// New returns a Processor. A nil publisher disables announcements.
func New(scraper Scraper, publisher Publisher, logger *slog.Logger) *Processor {
	return &Processor{scraper: scraper, publisher: publisher, logger: logger}
}

// HandleScrapeRequested is the NATS handler for scribe.scrape.requested.
func (p *Processor) HandleScrapeRequested(subject string, data []byte) {
	var evt hermes.ScrapeRequested
	if err := json.Unmarshal(data, &evt); err != nil {
		p.logger.Error("failed to parse scrape request", "subject", subject, "error", err)
		return
	}

	handle, err := p.scraper.Start(context.Background(), scrape.Request{
		ProfileID:  evt.ProfileID,
		ChatURL:    evt.ChatURL,
		UpdateOnly: evt.UpdateOnly,
	})
	if err != nil {
		p.logger.Error("rejected scrape request",
			"profile_id", evt.ProfileID,
			"chat_url", evt.ChatURL,
			"error", err,
		)
		return
	}

	p.logger.Info("scrape started from event",
		"session", handle,
		"profile_id", evt.ProfileID,
		"chat_url", evt.ChatURL,
		"update_only", evt.UpdateOnly,
	)
}

// HandleScrapeCancel is the NATS handler for scribe.scrape.cancel. Handles
// unknown to this instance are ignored; another instance may own them.
func (p *Processor) HandleScrapeCancel(subject string, data []byte) {
	var evt hermes.ScrapeCancel
	if err := json.Unmarshal(data, &evt); err != nil {
		p.logger.Error("failed to parse cancel request", "subject", subject, "error", err)
		return
	}
	if evt.Handle == "" {
		p.logger.Warn("cancel request without handle")
		return
	}

	if p.scraper.Cancel(evt.Handle) {
		p.logger.Info("cancel requested", "session", evt.Handle)
		return
	}
	p.logger.Debug("cancel for unknown session", "session", evt.Handle)
}

// SessionFinished publishes the outcome of a scrape. It is registered with
// scrape.Service.OnFinish.
func (p *Processor) SessionFinished(rep scrape.Report) {
	if p.publisher == nil {
		return
	}
	if err := p.publisher.Publish(hermes.SubjectSessionFinished, Event(rep)); err != nil {
		p.logger.Error("failed to publish session finished", "session", rep.Handle, "error", err)
	}
}

// Event maps a scrape report to its wire form.
func Event(rep scrape.Report) hermes.SessionFinished {
	res := rep.Result
	return hermes.SessionFinished{
		Handle:     rep.Handle,
		ProfileID:  rep.Request.ProfileID,
		ChatURL:    rep.Request.ChatURL,
		Platform:   string(rep.Platform),
		Status:     string(res.Outcome),
		Reason:     res.Reason,
		Collected:  res.Stats.Collected,
		Inserted:   res.Stats.Inserted,
		Skipped:    res.Stats.Skipped,
		Failed:     res.Stats.Failed,
		Scrolls:    res.Stats.Scrolls,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
	}
}
