package scrape

import (
	"context"
	"log/slog"
	"time"

	"github.com/MikeSquared-Agency/scribe/internal/browser"
	"github.com/MikeSquared-Agency/scribe/internal/extractor"
)

// DriverState is the position of a ScrollDriver in its lifecycle.
type DriverState int

const (
	StateIdle DriverState = iota
	StateNavigating
	StateAwaitingContainer
	StateScrolling
	StateConverged
	StateLoginWall
	StateCancelled
	StateError
)

var driverStateNames = [...]string{
	"idle", "navigating", "awaiting_container", "scrolling",
	"converged", "login_wall", "cancelled", "error",
}

func (s DriverState) String() string {
	if int(s) < len(driverStateNames) {
		return driverStateNames[s]
	}
	return "unknown"
}

// Options tunes a scrape.
type Options struct {
	NavTimeout       time.Duration
	ContainerTimeout time.Duration
	ScrollSettle     time.Duration
	// NoChangeThreshold is the number of consecutive scrolls without new
	// message elements after which the top is assumed reached.
	NoChangeThreshold int
	// ExtractionPeriod runs a DOM pass every N scrolls.
	ExtractionPeriod int
	BatchSize        int
	// MaxScrolls caps scroll attempts. Zero means no cap.
	MaxScrolls int
	// UpdateOnly skips scrolling and extracts only what is initially visible.
	UpdateOnly bool
}

// DefaultOptions returns the production tuning.
func DefaultOptions() Options {
	return Options{
		NavTimeout:        30 * time.Second,
		ContainerTimeout:  10 * time.Second,
		ScrollSettle:      3 * time.Second,
		NoChangeThreshold: 5,
		ExtractionPeriod:  10,
		BatchSize:         100,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.NavTimeout <= 0 {
		o.NavTimeout = d.NavTimeout
	}
	if o.ContainerTimeout <= 0 {
		o.ContainerTimeout = d.ContainerTimeout
	}
	if o.ScrollSettle < 0 {
		o.ScrollSettle = 0
	}
	if o.NoChangeThreshold <= 0 {
		o.NoChangeThreshold = d.NoChangeThreshold
	}
	if o.ExtractionPeriod <= 0 {
		o.ExtractionPeriod = d.ExtractionPeriod
	}
	if o.BatchSize <= 0 {
		o.BatchSize = d.BatchSize
	}
	if o.MaxScrolls < 0 {
		o.MaxScrolls = 0
	}
	return o
}

// ScrollDriver walks a chat page to its oldest message. It owns the page for
// the duration of Run.
type ScrollDriver struct {
	page      browser.Page
	adapter   extractor.Adapter
	state     *SessionState
	collector *collector
	persister *BatchPersister
	opts      Options
	logger    *slog.Logger

	scroll ScrollState
	status DriverState
	stats  Stats
}

func newScrollDriver(page browser.Page, adapter extractor.Adapter, state *SessionState, c *collector, p *BatchPersister, opts Options, logger *slog.Logger) *ScrollDriver {
	return &ScrollDriver{
		page:      page,
		adapter:   adapter,
		state:     state,
		collector: c,
		persister: p,
		opts:      opts.withDefaults(),
		logger:    logger,
	}
}

// Run drives the page through navigation, scrolling and extraction and
// returns the terminal state. The final DOM pass and flush run even when ctx
// is cancelled.
func (d *ScrollDriver) Run(ctx context.Context, chatURL string) (DriverState, error) {
	d.status = StateNavigating
	d.navigate(ctx, chatURL)
	if d.stopRequested(ctx) {
		return d.finish(ctx, StateCancelled), nil
	}

	d.status = StateAwaitingContainer
	sel := d.adapter.Selectors()
	if err := d.page.WaitVisible(ctx, sel.Container, d.opts.ContainerTimeout); err != nil {
		if d.stopRequested(ctx) {
			return d.finish(ctx, StateCancelled), nil
		}
		if d.onLoginPage(ctx) {
			d.status = StateLoginWall
			d.stats.addFlush(d.persister.Flush(ctx, d.state))
			return d.status, ErrLoginWall
		}
		d.logger.Warn("chat container not visible, scrolling anyway", "selector", sel.Container, "error", err)
	}

	if d.opts.UpdateOnly {
		return d.finish(ctx, StateConverged), nil
	}

	d.status = StateScrolling
	return d.finish(ctx, d.scrollToTop(ctx)), nil
}

func (d *ScrollDriver) navigate(ctx context.Context, chatURL string) {
	err := d.page.Navigate(ctx, chatURL, browser.WaitLoad, d.opts.NavTimeout)
	if err == nil || ctx.Err() != nil {
		return
	}
	d.logger.Warn("navigation did not reach load, retrying", "url", chatURL, "error", err)
	if err := d.page.Navigate(ctx, chatURL, browser.WaitDOMContentLoaded, d.opts.NavTimeout); err != nil {
		d.logger.Warn("navigation did not complete, continuing", "url", chatURL, "error", err)
	}
}

func (d *ScrollDriver) onLoginPage(ctx context.Context) bool {
	var found bool
	if err := d.page.Evaluate(ctx, extractor.LoginScript(d.adapter.Selectors()), &found); err != nil {
		d.logger.Debug("login check failed", "error", err)
	}
	if found {
		return true
	}
	u, err := d.page.URL(ctx)
	return err == nil && extractor.LooksLikeLoginURL(u)
}

func (d *ScrollDriver) scrollToTop(ctx context.Context) DriverState {
	count := d.count(ctx, 0)
	for {
		if d.stopRequested(ctx) {
			return StateCancelled
		}
		if d.opts.MaxScrolls > 0 && d.scroll.Attempts >= d.opts.MaxScrolls {
			d.logger.Warn("scroll cap reached before the top of the chat", "max_scrolls", d.opts.MaxScrolls)
			return StateConverged
		}

		d.scroll.Attempts++
		d.scroll.CountBefore = count

		var report extractor.ScrollReport
		if err := d.page.Evaluate(ctx, d.adapter.ScrollScript(), &report); err != nil {
			d.logger.Warn("scroll failed", "attempt", d.scroll.Attempts, "error", err)
		} else if !report.Found {
			d.logger.Debug("scroll container missing", "attempt", d.scroll.Attempts)
		}

		if err := sleep(ctx, d.opts.ScrollSettle); err != nil {
			return StateCancelled
		}

		count = d.count(ctx, count)
		d.scroll.CountAfter = count
		if d.scroll.CountAfter == d.scroll.CountBefore {
			d.scroll.NoChangeStreak++
		} else {
			d.scroll.NoChangeStreak = 0
		}

		if d.scroll.NoChangeStreak >= d.threshold(report) {
			d.logger.Info("reached top of chat",
				"attempts", d.scroll.Attempts,
				"elements", count,
				"collected", d.state.Len(),
			)
			return StateConverged
		}

		if d.scroll.Attempts%d.opts.ExtractionPeriod == 0 {
			d.extractDOM(ctx)
		}
		if d.state.Unflushed() >= d.opts.BatchSize {
			d.stats.addFlush(d.persister.Flush(ctx, d.state))
		}
	}
}

func (d *ScrollDriver) threshold(report extractor.ScrollReport) int {
	t := d.opts.NoChangeThreshold
	if report.AtTop {
		if at := d.adapter.AtTopThreshold(); at > 0 && at < t {
			return at
		}
	}
	return t
}

// count returns the number of rendered message elements, or last when the
// page cannot be queried.
func (d *ScrollDriver) count(ctx context.Context, last int) int {
	var n int
	if err := d.page.Evaluate(ctx, d.adapter.CountScript(), &n); err != nil {
		d.logger.Debug("message count failed", "error", err)
		return last
	}
	return n
}

func (d *ScrollDriver) extractDOM(ctx context.Context) {
	var nodes []extractor.DOMNode
	if err := d.page.Evaluate(ctx, d.adapter.DOMScript(), &nodes); err != nil {
		d.logger.Warn("dom extraction failed", "error", err)
		return
	}
	added := d.collector.add(d.adapter.FromDOM(nodes))
	d.logger.Debug("dom pass", "nodes", len(nodes), "added", added)
}

// finish runs the final DOM pass and flush on a context detached from
// cancellation, then records the terminal state.
func (d *ScrollDriver) finish(ctx context.Context, terminal DriverState) DriverState {
	fctx := context.WithoutCancel(ctx)
	d.extractDOM(fctx)
	d.stats.addFlush(d.persister.Flush(fctx, d.state))
	d.status = terminal
	return terminal
}

// flushRemaining persists messages buffered after the final flush.
func (d *ScrollDriver) flushRemaining(ctx context.Context) {
	if d.state.Unflushed() > 0 {
		d.stats.addFlush(d.persister.Flush(ctx, d.state))
	}
}

func (d *ScrollDriver) stopRequested(ctx context.Context) bool {
	return d.state.CancelRequested() || ctx.Err() != nil
}

// Stats returns the counters accumulated by Run.
func (d *ScrollDriver) Stats() Stats {
	s := d.stats
	s.Scrolls = d.scroll.Attempts
	s.Collected = d.state.Len()
	s.Upgraded = d.state.upgrades()
	return s
}

// Status returns the driver's current state.
func (d *ScrollDriver) Status() DriverState {
	return d.status
}

func sleep(ctx context.Context, dur time.Duration) error {
	if dur <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
