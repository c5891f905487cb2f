// Package scrape runs incremental chat scrapes: it drives a browser page to
// the top of a chat, collects messages from intercepted API responses and
// the DOM, and persists each new message once.
package scrape

import (
	"errors"
	"time"
)

// ErrLoginWall is reported when the profile is no longer logged in.
var ErrLoginWall = errors.New("login page detected")

// Outcome is the terminal status of a scrape.
type Outcome string

const (
	OutcomeOK        Outcome = "ok"
	OutcomeError     Outcome = "error"
	OutcomeCancelled Outcome = "cancelled"
)

// Stats counts what a scrape did.
type Stats struct {
	Collected int `json:"collected"`
	Upgraded  int `json:"upgraded"`
	Inserted  int `json:"inserted"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
	Scrolls   int `json:"scrolls"`
}

func (s *Stats) addFlush(f FlushStats) {
	s.Inserted += f.Inserted
	s.Skipped += f.Skipped
	s.Failed += f.Failed
}

// Result is what callers see of a finished scrape. Reason is set for errors.
type Result struct {
	Outcome    Outcome   `json:"status"`
	Reason     string    `json:"reason,omitempty"`
	Stats      Stats     `json:"stats"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

func ok(stats Stats) Result {
	return Result{Outcome: OutcomeOK, Stats: stats}
}

func failed(reason string, stats Stats) Result {
	return Result{Outcome: OutcomeError, Reason: reason, Stats: stats}
}

func cancelled(stats Stats) Result {
	return Result{Outcome: OutcomeCancelled, Stats: stats}
}
