package scrape

import (
	"sync"
	"sync/atomic"

	"github.com/MikeSquared-Agency/scribe/internal/dedup"
	"github.com/MikeSquared-Agency/scribe/internal/message"
)

// ScrollState tracks convergence. Only the ScrollDriver mutates it.
type ScrollState struct {
	Attempts       int
	NoChangeStreak int
	CountBefore    int
	CountAfter     int
}

// SessionState is the per-scrape message buffer. The buffer is appended to
// from response handlers as well as the driver, so it is locked; the cancel
// flag is the only field other goroutines write.
type SessionState struct {
	Chat message.ChatIdentity

	mu            sync.Mutex
	buffer        []message.Normalized
	lastPersisted int
	seen          *dedup.Set
	upgraded      int

	cancelRequested atomic.Bool

	resultMu sync.Mutex
	result   *Result
}

func NewSessionState(chat message.ChatIdentity) *SessionState {
	return &SessionState{Chat: chat, seen: dedup.New()}
}

// RequestCancel asks the session to stop after its current iteration.
func (s *SessionState) RequestCancel() {
	s.cancelRequested.Store(true)
}

func (s *SessionState) CancelRequested() bool {
	return s.cancelRequested.Load()
}

// Admit adds m to the buffer unless its identity was already seen.
func (s *SessionState) Admit(m message.Normalized) dedup.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out dedup.Outcome
	s.buffer, out = s.seen.Admit(s.buffer, s.lastPersisted, m)
	if out == dedup.Upgraded {
		s.upgraded++
	}
	return out
}

// Len returns the number of distinct messages collected.
func (s *SessionState) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffer)
}

// Unflushed returns the number of messages not yet handed to the persister.
func (s *SessionState) Unflushed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffer) - s.lastPersisted
}

// take returns the unflushed tail and marks it persisted. Entries taken can
// no longer be upgraded in place.
func (s *SessionState) take() []message.Normalized {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := make([]message.Normalized, len(s.buffer)-s.lastPersisted)
	copy(batch, s.buffer[s.lastPersisted:])
	s.lastPersisted = len(s.buffer)
	return batch
}

// Messages returns a copy of the buffer.
func (s *SessionState) Messages() []message.Normalized {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]message.Normalized, len(s.buffer))
	copy(out, s.buffer)
	return out
}

func (s *SessionState) upgrades() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upgraded
}

func (s *SessionState) finish(r Result) {
	s.resultMu.Lock()
	defer s.resultMu.Unlock()
	s.result = &r
}

// Result returns the terminal result once the session has finished.
func (s *SessionState) Result() (Result, bool) {
	s.resultMu.Lock()
	defer s.resultMu.Unlock()
	if s.result == nil {
		return Result{}, false
	}
	return *s.result, true
}
