package scrape

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/scribe/internal/extractor"
)

// ErrShuttingDown is returned by Start once Shutdown has begun.
var ErrShuttingDown = errors.New("scrape service is shutting down")

// Report describes a finished scrape to observers.
type Report struct {
	Handle   string
	Request  Request
	Platform extractor.Platform
	Result   Result
}

// Service runs scrapes and keeps their status in a Registry for a retention
// window after they finish.
type Service struct {
	deps      Deps
	registry  *Registry
	retention time.Duration
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	active atomic.Int64

	// mu guards closed, running and timers. wg.Add happens under it.
	mu        sync.Mutex
	closed    bool
	running   map[string]struct{}
	observers []func(Report)
	timers    map[string]*time.Timer
}

func NewService(deps Deps, registry *Registry, retention time.Duration, logger *slog.Logger) *Service {
	if deps.Logger == nil {
		deps.Logger = logger
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		deps:      deps,
		registry:  registry,
		retention: retention,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		running:   make(map[string]struct{}),
		timers:    make(map[string]*time.Timer),
	}
}

// OnFinish registers fn to be called after every scrape.
func (s *Service) OnFinish(fn func(Report)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// Start launches a scrape in the background and returns its handle. The
// scrape is bound to the service lifetime, not to ctx.
func (s *Service) Start(_ context.Context, req Request) (string, error) {
	if err := req.validate(); err != nil {
		return "", err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrShuttingDown
	}
	sess, err := s.register(req)
	if err != nil {
		s.mu.Unlock()
		return "", err
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		s.execute(s.ctx, sess)
	}()
	return sess.Handle, nil
}

// Run performs a scrape synchronously. Cancelling ctx cancels the scrape.
func (s *Service) Run(ctx context.Context, req Request) (string, Result) {
	if err := req.validate(); err != nil {
		return "", failed(err.Error(), Stats{})
	}
	s.mu.Lock()
	sess, err := s.register(req)
	s.mu.Unlock()
	if err != nil {
		return "", failed(err.Error(), Stats{})
	}
	return sess.Handle, s.execute(ctx, sess)
}

// Cancel requests cancellation of a running scrape.
func (s *Service) Cancel(handle string) bool {
	return s.registry.RequestCancel(handle)
}

// CancelAll requests cancellation of every scrape in progress and returns
// how many were asked to stop.
func (s *Service) CancelAll() int {
	n := 0
	for _, h := range s.runningHandles() {
		if s.registry.RequestCancel(h) {
			n++
		}
	}
	if n > 0 {
		s.logger.Info("cancelling all scrapes", "count", n)
	}
	return n
}

// List returns the scrapes in progress, oldest first.
func (s *Service) List() []Status {
	handles := s.runningHandles()
	out := make([]Status, 0, len(handles))
	for _, h := range handles {
		if st, ok := s.registry.LookupStatus(h); ok {
			out = append(out, st)
		}
	}
	slices.SortFunc(out, func(a, b Status) int {
		if c := a.Registered.Compare(b.Registered); c != 0 {
			return c
		}
		return strings.Compare(a.Handle, b.Handle)
	})
	return out
}

func (s *Service) runningHandles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.running))
	for h := range s.running {
		out = append(out, h)
	}
	return out
}

// Status returns a scrape's status while it is retained.
func (s *Service) Status(handle string) (Status, bool) {
	return s.registry.LookupStatus(handle)
}

// Active returns the number of scrapes in progress.
func (s *Service) Active() int {
	return int(s.active.Load())
}

// Shutdown cancels background scrapes and waits for their final flushes.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	s.mu.Lock()
	for h, t := range s.timers {
		t.Stop()
		delete(s.timers, h)
	}
	s.mu.Unlock()
	return err
}

// register must be called with s.mu held.
func (s *Service) register(req Request) (*Session, error) {
	handle := uuid.New().String()
	sess := NewSession(handle, req, s.deps)
	if err := s.registry.Register(handle, req, sess.State()); err != nil {
		return nil, err
	}
	s.running[handle] = struct{}{}
	return sess, nil
}

func (s *Service) execute(ctx context.Context, sess *Session) Result {
	s.active.Add(1)
	res := sess.Run(ctx)
	s.active.Add(-1)

	s.mu.Lock()
	delete(s.running, sess.Handle)
	s.mu.Unlock()

	platform, _ := extractor.Detect(sess.req.ChatURL)
	rep := Report{Handle: sess.Handle, Request: sess.req, Platform: platform, Result: res}

	s.mu.Lock()
	observers := append([]func(Report){}, s.observers...)
	s.mu.Unlock()
	for _, fn := range observers {
		fn(rep)
	}

	s.retain(sess.Handle)
	return res
}

func (s *Service) retain(handle string) {
	if s.retention <= 0 {
		s.registry.Unregister(handle)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.timers[handle] = time.AfterFunc(s.retention, func() {
		s.registry.Unregister(handle)
		s.mu.Lock()
		delete(s.timers, handle)
		s.mu.Unlock()
	})
}
