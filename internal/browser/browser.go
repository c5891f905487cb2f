// Package browser attaches to a remote Chromium over CDP and exposes the few
// page operations a scrape needs.
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// WaitUntil selects the navigation event Navigate waits for.
type WaitUntil int

const (
	WaitLoad WaitUntil = iota
	WaitDOMContentLoaded
)

func (w WaitUntil) String() string {
	if w == WaitDOMContentLoaded {
		return "domcontentloaded"
	}
	return "load"
}

// ResponseMeta is what is known about a response before its body is read.
type ResponseMeta struct {
	URL         string
	ContentType string
	Status      int
}

// Response is an intercepted network response with its body.
type Response struct {
	ResponseMeta
	Headers map[string]string
	body    []byte
}

// NewResponse builds a response; drivers and fakes use it.
func NewResponse(meta ResponseMeta, headers map[string]string, body []byte) Response {
	return Response{ResponseMeta: meta, Headers: headers, body: body}
}

// Body returns the raw response body.
func (r Response) Body() []byte { return r.body }

// JSON decodes the body into v.
func (r Response) JSON(v any) error {
	if err := json.Unmarshal(r.body, v); err != nil {
		return fmt.Errorf("decode %s: %w", r.URL, err)
	}
	return nil
}

// Page is one browser tab driven by one scrape. Evaluate takes a JavaScript
// function expression and decodes its JSON-serializable result into out.
type Page interface {
	Navigate(ctx context.Context, url string, wait WaitUntil, timeout time.Duration) error
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	Evaluate(ctx context.Context, js string, out any) error
	URL(ctx context.Context) (string, error)
	// Subscribe registers a response handler. Bodies are only read for
	// responses match accepts. Handlers run on driver goroutines.
	Subscribe(match func(ResponseMeta) bool, handle func(Response))
	// Close closes the tab and detaches from the browser, which keeps running.
	Close() error
}

// Driver names a CDP client implementation.
type Driver string

const (
	DriverRod      Driver = "rod"
	DriverChromedp Driver = "chromedp"
)

// Dial opens a new tab in the browser behind a CDP websocket endpoint. The
// connection is not bound to ctx beyond the dial itself: it lives until
// Close so a cancelled scrape can still run its final extraction.
func Dial(ctx context.Context, driver Driver, endpoint string, logger *slog.Logger) (Page, error) {
	switch Driver(strings.ToLower(string(driver))) {
	case DriverRod, "":
		return ConnectRod(ctx, endpoint, logger)
	case DriverChromedp:
		return ConnectChromedp(ctx, endpoint, logger)
	}
	return nil, fmt.Errorf("unknown browser driver %q", driver)
}

// subscribers fans matched responses out to registered handlers and tracks
// requests whose bodies are still loading.
type subscribers struct {
	mu      sync.Mutex
	subs    []subscription
	pending map[string]pendingResponse
	wg      sync.WaitGroup
}

type subscription struct {
	match  func(ResponseMeta) bool
	handle func(Response)
}

type pendingResponse struct {
	meta    ResponseMeta
	headers map[string]string
	subs    []subscription
}

func (s *subscribers) add(match func(ResponseMeta) bool, handle func(Response)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, subscription{match: match, handle: handle})
}

// received records a response whose body some subscriber wants.
func (s *subscribers) received(requestID string, meta ResponseMeta, headers map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var interested []subscription
	for _, sub := range s.subs {
		if sub.match(meta) {
			interested = append(interested, sub)
		}
	}
	if len(interested) == 0 {
		return
	}
	if s.pending == nil {
		s.pending = make(map[string]pendingResponse)
	}
	s.pending[requestID] = pendingResponse{meta: meta, headers: headers, subs: interested}
}

// finished reads the body of a tracked request on its own goroutine and
// delivers it. Untracked requests are ignored.
func (s *subscribers) finished(requestID string, fetch func() ([]byte, error), logger *slog.Logger) {
	s.mu.Lock()
	p, ok := s.pending[requestID]
	delete(s.pending, requestID)
	s.mu.Unlock()
	if !ok {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		body, err := fetch()
		if err != nil {
			logger.Debug("response body unavailable", "url", p.meta.URL, "error", err)
			return
		}
		resp := NewResponse(p.meta, p.headers, body)
		for _, sub := range p.subs {
			sub.handle(resp)
		}
	}()
}

// failed drops a request that will never finish loading.
func (s *subscribers) failed(requestID string) {
	s.mu.Lock()
	delete(s.pending, requestID)
	s.mu.Unlock()
}

// wait blocks until in-flight deliveries return.
func (s *subscribers) wait() {
	s.wg.Wait()
}

func headerValue(headers map[string]string, key string) string {
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}
