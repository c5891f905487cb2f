package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/scribe/internal/message"
	"github.com/MikeSquared-Agency/scribe/internal/octo"
	"github.com/MikeSquared-Agency/scribe/internal/scrape"
	"github.com/MikeSquared-Agency/scribe/internal/store"
)

const testToken = "scribe-secret-token"

type fakeScrapes struct {
	started   []scrape.Request
	statuses  map[string]scrape.Status
	startErr  error
	active    int
	cancelAll int
}

func (f *fakeScrapes) Start(_ context.Context, req scrape.Request) (string, error) {
	if f.startErr != nil {
		return "", f.startErr
	}
	f.started = append(f.started, req)
	return "h-new", nil
}

func (f *fakeScrapes) Cancel(handle string) bool {
	_, ok := f.statuses[handle]
	return ok
}

func (f *fakeScrapes) Status(handle string) (scrape.Status, bool) {
	st, ok := f.statuses[handle]
	return st, ok
}

func (f *fakeScrapes) List() []scrape.Status {
	var out []scrape.Status
	for _, st := range f.statuses {
		if st.Result == nil {
			out = append(out, st)
		}
	}
	return out
}

func (f *fakeScrapes) CancelAll() int {
	f.cancelAll++
	return len(f.List())
}

func (f *fakeScrapes) Active() int { return f.active }

type fakeProfiles struct {
	profiles []octo.ParserProfile
	err      error
}

func (f *fakeProfiles) Profiles(context.Context) ([]octo.ParserProfile, error) {
	return f.profiles, f.err
}

func newTestServer(t *testing.T, token string) (*Server, *fakeScrapes, store.Store) {
	t.Helper()
	db, err := store.Open(context.Background(), "sqlite://"+filepath.Join(t.TempDir(), "scribe.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(db.Close)

	scrapes := &fakeScrapes{statuses: map[string]scrape.Status{
		"h1": {Handle: "h1", ProfileID: "p1", State: "running"},
	}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer(8760, token, scrapes, db, nil, logger), scrapes, db
}

func do(srv *Server, method, target, body, token string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t, testToken)

	w := do(srv, "GET", "/health", "", "")
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %q", body["status"])
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv, scrapes, _ := newTestServer(t, testToken)
	scrapes.active = 2

	w := do(srv, "GET", "/api/v1/scribe/status", "", "")
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["agent"] != "scribe" {
		t.Errorf("expected agent scribe, got %v", body["agent"])
	}
	if body["active"] != float64(2) {
		t.Errorf("expected 2 active, got %v", body["active"])
	}
}

func TestNotFoundEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t, testToken)

	w := do(srv, "GET", "/nonexistent", "", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	srv, _, _ := newTestServer(t, testToken)

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "nope", http.StatusUnauthorized},
		{"valid", testToken, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := do(srv, "GET", "/api/v1/chats", "", tt.token); w.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestAuthDisabledWithoutToken(t *testing.T) {
	srv, _, _ := newTestServer(t, "")
	if w := do(srv, "GET", "/api/v1/chats", "", ""); w.Code != http.StatusOK {
		t.Errorf("expected 200 without configured token, got %d", w.Code)
	}
}

func TestStartScrape(t *testing.T) {
	srv, scrapes, _ := newTestServer(t, testToken)

	w := do(srv, "POST", "/api/v1/scrapes", `{"profile_id":"p1","chat_url":"https://fansly.com/messages/9","update_only":true}`, testToken)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	var body map[string]string
	json.NewDecoder(w.Body).Decode(&body)
	if body["handle"] != "h-new" {
		t.Errorf("expected handle h-new, got %q", body["handle"])
	}
	if len(scrapes.started) != 1 || !scrapes.started[0].UpdateOnly || scrapes.started[0].ProfileID != "p1" {
		t.Errorf("unexpected start %+v", scrapes.started)
	}
}

func TestStartScrape_Errors(t *testing.T) {
	srv, scrapes, _ := newTestServer(t, testToken)

	if w := do(srv, "POST", "/api/v1/scrapes", `{bad`, testToken); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad json, got %d", w.Code)
	}

	scrapes.startErr = scrape.ErrShuttingDown
	if w := do(srv, "POST", "/api/v1/scrapes", `{"profile_id":"p1","chat_url":"https://onlyfans.com/my/chats/chat/1/"}`, testToken); w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 while shutting down, got %d", w.Code)
	}
}

func TestScrapeStatusAndCancel(t *testing.T) {
	srv, _, _ := newTestServer(t, testToken)

	w := do(srv, "GET", "/api/v1/scrapes/h1", "", testToken)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var st scrape.Status
	json.NewDecoder(w.Body).Decode(&st)
	if st.Handle != "h1" || st.State != "running" {
		t.Errorf("unexpected status %+v", st)
	}

	if w := do(srv, "GET", "/api/v1/scrapes/missing", "", testToken); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
	if w := do(srv, "DELETE", "/api/v1/scrapes/h1", "", testToken); w.Code != http.StatusAccepted {
		t.Errorf("expected 202, got %d", w.Code)
	}
	if w := do(srv, "DELETE", "/api/v1/scrapes/missing", "", testToken); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestChatListingAndMessages(t *testing.T) {
	srv, _, db := newTestServer(t, testToken)
	ctx := context.Background()
	chat := message.ChatIdentity{ProfileID: "p1", ChatURL: "https://onlyfans.com/my/chats/chat/42/"}
	ts := time.Date(2025, 10, 31, 2, 37, 0, 0, time.UTC)

	for _, m := range []message.Normalized{
		{Chat: chat, Text: "hi", IsFromOwner: true, Timestamp: &ts, Source: message.SourceNetwork},
		{Chat: chat, Text: "hey", Source: message.SourceDOM},
		{Chat: chat, Text: "photo set", IsFromOwner: true, IsPaid: true, AmountPaid: 10, Source: message.SourceNetwork},
	} {
		if _, err := db.Insert(ctx, m); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	w := do(srv, "GET", "/api/v1/chats", "", testToken)
	var chats struct {
		Chats []store.ChatSummary `json:"chats"`
		Count int                 `json:"count"`
	}
	if err := json.NewDecoder(w.Body).Decode(&chats); err != nil {
		t.Fatalf("decode chats: %v", err)
	}
	if chats.Count != 1 || chats.Chats[0].Messages != 3 || chats.Chats[0].OwnerMessages != 2 {
		t.Errorf("unexpected chats %+v", chats)
	}

	q := url.Values{"profile_id": {"p1"}, "chat_url": {chat.ChatURL}}
	w = do(srv, "GET", "/api/v1/chats/messages?"+q.Encode(), "", testToken)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp MessagesResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode messages: %v", err)
	}
	if resp.Stats != (MessageStats{Total: 3, Owner: 2, Counterpart: 1, Paid: 1}) {
		t.Errorf("unexpected stats %+v", resp.Stats)
	}
	if len(resp.Messages) != 3 {
		t.Errorf("expected 3 messages, got %d", len(resp.Messages))
	}

	q.Set("limit", "1")
	w = do(srv, "GET", "/api/v1/chats/messages?"+q.Encode(), "", testToken)
	json.NewDecoder(w.Body).Decode(&resp)
	if len(resp.Messages) != 1 {
		t.Errorf("expected limit to apply, got %d", len(resp.Messages))
	}
}

func TestListMessages_BadRequest(t *testing.T) {
	srv, _, _ := newTestServer(t, testToken)

	if w := do(srv, "GET", "/api/v1/chats/messages?profile_id=p1", "", testToken); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without chat_url, got %d", w.Code)
	}
	if w := do(srv, "GET", "/api/v1/chats/messages?profile_id=p1&chat_url=x&limit=-2", "", testToken); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for negative limit, got %d", w.Code)
	}
}

func TestListAndCancelAllScrapes(t *testing.T) {
	srv, scrapes, _ := newTestServer(t, testToken)
	scrapes.statuses["h2"] = scrape.Status{Handle: "h2", State: "ok", Result: &scrape.Result{Outcome: scrape.OutcomeOK}}

	w := do(srv, "GET", "/api/v1/scrapes", "", testToken)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var list struct {
		Scrapes []scrape.Status `json:"scrapes"`
		Count   int             `json:"count"`
	}
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if list.Count != 1 || list.Scrapes[0].Handle != "h1" {
		t.Errorf("expected only the running scrape, got %+v", list)
	}

	w = do(srv, "DELETE", "/api/v1/scrapes", "", testToken)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
	var body map[string]int
	json.NewDecoder(w.Body).Decode(&body)
	if body["cancelled"] != 1 || scrapes.cancelAll != 1 {
		t.Errorf("unexpected cancel-all response %v", body)
	}

	if w := do(srv, "DELETE", "/api/v1/scrapes", "", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("expected cancel-all to require auth, got %d", w.Code)
	}
}

func TestListProfiles(t *testing.T) {
	db, err := store.Open(context.Background(), "sqlite://"+filepath.Join(t.TempDir(), "scribe.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(db.Close)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	profiles := &fakeProfiles{profiles: []octo.ParserProfile{
		{UUID: "p1", Title: "Model A", Running: true},
		{UUID: "p2", Title: "Model B"},
	}}
	srv := NewServer(8760, testToken, &fakeScrapes{}, db, profiles, logger)

	w := do(srv, "GET", "/api/v1/profiles", "", testToken)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		Profiles []octo.ParserProfile `json:"profiles"`
		Count    int                  `json:"count"`
		Running  int                  `json:"running"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode profiles: %v", err)
	}
	if body.Count != 2 || body.Running != 1 || body.Profiles[0].UUID != "p1" {
		t.Errorf("unexpected profiles %+v", body)
	}

	profiles.err = errors.New("octo cloud down")
	if w := do(srv, "GET", "/api/v1/profiles", "", testToken); w.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", w.Code)
	}
}

func TestListProfiles_NotConfigured(t *testing.T) {
	srv, _, _ := newTestServer(t, testToken)
	if w := do(srv, "GET", "/api/v1/profiles", "", testToken); w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
}
