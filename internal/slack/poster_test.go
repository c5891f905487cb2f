package slack

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/MikeSquared-Agency/scribe/internal/scrape"
)

func loginWallReport() scrape.Report {
	return scrape.Report{
		Handle:   "h1",
		Request:  scrape.Request{ProfileID: "p1", ChatURL: "https://onlyfans.com/my/chats/chat/42/"},
		Platform: "onlyfans",
		Result: scrape.Result{
			Outcome: scrape.OutcomeError,
			Reason:  "login page detected",
		},
	}
}

func TestFormatAlert_LoginWall(t *testing.T) {
	msg := formatAlert(loginWallReport())

	checks := []string{
		"login page detected",
		"p1",
		"https://onlyfans.com/my/chats/chat/42/",
		"onlyfans",
		"logged in again",
	}
	for _, check := range checks {
		if !strings.Contains(msg, check) {
			t.Errorf("expected message to contain %q", check)
		}
	}
	if strings.Contains(msg, "scrolls") {
		t.Error("expected no stats line for an empty session")
	}
}

func TestFormatAlert_WithStats(t *testing.T) {
	rep := loginWallReport()
	rep.Result.Reason = "scroll driver stopped in state error"
	rep.Result.Stats = scrape.Stats{Collected: 40, Inserted: 12, Scrolls: 8}

	msg := formatAlert(rep)
	if !strings.Contains(msg, "Collected 40, inserted 12 after 8 scrolls") {
		t.Errorf("expected stats line, got %q", msg)
	}
	if strings.Contains(msg, "logged in again") {
		t.Error("login hint only applies to login walls")
	}
}

func newTestPoster(t *testing.T, handler http.HandlerFunc) *Poster {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	p := NewPoster("xoxb-test", "C12345", slog.New(slog.NewTextHandler(io.Discard, nil)))
	p.apiURL = srv.URL
	return p
}

func TestPostSessionAlert(t *testing.T) {
	var got map[string]any
	p := newTestPoster(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer xoxb-test" {
			t.Errorf("unexpected auth header %q", r.Header.Get("Authorization"))
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"ok":true,"ts":"1700000000.000100"}`))
	})

	ts, err := p.PostSessionAlert(context.Background(), loginWallReport())
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if ts != "1700000000.000100" {
		t.Errorf("expected ts, got %q", ts)
	}
	if got["channel"] != "C12345" {
		t.Errorf("expected channel C12345, got %v", got["channel"])
	}
}

func TestPostSessionAlert_SlackError(t *testing.T) {
	p := newTestPoster(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":false,"error":"channel_not_found"}`))
	})

	_, err := p.PostSessionAlert(context.Background(), loginWallReport())
	if err == nil || !strings.Contains(err.Error(), "channel_not_found") {
		t.Errorf("expected slack error, got %v", err)
	}
}

func TestSessionFinished_OnlyErrors(t *testing.T) {
	var posts atomic.Int32
	p := newTestPoster(t, func(w http.ResponseWriter, r *http.Request) {
		posts.Add(1)
		w.Write([]byte(`{"ok":true,"ts":"1"}`))
	})

	rep := loginWallReport()
	p.SessionFinished(rep)

	rep.Result.Outcome = scrape.OutcomeOK
	p.SessionFinished(rep)
	rep.Result.Outcome = scrape.OutcomeCancelled
	p.SessionFinished(rep)

	if posts.Load() != 1 {
		t.Errorf("expected 1 alert, got %d", posts.Load())
	}
}
