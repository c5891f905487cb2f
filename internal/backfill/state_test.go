package backfill

import (
	"os"
	"path/filepath"
	"testing"
)

func TestState_SaveAndLoad(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "state.json")

	s, err := LoadState(statePath)
	if err != nil {
		t.Fatalf("LoadState failed: %v", err)
	}
	s.MarkCompleted("p1", "https://onlyfans.com/my/chats/chat/1/")
	s.AddError("p1 https://onlyfans.com/my/chats/chat/2/: login page detected")

	if err := s.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	reloaded, err := LoadState(statePath)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if !reloaded.IsCompleted("p1", "https://onlyfans.com/my/chats/chat/1/") {
		t.Error("expected chat 1 to be completed after reload")
	}
	if reloaded.IsCompleted("p1", "https://onlyfans.com/my/chats/chat/2/") {
		t.Error("chat 2 should not be completed")
	}
	if len(reloaded.Errors) != 1 {
		t.Errorf("expected 1 error, got %d", len(reloaded.Errors))
	}
	if reloaded.StartedAt.IsZero() || reloaded.LastProcessedAt.IsZero() {
		t.Error("expected timestamps to be kept")
	}
}

func TestState_Corrupt(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(statePath, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadState(statePath); err == nil {
		t.Error("expected parse error")
	}
}

func TestState_SaveCreatesDirectories(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "nested", "dir", "state.json")

	s := &State{path: statePath}
	if err := s.Save(); err != nil {
		t.Fatalf("Save with nested dir failed: %v", err)
	}
	if _, err := os.Stat(statePath); err != nil {
		t.Fatalf("state file not created in nested dir: %v", err)
	}
}

func TestState_NilIsNoop(t *testing.T) {
	var s *State
	s.MarkCompleted("p", "c")
	s.AddError("x")
	if s.IsCompleted("p", "c") {
		t.Error("nil state should report nothing completed")
	}
	if err := s.Save(); err != nil {
		t.Errorf("nil save: %v", err)
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("cannot determine home dir")
	}

	got := expandHome("~/test/path")
	want := filepath.Join(home, "test/path")
	if got != want {
		t.Errorf("expandHome(~/test/path) = %q, want %q", got, want)
	}

	// Non-tilde paths should pass through.
	got = expandHome("/absolute/path")
	if got != "/absolute/path" {
		t.Errorf("expandHome(/absolute/path) = %q", got)
	}
}
