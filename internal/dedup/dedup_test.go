package dedup

import (
	"testing"
	"time"

	"github.com/MikeSquared-Agency/scribe/internal/message"
)

var chat = message.ChatIdentity{ProfileID: "p1", ChatURL: "https://onlyfans.com/my/chats/chat/42/"}

func msg(text string, fromOwner bool, src message.Source) message.Normalized {
	return message.Normalized{Chat: chat, Text: text, IsFromOwner: fromOwner, Source: src}
}

func TestAdmit_NewAndDuplicate(t *testing.T) {
	s := New()
	var buf []message.Normalized

	buf, out := s.Admit(buf, 0, msg("hi", false, message.SourceDOM))
	if out != Added {
		t.Fatalf("expected added, got %s", out)
	}
	buf, out = s.Admit(buf, 0, msg("  hi ", false, message.SourceDOM))
	if out != Duplicate {
		t.Errorf("expected duplicate, got %s", out)
	}
	if len(buf) != 1 {
		t.Errorf("expected 1 buffered message, got %d", len(buf))
	}
	if s.Len() != 1 {
		t.Errorf("expected 1 key, got %d", s.Len())
	}
}

func TestAdmit_SameTextOtherSide(t *testing.T) {
	s := New()
	var buf []message.Normalized

	buf, _ = s.Admit(buf, 0, msg("hi", false, message.SourceDOM))
	buf, out := s.Admit(buf, 0, msg("hi", true, message.SourceDOM))

	if out != Added {
		t.Errorf("expected added, got %s", out)
	}
	if len(buf) != 2 {
		t.Errorf("expected 2 buffered messages, got %d", len(buf))
	}
}

func TestAdmit_NetworkUpgradesUnflushedDOM(t *testing.T) {
	s := New()
	var buf []message.Normalized

	domTS := time.Date(2025, 10, 31, 19, 46, 0, 0, time.UTC)
	dom := msg("hello", false, message.SourceDOM)
	dom.Timestamp = &domTS
	buf, _ = s.Admit(buf, 0, dom)

	net := msg("hello", false, message.SourceNetwork)
	net.SenderID = "123"
	net.SenderName = "fan"
	buf, out := s.Admit(buf, 0, net)

	if out != Upgraded {
		t.Fatalf("expected upgraded, got %s", out)
	}
	if len(buf) != 1 {
		t.Fatalf("expected 1 buffered message, got %d", len(buf))
	}
	if buf[0].Source != message.SourceNetwork || buf[0].SenderID != "123" {
		t.Errorf("expected network record, got %+v", buf[0])
	}
	if buf[0].Timestamp == nil || !buf[0].Timestamp.Equal(domTS) {
		t.Errorf("expected DOM timestamp kept when network has none, got %v", buf[0].Timestamp)
	}
}

func TestAdmit_NoUpgradeAfterFlush(t *testing.T) {
	s := New()
	var buf []message.Normalized

	buf, _ = s.Admit(buf, 0, msg("hello", false, message.SourceDOM))
	buf, out := s.Admit(buf, 1, msg("hello", false, message.SourceNetwork))

	if out != Duplicate {
		t.Errorf("expected duplicate once flushed, got %s", out)
	}
	if buf[0].Source != message.SourceDOM {
		t.Error("flushed entry must not change")
	}
}

func TestAdmit_DOMNeverReplacesNetwork(t *testing.T) {
	s := New()
	var buf []message.Normalized

	buf, _ = s.Admit(buf, 0, msg("hello", true, message.SourceNetwork))
	buf, out := s.Admit(buf, 0, msg("hello", true, message.SourceDOM))

	if out != Duplicate {
		t.Errorf("expected duplicate, got %s", out)
	}
	if buf[0].Source != message.SourceNetwork {
		t.Error("network entry was replaced")
	}
}

func TestSeen(t *testing.T) {
	s := New()
	m := msg("x", true, message.SourceNetwork)
	if s.Seen(m.Key()) {
		t.Error("empty set reports seen")
	}
	s.Admit(nil, 0, m)
	if !s.Seen(m.Key()) {
		t.Error("admitted key not seen")
	}
}

func unknownSide(text string) message.Normalized {
	m := msg(text, false, message.SourceNetwork)
	m.SideUnknown = true
	return m
}

func TestAdmit_UnknownSideSettledByDOM(t *testing.T) {
	s := New()
	var buf []message.Normalized

	buf, out := s.Admit(buf, 0, unknownSide("see you soon"))
	if out != Added {
		t.Fatalf("expected added, got %s", out)
	}
	buf, out = s.Admit(buf, 0, msg("see you soon", true, message.SourceDOM))
	if out != Resolved {
		t.Fatalf("expected resolved, got %s", out)
	}

	if len(buf) != 1 {
		t.Fatalf("expected 1 buffered message, got %d", len(buf))
	}
	if !buf[0].IsFromOwner || buf[0].SideUnknown || buf[0].Source != message.SourceNetwork {
		t.Errorf("expected network record on the owner side, got %+v", buf[0])
	}
	if !s.Seen(buf[0].Key()) || s.Seen(msg("see you soon", false, message.SourceDOM).Key()) {
		t.Error("expected the key to move to the owner side")
	}

	_, out = s.Admit(buf, 0, msg("see you soon", true, message.SourceDOM))
	if out != Duplicate {
		t.Errorf("expected a second DOM pass to be a duplicate, got %s", out)
	}
}

func TestAdmit_UnknownSideTakesDOMSide(t *testing.T) {
	s := New()
	var buf []message.Normalized

	buf, _ = s.Admit(buf, 0, msg("mine", true, message.SourceDOM))
	net := unknownSide("mine")
	net.SenderID = "100"
	buf, out := s.Admit(buf, 0, net)

	if out != Upgraded {
		t.Fatalf("expected upgraded, got %s", out)
	}
	if len(buf) != 1 || !buf[0].IsFromOwner || buf[0].SenderID != "100" || buf[0].SideUnknown {
		t.Errorf("unexpected buffer %+v", buf)
	}
}

func TestAdmit_UnknownSideAfterFlush(t *testing.T) {
	s := New()
	var buf []message.Normalized

	buf, _ = s.Admit(buf, 0, unknownSide("late"))
	buf, out := s.Admit(buf, 1, msg("late", true, message.SourceDOM))
	if out != Duplicate {
		t.Errorf("expected duplicate once the guess was flushed, got %s", out)
	}
	if len(buf) != 1 || buf[0].IsFromOwner {
		t.Errorf("flushed entry must not change, got %+v", buf)
	}

	buf, _ = s.Admit(buf, 1, msg("other", false, message.SourceDOM))
	_, out = s.Admit(buf, 2, unknownSide("other"))
	if out != Duplicate {
		t.Errorf("expected unknown side to match flushed text, got %s", out)
	}
}

func TestAdmit_UnknownSideSettledByNetwork(t *testing.T) {
	s := New()
	var buf []message.Normalized

	buf, _ = s.Admit(buf, 0, unknownSide("ok"))
	buf, out := s.Admit(buf, 0, msg("ok", true, message.SourceNetwork))
	if out != Resolved || len(buf) != 1 || !buf[0].IsFromOwner {
		t.Errorf("expected resolved owner record, got %s %+v", out, buf)
	}
}
