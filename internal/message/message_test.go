package message

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestIdentityKey_SameContentSameKey(t *testing.T) {
	chat := ChatIdentity{ProfileID: "p1", ChatURL: "https://onlyfans.com/my/chats/chat/42/"}

	a := NewIdentityKey(chat, "hello   there", false)
	b := NewIdentityKey(chat, " hello there\n", false)

	if a != b {
		t.Errorf("expected equal keys, got %+v and %+v", a, b)
	}
	if a.Hash() != b.Hash() {
		t.Error("expected equal hashes for equal keys")
	}
}

func TestIdentityKey_SideMatters(t *testing.T) {
	chat := ChatIdentity{ProfileID: "p1", ChatURL: "u"}

	owner := NewIdentityKey(chat, "hi", true)
	fan := NewIdentityKey(chat, "hi", false)

	if owner == fan {
		t.Error("owner and counterpart keys must differ")
	}
	if owner.Hash() == fan.Hash() {
		t.Error("owner and counterpart hashes must differ")
	}
}

func TestIdentityKey_ChatPartition(t *testing.T) {
	a := NewIdentityKey(ChatIdentity{ProfileID: "p1", ChatURL: "u1"}, "hi", true)
	b := NewIdentityKey(ChatIdentity{ProfileID: "p1", ChatURL: "u2"}, "hi", true)
	if a.Hash() == b.Hash() {
		t.Error("keys in different chats must not collide")
	}
}

func TestHash_NoFieldBleed(t *testing.T) {
	// "ab"+"c" and "a"+"bc" must not hash equal.
	a := IdentityKey{Chat: ChatIdentity{ProfileID: "ab", ChatURL: "c"}}
	b := IdentityKey{Chat: ChatIdentity{ProfileID: "a", ChatURL: "bc"}}
	if a.Hash() == b.Hash() {
		t.Error("field boundaries must be part of the hash")
	}
}

func TestNormalized_Key(t *testing.T) {
	m := Normalized{Chat: ChatIdentity{ProfileID: "p", ChatURL: "u"}, Text: "x", IsFromOwner: true}
	if m.Key().Side != SideOwner {
		t.Errorf("expected owner side, got %q", m.Key().Side)
	}
}

func TestSource_String(t *testing.T) {
	if SourceNetwork.String() != "network" || SourceDOM.String() != "dom" {
		t.Error("unexpected source names")
	}
}

func TestSource_Text(t *testing.T) {
	b, err := json.Marshal(Normalized{Text: "hi", Source: SourceDOM})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `"source":"dom"`) {
		t.Errorf("expected source as text, got %s", b)
	}

	var m Normalized
	if err := json.Unmarshal([]byte(`{"text":"hi","source":"network"}`), &m); err != nil {
		t.Fatal(err)
	}
	if m.Source != SourceNetwork {
		t.Errorf("expected network, got %s", m.Source)
	}
	if err := json.Unmarshal([]byte(`{"source":"carrier pigeon"}`), &m); err == nil {
		t.Error("expected unknown source to fail")
	}
}
