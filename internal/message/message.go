// Package message defines the chat message shapes shared by extraction,
// deduplication and persistence.
package message

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// ChatIdentity identifies one scrape target. It is the persistence partition key.
type ChatIdentity struct {
	ProfileID string `json:"profile_id"`
	ChatURL   string `json:"chat_url"`
}

// Source records which extraction path produced a message.
type Source int

const (
	SourceNetwork Source = iota
	SourceDOM
)

func (s Source) String() string {
	if s == SourceNetwork {
		return "network"
	}
	return "dom"
}

func (s Source) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Source) UnmarshalText(b []byte) error {
	switch string(b) {
	case "network":
		*s = SourceNetwork
	case "dom":
		*s = SourceDOM
	default:
		return fmt.Errorf("unknown message source %q", b)
	}
	return nil
}

// Candidate is an unvalidated message produced by either extraction source.
type Candidate struct {
	SenderID     string
	SenderName   string
	Text         string
	RawTimestamp any // time.Time, string, float64, int64 or nil
	IsFromOwner  bool
	SideUnknown  bool // IsFromOwner is a guess; the source could not tell the sides apart
	IsPaid       bool
	AmountPaid   *float64
	Ordinal      int
	Source       Source
}

// Normalized is the unit of deduplication and persistence.
type Normalized struct {
	Chat          ChatIdentity `json:"chat"`
	SenderID      string       `json:"sender_id,omitempty"`
	SenderName    string       `json:"sender_name,omitempty"`
	Text          string       `json:"text"`
	Timestamp     *time.Time   `json:"timestamp,omitempty"`
	IsFromOwner   bool         `json:"is_from_owner"`
	SideUnknown   bool         `json:"-"`
	IsPaid        bool         `json:"is_paid"`
	AmountPaid    float64      `json:"amount_paid"`
	Source        Source       `json:"source"`
	SourceOrdinal int          `json:"source_ordinal"`
}

// Key returns the identity key of the message.
func (m Normalized) Key() IdentityKey {
	return NewIdentityKey(m.Chat, m.Text, m.IsFromOwner)
}

// Sender sides used in identity keys.
const (
	SideOwner       = "owner"
	SideCounterpart = "counterpart"
)

// TextKey is the identity key with the side left out.
func (k IdentityKey) TextKey() IdentityKey {
	k.Side = ""
	return k
}

// IdentityKey is the content-based identity of a message. Neither platform
// exposes a stable message id to both sources, so equal text from the same
// side of the same chat is the same message.
type IdentityKey struct {
	Chat ChatIdentity
	Text string
	Side string
}

// NewIdentityKey builds a key from message fields.
func NewIdentityKey(chat ChatIdentity, text string, fromOwner bool) IdentityKey {
	side := SideCounterpart
	if fromOwner {
		side = SideOwner
	}
	return IdentityKey{Chat: chat, Text: NormalizeText(text), Side: side}
}

// Hash returns a stable hex digest of the key, suitable for an indexed column.
func (k IdentityKey) Hash() string {
	h := sha256.New()
	for _, part := range []string{k.Chat.ProfileID, k.Chat.ChatURL, k.Side, k.Text} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// NormalizeText trims the text and collapses runs of whitespace so that API
// and DOM renderings of the same message compare equal.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
