package extractor

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/MikeSquared-Agency/scribe/internal/message"
)

// Record is a platform message as it arrives, before conversion. The
// concrete types are OnlyFansMessage, FanslyMessage and DOMNode.
type Record interface {
	toCandidate(own ownership, ordinal int) (message.Candidate, bool)
}

// ownership is what an adapter knows about who is who in the chat.
type ownership struct {
	OwnerID       string
	CounterpartID string
}

// side reports whether senderID is the owner. known is false when neither
// the sender nor either participant id is available.
func (o ownership) side(senderID string) (fromOwner, known bool) {
	switch {
	case senderID == "":
		return false, false
	case o.OwnerID != "":
		return senderID == o.OwnerID, true
	case o.CounterpartID != "":
		return senderID != o.CounterpartID, true
	}
	return false, false
}

// flexID accepts ids rendered as JSON numbers or strings.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

// rawTimestamp keeps a JSON timestamp in a shape the date normalizer accepts.
func rawTimestamp(raw json.RawMessage) any {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if raw[0] == '"' {
		var s string
		if json.Unmarshal(raw, &s) == nil {
			return s
		}
		return nil
	}
	var n json.Number
	if json.Unmarshal(raw, &n) == nil {
		return n
	}
	return nil
}

type apiUser struct {
	ID       flexID `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

// OnlyFansMessage is one entry of the OnlyFans chat messages listing.
type OnlyFansMessage struct {
	ID          flexID          `json:"id"`
	FromUser    apiUser         `json:"fromUser"`
	Text        string          `json:"text"`
	CreatedAt   json.RawMessage `json:"createdAt"`
	Price       *float64        `json:"price"`
	IsFree      *bool           `json:"isFree"`
	CanPurchase bool            `json:"canPurchase"`
	IsOpened    bool            `json:"isOpened"`
}

func (m OnlyFansMessage) toCandidate(own ownership, ordinal int) (message.Candidate, bool) {
	text := StripHTML(m.Text)
	if text == "" {
		return message.Candidate{}, false
	}
	senderID := string(m.FromUser.ID)
	fromOwner, known := own.side(senderID)
	c := message.Candidate{
		SenderID:     senderID,
		SenderName:   m.FromUser.Username,
		Text:         text,
		RawTimestamp: rawTimestamp(m.CreatedAt),
		IsFromOwner:  fromOwner,
		SideUnknown:  !known,
		Ordinal:      ordinal,
		Source:       message.SourceNetwork,
	}
	// A priced message counts as paid once it can no longer be purchased.
	if m.Price != nil && *m.Price > 0 && (m.IsFree == nil || !*m.IsFree) && (!m.CanPurchase || m.IsOpened) {
		price := *m.Price
		c.IsPaid = true
		c.AmountPaid = &price
	}
	return c, true
}

// FanslyMessage is one entry of a Fansly messages listing.
type FanslyMessage struct {
	ID        flexID          `json:"id"`
	SenderID  flexID          `json:"senderId"`
	Sender    *apiUser        `json:"sender"`
	Content   string          `json:"content"`
	Text      string          `json:"text"`
	CreatedAt json.RawMessage `json:"createdAt"`
	Price     *float64        `json:"price"`
	Purchased bool            `json:"purchased"`
}

func (m FanslyMessage) toCandidate(own ownership, ordinal int) (message.Candidate, bool) {
	text := m.Content
	if strings.TrimSpace(text) == "" {
		text = m.Text
	}
	text = message.NormalizeText(text)
	if text == "" {
		return message.Candidate{}, false
	}

	senderID := string(m.SenderID)
	var senderName string
	if m.Sender != nil {
		if senderID == "" {
			senderID = string(m.Sender.ID)
		}
		senderName = m.Sender.Username
	}

	fromOwner, known := own.side(senderID)
	c := message.Candidate{
		SenderID:     senderID,
		SenderName:   senderName,
		Text:         text,
		RawTimestamp: rawTimestamp(m.CreatedAt),
		IsFromOwner:  fromOwner,
		SideUnknown:  !known,
		Ordinal:      ordinal,
		Source:       message.SourceNetwork,
	}
	if m.Purchased && m.Price != nil && *m.Price > 0 {
		price := *m.Price
		c.IsPaid = true
		c.AmountPaid = &price
	}
	return c, true
}

// DOMNode is what the page evaluation returns for one rendered message.
type DOMNode struct {
	Text       string `json:"text"`
	FromMe     bool   `json:"fromMe"`
	Time       string `json:"time"`
	SenderHint string `json:"senderHint"`
	FullText   string `json:"fullText"`
}

func (n DOMNode) toCandidate(_ ownership, ordinal int) (message.Candidate, bool) {
	text := message.NormalizeText(n.Text)
	if text == "" {
		return message.Candidate{}, false
	}

	c := message.Candidate{
		SenderID:    strings.TrimSpace(n.SenderHint),
		Text:        text,
		IsFromOwner: n.FromMe,
		Ordinal:     ordinal,
		Source:      message.SourceDOM,
	}

	if ts := strings.TrimSpace(n.Time); ts != "" {
		c.RawTimestamp = ts
	} else if ts := inlineTimestamp(n.FullText, text); ts != "" {
		c.RawTimestamp = ts
	}

	c.IsPaid, c.AmountPaid = payment(n.FullText)
	return c, true
}

func candidates[R Record](records []R, own ownership) []message.Candidate {
	out := make([]message.Candidate, 0, len(records))
	for i, r := range records {
		if c, ok := r.toCandidate(own, i); ok {
			out = append(out, c)
		}
	}
	return out
}
