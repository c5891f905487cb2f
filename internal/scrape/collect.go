package scrape

import (
	"errors"
	"log/slog"

	"github.com/MikeSquared-Agency/scribe/internal/dates"
	"github.com/MikeSquared-Agency/scribe/internal/dedup"
	"github.com/MikeSquared-Agency/scribe/internal/message"
)

// collector normalizes candidates from either source into the session buffer.
type collector struct {
	state  *SessionState
	dates  *dates.Normalizer
	logger *slog.Logger
}

// add normalizes and admits cands, returning how many were new.
func (c *collector) add(cands []message.Candidate) int {
	added := 0
	for _, cand := range cands {
		m, ok := c.normalize(cand)
		if !ok {
			continue
		}
		if c.state.Admit(m) == dedup.Added {
			added++
		}
	}
	return added
}

func (c *collector) normalize(cand message.Candidate) (message.Normalized, bool) {
	text := message.NormalizeText(cand.Text)
	if text == "" {
		return message.Normalized{}, false
	}

	m := message.Normalized{
		Chat:          c.state.Chat,
		SenderID:      cand.SenderID,
		SenderName:    cand.SenderName,
		Text:          text,
		IsFromOwner:   cand.IsFromOwner,
		SideUnknown:   cand.SideUnknown,
		IsPaid:        cand.IsPaid,
		Source:        cand.Source,
		SourceOrdinal: cand.Ordinal,
	}
	if cand.AmountPaid != nil {
		m.AmountPaid = *cand.AmountPaid
	}

	if cand.RawTimestamp != nil {
		ts, err := c.dates.Normalize(cand.RawTimestamp)
		switch {
		case err == nil:
			ts = ts.UTC()
			m.Timestamp = &ts
		case errors.Is(err, dates.ErrUnparsable):
			c.logger.Debug("timestamp left empty", "raw", cand.RawTimestamp, "source", cand.Source.String())
		default:
			c.logger.Warn("timestamp normalization failed", "raw", cand.RawTimestamp, "error", err)
		}
	}
	return m, true
}
