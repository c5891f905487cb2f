package scrape

import (
	"context"
	"log/slog"
	"time"

	"github.com/MikeSquared-Agency/scribe/internal/message"
)

// Store is the durable storage a scrape writes to.
type Store interface {
	Exists(ctx context.Context, key message.IdentityKey) (bool, error)
	Insert(ctx context.Context, m message.Normalized) (bool, error)
	RecordParsed(ctx context.Context, profileID string, at time.Time) error
}

// FlushStats counts the outcome of one flush.
type FlushStats struct {
	Inserted int
	Skipped  int
	Failed   int
}

// BatchPersister writes the unflushed tail of a session buffer.
type BatchPersister struct {
	store  Store
	logger *slog.Logger
}

func NewBatchPersister(store Store, logger *slog.Logger) *BatchPersister {
	return &BatchPersister{store: store, logger: logger}
}

// Flush persists every message past the last flush point. The flush point
// advances whether or not each write succeeds; a failed record is logged and
// left for the next run of the same chat. Flushes run to completion even if
// ctx is cancelled.
func (p *BatchPersister) Flush(ctx context.Context, state *SessionState) FlushStats {
	ctx = context.WithoutCancel(ctx)
	batch := state.take()

	var st FlushStats
	for _, m := range batch {
		exists, err := p.store.Exists(ctx, m.Key())
		if err != nil {
			st.Failed++
			p.logger.Error("failed to check message", "chat_url", m.Chat.ChatURL, "error", err)
			continue
		}
		if exists {
			st.Skipped++
			continue
		}

		inserted, err := p.store.Insert(ctx, m)
		if err != nil {
			st.Failed++
			p.logger.Error("failed to insert message", "chat_url", m.Chat.ChatURL, "error", err)
			continue
		}
		if !inserted {
			st.Skipped++
			continue
		}
		st.Inserted++
	}

	if len(batch) > 0 {
		p.logger.Info("flushed messages",
			"profile_id", state.Chat.ProfileID,
			"chat_url", state.Chat.ChatURL,
			"batch", len(batch),
			"inserted", st.Inserted,
			"skipped", st.Skipped,
			"failed", st.Failed,
		)
	}
	return st
}
