// Package store persists scraped chat messages. Postgres is the production
// backend; SQLite serves single-host runs and tests.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/scribe/internal/message"
)

// ErrUnsupportedURL is returned for database URLs with an unknown scheme.
var ErrUnsupportedURL = errors.New("unsupported database url")

// Store is the durable message store. Writes are partitioned by chat; Insert
// is idempotent on (profile, chat, identity hash).
type Store interface {
	Exists(ctx context.Context, key message.IdentityKey) (bool, error)
	// Insert reports whether a new row was written.
	Insert(ctx context.Context, m message.Normalized) (bool, error)
	RecordParsed(ctx context.Context, profileID string, at time.Time) error
	ListChats(ctx context.Context) ([]ChatSummary, error)
	ListMessages(ctx context.Context, chat message.ChatIdentity, limit int) ([]StoredMessage, error)
	Close()
}

// StoredMessage is a persisted message row.
type StoredMessage struct {
	ID uuid.UUID `json:"id"`
	message.Normalized
	CreatedAt time.Time `json:"created_at"`
}

// ChatSummary aggregates one chat's stored messages.
type ChatSummary struct {
	ProfileID           string     `json:"profile_id"`
	ChatURL             string     `json:"chat_url"`
	Messages            int        `json:"messages"`
	OwnerMessages       int        `json:"owner_messages"`
	CounterpartMessages int        `json:"counterpart_messages"`
	LastMessageAt       *time.Time `json:"last_message_at,omitempty"`
	LastParsedAt        *time.Time `json:"last_parsed_at,omitempty"`
}

// Open migrates and connects to the database at databaseURL: a postgres URL
// or sqlite://path.
func Open(ctx context.Context, databaseURL string) (Store, error) {
	if isSQLite(databaseURL) {
		if err := ensureDir(sqlitePath(databaseURL)); err != nil {
			return nil, err
		}
	}
	if err := Migrate(databaseURL); err != nil {
		return nil, err
	}
	switch {
	case isSQLite(databaseURL):
		return OpenSQLite(ctx, sqlitePath(databaseURL))
	case isPostgres(databaseURL):
		return New(ctx, databaseURL)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedURL, redact(databaseURL))
}

func isSQLite(u string) bool {
	return strings.HasPrefix(u, "sqlite://")
}

func isPostgres(u string) bool {
	return strings.HasPrefix(u, "postgres://") || strings.HasPrefix(u, "postgresql://")
}

func sqlitePath(u string) string {
	return strings.TrimPrefix(u, "sqlite://")
}

// redact drops credentials from a URL for error messages.
func redact(u string) string {
	scheme, rest, ok := strings.Cut(u, "://")
	if !ok {
		return u
	}
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		rest = rest[at+1:]
	}
	return scheme + "://" + rest
}

func nullableTime(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
