package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MikeSquared-Agency/scribe/internal/message"
)

type Postgres struct {
	pool *pgxpool.Pool
}

// New connects to Postgres. The schema must already be migrated.
func New(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (s *Postgres) Close() {
	s.pool.Close()
}

// Exists reports whether a message with the key is already stored.
func (s *Postgres) Exists(ctx context.Context, key message.IdentityKey) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM chat_messages
			WHERE profile_id = $1 AND chat_url = $2 AND identity_hash = $3
		)`,
		key.Chat.ProfileID, key.Chat.ChatURL, key.Hash(),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check message exists: %w", err)
	}
	return exists, nil
}

// Insert writes the message unless its identity is already stored.
func (s *Postgres) Insert(ctx context.Context, m message.Normalized) (bool, error) {
	key := m.Key()
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO chat_messages (id, profile_id, chat_url, identity_hash, sender_id, sender_name,
			message_text, message_date, is_from_owner, is_paid, amount_paid, source, source_ordinal, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, now())
		ON CONFLICT (profile_id, chat_url, identity_hash) DO NOTHING`,
		uuid.New(), m.Chat.ProfileID, m.Chat.ChatURL, key.Hash(), m.SenderID, m.SenderName,
		key.Text, nullableTime(m.Timestamp), m.IsFromOwner, m.IsPaid, m.AmountPaid, m.Source.String(), m.SourceOrdinal,
	)
	if err != nil {
		return false, fmt.Errorf("insert message: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// RecordParsed stamps the profile's last successful scrape.
func (s *Postgres) RecordParsed(ctx context.Context, profileID string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO profiles (profile_id, last_parsed_at, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (profile_id)
		DO UPDATE SET last_parsed_at = $2, updated_at = now()`,
		profileID, at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record parsed: %w", err)
	}
	return nil
}

// ListChats summarizes every stored chat, ordered by profile then chat.
func (s *Postgres) ListChats(ctx context.Context) ([]ChatSummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT m.profile_id, m.chat_url, count(*),
			count(*) FILTER (WHERE m.is_from_owner),
			count(*) FILTER (WHERE NOT m.is_from_owner),
			max(m.message_date), p.last_parsed_at
		FROM chat_messages m
		LEFT JOIN profiles p ON p.profile_id = m.profile_id
		GROUP BY m.profile_id, m.chat_url, p.last_parsed_at
		ORDER BY m.profile_id, m.chat_url`)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	var out []ChatSummary
	for rows.Next() {
		var c ChatSummary
		if err := rows.Scan(&c.ProfileID, &c.ChatURL, &c.Messages, &c.OwnerMessages, &c.CounterpartMessages, &c.LastMessageAt, &c.LastParsedAt); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListMessages returns a chat's messages in conversation order. A positive
// limit keeps only the newest messages.
func (s *Postgres) ListMessages(ctx context.Context, chat message.ChatIdentity, limit int) ([]StoredMessage, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.pool.Query(ctx, `
		SELECT * FROM (
			SELECT id, sender_id, sender_name, message_text, message_date, is_from_owner,
				is_paid, amount_paid, source, source_ordinal, created_at
			FROM chat_messages
			WHERE profile_id = $1 AND chat_url = $2
			ORDER BY message_date DESC NULLS LAST, created_at DESC
			LIMIT NULLIF($3, -1)
		) newest
		ORDER BY message_date ASC NULLS FIRST, created_at ASC`,
		chat.ProfileID, chat.ChatURL, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []StoredMessage
	for rows.Next() {
		m := StoredMessage{Normalized: message.Normalized{Chat: chat}}
		var source string
		if err := rows.Scan(&m.ID, &m.SenderID, &m.SenderName, &m.Text, &m.Timestamp, &m.IsFromOwner,
			&m.IsPaid, &m.AmountPaid, &source, &m.SourceOrdinal, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Source = parseSource(source)
		out = append(out, m)
	}
	return out, rows.Err()
}

func parseSource(s string) message.Source {
	if s == message.SourceNetwork.String() {
		return message.SourceNetwork
	}
	return message.SourceDOM
}
