package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/MikeSquared-Agency/scribe/internal/message"
)

// sqliteTime is fixed-width so stored instants sort as text.
const sqliteTime = "2006-01-02T15:04:05.000000000Z"

type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens the database file at path. The schema must already be
// migrated.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One writer at a time; concurrent sessions queue on the pool instead of
	// failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode = WAL", "PRAGMA busy_timeout = 5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() {
	s.db.Close()
}

func (s *SQLite) Exists(ctx context.Context, key message.IdentityKey) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM chat_messages
			WHERE profile_id = ? AND chat_url = ? AND identity_hash = ?
		)`,
		key.Chat.ProfileID, key.Chat.ChatURL, key.Hash(),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check message exists: %w", err)
	}
	return exists, nil
}

func (s *SQLite) Insert(ctx context.Context, m message.Normalized) (bool, error) {
	key := m.Key()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_messages (id, profile_id, chat_url, identity_hash, sender_id, sender_name,
			message_text, message_date, is_from_owner, is_paid, amount_paid, source, source_ordinal, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (profile_id, chat_url, identity_hash) DO NOTHING`,
		uuid.New().String(), m.Chat.ProfileID, m.Chat.ChatURL, key.Hash(), m.SenderID, m.SenderName,
		key.Text, formatTime(m.Timestamp), m.IsFromOwner, m.IsPaid, m.AmountPaid, m.Source.String(), m.SourceOrdinal,
		time.Now().UTC().Format(sqliteTime),
	)
	if err != nil {
		return false, fmt.Errorf("insert message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert message: %w", err)
	}
	return n == 1, nil
}

func (s *SQLite) RecordParsed(ctx context.Context, profileID string, at time.Time) error {
	now := time.Now().UTC().Format(sqliteTime)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (profile_id, last_parsed_at, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (profile_id)
		DO UPDATE SET last_parsed_at = excluded.last_parsed_at, updated_at = excluded.updated_at`,
		profileID, at.UTC().Format(sqliteTime), now,
	)
	if err != nil {
		return fmt.Errorf("record parsed: %w", err)
	}
	return nil
}

func (s *SQLite) ListChats(ctx context.Context) ([]ChatSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.profile_id, m.chat_url, count(*),
			coalesce(sum(m.is_from_owner), 0),
			coalesce(sum(1 - m.is_from_owner), 0),
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
		var lastMessage, lastParsed sql.NullString
		if err := rows.Scan(&c.ProfileID, &c.ChatURL, &c.Messages, &c.OwnerMessages, &c.CounterpartMessages, &lastMessage, &lastParsed); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		c.LastMessageAt = parseTime(lastMessage)
		c.LastParsedAt = parseTime(lastParsed)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLite) ListMessages(ctx context.Context, chat message.ChatIdentity, limit int) ([]StoredMessage, error) {
	if limit <= 0 {
		limit = -1
	}
	// SQLite sorts NULL first ascending and last descending.
	rows, err := s.db.QueryContext(ctx, `
		SELECT * FROM (
			SELECT id, sender_id, sender_name, message_text, message_date, is_from_owner,
				is_paid, amount_paid, source, source_ordinal, created_at
			FROM chat_messages
			WHERE profile_id = ? AND chat_url = ?
			ORDER BY message_date DESC, created_at DESC
			LIMIT ?
		)
		ORDER BY message_date ASC, created_at ASC`,
		chat.ProfileID, chat.ChatURL, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []StoredMessage
	for rows.Next() {
		m := StoredMessage{Normalized: message.Normalized{Chat: chat}}
		var id, source, createdAt string
		var date sql.NullString
		if err := rows.Scan(&id, &m.SenderID, &m.SenderName, &m.Text, &date, &m.IsFromOwner,
			&m.IsPaid, &m.AmountPaid, &source, &m.SourceOrdinal, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.ID, _ = uuid.Parse(id)
		m.Timestamp = parseTime(date)
		if t := parseTime(sql.NullString{String: createdAt, Valid: true}); t != nil {
			m.CreatedAt = *t
		}
		m.Source = parseSource(source)
		out = append(out, m)
	}
	return out, rows.Err()
}

func ensureDir(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create database directory: %w", err)
		}
	}
	return nil
}

func formatTime(t *time.Time) any {
	if t = nullableTime(t); t == nil {
		return nil
	}
	return t.Format(sqliteTime)
}

func parseTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(sqliteTime, s.String)
	if err != nil {
		return nil
	}
	return &t
}
