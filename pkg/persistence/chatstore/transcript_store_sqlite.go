package chatstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/go-go-golems/reelchat/pkg/chat"
)

type SQLiteTranscriptStore struct {
	db *sql.DB
}

var _ TranscriptStore = &SQLiteTranscriptStore{}

func NewSQLiteTranscriptStore(dsn string) (*SQLiteTranscriptStore, error) {
	if dsn == "" {
		return nil, errors.New("sqlite transcript store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	s := &SQLiteTranscriptStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteTranscriptStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteTranscriptStore) migrate() error {
	if s == nil || s.db == nil {
		return errors.New("sqlite transcript store: db is nil")
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS transcript_messages (
		  conv_id TEXT NOT NULL,
		  message_id TEXT NOT NULL,
		  seq INTEGER NOT NULL,
		  role TEXT NOT NULL,
		  content TEXT NOT NULL,
		  payload_json TEXT NOT NULL DEFAULT '',
		  content_hash TEXT NOT NULL,
		  created_at_ms INTEGER NOT NULL,
		  updated_at_ms INTEGER NOT NULL,
		  PRIMARY KEY (conv_id, message_id)
		);`,
		`CREATE INDEX IF NOT EXISTS transcript_messages_by_seq
		  ON transcript_messages(conv_id, seq);`,
		`CREATE TABLE IF NOT EXISTS transcript_conversations (
		  conv_id TEXT PRIMARY KEY,
		  created_at_ms INTEGER NOT NULL,
		  last_activity_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS transcript_conversations_by_last_activity
		  ON transcript_conversations(last_activity_ms DESC, conv_id ASC);`,
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return errors.Wrap(err, "sqlite transcript store: migrate")
		}
	}
	return nil
}

func (s *SQLiteTranscriptStore) RecordMessages(ctx context.Context, convID string, msgs []chat.Message) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite transcript store: db is nil")
	}
	convID = strings.TrimSpace(convID)
	if convID == "" {
		return errors.New("sqlite transcript store: convID is empty")
	}
	if len(msgs) == 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	now := time.Now().UnixMilli()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var nextSeq int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM transcript_messages WHERE conv_id = ?`, convID).
		Scan(&nextSeq); err != nil {
		return errors.Wrap(err, "sqlite transcript store: read sequence")
	}

	changed := false
	for _, m := range msgs {
		if m.ID == "" {
			return errors.New("sqlite transcript store: message id is empty")
		}
		hash, err := ComputeMessageContentHash(m)
		if err != nil {
			return errors.Wrap(err, "sqlite transcript store: hash message")
		}
		payloadJSON := ""
		if !m.Payload.IsEmpty() {
			b, err := json.Marshal(m.Payload)
			if err != nil {
				return errors.Wrap(err, "sqlite transcript store: marshal payload")
			}
			payloadJSON = string(b)
		}

		var existingHash string
		err = tx.QueryRowContext(ctx, `SELECT content_hash FROM transcript_messages WHERE conv_id = ? AND message_id = ?`, convID, m.ID).
			Scan(&existingHash)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			nextSeq++
			createdAt := now
			if !m.CreatedAt.IsZero() {
				createdAt = m.CreatedAt.UnixMilli()
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO transcript_messages(conv_id, message_id, seq, role, content, payload_json, content_hash, created_at_ms, updated_at_ms)
				VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, convID, m.ID, nextSeq, string(m.Role), m.Content, payloadJSON, hash, createdAt, now); err != nil {
				return errors.Wrap(err, "sqlite transcript store: insert message")
			}
			changed = true
		case err != nil:
			return errors.Wrap(err, "sqlite transcript store: read message")
		case existingHash != hash:
			if _, err := tx.ExecContext(ctx, `
				UPDATE transcript_messages
				SET content = ?, payload_json = ?, content_hash = ?, updated_at_ms = ?
				WHERE conv_id = ? AND message_id = ?
			`, m.Content, payloadJSON, hash, now, convID, m.ID); err != nil {
				return errors.Wrap(err, "sqlite transcript store: update message")
			}
			changed = true
		}
	}

	if changed {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO transcript_conversations(conv_id, created_at_ms, last_activity_ms)
			VALUES(?, ?, ?)
			ON CONFLICT(conv_id) DO UPDATE SET
				last_activity_ms = CASE
					WHEN excluded.last_activity_ms > transcript_conversations.last_activity_ms THEN excluded.last_activity_ms
					ELSE transcript_conversations.last_activity_ms
				END
		`, convID, now, now); err != nil {
			return errors.Wrap(err, "sqlite transcript store: upsert conversation")
		}
	}

	return tx.Commit()
}

// ListMessages returns the conversation in recording order. A positive limit
// keeps only the most recent messages.
func (s *SQLiteTranscriptStore) ListMessages(ctx context.Context, convID string, limit int) ([]chat.Message, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sqlite transcript store: db is nil")
	}
	convID = strings.TrimSpace(convID)
	if convID == "" {
		return nil, errors.New("sqlite transcript store: convID is empty")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 {
		limit = 5000
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, role, content, payload_json, created_at_ms
		FROM (
			SELECT message_id, role, content, payload_json, created_at_ms, seq
			FROM transcript_messages
			WHERE conv_id = ?
			ORDER BY seq DESC
			LIMIT ?
		)
		ORDER BY seq ASC
	`, convID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite transcript store: list messages")
	}
	defer func() { _ = rows.Close() }()

	out := make([]chat.Message, 0, 64)
	for rows.Next() {
		var (
			m           chat.Message
			role        string
			payloadJSON string
			createdAtMs int64
		)
		if err := rows.Scan(&m.ID, &role, &m.Content, &payloadJSON, &createdAtMs); err != nil {
			return nil, errors.Wrap(err, "sqlite transcript store: scan message")
		}
		m.Role = chat.Role(role)
		m.CreatedAt = time.UnixMilli(createdAtMs).UTC()
		if payloadJSON != "" {
			var p chat.Payload
			if err := json.Unmarshal([]byte(payloadJSON), &p); err != nil {
				return nil, errors.Wrap(err, "sqlite transcript store: unmarshal payload")
			}
			m.Payload = &p
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlite transcript store: iterate messages")
	}
	return out, nil
}

func (s *SQLiteTranscriptStore) ListConversations(ctx context.Context, limit int, sinceMs int64) ([]ConversationRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sqlite transcript store: db is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 {
		limit = 200
	}

	query := `
		SELECT c.conv_id, c.created_at_ms, c.last_activity_ms,
		       (SELECT COUNT(*) FROM transcript_messages m WHERE m.conv_id = c.conv_id),
		       COALESCE((SELECT m.content FROM transcript_messages m WHERE m.conv_id = c.conv_id ORDER BY m.seq DESC LIMIT 1), '')
		FROM transcript_conversations c
	`
	args := make([]any, 0, 2)
	if sinceMs > 0 {
		query += ` WHERE c.last_activity_ms >= ?`
		args = append(args, sinceMs)
	}
	query += ` ORDER BY c.last_activity_ms DESC, c.conv_id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite transcript store: list conversations")
	}
	defer func() { _ = rows.Close() }()

	records := make([]ConversationRecord, 0, limit)
	for rows.Next() {
		var record ConversationRecord
		if err := rows.Scan(
			&record.ConvID,
			&record.CreatedAtMs,
			&record.LastActivityMs,
			&record.MessageCount,
			&record.LastMessage,
		); err != nil {
			return nil, errors.Wrap(err, "sqlite transcript store: scan conversation")
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlite transcript store: iterate conversations")
	}
	return records, nil
}

func SQLiteTranscriptDSNForFile(path string) (string, error) {
	if path == "" {
		return "", errors.New("sqlite transcript store: empty path")
	}
	// WAL for concurrent readers + writer. busy_timeout to avoid transient SQLITE_BUSY.
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path), nil
}
