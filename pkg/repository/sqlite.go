package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/ermine-ai/ermine/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_key TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_key, id);

CREATE TABLE IF NOT EXISTS consolidation (
	session_key TEXT PRIMARY KEY,
	cursor INTEGER NOT NULL
);
`

// SQLite is a SessionRepository backed by a local SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database at path and ensures the
// schema exists.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open database", goerr.V("path", path))
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, goerr.Wrap(err, "failed to create schema")
	}

	return &SQLite{db: db}, nil
}

func (r *SQLite) Close() error {
	return r.db.Close()
}

func (r *SQLite) AddMessage(ctx context.Context, sessionKey string, msg model.Message) error {
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO messages (session_key, role, content, created_at) VALUES (?, ?, ?, ?)`,
		sessionKey, string(msg.Role), msg.Content, createdAt.UnixNano())
	if err != nil {
		return goerr.Wrap(err, "failed to insert message", goerr.V("session", sessionKey))
	}
	return nil
}

func (r *SQLite) History(ctx context.Context, sessionKey string, maxMessages int) ([]model.Message, error) {
	if maxMessages <= 0 {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT role, content, created_at FROM (
			SELECT id, role, content, created_at FROM messages
			WHERE session_key = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`,
		sessionKey, maxMessages)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query history", goerr.V("session", sessionKey))
	}
	defer rows.Close()

	return scanMessages(rows)
}

func (r *SQLite) MessageCount(ctx context.Context, sessionKey string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE session_key = ?`, sessionKey).Scan(&count)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to count messages", goerr.V("session", sessionKey))
	}
	return count, nil
}

func (r *SQLite) Messages(ctx context.Context, sessionKey string, from, to int) ([]model.Message, error) {
	if from < 0 {
		from = 0
	}
	if to <= from {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT role, content, created_at FROM messages
		 WHERE session_key = ? ORDER BY id ASC LIMIT ? OFFSET ?`,
		sessionKey, to-from, from)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query messages", goerr.V("session", sessionKey))
	}
	defer rows.Close()

	return scanMessages(rows)
}

func (r *SQLite) LastConsolidated(ctx context.Context, sessionKey string) (int, error) {
	var cursor int
	err := r.db.QueryRowContext(ctx,
		`SELECT cursor FROM consolidation WHERE session_key = ?`, sessionKey).Scan(&cursor)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, goerr.Wrap(err, "failed to read consolidation cursor", goerr.V("session", sessionKey))
	}
	return cursor, nil
}

func (r *SQLite) SetLastConsolidated(ctx context.Context, sessionKey string, cursor int) error {
	if cursor < 0 {
		return goerr.New("cursor must not be negative", goerr.V("cursor", cursor))
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO consolidation (session_key, cursor) VALUES (?, ?)
		 ON CONFLICT(session_key) DO UPDATE SET cursor = excluded.cursor`,
		sessionKey, cursor)
	if err != nil {
		return goerr.Wrap(err, "failed to set consolidation cursor", goerr.V("session", sessionKey))
	}
	return nil
}

func scanMessages(rows *sql.Rows) ([]model.Message, error) {
	var messages []model.Message
	for rows.Next() {
		var role, content string
		var createdAt int64
		if err := rows.Scan(&role, &content, &createdAt); err != nil {
			return nil, goerr.Wrap(err, "failed to scan message")
		}
		messages = append(messages, model.Message{
			Role:      model.Role(role),
			Content:   content,
			CreatedAt: time.Unix(0, createdAt),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate messages")
	}
	return messages, nil
}
