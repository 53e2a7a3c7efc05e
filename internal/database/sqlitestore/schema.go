// Package sqlitestore provides SQLite-backed store implementations.
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/XSAM/otelsql"
	"go.opentelemetry.io/otel/attribute"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	email              TEXT PRIMARY KEY,
	display_name       TEXT NOT NULL DEFAULT '',
	role               TEXT NOT NULL,
	tier               TEXT NOT NULL DEFAULT 'free',
	banned_until       TEXT,
	ban_reason         TEXT NOT NULL DEFAULT '',
	flagged_for_review INTEGER NOT NULL DEFAULT 0,
	created_at         TEXT NOT NULL,
	version            INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS ban_records (
	id            TEXT PRIMARY KEY,
	user_email    TEXT NOT NULL,
	issued_by     TEXT NOT NULL,
	issuer_role   TEXT NOT NULL,
	reason        TEXT NOT NULL DEFAULT '',
	created_at    TEXT NOT NULL,
	expires_at    TEXT NOT NULL,
	escalation_id TEXT NOT NULL DEFAULT '',
	lift          INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_ban_records_user ON ban_records(user_email, created_at);

CREATE TABLE IF NOT EXISTS escalation_requests (
	id             TEXT PRIMARY KEY,
	subject_email  TEXT NOT NULL,
	requested_by   TEXT NOT NULL,
	requester_role TEXT NOT NULL,
	target_role    TEXT NOT NULL,
	reason         TEXT NOT NULL,
	status         TEXT NOT NULL,
	created_at     TEXT NOT NULL,
	resolved_by    TEXT NOT NULL DEFAULT '',
	resolved_at    TEXT,
	version        INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS chat_messages (
	id           TEXT PRIMARY KEY,
	room_id      TEXT NOT NULL,
	sender_email TEXT NOT NULL,
	body         TEXT NOT NULL,
	created_at   TEXT NOT NULL,
	flagged      INTEGER NOT NULL DEFAULT 0,
	flagged_by   TEXT NOT NULL DEFAULT '',
	flagged_at   TEXT,
	version      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_messages_room ON chat_messages(room_id, created_at);

CREATE TABLE IF NOT EXISTS moderation_audit_log (
	id          TEXT PRIMARY KEY,
	action      TEXT NOT NULL,
	actor_email TEXT NOT NULL DEFAULT '',
	actor_name  TEXT NOT NULL DEFAULT '',
	target      TEXT NOT NULL DEFAULT '',
	reason      TEXT NOT NULL DEFAULT '',
	details     TEXT NOT NULL DEFAULT '{}',
	timestamp   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_log_timestamp ON moderation_audit_log(timestamp);

CREATE TABLE IF NOT EXISTS notifications (
	id              TEXT PRIMARY KEY,
	recipient_email TEXT NOT NULL,
	message         TEXT NOT NULL,
	severity        TEXT NOT NULL,
	link            TEXT NOT NULL DEFAULT '',
	created_at      TEXT NOT NULL,
	is_read         INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_notifications_recipient ON notifications(recipient_email, created_at);
`

// Store owns the SQLite connection pool
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the schema
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		path = "studyhall.sqlite"
	}

	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := otelsql.Open("sqlite", dsn,
		otelsql.WithAttributes(attribute.String("db.system", "sqlite")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// ModerationStore returns a moderation store sharing this connection pool
func (s *Store) ModerationStore() *ModerationStore {
	return NewModerationStore(s.db)
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}
