// Package sqlite stores users, sessions, usage and turns in a single SQLite
// file for single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
    id            TEXT PRIMARY KEY,
    email         TEXT NOT NULL UNIQUE,
    first_name    TEXT NOT NULL DEFAULT '',
    last_name     TEXT NOT NULL DEFAULT '',
    password_hash TEXT NOT NULL,
    created_at    INTEGER NOT NULL,
    updated_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS subscriptions (
    user_id TEXT PRIMARY KEY,
    plan    TEXT NOT NULL DEFAULT 'FREE'
);

CREATE TABLE IF NOT EXISTS usage_counters (
    user_id           TEXT PRIMARY KEY,
    interaction_count INTEGER NOT NULL DEFAULT 0,
    audio_ms          INTEGER NOT NULL DEFAULT 0,
    search_count      INTEGER NOT NULL DEFAULT 0,
    last_reset        INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS usage_history (
    id         TEXT PRIMARY KEY,
    user_id    TEXT NOT NULL,
    dimension  TEXT NOT NULL,
    amount     INTEGER NOT NULL,
    tokens     INTEGER NOT NULL DEFAULT 0,
    session_id TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS live_sessions (
    id           TEXT PRIMARY KEY,
    user_id      TEXT NOT NULL,
    session_type TEXT NOT NULL,
    profile      TEXT NOT NULL,
    language     TEXT NOT NULL,
    tokens_used  INTEGER NOT NULL DEFAULT 0,
    created_at   INTEGER NOT NULL,
    ended_at     INTEGER
);

CREATE TABLE IF NOT EXISTS conversation_turns (
    id            TEXT PRIMARY KEY,
    session_id    TEXT NOT NULL,
    transcription TEXT NOT NULL,
    ai_response   TEXT NOT NULL,
    created_at    INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conversation_turns_session ON conversation_turns (session_id, created_at);
`

// DB wraps the SQLite handle
type DB struct {
	db *sql.DB
}

// Open opens or creates the database file at path and applies the schema.
func Open(ctx context.Context, path string) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database file path is required")
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &DB{db: db}, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Timestamps are stored as Unix nanoseconds so comparisons are numeric.
func toUnix(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromUnix(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
