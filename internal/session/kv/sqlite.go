package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS session_entries (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	expires_at INTEGER NOT NULL DEFAULT 0
)`

// SQLite stores entries in a single-file database. expires_at holds unix
// seconds, 0 meaning no expiry.
type SQLite struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

// OpenSQLite opens (and creates) the database at path.
func OpenSQLite(path string, ttl time.Duration) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create session_entries: %w", err)
	}
	return &SQLite{db: db, ttl: ttl, now: time.Now}, nil
}

func (s *SQLite) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM session_entries WHERE key = ? AND (expires_at = 0 OR expires_at > ?)`,
		key, s.now().Unix(),
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("sqlite get: %w", err)
	}
	return value, true, nil
}

func (s *SQLite) Set(ctx context.Context, key, value string) error {
	var expiresAt int64
	if s.ttl > 0 {
		expiresAt = s.now().Add(s.ttl).Unix()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_entries (key, value, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite set: %w", err)
	}
	return nil
}

func (s *SQLite) Clear(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session_entries WHERE key IN (`+placeholders+`)`, args...); err != nil {
		return fmt.Errorf("sqlite delete: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
