package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the subset of *pgxpool.Pool used by Postgres.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres stores entries in the session_entries table created by the
// app/db migrations.
type Postgres struct {
	pgpool Querier
	ttl    time.Duration
	now    func() time.Time
}

func NewPostgres(pgpool Querier, ttl time.Duration) *Postgres {
	return &Postgres{pgpool: pgpool, ttl: ttl, now: time.Now}
}

func (p *Postgres) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := p.pgpool.QueryRow(ctx,
		`SELECT value FROM session_entries WHERE key = $1 AND (expires_at IS NULL OR expires_at > $2)`,
		key, p.now().UTC(),
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("postgres get: %w", err)
	}
	return value, true, nil
}

func (p *Postgres) Set(ctx context.Context, key, value string) error {
	var expiresAt *time.Time
	if p.ttl > 0 {
		t := p.now().Add(p.ttl).UTC()
		expiresAt = &t
	}
	_, err := p.pgpool.Exec(ctx,
		`INSERT INTO session_entries (key, value, expires_at) VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`,
		key, value, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("postgres set: %w", err)
	}
	return nil
}

func (p *Postgres) Clear(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if _, err := p.pgpool.Exec(ctx, `DELETE FROM session_entries WHERE key = ANY($1)`, keys); err != nil {
		return fmt.Errorf("postgres delete: %w", err)
	}
	return nil
}
