package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements [Store] on a PostgreSQL pool.
//
// Schema:
//
//	CREATE TABLE IF NOT EXISTS usage_daily (
//	    user_id       TEXT NOT NULL,
//	    session_date  DATE NOT NULL,
//	    total_seconds BIGINT NOT NULL DEFAULT 0,
//	    updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
//	    PRIMARY KEY (user_id, session_date)
//	);
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a store backed by the given pool. The pool is
// owned by the caller.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the usage table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	const q = `
CREATE TABLE IF NOT EXISTS usage_daily (
    user_id       TEXT NOT NULL,
    session_date  DATE NOT NULL,
    total_seconds BIGINT NOT NULL DEFAULT 0,
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (user_id, session_date)
)`
	if _, err := s.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("quota: ensure schema: %w", err)
	}
	return nil
}

// Consumed implements [Store].
func (s *PostgresStore) Consumed(ctx context.Context, userID string, now time.Time) (int64, error) {
	const q = `
SELECT total_seconds
FROM usage_daily
WHERE user_id = $1 AND session_date = $2`

	var total int64
	err := s.pool.QueryRow(ctx, q, userID, DateKey(now)).Scan(&total)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("quota: query usage: %w", err)
	}
	return total, nil
}

// AddConsumed implements [Store]. The upsert adds to the existing total so
// concurrent writers never lose each other's seconds.
func (s *PostgresStore) AddConsumed(ctx context.Context, userID string, seconds int64, now time.Time) error {
	if seconds <= 0 {
		return nil
	}
	const q = `
INSERT INTO usage_daily (user_id, session_date, total_seconds, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (user_id, session_date)
DO UPDATE SET total_seconds = usage_daily.total_seconds + EXCLUDED.total_seconds,
              updated_at    = now()`

	if _, err := s.pool.Exec(ctx, q, userID, DateKey(now), seconds); err != nil {
		return fmt.Errorf("quota: record usage: %w", err)
	}
	return nil
}
