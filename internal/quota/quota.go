// Package quota tracks daily practice-time usage per user.
//
// Usage is keyed by user and calendar date (UTC). A session consumes seconds
// against a fixed daily allowance; once the allowance is exhausted no new
// session may start and a running session is ended. Writes are additive so
// that concurrent sessions and retried writes never shrink recorded usage.
package quota

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by lookups when no usage row exists yet for the
// user and date. Callers treat it as zero consumption.
var ErrNotFound = errors.New("quota: no usage recorded")

// DateKey formats t as the UTC calendar-date key used for daily buckets.
func DateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Store persists per-user daily usage.
//
// Implementations must make AddConsumed additive: two concurrent writes of
// 30 and 45 seconds for the same user and day result in 75 recorded seconds,
// regardless of interleaving.
type Store interface {
	// Consumed returns the seconds already used by userID on the day
	// containing now (UTC). Missing rows report zero, not ErrNotFound.
	Consumed(ctx context.Context, userID string, now time.Time) (int64, error)

	// AddConsumed adds seconds to userID's usage for the day containing now
	// (UTC), creating the row if needed. seconds must be non-negative;
	// implementations ignore calls with seconds <= 0.
	AddConsumed(ctx context.Context, userID string, seconds int64, now time.Time) error
}

// Remaining returns the seconds userID may still practice today given the
// daily allowance. Never negative.
func Remaining(ctx context.Context, s Store, userID string, allowanceSeconds int64, now time.Time) (int64, error) {
	used, err := s.Consumed(ctx, userID, now)
	if err != nil {
		return 0, err
	}
	rem := allowanceSeconds - used
	if rem < 0 {
		rem = 0
	}
	return rem, nil
}
