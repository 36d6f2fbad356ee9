package limiter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PG keeps failure counters in the activation_limiter table so that every server
// process sharing the database sees the same blocks.
type PG struct {
	db       pgxQuerier
	window   time.Duration
	maxFails int
	blockFor time.Duration
	now      func() time.Time
}

type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPG constructs a PostgreSQL-backed limiter over a pool or any other querier.
func NewPG(q pgxQuerier, window time.Duration, maxFails int, blockFor time.Duration) *PG {
	if maxFails < 1 {
		maxFails = 1
	}
	return &PG{db: q, window: window, maxFails: maxFails, blockFor: blockFor, now: time.Now}
}

var _ Limiter = (*PG)(nil)

const (
	sqlBlockedUntil = `SELECT blocked_until FROM activation_limiter WHERE ip_hash=$1`

	sqlReset = `
INSERT INTO activation_limiter (ip_hash, fail_count, blocked_until, updated_at)
VALUES ($1, 0, 'epoch', $2)
ON CONFLICT (ip_hash) DO UPDATE SET fail_count=0, blocked_until='epoch', updated_at=$2`

	// A failure outside the window restarts the count at one. The block is set in the
	// same statement that reaches the threshold.
	sqlFail = `
INSERT INTO activation_limiter AS a (ip_hash, fail_count, blocked_until, updated_at)
VALUES ($1, 1, CASE WHEN $4 <= 1 THEN $2::timestamptz + $5::interval ELSE 'epoch'::timestamptz END, $2)
ON CONFLICT (ip_hash) DO UPDATE SET
    fail_count = CASE WHEN $2::timestamptz - a.updated_at > $3::interval THEN 1 ELSE a.fail_count + 1 END,
    blocked_until = CASE
        WHEN (CASE WHEN $2::timestamptz - a.updated_at > $3::interval THEN 1 ELSE a.fail_count + 1 END) >= $4
        THEN $2::timestamptz + $5::interval
        ELSE a.blocked_until END,
    updated_at = $2
RETURNING fail_count, blocked_until`
)

// Allow reports whether the address is unblocked, or how long the block still lasts.
func (l *PG) Allow(ctx context.Context, ipHash []byte) (bool, time.Duration, error) {
	var until time.Time
	err := l.db.QueryRow(ctx, sqlBlockedUntil, ipHash).Scan(&until)
	if errors.Is(err, pgx.ErrNoRows) {
		return true, 0, nil
	}
	if err != nil {
		return false, 0, fmt.Errorf("limiter allow: %w", err)
	}
	if now := l.now(); until.After(now) {
		return false, until.Sub(now), nil
	}
	return true, 0, nil
}

// Success clears the counter and any block.
func (l *PG) Success(ctx context.Context, ipHash []byte) error {
	if _, err := l.db.Exec(ctx, sqlReset, ipHash, l.now()); err != nil {
		return fmt.Errorf("limiter reset: %w", err)
	}
	return nil
}

// Failure counts a rejected attempt and reports whether the address is now blocked.
func (l *PG) Failure(ctx context.Context, ipHash []byte) (bool, time.Duration, error) {
	now := l.now()
	var (
		fails int
		until time.Time
	)
	err := l.db.QueryRow(ctx, sqlFail, ipHash, now, l.window, l.maxFails, l.blockFor).Scan(&fails, &until)
	if err != nil {
		return false, 0, fmt.Errorf("limiter failure: %w", err)
	}
	if until.After(now) {
		return true, until.Sub(now), nil
	}
	return false, 0, nil
}
