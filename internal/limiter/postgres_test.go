package limiter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
)

var testIP = HashIP("10.0.0.7")

func newPG(t *testing.T, maxFails int) (*PG, pgxmock.PgxPoolIface, time.Time) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	l := NewPG(mock, 15*time.Minute, maxFails, 10*time.Minute)
	l.now = func() time.Time { return now }
	return l, mock, now
}

func TestPG_Allow(t *testing.T) {
	l, mock, now := newPG(t, 5)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT blocked_until FROM activation_limiter WHERE ip_hash=\$1`).
		WithArgs(testIP).
		WillReturnError(pgx.ErrNoRows)
	ok, wait, err := l.Allow(ctx, testIP)
	require.NoError(t, err)
	require.True(t, ok)
	require.Zero(t, wait)

	mock.ExpectQuery(`SELECT blocked_until`).
		WithArgs(testIP).
		WillReturnRows(pgxmock.NewRows([]string{"blocked_until"}).AddRow(now.Add(4 * time.Minute)))
	ok, wait, err = l.Allow(ctx, testIP)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 4*time.Minute, wait)

	mock.ExpectQuery(`SELECT blocked_until`).
		WithArgs(testIP).
		WillReturnRows(pgxmock.NewRows([]string{"blocked_until"}).AddRow(time.Unix(0, 0).UTC()))
	ok, _, err = l.Allow(ctx, testIP)
	require.NoError(t, err)
	require.True(t, ok)

	mock.ExpectQuery(`SELECT blocked_until`).
		WithArgs(testIP).
		WillReturnError(errors.New("conn reset"))
	ok, _, err = l.Allow(ctx, testIP)
	require.Error(t, err)
	require.False(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPG_Success(t *testing.T) {
	l, mock, now := newPG(t, 5)

	mock.ExpectExec(`INSERT INTO activation_limiter \(ip_hash, fail_count, blocked_until, updated_at\)\s+VALUES \(\$1, 0, 'epoch', \$2\)`).
		WithArgs(testIP, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, l.Success(context.Background(), testIP))

	mock.ExpectExec(`INSERT INTO activation_limiter`).
		WithArgs(testIP, now).
		WillReturnError(errors.New("read only"))
	require.Error(t, l.Success(context.Background(), testIP))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPG_Failure_BelowThreshold(t *testing.T) {
	l, mock, now := newPG(t, 5)

	mock.ExpectQuery(`INSERT INTO activation_limiter AS a .* RETURNING fail_count, blocked_until`).
		WithArgs(testIP, now, 15*time.Minute, 5, 10*time.Minute).
		WillReturnRows(pgxmock.NewRows([]string{"fail_count", "blocked_until"}).AddRow(2, time.Unix(0, 0).UTC()))

	blocked, wait, err := l.Failure(context.Background(), testIP)
	require.NoError(t, err)
	require.False(t, blocked)
	require.Zero(t, wait)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPG_Failure_ReachesThreshold(t *testing.T) {
	l, mock, now := newPG(t, 3)

	mock.ExpectQuery(`RETURNING fail_count, blocked_until`).
		WithArgs(testIP, now, 15*time.Minute, 3, 10*time.Minute).
		WillReturnRows(pgxmock.NewRows([]string{"fail_count", "blocked_until"}).AddRow(3, now.Add(10*time.Minute)))

	blocked, wait, err := l.Failure(context.Background(), testIP)
	require.NoError(t, err)
	require.True(t, blocked)
	require.Equal(t, 10*time.Minute, wait)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPG_Failure_Error(t *testing.T) {
	l, mock, now := newPG(t, 3)

	mock.ExpectQuery(`RETURNING fail_count, blocked_until`).
		WithArgs(testIP, now, 15*time.Minute, 3, 10*time.Minute).
		WillReturnError(errors.New("deadlock detected"))

	blocked, _, err := l.Failure(context.Background(), testIP)
	require.Error(t, err)
	require.False(t, blocked)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewPG_ClampsThreshold(t *testing.T) {
	l := NewPG(nil, time.Minute, 0, time.Minute)
	require.Equal(t, 1, l.maxFails)
}

func TestHashIP(t *testing.T) {
	require.Len(t, HashIP("1.2.3.4"), 32)
	require.Equal(t, HashIP("1.2.3.4"), HashIP("1.2.3.4"))
	require.NotEqual(t, HashIP("1.2.3.4"), HashIP("5.6.7.8"))
}
