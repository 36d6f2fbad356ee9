package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/and161185/keyledger/internal/errs"
)

const depID = "cflow-server"

func newDB(t *testing.T) (*DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return &DB{Pool: mock}, mock
}

func expectEnsureAndLock(mock pgxmock.PgxPoolIface, now, activated time.Time, years int) {
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO activations \(deployment_id, activation_date, years\) VALUES \(\$1, \$2, 0\) ON CONFLICT \(deployment_id\) DO NOTHING`).
		WithArgs(depID, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`SELECT activation_date, years FROM activations WHERE deployment_id=\$1 FOR UPDATE`).
		WithArgs(depID).
		WillReturnRows(pgxmock.NewRows([]string{"activation_date", "years"}).AddRow(activated, years))
}

func TestActivationRepo_Credit_FirstKey(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewActivationRepo(db)
	ctx := context.Background()
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	expectEnsureAndLock(mock, now, now, 0)
	mock.ExpectExec(`INSERT INTO activation_keys \(deployment_id, key_hash\) VALUES \(\$1, \$2\) ON CONFLICT \(deployment_id, key_hash\) DO NOTHING`).
		WithArgs(depID, "h1").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`UPDATE activations SET years = years \+ 1 WHERE deployment_id=\$1 RETURNING years`).
		WithArgs(depID).
		WillReturnRows(pgxmock.NewRows([]string{"years"}).AddRow(1))
	mock.ExpectQuery(`SELECT key_hash FROM activation_keys WHERE deployment_id=\$1 ORDER BY key_hash`).
		WithArgs(depID).
		WillReturnRows(pgxmock.NewRows([]string{"key_hash"}).AddRow("h1"))
	mock.ExpectCommit()

	rec, credited, err := r.Credit(ctx, depID, "h1", now)
	require.NoError(t, err)
	require.True(t, credited)
	require.Equal(t, 1, rec.Years)
	require.True(t, rec.ActivationDate.Equal(now))
	require.Equal(t, []string{"h1"}, rec.KeyHashes)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestActivationRepo_Credit_NewKeyAddsYear(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewActivationRepo(db)
	ctx := context.Background()
	activated := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	now := activated.AddDate(0, 3, 0)

	expectEnsureAndLock(mock, now, activated, 1)
	mock.ExpectExec(`INSERT INTO activation_keys`).
		WithArgs(depID, "h2").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`UPDATE activations SET years = years \+ 1`).
		WithArgs(depID).
		WillReturnRows(pgxmock.NewRows([]string{"years"}).AddRow(2))
	mock.ExpectQuery(`SELECT key_hash FROM activation_keys`).
		WithArgs(depID).
		WillReturnRows(pgxmock.NewRows([]string{"key_hash"}).AddRow("h1").AddRow("h2"))
	mock.ExpectCommit()

	rec, credited, err := r.Credit(ctx, depID, "h2", now)
	require.NoError(t, err)
	require.True(t, credited)
	require.Equal(t, 2, rec.Years)
	require.True(t, rec.ActivationDate.Equal(activated), "activation date must not move")
	require.Len(t, rec.KeyHashes, 2)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestActivationRepo_Credit_DuplicateIsNoop(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewActivationRepo(db)
	ctx := context.Background()
	activated := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	now := activated.AddDate(0, 0, 10)

	expectEnsureAndLock(mock, now, activated, 2)
	mock.ExpectExec(`INSERT INTO activation_keys`).
		WithArgs(depID, "h1").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery(`SELECT key_hash FROM activation_keys`).
		WithArgs(depID).
		WillReturnRows(pgxmock.NewRows([]string{"key_hash"}).AddRow("h1").AddRow("h2"))
	mock.ExpectCommit()

	rec, credited, err := r.Credit(ctx, depID, "h1", now)
	require.NoError(t, err)
	require.False(t, credited)
	require.Equal(t, 2, rec.Years)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestActivationRepo_Credit_RollbackOnError(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewActivationRepo(db)
	ctx := context.Background()
	now := time.Now().UTC()

	expectEnsureAndLock(mock, now, now, 0)
	mock.ExpectExec(`INSERT INTO activation_keys`).
		WithArgs(depID, "h1").
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, credited, err := r.Credit(ctx, depID, "h1", now)
	require.Error(t, err)
	require.False(t, credited)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestActivationRepo_Credit_BeginError(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewActivationRepo(db)

	mock.ExpectBegin().WillReturnError(errors.New("no conn"))
	_, _, err := r.Credit(context.Background(), depID, "h1", time.Now())
	require.Error(t, err)
}

func TestActivationRepo_Get(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewActivationRepo(db)
	ctx := context.Background()
	activated := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT activation_date, years FROM activations WHERE deployment_id=\$1 AND years > 0`).
		WithArgs(depID).
		WillReturnRows(pgxmock.NewRows([]string{"activation_date", "years"}).AddRow(activated, 3))
	mock.ExpectQuery(`SELECT key_hash FROM activation_keys WHERE deployment_id=\$1`).
		WithArgs(depID).
		WillReturnRows(pgxmock.NewRows([]string{"key_hash"}).AddRow("a").AddRow("b").AddRow("c"))

	rec, err := r.Get(ctx, depID)
	require.NoError(t, err)
	require.Equal(t, 3, rec.Years)
	require.Equal(t, depID, rec.DeploymentID)
	require.Equal(t, []string{"a", "b", "c"}, rec.KeyHashes)

	mock.ExpectQuery(`SELECT activation_date, years FROM activations`).
		WithArgs(depID).
		WillReturnError(pgx.ErrNoRows)
	_, err = r.Get(ctx, depID)
	require.ErrorIs(t, err, errs.ErrNotFound)

	mock.ExpectQuery(`SELECT activation_date, years FROM activations`).
		WithArgs(depID).
		WillReturnError(errors.New("conn reset"))
	_, err = r.Get(ctx, depID)
	require.Error(t, err)
	require.NotErrorIs(t, err, errs.ErrNotFound)
}
