package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/and161185/keyledger/internal/errs"
	"github.com/and161185/keyledger/internal/model"
)

// ActivationRepo implements ActivationRepository using PostgreSQL.
// The record row is locked with SELECT ... FOR UPDATE for the whole read-modify-write,
// so concurrent credits from several server processes serialize on the database.
type ActivationRepo struct{ db *DB }

// NewActivationRepo constructs an activation repository.
func NewActivationRepo(db *DB) *ActivationRepo { return &ActivationRepo{db: db} }

// Credit records keyHash for the deployment inside one transaction.
func (r *ActivationRepo) Credit(
	ctx context.Context, deploymentID, keyHash string, now time.Time,
) (rec model.ActivationRecord, credited bool, err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return model.ActivationRecord{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
		}
	}()

	const ensure = `INSERT INTO activations (deployment_id, activation_date, years) VALUES ($1, $2, 0) ON CONFLICT (deployment_id) DO NOTHING`
	const sel = `SELECT activation_date, years FROM activations WHERE deployment_id=$1 FOR UPDATE`
	const addKey = `INSERT INTO activation_keys (deployment_id, key_hash) VALUES ($1, $2) ON CONFLICT (deployment_id, key_hash) DO NOTHING`
	const bump = `UPDATE activations SET years = years + 1 WHERE deployment_id=$1 RETURNING years`

	if _, err = tx.Exec(ctx, ensure, deploymentID, now.UTC()); err != nil {
		return model.ActivationRecord{}, false, err
	}

	rec.DeploymentID = deploymentID
	if err = tx.QueryRow(ctx, sel, deploymentID).Scan(&rec.ActivationDate, &rec.Years); err != nil {
		return model.ActivationRecord{}, false, err
	}

	tag, err := tx.Exec(ctx, addKey, deploymentID, keyHash)
	if err != nil {
		return model.ActivationRecord{}, false, err
	}
	if tag.RowsAffected() == 1 {
		if err = tx.QueryRow(ctx, bump, deploymentID).Scan(&rec.Years); err != nil {
			return model.ActivationRecord{}, false, err
		}
		credited = true
	}

	if rec.KeyHashes, err = loadHashes(ctx, tx, deploymentID); err != nil {
		return model.ActivationRecord{}, false, err
	}
	return rec, credited, nil
}

// Get returns the activation record for the deployment.
func (r *ActivationRepo) Get(ctx context.Context, deploymentID string) (*model.ActivationRecord, error) {
	const q = `
SELECT activation_date, years
FROM activations WHERE deployment_id=$1 AND years > 0`
	rec := model.ActivationRecord{DeploymentID: deploymentID}
	if err := r.db.Pool.QueryRow(ctx, q, deploymentID).Scan(&rec.ActivationDate, &rec.Years); err != nil {
		if isNoRows(err) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	hashes, err := loadHashes(ctx, r.db.Pool, deploymentID)
	if err != nil {
		return nil, err
	}
	rec.KeyHashes = hashes
	return &rec, nil
}

func loadHashes(ctx context.Context, q querier, deploymentID string) ([]string, error) {
	const sel = `SELECT key_hash FROM activation_keys WHERE deployment_id=$1 ORDER BY key_hash`
	rows, err := q.Query(ctx, sel, deploymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var h string
		if err = rows.Scan(&h); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
