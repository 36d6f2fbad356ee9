package badgerdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/and161185/keyledger/internal/errs"
	"github.com/and161185/keyledger/internal/model"
)

const keyPrefix = "activation/"

// defaultMaxRetries bounds conflict retries of one Credit call.
const defaultMaxRetries = 64

// storedRecord is the persisted layout of one activation record.
type storedRecord struct {
	ActivationDate time.Time `json:"activationDate"`
	Years          int       `json:"years"`
	Hashes         []string  `json:"hashes"`
}

// ActivationRepo implements ActivationRepository on BadgerDB.
type ActivationRepo struct {
	db         *badger.DB
	maxRetries int
}

// NewActivationRepo constructs a repository over an open database.
func NewActivationRepo(db *badger.DB) *ActivationRepo {
	return &ActivationRepo{db: db, maxRetries: defaultMaxRetries}
}

func recordKey(deploymentID string) []byte { return []byte(keyPrefix + deploymentID) }

func toModel(deploymentID string, s storedRecord) model.ActivationRecord {
	return model.ActivationRecord{
		DeploymentID:   deploymentID,
		ActivationDate: s.ActivationDate,
		Years:          s.Years,
		KeyHashes:      append([]string(nil), s.Hashes...),
	}
}

func readRecord(txn *badger.Txn, deploymentID string) (*storedRecord, error) {
	item, err := txn.Get(recordKey(deploymentID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var s storedRecord
	if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &s) }); err != nil {
		return nil, fmt.Errorf("decode activation record: %w", err)
	}
	return &s, nil
}

// Credit records keyHash in an optimistic transaction, retrying on commit conflicts.
func (r *ActivationRepo) Credit(
	ctx context.Context, deploymentID, keyHash string, now time.Time,
) (model.ActivationRecord, bool, error) {
	for attempt := 0; attempt < r.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return model.ActivationRecord{}, false, err
		}

		var (
			out      storedRecord
			credited bool
		)
		err := r.db.Update(func(txn *badger.Txn) error {
			cur, err := readRecord(txn, deploymentID)
			switch {
			case errors.Is(err, errs.ErrNotFound):
				cur = &storedRecord{ActivationDate: now.UTC(), Years: 1, Hashes: []string{keyHash}}
				credited = true
			case err != nil:
				return err
			case !contains(cur.Hashes, keyHash):
				cur.Hashes = append(cur.Hashes, keyHash)
				cur.Years++
				credited = true
			}
			out = *cur
			if !credited {
				return nil
			}
			b, err := json.Marshal(cur)
			if err != nil {
				return err
			}
			return txn.Set(recordKey(deploymentID), b)
		})
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		if err != nil {
			return model.ActivationRecord{}, false, err
		}
		return toModel(deploymentID, out), credited, nil
	}
	return model.ActivationRecord{}, false, fmt.Errorf("credit %s: %w", deploymentID, errs.ErrVersionConflict)
}

// Get returns the record for the deployment or errs.ErrNotFound.
func (r *ActivationRepo) Get(_ context.Context, deploymentID string) (*model.ActivationRecord, error) {
	var out model.ActivationRecord
	err := r.db.View(func(txn *badger.Txn) error {
		s, err := readRecord(txn, deploymentID)
		if err != nil {
			return err
		}
		out = toModel(deploymentID, *s)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
