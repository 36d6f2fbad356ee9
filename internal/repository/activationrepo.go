// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"
	"time"

	"github.com/and161185/keyledger/internal/model"
)

// ActivationRepository stores one activation record per deployment.
type ActivationRepository interface {
	// Credit atomically records keyHash for the deployment. The first hash creates the
	// record with ActivationDate=now and Years=1; every new hash adds one year; a known
	// hash changes nothing. It returns the record after the update and whether the hash
	// was new. Concurrent calls for the same deployment must not lose updates.
	Credit(ctx context.Context, deploymentID, keyHash string, now time.Time) (rec model.ActivationRecord, credited bool, err error)

	// Get returns the record for the deployment or errs.ErrNotFound.
	Get(ctx context.Context, deploymentID string) (*model.ActivationRecord, error)
}
