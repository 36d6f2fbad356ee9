// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service/transport layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict indicates a concurrent update won the race; the caller may retry.
	ErrVersionConflict = errors.New("version conflict")

	// ErrInvalidKey indicates a license key that failed server-side verification.
	ErrInvalidKey = errors.New("invalid license key")

	// ErrRateLimited indicates a temporary block after repeated failed activations.
	ErrRateLimited = errors.New("rate limited")
)
