// Package model defines domain entities used by services, repositories and the client.
package model

import "time"

// ActivationRecord is the accumulated activation state of one deployment.
// Years equals the number of distinct key hashes credited.
type ActivationRecord struct {
	DeploymentID   string
	ActivationDate time.Time // fixed at the first accepted key
	Years          int       // >= 1 once the record exists
	KeyHashes      []string  // hex SHA-256 of normalized keys, set semantics
}

// Activation is the result of submitting a key to the ledger.
type Activation struct {
	ActivationDate time.Time
	Years          int
	AlreadyActive  bool // the key hash had been credited before
}

// ActivationStatus is the tagged result of a status query. Found is false when no key
// has ever been accepted for the deployment.
type ActivationStatus struct {
	Found          bool
	ActivationDate time.Time
	Years          int
}

// CPUInfo describes the host processor as reported by the core probe.
type CPUInfo struct {
	Cores int
	Model string
}

// LicenseInfo is the single result record of a client-side validation attempt.
// Optional fields are nil when the attempt did not reach the corresponding stage.
type LicenseInfo struct {
	IsValid        bool       `json:"isValid"`
	IsPro          bool       `json:"isPro"`
	MaxCores       int        `json:"maxCores"`
	ActualCores    int        `json:"actualCores"`
	LicenseID      string     `json:"licenseId,omitempty"`
	ActivationDate *time.Time `json:"activationDate,omitempty"`
	ExpirationDate *time.Time `json:"expirationDate,omitempty"`
	DaysRemaining  *int       `json:"daysRemaining,omitempty"`
	IsExpired      *bool      `json:"isExpired,omitempty"`
	Error          string     `json:"error,omitempty"`
	Warning        string     `json:"warning,omitempty"`
}

// Expired reports whether the result carries a positive expiry flag.
func (i LicenseInfo) Expired() bool { return i.IsExpired != nil && *i.IsExpired }
