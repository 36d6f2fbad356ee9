package licensekey

import "fmt"

// Reason classifies why a key failed local verification.
type Reason string

// Failure reasons, ordered by the stage that detects them.
const (
	ReasonLength    Reason = "length"
	ReasonFormat    Reason = "format"
	ReasonChecksum  Reason = "checksum"
	ReasonSignature Reason = "signature"
)

var reasonMessages = map[Reason]string{
	ReasonLength:    "License key must be exactly 25 characters",
	ReasonFormat:    "Invalid license key format",
	ReasonChecksum:  "License key is invalid or corrupted",
	ReasonSignature: "License key is not authentic",
}

// Message returns the user-facing text for r.
func (r Reason) Message() string {
	if m, ok := reasonMessages[r]; ok {
		return m
	}
	return "Invalid license key"
}

// Error is returned by Signer.Verify for any key that is not authentic and well-formed.
type Error struct {
	Reason Reason
	Err    error // codec error for ReasonFormat, nil otherwise
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("license key %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("license key %s mismatch", e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }
