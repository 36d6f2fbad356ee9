// Package crypto provides the hashing primitives shared by key verification and the ledger.
package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// Primitives is the capability set the license code needs. Callers receive it by injection
// so that client and server use the same implementation.
type Primitives interface {
	// HMACSHA256 returns the full 32-byte HMAC-SHA256 of data keyed by key.
	HMACSHA256(key, data []byte) []byte
	// SHA256 returns the SHA-256 digest of data.
	SHA256(data []byte) [sha256.Size]byte
}

// Std implements Primitives with the Go standard library.
type Std struct{}

var _ Primitives = Std{}

// HMACSHA256 implements Primitives.
func (Std) HMACSHA256(key, data []byte) []byte {
	m := hmac.New(sha256.New, key)
	m.Write(data)
	return m.Sum(nil)
}

// SHA256 implements Primitives.
func (Std) SHA256(data []byte) [sha256.Size]byte { return sha256.Sum256(data) }

// Default is the process-wide implementation.
var Default Primitives = Std{}

// Equal compares two byte slices in constant time.
func Equal(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// HexSHA256 returns the lowercase hex SHA-256 digest of data using p.
func HexSHA256(p Primitives, data []byte) string {
	sum := p.SHA256(data)
	return hex.EncodeToString(sum[:])
}

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}
