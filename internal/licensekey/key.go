// Package licensekey implements the 25-character license key: payload layout,
// the truncated HMAC tag, the checksum character and entitlement decoding.
//
// Layout of the 15-byte payload (all integers big-endian):
//
//	[0:2)   cores - 1
//	[2:4)   issue day since 2020-01-01 UTC
//	[4:6)   license id
//	[6:10)  reserved, signed but not interpreted
//	[10:15) first 5 bytes of HMAC-SHA256(secret, payload[0:10])
//
// The key text is Encode(payload) (24 symbols) followed by a checksum symbol
// holding the top five bits of the last tag byte.
package licensekey

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/and161185/keyledger/internal/crypto"
)

// Sizes of the key and its parts.
const (
	KeyLen     = 25
	PayloadLen = 15
	SignedLen  = 10
	TagLen     = 5
	groupLen   = 5
)

// MaxCores is the largest encodable core entitlement.
const MaxCores = 1 << 16

// Epoch is day zero of the issue-day field.
var Epoch = time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)

// Entitlement is the authenticated content of a key.
type Entitlement struct {
	MaxCores  int
	LicenseID string
	IssuedAt  time.Time
	Reserved  [4]byte
}

// Normalize strips hyphens and whitespace and upper-cases the key.
func Normalize(key string) string {
	return strings.Map(func(r rune) rune {
		if r == '-' || unicode.IsSpace(r) {
			return -1
		}
		return unicode.ToUpper(r)
	}, key)
}

// Format renders a key as hyphen-separated groups of five.
func Format(key string) string {
	raw := Normalize(key)
	var sb strings.Builder
	for i := 0; i < len(raw); i++ {
		if i > 0 && i%groupLen == 0 {
			sb.WriteByte('-')
		}
		sb.WriteByte(raw[i])
	}
	return sb.String()
}

// Hash returns the hex SHA-256 of the normalized key. It is the only form of a key
// that may be stored or logged.
func Hash(p crypto.Primitives, key string) string {
	return crypto.HexSHA256(p, []byte(Normalize(key)))
}

// Interpret decodes entitlement fields from an already verified payload.
func Interpret(payload []byte) Entitlement {
	var e Entitlement
	e.MaxCores = int(binary.BigEndian.Uint16(payload[0:2])) + 1
	days := binary.BigEndian.Uint16(payload[2:4])
	e.IssuedAt = Epoch.Add(time.Duration(days) * 24 * time.Hour)
	e.LicenseID = fmt.Sprintf("%03d", binary.BigEndian.Uint16(payload[4:6]))
	copy(e.Reserved[:], payload[6:10])
	return e
}
