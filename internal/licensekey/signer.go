package licensekey

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/and161185/keyledger/internal/crypto"
	"github.com/and161185/keyledger/internal/keycodec"
)

// Signer computes and checks key tags with a shared secret.
type Signer struct {
	secret []byte
	prim   crypto.Primitives
}

// NewSigner constructs a Signer. A nil p selects crypto.Default.
func NewSigner(secret []byte, p crypto.Primitives) *Signer {
	if p == nil {
		p = crypto.Default
	}
	return &Signer{secret: append([]byte(nil), secret...), prim: p}
}

// Primitives returns the hashing implementation used by s.
func (s *Signer) Primitives() crypto.Primitives { return s.prim }

// Tag returns the 5-byte tag over the signed prefix.
func (s *Signer) Tag(signed []byte) [TagLen]byte {
	var t [TagLen]byte
	copy(t[:], s.prim.HMACSHA256(s.secret, signed))
	return t
}

// VerifyPayload reports whether payload[10:15] is the tag of payload[0:10].
func (s *Signer) VerifyPayload(payload []byte) bool {
	if len(payload) != PayloadLen {
		return false
	}
	t := s.Tag(payload[:SignedLen])
	return crypto.Equal(t[:], payload[SignedLen:])
}

// checksumSymbol is the 25th key character for a given tag.
func checksumSymbol(tag []byte) byte {
	return keycodec.Symbol(tag[TagLen-1] >> 3)
}

// Verify runs the full local check on a human-entered key: length, alphabet and
// padding, checksum character, then the constant-time tag comparison.
// Failures are returned as *Error.
func (s *Signer) Verify(key string) (Entitlement, error) {
	raw := Normalize(key)
	if len(raw) != KeyLen {
		return Entitlement{}, &Error{Reason: ReasonLength}
	}
	payload, err := keycodec.Decode(raw[:KeyLen-1])
	if err != nil {
		return Entitlement{}, &Error{Reason: ReasonFormat, Err: err}
	}
	if len(payload) != PayloadLen {
		return Entitlement{}, &Error{Reason: ReasonFormat}
	}
	if !keycodec.IsSymbol(raw[KeyLen-1]) {
		return Entitlement{}, &Error{Reason: ReasonFormat, Err: keycodec.ErrInvalidCharacter}
	}
	if checksumSymbol(payload[SignedLen:]) != raw[KeyLen-1] {
		return Entitlement{}, &Error{Reason: ReasonChecksum}
	}
	if !s.VerifyPayload(payload) {
		return Entitlement{}, &Error{Reason: ReasonSignature}
	}
	return Interpret(payload), nil
}

// Claims are the inputs for issuing a key.
type Claims struct {
	Cores     int
	LicenseID uint16
	IssuedAt  time.Time
	Reserved  [4]byte
}

// Issue builds and signs a key for c, formatted in groups of five.
func (s *Signer) Issue(c Claims) (string, error) {
	if c.Cores < 1 || c.Cores > MaxCores {
		return "", fmt.Errorf("cores %d out of range [1, %d]", c.Cores, MaxCores)
	}
	day := c.IssuedAt.UTC().Sub(Epoch) / (24 * time.Hour)
	if c.IssuedAt.Before(Epoch) || day > 0xffff {
		return "", fmt.Errorf("issue date %s outside encodable range", c.IssuedAt.Format(time.DateOnly))
	}

	payload := make([]byte, PayloadLen)
	binary.BigEndian.PutUint16(payload[0:2], uint16(c.Cores-1))
	binary.BigEndian.PutUint16(payload[2:4], uint16(day))
	binary.BigEndian.PutUint16(payload[4:6], c.LicenseID)
	copy(payload[6:10], c.Reserved[:])
	t := s.Tag(payload[:SignedLen])
	copy(payload[SignedLen:], t[:])

	raw := keycodec.Encode(payload) + string(checksumSymbol(t[:]))
	return Format(raw), nil
}
