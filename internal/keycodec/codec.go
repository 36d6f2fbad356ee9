// Package keycodec encodes and decodes license key bytes using the Crockford base-32 alphabet.
package keycodec

import (
	"errors"
	"fmt"
	"strings"
)

// Alphabet is the 32-symbol key alphabet (no I, L, O, U).
const Alphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

var (
	// ErrInvalidCharacter indicates a symbol outside Alphabet.
	ErrInvalidCharacter = errors.New("invalid character")
	// ErrUnalignedPadding indicates non-zero leftover bits after the last full byte.
	ErrUnalignedPadding = errors.New("unaligned padding")
)

var decodeMap [256]int8

func init() {
	for i := range decodeMap {
		decodeMap[i] = -1
	}
	for i := 0; i < len(Alphabet); i++ {
		c := Alphabet[i]
		decodeMap[c] = int8(i)
		if c >= 'A' && c <= 'Z' {
			decodeMap[c+'a'-'A'] = int8(i)
		}
	}
}

// EncodedLen returns the number of symbols Encode emits for n bytes.
func EncodedLen(n int) int { return (n*8 + 4) / 5 }

// Encode renders b as base-32 symbols. A trailing partial group is zero-padded on the right.
func Encode(b []byte) string {
	var sb strings.Builder
	sb.Grow(EncodedLen(len(b)))

	var acc uint32
	bits := 0
	for _, x := range b {
		acc = acc<<8 | uint32(x)
		bits += 8
		for bits >= 5 {
			bits -= 5
			sb.WriteByte(Alphabet[(acc>>uint(bits))&0x1f])
		}
		acc &= 1<<uint(bits) - 1
	}
	if bits > 0 {
		sb.WriteByte(Alphabet[(acc<<uint(5-bits))&0x1f])
	}
	return sb.String()
}

// Decode parses base-32 symbols into bytes. Lowercase letters are accepted.
// Leftover bits that do not fill a byte must be zero.
func Decode(s string) ([]byte, error) {
	out := make([]byte, 0, len(s)*5/8)

	var acc uint32
	bits := 0
	for i := 0; i < len(s); i++ {
		v := decodeMap[s[i]]
		if v < 0 {
			return nil, fmt.Errorf("position %d: %w", i, ErrInvalidCharacter)
		}
		acc = acc<<5 | uint32(v)
		bits += 5
		if bits >= 8 {
			bits -= 8
			out = append(out, byte(acc>>uint(bits)))
			acc &= 1<<uint(bits) - 1
		}
	}
	if bits > 0 && acc != 0 {
		return nil, ErrUnalignedPadding
	}
	return out, nil
}

// Symbol returns the alphabet symbol for a 5-bit index.
func Symbol(idx byte) byte { return Alphabet[idx&0x1f] }

// IsSymbol reports whether c belongs to Alphabet (either case).
func IsSymbol(c byte) bool { return decodeMap[c] >= 0 }
