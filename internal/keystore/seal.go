// Package keystore persists the client's license key sealed under the shared secret.
package keystore

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	pkgcrypto "github.com/and161185/keyledger/internal/crypto"
)

const (
	saltLen = 16
	keyLen  = chacha20poly1305.KeySize
)

var (
	magic    = []byte("KLK1")
	hkdfInfo = []byte("keyledger keystore")
)

// ErrCorrupt is returned when a sealed blob cannot be opened.
var ErrCorrupt = errors.New("keystore: corrupt or foreign data")

// deriveKey derives the sealing key from the secret and a per-file salt via HKDF-SHA256.
func deriveKey(secret, salt []byte) ([]byte, error) {
	r := hkdf.New(sha256.New, secret, salt, hkdfInfo)
	key := make([]byte, keyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Seal encrypts plaintext with XChaCha20-Poly1305.
// Layout: magic(4) | salt(16) | nonce(24) | ciphertext.
func Seal(secret, plaintext []byte) ([]byte, error) {
	salt, err := pkgcrypto.RandBytes(saltLen)
	if err != nil {
		return nil, err
	}
	key, err := deriveKey(secret, salt)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce, err := pkgcrypto.RandBytes(chacha20poly1305.NonceSizeX)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(magic)+saltLen+len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, magic...)
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, aead.Seal(nil, nonce, plaintext, magic)...)
	return out, nil
}

// Open reverses Seal.
func Open(secret, blob []byte) ([]byte, error) {
	head := len(magic) + saltLen + chacha20poly1305.NonceSizeX
	if len(blob) < head || !bytes.Equal(blob[:len(magic)], magic) {
		return nil, ErrCorrupt
	}
	salt := blob[len(magic) : len(magic)+saltLen]
	nonce := blob[len(magic)+saltLen : head]

	key, err := deriveKey(secret, salt)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	pt, err := aead.Open(nil, nonce, blob[head:], magic)
	if err != nil {
		return nil, ErrCorrupt
	}
	return pt, nil
}
