package client

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/and161185/keyledger/internal/errs"
	"github.com/and161185/keyledger/internal/licensekey"
	"github.com/and161185/keyledger/internal/model"
)

// Session messages.
const (
	MsgKeyShape    = "Key must be 25 alphanumeric characters"
	MsgKeyInUse    = "This license key is already active. Enter a different key to extend."
	MsgKeyNotSaved = "License key could not be saved on this machine"
)

// KeyStore persists the single accepted license key.
type KeyStore interface {
	Load() (string, error)
	Save(key string) error
	Clear() error
}

// Session holds the stored key and the latest validation result of one client.
type Session struct {
	mu    sync.Mutex
	v     *Validator
	store KeyStore
	log   *zap.Logger

	key         string
	info        model.LicenseInfo
	initialized bool
}

// NewSession loads the stored key. An unreadable store is treated as empty.
func NewSession(v *Validator, store KeyStore, log *zap.Logger) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Session{v: v, store: store, log: log}
	key, err := store.Load()
	switch {
	case err == nil:
		s.key = key
	case !errors.Is(err, errs.ErrNotFound):
		log.Warn("stored license key unreadable", zap.Error(err))
	}
	return s
}

// Initialize restores state from the server without a key.
func (s *Session) Initialize(ctx context.Context) model.LicenseInfo {
	actual, warning := s.v.Cores(ctx)
	info := s.v.checkStatus(ctx, actual, warning)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.info = info
	s.initialized = true
	return s.info
}

// Initialized reports whether Initialize has run.
func (s *Session) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// cleanKey keeps ASCII letters and digits, upper-cased.
func cleanKey(raw string) string {
	var b strings.Builder
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch {
		case c >= '0' && c <= '9', c >= 'A' && c <= 'Z':
			b.WriteByte(c)
		case c >= 'a' && c <= 'z':
			b.WriteByte(c - 'a' + 'A')
		}
	}
	return b.String()
}

// SetKey validates a newly entered key and stores it when the result is valid.
func (s *Session) SetKey(ctx context.Context, raw string) model.LicenseInfo {
	clean := cleanKey(raw)
	if len(clean) != licensekey.KeyLen {
		return s.reject(MsgKeyShape)
	}
	if clean == s.storedKey() {
		return s.reject(MsgKeyInUse)
	}

	info := s.v.ValidateKey(ctx, clean)

	s.mu.Lock()
	defer s.mu.Unlock()
	if info.IsValid {
		if err := s.store.Save(clean); err != nil {
			s.log.Error("save license key", zap.Error(err))
			info.Warning = joinWarnings(info.Warning, MsgKeyNotSaved)
		}
		s.key = clean
	} else {
		if err := s.store.Clear(); err != nil {
			s.log.Warn("clear license key", zap.Error(err))
		}
		s.key = ""
	}
	s.info = info
	return s.info
}

// reject marks the current result invalid with msg and leaves the stored key alone.
func (s *Session) reject(msg string) model.LicenseInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.info.IsValid = false
	s.info.Error = msg
	return s.info
}

func (s *Session) storedKey() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.key
}

// ValidateCurrent revalidates the stored key. Without one it keeps a valid server-status
// result and otherwise resets to the default result.
func (s *Session) ValidateCurrent(ctx context.Context) model.LicenseInfo {
	key := s.storedKey()
	if key == "" {
		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.info.IsValid {
			s.info = model.LicenseInfo{ActualCores: s.info.ActualCores, Warning: s.info.Warning}
		}
		return s.info
	}

	actual, warning := s.v.Cores(ctx)
	info := s.v.validate(ctx, key, actual, warning, true)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.info = info
	return s.info
}

// Clear forgets the stored key and resets the result, keeping the core count.
func (s *Session) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.store.Clear()
	s.key = ""
	s.info = model.LicenseInfo{ActualCores: s.info.ActualCores}
	return err
}

// Info returns the latest result.
func (s *Session) Info() model.LicenseInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// HasKey reports whether a key is stored.
func (s *Session) HasKey() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.key != ""
}

// IsPro reports whether the latest result unlocks the professional tier.
func (s *Session) IsPro() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info.IsValid && s.info.IsPro && !s.info.Expired()
}
