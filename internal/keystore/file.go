package keystore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/and161185/keyledger/internal/errs"
)

// FileName is the store file inside the state directory.
const FileName = "license.key"

// File keeps one sealed license key in a file. Writes replace the file atomically.
type File struct {
	path   string
	secret []byte
}

// NewFile returns a store rooted at dir.
func NewFile(dir string, secret []byte) *File {
	return &File{path: filepath.Join(dir, FileName), secret: append([]byte(nil), secret...)}
}

// Path returns the store file location.
func (f *File) Path() string { return f.path }

// Load returns the stored key or errs.ErrNotFound.
func (f *File) Load() (string, error) {
	blob, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", errs.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read key store: %w", err)
	}
	pt, err := Open(f.secret, blob)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}

// Save seals key and replaces the store file.
func (f *File) Save(key string) error {
	blob, err := Seal(f.secret, []byte(key))
	if err != nil {
		return fmt.Errorf("seal key: %w", err)
	}
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, FileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("replace key store: %w", err)
	}
	return nil
}

// Clear removes the stored key. A missing file is not an error.
func (f *File) Clear() error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove key store: %w", err)
	}
	return nil
}
