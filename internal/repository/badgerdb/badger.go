// Package badgerdb implements the activation ledger on an embedded BadgerDB.
//
// Records are stored as JSON under "activation/<deployment id>" with the layout
//
//	{"activationDate": RFC 3339, "years": int, "hashes": [hex sha-256, ...]}
//
// Updates run in optimistic transactions; a conflicting concurrent commit is retried
// so no credit is lost.
package badgerdb

import (
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// Config holds configuration for a BadgerDB instance.
type Config struct {
	// Path is the directory for database files. Ignored when InMemory is true.
	Path string
	// InMemory disables persistence. Used by tests.
	InMemory bool
	// SyncWrites fsyncs every commit before it returns.
	SyncWrites bool
	// Logger receives BadgerDB's internal log lines. Nil silences them.
	Logger *zap.Logger
}

// DefaultConfig returns a durable configuration rooted at path.
func DefaultConfig(path string) Config {
	return Config{Path: path, SyncWrites: true}
}

// InMemoryConfig returns a configuration for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// zapLogger adapts zap to BadgerDB's Logger interface.
type zapLogger struct{ s *zap.SugaredLogger }

func (l zapLogger) Errorf(f string, a ...interface{})   { l.s.Errorf(f, a...) }
func (l zapLogger) Warningf(f string, a ...interface{}) { l.s.Warnf(f, a...) }
func (l zapLogger) Infof(f string, a ...interface{})    { l.s.Infof(f, a...) }
func (l zapLogger) Debugf(f string, a ...interface{})   { l.s.Debugf(f, a...) }

// Open opens (creating if needed) a BadgerDB. The caller must Close it.
func Open(cfg Config) (*badger.DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o700); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(zapLogger{s: cfg.Logger.Named("badger").Sugar()})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return db, nil
}
