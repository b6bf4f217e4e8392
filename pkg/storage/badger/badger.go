// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger wraps BadgerDB for the embedded stores used on both ends
// of the alert link:
//
//   - the tower's alert repository (one key per event_id)
//   - the sentinel's preference store (exception config, last network)
//   - the sentinel's sealed credential vault
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// ErrClosed is returned by operations on a closed DB.
var ErrClosed = errors.New("badger database is closed")

// DefaultConflictRetries bounds how often Update re-runs a transaction
// that lost a commit race.
const DefaultConflictRetries = 8

// Config holds configuration for a BadgerDB instance.
type Config struct {
	// Path is the directory for database files. Ignored when InMemory.
	Path string

	// InMemory keeps everything in RAM. Used by tests.
	InMemory bool

	// SyncWrites fsyncs every commit. Alerts are safety relevant, so the
	// default is on.
	SyncWrites bool

	// Logger receives BadgerDB's internal logs. Nil silences them.
	Logger *slog.Logger

	// GCInterval is how often RunGC triggers value log GC. Zero disables.
	GCInterval time.Duration

	// GCDiscardRatio is the garbage fraction that makes a GC pass worthwhile.
	GCDiscardRatio float64
}

// DefaultConfig returns production defaults for a database at path.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     10 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns a test configuration with no disk I/O.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog.Logger to badger.Logger.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...), "component", "badger")
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...), "component", "badger")
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...), "component", "badger")
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...), "component", "badger")
}

// DB is an open BadgerDB with the transaction helpers the stores need.
//
// # Thread Safety
//
// Safe for concurrent use. Transactions are serializable: a read-write
// transaction that read a key another transaction committed in the
// meantime fails with badger.ErrConflict, which Update retries.
type DB struct {
	db       *badger.DB
	cfg      Config
	logger   *slog.Logger
	retries  int
	inMemory bool
}

// Open opens (creating if needed) the database described by cfg.
//
// # Inputs
//
//   - cfg: Path is required unless InMemory is set.
//
// # Outputs
//
//   - *DB: Caller must Close it.
//   - error: Non-nil if the directory or database cannot be opened.
func Open(cfg Config) (*DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0700); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &DB{
		db:       db,
		cfg:      cfg,
		logger:   cfg.Logger,
		retries:  DefaultConflictRetries,
		inMemory: cfg.InMemory,
	}, nil
}

// OpenInMemory opens an in-memory database for tests.
func OpenInMemory() (*DB, error) {
	return Open(InMemoryConfig())
}

// Close closes the database. Calling it twice is harmless.
func (d *DB) Close() error {
	if d.db.IsClosed() {
		return nil
	}
	return d.db.Close()
}

// IsClosed reports whether Close has been called.
func (d *DB) IsClosed() bool {
	return d.db.IsClosed()
}

// Path returns the database directory, or "" for in-memory databases.
func (d *DB) Path() string {
	if d.inMemory {
		return ""
	}
	return d.cfg.Path
}

// Badger exposes the underlying handle for callers that need iterators.
func (d *DB) Badger() *badger.DB {
	return d.db
}

// Update runs fn in a read-write transaction and commits it.
//
// When the commit loses a serializability race (badger.ErrConflict), fn
// runs again in a fresh transaction, up to DefaultConflictRetries times.
// fn must therefore be free of side effects outside txn. A losing
// compare-and-insert observes the winner's key on its retry.
func (d *DB) Update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if d.db.IsClosed() {
		return ErrClosed
	}
	var err error
	for attempt := 0; attempt <= d.retries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("context cancelled: %w", ctxErr)
		}
		err = d.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("transaction conflict after %d retries: %w", d.retries, err)
}

// View runs fn in a read-only transaction.
func (d *DB) View(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if d.db.IsClosed() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	return d.db.View(fn)
}

// Get returns a copy of the value at key. found is false when the key
// does not exist.
func (d *DB) Get(ctx context.Context, key []byte) (value []byte, found bool, err error) {
	err = d.View(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		value, err = item.ValueCopy(nil)
		return err
	})
	return value, found, err
}

// Set writes value at key.
func (d *DB) Set(ctx context.Context, key, value []byte) error {
	return d.Update(ctx, func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

// Delete removes key. Deleting a missing key is not an error.
func (d *DB) Delete(ctx context.Context, key []byte) error {
	return d.Update(ctx, func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

// RunGC triggers value log garbage collection every cfg.GCInterval until
// ctx is done. It returns nil on cancellation so it can run inside an
// errgroup next to the HTTP server.
func (d *DB) RunGC(ctx context.Context) error {
	if d.inMemory || d.cfg.GCInterval <= 0 {
		<-ctx.Done()
		return nil
	}
	ratio := d.cfg.GCDiscardRatio
	if ratio <= 0 || ratio >= 1 {
		ratio = 0.5
	}

	ticker := time.NewTicker(d.cfg.GCInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.gcOnce(ratio)
		}
	}
}

func (d *DB) gcOnce(ratio float64) {
	// Repeat while a file was rewritten, per badger's recommendation.
	for {
		err := d.db.RunValueLogGC(ratio)
		if err == nil {
			continue
		}
		if !errors.Is(err, badger.ErrNoRewrite) && !errors.Is(err, badger.ErrRejected) && d.logger != nil {
			d.logger.Warn("badger value log GC error", slog.String("error", err.Error()))
		}
		return
	}
}
