// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger opens the embedded key-value store tidy keeps its caches in.
//
// The store holds derived data only (blame maps keyed by file digest), so
// everything in it can be dropped at any time. Entries carry a TTL and the
// value log is garbage collected in the background for on-disk databases.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// ErrNotFound is returned by Get when a key is absent or expired.
var ErrNotFound = errors.New("key not found")

// Config holds configuration for a cache database.
type Config struct {
	// Path is the directory for database files. Ignored when InMemory is true.
	Path string

	// InMemory keeps everything in RAM. Used by tests and when no cache
	// directory is configured.
	InMemory bool

	// Logger receives BadgerDB's internal log lines. Nil disables them.
	Logger *slog.Logger

	// GCInterval is how often value log GC runs. Zero disables it.
	GCInterval time.Duration

	// GCDiscardRatio is the garbage ratio that triggers a value log rewrite.
	GCDiscardRatio float64
}

// DefaultConfig returns an on-disk configuration rooted at path.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		GCInterval:     10 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns a configuration with no disk persistence.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// slogAdapter forwards BadgerDB's printf-style log lines to slog. Badger's
// info chatter is demoted to debug.
type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) log(level slog.Level, format string, args []any) {
	a.logger.Log(context.Background(), level, strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (a *slogAdapter) Errorf(format string, args ...any)   { a.log(slog.LevelError, format, args) }
func (a *slogAdapter) Warningf(format string, args ...any) { a.log(slog.LevelWarn, format, args) }
func (a *slogAdapter) Infof(format string, args ...any)    { a.log(slog.LevelDebug, format, args) }
func (a *slogAdapter) Debugf(format string, args ...any)   { a.log(slog.LevelDebug, format, args) }

// DB is a cache database with background value log GC.
//
// Thread Safety: Safe for concurrent use.
type DB struct {
	db       *badger.DB
	inMemory bool
	stopGC   chan struct{}
	gcDone   chan struct{}
	logger   *slog.Logger
}

// Open opens the database described by cfg.
//
// Description:
//
//	Creates the directory for on-disk databases and starts value log GC
//	when GCInterval is set. Writes are not synced: the contents are a
//	cache and losing the tail on a crash is harmless.
//
// Inputs:
//
//	cfg - Database configuration. Path is required unless InMemory is true.
//
// Outputs:
//
//	*DB - The opened database. Caller must call Close when done.
//	error - Non-nil if the path is invalid or the database cannot be opened.
func Open(cfg Config) (*DB, error) {
	opts := badger.DefaultOptions(cfg.Path)
	switch {
	case cfg.InMemory:
		opts = badger.DefaultOptions("").WithInMemory(true)
	case cfg.Path == "":
		return nil, errors.New("cache directory not set")
	default:
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("creating cache directory %s: %w", cfg.Path, err)
		}
	}
	opts = opts.WithSyncWrites(false).WithNumVersionsToKeep(1)

	logger := slog.Default()
	if cfg.Logger == nil {
		opts = opts.WithLogger(nil)
	} else {
		logger = cfg.Logger
		opts = opts.WithLogger(&slogAdapter{logger: cfg.Logger})
	}

	bdb, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening cache at %q: %w", cfg.Path, err)
	}

	d := &DB{
		db:       bdb,
		inMemory: cfg.InMemory,
		logger:   logger.With(slog.String("component", "cache_db")),
	}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		d.stopGC = make(chan struct{})
		d.gcDone = make(chan struct{})
		go d.runGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}
	return d, nil
}

// OpenInMemory opens an in-memory database.
func OpenInMemory() (*DB, error) {
	return Open(InMemoryConfig())
}

// Close stops GC and closes the database.
func (d *DB) Close() error {
	if d.stopGC != nil {
		close(d.stopGC)
		<-d.gcDone
		d.stopGC = nil
	}
	return d.db.Close()
}

// InMemory reports whether the database lives only in RAM.
func (d *DB) InMemory() bool {
	return d.inMemory
}

// Put stores value under key. A positive ttl expires the entry.
func (d *DB) Put(ctx context.Context, key, value []byte, ttl time.Duration) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return d.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(key, value)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
}

// Get returns a copy of the value stored under key, or ErrNotFound.
func (d *DB) Get(ctx context.Context, key []byte) ([]byte, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	var value []byte
	err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	return value, err
}

// DropPrefix deletes every key that starts with prefix.
func (d *DB) DropPrefix(prefix []byte) error {
	return d.db.DropPrefix(prefix)
}

func (d *DB) runGC(interval time.Duration, ratio float64) {
	defer close(d.gcDone)

	tick := time.NewTicker(interval)
	defer tick.Stop()

	for {
		select {
		case <-d.stopGC:
			return
		case <-tick.C:
			// ErrNoRewrite means nothing was worth collecting.
			err := d.db.RunValueLogGC(ratio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				d.logger.Warn("badger value log GC error", slog.String("error", err.Error()))
			}
		}
	}
}
