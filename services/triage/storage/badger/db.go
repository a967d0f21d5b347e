// Copyright (C) 2025 Harbor Desk (oss@harbordesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package badger wraps a BadgerDB instance behind context-aware transaction
// helpers. The wrapper exists so call sites never forget the cancellation
// check and never take a transaction across an external call.
package badger

import (
	"fmt"

	"context"

	dgbadger "github.com/dgraph-io/badger/v4"
)

// Config controls how the database is opened.
type Config struct {
	// Path is the on-disk directory. Ignored when InMemory is set.
	Path string

	// InMemory opens a throwaway in-memory instance (tests).
	InMemory bool
}

// DefaultConfig returns a Config suitable for production use once Path is
// filled in.
func DefaultConfig() Config {
	return Config{}
}

// DB wraps an open BadgerDB instance.
//
// # Thread Safety
//
// Safe for concurrent use. BadgerDB transactions are per-goroutine.
type DB struct {
	db *dgbadger.DB
}

// OpenDB opens (or creates) the database described by cfg.
//
// BadgerDB's internal logger is suppressed; the caller's slog output is the
// single source of operational logs.
func OpenDB(cfg Config) (*DB, error) {
	var opts dgbadger.Options
	if cfg.InMemory {
		opts = dgbadger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, fmt.Errorf("badger: config path must not be empty")
		}
		opts = dgbadger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithLogger(nil)

	db, err := dgbadger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open %q: %w", cfg.Path, err)
	}
	return &DB{db: db}, nil
}

// WithTxn runs fn inside a read-write transaction.
//
// The context is checked before the transaction starts; BadgerDB itself
// does not accept a context, so in-flight transactions run to completion.
func (d *DB) WithTxn(ctx context.Context, fn func(txn *dgbadger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.db.Update(fn)
}

// WithReadTxn runs fn inside a read-only transaction.
func (d *DB) WithReadTxn(ctx context.Context, fn func(txn *dgbadger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.db.View(fn)
}

// Close releases the underlying database.
func (d *DB) Close() error {
	return d.db.Close()
}
