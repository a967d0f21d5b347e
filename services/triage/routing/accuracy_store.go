// Copyright (C) 2025 Harbor Desk (oss@harbordesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routing

// =============================================================================
// BadgerAccuracyStore — Accuracy Persistence
// =============================================================================
//
// Accuracy records are service infrastructure, not user data: a handful of
// per-department counters read on every cache check. An embedded BadgerDB
// keeps them across restarts with no network dependency — the same reasoning
// that keeps the routing feedback loop out of the vector store.
//
// Storage layout:
//
//	triage/acc/v1/{department}  →  gob-encoded AccuracyRecord

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"strings"

	dgbadger "github.com/dgraph-io/badger/v4"

	badgerstore "github.com/harbordesk/triage/services/triage/storage/badger"
)

// AccuracyKeyPrefix is prepended to the department name to form the BadgerDB
// key. Versioned (v1) to allow future format changes without collision.
// cmd/accuracy_dump declares the same constant and must stay in sync.
const AccuracyKeyPrefix = "triage/acc/v1/"

// BadgerAccuracyStore implements AccuracyStore backed by a BadgerDB
// instance. The DB is opened at startup by the caller, which owns its
// lifecycle — this store does not close it.
//
// # Thread Safety
//
// Safe for concurrent use. BadgerDB transactions are per-goroutine.
type BadgerAccuracyStore struct {
	db     *badgerstore.DB
	logger *slog.Logger
}

// NewBadgerAccuracyStore creates a store backed by the given DB.
//
// Inputs:
//
//   - db: Opened BadgerDB wrapper. Must not be nil.
//   - logger: Logger for diagnostics. May be nil.
func NewBadgerAccuracyStore(db *badgerstore.DB, logger *slog.Logger) *BadgerAccuracyStore {
	if db == nil {
		panic("NewBadgerAccuracyStore: db must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BadgerAccuracyStore{db: db, logger: logger}
}

// Load retrieves every persisted accuracy record.
//
// Outputs:
//
//   - map[string]AccuracyRecord: Department → record. Empty map when the
//     store has never been written.
//   - error: Non-nil on storage or decode failure.
//
// # Thread Safety
//
// Safe for concurrent use.
func (s *BadgerAccuracyStore) Load(ctx context.Context) (map[string]AccuracyRecord, error) {
	records := make(map[string]AccuracyRecord)

	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(AccuracyKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			department := strings.TrimPrefix(string(item.Key()), AccuracyKeyPrefix)

			raw, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("copy value for %q: %w", department, err)
			}
			var rec AccuracyRecord
			if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&rec); err != nil {
				return fmt.Errorf("decode record for %q: %w", department, err)
			}
			records[department] = rec
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("accuracy store load: %w", err)
	}

	s.logger.Debug("accuracy store: loaded",
		slog.Int("departments", len(records)),
	)
	return records, nil
}

// Save persists one accuracy record, overwriting any previous value.
//
// Outputs:
//
//   - error: Non-nil on encode or storage failure. The caller treats this
//     as non-fatal; the in-memory record remains authoritative.
//
// # Thread Safety
//
// Safe for concurrent use.
func (s *BadgerAccuracyStore) Save(ctx context.Context, rec AccuracyRecord) error {
	if rec.Department == "" {
		return fmt.Errorf("accuracy store save: empty department")
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return fmt.Errorf("accuracy store encode: %w", err)
	}

	key := []byte(AccuracyKeyPrefix + rec.Department)
	err := s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		return txn.Set(key, buf.Bytes())
	})
	if err != nil {
		return fmt.Errorf("accuracy store save: %w", err)
	}

	s.logger.Debug("accuracy store: saved",
		slog.String("department", rec.Department),
		slog.Int64("total", rec.Total),
	)
	return nil
}
