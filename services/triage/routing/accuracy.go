// Copyright (C) 2025 Harbor Desk (oss@harbordesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routing

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sort"
	"sync"
)

// DefaultAccuracy is assumed for departments with no recorded outcomes.
// An unseen department is neither trusted nor distrusted.
const DefaultAccuracy = 0.5

// accuracyShardCount spreads departments over independent locks so the
// feedback endpoint and concurrent cache checks do not serialize on one
// global mutex. Must be a power of two.
const accuracyShardCount = 16

// =============================================================================
// Accuracy Records
// =============================================================================

// AccuracyRecord is the per-department historical success rate.
//
// Invariant: Accuracy == float64(Correct)/float64(Total) whenever Total > 0.
// The record is recomputed on every update; it is never cached stale.
type AccuracyRecord struct {
	Department string  `json:"department"`
	Total      int64   `json:"total_observations"`
	Correct    int64   `json:"correct_observations"`
	Accuracy   float64 `json:"accuracy"`
}

// AccuracyStore persists accuracy records across restarts.
//
// Both methods are nil-safe at the call site: the AccuracyTracker checks for
// a nil store and operates in memory-only mode, which is the correct
// behavior for tests and deployments without a data directory.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type AccuracyStore interface {
	// Load returns all persisted records. An empty map is a valid result.
	Load(ctx context.Context) (map[string]AccuracyRecord, error)

	// Save persists one record. Errors are non-fatal: the caller logs a
	// warning and continues; the in-memory record remains authoritative.
	Save(ctx context.Context, rec AccuracyRecord) error
}

// =============================================================================
// AccuracyTracker
// =============================================================================

// AccuracyTracker is the mutable shared store of per-department routing
// accuracy, read on every cache check and written by outcome feedback.
//
// Description:
//
//	Records are sharded by department hash over accuracyShardCount
//	mutex-guarded buckets. Lock scope covers only the local bookkeeping;
//	persistence happens after the shard lock is released so a slow disk
//	can never stall concurrent routing requests.
//
//	The tracker is an explicit dependency injected into the router's
//	constructor — there is no package-level singleton, and tests create a
//	fresh instance per case.
//
// Thread Safety: Safe for concurrent readers and writers.
type AccuracyTracker struct {
	shards [accuracyShardCount]accuracyShard
	store  AccuracyStore
	logger *slog.Logger
}

type accuracyShard struct {
	mu      sync.RWMutex
	records map[string]AccuracyRecord
}

// NewAccuracyTracker creates a tracker, warm-loading persisted records.
//
// Inputs:
//
//	ctx - Context for the initial store load.
//	store - Persistence backend. May be nil (memory-only mode).
//	logger - Logger instance. May be nil.
//
// Outputs:
//
//	*AccuracyTracker - Ready-to-use tracker. Never nil. A failed load
//	logs a warning and starts empty rather than failing startup.
func NewAccuracyTracker(ctx context.Context, store AccuracyStore, logger *slog.Logger) *AccuracyTracker {
	if logger == nil {
		logger = slog.Default()
	}
	t := &AccuracyTracker{store: store, logger: logger}
	for i := range t.shards {
		t.shards[i].records = make(map[string]AccuracyRecord)
	}

	if store != nil {
		records, err := store.Load(ctx)
		if err != nil {
			logger.Warn("accuracy tracker: load failed, starting empty",
				slog.String("error", err.Error()),
			)
			return t
		}
		for dept, rec := range records {
			shard := t.shard(dept)
			shard.records[dept] = rec
		}
		if len(records) > 0 {
			logger.Info("accuracy tracker: records loaded",
				slog.Int("departments", len(records)),
			)
		}
	}
	return t
}

// shard returns the bucket responsible for the department.
func (t *AccuracyTracker) shard(department string) *accuracyShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(department))
	return &t.shards[h.Sum32()&(accuracyShardCount-1)]
}

// Accuracy returns the department's historical success rate, or
// DefaultAccuracy when the department has never been observed.
//
// Thread Safety: Safe for concurrent use.
func (t *AccuracyTracker) Accuracy(department string) float64 {
	shard := t.shard(department)
	shard.mu.RLock()
	rec, ok := shard.records[department]
	shard.mu.RUnlock()
	if !ok || rec.Total == 0 {
		return DefaultAccuracy
	}
	return rec.Accuracy
}

// RecordOutcome folds one routing outcome into the department's record.
//
// Description:
//
//	Increments the observation total, increments the correct count when
//	wasCorrect, and recomputes accuracy = correct/total. The updated
//	record is persisted write-through outside the shard lock; a store
//	failure is logged and does not affect the in-memory state.
//
// Outputs:
//
//	AccuracyRecord - A copy of the updated record.
//
// Thread Safety: Safe for concurrent use.
func (t *AccuracyTracker) RecordOutcome(ctx context.Context, department string, wasCorrect bool) AccuracyRecord {
	shard := t.shard(department)

	shard.mu.Lock()
	rec := shard.records[department]
	rec.Department = department
	rec.Total++
	if wasCorrect {
		rec.Correct++
	}
	rec.Accuracy = float64(rec.Correct) / float64(rec.Total)
	shard.records[department] = rec
	shard.mu.Unlock()

	if t.store != nil {
		if err := t.store.Save(ctx, rec); err != nil {
			t.logger.Warn("accuracy tracker: save failed",
				slog.String("department", department),
				slog.String("error", err.Error()),
			)
		}
	}
	return rec
}

// Snapshot returns a copy of every record, sorted by department.
//
// Thread Safety: Safe for concurrent use; the copy is independent of the
// live state.
func (t *AccuracyTracker) Snapshot() []AccuracyRecord {
	var out []AccuracyRecord
	for i := range t.shards {
		shard := &t.shards[i]
		shard.mu.RLock()
		for _, rec := range shard.records {
			out = append(out, rec)
		}
		shard.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Department < out[j].Department })
	return out
}
