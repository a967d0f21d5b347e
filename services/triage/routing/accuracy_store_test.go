// Copyright (C) 2025 Harbor Desk (oss@harbordesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routing

import (
	"context"
	"testing"

	badgerstore "github.com/harbordesk/triage/services/triage/storage/badger"
)

func newTestStore(t *testing.T) *BadgerAccuracyStore {
	t.Helper()
	db, err := badgerstore.OpenDB(badgerstore.Config{InMemory: true})
	if err != nil {
		t.Fatalf("open in-memory badger: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewBadgerAccuracyStore(db, nil)
}

func TestBadgerAccuracyStore_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	want := AccuracyRecord{Department: "billing", Total: 20, Correct: 17, Accuracy: 0.85}
	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}

	records, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	got, ok := records["billing"]
	if !ok {
		t.Fatalf("load missing billing record, got %v", records)
	}
	if got != want {
		t.Errorf("record = %+v, want %+v", got, want)
	}
}

func TestBadgerAccuracyStore_LoadEmpty(t *testing.T) {
	store := newTestStore(t)

	records, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("records = %v, want empty", records)
	}
}

func TestBadgerAccuracyStore_Overwrite(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := AccuracyRecord{Department: "billing", Total: 1, Correct: 1, Accuracy: 1.0}
	second := AccuracyRecord{Department: "billing", Total: 2, Correct: 1, Accuracy: 0.5}
	if err := store.Save(ctx, first); err != nil {
		t.Fatalf("save first: %v", err)
	}
	if err := store.Save(ctx, second); err != nil {
		t.Fatalf("save second: %v", err)
	}

	records, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := records["billing"]; got != second {
		t.Errorf("record = %+v, want latest %+v", got, second)
	}
}

func TestBadgerAccuracyStore_RejectsEmptyDepartment(t *testing.T) {
	store := newTestStore(t)

	if err := store.Save(context.Background(), AccuracyRecord{}); err == nil {
		t.Error("expected error for empty department, got nil")
	}
}

func TestBadgerAccuracyStore_CancelledContext(t *testing.T) {
	store := newTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := store.Save(ctx, AccuracyRecord{Department: "billing", Total: 1}); err == nil {
		t.Error("expected error on cancelled context, got nil")
	}
	if _, err := store.Load(ctx); err == nil {
		t.Error("expected error on cancelled context, got nil")
	}
}

func TestBadgerAccuracyStore_TrackerIntegration(t *testing.T) {
	db, err := badgerstore.OpenDB(badgerstore.Config{InMemory: true})
	if err != nil {
		t.Fatalf("open in-memory badger: %v", err)
	}
	defer db.Close()
	store := NewBadgerAccuracyStore(db, nil)
	ctx := context.Background()

	tracker := NewAccuracyTracker(ctx, store, nil)
	tracker.RecordOutcome(ctx, "billing", true)
	tracker.RecordOutcome(ctx, "billing", true)
	tracker.RecordOutcome(ctx, "billing", false)

	// A second tracker over the same store sees the persisted counters.
	reloaded := NewAccuracyTracker(ctx, store, nil)
	if got := reloaded.Accuracy("billing"); got < 0.666 || got > 0.667 {
		t.Errorf("reloaded Accuracy(billing) = %v, want 2/3", got)
	}
}
