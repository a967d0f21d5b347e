// Copyright (C) 2025 Harbor Desk (oss@harbordesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package badger

import (
	"context"
	"testing"

	dgbadger "github.com/dgraph-io/badger/v4"
)

func TestOpenDB_RequiresPath(t *testing.T) {
	if _, err := OpenDB(Config{}); err == nil {
		t.Error("expected error for empty path, got nil")
	}
}

func TestOpenDB_OnDisk(t *testing.T) {
	db, err := OpenDB(Config{Path: t.TempDir()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Errorf("close: %v", err)
	}
}

func TestDB_TxnRoundTrip(t *testing.T) {
	db, err := OpenDB(Config{InMemory: true})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	ctx := context.Background()

	err = db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		return txn.Set([]byte("k"), []byte("v"))
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	var got []byte
	err = db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		item, err := txn.Get([]byte("k"))
		if err != nil {
			return err
		}
		got, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "v" {
		t.Errorf("value = %q, want %q", got, "v")
	}
}

func TestDB_CancelledContext(t *testing.T) {
	db, err := OpenDB(Config{InMemory: true})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		t.Error("transaction body ran despite cancelled context")
		return nil
	})
	if err == nil {
		t.Error("expected context error, got nil")
	}
	err = db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		t.Error("read transaction body ran despite cancelled context")
		return nil
	})
	if err == nil {
		t.Error("expected context error, got nil")
	}
}
