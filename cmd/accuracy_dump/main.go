// Copyright (C) 2025 Harbor Desk (oss@harbordesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// accuracy_dump inspects the triage service's accuracy store.
//
// The accuracy store persists per-department routing accuracy counters in
// BadgerDB between service restarts. This tool opens the store read-only
// and prints a human-readable table: department, observations, correct
// count, and accuracy.
//
// Usage:
//
//	accuracy_dump [--path /path/to/data-dir]
//
// If --path is not given, reads TRIAGE_DATA_DIR from the environment. The
// accuracy database lives in the "accuracy" subdirectory of the data dir,
// matching the server's layout.
//
// Exit codes:
//
//	0 — success (including "empty store" which prints a message and exits 0)
//	1 — error opening or reading the database
package main

import (
	"bytes"
	"encoding/gob"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	dgbadger "github.com/dgraph-io/badger/v4"
)

// accuracyKeyPrefix must match accuracy_store.go exactly.
const accuracyKeyPrefix = "triage/acc/v1/"

// accuracyRecord mirrors the gob-encoded routing.AccuracyRecord. Field
// names and types must stay in sync for gob decoding to succeed.
type accuracyRecord struct {
	Department string
	Total      int64
	Correct    int64
	Accuracy   float64
}

func main() {
	pathFlag := flag.String("path", "", "Path to triage data directory (overrides TRIAGE_DATA_DIR env var)")
	flag.Parse()

	dataDir := *pathFlag
	if dataDir == "" {
		dataDir = os.Getenv("TRIAGE_DATA_DIR")
	}
	if dataDir == "" {
		fatalf("no data directory: pass --path or set TRIAGE_DATA_DIR")
	}
	dbPath := filepath.Join(dataDir, "accuracy")

	fmt.Printf("Accuracy store path: %s\n", dbPath)

	// Check existence before trying to open — gives a cleaner error message
	// than BadgerDB's "no such file or directory" buried in a long error.
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("Store directory does not exist. The service has not yet recorded any outcomes.")
		os.Exit(0)
	}

	opts := dgbadger.DefaultOptions(dbPath).
		WithLogger(nil). // suppress BadgerDB internal logs
		WithReadOnly(true)

	db, err := dgbadger.Open(opts)
	if err != nil {
		fatalf("open BadgerDB at %s: %v", dbPath, err)
	}
	defer func() { _ = db.Close() }()

	var records []accuracyRecord
	err = db.View(func(txn *dgbadger.Txn) error {
		iterOpts := dgbadger.DefaultIteratorOptions
		iterOpts.PrefetchValues = true
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		prefix := []byte(accuracyKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			department := strings.TrimPrefix(string(item.Key()), accuracyKeyPrefix)

			raw, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("copy value for %q: %w", department, err)
			}
			var rec accuracyRecord
			if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&rec); err != nil {
				fmt.Fprintf(os.Stderr, "warning: undecodable record for %q: %v\n", department, err)
				continue
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		fatalf("read accuracy store: %v", err)
	}

	if len(records) == 0 {
		fmt.Println("Store is empty. No outcomes have been recorded yet.")
		return
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Department < records[j].Department })

	fmt.Printf("\n%-28s %12s %12s %10s\n", "DEPARTMENT", "TOTAL", "CORRECT", "ACCURACY")
	fmt.Println(strings.Repeat("-", 66))
	for _, rec := range records {
		fmt.Printf("%-28s %12d %12d %9.1f%%\n",
			rec.Department, rec.Total, rec.Correct, rec.Accuracy*100)
	}
	fmt.Printf("\n%d department(s)\n", len(records))
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "accuracy_dump: "+format+"\n", args...)
	os.Exit(1)
}
