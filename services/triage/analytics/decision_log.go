// Copyright (C) 2025 Harbor Desk (oss@harbordesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package analytics records routing decisions for audit and live
// performance monitoring: a JSONL audit trail on disk and an in-memory
// rolling window for the metrics summary endpoint.
package analytics

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/harbordesk/triage/services/triage/routing"
)

// =============================================================================
// Decision Logger — JSONL Audit Trail
// =============================================================================

// LogEntry is one line of the JSONL decision log. Optional evidence fields
// are pointers so absent values are omitted rather than zero-filled.
type LogEntry struct {
	Timestamp        time.Time      `json:"timestamp"`
	DecisionID       string         `json:"decision_id"`
	TicketID         string         `json:"ticket_id"`
	Department       string         `json:"department"`
	Confidence       float64        `json:"confidence"`
	Method           routing.Method `json:"method"`
	RuleID           string         `json:"rule_id,omitempty"`
	Similarity       *float64       `json:"similarity,omitempty"`
	Accuracy         *float64       `json:"accuracy,omitempty"`
	Reasoning        string         `json:"reasoning,omitempty"`
	ProcessingTimeMs int64          `json:"processing_time_ms"`
	TextPreview      string         `json:"text_preview,omitempty"`
}

// DecisionLogger appends routing decisions to a JSONL file, one object per
// line.
//
// Description:
//
//	The file is opened append-only so external rotation (logrotate with
//	copytruncate, or a fresh path per deploy) works without coordination.
//	Write failures are logged and swallowed: the audit trail is
//	best-effort and must never fail a routing request.
//
// Thread Safety: Safe for concurrent use.
type DecisionLogger struct {
	mu     sync.Mutex
	file   *os.File
	enc    *json.Encoder
	logger *slog.Logger
}

// NewDecisionLogger opens (or creates) the JSONL file at path.
func NewDecisionLogger(path string, logger *slog.Logger) (*DecisionLogger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open decision log %s: %w", path, err)
	}
	return &DecisionLogger{
		file:   file,
		enc:    json.NewEncoder(file),
		logger: logger,
	}, nil
}

// Record appends one decision. Implements routing.DecisionRecorder.
func (l *DecisionLogger) Record(d *routing.RoutingDecision) {
	entry := LogEntry{
		Timestamp:        d.Timestamp,
		DecisionID:       d.DecisionID,
		TicketID:         d.TicketID,
		Department:       d.Department,
		Confidence:       d.Confidence,
		Method:           d.Method,
		RuleID:           d.Evidence.RuleID,
		Similarity:       d.Evidence.Similarity,
		Accuracy:         d.Evidence.Accuracy,
		Reasoning:        d.Evidence.Reasoning,
		ProcessingTimeMs: d.ProcessingTimeMs,
		TextPreview:      d.TextPreview,
	}

	l.mu.Lock()
	err := l.enc.Encode(&entry)
	l.mu.Unlock()

	if err != nil {
		l.logger.Warn("decision log write failed",
			slog.String("decision_id", d.DecisionID),
			slog.String("error", err.Error()),
		)
	}
}

// Close flushes and closes the underlying file.
func (l *DecisionLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// =============================================================================
// Fanout
// =============================================================================

// Fanout forwards each decision to every recorder in order. Used to feed
// the audit log and the performance monitor from one router hook.
type Fanout []routing.DecisionRecorder

// Record implements routing.DecisionRecorder.
func (f Fanout) Record(d *routing.RoutingDecision) {
	for _, r := range f {
		if r != nil {
			r.Record(d)
		}
	}
}
