// Copyright (C) 2025 Harbor Desk (oss@harbordesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package analytics

import (
	"sync"

	"github.com/harbordesk/triage/services/triage/routing"
)

// =============================================================================
// PerformanceMonitor — Rolling Decision Window
// =============================================================================

// DefaultWindowSize is how many recent decisions the monitor keeps.
const DefaultWindowSize = 1000

// Confidence bucket boundaries for the summary.
const (
	highConfidenceFloor   = 0.85
	mediumConfidenceFloor = 0.70
)

// sample is the minimal slice of a decision the window retains.
type sample struct {
	method           routing.Method
	confidence       float64
	processingTimeMs int64
}

// Summary aggregates the current window for the metrics endpoint.
type Summary struct {
	WindowSize int `json:"window_size"`
	Decisions  int `json:"decisions"`

	// MethodCounts and MethodRates are keyed by method name; rates are
	// fractions of the window, not percentages.
	MethodCounts map[routing.Method]int     `json:"method_counts"`
	MethodRates  map[routing.Method]float64 `json:"method_rates"`

	AvgProcessingTimeMs float64 `json:"avg_processing_time_ms"`

	HighConfidence   int `json:"high_confidence"`
	MediumConfidence int `json:"medium_confidence"`
	LowConfidence    int `json:"low_confidence"`
}

// PerformanceMonitor keeps a fixed-size ring of recent decisions and
// derives method hit rates and confidence distribution from it.
//
// Description:
//
//	The window deliberately forgets old traffic: operators care about how
//	the cascade behaves now, after the last config reload or cache
//	backfill, not since process start. Lifetime counters live in the
//	Prometheus metrics instead.
//
// Thread Safety: Safe for concurrent use.
type PerformanceMonitor struct {
	mu      sync.Mutex
	window  []sample
	next    int
	filled  bool
	maxSize int
}

// NewPerformanceMonitor creates a monitor with the given window size.
// A size below 1 falls back to DefaultWindowSize.
func NewPerformanceMonitor(windowSize int) *PerformanceMonitor {
	if windowSize < 1 {
		windowSize = DefaultWindowSize
	}
	return &PerformanceMonitor{
		window:  make([]sample, windowSize),
		maxSize: windowSize,
	}
}

// Record folds one decision into the window, evicting the oldest entry
// once the window is full. Implements routing.DecisionRecorder.
func (m *PerformanceMonitor) Record(d *routing.RoutingDecision) {
	m.mu.Lock()
	m.window[m.next] = sample{
		method:           d.Method,
		confidence:       d.Confidence,
		processingTimeMs: d.ProcessingTimeMs,
	}
	m.next++
	if m.next == m.maxSize {
		m.next = 0
		m.filled = true
	}
	m.mu.Unlock()
}

// Summary aggregates the current window into a Summary snapshot.
func (m *PerformanceMonitor) Summary() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := m.next
	if m.filled {
		count = m.maxSize
	}

	s := Summary{
		WindowSize:   m.maxSize,
		Decisions:    count,
		MethodCounts: make(map[routing.Method]int),
		MethodRates:  make(map[routing.Method]float64),
	}
	if count == 0 {
		return s
	}

	var totalMs int64
	for i := 0; i < count; i++ {
		smp := m.window[i]
		s.MethodCounts[smp.method]++
		totalMs += smp.processingTimeMs
		switch {
		case smp.confidence >= highConfidenceFloor:
			s.HighConfidence++
		case smp.confidence >= mediumConfidenceFloor:
			s.MediumConfidence++
		default:
			s.LowConfidence++
		}
	}
	for method, n := range s.MethodCounts {
		s.MethodRates[method] = float64(n) / float64(count)
	}
	s.AvgProcessingTimeMs = float64(totalMs) / float64(count)
	return s
}
