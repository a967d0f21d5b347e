// Copyright (C) 2025 Harbor Desk (oss@harbordesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routing

import (
	"context"
	"time"
)

// =============================================================================
// External Collaborator Interfaces
// =============================================================================
//
// Embedding generation, vector storage, and LLM prompt construction live
// behind these two interfaces. The router only ever sees ranked candidates
// and qualitative classifications; everything else is the adapter's problem.

// SemanticCache is the similarity/KNN oracle over historical tickets.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Search must be free of
// side effects: calling it twice with identical arguments is always safe.
type SemanticCache interface {
	// Search returns up to topK historical candidates ranked by descending
	// similarity to text. An empty result is a valid outcome (cold index),
	// not an error.
	Search(ctx context.Context, text string, topK int) ([]HistoricalCandidate, error)
}

// =============================================================================
// Fallback Analyzer
// =============================================================================

// ConfidenceLabel is the qualitative confidence reported by the contextual
// analyzer. The threshold snapshot maps labels to numeric confidence.
type ConfidenceLabel string

const (
	LabelHigh   ConfidenceLabel = "high"
	LabelMedium ConfidenceLabel = "medium"
	LabelLow    ConfidenceLabel = "low"
)

// Valid reports whether l is one of the three known labels.
func (l ConfidenceLabel) Valid() bool {
	return l == LabelHigh || l == LabelMedium || l == LabelLow
}

// Classification is the contextual analyzer's verdict for one ticket.
type Classification struct {
	Department string
	Label      ConfidenceLabel
	Reasoning  string
}

// FallbackAnalyzer is the expensive contextual-reasoning oracle, invoked
// only when the cheaper tiers lack sufficient confidence.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type FallbackAnalyzer interface {
	// Classify routes text given up to N historical candidates as context.
	// The context slice may be empty.
	Classify(ctx context.Context, text string, history []HistoricalCandidate) (*Classification, error)
}

// =============================================================================
// Threshold Access
// =============================================================================

// ThresholdView is one immutable, internally consistent snapshot of the
// routing thresholds. A request reads exactly one view for its whole
// lifetime, so a concurrent reload can never produce a half-updated gate.
type ThresholdView interface {
	// ConfidenceThreshold is the minimum similarity required to trust a
	// cached precedent for the given department.
	ConfidenceThreshold(department string) float64

	// AccuracyThreshold is the minimum historical success rate required to
	// trust a department's precedent.
	AccuracyThreshold() float64

	// RuleFloor is the minimum confidence a rule match must reach to be
	// accepted as a terminal decision.
	RuleFloor() float64

	// CacheBoost is added to the winning candidate's similarity to form
	// the cache-hit confidence, capped at MaxConfidence.
	CacheBoost() float64

	// LabelConfidence maps an analyzer label to numeric confidence.
	LabelConfidence(label ConfidenceLabel) float64

	// CacheTimeout bounds one semantic cache call.
	CacheTimeout() time.Duration

	// FallbackTimeout bounds one contextual analyzer call.
	FallbackTimeout() time.Duration

	// MaxContextCandidates is how many historical candidates are handed to
	// the analyzer as context.
	MaxContextCandidates() int
}

// ThresholdProvider yields the currently active threshold view.
type ThresholdProvider interface {
	Current() ThresholdView
}

// ThresholdProviderFunc adapts a function to the ThresholdProvider interface.
type ThresholdProviderFunc func() ThresholdView

// Current implements ThresholdProvider.
func (f ThresholdProviderFunc) Current() ThresholdView { return f() }

// =============================================================================
// Decision Recording
// =============================================================================

// DecisionRecorder receives every finalized decision. Implementations must
// be fast: the router calls Record synchronously on the request path.
type DecisionRecorder interface {
	Record(d *RoutingDecision)
}
