// Copyright (C) 2025 Harbor Desk (oss@harbordesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routing

import (
	"time"
)

// =============================================================================
// Routing Method
// =============================================================================

// Method identifies which tier of the cascade produced a decision.
type Method string

const (
	// MethodRule means a deterministic rule matched with sufficient confidence.
	MethodRule Method = "rule"

	// MethodCache means a sufficiently similar and historically accurate
	// precedent was served from the semantic cache.
	MethodCache Method = "cache"

	// MethodFallback means the contextual analyzer classified the ticket.
	MethodFallback Method = "fallback"

	// MethodFallbackSafe means an adapter failed and the keyword safety net
	// produced the decision without any network call.
	MethodFallbackSafe Method = "fallback_safe"

	// MethodError means the input was unroutable (e.g. empty text). The
	// decision carries confidence 0 and no department commitment.
	MethodError Method = "error"
)

// Valid reports whether m is one of the five enumerated routing methods.
func (m Method) Valid() bool {
	switch m {
	case MethodRule, MethodCache, MethodFallback, MethodFallbackSafe, MethodError:
		return true
	}
	return false
}

// =============================================================================
// Rules
// =============================================================================

// RoutingRule is one deterministic pattern-to-department mapping.
//
// Description:
//
//	Rules are loaded once from the declarative rule table and are immutable
//	afterwards. The same table feeds both the RuleMatcher and the SafetyNet,
//	so the keyword heuristics cannot drift apart.
//
// Thread Safety: Immutable after loading; safe for concurrent use.
type RoutingRule struct {
	// ID uniquely identifies the rule (e.g. "dispute").
	ID string

	// Pattern is a lowercase substring pattern, or a regular expression
	// when IsRegex is true.
	Pattern string

	// IsRegex marks Pattern as a regular expression. Regex patterns are
	// compiled case-insensitive at matcher construction.
	IsRegex bool

	// Department is the handling department this rule routes to.
	Department string

	// BaseConfidence is the confidence assigned when the pattern matches,
	// before any keyword boost. Always in (0, 1].
	BaseConfidence float64

	// Keywords are supporting terms. Each distinct keyword found in the
	// ticket text boosts the match confidence slightly.
	Keywords []string

	// SLAHours is the service-level window for tickets matched by this
	// rule. Always >= 1.
	SLAHours int
}

// RuleMatch is the result of evaluating the rule table against one ticket.
// Created per evaluation call; never persisted.
type RuleMatch struct {
	RuleID          string
	Department      string
	Confidence      float64
	MatchedKeywords []string
	Reasoning       string
}

// =============================================================================
// Historical Candidates
// =============================================================================

// HistoricalCandidate is one previously routed ticket returned by the
// semantic cache, ranked by similarity to the current ticket.
//
// Read-only: candidates are supplied by the SemanticCache adapter and are
// never mutated by the router.
type HistoricalCandidate struct {
	// TicketID identifies the historical ticket.
	TicketID string

	// Similarity is the semantic similarity to the current ticket, in [0,1].
	Similarity float64

	// Department the historical ticket was handled by.
	Department string

	// ResolutionTimeHours is how long the historical ticket took to resolve.
	// Zero when unknown.
	ResolutionTimeHours float64

	// Satisfaction is the customer satisfaction score, if recorded.
	Satisfaction float64

	// PriorPredictionCorrect reports whether the historical routing
	// prediction turned out correct. Nil when the outcome is unknown.
	PriorPredictionCorrect *bool
}

// =============================================================================
// Routing Decision
// =============================================================================

// Evidence carries the tier-specific justification for a decision. Exactly
// the fields relevant to the producing tier are set.
type Evidence struct {
	// RuleID is set for method "rule".
	RuleID string `json:"rule_id,omitempty"`

	// Similarity is set for method "cache": the winning candidate's score.
	Similarity *float64 `json:"similarity,omitempty"`

	// Accuracy is set for method "cache": the historical accuracy of the
	// candidate's department at decision time.
	Accuracy *float64 `json:"accuracy,omitempty"`

	// Reasoning is set for methods "fallback" and "fallback_safe".
	Reasoning string `json:"reasoning,omitempty"`
}

// RoutingDecision is the terminal output of the cascade. Exactly one is
// produced per routed ticket, on every path including failures.
//
// Thread Safety: Immutable once returned by the router.
type RoutingDecision struct {
	// DecisionID is a generated UUID for log correlation.
	DecisionID string `json:"decision_id"`

	// TicketID identifies the routed ticket.
	TicketID string `json:"ticket_id"`

	// Department is the selected handling department. Empty only for
	// method "error".
	Department string `json:"department"`

	// Confidence is the calibrated routing confidence, always in [0,1].
	Confidence float64 `json:"confidence"`

	// Method is the tier that produced this decision.
	Method Method `json:"method"`

	// Evidence justifies the decision.
	Evidence Evidence `json:"evidence"`

	// ProcessingTimeMs is the wall-clock routing duration.
	ProcessingTimeMs int64 `json:"processing_time_ms"`

	// Timestamp is when the decision was finalized (UTC).
	Timestamp time.Time `json:"timestamp"`

	// TextPreview is a truncated copy of the ticket text, carried for the
	// decision log only. Never serialized in API responses.
	TextPreview string `json:"-"`
}

// Ticket is the routing input: free text plus optional metadata.
type Ticket struct {
	ID       string            `json:"ticket_id"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// =============================================================================
// Helpers
// =============================================================================

// truncateForLog shortens s to at most max runes for log and preview output.
func truncateForLog(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
