// Copyright (C) 2025 Harbor Desk (oss@harbordesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routing

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// =============================================================================
// Rule Matching Constants
// =============================================================================

const (
	// DefaultRuleFloor is the minimum acceptance confidence when the
	// threshold snapshot does not configure one.
	DefaultRuleFloor = 0.85

	// KeywordBoost is added per distinct matched keyword.
	KeywordBoost = 0.01

	// MaxConfidence caps every boosted confidence in the system. Rule
	// matches and cache hits never report certainty.
	MaxConfidence = 0.99
)

// =============================================================================
// RuleMatcher
// =============================================================================

// compiledRule holds a RoutingRule alongside its pre-compiled pattern state.
type compiledRule struct {
	rule RoutingRule

	// regex is non-nil for IsRegex rules; compiled case-insensitive.
	regex *regexp.Regexp

	// pattern is the lowercase substring pattern for non-regex rules.
	pattern string

	// keywords are the rule's keywords, lowercased once at construction.
	keywords []string
}

// RuleMatcher is the deterministic tier-1 matcher.
//
// Description:
//
//	Iterates the ordered rule list and tests each pattern against the
//	ticket text (lowercase substring, or case-insensitive regex). A match
//	starts at the rule's base confidence and gains KeywordBoost per
//	distinct matched keyword, capped at MaxConfidence. The single
//	highest-confidence match at or above the acceptance floor wins; rules
//	earlier in the list win ties.
//
//	Identical input and rule set always yield an identical result: there
//	is no hidden state and no randomness. Statistics are the caller's
//	responsibility — Evaluate is read-only.
//
// Thread Safety: Safe for concurrent use (all state is read-only after
// construction).
type RuleMatcher struct {
	rules []compiledRule
	floor float64
}

// NewRuleMatcher creates a RuleMatcher over the given ordered rule list.
//
// Inputs:
//
//	rules - Ordered routing rules from the rule table. Rules with invalid
//	        regex patterns are skipped with a warning rather than failing
//	        the whole matcher (the rule table loader already rejects them;
//	        this guards hand-constructed rule sets in tests).
//	floor - Minimum acceptance confidence. Non-positive uses DefaultRuleFloor.
//	logger - Logger for construction diagnostics. May be nil.
//
// Outputs:
//
//	*RuleMatcher - The constructed matcher. Never nil.
func NewRuleMatcher(rules []RoutingRule, floor float64, logger *slog.Logger) *RuleMatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if floor <= 0 {
		floor = DefaultRuleFloor
	}

	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		cr := compiledRule{rule: r, pattern: strings.ToLower(r.Pattern)}
		if r.IsRegex {
			re, err := regexp.Compile("(?i)" + r.Pattern)
			if err != nil {
				logger.Warn("rule matcher: invalid regex pattern, skipping rule",
					slog.String("rule_id", r.ID),
					slog.String("pattern", r.Pattern),
					slog.String("error", err.Error()),
				)
				continue
			}
			cr.regex = re
		}
		cr.keywords = make([]string, 0, len(r.Keywords))
		for _, kw := range r.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" {
				cr.keywords = append(cr.keywords, kw)
			}
		}
		compiled = append(compiled, cr)
	}

	return &RuleMatcher{rules: compiled, floor: floor}
}

// Floor returns the matcher's acceptance floor.
func (m *RuleMatcher) Floor() float64 { return m.floor }

// Rules returns the underlying rule list in evaluation order.
func (m *RuleMatcher) Rules() []RoutingRule {
	out := make([]RoutingRule, len(m.rules))
	for i, cr := range m.rules {
		out[i] = cr.rule
	}
	return out
}

// Evaluate tests the ticket text against the rule table.
//
// Description:
//
//	Returns the best accepted RuleMatch, or nil when no rule matches at or
//	above the floor. Metadata is currently advisory only; it is accepted so
//	rule predicates can grow channel/locale awareness without changing the
//	call sites.
//
// Inputs:
//
//	text - Ticket text. Empty text never matches.
//	metadata - Optional ticket metadata. May be nil.
//
// Outputs:
//
//	*RuleMatch - The winning match, or nil.
//
// Thread Safety: Safe for concurrent use. Read-only.
func (m *RuleMatcher) Evaluate(text string, metadata map[string]string) *RuleMatch {
	_ = metadata

	if strings.TrimSpace(text) == "" {
		return nil
	}
	textLower := strings.ToLower(text)

	var best *RuleMatch
	for _, cr := range m.rules {
		if !cr.matches(textLower) {
			continue
		}

		matched := cr.matchedKeywords(textLower)
		confidence := cr.rule.BaseConfidence + float64(len(matched))*KeywordBoost
		if confidence > MaxConfidence {
			confidence = MaxConfidence
		}
		if confidence < m.floor {
			continue
		}

		// Earlier rules win ties: strictly-greater replaces.
		if best == nil || confidence > best.Confidence {
			best = &RuleMatch{
				RuleID:          cr.rule.ID,
				Department:      cr.rule.Department,
				Confidence:      confidence,
				MatchedKeywords: matched,
				Reasoning: fmt.Sprintf("rule %q matched pattern %q with %d supporting keyword(s)",
					cr.rule.ID, cr.rule.Pattern, len(matched)),
			}
		}
	}
	return best
}

// matches tests the rule pattern against lowercase ticket text.
func (cr *compiledRule) matches(textLower string) bool {
	if cr.regex != nil {
		return cr.regex.MatchString(textLower)
	}
	return cr.pattern != "" && strings.Contains(textLower, cr.pattern)
}

// matchedKeywords returns the distinct rule keywords present in the text.
func (cr *compiledRule) matchedKeywords(textLower string) []string {
	var matched []string
	seen := make(map[string]bool, len(cr.keywords))
	for _, kw := range cr.keywords {
		if seen[kw] {
			continue
		}
		if strings.Contains(textLower, kw) {
			matched = append(matched, kw)
			seen[kw] = true
		}
	}
	return matched
}
