// Copyright (C) 2025 Harbor Desk (oss@harbordesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routing

import (
	"fmt"
	"testing"
)

func testRules() []RoutingRule {
	return []RoutingRule{
		{
			ID:             "DISPUTE",
			Pattern:        "dispute",
			Department:     "credit_management",
			BaseConfidence: 0.98,
			Keywords:       []string{"chargeback", "unauthorized"},
		},
		{
			ID:             "REFUND",
			Pattern:        "refund",
			Department:     "billing",
			BaseConfidence: 0.93,
			Keywords:       []string{"overcharged", "double charged"},
		},
		{
			ID:             "PASSWORD",
			Pattern:        "password",
			Department:     "technical_support",
			BaseConfidence: 0.95,
			Keywords:       []string{"reset", "locked out"},
		},
		{
			ID:             "OUTAGE",
			Pattern:        `\b(outage|downtime)\b`,
			IsRegex:        true,
			Department:     "technical_support",
			BaseConfidence: 0.92,
			Keywords:       []string{"urgent"},
		},
	}
}

func TestRuleMatcher_DisputeMatch(t *testing.T) {
	m := NewRuleMatcher(testRules(), 0.85, nil)

	match := m.Evaluate("I dispute this R500 charge", nil)
	if match == nil {
		t.Fatal("expected a match, got nil")
	}
	if match.RuleID != "DISPUTE" {
		t.Errorf("rule ID = %q, want %q", match.RuleID, "DISPUTE")
	}
	if match.Department != "credit_management" {
		t.Errorf("department = %q, want %q", match.Department, "credit_management")
	}
	// No keywords present in the text, so confidence stays at base.
	if match.Confidence != 0.98 {
		t.Errorf("confidence = %v, want 0.98", match.Confidence)
	}
	if len(match.MatchedKeywords) != 0 {
		t.Errorf("matched keywords = %v, want none", match.MatchedKeywords)
	}
}

func TestRuleMatcher_Deterministic(t *testing.T) {
	m := NewRuleMatcher(testRules(), 0.85, nil)

	text := "My password reset is broken and I am locked out"
	first := m.Evaluate(text, nil)
	if first == nil {
		t.Fatal("expected a match, got nil")
	}
	for i := 0; i < 100; i++ {
		match := m.Evaluate(text, nil)
		if match == nil {
			t.Fatalf("iteration %d: expected a match, got nil", i)
		}
		if match.RuleID != first.RuleID || match.Confidence != first.Confidence {
			t.Fatalf("iteration %d: got (%s, %v), want (%s, %v)",
				i, match.RuleID, match.Confidence, first.RuleID, first.Confidence)
		}
	}
}

func TestRuleMatcher_KeywordBoost(t *testing.T) {
	m := NewRuleMatcher(testRules(), 0.85, nil)

	// Base 0.95 + 2 distinct keywords ("reset", "locked out") = 0.97.
	match := m.Evaluate("password reset please, I am locked out", nil)
	if match == nil {
		t.Fatal("expected a match, got nil")
	}
	if match.RuleID != "PASSWORD" {
		t.Errorf("rule ID = %q, want %q", match.RuleID, "PASSWORD")
	}
	want := 0.95 + 2*KeywordBoost
	if diff := match.Confidence - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("confidence = %v, want %v", match.Confidence, want)
	}
	if len(match.MatchedKeywords) != 2 {
		t.Errorf("matched keywords = %v, want 2 entries", match.MatchedKeywords)
	}
}

func TestRuleMatcher_KeywordBoostRepeatsCountOnce(t *testing.T) {
	m := NewRuleMatcher(testRules(), 0.85, nil)

	// "reset" appears three times but boosts once.
	match := m.Evaluate("password reset reset reset", nil)
	if match == nil {
		t.Fatal("expected a match, got nil")
	}
	want := 0.95 + 1*KeywordBoost
	if diff := match.Confidence - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("confidence = %v, want %v", match.Confidence, want)
	}
}

func TestRuleMatcher_ConfidenceCap(t *testing.T) {
	rules := []RoutingRule{{
		ID:             "CAPPED",
		Pattern:        "cap",
		Department:     "billing",
		BaseConfidence: 0.98,
		Keywords:       []string{"one", "two", "three"},
	}}
	m := NewRuleMatcher(rules, 0.85, nil)

	match := m.Evaluate("cap one two three", nil)
	if match == nil {
		t.Fatal("expected a match, got nil")
	}
	if match.Confidence != MaxConfidence {
		t.Errorf("confidence = %v, want cap %v", match.Confidence, MaxConfidence)
	}
}

func TestRuleMatcher_BelowFloorRejected(t *testing.T) {
	rules := []RoutingRule{{
		ID:             "WEAK",
		Pattern:        "hello",
		Department:     "customer_support",
		BaseConfidence: 0.60,
	}}
	m := NewRuleMatcher(rules, 0.85, nil)

	if match := m.Evaluate("hello there", nil); match != nil {
		t.Errorf("expected nil below floor, got %+v", match)
	}
}

func TestRuleMatcher_BoostCanClearFloor(t *testing.T) {
	rules := []RoutingRule{{
		ID:             "EDGE",
		Pattern:        "edge",
		Department:     "billing",
		BaseConfidence: 0.84,
		Keywords:       []string{"invoice"},
	}}
	m := NewRuleMatcher(rules, 0.85, nil)

	// 0.84 alone is rejected; 0.84 + 0.01 keyword boost reaches the floor.
	if match := m.Evaluate("edge case", nil); match != nil {
		t.Errorf("expected nil without keyword, got %+v", match)
	}
	match := m.Evaluate("edge case on my invoice", nil)
	if match == nil {
		t.Fatal("expected a match with keyword boost, got nil")
	}
	if match.RuleID != "EDGE" {
		t.Errorf("rule ID = %q, want %q", match.RuleID, "EDGE")
	}
}

func TestRuleMatcher_EarlierRuleWinsTies(t *testing.T) {
	rules := []RoutingRule{
		{ID: "FIRST", Pattern: "refund", Department: "billing", BaseConfidence: 0.90},
		{ID: "SECOND", Pattern: "refund", Department: "retention", BaseConfidence: 0.90},
	}
	m := NewRuleMatcher(rules, 0.85, nil)

	match := m.Evaluate("refund please", nil)
	if match == nil {
		t.Fatal("expected a match, got nil")
	}
	if match.RuleID != "FIRST" {
		t.Errorf("rule ID = %q, want the earlier rule %q", match.RuleID, "FIRST")
	}
}

func TestRuleMatcher_HigherConfidenceWins(t *testing.T) {
	m := NewRuleMatcher(testRules(), 0.85, nil)

	// Both DISPUTE (0.98) and REFUND (0.93) patterns match; DISPUTE wins.
	match := m.Evaluate("I dispute the refund amount", nil)
	if match == nil {
		t.Fatal("expected a match, got nil")
	}
	if match.RuleID != "DISPUTE" {
		t.Errorf("rule ID = %q, want %q", match.RuleID, "DISPUTE")
	}
}

func TestRuleMatcher_RegexRule(t *testing.T) {
	m := NewRuleMatcher(testRules(), 0.85, nil)

	match := m.Evaluate("We are seeing a major OUTAGE in production, urgent", nil)
	if match == nil {
		t.Fatal("expected a match, got nil")
	}
	if match.RuleID != "OUTAGE" {
		t.Errorf("rule ID = %q, want %q", match.RuleID, "OUTAGE")
	}
	want := 0.92 + 1*KeywordBoost
	if diff := match.Confidence - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("confidence = %v, want %v", match.Confidence, want)
	}
}

func TestRuleMatcher_InvalidRegexSkipped(t *testing.T) {
	rules := []RoutingRule{
		{ID: "BROKEN", Pattern: "([", IsRegex: true, Department: "billing", BaseConfidence: 0.95},
		{ID: "OK", Pattern: "refund", Department: "billing", BaseConfidence: 0.95},
	}
	m := NewRuleMatcher(rules, 0.85, nil)

	if got := len(m.Rules()); got != 1 {
		t.Fatalf("compiled rules = %d, want 1 (broken regex skipped)", got)
	}
	if match := m.Evaluate("refund", nil); match == nil || match.RuleID != "OK" {
		t.Errorf("match = %+v, want rule OK", match)
	}
}

func TestRuleMatcher_CaseInsensitive(t *testing.T) {
	m := NewRuleMatcher(testRules(), 0.85, nil)

	for _, text := range []string{"DISPUTE", "Dispute", "dIsPuTe this"} {
		t.Run(text, func(t *testing.T) {
			match := m.Evaluate(text, nil)
			if match == nil || match.RuleID != "DISPUTE" {
				t.Errorf("Evaluate(%q) = %+v, want DISPUTE match", text, match)
			}
		})
	}
}

func TestRuleMatcher_NoMatch(t *testing.T) {
	m := NewRuleMatcher(testRules(), 0.85, nil)

	for _, text := range []string{"", "   ", "completely unrelated gardening question"} {
		t.Run(fmt.Sprintf("%q", text), func(t *testing.T) {
			if match := m.Evaluate(text, nil); match != nil {
				t.Errorf("Evaluate(%q) = %+v, want nil", text, match)
			}
		})
	}
}
