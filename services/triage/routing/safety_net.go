// Copyright (C) 2025 Harbor Desk (oss@harbordesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routing

import (
	"strings"
)

// SafeConfidence is the fixed confidence of every safety-net decision. The
// safety net makes no calibration claim; 0.5 is "better than random, trust
// accordingly".
const SafeConfidence = 0.5

// =============================================================================
// SafetyNet
// =============================================================================

// SafetyNet is the last line of defense: a keyword heuristic that requires
// no network calls and never fails.
//
// Description:
//
//	Consumes the SAME declarative rule table as the RuleMatcher — the
//	safety net has no keyword list of its own, so the two tiers cannot
//	silently drift apart. Each department is scored by the number of
//	distinct rule keywords (plus non-regex patterns) found in the text;
//	the highest score wins, with earlier rules breaking ties. When nothing
//	matches, the configured default department is returned.
//
// Thread Safety: Safe for concurrent use (read-only after construction).
type SafetyNet struct {
	// entries preserves rule-table order for deterministic tie-breaking.
	entries []safetyEntry

	defaultDepartment string
}

type safetyEntry struct {
	department string
	terms      []string
}

// NewSafetyNet builds the keyword safety net from the shared rule table.
//
// Inputs:
//
//	rules - The routing rules, in table order.
//	defaultDepartment - Returned when no keyword matches. Must not be empty.
//
// Outputs:
//
//	*SafetyNet - Ready-to-use safety net. Never nil.
func NewSafetyNet(rules []RoutingRule, defaultDepartment string) *SafetyNet {
	entries := make([]safetyEntry, 0, len(rules))
	for _, r := range rules {
		e := safetyEntry{department: r.Department}
		if !r.IsRegex && strings.TrimSpace(r.Pattern) != "" {
			e.terms = append(e.terms, strings.ToLower(r.Pattern))
		}
		for _, kw := range r.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" {
				e.terms = append(e.terms, kw)
			}
		}
		entries = append(entries, e)
	}
	return &SafetyNet{entries: entries, defaultDepartment: defaultDepartment}
}

// Classify picks a department by distinct keyword hits.
//
// Outputs:
//
//	department - The best-scoring department, or the default when no term
//	             matches.
//	matched - The distinct terms that contributed to the winning score.
//	          Empty for the default department.
//
// Thread Safety: Safe for concurrent use. Never fails.
func (s *SafetyNet) Classify(text string) (department string, matched []string) {
	textLower := strings.ToLower(text)

	type score struct {
		hits  int
		terms []string
	}
	scores := make(map[string]*score, len(s.entries))
	order := make([]string, 0, len(s.entries))

	for _, e := range s.entries {
		sc, ok := scores[e.department]
		if !ok {
			sc = &score{}
			scores[e.department] = sc
			order = append(order, e.department)
		}
		for _, term := range e.terms {
			if strings.Contains(textLower, term) {
				dup := false
				for _, t := range sc.terms {
					if t == term {
						dup = true
						break
					}
				}
				if !dup {
					sc.hits++
					sc.terms = append(sc.terms, term)
				}
			}
		}
	}

	best := ""
	bestHits := 0
	for _, dept := range order { // table order breaks ties
		if sc := scores[dept]; sc.hits > bestHits {
			best = dept
			bestHits = sc.hits
		}
	}
	if best == "" {
		return s.defaultDepartment, nil
	}
	return best, scores[best].terms
}
