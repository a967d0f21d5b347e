// Copyright (C) 2025 Harbor Desk (oss@harbordesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/harbordesk/triage/services/triage/routing"
)

// =============================================================================
// Routing Rule Table
// =============================================================================
//
// The rule table is declarative YAML so support operations can review and
// amend routing behavior without a code change. The embedded copy ships a
// sane default; deployments point -rules at their own file.

//go:embed routing_rules.yaml
var defaultRulesYAML []byte

// RuleSpec is one declarative routing rule as written in YAML.
type RuleSpec struct {
	ID             string   `yaml:"id" validate:"required"`
	Pattern        string   `yaml:"pattern" validate:"required"`
	IsRegex        bool     `yaml:"is_regex"`
	Department     string   `yaml:"department" validate:"required"`
	BaseConfidence float64  `yaml:"base_confidence" validate:"gte=0,lte=0.99"`
	Keywords       []string `yaml:"keywords"`
	SLAHours       int      `yaml:"sla_hours" validate:"omitempty,gte=1"`
}

// RuleTable is the parsed rule document.
type RuleTable struct {
	// DefaultDepartment receives tickets the keyword safety net cannot
	// place anywhere else.
	DefaultDepartment string `yaml:"default_department" validate:"required"`

	Rules []RuleSpec `yaml:"rules" validate:"required,min=1,dive"`
}

// LoadRuleTable parses and validates a YAML rule document.
//
// Description:
//
//	Beyond struct validation, every is_regex pattern must compile
//	(case-insensitively, as the matcher will compile it) and rule IDs
//	must be unique. A table that fails any check is rejected whole; there
//	is no partial load.
func LoadRuleTable(data []byte) (*RuleTable, error) {
	if len(data) > MaxConfigFileSize {
		return nil, fmt.Errorf("rule table exceeds maximum size (%d > %d)", len(data), MaxConfigFileSize)
	}

	var table RuleTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("parse rule table: %w", err)
	}
	if err := validator.New().Struct(&table); err != nil {
		return nil, fmt.Errorf("rule table validation: %w", err)
	}

	seen := make(map[string]struct{}, len(table.Rules))
	for _, rule := range table.Rules {
		if _, dup := seen[rule.ID]; dup {
			return nil, fmt.Errorf("rule table: duplicate rule id %q", rule.ID)
		}
		seen[rule.ID] = struct{}{}

		if rule.IsRegex {
			if _, err := regexp.Compile("(?i)" + rule.Pattern); err != nil {
				return nil, fmt.Errorf("rule %s: invalid pattern: %w", rule.ID, err)
			}
		}
	}
	return &table, nil
}

// LoadRuleTableFile loads a rule table from disk.
func LoadRuleTableFile(path string) (*RuleTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule table %s: %w", path, err)
	}
	return LoadRuleTable(data)
}

// DefaultRuleTable returns the embedded rule table. The embedded document
// is validated at test time; a parse failure here is a build defect, hence
// the panic.
func DefaultRuleTable() *RuleTable {
	table, err := LoadRuleTable(defaultRulesYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded rule table invalid: %v", err))
	}
	return table
}

// RoutingRules converts the declarative specs into the matcher's rule type,
// preserving order.
func (t *RuleTable) RoutingRules() []routing.RoutingRule {
	out := make([]routing.RoutingRule, 0, len(t.Rules))
	for _, spec := range t.Rules {
		out = append(out, routing.RoutingRule{
			ID:             spec.ID,
			Pattern:        spec.Pattern,
			IsRegex:        spec.IsRegex,
			Department:     spec.Department,
			BaseConfidence: spec.BaseConfidence,
			Keywords:       spec.Keywords,
			SLAHours:       spec.SLAHours,
		})
	}
	return out
}
