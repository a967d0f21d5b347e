// Copyright (C) 2025 Harbor Desk (oss@harbordesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package triage is the HTTP surface of the ticket routing service: it
// assembles the decision router, accuracy tracker, threshold provider, and
// analytics sinks, and exposes them under /v1/triage.
package triage

import (
	"context"
	"log/slog"

	"github.com/harbordesk/triage/services/triage/analytics"
	"github.com/harbordesk/triage/services/triage/config"
	"github.com/harbordesk/triage/services/triage/routing"
)

// =============================================================================
// Service
// =============================================================================

// ServiceConfig carries the assembled dependencies for the triage service.
type ServiceConfig struct {
	// RuleTable drives the rule matcher and the keyword safety net.
	// Required.
	RuleTable *config.RuleTable

	// Thresholds provides the active threshold snapshot. Required.
	Thresholds *config.Provider

	// Cache is the semantic cache adapter. Nil disables the cache tier.
	Cache routing.SemanticCache

	// Analyzer is the contextual fallback adapter. Nil disables the
	// fallback tier; unresolved tickets go to the keyword safety net.
	Analyzer routing.FallbackAnalyzer

	// AccuracyStore persists per-department accuracy. Nil means
	// memory-only.
	AccuracyStore routing.AccuracyStore

	// DecisionLog receives the JSONL audit trail. Nil disables it.
	DecisionLog *analytics.DecisionLogger

	// MonitorWindow sizes the rolling performance window. Zero means
	// analytics.DefaultWindowSize.
	MonitorWindow int

	Logger *slog.Logger
}

// Service wires the routing cascade to its collaborators and owns their
// lifecycles for the duration of the process.
type Service struct {
	router     *routing.DecisionRouter
	tracker    *routing.AccuracyTracker
	thresholds *config.Provider
	monitor    *analytics.PerformanceMonitor
	log        *analytics.DecisionLogger
	logger     *slog.Logger
}

// NewService assembles a Service from its configuration.
//
// Description:
//
//	Builds the rule matcher and safety net from the rule table, warm-loads
//	the accuracy tracker, and fans decisions out to the audit log and the
//	performance monitor. The ctx bounds only the initial accuracy load.
func NewService(ctx context.Context, cfg ServiceConfig) (*Service, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	snapshot := cfg.Thresholds.CurrentSnapshot()
	matcher := routing.NewRuleMatcher(cfg.RuleTable.RoutingRules(), snapshot.RuleFloor(), logger)
	safetyNet := routing.NewSafetyNet(cfg.RuleTable.RoutingRules(), cfg.RuleTable.DefaultDepartment)

	tracker := routing.NewAccuracyTracker(ctx, cfg.AccuracyStore, logger)
	monitor := analytics.NewPerformanceMonitor(cfg.MonitorWindow)

	recorders := analytics.Fanout{monitor}
	if cfg.DecisionLog != nil {
		recorders = append(recorders, cfg.DecisionLog)
	}

	router := routing.NewDecisionRouter(routing.DecisionRouterConfig{
		Matcher:    matcher,
		SafetyNet:  safetyNet,
		Cache:      cfg.Cache,
		Analyzer:   cfg.Analyzer,
		Tracker:    tracker,
		Thresholds: cfg.Thresholds,
		Recorder:   recorders,
		Logger:     logger,
	})

	return &Service{
		router:     router,
		tracker:    tracker,
		thresholds: cfg.Thresholds,
		monitor:    monitor,
		log:        cfg.DecisionLog,
		logger:     logger,
	}, nil
}

// Route classifies one ticket through the decision cascade.
func (s *Service) Route(ctx context.Context, ticket routing.Ticket) *routing.RoutingDecision {
	return s.router.Route(ctx, ticket)
}

// RecordOutcome folds human feedback into the accuracy tracker.
func (s *Service) RecordOutcome(ctx context.Context, department string, wasCorrect bool) routing.AccuracyRecord {
	return s.tracker.RecordOutcome(ctx, department, wasCorrect)
}

// Close releases the service's owned resources.
func (s *Service) Close() error {
	if s.log != nil {
		return s.log.Close()
	}
	return nil
}
