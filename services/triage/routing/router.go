// Copyright (C) 2025 Harbor Desk (oss@harbordesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routing

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	routerDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "triage",
		Subsystem: "router",
		Name:      "decisions_total",
		Help:      "Routing decisions by method: rule, cache, fallback, fallback_safe, error",
	}, []string{"method"})

	routerTierLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "triage",
		Subsystem: "router",
		Name:      "tier_latency_seconds",
		Help:      "Latency per cascade tier",
		Buckets:   []float64{0.0001, 0.001, 0.01, 0.1, 0.5, 1.0, 2.0, 5.0, 10.0},
	}, []string{"tier"})

	routerAdapterFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "triage",
		Subsystem: "router",
		Name:      "adapter_failures_total",
		Help:      "Adapter failures by adapter and reason: adapter_timeout, adapter_unavailable",
	}, []string{"adapter", "reason"})

	routerConfidence = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "triage",
		Subsystem: "router",
		Name:      "decision_confidence",
		Help:      "Confidence of emitted routing decisions",
		Buckets:   []float64{0.1, 0.3, 0.5, 0.7, 0.85, 0.95, 0.99, 1.0},
	})
)

// =============================================================================
// OTel Tracer
// =============================================================================

var routerTracer = otel.Tracer("triage.routing.router")

// =============================================================================
// DecisionRouter
// =============================================================================

// DecisionRouter orchestrates the tiered cascade:
//
//	START → RULE_CHECK → {MATCHED → DONE | NO_MATCH → CACHE_CHECK}
//	      → {HIT → DONE | MISS → FALLBACK} → DONE
//
// with an ERROR state reachable from CACHE_CHECK or FALLBACK that resolves
// to FALLBACK_SAFE → DONE.
//
// Description:
//
//	The rule tier is free and terminal: when a rule matches at or above
//	the acceptance floor, neither the semantic cache nor the analyzer is
//	invoked — cost avoidance is the point of the cascade. The cache tier
//	is gated twice, on similarity and on the candidate department's
//	historical accuracy. The fallback tier maps the analyzer's qualitative
//	label to numeric confidence. Every adapter failure collapses into the
//	keyword safety net, so Route never returns an error and every ticket
//	receives exactly one decision.
//
//	All collaborators are explicit constructor dependencies; the router
//	holds no global state and a fresh instance is substitutable per test.
//
// Thread Safety: Safe for concurrent use. The router itself is stateless
// between calls; shared state lives in the injected tracker and recorder,
// which synchronize internally.
type DecisionRouter struct {
	matcher    *RuleMatcher
	safetyNet  *SafetyNet
	cache      SemanticCache    // may be nil: cache tier is skipped
	analyzer   FallbackAnalyzer // may be nil: fallback degrades to safety net
	tracker    *AccuracyTracker
	thresholds ThresholdProvider
	recorder   DecisionRecorder // may be nil
	logger     *slog.Logger
}

// DecisionRouterConfig carries the router's constructor dependencies.
type DecisionRouterConfig struct {
	// Matcher is the tier-1 rule matcher. Must not be nil.
	Matcher *RuleMatcher

	// SafetyNet is the network-free emergency classifier. Must not be nil.
	SafetyNet *SafetyNet

	// Cache is the semantic cache adapter. Nil disables the cache tier.
	Cache SemanticCache

	// Analyzer is the contextual analyzer adapter. Nil sends cache misses
	// straight to the safety net.
	Analyzer FallbackAnalyzer

	// Tracker is the shared accuracy store. Must not be nil.
	Tracker *AccuracyTracker

	// Thresholds yields the active threshold snapshot. Must not be nil.
	Thresholds ThresholdProvider

	// Recorder receives every finalized decision. May be nil.
	Recorder DecisionRecorder

	// Logger. May be nil.
	Logger *slog.Logger
}

// NewDecisionRouter creates a DecisionRouter.
//
// Outputs:
//
//	*DecisionRouter - The constructed router. Never nil. Panics on missing
//	required dependencies — these are wiring bugs, not runtime conditions.
func NewDecisionRouter(cfg DecisionRouterConfig) *DecisionRouter {
	if cfg.Matcher == nil {
		panic("NewDecisionRouter: Matcher must not be nil")
	}
	if cfg.SafetyNet == nil {
		panic("NewDecisionRouter: SafetyNet must not be nil")
	}
	if cfg.Tracker == nil {
		panic("NewDecisionRouter: Tracker must not be nil")
	}
	if cfg.Thresholds == nil {
		panic("NewDecisionRouter: Thresholds must not be nil")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &DecisionRouter{
		matcher:    cfg.Matcher,
		safetyNet:  cfg.SafetyNet,
		cache:      cfg.Cache,
		analyzer:   cfg.Analyzer,
		tracker:    cfg.Tracker,
		thresholds: cfg.Thresholds,
		recorder:   cfg.Recorder,
		logger:     logger,
	}
}

// Route runs the cascade for one ticket.
//
// Description:
//
//	Never returns an error and never panics on adapter misbehavior: every
//	failure path terminates in a decision. Cancellation of ctx propagates
//	into adapter calls; a decision recorded before cancellation is not
//	rolled back.
//
// Inputs:
//
//	ctx - Context for cancellation and tracing. Must not be nil.
//	ticket - The ticket to route. Empty text yields method "error".
//
// Outputs:
//
//	*RoutingDecision - The finalized decision. Never nil.
//
// Thread Safety: Safe for concurrent use.
func (r *DecisionRouter) Route(ctx context.Context, ticket Ticket) *RoutingDecision {
	start := time.Now()

	ctx, span := routerTracer.Start(ctx, "routing.DecisionRouter.Route",
		trace.WithAttributes(
			attribute.String("ticket_id", ticket.ID),
			attribute.String("text_preview", truncateForLog(ticket.Text, 80)),
		),
	)
	defer span.End()

	view := r.thresholds.Current()

	// Inputs that break even the keyword safety net are surfaced as an
	// explicit error decision, never as a thrown error.
	if strings.TrimSpace(ticket.Text) == "" {
		span.SetStatus(codes.Error, "empty ticket text")
		r.logger.Warn("routing rejected: empty ticket text",
			slog.String("ticket_id", ticket.ID),
		)
		return r.finalize(span, ticket, start, &RoutingDecision{
			Method:     MethodError,
			Confidence: 0,
			Evidence:   Evidence{Reasoning: NewRouterError(ErrCodeEmptyTicket, "ticket text is empty", false).Error()},
		})
	}

	// RULE_CHECK — terminal when a rule clears the floor.
	tierStart := time.Now()
	match := r.matcher.Evaluate(ticket.Text, ticket.Metadata)
	routerTierLatency.WithLabelValues("rule").Observe(time.Since(tierStart).Seconds())

	if match != nil && match.Confidence >= view.RuleFloor() {
		span.SetAttributes(attribute.String("rule_id", match.RuleID))
		return r.finalize(span, ticket, start, &RoutingDecision{
			Method:     MethodRule,
			Department: match.Department,
			Confidence: match.Confidence,
			Evidence:   Evidence{RuleID: match.RuleID},
		})
	}

	// CACHE_CHECK — one search serves both the hit test and the fallback
	// context, so the KNN oracle is queried at most once per ticket.
	var candidates []HistoricalCandidate
	if r.cache != nil {
		topK := view.MaxContextCandidates()
		if topK < 1 {
			topK = 1
		}

		tierStart = time.Now()
		cacheCtx, cancel := context.WithTimeout(ctx, view.CacheTimeout())
		found, err := r.cache.Search(cacheCtx, ticket.Text, topK)
		cancel()
		routerTierLatency.WithLabelValues("cache").Observe(time.Since(tierStart).Seconds())

		if err != nil {
			return r.degrade(ctx, span, ticket, start, "cache", err)
		}
		candidates = found

		if best, ok := bestCandidate(candidates); ok {
			accuracy := r.tracker.Accuracy(best.Department)
			if best.Similarity >= view.ConfidenceThreshold(best.Department) && accuracy >= view.AccuracyThreshold() {
				confidence := best.Similarity + view.CacheBoost()
				if confidence > MaxConfidence {
					confidence = MaxConfidence
				}
				sim := best.Similarity
				acc := accuracy
				span.SetAttributes(
					attribute.Float64("cache_similarity", sim),
					attribute.Float64("cache_accuracy", acc),
				)
				return r.finalize(span, ticket, start, &RoutingDecision{
					Method:     MethodCache,
					Department: best.Department,
					Confidence: confidence,
					Evidence:   Evidence{Similarity: &sim, Accuracy: &acc},
				})
			}
		}
	}

	// FALLBACK — the expensive contextual analyzer, with cache candidates
	// as context.
	if r.analyzer != nil {
		tierStart = time.Now()
		fbCtx, cancel := context.WithTimeout(ctx, view.FallbackTimeout())
		result, err := r.analyzer.Classify(fbCtx, ticket.Text, candidates)
		cancel()
		routerTierLatency.WithLabelValues("fallback").Observe(time.Since(tierStart).Seconds())

		if err != nil {
			return r.degrade(ctx, span, ticket, start, "fallback", err)
		}
		if result == nil || result.Department == "" || !result.Label.Valid() {
			return r.degrade(ctx, span, ticket, start, "fallback",
				NewRouterError(ErrCodeAdapterUnavailable, "analyzer returned an unusable classification", false))
		}

		span.SetAttributes(attribute.String("fallback_label", string(result.Label)))
		return r.finalize(span, ticket, start, &RoutingDecision{
			Method:     MethodFallback,
			Department: result.Department,
			Confidence: view.LabelConfidence(result.Label),
			Evidence:   Evidence{Reasoning: result.Reasoning},
		})
	}

	// No analyzer configured — the safety net is the fallback.
	return r.safeDecision(span, ticket, start, "no fallback analyzer configured")
}

// degrade resolves an adapter failure to the FALLBACK_SAFE path.
func (r *DecisionRouter) degrade(ctx context.Context, span trace.Span, ticket Ticket, start time.Time, adapter string, err error) *RoutingDecision {
	_ = ctx

	rerr := classifyAdapterError(adapter, err)
	routerAdapterFailures.WithLabelValues(adapter, string(rerr.Code)).Inc()
	span.RecordError(rerr)
	span.SetAttributes(
		attribute.String("degraded_adapter", adapter),
		attribute.String("degraded_reason", string(rerr.Code)),
	)

	r.logger.Warn("adapter failed, degrading to safety net",
		slog.String("ticket_id", ticket.ID),
		slog.String("adapter", adapter),
		slog.String("code", string(rerr.Code)),
		slog.String("error", rerr.Error()),
	)

	return r.safeDecision(span, ticket, start, rerr.Error())
}

// safeDecision emits a FALLBACK_SAFE decision from the keyword heuristic.
func (r *DecisionRouter) safeDecision(span trace.Span, ticket Ticket, start time.Time, cause string) *RoutingDecision {
	department, matched := r.safetyNet.Classify(ticket.Text)
	reasoning := "keyword safety net (" + cause + ")"
	if len(matched) > 0 {
		reasoning += ": matched " + strings.Join(matched, ", ")
	}
	return r.finalize(span, ticket, start, &RoutingDecision{
		Method:     MethodFallbackSafe,
		Department: department,
		Confidence: SafeConfidence,
		Evidence:   Evidence{Reasoning: reasoning},
	})
}

// finalize stamps, clamps, records, and returns the decision. Every
// terminal path funnels through here so the invariants hold on all of them.
func (r *DecisionRouter) finalize(span trace.Span, ticket Ticket, start time.Time, d *RoutingDecision) *RoutingDecision {
	d.DecisionID = uuid.NewString()
	d.TicketID = ticket.ID
	d.ProcessingTimeMs = time.Since(start).Milliseconds()
	d.Timestamp = time.Now().UTC()
	d.TextPreview = truncateForLog(ticket.Text, 80)

	if d.Confidence < 0 {
		d.Confidence = 0
	}
	if d.Confidence > 1 {
		d.Confidence = 1
	}

	routerDecisionsTotal.WithLabelValues(string(d.Method)).Inc()
	routerConfidence.Observe(d.Confidence)

	span.SetAttributes(
		attribute.String("method", string(d.Method)),
		attribute.String("department", d.Department),
		attribute.Float64("confidence", d.Confidence),
		attribute.Int64("processing_time_ms", d.ProcessingTimeMs),
	)

	r.logger.Info("routing decision",
		slog.String("ticket_id", d.TicketID),
		slog.String("decision_id", d.DecisionID),
		slog.String("method", string(d.Method)),
		slog.String("department", d.Department),
		slog.Float64("confidence", d.Confidence),
		slog.Int64("processing_time_ms", d.ProcessingTimeMs),
	)

	if r.recorder != nil {
		r.recorder.Record(d)
	}
	return d
}

// bestCandidate returns the highest-similarity candidate. The adapter
// contract says candidates arrive ranked, but the gate is cheap enough to
// not depend on it.
func bestCandidate(candidates []HistoricalCandidate) (HistoricalCandidate, bool) {
	if len(candidates) == 0 {
		return HistoricalCandidate{}, false
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Similarity > best.Similarity {
			best = c
		}
	}
	return best, true
}
