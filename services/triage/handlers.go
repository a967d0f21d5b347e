// Copyright (C) 2025 Harbor Desk (oss@harbordesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package triage

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/harbordesk/triage/services/triage/routing"
)

// =============================================================================
// Request/Response Types
// =============================================================================

// ErrorResponse is the uniform error payload.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// RouteRequest is the POST /v1/triage/route body.
type RouteRequest struct {
	TicketID string            `json:"ticket_id"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// OutcomeRequest is the POST /v1/triage/outcomes body: human feedback on
// whether a routed ticket landed in the right department.
type OutcomeRequest struct {
	TicketID   string `json:"ticket_id"`
	Department string `json:"department" binding:"required"`
	WasCorrect *bool  `json:"was_correct" binding:"required"`
}

// OutcomeResponse echoes the updated accuracy record.
type OutcomeResponse struct {
	TicketID string                 `json:"ticket_id,omitempty"`
	Record   routing.AccuracyRecord `json:"record"`
}

// ConfigResponse summarizes the active threshold snapshot.
type ConfigResponse struct {
	Version           string  `json:"version"`
	Degraded          bool    `json:"degraded"`
	DefaultThreshold  float64 `json:"default_confidence_threshold"`
	AccuracyThreshold float64 `json:"accuracy_threshold"`
	RuleFloor         float64 `json:"rule_floor"`
	CacheBoost        float64 `json:"cache_boost"`
	CacheTimeoutMs    int64   `json:"cache_timeout_ms"`
	FallbackTimeoutMs int64   `json:"fallback_timeout_ms"`
	MaxContextMatches int     `json:"max_context_candidates"`
}

// =============================================================================
// Handlers
// =============================================================================

// Handlers holds the HTTP handlers for the triage service.
type Handlers struct {
	svc *Service
}

// NewHandlers creates the handler set for a service.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// getOrCreateRequestID returns the inbound X-Request-ID, minting one when
// the caller sent none, and echoes it on the response.
func getOrCreateRequestID(c *gin.Context) string {
	id := c.GetHeader("X-Request-ID")
	if id == "" {
		id = uuid.NewString()
	}
	c.Header("X-Request-ID", id)
	return id
}

// HandleRoute handles POST /v1/triage/route.
//
// Description:
//
//	Runs one ticket through the decision cascade and returns the routing
//	decision. The cascade itself never fails; malformed request bodies are
//	the only 4xx source. A ticket without an ID is assigned one.
//
// Response:
//
//	200 OK: routing.RoutingDecision
//	400 Bad Request: Malformed JSON body
func (h *Handlers) HandleRoute(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleRoute")

	var req RouteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid request body: " + err.Error(),
			Code:  "INVALID_BODY",
		})
		return
	}
	if req.TicketID == "" {
		req.TicketID = uuid.NewString()
	}

	decision := h.svc.Route(c.Request.Context(), routing.Ticket{
		ID:       req.TicketID,
		Text:     req.Text,
		Metadata: req.Metadata,
	})

	logger.Debug("ticket routed",
		slog.String("ticket_id", req.TicketID),
		slog.String("method", string(decision.Method)),
	)
	c.JSON(http.StatusOK, decision)
}

// HandleOutcome handles POST /v1/triage/outcomes.
//
// Description:
//
//	Records whether a routed ticket was handled by the right department.
//	This is the feedback loop that moves the per-department accuracy the
//	cache gate reads.
//
// Response:
//
//	200 OK: OutcomeResponse with the updated accuracy record
//	400 Bad Request: Missing department or was_correct
func (h *Handlers) HandleOutcome(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleOutcome")

	var req OutcomeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid request body: " + err.Error(),
			Code:  "INVALID_BODY",
		})
		return
	}

	rec := h.svc.RecordOutcome(c.Request.Context(), req.Department, *req.WasCorrect)
	logger.Info("outcome recorded",
		slog.String("department", req.Department),
		slog.Bool("was_correct", *req.WasCorrect),
		slog.Float64("accuracy", rec.Accuracy),
	)
	c.JSON(http.StatusOK, OutcomeResponse{TicketID: req.TicketID, Record: rec})
}

// HandleSummary handles GET /v1/triage/metrics/summary: the rolling-window
// performance view (method hit rates, confidence distribution, latency).
func (h *Handlers) HandleSummary(c *gin.Context) {
	getOrCreateRequestID(c)
	c.JSON(http.StatusOK, h.svc.monitor.Summary())
}

// HandleAccuracy handles GET /v1/triage/metrics/accuracy: every known
// department's accuracy record, sorted by department.
func (h *Handlers) HandleAccuracy(c *gin.Context) {
	getOrCreateRequestID(c)
	c.JSON(http.StatusOK, gin.H{"departments": h.svc.tracker.Snapshot()})
}

// HandleConfig handles GET /v1/triage/config: a summary of the active
// threshold snapshot, including whether the service degraded to the safe
// fallback.
func (h *Handlers) HandleConfig(c *gin.Context) {
	getOrCreateRequestID(c)
	snap := h.svc.thresholds.CurrentSnapshot()
	c.JSON(http.StatusOK, ConfigResponse{
		Version:           snap.Version(),
		Degraded:          snap.Degraded(),
		DefaultThreshold:  snap.ConfidenceThreshold("default"),
		AccuracyThreshold: snap.AccuracyThreshold(),
		RuleFloor:         snap.RuleFloor(),
		CacheBoost:        snap.CacheBoost(),
		CacheTimeoutMs:    snap.CacheTimeout().Milliseconds(),
		FallbackTimeoutMs: snap.FallbackTimeout().Milliseconds(),
		MaxContextMatches: snap.MaxContextCandidates(),
	})
}

// HandleConfigReload handles POST /v1/triage/config/reload: forces a
// threshold reload without waiting for the file watcher.
//
// Response:
//
//	200 OK: ConfigResponse for the (possibly unchanged) active snapshot
//	422 Unprocessable Entity: Reload failed; previous snapshot kept
func (h *Handlers) HandleConfigReload(c *gin.Context) {
	getOrCreateRequestID(c)
	if err := h.svc.thresholds.Reload(); err != nil {
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error: "config reload failed: " + err.Error(),
			Code:  "CONFIG_RELOAD_FAILED",
		})
		return
	}
	h.HandleConfig(c)
}

// HandleHealth handles GET /v1/triage/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// HandleReady handles GET /v1/triage/ready. The service is ready as soon
// as a threshold snapshot is active; a degraded snapshot still serves
// traffic and is reported as such.
func (h *Handlers) HandleReady(c *gin.Context) {
	snap := h.svc.thresholds.CurrentSnapshot()
	c.JSON(http.StatusOK, gin.H{
		"status":          "ready",
		"config_degraded": snap.Degraded(),
	})
}
