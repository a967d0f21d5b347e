// Copyright (C) 2025 Harbor Desk (oss@harbordesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package triage

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/harbordesk/triage/services/triage/config"
	"github.com/harbordesk/triage/services/triage/routing"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// newTestRouter assembles a service over the embedded defaults with no
// external adapters: the rule tier and safety net carry all traffic.
func newTestRouter(t *testing.T) (*gin.Engine, *Service) {
	t.Helper()

	snap, err := config.LoadDefault()
	if err != nil {
		t.Fatalf("embedded config: %v", err)
	}
	svc, err := NewService(context.Background(), ServiceConfig{
		RuleTable:  config.DefaultRuleTable(),
		Thresholds: config.NewStaticProvider(snap),
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })

	router := gin.New()
	v1 := router.Group("/v1")
	RegisterRoutes(v1, NewHandlers(svc))
	return router, svc
}

func doJSON(t *testing.T, router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandleRoute_RuleDecision(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/v1/triage/route",
		`{"ticket_id": "t-1", "text": "I dispute this R500 charge"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	var decision routing.RoutingDecision
	if err := json.Unmarshal(w.Body.Bytes(), &decision); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decision.Method != routing.MethodRule {
		t.Errorf("method = %q, want rule", decision.Method)
	}
	if decision.Department != "credit_management" {
		t.Errorf("department = %q, want credit_management", decision.Department)
	}
	if decision.Confidence != 0.98 {
		t.Errorf("confidence = %v, want 0.98", decision.Confidence)
	}
	if decision.TicketID != "t-1" {
		t.Errorf("ticket_id = %q, want t-1", decision.TicketID)
	}
}

func TestHandleRoute_AssignsTicketID(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/v1/triage/route", `{"text": "hello"}`)

	var decision routing.RoutingDecision
	if err := json.Unmarshal(w.Body.Bytes(), &decision); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decision.TicketID == "" {
		t.Error("expected generated ticket ID")
	}
}

func TestHandleRoute_EmptyTextIsDecisionNotError(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/v1/triage/route", `{"text": ""}`)

	// The cascade owns the failure: HTTP 200 with an error-method decision.
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var decision routing.RoutingDecision
	if err := json.Unmarshal(w.Body.Bytes(), &decision); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decision.Method != routing.MethodError || decision.Confidence != 0 {
		t.Errorf("decision = %+v, want method error with confidence 0", decision)
	}
}

func TestHandleRoute_MalformedBody(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/v1/triage/route", `{broken`)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	var errResp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if errResp.Code != "INVALID_BODY" {
		t.Errorf("code = %q, want INVALID_BODY", errResp.Code)
	}
}

func TestHandleOutcome(t *testing.T) {
	router, svc := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/v1/triage/outcomes",
		`{"ticket_id": "t-1", "department": "billing", "was_correct": true}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	var resp OutcomeResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Record.Total != 1 || resp.Record.Accuracy != 1.0 {
		t.Errorf("record = %+v", resp.Record)
	}
	if got := svc.tracker.Accuracy("billing"); got != 1.0 {
		t.Errorf("tracker accuracy = %v, want 1.0", got)
	}
}

func TestHandleOutcome_FalseIsValid(t *testing.T) {
	router, _ := newTestRouter(t)

	// was_correct=false must bind: required-with-pointer, not required-non-zero.
	w := doJSON(t, router, http.MethodPost, "/v1/triage/outcomes",
		`{"department": "billing", "was_correct": false}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	var resp OutcomeResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Record.Correct != 0 || resp.Record.Total != 1 {
		t.Errorf("record = %+v", resp.Record)
	}
}

func TestHandleOutcome_MissingFields(t *testing.T) {
	router, _ := newTestRouter(t)

	for _, body := range []string{
		`{}`,
		`{"department": "billing"}`,
		`{"was_correct": true}`,
	} {
		w := doJSON(t, router, http.MethodPost, "/v1/triage/outcomes", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("body %s: status = %d, want 400", body, w.Code)
		}
	}
}

func TestHandleSummary_ReflectsTraffic(t *testing.T) {
	router, _ := newTestRouter(t)

	doJSON(t, router, http.MethodPost, "/v1/triage/route", `{"text": "I dispute this charge"}`)
	doJSON(t, router, http.MethodPost, "/v1/triage/route", `{"text": "nothing matches here"}`)

	w := doJSON(t, router, http.MethodGet, "/v1/triage/metrics/summary", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var summary struct {
		Decisions    int                `json:"decisions"`
		MethodCounts map[string]int     `json:"method_counts"`
		MethodRates  map[string]float64 `json:"method_rates"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if summary.Decisions != 2 {
		t.Errorf("decisions = %d, want 2", summary.Decisions)
	}
	if summary.MethodCounts["rule"] != 1 || summary.MethodCounts["fallback_safe"] != 1 {
		t.Errorf("method counts = %v", summary.MethodCounts)
	}
}

func TestHandleAccuracy(t *testing.T) {
	router, _ := newTestRouter(t)

	doJSON(t, router, http.MethodPost, "/v1/triage/outcomes",
		`{"department": "billing", "was_correct": true}`)

	w := doJSON(t, router, http.MethodGet, "/v1/triage/metrics/accuracy", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp struct {
		Departments []routing.AccuracyRecord `json:"departments"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Departments) != 1 || resp.Departments[0].Department != "billing" {
		t.Errorf("departments = %+v", resp.Departments)
	}
}

func TestHandleConfig(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodGet, "/v1/triage/config", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp ConfigResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Degraded {
		t.Error("embedded config reported degraded")
	}
	if resp.AccuracyThreshold != 0.85 || resp.RuleFloor != 0.85 {
		t.Errorf("config = %+v", resp)
	}
	if resp.CacheTimeoutMs != 2000 || resp.FallbackTimeoutMs != 10000 {
		t.Errorf("timeouts = %d/%d, want 2000/10000", resp.CacheTimeoutMs, resp.FallbackTimeoutMs)
	}
}

func TestHandleHealthAndReady(t *testing.T) {
	router, _ := newTestRouter(t)

	for _, path := range []string{"/v1/triage/health", "/v1/triage/ready"} {
		w := doJSON(t, router, http.MethodGet, path, "")
		if w.Code != http.StatusOK {
			t.Errorf("%s status = %d, want 200", path, w.Code)
		}
	}
}

func TestRequestIDEchoed(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/triage/route",
		strings.NewReader(`{"text": "hi"}`))
	req.Header.Set("X-Request-ID", "req-42")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "req-42" {
		t.Errorf("X-Request-ID = %q, want echoed req-42", got)
	}
}
