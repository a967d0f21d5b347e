// Copyright (C) 2025 Harbor Desk (oss@harbordesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package analyzer implements the contextual fallback tier: an LLM-backed
// classifier invoked only when rules and the semantic cache both fail to
// produce a confident routing.
package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/harbordesk/triage/services/triage/routing"
)

const (
	anthropicAPIVersion = "2023-06-01"
	defaultBaseURL      = "https://api.anthropic.com/v1/messages"
	defaultModel        = "claude-3-5-haiku-20241022"
	maxResponseTokens   = 512
)

// =============================================================================
// Wire Types
// =============================================================================

type anthropicRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	System    string             `json:"system,omitempty"`
	MaxTokens int                `json:"max_tokens"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []anthropicContent `json:"content"`
	Error   *anthropicError    `json:"error,omitempty"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// classificationPayload is the JSON object the model is instructed to emit.
type classificationPayload struct {
	Department string `json:"department"`
	Confidence string `json:"confidence"`
	Reasoning  string `json:"reasoning"`
}

// =============================================================================
// AnthropicAnalyzer
// =============================================================================

const systemPrompt = `You are a support ticket triage classifier. Given a ticket and optionally similar historical tickets, choose the single best department from the allowed list. Respond with ONLY a JSON object, no prose:
{"department": "<one of the allowed departments>", "confidence": "high|medium|low", "reasoning": "<one sentence>"}`

// AnthropicAnalyzer implements routing.FallbackAnalyzer against the
// Anthropic Messages API.
//
// Description:
//
//	The request carries the ticket text plus the historical candidates the
//	cache tier already fetched, so the model sees the same evidence the
//	cheaper tiers did. The caller owns the deadline via ctx; the embedded
//	http.Client carries no timeout of its own.
//
// Thread Safety: Safe for concurrent use.
type AnthropicAnalyzer struct {
	apiKey      string
	model       string
	baseURL     string
	departments []string
	httpClient  *http.Client
	logger      *slog.Logger
}

// Option configures an AnthropicAnalyzer.
type Option func(*AnthropicAnalyzer)

// WithBaseURL overrides the API endpoint (tests point this at httptest).
func WithBaseURL(url string) Option {
	return func(a *AnthropicAnalyzer) { a.baseURL = url }
}

// WithModel overrides the default model.
func WithModel(model string) Option {
	return func(a *AnthropicAnalyzer) { a.model = model }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(a *AnthropicAnalyzer) { a.httpClient = c }
}

// NewAnthropicAnalyzer creates an analyzer restricted to the given
// department vocabulary.
//
// Inputs:
//
//	apiKey - Anthropic API key. Must not be empty.
//	departments - Allowed department names. Must not be empty; the model
//	              may only answer from this list.
//	logger - Logger instance. May be nil.
func NewAnthropicAnalyzer(apiKey string, departments []string, logger *slog.Logger, opts ...Option) (*AnthropicAnalyzer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("analyzer: api key must not be empty")
	}
	if len(departments) == 0 {
		return nil, fmt.Errorf("analyzer: department list must not be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &AnthropicAnalyzer{
		apiKey:      apiKey,
		model:       defaultModel,
		baseURL:     defaultBaseURL,
		departments: departments,
		httpClient:  &http.Client{},
		logger:      logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Classify implements routing.FallbackAnalyzer.
func (a *AnthropicAnalyzer) Classify(ctx context.Context, text string, history []routing.HistoricalCandidate) (*routing.Classification, error) {
	reqBody := anthropicRequest{
		Model:     a.model,
		System:    systemPrompt,
		MaxTokens: maxResponseTokens,
		Messages: []anthropicMessage{
			{Role: "user", Content: a.buildPrompt(text, history)},
		},
	}
	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("analyzer: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", a.baseURL, bytes.NewBuffer(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("analyzer: build request: %w", err)
	}
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)
	req.Header.Set("content-type", "application/json")

	start := time.Now()
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("analyzer: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("analyzer: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("analyzer: api status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBytes)))
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(respBytes, &apiResp); err != nil {
		return nil, fmt.Errorf("analyzer: parse response: %w", err)
	}
	if apiResp.Error != nil {
		return nil, fmt.Errorf("analyzer: api error %s: %s", apiResp.Error.Type, apiResp.Error.Message)
	}

	classification, err := a.parseClassification(apiResp)
	if err != nil {
		return nil, err
	}

	a.logger.Debug("fallback classification",
		slog.String("department", classification.Department),
		slog.String("label", string(classification.Label)),
		slog.Duration("latency", time.Since(start)),
	)
	return classification, nil
}

// buildPrompt assembles the user message: allowed departments, the ticket,
// and the historical context the cache tier retrieved.
func (a *AnthropicAnalyzer) buildPrompt(text string, history []routing.HistoricalCandidate) string {
	var b strings.Builder
	b.WriteString("Allowed departments: ")
	b.WriteString(strings.Join(a.departments, ", "))
	b.WriteString("\n\nTicket:\n")
	b.WriteString(text)

	if len(history) > 0 {
		b.WriteString("\n\nSimilar historical tickets:")
		for _, cand := range history {
			fmt.Fprintf(&b, "\n- department=%s similarity=%.2f", cand.Department, cand.Similarity)
			if cand.PriorPredictionCorrect != nil {
				fmt.Fprintf(&b, " prior_prediction_correct=%t", *cand.PriorPredictionCorrect)
			}
		}
	}
	return b.String()
}

// parseClassification extracts the JSON object from the first text block,
// tolerating markdown code fences around it.
func (a *AnthropicAnalyzer) parseClassification(resp anthropicResponse) (*routing.Classification, error) {
	var raw string
	for _, block := range resp.Content {
		if block.Type == "text" && block.Text != "" {
			raw = block.Text
			break
		}
	}
	if raw == "" {
		return nil, fmt.Errorf("analyzer: response contained no text block")
	}

	raw = stripCodeFence(raw)
	var payload classificationPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("analyzer: malformed classification %q: %w", truncate(raw, 120), err)
	}
	if payload.Department == "" {
		return nil, fmt.Errorf("analyzer: classification missing department")
	}

	label := routing.ConfidenceLabel(strings.ToLower(payload.Confidence))
	if !label.Valid() {
		return nil, fmt.Errorf("analyzer: unknown confidence label %q", payload.Confidence)
	}
	return &routing.Classification{
		Department: payload.Department,
		Label:      label,
		Reasoning:  payload.Reasoning,
	}, nil
}

// stripCodeFence removes a surrounding ```json ... ``` fence if present.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
