// Copyright (C) 2025 Harbor Desk (oss@harbordesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package semcache adapts a Weaviate vector store to the router's semantic
// cache contract: similarity search over historical, human-verified ticket
// routings.
package semcache

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/harbordesk/triage/services/triage/routing"
)

// DefaultClassName is the Weaviate class holding historical tickets.
const DefaultClassName = "HistoricalTicket"

// =============================================================================
// WeaviateCache
// =============================================================================

// Config describes the Weaviate connection.
type Config struct {
	// Host is the host:port of the Weaviate instance.
	Host string

	// Scheme is "http" or "https".
	Scheme string

	// ClassName overrides DefaultClassName when set.
	ClassName string
}

// WeaviateCache implements routing.SemanticCache over a Weaviate nearText
// query.
//
// Description:
//
//	Each Search issues one KNN query and maps Weaviate's certainty score
//	(already normalized to [0,1]) onto the candidate similarity. The
//	router owns the timeout via ctx; this adapter adds none of its own.
//
// Thread Safety: Safe for concurrent use.
type WeaviateCache struct {
	client    *weaviate.Client
	className string
	logger    *slog.Logger
}

// NewWeaviateCache connects a cache adapter to the given instance.
func NewWeaviateCache(cfg Config, logger *slog.Logger) (*WeaviateCache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Host == "" {
		return nil, fmt.Errorf("semcache: host must not be empty")
	}
	scheme := cfg.Scheme
	if scheme == "" {
		scheme = "http"
	}
	className := cfg.ClassName
	if className == "" {
		className = DefaultClassName
	}

	client, err := weaviate.NewClient(weaviate.Config{Host: cfg.Host, Scheme: scheme})
	if err != nil {
		return nil, fmt.Errorf("semcache: client init: %w", err)
	}
	return &WeaviateCache{client: client, className: className, logger: logger}, nil
}

// Search returns up to topK historical tickets similar to text, best first
// as returned by the vector store.
//
// Outputs:
//
//   - []routing.HistoricalCandidate: May be empty. Never nil on success.
//   - error: Transport or query failure. The router maps this onto its
//     degraded path.
func (c *WeaviateCache) Search(ctx context.Context, text string, topK int) ([]routing.HistoricalCandidate, error) {
	if topK < 1 {
		topK = 1
	}

	fields := []graphql.Field{
		{Name: "ticketId"},
		{Name: "department"},
		{Name: "resolutionTimeHours"},
		{Name: "satisfaction"},
		{Name: "priorPredictionCorrect"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "certainty"}}},
	}
	nearText := c.client.GraphQL().NearTextArgBuilder().
		WithConcepts([]string{text})

	resp, err := c.client.GraphQL().Get().
		WithClassName(c.className).
		WithNearText(nearText).
		WithLimit(topK).
		WithFields(fields...).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("semcache: search: %w", err)
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("semcache: search: %s", resp.Errors[0].Message)
	}

	candidates, err := parseCandidates(resp, c.className)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("semantic cache search",
		slog.Int("top_k", topK),
		slog.Int("candidates", len(candidates)),
	)
	return candidates, nil
}

// parseCandidates unpacks a GraphQL Get response into candidates. Split out
// from Search so the mapping is testable without a live instance.
func parseCandidates(resp *models.GraphQLResponse, className string) ([]routing.HistoricalCandidate, error) {
	get, ok := resp.Data["Get"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("semcache: response missing Get block")
	}
	objects, ok := get[className].([]any)
	if !ok {
		// A class with no objects yet comes back as null.
		return []routing.HistoricalCandidate{}, nil
	}

	candidates := make([]routing.HistoricalCandidate, 0, len(objects))
	for _, raw := range objects {
		obj, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		cand := routing.HistoricalCandidate{
			TicketID:   stringField(obj, "ticketId"),
			Department: stringField(obj, "department"),
		}
		cand.ResolutionTimeHours = floatField(obj, "resolutionTimeHours")
		cand.Satisfaction = floatField(obj, "satisfaction")
		if v, ok := obj["priorPredictionCorrect"].(bool); ok {
			cand.PriorPredictionCorrect = &v
		}
		if additional, ok := obj["_additional"].(map[string]any); ok {
			cand.Similarity = floatField(additional, "certainty")
		}
		candidates = append(candidates, cand)
	}
	return candidates, nil
}

func stringField(obj map[string]any, key string) string {
	v, _ := obj[key].(string)
	return v
}

func floatField(obj map[string]any, key string) float64 {
	switch v := obj[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}
