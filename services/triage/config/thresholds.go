// Copyright (C) 2025 Harbor Desk (oss@harbordesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"encoding/json"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/harbordesk/triage/services/triage/routing"
)

// =============================================================================
// Embedded Default Threshold Document
// =============================================================================

//go:embed thresholds.json
var defaultThresholdsJSON []byte

// MaxConfigFileSize bounds every configuration document read from disk.
const MaxConfigFileSize = 1 << 20 // 1 MiB

// =============================================================================
// Threshold Document Types
// =============================================================================

// ValidationRules are the bounds every declared threshold and SLA value must
// satisfy before a snapshot becomes active.
type ValidationRules struct {
	MinConfidenceThreshold float64 `json:"min_confidence_threshold"`
	MaxConfidenceThreshold float64 `json:"max_confidence_threshold"`
	MinSLAHours            int     `json:"min_sla_hours"`
	MaxSLAHours            int     `json:"max_sla_hours"`
}

// thresholdDocument is the merged, typed form of the hierarchical JSON
// configuration. Struct tags carry the cross-field sanity checks; the
// per-key min/max bounds from ValidationRules are enforced separately so
// violations can name the offending key.
type thresholdDocument struct {
	Version string `json:"version"`

	// RoutingThresholds holds similarity/accuracy gates: "default",
	// "accuracy", "rule_floor", plus per-department overrides.
	RoutingThresholds map[string]float64 `json:"routing_thresholds" validate:"required"`

	DepartmentSLAHours map[string]int `json:"department_sla_hours"`

	// AdapterTimeoutsMs holds "cache" and "fallback" budgets.
	AdapterTimeoutsMs map[string]int `json:"adapter_timeouts_ms" validate:"omitempty,dive,gte=1"`

	CacheBoost *float64 `json:"cache_boost" validate:"omitempty,gte=0,lte=0.5"`

	LabelConfidence map[string]float64 `json:"label_confidence" validate:"omitempty,dive,gte=0,lte=1"`

	MaxContextCandidates int `json:"max_context_candidates" validate:"gte=0,lte=50"`

	ValidationRules ValidationRules `json:"validation_rules"`

	FeatureFlags map[string]bool `json:"feature_flags"`
}

// =============================================================================
// Validation Errors
// =============================================================================

// ValidationError names a threshold or SLA value outside its configured
// bounds: the offending key, its value, and the violated bound.
type ValidationError struct {
	Key   string
	Value float64
	Min   float64
	Max   float64
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation: key %q value %v outside bounds [%v, %v]",
		e.Key, e.Value, e.Min, e.Max)
}

// =============================================================================
// Snapshot
// =============================================================================

// Defaults applied when the merged document omits a value.
const (
	DefaultConfidenceThreshold = 0.85
	DefaultAccuracyThreshold   = 0.85
	DefaultCacheBoost          = 0.10
	DefaultSLAHours            = 24
	DefaultCacheTimeout        = 2 * time.Second
	DefaultFallbackTimeout     = 10 * time.Second
	DefaultContextCandidates   = 5
)

// Snapshot is one versioned, immutable view of the threshold configuration.
//
// Description:
//
//	Snapshots are never mutated in place: a reload produces a brand-new
//	Snapshot which the Provider swaps in atomically. Accessors therefore
//	need no locking, and a request that captured a snapshot keeps seeing
//	one consistent configuration for its whole lifetime.
//
// Thread Safety: Immutable; safe for concurrent use.
type Snapshot struct {
	version  string
	degraded bool

	routingThresholds  map[string]float64
	departmentSLAHours map[string]int
	cacheTimeout       time.Duration
	fallbackTimeout    time.Duration
	cacheBoost         float64
	labelConfidence    map[routing.ConfidenceLabel]float64
	maxContext         int
	featureFlags       map[string]bool
}

// Version returns the document's declared version, or "safe-fallback" for
// the built-in degraded snapshot.
func (s *Snapshot) Version() string { return s.version }

// Degraded reports whether this is the hard-coded safe snapshot installed
// after a load failure.
func (s *Snapshot) Degraded() bool { return s.degraded }

// ConfidenceThreshold returns the similarity gate for a department,
// falling back to the "default" key, then to DefaultConfidenceThreshold.
func (s *Snapshot) ConfidenceThreshold(department string) float64 {
	if v, ok := s.routingThresholds[department]; ok {
		return v
	}
	if v, ok := s.routingThresholds["default"]; ok {
		return v
	}
	return DefaultConfidenceThreshold
}

// AccuracyThreshold returns the historical-accuracy gate for cache hits.
func (s *Snapshot) AccuracyThreshold() float64 {
	if v, ok := s.routingThresholds["accuracy"]; ok {
		return v
	}
	return DefaultAccuracyThreshold
}

// RuleFloor returns the rule-acceptance floor.
func (s *Snapshot) RuleFloor() float64 {
	if v, ok := s.routingThresholds["rule_floor"]; ok {
		return v
	}
	return routing.DefaultRuleFloor
}

// CacheBoost returns the cache-hit confidence boost. An empirically chosen
// constant, kept configurable rather than derived.
func (s *Snapshot) CacheBoost() float64 { return s.cacheBoost }

// LabelConfidence maps an analyzer label to numeric confidence. Unknown
// labels map to the "low" value.
func (s *Snapshot) LabelConfidence(label routing.ConfidenceLabel) float64 {
	if v, ok := s.labelConfidence[label]; ok {
		return v
	}
	return s.labelConfidence[routing.LabelLow]
}

// SLAHours returns the SLA window for a department, falling back to the
// "default" key, then to DefaultSLAHours.
func (s *Snapshot) SLAHours(department string) int {
	if v, ok := s.departmentSLAHours[department]; ok {
		return v
	}
	if v, ok := s.departmentSLAHours["default"]; ok {
		return v
	}
	return DefaultSLAHours
}

// FeatureEnabled reports whether a named feature flag is on.
func (s *Snapshot) FeatureEnabled(name string) bool {
	return s.featureFlags[name]
}

// CacheTimeout bounds one semantic cache call.
func (s *Snapshot) CacheTimeout() time.Duration { return s.cacheTimeout }

// FallbackTimeout bounds one contextual analyzer call.
func (s *Snapshot) FallbackTimeout() time.Duration { return s.fallbackTimeout }

// MaxContextCandidates is how many historical candidates are handed to the
// analyzer.
func (s *Snapshot) MaxContextCandidates() int { return s.maxContext }

// compile-time interface check
var _ routing.ThresholdView = (*Snapshot)(nil)

// =============================================================================
// Loading
// =============================================================================

// Load builds a Snapshot from hierarchical JSON documents.
//
// Description:
//
//	Reads dir/thresholds.json (required), deep-merges dir/thresholds.<env>.json
//	over it when env is non-empty and the file exists, then deep-merges
//	dir/thresholds.<region>.json the same way. Override wins per leaf key;
//	nested maps merge recursively. The merged document is then validated:
//	struct-level sanity via validator tags, and every routing threshold and
//	SLA value against the document's own validation_rules bounds. A bounds
//	violation returns a typed *ValidationError naming the key.
//
// Inputs:
//
//	dir - Directory holding the threshold documents.
//	env - Environment overlay name (e.g. "staging"). Empty skips the layer.
//	region - Region overlay name (e.g. "emea"). Empty skips the layer.
//
// Outputs:
//
//	*Snapshot - Validated, active-ready snapshot.
//	error - Parse, merge, or validation failure. The caller decides whether
//	        to fail hard or degrade to SafeSnapshot.
func Load(dir, env, region string) (*Snapshot, error) {
	base, err := readDocument(filepath.Join(dir, "thresholds.json"), true)
	if err != nil {
		return nil, err
	}

	merged := base
	for _, overlay := range []string{env, region} {
		if overlay == "" {
			continue
		}
		doc, err := readDocument(filepath.Join(dir, "thresholds."+overlay+".json"), false)
		if err != nil {
			return nil, err
		}
		if doc != nil {
			merged = DeepMerge(merged, doc)
		}
	}

	return snapshotFromRaw(merged)
}

// LoadDefault builds a Snapshot from the embedded default document.
func LoadDefault() (*Snapshot, error) {
	var raw map[string]any
	if err := json.Unmarshal(defaultThresholdsJSON, &raw); err != nil {
		return nil, fmt.Errorf("embedded thresholds: %w", err)
	}
	return snapshotFromRaw(raw)
}

// LoadOrSafe loads like Load but degrades to the safe snapshot on any
// failure, logging the error. This is fallback-snapshot mode; strict
// deployments call Load and treat errors as fatal.
func LoadOrSafe(dir, env, region string, logger *slog.Logger) *Snapshot {
	if logger == nil {
		logger = slog.Default()
	}
	snap, err := Load(dir, env, region)
	if err != nil {
		logger.Error("threshold config load failed, using safe fallback snapshot",
			slog.String("dir", dir),
			slog.String("env", env),
			slog.String("region", region),
			slog.String("error", err.Error()),
		)
		return SafeSnapshot()
	}
	return snap
}

// SafeSnapshot returns the minimal hard-coded snapshot used when loading
// fails. Marked degraded so operators can alert on it.
func SafeSnapshot() *Snapshot {
	return &Snapshot{
		version:  "safe-fallback",
		degraded: true,
		routingThresholds: map[string]float64{
			"default":    DefaultConfidenceThreshold,
			"accuracy":   DefaultAccuracyThreshold,
			"rule_floor": routing.DefaultRuleFloor,
		},
		departmentSLAHours: map[string]int{"default": DefaultSLAHours},
		cacheTimeout:       DefaultCacheTimeout,
		fallbackTimeout:    DefaultFallbackTimeout,
		cacheBoost:         DefaultCacheBoost,
		labelConfidence: map[routing.ConfidenceLabel]float64{
			routing.LabelHigh:   0.90,
			routing.LabelMedium: 0.75,
			routing.LabelLow:    0.60,
		},
		maxContext:   DefaultContextCandidates,
		featureFlags: map[string]bool{},
	}
}

// readDocument reads and parses one JSON document. A missing optional file
// returns (nil, nil); a missing required file is an error.
func readDocument(path string, required bool) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !required {
			return nil, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if len(data) > MaxConfigFileSize {
		return nil, fmt.Errorf("config %s exceeds maximum size (%d > %d)", path, len(data), MaxConfigFileSize)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return raw, nil
}

// DeepMerge merges src over dst recursively. Later wins per leaf key;
// values that are maps on both sides merge key-by-key. Neither input is
// mutated.
func DeepMerge(dst, src map[string]any) map[string]any {
	out := make(map[string]any, len(dst)+len(src))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range src {
		srcMap, srcIsMap := v.(map[string]any)
		dstMap, dstIsMap := out[k].(map[string]any)
		if srcIsMap && dstIsMap {
			out[k] = DeepMerge(dstMap, srcMap)
			continue
		}
		out[k] = v
	}
	return out
}

// snapshotFromRaw decodes, validates, and freezes a merged raw document.
func snapshotFromRaw(raw map[string]any) (*Snapshot, error) {
	// Round-trip through JSON to get the typed form of the merged map.
	buf, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("re-encode merged config: %w", err)
	}
	var doc thresholdDocument
	if err := json.Unmarshal(buf, &doc); err != nil {
		return nil, fmt.Errorf("decode merged config: %w", err)
	}

	if err := validator.New().Struct(&doc); err != nil {
		return nil, fmt.Errorf("config structure validation: %w", err)
	}
	if err := validateBounds(&doc); err != nil {
		return nil, err
	}

	snap := &Snapshot{
		version:            doc.Version,
		routingThresholds:  make(map[string]float64, len(doc.RoutingThresholds)),
		departmentSLAHours: make(map[string]int, len(doc.DepartmentSLAHours)),
		cacheTimeout:       DefaultCacheTimeout,
		fallbackTimeout:    DefaultFallbackTimeout,
		cacheBoost:         DefaultCacheBoost,
		labelConfidence: map[routing.ConfidenceLabel]float64{
			routing.LabelHigh:   0.90,
			routing.LabelMedium: 0.75,
			routing.LabelLow:    0.60,
		},
		maxContext:   DefaultContextCandidates,
		featureFlags: make(map[string]bool, len(doc.FeatureFlags)),
	}
	for k, v := range doc.RoutingThresholds {
		snap.routingThresholds[k] = v
	}
	for k, v := range doc.DepartmentSLAHours {
		snap.departmentSLAHours[k] = v
	}
	if v, ok := doc.AdapterTimeoutsMs["cache"]; ok {
		snap.cacheTimeout = time.Duration(v) * time.Millisecond
	}
	if v, ok := doc.AdapterTimeoutsMs["fallback"]; ok {
		snap.fallbackTimeout = time.Duration(v) * time.Millisecond
	}
	if doc.CacheBoost != nil {
		snap.cacheBoost = *doc.CacheBoost
	}
	for k, v := range doc.LabelConfidence {
		label := routing.ConfidenceLabel(k)
		if label.Valid() {
			snap.labelConfidence[label] = v
		}
	}
	if doc.MaxContextCandidates > 0 {
		snap.maxContext = doc.MaxContextCandidates
	}
	for k, v := range doc.FeatureFlags {
		snap.featureFlags[k] = v
	}
	return snap, nil
}

// validateBounds checks every declared threshold and SLA value against the
// document's validation_rules. Zero-valued rules mean "no bound declared".
func validateBounds(doc *thresholdDocument) error {
	vr := doc.ValidationRules

	if vr.MinConfidenceThreshold != 0 || vr.MaxConfidenceThreshold != 0 {
		for key, value := range doc.RoutingThresholds {
			if value < vr.MinConfidenceThreshold || value > vr.MaxConfidenceThreshold {
				return &ValidationError{
					Key:   "routing_thresholds." + key,
					Value: value,
					Min:   vr.MinConfidenceThreshold,
					Max:   vr.MaxConfidenceThreshold,
				}
			}
		}
	}

	minSLA := vr.MinSLAHours
	if minSLA < 1 {
		minSLA = 1 // slaHours >= 1 is a model invariant, not a config choice
	}
	for key, value := range doc.DepartmentSLAHours {
		if value < minSLA || (vr.MaxSLAHours != 0 && value > vr.MaxSLAHours) {
			max := float64(vr.MaxSLAHours)
			if vr.MaxSLAHours == 0 {
				max = float64(value) // unbounded above; only the floor failed
			}
			return &ValidationError{
				Key:   "department_sla_hours." + key,
				Value: float64(value),
				Min:   float64(minSLA),
				Max:   max,
			}
		}
	}
	return nil
}
