// Copyright (C) 2025 Harbor Desk (oss@harbordesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestProvider_InitialLoad(t *testing.T) {
	dir := writeConfigDir(t, map[string]string{"thresholds.json": baseDocument})

	p, err := NewProvider(dir, "", "", true, nil)
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	if got := p.CurrentSnapshot().Version(); got != "base" {
		t.Errorf("version = %q, want base", got)
	}
	if p.Current() == nil {
		t.Error("Current() returned nil view")
	}
}

func TestProvider_StrictFailsOnBadConfig(t *testing.T) {
	dir := writeConfigDir(t, map[string]string{"thresholds.json": `{broken`})

	if _, err := NewProvider(dir, "", "", true, nil); err == nil {
		t.Error("expected strict mode to fail on broken config")
	}
}

func TestProvider_NonStrictDegrades(t *testing.T) {
	dir := writeConfigDir(t, map[string]string{"thresholds.json": `{broken`})

	p, err := NewProvider(dir, "", "", false, nil)
	if err != nil {
		t.Fatalf("non-strict mode returned error: %v", err)
	}
	if !p.CurrentSnapshot().Degraded() {
		t.Error("expected degraded snapshot in non-strict mode")
	}
}

func TestProvider_ReloadSwapsSnapshot(t *testing.T) {
	dir := writeConfigDir(t, map[string]string{"thresholds.json": baseDocument})
	p, err := NewProvider(dir, "", "", true, nil)
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	updated := `{"version": "v2", "routing_thresholds": {"default": 0.9}}`
	if err := os.WriteFile(filepath.Join(dir, "thresholds.json"), []byte(updated), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	if err := p.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := p.CurrentSnapshot().Version(); got != "v2" {
		t.Errorf("version = %q, want v2", got)
	}
	if got := p.Current().ConfidenceThreshold("x"); got != 0.9 {
		t.Errorf("ConfidenceThreshold = %v, want 0.9", got)
	}
}

func TestProvider_FailedReloadKeepsPrevious(t *testing.T) {
	dir := writeConfigDir(t, map[string]string{"thresholds.json": baseDocument})
	p, err := NewProvider(dir, "", "", true, nil)
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	before := p.CurrentSnapshot()

	if err := os.WriteFile(filepath.Join(dir, "thresholds.json"), []byte(`{broken`), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	if err := p.Reload(); err == nil {
		t.Fatal("expected reload error")
	}
	if p.CurrentSnapshot() != before {
		t.Error("failed reload replaced the active snapshot")
	}
}

func TestProvider_InFlightViewStable(t *testing.T) {
	dir := writeConfigDir(t, map[string]string{"thresholds.json": baseDocument})
	p, err := NewProvider(dir, "", "", true, nil)
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	// A view captured before a reload keeps serving the old values.
	view := p.Current()
	updated := `{"version": "v2", "routing_thresholds": {"default": 0.9}}`
	if err := os.WriteFile(filepath.Join(dir, "thresholds.json"), []byte(updated), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	if err := p.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}

	if got := view.ConfidenceThreshold("x"); got != 0.85 {
		t.Errorf("captured view ConfidenceThreshold = %v, want pre-reload 0.85", got)
	}
	if got := p.Current().ConfidenceThreshold("x"); got != 0.9 {
		t.Errorf("fresh view ConfidenceThreshold = %v, want 0.9", got)
	}
}

func TestNewStaticProvider(t *testing.T) {
	p := NewStaticProvider(SafeSnapshot())

	if !p.CurrentSnapshot().Degraded() {
		t.Error("static provider lost its snapshot")
	}
	// Reload on a static provider is a no-op, not an error.
	if err := p.Reload(); err != nil {
		t.Errorf("static reload: %v", err)
	}
}

func TestIsThresholdDocument(t *testing.T) {
	cases := map[string]bool{
		"/etc/triage/thresholds.json":         true,
		"/etc/triage/thresholds.staging.json": true,
		"/etc/triage/routing_rules.yaml":      false,
		"/etc/triage/thresholds.json.swp":     false,
		"/etc/triage/other.json":              false,
	}
	for path, want := range cases {
		if got := isThresholdDocument(path); got != want {
			t.Errorf("isThresholdDocument(%q) = %v, want %v", path, got, want)
		}
	}
}
