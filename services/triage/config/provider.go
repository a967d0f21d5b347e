// Copyright (C) 2025 Harbor Desk (oss@harbordesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/harbordesk/triage/services/triage/routing"
)

// =============================================================================
// Provider — Atomic Snapshot Swapping
// =============================================================================

// reloadDebounce coalesces the burst of fsnotify events an editor or
// config-management tool produces for a single logical change.
const reloadDebounce = 250 * time.Millisecond

// Provider owns the active threshold Snapshot and swaps it atomically on
// reload.
//
// Description:
//
//	In-flight requests capture the snapshot pointer once via Current() and
//	keep it for their whole lifetime; a reload never changes thresholds
//	mid-request. A failed reload keeps the previous snapshot active.
//
// Thread Safety: Safe for concurrent use.
type Provider struct {
	current atomic.Pointer[Snapshot]

	dir    string
	env    string
	region string
	logger *slog.Logger

	watcher *fsnotify.Watcher
}

// NewProvider creates a Provider with an initial snapshot.
//
// Inputs:
//
//	dir - Directory holding the threshold documents.
//	env - Environment overlay name. Empty skips the layer.
//	region - Region overlay name. Empty skips the layer.
//	strict - When true, an initial load failure is returned to the caller.
//	         When false, the provider starts on the safe fallback snapshot.
//	logger - Logger instance. May be nil.
func NewProvider(dir, env, region string, strict bool, logger *slog.Logger) (*Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Provider{dir: dir, env: env, region: region, logger: logger}

	if strict {
		snap, err := Load(dir, env, region)
		if err != nil {
			return nil, err
		}
		p.current.Store(snap)
	} else {
		p.current.Store(LoadOrSafe(dir, env, region, logger))
	}

	snap := p.current.Load()
	logger.Info("threshold config loaded",
		slog.String("version", snap.Version()),
		slog.Bool("degraded", snap.Degraded()),
	)
	return p, nil
}

// NewStaticProvider wraps a fixed snapshot. Reload and Watch are no-ops.
// Intended for tests and single-shot tools.
func NewStaticProvider(snap *Snapshot) *Provider {
	p := &Provider{logger: slog.Default()}
	p.current.Store(snap)
	return p
}

// Current returns the active snapshot. Never nil.
func (p *Provider) Current() routing.ThresholdView {
	return p.current.Load()
}

// CurrentSnapshot returns the active snapshot with its concrete type, for
// callers that need accessors beyond the routing view (SLAs, flags).
func (p *Provider) CurrentSnapshot() *Snapshot {
	return p.current.Load()
}

// Reload re-reads the threshold documents and swaps the snapshot in.
//
// Outputs:
//
//	error - Non-nil when loading or validation failed. The previously
//	        active snapshot remains in place.
func (p *Provider) Reload() error {
	if p.dir == "" {
		return nil // static provider
	}
	snap, err := Load(p.dir, p.env, p.region)
	if err != nil {
		p.logger.Error("threshold config reload failed, keeping previous snapshot",
			slog.String("error", err.Error()),
		)
		return err
	}
	p.current.Store(snap)
	p.logger.Info("threshold config reloaded",
		slog.String("version", snap.Version()),
	)
	return nil
}

// Watch reloads the configuration whenever a threshold document changes.
//
// Description:
//
//	Watches the config directory (files are often replaced via rename, so
//	watching the directory rather than individual files is required) and
//	debounces event bursts. Blocks until ctx is cancelled or the watcher
//	fails. Run it in its own goroutine.
func (p *Provider) Watch(ctx context.Context) error {
	if p.dir == "" {
		<-ctx.Done()
		return ctx.Err()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	p.watcher = watcher
	defer watcher.Close()

	if err := watcher.Add(p.dir); err != nil {
		return err
	}
	p.logger.Info("threshold config watch started", slog.String("dir", p.dir))

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isThresholdDocument(event.Name) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
				timerC = timer.C
			} else {
				timer.Reset(reloadDebounce)
			}

		case <-timerC:
			timerC = nil
			timer = nil
			_ = p.Reload() // failure already logged; previous snapshot stays active

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			p.logger.Warn("threshold config watch error", slog.String("error", err.Error()))
		}
	}
}

// isThresholdDocument reports whether a changed path is one of the
// hierarchical threshold files.
func isThresholdDocument(path string) bool {
	name := filepath.Base(path)
	return strings.HasPrefix(name, "thresholds") && strings.HasSuffix(name, ".json")
}
