// Copyright (C) 2025 Harbor Desk (oss@harbordesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command triage starts the Harbor Desk ticket routing API server.
//
// The service routes support tickets through a tiered decision cascade:
//   - Deterministic rule matching (regex/substring, keyword boosts)
//   - Semantic cache of historical routings (Weaviate, accuracy-gated)
//   - Contextual LLM fallback (Anthropic, confidence-labeled)
//   - Keyword safety net when everything above fails
//
// Usage:
//
//	go run ./cmd/triage
//	go run ./cmd/triage -port 9090 -config-dir ./config -env staging -region emea
//
// With the semantic cache tier:
//
//	WEAVIATE_HOST=localhost:8081 go run ./cmd/triage
//
// With the contextual fallback tier:
//
//	ANTHROPIC_API_KEY=sk-... go run ./cmd/triage
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8080/v1/triage/health
//
//	# Route a ticket
//	curl -X POST http://localhost:8080/v1/triage/route \
//	  -H "Content-Type: application/json" \
//	  -d '{"text": "I dispute this R500 charge"}'
//
//	# Record the outcome
//	curl -X POST http://localhost:8080/v1/triage/outcomes \
//	  -H "Content-Type: application/json" \
//	  -d '{"department": "credit_management", "was_correct": true}'
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"golang.org/x/sync/errgroup"

	"github.com/harbordesk/triage/services/triage"
	"github.com/harbordesk/triage/services/triage/analytics"
	"github.com/harbordesk/triage/services/triage/analyzer"
	"github.com/harbordesk/triage/services/triage/config"
	"github.com/harbordesk/triage/services/triage/routing"
	"github.com/harbordesk/triage/services/triage/semcache"
	badgerstore "github.com/harbordesk/triage/services/triage/storage/badger"
)

const shutdownGrace = 10 * time.Second

func main() {
	port := flag.Int("port", 8080, "Port to listen on")
	debug := flag.Bool("debug", false, "Enable debug mode")
	configDir := flag.String("config-dir", "", "Directory holding threshold documents (empty: embedded defaults)")
	env := flag.String("env", os.Getenv("TRIAGE_ENV"), "Environment overlay (e.g. staging)")
	region := flag.String("region", os.Getenv("TRIAGE_REGION"), "Region overlay (e.g. emea)")
	configStrict := flag.Bool("config-strict", false, "Fail startup on invalid config instead of degrading to the safe snapshot")
	rulesPath := flag.String("rules", "", "Routing rule table YAML (empty: embedded defaults)")
	decisionLog := flag.String("decision-log", "", "JSONL decision log path (empty: disabled)")
	dataDir := flag.String("data-dir", os.Getenv("TRIAGE_DATA_DIR"), "BadgerDB directory for accuracy persistence (empty: memory-only)")
	flag.Parse()

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	// W3C TraceContext propagation so trace context flows from incoming
	// headers through all handlers.
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, runOptions{
		port:         *port,
		debug:        *debug,
		configDir:    *configDir,
		env:          *env,
		region:       *region,
		configStrict: *configStrict,
		rulesPath:    *rulesPath,
		decisionLog:  *decisionLog,
		dataDir:      *dataDir,
		logger:       logger,
	}); err != nil {
		logger.Error("triage server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

type runOptions struct {
	port         int
	debug        bool
	configDir    string
	env          string
	region       string
	configStrict bool
	rulesPath    string
	decisionLog  string
	dataDir      string
	logger       *slog.Logger
}

func run(ctx context.Context, opts runOptions) error {
	logger := opts.logger

	// Threshold configuration: hierarchical documents when a directory is
	// given, embedded defaults otherwise.
	var provider *config.Provider
	if opts.configDir != "" {
		p, err := config.NewProvider(opts.configDir, opts.env, opts.region, opts.configStrict, logger)
		if err != nil {
			return fmt.Errorf("threshold config: %w", err)
		}
		provider = p
	} else {
		snap, err := config.LoadDefault()
		if err != nil {
			return fmt.Errorf("embedded threshold config: %w", err)
		}
		provider = config.NewStaticProvider(snap)
	}

	// Routing rule table.
	ruleTable := config.DefaultRuleTable()
	if opts.rulesPath != "" {
		t, err := config.LoadRuleTableFile(opts.rulesPath)
		if err != nil {
			return fmt.Errorf("rule table: %w", err)
		}
		ruleTable = t
	}
	logger.Info("rule table loaded",
		slog.Int("rules", len(ruleTable.Rules)),
		slog.String("default_department", ruleTable.DefaultDepartment),
	)

	// Accuracy persistence. Graceful degradation: if BadgerDB cannot be
	// opened the tracker runs memory-only and routing continues.
	var accuracyStore routing.AccuracyStore
	var accuracyDB *badgerstore.DB
	if opts.dataDir != "" {
		cfg := badgerstore.DefaultConfig()
		cfg.Path = filepath.Join(opts.dataDir, "accuracy")
		db, err := badgerstore.OpenDB(cfg)
		if err != nil {
			logger.Warn("accuracy BadgerDB unavailable, running memory-only",
				slog.String("path", cfg.Path),
				slog.String("error", err.Error()),
			)
		} else {
			accuracyDB = db
			accuracyStore = routing.NewBadgerAccuracyStore(db, logger)
			logger.Info("accuracy BadgerDB opened", slog.String("path", cfg.Path))
		}
	}
	defer func() {
		if accuracyDB != nil {
			if err := accuracyDB.Close(); err != nil {
				logger.Warn("failed to close accuracy BadgerDB", slog.String("error", err.Error()))
			}
		}
	}()

	// Semantic cache tier (optional).
	var cache routing.SemanticCache
	if host := os.Getenv("WEAVIATE_HOST"); host != "" {
		c, err := semcache.NewWeaviateCache(semcache.Config{
			Host:   host,
			Scheme: os.Getenv("WEAVIATE_SCHEME"),
		}, logger)
		if err != nil {
			return fmt.Errorf("semantic cache: %w", err)
		}
		cache = c
		logger.Info("semantic cache enabled", slog.String("host", host))
	} else {
		logger.Info("semantic cache disabled (WEAVIATE_HOST not set)")
	}

	// Contextual fallback tier (optional).
	var fallback routing.FallbackAnalyzer
	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		a, err := analyzer.NewAnthropicAnalyzer(apiKey, departmentVocabulary(ruleTable), logger)
		if err != nil {
			return fmt.Errorf("fallback analyzer: %w", err)
		}
		fallback = a
		logger.Info("contextual fallback enabled")
	} else {
		logger.Info("contextual fallback disabled (ANTHROPIC_API_KEY not set)")
	}

	// Decision audit log (optional).
	var decisionLogger *analytics.DecisionLogger
	if opts.decisionLog != "" {
		dl, err := analytics.NewDecisionLogger(opts.decisionLog, logger)
		if err != nil {
			return fmt.Errorf("decision log: %w", err)
		}
		decisionLogger = dl
		logger.Info("decision log enabled", slog.String("path", opts.decisionLog))
	}

	svc, err := triage.NewService(ctx, triage.ServiceConfig{
		RuleTable:     ruleTable,
		Thresholds:    provider,
		Cache:         cache,
		Analyzer:      fallback,
		AccuracyStore: accuracyStore,
		DecisionLog:   decisionLogger,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("service init: %w", err)
	}
	defer svc.Close()

	handlers := triage.NewHandlers(svc)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("harbordesk-triage"))
	if opts.debug {
		router.Use(gin.Logger())
	}

	v1 := router.Group("/v1")
	triage.RegisterRoutes(v1, handlers)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", opts.port),
		Handler: router,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting triage server", slog.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Hot-reload thresholds on file change when a config directory is in
	// use.
	if opts.configDir != "" {
		g.Go(func() error {
			err := provider.Watch(gctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down triage server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// departmentVocabulary collects the distinct departments the rule table
// knows about, preserving first-seen order. This is the allowed answer set
// for the fallback analyzer.
func departmentVocabulary(table *config.RuleTable) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(dept string) {
		if _, ok := seen[dept]; ok || dept == "" {
			return
		}
		seen[dept] = struct{}{}
		out = append(out, dept)
	}
	for _, rule := range table.Rules {
		add(rule.Department)
	}
	add(table.DefaultDepartment)
	return out
}
