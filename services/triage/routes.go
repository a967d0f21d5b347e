// Copyright (C) 2025 Harbor Desk (oss@harbordesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package triage

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all triage routes with the router.
//
// Description:
//
//	Registers all /v1/triage/* endpoints with the given Gin router group.
//	The router group should already have any required middleware applied.
//
// Routing Endpoints:
//
//	POST /v1/triage/route - Route a ticket through the decision cascade
//	POST /v1/triage/outcomes - Record human feedback on a routing
//
// Introspection Endpoints:
//
//	GET  /v1/triage/metrics/summary - Rolling-window performance summary
//	GET  /v1/triage/metrics/accuracy - Per-department accuracy records
//	GET  /v1/triage/config - Active threshold snapshot
//	POST /v1/triage/config/reload - Force a threshold reload
//
// Health Endpoints:
//
//	GET  /v1/triage/health - Health check
//	GET  /v1/triage/ready - Readiness check
//
// Example:
//
//	service, _ := triage.NewService(ctx, cfg)
//	handlers := triage.NewHandlers(service)
//
//	v1 := router.Group("/v1")
//	triage.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	triage := rg.Group("/triage")
	{
		// Decision cascade
		triage.POST("/route", handlers.HandleRoute)

		// Outcome feedback
		triage.POST("/outcomes", handlers.HandleOutcome)

		// Introspection
		triage.GET("/metrics/summary", handlers.HandleSummary)
		triage.GET("/metrics/accuracy", handlers.HandleAccuracy)
		triage.GET("/config", handlers.HandleConfig)
		triage.POST("/config/reload", handlers.HandleConfigReload)

		// Health checks
		triage.GET("/health", handlers.HandleHealth)
		triage.GET("/ready", handlers.HandleReady)
	}
}
