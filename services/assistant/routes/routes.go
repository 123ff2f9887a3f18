// Copyright (C) 2026 FieldTek Systems
// Licensed under the GNU Affero General Public License v3.0 or later.
// See the LICENSE.txt file for the full license text.

// Package routes registers the HTTP routes for the assistant service.
package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/WizardJames69/FieldTek-sub002/pkg/extensions"
	"github.com/WizardJames69/FieldTek-sub002/services/assistant/audit"
	"github.com/WizardJames69/FieldTek-sub002/services/assistant/handlers"
	"github.com/WizardJames69/FieldTek-sub002/services/assistant/middleware"
	"github.com/WizardJames69/FieldTek-sub002/services/assistant/services"
)

// SetupRoutes wires all endpoints onto the router.
//
// # Description
//
// Three surfaces:
//
//   - /health and /metrics: unauthenticated, for probes and Prometheus.
//   - POST /v1/assist: bearer auth, then per-tenant rate limiting, then
//     the guardrail pipeline.
//   - GET /v1/audit and /v1/usage: bearer auth only; reads never
//     consume quota.
func SetupRoutes(
	router *gin.Engine,
	pipeline *services.AssistPipeline,
	auditor *audit.Store,
	opts *extensions.ServiceOptions,
	limiter *middleware.RateLimiter,
) {
	router.GET("/health", handlers.HandleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(opts.AuthProvider, opts.SecurityLogger))
	{
		v1.POST("/assist",
			middleware.RateLimitMiddleware(limiter),
			handlers.HandleAssist(pipeline, auditor))
		v1.GET("/audit", handlers.HandleAuditList(auditor))
		v1.GET("/usage", handlers.HandleQuotaUsage(auditor, limiter))
	}
}
