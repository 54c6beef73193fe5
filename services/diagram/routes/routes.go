// Copyright (C) 2026 VisuaLearn (team@visualearn.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/visualearn/visualearn/services/diagram/handlers"
	"github.com/visualearn/visualearn/services/diagram/middleware"
	"github.com/visualearn/visualearn/services/diagram/observability"
	"github.com/visualearn/visualearn/services/diagram/ratelimit"
)

// SetupRoutes registers all endpoints on the router.
func SetupRoutes(router *gin.Engine, runner handlers.Runner, limiter *ratelimit.Limiter,
	metrics *observability.PipelineMetrics) {

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	v1.Use(middleware.RateLimit(limiter, metrics))
	{
		v1.POST("/diagram", handlers.HandleGenerateDiagram(runner))
		v1.GET("/diagram/stream", handlers.HandleDiagramStream(runner))
	}
}
