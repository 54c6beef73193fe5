// Copyright (C) 2026 VisuaLearn (team@visualearn.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package middleware provides HTTP middleware for the diagram service.
//
// # Rate Limiting Flow
//
//	Request
//	   │
//	   ▼
//	RateLimit middleware
//	   │
//	   ├─► limiter.Admit(clientIP)
//	   │
//	   ├─► denied: 429 + Retry-After, request aborted
//	   │
//	   └─► allowed: X-RateLimit-* headers, next handler
package middleware

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/visualearn/visualearn/services/diagram/datatypes"
	"github.com/visualearn/visualearn/services/diagram/observability"
	"github.com/visualearn/visualearn/services/diagram/pipeline"
	"github.com/visualearn/visualearn/services/diagram/ratelimit"
)

// RateLimit gates every request through the fixed-window limiter,
// keyed by client IP.
func RateLimit(limiter *ratelimit.Limiter, metrics *observability.PipelineMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		decision := limiter.Admit(c.ClientIP())

		c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))

		if !decision.Allowed {
			metrics.ObserveRateLimited()
			slog.Warn("request rate limited",
				"client", c.ClientIP(), "retry_after_s", decision.RetryAfterSeconds)
			c.Header("Retry-After", strconv.Itoa(decision.RetryAfterSeconds))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, datatypes.ErrorResponse{
				Code:              string(pipeline.CodeRateLimited),
				Message:           "Too many requests. Please retry later.",
				RetryAfterSeconds: decision.RetryAfterSeconds,
			})
			return
		}
		c.Next()
	}
}
