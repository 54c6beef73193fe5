// Copyright (C) 2026 VisuaLearn (team@visualearn.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the diagram
// service.
//
// Metrics are exposed via the /metrics endpoint. All operations are
// thread-safe via Prometheus's internal locking.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

const metricsNamespace = "visualearn"

const pipelineSubsystem = "pipeline"

// PipelineMetrics holds all Prometheus metrics for pipeline operations.
type PipelineMetrics struct {
	// RequestsTotal counts pipeline requests.
	// Labels: status (success, error, cached), code (error code or "").
	RequestsTotal *prometheus.CounterVec

	// StageDurationSeconds measures wall-clock time per stage.
	// Labels: stage (planning, generating, reviewing, converting).
	StageDurationSeconds *prometheus.HistogramVec

	// ReviewIterations observes how many review iterations runs take.
	ReviewIterations prometheus.Histogram

	// ActivePipelines tracks currently running pipelines.
	ActivePipelines prometheus.Gauge

	// CacheHitsTotal counts cache lookups by layer and outcome.
	// Labels: layer (request, session, global, translation), outcome (hit, miss).
	CacheHitsTotal *prometheus.CounterVec

	// RateLimitedTotal counts denied requests.
	RateLimitedTotal prometheus.Counter
}

// NewPipelineMetrics creates and registers all pipeline metrics on reg.
// Pass prometheus.DefaultRegisterer outside tests.
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	factory := promauto.With(reg)
	return &PipelineMetrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: pipelineSubsystem,
			Name:      "requests_total",
			Help:      "Total pipeline requests by status and error code.",
		}, []string{"status", "code"}),
		StageDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: pipelineSubsystem,
			Name:      "stage_duration_seconds",
			Help:      "Wall-clock duration per pipeline stage.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"stage"}),
		ReviewIterations: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: pipelineSubsystem,
			Name:      "review_iterations",
			Help:      "Review iterations per completed run.",
			Buckets:   []float64{1, 2, 3, 4, 5},
		}),
		ActivePipelines: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: pipelineSubsystem,
			Name:      "active",
			Help:      "Currently running pipelines.",
		}),
		CacheHitsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Cache lookups by layer and outcome.",
		}, []string{"layer", "outcome"}),
		RateLimitedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ratelimit",
			Name:      "denied_total",
			Help:      "Requests denied by the rate limiter.",
		}),
	}
}

// =============================================================================
// Recording Helpers
// =============================================================================

// ObserveStage records one stage duration. Nil-safe so callers can run
// without metrics wired.
func (m *PipelineMetrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDurationSeconds.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveRun records the outcome of one pipeline request.
func (m *PipelineMetrics) ObserveRun(status, code string, iterations int) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(status, code).Inc()
	if iterations > 0 {
		m.ReviewIterations.Observe(float64(iterations))
	}
}

// ObserveCacheLookup records one cache lookup outcome.
func (m *PipelineMetrics) ObserveCacheLookup(layer string, hit bool) {
	if m == nil {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.CacheHitsTotal.WithLabelValues(layer, outcome).Inc()
}

// ObserveRateLimited records one denied request.
func (m *PipelineMetrics) ObserveRateLimited() {
	if m == nil {
		return
	}
	m.RateLimitedTotal.Inc()
}

// PipelineStarted increments the active gauge and returns a done func.
func (m *PipelineMetrics) PipelineStarted() func() {
	if m == nil {
		return func() {}
	}
	m.ActivePipelines.Inc()
	return func() { m.ActivePipelines.Dec() }
}
