// Copyright (C) 2026 VisuaLearn (team@visualearn.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package diagram provides the diagram service: the cache-aware,
// rate-limited front over the generation pipeline, plus the HTTP
// surface that exposes it.
//
// All collaborators are injected at construction time. The cache and
// rate limiter are explicitly constructed instances owned by the
// process bootstrap; there are no package-level singletons.
package diagram

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/singleflight"

	"github.com/visualearn/visualearn/services/diagram/cache"
	"github.com/visualearn/visualearn/services/diagram/config"
	"github.com/visualearn/visualearn/services/diagram/datatypes"
	"github.com/visualearn/visualearn/services/diagram/genai"
	"github.com/visualearn/visualearn/services/diagram/observability"
	"github.com/visualearn/visualearn/services/diagram/pipeline"
	"github.com/visualearn/visualearn/services/diagram/ratelimit"
	"github.com/visualearn/visualearn/services/diagram/recorder"
	"github.com/visualearn/visualearn/services/diagram/render"
	"github.com/visualearn/visualearn/services/diagram/routes"
)

// =============================================================================
// Service
// =============================================================================

// Service wires the pipeline, cache, limiter and HTTP surface together.
type Service struct {
	cfg          config.Config
	engine       *gin.Engine
	orchestrator *pipeline.Orchestrator
	cache        *cache.MultiLayerCache
	limiter      *ratelimit.Limiter
	metrics      *observability.PipelineMetrics
	logger       *slog.Logger
	flight       singleflight.Group
}

// Options carries optional collaborator overrides, used by tests and
// alternative deployments. Nil fields fall back to the production
// implementations built from config.
type Options struct {
	Client   genai.GenerationClient
	Renderer render.Renderer
	Recorder recorder.Recorder
	Metrics  *observability.PipelineMetrics
}

// New constructs a fully wired service.
func New(cfg config.Config, opts *Options, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts == nil {
		opts = &Options{}
	}

	client := opts.Client
	if client == nil {
		var err error
		client, err = genai.NewClient(genai.Config{
			APIKey:              cfg.OpenAIAPIKey,
			Model:               cfg.OpenAIModel,
			MaxReviewIterations: cfg.MaxReviewIterations,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("diagram service: %w", err)
		}
	}

	renderer := opts.Renderer
	if renderer == nil {
		renderer = render.NewHTTPRenderer(cfg.RendererURL, nil, logger)
	}

	rec := opts.Recorder
	if rec == nil {
		if cfg.RecordResponses {
			fileRec, err := recorder.NewFileRecorder(cfg.ResponsesDir, logger)
			if err != nil {
				return nil, fmt.Errorf("diagram service: %w", err)
			}
			rec = fileRec
		} else {
			rec = recorder.Nop{}
		}
	}

	orch, err := pipeline.New(client, renderer, rec, pipeline.Config{
		PlanningTimeout:   cfg.PlanningTimeout,
		GenerationTimeout: cfg.GenerationTimeout,
		ReviewTimeout:     cfg.ReviewTimeout,
		RefinementTimeout: cfg.RefinementTimeout,
		ImageTimeout:      cfg.ImageTimeout,
		MaxIterations:     cfg.MaxReviewIterations,
	}, logger)
	if err != nil {
		return nil, err
	}

	mlc := cache.NewMultiLayerCache(cache.MultiLayerConfig{
		Request:     cache.LayerConfig{MaxSize: cfg.RequestCache.MaxSize, DefaultTTL: cfg.RequestCache.DefaultTTL},
		Session:     cache.LayerConfig{MaxSize: cfg.SessionCache.MaxSize, DefaultTTL: cfg.SessionCache.DefaultTTL},
		Global:      cache.LayerConfig{MaxSize: cfg.GlobalCache.MaxSize, DefaultTTL: cfg.GlobalCache.DefaultTTL},
		Translation: cache.LayerConfig{MaxSize: cfg.TranslationCache.MaxSize, DefaultTTL: cfg.TranslationCache.DefaultTTL},
	})

	limiter := ratelimit.NewLimiter(ratelimit.Config{
		Window:      cfg.RateLimitWindow,
		MaxRequests: cfg.RateLimitMaxRequests,
	}, logger)

	svc := &Service{
		cfg:          cfg,
		orchestrator: orch,
		cache:        mlc,
		limiter:      limiter,
		metrics:      opts.Metrics,
		logger:       logger,
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(otelgin.Middleware("visualearn-diagram"))
	routes.SetupRoutes(engine, svc, limiter, svc.metrics)
	svc.engine = engine

	return svc, nil
}

// Router returns the underlying Gin engine, primarily for tests.
func (s *Service) Router() *gin.Engine {
	return s.engine
}

// Run starts the HTTP server and blocks until it stops.
func (s *Service) Run() error {
	addr := ":" + s.cfg.Port
	s.logger.Info("diagram service listening", "addr", addr)
	return s.engine.Run(addr)
}

// Close releases background resources (the limiter's sweeper).
func (s *Service) Close() {
	s.limiter.Close()
}

// =============================================================================
// Cache-Aware Pipeline Execution
// =============================================================================

// GenerateDiagram runs the pipeline for a concept, consulting the
// request, session, and global cache layers first and deduplicating
// identical concurrent runs.
//
// # Description
//
// Cache hits return an immutable snapshot marked FromCache. On a miss
// the run goes through singleflight keyed by the full normalized
// concept, so two clients asking for the same concept at the same
// moment share one backend run. Only the initiating caller's observer
// receives per-stage progress events; piggybacked callers get a single
// terminal complete event carrying their snapshot of the shared result.
//
// Results of cancelled runs are never written to the cache.
func (s *Service) GenerateDiagram(ctx context.Context, concept string, formats []string, observer pipeline.ProgressFunc) (*datatypes.PipelineResult, error) {
	sessionID := cache.SessionIDFromContext(ctx)
	if cached, layer, ok := s.cache.LookupResult(concept, sessionID); ok {
		s.metrics.ObserveCacheLookup(layer, true)
		s.metrics.ObserveRun("cached", "", 0)
		s.logger.Info("serving cached diagram", "layer", layer, "correlation_id", cached.CorrelationID)
		hit := cached.Snapshot()
		hit.FromCache = true
		if observer != nil {
			observer(datatypes.ProgressEvent{
				Type: "complete", Stage: string(pipeline.StateDone),
				Status: "Served from cache", Progress: 100, Data: hit,
			})
		}
		return hit, nil
	}
	s.metrics.ObserveCacheLookup(cache.NamespaceGlobal, false)

	// The flight key is the full normalized concept, never the hashed
	// cache key. Cache keys cover a bounded prefix, which is safe there
	// only because lookups re-check the stored concept; a flight
	// collision would hand a caller another concept's result outright.
	flightKey := cache.NamespaceRequest + ":" + cache.Normalize(concept)
	value, err, shared := s.flight.Do(flightKey, func() (any, error) {
		return s.runPipeline(ctx, concept, formats, observer)
	})
	if err != nil {
		return nil, err
	}

	result := value.(*datatypes.PipelineResult)
	if shared {
		// Piggybacked callers get their own snapshot so nobody can
		// mutate a sibling's response.
		result = result.Snapshot()
		if observer != nil {
			observer(datatypes.ProgressEvent{
				Type: "complete", Stage: string(pipeline.StateDone),
				Status: "Served from shared run", Progress: 100, Data: result,
			})
		}
	}
	return result, nil
}

func (s *Service) runPipeline(ctx context.Context, concept string, formats []string, observer pipeline.ProgressFunc) (*datatypes.PipelineResult, error) {
	done := s.metrics.PipelineStarted()
	defer done()

	result, err := s.orchestrator.Run(ctx, concept, formats, observer)
	if err != nil {
		code := ""
		if perr, ok := pipeline.AsError(err); ok {
			code = string(perr.Code)
		}
		s.metrics.ObserveRun("error", code, 0)
		return nil, err
	}

	s.metrics.ObserveRun("success", "", result.Iterations)
	s.metrics.ObserveStage("planning", result.StageTimes.Planning)
	s.metrics.ObserveStage("generating", result.StageTimes.Generation)
	s.metrics.ObserveStage("reviewing", result.StageTimes.Review)
	s.metrics.ObserveStage("converting", result.StageTimes.Conversion)

	// No cache writes for cancelled runs.
	if ctx.Err() == nil {
		s.cache.StoreResult(concept, cache.SessionIDFromContext(ctx), result)
	}
	return result, nil
}
