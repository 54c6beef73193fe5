// Copyright (C) 2026 VisuaLearn (team@visualearn.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package pipeline implements the generation pipeline orchestrator: a
// bounded state machine sequencing planning, generation, the iterative
// review/refinement loop, and export conversion.
//
// # State Machine
//
//	Idle → Planning → Generating → Reviewing → [Refining ⇄ Reviewing]* → Converting → Done
//
// with Failed reachable from any state.
//
// # Timeout Model
//
// Every AI-backed stage and the conversion stage runs under its own
// context deadline. There is no umbrella deadline on top: the total
// wall-clock bound is the sum of the per-stage timeouts plus the
// iteration cap, which keeps timeout semantics local and composable.
// Cancellation is cooperative; a late result arriving after its stage
// deadline fired is simply discarded.
//
// # Recovery Policy
//
// Planning and generation failures are fatal; a malformed first draft
// indicates a systemic prompt or model issue, not noise, so raw
// generation is never retried. Refinement failures are recoverable: the
// orchestrator reverts to the last known-valid document and forces
// approval, so the pipeline always ends with some valid document once
// one was produced. Conversion is partial-success: an image render
// failure is reported but does not discard the document.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/visualearn/visualearn/services/diagram/datatypes"
	"github.com/visualearn/visualearn/services/diagram/genai"
	"github.com/visualearn/visualearn/services/diagram/recorder"
	"github.com/visualearn/visualearn/services/diagram/render"
	"github.com/visualearn/visualearn/services/diagram/validation"
)

var tracer = otel.Tracer("visualearn.diagram.pipeline")

// =============================================================================
// States
// =============================================================================

// State names one phase of the orchestrator.
type State string

const (
	StateIdle       State = "idle"
	StatePlanning   State = "planning"
	StateGenerating State = "generating"
	StateReviewing  State = "reviewing"
	StateRefining   State = "refining"
	StateConverting State = "converting"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// stageProgress maps a state to the coarse progress percentage reported
// on the streaming endpoint.
var stageProgress = map[State]float64{
	StatePlanning:   10,
	StateGenerating: 40,
	StateReviewing:  70,
	StateRefining:   75,
	StateConverting: 90,
	StateDone:       100,
}

// =============================================================================
// Configuration
// =============================================================================

// Config bounds every stage of an orchestrator run.
type Config struct {
	PlanningTimeout   time.Duration
	GenerationTimeout time.Duration
	ReviewTimeout     time.Duration
	RefinementTimeout time.Duration
	ImageTimeout      time.Duration

	// MaxIterations caps the review/refine loop. Zero means 3.
	MaxIterations int

	// ExportFormats lists what Converting renders. Empty means svg+xml.
	ExportFormats []string
}

func (c *Config) applyDefaults() {
	if c.PlanningTimeout <= 0 {
		c.PlanningTimeout = 5 * time.Second
	}
	if c.GenerationTimeout <= 0 {
		c.GenerationTimeout = 12 * time.Second
	}
	if c.ReviewTimeout <= 0 {
		c.ReviewTimeout = 3 * time.Second
	}
	if c.RefinementTimeout <= 0 {
		c.RefinementTimeout = 10 * time.Second
	}
	if c.ImageTimeout <= 0 {
		c.ImageTimeout = 4 * time.Second
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = 3
	}
	if len(c.ExportFormats) == 0 {
		c.ExportFormats = []string{render.FormatSVG, render.FormatXML}
	}
}

// fallbackReviewScore is assigned when the very first review call fails
// or times out: the run force-approves rather than discarding a valid
// document over a broken reviewer.
const fallbackReviewScore = 70

// =============================================================================
// Observer
// =============================================================================

// ProgressFunc receives stage transition events for streaming clients.
// May be nil. Must not block for long; it is called inline.
type ProgressFunc func(event datatypes.ProgressEvent)

// =============================================================================
// Orchestrator
// =============================================================================

// Orchestrator drives the pipeline. It is stateless across runs; one
// instance serves concurrent requests.
type Orchestrator struct {
	client   genai.GenerationClient
	renderer render.Renderer
	rec      recorder.Recorder
	config   Config
	logger   *slog.Logger
}

// New creates an orchestrator.
//
// client is required. renderer may be nil when no image exports are
// wanted; rec may be nil to disable recording.
func New(client genai.GenerationClient, renderer render.Renderer, rec recorder.Recorder, config Config, logger *slog.Logger) (*Orchestrator, error) {
	if client == nil {
		return nil, fmt.Errorf("pipeline: generation client is required")
	}
	config.applyDefaults()
	if rec == nil {
		rec = recorder.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		client:   client,
		renderer: renderer,
		rec:      rec,
		config:   config,
		logger:   logger,
	}, nil
}

// run carries the mutable state of one pipeline execution.
type run struct {
	correlationID string
	concept       string
	startedAt     time.Time
	stageStart    time.Time
	state         State
	observer      ProgressFunc
	logger        *slog.Logger
}

// transition moves the run to next, emitting a progress event and a log
// line. Returns the duration spent in the previous stage.
func (r *run) transition(next State, status string) time.Duration {
	elapsed := time.Since(r.stageStart)
	r.state = next
	r.stageStart = time.Now()
	r.logger.Info("stage transition", "state", string(next), "status", status)
	if r.observer != nil {
		r.observer(datatypes.ProgressEvent{
			Type:           "progress",
			Stage:          string(next),
			Status:         status,
			Progress:       stageProgress[next],
			ElapsedSeconds: elapsed.Seconds(),
		})
	}
	return elapsed
}

// fail emits the terminal error event and returns err.
func (r *run) fail(err *Error) *Error {
	r.state = StateFailed
	r.logger.Error("pipeline failed", "code", string(err.Code), "stage", string(err.Stage), "error", err.Err)
	if r.observer != nil {
		r.observer(datatypes.ProgressEvent{
			Type:  "error",
			Stage: string(err.Stage),
			Error: string(err.Code),
		})
	}
	return err
}

// Run executes the full pipeline for one concept.
//
// # Description
//
// Sequences Planning → Generating → Reviewing ⇄ Refining → Converting.
// Stages execute strictly sequentially; each stage's input is the
// previous stage's validated output. On success the returned result
// holds the final document, the plan, review score, per-stage timings
// and any exports that rendered.
//
// # Outputs
//
//   - *datatypes.PipelineResult: Non-nil on success.
//   - error: A *Error with a stable code on failure. A cancelled outer
//     context always surfaces as CodeCancelled; callers must not cache
//     anything for a cancelled run.
//
// formats optionally overrides the configured export formats for this
// run; nil means the configured default.
func (o *Orchestrator) Run(ctx context.Context, concept string, formats []string, observer ProgressFunc) (*datatypes.PipelineResult, error) {
	ctx, span := tracer.Start(ctx, "pipeline.Run")
	defer span.End()

	correlationID := strings.Split(uuid.NewString(), "-")[0]
	span.SetAttributes(attribute.String("correlation_id", correlationID))

	r := &run{
		correlationID: correlationID,
		concept:       concept,
		startedAt:     time.Now(),
		stageStart:    time.Now(),
		state:         StateIdle,
		observer:      observer,
		logger:        o.logger.With("correlation_id", correlationID),
	}
	r.logger.Info("pipeline started", "concept_len", len(concept))

	var times datatypes.StageTimes

	// --- Planning ---
	r.transition(StatePlanning, "Analyzing concept")
	plan, perr := o.runPlanning(ctx, r)
	if perr != nil {
		span.SetStatus(codes.Error, string(perr.Code))
		return nil, r.fail(perr)
	}

	// --- Generating ---
	times.Planning = r.transition(StateGenerating, "Generating diagram")
	doc, gerr := o.runGeneration(ctx, r, plan)
	if gerr != nil {
		span.SetStatus(codes.Error, string(gerr.Code))
		return nil, r.fail(gerr)
	}

	// --- Reviewing / Refining loop ---
	times.Generation = r.transition(StateReviewing, "Reviewing diagram")
	reviewStart := time.Now()
	doc, review, attempts, rerr := o.runReviewLoop(ctx, r, doc, plan)
	if rerr != nil {
		span.SetStatus(codes.Error, string(rerr.Code))
		return nil, r.fail(rerr)
	}

	// --- Converting ---
	// The loop may have transitioned through Refining several times;
	// Review records the whole loop, not the last leg.
	r.transition(StateConverting, "Rendering exports")
	times.Review = time.Since(reviewStart)
	if len(formats) == 0 {
		formats = o.config.ExportFormats
	}
	exports, warning, cerr := o.runConversion(ctx, r, doc, formats)
	if cerr != nil {
		span.SetStatus(codes.Error, string(cerr.Code))
		return nil, r.fail(cerr)
	}

	times.Conversion = r.transition(StateDone, "Completed")

	result := &datatypes.PipelineResult{
		CorrelationID:      correlationID,
		Concept:            concept,
		Document:           doc,
		Plan:               plan,
		ReviewScore:        review.Score,
		Iterations:         review.Iteration,
		Exports:            exports,
		ExportWarning:      warning,
		TotalTime:          time.Since(r.startedAt),
		StageTimes:         times,
		RefinementAttempts: attempts,
	}

	r.logger.Info("pipeline completed",
		"total_time", result.TotalTime,
		"iterations", result.Iterations,
		"score", result.ReviewScore,
		"refinements", len(attempts))

	if observer != nil {
		observer(datatypes.ProgressEvent{
			Type:     "complete",
			Stage:    string(StateDone),
			Status:   "Completed",
			Progress: 100,
			Data:     result,
		})
	}
	return result, nil
}

// =============================================================================
// Stages
// =============================================================================

func (o *Orchestrator) runPlanning(ctx context.Context, r *run) (*datatypes.Plan, *Error) {
	stageCtx, cancel := context.WithTimeout(ctx, o.config.PlanningTimeout)
	defer cancel()

	plan, err := o.client.Plan(stageCtx, r.concept)
	if err != nil {
		perr := classifyStageErr(ctx, StatePlanning, err, CodePlanningTimeout, CodePlanningError)
		o.rec.Record(r.correlationID, "error", 0, map[string]any{"stage": "planning", "error": err.Error()})
		return nil, perr
	}

	o.rec.Record(r.correlationID, "planning", 0, plan)
	r.logger.Info("planning completed", "diagram_type", string(plan.DiagramType), "components", len(plan.Components))
	return plan, nil
}

func (o *Orchestrator) runGeneration(ctx context.Context, r *run, plan *datatypes.Plan) (*datatypes.DiagramDocument, *Error) {
	stageCtx, cancel := context.WithTimeout(ctx, o.config.GenerationTimeout)
	defer cancel()

	doc, err := o.client.Generate(stageCtx, plan)
	if err != nil {
		gerr := classifyStageErr(ctx, StateGenerating, err, CodeGenerationTimeout, CodeGenerationError)
		o.rec.Record(r.correlationID, "error", 0, map[string]any{"stage": "generation", "error": err.Error()})
		return nil, gerr
	}

	// A malformed first draft is fatal, never retried.
	if verr := validation.Validate(doc); verr != nil {
		o.rec.Record(r.correlationID, "error", 0, map[string]any{"stage": "generation", "validation": verr.Error()})
		return nil, newError(CodeValidationFailed, StateGenerating, verr)
	}
	if warnings := validation.CheckSelectors(doc); len(warnings) > 0 {
		r.logger.Warn("markup selector mismatches", "count", len(warnings))
	}

	o.rec.Record(r.correlationID, "generation", 0, map[string]any{
		"components": len(doc.Components),
		"steps":      len(doc.Steps),
		"markup_len": len(doc.Markup),
	})
	return doc, nil
}

// runReviewLoop drives the bounded Reviewing ⇄ Refining cycle.
//
// The returned document is always valid. A refinement that produces an
// invalid document reverts to the last valid snapshot and forces
// approval; a review failure on the first iteration force-approves with
// a fallback score rather than discarding a valid document.
func (o *Orchestrator) runReviewLoop(ctx context.Context, r *run, doc *datatypes.DiagramDocument, plan *datatypes.Plan) (*datatypes.DiagramDocument, *datatypes.Review, []datatypes.RefinementAttempt, *Error) {
	lastValid := doc.Clone()
	var review *datatypes.Review
	var attempts []datatypes.RefinementAttempt

	for iteration := 1; iteration <= o.config.MaxIterations; iteration++ {
		current, verr := o.reviewOnce(ctx, r, doc, plan, iteration)
		if verr != nil {
			if ctx.Err() != nil {
				return nil, nil, nil, newError(CodeCancelled, StateReviewing, ctx.Err())
			}
			if review == nil {
				// First review failed outright. The document already
				// passed structural validation, so approve it with a
				// fallback score instead of failing the run.
				r.logger.Warn("review failed, force-approving with fallback score", "error", verr)
				review = &datatypes.Review{
					Score:     fallbackReviewScore,
					Approved:  true,
					Feedback:  "Auto-approved after review failure.",
					Iteration: iteration,
				}
				break
			}
			// A later review failed; keep the current document and the
			// previous iteration's score.
			r.logger.Warn("review failed mid-loop, keeping current document", "iteration", iteration, "error", verr)
			review.Iteration = iteration
			break
		}
		review = current
		o.rec.Record(r.correlationID, "review", iteration, review)
		r.logger.Info("review completed", "iteration", iteration, "score", review.Score, "approved", review.Approved)

		if review.Approved || iteration >= o.config.MaxIterations {
			break
		}

		// --- Refining ---
		r.transition(StateRefining, "Refining diagram")
		refined, rerr := o.refineOnce(ctx, r, doc, review.Instructions)
		if rerr != nil {
			if ctx.Err() != nil {
				return nil, nil, nil, newError(CodeCancelled, StateRefining, ctx.Err())
			}
			// Recoverable: revert and force approval.
			r.logger.Warn("refinement failed, reverting to last valid document", "iteration", iteration, "error", rerr)
			review.Approved = true
			doc = lastValid
			break
		}

		if verr := validation.Validate(refined); verr != nil {
			// The refinement attempt failed but the run must still end
			// with some valid document: revert and force approval.
			r.logger.Warn("refined document failed validation, reverting",
				"iteration", iteration, "error", verr)
			o.rec.Record(r.correlationID, "refinement", iteration, map[string]any{
				"reverted": true, "validation": verr.Error(),
			})
			review.Approved = true
			doc = lastValid
			break
		}
		// Refinement rewrites the markup, so the soft selector pass
		// runs again on the accepted document.
		if warnings := validation.CheckSelectors(refined); len(warnings) > 0 {
			r.logger.Warn("markup selector mismatches after refinement",
				"iteration", iteration, "count", len(warnings))
		}

		attempts = append(attempts, datatypes.RefinementAttempt{
			Iteration: iteration,
			Score:     review.Score,
			Feedback:  review.Feedback,
		})
		o.rec.Record(r.correlationID, "refinement", iteration, map[string]any{
			"markup_before": len(doc.Markup),
			"markup_after":  len(refined.Markup),
			"instructions":  review.Instructions,
		})

		doc = refined
		lastValid = refined.Clone()
		r.transition(StateReviewing, "Reviewing refined diagram")
	}

	if review == nil {
		return nil, nil, nil, newError(CodeReviewError, StateReviewing, fmt.Errorf("review loop produced no result"))
	}
	return doc, review, attempts, nil
}

func (o *Orchestrator) reviewOnce(ctx context.Context, r *run, doc *datatypes.DiagramDocument, plan *datatypes.Plan, iteration int) (*datatypes.Review, error) {
	stageCtx, cancel := context.WithTimeout(ctx, o.config.ReviewTimeout)
	defer cancel()
	return o.client.Review(stageCtx, doc, plan, iteration)
}

func (o *Orchestrator) refineOnce(ctx context.Context, r *run, doc *datatypes.DiagramDocument, instructions []string) (*datatypes.DiagramDocument, error) {
	stageCtx, cancel := context.WithTimeout(ctx, o.config.RefinementTimeout)
	defer cancel()
	return o.client.Refine(stageCtx, doc, instructions)
}

// runConversion renders the requested export formats.
//
// Renderer failures degrade, they do not fail the run: whatever
// rendered is returned and the first failure is reported as a warning.
// Only outer-context cancellation aborts.
func (o *Orchestrator) runConversion(ctx context.Context, r *run, doc *datatypes.DiagramDocument, formats []string) ([]datatypes.Export, string, *Error) {
	if o.renderer == nil {
		return nil, "", nil
	}

	var exports []datatypes.Export
	var warning string

	for _, format := range formats {
		if ctx.Err() != nil {
			return nil, "", newError(CodeCancelled, StateConverting, ctx.Err())
		}

		stageCtx, cancel := context.WithTimeout(ctx, o.config.ImageTimeout)
		data, err := o.renderer.Render(stageCtx, doc.Markup, format)
		cancel()
		if err != nil {
			r.logger.Warn("export render failed", "format", format, "error", err)
			if warning == "" {
				warning = fmt.Sprintf("%s export failed", format)
			}
			continue
		}
		exports = append(exports, datatypes.Export{Format: format, Data: data, Size: len(data)})
	}

	o.rec.Record(r.correlationID, "conversion", 0, map[string]any{
		"formats": len(exports), "warning": warning,
	})
	return exports, warning, nil
}
