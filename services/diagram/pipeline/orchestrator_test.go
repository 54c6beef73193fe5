// Copyright (C) 2026 VisuaLearn (team@visualearn.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visualearn/visualearn/services/diagram/datatypes"
	"github.com/visualearn/visualearn/services/diagram/render"
)

// =============================================================================
// Test Doubles
// =============================================================================

// scriptedClient returns canned stage outputs in order, failing when a
// stage's error is set. Review and Refine consume their scripts one
// call at a time.
type scriptedClient struct {
	mu sync.Mutex

	planErr error
	plan    *datatypes.Plan

	generateErr error
	doc         *datatypes.DiagramDocument

	reviews   []reviewStep
	reviewIdx int
	refines   []refineStep
	refineIdx int
	planCalls int

	// blockPlan makes Plan hang until its context is done.
	blockPlan bool
}

type reviewStep struct {
	review *datatypes.Review
	err    error
}

type refineStep struct {
	doc *datatypes.DiagramDocument
	err error
}

func (s *scriptedClient) Plan(ctx context.Context, concept string) (*datatypes.Plan, error) {
	s.mu.Lock()
	s.planCalls++
	s.mu.Unlock()
	if s.blockPlan {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.planErr != nil {
		return nil, s.planErr
	}
	if s.plan != nil {
		return s.plan, nil
	}
	return &datatypes.Plan{
		Concept:     concept,
		DiagramType: datatypes.DiagramFlowchart,
		Components:  []string{"sun", "leaf"},
	}, nil
}

func (s *scriptedClient) Generate(ctx context.Context, plan *datatypes.Plan) (*datatypes.DiagramDocument, error) {
	if s.generateErr != nil {
		return nil, s.generateErr
	}
	if s.doc != nil {
		return s.doc, nil
	}
	return makeDoc("v1"), nil
}

func (s *scriptedClient) Review(ctx context.Context, doc *datatypes.DiagramDocument, plan *datatypes.Plan, iteration int) (*datatypes.Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reviewIdx >= len(s.reviews) {
		return &datatypes.Review{Score: 95, Approved: true, Iteration: iteration}, nil
	}
	step := s.reviews[s.reviewIdx]
	s.reviewIdx++
	if step.err != nil {
		return nil, step.err
	}
	r := *step.review
	r.Iteration = iteration
	return &r, nil
}

func (s *scriptedClient) Refine(ctx context.Context, doc *datatypes.DiagramDocument, instructions []string) (*datatypes.DiagramDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refineIdx >= len(s.refines) {
		return makeDoc("refined"), nil
	}
	step := s.refines[s.refineIdx]
	s.refineIdx++
	return step.doc, step.err
}

// stubRenderer renders every format as the markup bytes, failing the
// formats listed in failFormats.
type stubRenderer struct {
	failFormats map[string]bool
	calls       []string
}

func (r *stubRenderer) Render(ctx context.Context, markup, format string) ([]byte, error) {
	r.calls = append(r.calls, format)
	if r.failFormats[format] {
		return nil, fmt.Errorf("renderer unavailable")
	}
	return []byte(markup), nil
}

// makeDoc builds a valid document whose markup carries a version marker
// so tests can tell revisions apart.
func makeDoc(version string) *datatypes.DiagramDocument {
	return &datatypes.DiagramDocument{
		Components: []datatypes.Component{
			{ID: "sun", Label: "Sunlight", Category: datatypes.CategoryInput},
			{ID: "leaf", Label: "Leaf", Category: datatypes.CategoryProcess},
		},
		Steps: []datatypes.Step{
			{ID: "s1", Title: "Absorb", ActiveComponentIDs: []string{"sun", "leaf"}},
		},
		Metadata: datatypes.DocumentMetadata{Concept: "photosynthesis", TotalDurationMs: 2000},
		Markup:   fmt.Sprintf(`<svg data-rev=%q></svg>`, version),
	}
}

func newTestOrchestrator(t *testing.T, client *scriptedClient, renderer render.Renderer) *Orchestrator {
	t.Helper()
	o, err := New(client, renderer, nil, Config{
		PlanningTimeout:   time.Second,
		GenerationTimeout: time.Second,
		ReviewTimeout:     time.Second,
		RefinementTimeout: time.Second,
		ImageTimeout:      time.Second,
		MaxIterations:     3,
	}, nil)
	require.NoError(t, err)
	return o
}

// =============================================================================
// Happy Path
// =============================================================================

func TestRun_ApprovedFirstReview(t *testing.T) {
	client := &scriptedClient{
		reviews: []reviewStep{{review: &datatypes.Review{Score: 95, Approved: true}}},
	}
	o := newTestOrchestrator(t, client, &stubRenderer{})

	result, err := o.Run(context.Background(), "photosynthesis", nil, nil)
	require.NoError(t, err)

	assert.Equal(t, "photosynthesis", result.Concept)
	assert.Equal(t, 95, result.ReviewScore)
	assert.Equal(t, 1, result.Iterations)
	assert.Empty(t, result.RefinementAttempts)
	assert.NotEmpty(t, result.CorrelationID)
	assert.Len(t, result.Exports, 2, "default formats are svg and xml")
}

// TestRun_SelectorPassRunsOnRefinedMarkup feeds a refinement whose
// component selector no longer occurs in the rewritten markup and
// verifies the soft selector check fires on the accepted document.
func TestRun_SelectorPassRunsOnRefinedMarkup(t *testing.T) {
	refined := makeDoc("v2")
	refined.Components[0].Selector = "#node-that-vanished"

	client := &scriptedClient{
		reviews: []reviewStep{
			{review: &datatypes.Review{Score: 75, Approved: false, Instructions: []string{"tighten layout"}}},
			{review: &datatypes.Review{Score: 95, Approved: true}},
		},
		refines: []refineStep{{doc: refined}},
	}

	var logBuf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logBuf, nil))
	o, err := New(client, &stubRenderer{}, nil, Config{
		PlanningTimeout:   time.Second,
		GenerationTimeout: time.Second,
		ReviewTimeout:     time.Second,
		RefinementTimeout: time.Second,
		ImageTimeout:      time.Second,
		MaxIterations:     3,
	}, logger)
	require.NoError(t, err)

	result, err := o.Run(context.Background(), "photosynthesis", nil, nil)
	require.NoError(t, err)
	assert.Contains(t, result.Document.Markup, "v2")
	assert.Contains(t, logBuf.String(), "markup selector mismatches after refinement")
}

func TestRun_RefinementLoopImprovesDocument(t *testing.T) {
	client := &scriptedClient{
		reviews: []reviewStep{
			{review: &datatypes.Review{Score: 75, Approved: false, Feedback: "add labels",
				Instructions: []string{"label the edges"}}},
			{review: &datatypes.Review{Score: 93, Approved: true}},
		},
		refines: []refineStep{{doc: makeDoc("v2")}},
	}
	o := newTestOrchestrator(t, client, &stubRenderer{})

	result, err := o.Run(context.Background(), "photosynthesis", nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 93, result.ReviewScore)
	assert.Equal(t, 2, result.Iterations)
	assert.Contains(t, result.Document.Markup, "v2")
	require.Len(t, result.RefinementAttempts, 1)
	assert.Equal(t, 1, result.RefinementAttempts[0].Iteration)
	assert.Equal(t, 75, result.RefinementAttempts[0].Score)
}

// TestRun_IterationCap verifies the loop never exceeds MaxIterations
// reviews even when every review requests refinement.
func TestRun_IterationCap(t *testing.T) {
	lowReview := &datatypes.Review{Score: 72, Approved: false, Instructions: []string{"again"}}
	client := &scriptedClient{
		reviews: []reviewStep{
			{review: lowReview}, {review: lowReview}, {review: lowReview}, {review: lowReview},
		},
		refines: []refineStep{{doc: makeDoc("v2")}, {doc: makeDoc("v3")}, {doc: makeDoc("v4")}},
	}
	o := newTestOrchestrator(t, client, &stubRenderer{})

	result, err := o.Run(context.Background(), "hard concept", nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Iterations)
	assert.Equal(t, 3, client.reviewIdx, "exactly MaxIterations reviews ran")
	assert.Equal(t, 2, client.refineIdx, "no refinement follows the final review")
}

// =============================================================================
// Recovery Policy
// =============================================================================

// TestRun_RefinementFailureRevertsToLastValid covers the revert path: a
// refinement that errors keeps the last valid document and the run
// still succeeds.
func TestRun_RefinementFailureRevertsToLastValid(t *testing.T) {
	client := &scriptedClient{
		reviews: []reviewStep{
			{review: &datatypes.Review{Score: 74, Approved: false, Instructions: []string{"fix"}}},
		},
		refines: []refineStep{{err: fmt.Errorf("model returned garbage")}},
	}
	o := newTestOrchestrator(t, client, &stubRenderer{})

	result, err := o.Run(context.Background(), "photosynthesis", nil, nil)
	require.NoError(t, err)

	assert.Contains(t, result.Document.Markup, "v1", "document reverts to the pre-refinement version")
	assert.Equal(t, 74, result.ReviewScore)
	assert.Empty(t, result.RefinementAttempts, "a failed refinement is not recorded as an attempt")
}

// TestRun_InvalidRefinementReverts covers the second revert path: the
// refinement call succeeds but produces a structurally broken document.
func TestRun_InvalidRefinementReverts(t *testing.T) {
	broken := makeDoc("broken")
	broken.Steps[0].ActiveComponentIDs = []string{"nonexistent"}

	client := &scriptedClient{
		reviews: []reviewStep{
			{review: &datatypes.Review{Score: 80, Approved: false, Instructions: []string{"fix"}}},
		},
		refines: []refineStep{{doc: broken}},
	}
	o := newTestOrchestrator(t, client, &stubRenderer{})

	result, err := o.Run(context.Background(), "photosynthesis", nil, nil)
	require.NoError(t, err)

	assert.Contains(t, result.Document.Markup, "v1")
	assert.NoError(t, validateResultDoc(result), "the returned document is always valid")
}

func validateResultDoc(result *datatypes.PipelineResult) error {
	ids := result.Document.ComponentIDSet()
	for _, s := range result.Document.Steps {
		for _, ref := range s.ActiveComponentIDs {
			if _, ok := ids[ref]; !ok {
				return fmt.Errorf("dangling reference %q", ref)
			}
		}
	}
	return nil
}

// TestRun_FirstReviewFailureForceApproves: a valid document is never
// discarded over a broken reviewer.
func TestRun_FirstReviewFailureForceApproves(t *testing.T) {
	client := &scriptedClient{
		reviews: []reviewStep{{err: fmt.Errorf("reviewer unavailable")}},
	}
	o := newTestOrchestrator(t, client, &stubRenderer{})

	result, err := o.Run(context.Background(), "photosynthesis", nil, nil)
	require.NoError(t, err)

	assert.Equal(t, fallbackReviewScore, result.ReviewScore)
	assert.Equal(t, 1, result.Iterations)
	assert.Contains(t, result.Document.Markup, "v1")
}

// TestRun_LaterReviewFailureKeepsRefinedDocument: when a mid-loop
// review fails the current (already refined) document ships with the
// previous iteration's score.
func TestRun_LaterReviewFailureKeepsRefinedDocument(t *testing.T) {
	client := &scriptedClient{
		reviews: []reviewStep{
			{review: &datatypes.Review{Score: 78, Approved: false, Instructions: []string{"fix"}}},
			{err: fmt.Errorf("reviewer flaked")},
		},
		refines: []refineStep{{doc: makeDoc("v2")}},
	}
	o := newTestOrchestrator(t, client, &stubRenderer{})

	result, err := o.Run(context.Background(), "photosynthesis", nil, nil)
	require.NoError(t, err)

	assert.Contains(t, result.Document.Markup, "v2")
	assert.Equal(t, 78, result.ReviewScore)
	assert.Equal(t, 2, result.Iterations)
}

// =============================================================================
// Fatal Failures
// =============================================================================

func TestRun_PlanningErrorIsFatal(t *testing.T) {
	client := &scriptedClient{planErr: fmt.Errorf("model refused")}
	o := newTestOrchestrator(t, client, &stubRenderer{})

	_, err := o.Run(context.Background(), "photosynthesis", nil, nil)
	perr, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodePlanningError, perr.Code)
	assert.Equal(t, StatePlanning, perr.Stage)
	assert.NotEmpty(t, perr.Message)
}

func TestRun_GenerationErrorIsFatal(t *testing.T) {
	client := &scriptedClient{generateErr: fmt.Errorf("model refused")}
	o := newTestOrchestrator(t, client, &stubRenderer{})

	_, err := o.Run(context.Background(), "photosynthesis", nil, nil)
	perr, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeGenerationError, perr.Code)
}

// TestRun_InvalidFirstDraftIsFatal: generation output that fails
// validation aborts the run, it is never retried or refined.
func TestRun_InvalidFirstDraftIsFatal(t *testing.T) {
	broken := makeDoc("broken")
	broken.Markup = ""
	client := &scriptedClient{doc: broken}
	o := newTestOrchestrator(t, client, &stubRenderer{})

	_, err := o.Run(context.Background(), "photosynthesis", nil, nil)
	perr, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeValidationFailed, perr.Code)
	assert.Equal(t, 0, client.reviewIdx, "no review runs on an invalid draft")
}

func TestRun_PlanningTimeout(t *testing.T) {
	client := &scriptedClient{blockPlan: true}
	o, err := New(client, nil, nil, Config{
		PlanningTimeout: 20 * time.Millisecond,
	}, nil)
	require.NoError(t, err)

	_, err = o.Run(context.Background(), "photosynthesis", nil, nil)
	perr, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodePlanningTimeout, perr.Code)
	assert.True(t, errors.Is(perr, context.DeadlineExceeded))
}

// TestRun_CancellationWinsOverTimeout: outer-context cancellation
// always classifies as CANCELLED, even though the stage sees a done
// context either way.
func TestRun_CancellationWinsOverTimeout(t *testing.T) {
	client := &scriptedClient{blockPlan: true}
	o := newTestOrchestrator(t, client, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := o.Run(ctx, "photosynthesis", nil, nil)
	perr, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeCancelled, perr.Code)
}

// =============================================================================
// Conversion
// =============================================================================

func TestRun_ConversionPartialSuccess(t *testing.T) {
	renderer := &stubRenderer{failFormats: map[string]bool{render.FormatPNG: true}}
	client := &scriptedClient{}
	o := newTestOrchestrator(t, client, renderer)

	result, err := o.Run(context.Background(), "photosynthesis",
		[]string{render.FormatPNG, render.FormatSVG}, nil)
	require.NoError(t, err)

	require.Len(t, result.Exports, 1)
	assert.Equal(t, render.FormatSVG, result.Exports[0].Format)
	assert.Equal(t, "png export failed", result.ExportWarning)
}

func TestRun_FormatsOverrideConfig(t *testing.T) {
	renderer := &stubRenderer{}
	o := newTestOrchestrator(t, &scriptedClient{}, renderer)

	result, err := o.Run(context.Background(), "photosynthesis", []string{render.FormatXML}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{render.FormatXML}, renderer.calls)
	require.Len(t, result.Exports, 1)
	assert.Positive(t, result.Exports[0].Size)
}

func TestRun_NilRendererSkipsConversion(t *testing.T) {
	o := newTestOrchestrator(t, &scriptedClient{}, nil)

	result, err := o.Run(context.Background(), "photosynthesis", nil, nil)
	require.NoError(t, err)
	assert.Empty(t, result.Exports)
	assert.Empty(t, result.ExportWarning)
}

// =============================================================================
// Progress Events
// =============================================================================

func TestRun_ProgressEventSequence(t *testing.T) {
	client := &scriptedClient{
		reviews: []reviewStep{
			{review: &datatypes.Review{Score: 75, Approved: false, Instructions: []string{"x"}}},
			{review: &datatypes.Review{Score: 95, Approved: true}},
		},
		refines: []refineStep{{doc: makeDoc("v2")}},
	}
	o := newTestOrchestrator(t, client, &stubRenderer{})

	var events []datatypes.ProgressEvent
	_, err := o.Run(context.Background(), "photosynthesis", nil, func(e datatypes.ProgressEvent) {
		events = append(events, e)
	})
	require.NoError(t, err)

	var stages []string
	for _, e := range events {
		stages = append(stages, e.Stage)
	}
	assert.Equal(t, []string{
		"planning", "generating", "reviewing", "refining", "reviewing",
		"converting", "done", "done",
	}, stages)

	last := events[len(events)-1]
	assert.Equal(t, "complete", last.Type)
	assert.Equal(t, float64(100), last.Progress)
	assert.NotNil(t, last.Data)
}

func TestRun_ErrorEventOnFailure(t *testing.T) {
	client := &scriptedClient{planErr: fmt.Errorf("down")}
	o := newTestOrchestrator(t, client, nil)

	var events []datatypes.ProgressEvent
	_, err := o.Run(context.Background(), "photosynthesis", nil, func(e datatypes.ProgressEvent) {
		events = append(events, e)
	})
	require.Error(t, err)

	last := events[len(events)-1]
	assert.Equal(t, "error", last.Type)
	assert.Equal(t, string(CodePlanningError), last.Error)
}

// =============================================================================
// Stage Timing
// =============================================================================

func TestRun_StageTimesRecorded(t *testing.T) {
	o := newTestOrchestrator(t, &scriptedClient{}, &stubRenderer{})

	result, err := o.Run(context.Background(), "photosynthesis", nil, nil)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, result.TotalTime, time.Duration(0))
	sum := result.StageTimes.Planning + result.StageTimes.Generation +
		result.StageTimes.Review + result.StageTimes.Conversion
	assert.LessOrEqual(t, sum, result.TotalTime+10*time.Millisecond)
}

// =============================================================================
// Construction
// =============================================================================

func TestNew_RequiresClient(t *testing.T) {
	_, err := New(nil, nil, nil, Config{}, nil)
	assert.Error(t, err)
}

func TestConfig_Defaults(t *testing.T) {
	c := Config{}
	c.applyDefaults()
	assert.Equal(t, 3, c.MaxIterations)
	assert.Equal(t, []string{render.FormatSVG, render.FormatXML}, c.ExportFormats)
	assert.Positive(t, c.PlanningTimeout)
	assert.Positive(t, c.ImageTimeout)
}
