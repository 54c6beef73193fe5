// Copyright (C) 2026 VisuaLearn (team@visualearn.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes provides the data structures shared across the diagram
// service: the DiagramDocument aggregate produced by the generation
// pipeline, the planning and review payloads exchanged with the
// generation backend, and the HTTP request/response types.
//
// The DiagramDocument is the root aggregate. Its internal graph
// (components, steps, data flows, scenarios, connections) is checked for
// referential integrity by the validation package before a document is
// ever served or cached.
package datatypes

import "time"

// =============================================================================
// Component Taxonomy
// =============================================================================

// Category classifies a diagram component by its role.
type Category string

const (
	CategoryControl Category = "control"
	CategoryInput   Category = "input"
	CategoryOutput  Category = "output"
	CategoryProcess Category = "process"
	CategorySensor  Category = "sensor"
)

// Layer marks whether a component belongs to the core explanation or to
// advanced detail that viewers can toggle.
type Layer string

const (
	LayerCore     Layer = "core"
	LayerAdvanced Layer = "advanced"
)

// ValidCategories lists the accepted component categories.
var ValidCategories = []Category{
	CategoryControl, CategoryInput, CategoryOutput, CategoryProcess, CategorySensor,
}

// =============================================================================
// Animation Bounds
// =============================================================================

const (
	// MinStepDurationMs is the minimum allowed step animation duration.
	MinStepDurationMs = 100

	// MaxStepDurationMs is the maximum allowed step animation duration.
	MaxStepDurationMs = 5000
)

// =============================================================================
// Document Aggregate
// =============================================================================

// ComponentMetrics carries optional performance annotations for a component.
type ComponentMetrics struct {
	Throughput  string `json:"throughput,omitempty"`
	Latency     string `json:"latency,omitempty"`
	Criticality string `json:"criticality,omitempty"`
}

// Component is a single element of the diagram.
//
// The ID is the stable key every cross-reference collection points at.
// Selector locates the component's element inside the markup payload;
// the validation engine only warns (never fails) when a selector does
// not textually occur in the markup, because generated markup may use
// structurally equivalent but textually different selectors.
type Component struct {
	ID          string            `json:"id"`
	Label       string            `json:"label"`
	Description string            `json:"description,omitempty"`
	Selector    string            `json:"selector,omitempty"`
	Category    Category          `json:"category"`
	Layer       Layer             `json:"layer,omitempty"`
	Metrics     *ComponentMetrics `json:"metrics,omitempty"`
}

// AnimationTiming controls how long a step's highlight animation runs.
type AnimationTiming struct {
	DurationMs int `json:"durationMs"`
}

// Step is one entry in the document's ordered walkthrough sequence.
// Slice order defines the default navigation order.
type Step struct {
	ID                 string           `json:"id"`
	Title              string           `json:"title"`
	Description        string           `json:"description,omitempty"`
	ActiveComponentIDs []string         `json:"activeComponentIds"`
	AnimationTiming    *AnimationTiming `json:"animationTiming,omitempty"`
}

// ScenarioVisualization describes how a failure scenario is presented.
// Highlight and Dim reference component IDs.
type ScenarioVisualization struct {
	Highlight     []string `json:"highlight,omitempty"`
	Dim           []string `json:"dim,omitempty"`
	AnimationType string   `json:"animationType,omitempty"`
}

// Scenario is a failure or what-if walkthrough attached to the document.
// Name is unique within a document.
type Scenario struct {
	Name                 string                `json:"name"`
	ImpactedComponentIDs []string              `json:"impactedComponentIds"`
	Visualization        ScenarioVisualization `json:"visualization"`
	LessonLearned        string                `json:"lessonLearned,omitempty"`
}

// Connection is a structural edge between two components.
type Connection struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Label    string `json:"label,omitempty"`
	Required bool   `json:"required"`
}

// DataFlow is a data-movement edge between two components.
type DataFlow struct {
	From     string `json:"from"`
	To       string `json:"to"`
	DataType string `json:"dataType,omitempty"`
	Required bool   `json:"required"`
}

// DocumentMetadata carries presentation hints for the whole document.
type DocumentMetadata struct {
	Concept         string `json:"concept"`
	TotalDurationMs int    `json:"totalDurationMs"`
	FrameRate       int    `json:"frameRate,omitempty"`
}

// DiagramDocument is the artifact produced by generation.
//
// A document is created fresh per request by the generation backend and
// is replaced wholesale by each refinement pass; the pipeline never
// mutates a document it has already handed to the cache. QualityScore is
// the self-reported confidence of the generation stage and is distinct
// from the review score assigned by the review stage.
type DiagramDocument struct {
	Components   []Component      `json:"components"`
	Steps        []Step           `json:"steps"`
	DataFlows    []DataFlow       `json:"dataFlows,omitempty"`
	Scenarios    []Scenario       `json:"scenarios,omitempty"`
	Connections  []Connection     `json:"connections,omitempty"`
	Metadata     DocumentMetadata `json:"metadata"`
	Markup       string           `json:"markup"`
	QualityScore *int             `json:"qualityScore,omitempty"`
}

// Clone returns a deep copy of the document.
//
// The pipeline holds a lastValid snapshot across refinement iterations
// and the cache stores an immutable copy, so aliasing the live document
// is never safe. Clone is the only sanctioned way to take a snapshot.
func (d *DiagramDocument) Clone() *DiagramDocument {
	if d == nil {
		return nil
	}
	out := &DiagramDocument{
		Components:  make([]Component, len(d.Components)),
		Steps:       make([]Step, len(d.Steps)),
		DataFlows:   append([]DataFlow(nil), d.DataFlows...),
		Scenarios:   make([]Scenario, len(d.Scenarios)),
		Connections: append([]Connection(nil), d.Connections...),
		Metadata:    d.Metadata,
		Markup:      d.Markup,
	}
	for i, c := range d.Components {
		out.Components[i] = c
		if c.Metrics != nil {
			m := *c.Metrics
			out.Components[i].Metrics = &m
		}
	}
	for i, s := range d.Steps {
		out.Steps[i] = s
		out.Steps[i].ActiveComponentIDs = append([]string(nil), s.ActiveComponentIDs...)
		if s.AnimationTiming != nil {
			t := *s.AnimationTiming
			out.Steps[i].AnimationTiming = &t
		}
	}
	for i, sc := range d.Scenarios {
		out.Scenarios[i] = sc
		out.Scenarios[i].ImpactedComponentIDs = append([]string(nil), sc.ImpactedComponentIDs...)
		out.Scenarios[i].Visualization.Highlight = append([]string(nil), sc.Visualization.Highlight...)
		out.Scenarios[i].Visualization.Dim = append([]string(nil), sc.Visualization.Dim...)
	}
	if d.QualityScore != nil {
		qs := *d.QualityScore
		out.QualityScore = &qs
	}
	return out
}

// ComponentIDSet returns the set of component IDs present in the document.
func (d *DiagramDocument) ComponentIDSet() map[string]struct{} {
	ids := make(map[string]struct{}, len(d.Components))
	for _, c := range d.Components {
		ids[c.ID] = struct{}{}
	}
	return ids
}

// =============================================================================
// Planning Output
// =============================================================================

// Relationship is a planned edge between two planned components.
type Relationship struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Label string `json:"label,omitempty"`
}

// DiagramType enumerates the plan's diagram shapes.
type DiagramType string

const (
	DiagramFlowchart DiagramType = "flowchart"
	DiagramMindmap   DiagramType = "mindmap"
	DiagramSequence  DiagramType = "sequence"
	DiagramHierarchy DiagramType = "hierarchy"
)

// ValidDiagramTypes lists the diagram types the planning stage may choose.
var ValidDiagramTypes = []DiagramType{
	DiagramFlowchart, DiagramMindmap, DiagramSequence, DiagramHierarchy,
}

// Plan is the structured output of the planning stage: what to draw and
// how to judge the result.
type Plan struct {
	Concept         string         `json:"concept"`
	DiagramType     DiagramType    `json:"diagramType"`
	Components      []string       `json:"components"`
	Relationships   []Relationship `json:"relationships"`
	SuccessCriteria []string       `json:"successCriteria"`
	KeyInsights     []string       `json:"keyInsights"`
}

// =============================================================================
// Review Output
// =============================================================================

// Review is the output of one review iteration.
type Review struct {
	Score        int      `json:"score"`
	Approved     bool     `json:"approved"`
	Feedback     string   `json:"feedback"`
	Instructions []string `json:"refinementInstructions"`
	Iteration    int      `json:"iteration"`
}

// =============================================================================
// Pipeline Result
// =============================================================================

// StageTimes records wall-clock duration per pipeline stage.
type StageTimes struct {
	Planning   time.Duration `json:"planning"`
	Generation time.Duration `json:"generation"`
	Review     time.Duration `json:"review"`
	Conversion time.Duration `json:"conversion"`
}

// RefinementAttempt records one review-driven refinement pass.
type RefinementAttempt struct {
	Iteration int    `json:"iteration"`
	Score     int    `json:"score"`
	Feedback  string `json:"feedback"`
}

// Export holds one rendered output of the final markup.
type Export struct {
	Format string `json:"format"`
	Data   []byte `json:"-"`
	Size   int    `json:"size"`
}

// PipelineResult is the successful outcome of a full pipeline run.
type PipelineResult struct {
	CorrelationID      string              `json:"correlationId"`
	Concept            string              `json:"concept"`
	Document           *DiagramDocument    `json:"document"`
	Plan               *Plan               `json:"plan"`
	ReviewScore        int                 `json:"reviewScore"`
	Iterations         int                 `json:"iterations"`
	Exports            []Export            `json:"exports,omitempty"`
	ExportWarning      string              `json:"exportWarning,omitempty"`
	TotalTime          time.Duration       `json:"totalTime"`
	StageTimes         StageTimes          `json:"stageTimes"`
	RefinementAttempts []RefinementAttempt `json:"refinementAttempts,omitempty"`
	FromCache          bool                `json:"fromCache"`
}

// Snapshot returns a deep copy safe to hand to the cache. The live
// export payloads are shared (they are write-once byte slices).
func (r *PipelineResult) Snapshot() *PipelineResult {
	if r == nil {
		return nil
	}
	out := *r
	out.Document = r.Document.Clone()
	if r.Plan != nil {
		p := *r.Plan
		p.Components = append([]string(nil), r.Plan.Components...)
		p.Relationships = append([]Relationship(nil), r.Plan.Relationships...)
		p.SuccessCriteria = append([]string(nil), r.Plan.SuccessCriteria...)
		p.KeyInsights = append([]string(nil), r.Plan.KeyInsights...)
		out.Plan = &p
	}
	out.Exports = append([]Export(nil), r.Exports...)
	out.RefinementAttempts = append([]RefinementAttempt(nil), r.RefinementAttempts...)
	return &out
}
