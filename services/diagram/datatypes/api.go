// Copyright (C) 2026 VisuaLearn (team@visualearn.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// This file contains request and response types for the diagram HTTP
// endpoints. For the document aggregate itself, see document.go.
package datatypes

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Input Bounds
// =============================================================================

const (
	// MaxConceptLength bounds the concept string accepted from clients.
	// Longer inputs are rejected before any backend call is made.
	MaxConceptLength = 1000
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// apiValidate is the validator instance for API datatypes.
var apiValidate *validator.Validate

func init() {
	apiValidate = validator.New()
	_ = apiValidate.RegisterValidation("notblank", validateNotBlank)
}

// validateNotBlank rejects strings that are empty after trimming.
// "   " passes min=1 but is not a usable concept.
func validateNotBlank(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

// =============================================================================
// Request Types
// =============================================================================

// DiagramRequest is the body of POST /v1/diagram.
type DiagramRequest struct {
	// Concept is the natural-language input the pipeline explains.
	Concept string `json:"concept" validate:"required,notblank,max=1000"`

	// Formats optionally lists export formats to render (png, svg, xml).
	// Empty means svg+xml.
	Formats []string `json:"formats,omitempty" validate:"omitempty,dive,oneof=png svg xml"`
}

// Validate checks the request against its declared constraints.
func (r *DiagramRequest) Validate() error {
	return apiValidate.Struct(r)
}

// =============================================================================
// Response Types
// =============================================================================

// ExportPayload carries one rendered output inline in the response.
// Text formats (svg, xml) ride as plain strings; binary formats are
// base64-encoded and flagged via Encoding.
type ExportPayload struct {
	Format   string `json:"format"`
	Content  string `json:"content"`
	Size     int    `json:"size"`
	Encoding string `json:"encoding,omitempty"`
}

// DiagramResponse is the body of a successful POST /v1/diagram.
type DiagramResponse struct {
	CorrelationID      string              `json:"correlationId"`
	Document           *DiagramDocument    `json:"document"`
	Plan               *Plan               `json:"plan"`
	ReviewScore        int                 `json:"reviewScore"`
	Iterations         int                 `json:"iterations"`
	Exports            []ExportPayload     `json:"exports,omitempty"`
	ExportFormats      []string            `json:"exportFormats,omitempty"`
	ExportWarning      string              `json:"exportWarning,omitempty"`
	TotalTimeSeconds   float64             `json:"totalTimeSeconds"`
	StageTimesSeconds  map[string]float64  `json:"stageTimesSeconds"`
	RefinementAttempts []RefinementAttempt `json:"refinementAttempts,omitempty"`
	FromCache          bool                `json:"fromCache"`
}

// ErrorResponse is the body of every failed request.
//
// Code is one of the stable machine-readable pipeline error codes;
// Message is generic and user-safe. Internal detail never appears here,
// it goes to the response recorder only.
type ErrorResponse struct {
	Code              string `json:"code"`
	Message           string `json:"message"`
	RetryAfterSeconds int    `json:"retryAfterSeconds,omitempty"`
}

// =============================================================================
// Progress Events (SSE)
// =============================================================================

// ProgressEvent is one server-sent event on the streaming endpoint.
type ProgressEvent struct {
	Type           string  `json:"type"`            // progress | complete | error
	Stage          string  `json:"stage"`           // planning | generating | reviewing | refining | converting
	Status         string  `json:"status"`          // human-readable status line
	Progress       float64 `json:"progress"`        // 0..100
	ElapsedSeconds float64 `json:"elapsedSeconds"`  // elapsed time for this stage
	Error          string  `json:"error,omitempty"` // set when Type == "error"
	Data           any     `json:"data,omitempty"`  // final result on completion
}
