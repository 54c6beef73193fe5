// Copyright (C) 2026 VisuaLearn (team@visualearn.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/visualearn/visualearn/services/diagram/cache"
	"github.com/visualearn/visualearn/services/diagram/datatypes"
	"github.com/visualearn/visualearn/services/diagram/pipeline"
	"github.com/visualearn/visualearn/services/diagram/render"
)

var diagramTracer = otel.Tracer("visualearn.diagram.handlers")

// statusClientClosedRequest is the nginx convention for a request the
// client abandoned; net/http has no constant for it.
const statusClientClosedRequest = 499

// Runner executes the cache-aware pipeline for one concept.
//
// Implemented by the diagram service; abstracted here so handlers can
// be tested against a mock.
type Runner interface {
	GenerateDiagram(ctx context.Context, concept string, formats []string, observer pipeline.ProgressFunc) (*datatypes.PipelineResult, error)
}

// HandleGenerateDiagram serves POST /v1/diagram.
func HandleGenerateDiagram(runner Runner) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := diagramTracer.Start(c.Request.Context(), "HandleGenerateDiagram")
		defer span.End()

		var req datatypes.DiagramRequest
		if err := c.BindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("failed to parse diagram request", "error", err)
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
				Code:    string(pipeline.CodeInvalidInput),
				Message: "invalid request body",
			})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
				Code:    string(pipeline.CodeInvalidInput),
				Message: "concept must be 1-1000 non-blank characters",
			})
			return
		}

		ctx = cache.WithSessionID(ctx, c.GetHeader("X-Session-ID"))
		result, err := runner.GenerateDiagram(ctx, req.Concept, req.Formats, nil)
		if err != nil {
			span.RecordError(err)
			writePipelineError(c, err)
			return
		}

		c.JSON(http.StatusOK, toDiagramResponse(result))
	}
}

// writePipelineError maps a pipeline failure to an HTTP status and the
// user-safe error body. Internal detail stays in logs and the recorder.
func writePipelineError(c *gin.Context, err error) {
	perr, ok := pipeline.AsError(err)
	if !ok {
		slog.Error("unclassified pipeline failure", "error", err)
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{
			Code:    string(pipeline.CodeGenerationError),
			Message: "An unexpected error occurred.",
		})
		return
	}

	status := http.StatusInternalServerError
	switch perr.Code {
	case pipeline.CodeInvalidInput:
		status = http.StatusBadRequest
	case pipeline.CodePlanningError:
		// Planning failures are treated as non-transient input issues.
		status = http.StatusUnprocessableEntity
	case pipeline.CodePlanningTimeout, pipeline.CodeGenerationTimeout,
		pipeline.CodeReviewTimeout, pipeline.CodeRefinementTimeout:
		status = http.StatusGatewayTimeout
	case pipeline.CodeRateLimited:
		status = http.StatusTooManyRequests
	case pipeline.CodeCancelled:
		status = statusClientClosedRequest
	}

	slog.Error("diagram generation failed", "code", string(perr.Code), "stage", string(perr.Stage), "error", perr.Err)
	c.JSON(status, datatypes.ErrorResponse{
		Code:    string(perr.Code),
		Message: perr.Message,
	})
}

// toDiagramResponse converts a pipeline result into the API shape.
// Rendered payloads ship inline: svg and xml as text, anything else
// base64-encoded.
func toDiagramResponse(result *datatypes.PipelineResult) datatypes.DiagramResponse {
	formats := make([]string, 0, len(result.Exports))
	exports := make([]datatypes.ExportPayload, 0, len(result.Exports))
	for _, e := range result.Exports {
		formats = append(formats, e.Format)
		payload := datatypes.ExportPayload{Format: e.Format, Size: e.Size}
		switch e.Format {
		case render.FormatSVG, render.FormatXML:
			payload.Content = string(e.Data)
		default:
			payload.Content = base64.StdEncoding.EncodeToString(e.Data)
			payload.Encoding = "base64"
		}
		exports = append(exports, payload)
	}
	return datatypes.DiagramResponse{
		CorrelationID: result.CorrelationID,
		Document:      result.Document,
		Plan:          result.Plan,
		ReviewScore:   result.ReviewScore,
		Iterations:    result.Iterations,
		Exports:       exports,
		ExportFormats: formats,
		ExportWarning: result.ExportWarning,
		TotalTimeSeconds: result.TotalTime.Seconds(),
		StageTimesSeconds: map[string]float64{
			"planning":   result.StageTimes.Planning.Seconds(),
			"generation": result.StageTimes.Generation.Seconds(),
			"review":     result.StageTimes.Review.Seconds(),
			"conversion": result.StageTimes.Conversion.Seconds(),
		},
		RefinementAttempts: result.RefinementAttempts,
		FromCache:          result.FromCache,
	}
}
