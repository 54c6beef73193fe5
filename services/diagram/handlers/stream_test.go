// Copyright (C) 2026 VisuaLearn (team@visualearn.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visualearn/visualearn/services/diagram/datatypes"
	"github.com/visualearn/visualearn/services/diagram/pipeline"
)

func getStream(runner Runner, concept string) *httptest.ResponseRecorder {
	router := gin.New()
	router.GET("/v1/diagram/stream", HandleDiagramStream(runner))

	target := "/v1/diagram/stream?concept=" + url.QueryEscape(concept)
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandleDiagramStream_EmitsEvents(t *testing.T) {
	runner := &mockRunner{
		result: successResult(),
		events: []datatypes.ProgressEvent{
			{Type: "progress", Stage: "planning", Status: "Analyzing concept", Progress: 10},
			{Type: "progress", Stage: "generating", Status: "Generating diagram", Progress: 40},
			{Type: "complete", Stage: "done", Progress: 100},
		},
	}

	rec := getStream(runner, "photosynthesis")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))

	body := rec.Body.String()
	assert.Contains(t, body, "event: progress\n")
	assert.Contains(t, body, `"stage":"planning"`)
	assert.Contains(t, body, `"stage":"generating"`)
	assert.Contains(t, body, "event: complete\n")
}

func TestHandleDiagramStream_InvalidConcept(t *testing.T) {
	rec := getStream(&mockRunner{}, "   ")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotContains(t, rec.Header().Get("Content-Type"), "text/event-stream")
}

func TestHandleDiagramStream_PipelineErrorEvent(t *testing.T) {
	runner := &mockRunner{
		err: &pipeline.Error{Code: pipeline.CodePlanningTimeout, Stage: pipeline.StatePlanning, Message: "slow"},
	}

	rec := getStream(runner, "photosynthesis")
	require.Equal(t, http.StatusOK, rec.Code, "SSE errors ride on events, not status codes")
	assert.Contains(t, rec.Body.String(), "event: error\n")
	assert.Contains(t, rec.Body.String(), string(pipeline.CodePlanningTimeout))
}

// TestHandleDiagramStream_NoDuplicateErrorEvent covers a stage failure
// that already streamed its own error event: the handler must not
// append a second one.
func TestHandleDiagramStream_NoDuplicateErrorEvent(t *testing.T) {
	runner := &mockRunner{
		err: &pipeline.Error{Code: pipeline.CodeReviewError, Stage: pipeline.StateReviewing, Message: "review blew up"},
		events: []datatypes.ProgressEvent{
			{Type: "progress", Stage: "planning", Progress: 10},
			{Type: "error", Stage: "reviewing", Error: string(pipeline.CodeReviewError)},
		},
	}

	rec := getStream(runner, "photosynthesis")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, strings.Count(rec.Body.String(), "event: error\n"),
		"exactly one terminal error event reaches the client")
}

func TestHandleDiagramStream_UnclassifiedError(t *testing.T) {
	runner := &mockRunner{err: fmt.Errorf("socket hiccup")}

	rec := getStream(runner, "photosynthesis")
	assert.Contains(t, rec.Body.String(), string(pipeline.CodeGenerationError))
}
