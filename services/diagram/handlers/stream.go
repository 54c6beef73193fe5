// Copyright (C) 2026 VisuaLearn (team@visualearn.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/visualearn/visualearn/services/diagram/cache"
	"github.com/visualearn/visualearn/services/diagram/datatypes"
	"github.com/visualearn/visualearn/services/diagram/pipeline"
)

// =============================================================================
// SSE Writer
// =============================================================================

// sseWriter serializes progress events onto an SSE response.
//
// The pipeline emits events inline from its own goroutine, so writes
// are mutex-guarded. Each event flushes immediately; a buffered
// event that arrives after the client went away is dropped.
type sseWriter struct {
	mu       sync.Mutex
	w        gin.ResponseWriter
	flusher  http.Flusher
	failed   bool
	terminal bool
}

func newSSEWriter(c *gin.Context) (*sseWriter, bool) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		return nil, false
	}
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	return &sseWriter{w: c.Writer, flusher: flusher}, true
}

func (s *sseWriter) writeEvent(event datatypes.ProgressEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if event.Type == "complete" || event.Type == "error" {
		s.terminal = true
	}
	if s.failed {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		s.failed = true
		return
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		s.failed = true
		return
	}
	s.flusher.Flush()
}

// terminalSent reports whether a complete or error event has already
// gone out, so the handler does not append a duplicate terminal event.
func (s *sseWriter) terminalSent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminal
}

// =============================================================================
// Streaming Handler
// =============================================================================

// HandleDiagramStream serves GET /v1/diagram/stream.
//
// Runs the pipeline synchronously, pushing one progress event per
// stage transition and a terminal complete or error event. The final
// result rides on the complete event's data field.
func HandleDiagramStream(runner Runner) gin.HandlerFunc {
	return func(c *gin.Context) {
		concept := c.Query("concept")
		req := datatypes.DiagramRequest{Concept: concept}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
				Code:    string(pipeline.CodeInvalidInput),
				Message: "concept must be 1-1000 non-blank characters",
			})
			return
		}

		writer, ok := newSSEWriter(c)
		if !ok {
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{
				Code:    string(pipeline.CodeGenerationError),
				Message: "streaming not supported",
			})
			return
		}

		ctx := cache.WithSessionID(c.Request.Context(), c.GetHeader("X-Session-ID"))
		_, err := runner.GenerateDiagram(ctx, concept, nil, writer.writeEvent)
		if err != nil && !writer.terminalSent() {
			code := string(pipeline.CodeGenerationError)
			if perr, isPipe := pipeline.AsError(err); isPipe {
				code = string(perr.Code)
			}
			// Stage failures already streamed their own error event;
			// this covers failures before any stage ran.
			writer.writeEvent(datatypes.ProgressEvent{Type: "error", Error: code})
		}
	}
}
