// Copyright (C) 2026 VisuaLearn (team@visualearn.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package recorder provides the append-only debug sink the pipeline
// emits stage payloads to.
//
// Records are debug artifacts only: they are outside the data-integrity
// contract, may be cleared at any time, and a failed write is logged
// and swallowed, never propagated. The pipeline does not depend on the
// recorder succeeding.
package recorder

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// =============================================================================
// Interface
// =============================================================================

// Recorder receives one payload per pipeline stage, correlated by run.
//
// Record is fire-and-forget: implementations must not block the
// pipeline and must not surface errors to the caller.
type Recorder interface {
	Record(correlationID, stage string, iteration int, payload any)
}

// =============================================================================
// Nop Recorder
// =============================================================================

// Nop discards everything. The default when recording is disabled.
type Nop struct{}

func (Nop) Record(string, string, int, any) {}

// =============================================================================
// File Recorder
// =============================================================================

// stageOrder prefixes filenames so a run's records sort in pipeline
// order on disk.
var stageOrder = map[string]string{
	"planning":   "01",
	"generation": "02",
	"review":     "03",
	"refinement": "03b",
	"conversion": "04",
	"error":      "99",
}

// record is the on-disk envelope.
type record struct {
	Timestamp     string `json:"timestamp"`
	CorrelationID string `json:"correlationId"`
	Stage         string `json:"stage"`
	Iteration     int    `json:"iteration,omitempty"`
	Data          any    `json:"data"`
}

// FileRecorder writes one JSON file per stage event into a directory.
type FileRecorder struct {
	dir    string
	logger *slog.Logger
}

// NewFileRecorder creates the directory if needed and returns a
// recorder writing into it.
func NewFileRecorder(dir string, logger *slog.Logger) (*FileRecorder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create recorder dir: %w", err)
	}
	return &FileRecorder{dir: dir, logger: logger}, nil
}

// Record writes the payload as a timestamped JSON file. Failures are
// logged at error level and swallowed.
func (f *FileRecorder) Record(correlationID, stage string, iteration int, payload any) {
	prefix, ok := stageOrder[stage]
	if !ok {
		prefix = "00"
	}

	name := fmt.Sprintf("%s_%s", prefix, stage)
	if iteration > 0 {
		name = fmt.Sprintf("%s_iter%d", name, iteration)
	}
	name = fmt.Sprintf("%s_%d.json", name, time.Now().UnixMilli())

	data, err := json.MarshalIndent(record{
		Timestamp:     time.Now().Format(time.RFC3339),
		CorrelationID: correlationID,
		Stage:         stage,
		Iteration:     iteration,
		Data:          payload,
	}, "", "  ")
	if err != nil {
		f.logger.Error("failed to marshal stage record", "stage", stage, "error", err)
		return
	}

	path := filepath.Join(f.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		f.logger.Error("failed to store stage record", "stage", stage, "path", path, "error", err)
		return
	}
	f.logger.Debug("stored stage record", "stage", stage, "file", name)
}

// Clear removes all stored records.
func (f *FileRecorder) Clear() error {
	matches, err := filepath.Glob(filepath.Join(f.dir, "*.json"))
	if err != nil {
		return err
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil {
			return err
		}
	}
	return nil
}
