// Copyright (C) 2026 VisuaLearn (team@visualearn.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package render defines the export renderer contract and its HTTP
// implementation backed by an external rendering service.
//
// The renderer is a collaborator at the pipeline's Converting stage. A
// render failure is reported but never erases an already-valid
// document: text/XML exports can still be served when the image render
// fails.
package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// Export formats.
const (
	FormatPNG = "png"
	FormatSVG = "svg"
	FormatXML = "xml"
)

// ValidFormats lists the formats Render accepts.
var ValidFormats = []string{FormatPNG, FormatSVG, FormatXML}

// Renderer renders diagram markup into an export format.
type Renderer interface {
	Render(ctx context.Context, markup, format string) ([]byte, error)
}

// =============================================================================
// HTTP Renderer
// =============================================================================

// HTTPRenderer renders via an external rendering service.
//
// XML export short-circuits locally: the markup is the XML payload, no
// service round-trip is needed for it.
type HTTPRenderer struct {
	serviceURL string
	client     *http.Client
	logger     *slog.Logger
}

// NewHTTPRenderer creates a renderer talking to the service at baseURL.
func NewHTTPRenderer(baseURL string, client *http.Client, logger *slog.Logger) *HTTPRenderer {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPRenderer{serviceURL: baseURL, client: client, logger: logger}
}

type renderRequest struct {
	Markup string `json:"markup"`
	Format string `json:"format"`
}

// Render implements Renderer.
func (r *HTTPRenderer) Render(ctx context.Context, markup, format string) ([]byte, error) {
	switch format {
	case FormatXML:
		return []byte(markup), nil
	case FormatPNG, FormatSVG:
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}

	body, err := json.Marshal(renderRequest{Markup: markup, Format: format})
	if err != nil {
		return nil, fmt.Errorf("encode render request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.serviceURL+"/render", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build render request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("render service call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("render service returned %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read render response: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("render service returned empty %s", format)
	}

	r.logger.Debug("render completed", "format", format, "bytes", len(data))
	return data, nil
}
