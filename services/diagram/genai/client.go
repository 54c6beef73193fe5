// Copyright (C) 2026 VisuaLearn (team@visualearn.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package genai defines the generation backend contract and its
// OpenAI-backed implementation.
//
// The pipeline treats the backend as an opaque collaborator: four async
// calls, each individually timeout-bound by the orchestrator, not by
// the client itself. Anything the backend returns still passes the
// validation engine before it is served.
package genai

import (
	"context"

	"github.com/visualearn/visualearn/services/diagram/datatypes"
)

// GenerationClient is the contract for the AI generation backend.
type GenerationClient interface {
	// Plan analyzes a concept and produces a structured diagram plan.
	Plan(ctx context.Context, concept string) (*datatypes.Plan, error)

	// Generate produces the initial diagram document from a plan.
	Generate(ctx context.Context, plan *datatypes.Plan) (*datatypes.DiagramDocument, error)

	// Review scores the current document (0-100) and decides whether
	// it is approved, returning refinement instructions when not.
	Review(ctx context.Context, doc *datatypes.DiagramDocument, plan *datatypes.Plan, iteration int) (*datatypes.Review, error)

	// Refine applies refinement instructions to the document,
	// producing a new document. Components and steps may be extended,
	// never silently dropped.
	Refine(ctx context.Context, doc *datatypes.DiagramDocument, instructions []string) (*datatypes.DiagramDocument, error)
}
