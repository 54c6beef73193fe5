// Copyright (C) 2026 VisuaLearn (team@visualearn.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package genai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/visualearn/visualearn/services/diagram/datatypes"
)

// =============================================================================
// Approval Policy
// =============================================================================

const (
	// approveScore is the threshold for unconditional approval.
	approveScore = 90

	// refineScore is the floor below which a document is rejected
	// outright, except on the final iteration where it is accepted
	// anyway to guarantee the pipeline ends with a result.
	refineScore = 70
)

// determineApproval applies the review policy:
// score >= 90 approve; 70-89 request refinement; < 70 reject unless this
// is the final iteration.
func determineApproval(score, iteration, maxIterations int) bool {
	switch {
	case score >= approveScore:
		return true
	case score >= refineScore:
		return false
	default:
		return iteration >= maxIterations
	}
}

// =============================================================================
// OpenAI Client
// =============================================================================

// Config configures the OpenAI-backed generation client.
type Config struct {
	// APIKey authenticates against the OpenAI API.
	APIKey string

	// Model is the chat model used for all four calls.
	// Empty means gpt-4o-mini.
	Model string

	// MaxReviewIterations feeds the approval policy.
	// Zero means 3.
	MaxReviewIterations int
}

// Client implements GenerationClient on the OpenAI chat API.
//
// Each call builds a single-turn prompt asking for a strict JSON body
// and parses the reply, tolerating markdown code fences around the
// JSON. Model output is never trusted structurally; the pipeline
// revalidates every document downstream.
type Client struct {
	api           *openai.Client
	model         string
	maxIterations int
	logger        *slog.Logger
}

// NewClient creates an OpenAI-backed generation client.
func NewClient(config Config, logger *slog.Logger) (*Client, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("generation client: API key not set")
	}
	if config.Model == "" {
		config.Model = openai.GPT4oMini
	}
	if config.MaxReviewIterations <= 0 {
		config.MaxReviewIterations = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("initializing generation client", "model", config.Model)
	return &Client{
		api:           openai.NewClient(config.APIKey),
		model:         config.Model,
		maxIterations: config.MaxReviewIterations,
		logger:        logger,
	}, nil
}

// Plan implements GenerationClient.
func (c *Client) Plan(ctx context.Context, concept string) (*datatypes.Plan, error) {
	raw, err := c.complete(ctx, planPrompt(concept))
	if err != nil {
		return nil, fmt.Errorf("planning call failed: %w", err)
	}

	var plan datatypes.Plan
	if err := unmarshalModelJSON(raw, &plan); err != nil {
		return nil, fmt.Errorf("invalid planning response: %w", err)
	}
	if err := checkPlan(&plan); err != nil {
		return nil, err
	}
	c.logger.Debug("plan produced",
		"diagram_type", plan.DiagramType, "components", len(plan.Components))
	return &plan, nil
}

// Generate implements GenerationClient.
func (c *Client) Generate(ctx context.Context, plan *datatypes.Plan) (*datatypes.DiagramDocument, error) {
	raw, err := c.complete(ctx, generatePrompt(plan))
	if err != nil {
		return nil, fmt.Errorf("generation call failed: %w", err)
	}

	var doc datatypes.DiagramDocument
	if err := unmarshalModelJSON(raw, &doc); err != nil {
		return nil, fmt.Errorf("invalid generation response: %w", err)
	}
	c.logger.Debug("document generated",
		"components", len(doc.Components), "steps", len(doc.Steps), "markup_len", len(doc.Markup))
	return &doc, nil
}

// Review implements GenerationClient.
func (c *Client) Review(ctx context.Context, doc *datatypes.DiagramDocument, plan *datatypes.Plan, iteration int) (*datatypes.Review, error) {
	if iteration < 1 || iteration > c.maxIterations {
		return nil, fmt.Errorf("invalid review iteration %d", iteration)
	}

	raw, err := c.complete(ctx, reviewPrompt(doc, plan))
	if err != nil {
		return nil, fmt.Errorf("review call failed: %w", err)
	}

	var review datatypes.Review
	if err := unmarshalModelJSON(raw, &review); err != nil {
		return nil, fmt.Errorf("invalid review response: %w", err)
	}
	if review.Score < 0 || review.Score > 100 {
		return nil, fmt.Errorf("invalid review score %d, must be 0-100", review.Score)
	}

	review.Iteration = iteration
	review.Approved = determineApproval(review.Score, iteration, c.maxIterations)
	return &review, nil
}

// Refine implements GenerationClient.
func (c *Client) Refine(ctx context.Context, doc *datatypes.DiagramDocument, instructions []string) (*datatypes.DiagramDocument, error) {
	raw, err := c.complete(ctx, refinePrompt(doc, instructions))
	if err != nil {
		return nil, fmt.Errorf("refinement call failed: %w", err)
	}

	var refined datatypes.DiagramDocument
	if err := unmarshalModelJSON(raw, &refined); err != nil {
		return nil, fmt.Errorf("invalid refinement response: %w", err)
	}
	return &refined, nil
}

// complete performs one chat completion and returns the raw text.
func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPersona},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("model returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// checkPlan rejects plans with missing or unusable fields before the
// pipeline spends a generation call on them.
func checkPlan(plan *datatypes.Plan) error {
	if strings.TrimSpace(plan.Concept) == "" {
		return fmt.Errorf("plan missing concept")
	}
	valid := false
	for _, t := range datatypes.ValidDiagramTypes {
		if plan.DiagramType == t {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid diagram type %q", plan.DiagramType)
	}
	if len(plan.Components) == 0 {
		return fmt.Errorf("plan components list is empty")
	}
	return nil
}

// =============================================================================
// Model JSON Handling
// =============================================================================

// unmarshalModelJSON parses JSON from model output, stripping a
// surrounding markdown code fence when present.
func unmarshalModelJSON(raw string, v any) error {
	return json.Unmarshal([]byte(StripCodeFence(raw)), v)
}

// StripCodeFence removes a ```json ... ``` (or bare ``` ... ```) fence
// around a payload. Models are instructed to answer with plain JSON but
// wrap it anyway often enough that tolerating the fence is cheaper than
// retrying.
func StripCodeFence(raw string) string {
	text := strings.TrimSpace(raw)
	if idx := strings.Index(text, "```json"); idx >= 0 {
		text = text[idx+len("```json"):]
		if end := strings.Index(text, "```"); end >= 0 {
			text = text[:end]
		}
		return strings.TrimSpace(text)
	}
	if idx := strings.Index(text, "```"); idx >= 0 {
		text = text[idx+3:]
		if end := strings.Index(text, "```"); end >= 0 {
			text = text[:end]
		}
		return strings.TrimSpace(text)
	}
	return text
}
