// Copyright (C) 2026 VisuaLearn (team@visualearn.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"errors"
	"fmt"
)

// =============================================================================
// Error Codes
// =============================================================================

// Code is a stable, machine-readable pipeline error code. Every failure
// a client can observe maps to exactly one of these.
type Code string

const (
	CodeRateLimited       Code = "RATE_LIMITED"
	CodeInvalidInput      Code = "INVALID_INPUT"
	CodePlanningTimeout   Code = "PLANNING_TIMEOUT"
	CodePlanningError     Code = "PLANNING_ERROR"
	CodeGenerationTimeout Code = "GENERATION_TIMEOUT"
	CodeGenerationError   Code = "GENERATION_ERROR"
	CodeValidationFailed  Code = "VALIDATION_FAILED"
	CodeReviewTimeout     Code = "REVIEW_TIMEOUT"
	CodeReviewError       Code = "REVIEW_ERROR"
	CodeRefinementTimeout Code = "REFINEMENT_TIMEOUT"
	CodeRefinementError   Code = "REFINEMENT_ERROR"
	CodeConversionError   Code = "CONVERSION_ERROR"
	CodeCancelled         Code = "CANCELLED"
)

// userMessages maps codes to generic, user-safe messages. Internal
// detail (wrapped errors, raw model output) goes to the recorder only,
// never into these.
var userMessages = map[Code]string{
	CodeRateLimited:       "Too many requests. Please retry later.",
	CodeInvalidInput:      "The concept could not be accepted.",
	CodePlanningTimeout:   "Concept analysis timed out. Try a simpler topic.",
	CodePlanningError:     "The concept could not be analyzed.",
	CodeGenerationTimeout: "Diagram generation timed out.",
	CodeGenerationError:   "The diagram could not be generated.",
	CodeValidationFailed:  "The generated diagram was structurally invalid.",
	CodeReviewTimeout:     "Diagram review timed out.",
	CodeReviewError:       "The diagram could not be reviewed.",
	CodeRefinementTimeout: "Diagram refinement timed out.",
	CodeRefinementError:   "The diagram could not be refined.",
	CodeConversionError:   "The diagram could not be exported.",
	CodeCancelled:         "The request was cancelled.",
}

// =============================================================================
// Error Type
// =============================================================================

// Error is a classified pipeline failure.
//
// Message is always safe to show a client. Err carries the internal
// cause and is reachable via Unwrap for logging and the recorder, but
// must never be serialized into a response.
type Error struct {
	Code    Code
	Stage   State
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s at %s: %v", e.Code, e.Stage, e.Err)
	}
	return fmt.Sprintf("%s at %s", e.Code, e.Stage)
}

// Unwrap returns the internal cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// newError builds an Error with the code's stock user message.
func newError(code Code, stage State, err error) *Error {
	return &Error{Code: code, Stage: stage, Message: userMessages[code], Err: err}
}

// AsError extracts a *Error from err, if present.
func AsError(err error) (*Error, bool) {
	var pe *Error
	ok := errors.As(err, &pe)
	return pe, ok
}

// classifyStageErr maps a stage call failure onto the stage's timeout
// or generic code, with cancellation of the outer request taking
// precedence over both.
func classifyStageErr(outer context.Context, stage State, err error, timeoutCode, errCode Code) *Error {
	if outer.Err() != nil {
		return newError(CodeCancelled, stage, outer.Err())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(timeoutCode, stage, err)
	}
	return newError(errCode, stage, err)
}
