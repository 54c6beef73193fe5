// Copyright (C) 2026 VisuaLearn (team@visualearn.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validation implements the structural validation engine for
// diagram documents.
//
// # Description
//
// The engine is a pure, synchronous referential-integrity checker. It
// builds the set of component IDs in one pass, then walks every
// cross-reference collection (steps, scenarios, connections, data flows)
// verifying that each referenced ID resolves. It short-circuits on the
// first violation and returns a structured error naming the offending
// reference kind.
//
// # Design
//
// A document with any broken cross-reference is rejected entirely. There
// is no partial acceptance and no default-filling: silently repairing a
// model invites misleading diagrams. A separate best-effort pass checks
// whether component selectors textually occur in the markup; those
// findings are warnings, never failures, because generated markup may use
// structurally equivalent but textually different selectors.
//
// # Thread Safety
//
// Validate performs no I/O and holds no state; it is safe to call
// concurrently.
package validation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/visualearn/visualearn/services/diagram/datatypes"
)

// =============================================================================
// Error Kinds
// =============================================================================

// Kind classifies a validation failure.
type Kind string

const (
	// KindDuplicateID marks a non-unique component or step ID.
	KindDuplicateID Kind = "duplicate-id"

	// KindMissingComponent marks a reference to a component ID that does
	// not exist in the document's components.
	KindMissingComponent Kind = "missing-component"

	// KindOutOfRangeDuration marks an animation duration outside
	// [MinStepDurationMs, MaxStepDurationMs].
	KindOutOfRangeDuration Kind = "out-of-range-duration"

	// KindInvalidMetadata marks a non-positive total duration.
	KindInvalidMetadata Kind = "invalid-metadata"

	// KindEmptyMarkup marks empty markup or markup without a
	// recognizable container tag.
	KindEmptyMarkup Kind = "empty-markup"
)

// Error is a structural validation failure.
type Error struct {
	// Kind classifies the failure.
	Kind Kind

	// Where names the collection and entry the failure was found in,
	// e.g. "steps[2]" or "scenarios[0].visualization.highlight".
	Where string

	// Ref is the offending reference or ID, when applicable.
	Ref string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Ref != "" {
		return fmt.Sprintf("validation failed: %s at %s (ref %q)", e.Kind, e.Where, e.Ref)
	}
	return fmt.Sprintf("validation failed: %s at %s", e.Kind, e.Where)
}

// AsError extracts a *Error from err, if present.
func AsError(err error) (*Error, bool) {
	var ve *Error
	ok := errors.As(err, &ve)
	return ve, ok
}

// =============================================================================
// Markup Container Tags
// =============================================================================

// containerTags are the markup roots the engine recognizes. A document
// whose markup contains none of these is rejected as empty-markup.
var containerTags = []string{"<svg", "<mxGraphModel", "<g ", "<g>", "<diagram"}

// =============================================================================
// Engine
// =============================================================================

// Warning is a non-fatal finding from the best-effort selector pass.
type Warning struct {
	ComponentID string
	Selector    string
}

func (w Warning) String() string {
	return fmt.Sprintf("component %q selector %q not found in markup", w.ComponentID, w.Selector)
}

// Validate checks the document's structural invariants.
//
// # Description
//
// Verifies, in order: component ID uniqueness, step ID uniqueness,
// resolution of every component reference in steps, scenarios,
// connections and data flows, step animation duration bounds, positive
// total duration, and non-empty markup with a recognizable container
// tag. Returns on the first violation.
//
// # Outputs
//
//   - error: nil when all invariants hold, otherwise a *Error naming
//     the first violation found.
func Validate(doc *datatypes.DiagramDocument) error {
	ids := make(map[string]struct{}, len(doc.Components))
	for i, c := range doc.Components {
		if _, dup := ids[c.ID]; dup {
			return &Error{Kind: KindDuplicateID, Where: fmt.Sprintf("components[%d]", i), Ref: c.ID}
		}
		ids[c.ID] = struct{}{}
	}

	stepIDs := make(map[string]struct{}, len(doc.Steps))
	for i, s := range doc.Steps {
		if _, dup := stepIDs[s.ID]; dup {
			return &Error{Kind: KindDuplicateID, Where: fmt.Sprintf("steps[%d]", i), Ref: s.ID}
		}
		stepIDs[s.ID] = struct{}{}
	}

	for i, s := range doc.Steps {
		for _, ref := range s.ActiveComponentIDs {
			if _, ok := ids[ref]; !ok {
				return &Error{Kind: KindMissingComponent, Where: fmt.Sprintf("steps[%d]", i), Ref: ref}
			}
		}
	}

	for i, sc := range doc.Scenarios {
		for _, ref := range sc.ImpactedComponentIDs {
			if _, ok := ids[ref]; !ok {
				return &Error{Kind: KindMissingComponent, Where: fmt.Sprintf("scenarios[%d]", i), Ref: ref}
			}
		}
		for _, ref := range sc.Visualization.Highlight {
			if _, ok := ids[ref]; !ok {
				return &Error{
					Kind:  KindMissingComponent,
					Where: fmt.Sprintf("scenarios[%d].visualization.highlight", i),
					Ref:   ref,
				}
			}
		}
		for _, ref := range sc.Visualization.Dim {
			if _, ok := ids[ref]; !ok {
				return &Error{
					Kind:  KindMissingComponent,
					Where: fmt.Sprintf("scenarios[%d].visualization.dim", i),
					Ref:   ref,
				}
			}
		}
	}

	for i, cn := range doc.Connections {
		if _, ok := ids[cn.From]; !ok {
			return &Error{Kind: KindMissingComponent, Where: fmt.Sprintf("connections[%d].from", i), Ref: cn.From}
		}
		if _, ok := ids[cn.To]; !ok {
			return &Error{Kind: KindMissingComponent, Where: fmt.Sprintf("connections[%d].to", i), Ref: cn.To}
		}
	}

	for i, df := range doc.DataFlows {
		if _, ok := ids[df.From]; !ok {
			return &Error{Kind: KindMissingComponent, Where: fmt.Sprintf("dataFlows[%d].from", i), Ref: df.From}
		}
		if _, ok := ids[df.To]; !ok {
			return &Error{Kind: KindMissingComponent, Where: fmt.Sprintf("dataFlows[%d].to", i), Ref: df.To}
		}
	}

	for i, s := range doc.Steps {
		if s.AnimationTiming == nil {
			continue
		}
		d := s.AnimationTiming.DurationMs
		if d < datatypes.MinStepDurationMs || d > datatypes.MaxStepDurationMs {
			return &Error{
				Kind:  KindOutOfRangeDuration,
				Where: fmt.Sprintf("steps[%d].animationTiming", i),
				Ref:   fmt.Sprintf("%dms", d),
			}
		}
	}

	if doc.Metadata.TotalDurationMs <= 0 {
		return &Error{Kind: KindInvalidMetadata, Where: "metadata.totalDurationMs"}
	}

	if strings.TrimSpace(doc.Markup) == "" {
		return &Error{Kind: KindEmptyMarkup, Where: "markup"}
	}
	if !hasContainerTag(doc.Markup) {
		return &Error{Kind: KindEmptyMarkup, Where: "markup", Ref: "no container tag"}
	}

	return nil
}

// CheckSelectors runs the warn-only selector pass.
//
// Returns one warning per component whose selector does not textually
// occur in the markup. Components without a selector are skipped.
func CheckSelectors(doc *datatypes.DiagramDocument) []Warning {
	var warnings []Warning
	for _, c := range doc.Components {
		if c.Selector == "" {
			continue
		}
		if !strings.Contains(doc.Markup, c.Selector) {
			warnings = append(warnings, Warning{ComponentID: c.ID, Selector: c.Selector})
		}
	}
	return warnings
}

func hasContainerTag(markup string) bool {
	for _, tag := range containerTags {
		if strings.Contains(markup, tag) {
			return true
		}
	}
	return false
}
