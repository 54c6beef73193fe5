// Copyright (C) 2026 VisuaLearn (team@visualearn.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiagramRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     DiagramRequest
		wantErr bool
	}{
		{"valid minimal", DiagramRequest{Concept: "photosynthesis"}, false},
		{"valid with formats", DiagramRequest{Concept: "osmosis", Formats: []string{"png", "svg"}}, false},
		{"empty concept", DiagramRequest{Concept: ""}, true},
		{"blank concept", DiagramRequest{Concept: "   \t"}, true},
		{"max length concept", DiagramRequest{Concept: strings.Repeat("a", MaxConceptLength)}, false},
		{"oversized concept", DiagramRequest{Concept: strings.Repeat("a", MaxConceptLength+1)}, true},
		{"unknown format", DiagramRequest{Concept: "ok", Formats: []string{"gif"}}, true},
		{"empty format list", DiagramRequest{Concept: "ok", Formats: []string{}}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.req.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
