// Copyright (C) 2026 VisuaLearn (team@visualearn.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package genai

import (
	"fmt"
	"strings"

	"github.com/visualearn/visualearn/services/diagram/datatypes"
)

const systemPersona = "You are an expert educational diagram designer specializing in visual explanations."

// markupPreviewLimit bounds how much markup is embedded in the review
// prompt. Full markup can be tens of kilobytes; the reviewer judges
// structure from the document fields, the preview is orientation only.
const markupPreviewLimit = 500

func planPrompt(concept string) string {
	return fmt.Sprintf(`Task: Analyze this topic and create a detailed diagram plan.

Topic: %s

Requirements:
1. Identify the core concept clearly
2. Choose an appropriate diagram type (flowchart for processes, mindmap for relationships, sequence for steps, hierarchy for structure)
3. Identify all key components (5-15 elements)
4. Define clear relationships between components
5. Define measurable success criteria
6. Define key insights

Respond ONLY with valid JSON in this exact structure (no markdown, no code blocks):
{
    "concept": "the main concept being explained",
    "diagramType": "flowchart|mindmap|sequence|hierarchy",
    "components": ["element1", "element2"],
    "relationships": [{"from": "source", "to": "destination", "label": "relationship"}],
    "successCriteria": ["criterion1", "criterion2"],
    "keyInsights": ["insight1", "insight2"]
}`, concept)
}

func generatePrompt(plan *datatypes.Plan) string {
	var rels strings.Builder
	for _, r := range plan.Relationships {
		fmt.Fprintf(&rels, "  - %s -> %s (%s)\n", r.From, r.To, r.Label)
	}
	return fmt.Sprintf(`Task: Produce a complete annotated diagram document for this plan.

Concept: %s
Diagram type: %s
Components: %s
Relationships:
%s
Produce SVG markup plus structured metadata. Every component needs a unique id and a selector matching an element id inside the markup. Steps walk the viewer through the diagram in order. Connections and data flows may only reference declared component ids.

Respond ONLY with valid JSON in this exact structure (no markdown, no code blocks):
{
    "components": [{"id": "c1", "label": "...", "description": "...", "selector": "#c1", "category": "control|input|output|process|sensor", "layer": "core|advanced"}],
    "steps": [{"id": "s1", "title": "...", "description": "...", "activeComponentIds": ["c1"], "animationTiming": {"durationMs": 800}}],
    "connections": [{"from": "c1", "to": "c2", "label": "...", "required": true}],
    "dataFlows": [{"from": "c1", "to": "c2", "dataType": "...", "required": false}],
    "scenarios": [{"name": "...", "impactedComponentIds": ["c1"], "visualization": {"highlight": ["c1"], "dim": [], "animationType": "pulse"}, "lessonLearned": "..."}],
    "metadata": {"concept": "%s", "totalDurationMs": 8000, "frameRate": 30},
    "markup": "<svg>...</svg>",
    "qualityScore": 85
}`, plan.Concept, plan.DiagramType, strings.Join(plan.Components, ", "), rels.String(), plan.Concept)
}

func reviewPrompt(doc *datatypes.DiagramDocument, plan *datatypes.Plan) string {
	preview := doc.Markup
	if len(preview) > markupPreviewLimit {
		preview = preview[:markupPreviewLimit] + "..."
	}
	return fmt.Sprintf(`Task: Review this generated diagram against its plan.

Plan:
- Concept: %s
- Diagram type: %s
- Components required: %s
- Success criteria: %s

Document summary:
- Components: %d
- Steps: %d
- Connections: %d
- Markup preview: %s

Provide a quality score 0-100 based on completeness (all required components present), clarity (labeling and organization), accuracy (components match the concept), and relationships (connections between elements are clear). List specific, actionable refinement instructions when the score is below 90.

Respond ONLY with valid JSON in this exact structure (no markdown, no code blocks):
{
    "score": 0,
    "feedback": "Brief human-readable assessment",
    "refinementInstructions": ["instruction1", "instruction2"]
}`,
		plan.Concept, plan.DiagramType,
		strings.Join(plan.Components, ", "), strings.Join(plan.SuccessCriteria, "; "),
		len(doc.Components), len(doc.Steps), len(doc.Connections), preview)
}

func refinePrompt(doc *datatypes.DiagramDocument, instructions []string) string {
	current, _ := jsonCompact(doc)
	return fmt.Sprintf(`Task: Refine this diagram document.

Apply these instructions:
%s

Current document JSON:
%s

Rules: keep every existing component and step (you may extend them, never drop them), keep ids stable, and keep every cross-reference resolvable. Replace markup and metadata as needed.

Respond ONLY with the complete refined document as valid JSON in the same structure (no markdown, no code blocks).`,
		"- "+strings.Join(instructions, "\n- "), current)
}
