// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package prompt

import (
	"fmt"
	"strings"

	"github.com/jeranaias/sous/internal/model"
	"github.com/jeranaias/sous/internal/router"
)

// =============================================================================
// CHUNK CAPS
// =============================================================================

const (
	// MaxKnowledgeChunks caps recipe/technique knowledge in any context block.
	MaxKnowledgeChunks = 3

	// MaxClarificationKnowledge caps knowledge for step clarifications.
	MaxClarificationKnowledge = 2

	// MaxMemoryChunks caps user memory in any context block.
	MaxMemoryChunks = 2
)

// =============================================================================
// CONTEXT BUILDER
// =============================================================================

// BuildContext assembles the context block for an intent.
//
// Assembly rules by category:
//   - timing, temperature: step line only
//   - substitution: recipe, ingredients, step line
//   - scaling: recipe, ingredients
//   - technique: up to 3 knowledge chunks, no session context
//   - troubleshooting: recipe, step line, ingredients, 3 knowledge, 2 memory
//   - step_clarification: recipe, step line, 2 knowledge
//   - modification_report, preference_statement: recipe, current step text
//   - everything else: step line only
//
// Empty parts are omitted. The caps are applied here, never by the caller.
func BuildContext(cc model.CookingContext, intent router.Intent, knowledge *model.RetrievedKnowledge) string {
	var parts []string

	switch intent.Type {
	case router.IntentTimingQuestion, router.IntentTemperatureQuestion:
		parts = append(parts, stepLine(cc))

	case router.IntentSubstitution:
		parts = append(parts, recipeLine(cc), ingredientsLine(cc), stepLine(cc))

	case router.IntentScalingQuestion:
		parts = append(parts, recipeLine(cc), ingredientsLine(cc))

	case router.IntentTechniqueQuestion:
		parts = append(parts, knowledgeLines(knowledgeOf(knowledge), MaxKnowledgeChunks)...)

	case router.IntentTroubleshooting:
		parts = append(parts, recipeLine(cc), stepLine(cc), ingredientsLine(cc))
		parts = append(parts, knowledgeLines(knowledgeOf(knowledge), MaxKnowledgeChunks)...)
		parts = append(parts, memoryLines(memoryOf(knowledge), MaxMemoryChunks)...)

	case router.IntentStepClarification:
		parts = append(parts, recipeLine(cc), stepLine(cc))
		parts = append(parts, knowledgeLines(knowledgeOf(knowledge), MaxClarificationKnowledge)...)

	case router.IntentModificationReport, router.IntentPreference:
		parts = append(parts, recipeLine(cc), currentStepLine(cc))

	default:
		parts = append(parts, stepLine(cc))
	}

	return joinNonEmpty(parts)
}

// =============================================================================
// LINE HELPERS
// =============================================================================

// stepLine renders "Step {n}/{total}: {text}".
func stepLine(cc model.CookingContext) string {
	if !cc.HasStep() {
		return ""
	}
	return fmt.Sprintf("Step %d/%d: %s", cc.CurrentStep, cc.TotalSteps, cc.StepText)
}

func currentStepLine(cc model.CookingContext) string {
	if !cc.HasStep() {
		return ""
	}
	return "Current step: " + cc.StepText
}

func recipeLine(cc model.CookingContext) string {
	if cc.RecipeName == "" {
		return ""
	}
	return "Recipe: " + cc.RecipeName
}

func ingredientsLine(cc model.CookingContext) string {
	names := make([]string, 0, len(cc.Ingredients))
	for _, ing := range cc.Ingredients {
		if ing = strings.TrimSpace(ing); ing != "" {
			names = append(names, ing)
		}
	}
	if len(names) == 0 {
		return ""
	}
	return "Ingredients: " + strings.Join(names, ", ")
}

func knowledgeLines(chunks []model.KnowledgeChunk, limit int) []string {
	return chunkLines("Reference", chunks, limit)
}

func memoryLines(chunks []model.KnowledgeChunk, limit int) []string {
	return chunkLines("User note", chunks, limit)
}

// chunkLines renders at most limit non-empty chunks, best match first.
func chunkLines(label string, chunks []model.KnowledgeChunk, limit int) []string {
	lines := make([]string, 0, limit)
	for _, c := range chunks {
		if len(lines) == limit {
			break
		}
		content := strings.TrimSpace(c.Content)
		if content == "" {
			continue
		}
		if c.Source != "" {
			lines = append(lines, fmt.Sprintf("%s (%s): %s", label, c.Source, content))
		} else {
			lines = append(lines, fmt.Sprintf("%s: %s", label, content))
		}
	}
	return lines
}

func knowledgeOf(k *model.RetrievedKnowledge) []model.KnowledgeChunk {
	if k == nil {
		return nil
	}
	return k.Knowledge
}

func memoryOf(k *model.RetrievedKnowledge) []model.KnowledgeChunk {
	if k == nil {
		return nil
	}
	return k.Memory
}

func joinNonEmpty(parts []string) string {
	kept := parts[:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n")
}
