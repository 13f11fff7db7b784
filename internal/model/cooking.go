// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

// =============================================================================
// COOKING CONTEXT
// =============================================================================

// CookingContext is a read-only snapshot of the active cooking session.
// It is owned and mutated by the session component, never by the router.
type CookingContext struct {
	SessionID   string   `json:"session_id" yaml:"session_id" toml:"session_id"`
	RecipeID    string   `json:"recipe_id" yaml:"recipe_id" toml:"recipe_id"`
	RecipeName  string   `json:"recipe_name" yaml:"recipe_name" toml:"recipe_name"`
	CurrentStep int      `json:"current_step" yaml:"current_step" toml:"current_step"` // 1-based
	StepText    string   `json:"step_text" yaml:"step_text" toml:"step_text"`
	TotalSteps  int      `json:"total_steps" yaml:"total_steps" toml:"total_steps"`
	Ingredients []string `json:"ingredients" yaml:"ingredients" toml:"ingredients"`
}

// HasStep reports whether the snapshot carries a current step.
func (c CookingContext) HasStep() bool {
	return c.StepText != ""
}

// =============================================================================
// RETRIEVED KNOWLEDGE
// =============================================================================

// KnowledgeChunk is a single ranked snippet supplied by the retrieval collaborator.
type KnowledgeChunk struct {
	Content string `json:"content" yaml:"content" toml:"content"`
	Source  string `json:"source" yaml:"source" toml:"source"`
}

// RetrievedKnowledge holds the two ranked lists injected into prompt context.
// Lists arrive already similarity-filtered; the router only selects slices.
type RetrievedKnowledge struct {
	// Knowledge is recipe and technique knowledge, best match first.
	Knowledge []KnowledgeChunk `json:"knowledge" yaml:"knowledge" toml:"knowledge"`

	// Memory is user-specific memory, best match first.
	Memory []KnowledgeChunk `json:"memory" yaml:"memory" toml:"memory"`
}

// IsEmpty reports whether no chunks were supplied.
func (k *RetrievedKnowledge) IsEmpty() bool {
	return k == nil || (len(k.Knowledge) == 0 && len(k.Memory) == 0)
}
