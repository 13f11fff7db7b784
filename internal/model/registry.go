// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrUnknownTier is returned when a tier is not present in the registry.
// It indicates a configuration defect and is never retried.
var ErrUnknownTier = errors.New("unknown tier")

// =============================================================================
// MODEL TIER CONFIG
// =============================================================================

// ModelTierConfig describes the upstream model backing a tier.
type ModelTierConfig struct {
	// Tier is the tier this configuration serves.
	Tier Tier `json:"tier"`

	// ModelID is the upstream model identifier sent to the gateway.
	ModelID string `json:"model_id"`

	// PromptCostPerMillion is the USD cost per one million input tokens.
	PromptCostPerMillion float64 `json:"prompt_cost_per_million"`

	// CompletionCostPerMillion is the USD cost per one million output tokens.
	CompletionCostPerMillion float64 `json:"completion_cost_per_million"`

	// MaxContextTokens is the model's context window. The prompt assembler
	// budgets the context block as a fraction of this value.
	MaxContextTokens int `json:"max_context_tokens"`

	// MaxOutputTokens is sent as max_tokens on every call.
	MaxOutputTokens int `json:"max_output_tokens"`

	// Temperature is the sampling temperature sent on every call.
	Temperature float64 `json:"temperature"`

	// Timeout bounds a single dispatch attempt.
	Timeout time.Duration `json:"timeout"`
}

// Cost returns the USD cost of a call given provider-reported token counts.
func (c ModelTierConfig) Cost(promptTokens, completionTokens int) float64 {
	return float64(promptTokens)/1e6*c.PromptCostPerMillion +
		float64(completionTokens)/1e6*c.CompletionCostPerMillion
}

// CostString returns a formatted pricing string for display.
func (c ModelTierConfig) CostString() string {
	return fmt.Sprintf("$%.2f / $%.2f per M", c.PromptCostPerMillion, c.CompletionCostPerMillion)
}

// ContextString returns a formatted context window size.
func (c ModelTierConfig) ContextString() string {
	if c.MaxContextTokens >= 1000 {
		return fmt.Sprintf("%dK", c.MaxContextTokens/1000)
	}
	return fmt.Sprintf("%d", c.MaxContextTokens)
}

// Validate checks that the configuration can serve requests.
func (c ModelTierConfig) Validate() error {
	switch {
	case !c.Tier.IsValid():
		return fmt.Errorf("%w: %d", ErrUnknownTier, int(c.Tier))
	case c.ModelID == "":
		return fmt.Errorf("tier %s: model id is required", c.Tier)
	case c.PromptCostPerMillion < 0 || c.CompletionCostPerMillion < 0:
		return fmt.Errorf("tier %s: costs must not be negative", c.Tier)
	case c.MaxContextTokens <= 0:
		return fmt.Errorf("tier %s: max context tokens must be positive", c.Tier)
	case c.Timeout <= 0:
		return fmt.Errorf("tier %s: timeout must be positive", c.Tier)
	}
	return nil
}

// =============================================================================
// REGISTRY
// =============================================================================

// Registry is the read-only table of tier configurations.
// It is safe for concurrent use because it is never mutated after construction.
type Registry struct {
	tiers map[Tier]ModelTierConfig
}

// NewRegistry builds a registry from the given configurations.
// Every known tier must be present exactly once.
func NewRegistry(configs ...ModelTierConfig) (*Registry, error) {
	tiers := make(map[Tier]ModelTierConfig, len(configs))
	for _, c := range configs {
		if err := c.Validate(); err != nil {
			return nil, err
		}
		if _, dup := tiers[c.Tier]; dup {
			return nil, fmt.Errorf("tier %s configured twice", c.Tier)
		}
		tiers[c.Tier] = c
	}
	for _, t := range AllTiers {
		if _, ok := tiers[t]; !ok {
			return nil, fmt.Errorf("%w: %s missing from registry", ErrUnknownTier, t)
		}
	}
	return &Registry{tiers: tiers}, nil
}

// DefaultRegistry returns the built-in tier table.
//
// Pricing (USD per million tokens, OpenRouter list prices):
//   - cheap: Gemini 2.0 Flash Lite, $0.075 in / $0.30 out
//   - mid:   Claude 3.5 Haiku,      $0.80 in  / $4.00 out
//   - top:   Claude Sonnet 4,       $3.00 in  / $15.00 out
func DefaultRegistry() *Registry {
	reg, err := NewRegistry(DefaultTierConfigs()...)
	if err != nil {
		panic(fmt.Sprintf("default registry: %v", err))
	}
	return reg
}

// DefaultTierConfigs returns the built-in tier configurations.
func DefaultTierConfigs() []ModelTierConfig {
	return []ModelTierConfig{
		{
			Tier:                     TierCheap,
			ModelID:                  "google/gemini-2.0-flash-lite-001",
			PromptCostPerMillion:     0.075,
			CompletionCostPerMillion: 0.30,
			MaxContextTokens:         8000,
			MaxOutputTokens:          300,
			Temperature:              0.3,
			Timeout:                  10 * time.Second,
		},
		{
			Tier:                     TierMid,
			ModelID:                  "anthropic/claude-3.5-haiku",
			PromptCostPerMillion:     0.80,
			CompletionCostPerMillion: 4.00,
			MaxContextTokens:         16000,
			MaxOutputTokens:          600,
			Temperature:              0.5,
			Timeout:                  20 * time.Second,
		},
		{
			Tier:                     TierTop,
			ModelID:                  "anthropic/claude-sonnet-4",
			PromptCostPerMillion:     3.00,
			CompletionCostPerMillion: 15.00,
			MaxContextTokens:         32000,
			MaxOutputTokens:          1200,
			Temperature:              0.6,
			Timeout:                  45 * time.Second,
		},
	}
}

// Lookup returns the configuration for a tier.
func (r *Registry) Lookup(t Tier) (ModelTierConfig, error) {
	c, ok := r.tiers[t]
	if !ok {
		return ModelTierConfig{}, fmt.Errorf("%w: %s", ErrUnknownTier, t)
	}
	return c, nil
}

// Configs returns all tier configurations in cost order.
func (r *Registry) Configs() []ModelTierConfig {
	out := make([]ModelTierConfig, 0, len(r.tiers))
	for _, c := range r.tiers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tier < out[j].Tier })
	return out
}
