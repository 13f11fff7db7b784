// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// TIER TESTS
// =============================================================================

func TestTierString(t *testing.T) {
	tests := []struct {
		tier     Tier
		expected string
	}{
		{TierCheap, "cheap"},
		{TierMid, "mid"},
		{TierTop, "top"},
		{Tier(9), "Tier(9)"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.tier.String())
		})
	}
}

func TestParseTier(t *testing.T) {
	for _, tier := range AllTiers {
		parsed, err := ParseTier(tier.String())
		require.NoError(t, err)
		assert.Equal(t, tier, parsed)
	}

	parsed, err := ParseTier("  TOP ")
	require.NoError(t, err)
	assert.Equal(t, TierTop, parsed)

	_, err = ParseTier("premium")
	assert.True(t, errors.Is(err, ErrUnknownTier))
}

func TestTierTextRoundTrip(t *testing.T) {
	text, err := TierMid.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "mid", string(text))

	var tier Tier
	require.NoError(t, tier.UnmarshalText([]byte("top")))
	assert.Equal(t, TierTop, tier)

	_, err = Tier(42).MarshalText()
	assert.ErrorIs(t, err, ErrUnknownTier)
}

// =============================================================================
// REGISTRY TESTS
// =============================================================================

func TestDefaultRegistry(t *testing.T) {
	reg := DefaultRegistry()

	for _, tier := range AllTiers {
		cfg, err := reg.Lookup(tier)
		require.NoError(t, err, "tier %s", tier)
		assert.Equal(t, tier, cfg.Tier)
		assert.NotEmpty(t, cfg.ModelID)
		assert.Positive(t, cfg.MaxContextTokens)
		assert.Positive(t, cfg.Timeout)
	}

	configs := reg.Configs()
	require.Len(t, configs, 3)
	assert.Equal(t, TierCheap, configs[0].Tier)
	assert.Equal(t, TierTop, configs[2].Tier)
}

func TestRegistryLookupUnknown(t *testing.T) {
	_, err := DefaultRegistry().Lookup(Tier(7))
	assert.ErrorIs(t, err, ErrUnknownTier)
}

func TestNewRegistryRequiresEveryTier(t *testing.T) {
	configs := DefaultTierConfigs()

	_, err := NewRegistry(configs[:2]...)
	assert.ErrorIs(t, err, ErrUnknownTier)

	_, err = NewRegistry(append(configs, configs[0])...)
	assert.Error(t, err)
}

func TestNewRegistryValidates(t *testing.T) {
	configs := DefaultTierConfigs()
	configs[1].Timeout = 0

	_, err := NewRegistry(configs...)
	assert.ErrorContains(t, err, "timeout")
}

func TestModelTierConfigCost(t *testing.T) {
	cfg := ModelTierConfig{
		Tier:                     TierCheap,
		PromptCostPerMillion:     0.10,
		CompletionCostPerMillion: 0.30,
		MaxContextTokens:         8000,
		Timeout:                  time.Second,
	}

	cost := cfg.Cost(1000, 500)
	assert.InDelta(t, 0.00025, cost, 1e-12)
	assert.Zero(t, cfg.Cost(0, 0))
	assert.False(t, math.IsNaN(cost))
}

// =============================================================================
// REQUEST TESTS
// =============================================================================

func TestDispatchRequestMessagesOrder(t *testing.T) {
	req := DispatchRequest{
		Tier:         TierMid,
		SystemPrompt: "You are a cooking assistant.",
		ContextBlock: "Recipe: Risotto",
		History: []Message{
			NewUserMessage("what now?"),
			NewAssistantMessage("Add the stock."),
		},
		UserMessage: "how much stock?",
	}

	msgs := req.Messages()
	require.Len(t, msgs, 5)
	assert.Equal(t, NewSystemMessage("You are a cooking assistant."), msgs[0])
	assert.Equal(t, NewSystemMessage("Recipe: Risotto"), msgs[1])
	assert.Equal(t, RoleUser, msgs[2].Role)
	assert.Equal(t, RoleAssistant, msgs[3].Role)
	assert.Equal(t, NewUserMessage("how much stock?"), msgs[4])
}

func TestDispatchRequestMessagesSkipsEmptyContext(t *testing.T) {
	req := DispatchRequest{SystemPrompt: "sys", UserMessage: "hi"}

	msgs := req.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, RoleSystem, msgs[0].Role)
	assert.Equal(t, RoleUser, msgs[1].Role)
}

func TestValidateHistory(t *testing.T) {
	assert.NoError(t, ValidateHistory([]Message{NewUserMessage("a"), NewAssistantMessage("b")}))
	assert.Error(t, ValidateHistory([]Message{{Role: "tool", Content: "x"}}))
}

func TestMessagePreview(t *testing.T) {
	msg := NewUserMessage("crème fraîche substitute")
	assert.Equal(t, "crème...", msg.Preview(8))
	assert.Equal(t, msg.Content, msg.Preview(100))
}
