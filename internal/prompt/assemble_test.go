// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package prompt

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/sous/internal/model"
	"github.com/jeranaias/sous/internal/router"
)

// =============================================================================
// BUDGET TESTS
// =============================================================================

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		text     string
		expected int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{strings.Repeat("x", 10000), 2500},
		{"éééé", 1},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, EstimateTokens(tt.text), "len %d", len(tt.text))
	}
}

func TestBudgetFit(t *testing.T) {
	budget := NewBudget(8000, DefaultContextPercent)
	require.Equal(t, 3200, budget.Tokens)
	require.Equal(t, 12800, budget.Chars())

	short := strings.Repeat("a", 10000)
	out, truncated := budget.Fit(short)
	assert.False(t, truncated)
	assert.Equal(t, short, out)

	long := strings.Repeat("b", 20000)
	out, truncated = budget.Fit(long)
	assert.True(t, truncated)
	assert.Len(t, out, 12800+len(EllipsisMarker))
	assert.True(t, strings.HasSuffix(out, EllipsisMarker))
	assert.Equal(t, strings.Repeat("b", 12800), strings.TrimSuffix(out, EllipsisMarker))

	exact := strings.Repeat("c", 12800)
	out, truncated = budget.Fit(exact)
	assert.False(t, truncated)
	assert.Equal(t, exact, out)
}

func TestBudgetFitMultibyte(t *testing.T) {
	budget := Budget{Tokens: 1}

	out, truncated := budget.Fit("crème brûlée")
	assert.True(t, truncated)
	assert.Equal(t, "crèm...", out)
}

func TestNewBudgetInvalidPercent(t *testing.T) {
	assert.Equal(t, 3200, NewBudget(8000, 0).Tokens)
	assert.Equal(t, 3200, NewBudget(8000, 150).Tokens)
	assert.Equal(t, 4000, NewBudget(8000, 50).Tokens)
}

// =============================================================================
// ASSEMBLER TESTS
// =============================================================================

func testRegistry(t *testing.T, maxContext int) *model.Registry {
	t.Helper()
	configs := model.DefaultTierConfigs()
	for i := range configs {
		configs[i].MaxContextTokens = maxContext
		configs[i].Timeout = time.Second
	}
	reg, err := model.NewRegistry(configs...)
	require.NoError(t, err)
	return reg
}

func TestAssembleTiming(t *testing.T) {
	a := NewAssembler(model.DefaultRegistry())
	intent := router.Classify("how long should I cook this?")

	req, err := a.Assemble("how long should I cook this?", testCookingContext(), intent, model.TierCheap, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, model.TierCheap, req.Tier)
	assert.Equal(t, "Step 3/7: Simmer for 10 minutes", req.ContextBlock)
	assert.Equal(t, SystemPrompt(model.TierCheap, router.IntentTimingQuestion), req.SystemPrompt)
	assert.Equal(t, "how long should I cook this?", req.UserMessage)
	assert.Empty(t, req.History)
}

func TestAssembleTruncatesContext(t *testing.T) {
	a := NewAssembler(testRegistry(t, 8000))
	cc := testCookingContext()
	cc.StepText = strings.Repeat("s", 20000)

	req, err := a.Assemble("is it done?", cc, router.NewIntent(router.IntentTimingQuestion, 0.9), model.TierCheap, nil, nil)
	require.NoError(t, err)

	assert.Len(t, req.ContextBlock, 12800+len(EllipsisMarker))
	assert.True(t, strings.HasPrefix(req.ContextBlock, "Step 3/7: "))
	assert.True(t, strings.HasSuffix(req.ContextBlock, EllipsisMarker))
}

func TestAssembleHistoryCap(t *testing.T) {
	a := NewAssembler(model.DefaultRegistry())

	history := make([]model.Message, 10)
	for i := range history {
		history[i] = model.NewUserMessage(fmt.Sprintf("msg %d", i))
	}

	req, err := a.Assemble("next?", testCookingContext(), router.NewIntent(router.IntentSimpleQuestion, 0.9), model.TierCheap, nil, history)
	require.NoError(t, err)

	require.Len(t, req.History, DefaultHistoryLimit)
	assert.Equal(t, "msg 4", req.History[0].Content)
	assert.Equal(t, "msg 9", req.History[5].Content)

	// The request must not alias the caller's slice.
	history[9].Content = "mutated"
	assert.Equal(t, "msg 9", req.History[5].Content)
}

func TestAssembleHistoryShorterThanCap(t *testing.T) {
	a := NewAssembler(model.DefaultRegistry(), WithHistoryLimit(4))
	history := []model.Message{model.NewUserMessage("a"), model.NewAssistantMessage("b")}

	req, err := a.Assemble("c", model.CookingContext{}, router.NewIntent(router.IntentSimpleQuestion, 0.9), model.TierCheap, nil, history)
	require.NoError(t, err)
	assert.Equal(t, history, req.History)
}

func TestAssembleHistoryLimitCapped(t *testing.T) {
	a := NewAssembler(model.DefaultRegistry(), WithHistoryLimit(20))

	history := make([]model.Message, 12)
	for i := range history {
		history[i] = model.NewUserMessage(fmt.Sprintf("msg %d", i))
	}

	req, err := a.Assemble("next?", model.CookingContext{}, router.NewIntent(router.IntentSimpleQuestion, 0.9), model.TierCheap, nil, history)
	require.NoError(t, err)
	require.Len(t, req.History, DefaultHistoryLimit)
	assert.Equal(t, "msg 6", req.History[0].Content)
}

func TestAssembleUnknownTier(t *testing.T) {
	a := NewAssembler(model.DefaultRegistry())

	_, err := a.Assemble("hi", model.CookingContext{}, router.NewIntent(router.IntentGeneralChat, 0.7), model.Tier(99), nil, nil)
	assert.ErrorIs(t, err, model.ErrUnknownTier)
}

func TestAssembleContextPercentOption(t *testing.T) {
	a := NewAssembler(testRegistry(t, 100), WithContextPercent(10))
	cc := model.CookingContext{CurrentStep: 1, TotalSteps: 1, StepText: strings.Repeat("x", 200)}

	req, err := a.Assemble("done?", cc, router.NewIntent(router.IntentTimingQuestion, 0.9), model.TierCheap, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 40+len(EllipsisMarker), len(req.ContextBlock))
}

// =============================================================================
// SYSTEM PROMPT TESTS
// =============================================================================

func TestSystemPromptVerbosity(t *testing.T) {
	cheap := SystemPrompt(model.TierCheap, router.IntentTimingQuestion)
	mid := SystemPrompt(model.TierMid, router.IntentTimingQuestion)
	top := SystemPrompt(model.TierTop, router.IntentTroubleshooting)
	midTrouble := SystemPrompt(model.TierMid, router.IntentTroubleshooting)

	assert.Less(t, len(cheap), len(mid))
	assert.Less(t, len(midTrouble), len(top))
}

func TestSystemPromptFallback(t *testing.T) {
	assert.Equal(t, BasePrompt, SystemPrompt(model.TierCheap, router.IntentGeneralChat))
	assert.Equal(t, BasePrompt, SystemPrompt(model.TierTop, router.IntentTimingQuestion))
	assert.Equal(t, BasePrompt, SystemPrompt(model.Tier(7), router.IntentTimingQuestion))
}

// TestSystemPromptReachable checks every tier the selector can pick for a
// mapped category has a dedicated instruction.
func TestSystemPromptReachable(t *testing.T) {
	for _, it := range router.AllIntentTypes {
		if it == router.IntentGeneralChat {
			continue
		}
		for _, conf := range []float64{0.5, 0.9} {
			tier := router.Select(router.NewIntent(it, conf))
			assert.NotEqual(t, BasePrompt, SystemPrompt(tier, it), "%s -> %s", it, tier)
		}
	}
}
