// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package prompt

import "unicode/utf8"

// =============================================================================
// TOKEN BUDGET
// =============================================================================

const (
	// CharsPerToken is the estimation heuristic used for budgeting.
	// Dispatched cost always uses provider-reported counts instead.
	CharsPerToken = 4

	// DefaultContextPercent is the share of the context window given to the
	// context block.
	DefaultContextPercent = 40

	// EllipsisMarker is appended to a truncated context block.
	EllipsisMarker = "..."
)

// EstimateTokens returns ceil(characters / 4).
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + CharsPerToken - 1) / CharsPerToken
}

// Budget is the token allowance for a context block.
type Budget struct {
	Tokens int
}

// NewBudget returns percent% of maxContextTokens.
func NewBudget(maxContextTokens, percent int) Budget {
	if percent <= 0 || percent > 100 {
		percent = DefaultContextPercent
	}
	return Budget{Tokens: maxContextTokens * percent / 100}
}

// Chars returns the character ceiling for the budget.
func (b Budget) Chars() int {
	return b.Tokens * CharsPerToken
}

// Fit truncates text to the budget's character ceiling and appends the
// ellipsis marker. Text within budget is returned unchanged. Truncation is
// rune-based so multi-byte characters are never split.
func (b Budget) Fit(text string) (string, bool) {
	if EstimateTokens(text) <= b.Tokens {
		return text, false
	}
	limit := b.Chars()
	count := 0
	for i := range text {
		if count == limit {
			return text[:i] + EllipsisMarker, true
		}
		count++
	}
	return text, false
}
