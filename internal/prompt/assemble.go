// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package prompt

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/jeranaias/sous/internal/model"
	"github.com/jeranaias/sous/internal/router"
)

// DefaultHistoryLimit is the number of trailing history entries kept.
const DefaultHistoryLimit = 6

// =============================================================================
// ASSEMBLER
// =============================================================================

// Assembler builds dispatch requests against an immutable tier registry.
// It holds no per-request state and is safe for concurrent use.
type Assembler struct {
	registry       *model.Registry
	contextPercent int
	historyLimit   int
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithContextPercent sets the share of the context window given to the
// context block.
func WithContextPercent(percent int) Option {
	return func(a *Assembler) {
		if percent > 0 && percent <= 100 {
			a.contextPercent = percent
		}
	}
}

// WithHistoryLimit sets how many trailing history entries are kept. Values
// above DefaultHistoryLimit are capped to it.
func WithHistoryLimit(n int) Option {
	return func(a *Assembler) {
		if n >= 0 {
			a.historyLimit = min(n, DefaultHistoryLimit)
		}
	}
}

// NewAssembler creates an Assembler for the given registry.
func NewAssembler(registry *model.Registry, opts ...Option) *Assembler {
	a := &Assembler{
		registry:       registry,
		contextPercent: DefaultContextPercent,
		historyLimit:   DefaultHistoryLimit,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assemble builds the request for one message.
// It fails only when tier is missing from the registry.
func (a *Assembler) Assemble(
	message string,
	cc model.CookingContext,
	intent router.Intent,
	tier model.Tier,
	knowledge *model.RetrievedKnowledge,
	history []model.Message,
) (model.DispatchRequest, error) {
	cfg, err := a.registry.Lookup(tier)
	if err != nil {
		return model.DispatchRequest{}, fmt.Errorf("assemble prompt: %w", err)
	}

	block := BuildContext(cc, intent, knowledge)
	budget := NewBudget(cfg.MaxContextTokens, a.contextPercent)
	block, truncated := budget.Fit(block)
	if truncated {
		log.Debug().
			Str("tier", tier.String()).
			Int("budget_tokens", budget.Tokens).
			Msg("context block truncated to budget")
	}

	return model.DispatchRequest{
		Tier:         tier,
		SystemPrompt: SystemPrompt(tier, intent.Type),
		ContextBlock: block,
		History:      lastN(history, a.historyLimit),
		UserMessage:  message,
	}, nil
}

// lastN returns a copy of the last n entries so the request never aliases
// the caller's slice.
func lastN(history []model.Message, n int) []model.Message {
	if n <= 0 || len(history) == 0 {
		return nil
	}
	if len(history) > n {
		history = history[len(history)-n:]
	}
	out := make([]model.Message, len(history))
	copy(out, history)
	return out
}
