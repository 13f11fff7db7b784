// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jeranaias/sous/internal/model"
	"github.com/jeranaias/sous/internal/orchestrator"
)

// maxTopQueries is how many of the most expensive answers a session keeps.
const maxTopQueries = 10

// =============================================================================
// COST TRACKER
// =============================================================================

// CostTracker keeps running totals for one process, such as a chat REPL.
// It implements orchestrator.Observer.
type CostTracker struct {
	mu       sync.RWMutex
	registry *model.Registry
	session  *SessionCost
}

// SessionCost is the running cost of the current session.
type SessionCost struct {
	StartTime time.Time `json:"start_time"`

	// Tokens by tier name
	Tokens map[string]TokenCount `json:"tokens"`

	Queries  int `json:"queries"`
	Failures int `json:"failures"`

	TotalCost float64 `json:"total_cost"` // In dollars
	Savings   float64 `json:"savings"`    // vs answering everything on the top tier

	TopQueries []QueryCost `json:"top_queries"`
}

// TokenCount tracks input/output tokens.
type TokenCount struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// QueryCost is the cost of one answer. Only the category is kept, never
// the question.
type QueryCost struct {
	Timestamp    time.Time     `json:"timestamp"`
	Intent       string        `json:"intent"`
	Tier         string        `json:"tier"`
	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
	Cost         float64       `json:"cost"`
	Duration     time.Duration `json:"duration"`
}

// NewCostTracker creates a tracker. The registry prices the savings column.
func NewCostTracker(reg *model.Registry) *CostTracker {
	return &CostTracker{
		registry: reg,
		session:  newSessionCost(),
	}
}

func newSessionCost() *SessionCost {
	return &SessionCost{
		StartTime:  time.Now(),
		Tokens:     make(map[string]TokenCount),
		TopQueries: make([]QueryCost, 0),
	}
}

// =============================================================================
// RECORDING
// =============================================================================

// Record adds one answered question to the session.
func (ct *CostTracker) Record(result *model.DispatchResult) {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	s := ct.session
	tier := result.Tier.String()

	tc := s.Tokens[tier]
	tc.Input += result.PromptTokens
	tc.Output += result.CompletionTokens
	s.Tokens[tier] = tc

	s.Queries++
	s.TotalCost += result.CostUSD

	if ct.registry != nil {
		if top, err := ct.registry.Lookup(model.TierTop); err == nil {
			s.Savings += top.Cost(result.PromptTokens, result.CompletionTokens) - result.CostUSD
		}
	}

	s.TopQueries = append(s.TopQueries, QueryCost{
		Timestamp:    time.Now(),
		Intent:       result.Intent,
		Tier:         tier,
		InputTokens:  result.PromptTokens,
		OutputTokens: result.CompletionTokens,
		Cost:         result.CostUSD,
		Duration:     time.Duration(result.LatencyMs) * time.Millisecond,
	})
	sort.SliceStable(s.TopQueries, func(i, j int) bool {
		return s.TopQueries[i].Cost > s.TopQueries[j].Cost
	})
	if len(s.TopQueries) > maxTopQueries {
		s.TopQueries = s.TopQueries[:maxTopQueries]
	}
}

// OnRouted implements orchestrator.Observer.
func (ct *CostTracker) OnRouted(_ context.Context, _ string, result *model.DispatchResult) {
	ct.Record(result)
}

// OnFailed implements orchestrator.Observer.
func (ct *CostTracker) OnFailed(_ context.Context, _ orchestrator.Failure) {
	ct.mu.Lock()
	ct.session.Failures++
	ct.mu.Unlock()
}

// =============================================================================
// RETRIEVAL
// =============================================================================

// Current returns a copy of the session totals.
func (ct *CostTracker) Current() *SessionCost {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.session.clone()
}

// Reset starts a new session and returns the one that ended.
func (ct *CostTracker) Reset() *SessionCost {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ended := ct.session
	ct.session = newSessionCost()
	return ended
}

// TotalTokens sums input and output tokens across tiers.
func (s *SessionCost) TotalTokens() int {
	total := 0
	for _, tc := range s.Tokens {
		total += tc.Input + tc.Output
	}
	return total
}

func (s *SessionCost) clone() *SessionCost {
	dst := *s
	dst.Tokens = make(map[string]TokenCount, len(s.Tokens))
	for k, v := range s.Tokens {
		dst.Tokens[k] = v
	}
	dst.TopQueries = make([]QueryCost, len(s.TopQueries))
	copy(dst.TopQueries, s.TopQueries)
	return &dst
}
