// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/jeranaias/sous/internal/model"
	"github.com/jeranaias/sous/internal/orchestrator"
)

func cheapResult(cost float64) *model.DispatchResult {
	return &model.DispatchResult{
		Tier:             model.TierCheap,
		Intent:           "timing_question",
		PromptTokens:     1000,
		CompletionTokens: 200,
		CostUSD:          cost,
		LatencyMs:        250,
		Attempts:         1,
	}
}

func TestCostTracker_Record(t *testing.T) {
	tracker := NewCostTracker(model.DefaultRegistry())

	tracker.Record(cheapResult(0.000135))

	s := tracker.Current()
	if s.Queries != 1 {
		t.Errorf("Queries = %d, want 1", s.Queries)
	}
	if got := s.Tokens["cheap"]; got.Input != 1000 || got.Output != 200 {
		t.Errorf("cheap tokens = %+v, want 1000/200", got)
	}
	if math.Abs(s.TotalCost-0.000135) > 1e-12 {
		t.Errorf("TotalCost = %v, want 0.000135", s.TotalCost)
	}

	// The top tier would have charged 0.003 + 0.003 for the same tokens.
	if math.Abs(s.Savings-(0.006-0.000135)) > 1e-12 {
		t.Errorf("Savings = %v, want %v", s.Savings, 0.006-0.000135)
	}
	if s.TotalTokens() != 1200 {
		t.Errorf("TotalTokens = %d, want 1200", s.TotalTokens())
	}
	if len(s.TopQueries) != 1 || s.TopQueries[0].Intent != "timing_question" {
		t.Errorf("TopQueries = %+v", s.TopQueries)
	}
}

func TestCostTracker_TopQueriesCapped(t *testing.T) {
	tracker := NewCostTracker(nil)

	for i := 1; i <= 15; i++ {
		tracker.Record(cheapResult(float64(i)))
	}

	s := tracker.Current()
	if len(s.TopQueries) != maxTopQueries {
		t.Fatalf("len(TopQueries) = %d, want %d", len(s.TopQueries), maxTopQueries)
	}
	if s.TopQueries[0].Cost != 15 {
		t.Errorf("most expensive = %v, want 15", s.TopQueries[0].Cost)
	}
	if s.TopQueries[maxTopQueries-1].Cost != 6 {
		t.Errorf("cheapest kept = %v, want 6", s.TopQueries[maxTopQueries-1].Cost)
	}
	if s.Savings != 0 {
		t.Errorf("Savings = %v, want 0 without a registry", s.Savings)
	}
}

func TestCostTracker_Observer(t *testing.T) {
	tracker := NewCostTracker(model.DefaultRegistry())
	var obs orchestrator.Observer = tracker

	obs.OnRouted(context.Background(), "sess-1", cheapResult(0.001))
	obs.OnFailed(context.Background(), orchestrator.Failure{Err: errors.New("boom")})

	s := tracker.Current()
	if s.Queries != 1 || s.Failures != 1 {
		t.Errorf("Queries/Failures = %d/%d, want 1/1", s.Queries, s.Failures)
	}
}

func TestCostTracker_CurrentIsCopy(t *testing.T) {
	tracker := NewCostTracker(nil)
	tracker.Record(cheapResult(0.5))

	s := tracker.Current()
	s.Tokens["cheap"] = TokenCount{}
	s.TopQueries[0].Cost = 99

	again := tracker.Current()
	if again.Tokens["cheap"].Input != 1000 {
		t.Error("mutating the copy changed tracker tokens")
	}
	if again.TopQueries[0].Cost != 0.5 {
		t.Error("mutating the copy changed tracker top queries")
	}
}

func TestCostTracker_Reset(t *testing.T) {
	tracker := NewCostTracker(nil)
	tracker.Record(cheapResult(0.5))

	ended := tracker.Reset()
	if ended.Queries != 1 {
		t.Errorf("ended.Queries = %d, want 1", ended.Queries)
	}
	if tracker.Current().Queries != 0 {
		t.Error("new session should start empty")
	}
}

func TestCostTracker_Concurrent(t *testing.T) {
	tracker := NewCostTracker(model.DefaultRegistry())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			tracker.Record(cheapResult(0.01))
		}()
		go func() {
			defer wg.Done()
			_ = tracker.Current()
		}()
	}
	wg.Wait()

	if got := tracker.Current().Queries; got != 20 {
		t.Errorf("Queries = %d, want 20", got)
	}
}
