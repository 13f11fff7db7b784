// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/sous/internal/cloud"
	"github.com/jeranaias/sous/internal/model"
	"github.com/jeranaias/sous/internal/orchestrator"
	"github.com/jeranaias/sous/internal/router"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := OpenLedger(filepath.Join(t.TempDir(), "sub", "usage.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestLedgerInsertAndRecent(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, err := l.Insert(ctx, Record{
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			RequestID: fmt.Sprintf("req-%d", i),
			Intent:    "timing_question",
			Tier:      "cheap",
			CostUSD:   0.001,
			Attempts:  1,
		})
		require.NoError(t, err)
	}

	records, err := l.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "req-2", records[0].RequestID)
	assert.Equal(t, "req-1", records[1].RequestID)
	assert.NotEmpty(t, records[0].ID)
	assert.True(t, records[0].CreatedAt.Equal(base.Add(2*time.Minute)))
	assert.False(t, records[0].Failed())
}

func TestLedgerSummary(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	rows := []Record{
		{Intent: "timing_question", Tier: "cheap", CostUSD: 0.001, LatencyMs: 100, PromptTokens: 10, CompletionTokens: 5, Attempts: 1},
		{Intent: "timing_question", Tier: "cheap", CostUSD: 0.001, LatencyMs: 300, PromptTokens: 10, CompletionTokens: 5, Attempts: 1, Degraded: true},
		{Intent: "troubleshooting", Tier: "top", CostUSD: 0.02, LatencyMs: 2000, PromptTokens: 100, CompletionTokens: 50, Attempts: 2},
		{Intent: "troubleshooting", Tier: "top", Attempts: 3, Error: "503"},
	}
	for _, r := range rows {
		_, err := l.Insert(ctx, r)
		require.NoError(t, err)
	}

	s, err := l.Summary(ctx, time.Time{})
	require.NoError(t, err)

	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 1, s.Failures)
	assert.Equal(t, 1, s.Degraded)
	assert.InDelta(t, 0.022, s.CostUSD, 1e-12)
	assert.Equal(t, 120, s.PromptTokens)
	assert.Equal(t, 60, s.CompletionTokens)
	assert.InDelta(t, 800, s.AvgLatencyMs, 1e-9, "failures are excluded from latency")

	require.Len(t, s.ByTier, 2)
	assert.Equal(t, "cheap", s.ByTier[0].Key)
	assert.Equal(t, 2, s.ByTier[0].Count)
	assert.InDelta(t, 200, s.ByTier[0].AvgLatencyMs, 1e-9)
	assert.Equal(t, "top", s.ByTier[1].Key)
	assert.Equal(t, 1, s.ByTier[1].Failures)

	require.Len(t, s.ByIntent, 2)
	assert.Equal(t, "timing_question", s.ByIntent[0].Key)
	assert.Equal(t, "troubleshooting", s.ByIntent[1].Key)
}

func TestLedgerSummarySince(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	now := time.Now()

	_, err := l.Insert(ctx, Record{CreatedAt: now.Add(-48 * time.Hour), Intent: "general_chat", Tier: "cheap"})
	require.NoError(t, err)
	_, err = l.Insert(ctx, Record{CreatedAt: now, Intent: "general_chat", Tier: "cheap"})
	require.NoError(t, err)

	s, err := l.Summary(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, s.Total)
}

func TestLedgerEmptySummary(t *testing.T) {
	l := openTestLedger(t)

	s, err := l.Summary(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Zero(t, s.Total)
	assert.Zero(t, s.AvgLatencyMs)
	assert.Empty(t, s.ByTier)
}

func TestLedgerDeleteBefore(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	now := time.Now()

	for _, age := range []time.Duration{72 * time.Hour, 48 * time.Hour, 0} {
		_, err := l.Insert(ctx, Record{CreatedAt: now.Add(-age), Intent: "general_chat", Tier: "cheap"})
		require.NoError(t, err)
	}

	n, err := l.DeleteBefore(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	records, err := l.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestLedgerObserver(t *testing.T) {
	l := openTestLedger(t)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	l.OnRouted(cancelled, "sess-1", &model.DispatchResult{
		RequestID:        "req-ok",
		Tier:             model.TierMid,
		ProviderID:       "openai/gpt-4o-mini",
		ResponseText:     "use butter",
		PromptTokens:     400,
		CompletionTokens: 80,
		CostUSD:          0.0001,
		LatencyMs:        900,
		Attempts:         1,
		Intent:           "substitution_request",
	})
	l.OnFailed(cancelled, orchestrator.Failure{
		RequestID: "req-bad",
		SessionID: "sess-1",
		Decision:  router.Decision{Intent: router.Intent{Type: router.IntentTroubleshooting}, Tier: model.TierTop},
		Attempts:  3,
		Err:       &cloud.DispatchError{StatusCode: 503, Code: "503", Retryable: true, Attempts: 3},
	})

	records, err := l.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	byID := map[string]Record{}
	for _, r := range records {
		byID[r.RequestID] = r
	}

	ok := byID["req-ok"]
	assert.Equal(t, "sess-1", ok.SessionID)
	assert.Equal(t, "mid", ok.Tier)
	assert.Equal(t, "openai/gpt-4o-mini", ok.Model)
	assert.Equal(t, "substitution_request", ok.Intent)
	assert.Equal(t, 480, ok.PromptTokens+ok.CompletionTokens)

	bad := byID["req-bad"]
	assert.True(t, bad.Failed())
	assert.Equal(t, "503", bad.Error)
	assert.Equal(t, "top", bad.Tier)
	assert.Equal(t, "troubleshooting", bad.Intent)
	assert.Equal(t, 3, bad.Attempts)
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"gateway code", &cloud.DispatchError{Code: "rate_limited", StatusCode: 429}, "rate_limited"},
		{"status only", &cloud.DispatchError{StatusCode: 502}, "502"},
		{"wrapped", fmt.Errorf("route: %w", &cloud.DispatchError{Code: cloud.CodeTimeout}), "timeout"},
		{"cancelled", context.Canceled, "cancelled"},
		{"deadline", context.DeadlineExceeded, "timeout"},
		{"unknown tier", fmt.Errorf("dispatch: %w", model.ErrUnknownTier), "unknown_tier"},
		{"other", errors.New("boom"), "error"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ErrorCode(tc.err))
		})
	}
}
