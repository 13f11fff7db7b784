// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/sous/internal/cloud"
	"github.com/jeranaias/sous/internal/model"
	"github.com/jeranaias/sous/internal/orchestrator"
	"github.com/jeranaias/sous/internal/router"
)

// counterValue sums every series of a counter family whose labels include want.
func counterValue(t *testing.T, reg *prometheus.Registry, name string, want map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	total := 0.0
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	series:
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue series
				}
			}
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func TestMetricsOnRouted(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.OnRouted(context.Background(), "sess-1", &model.DispatchResult{
		Tier:             model.TierCheap,
		Intent:           "timer_command",
		PromptTokens:     300,
		CompletionTokens: 20,
		CostUSD:          0.25,
		LatencyMs:        400,
		Attempts:         1,
		Degraded:         true,
	})

	assert.Equal(t, 1.0, counterValue(t, reg, "sous_routes_total", map[string]string{"tier": "cheap", "intent": "timer_command"}))
	assert.Equal(t, 0.25, counterValue(t, reg, "sous_cost_usd_total", map[string]string{"tier": "cheap"}))
	assert.Equal(t, 300.0, counterValue(t, reg, "sous_tokens_total", map[string]string{"kind": "prompt"}))
	assert.Equal(t, 20.0, counterValue(t, reg, "sous_tokens_total", map[string]string{"kind": "completion"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "sous_degraded_responses_total", nil))
}

func TestMetricsOnFailed(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.OnFailed(context.Background(), orchestrator.Failure{
		Decision: router.Decision{Tier: model.TierTop},
		Attempts: 3,
		Err:      &cloud.DispatchError{Code: cloud.CodeTimeout, Retryable: true},
	})

	assert.Equal(t, 1.0, counterValue(t, reg, "sous_route_failures_total", map[string]string{"tier": "top", "code": "timeout"}))
	assert.Zero(t, counterValue(t, reg, "sous_routes_total", nil))
}

func TestMetricsObserveHTTP(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveHTTP("POST", "/v1/route", 200, 30*time.Millisecond)
	m.ObserveHTTP("POST", "/v1/route", 503, time.Second)

	assert.Equal(t, 2.0, counterValue(t, reg, "sous_http_requests_total", map[string]string{"endpoint": "/v1/route"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "sous_http_requests_total", map[string]string{"status": "503"}))
}

func TestNewMetricsTwiceOnSeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewMetrics(prometheus.NewRegistry())
		NewMetrics(prometheus.NewRegistry())
	})
}
