// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jeranaias/sous/internal/model"
	"github.com/jeranaias/sous/internal/orchestrator"
)

const metricsNamespace = "sous"

// Metrics holds the Prometheus collectors for routing and the HTTP API.
// It implements orchestrator.Observer.
type Metrics struct {
	Routes          *prometheus.CounterVec
	Failures        *prometheus.CounterVec
	Degraded        *prometheus.CounterVec
	Attempts        *prometheus.HistogramVec
	DispatchLatency *prometheus.HistogramVec
	CostUSD         *prometheus.CounterVec
	Tokens          *prometheus.CounterVec

	RequestCount    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// NewMetrics registers the collectors with reg. Pass
// prometheus.DefaultRegisterer to expose them on the default handler.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Routes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "routes_total",
				Help:      "Questions answered, by tier and intent",
			},
			[]string{"tier", "intent"},
		),
		Failures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "route_failures_total",
				Help:      "Questions that ended in an error, by tier and error code",
			},
			[]string{"tier", "code"},
		),
		Degraded: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "degraded_responses_total",
				Help:      "Successful responses missing content or usage",
			},
			[]string{"tier"},
		),
		Attempts: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "dispatch_attempts",
				Help:      "Upstream attempts per question",
				Buckets:   []float64{1, 2, 3, 4, 5},
			},
			[]string{"tier"},
		),
		DispatchLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "dispatch_latency_seconds",
				Help:      "Upstream latency of successful dispatches",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
			},
			[]string{"tier"},
		),
		CostUSD: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "cost_usd_total",
				Help:      "Estimated upstream spend in US dollars",
			},
			[]string{"tier"},
		),
		Tokens: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "tokens_total",
				Help:      "Tokens reported by the gateway",
			},
			[]string{"tier", "kind"},
		),
		RequestCount: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
			},
			[]string{"method", "endpoint"},
		),
	}
}

// OnRouted implements orchestrator.Observer.
func (m *Metrics) OnRouted(_ context.Context, _ string, result *model.DispatchResult) {
	tier := result.Tier.String()
	m.Routes.WithLabelValues(tier, result.Intent).Inc()
	m.Attempts.WithLabelValues(tier).Observe(float64(result.Attempts))
	m.DispatchLatency.WithLabelValues(tier).Observe(float64(result.LatencyMs) / 1000)
	m.CostUSD.WithLabelValues(tier).Add(result.CostUSD)
	m.Tokens.WithLabelValues(tier, "prompt").Add(float64(result.PromptTokens))
	m.Tokens.WithLabelValues(tier, "completion").Add(float64(result.CompletionTokens))
	if result.Degraded {
		m.Degraded.WithLabelValues(tier).Inc()
	}
}

// OnFailed implements orchestrator.Observer.
func (m *Metrics) OnFailed(_ context.Context, f orchestrator.Failure) {
	tier := f.Decision.Tier.String()
	m.Failures.WithLabelValues(tier, ErrorCode(f.Err)).Inc()
	if f.Attempts > 0 {
		m.Attempts.WithLabelValues(tier).Observe(float64(f.Attempts))
	}
}

// ObserveHTTP records one served HTTP request.
func (m *Metrics) ObserveHTTP(method, endpoint string, status int, elapsed time.Duration) {
	m.RequestCount.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method, endpoint).Observe(elapsed.Seconds())
}
