// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/sous/internal/cloud"
	"github.com/jeranaias/sous/internal/model"
	"github.com/jeranaias/sous/internal/orchestrator"
	"github.com/jeranaias/sous/internal/prompt"
	"github.com/jeranaias/sous/internal/telemetry"
)

// =============================================================================
// FIXTURES
// =============================================================================

type fakeDispatcher struct {
	mu          sync.Mutex
	credentials []string
	err         error
}

func (f *fakeDispatcher) Dispatch(_ context.Context, req model.DispatchRequest, credential string) (*model.DispatchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.credentials = append(f.credentials, credential)
	if f.err != nil {
		return nil, f.err
	}
	return &model.DispatchResult{
		Tier:             req.Tier,
		ProviderID:       "test-model",
		ResponseText:     "About 10 minutes.",
		PromptTokens:     100,
		CompletionTokens: 20,
		CostUSD:          0.001,
		Attempts:         1,
	}, nil
}

type fakeSummarizer struct {
	since time.Time
	err   error
}

func (f *fakeSummarizer) Summary(_ context.Context, since time.Time) (*telemetry.Summary, error) {
	f.since = since
	if f.err != nil {
		return nil, f.err
	}
	return &telemetry.Summary{Since: since, Total: 7, CostUSD: 0.5}, nil
}

// stallingDispatcher blocks until the route's context ends.
type stallingDispatcher struct{}

func (stallingDispatcher) Dispatch(ctx context.Context, _ model.DispatchRequest, _ string) (*model.DispatchResult, error) {
	<-ctx.Done()
	return nil, &cloud.DispatchError{Message: ctx.Err().Error(), Code: cloud.CodeCancelled, Attempts: 2, Err: ctx.Err()}
}

func newTestServer(disp orchestrator.Dispatcher) *Server {
	reg := model.DefaultRegistry()
	r := orchestrator.New(prompt.NewAssembler(reg), disp)
	return NewServer("", r, reg)
}

func do(t *testing.T, h http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorBody {
	t.Helper()
	var body struct {
		Error ErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

const routeBody = `{
	"message": "how long should I cook this?",
	"context": {"session_id": "sess-1", "recipe_name": "Soup", "current_step": 3, "step_text": "Simmer", "total_steps": 7},
	"history": [{"role": "user", "content": "starting soup"}]
}`

// =============================================================================
// ROUTE TESTS
// =============================================================================

func TestHandleRoute(t *testing.T) {
	disp := &fakeDispatcher{}
	s := newTestServer(disp).WithCredential("sk-config")

	rec := do(t, s.Handler(), "POST", "/v1/route", routeBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var result model.DispatchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, model.TierCheap, result.Tier)
	assert.Equal(t, "timing_question", result.Intent)
	assert.Equal(t, "About 10 minutes.", result.ResponseText)
	assert.NotEmpty(t, result.RequestID)

	assert.Equal(t, []string{"sk-config"}, disp.credentials)

	stats := s.Stats()
	assert.Equal(t, int64(1), stats.TotalRequests)
	assert.Equal(t, int64(1), stats.ByTier["cheap"])
	assert.Equal(t, int64(120), stats.TotalTokens)
}

func TestHandleRouteUpstreamKeyHeader(t *testing.T) {
	disp := &fakeDispatcher{}
	s := newTestServer(disp).WithCredential("sk-config")

	rec := do(t, s.Handler(), "POST", "/v1/route", routeBody, UpstreamKeyHeader, "sk-header")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"sk-header"}, disp.credentials)
}

func TestHandleRouteValidation(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"malformed json", `{"message":`, http.StatusBadRequest},
		{"empty message", `{"message": "   "}`, http.StatusBadRequest},
		{"too long", `{"message": "` + strings.Repeat("a", MaxMessageLength+1) + `"}`, http.StatusBadRequest},
		{"bad role", `{"message": "hi", "history": [{"role": "chef", "content": "x"}]}`, http.StatusBadRequest},
		{"step past end", `{"message": "hi", "context": {"current_step": 9, "total_steps": 2}}`, http.StatusBadRequest},
		{"too large", `{"message": "` + strings.Repeat("a", MaxRequestBodySize) + `"}`, http.StatusRequestEntityTooLarge},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			disp := &fakeDispatcher{}
			s := newTestServer(disp)

			rec := do(t, s.Handler(), "POST", "/v1/route", tc.body)
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.status, decodeError(t, rec).Code)
			assert.Empty(t, disp.credentials, "nothing may be dispatched")
		})
	}
}

func TestHandleRouteDispatchErrors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		status    int
		retryable bool
		errType   string
	}{
		{
			name:      "retryable upstream",
			err:       &cloud.DispatchError{Message: "overloaded", StatusCode: 503, Retryable: true, Attempts: 3},
			status:    http.StatusServiceUnavailable,
			retryable: true,
			errType:   "dispatch_error",
		},
		{
			name:    "terminal upstream",
			err:     &cloud.DispatchError{Message: "bad key", StatusCode: 401, Err: cloud.ErrAuthFailed, Attempts: 1},
			status:  http.StatusBadGateway,
			errType: "dispatch_error",
		},
		{
			name:    "no credential",
			err:     &cloud.DispatchError{Code: cloud.CodeNotConfigured, Err: cloud.ErrNotConfigured},
			status:  http.StatusServiceUnavailable,
			errType: "configuration_error",
		},
		{
			name:    "unknown tier",
			err:     errors.Join(model.ErrUnknownTier),
			status:  http.StatusInternalServerError,
			errType: "configuration_error",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestServer(&fakeDispatcher{err: tc.err})

			rec := do(t, s.Handler(), "POST", "/v1/route", routeBody)
			assert.Equal(t, tc.status, rec.Code)

			body := decodeError(t, rec)
			assert.Equal(t, tc.retryable, body.Retryable)
			assert.Equal(t, tc.errType, body.Type)
			assert.NotContains(t, rec.Body.String(), "bad key", "upstream messages stay in the log")

			assert.Equal(t, int64(1), s.Stats().Failures)
		})
	}
}

// =============================================================================
// CLASSIFY AND TIERS TESTS
// =============================================================================

func TestHandleClassify(t *testing.T) {
	disp := &fakeDispatcher{}
	s := newTestServer(disp)

	rec := do(t, s.Handler(), "POST", "/v1/classify", `{"message": "why is my sauce too salty?"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ClassifyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "troubleshooting", string(resp.Intent.Type))
	assert.Equal(t, model.TierTop, resp.Tier)
	assert.Equal(t, "anthropic/claude-sonnet-4", resp.Model)
	assert.Empty(t, disp.credentials, "classify never dispatches")

	rec = do(t, s.Handler(), "POST", "/v1/classify", `{"message": ""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleTiers(t *testing.T) {
	s := newTestServer(&fakeDispatcher{})

	rec := do(t, s.Handler(), "GET", "/v1/tiers", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Tiers []TierInfo `json:"tiers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Tiers, 3)
	assert.Equal(t, model.TierCheap, resp.Tiers[0].Tier)
	assert.Equal(t, model.TierMid, resp.Tiers[1].Tier)
	assert.Equal(t, model.TierTop, resp.Tiers[2].Tier)
	assert.Equal(t, "google/gemini-2.0-flash-lite-001", resp.Tiers[0].Model)
}

func TestMethodNotAllowed(t *testing.T) {
	s := newTestServer(&fakeDispatcher{})
	rec := do(t, s.Handler(), "GET", "/v1/route", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

// =============================================================================
// HEALTH, STATS AND METRICS TESTS
// =============================================================================

func TestHandleHealth(t *testing.T) {
	s := newTestServer(&fakeDispatcher{})

	rec := do(t, s.Handler(), "GET", "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var health HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, Version, health.Version)
	assert.Equal(t, 3, health.Tiers)
	assert.Equal(t, "per_request", health.UpstreamStatus)
	assert.Equal(t, "disabled", health.Ledger)
}

func TestHandleStats(t *testing.T) {
	ledger := &fakeSummarizer{}
	s := newTestServer(&fakeDispatcher{}).WithLedger(ledger)

	rec := do(t, s.Handler(), "GET", "/stats?since=24h", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Ledger)
	assert.Equal(t, 7, resp.Ledger.Total)
	assert.WithinDuration(t, time.Now().Add(-24*time.Hour), ledger.since, time.Minute)

	rec = do(t, s.Handler(), "GET", "/stats?since=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	ledger.err = errors.New("disk gone")
	rec = do(t, s.Handler(), "GET", "/stats", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHandleStatsWithoutLedger(t *testing.T) {
	s := newTestServer(&fakeDispatcher{})

	rec := do(t, s.Handler(), "GET", "/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), `"ledger"`)
}

func TestHandleMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := newTestServer(&fakeDispatcher{}).WithMetrics(telemetry.NewMetrics(reg), reg)
	h := s.Handler()

	require.Equal(t, http.StatusOK, do(t, h, "GET", "/v1/tiers", "").Code)

	rec := do(t, h, "GET", "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "sous_http_requests_total")
	assert.Contains(t, rec.Body.String(), `endpoint="/v1/tiers"`)
}

func TestHandleMetricsDisabled(t *testing.T) {
	s := newTestServer(&fakeDispatcher{})
	rec := do(t, s.Handler(), "GET", "/metrics", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// MIDDLEWARE TESTS
// =============================================================================

func TestAuthMiddleware(t *testing.T) {
	s := newTestServer(&fakeDispatcher{}).WithAuth(TokenAuthConfig("secret-token"))
	h := s.Handler()

	assert.Equal(t, http.StatusOK, do(t, h, "GET", "/health", "").Code, "health stays public")

	rec := do(t, h, "GET", "/v1/tiers", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))

	assert.Equal(t, http.StatusUnauthorized, do(t, h, "GET", "/v1/tiers", "", "Authorization", "Bearer wrong").Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, h, "GET", "/v1/tiers", "", "Authorization", "Basic secret-token").Code)
	assert.Equal(t, http.StatusOK, do(t, h, "GET", "/v1/tiers", "", "Authorization", "Bearer secret-token").Code)
}

func TestTokenAuthConfigEmptyDisables(t *testing.T) {
	assert.False(t, TokenAuthConfig("").Enabled)
}

func TestValidateBearerToken(t *testing.T) {
	assert.True(t, ValidateBearerToken("abc", "abc"))
	assert.False(t, ValidateBearerToken("abc", "abd"))
	assert.False(t, ValidateBearerToken("", ""))
	assert.False(t, ValidateBearerToken("abc", ""))
}

func TestRateLimitMiddleware(t *testing.T) {
	limiter := NewRateLimiter(0.001, 2)
	defer limiter.Stop()
	s := newTestServer(&fakeDispatcher{}).WithRateLimiter(limiter)
	h := s.Handler()

	assert.Equal(t, http.StatusOK, do(t, h, "GET", "/health", "").Code)
	assert.Equal(t, http.StatusOK, do(t, h, "GET", "/health", "").Code)

	rec := do(t, h, "GET", "/health", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Burst"))
}

func TestRateLimiterPerClient(t *testing.T) {
	limiter := NewRateLimiter(0.001, 1)
	defer limiter.Stop()

	assert.True(t, limiter.Allow("192.0.2.1"))
	assert.False(t, limiter.Allow("192.0.2.1"))
	assert.True(t, limiter.Allow("192.0.2.2"))

	limiter.Stop()
	limiter.Stop()
}

func TestSecurityHeaders(t *testing.T) {
	s := newTestServer(&fakeDispatcher{})
	rec := do(t, s.Handler(), "GET", "/health", "")

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestRecoveryMiddleware(t *testing.T) {
	h := RecoveryMiddleware()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	require.NotPanics(t, func() {
		h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestChainOrder(t *testing.T) {
	var order bytes.Buffer
	mw := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order.WriteString(name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(mw("a"), mw("b"), mw("c"))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		order.WriteString("!")
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, "abc!", order.String())
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		xri        string
		want       string
	}{
		{"direct", "203.0.113.5:4000", "", "", "203.0.113.5"},
		{"untrusted peer ignores xff", "203.0.113.5:4000", "198.51.100.1", "", "203.0.113.5"},
		{"trusted proxy xff", "127.0.0.1:4000", "198.51.100.1, 10.0.0.1", "", "198.51.100.1"},
		{"trusted proxy invalid xff", "10.1.2.3:4000", "not-an-ip", "198.51.100.2", "198.51.100.2"},
		{"trusted proxy no headers", "192.168.1.10:4000", "", "", "192.168.1.10"},
		{"no port", "203.0.113.9", "", "", "203.0.113.9"},
		{"v4-mapped loopback proxy", "[::ffff:127.0.0.1]:4000", "198.51.100.7", "", "198.51.100.7"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tc.remoteAddr
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			if tc.xri != "" {
				req.Header.Set("X-Real-IP", tc.xri)
			}
			assert.Equal(t, tc.want, GetClientIP(req))
		})
	}
}

// =============================================================================
// SERVER STATS TESTS
// =============================================================================

func TestServerStats(t *testing.T) {
	stats := NewServerStats()
	stats.RecordRequest(model.TierCheap, 100, 0.001)
	stats.RecordRequest(model.TierTop, 200, 0.01)
	stats.RecordFailure()

	snap := stats.GetStats()
	assert.Equal(t, int64(3), snap.TotalRequests)
	assert.Equal(t, int64(1), snap.Failures)
	assert.Equal(t, int64(300), snap.TotalTokens)
	assert.InDelta(t, 0.011, snap.TotalCostUSD, 1e-12)
	assert.Equal(t, map[string]int64{"cheap": 1, "top": 1}, snap.ByTier)

	snap.ByTier["cheap"] = 99
	assert.Equal(t, int64(1), stats.GetStats().ByTier["cheap"], "snapshot must be a copy")
}

func TestNewServerDefaults(t *testing.T) {
	s := newTestServer(&fakeDispatcher{})
	assert.Equal(t, DefaultAddr, s.Addr())
	assert.Equal(t, 138*time.Second, s.routeTimeout)
	assert.Greater(t, s.writeTimeout(), s.routeTimeout)
	assert.NoError(t, s.Shutdown(context.Background()))
}

func TestRouteTimeout(t *testing.T) {
	reg := model.DefaultRegistry()

	// Top tier: 45s per attempt, 1s then 2s between attempts.
	assert.Equal(t, 138*time.Second, RouteTimeout(reg, 3, time.Second))
	assert.Equal(t, 45*time.Second, RouteTimeout(reg, 1, time.Second))
	assert.Equal(t, 45*time.Second, RouteTimeout(reg, 0, time.Second))
	assert.Equal(t, 90*time.Second+500*time.Millisecond, RouteTimeout(reg, 2, 500*time.Millisecond))
}

func TestWithRouteTimeout(t *testing.T) {
	s := newTestServer(&fakeDispatcher{}).WithRouteTimeout(time.Minute)
	assert.Equal(t, time.Minute, s.routeTimeout)
	assert.Equal(t, time.Minute+writeSlack, s.writeTimeout())

	s.WithRouteTimeout(0)
	assert.Equal(t, time.Minute, s.routeTimeout)
}

func TestHandleRouteDeadline(t *testing.T) {
	s := newTestServer(stallingDispatcher{}).WithRouteTimeout(20 * time.Millisecond)

	rec := do(t, s.Handler(), "POST", "/v1/route", routeBody)
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)

	body := decodeError(t, rec)
	assert.Equal(t, "timeout", body.Type)
	assert.True(t, body.Retryable)
	assert.Equal(t, 2, body.Attempts)
	assert.Equal(t, int64(1), s.Stats().Failures)
}

func TestStartAfterShutdown(t *testing.T) {
	s := NewServer("127.0.0.1:0", nil, model.DefaultRegistry())
	require.NoError(t, s.Shutdown(context.Background()))
	assert.NoError(t, s.Start())
}
