// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/jeranaias/sous/internal/cloud"
	"github.com/jeranaias/sous/internal/model"
	"github.com/jeranaias/sous/internal/orchestrator"
	"github.com/jeranaias/sous/internal/retry"
	"github.com/jeranaias/sous/internal/router"
	"github.com/jeranaias/sous/internal/session"
	"github.com/jeranaias/sous/internal/telemetry"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultAddr is the default listen address.
	DefaultAddr = "127.0.0.1:8787"

	// MaxRequestBodySize is the maximum size for a request body (1MB).
	MaxRequestBodySize = 1 * 1024 * 1024

	// MaxMessageLength is the maximum length of a question, in runes.
	MaxMessageLength = 4000

	// MaxHistoryEntries is the most history a client may send. Only the
	// newest entries are used.
	MaxHistoryEntries = 100

	// UpstreamKeyHeader carries a per-request gateway credential.
	UpstreamKeyHeader = "X-Upstream-Key"

	// Version is the server version.
	Version = "0.1.0"

	// writeSlack is added to the route deadline to get the write timeout,
	// leaving room to encode the error after a route runs out of time.
	writeSlack = 10 * time.Second
)

// RouteTimeout returns the longest a single route can take: every attempt
// hitting the slowest tier's timeout plus the backoff between attempts.
func RouteTimeout(reg *model.Registry, attempts int, baseDelay time.Duration) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	var slowest time.Duration
	if reg != nil {
		for _, c := range reg.Configs() {
			slowest = max(slowest, c.Timeout)
		}
	}
	total := slowest * time.Duration(attempts)
	backoff := retry.Exponential(baseDelay)
	for i := 1; i < attempts; i++ {
		total += backoff(i)
	}
	return total
}

// ============================================================================
// SERVER STATS
// ============================================================================

// ServerStats counts what this process has served since it started.
type ServerStats struct {
	mu    sync.Mutex
	stats StatsSnapshot
}

// StatsSnapshot is a point-in-time copy of ServerStats.
type StatsSnapshot struct {
	TotalRequests int64            `json:"total_requests"`
	Failures      int64            `json:"failures"`
	ByTier        map[string]int64 `json:"by_tier"`
	TotalTokens   int64            `json:"total_tokens"`
	TotalCostUSD  float64          `json:"total_cost_usd"`
	StartTime     time.Time        `json:"start_time"`
}

// NewServerStats creates a new ServerStats instance.
func NewServerStats() *ServerStats {
	return &ServerStats{stats: StatsSnapshot{
		ByTier:    make(map[string]int64),
		StartTime: time.Now(),
	}}
}

// RecordRequest records a routed question.
func (s *ServerStats) RecordRequest(tier model.Tier, tokens int64, costUSD float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.TotalRequests++
	s.stats.TotalTokens += tokens
	s.stats.TotalCostUSD += costUSD
	s.stats.ByTier[tier.String()]++
}

// RecordFailure records a question that could not be answered.
func (s *ServerStats) RecordFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.TotalRequests++
	s.stats.Failures++
}

// GetStats returns a copy of the current stats.
func (s *ServerStats) GetStats() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.stats
	out.ByTier = make(map[string]int64, len(s.stats.ByTier))
	for k, v := range s.stats.ByTier {
		out.ByTier[k] = v
	}
	return out
}

// Uptime returns the server uptime duration.
func (s *ServerStats) Uptime() time.Duration {
	return time.Since(s.stats.StartTime)
}

// ============================================================================
// SERVER
// ============================================================================

// Summarizer is the part of the usage ledger /stats reads.
// *telemetry.Ledger satisfies it.
type Summarizer interface {
	Summary(ctx context.Context, since time.Time) (*telemetry.Summary, error)
}

// Server exposes routing over HTTP.
type Server struct {
	addr     string
	mux      *http.ServeMux
	server   *http.Server
	router   *orchestrator.Router
	registry *model.Registry

	credential string
	ledger     Summarizer
	metrics    *telemetry.Metrics
	gatherer   prometheus.Gatherer
	auth       *AuthConfig
	limiter    *RateLimiter
	stats      *ServerStats

	routeTimeout time.Duration

	mu     sync.RWMutex
	closed bool
}

// NewServer creates a Server. An empty addr uses DefaultAddr.
func NewServer(addr string, r *orchestrator.Router, reg *model.Registry) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	s := &Server{
		addr:     addr,
		mux:      http.NewServeMux(),
		router:   r,
		registry: reg,
		auth:     DefaultAuthConfig(),
		stats:    NewServerStats(),

		routeTimeout: RouteTimeout(reg, retry.DefaultMaxAttempts, retry.DefaultBaseDelay),
	}
	s.setupRoutes()
	return s
}

// WithCredential sets the gateway credential used when a request does not
// carry its own.
func (s *Server) WithCredential(credential string) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credential = credential
	return s
}

// WithLedger enables ledger totals on /stats.
func (s *Server) WithLedger(l Summarizer) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledger = l
	return s
}

// WithMetrics enables request metrics and serves g on /metrics.
func (s *Server) WithMetrics(m *telemetry.Metrics, g prometheus.Gatherer) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m
	s.gatherer = g
	return s
}

// WithAuth sets the authentication configuration.
func (s *Server) WithAuth(config *AuthConfig) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auth = config
	return s
}

// WithRateLimiter sets the per-client rate limiter. nil disables limiting.
func (s *Server) WithRateLimiter(rl *RateLimiter) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limiter = rl
	return s
}

// WithRouteTimeout bounds each /v1/route request. The write timeout
// follows it. Non-positive values are ignored.
func (s *Server) WithRouteTimeout(d time.Duration) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d > 0 {
		s.routeTimeout = d
	}
	return s
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.addr
}

// Stats returns the in-process counters.
func (s *Server) Stats() StatsSnapshot {
	return s.stats.GetStats()
}

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("POST /v1/route", s.handleRoute)
	s.mux.HandleFunc("POST /v1/classify", s.handleClassify)
	s.mux.HandleFunc("GET /v1/tiers", s.handleTiers)

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /stats", s.handleStats)
	s.mux.HandleFunc("GET /metrics", s.handleMetrics)
}

// Handler returns the routes wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	s.mu.RLock()
	defer s.mu.RUnlock()

	middlewares := []func(http.Handler) http.Handler{
		RecoveryMiddleware(),
		SecurityHeadersMiddleware(),
		LoggingMiddleware(s.metrics),
	}
	if s.limiter != nil {
		middlewares = append(middlewares, RateLimitMiddleware(s.limiter))
	}
	if s.auth != nil && s.auth.Enabled {
		middlewares = append(middlewares, AuthMiddleware(s.auth))
	}
	return Chain(middlewares...)(s.mux)
}

// ============================================================================
// REQUEST TYPES
// ============================================================================

// RouteRequest is the body of POST /v1/route.
type RouteRequest struct {
	Message   string                   `json:"message"`
	Context   model.CookingContext     `json:"context"`
	Knowledge model.RetrievedKnowledge `json:"knowledge"`
	History   []model.Message          `json:"history"`
}

// ClassifyRequest is the body of POST /v1/classify.
type ClassifyRequest struct {
	Message string `json:"message"`
}

// ClassifyResponse reports the routing decision without dispatching.
type ClassifyResponse struct {
	Intent router.Intent `json:"intent"`
	Tier   model.Tier    `json:"tier"`
	Model  string        `json:"model"`
}

// TierInfo describes one configured tier.
type TierInfo struct {
	Tier             model.Tier `json:"tier"`
	Model            string     `json:"model"`
	PromptCost       float64    `json:"prompt_cost_per_million"`
	CompletionCost   float64    `json:"completion_cost_per_million"`
	MaxContextTokens int        `json:"max_context_tokens"`
	MaxOutputTokens  int        `json:"max_output_tokens"`
	Temperature      float64    `json:"temperature"`
	TimeoutSeconds   float64    `json:"timeout_seconds"`
}

// validateMessage checks the question text.
func validateMessage(msg string) error {
	if strings.TrimSpace(msg) == "" {
		return errors.New("message must not be empty")
	}
	if !utf8.ValidString(msg) {
		return errors.New("message must be valid UTF-8")
	}
	if n := utf8.RuneCountInString(msg); n > MaxMessageLength {
		return fmt.Errorf("message is %d characters, maximum is %d", n, MaxMessageLength)
	}
	return nil
}

// decodeBody decodes a size-limited JSON body, writing the error response
// itself when decoding fails.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("Request body exceeds maximum size of %d bytes", MaxRequestBodySize))
			return false
		}
		log.Debug().Err(err).Msg("invalid request body")
		s.writeError(w, http.StatusBadRequest, "Invalid request format")
		return false
	}
	return true
}

// ============================================================================
// ROUTE HANDLER
// ============================================================================

// handleRoute handles POST /v1/route.
func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	var req RouteRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	if err := validateMessage(req.Message); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.History) > MaxHistoryEntries {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("Too many history entries: maximum is %d", MaxHistoryEntries))
		return
	}
	snap := session.Snapshot{Context: req.Context, Knowledge: req.Knowledge, History: req.History}
	if err := snap.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.RLock()
	credential := s.credential
	timeout := s.routeTimeout
	s.mu.RUnlock()
	if key := strings.TrimSpace(r.Header.Get(UpstreamKeyHeader)); key != "" {
		credential = key
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	result, err := s.router.Route(ctx, orchestrator.RouteInput{
		Message:    req.Message,
		Context:    req.Context,
		Knowledge:  snap.RetrievedKnowledge(),
		History:    req.History,
		Credential: credential,
	})
	if err != nil {
		s.stats.RecordFailure()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && r.Context().Err() == nil {
			s.writeRouteTimeout(w, err, timeout)
			return
		}
		s.writeDispatchError(w, err)
		return
	}

	s.stats.RecordRequest(result.Tier, int64(result.TotalTokens()), result.CostUSD)
	s.writeJSON(w, http.StatusOK, result)
}

// writeRouteTimeout reports a route that ran past its deadline. The
// question may succeed if asked again.
func (s *Server) writeRouteTimeout(w http.ResponseWriter, err error, timeout time.Duration) {
	body := ErrorBody{
		Message:   fmt.Sprintf("no answer within %s", timeout),
		Type:      "timeout",
		Code:      http.StatusGatewayTimeout,
		Retryable: true,
	}
	var dErr *cloud.DispatchError
	if errors.As(err, &dErr) {
		body.Attempts = dErr.Attempts
	}
	log.Warn().Err(err).Dur("timeout", timeout).Msg("route deadline exceeded")
	s.writeJSON(w, http.StatusGatewayTimeout, map[string]interface{}{"error": body})
}

// writeDispatchError maps a routing failure to a status code. Retryable
// failures are 503 so a client can back off and try again.
func (s *Server) writeDispatchError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	body := ErrorBody{Message: "upstream dispatch failed", Type: "dispatch_error"}

	var dErr *cloud.DispatchError
	switch {
	case errors.Is(err, cloud.ErrNotConfigured):
		status = http.StatusServiceUnavailable
		body.Message = "upstream credential not configured"
		body.Type = "configuration_error"
	case errors.Is(err, context.Canceled):
		status = http.StatusServiceUnavailable
		body.Message = "request cancelled"
		body.Type = "cancelled"
	case errors.As(err, &dErr):
		body.Retryable = dErr.Retryable
		body.Attempts = dErr.Attempts
		body.UpstreamStatus = dErr.StatusCode
		if dErr.Retryable {
			status = http.StatusServiceUnavailable
		}
	case errors.Is(err, model.ErrUnknownTier):
		status = http.StatusInternalServerError
		body.Message = "tier not configured"
		body.Type = "configuration_error"
	}
	body.Code = status

	log.Warn().Err(err).Int("status", status).Msg("route failed")
	s.writeJSON(w, status, map[string]interface{}{"error": body})
}

// ============================================================================
// CLASSIFY AND TIERS HANDLERS
// ============================================================================

// handleClassify handles POST /v1/classify. No upstream call is made.
func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req ClassifyRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if err := validateMessage(req.Message); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	d := router.Decide(req.Message)
	resp := ClassifyResponse{Intent: d.Intent, Tier: d.Tier}
	if cfg, err := s.registry.Lookup(d.Tier); err == nil {
		resp.Model = cfg.ModelID
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleTiers handles GET /v1/tiers.
func (s *Server) handleTiers(w http.ResponseWriter, r *http.Request) {
	configs := s.registry.Configs()
	tiers := make([]TierInfo, 0, len(configs))
	for _, c := range configs {
		tiers = append(tiers, TierInfo{
			Tier:             c.Tier,
			Model:            c.ModelID,
			PromptCost:       c.PromptCostPerMillion,
			CompletionCost:   c.CompletionCostPerMillion,
			MaxContextTokens: c.MaxContextTokens,
			MaxOutputTokens:  c.MaxOutputTokens,
			Temperature:      c.Temperature,
			TimeoutSeconds:   c.Timeout.Seconds(),
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"tiers": tiers})
}

// ============================================================================
// HEALTH, STATS AND METRICS HANDLERS
// ============================================================================

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status         string `json:"status"`
	Version        string `json:"version"`
	UptimeSeconds  int64  `json:"uptime_seconds"`
	UpstreamStatus string `json:"upstream_status"`
	Tiers          int    `json:"tiers"`
	Ledger         string `json:"ledger"`
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	credential := s.credential
	ledger := s.ledger
	s.mu.RUnlock()

	health := HealthResponse{
		Status:         "ok",
		Version:        Version,
		UptimeSeconds:  int64(s.stats.Uptime().Seconds()),
		UpstreamStatus: "configured",
		Tiers:          len(s.registry.Configs()),
		Ledger:         "enabled",
	}
	if credential == "" {
		// Clients may still supply X-Upstream-Key per request.
		health.UpstreamStatus = "per_request"
	}
	if ledger == nil {
		health.Ledger = "disabled"
	}
	s.writeJSON(w, http.StatusOK, health)
}

// StatsResponse combines process counters with ledger totals.
type StatsResponse struct {
	Process       StatsSnapshot      `json:"process"`
	UptimeSeconds int64              `json:"uptime_seconds"`
	Ledger        *telemetry.Summary `json:"ledger,omitempty"`
}

// handleStats handles GET /stats. The optional since parameter is a
// duration such as 24h.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			s.writeError(w, http.StatusBadRequest, "since must be a positive duration such as 24h")
			return
		}
		since = time.Now().Add(-d)
	}

	resp := StatsResponse{
		Process:       s.stats.GetStats(),
		UptimeSeconds: int64(s.stats.Uptime().Seconds()),
	}

	s.mu.RLock()
	ledger := s.ledger
	s.mu.RUnlock()
	if ledger != nil {
		summary, err := ledger.Summary(r.Context(), since)
		if err != nil {
			log.Error().Err(err).Msg("ledger summary failed")
			s.writeError(w, http.StatusInternalServerError, "ledger unavailable")
			return
		}
		resp.Ledger = summary
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleMetrics handles GET /metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	g := s.gatherer
	s.mu.RUnlock()

	if g == nil {
		s.writeError(w, http.StatusNotFound, "metrics disabled")
		return
	}
	promhttp.HandlerFor(g, promhttp.HandlerOpts{}).ServeHTTP(w, r)
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// writeTimeout outlasts the longest route so a timed-out route still gets
// its error written.
func (s *Server) writeTimeout() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.routeTimeout + writeSlack
}

// Start starts the HTTP server and blocks until it stops. It returns nil
// after Shutdown, including when Shutdown ran first.
func (s *Server) Start() error {
	handler := s.Handler()
	writeTimeout := s.writeTimeout()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       120 * time.Second,
	}
	hs := s.server
	s.mu.Unlock()

	log.Info().Str("addr", s.addr).Str("version", Version).Msg("server starting")
	err := hs.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	hs := s.server
	s.mu.Unlock()

	if s.limiter != nil {
		s.limiter.Stop()
	}
	if hs == nil {
		return nil
	}

	stats := s.stats.GetStats()
	log.Info().
		Int64("requests", stats.TotalRequests).
		Int64("failures", stats.Failures).
		Float64("cost_usd", stats.TotalCostUSD).
		Msg("server shutting down")
	return hs.Shutdown(ctx)
}

// ============================================================================
// HELPERS
// ============================================================================

// ErrorBody is the payload of every error response.
type ErrorBody struct {
	Message        string `json:"message"`
	Type           string `json:"type"`
	Code           int    `json:"code"`
	Retryable      bool   `json:"retryable"`
	Attempts       int    `json:"attempts,omitempty"`
	UpstreamStatus int    `json:"upstream_status,omitempty"`
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]interface{}{
		"error": ErrorBody{
			Message: message,
			Type:    "invalid_request_error",
			Code:    status,
		},
	})
}
