// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes question routing over HTTP.
//
// # Endpoints
//
//   - POST /v1/route    - Classify, assemble and dispatch one question
//   - POST /v1/classify - Classification and selected tier, no network
//   - GET  /v1/tiers    - Configured tiers
//   - GET  /health      - Health check
//   - GET  /stats       - Process counters and usage ledger summary
//   - GET  /metrics     - Prometheus metrics
//
// The gateway credential comes from configuration, or per request from the
// X-Upstream-Key header. Dispatch failures return 502, or 503 with
// "retryable": true when the client may try again.
//
// # Middleware
//
//   - Panic recovery
//   - Security headers
//   - Request logging and HTTP metrics
//   - Per-client token bucket rate limiting
//   - Optional bearer token authentication (constant-time comparison)
//
// # Usage
//
//	srv := server.NewServer(cfg.Server.Addr, router, registry).
//		WithCredential(cfg.Cloud.OpenRouterKey).
//		WithLedger(ledger).
//		WithMetrics(metrics, prometheus.DefaultGatherer).
//		WithAuth(server.TokenAuthConfig(cfg.Server.AuthToken)).
//		WithRateLimiter(server.NewRateLimiter(5, 10))
//	if err := srv.Start(); err != nil {
//		log.Fatal().Err(err).Msg("server failed")
//	}
package server
