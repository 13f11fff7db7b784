// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cloud dispatches assembled requests to an OpenRouter-compatible
// gateway.
//
// OpenRouter provides access to multiple LLM providers through a single
// chat-completions API. This package sends one model.DispatchRequest per call,
// enforces the tier's per-attempt timeout, retries transient failures and
// computes realized cost from provider-reported token usage.
//
// # Key Types
//
//   - Client: HTTP dispatch client bound to a tier registry
//   - DispatchError: Typed failure with status, code and a retryable flag
//
// # Retry Behavior
//
// Timeouts, HTTP 408, HTTP 429 and any 5xx are retryable. A dispatch makes at
// most three attempts with 1s, 2s, 4s backoff; every other non-2xx status is
// returned after a single attempt. Cancelling the context stops the retry loop
// promptly.
//
// # Usage
//
//	client := cloud.NewClient(model.DefaultRegistry()).
//	    WithSiteURL("https://sous.app").
//	    WithSiteName("Sous")
//	result, err := client.Dispatch(ctx, req, apiKey)
//	var dErr *cloud.DispatchError
//	if errors.As(err, &dErr) && dErr.Retryable {
//	    // caller may try a different tier
//	}
//
// # Security
//
// Credentials are supplied per call and never logged. Response bodies are read
// through a 10 MiB limit.
package cloud
