// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package orchestrator is the single entry point for answering a cooking
// question.
//
// Route runs the pipeline sequentially:
//
//	classify -> select tier -> build context + assemble -> dispatch
//
// and annotates the DispatchResult with a request ID and the classified
// intent. There is no automatic tier fallback: dispatch failures are returned
// as *cloud.DispatchError so a caller can decide whether to retry on another
// tier.
//
// # Key Types
//
//   - Router: The orchestrator
//   - Dispatcher: Anything that can send an assembled request upstream
//   - Observer: Side-channel hook for ledgers and metrics
//
// # Usage
//
//	r := orchestrator.New(prompt.NewAssembler(reg), cloud.NewClient(reg),
//	    orchestrator.WithObserver(ledger))
//	result, err := r.Route(ctx, orchestrator.RouteInput{
//	    Message:    "how long should I cook this?",
//	    Context:    cc,
//	    Credential: apiKey,
//	})
package orchestrator
