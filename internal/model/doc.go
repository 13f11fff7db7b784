// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures shared by the routing pipeline.
//
// This package defines the core domain types used throughout sous for
// describing model tiers, cooking-session snapshots, retrieved knowledge and
// the request/result records exchanged with the upstream gateway.
//
// # Key Types
//
//   - Tier: Cost/quality class enumeration (cheap, mid, top)
//   - ModelTierConfig: Upstream model id, pricing, context size and timeout
//   - Registry: Immutable tier table built once at process start
//   - CookingContext: Caller-owned snapshot of the active cooking session
//   - RetrievedKnowledge: Externally ranked knowledge and memory chunks
//   - DispatchRequest: Assembled, provider-agnostic request for one call
//   - DispatchResult: Terminal record returned to the caller
//
// # Usage
//
// Look up the configuration for a tier:
//
//	reg := model.DefaultRegistry()
//	cfg, err := reg.Lookup(model.TierCheap)
//	if err != nil {
//	    // programming defect: tier missing from registry
//	}
//	fmt.Printf("Model: %s, $%.2f/M in\n", cfg.ModelID, cfg.PromptCostPerMillion)
package model
