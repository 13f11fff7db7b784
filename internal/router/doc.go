// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package router classifies cooking questions and picks a model tier.
//
// Both steps are pure computation with no I/O:
//
//	message -> Classify -> Intent -> Select -> model.Tier
//
// # Key Types
//
//   - IntentType: Closed set of thirteen question categories
//   - Intent: Category, confidence and the two context flags
//   - Rule: One entry of the ordered classification cascade
//
// # Classification
//
// Classify walks an ordered rule list and returns the first match. Order is
// part of the contract: a message that matches several rules is classified by
// the earliest one. Messages that match nothing fall back to simple_question
// with confidence 0.6.
//
// # Tier Selection
//
// Select forces the mid tier when confidence is below 0.7. Otherwise it maps
// the category through a fixed table; troubleshooting is the only category
// served by the top tier and unmapped categories use the cheap tier.
//
// # Usage
//
//	intent := router.Classify("can I use butter instead of oil?")
//	tier := router.Select(intent)
//	fmt.Println(intent.Type, tier) // substitution_request mid
package router
