// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package prompt turns a classified question into a dispatch request.
//
// It never performs I/O. The only failure is a configuration error when the
// selected tier is missing from the registry.
//
// # Key Types
//
//   - Assembler: Builds model.DispatchRequest values for a registry
//   - Budget: Token budget derived from a tier's context window
//
// # Context Blocks
//
// BuildContext produces a small newline-joined block whose shape depends on the
// intent category. Timing and temperature questions only see the current step;
// troubleshooting sees the whole session plus retrieved knowledge and memory.
// Knowledge is capped at three chunks and memory at two no matter how many the
// caller supplies.
//
// # Token Budget
//
// Token counts are estimated at four characters per token. The context block is
// limited to 40% of the tier's context window and truncated with an ellipsis
// when it would exceed that budget.
package prompt
