// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util holds small file and string helpers shared by the config,
// session and CLI packages.
//
//   - AtomicWriteFile: Crash-safe file writing with fsync and rename
//   - TruncateRunes: UTF-8 safe truncation with ellipsis for table cells
//   - SingleLine: Collapses whitespace so text fits one terminal row
package util
