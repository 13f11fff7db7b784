// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session reads cooking-session snapshots from disk.
//
// The session and retrieval components that own the live cooking state are
// outside sous. They hand it over as a snapshot file: the CookingContext, the
// retrieved knowledge and the recent conversation. The router only ever reads
// these snapshots.
//
// # Key Types
//
//   - Snapshot: One read-only view of the session
//   - Watcher: fsnotify watcher that re-reads a snapshot after it changes
//   - Live: The latest good snapshot, kept current by a Watcher
//
// # Formats
//
// The format is chosen by extension: .toml, .yaml/.yml or .json.
//
// # Usage
//
//	live, err := session.Open("kitchen.yaml", session.DefaultDebounce)
//	if err != nil {
//	    return err
//	}
//	defer live.Close()
//	snap := live.Snapshot()
package session
