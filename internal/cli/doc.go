// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the sous command line.
//
// # Commands
//
//   - ask      - Answer one question (--dry-run shows the assembled prompt)
//   - classify - Show the intent and tier of a question without dispatching
//   - tiers    - List configured model tiers and pricing
//   - chat     - Interactive REPL; --session follows a live snapshot file
//   - serve    - Run the HTTP API
//   - stats    - Summarize the usage ledger
//   - config   - show, init, get, set, path
//
// Every command accepts --config, --log-level and --json. In JSON mode the
// result is wrapped in a JSONResponse envelope on stdout.
//
// # Usage
//
//	func main() {
//		cli.Execute()
//	}
package cli
