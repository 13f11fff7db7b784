// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package telemetry records what routing cost and how it behaved.
//
// Three observers plug into the orchestrator: a SQLite usage ledger, an
// in-memory cost tracker for interactive sessions, and Prometheus
// collectors. None of them can change a result, and none store message
// or response text.
//
// # Key Types
//
//   - Ledger: SQLite table of dispatches with per-tier and per-intent summaries
//   - Record: One ledger row (tier, intent, model, tokens, cost, latency, outcome)
//   - Summary: Aggregated ledger statistics since a point in time
//   - CostTracker: Running totals and savings for the current process
//   - Metrics: Prometheus counters and histograms
//
// # Usage
//
// Record every route in the ledger and in Prometheus:
//
//	ledger, err := telemetry.OpenLedger(path)
//	if err != nil {
//	    return err
//	}
//	defer ledger.Close()
//
//	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)
//	r := orchestrator.New(assembler, client,
//	    orchestrator.WithObserver(ledger),
//	    orchestrator.WithObserver(metrics))
//
// Summarize the last week:
//
//	summary, err := ledger.Summary(ctx, time.Now().AddDate(0, 0, -7))
//	fmt.Printf("Weekly cost: $%.4f\n", summary.CostUSD)
//
// # Privacy
//
// The ledger is local-only and does not transmit any data.
package telemetry
