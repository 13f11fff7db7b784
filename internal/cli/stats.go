// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/sous/internal/telemetry"
)

// ErrTelemetryDisabled is returned by stats when the ledger is turned off.
var ErrTelemetryDisabled = errors.New("usage ledger disabled (telemetry.enabled = false)")

type statsOptions struct {
	since  string
	recent int
}

// statsView is the stats command's result.
type statsView struct {
	Ledger  string             `json:"ledger"`
	Summary *telemetry.Summary `json:"summary"`
	Recent  []telemetry.Record `json:"recent,omitempty"`
}

func newStatsCmd(root *rootOptions) *cobra.Command {
	opts := &statsOptions{}
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize routing usage and cost",
		Long: `Summarize the usage ledger: questions, failures, tokens, cost and
latency, broken down by tier and intent. The ledger never stores question
or answer text.`,
		Example: `  sous stats
  sous stats --since 24h
  sous stats --since 7d --recent 10 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			since, err := parseSince(opts.since, time.Now())
			if err != nil {
				return err
			}
			cfg, err := root.setup(true)
			if err != nil {
				return err
			}
			if !cfg.Telemetry.Enabled {
				return ErrTelemetryDisabled
			}
			path, err := cfg.LedgerPath()
			if err != nil {
				return err
			}
			ledger, err := telemetry.OpenLedger(path)
			if err != nil {
				return err
			}
			defer ledger.Close()

			out := cmd.OutOrStdout()
			return OutputJSON(out, root.jsonOutput, "stats",
				func() (interface{}, error) {
					summary, err := ledger.Summary(cmd.Context(), since)
					if err != nil {
						return nil, err
					}
					view := &statsView{Ledger: ledger.Path(), Summary: summary}
					if opts.recent > 0 {
						view.Recent, err = ledger.Recent(cmd.Context(), opts.recent)
						if err != nil {
							return nil, err
						}
					}
					return view, nil
				},
				func(data interface{}) error {
					printStats(out, data.(*statsView))
					return nil
				})
		},
	}
	cmd.Flags().StringVar(&opts.since, "since", "", "only count dispatches newer than this (e.g. 90m, 24h, 7d)")
	cmd.Flags().IntVar(&opts.recent, "recent", 0, "also list the most recent N dispatches")
	return cmd
}

// parseSince converts a look-back window into a start time. Empty means all
// time. Durations accept Go syntax plus a "d" suffix for days.
func parseSince(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}

	var d time.Duration
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid --since %q", s)
		}
		d = time.Duration(n) * 24 * time.Hour
	} else {
		var err error
		d, err = time.ParseDuration(s)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid --since %q: %w", s, err)
		}
	}
	if d <= 0 {
		return time.Time{}, fmt.Errorf("--since must be positive, got %q", s)
	}
	return now.Add(-d), nil
}

func printStats(w io.Writer, v *statsView) {
	s := v.Summary
	title := "Usage (all time)"
	if !s.Since.IsZero() {
		title = "Usage since " + s.Since.Local().Format("2006-01-02 15:04")
	}
	fmt.Fprintln(w, TitleStyle.Render(title))

	if s.Total == 0 {
		fmt.Fprintln(w, DimStyle.Render("No dispatches recorded."))
		fmt.Fprintln(w, DimStyle.Render("Ledger: "+v.Ledger))
		return
	}

	fmt.Fprintln(w, RenderField("Questions", fmt.Sprintf("%d", s.Total)))
	fmt.Fprintln(w, RenderField("Failures", fmt.Sprintf("%d", s.Failures)))
	if s.Degraded > 0 {
		fmt.Fprintln(w, RenderLabel("Degraded")+" "+WarningStyle.Render(fmt.Sprintf("%d", s.Degraded)))
	}
	fmt.Fprintln(w, RenderField("Tokens", fmt.Sprintf("%d in / %d out", s.PromptTokens, s.CompletionTokens)))
	fmt.Fprintln(w, RenderField("Cost", fmt.Sprintf("$%.5f", s.CostUSD)))
	fmt.Fprintln(w, RenderField("Avg latency", fmt.Sprintf("%.0fms", s.AvgLatencyMs)))

	printBreakdown(w, "By tier", s.ByTier)
	printBreakdown(w, "By intent", s.ByIntent)

	if len(v.Recent) > 0 {
		fmt.Fprintln(w, SectionStyle.Render("Recent"))
		for _, r := range v.Recent {
			outcome := SuccessStyle.Render("ok")
			if r.Failed() {
				outcome = ErrorStyle.Render(r.Error)
			}
			fmt.Fprintf(w, "%s  %-6s %-20s %6dms  $%.5f  %s\n",
				DimStyle.Render(r.CreatedAt.Local().Format("01-02 15:04:05")),
				r.Tier, r.Intent, r.LatencyMs, r.CostUSD, outcome)
		}
	}
	fmt.Fprintln(w, DimStyle.Render("Ledger: "+v.Ledger))
}

func printBreakdown(w io.Writer, title string, rows []telemetry.Breakdown) {
	if len(rows) == 0 {
		return
	}
	fmt.Fprintln(w, SectionStyle.Render(title))
	for _, b := range rows {
		line := fmt.Sprintf("%d  $%.5f  %.0fms", b.Count, b.CostUSD, b.AvgLatencyMs)
		if b.Failures > 0 {
			line += fmt.Sprintf("  (%d failed)", b.Failures)
		}
		fmt.Fprintln(w, RenderField(b.Key, line))
	}
}
