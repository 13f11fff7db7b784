// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jeranaias/sous/internal/model"
	"github.com/jeranaias/sous/internal/router"
)

// =============================================================================
// CLASSIFY COMMAND
// =============================================================================

// classifyView is the classify command's result.
type classifyView struct {
	Message string        `json:"message"`
	Intent  router.Intent `json:"intent"`
	Tier    model.Tier    `json:"tier"`
	Model   string        `json:"model"`
}

func newClassifyCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "classify [question...]",
		Short: "Show the intent and tier a question would get",
		Long:  "Classify a question and select its tier. Nothing is sent upstream.",
		Example: `  sous classify "why is my sauce too salty?"
  sous classify --json "set a timer for 5 minutes"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			question, err := readQuestion(cmd.InOrStdin(), args, IsTTY())
			if err != nil {
				return err
			}
			cfg, err := root.setup(true)
			if err != nil {
				return err
			}
			reg, err := cfg.Registry()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			return OutputJSON(out, root.jsonOutput, "classify",
				func() (interface{}, error) {
					d := router.Decide(question)
					tc, err := reg.Lookup(d.Tier)
					if err != nil {
						return nil, err
					}
					return &classifyView{Message: question, Intent: d.Intent, Tier: d.Tier, Model: tc.ModelID}, nil
				},
				func(data interface{}) error {
					printClassification(out, data.(*classifyView))
					return nil
				})
		},
	}
}

func printClassification(w io.Writer, v *classifyView) {
	fmt.Fprintln(w, RenderField("Intent", string(v.Intent.Type)))
	fmt.Fprintln(w, RenderField("Confidence", fmt.Sprintf("%.2f", v.Intent.Confidence)))
	fmt.Fprintln(w, RenderField("Needs context", yesNo(v.Intent.RequiresContext)))
	fmt.Fprintln(w, RenderField("Needs knowledge", yesNo(v.Intent.RequiresRAG)))
	fmt.Fprintln(w, RenderLabel("Tier")+" "+RenderTier(v.Tier))
	fmt.Fprintln(w, RenderField("Model", v.Model))
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// =============================================================================
// TIERS COMMAND
// =============================================================================

// tierView is one row of the tiers command.
type tierView struct {
	Tier                     model.Tier `json:"tier"`
	Model                    string     `json:"model"`
	PromptCostPerMillion     float64    `json:"prompt_cost_per_million"`
	CompletionCostPerMillion float64    `json:"completion_cost_per_million"`
	MaxContextTokens         int        `json:"max_context_tokens"`
	MaxOutputTokens          int        `json:"max_output_tokens"`
	Temperature              float64    `json:"temperature"`
	TimeoutSeconds           float64    `json:"timeout_seconds"`
}

func newTiersCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tiers",
		Short: "List the configured model tiers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.setup(true)
			if err != nil {
				return err
			}
			reg, err := cfg.Registry()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			return OutputJSON(out, root.jsonOutput, "tiers",
				func() (interface{}, error) { return tierViews(reg), nil },
				func(data interface{}) error {
					printTiers(out, data.([]tierView))
					return nil
				})
		},
	}
}

func tierViews(reg *model.Registry) []tierView {
	configs := reg.Configs()
	views := make([]tierView, 0, len(configs))
	for _, c := range configs {
		views = append(views, tierView{
			Tier:                     c.Tier,
			Model:                    c.ModelID,
			PromptCostPerMillion:     c.PromptCostPerMillion,
			CompletionCostPerMillion: c.CompletionCostPerMillion,
			MaxContextTokens:         c.MaxContextTokens,
			MaxOutputTokens:          c.MaxOutputTokens,
			Temperature:              c.Temperature,
			TimeoutSeconds:           c.Timeout.Seconds(),
		})
	}
	return views
}

func printTiers(w io.Writer, views []tierView) {
	fmt.Fprintln(w, TitleStyle.Render("Model tiers"))
	for i, v := range views {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintln(w, RenderLabel("Tier")+" "+RenderTier(v.Tier))
		fmt.Fprintln(w, RenderField("Model", v.Model))
		fmt.Fprintln(w, RenderField("Cost per 1M", fmt.Sprintf("$%.2f in / $%.2f out", v.PromptCostPerMillion, v.CompletionCostPerMillion)))
		fmt.Fprintln(w, RenderField("Context", fmt.Sprintf("%d tokens", v.MaxContextTokens)))
		fmt.Fprintln(w, RenderField("Max output", fmt.Sprintf("%d tokens", v.MaxOutputTokens)))
		fmt.Fprintln(w, RenderField("Timeout", fmt.Sprintf("%.0fs", v.TimeoutSeconds)))
	}
}
