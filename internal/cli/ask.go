// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/jeranaias/sous/internal/model"
	"github.com/jeranaias/sous/internal/orchestrator"
	"github.com/jeranaias/sous/internal/router"
	"github.com/jeranaias/sous/internal/session"
)

// maxStdinQuestion bounds a question read from stdin.
const maxStdinQuestion = 64 * 1024

// =============================================================================
// ASK COMMAND
// =============================================================================

type askOptions struct {
	sessionPath string
	dryRun      bool
	raw         bool
}

func newAskCmd(root *rootOptions) *cobra.Command {
	opts := &askOptions{}
	cmd := &cobra.Command{
		Use:   "ask [question...]",
		Short: "Ask one cooking question",
		Long: `Ask one question and print the answer.

The question is taken from the arguments, or from stdin when the only
argument is "-" or no arguments are given on a pipe.`,
		Example: `  sous ask "how long should I rest the steak?"
  sous ask --session ./session.yaml "can I use butter instead of oil?"
  sous ask --dry-run "why did my sauce split?"
  echo "what temperature for bread?" | sous ask`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd, root, opts, args)
		},
	}
	cmd.Flags().StringVarP(&opts.sessionPath, "session", "s", "", "cooking session snapshot (.toml, .yaml, .json)")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "classify and assemble the prompt without dispatching")
	cmd.Flags().BoolVar(&opts.raw, "raw", false, "print the answer without markdown rendering")
	return cmd
}

func runAsk(cmd *cobra.Command, root *rootOptions, opts *askOptions, args []string) error {
	question, err := readQuestion(cmd.InOrStdin(), args, IsTTY())
	if err != nil {
		return err
	}

	cfg, err := root.setup(true)
	if err != nil {
		return err
	}

	in := orchestrator.RouteInput{Message: question}
	if opts.sessionPath != "" {
		snap, err := session.Load(opts.sessionPath)
		if err != nil {
			return err
		}
		in.Context = snap.Context
		in.Knowledge = snap.RetrievedKnowledge()
		in.History = snap.History
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	in.Credential = a.credential()

	out := cmd.OutOrStdout()

	if opts.dryRun {
		return OutputJSON(out, root.jsonOutput, "ask",
			func() (interface{}, error) { return buildPlanView(a, in) },
			func(data interface{}) error {
				printPlan(out, data.(*planView))
				return nil
			})
	}

	return OutputJSON(out, root.jsonOutput, "ask",
		func() (interface{}, error) { return a.router.Route(cmd.Context(), in) },
		func(data interface{}) error {
			displayResponse(out, data.(*model.DispatchResult), !opts.raw)
			return nil
		})
}

// readQuestion joins args into a question, reading stdin for "-" or when no
// args are given and stdin is not a terminal.
func readQuestion(stdin io.Reader, args []string, stdinIsTTY bool) (string, error) {
	var question string
	switch {
	case len(args) == 1 && args[0] == "-", len(args) == 0 && !stdinIsTTY:
		data, err := io.ReadAll(io.LimitReader(stdin, maxStdinQuestion+1))
		if err != nil {
			return "", fmt.Errorf("read question: %w", err)
		}
		if len(data) > maxStdinQuestion {
			return "", fmt.Errorf("question exceeds %d bytes", maxStdinQuestion)
		}
		question = string(data)
	default:
		question = strings.Join(args, " ")
	}

	question = strings.TrimSpace(question)
	if question == "" {
		return "", errors.New("no question given")
	}
	return question, nil
}

// =============================================================================
// DRY RUN
// =============================================================================

// planView is what --dry-run reports: everything that would be sent.
type planView struct {
	Intent       router.Intent   `json:"intent"`
	Tier         model.Tier      `json:"tier"`
	Model        string          `json:"model"`
	SystemPrompt string          `json:"system_prompt"`
	ContextBlock string          `json:"context_block"`
	History      []model.Message `json:"history"`
	UserMessage  string          `json:"user_message"`
}

func buildPlanView(a *app, in orchestrator.RouteInput) (*planView, error) {
	plan, err := a.router.Plan(in)
	if err != nil {
		return nil, err
	}
	tc, err := a.registry.Lookup(plan.Decision.Tier)
	if err != nil {
		return nil, err
	}
	return &planView{
		Intent:       plan.Decision.Intent,
		Tier:         plan.Decision.Tier,
		Model:        tc.ModelID,
		SystemPrompt: plan.Request.SystemPrompt,
		ContextBlock: plan.Request.ContextBlock,
		History:      plan.Request.History,
		UserMessage:  plan.Request.UserMessage,
	}, nil
}

func printPlan(w io.Writer, p *planView) {
	fmt.Fprintln(w, TitleStyle.Render("Dry run"))
	fmt.Fprintln(w, RenderField("Intent", fmt.Sprintf("%s (%.2f)", p.Intent.Type, p.Intent.Confidence)))
	fmt.Fprintln(w, RenderLabel("Tier")+" "+RenderTier(p.Tier))
	fmt.Fprintln(w, RenderField("Model", p.Model))
	fmt.Fprintln(w, RenderField("History", fmt.Sprintf("%d message(s)", len(p.History))))

	fmt.Fprintln(w, SectionStyle.Render("System prompt"))
	fmt.Fprintln(w, p.SystemPrompt)
	if p.ContextBlock != "" {
		fmt.Fprintln(w, SectionStyle.Render("Context"))
		fmt.Fprintln(w, p.ContextBlock)
	}
}

// =============================================================================
// RENDERING
// =============================================================================

// newMarkdownRenderer builds a glamour renderer sized to the terminal.
func newMarkdownRenderer() (*glamour.TermRenderer, error) {
	return glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(renderWidth()),
	)
}

// renderMarkdown renders content for a terminal, returning it unchanged
// when rendering fails.
func renderMarkdown(r *glamour.TermRenderer, content string) string {
	if r == nil {
		return content
	}
	rendered, err := r.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimRight(rendered, "\n")
}

// displayResponse prints an answer followed by a one-line footer. Markdown is
// rendered only when w is a terminal.
func displayResponse(w io.Writer, res *model.DispatchResult, markdown bool) {
	text := res.ResponseText
	if markdown && isTerminalWriter(w) {
		if r, err := newMarkdownRenderer(); err == nil {
			text = renderMarkdown(r, text)
		}
	}
	fmt.Fprintln(w, text)
	fmt.Fprintln(w, responseFooter(res))
}

// responseFooter summarizes where an answer came from and what it cost.
func responseFooter(res *model.DispatchResult) string {
	parts := []string{
		res.Tier.String(),
		res.ProviderID,
		res.Intent,
		fmt.Sprintf("%d+%d tokens", res.PromptTokens, res.CompletionTokens),
		fmt.Sprintf("$%.5f", res.CostUSD),
		fmt.Sprintf("%dms", res.LatencyMs),
	}
	if res.Attempts > 1 {
		parts = append(parts, fmt.Sprintf("%d attempts", res.Attempts))
	}
	footer := DimStyle.Render(strings.Join(parts, " · "))
	if res.Degraded {
		footer += " " + WarningStyle.Render("(degraded)")
	}
	return footer
}
