// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/peterh/liner"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/jeranaias/sous/internal/config"
	"github.com/jeranaias/sous/internal/model"
	"github.com/jeranaias/sous/internal/orchestrator"
	"github.com/jeranaias/sous/internal/router"
	"github.com/jeranaias/sous/internal/session"
	"github.com/jeranaias/sous/internal/util"
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// ChatCLI provides line editing and persistent input history for chat.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a ChatCLI and loads saved input history.
func NewChatCLI() *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	configDir, err := config.ConfigDir()
	if err != nil {
		configDir = os.TempDir()
	}

	c := &ChatCLI{
		line:        line,
		historyFile: filepath.Join(configDir, "chat_history"),
	}
	c.LoadHistory()
	return c
}

// LoadHistory loads input history from file.
func (c *ChatCLI) LoadHistory() {
	if f, err := os.Open(c.historyFile); err == nil {
		c.line.ReadHistory(f)
		f.Close()
	}
}

// ReadInput reads one line. Non-empty lines are added to history.
func (c *ChatCLI) ReadInput(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// SaveHistory writes input history with 0600 permissions.
func (c *ChatCLI) SaveHistory() {
	if err := config.EnsureConfigDir(); err != nil {
		return
	}
	f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	c.line.WriteHistory(f)
}

// Close saves history and restores the terminal.
func (c *ChatCLI) Close() {
	c.SaveHistory()
	c.line.Close()
}

// =============================================================================
// CHAT SESSION
// =============================================================================

// snapshotSource supplies the cooking snapshot for each question.
type snapshotSource interface {
	Snapshot() *session.Snapshot
}

// staticSnapshot is a snapshot that never changes.
type staticSnapshot struct{ snap *session.Snapshot }

func (s staticSnapshot) Snapshot() *session.Snapshot { return s.snap }

// ChatSession is the state of one chat REPL.
type ChatSession struct {
	app     *app
	source  snapshotSource
	out     io.Writer
	history []model.Message

	// markdown renders answers with glamour when out is a terminal.
	markdown bool
}

func newChatSession(a *app, source snapshotSource, out io.Writer) *ChatSession {
	if source == nil {
		source = staticSnapshot{snap: &session.Snapshot{}}
	}
	return &ChatSession{app: a, source: source, out: out, markdown: true}
}

// Ask routes one question with the current snapshot and the conversation so
// far. Answered turns are appended to the conversation.
func (s *ChatSession) Ask(ctx context.Context, question string) (*model.DispatchResult, error) {
	snap := s.source.Snapshot()
	if snap == nil {
		snap = &session.Snapshot{}
	}

	history := make([]model.Message, 0, len(snap.History)+len(s.history))
	history = append(history, snap.History...)
	history = append(history, s.history...)

	result, err := s.app.router.Route(ctx, orchestrator.RouteInput{
		Message:    question,
		Context:    snap.Context,
		Knowledge:  snap.RetrievedKnowledge(),
		History:    history,
		Credential: s.app.credential(),
	})
	if err != nil {
		return nil, err
	}

	s.history = append(s.history,
		model.NewUserMessage(question),
		model.NewAssistantMessage(result.ResponseText),
	)
	return result, nil
}

// History returns the conversation turns added in this session.
func (s *ChatSession) History() []model.Message {
	return append([]model.Message(nil), s.history...)
}

// handleSlashCommand runs a slash command. It returns false when the REPL
// should exit.
func (s *ChatSession) handleSlashCommand(input string) (bool, error) {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return true, nil
	}

	command := strings.ToLower(parts[0])
	args := parts[1:]

	switch command {
	case "/help", "/h", "/?", "/":
		s.printHelp()
	case "/clear", "/c":
		s.history = s.history[:0]
		fmt.Fprintln(s.out, DimStyle.Render("[Conversation cleared]"))
	case "/cost":
		s.printCost()
	case "/context", "/ctx":
		s.printContext()
	case "/classify":
		if len(args) == 0 {
			return true, errors.New("usage: /classify <question>")
		}
		d := router.Decide(strings.Join(args, " "))
		fmt.Fprintf(s.out, "%s %s (%.2f) -> %s\n",
			DimStyle.Render("[Route]"), d.Intent.Type, d.Intent.Confidence, RenderTier(d.Tier))
	case "/history":
		s.printHistory()
	case "/quit", "/q", "/exit":
		return false, nil
	default:
		return true, fmt.Errorf("unknown command: %s (type /help for commands)", command)
	}
	return true, nil
}

func (s *ChatSession) printHelp() {
	fmt.Fprintln(s.out, SectionStyle.Render("Commands"))
	for _, row := range [][2]string{
		{"/help", "Show this help"},
		{"/clear", "Forget the conversation so far"},
		{"/cost", "Tokens, cost and savings for this session"},
		{"/context", "Show the current cooking context"},
		{"/classify <q>", "Show how a question would be routed"},
		{"/history", "Show the conversation"},
		{"/quit", "Leave chat"},
	} {
		fmt.Fprintln(s.out, RenderField(row[0], row[1]))
	}
}

func (s *ChatSession) printCost() {
	c := s.app.tracker.Current()
	fmt.Fprintln(s.out, SectionStyle.Render("Session cost"))
	fmt.Fprintln(s.out, RenderField("Questions", fmt.Sprintf("%d (%d failed)", c.Queries, c.Failures)))
	fmt.Fprintln(s.out, RenderField("Tokens", fmt.Sprintf("%d", c.TotalTokens())))
	fmt.Fprintln(s.out, RenderField("Cost", fmt.Sprintf("$%.5f", c.TotalCost)))
	fmt.Fprintln(s.out, RenderField("Saved vs top tier", fmt.Sprintf("$%.5f", c.Savings)))
	for _, t := range model.AllTiers {
		tc, ok := c.Tokens[t.String()]
		if !ok {
			continue
		}
		fmt.Fprintln(s.out, RenderLabel(t.String())+" "+
			ValueStyle.Render(fmt.Sprintf("%d in / %d out", tc.Input, tc.Output)))
	}
}

func (s *ChatSession) printContext() {
	snap := s.source.Snapshot()
	if snap == nil || (snap.Context.RecipeName == "" && !snap.Context.HasStep()) {
		fmt.Fprintln(s.out, DimStyle.Render("No cooking context. Start chat with --session <file>."))
		return
	}
	c := snap.Context
	fmt.Fprintln(s.out, SectionStyle.Render("Cooking context"))
	if c.RecipeName != "" {
		fmt.Fprintln(s.out, RenderField("Recipe", c.RecipeName))
	}
	if c.HasStep() {
		fmt.Fprintln(s.out, RenderField("Step", fmt.Sprintf("%d/%d", c.CurrentStep, c.TotalSteps)))
		fmt.Fprintln(s.out, RenderField("Instruction", util.TruncateRunes(c.StepText, 80)))
	}
	if len(c.Ingredients) > 0 {
		fmt.Fprintln(s.out, RenderField("Ingredients", fmt.Sprintf("%d", len(c.Ingredients))))
	}
	fmt.Fprintln(s.out, RenderField("Knowledge", fmt.Sprintf("%d chunk(s), %d memories",
		len(snap.Knowledge.Knowledge), len(snap.Knowledge.Memory))))
}

func (s *ChatSession) printHistory() {
	if len(s.history) == 0 {
		fmt.Fprintln(s.out, DimStyle.Render("No messages yet."))
		return
	}
	for _, m := range s.history {
		fmt.Fprintln(s.out, RenderLabel(m.Role.DisplayName())+" "+m.Preview(70))
	}
}

func (s *ChatSession) printExitSummary() {
	c := s.app.tracker.Current()
	if c.Queries == 0 {
		return
	}
	fmt.Fprintln(s.out, DimStyle.Render(fmt.Sprintf("%d question(s), $%.5f spent, $%.5f saved",
		c.Queries, c.TotalCost, c.Savings)))
}

// =============================================================================
// CHAT COMMAND
// =============================================================================

func newChatCmd(root *rootOptions) *cobra.Command {
	var sessionPath string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive cooking chat",
		Long: `Start an interactive chat. With --session the cooking snapshot file is
watched and reloaded whenever it changes, so answers follow the cook.`,
		Example: `  sous chat
  sous chat --session ./session.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !IsTTY() {
				return &TTYRequiredError{Operation: "chat"}
			}
			cfg, err := root.setup(true)
			if err != nil {
				return err
			}

			var source snapshotSource
			if sessionPath != "" {
				live, err := session.Open(sessionPath, session.DefaultDebounce)
				if err != nil {
					return err
				}
				defer live.Close()
				source = live
			}

			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			return runChat(cmd.Context(), newChatSession(a, source, cmd.OutOrStdout()))
		},
	}
	cmd.Flags().StringVarP(&sessionPath, "session", "s", "", "cooking session snapshot to watch (.toml, .yaml, .json)")
	return cmd
}

// runChat is the REPL loop.
func runChat(ctx context.Context, s *ChatSession) error {
	input := NewChatCLI()
	defer input.Close()

	fmt.Fprintln(s.out, TitleStyle.Render("sous chat"))
	fmt.Fprintln(s.out, DimStyle.Render("Ask anything while you cook. /help for commands, /quit to leave."))

	prompt := PromptStyle.Render("sous> ")
	for {
		line, err := input.ReadInput(prompt)
		if err != nil {
			// Ctrl+C at the prompt (liner.ErrPromptAborted) or Ctrl+D
			fmt.Fprintln(s.out)
			s.printExitSummary()
			return nil
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			keepGoing, err := s.handleSlashCommand(line)
			if err != nil {
				fmt.Fprintln(s.out, RenderError(err.Error()))
			}
			if !keepGoing {
				s.printExitSummary()
				return nil
			}
			continue
		}

		if strings.EqualFold(line, "exit") || strings.EqualFold(line, "quit") {
			s.printExitSummary()
			return nil
		}

		s.answer(ctx, line)
	}
}

// answer routes one question. Ctrl+C while waiting cancels only this question.
func (s *ChatSession) answer(ctx context.Context, question string) {
	qctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	start := time.Now()
	result, err := s.Ask(qctx, question)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(s.out, WarningStyle.Render("[Cancelled]"))
			return
		}
		fmt.Fprintln(s.out, RenderError(err.Error()))
		return
	}
	displayResponse(s.out, result, s.markdown)
	log.Debug().Dur("elapsed", time.Since(start)).Str("request_id", result.RequestID).Msg("chat answer")
}
