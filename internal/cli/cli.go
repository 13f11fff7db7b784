// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/jeranaias/sous/internal/cloud"
	"github.com/jeranaias/sous/internal/config"
	"github.com/jeranaias/sous/internal/logging"
	"github.com/jeranaias/sous/internal/model"
	"github.com/jeranaias/sous/internal/orchestrator"
	"github.com/jeranaias/sous/internal/prompt"
	"github.com/jeranaias/sous/internal/retry"
	"github.com/jeranaias/sous/internal/telemetry"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// =============================================================================
// ROOT COMMAND
// =============================================================================

// rootOptions holds the persistent flags shared by every command.
type rootOptions struct {
	configPath string
	logLevel   string
	jsonOutput bool
}

// NewRootCmd builds the sous command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "sous",
		Short: "Route cooking questions to the right model tier",
		Long: `sous classifies a cooking question, picks the cheapest model tier that can
answer it well, assembles a context-aware prompt and dispatches it through an
OpenRouter-compatible gateway.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", Version, GitCommit, BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file path (default ~/.sous/config.toml)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: trace, debug, info, warn, error")
	root.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "output JSON")

	root.AddCommand(
		newAskCmd(opts),
		newClassifyCmd(opts),
		newTiersCmd(opts),
		newChatCmd(opts),
		newServeCmd(opts),
		newStatsCmd(opts),
		newConfigCmd(opts),
	)
	return root
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, RenderError(err.Error()))
		os.Exit(1)
	}
}

// =============================================================================
// CONFIG AND LOGGING
// =============================================================================

// loadConfig reads --config (or the default file) and applies --log-level.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if o.configPath != "" {
		cfg, err = config.LoadFromPath(o.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	config.SetGlobal(cfg)
	return cfg, nil
}

// setup loads configuration and installs the logger. Interactive commands
// pass quiet so log lines stay out of rendered answers unless --log-level
// asks for them.
func (o *rootOptions) setup(quiet bool) (*config.Config, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	if quiet && o.logLevel == "" {
		logging.Quiet()
		return cfg, nil
	}
	if _, err := logging.Setup(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}); err != nil {
		return nil, err
	}
	return cfg, nil
}

// =============================================================================
// APPLICATION WIRING
// =============================================================================

// app is the routing stack built from one configuration.
type app struct {
	cfg      *config.Config
	registry *model.Registry
	client   *cloud.Client
	router   *orchestrator.Router
	ledger   *telemetry.Ledger
	tracker  *telemetry.CostTracker
}

// newApp builds the registry, dispatch client, usage ledger and router.
// Extra observers are notified after the ledger and cost tracker.
func newApp(cfg *config.Config, observers ...orchestrator.Observer) (*app, error) {
	reg, err := cfg.Registry()
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		registry: reg,
		tracker:  telemetry.NewCostTracker(reg),
	}

	a.client = cloud.NewClient(reg).
		WithBaseURL(cfg.Cloud.BaseURL).
		WithSiteURL(cfg.Cloud.SiteURL).
		WithSiteName(cfg.Cloud.SiteName).
		WithRetryPolicy(retry.Policy{
			MaxAttempts: cfg.Routing.MaxAttempts,
			Backoff:     retry.Exponential(cfg.RetryBaseDelay()),
		}).
		WithRateLimit(cfg.Cloud.RequestsPerSecond, 1)

	opts := []orchestrator.Option{
		orchestrator.WithIDGenerator(uuid.NewString),
		orchestrator.WithObserver(a.tracker),
	}

	if cfg.Telemetry.Enabled {
		path, err := cfg.LedgerPath()
		if err != nil {
			return nil, err
		}
		ledger, err := telemetry.OpenLedger(path)
		if err != nil {
			// Routing continues without a ledger.
			log.Warn().Err(err).Str("path", path).Msg("usage ledger disabled")
		} else {
			a.ledger = ledger
			opts = append(opts, orchestrator.WithObserver(ledger))
		}
	}

	for _, o := range observers {
		opts = append(opts, orchestrator.WithObserver(o))
	}

	assembler := prompt.NewAssembler(reg,
		prompt.WithContextPercent(cfg.Routing.ContextPercent),
		prompt.WithHistoryLimit(cfg.Routing.HistoryLimit),
	)
	a.router = orchestrator.New(assembler, a.client, opts...)
	return a, nil
}

// Close releases the ledger.
func (a *app) Close() error {
	if a.ledger == nil {
		return nil
	}
	return a.ledger.Close()
}

// credential returns the configured gateway key.
func (a *app) credential() string {
	return a.cfg.Cloud.OpenRouterKey
}
