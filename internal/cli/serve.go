// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/jeranaias/sous/internal/config"
	"github.com/jeranaias/sous/internal/server"
	"github.com/jeranaias/sous/internal/telemetry"
)

// shutdownTimeout bounds graceful shutdown of the HTTP server.
const shutdownTimeout = 15 * time.Second

type serveOptions struct {
	addr      string
	noMetrics bool
}

func newServeCmd(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the routing HTTP API",
		Long: `Serve question routing over HTTP.

Endpoints: POST /v1/route, POST /v1/classify, GET /v1/tiers, GET /health,
GET /stats and GET /metrics. When server.auth_token is set every endpoint
except /health requires it as a bearer token.`,
		Example: `  sous serve
  sous serve --addr 0.0.0.0:8787
  SOUS_SERVER_TOKEN=secret sous serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.setup(false)
			if err != nil {
				return err
			}
			if opts.addr != "" {
				cfg.Server.Addr = opts.addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, !opts.noMetrics)
		},
	}
	cmd.Flags().StringVar(&opts.addr, "addr", "", "listen address (overrides server.addr)")
	cmd.Flags().BoolVar(&opts.noMetrics, "no-metrics", false, "disable Prometheus metrics")
	return cmd
}

// buildServer wires the routing stack into an HTTP server. Metrics, when
// given, are registered as a router observer and served on /metrics.
func buildServer(cfg *config.Config, metrics *telemetry.Metrics, gatherer prometheus.Gatherer) (*server.Server, *app, error) {
	var a *app
	var err error
	if metrics != nil {
		a, err = newApp(cfg, metrics)
	} else {
		a, err = newApp(cfg)
	}
	if err != nil {
		return nil, nil, err
	}

	srv := server.NewServer(cfg.Server.Addr, a.router, a.registry).
		WithCredential(cfg.Cloud.OpenRouterKey).
		WithAuth(server.TokenAuthConfig(cfg.Server.AuthToken)).
		WithRouteTimeout(server.RouteTimeout(a.registry, cfg.Routing.MaxAttempts, cfg.RetryBaseDelay()))
	if a.ledger != nil {
		srv.WithLedger(a.ledger)
	}
	if metrics != nil {
		srv.WithMetrics(metrics, gatherer)
	}
	if cfg.Server.RateLimit > 0 {
		srv.WithRateLimiter(server.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst))
	}
	return srv, a, nil
}

func runServe(ctx context.Context, cfg *config.Config, withMetrics bool) error {
	var metrics *telemetry.Metrics
	if withMetrics {
		metrics = telemetry.NewMetrics(prometheus.DefaultRegisterer)
	}

	srv, a, err := buildServer(cfg, metrics, prometheus.DefaultGatherer)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Cloud.OpenRouterKey == "" {
		log.Warn().Msg("no gateway key configured; clients must send " + server.UpstreamKeyHeader)
	}
	if cfg.Server.AuthToken == "" {
		log.Warn().Str("addr", srv.Addr()).Msg("bearer auth disabled")
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}
