package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/teemow/jarvis/internal/google"
	"github.com/teemow/jarvis/internal/logging"
	"github.com/teemow/jarvis/internal/server"
)

func newServeCmd() *cobra.Command {
	var (
		metricsEnabled bool
		metricsAddr    string
		keeperInterval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Keep the stored token fresh and expose metrics",
		Long: `Run in the background next to the assistant. The stored token is refreshed
before it expires, so voice requests never wait on a refresh round trip.

serve never opens a browser. When the token cannot be refreshed, run
'jarvis auth login' and serve picks up the new token on its next check.

Endpoints on the metrics address:
  /metrics           Prometheus metrics (METRICS_EXPORTER=prometheus)
  /healthz           liveness
  /readyz            readiness, fails without usable credentials
  /healthz/detailed  token state without secrets`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), appOptions{telemetry: true})
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			if cmd.Flags().Changed("metrics-addr") {
				a.cfg.Serve.MetricsAddr = metricsAddr
			}
			interval := a.cfg.Serve.KeeperInterval.Std()
			if cmd.Flags().Changed("keeper-interval") {
				interval = keeperInterval
			}
			return runServe(cmd.Context(), a, metricsEnabled, interval)
		},
	}

	cmd.Flags().BoolVar(&metricsEnabled, "metrics-enabled", true, "Serve metrics and health endpoints")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", server.DefaultMetricsAddr, "Metrics server address. Can also use JARVIS_METRICS_ADDR env var.")
	cmd.Flags().DurationVar(&keeperInterval, "keeper-interval", google.DefaultKeeperInterval, "How often the stored token is checked. Can also use JARVIS_KEEPER_INTERVAL env var.")
	return cmd
}

func runServe(ctx context.Context, a *app, metricsEnabled bool, interval time.Duration) error {
	serverContext := server.NewServerContext(ctx, a.manager)
	defer serverContext.Shutdown()

	if metricsEnabled {
		health := server.NewHealthChecker(serverContext)
		metricsServer, err := server.NewMetricsServer(server.MetricsServerConfig{
			Addr:                    a.cfg.Serve.MetricsAddr,
			InstrumentationProvider: a.provider,
			Health:                  health,
			Logger:                  a.logger,
		})
		if err != nil {
			return fmt.Errorf("failed to create metrics server: %w", err)
		}
		if err := metricsServer.Listen(); err != nil {
			return fmt.Errorf("metrics server failed to start: %w", err)
		}

		// A failed Serve stops the whole process.
		go func() {
			if err := metricsServer.Start(); err != nil {
				a.logger.Error("metrics server stopped", logging.Err(err))
				serverContext.Shutdown()
			}
		}()
		defer func() {
			health.SetReady(false)
			shutdownCtx, cancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
			defer cancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				a.logger.Warn("error during metrics server shutdown", logging.Err(err))
			}
		}()
		a.logger.Info("metrics server listening", slog.String("addr", metricsServer.Addr()))
	}

	switch st, err := a.manager.Status(ctx); {
	case err != nil:
		a.logger.Warn("failed to read stored token", logging.Err(err))
	case !st.Present:
		a.logger.Warn("no stored Google token, run 'jarvis auth login'", logging.Account(st.Account))
	}

	keeper := google.NewKeeper(a.manager, interval, a.logger)
	a.logger.Info("token keeper started", slog.Duration("interval", interval))
	if err := keeper.Run(serverContext.Context()); err != nil {
		return err
	}
	a.logger.Info("shutting down")
	return nil
}
