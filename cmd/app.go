package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/teemow/jarvis/internal/config"
	"github.com/teemow/jarvis/internal/google"
	"github.com/teemow/jarvis/internal/instrumentation"
	"github.com/teemow/jarvis/internal/logging"
	"github.com/teemow/jarvis/internal/tokenstore"
)

// appOptions selects how much of the stack a command needs.
type appOptions struct {
	// interactive attaches the loopback consent flow. Without it the
	// manager fails with an unrecoverable error instead of prompting.
	interactive bool

	// telemetry enables the OpenTelemetry exporters configured through the
	// environment. One-shot commands run with a no-op provider.
	telemetry bool
}

// app bundles what a command needs to talk to Google.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	provider *instrumentation.Provider
	manager  *google.Manager
	store    io.Closer
}

// loadConfig reads the config file and applies the global flags on top.
func loadConfig() (*config.Config, error) {
	path, required := configPath, true
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return nil, err
		}
		path, required = p, false
	}

	cfg, err := config.Load(path, required)
	if err != nil {
		return nil, err
	}
	if accountName != "" {
		cfg.Account = accountName
	}
	if debugMode {
		cfg.Log.Debug = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newApp(ctx context.Context, opts appOptions) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := logging.New(logging.Level(cfg.Log.Debug), cfg.Log.Format, os.Stderr)
	slog.SetDefault(logger)

	instrConfig, err := instrumentation.ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	instrConfig.ServiceVersion = version
	if !opts.telemetry {
		instrConfig.Enabled = false
	}
	provider, err := instrumentation.NewProvider(ctx, instrConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create instrumentation provider: %w", err)
	}

	client, err := google.LoadClientConfig(cfg.CredentialsFile)
	if err != nil {
		return nil, errors.Join(err, provider.Shutdown(ctx))
	}

	storeOpts, err := cfg.StoreOptions()
	if err != nil {
		return nil, errors.Join(err, provider.Shutdown(ctx))
	}
	store, closer, err := tokenstore.Open(storeOpts)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to open token store: %w", err), provider.Shutdown(ctx))
	}

	managerOpts := append(cfg.ManagerOptions(),
		google.WithLogger(logger),
		google.WithMetrics(provider.Metrics()),
		google.WithAuditLogger(instrumentation.NewAuditLoggerWithConfig(logger, instrConfig.AuditLogging)),
	)
	if opts.interactive {
		consent := google.NewLoopbackConsent(cfg.CallbackAddr, os.Stderr, logger)
		if noBrowser {
			consent.OpenBrowser = nil
		}
		managerOpts = append(managerOpts, google.WithConsenter(consent))
	}

	manager, err := google.NewManager(cfg.Account, client, google.NewOAuth2Provider(client, nil), store, managerOpts...)
	if err != nil {
		return nil, errors.Join(err, closer.Close(), provider.Shutdown(ctx))
	}

	logger.Debug("credential manager ready",
		logging.Account(cfg.Account),
		slog.String("token_store", cfg.TokenStore.Backend),
		slog.Bool("interactive", opts.interactive))

	return &app{
		cfg:      cfg,
		logger:   logger,
		provider: provider,
		manager:  manager,
		store:    closer,
	}, nil
}

// Close releases the token store and flushes telemetry.
func (a *app) Close(ctx context.Context) {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("failed to close token store", logging.Err(err))
	}
	if err := a.provider.Shutdown(ctx); err != nil {
		a.logger.Warn("error during instrumentation shutdown", logging.Err(err))
	}
}

// explain adds the remediation hint for credential failures.
func (a *app) explain(err error) error {
	var authErr *google.AuthError
	if err == nil || !errors.As(err, &authErr) {
		return err
	}
	return fmt.Errorf("%w\n\n%s", err, google.GetAuthenticationErrorMessage(a.cfg.Account, err))
}

// run opens the app, calls fn and closes it again.
func run(ctx context.Context, opts appOptions, fn func(ctx context.Context, a *app) error) error {
	a, err := newApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())
	return a.explain(fn(ctx, a))
}
