package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"relstore/internal/app"
	"relstore/internal/config"
)

const shutdownTimeout = 10 * time.Second

// loadConfig loads and validates the configuration named by the command
// flags. Warnings are logged; errors fail the command.
func loadConfig(cmd *cobra.Command, opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Observability.ServiceVersion == "" {
		cfg.Observability.ServiceVersion = opts.Version
	}

	result := cfg.Validate()
	for _, warn := range result.Warnings {
		slog.Warn("configuration warning",
			slog.String("field", warn.Field),
			slog.String("message", warn.Message),
			slog.String("hint", warn.Hint),
		)
	}
	if result.HasErrors() {
		for _, err := range result.Errors {
			slog.Error("configuration error",
				slog.String("field", err.Field),
				slog.String("message", err.Message),
				slog.String("hint", err.Hint),
			)
		}
		return nil, fmt.Errorf("configuration validation failed: %s", result.Error())
	}
	return cfg, nil
}

// startApp builds and initializes the runtime for cfg. The returned stop
// function releases it.
func startApp(ctx context.Context, cfg *config.Config, appOpts ...app.Option) (*app.App, func(), error) {
	logger, providers, err := app.InitTelemetry(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	a, err := app.New(cfg, logger, appOpts...)
	if err != nil {
		if providers != nil {
			_ = providers.Shutdown(context.Background(), logger.Logger)
		}
		return nil, nil, err
	}
	a.AttachProviders(providers)

	if err := a.Init(ctx); err != nil {
		_ = a.Shutdown(context.Background())
		return nil, nil, err
	}

	stop := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = a.Shutdown(shutdownCtx)
	}
	return a, stop, nil
}

// withApp loads the configuration, lets adjust tweak it, then runs fn against
// an initialized runtime.
func withApp(cmd *cobra.Command, opts *RootOptions, adjust func(*config.Config), fn func(ctx context.Context, a *app.App) error, appOpts ...app.Option) error {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}
	if adjust != nil {
		adjust(cfg)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, stop, err := startApp(ctx, cfg, appOpts...)
	if err != nil {
		return err
	}
	defer stop()

	return fn(a.Context(ctx), a)
}
