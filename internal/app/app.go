// Package app wires configuration, telemetry, the database handle and the
// record store into one lifecycle shared by the CLI commands.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sync"

	"relstore/internal/config"
	"relstore/internal/dbexec"
	"relstore/internal/event"
	"relstore/internal/logging"
	"relstore/internal/observability"
	"relstore/internal/sqlutil"
	"relstore/internal/storage"
)

// App owns runtime resources for the relstore lifecycle.
type App struct {
	cfg    *config.Config
	logger *logging.Logger

	providers *observability.Providers
	metrics   *observability.StorageMetrics

	dialect    sqlutil.Dialect
	db         *sql.DB
	dbStatsReg interface{ Unregister() error }
	driver     *dbexec.SQLDriver
	store      *storage.Storage

	// Sink receives the events of every committed mutation of Store.
	sink event.Sink

	metricsAddr string
	srv         *http.Server

	cleanup cleanupStack

	stateMu      sync.Mutex
	initialized  bool
	started      bool
	serverErrors chan error

	shutdownOnce sync.Once
}

// Option configures an App.
type Option func(*App)

// WithSink delivers committed mutation events to sink.
func WithSink(sink event.Sink) Option {
	return func(a *App) { a.sink = sink }
}

// WithMetricsAddr serves /metrics and /health on addr once Start is called.
func WithMetricsAddr(addr string) Option {
	return func(a *App) { a.metricsAddr = addr }
}

// New creates an App lifecycle wrapper.
func New(cfg *config.Config, logger *logging.Logger, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	dialect, err := cfg.Database.Dialect()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve database dialect: %w", err)
	}

	a := &App{
		cfg:     cfg,
		logger:  logger,
		dialect: dialect,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// AttachProviders registers telemetry providers for shutdown cleanup and
// metrics serving. They are shut down after every other resource.
func (a *App) AttachProviders(providers *observability.Providers) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.providers = providers
}

// Store returns the record store. It is nil until Init succeeds.
func (a *App) Store() *storage.Storage {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.store
}

// Context returns ctx carrying the app logger, so storage operations log
// through it.
func (a *App) Context(ctx context.Context) context.Context {
	return logging.WithLogger(ctx, a.logger)
}
