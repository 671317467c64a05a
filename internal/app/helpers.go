package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"relstore/internal/config"
	"relstore/internal/dbexec"
	"relstore/internal/logging"
	"relstore/internal/observability"
	"relstore/internal/schema"
	"relstore/internal/sqlutil"
)

const (
	healthCheckTimeout = 2 * time.Second
	maxRetryInterval   = 30 * time.Second
)

// InitTelemetry builds the logger and the enabled telemetry providers. When
// log export is on, the returned logger also writes to the OTLP provider.
func InitTelemetry(ctx context.Context, cfg *config.Config) (*logging.Logger, *observability.Providers, error) {
	loggerCfg := logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	}
	logger := logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)

	tel := cfg.Telemetry()
	if !tel.MetricsEnabled && !tel.TracingEnabled && !tel.LogExport {
		return logger, nil, nil
	}

	logger.Info("initializing OpenTelemetry",
		slog.String("service_name", tel.ServiceName),
		slog.String("service_version", tel.ServiceVersion),
		slog.String("environment", tel.Environment),
		slog.Bool("metrics", tel.MetricsEnabled),
		slog.Bool("tracing", tel.TracingEnabled),
		slog.Bool("log_export", tel.LogExport),
	)
	providers, err := observability.Setup(ctx, tel)
	if err != nil {
		return nil, nil, err
	}

	if lp := providers.LoggerProvider(); lp != nil {
		loggerCfg.LoggerProvider = lp
		logger = logging.NewLogger(loggerCfg)
		slog.SetDefault(logger.Logger)
	}
	logger.Info("OpenTelemetry initialized successfully")
	return logger, providers, nil
}

func connectDB(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*sql.DB, interface{ Unregister() error }, error) {
	// Register custom TLS configuration if needed (for verify-ca/verify-full modes)
	if err := cfg.Database.RegisterTLS(); err != nil {
		return nil, nil, fmt.Errorf("failed to register database TLS config: %w", err)
	}

	dialect, err := cfg.Database.Dialect()
	if err != nil {
		return nil, nil, err
	}
	dsn, err := cfg.Database.DSN()
	if err != nil {
		return nil, nil, err
	}

	return dbexec.Open(ctx, dbexec.OpenOptions{
		Dialect:      dialect,
		DSN:          dsn,
		Metrics:      cfg.Observability.MetricsEnabled,
		Tracing:      cfg.Observability.TracingEnabled,
		SQLCommenter: cfg.Observability.SQLCommenterEnabled,
		Logger:       logger.Logger,
	})
}

func configureDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger, db *sql.DB) error {
	if ctx == nil {
		ctx = context.Background()
	}
	// dbexec.Open already pins sqlite to a single connection.
	if dialect, _ := cfg.Database.Dialect(); dialect != sqlutil.SQLite {
		db.SetMaxOpenConns(cfg.Database.Pool.MaxOpen)
		db.SetMaxIdleConns(cfg.Database.Pool.MaxIdle)
		db.SetConnMaxLifetime(cfg.Database.Pool.MaxLifetime)
	}

	if err := waitForDatabase(ctx, cfg, logger, db); err != nil {
		return err
	}

	logger.Info("connected to database",
		slog.String("driver", cfg.Database.Driver),
		slog.Int("pool_max_open", cfg.Database.Pool.MaxOpen),
		slog.Int("pool_max_idle", cfg.Database.Pool.MaxIdle),
		slog.Duration("pool_max_lifetime", cfg.Database.Pool.MaxLifetime),
	)
	return nil
}

func waitForDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger, db *sql.DB) error {
	if ctx == nil {
		ctx = context.Background()
	}
	timeout := cfg.Database.ConnectionTimeout
	interval := cfg.Database.ConnectionRetryInterval

	// If timeout is 0, try once and fail immediately
	if timeout == 0 {
		return db.PingContext(ctx)
	}

	deadline := time.Now().Add(timeout)
	attempt := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		attempt++
		err := db.PingContext(ctx)

		if err == nil {
			if attempt > 1 {
				logger.Info("database connection established", slog.Int("attempts", attempt))
			}
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("database not available after %v: %w", timeout, err)
		}

		logger.Warn("database not ready, retrying...",
			slog.Int("attempt", attempt),
			slog.Duration("retry_in", interval),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}

		// Exponential backoff, capped at 30s
		interval = min(interval*2, maxRetryInterval)
	}
}

// loadSchema reads the schema file; @- reads it from stdin.
func loadSchema(path string) (schema.Schema, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return schema.Schema{}, fmt.Errorf("storage.schema_file is required")
	}
	if path != "@-" {
		return schema.Load(path)
	}
	raw, err := io.ReadAll(os.Stdin)
	if err != nil {
		return schema.Schema{}, fmt.Errorf("failed to read schema from stdin: %w", err)
	}
	return schema.Parse(raw)
}

func buildMetricsServer(addr string, db *sql.DB, providers *observability.Providers) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler(db, healthCheckTimeout))
	if handler := providers.MetricsHandler(); handler != nil {
		mux.Handle("/metrics", handler)
	}
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func startServer(logger *logging.Logger, srv *http.Server, metricsEnabled bool) chan error {
	serverErrors := make(chan error, 1)
	go func() {
		logAttrs := []any{
			slog.String("address", srv.Addr),
			slog.String("health_endpoint", "/health"),
		}
		if metricsEnabled {
			logAttrs = append(logAttrs, slog.String("metrics_endpoint", "/metrics"))
		}
		logger.Info("metrics server starting", logAttrs...)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- fmt.Errorf("server failed: %w", err)
		}
	}()
	return serverErrors
}

// healthHandler returns an HTTP handler for health checks
func healthHandler(db *sql.DB, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := logging.FromContext(r.Context())

		w.Header().Set("Content-Type", "application/json")

		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			reqLogger.Error("health check failed",
				slog.String("error", err.Error()),
				slog.String("check", "database"),
			)
			w.WriteHeader(http.StatusServiceUnavailable)
			// Return generic error message to avoid leaking internal details
			_, _ = fmt.Fprint(w, `{"status":"unhealthy","database":"failed"}`)
			return
		}

		reqLogger.Debug("health check passed")
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprint(w, `{"status":"healthy","database":"ok"}`)
	}
}
