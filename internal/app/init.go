package app

import (
	"context"
	"fmt"
	"log/slog"

	"relstore/internal/dbexec"
	"relstore/internal/observability"
	"relstore/internal/storage"
)

// Init initializes all runtime resources. It is idempotent.
func (a *App) Init(ctx context.Context) error {
	a.stateMu.Lock()
	if a.initialized {
		a.stateMu.Unlock()
		return nil
	}
	providers := a.providers
	a.stateMu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	cleanup := cleanupStack{}
	success := false
	defer func() {
		if !success {
			cleanup.run(context.Background(), a.logger)
		}
	}()

	if providers != nil {
		cleanup.push("telemetry providers", func(shutdownCtx context.Context) error {
			return providers.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	var metrics *observability.StorageMetrics
	if a.cfg.Observability.MetricsEnabled {
		var err error
		metrics, err = observability.InitMetrics(a.logger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize OpenTelemetry metrics: %w", err)
		}
	}

	a.logger.Info("connecting to database",
		slog.String("driver", a.cfg.Database.Driver),
		slog.String("dialect", string(a.dialect)),
		slog.String("host", a.cfg.Database.Host),
		slog.Int("port", a.cfg.Database.EffectivePort()),
		slog.Bool("dsn_present", a.cfg.Database.ConnectionString != ""),
	)

	db, dbStatsReg, err := connectDB(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	cleanup.push("database", func(_ context.Context) error {
		if dbStatsReg != nil {
			if err := dbStatsReg.Unregister(); err != nil {
				a.logger.Warn("failed to unregister DB stats metrics", slog.String("error", err.Error()))
			}
		}
		return db.Close()
	})

	if err := configureDatabase(ctx, a.cfg, a.logger, db); err != nil {
		return fmt.Errorf("failed to verify database connection: %w", err)
	}

	s, err := loadSchema(a.cfg.Storage.SchemaFile)
	if err != nil {
		return err
	}

	driver := dbexec.NewSQLDriver(db, a.dialect,
		dbexec.WithLogger(a.logger.Logger),
		dbexec.WithStatementRecorder(metrics),
	)
	store, err := storage.Setup(a.Context(ctx), driver, s, storage.Options{
		Naming:            a.cfg.Storage.Naming,
		MaxRecursionDepth: a.cfg.Storage.MaxRecursionDepth,
		CreateTables:      a.cfg.Storage.CreateTables,
		Logger:            a.logger,
		Metrics:           metrics,
		Sink:              a.sink,
	})
	if err != nil {
		return fmt.Errorf("failed to set up storage: %w", err)
	}
	a.logger.Info("storage ready",
		slog.Int("entities", len(s.Entities)),
		slog.Int("relations", len(s.Relations)),
		slog.Int("tables", len(store.Map().Tables())),
	)

	srv := buildMetricsServer(a.metricsAddr, db, providers)
	if srv != nil {
		cleanup.push("metrics server", func(shutdownCtx context.Context) error {
			return srv.Shutdown(shutdownCtx)
		})
	}

	a.stateMu.Lock()
	a.metrics = metrics
	a.db = db
	a.dbStatsReg = dbStatsReg
	a.driver = driver
	a.store = store
	a.srv = srv
	a.cleanup = cleanup
	a.initialized = true
	a.stateMu.Unlock()

	success = true
	return nil
}
