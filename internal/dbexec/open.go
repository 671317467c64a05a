package dbexec

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/XSAM/otelsql"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	// Drivers for the supported dialects.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v4/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"relstore/internal/sqlutil"
)

// OpenOptions controls how a database handle is opened.
type OpenOptions struct {
	Dialect      sqlutil.Dialect
	DSN          string
	Metrics      bool
	Tracing      bool
	SQLCommenter bool
	Logger       *slog.Logger
}

// Open opens a database handle for the dialect, instrumented with otelsql when
// metrics or tracing are enabled. The returned registration, when non-nil,
// must be unregistered on shutdown.
func Open(ctx context.Context, opts OpenOptions) (*sql.DB, interface{ Unregister() error }, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	driverName := opts.Dialect.DriverName()

	var db *sql.DB
	var dbStatsReg interface{ Unregister() error }
	var err error
	if opts.Metrics || opts.Tracing {
		attrs := otelsql.WithAttributes(dbSystemAttribute(opts.Dialect))
		otelOpts := []otelsql.Option{attrs}
		if opts.Tracing {
			otelOpts = append(otelOpts, otelsql.WithSpanOptions(otelsql.SpanOptions{
				DisableErrSkip: true,
			}))
			if opts.SQLCommenter {
				otelOpts = append(otelOpts, otelsql.WithSQLCommenter(true))
			}
		} else if opts.SQLCommenter {
			logger.Warn("SQLCommenter requires tracing to be enabled - skipping SQLCommenter")
		}

		db, err = otelsql.Open(driverName, opts.DSN, otelOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		if opts.Metrics {
			dbStatsReg, err = otelsql.RegisterDBStatsMetrics(db, attrs)
			if err != nil {
				logger.Warn("failed to register DB stats metrics", slog.String("error", err.Error()))
			}
		}
		logger.Info("database instrumentation enabled",
			slog.String("dialect", string(opts.Dialect)),
			slog.Bool("metrics", opts.Metrics),
			slog.Bool("tracing", opts.Tracing),
		)
	} else {
		db, err = sql.Open(driverName, opts.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
	}

	if opts.Dialect == sqlutil.SQLite {
		// SQLite only supports one writer at a time.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		if err := applySQLitePragmas(ctx, db); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
	}
	return db, dbStatsReg, nil
}

func dbSystemAttribute(d sqlutil.Dialect) attribute.KeyValue {
	switch d {
	case sqlutil.SQLite:
		return semconv.DBSystemSqlite
	case sqlutil.Postgres:
		return semconv.DBSystemPostgreSQL
	default:
		return semconv.DBSystemMySQL
	}
}

func applySQLitePragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	return nil
}
