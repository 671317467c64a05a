package dbexec

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"

	"relstore/internal/sqlutil"
)

// StatementRecorder receives one call per executed statement.
type StatementRecorder interface {
	RecordStatement(ctx context.Context, kind string, duration time.Duration, err error)
}

// SQLDriver implements Database over database/sql.
type SQLDriver struct {
	exec     QueryExecutor
	db       *sql.DB
	tx       TxExecutor
	dialect  sqlutil.Dialect
	logger   *slog.Logger
	recorder StatementRecorder
}

// DriverOption configures an SQLDriver.
type DriverOption func(*SQLDriver)

// WithLogger sets the logger used for statement debug logs.
func WithLogger(logger *slog.Logger) DriverOption {
	return func(d *SQLDriver) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithStatementRecorder attaches a metrics recorder.
func WithStatementRecorder(r StatementRecorder) DriverOption {
	return func(d *SQLDriver) { d.recorder = r }
}

// WithExecutor overrides the executor, mainly for tests.
func WithExecutor(exec QueryExecutor) DriverOption {
	return func(d *SQLDriver) { d.exec = exec }
}

// NewSQLDriver wraps db for the given dialect.
func NewSQLDriver(db *sql.DB, dialect sqlutil.Dialect, opts ...DriverOption) *SQLDriver {
	d := &SQLDriver{
		exec:    NewStandardExecutor(db),
		db:      db,
		dialect: dialect,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *SQLDriver) Dialect() sqlutil.Dialect {
	return d.dialect
}

// Begin opens a transaction. The returned Tx shares the driver's settings.
func (d *SQLDriver) Begin(ctx context.Context) (Tx, error) {
	if d.tx != nil {
		return nil, fmt.Errorf("transaction already open")
	}
	beginner, ok := d.exec.(interface {
		BeginTx(ctx context.Context) (TxExecutor, error)
	})
	if !ok {
		return nil, fmt.Errorf("executor does not support transactions")
	}
	tx, err := beginner.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	clone := *d
	clone.exec = tx
	clone.tx = tx
	return &clone, nil
}

func (d *SQLDriver) Commit() error {
	if d.tx == nil {
		return fmt.Errorf("no transaction open")
	}
	return d.tx.Commit()
}

func (d *SQLDriver) Rollback() error {
	if d.tx == nil {
		return fmt.Errorf("no transaction open")
	}
	return d.tx.Rollback()
}

func (d *SQLDriver) Query(ctx context.Context, q SQLQuery) (result [][]any, err error) {
	start := time.Now()
	defer func() { d.observe(ctx, "query", q, start, err) }()

	rows, err := d.exec.QueryContext(ctx, q.SQL, q.Args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}
	for rows.Next() {
		values := make([]any, len(cols))
		dest := make([]any, len(cols))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration failed: %w", err)
	}
	return result, nil
}

func (d *SQLDriver) Insert(ctx context.Context, q SQLQuery) (int64, error) {
	return d.execAffected(ctx, "insert", q)
}

func (d *SQLDriver) Update(ctx context.Context, q SQLQuery) (int64, error) {
	return d.execAffected(ctx, "update", q)
}

func (d *SQLDriver) Delete(ctx context.Context, q SQLQuery) (int64, error) {
	return d.execAffected(ctx, "delete", q)
}

func (d *SQLDriver) Scheme(ctx context.Context, ddl string) (err error) {
	start := time.Now()
	q := SQLQuery{SQL: ddl}
	defer func() { d.observe(ctx, "scheme", q, start, err) }()
	if _, err = d.exec.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ddl failed: %w", err)
	}
	return nil
}

func (d *SQLDriver) execAffected(ctx context.Context, kind string, q SQLQuery) (affected int64, err error) {
	start := time.Now()
	defer func() { d.observe(ctx, kind, q, start, err) }()

	res, err := d.exec.ExecContext(ctx, q.SQL, q.Args...)
	if err != nil {
		return 0, fmt.Errorf("%s failed: %w", kind, err)
	}
	affected, err = res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return affected, nil
}

// GetAutoID increments the sequence row of record, creating it on first use.
func (d *SQLDriver) GetAutoID(ctx context.Context, record string) (int64, error) {
	table := d.dialect.Quote(sqlutil.SequenceTable)
	nameCol := d.dialect.Quote("name")
	lastCol := d.dialect.Quote("last")

	update, args, err := sq.Update(table).
		Set(lastCol, sq.Expr(lastCol+" + 1")).
		Where(sq.Eq{nameCol: record}).
		PlaceholderFormat(d.dialect.Placeholder()).
		ToSql()
	if err != nil {
		return 0, err
	}
	affected, err := d.Update(ctx, SQLQuery{SQL: update, Args: args})
	if err != nil {
		return 0, fmt.Errorf("failed to allocate id for %s: %w", record, err)
	}
	if affected == 0 {
		insert, args, err := sq.Insert(table).
			Columns(nameCol, lastCol).
			Values(record, 1).
			PlaceholderFormat(d.dialect.Placeholder()).
			ToSql()
		if err != nil {
			return 0, err
		}
		if _, err := d.Insert(ctx, SQLQuery{SQL: insert, Args: args}); err != nil {
			return 0, fmt.Errorf("failed to allocate id for %s: %w", record, err)
		}
		return 1, nil
	}

	selectSQL, args, err := sq.Select(lastCol).
		From(table).
		Where(sq.Eq{nameCol: record}).
		PlaceholderFormat(d.dialect.Placeholder()).
		ToSql()
	if err != nil {
		return 0, err
	}
	rows, err := d.Query(ctx, SQLQuery{SQL: selectSQL, Args: args})
	if err != nil {
		return 0, fmt.Errorf("failed to read id for %s: %w", record, err)
	}
	if len(rows) != 1 {
		return 0, fmt.Errorf("sequence row for %s not found", record)
	}
	id, ok := AsInt64(rows[0][0])
	if !ok {
		return 0, fmt.Errorf("sequence value for %s has unexpected type %T", record, rows[0][0])
	}
	return id, nil
}

// ParseMatchExpression adds the "contains" operator for json and collection properties.
func (d *SQLDriver) ParseMatchExpression(field MatchField, op string, operand any, isReference bool, _ func(string) (string, error)) (sq.Sqlizer, bool, error) {
	if op != "contains" || isReference {
		return nil, false, nil
	}
	if !field.Collection && field.Type != "json" {
		return nil, false, fmt.Errorf("contains requires a json or collection property, %s is %s", field.Key, field.Type)
	}
	cond, err := d.dialect.JSONContains(field.Column, operand)
	if err != nil {
		return nil, false, err
	}
	return cond, true, nil
}

func (d *SQLDriver) observe(ctx context.Context, kind string, q SQLQuery, start time.Time, err error) {
	elapsed := time.Since(start)
	if d.recorder != nil {
		d.recorder.RecordStatement(ctx, kind, elapsed, err)
	}
	if err != nil {
		d.logger.Debug("statement failed",
			slog.String("kind", kind),
			slog.String("sql", q.SQL),
			slog.String("error", err.Error()),
		)
		return
	}
	d.logger.Debug("statement executed",
		slog.String("kind", kind),
		slog.String("sql", q.SQL),
		slog.Int("args", len(q.Args)),
		slog.Duration("duration", elapsed),
	)
}
