// Package storage is the entry point of the record store. It builds the
// physical layout for a schema, answers find queries and runs every mutation
// in a transaction, delivering mutation events once the transaction commits.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"relstore/internal/dbexec"
	"relstore/internal/event"
	"relstore/internal/logging"
	"relstore/internal/mapper"
	"relstore/internal/mutation"
	"relstore/internal/naming"
	"relstore/internal/observability"
	"relstore/internal/planner"
	"relstore/internal/resolver"
	"relstore/internal/schema"
	"relstore/internal/storeerr"
)

// Record is a found record or a mutation payload.
type Record = event.Record

// Options configures Setup.
type Options struct {
	Naming naming.Config
	// MaxRecursionDepth bounds goto expansion when a query sets no depth.
	MaxRecursionDepth int
	// CreateTables executes the DDL of the layout during Setup.
	CreateTables bool
	Logger       *logging.Logger
	Metrics      *observability.StorageMetrics
	// Sink receives the events of every committed mutation.
	Sink event.Sink
}

// Storage runs queries and mutations for one schema over one database.
type Storage struct {
	db      dbexec.Database
	m       *mapper.Map
	planner *planner.Planner
	finder  *resolver.Finder
	engine  *mutation.Engine
	logger  *logging.Logger
	metrics *observability.StorageMetrics
	sink    event.Sink
}

// Setup builds the layout of s and, when requested, creates its tables.
// Schema inconsistencies are returned as configuration errors before any SQL
// is issued.
func Setup(ctx context.Context, db dbexec.Database, s schema.Schema, opts Options) (*Storage, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.FromContext(ctx)
	}
	dialect := db.Dialect()
	namingCfg := opts.Naming
	if namingCfg.MaxIdentifierLength == 0 {
		namingCfg.MaxIdentifierLength = dialect.MaxIdentifierLength()
	}

	m, err := mapper.Build(s, mapper.Options{Naming: namingCfg, Logger: logger.Logger})
	if err != nil {
		return nil, err
	}

	plannerOpts := []planner.Option{
		planner.WithMaxDepth(opts.MaxRecursionDepth),
		planner.WithNamer(naming.New(namingCfg, logger.Logger)),
	}
	if parser, ok := db.(dbexec.MatchExpressionParser); ok {
		plannerOpts = append(plannerOpts, planner.WithMatchParser(parser))
	}
	p := planner.New(m, dialect, plannerOpts...)
	finder := resolver.NewFinder(p, logger.Logger)

	st := &Storage{
		db:      db,
		m:       m,
		planner: p,
		finder:  finder,
		engine:  mutation.New(finder, logger.Logger),
		logger:  logger,
		metrics: opts.Metrics,
		sink:    opts.Sink,
	}

	if opts.CreateTables {
		if err := st.CreateTables(ctx); err != nil {
			return nil, err
		}
	}
	return st, nil
}

// Map returns the physical layout.
func (s *Storage) Map() *mapper.Map {
	return s.m
}

// DDL returns the statements creating every table of the layout.
func (s *Storage) DDL() []string {
	return s.m.DDL(s.db.Dialect())
}

// CreateTables executes the layout DDL.
func (s *Storage) CreateTables(ctx context.Context) error {
	stmts := s.DDL()
	for _, stmt := range stmts {
		if err := s.db.Scheme(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create tables: %w", err)
		}
	}
	s.logger.Info("tables created", slog.Int("statements", len(stmts)))
	return nil
}

// Begin opens a transaction shared by every operation run with the returned
// context. It must be ended with Commit or Rollback.
func (s *Storage) Begin(ctx context.Context) (context.Context, error) {
	if MutationContextFromContext(ctx) != nil {
		return nil, fmt.Errorf("transaction already open")
	}
	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	return WithMutationContext(ctx, NewMutationContext(tx)), nil
}

// Commit commits the transaction opened by Begin and delivers its events.
// A transaction in which an operation failed is rolled back instead.
func (s *Storage) Commit(ctx context.Context) error {
	mc := MutationContextFromContext(ctx)
	if mc == nil {
		return fmt.Errorf("no transaction open")
	}
	return s.finalize(ctx, mc)
}

// Rollback discards the transaction opened by Begin and its events.
func (s *Storage) Rollback(ctx context.Context) error {
	mc := MutationContextFromContext(ctx)
	if mc == nil {
		return fmt.Errorf("no transaction open")
	}
	mc.MarkError()
	return s.finalize(ctx, mc)
}

func (s *Storage) begin(ctx context.Context) (dbexec.Tx, error) {
	if t, ok := s.db.(dbexec.Transactional); ok {
		return t.Begin(ctx)
	}
	return directTx{Database: s.db}, nil
}

func (s *Storage) finalize(ctx context.Context, mc *MutationContext) error {
	events, err := mc.Finalize()
	if err != nil {
		return err
	}
	for _, e := range events {
		s.metrics.RecordEvent(ctx, string(e.Type), e.RecordName)
	}
	return nil
}

// operation wraps one logical storage call: op id, logging, span, metrics
// and, for mutations, the transaction.
type operation struct {
	name   string
	record string
	write  bool
	sink   event.Sink
}

type opFunc func(ctx context.Context, db dbexec.Database) (records int, events []event.MutationEvent, err error)

func (s *Storage) run(ctx context.Context, op operation, fn opFunc) (err error) {
	opID := uuid.NewString()
	logger := s.logger.WithOperation(op.name, opID)
	ctx = logging.WithLogger(logging.WithOperationID(ctx, opID), logger)

	ctx, span := startOperationSpan(ctx, "relstore."+op.name,
		attribute.String("relstore.record", op.record),
		attribute.String("relstore.op_id", opID),
	)
	start := time.Now()
	s.metrics.IncrementActiveOperations(ctx)
	defer func() {
		s.metrics.DecrementActiveOperations(ctx)
		s.metrics.RecordOperation(ctx, time.Since(start), op.name, op.record, err)
		finishOperationSpan(span, err)
		span.End()
	}()

	mc := MutationContextFromContext(ctx)
	owned := false
	if mc == nil && op.write {
		tx, err := s.begin(ctx)
		if err != nil {
			return err
		}
		mc = NewMutationContext(tx)
		owned = true
	}

	var db dbexec.Database = s.db
	if mc != nil {
		db = mc.Tx()
	}
	n, events, err := fn(ctx, db)
	if err != nil {
		err = storeerr.WithOp(err, op.name)
		if mc != nil {
			mc.MarkError()
		}
	} else if mc != nil {
		mc.Record(events, op.sink, s.sink)
	}
	if owned {
		if ferr := s.finalize(ctx, mc); ferr != nil && err == nil {
			err = fmt.Errorf("failed to commit %s: %w", op.name, ferr)
		}
	}

	span.SetAttributes(attribute.Int("relstore.records", n), attribute.Int("relstore.events", len(events)))
	s.metrics.RecordRecordsCount(ctx, int64(n), op.name)
	if err != nil {
		logger.Debug("storage operation failed",
			slog.String("record", op.record),
			slog.String("error", err.Error()),
		)
		return err
	}
	logger.Debug("storage operation completed",
		slog.String("record", op.record),
		slog.Int("records", n),
		slog.Int("events", len(events)),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}
