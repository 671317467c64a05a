// Package mutation applies record mutations to the physical layout chosen by
// the mapper. Every operation keeps row occupancy consistent: records merged
// into a shared row are moved out when their link disappears, and rows are
// removed once nothing lives in them. Each operation returns the mutation
// events it caused, in causal order.
package mutation

import (
	"context"
	"log/slog"

	"relstore/internal/dbexec"
	"relstore/internal/event"
	"relstore/internal/mapper"
	"relstore/internal/planner"
	"relstore/internal/resolver"
	"relstore/internal/sqlutil"
	"relstore/internal/storeerr"
)

// Record is a mutation payload or result.
type Record = event.Record

// Engine runs mutations against a Database. It holds no per-operation state
// and is safe for concurrent use.
type Engine struct {
	m      *mapper.Map
	finder *resolver.Finder
	logger *slog.Logger
}

// New creates an Engine reading through finder.
func New(finder *resolver.Finder, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{m: finder.Planner().Map(), finder: finder, logger: logger}
}

// op is the state of one logical mutation.
type op struct {
	e      *Engine
	m      *mapper.Map
	ctx    context.Context
	db     dbexec.Database
	events []event.MutationEvent
	// deleting guards reliance cascades against cycles.
	deleting map[string]bool
}

func (e *Engine) newOp(ctx context.Context, db dbexec.Database) *op {
	return &op{e: e, m: e.m, ctx: ctx, db: db, deleting: make(map[string]bool)}
}

func (o *op) dialect() sqlutil.Dialect {
	return o.db.Dialect()
}

func (o *op) emit(t event.Type, record string, rec, old Record) {
	o.events = append(o.events, event.New(t, record, rec, old))
}

func (o *op) find(q planner.Query) ([]Record, error) {
	return o.e.finder.Find(o.ctx, o.db, q)
}

// Create inserts a record together with the nested records and links in data.
// Nested items holding an "id" reference existing records; other items are
// created. Link properties of a nested item are given under "&".
func (e *Engine) Create(ctx context.Context, db dbexec.Database, record string, data Record) (Record, []event.MutationEvent, error) {
	rec, err := e.m.Record(record)
	if err != nil {
		return nil, nil, err
	}
	if err := e.validateCreate(rec, data); err != nil {
		return nil, nil, err
	}
	o := e.newOp(ctx, db)
	var created Record
	if rec.IsRelation {
		created, err = o.createLink(rec, data)
	} else {
		created, err = o.createRecord(rec, data, nil)
	}
	if err != nil {
		return nil, nil, err
	}
	return created, o.events, nil
}

// Update applies data to every record matching match. Value attributes are
// written in one statement per record; reference attributes replace the
// current links.
func (e *Engine) Update(ctx context.Context, db dbexec.Database, record string, match *planner.BoolExp, data Record) ([]Record, []event.MutationEvent, error) {
	rec, err := e.m.Record(record)
	if err != nil {
		return nil, nil, err
	}
	if err := e.validateUpdate(rec, data); err != nil {
		return nil, nil, err
	}
	o := e.newOp(ctx, db)
	updated, err := o.update(rec, match, data)
	if err != nil {
		return nil, nil, err
	}
	return updated, o.events, nil
}

// Delete removes every record matching match, its links, and the records that
// rely on it.
func (e *Engine) Delete(ctx context.Context, db dbexec.Database, record string, match *planner.BoolExp) ([]Record, []event.MutationEvent, error) {
	rec, err := e.m.Record(record)
	if err != nil {
		return nil, nil, err
	}
	o := e.newOp(ctx, db)
	deleted, err := o.delete(rec, match)
	if err != nil {
		return nil, nil, err
	}
	return deleted, o.events, nil
}

// AddLink connects two existing records through relation. It fails with
// storeerr.ErrLinkExists when the pair is already linked.
func (e *Engine) AddLink(ctx context.Context, db dbexec.Database, relation string, sourceID, targetID int64, props Record) (Record, []event.MutationEvent, error) {
	rec, err := e.m.Record(relation)
	if err != nil {
		return nil, nil, err
	}
	if !rec.IsRelation {
		return nil, nil, storeerr.Programmerf(relation, "not a relation")
	}
	if err := e.validateValues(rec, props); err != nil {
		return nil, nil, err
	}
	o := e.newOp(ctx, db)
	link, err := o.linkRecords(rec.Link, sourceID, targetID, props, true)
	if err != nil {
		return nil, nil, err
	}
	return link, o.events, nil
}
