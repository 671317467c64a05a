// Package planner compiles record queries into parameterized SQL over the
// physical layout chosen by the mapper. A query is resolved completely (paths,
// joins, nested to-many fetches) before any SQL is produced, so invalid
// attribute references surface as programmer errors and never reach the database.
package planner

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"relstore/internal/dbexec"
	"relstore/internal/mapper"
	"relstore/internal/naming"
	"relstore/internal/schema"
	"relstore/internal/sqlutil"
	"relstore/internal/storeerr"
)

// DefaultMaxDepth bounds goto recursion when neither the query nor the
// planner configuration sets a depth.
const DefaultMaxDepth = 16

// Planner compiles queries for one Map.
type Planner struct {
	m        *mapper.Map
	dialect  sqlutil.Dialect
	namer    *naming.Namer
	parser   dbexec.MatchExpressionParser
	maxDepth int
}

// Option configures a Planner.
type Option func(*Planner)

// WithMatchParser installs the driver hook for engine specific operators.
func WithMatchParser(p dbexec.MatchExpressionParser) Option {
	return func(pl *Planner) { pl.parser = p }
}

// WithMaxDepth sets the default goto recursion depth.
func WithMaxDepth(n int) Option {
	return func(pl *Planner) {
		if n > 0 {
			pl.maxDepth = n
		}
	}
}

// WithNamer sets the namer used for aliases.
func WithNamer(n *naming.Namer) Option {
	return func(pl *Planner) { pl.namer = n }
}

// New creates a planner.
func New(m *mapper.Map, dialect sqlutil.Dialect, opts ...Option) *Planner {
	p := &Planner{m: m, dialect: dialect, maxDepth: DefaultMaxDepth}
	for _, opt := range opts {
		opt(p)
	}
	if p.namer == nil {
		p.namer = naming.New(naming.Config{MaxIdentifierLength: dialect.MaxIdentifierLength()}, slog.Default())
	}
	return p
}

// Map returns the physical layout the planner compiles against.
func (p *Planner) Map() *mapper.Map {
	return p.m
}

// Dialect returns the SQL dialect of generated statements.
func (p *Planner) Dialect() sqlutil.Dialect {
	return p.dialect
}

// Plan compiles a find query.
func (p *Planner) Plan(q Query) (*Plan, error) {
	labels := newLabelSet()
	plan, err := p.compile(q, labels)
	if err != nil {
		return nil, err
	}
	if err := p.checkGotos(labels); err != nil {
		return nil, err
	}
	return plan, nil
}

// PlanGoto compiles the edge a goto expands into. Plans are cached per label
// and attribute for the lifetime of the enclosing find.
func (p *Planner) PlanGoto(g *GotoEdge) (*EdgePlan, error) {
	labels := g.labels
	key := g.Label + "|" + g.Attribute.Record + "." + g.Attribute.Name

	labels.mu.Lock()
	cached, ok := labels.edges[key]
	def := labels.defs[g.Label]
	labels.mu.Unlock()
	if ok {
		return cached, nil
	}

	sub := SubQuery{
		AttributeQuery:  def.sub.AttributeQuery,
		MatchExpression: g.match,
		Modifier:        g.modifier,
	}
	if sub.MatchExpression == nil {
		sub.MatchExpression = def.sub.MatchExpression
	}
	if sub.Modifier == nil {
		sub.Modifier = def.sub.Modifier
	}
	edge, err := p.compileEdge(g.Attribute, sub, labels)
	if err != nil {
		return nil, err
	}
	if err := p.checkGotos(labels); err != nil {
		return nil, err
	}

	labels.mu.Lock()
	labels.edges[key] = edge
	labels.mu.Unlock()
	return edge, nil
}

// parentIDArg marks the argument bound to the parent record id of an edge plan.
type parentIDArg struct{}

var parentID = parentIDArg{}

// outerColumn is an atom operand naming a column of an enclosing query.
type outerColumn string

// Plan is a compiled SELECT plus the information needed to turn its rows
// back into nested records.
type Plan struct {
	Record *mapper.RecordInfo
	SQL    string
	Args   []interface{}
	Root   *OutputNode
}

// Query returns the statement with its arguments.
func (p *Plan) Query() dbexec.SQLQuery {
	return dbexec.SQLQuery{SQL: p.SQL, Args: p.Args}
}

// Bind returns the statement of an edge plan with the parent id filled in.
func (p *Plan) Bind(id any) dbexec.SQLQuery {
	args := make([]interface{}, len(p.Args))
	for i, a := range p.Args {
		if _, ok := a.(parentIDArg); ok {
			args[i] = id
			continue
		}
		args[i] = a
	}
	return dbexec.SQLQuery{SQL: p.SQL, Args: args}
}

// Decode assembles one result row into a record. To-many attributes and goto
// edges are not populated; they are fetched by the caller from OutputNode.Edges
// and OutputNode.Gotos.
func (p *Plan) Decode(row []any) (map[string]any, error) {
	rec, err := p.Root.decode(row)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("row without %s id", p.Record.Name)
	}
	return rec, nil
}

// OutputNode is one record position in a result row.
type OutputNode struct {
	Record *mapper.RecordInfo
	// Key is the attribute name under the parent record, "&" for link records.
	Key      string
	Children []*OutputNode
	Edges    []*EdgePlan
	Gotos    []*GotoEdge

	idPos  int
	fields []outputField
}

type outputField struct {
	attr *mapper.AttributeInfo
	pos  int
}

func (n *OutputNode) decode(row []any) (map[string]any, error) {
	rawID := row[n.idPos]
	if rawID == nil {
		return nil, nil
	}
	id, ok := dbexec.AsInt64(rawID)
	if !ok {
		return nil, fmt.Errorf("%s id has unexpected type %T", n.Record.Name, rawID)
	}
	rec := map[string]any{"id": id}
	for _, f := range n.fields {
		v, err := decodeValue(f.attr, row[f.pos])
		if err != nil {
			return nil, err
		}
		rec[f.attr.Name] = v
	}
	for _, child := range n.Children {
		sub, err := child.decode(row)
		if err != nil {
			return nil, err
		}
		if sub == nil {
			rec[child.Key] = nil
			continue
		}
		rec[child.Key] = sub
	}
	return rec, nil
}

func decodeValue(attr *mapper.AttributeInfo, raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	if attr.IsJSON() {
		s, ok := dbexec.AsString(raw)
		if !ok {
			return nil, fmt.Errorf("%s.%s: unexpected json column type %T", attr.Record, attr.Name, raw)
		}
		var v any
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			return nil, fmt.Errorf("%s.%s: %w", attr.Record, attr.Name, err)
		}
		return v, nil
	}
	switch attr.Type {
	case schema.TypeNumber:
		if f, ok := dbexec.AsFloat64(raw); ok {
			return f, nil
		}
	case schema.TypeBoolean:
		if b, ok := dbexec.AsBool(raw); ok {
			return b, nil
		}
	default:
		if s, ok := dbexec.AsString(raw); ok {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%s.%s: unexpected column type %T", attr.Record, attr.Name, raw)
}

// EdgePlan fetches the records behind a to-many (or goto) attribute for one
// parent record. Symmetric relations have one direction per side.
type EdgePlan struct {
	Attribute  *mapper.AttributeInfo
	Directions []Direction
}

// ToMany reports whether the edge yields a list.
func (e *EdgePlan) ToMany() bool {
	return e.Attribute.ToMany
}

// Direction is one traversal of the link record: rows whose Near endpoint is
// the parent, returning the Far endpoint.
type Direction struct {
	Near     mapper.Side
	Far      mapper.Side
	Plan     *Plan
	WithLink bool
}

// GotoEdge is a recursive attribute expanded lazily with PlanGoto.
type GotoEdge struct {
	Attribute *mapper.AttributeInfo
	Label     string
	MaxDepth  int
	Exit      func(record map[string]any) bool

	match    *BoolExp
	modifier *Modifier
	labels   *labelSet
}

type labelDef struct {
	record string
	sub    SubQuery
}

type labelSet struct {
	mu      sync.Mutex
	defs    map[string]labelDef
	edges   map[string]*EdgePlan
	pending []*GotoEdge
}

func newLabelSet() *labelSet {
	return &labelSet{defs: map[string]labelDef{}, edges: map[string]*EdgePlan{}}
}

func (l *labelSet) define(label, record string, sub SubQuery) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if existing, ok := l.defs[label]; ok {
		// Recompiling a labelled subtree for a goto meets its labels again.
		if existing.record == record {
			return nil
		}
		return storeerr.Programmerf(record, "duplicate label %q", label)
	}
	l.defs[label] = labelDef{record: record, sub: sub}
	return nil
}

func (p *Planner) checkGotos(labels *labelSet) error {
	labels.mu.Lock()
	defer labels.mu.Unlock()
	for _, g := range labels.pending {
		def, ok := labels.defs[g.Label]
		if !ok {
			return storeerr.Programmerf(g.Attribute.Record, "goto %q on %q names an unknown label", g.Label, g.Attribute.Name)
		}
		if def.record != g.Attribute.Target {
			return storeerr.Programmerf(g.Attribute.Record, "goto %q on %q reaches %s but the label selects %s",
				g.Label, g.Attribute.Name, g.Attribute.Target, def.record)
		}
		if g.MaxDepth <= 0 {
			g.MaxDepth = def.sub.MaxDepth
		}
		if g.MaxDepth <= 0 {
			g.MaxDepth = p.maxDepth
		}
		if g.Exit == nil {
			g.Exit = def.sub.Exit
		}
	}
	labels.pending = nil
	return nil
}
