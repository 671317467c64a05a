// Package resolver executes planned find queries and assembles nested
// records: to-one references come from the joined row, to-many attributes and
// recursive goto edges from one follow-up query per parent record.
package resolver

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"relstore/internal/dbexec"
	"relstore/internal/event"
	"relstore/internal/planner"
)

// Record is a found record: attribute name to value, nested maps for
// references and slices of maps for to-many attributes.
type Record = event.Record

// Finder runs queries compiled by a Planner.
type Finder struct {
	planner *planner.Planner
	logger  *slog.Logger
}

// NewFinder creates a Finder.
func NewFinder(p *planner.Planner, logger *slog.Logger) *Finder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Finder{planner: p, logger: logger}
}

// Planner returns the planner used to compile queries.
func (f *Finder) Planner() *planner.Planner {
	return f.planner
}

// Find returns every record matching q. The result is never nil.
func (f *Finder) Find(ctx context.Context, db dbexec.Database, q planner.Query) (records []Record, err error) {
	ctx, span := startFinderSpan(ctx, "relstore.find",
		attribute.String("relstore.record", q.Record),
	)
	defer func() {
		finishFinderSpan(span, err, "")
		span.End()
	}()

	plan, err := f.planner.Plan(q)
	if err != nil {
		return nil, err
	}
	records, err = f.run(ctx, db, plan, plan.Query(), 0)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("relstore.find.records", len(records)))
	f.logger.Debug("find completed",
		slog.String("record", q.Record),
		slog.Int("records", len(records)),
	)
	return records, nil
}

// FindOne returns the first record matching q, or nil.
func (f *Finder) FindOne(ctx context.Context, db dbexec.Database, q planner.Query) (Record, error) {
	modifier := planner.Modifier{Limit: 1}
	if q.Modifier != nil {
		modifier.OrderBy = q.Modifier.OrderBy
		modifier.Offset = q.Modifier.Offset
	}
	q.Modifier = &modifier
	records, err := f.Find(ctx, db, q)
	if err != nil || len(records) == 0 {
		return nil, err
	}
	return records[0], nil
}

func (f *Finder) run(ctx context.Context, db dbexec.Database, plan *planner.Plan, q dbexec.SQLQuery, depth int) ([]Record, error) {
	rows, err := db.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		rec, err := plan.Decode(row)
		if err != nil {
			return nil, err
		}
		if err := f.expand(ctx, db, plan.Root, rec, depth); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// expand fills the to-many and goto attributes of rec and its nested records.
func (f *Finder) expand(ctx context.Context, db dbexec.Database, node *planner.OutputNode, rec Record, depth int) error {
	if rec == nil {
		return nil
	}
	for _, child := range node.Children {
		nested, _ := rec[child.Key].(Record)
		if err := f.expand(ctx, db, child, nested, depth); err != nil {
			return err
		}
	}
	id := rec["id"]
	for _, edge := range node.Edges {
		value, err := f.fetchEdge(ctx, db, edge, id, depth)
		if err != nil {
			return err
		}
		rec[edge.Attribute.Name] = value
	}
	if len(node.Gotos) == 0 {
		return nil
	}
	for _, g := range node.Gotos {
		if depth+1 > g.MaxDepth {
			continue
		}
		if g.Exit != nil && g.Exit(rec) {
			continue
		}
		edge, err := f.planner.PlanGoto(g)
		if err != nil {
			return err
		}
		value, err := f.fetchEdge(ctx, db, edge, id, depth+1)
		if err != nil {
			return err
		}
		rec[g.Attribute.Name] = value
	}
	return nil
}

// fetchEdge loads the far records of edge for the parent id. Link properties
// requested with "&" are attached to each far record.
func (f *Finder) fetchEdge(ctx context.Context, db dbexec.Database, edge *planner.EdgePlan, id any, depth int) (any, error) {
	items := make([]Record, 0)
	seen := make(map[int64]bool)
	for _, dir := range edge.Directions {
		linkRecords, err := f.run(ctx, db, dir.Plan, dir.Plan.Bind(id), depth)
		if err != nil {
			return nil, err
		}
		farKey := dir.Far.String()
		for _, linkRec := range linkRecords {
			linkID, _ := linkRec["id"].(int64)
			if seen[linkID] {
				continue
			}
			seen[linkID] = true

			item, _ := linkRec[farKey].(Record)
			if item == nil {
				continue
			}
			if dir.WithLink {
				props := make(Record, len(linkRec))
				for k, v := range linkRec {
					if k != farKey {
						props[k] = v
					}
				}
				item["&"] = props
			}
			items = append(items, item)
		}
	}
	if edge.ToMany() {
		return items, nil
	}
	if len(items) == 0 {
		return nil, nil
	}
	return items[0], nil
}
