package mutation

import (
	"log/slog"

	"relstore/internal/dbexec"
	"relstore/internal/event"
	"relstore/internal/mapper"
	"relstore/internal/planner"
	"relstore/internal/sqlutil"
	"relstore/internal/storeerr"
)

// linkRecords connects two existing records. A to-one endpoint loses its
// current link first. With rejectDuplicate an existing link between the pair
// fails with storeerr.ErrLinkExists.
func (o *op) linkRecords(link *mapper.LinkInfo, source, target int64, props Record, rejectDuplicate bool) (Record, error) {
	rel, err := o.m.Record(link.Name)
	if err != nil {
		return nil, err
	}
	if rejectDuplicate {
		exists, err := o.linked(link, source, target)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, storeerr.WithOp(storeerr.ErrLinkExists, "addLink "+link.Name)
		}
	}
	if link.IsToOne(mapper.SideSource) {
		if err := o.unlinkAll(link, mapper.SideSource, source); err != nil {
			return nil, err
		}
	}
	if link.IsToOne(mapper.SideTarget) {
		if err := o.unlinkAll(link, mapper.SideTarget, target); err != nil {
			return nil, err
		}
	}

	plan := &rowPlan{table: o.m.Table(link.Table), values: make(map[string]any)}
	rec, err := o.collectLink(plan, link, source, target, props)
	if err != nil {
		return nil, err
	}

	switch link.MergeKind {
	case mapper.MergeCombined:
		err = o.combine(plan, link, source, target)
	case mapper.MergeToSource:
		src, _ := o.m.Record(link.Source)
		_, err = o.updateWhere(plan.table, plan.values, src.IDColumn, source)
	case mapper.MergeToTarget:
		tgt, _ := o.m.Record(link.Target)
		_, err = o.updateWhere(plan.table, plan.values, tgt.IDColumn, target)
	default:
		err = o.insertRow(plan.table, plan.values)
	}
	if err != nil {
		return nil, err
	}
	o.events = append(o.events, plan.events...)
	o.e.logger.Debug("records linked",
		slog.String("relation", rel.Name),
		slog.Int64("source", source),
		slog.Int64("target", target),
	)
	return rec, nil
}

// combine moves the target's row into the source's row and stores the link
// columns there.
func (o *op) combine(plan *rowPlan, link *mapper.LinkInfo, source, target int64) error {
	src, _ := o.m.Record(link.Source)
	tgt, _ := o.m.Record(link.Target)
	srcRow, err := o.readRow(plan.table, src.IDColumn, source)
	if err != nil {
		return err
	}
	if srcRow == nil {
		return storeerr.Programmerf(src.Name, "record %d does not exist", source)
	}
	tgtRow, err := o.readRow(plan.table, tgt.IDColumn, target)
	if err != nil {
		return err
	}
	if tgtRow == nil {
		return storeerr.Programmerf(tgt.Name, "record %d does not exist", target)
	}
	if err := o.deleteRow(plan.table, tgtRow.id); err != nil {
		return err
	}
	for col, v := range tgtRow.values {
		plan.values[col] = v
	}
	_, err = o.updateWhere(plan.table, plan.values, sqlutil.RowIDColumn, srcRow.id)
	return err
}

// linked reports whether a link of the relation connects source and target.
// A symmetric link is a single edge, so adding the reversed pair of an
// existing symmetric link fails with ErrLinkExists; directed relations accept
// the reverse direction as a new link.
func (o *op) linked(link *mapper.LinkInfo, source, target int64) (bool, error) {
	match := planner.And(
		planner.Match("source.id", "=", source),
		planner.Match("target.id", "=", target),
	)
	if link.Symmetric {
		match = planner.Or(match, planner.And(
			planner.Match("source.id", "=", target),
			planner.Match("target.id", "=", source),
		))
	}
	found, err := o.find(planner.Query{Record: link.Name, Match: match, Modifier: &planner.Modifier{Limit: 1}})
	if err != nil {
		return false, err
	}
	return len(found) > 0, nil
}

// linksOf returns the link records holding id at side.
func (o *op) linksOf(link *mapper.LinkInfo, side mapper.Side, id int64) ([]Record, error) {
	rel, err := o.m.Record(link.Name)
	if err != nil {
		return nil, err
	}
	attrs := planner.AttributeQuery{
		planner.Nested("source", planner.SubQuery{}),
		planner.Nested("target", planner.SubQuery{}),
	}
	for _, attr := range rel.ValueAttributes() {
		attrs = append(attrs, planner.Attr(attr.Name))
	}
	return o.find(planner.Query{
		Record:     link.Name,
		Match:      planner.Match(side.String()+".id", "=", id),
		Attributes: attrs,
	})
}

// unlinkAll removes every link holding id at side.
func (o *op) unlinkAll(link *mapper.LinkInfo, side mapper.Side, id int64) error {
	links, err := o.linksOf(link, side, id)
	if err != nil {
		return err
	}
	for _, l := range links {
		if err := o.removeLink(link, l); err != nil {
			return err
		}
	}
	return nil
}

// removeLink deletes one link instance. A combined partner is moved into a
// row of its own.
func (o *op) removeLink(link *mapper.LinkInfo, rec Record) error {
	rel, err := o.m.Record(link.Name)
	if err != nil {
		return err
	}
	id, _ := dbexec.AsInt64(rec["id"])
	key := visitKey(rel.Name, id)
	if o.deleting[key] {
		return nil
	}
	o.deleting[key] = true
	if err := o.removeFromRow(rel, id); err != nil {
		return err
	}
	o.emit(event.Delete, rel.Name, rec, nil)
	return nil
}

// endpointID returns the id of the endpoint reference at side of a link record.
func endpointID(rec Record, side mapper.Side) int64 {
	r, _ := rec[side.String()].(Record)
	id, _ := dbexec.AsInt64(r["id"])
	return id
}
