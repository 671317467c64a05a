package mutation

import (
	"log/slog"

	"relstore/internal/event"
	"relstore/internal/mapper"
	"relstore/internal/storeerr"
)

// incoming is the link through which a nested record is created. The link is
// stored in the new record's row.
type incoming struct {
	link     *mapper.LinkInfo
	side     mapper.Side // side of the new record
	parentID int64
	props    Record
}

// rowPlan accumulates one row before it is inserted: the columns of every
// record living in it, their events, and the steps that need the row to exist.
type rowPlan struct {
	table  *mapper.TableInfo
	values map[string]any
	events []event.MutationEvent
	post   []func() error
}

// createRecord inserts rec and everything nested in data. Records and links
// the row depends on are written first, then the row, then records that
// point back at it.
func (o *op) createRecord(rec *mapper.RecordInfo, data Record, in *incoming) (Record, error) {
	plan := &rowPlan{table: o.m.TableOf(rec), values: make(map[string]any)}
	created, err := o.collect(plan, rec, data, in)
	if err != nil {
		return nil, err
	}
	if err := o.insertRow(plan.table, plan.values); err != nil {
		return nil, err
	}
	o.events = append(o.events, plan.events...)
	for _, step := range plan.post {
		if err := step(); err != nil {
			return nil, err
		}
	}
	return created, nil
}

// collect adds rec to plan. Combined partners are collected into the same row.
func (o *op) collect(plan *rowPlan, rec *mapper.RecordInfo, data Record, in *incoming) (Record, error) {
	id, err := o.db.GetAutoID(o.ctx, rec.Name)
	if err != nil {
		return nil, err
	}
	plan.values[rec.IDColumn] = id
	created := Record{"id": id}
	if err := setValues(rec, data, plan.values, created); err != nil {
		return nil, err
	}

	if in != nil {
		source, target := id, in.parentID
		if in.side == mapper.SideTarget {
			source, target = in.parentID, id
		}
		if _, err := o.collectLink(plan, in.link, source, target, in.props); err != nil {
			return nil, err
		}
	}
	plan.events = append(plan.events, event.New(event.Create, rec.Name, clone(created), nil))

	for _, attr := range rec.ReferenceAttributes() {
		v, ok := data[attr.Name]
		if !ok || attr.Endpoint {
			continue
		}
		items, err := toItems(attr, v)
		if err != nil {
			return nil, err
		}
		refs := make([]Record, 0, len(items))
		for _, item := range items {
			r, err := o.collectReference(plan, id, attr, item)
			if err != nil {
				return nil, err
			}
			refs = append(refs, r)
		}
		switch {
		case attr.ToMany:
			created[attr.Name] = refs
		case len(refs) > 0:
			created[attr.Name] = refs[0]
		default:
			created[attr.Name] = nil
		}
	}
	return created, nil
}

// collectReference links the record being collected (id, on attr's side) to
// one nested item. The returned reference is filled once the item exists.
func (o *op) collectReference(plan *rowPlan, id int64, attr *mapper.AttributeInfo, item Record) (Record, error) {
	link := attr.Link
	near, far := attr.Side, attr.Side.Other()
	target, err := o.m.Record(attr.Target)
	if err != nil {
		return nil, err
	}
	data, props, farID, existing := splitItem(item)
	ends := func(farID int64) (int64, int64) {
		if near == mapper.SideSource {
			return id, farID
		}
		return farID, id
	}
	out := Record{}

	switch {
	case link.Implicit(near) && link.Implicit(far):
		if !existing {
			partner, err := o.collect(plan, target, data, &incoming{link: link, side: far, parentID: id, props: props})
			if err != nil {
				return nil, err
			}
			out["id"] = partner["id"]
			return out, nil
		}
		if err := o.absorb(plan, target, farID, link, far); err != nil {
			return nil, err
		}
		source, targetID := ends(farID)
		if _, err := o.collectLink(plan, link, source, targetID, props); err != nil {
			return nil, err
		}
		out["id"] = farID
		return out, nil

	case link.Implicit(near):
		if existing {
			if link.IsToOne(far) {
				if err := o.unlinkAll(link, far, farID); err != nil {
					return nil, err
				}
			}
		} else {
			created, err := o.createRecord(target, data, nil)
			if err != nil {
				return nil, err
			}
			farID = created["id"].(int64)
		}
		source, targetID := ends(farID)
		if _, err := o.collectLink(plan, link, source, targetID, props); err != nil {
			return nil, err
		}
		out["id"] = farID
		return out, nil
	}

	plan.post = append(plan.post, func() error {
		if existing {
			out["id"] = farID
		} else {
			var in *incoming
			if link.Implicit(far) {
				in = &incoming{link: link, side: far, parentID: id, props: props}
			}
			created, err := o.createRecord(target, data, in)
			if err != nil {
				return err
			}
			out["id"] = created["id"]
			if in != nil {
				return nil
			}
			farID = created["id"].(int64)
		}
		source, targetID := ends(farID)
		_, err := o.linkRecords(link, source, targetID, props, false)
		return err
	})
	return out, nil
}

// collectLink adds a link instance to plan. Endpoints not living in the row
// are written to their foreign key columns.
func (o *op) collectLink(plan *rowPlan, link *mapper.LinkInfo, source, target int64, props Record) (Record, error) {
	rel, err := o.m.Record(link.Name)
	if err != nil {
		return nil, err
	}
	id, err := o.db.GetAutoID(o.ctx, rel.Name)
	if err != nil {
		return nil, err
	}
	plan.values[rel.IDColumn] = id
	ends := [2]int64{source, target}
	for _, side := range []mapper.Side{mapper.SideSource, mapper.SideTarget} {
		if col := link.Column(side); col != "" {
			plan.values[col] = ends[side]
		}
	}
	rec := linkRecord(id, source, target)
	if err := setValues(rel, props, plan.values, rec); err != nil {
		return nil, err
	}
	plan.events = append(plan.events, event.New(event.Create, rel.Name, clone(rec), nil))
	return rec, nil
}

// absorb moves the row of an existing combined partner into plan. A partner
// already combined with another record is evicted from that pairing first.
func (o *op) absorb(plan *rowPlan, rec *mapper.RecordInfo, id int64, link *mapper.LinkInfo, side mapper.Side) error {
	if err := o.unlinkAll(link, side, id); err != nil {
		return err
	}
	r, err := o.readRow(plan.table, rec.IDColumn, id)
	if err != nil {
		return err
	}
	if r == nil {
		return storeerr.Programmerf(rec.Name, "record %d does not exist", id)
	}
	if err := o.deleteRow(plan.table, r.id); err != nil {
		return err
	}
	for col, v := range r.values {
		if _, taken := plan.values[col]; !taken {
			plan.values[col] = v
		}
	}
	o.e.logger.Debug("row absorbed",
		slog.String("table", plan.table.Name),
		slog.String("record", rec.Name),
		slog.Int64("id", id),
	)
	return nil
}

// createLink creates a relation record. Endpoints given without an id are
// created first.
func (o *op) createLink(rel *mapper.RecordInfo, data Record) (Record, error) {
	var ends [2]int64
	props := make(Record)
	for k, v := range data {
		if k != "source" && k != "target" {
			props[k] = v
		}
	}
	for _, side := range []mapper.Side{mapper.SideSource, mapper.SideTarget} {
		item, _ := data[side.String()].(Record)
		fields, _, id, existing := splitItem(item)
		if !existing {
			endpoint, err := o.m.Record(rel.Link.Record(side))
			if err != nil {
				return nil, err
			}
			created, err := o.createRecord(endpoint, fields, nil)
			if err != nil {
				return nil, err
			}
			id = created["id"].(int64)
		}
		ends[side] = id
	}
	return o.linkRecords(rel.Link, ends[0], ends[1], props, true)
}

func linkRecord(id, source, target int64) Record {
	return Record{"id": id, "source": ref(source), "target": ref(target)}
}

func clone(rec Record) Record {
	out := make(Record, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}
