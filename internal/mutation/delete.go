package mutation

import (
	"fmt"

	"relstore/internal/dbexec"
	"relstore/internal/event"
	"relstore/internal/mapper"
	"relstore/internal/planner"
)

// recordAttributes selects what events carry for rec: its values and, for
// relations, both endpoint ids.
func recordAttributes(rec *mapper.RecordInfo) planner.AttributeQuery {
	var attrs planner.AttributeQuery
	if rec.IsRelation {
		attrs = append(attrs,
			planner.Nested("source", planner.SubQuery{}),
			planner.Nested("target", planner.SubQuery{}),
		)
	}
	for _, attr := range rec.ValueAttributes() {
		attrs = append(attrs, planner.Attr(attr.Name))
	}
	return attrs
}

func (o *op) delete(rec *mapper.RecordInfo, match *planner.BoolExp) ([]Record, error) {
	found, err := o.find(planner.Query{Record: rec.Name, Match: match, Attributes: recordAttributes(rec)})
	if err != nil {
		return nil, err
	}
	for _, r := range found {
		if err := o.deleteRecord(rec, r); err != nil {
			return nil, err
		}
	}
	return found, nil
}

// deleteRecord removes r with all of its links. Records the deleted record
// is the source of a reliance link for are deleted after their link.
func (o *op) deleteRecord(rec *mapper.RecordInfo, r Record) error {
	if rec.IsRelation {
		return o.removeLink(rec.Link, r)
	}
	id, _ := dbexec.AsInt64(r["id"])
	key := visitKey(rec.Name, id)
	if o.deleting[key] {
		return nil
	}
	o.deleting[key] = true

	for _, end := range o.linkEnds(rec) {
		links, err := o.linksOf(end.Link, end.Side, id)
		if err != nil {
			return err
		}
		for _, l := range links {
			if err := o.removeLink(end.Link, l); err != nil {
				return err
			}
			if end.Link.IsTargetReliance && end.Side == mapper.SideSource {
				if err := o.deleteDependent(end.Link.Target, endpointID(l, mapper.SideTarget)); err != nil {
					return err
				}
			}
		}
	}

	if err := o.removeFromRow(rec, id); err != nil {
		return err
	}
	o.emit(event.Delete, rec.Name, r, nil)
	return nil
}

// linkEnds lists the link ends rec holds, attribute ends first in
// declaration order, then ends of relations that name no attribute on rec.
func (o *op) linkEnds(rec *mapper.RecordInfo) []mapper.LinkEnd {
	var out []mapper.LinkEnd
	seen := make(map[string]bool)
	add := func(end mapper.LinkEnd) {
		key := fmt.Sprintf("%s:%d", end.Link.Name, end.Side)
		if !seen[key] {
			seen[key] = true
			out = append(out, end)
		}
	}
	for _, attr := range rec.ReferenceAttributes() {
		for _, side := range attr.Sides() {
			add(mapper.LinkEnd{Link: attr.Link, Side: side})
		}
	}
	for _, end := range o.m.LinkEnds(rec.Name) {
		add(end)
	}
	return out
}

func (o *op) deleteDependent(record string, id int64) error {
	target, err := o.m.Record(record)
	if err != nil {
		return err
	}
	found, err := o.find(planner.Query{
		Record:     target.Name,
		Match:      planner.Match("id", "=", id),
		Attributes: recordAttributes(target),
	})
	if err != nil {
		return err
	}
	for _, r := range found {
		if err := o.deleteRecord(target, r); err != nil {
			return err
		}
	}
	return nil
}

func visitKey(record string, id int64) string {
	return fmt.Sprintf("%s:%d", record, id)
}
