package mutation

import (
	"relstore/internal/dbexec"
	"relstore/internal/event"
	"relstore/internal/mapper"
	"relstore/internal/planner"
)

func (o *op) update(rec *mapper.RecordInfo, match *planner.BoolExp, data Record) ([]Record, error) {
	found, err := o.find(planner.Query{Record: rec.Name, Match: match, Attributes: recordAttributes(rec)})
	if err != nil {
		return nil, err
	}
	table := o.m.TableOf(rec)
	updated := make([]Record, 0, len(found))
	for _, old := range found {
		id, _ := dbexec.AsInt64(old["id"])
		next := clone(old)
		columns := make(map[string]any)
		if err := setValues(rec, data, columns, next); err != nil {
			return nil, err
		}
		if _, err := o.updateWhere(table, columns, rec.IDColumn, id); err != nil {
			return nil, err
		}

		for _, attr := range rec.ReferenceAttributes() {
			v, ok := data[attr.Name]
			if !ok || attr.Endpoint {
				continue
			}
			refs, err := o.replaceLinks(attr, id, v)
			if err != nil {
				return nil, err
			}
			switch {
			case attr.ToMany:
				next[attr.Name] = refs
			case len(refs) > 0:
				next[attr.Name] = refs[0]
			default:
				next[attr.Name] = nil
			}
		}

		o.emit(event.Update, rec.Name, next, old)
		updated = append(updated, next)
	}
	return updated, nil
}

// replaceLinks drops the current links of attr for id and links the given
// items instead. A nil value only unlinks.
func (o *op) replaceLinks(attr *mapper.AttributeInfo, id int64, v any) ([]Record, error) {
	link := attr.Link
	for _, side := range attr.Sides() {
		if err := o.unlinkAll(link, side, id); err != nil {
			return nil, err
		}
	}
	items, err := toItems(attr, v)
	if err != nil {
		return nil, err
	}
	target, err := o.m.Record(attr.Target)
	if err != nil {
		return nil, err
	}

	refs := make([]Record, 0, len(items))
	for _, item := range items {
		data, props, farID, existing := splitItem(item)
		if !existing {
			created, err := o.createRecord(target, data, nil)
			if err != nil {
				return nil, err
			}
			farID = created["id"].(int64)
		}
		source, targetID := id, farID
		if attr.Side == mapper.SideTarget {
			source, targetID = farID, id
		}
		if _, err := o.linkRecords(link, source, targetID, props, false); err != nil {
			return nil, err
		}
		refs = append(refs, ref(farID))
	}
	return refs, nil
}
