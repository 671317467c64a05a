package mutation

import (
	"encoding/json"
	"fmt"

	"relstore/internal/dbexec"
	"relstore/internal/mapper"
	"relstore/internal/storeerr"
)

// linkKey holds link properties inside a nested item.
const linkKey = "&"

func (e *Engine) validateCreate(rec *mapper.RecordInfo, data Record) error {
	for key, v := range data {
		if key == "id" {
			return storeerr.Programmerf(rec.Name, "id is assigned by the store")
		}
		attr, err := rec.MustAttribute(key)
		if err != nil {
			return err
		}
		if attr.IsValue() {
			continue
		}
		if attr.Endpoint {
			if v == nil {
				return storeerr.Programmerf(rec.Name, "%s is required", key)
			}
			item, ok := v.(Record)
			if !ok {
				return storeerr.Programmerf(rec.Name, "%s must be a record, got %T", key, v)
			}
			if err := e.validateItem(attr, item, false); err != nil {
				return err
			}
			continue
		}
		if err := e.validateReference(attr, v); err != nil {
			return err
		}
	}
	if rec.IsRelation {
		for _, side := range []string{"source", "target"} {
			if data[side] == nil {
				return storeerr.Programmerf(rec.Name, "%s is required", side)
			}
		}
	}
	return nil
}

func (e *Engine) validateUpdate(rec *mapper.RecordInfo, data Record) error {
	for key, v := range data {
		if key == "id" {
			return storeerr.Programmerf(rec.Name, "id cannot be updated")
		}
		attr, err := rec.MustAttribute(key)
		if err != nil {
			return err
		}
		if attr.IsValue() {
			continue
		}
		if attr.Endpoint {
			return storeerr.Programmerf(rec.Name, "%s of a relation cannot be updated", key)
		}
		if err := e.validateReference(attr, v); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) validateValues(rec *mapper.RecordInfo, data Record) error {
	for key := range data {
		attr, err := rec.MustAttribute(key)
		if err != nil {
			return err
		}
		if !attr.IsValue() {
			return storeerr.Programmerf(rec.Name, "%q is not a value attribute", key)
		}
	}
	return nil
}

func (e *Engine) validateReference(attr *mapper.AttributeInfo, v any) error {
	items, err := toItems(attr, v)
	if err != nil {
		return err
	}
	for _, item := range items {
		if err := e.validateItem(attr, item, true); err != nil {
			return err
		}
	}
	return nil
}

// validateItem checks one nested item. allowProps permits link properties
// under "&".
func (e *Engine) validateItem(attr *mapper.AttributeInfo, item Record, allowProps bool) error {
	target, err := e.m.Record(attr.Target)
	if err != nil {
		return err
	}
	data, props, _, hasID := splitItem(item)
	if raw, ok := item["id"]; ok && !hasID {
		return storeerr.Programmerf(attr.Record, "item of %s has a non-integer id %v", attr.Name, raw)
	}
	if raw, ok := item[linkKey]; ok && props == nil && raw != nil {
		return storeerr.Programmerf(attr.Record, "%q of %s must be a record", linkKey, attr.Name)
	}
	if props != nil {
		if !allowProps {
			return storeerr.Programmerf(attr.Record, "%q is not allowed on %s", linkKey, attr.Name)
		}
		rel, err := e.m.Record(attr.Link.Name)
		if err != nil {
			return err
		}
		if err := e.validateValues(rel, props); err != nil {
			return err
		}
	}
	if hasID {
		if len(data) > 0 {
			return storeerr.Programmerf(attr.Record, "item of %s references an existing record and cannot carry attributes", attr.Name)
		}
		return nil
	}
	return e.validateCreate(target, data)
}

// toItems normalizes the value of a reference attribute to a list of items.
func toItems(attr *mapper.AttributeInfo, v any) ([]Record, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case Record:
		if attr.ToMany {
			return nil, storeerr.Programmerf(attr.Record, "%s is to-many and takes a list", attr.Name)
		}
		return []Record{val}, nil
	case []Record:
		if !attr.ToMany {
			return nil, storeerr.Programmerf(attr.Record, "%s is to-one and takes a single record", attr.Name)
		}
		return val, nil
	case []any:
		if !attr.ToMany {
			return nil, storeerr.Programmerf(attr.Record, "%s is to-one and takes a single record", attr.Name)
		}
		items := make([]Record, 0, len(val))
		for _, raw := range val {
			item, ok := raw.(Record)
			if !ok {
				return nil, storeerr.Programmerf(attr.Record, "%s items must be records, got %T", attr.Name, raw)
			}
			items = append(items, item)
		}
		return items, nil
	default:
		return nil, storeerr.Programmerf(attr.Record, "%s takes records, got %T", attr.Name, v)
	}
}

// splitItem separates a nested item into record data, link properties and
// the id of an existing record.
func splitItem(item Record) (data, props Record, id int64, hasID bool) {
	data = make(Record, len(item))
	for k, v := range item {
		switch k {
		case linkKey:
			props, _ = v.(Record)
		case "id":
			id, hasID = dbexec.AsInt64(v)
		default:
			data[k] = v
		}
	}
	return data, props, id, hasID
}

// encodeValue converts an attribute value to its column value. JSON and
// collection attributes are stored as encoded text.
func encodeValue(attr *mapper.AttributeInfo, v any) (any, error) {
	if v == nil || !attr.IsJSON() {
		return v, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", attr.Record, attr.Name, err)
	}
	return string(b), nil
}

// setValues writes the value attributes of rec present in data into columns
// and copies them to out.
func setValues(rec *mapper.RecordInfo, data Record, columns map[string]any, out Record) error {
	for _, attr := range rec.ValueAttributes() {
		v, ok := data[attr.Name]
		if !ok {
			continue
		}
		encoded, err := encodeValue(attr, v)
		if err != nil {
			return err
		}
		columns[attr.Column] = encoded
		out[attr.Name] = v
	}
	return nil
}

func ref(id int64) Record {
	return Record{"id": id}
}
