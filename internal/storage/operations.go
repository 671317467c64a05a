package storage

import (
	"context"

	"relstore/internal/dbexec"
	"relstore/internal/event"
	"relstore/internal/mapper"
	"relstore/internal/planner"
	"relstore/internal/storeerr"
)

// Find returns the records of record matching match. attrs selects the value
// and nested attributes to return; "id" is always included.
func (s *Storage) Find(ctx context.Context, record string, match *planner.BoolExp, modifier *planner.Modifier, attrs planner.AttributeQuery) ([]Record, error) {
	var out []Record
	err := s.run(ctx, operation{name: "find", record: record}, func(ctx context.Context, db dbexec.Database) (int, []event.MutationEvent, error) {
		records, err := s.finder.Find(ctx, db, planner.Query{Record: record, Match: match, Modifier: modifier, Attributes: attrs})
		out = records
		return len(records), nil, err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FindOne returns the first matching record, or nil.
func (s *Storage) FindOne(ctx context.Context, record string, match *planner.BoolExp, modifier *planner.Modifier, attrs planner.AttributeQuery) (Record, error) {
	var out Record
	err := s.run(ctx, operation{name: "findOne", record: record}, func(ctx context.Context, db dbexec.Database) (int, []event.MutationEvent, error) {
		rec, err := s.finder.FindOne(ctx, db, planner.Query{Record: record, Match: match, Modifier: modifier, Attributes: attrs})
		out = rec
		if rec == nil {
			return 0, nil, err
		}
		return 1, nil, err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Create inserts a record with its nested records and links. Events are
// delivered to sink (which may be nil) after commit.
func (s *Storage) Create(ctx context.Context, record string, data Record, sink event.Sink) (Record, error) {
	var out Record
	err := s.run(ctx, operation{name: "create", record: record, write: true, sink: sink}, func(ctx context.Context, db dbexec.Database) (int, []event.MutationEvent, error) {
		rec, events, err := s.engine.Create(ctx, db, record, data)
		out = rec
		return 1, events, err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Update applies data to every record matching match and returns the updated
// records. Matching nothing is not an error.
func (s *Storage) Update(ctx context.Context, record string, match *planner.BoolExp, data Record, sink event.Sink) ([]Record, error) {
	var out []Record
	err := s.run(ctx, operation{name: "update", record: record, write: true, sink: sink}, func(ctx context.Context, db dbexec.Database) (int, []event.MutationEvent, error) {
		records, events, err := s.engine.Update(ctx, db, record, match, data)
		out = records
		return len(records), events, err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes every record matching match together with its links and
// reliant records, and returns the matched records.
func (s *Storage) Delete(ctx context.Context, record string, match *planner.BoolExp, sink event.Sink) ([]Record, error) {
	var out []Record
	err := s.run(ctx, operation{name: "delete", record: record, write: true, sink: sink}, func(ctx context.Context, db dbexec.Database) (int, []event.MutationEvent, error) {
		records, events, err := s.engine.Delete(ctx, db, record, match)
		out = records
		return len(records), events, err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AddRelationByNameByID links source to target through the named relation.
// An existing link between the pair fails with storeerr.ErrLinkExists.
func (s *Storage) AddRelationByNameByID(ctx context.Context, relation string, sourceID, targetID int64, props Record, sink event.Sink) (Record, error) {
	var out Record
	err := s.run(ctx, operation{name: "addLink", record: relation, write: true, sink: sink}, func(ctx context.Context, db dbexec.Database) (int, []event.MutationEvent, error) {
		link, events, err := s.engine.AddLink(ctx, db, relation, sourceID, targetID, props)
		out = link
		return 1, events, err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AddRelationByID links recordID to otherID through the relation behind
// record.attribute. recordID takes the side attribute is declared on.
func (s *Storage) AddRelationByID(ctx context.Context, record, attribute string, recordID, otherID int64, props Record, sink event.Sink) (Record, error) {
	attr, err := s.referenceAttribute(record, attribute)
	if err != nil {
		return nil, err
	}
	sourceID, targetID := recordID, otherID
	if attr.Side == mapper.SideTarget {
		sourceID, targetID = otherID, recordID
	}
	return s.AddRelationByNameByID(ctx, attr.Link.Name, sourceID, targetID, props, sink)
}

// UpdateRelationByName updates the properties of the matching links.
// Endpoints cannot be changed this way.
func (s *Storage) UpdateRelationByName(ctx context.Context, relation string, match *planner.BoolExp, data Record, sink event.Sink) ([]Record, error) {
	if err := s.requireRelation(relation); err != nil {
		return nil, err
	}
	return s.Update(ctx, relation, match, data, sink)
}

// RemoveRelationByName deletes the matching links.
func (s *Storage) RemoveRelationByName(ctx context.Context, relation string, match *planner.BoolExp, sink event.Sink) ([]Record, error) {
	if err := s.requireRelation(relation); err != nil {
		return nil, err
	}
	return s.Delete(ctx, relation, match, sink)
}

// GetRelationName returns the relation behind record.attribute.
func (s *Storage) GetRelationName(record, attribute string) (string, error) {
	return s.m.RelationName(record, attribute)
}

func (s *Storage) referenceAttribute(record, attribute string) (*mapper.AttributeInfo, error) {
	rec, err := s.m.Record(record)
	if err != nil {
		return nil, err
	}
	attr, err := rec.MustAttribute(attribute)
	if err != nil {
		return nil, err
	}
	if !attr.IsReference() || attr.Endpoint {
		return nil, storeerr.Programmerf(record, "%q is not a relation attribute", attribute)
	}
	return attr, nil
}

func (s *Storage) requireRelation(name string) error {
	rec, err := s.m.Record(name)
	if err != nil {
		return err
	}
	if !rec.IsRelation {
		return storeerr.Programmerf(name, "not a relation")
	}
	return nil
}
