// Package mapper assigns entities and relations to physical tables. It decides a
// merge kind per relation, names every column, and exposes the resolved
// record/attribute/link indices the planner and mutation engine work from.
// A Map is immutable once built.
package mapper

import (
	"sort"

	"relstore/internal/schema"
	"relstore/internal/sqlutil"
	"relstore/internal/storeerr"
)

// MergeKind is the physical co-location strategy of a relation.
type MergeKind string

const (
	MergeCombined MergeKind = "combined"
	MergeToSource MergeKind = "merged-to-source"
	MergeToTarget MergeKind = "merged-to-target"
	MergeIsolated MergeKind = "isolated"
)

// Side selects one endpoint of a relation.
type Side int

const (
	SideSource Side = iota
	SideTarget
)

// Other returns the opposite endpoint.
func (s Side) Other() Side {
	if s == SideSource {
		return SideTarget
	}
	return SideSource
}

func (s Side) String() string {
	if s == SideSource {
		return "source"
	}
	return "target"
}

// Tag is the alias suffix used when a symmetric relation is expanded per direction.
func (s Side) Tag() string {
	if s == SideSource {
		return "SOURCE"
	}
	return "TARGET"
}

// Map is the resolved physical layout of a schema.
type Map struct {
	records     map[string]*RecordInfo
	recordOrder []string
	tables      map[string]*TableInfo
	tableOrder  []string
	links       map[string]*LinkInfo
}

// RecordInfo describes an entity or relation record type.
type RecordInfo struct {
	Name       string
	IsRelation bool
	Link       *LinkInfo
	Table      string
	IDColumn   string

	attributes map[string]*AttributeInfo
	order      []string
}

// Attribute looks up an attribute by name. "id" is not an attribute.
func (r *RecordInfo) Attribute(name string) (*AttributeInfo, bool) {
	a, ok := r.attributes[name]
	return a, ok
}

// MustAttribute looks up an attribute, returning a programmer error when it is unknown.
func (r *RecordInfo) MustAttribute(name string) (*AttributeInfo, error) {
	a, ok := r.attributes[name]
	if !ok {
		return nil, storeerr.Programmerf(r.Name, "unknown attribute %q", name)
	}
	return a, nil
}

// Attributes returns all attributes in declaration order.
func (r *RecordInfo) Attributes() []*AttributeInfo {
	out := make([]*AttributeInfo, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.attributes[name])
	}
	return out
}

// ValueAttributes returns the value attributes in declaration order.
func (r *RecordInfo) ValueAttributes() []*AttributeInfo {
	var out []*AttributeInfo
	for _, name := range r.order {
		if a := r.attributes[name]; a.IsValue() {
			out = append(out, a)
		}
	}
	return out
}

// ReferenceAttributes returns the reference attributes in declaration order.
// For relations this includes the source and target endpoints.
func (r *RecordInfo) ReferenceAttributes() []*AttributeInfo {
	var out []*AttributeInfo
	for _, name := range r.order {
		if a := r.attributes[name]; a.IsReference() {
			out = append(out, a)
		}
	}
	return out
}

// TableInfo describes a physical table and the records sharing it.
type TableInfo struct {
	Name    string
	Records []string
	Columns []sqlutil.ColumnDef

	ownColumns map[string][]string
	indexNames map[string]string
}

// OwnColumns returns the columns belonging to record: its id, value and
// foreign key columns.
func (t *TableInfo) OwnColumns(record string) []string {
	return t.ownColumns[record]
}

// ColumnNames returns every column except the row id.
func (t *TableInfo) ColumnNames() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// Record returns a record by name.
func (m *Map) Record(name string) (*RecordInfo, error) {
	r, ok := m.records[name]
	if !ok {
		return nil, storeerr.Programmerf(name, "unknown record")
	}
	return r, nil
}

// Records returns all records in declaration order, entities first.
func (m *Map) Records() []*RecordInfo {
	out := make([]*RecordInfo, len(m.recordOrder))
	for i, name := range m.recordOrder {
		out[i] = m.records[name]
	}
	return out
}

// Table returns a table by name.
func (m *Map) Table(name string) *TableInfo {
	return m.tables[name]
}

// TableOf returns the table hosting record.
func (m *Map) TableOf(record *RecordInfo) *TableInfo {
	return m.tables[record.Table]
}

// Tables returns all tables in creation order.
func (m *Map) Tables() []*TableInfo {
	out := make([]*TableInfo, len(m.tableOrder))
	for i, name := range m.tableOrder {
		out[i] = m.tables[name]
	}
	return out
}

// Link returns the link of a relation record.
func (m *Map) Link(relation string) (*LinkInfo, bool) {
	l, ok := m.links[relation]
	return l, ok
}

// LinkEnd is one side of a link held by a record.
type LinkEnd struct {
	Link *LinkInfo
	Side Side
}

// LinkEnds returns every link end held by record, including ends that
// declare no attribute on it. A self link yields both of its sides.
func (m *Map) LinkEnds(record string) []LinkEnd {
	var out []LinkEnd
	for _, l := range m.Links() {
		for _, side := range []Side{SideSource, SideTarget} {
			if l.Record(side) == record {
				out = append(out, LinkEnd{Link: l, Side: side})
			}
		}
	}
	return out
}

// Links returns all links sorted by relation name.
func (m *Map) Links() []*LinkInfo {
	out := make([]*LinkInfo, 0, len(m.links))
	for _, l := range m.links {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RelationName returns the relation record backing record.attribute.
func (m *Map) RelationName(record, attribute string) (string, error) {
	r, err := m.Record(record)
	if err != nil {
		return "", err
	}
	a, err := r.MustAttribute(attribute)
	if err != nil {
		return "", err
	}
	if !a.IsReference() || a.Endpoint {
		return "", storeerr.Programmerf(record, "attribute %q is not a relation attribute", attribute)
	}
	return a.Link.Name, nil
}

// ResolvePath walks a dotted attribute path from record. Every segment but the
// last must be a reference attribute.
func (m *Map) ResolvePath(record string, path []string) ([]*AttributeInfo, error) {
	current, err := m.Record(record)
	if err != nil {
		return nil, err
	}
	out := make([]*AttributeInfo, 0, len(path))
	for i, segment := range path {
		a, err := current.MustAttribute(segment)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
		if i == len(path)-1 {
			break
		}
		if !a.IsReference() {
			return nil, storeerr.Programmerf(current.Name, "attribute %q is a value and cannot be traversed", segment)
		}
		current = m.records[a.Target]
	}
	return out, nil
}

// DDL returns the CREATE statements for every table plus the id sequence table.
func (m *Map) DDL(d sqlutil.Dialect) []string {
	stmts := []string{d.CreateSequenceTable()}
	for _, t := range m.Tables() {
		stmts = append(stmts, d.CreateTable(t.Name, t.Columns, func(column string) string {
			return t.indexNames[column]
		})...)
	}
	return stmts
}

// recordDecl is one entity or relation declaration as seen by the builder.
type recordDecl struct {
	name       string
	properties []schema.Property
	relation   *schema.Relation
}
