package mapper

import (
	"fmt"
	"log/slog"

	"relstore/internal/naming"
	"relstore/internal/schema"
	"relstore/internal/sqlutil"
	"relstore/internal/storeerr"
)

// Options controls how a Map is built.
type Options struct {
	Naming naming.Config
	Logger *slog.Logger
}

type builder struct {
	namer  *naming.Namer
	logger *slog.Logger
	decls  []recordDecl
	byName map[string]*recordDecl
	groups *unionFind
	m      *Map
}

// Build validates the declarations and produces the physical layout.
// Every inconsistency is returned as a configuration error.
func Build(s schema.Schema, opts Options) (*Map, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := opts.Naming
	if cfg.MaxIdentifierLength == 0 {
		cfg.MaxIdentifierLength = naming.DefaultConfig().MaxIdentifierLength
	}
	b := &builder{
		namer:  naming.New(cfg, logger),
		logger: logger,
		byName: make(map[string]*recordDecl),
		groups: newUnionFind(),
		m: &Map{
			records: make(map[string]*RecordInfo),
			tables:  make(map[string]*TableInfo),
			links:   make(map[string]*LinkInfo),
		},
	}

	if err := b.declare(s); err != nil {
		return nil, err
	}
	if err := b.classify(); err != nil {
		return nil, err
	}
	if err := b.assignTables(); err != nil {
		return nil, err
	}
	if err := b.buildAttributes(); err != nil {
		return nil, err
	}

	logger.Info("storage layout built",
		slog.Int("records", len(b.m.records)),
		slog.Int("relations", len(b.m.links)),
		slog.Int("tables", len(b.m.tables)),
	)
	return b.m, nil
}

func (b *builder) declare(s schema.Schema) error {
	b.decls = make([]recordDecl, 0, len(s.Entities)+len(s.Relations))
	for _, e := range s.Entities {
		b.decls = append(b.decls, recordDecl{name: e.Name, properties: e.Properties})
	}
	for i := range s.Relations {
		rel := s.Relations[i]
		b.decls = append(b.decls, recordDecl{name: rel.RecordName(), properties: rel.Properties, relation: &rel})
	}

	for i := range b.decls {
		d := &b.decls[i]
		if naming.IsReservedRecordName(d.name) {
			return storeerr.Configf(d.name, "record name is empty or reserved")
		}
		if _, exists := b.byName[d.name]; exists {
			return storeerr.Configf(d.name, "duplicate record name")
		}
		b.byName[d.name] = d
		seen := make(map[string]struct{}, len(d.properties))
		for _, p := range d.properties {
			if naming.IsReservedAttribute(p.Name, d.relation != nil) {
				return storeerr.Configf(d.name, "property name %q is reserved", p.Name)
			}
			if !p.Type.Valid() {
				return storeerr.Configf(d.name, "property %q has unknown type %q", p.Name, p.Type)
			}
			if _, dup := seen[p.Name]; dup {
				return storeerr.Configf(d.name, "duplicate property %q", p.Name)
			}
			seen[p.Name] = struct{}{}
		}
		b.groups.add(d.name)
	}

	for i := range b.decls {
		d := &b.decls[i]
		if d.relation == nil {
			continue
		}
		rel := d.relation
		if _, ok := b.byName[rel.Source]; !ok {
			return storeerr.Configf(d.name, "source record %q is not declared", rel.Source)
		}
		if _, ok := b.byName[rel.Target]; !ok {
			return storeerr.Configf(d.name, "target record %q is not declared", rel.Target)
		}
		if rel.SourceProperty == "" {
			return storeerr.Configf(d.name, "sourceProperty is required")
		}
		card, err := schema.ParseCardinality(rel.Cardinality)
		if err != nil {
			return storeerr.Configf(d.name, "%v", err)
		}
		if rel.IsSymmetric() && card != (schema.Cardinality{Source: schema.Many, Target: schema.Many}) {
			return storeerr.Configf(d.name, "symmetric relation must be n:n, got %s", card)
		}
		if rel.IsTargetReliance && rel.IsSymmetric() {
			return storeerr.Configf(d.name, "symmetric relation cannot declare target reliance")
		}
		b.m.links[d.name] = &LinkInfo{
			Name:             d.name,
			Source:           rel.Source,
			SourceProperty:   rel.SourceProperty,
			Target:           rel.Target,
			TargetProperty:   rel.TargetProperty,
			Cardinality:      card,
			IsTargetReliance: rel.IsTargetReliance,
			Symmetric:        rel.IsSymmetric(),
		}
	}
	return nil
}

// classify decides the merge kind of every link. Combined links are decided
// first so that distinct 1:1 records end up sharing a row wherever possible.
func (b *builder) classify() error {
	for _, d := range b.decls {
		l := b.m.links[d.name]
		if l == nil || l.Cardinality != (schema.Cardinality{Source: schema.One, Target: schema.One}) {
			continue
		}
		if l.Source != l.Target && b.groups.find(l.Source) != b.groups.find(l.Target) {
			l.MergeKind = MergeCombined
			b.groups.union(l.Source, l.Target)
			b.groups.union(l.Source, l.Name)
		}
	}

	for _, d := range b.decls {
		l := b.m.links[d.name]
		if l == nil || l.MergeKind != "" {
			continue
		}
		switch {
		case l.Cardinality.Source == schema.Many && l.Cardinality.Target == schema.Many:
			l.MergeKind = MergeIsolated
		case l.Cardinality.Target == schema.One:
			// n:1 and 1:1 that could not be combined.
			l.MergeKind = b.mergeInto(l, l.Source, MergeToSource)
		default:
			l.MergeKind = b.mergeInto(l, l.Target, MergeToTarget)
		}
	}

	for _, d := range b.decls {
		if l := b.m.links[d.name]; l != nil {
			b.logger.Debug("relation merge decided",
				slog.String("relation", l.Name),
				slog.String("cardinality", l.Cardinality.String()),
				slog.String("merge_kind", string(l.MergeKind)),
			)
		}
	}
	return nil
}

// mergeInto folds the link row into host's row. Each link owns its columns,
// so any number of links can share a host row.
func (b *builder) mergeInto(l *LinkInfo, host string, kind MergeKind) MergeKind {
	b.groups.union(host, l.Name)
	return kind
}

func (b *builder) assignTables() error {
	members := make(map[string][]string)
	var roots []string
	for _, d := range b.decls {
		root := b.groups.find(d.name)
		if _, ok := members[root]; !ok {
			roots = append(roots, root)
		}
		members[root] = append(members[root], d.name)
	}

	resolver := b.namer.Resolver()
	for _, root := range roots {
		records := members[root]
		var entities []string
		for _, name := range records {
			if b.byName[name].relation == nil {
				entities = append(entities, name)
			}
		}
		nameParts := entities
		if len(nameParts) == 0 {
			nameParts = records
		}
		tableName := b.namer.TableName(nameParts)
		if existing, ok := resolver.Claim("__tables", tableName, fmt.Sprint(records)); !ok {
			return storeerr.Configf(records[0], "table name %q collides with table of %s", tableName, existing)
		}
		t := &TableInfo{
			Name:       tableName,
			Records:    records,
			ownColumns: make(map[string][]string),
			indexNames: make(map[string]string),
		}
		b.m.tables[tableName] = t
		b.m.tableOrder = append(b.m.tableOrder, tableName)
		for _, name := range records {
			b.m.records[name] = &RecordInfo{
				Name:       name,
				IsRelation: b.byName[name].relation != nil,
				Link:       b.m.links[name],
				Table:      tableName,
				IDColumn:   b.namer.IDColumn(name),
				attributes: make(map[string]*AttributeInfo),
			}
			if l := b.m.links[name]; l != nil {
				l.Table = tableName
			}
		}
	}
	for _, d := range b.decls {
		b.m.recordOrder = append(b.m.recordOrder, d.name)
	}

	for _, name := range b.m.tableOrder {
		t := b.m.tables[name]
		for _, recordName := range t.Records {
			if err := b.addColumns(t, b.byName[recordName]); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *builder) addColumns(t *TableInfo, d *recordDecl) error {
	rec := b.m.records[d.name]
	resolver := b.namer.Resolver()
	add := func(col sqlutil.ColumnDef, source string) error {
		if existing, ok := resolver.Claim(t.Name, col.Name, source); !ok {
			return storeerr.Configf(d.name, "column %q of table %q is claimed by both %s and %s", col.Name, t.Name, existing, source)
		}
		t.Columns = append(t.Columns, col)
		t.ownColumns[d.name] = append(t.ownColumns[d.name], col.Name)
		if col.Indexed {
			t.indexNames[col.Name] = b.namer.IndexName(t.Name, col.Name)
		}
		return nil
	}

	if err := add(sqlutil.ColumnDef{Name: rec.IDColumn, Kind: sqlutil.KindID, Indexed: true}, d.name+".id"); err != nil {
		return err
	}
	for _, p := range d.properties {
		kind := sqlutil.KindString
		switch {
		case p.Collection || p.Type == schema.TypeJSON:
			kind = sqlutil.KindJSON
		case p.Type == schema.TypeNumber:
			kind = sqlutil.KindNumber
		case p.Type == schema.TypeBoolean:
			kind = sqlutil.KindBoolean
		}
		if err := add(sqlutil.ColumnDef{Name: b.namer.ValueColumn(d.name, p.Name), Kind: kind}, d.name+"."+p.Name); err != nil {
			return err
		}
	}
	if l := b.m.links[d.name]; l != nil {
		for _, side := range []Side{SideSource, SideTarget} {
			if l.Implicit(side) {
				continue
			}
			col := b.namer.LinkColumn(d.name, side.String())
			l.columns[side] = col
			if err := add(sqlutil.ColumnDef{Name: col, Kind: sqlutil.KindID, Indexed: true}, d.name+"."+side.String()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *builder) buildAttributes() error {
	for _, d := range b.decls {
		rec := b.m.records[d.name]
		for _, p := range d.properties {
			rec.add(&AttributeInfo{
				Name:       p.Name,
				Record:     d.name,
				Kind:       AttributeValue,
				Type:       p.Type,
				Collection: p.Collection,
				Column:     b.namer.ValueColumn(d.name, p.Name),
			})
		}
	}

	for _, d := range b.decls {
		l := b.m.links[d.name]
		if l == nil {
			continue
		}
		rel := b.m.records[d.name]
		for _, side := range []Side{SideSource, SideTarget} {
			rel.add(&AttributeInfo{
				Name:     side.String(),
				Record:   d.name,
				Kind:     AttributeReference,
				Target:   l.Record(side),
				Link:     l,
				Side:     side,
				Endpoint: true,
				Class:    ManyToOne,
			})
		}

		sides := []Side{SideSource, SideTarget}
		if l.Symmetric {
			sides = []Side{SideSource}
		}
		for _, side := range sides {
			prop := l.Property(side)
			if prop == "" {
				continue
			}
			owner := b.m.records[l.Record(side)]
			if naming.IsReservedAttribute(prop, owner.IsRelation) {
				return storeerr.Configf(d.name, "relation property %q on %s is reserved", prop, owner.Name)
			}
			if _, exists := owner.attributes[prop]; exists {
				return storeerr.Configf(d.name, "attribute %q already exists on %s", prop, owner.Name)
			}
			own, far := l.Cardinality.Source, l.Cardinality.Target
			if side == SideTarget {
				own, far = far, own
			}
			owner.add(&AttributeInfo{
				Name:      prop,
				Record:    owner.Name,
				Kind:      AttributeReference,
				Target:    l.Record(side.Other()),
				Link:      l,
				Side:      side,
				Symmetric: l.Symmetric,
				Class:     classFor(own, far),
				ToMany:    far == schema.Many,
				Reliance:  l.IsTargetReliance && side == SideSource,
				Reverse:   l.Property(side.Other()),
			})
		}
	}
	return nil
}

func (r *RecordInfo) add(a *AttributeInfo) {
	r.attributes[a.Name] = a
	r.order = append(r.order, a.Name)
}

// unionFind groups record names that share a table.
type unionFind struct {
	parent map[string]string
}

func newUnionFind() *unionFind {
	return &unionFind{parent: make(map[string]string)}
}

func (u *unionFind) add(name string) {
	if _, ok := u.parent[name]; !ok {
		u.parent[name] = name
	}
}

func (u *unionFind) find(name string) string {
	root := name
	for u.parent[root] != root {
		root = u.parent[root]
	}
	for u.parent[name] != root {
		next := u.parent[name]
		u.parent[name] = root
		name = next
	}
	return root
}

func (u *unionFind) union(a, b string) {
	ra, rb := u.find(a), u.find(b)
	if ra != rb {
		u.parent[rb] = ra
	}
}
