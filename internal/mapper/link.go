package mapper

import "relstore/internal/schema"

// LinkInfo is the resolved form of a relation declaration.
type LinkInfo struct {
	Name             string
	Source           string
	SourceProperty   string
	Target           string
	TargetProperty   string
	Cardinality      schema.Cardinality
	MergeKind        MergeKind
	IsTargetReliance bool
	Symmetric        bool
	Table            string

	columns [2]string
}

// Record returns the record name at side.
func (l *LinkInfo) Record(side Side) string {
	if side == SideSource {
		return l.Source
	}
	return l.Target
}

// Property returns the attribute name declared on the record at side.
func (l *LinkInfo) Property(side Side) string {
	if side == SideSource {
		return l.SourceProperty
	}
	return l.TargetProperty
}

// Implicit reports whether the endpoint at side lives in the link's own row.
func (l *LinkInfo) Implicit(side Side) bool {
	switch l.MergeKind {
	case MergeCombined:
		return true
	case MergeToSource:
		return side == SideSource
	case MergeToTarget:
		return side == SideTarget
	default:
		return false
	}
}

// Column returns the foreign key column holding the endpoint at side, or ""
// when the endpoint is implicit.
func (l *LinkInfo) Column(side Side) string {
	return l.columns[side]
}

// IsToOne reports whether a record at side can hold at most one link instance.
func (l *LinkInfo) IsToOne(side Side) bool {
	if side == SideSource {
		return l.Cardinality.Target == schema.One
	}
	return l.Cardinality.Source == schema.One
}

// HopKind describes how a row reaches the next record along a path.
type HopKind int

const (
	// HopSameRow: the next record lives in the current row.
	HopSameRow HopKind = iota
	// HopNearColumn: the current row holds the next record's id in Column.
	HopNearColumn
	// HopFarColumn: the next record's row holds the current id in Column.
	HopFarColumn
)

// Hop is one physical step of an attribute path.
type Hop struct {
	Kind   HopKind
	Column string
	Table  string
}

// HopToLink is the step from the record at side to the link record.
func (l *LinkInfo) HopToLink(from Side) Hop {
	if l.Implicit(from) {
		return Hop{Kind: HopSameRow, Table: l.Table}
	}
	return Hop{Kind: HopFarColumn, Column: l.columns[from], Table: l.Table}
}

// HopToEndpoint is the step from the link record to the record at side.
func (l *LinkInfo) HopToEndpoint(to Side, endpointTable string) Hop {
	if l.Implicit(to) {
		return Hop{Kind: HopSameRow, Table: l.Table}
	}
	return Hop{Kind: HopNearColumn, Column: l.columns[to], Table: endpointTable}
}
