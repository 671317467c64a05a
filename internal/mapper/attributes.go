package mapper

import "relstore/internal/schema"

// AttributeKind separates value attributes from record references.
type AttributeKind int

const (
	AttributeValue AttributeKind = iota
	AttributeReference
)

// CardinalityClass is the cardinality seen from the attribute owner.
type CardinalityClass string

const (
	ManyToOne  CardinalityClass = "manyToOne"
	OneToMany  CardinalityClass = "oneToMany"
	OneToOne   CardinalityClass = "oneToOne"
	ManyToMany CardinalityClass = "manyToMany"
)

// AttributeInfo is a resolved attribute: either Value(type) or
// Reference(cardinality, merge kind, target).
type AttributeInfo struct {
	Name   string
	Record string
	Kind   AttributeKind

	// Value attributes.
	Type       schema.PropertyType
	Collection bool
	Column     string

	// Reference attributes.
	Target    string
	Link      *LinkInfo
	Side      Side
	Endpoint  bool
	Symmetric bool
	Class     CardinalityClass
	ToMany    bool
	Reliance  bool
	Reverse   string
}

func (a *AttributeInfo) IsValue() bool { return a.Kind == AttributeValue }

func (a *AttributeInfo) IsReference() bool { return a.Kind == AttributeReference }

// IsJSON reports whether values are stored as encoded JSON.
func (a *AttributeInfo) IsJSON() bool {
	return a.Type == schema.TypeJSON || a.Collection
}

// MergeKind is the merge kind of the backing link.
func (a *AttributeInfo) MergeKind() MergeKind {
	if a.Link == nil {
		return ""
	}
	return a.Link.MergeKind
}

// Sides lists the directions the attribute can be traversed in: one for
// ordinary attributes, both for symmetric relations.
func (a *AttributeInfo) Sides() []Side {
	if a.Symmetric {
		return []Side{SideSource, SideTarget}
	}
	return []Side{a.Side}
}

func classFor(own, far schema.Multiplicity) CardinalityClass {
	switch {
	case own == schema.One && far == schema.One:
		return OneToOne
	case own == schema.Many && far == schema.One:
		return ManyToOne
	case own == schema.One && far == schema.Many:
		return OneToMany
	default:
		return ManyToMany
	}
}
