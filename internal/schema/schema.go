// Package schema holds the entity and relation declarations consumed by the mapper.
// Declarations are plain values assembled before setup and never mutated afterwards.
package schema

import (
	"fmt"
	"strings"
)

// PropertyType is the scalar type of a value property.
type PropertyType string

const (
	TypeString  PropertyType = "string"
	TypeNumber  PropertyType = "number"
	TypeBoolean PropertyType = "boolean"
	TypeJSON    PropertyType = "json"
)

// Valid reports whether t is a known property type.
func (t PropertyType) Valid() bool {
	switch t {
	case TypeString, TypeNumber, TypeBoolean, TypeJSON:
		return true
	}
	return false
}

// Property is a value attribute of an entity or relation.
type Property struct {
	Name       string       `yaml:"name"`
	Type       PropertyType `yaml:"type"`
	Collection bool         `yaml:"collection,omitempty"`
}

// String declares a string property.
func String(name string) Property { return Property{Name: name, Type: TypeString} }

// Number declares a number property.
func Number(name string) Property { return Property{Name: name, Type: TypeNumber} }

// Boolean declares a boolean property.
func Boolean(name string) Property { return Property{Name: name, Type: TypeBoolean} }

// JSON declares a json property.
func JSON(name string) Property { return Property{Name: name, Type: TypeJSON} }

// Entity declares a record type with value properties.
type Entity struct {
	Name       string     `yaml:"name"`
	Properties []Property `yaml:"properties"`
}

// Relation declares a link between two record types. A relation is itself a
// record type whose instances carry Properties and the reserved source/target references.
type Relation struct {
	Name             string     `yaml:"name,omitempty"`
	Source           string     `yaml:"source"`
	SourceProperty   string     `yaml:"sourceProperty"`
	Target           string     `yaml:"target"`
	TargetProperty   string     `yaml:"targetProperty,omitempty"`
	Cardinality      string     `yaml:"cardinality"`
	Properties       []Property `yaml:"properties,omitempty"`
	IsTargetReliance bool       `yaml:"isTargetReliance,omitempty"`
}

// RecordName returns the declared name or the default
// {Source}_{sourceProperty}_{targetProperty}_{Target}.
func (r Relation) RecordName() string {
	if r.Name != "" {
		return r.Name
	}
	return fmt.Sprintf("%s_%s_%s_%s", r.Source, r.SourceProperty, r.TargetProperty, r.Target)
}

// IsSymmetric reports whether both ends name the same record and property.
func (r Relation) IsSymmetric() bool {
	return r.Source == r.Target && r.SourceProperty == r.TargetProperty
}

// Schema is the full set of declarations handed to the mapper.
type Schema struct {
	Entities  []Entity   `yaml:"entities"`
	Relations []Relation `yaml:"relations"`
}

// Multiplicity is one side of a cardinality pair.
type Multiplicity string

const (
	One  Multiplicity = "1"
	Many Multiplicity = "n"
)

// Cardinality is a parsed "x:y" declaration. Source is the number of source
// records a target may have; Target is the number of targets a source may have.
type Cardinality struct {
	Source Multiplicity
	Target Multiplicity
}

func (c Cardinality) String() string {
	return string(c.Source) + ":" + string(c.Target)
}

// ParseCardinality parses "1:1", "1:n", "n:1" or "n:n".
func ParseCardinality(raw string) (Cardinality, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) != 2 {
		return Cardinality{}, fmt.Errorf("invalid cardinality %q", raw)
	}
	parse := func(s string) (Multiplicity, error) {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "1":
			return One, nil
		case "n":
			return Many, nil
		}
		return "", fmt.Errorf("invalid cardinality %q", raw)
	}
	source, err := parse(parts[0])
	if err != nil {
		return Cardinality{}, err
	}
	target, err := parse(parts[1])
	if err != nil {
		return Cardinality{}, err
	}
	return Cardinality{Source: source, Target: target}, nil
}
