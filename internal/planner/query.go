package planner

// AttributeQuery selects the attributes returned for a record. Value
// attributes are listed by name; reference attributes carry a SubQuery.
type AttributeQuery []AttributeItem

// AttributeItem is one entry of an AttributeQuery.
type AttributeItem struct {
	Name string
	Sub  *SubQuery
}

// SubQuery describes a nested reference attribute.
type SubQuery struct {
	AttributeQuery  AttributeQuery
	MatchExpression *BoolExp
	Modifier        *Modifier

	// Label names this subquery so a descendant can recurse into it with Goto.
	Label string
	// Goto reuses the attribute query of the labelled subquery.
	Goto string
	// MaxDepth bounds goto recursion. Zero uses the planner default.
	MaxDepth int
	// Exit stops the recursion below a record when it returns true.
	Exit func(record map[string]any) bool
}

// Attr returns a plain attribute item.
func Attr(name string) AttributeItem {
	return AttributeItem{Name: name}
}

// Nested returns a reference attribute item with its subquery.
func Nested(name string, sub SubQuery) AttributeItem {
	return AttributeItem{Name: name, Sub: &sub}
}

// Attrs builds an attribute query of plain names.
func Attrs(names ...string) AttributeQuery {
	q := make(AttributeQuery, len(names))
	for i, name := range names {
		q[i] = Attr(name)
	}
	return q
}

// With returns a copy of q with items appended.
func (q AttributeQuery) With(items ...AttributeItem) AttributeQuery {
	out := make(AttributeQuery, 0, len(q)+len(items))
	out = append(out, q...)
	return append(out, items...)
}

// Lookup returns the item named name.
func (q AttributeQuery) Lookup(name string) (AttributeItem, bool) {
	for _, item := range q {
		if item.Name == name {
			return item, true
		}
	}
	return AttributeItem{}, false
}

// OrderTerm orders results by a dotted attribute path.
type OrderTerm struct {
	Key  string
	Desc bool
}

// Modifier carries ordering and paging.
type Modifier struct {
	OrderBy []OrderTerm
	// Limit of zero means unlimited.
	Limit  uint64
	Offset uint64
}

func (m *Modifier) empty() bool {
	return m == nil || (len(m.OrderBy) == 0 && m.Limit == 0 && m.Offset == 0)
}

// BoolOp is the node kind of a BoolExp.
type BoolOp int

const (
	OpAtom BoolOp = iota
	OpAnd
	OpOr
	OpNot
)

// MatchAtom compares the attribute at Key with Value using Operator.
// When IsReferenceValue is set, Value is a dotted path on the same query
// and the comparison is column to column.
type MatchAtom struct {
	Key              string
	Operator         string
	Value            any
	IsReferenceValue bool
}

// BoolExp is a boolean tree of match atoms.
type BoolExp struct {
	Op       BoolOp
	Atom     MatchAtom
	Children []*BoolExp
}

// Match builds an atom.
func Match(key, operator string, value any) *BoolExp {
	return &BoolExp{Op: OpAtom, Atom: MatchAtom{Key: key, Operator: operator, Value: value}}
}

// MatchRef builds an atom comparing two attribute paths.
func MatchRef(key, operator, path string) *BoolExp {
	return &BoolExp{Op: OpAtom, Atom: MatchAtom{Key: key, Operator: operator, Value: path, IsReferenceValue: true}}
}

// And combines expressions, skipping nils.
func And(exps ...*BoolExp) *BoolExp {
	return combine(OpAnd, exps)
}

// Or combines expressions, skipping nils.
func Or(exps ...*BoolExp) *BoolExp {
	return combine(OpOr, exps)
}

// Not negates e.
func Not(e *BoolExp) *BoolExp {
	if e == nil {
		return nil
	}
	return &BoolExp{Op: OpNot, Children: []*BoolExp{e}}
}

// And is shorthand for And(e, others...).
func (e *BoolExp) And(others ...*BoolExp) *BoolExp {
	return And(append([]*BoolExp{e}, others...)...)
}

// Or is shorthand for Or(e, others...).
func (e *BoolExp) Or(others ...*BoolExp) *BoolExp {
	return Or(append([]*BoolExp{e}, others...)...)
}

func combine(op BoolOp, exps []*BoolExp) *BoolExp {
	var kept []*BoolExp
	for _, e := range exps {
		if e != nil {
			kept = append(kept, e)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	}
	return &BoolExp{Op: op, Children: kept}
}

// mapAtoms rebuilds e with every atom replaced by fn.
func (e *BoolExp) mapAtoms(fn func(MatchAtom) (*BoolExp, error)) (*BoolExp, error) {
	if e == nil {
		return nil, nil
	}
	if e.Op == OpAtom {
		return fn(e.Atom)
	}
	out := &BoolExp{Op: e.Op, Children: make([]*BoolExp, len(e.Children))}
	for i, child := range e.Children {
		mapped, err := child.mapAtoms(fn)
		if err != nil {
			return nil, err
		}
		out.Children[i] = mapped
	}
	return out, nil
}

// Query is a complete find request against one record type.
type Query struct {
	Record     string
	Match      *BoolExp
	Modifier   *Modifier
	Attributes AttributeQuery
}
