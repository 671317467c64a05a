package planner

import (
	"encoding/json"
	"reflect"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"relstore/internal/dbexec"
	"relstore/internal/mapper"
	"relstore/internal/storeerr"
)

// colRef is a resolved attribute path: a value column, or the id of node
// when attr is nil.
type colRef struct {
	node *tnode
	attr *mapper.AttributeInfo
}

// existsRef is a path crossing a to-many attribute; the rest of the atom is
// evaluated inside a correlated subquery.
type existsRef struct {
	node  *tnode
	attr  *mapper.AttributeInfo
	inner *BoolExp
}

type cond struct {
	op       BoolOp
	children []*cond

	atom   MatchAtom
	ref    colRef
	other  *colRef
	exists *existsRef
}

type orderRef struct {
	ref  colRef
	desc bool
}

// resolvePath walks segments from n. It returns either a column reference or,
// when a to-many attribute is crossed, the remaining path.
func (c *compiler) resolvePath(n *tnode, segments []string) (colRef, *existsRef, []string, error) {
	cur := n
	for i, seg := range segments {
		last := i == len(segments)-1
		switch seg {
		case "id":
			if !last {
				return colRef{}, nil, nil, storeerr.Programmerf(cur.record.Name, "id cannot be traversed")
			}
			return colRef{node: cur}, nil, nil, nil
		case "&":
			link, err := c.linkOf(cur)
			if err != nil {
				return colRef{}, nil, nil, err
			}
			if last {
				return colRef{node: link}, nil, nil, nil
			}
			cur = link
			continue
		}

		attr, ok := cur.record.Attribute(seg)
		if !ok && cur.via != nil && !cur.via.Endpoint && !cur.isLink {
			rel, err := c.p.m.Record(cur.via.Link.Name)
			if err != nil {
				return colRef{}, nil, nil, err
			}
			if linkAttr, found := rel.Attribute(seg); found && linkAttr.IsValue() {
				link, err := c.linkOf(cur)
				if err != nil {
					return colRef{}, nil, nil, err
				}
				cur, attr, ok = link, linkAttr, true
			}
		}
		if !ok {
			return colRef{}, nil, nil, storeerr.Programmerf(cur.record.Name, "unknown attribute %q", seg)
		}

		if attr.IsValue() {
			if !last {
				return colRef{}, nil, nil, storeerr.Programmerf(cur.record.Name, "attribute %q is a value and cannot be traversed", seg)
			}
			cur.needRow = true
			return colRef{node: cur, attr: attr}, nil, nil, nil
		}
		if attr.ToMany {
			return colRef{}, &existsRef{node: cur, attr: attr}, segments[i+1:], nil
		}
		child, err := c.child(cur, attr)
		if err != nil {
			return colRef{}, nil, nil, err
		}
		if last {
			return colRef{node: child}, nil, nil, nil
		}
		cur = child
	}
	return colRef{node: cur}, nil, nil, nil
}

func (c *compiler) resolveMatch(n *tnode, e *BoolExp) (*cond, error) {
	if e == nil {
		return nil, nil
	}
	if e.Op != OpAtom {
		out := &cond{op: e.Op}
		for _, child := range e.Children {
			resolved, err := c.resolveMatch(n, child)
			if err != nil {
				return nil, err
			}
			if resolved != nil {
				out.children = append(out.children, resolved)
			}
		}
		return out, nil
	}

	atom := e.Atom
	if atom.Key == "" {
		return nil, storeerr.Programmerf(n.record.Name, "match atom without key")
	}
	ref, ex, rest, err := c.resolvePath(n, strings.Split(atom.Key, "."))
	if err != nil {
		return nil, err
	}

	if ex != nil {
		inner, err := existsInner(atom, rest)
		if err != nil {
			return nil, err
		}
		ex.inner = inner
		return &cond{op: OpAtom, atom: atom, exists: ex}, nil
	}

	if atom.Operator == "exist" {
		sub, err := subExpression(atom.Value)
		if err != nil {
			return nil, err
		}
		if ref.attr != nil {
			return nil, storeerr.Programmerf(n.record.Name, "exist requires a reference attribute, %q is a value", atom.Key)
		}
		present := &cond{op: OpAtom, atom: MatchAtom{Key: atom.Key, Operator: "not"}, ref: ref}
		inner, err := c.resolveMatch(ref.node, sub)
		if err != nil {
			return nil, err
		}
		if inner == nil {
			return present, nil
		}
		return &cond{op: OpAnd, children: []*cond{present, inner}}, nil
	}

	out := &cond{op: OpAtom, atom: atom, ref: ref}
	if atom.IsReferenceValue {
		path, ok := atom.Value.(string)
		if !ok {
			return nil, storeerr.Programmerf(n.record.Name, "reference operand of %q must be a path", atom.Key)
		}
		other, otherEx, _, err := c.resolvePath(c.root, strings.Split(path, "."))
		if err != nil {
			return nil, err
		}
		if otherEx != nil {
			return nil, storeerr.Programmerf(n.record.Name, "reference operand %q crosses a to-many attribute", path)
		}
		out.other = &other
	}
	return out, nil
}

// existsInner is the condition evaluated against the far record of a to-many
// attribute for an atom whose path continues with rest.
func existsInner(atom MatchAtom, rest []string) (*BoolExp, error) {
	if len(rest) == 0 {
		if atom.Operator == "exist" {
			return subExpression(atom.Value)
		}
		inner := atom
		inner.Key = "id"
		return &BoolExp{Op: OpAtom, Atom: inner}, nil
	}
	inner := atom
	inner.Key = strings.Join(rest, ".")
	return &BoolExp{Op: OpAtom, Atom: inner}, nil
}

func subExpression(v any) (*BoolExp, error) {
	if v == nil {
		return nil, nil
	}
	return ParseMatchExpression(v)
}

func (c *compiler) resolveOrder(m *Modifier) ([]orderRef, error) {
	if m == nil {
		return nil, nil
	}
	out := make([]orderRef, 0, len(m.OrderBy))
	for _, term := range m.OrderBy {
		ref, ex, _, err := c.resolvePath(c.root, strings.Split(term.Key, "."))
		if err != nil {
			return nil, err
		}
		if ex != nil {
			return nil, storeerr.Programmerf(c.root.record.Name, "cannot order by to-many path %q", term.Key)
		}
		out = append(out, orderRef{ref: ref, desc: term.Desc})
	}
	return out, nil
}

// column renders ref. It must run after layout.
func (c *compiler) column(ref colRef) (string, error) {
	if ref.attr == nil {
		if ref.node.idExpr == "" {
			return "", storeerr.Programmerf(ref.node.record.Name, "id of %q is not available in this query", ref.node.key)
		}
		return ref.node.idExpr, nil
	}
	if ref.node.alias == "" {
		return "", storeerr.Programmerf(ref.node.record.Name, "row of %q is not joined, cannot read %q", ref.node.key, ref.attr.Name)
	}
	return c.p.dialect.Qualified(ref.node.alias, ref.attr.Column), nil
}

// emit renders a resolved condition. It must run after layout.
func (c *compiler) emit(cn *cond) (sq.Sqlizer, error) {
	if cn == nil {
		return nil, nil
	}
	switch cn.op {
	case OpAnd, OpOr:
		parts := make([]sq.Sqlizer, 0, len(cn.children))
		for _, child := range cn.children {
			s, err := c.emit(child)
			if err != nil {
				return nil, err
			}
			parts = append(parts, s)
		}
		if cn.op == OpAnd {
			return sq.And(parts), nil
		}
		return sq.Or(parts), nil
	case OpNot:
		if len(cn.children) != 1 {
			return nil, storeerr.Programmerf(c.root.record.Name, "not takes exactly one operand")
		}
		inner, err := c.emit(cn.children[0])
		if err != nil {
			return nil, err
		}
		return notExpr{inner}, nil
	}
	if cn.exists != nil {
		return c.emitExists(cn.exists)
	}
	return c.emitAtom(cn)
}

func (c *compiler) emitAtom(cn *cond) (sq.Sqlizer, error) {
	col, err := c.column(cn.ref)
	if err != nil {
		return nil, err
	}
	atom := cn.atom
	value := atom.Value

	if outer, ok := value.(outerColumn); ok {
		return sq.Expr(col + " = " + string(outer)), nil
	}
	if cn.other != nil {
		other, err := c.column(*cn.other)
		if err != nil {
			return nil, err
		}
		switch atom.Operator {
		case "=", "!=", "<", ">", "<=", ">=":
			return sq.Expr(col + " " + atom.Operator + " " + other), nil
		default:
			return nil, storeerr.Programmerf(c.root.record.Name, "operator %q does not support reference operands", atom.Operator)
		}
	}
	if cn.ref.attr != nil && cn.ref.attr.IsJSON() && atom.Operator == "=" && value != nil {
		if _, isString := value.(string); !isString {
			encoded, err := json.Marshal(value)
			if err != nil {
				return nil, err
			}
			value = string(encoded)
		}
	}
	if cn.ref.attr == nil {
		value = idOperand(value)
	}

	switch atom.Operator {
	case "=":
		return sq.Eq{col: value}, nil
	case "!=":
		return sq.NotEq{col: value}, nil
	case "not":
		if value == nil {
			return sq.NotEq{col: nil}, nil
		}
		return sq.NotEq{col: value}, nil
	case ">":
		return sq.Gt{col: value}, nil
	case "<":
		return sq.Lt{col: value}, nil
	case ">=":
		return sq.GtOrEq{col: value}, nil
	case "<=":
		return sq.LtOrEq{col: value}, nil
	case "like":
		return sq.Like{col: value}, nil
	case "in":
		if !isList(value) {
			return nil, storeerr.Programmerf(c.root.record.Name, "operator in on %q requires a list", atom.Key)
		}
		return sq.Eq{col: value}, nil
	case "between":
		bounds, ok := listValues(value)
		if !ok || len(bounds) != 2 {
			return nil, storeerr.Programmerf(c.root.record.Name, "operator between on %q requires two bounds", atom.Key)
		}
		return sq.Expr(col+" BETWEEN ? AND ?", bounds[0], bounds[1]), nil
	}

	if c.p.parser != nil {
		field := dbexec.MatchField{Key: atom.Key, Column: col}
		if cn.ref.attr != nil {
			field.Type = cn.ref.attr.Type
			field.Collection = cn.ref.attr.Collection
		}
		resolveRef := func(path string) (string, error) {
			ref, ex, _, err := c.resolvePath(c.root, strings.Split(path, "."))
			if err != nil {
				return "", err
			}
			if ex != nil {
				return "", storeerr.Programmerf(c.root.record.Name, "path %q is not available in this query", path)
			}
			return c.column(ref)
		}
		s, handled, err := c.p.parser.ParseMatchExpression(field, atom.Operator, value, atom.IsReferenceValue, resolveRef)
		if err != nil {
			return nil, storeerr.Programmerf(c.root.record.Name, "%v", err)
		}
		if handled {
			return s, nil
		}
	}
	return nil, storeerr.Programmerf(c.root.record.Name, "unsupported operator %q on %q", atom.Operator, atom.Key)
}

// emitExists renders a to-many condition as correlated EXISTS subqueries over
// the link record, one per traversal direction.
func (c *compiler) emitExists(ex *existsRef) (sq.Sqlizer, error) {
	attr := ex.attr
	link := attr.Link
	var parts sq.Or
	for _, near := range attr.Sides() {
		far := near.Other()
		inner, err := c.p.rekey(ex.inner, link, far)
		if err != nil {
			return nil, err
		}
		rel, err := c.p.m.Record(link.Name)
		if err != nil {
			return nil, err
		}
		segments := []string{ex.node.aliasBase, attr.Name}
		if attr.Symmetric {
			segments = append(segments, near.Tag())
		}
		sub := c.p.newCompiler(c.labels, c.aliases)
		sub.root = sub.newNode(rel, "", strings.Join(segments, "_"))
		resolved, err := sub.resolveMatch(sub.root, And(Match(near.String()+".id", "=", outerColumn(ex.node.idExpr)), inner))
		if err != nil {
			return nil, err
		}
		sub.layoutRoot()
		where, err := sub.emit(resolved)
		if err != nil {
			return nil, err
		}
		query, args, err := sub.from(sq.Select("1")).Where(sub.presence()).Where(where).ToSql()
		if err != nil {
			return nil, err
		}
		parts = append(parts, sq.Expr("EXISTS ("+query+")", args...))
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	return parts, nil
}

// idOperand lets callers compare a reference with a record instead of its id.
func idOperand(v any) any {
	if m, ok := v.(map[string]any); ok {
		if id, found := m["id"]; found {
			return id
		}
	}
	return v
}

func isList(v any) bool {
	if v == nil {
		return false
	}
	k := reflect.TypeOf(v).Kind()
	return k == reflect.Slice || k == reflect.Array
}

func listValues(v any) ([]any, bool) {
	if !isList(v) {
		return nil, false
	}
	rv := reflect.ValueOf(v)
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

type notExpr struct {
	inner sq.Sqlizer
}

func (n notExpr) ToSql() (string, []interface{}, error) {
	sql, args, err := n.inner.ToSql()
	if err != nil {
		return "", nil, err
	}
	return "NOT (" + sql + ")", args, nil
}
