package planner

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"relstore/internal/mapper"
	"relstore/internal/storeerr"
)

// tnode is a record position in the to-one closure of a query.
type tnode struct {
	record *mapper.RecordInfo
	key    string
	parent *tnode
	via    *mapper.AttributeInfo
	isLink bool
	output bool
	// needRow is set when a match or order path reads a value of this node.
	needRow bool

	values   []*mapper.AttributeInfo
	valueSet map[string]bool
	children []*tnode
	childIdx map[string]*tnode
	link     *tnode
	edges    []*EdgePlan
	gotos    []*GotoEdge

	aliasBase string
	alias     string
	idExpr    string
	joined    bool
}

type join struct {
	table string
	alias string
	on    string
}

type compiler struct {
	p       *Planner
	labels  *labelSet
	aliases map[string]bool
	root    *tnode
	joins   []join
}

func (p *Planner) newCompiler(labels *labelSet, aliases map[string]bool) *compiler {
	if aliases == nil {
		aliases = map[string]bool{}
	}
	return &compiler{p: p, labels: labels, aliases: aliases}
}

func (c *compiler) newNode(record *mapper.RecordInfo, key, aliasBase string) *tnode {
	return &tnode{
		record:    record,
		key:       key,
		aliasBase: aliasBase,
		valueSet:  map[string]bool{},
		childIdx:  map[string]*tnode{},
	}
}

// child returns the to-one node reached from n through attr.
func (c *compiler) child(n *tnode, attr *mapper.AttributeInfo) (*tnode, error) {
	if existing, ok := n.childIdx[attr.Name]; ok {
		return existing, nil
	}
	if attr.ToMany {
		return nil, storeerr.Programmerf(n.record.Name, "attribute %q is to-many", attr.Name)
	}
	target, err := c.p.m.Record(attr.Target)
	if err != nil {
		return nil, err
	}
	child := c.newNode(target, attr.Name, n.aliasBase+"_"+attr.Name)
	child.parent = n
	child.via = attr
	n.children = append(n.children, child)
	n.childIdx[attr.Name] = child
	return child, nil
}

// linkOf returns the link record node of the edge that reached n.
func (c *compiler) linkOf(n *tnode) (*tnode, error) {
	if n.link != nil {
		return n.link, nil
	}
	if n.via == nil || n.via.Endpoint || n.isLink {
		return nil, storeerr.Programmerf(n.record.Name, "%q is only valid below a relation attribute", "&")
	}
	rel, err := c.p.m.Record(n.via.Link.Name)
	if err != nil {
		return nil, err
	}
	link := c.newNode(rel, "&", n.aliasBase+"_LINK")
	link.parent = n
	link.isLink = true
	n.link = link
	return link, nil
}

func (n *tnode) addValue(attr *mapper.AttributeInfo) {
	if n.valueSet[attr.Name] {
		return
	}
	n.valueSet[attr.Name] = true
	n.values = append(n.values, attr)
}

func (c *compiler) applyAttributes(n *tnode, q AttributeQuery) error {
	n.output = true
	for _, item := range q {
		switch item.Name {
		case "id":
			continue
		case "&":
			link, err := c.linkOf(n)
			if err != nil {
				return err
			}
			var sub AttributeQuery
			if item.Sub != nil {
				sub = item.Sub.AttributeQuery
			}
			if err := c.applyAttributes(link, sub); err != nil {
				return err
			}
			continue
		}

		attr, err := n.record.MustAttribute(item.Name)
		if err != nil {
			return err
		}
		if attr.IsValue() {
			if item.Sub != nil {
				return storeerr.Programmerf(n.record.Name, "value attribute %q cannot take a subquery", attr.Name)
			}
			n.addValue(attr)
			continue
		}

		sub := SubQuery{}
		if item.Sub != nil {
			sub = *item.Sub
		}
		if sub.Label != "" {
			if err := c.labels.define(sub.Label, attr.Target, sub); err != nil {
				return err
			}
		}
		if sub.Goto != "" {
			if attr.Endpoint {
				return storeerr.Programmerf(n.record.Name, "goto is not supported on endpoint %q", attr.Name)
			}
			g := &GotoEdge{
				Attribute: attr,
				Label:     sub.Goto,
				MaxDepth:  sub.MaxDepth,
				Exit:      sub.Exit,
				match:     sub.MatchExpression,
				modifier:  sub.Modifier,
				labels:    c.labels,
			}
			c.labels.mu.Lock()
			c.labels.pending = append(c.labels.pending, g)
			c.labels.mu.Unlock()
			n.gotos = append(n.gotos, g)
			continue
		}
		if attr.ToMany {
			edge, err := c.p.compileEdge(attr, sub, c.labels)
			if err != nil {
				return err
			}
			n.edges = append(n.edges, edge)
			continue
		}
		if sub.MatchExpression != nil || !sub.Modifier.empty() {
			return storeerr.Programmerf(n.record.Name, "match expressions and modifiers apply to to-many attributes only, %q is to-one", attr.Name)
		}
		child, err := c.child(n, attr)
		if err != nil {
			return err
		}
		if err := c.applyAttributes(child, sub.AttributeQuery); err != nil {
			return err
		}
	}
	return nil
}

// compileEdge plans the fetch of attr's records for a single parent id. The
// query runs against the link record, filtered by the near endpoint and
// projecting the far endpoint.
func (p *Planner) compileEdge(attr *mapper.AttributeInfo, sub SubQuery, labels *labelSet) (*EdgePlan, error) {
	if attr.Endpoint {
		return nil, storeerr.Programmerf(attr.Record, "endpoint %q cannot be fetched as an edge", attr.Name)
	}
	link := attr.Link

	var farQuery AttributeQuery
	var linkItem *AttributeItem
	for i := range sub.AttributeQuery {
		item := sub.AttributeQuery[i]
		if item.Name == "&" {
			linkItem = &item
			continue
		}
		farQuery = append(farQuery, item)
	}

	edge := &EdgePlan{Attribute: attr}
	for _, near := range attr.Sides() {
		far := near.Other()
		match, err := p.rekey(sub.MatchExpression, link, far)
		if err != nil {
			return nil, err
		}
		modifier, err := p.rekeyModifier(sub.Modifier, link, far)
		if err != nil {
			return nil, err
		}
		attrs := AttributeQuery{Nested(far.String(), SubQuery{AttributeQuery: farQuery})}
		if linkItem != nil && linkItem.Sub != nil {
			attrs = append(attrs, linkItem.Sub.AttributeQuery...)
		}
		plan, err := p.compile(Query{
			Record:     link.Name,
			Match:      And(Match(near.String()+".id", "=", parentID), match),
			Modifier:   modifier,
			Attributes: attrs,
		}, labels)
		if err != nil {
			return nil, err
		}
		edge.Directions = append(edge.Directions, Direction{
			Near:     near,
			Far:      far,
			Plan:     plan,
			WithLink: linkItem != nil,
		})
	}
	return edge, nil
}

// rekey moves a match expression written against the far record of a link
// onto the link record itself. "&." selects link properties; unknown keys
// fall back to link properties of the same name.
func (p *Planner) rekey(e *BoolExp, link *mapper.LinkInfo, far mapper.Side) (*BoolExp, error) {
	return e.mapAtoms(func(a MatchAtom) (*BoolExp, error) {
		key, err := p.rekeyPath(a.Key, link, far)
		if err != nil {
			return nil, err
		}
		out := a
		out.Key = key
		if a.IsReferenceValue {
			path, ok := a.Value.(string)
			if !ok {
				return nil, storeerr.Programmerf(link.Name, "reference operand of %q must be a path", a.Key)
			}
			if out.Value, err = p.rekeyPath(path, link, far); err != nil {
				return nil, err
			}
		}
		return &BoolExp{Op: OpAtom, Atom: out}, nil
	})
}

func (p *Planner) rekeyModifier(m *Modifier, link *mapper.LinkInfo, far mapper.Side) (*Modifier, error) {
	if m == nil {
		return nil, nil
	}
	out := &Modifier{Limit: m.Limit, Offset: m.Offset}
	for _, term := range m.OrderBy {
		key, err := p.rekeyPath(term.Key, link, far)
		if err != nil {
			return nil, err
		}
		out.OrderBy = append(out.OrderBy, OrderTerm{Key: key, Desc: term.Desc})
	}
	return out, nil
}

func (p *Planner) rekeyPath(key string, link *mapper.LinkInfo, far mapper.Side) (string, error) {
	first, rest, hasRest := strings.Cut(key, ".")
	farName := far.String()
	if first == "&" {
		if !hasRest {
			return "id", nil
		}
		return rest, nil
	}
	if first == "id" {
		return farName + "." + key, nil
	}
	farRecord, err := p.m.Record(link.Record(far))
	if err != nil {
		return "", err
	}
	if _, ok := farRecord.Attribute(first); ok {
		return farName + "." + key, nil
	}
	rel, err := p.m.Record(link.Name)
	if err != nil {
		return "", err
	}
	if a, ok := rel.Attribute(first); ok && a.IsValue() {
		return key, nil
	}
	return "", storeerr.Programmerf(farRecord.Name, "unknown attribute %q", first)
}

// compile builds a standalone SELECT for q.
func (p *Planner) compile(q Query, labels *labelSet) (*Plan, error) {
	record, err := p.m.Record(q.Record)
	if err != nil {
		return nil, err
	}
	c := p.newCompiler(labels, nil)
	c.root = c.newNode(record, "", record.Name)
	if err := c.applyAttributes(c.root, q.Attributes); err != nil {
		return nil, err
	}
	cond, err := c.resolveMatch(c.root, q.Match)
	if err != nil {
		return nil, err
	}
	orders, err := c.resolveOrder(q.Modifier)
	if err != nil {
		return nil, err
	}

	c.layoutRoot()
	where, err := c.emit(cond)
	if err != nil {
		return nil, err
	}

	var columns []string
	root := c.selectNode(c.root, &columns)
	var orderBy []string
	for _, o := range orders {
		expr, err := c.column(o.ref)
		if err != nil {
			return nil, err
		}
		if !contains(columns, expr) {
			columns = append(columns, expr)
		}
		if o.desc {
			orderBy = append(orderBy, expr+" DESC")
		} else {
			orderBy = append(orderBy, expr+" ASC")
		}
	}

	builder := c.from(sq.Select(columns...).Distinct()).Where(c.presence())
	if where != nil {
		builder = builder.Where(where)
	}
	if len(orderBy) > 0 {
		builder = builder.OrderBy(orderBy...)
	}
	if q.Modifier != nil {
		if q.Modifier.Limit > 0 {
			builder = builder.Limit(q.Modifier.Limit)
		}
		if q.Modifier.Offset > 0 {
			builder = builder.Offset(q.Modifier.Offset)
		}
	}
	query, args, err := builder.PlaceholderFormat(p.dialect.Placeholder()).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to render %s query: %w", record.Name, err)
	}
	return &Plan{Record: record, SQL: query, Args: args, Root: root}, nil
}

func (c *compiler) from(b sq.SelectBuilder) sq.SelectBuilder {
	d := c.p.dialect
	b = b.From(d.Quote(c.root.record.Table) + " AS " + d.Quote(c.root.alias))
	for _, j := range c.joins {
		b = b.LeftJoin(d.Quote(j.table) + " AS " + d.Quote(j.alias) + " ON " + j.on)
	}
	return b
}

// presence restricts rows to those holding a root record.
func (c *compiler) presence() sq.Sqlizer {
	return sq.NotEq{c.root.idExpr: nil}
}

func (c *compiler) newAlias(base string) string {
	name := c.p.namer.Shorten(base)
	for i := 2; c.aliases[name]; i++ {
		name = c.p.namer.Shorten(fmt.Sprintf("%s_%d", base, i))
	}
	c.aliases[name] = true
	return name
}

func (c *compiler) layoutRoot() {
	root := c.root
	root.alias = c.newAlias(root.aliasBase)
	root.idExpr = c.p.dialect.Qualified(root.alias, root.record.IDColumn)
	root.joined = true
	c.layout(root)
}

// needsRow reports whether columns of n's own row are read, as opposed to
// just its id.
func needsRow(n *tnode) bool {
	if n.isLink || n.needRow || len(n.values) > 0 {
		return true
	}
	for _, child := range n.children {
		if edgeReadsParentRow(child) {
			return true
		}
	}
	return false
}

func edgeReadsParentRow(child *tnode) bool {
	via := child.via
	if via.Endpoint {
		return true
	}
	return via.Link.HopToLink(via.Side).Kind == mapper.HopSameRow
}

// layout assigns aliases and joins below n. n must already be placed.
func (c *compiler) layout(n *tnode) {
	d := c.p.dialect
	for _, child := range n.children {
		via := child.via
		link := via.Link
		var rowAlias string
		var farSide mapper.Side

		if via.Endpoint {
			rowAlias = n.alias
			farSide = via.Side
		} else {
			hop := link.HopToLink(via.Side)
			if hop.Kind == mapper.HopSameRow {
				rowAlias = n.alias
			} else {
				rowAlias = c.newAlias(child.aliasBase + "_LINK")
				c.joins = append(c.joins, join{
					table: link.Table,
					alias: rowAlias,
					on:    d.Qualified(rowAlias, hop.Column) + " = " + n.idExpr,
				})
			}
			farSide = via.Side.Other()
			if child.link != nil {
				child.link.alias = rowAlias
				child.link.idExpr = d.Qualified(rowAlias, child.link.record.IDColumn)
				child.link.joined = true
			}
		}

		if link.Implicit(farSide) {
			child.alias = rowAlias
			child.idExpr = d.Qualified(rowAlias, child.record.IDColumn)
			child.joined = true
		} else {
			fk := d.Qualified(rowAlias, link.Column(farSide))
			if needsRow(child) {
				child.alias = c.newAlias(child.aliasBase)
				child.idExpr = d.Qualified(child.alias, child.record.IDColumn)
				child.joined = true
				c.joins = append(c.joins, join{
					table: child.record.Table,
					alias: child.alias,
					on:    child.idExpr + " = " + fk,
				})
			} else {
				child.idExpr = fk
			}
		}

		c.layout(child)
		if child.link != nil {
			c.layout(child.link)
		}
	}
}

// selectNode appends the columns of output nodes and returns the decode tree.
func (c *compiler) selectNode(n *tnode, columns *[]string) *OutputNode {
	out := &OutputNode{
		Record: n.record,
		Key:    n.key,
		Edges:  n.edges,
		Gotos:  n.gotos,
		idPos:  len(*columns),
	}
	*columns = append(*columns, n.idExpr)
	for _, attr := range n.values {
		out.fields = append(out.fields, outputField{attr: attr, pos: len(*columns)})
		*columns = append(*columns, c.p.dialect.Qualified(n.alias, attr.Column))
	}
	for _, child := range n.children {
		if child.output {
			out.Children = append(out.Children, c.selectNode(child, columns))
		}
	}
	if n.link != nil && n.link.output {
		out.Children = append(out.Children, c.selectNode(n.link, columns))
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
