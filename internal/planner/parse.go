package planner

import (
	"fmt"
	"sort"
	"strings"

	"relstore/internal/storeerr"
)

// ParseAttributeQuery decodes the loosely typed form used by callers that
// receive queries as JSON or YAML:
//
//	["name", "age", ["member", {"attributeQuery": ["name"], "label": "m"}]]
func ParseAttributeQuery(raw []any) (AttributeQuery, error) {
	out := make(AttributeQuery, 0, len(raw))
	for i, entry := range raw {
		switch v := entry.(type) {
		case string:
			out = append(out, Attr(v))
		case []any:
			if len(v) == 0 || len(v) > 2 {
				return nil, storeerr.Programmerf("", "attribute query entry %d must be [name, subquery]", i)
			}
			name, ok := v[0].(string)
			if !ok {
				return nil, storeerr.Programmerf("", "attribute query entry %d has a non-string name", i)
			}
			sub := SubQuery{}
			if len(v) == 2 {
				body, ok := v[1].(map[string]any)
				if !ok {
					return nil, storeerr.Programmerf("", "subquery of %q must be an object", name)
				}
				parsed, err := parseSubQuery(name, body)
				if err != nil {
					return nil, err
				}
				sub = parsed
			}
			out = append(out, Nested(name, sub))
		default:
			return nil, storeerr.Programmerf("", "attribute query entry %d has unsupported type %T", i, entry)
		}
	}
	return out, nil
}

func parseSubQuery(name string, body map[string]any) (SubQuery, error) {
	var sub SubQuery
	for key, value := range body {
		switch key {
		case "attributeQuery":
			list, ok := value.([]any)
			if !ok {
				return sub, storeerr.Programmerf("", "attributeQuery of %q must be a list", name)
			}
			q, err := ParseAttributeQuery(list)
			if err != nil {
				return sub, err
			}
			sub.AttributeQuery = q
		case "matchExpression":
			m, err := ParseMatchExpression(value)
			if err != nil {
				return sub, err
			}
			sub.MatchExpression = m
		case "modifier":
			raw, ok := value.(map[string]any)
			if !ok {
				return sub, storeerr.Programmerf("", "modifier of %q must be an object", name)
			}
			m, err := ParseModifier(raw)
			if err != nil {
				return sub, err
			}
			sub.Modifier = m
		case "label":
			sub.Label, _ = value.(string)
		case "goto":
			sub.Goto, _ = value.(string)
		case "maxDepth":
			n, ok := toUint(value)
			if !ok {
				return sub, storeerr.Programmerf("", "maxDepth of %q must be a non-negative number", name)
			}
			sub.MaxDepth = int(n)
		default:
			return sub, storeerr.Programmerf("", "unknown subquery key %q on %q", key, name)
		}
	}
	return sub, nil
}

// ParseMatchExpression decodes {key, value: [op, operand], isReferenceValue},
// {and: [...]}, {or: [...]} or {not: ...}. A nil input yields a nil expression.
func ParseMatchExpression(raw any) (*BoolExp, error) {
	if raw == nil {
		return nil, nil
	}
	if e, ok := raw.(*BoolExp); ok {
		return e, nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, storeerr.Programmerf("", "match expression must be an object, got %T", raw)
	}
	if children, ok := m["and"]; ok {
		return parseChildren(OpAnd, children)
	}
	if children, ok := m["or"]; ok {
		return parseChildren(OpOr, children)
	}
	if inner, ok := m["not"]; ok {
		child, err := ParseMatchExpression(inner)
		if err != nil {
			return nil, err
		}
		if child == nil {
			return nil, storeerr.Programmerf("", "not requires an operand")
		}
		return Not(child), nil
	}

	key, ok := m["key"].(string)
	if !ok || key == "" {
		return nil, storeerr.Programmerf("", "match atom requires a key")
	}
	pair, ok := m["value"].([]any)
	if !ok || len(pair) != 2 {
		return nil, storeerr.Programmerf("", "match atom %q requires value [operator, operand]", key)
	}
	op, ok := pair[0].(string)
	if !ok {
		return nil, storeerr.Programmerf("", "match atom %q has a non-string operator", key)
	}
	atom := MatchAtom{Key: key, Operator: strings.ToLower(op), Value: pair[1]}
	if ref, ok := m["isReferenceValue"].(bool); ok {
		atom.IsReferenceValue = ref
	}
	if atom.Operator == "exist" && pair[1] != nil {
		sub, err := ParseMatchExpression(pair[1])
		if err != nil {
			return nil, err
		}
		atom.Value = sub
	}
	return &BoolExp{Op: OpAtom, Atom: atom}, nil
}

func parseChildren(op BoolOp, raw any) (*BoolExp, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, storeerr.Programmerf("", "boolean operands must be a list")
	}
	exps := make([]*BoolExp, 0, len(list))
	for _, item := range list {
		e, err := ParseMatchExpression(item)
		if err != nil {
			return nil, err
		}
		exps = append(exps, e)
	}
	return combine(op, exps), nil
}

// ParseModifier decodes {orderBy, limit, offset}. orderBy is either a list of
// [key, direction] pairs or an object; object keys are applied in sorted order.
func ParseModifier(raw map[string]any) (*Modifier, error) {
	if raw == nil {
		return nil, nil
	}
	m := &Modifier{}
	for key, value := range raw {
		switch key {
		case "orderBy":
			terms, err := parseOrderBy(value)
			if err != nil {
				return nil, err
			}
			m.OrderBy = terms
		case "limit":
			n, ok := toUint(value)
			if !ok {
				return nil, storeerr.Programmerf("", "limit must be a non-negative number")
			}
			m.Limit = n
		case "offset":
			n, ok := toUint(value)
			if !ok {
				return nil, storeerr.Programmerf("", "offset must be a non-negative number")
			}
			m.Offset = n
		default:
			return nil, storeerr.Programmerf("", "unknown modifier key %q", key)
		}
	}
	return m, nil
}

func parseOrderBy(raw any) ([]OrderTerm, error) {
	switch v := raw.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		terms := make([]OrderTerm, 0, len(keys))
		for _, k := range keys {
			desc, err := parseDirection(v[k])
			if err != nil {
				return nil, err
			}
			terms = append(terms, OrderTerm{Key: k, Desc: desc})
		}
		return terms, nil
	case []any:
		terms := make([]OrderTerm, 0, len(v))
		for _, item := range v {
			pair, ok := item.([]any)
			if !ok || len(pair) != 2 {
				return nil, storeerr.Programmerf("", "orderBy entries must be [key, direction]")
			}
			key, ok := pair[0].(string)
			if !ok {
				return nil, storeerr.Programmerf("", "orderBy key must be a string")
			}
			desc, err := parseDirection(pair[1])
			if err != nil {
				return nil, err
			}
			terms = append(terms, OrderTerm{Key: key, Desc: desc})
		}
		return terms, nil
	default:
		return nil, storeerr.Programmerf("", "orderBy has unsupported type %T", raw)
	}
}

func parseDirection(raw any) (bool, error) {
	s, _ := raw.(string)
	switch strings.ToLower(s) {
	case "asc", "":
		return false, nil
	case "desc":
		return true, nil
	default:
		return false, storeerr.Programmerf("", "invalid order direction %q", fmt.Sprint(raw))
	}
}

func toUint(v any) (uint64, bool) {
	switch n := v.(type) {
	case int:
		return uint64(n), n >= 0
	case int64:
		return uint64(n), n >= 0
	case uint64:
		return n, true
	case float64:
		return uint64(n), n >= 0 && n == float64(uint64(n))
	default:
		return 0, false
	}
}
