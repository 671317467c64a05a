package planner

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relstore/internal/storeerr"
)

func decodeJSON(t *testing.T, raw string) any {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal([]byte(raw), &v))
	return v
}

func TestParseAttributeQuery(t *testing.T) {
	raw := decodeJSON(t, `["name", ["member", {
		"attributeQuery": ["age", ["&", {"attributeQuery": ["level"]}]],
		"matchExpression": {"key": "age", "value": [">", 3]},
		"modifier": {"orderBy": {"name": "desc"}, "limit": 2},
		"label": "m",
		"maxDepth": 4
	}]]`).([]any)

	q, err := ParseAttributeQuery(raw)
	require.NoError(t, err)
	require.Len(t, q, 2)
	assert.Equal(t, "name", q[0].Name)
	assert.Nil(t, q[0].Sub)

	member := q[1]
	require.NotNil(t, member.Sub)
	assert.Equal(t, "m", member.Sub.Label)
	assert.Equal(t, 4, member.Sub.MaxDepth)
	assert.Equal(t, &Modifier{OrderBy: []OrderTerm{{Key: "name", Desc: true}}, Limit: 2}, member.Sub.Modifier)
	assert.Equal(t, Match("age", ">", float64(3)), member.Sub.MatchExpression)
	link, ok := member.Sub.AttributeQuery.Lookup("&")
	require.True(t, ok)
	assert.Equal(t, Attrs("level"), link.Sub.AttributeQuery)
}

func TestParseMatchExpression(t *testing.T) {
	raw := decodeJSON(t, `{"and": [
		{"key": "name", "value": ["=", "a"]},
		{"or": [
			{"key": "age", "value": ["IN", [1, 2]]},
			{"not": {"key": "leader.name", "value": ["=", "name"], "isReferenceValue": true}}
		]},
		{"key": "member", "value": ["exist", {"key": "age", "value": ["<", 9]}]}
	]}`)

	e, err := ParseMatchExpression(raw)
	require.NoError(t, err)
	require.Equal(t, OpAnd, e.Op)
	require.Len(t, e.Children, 3)
	assert.Equal(t, Match("name", "=", "a"), e.Children[0])

	or := e.Children[1]
	assert.Equal(t, OpOr, or.Op)
	assert.Equal(t, "in", or.Children[0].Atom.Operator)
	assert.Equal(t, OpNot, or.Children[1].Op)
	assert.Equal(t, MatchRef("leader.name", "=", "name"), or.Children[1].Children[0])

	exist := e.Children[2].Atom
	assert.Equal(t, "exist", exist.Operator)
	assert.Equal(t, Match("age", "<", float64(9)), exist.Value)
}

func TestParseRejectsMalformedInput(t *testing.T) {
	cases := map[string]func() error{
		"atom without value": func() error {
			_, err := ParseMatchExpression(map[string]any{"key": "a"})
			return err
		},
		"non object": func() error {
			_, err := ParseMatchExpression("a = 1")
			return err
		},
		"bad entry": func() error {
			_, err := ParseAttributeQuery([]any{42})
			return err
		},
		"unknown subquery key": func() error {
			_, err := ParseAttributeQuery([]any{[]any{"member", map[string]any{"where": 1}}})
			return err
		},
		"bad direction": func() error {
			_, err := ParseModifier(map[string]any{"orderBy": map[string]any{"name": "up"}})
			return err
		},
		"negative limit": func() error {
			_, err := ParseModifier(map[string]any{"limit": -1})
			return err
		},
	}
	for name, fn := range cases {
		t.Run(name, func(t *testing.T) {
			err := fn()
			require.Error(t, err)
			assert.True(t, storeerr.IsProgrammer(err))
		})
	}
}

func TestCombineSkipsNil(t *testing.T) {
	a := Match("a", "=", 1)
	assert.Nil(t, And(nil, nil))
	assert.Same(t, a, And(nil, a))
	assert.Len(t, Or(a, Match("b", "=", 2)).Children, 2)
	assert.Nil(t, Not(nil))
}
