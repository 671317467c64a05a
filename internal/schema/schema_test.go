package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCardinality(t *testing.T) {
	tests := []struct {
		raw     string
		want    Cardinality
		wantErr bool
	}{
		{raw: "1:1", want: Cardinality{Source: One, Target: One}},
		{raw: "n:1", want: Cardinality{Source: Many, Target: One}},
		{raw: " 1:N ", want: Cardinality{Source: One, Target: Many}},
		{raw: "n:n", want: Cardinality{Source: Many, Target: Many}},
		{raw: "1", wantErr: true},
		{raw: "2:1", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseCardinality(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRelationDefaults(t *testing.T) {
	rel := Relation{Source: "User", SourceProperty: "leader", Target: "User", TargetProperty: "member", Cardinality: "n:1"}
	assert.Equal(t, "User_leader_member_User", rel.RecordName())
	assert.False(t, rel.IsSymmetric())

	friends := Relation{Source: "User", SourceProperty: "friends", Target: "User", TargetProperty: "friends", Cardinality: "n:n"}
	assert.True(t, friends.IsSymmetric())
}

func TestParseYAML(t *testing.T) {
	doc := []byte(`
entities:
  - name: User
    properties:
      - name: name
      - name: age
        type: number
      - name: tags
        type: string
        collection: true
relations:
  - name: Membership
    source: User
    sourceProperty: leader
    target: User
    targetProperty: member
    cardinality: "n:1"
    properties:
      - name: since
        type: number
`)
	s, err := Parse(doc)
	require.NoError(t, err)
	require.Len(t, s.Entities, 1)
	assert.Equal(t, TypeString, s.Entities[0].Properties[0].Type)
	assert.True(t, s.Entities[0].Properties[2].Collection)
	require.Len(t, s.Relations, 1)
	assert.Equal(t, "Membership", s.Relations[0].RecordName())
	assert.Equal(t, TypeNumber, s.Relations[0].Properties[0].Type)
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("entities:\n  - name: User\n    colour: red\n"))
	assert.Error(t, err)
}
