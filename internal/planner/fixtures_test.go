package planner

import (
	"testing"

	"github.com/stretchr/testify/require"

	"relstore/internal/mapper"
	"relstore/internal/schema"
	"relstore/internal/sqlutil"
)

// testSchema exercises every merge kind:
//   - UserProfile and Ownership are 1:1 between distinct records (combined)
//   - Membership is a self n:1 and Employment an n:1 (merged-to-source)
//   - OrgDepartment is 1:n (merged-to-target)
//   - Friendship is symmetric n:n (isolated)
func testSchema() schema.Schema {
	return schema.Schema{
		Entities: []schema.Entity{
			{Name: "User", Properties: []schema.Property{
				schema.String("name"),
				schema.Number("age"),
				{Name: "tags", Type: schema.TypeString, Collection: true},
			}},
			{Name: "Profile", Properties: []schema.Property{schema.String("title")}},
			{Name: "Item", Properties: []schema.Property{schema.String("label")}},
			{Name: "Org", Properties: []schema.Property{schema.String("name")}},
			{Name: "Department", Properties: []schema.Property{schema.String("name")}},
		},
		Relations: []schema.Relation{
			{Name: "Membership", Source: "User", SourceProperty: "leader", Target: "User", TargetProperty: "member", Cardinality: "n:1"},
			{Name: "UserProfile", Source: "User", SourceProperty: "profile", Target: "Profile", TargetProperty: "owner", Cardinality: "1:1"},
			{Name: "Ownership", Source: "User", SourceProperty: "item", Target: "Item", TargetProperty: "owner", Cardinality: "1:1", IsTargetReliance: true},
			{Name: "Friendship", Source: "User", SourceProperty: "friends", Target: "User", TargetProperty: "friends", Cardinality: "n:n",
				Properties: []schema.Property{schema.Number("level")}},
			{Name: "Employment", Source: "User", SourceProperty: "org", Target: "Org", TargetProperty: "employees", Cardinality: "n:1"},
			{Name: "OrgDepartment", Source: "Org", SourceProperty: "departments", Target: "Department", TargetProperty: "org", Cardinality: "1:n"},
		},
	}
}

func testPlanner(t *testing.T, dialect sqlutil.Dialect) *Planner {
	t.Helper()
	m, err := mapper.Build(testSchema(), mapper.Options{})
	require.NoError(t, err)
	return New(m, dialect)
}
