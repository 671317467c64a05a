package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relstore/internal/sqlutil"
	"relstore/internal/storeerr"
)

func TestPlanValues(t *testing.T) {
	p := testPlanner(t, sqlutil.SQLite)

	plan, err := p.Plan(Query{Record: "User", Attributes: Attrs("name", "age")})
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT DISTINCT `User`.`User_id`, `User`.`User_name`, `User`.`User_age` FROM `User_Profile_Item` AS `User` WHERE `User`.`User_id` IS NOT NULL",
		plan.SQL)
	assert.Empty(t, plan.Args)
}

func TestPlanCombinedReadsSameRow(t *testing.T) {
	p := testPlanner(t, sqlutil.SQLite)

	plan, err := p.Plan(Query{
		Record:     "User",
		Attributes: Attrs("name").With(Nested("profile", SubQuery{AttributeQuery: Attrs("title")})),
	})
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT DISTINCT `User`.`User_id`, `User`.`User_name`, `User`.`Profile_id`, `User`.`Profile_title` FROM `User_Profile_Item` AS `User` WHERE `User`.`User_id` IS NOT NULL",
		plan.SQL)
}

func TestPlanToOneJoin(t *testing.T) {
	p := testPlanner(t, sqlutil.SQLite)

	plan, err := p.Plan(Query{
		Record:     "User",
		Attributes: Attrs("name").With(Nested("leader", SubQuery{AttributeQuery: Attrs("name")})),
	})
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT DISTINCT `User`.`User_id`, `User`.`User_name`, `User_leader`.`User_id`, `User_leader`.`User_name` "+
			"FROM `User_Profile_Item` AS `User` "+
			"LEFT JOIN `User_Profile_Item` AS `User_leader` ON `User_leader`.`User_id` = `User`.`Membership_target` "+
			"WHERE `User`.`User_id` IS NOT NULL",
		plan.SQL)
}

func TestPlanShrinksIDOnlyReference(t *testing.T) {
	p := testPlanner(t, sqlutil.SQLite)

	plan, err := p.Plan(Query{
		Record:     "User",
		Attributes: AttributeQuery{Nested("leader", SubQuery{AttributeQuery: Attrs("id")})},
	})
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT DISTINCT `User`.`User_id`, `User`.`Membership_target` FROM `User_Profile_Item` AS `User` WHERE `User`.`User_id` IS NOT NULL",
		plan.SQL)
	assert.NotContains(t, plan.SQL, "JOIN")
}

func TestPlanFarColumnJoin(t *testing.T) {
	p := testPlanner(t, sqlutil.SQLite)

	plan, err := p.Plan(Query{
		Record:     "Department",
		Attributes: Attrs("name").With(Nested("org", SubQuery{AttributeQuery: Attrs("name")})),
	})
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT DISTINCT `Department`.`Department_id`, `Department`.`Department_name`, `Department_org`.`Org_id`, `Department_org`.`Org_name` "+
			"FROM `Department` AS `Department` "+
			"LEFT JOIN `Org` AS `Department_org` ON `Department_org`.`Org_id` = `Department`.`OrgDepartment_source` "+
			"WHERE `Department`.`Department_id` IS NOT NULL",
		plan.SQL)
}

func TestPlanMatchOnToOnePath(t *testing.T) {
	p := testPlanner(t, sqlutil.SQLite)

	plan, err := p.Plan(Query{
		Record:     "User",
		Match:      Match("leader.name", "=", "alice").And(Match("age", ">", 18)),
		Attributes: Attrs("name"),
	})
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT DISTINCT `User`.`User_id`, `User`.`User_name` "+
			"FROM `User_Profile_Item` AS `User` "+
			"LEFT JOIN `User_Profile_Item` AS `User_leader` ON `User_leader`.`User_id` = `User`.`Membership_target` "+
			"WHERE `User`.`User_id` IS NOT NULL AND (`User_leader`.`User_name` = ? AND `User`.`User_age` > ?)",
		plan.SQL)
	assert.Equal(t, []interface{}{"alice", 18}, plan.Args)
}

func TestPlanMatchOnFarColumnJoinsTarget(t *testing.T) {
	p := testPlanner(t, sqlutil.SQLite)

	plan, err := p.Plan(Query{Record: "Department", Match: Match("org.name", "=", "acme")})
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT DISTINCT `Department`.`Department_id` "+
			"FROM `Department` AS `Department` "+
			"LEFT JOIN `Org` AS `Department_org` ON `Department_org`.`Org_id` = `Department`.`OrgDepartment_source` "+
			"WHERE `Department`.`Department_id` IS NOT NULL AND `Department_org`.`Org_name` = ?",
		plan.SQL)
	assert.Equal(t, []interface{}{"acme"}, plan.Args)
}

func TestPlanOrderByToOnePath(t *testing.T) {
	p := testPlanner(t, sqlutil.SQLite)

	plan, err := p.Plan(Query{
		Record:     "User",
		Attributes: Attrs("name"),
		Modifier:   &Modifier{OrderBy: []OrderTerm{{Key: "leader.name", Desc: true}}},
	})
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT DISTINCT `User`.`User_id`, `User`.`User_name`, `User_leader`.`User_name` "+
			"FROM `User_Profile_Item` AS `User` "+
			"LEFT JOIN `User_Profile_Item` AS `User_leader` ON `User_leader`.`User_id` = `User`.`Membership_target` "+
			"WHERE `User`.`User_id` IS NOT NULL ORDER BY `User_leader`.`User_name` DESC",
		plan.SQL)
}

func TestColumnRequiresJoinedRow(t *testing.T) {
	p := testPlanner(t, sqlutil.SQLite)
	user, err := p.m.Record("User")
	require.NoError(t, err)
	name, ok := user.Attribute("name")
	require.True(t, ok)

	c := p.newCompiler(nil, nil)
	_, err = c.column(colRef{node: c.newNode(user, "leader", "User_leader"), attr: name})
	require.Error(t, err)
	assert.True(t, storeerr.IsProgrammer(err))
}

func TestPlanMatchOperators(t *testing.T) {
	p := testPlanner(t, sqlutil.SQLite)

	cases := []struct {
		name  string
		match *BoolExp
		where string
		args  []interface{}
	}{
		{"null equality", Match("name", "=", nil), "`User`.`User_name` IS NULL", nil},
		{"not null", Match("name", "not", nil), "`User`.`User_name` IS NOT NULL", nil},
		{"like", Match("name", "like", "a%"), "`User`.`User_name` LIKE ?", []interface{}{"a%"}},
		{"in", Match("age", "in", []int{1, 2}), "`User`.`User_age` IN (?,?)", []interface{}{1, 2}},
		{"between", Match("age", "between", []any{10, 20}), "`User`.`User_age` BETWEEN ? AND ?", []interface{}{10, 20}},
		{"not", Not(Match("age", "<=", 3)), "NOT (`User`.`User_age` <= ?)", []interface{}{3}},
		{"or", Or(Match("age", "<", 3), Match("age", ">=", 9)), "(`User`.`User_age` < ? OR `User`.`User_age` >= ?)", []interface{}{3, 9}},
		{"reference id", Match("leader", "=", map[string]any{"id": int64(4)}), "`User`.`Membership_target` = ?", []interface{}{int64(4)}},
		{"column reference", MatchRef("name", "=", "leader.name"), "`User`.`User_name` = `User_leader`.`User_name`", nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			plan, err := p.Plan(Query{Record: "User", Match: tc.match})
			require.NoError(t, err)
			assert.Contains(t, plan.SQL, "WHERE `User`.`User_id` IS NOT NULL AND "+tc.where)
			if tc.args == nil {
				assert.Empty(t, plan.Args)
			} else {
				assert.Equal(t, tc.args, plan.Args)
			}
		})
	}
}

func TestPlanToManyMatchUsesExists(t *testing.T) {
	p := testPlanner(t, sqlutil.SQLite)

	plan, err := p.Plan(Query{Record: "User", Match: Match("member.name", "=", "m1")})
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT DISTINCT `User`.`User_id` FROM `User_Profile_Item` AS `User` "+
			"WHERE `User`.`User_id` IS NOT NULL AND EXISTS ("+
			"SELECT 1 FROM `User_Profile_Item` AS `User_member` "+
			"WHERE `User_member`.`Membership_id` IS NOT NULL AND "+
			"(`User_member`.`Membership_target` = `User`.`User_id` AND `User_member`.`User_name` = ?))",
		plan.SQL)
	assert.Equal(t, []interface{}{"m1"}, plan.Args)
}

func TestPlanSymmetricMatchOrsBothDirections(t *testing.T) {
	p := testPlanner(t, sqlutil.SQLite)

	plan, err := p.Plan(Query{Record: "User", Match: Match("friends.level", "=", 2)})
	require.NoError(t, err)
	assert.Contains(t, plan.SQL, "(EXISTS (SELECT 1 FROM `Friendship` AS `User_friends_SOURCE` ")
	assert.Contains(t, plan.SQL, "`User_friends_SOURCE`.`Friendship_source` = `User`.`User_id` AND `User_friends_SOURCE`.`Friendship_level` = ?")
	assert.Contains(t, plan.SQL, " OR EXISTS (SELECT 1 FROM `Friendship` AS `User_friends_TARGET` ")
	assert.Contains(t, plan.SQL, "`User_friends_TARGET`.`Friendship_target` = `User`.`User_id` AND `User_friends_TARGET`.`Friendship_level` = ?")
	assert.Equal(t, []interface{}{2, 2}, plan.Args)
}

func TestPlanExistOperator(t *testing.T) {
	p := testPlanner(t, sqlutil.SQLite)

	plan, err := p.Plan(Query{Record: "Org", Match: Match("departments", "exist", Match("name", "like", "R%"))})
	require.NoError(t, err)
	assert.Contains(t, plan.SQL, "EXISTS (SELECT 1 FROM `Department` AS `Org_departments` ")
	assert.Contains(t, plan.SQL, "`Org_departments`.`OrgDepartment_source` = `Org`.`Org_id`")
	assert.Contains(t, plan.SQL, "`Org_departments`.`Department_name` LIKE ?")
	assert.Equal(t, []interface{}{"R%"}, plan.Args)
}

func TestPlanModifier(t *testing.T) {
	p := testPlanner(t, sqlutil.SQLite)

	plan, err := p.Plan(Query{
		Record:     "User",
		Attributes: Attrs("name"),
		Modifier:   &Modifier{OrderBy: []OrderTerm{{Key: "age", Desc: true}, {Key: "name"}}, Limit: 10, Offset: 5},
	})
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT DISTINCT `User`.`User_id`, `User`.`User_name`, `User`.`User_age` FROM `User_Profile_Item` AS `User` "+
			"WHERE `User`.`User_id` IS NOT NULL ORDER BY `User`.`User_age` DESC, `User`.`User_name` ASC LIMIT 10 OFFSET 5",
		plan.SQL)
}

func TestPlanPostgresPlaceholders(t *testing.T) {
	p := testPlanner(t, sqlutil.Postgres)

	plan, err := p.Plan(Query{Record: "User", Match: Match("name", "=", "a").And(Match("member.age", ">", 3))})
	require.NoError(t, err)
	assert.Contains(t, plan.SQL, `"User"."User_name" = $1`)
	assert.Contains(t, plan.SQL, `"User_member"."User_age" > $2`)
	assert.NotContains(t, plan.SQL, "?")
}

func TestEdgePlanForToMany(t *testing.T) {
	p := testPlanner(t, sqlutil.SQLite)

	plan, err := p.Plan(Query{
		Record:     "User",
		Attributes: Attrs("name").With(Nested("member", SubQuery{AttributeQuery: Attrs("name")})),
	})
	require.NoError(t, err)
	require.Len(t, plan.Root.Edges, 1)
	edge := plan.Root.Edges[0]
	assert.True(t, edge.ToMany())
	require.Len(t, edge.Directions, 1)
	dir := edge.Directions[0]
	assert.Equal(t, "source", dir.Far.String())
	assert.False(t, dir.WithLink)
	assert.Equal(t,
		"SELECT DISTINCT `Membership`.`Membership_id`, `Membership`.`User_id`, `Membership`.`User_name` "+
			"FROM `User_Profile_Item` AS `Membership` "+
			"WHERE `Membership`.`Membership_id` IS NOT NULL AND `Membership`.`Membership_target` = ?",
		dir.Plan.SQL)
	assert.Equal(t, []interface{}{int64(7)}, dir.Plan.Bind(int64(7)).Args)
}

func TestEdgePlanSymmetricWithLinkProperties(t *testing.T) {
	p := testPlanner(t, sqlutil.SQLite)

	plan, err := p.Plan(Query{
		Record: "User",
		Attributes: AttributeQuery{Nested("friends", SubQuery{
			AttributeQuery: Attrs("name").With(Nested("&", SubQuery{AttributeQuery: Attrs("level")})),
			Modifier:       &Modifier{OrderBy: []OrderTerm{{Key: "name"}}},
		})},
	})
	require.NoError(t, err)
	edge := plan.Root.Edges[0]
	require.Len(t, edge.Directions, 2)
	for _, dir := range edge.Directions {
		assert.True(t, dir.WithLink)
		assert.Contains(t, dir.Plan.SQL, "`Friendship`.`Friendship_level`")
		assert.Contains(t, dir.Plan.SQL, "ORDER BY `Friendship_"+dir.Far.String()+"`.`User_name` ASC")
	}
	assert.Contains(t, edge.Directions[0].Plan.SQL, "`Friendship`.`Friendship_source` = ?")
	assert.Contains(t, edge.Directions[1].Plan.SQL, "`Friendship`.`Friendship_target` = ?")
}

func TestDecodeNestedRecord(t *testing.T) {
	p := testPlanner(t, sqlutil.SQLite)

	plan, err := p.Plan(Query{
		Record:     "User",
		Attributes: Attrs("name", "age", "tags").With(Nested("leader", SubQuery{AttributeQuery: Attrs("name")})),
	})
	require.NoError(t, err)

	rec, err := plan.Decode([]any{int64(1), "alice", int64(30), `["a","b"]`, int64(2), "bob"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"id":   int64(1),
		"name": "alice",
		"age":  float64(30),
		"tags": []any{"a", "b"},
		"leader": map[string]any{
			"id":   int64(2),
			"name": "bob",
		},
	}, rec)

	rec, err = plan.Decode([]any{int64(3), "carol", nil, nil, nil, nil})
	require.NoError(t, err)
	assert.Nil(t, rec["leader"])
	assert.Nil(t, rec["age"])
}

func TestGotoResolvesLabel(t *testing.T) {
	p := testPlanner(t, sqlutil.SQLite)

	plan, err := p.Plan(Query{
		Record: "User",
		Attributes: AttributeQuery{Nested("member", SubQuery{
			Label:          "team",
			AttributeQuery: Attrs("name").With(Nested("member", SubQuery{Goto: "team", MaxDepth: 3})),
		})},
	})
	require.NoError(t, err)

	far := plan.Root.Edges[0].Directions[0].Plan.Root.Children[0]
	require.Len(t, far.Gotos, 1)
	g := far.Gotos[0]
	assert.Equal(t, 3, g.MaxDepth)

	edge, err := p.PlanGoto(g)
	require.NoError(t, err)
	again, err := p.PlanGoto(g)
	require.NoError(t, err)
	assert.Same(t, edge, again)
	assert.Len(t, edge.Directions[0].Plan.Root.Children[0].Gotos, 1)
}

func TestPlanProgrammerErrors(t *testing.T) {
	p := testPlanner(t, sqlutil.SQLite)

	cases := map[string]Query{
		"unknown record":        {Record: "Nope"},
		"unknown attribute":     {Record: "User", Attributes: Attrs("nope")},
		"unknown match path":    {Record: "User", Match: Match("leader.nope", "=", 1)},
		"traverse value":        {Record: "User", Match: Match("name.length", "=", 1)},
		"subquery on value":     {Record: "User", Attributes: AttributeQuery{Nested("name", SubQuery{})}},
		"link outside relation": {Record: "User", Attributes: Attrs("&")},
		"unknown label":         {Record: "User", Attributes: AttributeQuery{Nested("member", SubQuery{Goto: "missing"})}},
		"order by to-many":      {Record: "User", Modifier: &Modifier{OrderBy: []OrderTerm{{Key: "member.name"}}}},
		"unsupported operator":  {Record: "User", Match: Match("name", "regex", ".*")},
		"in without list":       {Record: "User", Match: Match("age", "in", 3)},
	}
	for name, q := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := p.Plan(q)
			require.Error(t, err)
			assert.True(t, storeerr.IsProgrammer(err), err.Error())
		})
	}
}
