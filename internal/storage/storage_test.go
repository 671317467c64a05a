package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"relstore/internal/dbexec"
	"relstore/internal/event"
	"relstore/internal/planner"
	"relstore/internal/schema"
	"relstore/internal/sqlutil"
	"relstore/internal/storeerr"
)

func testSchema() schema.Schema {
	return schema.Schema{
		Entities: []schema.Entity{
			{Name: "User", Properties: []schema.Property{schema.String("name"), schema.Number("age")}},
			{Name: "Item", Properties: []schema.Property{schema.String("label")}},
		},
		Relations: []schema.Relation{
			{Name: "Membership", Source: "User", SourceProperty: "leader", Target: "User", TargetProperty: "member", Cardinality: "n:1"},
			{Name: "Ownership", Source: "User", SourceProperty: "item", Target: "Item", TargetProperty: "owner", Cardinality: "1:1", IsTargetReliance: true},
			{Name: "Friendship", Source: "User", SourceProperty: "friends", Target: "User", TargetProperty: "friends", Cardinality: "n:n",
				Properties: []schema.Property{schema.Number("level")}},
		},
	}
}

func newTestStorage(t *testing.T, sink event.Sink) *Storage {
	t.Helper()
	ctx := context.Background()
	sqlDB, _, err := dbexec.Open(ctx, dbexec.OpenOptions{
		Dialect: sqlutil.SQLite,
		DSN:     filepath.Join(t.TempDir(), "store.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	st, err := Setup(ctx, dbexec.NewSQLDriver(sqlDB, sqlutil.SQLite), testSchema(), Options{CreateTables: true, Sink: sink})
	require.NoError(t, err)
	return st
}

func eventNames(events []event.MutationEvent) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = string(e.Type) + " " + e.RecordName
	}
	return out
}

func TestCreateAndFindMembers(t *testing.T) {
	var sink event.Log
	st := newTestStorage(t, nil)
	ctx := context.Background()

	a1, err := st.Create(ctx, "User", Record{
		"name": "a1",
		"age":  11,
		"member": []any{
			Record{"name": "m1", "age": 12},
			Record{"name": "m2", "age": 13},
		},
	}, &sink)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"create User",
		"create Membership", "create User",
		"create Membership", "create User",
	}, eventNames(sink.Events()))

	found, err := st.Find(ctx, "User", planner.Match("id", "=", a1["id"]), nil,
		planner.Attrs("name", "age").With(planner.Nested("member", planner.SubQuery{
			AttributeQuery: planner.Attrs("name", "age").With(planner.Nested("leader", planner.SubQuery{})),
		})))
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, float64(11), found[0]["age"])
	members := found[0]["member"].([]Record)
	require.Len(t, members, 2)
	for _, m := range members {
		assert.Equal(t, a1["id"], m["leader"].(Record)["id"])
	}
}

func TestDeleteRelianceLeavesNoItems(t *testing.T) {
	var sink event.Log
	st := newTestStorage(t, &sink)
	ctx := context.Background()

	_, err := st.Create(ctx, "User", Record{"name": "u", "item": Record{"label": "x"}}, nil)
	require.NoError(t, err)
	sink.Reset()

	_, err = st.Delete(ctx, "User", planner.Match("name", "=", "u"), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"delete Ownership", "delete Item", "delete User"}, eventNames(sink.Events()))

	items, err := st.Find(ctx, "Item", nil, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestFriendsMatchedOnLinkProperty(t *testing.T) {
	st := newTestStorage(t, nil)
	ctx := context.Background()

	ids := map[string]int64{}
	for _, name := range []string{"a", "b", "c"} {
		rec, err := st.Create(ctx, "User", Record{"name": name}, nil)
		require.NoError(t, err)
		ids[name] = rec["id"].(int64)
	}
	_, err := st.AddRelationByNameByID(ctx, "Friendship", ids["a"], ids["b"], Record{"level": 2}, nil)
	require.NoError(t, err)
	_, err = st.AddRelationByID(ctx, "User", "friends", ids["c"], ids["a"], Record{"level": 1}, nil)
	require.NoError(t, err)

	found, err := st.Find(ctx, "User", planner.Match("friends.level", "=", 2),
		&planner.Modifier{OrderBy: []planner.OrderTerm{{Key: "name"}}},
		planner.Attrs("name").With(planner.Nested("friends", planner.SubQuery{
			AttributeQuery: planner.Attrs("name").With(planner.Nested("&", planner.SubQuery{AttributeQuery: planner.Attrs("level")})),
		})))
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "a", found[0]["name"])
	assert.Equal(t, "b", found[1]["name"])
	assert.Len(t, found[0]["friends"], 2)

	friendsOfB := found[1]["friends"].([]Record)
	require.Len(t, friendsOfB, 1)
	assert.Equal(t, "a", friendsOfB[0]["name"])
	assert.Equal(t, float64(2), friendsOfB[0]["&"].(Record)["level"])

	_, err = st.AddRelationByNameByID(ctx, "Friendship", ids["b"], ids["a"], nil, nil)
	assert.True(t, errors.Is(err, storeerr.ErrLinkExists))
}

func TestRelationByNameOperations(t *testing.T) {
	st := newTestStorage(t, nil)
	ctx := context.Background()

	name, err := st.GetRelationName("User", "member")
	require.NoError(t, err)
	assert.Equal(t, "Membership", name)

	a, err := st.Create(ctx, "User", Record{"name": "a"}, nil)
	require.NoError(t, err)
	b, err := st.Create(ctx, "User", Record{"name": "b"}, nil)
	require.NoError(t, err)

	link, err := st.AddRelationByNameByID(ctx, "Friendship", a["id"].(int64), b["id"].(int64), Record{"level": 1}, nil)
	require.NoError(t, err)

	updated, err := st.UpdateRelationByName(ctx, "Friendship", planner.Match("id", "=", link["id"]), Record{"level": 5}, nil)
	require.NoError(t, err)
	require.Len(t, updated, 1)
	assert.Equal(t, 5, updated[0]["level"])

	_, err = st.UpdateRelationByName(ctx, "Friendship", planner.Match("id", "=", link["id"]), Record{"source": Record{"id": b["id"]}}, nil)
	assert.True(t, storeerr.IsProgrammer(err))

	removed, err := st.RemoveRelationByName(ctx, "Friendship", planner.Match("source.id", "=", a["id"]), nil)
	require.NoError(t, err)
	assert.Len(t, removed, 1)

	_, err = st.RemoveRelationByName(ctx, "User", nil, nil)
	assert.True(t, storeerr.IsProgrammer(err))
}

func TestAddRelationByIDFromTargetSide(t *testing.T) {
	st := newTestStorage(t, nil)
	ctx := context.Background()

	lead, err := st.Create(ctx, "User", Record{"name": "lead"}, nil)
	require.NoError(t, err)
	m, err := st.Create(ctx, "User", Record{"name": "m"}, nil)
	require.NoError(t, err)

	link, err := st.AddRelationByID(ctx, "User", "member", lead["id"].(int64), m["id"].(int64), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, Record{"id": m["id"]}, link["source"])
	assert.Equal(t, Record{"id": lead["id"]}, link["target"])
}

func TestTransactionRollbackDropsEvents(t *testing.T) {
	var sink event.Log
	st := newTestStorage(t, &sink)

	ctx, err := st.Begin(context.Background())
	require.NoError(t, err)
	_, err = st.Create(ctx, "User", Record{"name": "gone"}, nil)
	require.NoError(t, err)
	assert.Zero(t, sink.Len())
	require.NoError(t, st.Rollback(ctx))

	assert.Zero(t, sink.Len())
	found, err := st.Find(context.Background(), "User", nil, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, found)

	ctx, err = st.Begin(context.Background())
	require.NoError(t, err)
	_, err = st.Create(ctx, "User", Record{"name": "kept"}, nil)
	require.NoError(t, err)
	require.NoError(t, st.Commit(ctx))
	assert.Equal(t, []string{"create User"}, eventNames(sink.Events()))
}

func TestFailedStatementRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	var sink event.Log
	st, err := Setup(context.Background(), dbexec.NewSQLDriver(db, sqlutil.SQLite), testSchema(), Options{Sink: &sink})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err = st.Create(context.Background(), "User", Record{"name": "x"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Zero(t, sink.Len())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProgrammerErrorIssuesNoSQL(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	st, err := Setup(context.Background(), dbexec.NewSQLDriver(db, sqlutil.SQLite), testSchema(), Options{})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err = st.Create(context.Background(), "User", Record{"unknown": 1}, nil)
	require.Error(t, err)
	assert.True(t, storeerr.IsProgrammer(err))

	var se *storeerr.Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "create", se.Op)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetupRejectsInvalidSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	bad := testSchema()
	bad.Relations = append(bad.Relations, schema.Relation{
		Name: "Clash", Source: "User", SourceProperty: "name", Target: "Item", TargetProperty: "holder", Cardinality: "n:1",
	})
	_, err = Setup(context.Background(), dbexec.NewSQLDriver(db, sqlutil.SQLite), bad, Options{CreateTables: true})
	require.Error(t, err)
	assert.True(t, storeerr.IsConfiguration(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOperationSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
	tp.RegisterSpanProcessor(recorder)
	old := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(old)
	})

	st := newTestStorage(t, nil)
	_, err := st.Create(context.Background(), "User", Record{"name": "s"}, nil)
	require.NoError(t, err)

	var found bool
	for _, span := range recorder.Ended() {
		if span.Name() != "relstore.create" {
			continue
		}
		found = true
		assert.Contains(t, span.Attributes(), attribute.String("relstore.operation.outcome", "success"))
		assert.Contains(t, span.Attributes(), attribute.String("relstore.record", "User"))
		assert.Contains(t, span.Attributes(), attribute.Int("relstore.events", 1))
	}
	assert.True(t, found)
}
