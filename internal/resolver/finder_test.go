package resolver

import (
	"context"
	"database/sql/driver"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"relstore/internal/dbexec"
	"relstore/internal/mapper"
	"relstore/internal/planner"
	"relstore/internal/schema"
	"relstore/internal/sqlutil"
	"relstore/internal/storeerr"
)

func testSchema() schema.Schema {
	return schema.Schema{
		Entities: []schema.Entity{
			{Name: "User", Properties: []schema.Property{schema.String("name")}},
		},
		Relations: []schema.Relation{
			{Name: "Membership", Source: "User", SourceProperty: "leader", Target: "User", TargetProperty: "member", Cardinality: "n:1"},
			{Name: "Friendship", Source: "User", SourceProperty: "friends", Target: "User", TargetProperty: "friends", Cardinality: "n:n",
				Properties: []schema.Property{schema.Number("level")}},
		},
	}
}

func newTestFinder(t *testing.T) (*Finder, *dbexec.SQLDriver, sqlmock.Sqlmock) {
	t.Helper()
	m, err := mapper.Build(testSchema(), mapper.Options{})
	require.NoError(t, err)
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewFinder(planner.New(m, sqlutil.SQLite), nil), dbexec.NewSQLDriver(db, sqlutil.SQLite), mock
}

func expectQuery(mock sqlmock.Sqlmock, sql string, args ...any) *sqlmock.ExpectedQuery {
	q := mock.ExpectQuery(regexp.QuoteMeta(sql))
	if len(args) > 0 {
		q = q.WithArgs(toDriverValues(args)...)
	}
	return q
}

func toDriverValues(args []any) []driver.Value {
	values := make([]driver.Value, len(args))
	for i, arg := range args {
		values[i] = arg
	}
	return values
}

func TestFindAssemblesToManyMembers(t *testing.T) {
	f, db, mock := newTestFinder(t)
	q := planner.Query{
		Record:     "User",
		Match:      planner.Match("id", "=", int64(1)),
		Attributes: planner.Attrs("name").With(planner.Nested("member", planner.SubQuery{AttributeQuery: planner.Attrs("name")})),
	}
	plan, err := f.Planner().Plan(q)
	require.NoError(t, err)
	edge := plan.Root.Edges[0].Directions[0].Plan

	expectQuery(mock, plan.SQL, int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(int64(1), "lead"))
	expectQuery(mock, edge.SQL, int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"link", "id", "name"}).
			AddRow(int64(10), int64(2), "m1").
			AddRow(int64(11), int64(3), "m2"))

	records, err := f.Find(context.Background(), db, q)
	require.NoError(t, err)
	assert.Equal(t, []Record{{
		"id":   int64(1),
		"name": "lead",
		"member": []Record{
			{"id": int64(2), "name": "m1"},
			{"id": int64(3), "name": "m2"},
		},
	}}, records)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindSymmetricAttachesLinkProperties(t *testing.T) {
	f, db, mock := newTestFinder(t)
	q := planner.Query{
		Record: "User",
		Attributes: planner.Attrs("name").With(planner.Nested("friends", planner.SubQuery{
			AttributeQuery: planner.Attrs("name").With(planner.Nested("&", planner.SubQuery{AttributeQuery: planner.Attrs("level")})),
		})),
	}
	plan, err := f.Planner().Plan(q)
	require.NoError(t, err)
	dirs := plan.Root.Edges[0].Directions
	require.Len(t, dirs, 2)

	expectQuery(mock, plan.SQL).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(int64(1), "a"))
	expectQuery(mock, dirs[0].Plan.SQL, int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"link", "level", "id", "name"}).AddRow(int64(5), int64(3), int64(2), "b"))
	// The second direction sees link 5 again for a self link and a new link 6.
	expectQuery(mock, dirs[1].Plan.SQL, int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"link", "level", "id", "name"}).
			AddRow(int64(5), int64(3), int64(2), "b").
			AddRow(int64(6), int64(1), int64(3), "c"))

	records, err := f.Find(context.Background(), db, q)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, []Record{
		{"id": int64(2), "name": "b", "&": Record{"id": int64(5), "level": float64(3)}},
		{"id": int64(3), "name": "c", "&": Record{"id": int64(6), "level": float64(1)}},
	}, records[0]["friends"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func recursiveTeamQuery(maxDepth int, exit func(map[string]any) bool) planner.Query {
	return planner.Query{
		Record: "User",
		Match:  planner.Match("id", "=", int64(1)),
		Attributes: planner.Attrs("name").With(planner.Nested("member", planner.SubQuery{
			Label: "team",
			AttributeQuery: planner.Attrs("name").With(planner.Nested("member", planner.SubQuery{
				Goto:     "team",
				MaxDepth: maxDepth,
				Exit:     exit,
			})),
		})),
	}
}

func TestFindGotoStopsAtMaxDepth(t *testing.T) {
	f, db, mock := newTestFinder(t)
	q := recursiveTeamQuery(1, nil)
	plan, err := f.Planner().Plan(q)
	require.NoError(t, err)
	edge := plan.Root.Edges[0].Directions[0].Plan

	expectQuery(mock, plan.SQL, int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(int64(1), "a"))
	expectQuery(mock, edge.SQL, int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"link", "id", "name"}).AddRow(int64(20), int64(2), "b"))
	// The goto edge selects the same shape as the labelled attribute.
	expectQuery(mock, edge.SQL, int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"link", "id", "name"}).AddRow(int64(21), int64(4), "d"))

	records, err := f.Find(context.Background(), db, q)
	require.NoError(t, err)
	assert.Equal(t, []Record{{
		"id":   int64(1),
		"name": "a",
		"member": []Record{{
			"id":   int64(2),
			"name": "b",
			"member": []Record{
				{"id": int64(4), "name": "d"},
			},
		}},
	}}, records)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindGotoExit(t *testing.T) {
	f, db, mock := newTestFinder(t)
	q := recursiveTeamQuery(5, func(rec map[string]any) bool { return rec["name"] == "b" })
	plan, err := f.Planner().Plan(q)
	require.NoError(t, err)
	edge := plan.Root.Edges[0].Directions[0].Plan

	expectQuery(mock, plan.SQL, int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(int64(1), "a"))
	expectQuery(mock, edge.SQL, int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"link", "id", "name"}).AddRow(int64(20), int64(2), "b"))

	records, err := f.Find(context.Background(), db, q)
	require.NoError(t, err)
	member := records[0]["member"].([]Record)
	require.Len(t, member, 1)
	assert.NotContains(t, member[0], "member")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindOneLimitsToOneRow(t *testing.T) {
	f, db, mock := newTestFinder(t)
	mock.ExpectQuery(regexp.QuoteMeta("LIMIT 1")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(int64(1), "a"))

	rec, err := f.FindOne(context.Background(), db, planner.Query{Record: "User", Attributes: planner.Attrs("name")})
	require.NoError(t, err)
	assert.Equal(t, Record{"id": int64(1), "name": "a"}, rec)

	mock.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows([]string{"id"}))
	rec, err = f.FindOne(context.Background(), db, planner.Query{Record: "User"})
	require.NoError(t, err)
	assert.Nil(t, rec)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindRejectsInvalidQueryBeforeSQL(t *testing.T) {
	f, db, mock := newTestFinder(t)

	_, err := f.Find(context.Background(), db, planner.Query{
		Record:     "User",
		Attributes: planner.AttributeQuery{planner.Nested("member", planner.SubQuery{AttributeQuery: planner.Attrs("nope")})},
	})
	require.Error(t, err)
	assert.True(t, storeerr.IsProgrammer(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindEmitsSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
	tp.RegisterSpanProcessor(recorder)
	old := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(old)
	})

	f, db, mock := newTestFinder(t)
	mock.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))

	_, err := f.Find(context.Background(), db, planner.Query{Record: "User"})
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "relstore.find", spans[0].Name())
	assert.Contains(t, spans[0].Attributes(), attribute.String("relstore.find.outcome", "success"))
	assert.Contains(t, spans[0].Attributes(), attribute.String("relstore.record", "User"))
}
