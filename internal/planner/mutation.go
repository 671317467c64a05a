package planner

import (
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"relstore/internal/dbexec"
	"relstore/internal/sqlutil"
)

// PlanInsert builds SQL for inserting a single row with the provided columns.
func PlanInsert(d sqlutil.Dialect, table string, columns []string, values []interface{}) (dbexec.SQLQuery, error) {
	if len(columns) != len(values) {
		return dbexec.SQLQuery{}, fmt.Errorf("insert into %s: %d columns but %d values", table, len(columns), len(values))
	}
	if len(columns) == 0 {
		if d == sqlutil.MySQL {
			return dbexec.SQLQuery{SQL: fmt.Sprintf("INSERT INTO %s () VALUES ()", d.Quote(table))}, nil
		}
		return dbexec.SQLQuery{SQL: fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", d.Quote(table))}, nil
	}

	quotedCols := make([]string, len(columns))
	for i, col := range columns {
		quotedCols[i] = d.Quote(col)
	}

	query, args, err := sq.Insert(d.Quote(table)).
		Columns(quotedCols...).
		Values(values...).
		PlaceholderFormat(d.Placeholder()).
		ToSql()
	if err != nil {
		return dbexec.SQLQuery{}, err
	}
	return dbexec.SQLQuery{SQL: query, Args: args}, nil
}

// PlanUpdate builds SQL setting columns on the rows matching where. where maps
// unquoted column names to values.
func PlanUpdate(d sqlutil.Dialect, table string, columns []string, values []interface{}, where map[string]interface{}) (dbexec.SQLQuery, error) {
	if len(columns) == 0 {
		return dbexec.SQLQuery{}, fmt.Errorf("update set cannot be empty")
	}
	if len(columns) != len(values) {
		return dbexec.SQLQuery{}, fmt.Errorf("update %s: %d columns but %d values", table, len(columns), len(values))
	}
	if len(where) == 0 {
		return dbexec.SQLQuery{}, fmt.Errorf("update %s requires a where clause", table)
	}

	update := sq.Update(d.Quote(table))
	for i, col := range columns {
		update = update.Set(d.Quote(col), values[i])
	}
	query, args, err := update.
		Where(quoteEq(d, where)).
		PlaceholderFormat(d.Placeholder()).
		ToSql()
	if err != nil {
		return dbexec.SQLQuery{}, err
	}
	return dbexec.SQLQuery{SQL: query, Args: args}, nil
}

// PlanDelete builds SQL for deleting the rows matching where.
func PlanDelete(d sqlutil.Dialect, table string, where map[string]interface{}) (dbexec.SQLQuery, error) {
	// An empty where would delete the whole table.
	if len(where) == 0 {
		return dbexec.SQLQuery{}, fmt.Errorf("delete from %s requires a where clause", table)
	}
	query, args, err := sq.Delete(d.Quote(table)).
		Where(quoteEq(d, where)).
		PlaceholderFormat(d.Placeholder()).
		ToSql()
	if err != nil {
		return dbexec.SQLQuery{}, err
	}
	return dbexec.SQLQuery{SQL: query, Args: args}, nil
}

// PlanSelectRows builds SQL reading raw columns of the rows matching where.
func PlanSelectRows(d sqlutil.Dialect, table string, columns []string, where map[string]interface{}) (dbexec.SQLQuery, error) {
	if len(columns) == 0 {
		return dbexec.SQLQuery{}, fmt.Errorf("select from %s requires columns", table)
	}
	quotedCols := make([]string, len(columns))
	for i, col := range columns {
		quotedCols[i] = d.Quote(col)
	}
	builder := sq.Select(quotedCols...).From(d.Quote(table))
	if len(where) > 0 {
		builder = builder.Where(quoteEq(d, where))
	}
	query, args, err := builder.PlaceholderFormat(d.Placeholder()).ToSql()
	if err != nil {
		return dbexec.SQLQuery{}, err
	}
	return dbexec.SQLQuery{SQL: query, Args: args}, nil
}

func quoteEq(d sqlutil.Dialect, where map[string]interface{}) sq.Eq {
	eq := sq.Eq{}
	for col, val := range where {
		eq[d.Quote(col)] = val
	}
	return eq
}
