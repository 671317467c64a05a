package mutation

import (
	"fmt"
	"log/slog"

	"relstore/internal/dbexec"
	"relstore/internal/mapper"
	"relstore/internal/planner"
	"relstore/internal/sqlutil"
)

// row is one physical row: its surrogate row id and every non-null column.
type row struct {
	id     int64
	values map[string]any
}

// readRow loads the row holding record id in column.
func (o *op) readRow(table *mapper.TableInfo, column string, id any) (*row, error) {
	columns := append([]string{sqlutil.RowIDColumn}, table.ColumnNames()...)
	q, err := planner.PlanSelectRows(o.dialect(), table.Name, columns, map[string]interface{}{column: id})
	if err != nil {
		return nil, err
	}
	rows, err := o.db.Query(o.ctx, q)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	raw := rows[0]
	rowID, ok := dbexec.AsInt64(raw[0])
	if !ok {
		return nil, fmt.Errorf("%s: unexpected row id type %T", table.Name, raw[0])
	}
	r := &row{id: rowID, values: make(map[string]any)}
	for i, col := range columns[1:] {
		if v := raw[i+1]; v != nil {
			r.values[col] = v
		}
	}
	return r, nil
}

func (o *op) insertRow(table *mapper.TableInfo, values map[string]any) error {
	var columns []string
	var args []interface{}
	for _, col := range table.ColumnNames() {
		if v, ok := values[col]; ok {
			columns = append(columns, col)
			args = append(args, v)
		}
	}
	q, err := planner.PlanInsert(o.dialect(), table.Name, columns, args)
	if err != nil {
		return err
	}
	_, err = o.db.Insert(o.ctx, q)
	return err
}

// updateWhere sets values on the rows where column = id. Column order
// follows the table definition so statements are deterministic.
func (o *op) updateWhere(table *mapper.TableInfo, values map[string]any, column string, id any) (int64, error) {
	var columns []string
	var args []interface{}
	for _, col := range table.ColumnNames() {
		if v, ok := values[col]; ok {
			columns = append(columns, col)
			args = append(args, v)
		}
	}
	if len(columns) == 0 {
		return 0, nil
	}
	q, err := planner.PlanUpdate(o.dialect(), table.Name, columns, args, map[string]interface{}{column: id})
	if err != nil {
		return 0, err
	}
	return o.db.Update(o.ctx, q)
}

func (o *op) deleteRow(table *mapper.TableInfo, rowID int64) error {
	q, err := planner.PlanDelete(o.dialect(), table.Name, map[string]interface{}{sqlutil.RowIDColumn: rowID})
	if err != nil {
		return err
	}
	_, err = o.db.Delete(o.ctx, q)
	return err
}

// removeFromRow clears the columns of one record instance. The row is deleted
// when nothing else lives in it; otherwise records no longer connected to the
// first remaining one are moved into rows of their own.
func (o *op) removeFromRow(record *mapper.RecordInfo, id any) error {
	table := o.m.TableOf(record)
	r, err := o.readRow(table, record.IDColumn, id)
	if err != nil || r == nil {
		return err
	}
	for _, col := range table.OwnColumns(record.Name) {
		delete(r.values, col)
	}

	groups := o.components(table, r.values)
	if len(groups) == 0 {
		return o.deleteRow(table, r.id)
	}

	cleared := make(map[string]any)
	for _, col := range table.OwnColumns(record.Name) {
		cleared[col] = nil
	}
	for _, group := range groups[1:] {
		moved := make(map[string]any)
		for _, name := range group {
			for _, col := range table.OwnColumns(name) {
				if v, ok := r.values[col]; ok {
					moved[col] = v
					cleared[col] = nil
				}
			}
		}
		if err := o.insertRow(table, moved); err != nil {
			return err
		}
		o.e.logger.Debug("row split",
			slog.String("table", table.Name),
			slog.Any("records", group),
		)
	}
	_, err = o.updateWhere(table, cleared, sqlutil.RowIDColumn, r.id)
	return err
}

// components groups the records present in a row by connectivity: a relation
// record is connected to each endpoint stored in the same row.
func (o *op) components(table *mapper.TableInfo, values map[string]any) [][]string {
	var present []string
	isPresent := make(map[string]bool)
	for _, name := range table.Records {
		rec, err := o.m.Record(name)
		if err != nil {
			continue
		}
		if values[rec.IDColumn] != nil {
			present = append(present, name)
			isPresent[name] = true
		}
	}

	parent := make(map[string]string, len(present))
	var find func(string) string
	find = func(x string) string {
		if parent[x] == x {
			return x
		}
		parent[x] = find(parent[x])
		return parent[x]
	}
	for _, name := range present {
		parent[name] = name
	}
	for _, name := range present {
		rec, _ := o.m.Record(name)
		if !rec.IsRelation {
			continue
		}
		for _, side := range []mapper.Side{mapper.SideSource, mapper.SideTarget} {
			endpoint := rec.Link.Record(side)
			if rec.Link.Implicit(side) && isPresent[endpoint] {
				parent[find(name)] = find(endpoint)
			}
		}
	}

	var groups [][]string
	index := make(map[string]int)
	for _, name := range present {
		root := find(name)
		i, ok := index[root]
		if !ok {
			i = len(groups)
			index[root] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], name)
	}
	return groups
}
