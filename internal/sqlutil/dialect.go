package sqlutil

import (
	"encoding/json"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// Dialect names a SQL flavour the store can generate for.
type Dialect string

const (
	MySQL    Dialect = "mysql"
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// ColumnKind is the logical type of a physical column.
type ColumnKind int

const (
	KindID ColumnKind = iota
	KindString
	KindNumber
	KindBoolean
	KindJSON
)

// ColumnDef describes one column of a CREATE TABLE statement.
type ColumnDef struct {
	Name    string
	Kind    ColumnKind
	Indexed bool
}

// RowIDColumn is the surrogate primary key present in every data table.
const RowIDColumn = "_rowId"

// SequenceTable backs per-record id allocation.
const SequenceTable = "_IDS_"

// ParseDialect accepts the configured dialect names.
func ParseDialect(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "mysql", "tidb":
		return MySQL, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	}
	return "", fmt.Errorf("unsupported dialect %q (use mysql, sqlite or postgres)", name)
}

// DriverName is the database/sql driver name registered for the dialect.
func (d Dialect) DriverName() string {
	switch d {
	case SQLite:
		return "sqlite3"
	case Postgres:
		return "pgx"
	default:
		return "mysql"
	}
}

// Quote quotes an identifier for the dialect.
func (d Dialect) Quote(name string) string {
	if d == Postgres {
		return QuoteANSIIdentifier(name)
	}
	return QuoteIdentifier(name)
}

// Qualified returns alias.column, both quoted.
func (d Dialect) Qualified(alias, column string) string {
	if alias == "" {
		return d.Quote(column)
	}
	return d.Quote(alias) + "." + d.Quote(column)
}

// Placeholder returns the squirrel placeholder format for the dialect.
func (d Dialect) Placeholder() sq.PlaceholderFormat {
	if d == Postgres {
		return sq.Dollar
	}
	return sq.Question
}

// MaxIdentifierLength is the longest identifier the dialect keeps intact.
func (d Dialect) MaxIdentifierLength() int {
	switch d {
	case Postgres:
		return 63
	default:
		return 64
	}
}

// ColumnType maps a logical column kind to the dialect's SQL type.
func (d Dialect) ColumnType(kind ColumnKind) string {
	switch d {
	case SQLite:
		switch kind {
		case KindID, KindBoolean:
			return "INTEGER"
		case KindNumber:
			return "REAL"
		default:
			return "TEXT"
		}
	case Postgres:
		switch kind {
		case KindID:
			return "BIGINT"
		case KindNumber:
			return "DOUBLE PRECISION"
		case KindBoolean:
			return "BOOLEAN"
		default:
			return "TEXT"
		}
	default:
		switch kind {
		case KindID:
			return "BIGINT"
		case KindNumber:
			return "DOUBLE"
		case KindBoolean:
			return "TINYINT(1)"
		default:
			return "TEXT"
		}
	}
}

func (d Dialect) rowIDDefinition() string {
	switch d {
	case SQLite:
		return d.Quote(RowIDColumn) + " INTEGER PRIMARY KEY AUTOINCREMENT"
	case Postgres:
		return d.Quote(RowIDColumn) + " BIGSERIAL PRIMARY KEY"
	default:
		return d.Quote(RowIDColumn) + " BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY"
	}
}

// CreateTable returns the statements creating a data table and its indexes.
// indexName maps a column to the index name to use for it.
func (d Dialect) CreateTable(table string, cols []ColumnDef, indexName func(column string) string) []string {
	defs := []string{d.rowIDDefinition()}
	for _, col := range cols {
		defs = append(defs, fmt.Sprintf("%s %s NULL", d.Quote(col.Name), d.ColumnType(col.Kind)))
	}

	var stmts []string
	if d == MySQL {
		for _, col := range cols {
			if col.Indexed {
				defs = append(defs, fmt.Sprintf("INDEX %s (%s)", d.Quote(indexName(col.Name)), d.Quote(col.Name)))
			}
		}
		return append(stmts, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)", d.Quote(table), strings.Join(defs, ",\n  ")))
	}

	stmts = append(stmts, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)", d.Quote(table), strings.Join(defs, ",\n  ")))
	for _, col := range cols {
		if col.Indexed {
			stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
				d.Quote(indexName(col.Name)), d.Quote(table), d.Quote(col.Name)))
		}
	}
	return stmts
}

// CreateSequenceTable returns the DDL of the id allocation table.
func (d Dialect) CreateSequenceTable() string {
	nameType := "VARCHAR(255)"
	if d == SQLite {
		nameType = "TEXT"
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s %s NOT NULL PRIMARY KEY,\n  %s %s NOT NULL\n)",
		d.Quote(SequenceTable), d.Quote("name"), nameType, d.Quote("last"), d.ColumnType(KindID))
}

// JSONContains builds a predicate testing whether the JSON array stored in
// column contains value.
func (d Dialect) JSONContains(column string, value any) (sq.Sqlizer, error) {
	switch d {
	case SQLite:
		return sq.Expr(fmt.Sprintf("EXISTS (SELECT 1 FROM json_each(%s) WHERE json_each.value = ?)", column), value), nil
	case Postgres:
		encoded, err := json.Marshal([]any{value})
		if err != nil {
			return nil, fmt.Errorf("failed to encode contains operand: %w", err)
		}
		return sq.Expr(fmt.Sprintf("CAST(%s AS JSONB) @> CAST(? AS JSONB)", column), string(encoded)), nil
	default:
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("failed to encode contains operand: %w", err)
		}
		return sq.Expr(fmt.Sprintf("JSON_CONTAINS(%s, ?)", column), string(encoded)), nil
	}
}
