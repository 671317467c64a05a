package dbexec

import (
	"context"

	sq "github.com/Masterminds/squirrel"

	"relstore/internal/schema"
	"relstore/internal/sqlutil"
)

// SQLQuery is a rendered statement with positional arguments.
type SQLQuery struct {
	SQL  string
	Args []interface{}
}

// Database is the driver contract consumed by the storage engine.
type Database interface {
	// Query returns every row as a slice of column values in select order.
	Query(ctx context.Context, q SQLQuery) ([][]any, error)
	// Insert, Update and Delete return the number of affected rows.
	Insert(ctx context.Context, q SQLQuery) (int64, error)
	Update(ctx context.Context, q SQLQuery) (int64, error)
	Delete(ctx context.Context, q SQLQuery) (int64, error)
	// Scheme executes a DDL statement.
	Scheme(ctx context.Context, ddl string) error
	// GetAutoID allocates the next id of record.
	GetAutoID(ctx context.Context, record string) (int64, error)
	Dialect() sqlutil.Dialect
}

// Tx is a Database bound to a transaction.
type Tx interface {
	Database
	Commit() error
	Rollback() error
}

// Transactional is implemented by databases that can open transactions.
type Transactional interface {
	Begin(ctx context.Context) (Tx, error)
}

// MatchField describes the column an atom of a match expression compares.
type MatchField struct {
	Key        string
	Column     string
	Type       schema.PropertyType
	Collection bool
}

// MatchExpressionParser lets a driver translate engine specific operators.
// It returns handled=false for operators it does not recognise.
// resolveRef turns a dotted attribute path into a qualified column for
// column-to-column comparisons.
type MatchExpressionParser interface {
	ParseMatchExpression(field MatchField, op string, operand any, isReference bool, resolveRef func(path string) (string, error)) (cond sq.Sqlizer, handled bool, err error)
}
