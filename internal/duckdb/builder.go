package duckdb

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoTable is returned by Build when the builder has no table.
var ErrNoTable = errors.New("table name is required")

// Builder constructs SELECT statements with a fluent API.
type Builder struct {
	table   string
	columns []string
	where   []whereClause
	groupBy []string
	orderBy []string
	limit   int
}

type whereClause struct {
	expr string
	args []any
}

// NewQueryBuilder creates a builder selecting from table. The table may be a
// subquery or join expression; it is written verbatim.
func NewQueryBuilder(table string) *Builder {
	return &Builder{table: table}
}

// Select appends result columns. Aggregates and aliases are allowed:
//
//	Select("label", "CAST(SUM(cycles) AS UBIGINT) AS cycles")
func (b *Builder) Select(columns ...string) *Builder {
	b.columns = append(b.columns, columns...)
	return b
}

// Where adds a condition. Conditions are joined with AND.
func (b *Builder) Where(expr string, args ...any) *Builder {
	b.where = append(b.where, whereClause{expr: expr, args: args})
	return b
}

// Eq adds "column = ?". An empty string value skips the filter.
func (b *Builder) Eq(column string, value any) *Builder {
	if s, ok := value.(string); ok && s == "" {
		return b
	}
	return b.Where(column+" = ?", value)
}

// GroupBy appends GROUP BY columns.
func (b *Builder) GroupBy(columns ...string) *Builder {
	b.groupBy = append(b.groupBy, columns...)
	return b
}

// OrderBy appends ORDER BY columns. A leading "-" sorts descending.
func (b *Builder) OrderBy(columns ...string) *Builder {
	for _, col := range columns {
		if desc, ok := strings.CutPrefix(col, "-"); ok {
			col = desc + " DESC"
		}
		b.orderBy = append(b.orderBy, col)
	}
	return b
}

// Limit caps the number of rows. Zero or less means no limit.
func (b *Builder) Limit(n int) *Builder {
	b.limit = n
	return b
}

// Build returns the statement and its arguments in placeholder order.
func (b *Builder) Build() (string, []any, error) {
	if b.table == "" {
		return "", nil, ErrNoTable
	}

	var q strings.Builder
	var args []any

	q.WriteString("SELECT ")
	if len(b.columns) == 0 {
		q.WriteString("*")
	} else {
		q.WriteString(strings.Join(b.columns, ", "))
	}
	fmt.Fprintf(&q, " FROM %s", b.table)

	if len(b.where) > 0 {
		exprs := make([]string, len(b.where))
		for i, w := range b.where {
			exprs[i] = w.expr
			args = append(args, w.args...)
		}
		q.WriteString(" WHERE ")
		q.WriteString(strings.Join(exprs, " AND "))
	}
	if len(b.groupBy) > 0 {
		q.WriteString(" GROUP BY ")
		q.WriteString(strings.Join(b.groupBy, ", "))
	}
	if len(b.orderBy) > 0 {
		q.WriteString(" ORDER BY ")
		q.WriteString(strings.Join(b.orderBy, ", "))
	}
	if b.limit > 0 {
		q.WriteString(" LIMIT ?")
		args = append(args, b.limit)
	}

	return q.String(), args, nil
}
