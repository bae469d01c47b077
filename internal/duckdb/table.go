package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"strings"
)

// Execer matches both *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type preparer interface {
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// Table maps the struct T onto a database table. Exported fields tagged
// `duckdb:"column"` become columns in declaration order; the "pk" option
// marks primary key columns and "-" skips a field.
type Table[T any] struct {
	db       Execer
	name     string
	columns  []string
	pk       []string
	fieldIdx []int
}

// NewTable creates a Table for T bound to db. It panics if T is not a struct.
func NewTable[T any](db Execer, name string) *Table[T] {
	t := reflect.TypeFor[T]()
	if t.Kind() != reflect.Struct {
		panic(fmt.Sprintf("duckdb.Table type %s is not a struct", t))
	}

	table := &Table[T]{db: db, name: name}
	for i := range t.NumField() {
		tag := t.Field(i).Tag.Get("duckdb")
		if tag == "" || tag == "-" {
			continue
		}
		col, opts, _ := strings.Cut(tag, ",")
		col = strings.TrimSpace(col)
		table.columns = append(table.columns, col)
		table.fieldIdx = append(table.fieldIdx, i)
		for _, opt := range strings.Split(opts, ",") {
			if strings.TrimSpace(opt) == "pk" {
				table.pk = append(table.pk, col)
			}
		}
	}
	return table
}

// Name returns the table name.
func (t *Table[T]) Name() string { return t.name }

// Columns returns the mapped column names.
func (t *Table[T]) Columns() []string { return t.columns }

// PrimaryKey returns the primary key columns.
func (t *Table[T]) PrimaryKey() []string { return t.pk }

func (t *Table[T]) insertStatement() string {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(t.columns)), ", ")
	// #nosec G201 - table and column names come from struct tags
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		t.name, strings.Join(t.columns, ", "), placeholders)
}

func (t *Table[T]) values(item *T) []any {
	v := reflect.ValueOf(item).Elem()
	out := make([]any, len(t.fieldIdx))
	for i, idx := range t.fieldIdx {
		out[i] = v.Field(idx).Interface()
	}
	return out
}

// Insert inserts one row. Duplicate primary keys fail.
func (t *Table[T]) Insert(ctx context.Context, item *T) error {
	if _, err := t.db.ExecContext(ctx, t.insertStatement(), t.values(item)...); err != nil {
		return fmt.Errorf("insert into %s: %w", t.name, err)
	}
	return nil
}

// BatchInsert inserts items with one prepared statement. It does not open a
// transaction; bind the table to a *sql.Tx for atomicity.
func (t *Table[T]) BatchInsert(ctx context.Context, items []*T) error {
	if len(items) == 0 {
		return nil
	}

	p, ok := t.db.(preparer)
	if !ok {
		for _, item := range items {
			if err := t.Insert(ctx, item); err != nil {
				return err
			}
		}
		return nil
	}

	stmt, err := p.PrepareContext(ctx, t.insertStatement())
	if err != nil {
		return fmt.Errorf("prepare insert into %s: %w", t.name, err)
	}
	defer func() { _ = stmt.Close() }()

	for _, item := range items {
		if _, err := stmt.ExecContext(ctx, t.values(item)...); err != nil {
			return fmt.Errorf("batch insert into %s: %w", t.name, err)
		}
	}
	return nil
}

// Select returns a builder selecting every mapped column of the table.
func (t *Table[T]) Select() *Builder {
	return NewQueryBuilder(t.name).Select(t.columns...)
}

// Query runs the statement built by b and scans each row into a T. The
// builder must select the table's columns in order, as Select does.
func (t *Table[T]) Query(ctx context.Context, b *Builder) ([]*T, error) {
	query, args, err := b.Build()
	if err != nil {
		return nil, err
	}

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", t.name, err)
	}
	defer func() { _ = rows.Close() }()

	var items []*T
	for rows.Next() {
		item := new(T)
		v := reflect.ValueOf(item).Elem()
		dest := make([]any, len(t.fieldIdx))
		for i, idx := range t.fieldIdx {
			dest[i] = v.Field(idx).Addr().Interface()
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", t.name, err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
