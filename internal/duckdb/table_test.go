package duckdb

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testRun struct {
	ID        string    `duckdb:"run_id,pk"`
	Program   string    `duckdb:"program"`
	Cycles    uint64    `duckdb:"total_cycles"`
	StartedAt time.Time `duckdb:"started_at"`
	Scratch   string    `duckdb:"-"`
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "nested", "test.duckdb"), Options{Threads: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`CREATE TABLE runs (
		run_id VARCHAR PRIMARY KEY,
		program VARCHAR NOT NULL,
		total_cycles UBIGINT NOT NULL,
		started_at TIMESTAMP NOT NULL
	)`)
	require.NoError(t, err)
	return db
}

func TestNewTable_Columns(t *testing.T) {
	table := NewTable[testRun](nil, "runs")

	assert.Equal(t, "runs", table.Name())
	assert.Equal(t, []string{"run_id", "program", "total_cycles", "started_at"}, table.Columns())
	assert.Equal(t, []string{"run_id"}, table.PrimaryKey())
	assert.Equal(t, "INSERT INTO runs (run_id, program, total_cycles, started_at) VALUES (?, ?, ?, ?)",
		table.insertStatement())
}

func TestNewTable_PanicsOnNonStruct(t *testing.T) {
	assert.Panics(t, func() { NewTable[int](nil, "numbers") })
}

func TestTable_InsertAndQuery(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	table := NewTable[testRun](db, "runs")

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, table.Insert(ctx, &testRun{ID: "a", Program: "fib", Cycles: 1000, StartedAt: base}))

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	err = NewTable[testRun](tx, "runs").BatchInsert(ctx, []*testRun{
		{ID: "b", Program: "fib", Cycles: 1<<40 + 1, StartedAt: base.Add(time.Minute)},
		{ID: "c", Program: "loop", Cycles: 7, StartedAt: base.Add(2 * time.Minute)},
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	runs, err := table.Query(ctx, table.Select().Eq("program", "fib").OrderBy("-started_at"))
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "b", runs[0].ID)
	assert.Equal(t, uint64(1<<40+1), runs[0].Cycles)
	assert.True(t, base.Add(time.Minute).Equal(runs[0].StartedAt))
	assert.Equal(t, "a", runs[1].ID)

	all, err := table.Query(ctx, table.Select().Eq("program", "").Limit(10))
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestTable_InsertDuplicateKeyFails(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	table := NewTable[testRun](db, "runs")

	run := &testRun{ID: "dup", Program: "p", StartedAt: time.Now().UTC()}
	require.NoError(t, table.Insert(ctx, run))
	err := table.Insert(ctx, run)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert into runs")
}

func TestTable_BatchInsertRollsBackWithTx(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	err = NewTable[testRun](tx, "runs").BatchInsert(ctx, []*testRun{
		{ID: "x", Program: "p", StartedAt: time.Now().UTC()},
		{ID: "x", Program: "p", StartedAt: time.Now().UTC()},
	})
	require.Error(t, err)
	require.NoError(t, tx.Rollback())

	var count int
	require.NoError(t, db.QueryRow("SELECT count(*) FROM runs").Scan(&count))
	assert.Zero(t, count)
}

func TestOpen_ReadOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ro.duckdb")

	db, err := Open(path, Options{})
	require.NoError(t, err)
	_, err = db.Exec("CREATE TABLE t (x INTEGER)")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	ro, err := Open(path, Options{ReadOnly: true})
	require.NoError(t, err)
	defer func() { _ = ro.Close() }()

	_, err = ro.Exec("INSERT INTO t VALUES (1)")
	assert.Error(t, err)
}

func TestWithConfig(t *testing.T) {
	params := map[string][]string{"threads": {"2"}, "access_mode": {"read_only"}}

	assert.Equal(t, "db.duckdb?access_mode=read_only&threads=2", withConfig("db.duckdb", params))
	assert.Equal(t, "db.duckdb?access_mode=read_only&threads=8", withConfig("db.duckdb?threads=8", params))
	assert.Equal(t, "db.duckdb", withConfig("db.duckdb", nil))
}
