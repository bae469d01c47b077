// Package duckdb wraps the DuckDB driver for the run history store.
//
// Open returns a *sql.DB backed by a DuckDB file. Table maps a struct with
// `duckdb` tags onto a table and generates its INSERT and SELECT statements:
//
//	type Run struct {
//	    ID     string `duckdb:"run_id,pk"`
//	    Cycles uint64 `duckdb:"total_cycles"`
//	}
//
//	runs := duckdb.NewTable[Run](tx, "execution_runs")
//	err := runs.Insert(ctx, &Run{ID: id, Cycles: 1000})
//
// Builder generates SELECT statements for the history queries:
//
//	query, args, err := runs.Select().
//	    Eq("program_hash", hash).
//	    OrderBy("-started_at").
//	    Limit(20).
//	    Build()
//
// Builder only generates SQL. Empty string filters passed to Eq are skipped,
// so an empty program hash matches every program.
package duckdb
