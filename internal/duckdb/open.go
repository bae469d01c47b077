package duckdb

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	duckdbDriver "github.com/marcboeker/go-duckdb"
)

// Options configures how a database file is opened.
type Options struct {
	// ReadOnly opens the file with access_mode=read_only. The file must exist.
	ReadOnly bool

	// Threads limits DuckDB worker threads. Zero keeps the DuckDB default.
	Threads int
}

// Open opens the DuckDB database at path, creating its parent directory.
// An empty path or ":memory:" opens an in-memory database.
func Open(path string, opts Options) (*sql.DB, error) {
	inMemory := path == "" || path == ":memory:"
	if !inMemory && !opts.ReadOnly {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	params := url.Values{}
	if opts.ReadOnly && !inMemory {
		params.Set("access_mode", "read_only")
	}
	if opts.Threads > 0 {
		params.Set("threads", fmt.Sprint(opts.Threads))
	}

	connector, err := duckdbDriver.NewConnector(withConfig(path, params), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb %q: %w", path, err)
	}
	return sql.OpenDB(connector), nil
}

// withConfig merges params into the query string of dsn. Keys already present
// in dsn win.
func withConfig(dsn string, params url.Values) string {
	if len(params) == 0 {
		return dsn
	}

	path, query, _ := strings.Cut(dsn, "?")
	existing, err := url.ParseQuery(query)
	if err != nil {
		return dsn
	}
	for key, values := range params {
		if !existing.Has(key) {
			existing[key] = values
		}
	}
	return path + "?" + existing.Encode()
}
