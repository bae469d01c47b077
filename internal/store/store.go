// Package store keeps the history of instrumented runs in DuckDB so region
// totals can be accumulated across invocations of the CLI.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/coral-mesh/cycletrack/internal/duckdb"
	"github.com/coral-mesh/cycletrack/internal/errors"
	"github.com/coral-mesh/cycletrack/internal/executor"
	"github.com/coral-mesh/cycletrack/internal/retry"
	"github.com/coral-mesh/cycletrack/internal/tracker"
)

// Run is one recorded execution.
type Run struct {
	ID          string                  `duckdb:"run_id,pk" json:"run_id"`
	Program     string                  `duckdb:"program" json:"program"`
	ProgramHash string                  `duckdb:"program_hash" json:"program_hash"`
	StartedAt   time.Time               `duckdb:"started_at" json:"started_at"`
	DurationUS  int64                   `duckdb:"duration_us" json:"duration_us"`
	TotalCycles uint64                  `duckdb:"total_cycles" json:"total_cycles"`
	Warnings    int32                   `duckdb:"warnings" json:"warnings"`
	GuestError  string                  `duckdb:"guest_error" json:"guest_error,omitempty"`
	TracePath   string                  `duckdb:"trace_path" json:"trace_path,omitempty"`
	Host        string                  `duckdb:"host" json:"host"`
	Report      tracker.ExecutionReport `duckdb:"-" json:"report"`
}

// Duration returns the wall-clock duration of the run.
func (r *Run) Duration() time.Duration {
	return time.Duration(r.DurationUS) * time.Microsecond
}

// RegionTotal is one label's cycles within a run.
type RegionTotal struct {
	RunID  string `duckdb:"run_id,pk"`
	Label  string `duckdb:"label,pk"`
	Cycles uint64 `duckdb:"cycles"`
}

// FromResult converts an executor result into a Run with a fresh ID.
func FromResult(res *executor.Result) *Run {
	run := &Run{
		ID:          uuid.New().String(),
		Program:     res.Program,
		ProgramHash: res.ProgramHash,
		StartedAt:   res.StartedAt.UTC().Truncate(time.Microsecond),
		DurationUS:  res.Duration.Microseconds(),
		TotalCycles: res.TotalCycles,
		Warnings:    int32(min(len(res.Warnings), 1<<31-1)), // #nosec G115 - clamped
		TracePath:   res.TracePath,
		Report:      res.Report,
	}
	if res.GuestErr != nil {
		run.GuestError = res.GuestErr.Error()
	}
	return run
}

// Store is the run history database. It is safe for concurrent use.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
	retry  retry.Config
}

// Open opens or creates the history database at path and ensures its schema.
// An empty path opens an in-memory store.
func Open(ctx context.Context, path string, logger zerolog.Logger) (*Store, error) {
	db, err := duckdb.Open(path, duckdb.Options{})
	if err != nil {
		return nil, err
	}

	s := &Store{
		db:     db,
		logger: logger.With().Str("component", "store").Str("path", path).Logger(),
		retry:  retry.DefaultConfig(),
	}
	if err := s.migrate(ctx); err != nil {
		errors.DeferClose(s.logger, db, "failed to close history database")
		return nil, err
	}

	s.logger.Debug().Msg("Run history store opened")
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize history schema: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun records run and its region totals in one transaction, retrying
// transaction conflicts. An empty ID is replaced with a new UUID and an empty
// Host with a description of the local machine.
func (s *Store) SaveRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.Host == "" {
		run.Host = describeHost()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC().Truncate(time.Microsecond)
	}

	err := retry.Do(ctx, s.retry, func() error {
		return s.saveRunTx(ctx, run)
	}, duckdb.IsTransactionConflict)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.ID, err)
	}

	s.logger.Debug().
		Str("run_id", run.ID).
		Str("program", run.Program).
		Int("regions", len(run.Report.CycleTracker)).
		Msg("Run recorded")
	return nil
}

func (s *Store) saveRunTx(ctx context.Context, run *Run) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer errors.DeferRollback(s.logger, tx)

	if err := duckdb.NewTable[Run](tx, runsTable).Insert(ctx, run); err != nil {
		return err
	}

	labels := run.Report.Labels()
	regions := make([]*RegionTotal, 0, len(labels))
	for _, label := range labels {
		regions = append(regions, &RegionTotal{
			RunID:  run.ID,
			Label:  label,
			Cycles: run.Report.CycleTracker[label],
		})
	}
	if err := duckdb.NewTable[RegionTotal](tx, regionsTable).BatchInsert(ctx, regions); err != nil {
		return err
	}

	return tx.Commit()
}

// CumulativeReport sums region totals over every recorded run of the program
// with the given hash. An empty hash sums over all programs.
func (s *Store) CumulativeReport(ctx context.Context, programHash string) (tracker.ExecutionReport, error) {
	b := duckdb.NewQueryBuilder(regionsTable).
		Select("label", "CAST(SUM(cycles) AS UBIGINT) AS cycles").
		GroupBy("label").
		OrderBy("label")
	if programHash != "" {
		b.Where("run_id IN (SELECT run_id FROM "+runsTable+" WHERE program_hash = ?)", programHash)
	}

	query, args, err := b.Build()
	if err != nil {
		return tracker.ExecutionReport{}, err
	}
	s.logger.Trace().Str("query", duckdb.InterpolateQuery(query, args)).Msg("Cumulative report query")

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return tracker.ExecutionReport{}, fmt.Errorf("failed to query region totals: %w", err)
	}
	defer errors.DeferClose(s.logger, rows, "failed to close region totals rows")

	report := tracker.ExecutionReport{CycleTracker: make(map[string]uint64)}
	for rows.Next() {
		var label string
		var cycles uint64
		if err := rows.Scan(&label, &cycles); err != nil {
			return tracker.ExecutionReport{}, fmt.Errorf("failed to scan region total: %w", err)
		}
		report.CycleTracker[label] = cycles
	}
	if err := rows.Err(); err != nil {
		return tracker.ExecutionReport{}, fmt.Errorf("failed to read region totals: %w", err)
	}
	return report, nil
}

// ListRuns returns the most recent runs of the program with the given hash,
// newest first, with their region totals. An empty hash lists all programs;
// a limit of zero or less lists every run.
func (s *Store) ListRuns(ctx context.Context, programHash string, limit int) ([]*Run, error) {
	runs := duckdb.NewTable[Run](s.db, runsTable)
	b := runs.Select().
		Eq("program_hash", programHash).
		OrderBy("-started_at", "run_id").
		Limit(limit)

	list, err := runs.Query(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	if len(list) == 0 {
		return list, nil
	}

	byID := make(map[string]*Run, len(list))
	ids := make([]any, 0, len(list))
	for _, run := range list {
		run.Report = tracker.ExecutionReport{CycleTracker: make(map[string]uint64)}
		byID[run.ID] = run
		ids = append(ids, run.ID)
	}

	regions := duckdb.NewTable[RegionTotal](s.db, regionsTable)
	rb := regions.Select().Where(inClause("run_id", len(ids)), ids...)
	totals, err := regions.Query(ctx, rb)
	if err != nil {
		return nil, fmt.Errorf("failed to load region totals: %w", err)
	}
	for _, rt := range totals {
		if run, ok := byID[rt.RunID]; ok {
			run.Report.CycleTracker[rt.Label] = rt.Cycles
		}
	}
	return list, nil
}

// CountRuns returns the number of recorded runs of the program with the given
// hash, or of all programs for an empty hash.
func (s *Store) CountRuns(ctx context.Context, programHash string) (int, error) {
	query, args, err := duckdb.NewQueryBuilder(runsTable).
		Select("count(*)").
		Eq("program_hash", programHash).
		Build()
	if err != nil {
		return 0, err
	}

	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count runs: %w", err)
	}
	return n, nil
}

func inClause(column string, n int) string {
	placeholders := make([]byte, 0, 3*n)
	for i := range n {
		if i > 0 {
			placeholders = append(placeholders, ", "...)
		}
		placeholders = append(placeholders, '?')
	}
	return column + " IN (" + string(placeholders) + ")"
}
