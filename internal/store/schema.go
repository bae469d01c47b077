package store

const (
	runsTable    = "execution_runs"
	regionsTable = "region_totals"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS execution_runs (
		run_id       VARCHAR PRIMARY KEY,
		program      VARCHAR NOT NULL,
		program_hash VARCHAR NOT NULL,
		started_at   TIMESTAMP NOT NULL,
		duration_us  BIGINT NOT NULL,
		total_cycles UBIGINT NOT NULL,
		warnings     INTEGER NOT NULL,
		guest_error  VARCHAR NOT NULL,
		trace_path   VARCHAR NOT NULL,
		host         VARCHAR NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_execution_runs_hash ON execution_runs (program_hash)`,
	`CREATE TABLE IF NOT EXISTS region_totals (
		run_id VARCHAR NOT NULL,
		label  VARCHAR NOT NULL,
		cycles UBIGINT NOT NULL,
		PRIMARY KEY (run_id, label)
	)`,
}
