// Package constants defines shared configuration constants.
package constants

var (
	ConfigFile = "config.yaml"

	DefaultDir = ".cycletrack"

	// DefaultStorePath is the run history database, relative to the home directory.
	DefaultStorePath = DefaultDir + "/" + "history.duckdb"
)

// Environment variables.
const (
	// EnvConfigDir overrides the base directory that holds DefaultDir.
	EnvConfigDir = "CYCLETRACK_CONFIG"

	EnvProfile        = "CYCLETRACK_PROFILE"
	EnvTraceFile      = "CYCLETRACK_TRACE_FILE"
	EnvSampleInterval = "CYCLETRACK_TRACE_SAMPLE_INTERVAL"
	EnvTraceFormat    = "CYCLETRACK_TRACE_FORMAT"
	EnvLogLevel       = "CYCLETRACK_LOG_LEVEL"
	EnvMaxCycles      = "CYCLETRACK_MAX_CYCLES"
	EnvStorePath      = "CYCLETRACK_STORE_PATH"
)
