// Package config provides configuration loading and management.
package config

// Config is the cycletrack configuration.
//
// Values are layered: defaults, then the YAML file, then environment
// variables, then command-line flags applied by the CLI.
type Config struct {
	Logging   LoggingConfig   `yaml:"logging"`
	Profiling ProfilingConfig `yaml:"profiling"`
	Execution ExecutionConfig `yaml:"execution"`
	Store     StoreConfig     `yaml:"store"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"CYCLETRACK_LOG_LEVEL"`
	Pretty bool   `yaml:"pretty"`
}

// ProfilingConfig controls trace generation for one execution. It is read
// once when the execution starts.
type ProfilingConfig struct {
	// Enabled turns the sampling profiler on.
	Enabled bool `yaml:"enabled" env:"CYCLETRACK_PROFILE"`

	// OutputPath is the trace file. When empty the trace is kept in memory
	// only.
	OutputPath string `yaml:"output_path" env:"CYCLETRACK_TRACE_FILE"`

	// SampleInterval is the number of cycles between samples. Must be at
	// least 1.
	SampleInterval uint64 `yaml:"sample_interval" env:"CYCLETRACK_TRACE_SAMPLE_INTERVAL"`

	// Format is pprof, cpuprofile or folded. Empty infers it from the output
	// path extension.
	Format string `yaml:"format,omitempty" env:"CYCLETRACK_TRACE_FORMAT"`
}

// ExecutionConfig bounds guest executions.
type ExecutionConfig struct {
	// MaxCycles stops a run once reached. Zero means unlimited.
	MaxCycles uint64 `yaml:"max_cycles" env:"CYCLETRACK_MAX_CYCLES"`
}

// StoreConfig locates the run history database.
type StoreConfig struct {
	Path string `yaml:"path" env:"CYCLETRACK_STORE_PATH"`
}
