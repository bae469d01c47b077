package config

import (
	"github.com/coral-mesh/cycletrack/internal/constants"
)

// DefaultConfig returns the built-in configuration. Store.Path is left empty
// and resolved against the home directory by the Loader.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level: constants.DefaultLogLevel,
		},
		Profiling: DefaultProfilingConfig(),
		Execution: ExecutionConfig{
			MaxCycles: constants.DefaultMaxCycles,
		},
	}
}

// DefaultProfilingConfig returns profiling disabled with a sample interval of
// one cycle.
func DefaultProfilingConfig() ProfilingConfig {
	return ProfilingConfig{
		Enabled:        false,
		SampleInterval: constants.DefaultSampleInterval,
	}
}
