package config

import (
	"errors"

	"github.com/coral-mesh/cycletrack/internal/logging"
	"github.com/coral-mesh/cycletrack/internal/profiler"
	"github.com/coral-mesh/cycletrack/internal/profiler/export"
)

// ErrInvalidSampleInterval rejects a sample interval of zero.
var ErrInvalidSampleInterval = profiler.ErrInvalidSampleInterval

// ErrInvalidFormat rejects an unknown trace format.
var ErrInvalidFormat = errors.New("invalid trace format")

// Validate checks the profiling settings. It runs before an execution
// starts; a disabled profiler is still validated so bad files fail early.
func (c ProfilingConfig) Validate() error {
	return joinValidation(c.validate())
}

func (c ProfilingConfig) validate() []*ValidationError {
	var errs []*ValidationError
	if c.SampleInterval == 0 {
		errs = append(errs, &ValidationError{
			Field:   "profiling.sample_interval",
			Message: "must be at least 1",
			Err:     ErrInvalidSampleInterval,
		})
	}
	if c.Format != "" {
		if _, err := export.ParseFormat(c.Format); err != nil {
			errs = append(errs, &ValidationError{
				Field:   "profiling.format",
				Message: err.Error(),
				Err:     ErrInvalidFormat,
			})
		}
	}
	return errs
}

// TraceFormat returns the configured format, or the one implied by the
// output path when none is set.
func (c ProfilingConfig) TraceFormat() (export.Format, error) {
	if c.Format == "" {
		return export.FormatFromPath(c.OutputPath), nil
	}
	f, err := export.ParseFormat(c.Format)
	if err != nil {
		return "", errors.Join(ErrInvalidFormat, err)
	}
	return f, nil
}

// Validate validates the whole configuration.
func (c *Config) Validate() error {
	errs := c.Profiling.validate()
	if c.Logging.Level != "" {
		if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
			errs = append(errs, &ValidationError{
				Field:   "logging.level",
				Message: err.Error(),
			})
		}
	}
	return joinValidation(errs)
}
