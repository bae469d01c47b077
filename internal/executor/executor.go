// Package executor runs guest programs with cycle tracking and, optionally,
// sampled call-stack profiling.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/cycletrack/internal/config"
	"github.com/coral-mesh/cycletrack/internal/constants"
	"github.com/coral-mesh/cycletrack/internal/profiler"
	"github.com/coral-mesh/cycletrack/internal/profiler/export"
	"github.com/coral-mesh/cycletrack/internal/tracker"
	"github.com/coral-mesh/cycletrack/internal/vm"
)

// ErrAborted is returned when the context is cancelled during a run.
var ErrAborted = errors.New("execution aborted")

// ReportMerger receives the report of every completed run.
type ReportMerger interface {
	Merge(report tracker.ExecutionReport)
}

// Options configures one run.
type Options struct {
	// Profiling is read once at the start of the run.
	Profiling config.ProfilingConfig

	// Cumulative, when set, receives the run's report after the run
	// completes. Aborted runs are never merged.
	Cumulative ReportMerger

	// PartialTrace exports whatever was sampled when a run is aborted.
	PartialTrace bool

	// Output receives guest output with annotation lines removed.
	Output io.Writer

	// MaxCycles stops the guest with vm.ErrCycleLimitExceeded. Zero means
	// unlimited.
	MaxCycles uint64
}

// Result describes a completed run.
type Result struct {
	Program     string
	ProgramHash string
	StartedAt   time.Time
	Duration    time.Duration
	TotalCycles uint64
	Report      tracker.ExecutionReport
	Warnings    []*tracker.Warning

	// Trace is set when profiling was enabled.
	Trace *profiler.Trace
	// TracePath is set when the trace was written to a file.
	TracePath string

	// GuestErr is the guest program's own failure, if any. It does not make
	// Run fail.
	GuestErr error
}

// Executor runs programs. It holds no per-run state and may be shared by
// concurrent callers.
type Executor struct {
	logger zerolog.Logger
}

// New creates an executor.
func New(logger zerolog.Logger) *Executor {
	return &Executor{logger: logger.With().Str("component", "executor").Logger()}
}

// Run executes prog to completion. The returned error covers host-side
// failures only: invalid options, output failures, cancellation (wrapping
// ErrAborted) and trace export (wrapping export.ErrTraceExportFailure). On an
// export failure the Result is returned alongside the error so the report is
// not lost.
func (e *Executor) Run(ctx context.Context, prog *vm.Program, opts Options) (*Result, error) {
	prof := opts.Profiling
	var format export.Format
	if prof.Enabled {
		if err := prof.Validate(); err != nil {
			return nil, fmt.Errorf("invalid profiling configuration: %w", err)
		}
		f, err := prof.TraceFormat()
		if err != nil {
			return nil, err
		}
		format = f
	}

	logger := e.logger.With().Str("program", prog.Name).Logger()
	res := &Result{
		Program:     prog.Name,
		ProgramHash: prog.Hash(),
		StartedAt:   time.Now(),
	}

	// The machine writes into the scanner and the scanner reads the
	// machine's clock, so the clock is bound after both exist.
	var machine *vm.Machine
	agg := tracker.NewAggregator()
	scanner := tracker.NewScanner(
		tracker.ClockFunc(func() uint64 { return machine.Cycles() }),
		agg, opts.Output, logger)
	machine = vm.New(prog, vm.Options{Output: scanner, MaxCycles: opts.MaxCycles})

	var sampler *profiler.Profiler
	if prof.Enabled {
		p, err := profiler.New(prof.SampleInterval, machine)
		if err != nil {
			return nil, err
		}
		sampler = p
	}

	logger.Debug().
		Bool("profiling", prof.Enabled).
		Uint64("sample_interval", prof.SampleInterval).
		Uint64("max_cycles", opts.MaxCycles).
		Msg("Starting execution")

	for !machine.Halted() {
		cycle := machine.Cycles()
		if sampler != nil {
			sampler.Observe(cycle)
		}
		if cycle%constants.CancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, e.abort(res, machine, scanner, sampler, opts, format, err)
			}
		}
		if err := machine.Step(); err != nil {
			if errors.Is(err, vm.ErrOutput) {
				return nil, fmt.Errorf("guest output failed: %w", err)
			}
			res.GuestErr = err
			break
		}
	}
	if sampler != nil {
		sampler.Observe(machine.Cycles())
	}
	if err := scanner.Flush(); err != nil {
		return nil, fmt.Errorf("guest output failed: %w", err)
	}

	scanner.Finish()
	res.TotalCycles = machine.Cycles()
	res.Duration = time.Since(res.StartedAt)
	res.Report = agg.Snapshot()
	res.Warnings = scanner.Warnings()

	if opts.Cumulative != nil {
		opts.Cumulative.Merge(res.Report)
	}

	if res.GuestErr != nil {
		logger.Warn().Err(res.GuestErr).Uint64("cycles", res.TotalCycles).Msg("Guest program failed")
	}
	logger.Info().
		Uint64("cycles", res.TotalCycles).
		Int("regions", len(res.Report.CycleTracker)).
		Int("warnings", len(res.Warnings)).
		Dur("elapsed", res.Duration).
		Msg("Execution finished")

	if sampler != nil {
		res.Trace = sampler.Trace(res.TotalCycles)
		res.Trace.Program = prog.Name
		if prof.OutputPath != "" {
			if err := e.exportTrace(res.Trace, prof.OutputPath, format); err != nil {
				return res, err
			}
			res.TracePath = prof.OutputPath
		}
	}

	return res, nil
}

func (e *Executor) abort(
	res *Result,
	machine *vm.Machine,
	scanner *tracker.Scanner,
	sampler *profiler.Profiler,
	opts Options,
	format export.Format,
	cause error,
) error {
	scanner.Discard()
	e.logger.Warn().
		Str("program", res.Program).
		Uint64("cycles", machine.Cycles()).
		Err(cause).
		Msg("Execution aborted")

	if sampler == nil {
		return fmt.Errorf("%w: %w", ErrAborted, cause)
	}
	if opts.PartialTrace && opts.Profiling.OutputPath != "" {
		trace := sampler.Trace(machine.Cycles())
		trace.Program = res.Program
		if err := e.exportTrace(trace, opts.Profiling.OutputPath, format); err != nil {
			e.logger.Error().Err(err).Msg("Failed to export partial trace")
		}
	}
	sampler.Discard()
	return fmt.Errorf("%w: %w", ErrAborted, cause)
}

func (e *Executor) exportTrace(trace *profiler.Trace, path string, format export.Format) error {
	start := time.Now()
	if err := export.Export(trace, path, format); err != nil {
		e.logger.Error().Err(err).Str("path", path).Msg("Trace export failed")
		return err
	}
	e.logger.Info().
		Str("path", path).
		Str("format", string(format)).
		Int("samples", len(trace.Samples)).
		Int("frames", len(trace.Frames)).
		Dur("elapsed", time.Since(start)).
		Msg("Trace written")
	return nil
}
