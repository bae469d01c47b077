package sdk

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/cycletrack/internal/config"
	"github.com/coral-mesh/cycletrack/internal/executor"
	"github.com/coral-mesh/cycletrack/internal/profiler/export"
	"github.com/coral-mesh/cycletrack/internal/tracker"
	"github.com/coral-mesh/cycletrack/internal/vm"
	"github.com/coral-mesh/cycletrack/internal/vm/asm"
)

// ProfilingConfig controls trace generation for every run of an SDK.
type ProfilingConfig = config.ProfilingConfig

// ErrLabelNotRecorded is returned by CycleTracker for a label that never
// closed in report mode.
var ErrLabelNotRecorded = tracker.ErrLabelNotRecorded

// ErrAborted is returned when a run's context is cancelled.
var ErrAborted = executor.ErrAborted

// SDK runs guest programs with cycle tracking.
type SDK struct {
	logger     zerolog.Logger
	exec       *executor.Executor
	cumulative *tracker.SharedAggregator
	config     Config
	runs       atomic.Int64
}

// Config contains SDK configuration options.
type Config struct {
	// Profiling enables the sampling profiler. SampleInterval defaults to 1.
	// Every run writes Profiling.OutputPath unless TracePerRun is set.
	Profiling ProfilingConfig

	// TracePerRun numbers trace files by run, so "t.pprof" becomes
	// "t-1.pprof", "t-2.pprof" and so on. Set it when runs overlap.
	TracePerRun bool

	// MaxCycles stops a run with a guest error once reached. Zero means
	// unlimited.
	MaxCycles uint64

	// Strip removes function names from assembled programs.
	Strip bool

	// Logger is the logger instance (optional, defaults to zerolog.Nop()).
	// Print-mode regions are reported through it.
	Logger zerolog.Logger
}

// New creates an SDK instance.
func New(cfg Config) (*SDK, error) {
	if cfg.Profiling.SampleInterval == 0 {
		cfg.Profiling.SampleInterval = config.DefaultProfilingConfig().SampleInterval
	}
	if err := cfg.Profiling.Validate(); err != nil {
		return nil, fmt.Errorf("invalid profiling configuration: %w", err)
	}

	logger := cfg.Logger.With().Str("component", "cycletrack-sdk").Logger()

	return &SDK{
		logger:     logger,
		exec:       executor.New(logger),
		cumulative: tracker.NewSharedAggregator(),
		config:     cfg,
	}, nil
}

// ExecutionResult is the outcome of one run.
type ExecutionResult struct {
	Program     string
	TotalCycles uint64
	Report      tracker.ExecutionReport

	// Warnings lists annotation problems. They never fail a run.
	Warnings []error

	// Samples is the number of samples taken; zero without profiling.
	Samples int
	// TracePath is set when the trace was written to a file.
	TracePath string

	// GuestErr is the program's own failure, if any.
	GuestErr error
}

// CycleTracker returns the total cycles recorded in report mode for label.
func (r *ExecutionResult) CycleTracker(label string) (uint64, error) {
	return r.Report.Cycles(label)
}

func newExecutionResult(res *executor.Result) *ExecutionResult {
	out := &ExecutionResult{
		Program:     res.Program,
		TotalCycles: res.TotalCycles,
		Report:      res.Report,
		TracePath:   res.TracePath,
		GuestErr:    res.GuestErr,
	}
	for _, w := range res.Warnings {
		out.Warnings = append(out.Warnings, w)
	}
	if res.Trace != nil {
		out.Samples = len(res.Trace.Samples)
	}
	return out
}

// RunFile assembles and runs the program at path. Guest output, with
// annotations removed, goes to out, which may be nil.
func (s *SDK) RunFile(ctx context.Context, path string, out io.Writer) (*ExecutionResult, error) {
	prog, err := asm.AssembleFile(path, asm.Options{Strip: s.config.Strip})
	if err != nil {
		return nil, err
	}
	return s.run(ctx, prog, out)
}

// RunSource assembles and runs src under name.
func (s *SDK) RunSource(ctx context.Context, name string, src []byte, out io.Writer) (*ExecutionResult, error) {
	prog, err := asm.Assemble(src, asm.Options{Name: name, Strip: s.config.Strip})
	if err != nil {
		return nil, err
	}
	return s.run(ctx, prog, out)
}

func (s *SDK) run(ctx context.Context, prog *vm.Program, out io.Writer) (*ExecutionResult, error) {
	prof := s.config.Profiling
	if s.config.TracePerRun {
		prof.OutputPath = export.NumberedPath(prof.OutputPath, int(s.runs.Add(1)))
	}
	res, err := s.exec.Run(ctx, prog, executor.Options{
		Profiling:  prof,
		Cumulative: s.cumulative,
		Output:     out,
		MaxCycles:  s.config.MaxCycles,
	})
	if res == nil {
		return nil, err
	}
	return newExecutionResult(res), err
}

// Cumulative returns the region totals summed over every completed run.
func (s *SDK) Cumulative() tracker.ExecutionReport {
	return s.cumulative.Snapshot()
}

// ResetCumulative clears the accumulated totals.
func (s *SDK) ResetCumulative() {
	s.cumulative.Reset()
}
