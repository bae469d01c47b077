// Package run implements the cycletrack run command.
package run

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/coral-mesh/cycletrack/internal/cli/helpers"
	"github.com/coral-mesh/cycletrack/internal/config"
	"github.com/coral-mesh/cycletrack/internal/executor"
	"github.com/coral-mesh/cycletrack/internal/profiler/export"
	"github.com/coral-mesh/cycletrack/internal/safe"
	"github.com/coral-mesh/cycletrack/internal/store"
	"github.com/coral-mesh/cycletrack/internal/tracker"
	"github.com/coral-mesh/cycletrack/internal/vm"
	"github.com/coral-mesh/cycletrack/internal/vm/asm"
)

// ErrGuestFailed is returned when at least one run's guest program failed.
var ErrGuestFailed = errors.New("guest program failed")

var outputFormats = []helpers.OutputFormat{
	helpers.FormatTable,
	helpers.FormatJSON,
	helpers.FormatYAML,
	helpers.FormatCSV,
}

type options struct {
	profile        bool
	traceFile      string
	sampleInterval uint64
	traceFormat    string
	maxCycles      uint64
	runs           int
	parallel       int
	strip          bool
	partialTrace   bool
	record         bool
	storePath      string
	timeout        time.Duration
	format         string
}

// NewRunCmd creates the 'run' command.
func NewRunCmd(globals *helpers.Globals) *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "run <program.s>",
		Short: "Execute a guest program with cycle tracking",
		Long: `Assemble and execute a guest program, reporting the cycles spent in each
region opened and closed by cycle-tracker annotations.

Lines written by the guest that start with one of the annotation prefixes are
consumed; every other line is passed through to stdout:

  cycle-tracker-start: <label>          print-mode region, logged on close
  cycle-tracker-end: <label>
  cycle-tracker-report-start: <label>   report-mode region, summed per label
  cycle-tracker-report-end: <label>

With --profile the call stack is sampled every --sample-interval cycles and
written to --trace-file as a pprof, cpuprofile or folded trace.

Examples:
  # Report region totals
  cycletrack run fib.s

  # Profile every 100th cycle into a pprof file
  cycletrack run fib.s --profile --sample-interval 100 --trace-file fib.pprof

  # Ten runs, four at a time, accumulated into one report and recorded
  cycletrack run fib.s --runs 10 --parallel 4 --record
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := helpers.ValidateFormat(opts.format, outputFormats); err != nil {
				return err
			}
			if opts.runs < 1 {
				return fmt.Errorf("--runs must be at least 1")
			}

			cfg, err := globals.LoadConfig()
			if err != nil {
				return err
			}
			applyFlags(cmd.Flags(), cfg, &opts)
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger := globals.Logger(cfg)

			ctx, cancel := helpers.SignalContext(cmd)
			defer cancel()
			if opts.timeout > 0 {
				ctx, cancel = context.WithTimeout(ctx, opts.timeout)
				defer cancel()
			}

			return execute(ctx, cmd.OutOrStdout(), args[0], cfg, opts, logger)
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&opts.profile, "profile", false, "Enable the sampling profiler")
	flags.StringVar(&opts.traceFile, "trace-file", "", "Trace output file (kept in memory when empty)")
	flags.Uint64Var(&opts.sampleInterval, "sample-interval", 1, "Cycles between profiler samples")
	flags.StringVar(&opts.traceFormat, "trace-format", "", "Trace format: pprof, cpuprofile, folded (default: from --trace-file extension)")
	flags.Uint64Var(&opts.maxCycles, "max-cycles", 0, "Stop the guest after this many cycles (0 = unlimited)")
	flags.IntVar(&opts.runs, "runs", 1, "Number of executions, accumulated into one report")
	flags.IntVar(&opts.parallel, "parallel", 1, "Maximum concurrent executions")
	flags.BoolVar(&opts.strip, "strip", false, "Strip the symbol table before running")
	flags.BoolVar(&opts.partialTrace, "partial-trace", false, "Export the samples collected so far when a run is aborted")
	flags.BoolVar(&opts.record, "record", false, "Record runs in the history store")
	flags.StringVar(&opts.storePath, "store", "", "History store path (default ~/.cycletrack/history.duckdb)")
	flags.DurationVar(&opts.timeout, "timeout", 0, "Abort the execution after this duration")
	helpers.AddFormatFlag(cmd, &opts.format, helpers.FormatTable, outputFormats)

	return cmd
}

// applyFlags layers explicitly set flags over the loaded configuration.
func applyFlags(flags *pflag.FlagSet, cfg *config.Config, opts *options) {
	if flags.Changed("profile") {
		cfg.Profiling.Enabled = opts.profile
	}
	if flags.Changed("trace-file") {
		cfg.Profiling.OutputPath = opts.traceFile
		if !flags.Changed("profile") {
			cfg.Profiling.Enabled = true
		}
	}
	if flags.Changed("sample-interval") {
		cfg.Profiling.SampleInterval = opts.sampleInterval
	}
	if flags.Changed("trace-format") {
		cfg.Profiling.Format = opts.traceFormat
	}
	if flags.Changed("max-cycles") {
		cfg.Execution.MaxCycles = opts.maxCycles
	}
	if flags.Changed("store") {
		cfg.Store.Path = opts.storePath
	}
}

func execute(ctx context.Context, out io.Writer, path string, cfg *config.Config, opts options, logger zerolog.Logger) error {
	prog, err := asm.AssembleFile(path, asm.Options{Strip: opts.strip})
	if err != nil {
		return err
	}

	var history *store.Store
	if opts.record {
		history, err = store.Open(ctx, cfg.Store.Path, logger)
		if err != nil {
			return err
		}
		defer safe.Close(history, logger, "Failed to close history store")
	}

	results, err := runAll(ctx, out, prog, cfg, opts, history, logger)
	if results == nil {
		return err
	}

	if rerr := render(out, opts.format, results); rerr != nil {
		return rerr
	}
	if err != nil {
		return err
	}

	for _, r := range results {
		if r != nil && r.GuestErr != nil {
			return fmt.Errorf("%w: %w", ErrGuestFailed, r.GuestErr)
		}
	}
	return nil
}

// runAll executes the program opts.runs times with at most opts.parallel
// executions in flight. Reports of completed runs are merged into one shared
// aggregator. Results are indexed by run; aborted runs leave a nil entry.
func runAll(
	ctx context.Context,
	out io.Writer,
	prog *vm.Program,
	cfg *config.Config,
	opts options,
	history *store.Store,
	logger zerolog.Logger,
) (*batch, error) {
	b := &batch{
		Program:    prog.Name,
		Hash:       prog.Hash(),
		Runs:       make([]*executor.Result, opts.runs),
		cumulative: tracker.NewSharedAggregator(),
	}

	// Concurrent guests buffer their output so it is printed whole, in run
	// order.
	buffered := opts.runs > 1 && opts.parallel > 1
	outputs := make([]bytes.Buffer, opts.runs)

	exec := executor.New(logger)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.parallel, 1))

	for i := range opts.runs {
		g.Go(func() error {
			runOpts := executor.Options{
				Profiling:    cfg.Profiling,
				Cumulative:   b.cumulative,
				PartialTrace: opts.partialTrace,
				Output:       out,
				MaxCycles:    cfg.Execution.MaxCycles,
			}
			runOpts.Profiling.OutputPath = tracePathForRun(cfg.Profiling.OutputPath, i, opts.runs)
			if buffered {
				runOpts.Output = &outputs[i]
			}

			res, err := exec.Run(gctx, prog, runOpts)
			b.Runs[i] = res
			if err != nil {
				return fmt.Errorf("run %d: %w", i+1, err)
			}

			if history != nil {
				if err := history.SaveRun(gctx, store.FromResult(res)); err != nil {
					return err
				}
			}
			return nil
		})
	}
	err := g.Wait()

	if buffered {
		for i := range outputs {
			if _, werr := outputs[i].WriteTo(out); werr != nil && err == nil {
				err = werr
			}
		}
	}

	b.Cumulative = b.cumulative.Snapshot()
	if b.completed() == 0 {
		return nil, err
	}
	return b, err
}

// tracePathForRun gives each run of a batch its own trace file by inserting
// the run number before the extension.
func tracePathForRun(path string, i, runs int) string {
	if runs == 1 {
		return path
	}
	return export.NumberedPath(path, i+1)
}
