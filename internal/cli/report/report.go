// Package report implements the cycletrack report command, which reads the
// run history store.
package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/coral-mesh/cycletrack/internal/cli/helpers"
	"github.com/coral-mesh/cycletrack/internal/constants"
	"github.com/coral-mesh/cycletrack/internal/safe"
	"github.com/coral-mesh/cycletrack/internal/store"
	"github.com/coral-mesh/cycletrack/internal/tracker"
	"github.com/coral-mesh/cycletrack/internal/vm/asm"
)

var outputFormats = []helpers.OutputFormat{
	helpers.FormatTable,
	helpers.FormatJSON,
	helpers.FormatYAML,
	helpers.FormatCSV,
}

type options struct {
	storePath string
	limit     int
	format    string
}

// NewReportCmd creates the 'report' command.
func NewReportCmd(globals *helpers.Globals) *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "report [program.s]",
		Short: "Show cumulative region totals from recorded runs",
		Long: `Show the region totals accumulated over every run recorded with
'cycletrack run --record', followed by the most recent runs.

Runs are matched by program content, so a renamed or re-stripped program
still matches its history. Without an argument all programs are included.

Examples:
  cycletrack report fib.s
  cycletrack report fib.s --limit 5 -o json
  cycletrack report`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := helpers.ValidateFormat(opts.format, outputFormats); err != nil {
				return err
			}
			cfg, err := globals.LoadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("store") {
				cfg.Store.Path = opts.storePath
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			var programHash string
			if len(args) == 1 {
				prog, err := asm.AssembleFile(args[0], asm.Options{})
				if err != nil {
					return err
				}
				programHash = prog.Hash()
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), constants.DefaultQueryTimeout)
			defer cancel()
			return show(ctx, cmd.OutOrStdout(), cfg.Store.Path, programHash, opts, globals.Logger(cfg))
		},
	}

	cmd.Flags().StringVar(&opts.storePath, "store", "", "History store path (default ~/.cycletrack/history.duckdb)")
	cmd.Flags().IntVar(&opts.limit, "limit", constants.DefaultHistoryLimit, "Number of recent runs to list (0 = all)")
	helpers.AddFormatFlag(cmd, &opts.format, helpers.FormatTable, outputFormats)

	return cmd
}

type runRow struct {
	RunID      string `header:"Run ID" json:"run_id" yaml:"run_id"`
	Program    string `header:"Program" json:"program" yaml:"program"`
	StartedAt  string `header:"Started" json:"started_at" yaml:"started_at"`
	Cycles     uint64 `header:"Cycles" json:"total_cycles" yaml:"total_cycles"`
	Duration   string `header:"Duration" json:"duration" yaml:"duration"`
	Warnings   int32  `header:"Warnings" json:"warnings" yaml:"warnings"`
	GuestError string `header:"Guest Error" json:"guest_error,omitempty" yaml:"guest_error,omitempty"`
	Host       string `json:"host" yaml:"host"`
}

type regionRow struct {
	Label  string `header:"Region" json:"label" yaml:"label"`
	Cycles uint64 `header:"Cycles" json:"cycles" yaml:"cycles"`
}

type historyOutput struct {
	ProgramHash  string            `json:"program_hash,omitempty" yaml:"program_hash,omitempty"`
	TotalRuns    int               `json:"total_runs" yaml:"total_runs"`
	CycleTracker map[string]uint64 `json:"cycle_tracker" yaml:"cycle_tracker"`
	Runs         []runRow          `json:"runs" yaml:"runs"`
}

func show(ctx context.Context, w io.Writer, path, programHash string, opts options, logger zerolog.Logger) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		_, err := fmt.Fprintf(w, "No runs recorded (store %s does not exist).\n", path)
		return err
	}

	s, err := store.Open(ctx, path, logger)
	if err != nil {
		return err
	}
	defer safe.Close(s, logger, "Failed to close history store")

	total, err := s.CountRuns(ctx, programHash)
	if err != nil {
		return err
	}
	cumulative, err := s.CumulativeReport(ctx, programHash)
	if err != nil {
		return err
	}
	runs, err := s.ListRuns(ctx, programHash, opts.limit)
	if err != nil {
		return err
	}

	return render(w, opts.format, historyOutput{
		ProgramHash:  programHash,
		TotalRuns:    total,
		CycleTracker: cumulative.CycleTracker,
		Runs:         runRows(runs),
	})
}

func runRows(runs []*store.Run) []runRow {
	rows := make([]runRow, len(runs))
	for i, r := range runs {
		rows[i] = runRow{
			RunID:      r.ID,
			Program:    r.Program,
			StartedAt:  r.StartedAt.Local().Format(time.DateTime),
			Cycles:     r.TotalCycles,
			Duration:   helpers.FormatDuration(r.Duration()),
			Warnings:   r.Warnings,
			GuestError: r.GuestError,
			Host:       r.Host,
		}
	}
	return rows
}

func regionRows(report tracker.ExecutionReport) []regionRow {
	labels := report.Labels()
	rows := make([]regionRow, len(labels))
	for i, label := range labels {
		rows[i] = regionRow{Label: label, Cycles: report.CycleTracker[label]}
	}
	return rows
}

func render(w io.Writer, format string, out historyOutput) error {
	formatter, err := helpers.NewFormatter(helpers.OutputFormat(format))
	if err != nil {
		return err
	}

	switch helpers.OutputFormat(format) {
	case helpers.FormatJSON, helpers.FormatYAML:
		return formatter.Format(out, w)
	case helpers.FormatCSV:
		return formatter.Format(regionRows(tracker.ExecutionReport{CycleTracker: out.CycleTracker}), w)
	}

	if out.TotalRuns == 0 {
		_, err := fmt.Fprintln(w, "No runs recorded.")
		return err
	}

	fmt.Fprintf(w, "Recorded runs: %d\n\n", out.TotalRuns)
	regions := regionRows(tracker.ExecutionReport{CycleTracker: out.CycleTracker})
	if len(regions) == 0 {
		fmt.Fprintln(w, "No report-mode regions were recorded.")
	} else if err := formatter.Format(regions, w); err != nil {
		return err
	}

	fmt.Fprintf(w, "\nRecent runs:\n")
	return formatter.Format(out.Runs, w)
}
