package run

import (
	"fmt"
	"io"

	"github.com/coral-mesh/cycletrack/internal/cli/helpers"
	"github.com/coral-mesh/cycletrack/internal/executor"
	"github.com/coral-mesh/cycletrack/internal/tracker"
)

// batch is the outcome of all runs of one invocation.
type batch struct {
	Program    string
	Hash       string
	Runs       []*executor.Result
	Cumulative tracker.ExecutionReport

	cumulative *tracker.SharedAggregator
}

func (b *batch) completed() int {
	n := 0
	for _, r := range b.Runs {
		if r != nil {
			n++
		}
	}
	return n
}

type runSummary struct {
	Run        int    `header:"Run" json:"run" yaml:"run"`
	Cycles     uint64 `header:"Cycles" json:"total_cycles" yaml:"total_cycles"`
	Warnings   int    `header:"Warnings" json:"warnings" yaml:"warnings"`
	Duration   string `header:"Duration" json:"duration" yaml:"duration"`
	Samples    int    `header:"Samples" json:"samples" yaml:"samples"`
	TracePath  string `header:"Trace" json:"trace_path,omitempty" yaml:"trace_path,omitempty"`
	GuestError string `header:"Guest Error" json:"guest_error,omitempty" yaml:"guest_error,omitempty"`
}

type regionRow struct {
	Label  string `header:"Region" json:"label" yaml:"label"`
	Cycles uint64 `header:"Cycles" json:"cycles" yaml:"cycles"`
}

type batchOutput struct {
	Program      string            `json:"program" yaml:"program"`
	ProgramHash  string            `json:"program_hash" yaml:"program_hash"`
	Runs         []runSummary      `json:"runs" yaml:"runs"`
	CycleTracker map[string]uint64 `json:"cycle_tracker" yaml:"cycle_tracker"`
}

func summarize(b *batch) []runSummary {
	out := make([]runSummary, 0, len(b.Runs))
	for i, r := range b.Runs {
		if r == nil {
			continue
		}
		s := runSummary{
			Run:       i + 1,
			Cycles:    r.TotalCycles,
			Warnings:  len(r.Warnings),
			Duration:  helpers.FormatDuration(r.Duration),
			TracePath: r.TracePath,
		}
		if r.Trace != nil {
			s.Samples = len(r.Trace.Samples)
		}
		if r.GuestErr != nil {
			s.GuestError = r.GuestErr.Error()
		}
		out = append(out, s)
	}
	return out
}

func regionRows(report tracker.ExecutionReport) []regionRow {
	labels := report.Labels()
	rows := make([]regionRow, len(labels))
	for i, label := range labels {
		rows[i] = regionRow{Label: label, Cycles: report.CycleTracker[label]}
	}
	return rows
}

func render(w io.Writer, format string, b *batch) error {
	formatter, err := helpers.NewFormatter(helpers.OutputFormat(format))
	if err != nil {
		return err
	}

	switch helpers.OutputFormat(format) {
	case helpers.FormatJSON, helpers.FormatYAML:
		return formatter.Format(batchOutput{
			Program:      b.Program,
			ProgramHash:  b.Hash,
			Runs:         summarize(b),
			CycleTracker: b.Cumulative.CycleTracker,
		}, w)
	case helpers.FormatCSV:
		return formatter.Format(regionRows(b.Cumulative), w)
	}

	runs := summarize(b)
	if _, err := fmt.Fprintf(w, "\nProgram: %s (%s)\n", b.Program, b.Hash); err != nil {
		return err
	}
	if len(b.Runs) == 1 && len(runs) == 1 {
		r := runs[0]
		fmt.Fprintf(w, "Total cycles: %d\n", r.Cycles)
		fmt.Fprintf(w, "Duration: %s\n", r.Duration)
		if r.Warnings > 0 {
			fmt.Fprintf(w, "Warnings: %d\n", r.Warnings)
		}
		if r.Samples > 0 {
			fmt.Fprintf(w, "Samples: %d\n", r.Samples)
		}
		if r.TracePath != "" {
			fmt.Fprintf(w, "Trace: %s\n", r.TracePath)
		}
		if r.GuestError != "" {
			fmt.Fprintf(w, "Guest error: %s\n", r.GuestError)
		}
	} else {
		fmt.Fprintf(w, "Runs: %d of %d completed\n\n", len(runs), len(b.Runs))
		if err := formatter.Format(runs, w); err != nil {
			return err
		}
	}

	rows := regionRows(b.Cumulative)
	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, "\nNo report-mode regions were recorded.")
		return err
	}
	fmt.Fprintln(w)
	return formatter.Format(rows, w)
}
