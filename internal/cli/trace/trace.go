// Package trace implements commands for working with exported execution
// traces.
package trace

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/cycletrack/internal/cli/helpers"
	"github.com/coral-mesh/cycletrack/internal/profiler"
	"github.com/coral-mesh/cycletrack/internal/profiler/export"
)

// NewTraceCmd creates the 'trace' command group.
func NewTraceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Inspect and convert execution traces",
		Long: `Work with trace files written by 'cycletrack run --trace-file'.

Readable formats are pprof and cpuprofile. The folded format can be
written but not read back.`,
	}

	cmd.AddCommand(newInspectCmd())
	cmd.AddCommand(newConvertCmd())

	return cmd
}

var inspectFormats = []helpers.OutputFormat{
	helpers.FormatTable,
	helpers.FormatJSON,
	helpers.FormatYAML,
	helpers.FormatCSV,
}

type inspectOptions struct {
	inputFormat string
	format      string
	top         int
	tree        bool
}

func newInspectCmd() *cobra.Command {
	var opts inspectOptions

	cmd := &cobra.Command{
		Use:   "inspect <trace-file>",
		Short: "Summarize the functions sampled in a trace",
		Long: `Summarize a trace per function. Self counts samples where the function
was executing; Total counts samples where it was anywhere on the call stack.

Examples:
  cycletrack trace inspect fib.pprof
  cycletrack trace inspect fib.cpuprofile --top 5
  cycletrack trace inspect fib.pprof --tree`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := helpers.ValidateFormat(opts.format, inspectFormats); err != nil {
				return err
			}
			format, err := parseInputFormat(opts.inputFormat)
			if err != nil {
				return err
			}
			trace, err := export.ReadFile(args[0], format)
			if err != nil {
				return err
			}
			return inspect(cmd.OutOrStdout(), trace, opts)
		},
	}

	cmd.Flags().StringVar(&opts.inputFormat, "input-format", "", "Trace file format (default: inferred from extension)")
	cmd.Flags().IntVar(&opts.top, "top", 0, "Show only the N hottest functions (0 = all)")
	cmd.Flags().BoolVar(&opts.tree, "tree", false, "Show the call tree instead of the flat summary")
	helpers.AddFormatFlag(cmd, &opts.format, helpers.FormatTable, inspectFormats)

	return cmd
}

func parseInputFormat(name string) (export.Format, error) {
	if name == "" {
		return "", nil
	}
	return export.ParseFormat(name)
}

func inspect(w io.Writer, trace *profiler.Trace, opts inspectOptions) error {
	if opts.tree {
		fmt.Fprintf(w, "Call tree (%d samples, every %d cycles):\n", len(trace.Samples), trace.SampleInterval)
		_, err := io.WriteString(w, helpers.RenderTree(treeNodes(trace.CallTree()), uint64(len(trace.Samples)), "samples"))
		return err
	}

	summary := trace.Summary()
	if opts.top > 0 && len(summary) > opts.top {
		summary = summary[:opts.top]
	}

	formatter, err := helpers.NewFormatter(helpers.OutputFormat(opts.format))
	if err != nil {
		return err
	}
	if helpers.OutputFormat(opts.format) != helpers.FormatTable {
		return formatter.Format(summary, w)
	}

	if trace.Program != "" {
		fmt.Fprintf(w, "Program: %s\n", trace.Program)
	}
	fmt.Fprintf(w, "Samples: %d (every %d cycles, %d cycles total)\n", len(trace.Samples), trace.SampleInterval, trace.TotalCycles)
	fmt.Fprintf(w, "Frames: %d\n\n", len(trace.Frames))
	if len(summary) == 0 {
		_, err := fmt.Fprintln(w, "No samples were taken inside a function.")
		return err
	}
	return formatter.Format(summary, w)
}

func treeNodes(nodes []*profiler.CallNode) []*helpers.TreeNode {
	out := make([]*helpers.TreeNode, len(nodes))
	for i, n := range nodes {
		out[i] = &helpers.TreeNode{
			Name:     n.Frame.Name,
			Self:     uint64(n.Self),
			Total:    uint64(n.Total),
			Children: treeNodes(n.Children),
		}
	}
	return out
}

func newConvertCmd() *cobra.Command {
	var inputFormat, outputFormat string

	cmd := &cobra.Command{
		Use:   "convert <input> <output>",
		Short: "Convert a trace to another format",
		Long: `Convert a trace file between formats. Formats are inferred from the file
extensions unless given explicitly.

Examples:
  cycletrack trace convert fib.pprof fib.cpuprofile
  cycletrack trace convert fib.pprof fib.folded
  cycletrack trace convert fib.pprof out.bin --to cpuprofile`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := parseInputFormat(inputFormat)
			if err != nil {
				return err
			}
			to := export.FormatFromPath(args[1])
			if outputFormat != "" {
				if to, err = export.ParseFormat(outputFormat); err != nil {
					return err
				}
			}

			trace, err := export.ReadFile(args[0], from)
			if err != nil {
				return err
			}
			if err := export.Export(trace, args[1], to); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%s, %d samples)\n", args[1], to, len(trace.Samples))
			return nil
		},
	}

	cmd.Flags().StringVar(&inputFormat, "from", "", "Input format (default: inferred from extension)")
	cmd.Flags().StringVar(&outputFormat, "to", "", "Output format (default: inferred from extension)")

	return cmd
}
