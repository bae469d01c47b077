package cli

import (
	"github.com/spf13/cobra"

	"github.com/coral-mesh/cycletrack/internal/cli/config"
	"github.com/coral-mesh/cycletrack/internal/cli/disasm"
	"github.com/coral-mesh/cycletrack/internal/cli/helpers"
	"github.com/coral-mesh/cycletrack/internal/cli/report"
	"github.com/coral-mesh/cycletrack/internal/cli/run"
	"github.com/coral-mesh/cycletrack/internal/cli/trace"
	"github.com/coral-mesh/cycletrack/pkg/version"
)

// NewRootCmd builds the cycletrack command tree.
func NewRootCmd() *cobra.Command {
	globals := &helpers.Globals{}

	rootCmd := &cobra.Command{
		Use:   "cycletrack",
		Short: "cycletrack - cycle accounting and profiling for guest programs",
		Long: `Run guest programs on a cycle-counting virtual machine and attribute
the cycles they spend to named regions.

Programs mark regions by printing annotation lines:
  cycle-tracker-start: <label>         cycle-tracker-end: <label>
  cycle-tracker-report-start: <label>  cycle-tracker-report-end: <label>

Print-mode regions are logged when they close; report-mode regions are summed
per label into the execution report. With profiling enabled, call stacks are
sampled every N cycles and written as a pprof or Chrome CPU profile.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	globals.AddFlags(rootCmd)

	rootCmd.AddCommand(run.NewRunCmd(globals))
	rootCmd.AddCommand(report.NewReportCmd(globals))
	rootCmd.AddCommand(trace.NewTraceCmd())
	rootCmd.AddCommand(disasm.NewDisasmCmd())
	rootCmd.AddCommand(config.NewConfigCmd(globals))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("cycletrack version %s\n", version.Version)
			cmd.Printf("Git commit: %s\n", version.GitCommit)
			cmd.Printf("Build date: %s\n", version.BuildDate)
			cmd.Printf("Go version: %s\n", version.GoVersion)
		},
	}
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
