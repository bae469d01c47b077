// Package disasm implements the cycletrack disasm command.
package disasm

import (
	"github.com/spf13/cobra"

	"github.com/coral-mesh/cycletrack/internal/vm/asm"
)

// NewDisasmCmd creates the 'disasm' command.
func NewDisasmCmd() *cobra.Command {
	var strip bool

	cmd := &cobra.Command{
		Use:   "disasm <program.s>",
		Short: "Show the assembled program",
		Long: `Assemble a program and print the resulting instructions, including the
markers inserted for functions declared with 'track' or 'report'.

Examples:
  cycletrack disasm fib.s
  cycletrack disasm fib.s --strip`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prog, err := asm.AssembleFile(args[0], asm.Options{Strip: strip})
			if err != nil {
				return err
			}
			return asm.Disassemble(cmd.OutOrStdout(), prog)
		},
	}

	cmd.Flags().BoolVar(&strip, "strip", false, "Remove function names before printing")

	return cmd
}
