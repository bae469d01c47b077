package helpers

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// AddFormatFlag adds the standard --format/-o flag with shell completion.
func AddFormatFlag(cmd *cobra.Command, formatVar *string, defaultFormat OutputFormat, supported []OutputFormat) {
	names := formatNames(supported)
	cmd.Flags().StringVarP(formatVar, "format", "o", string(defaultFormat),
		fmt.Sprintf("Output format (%s)", strings.Join(names, ", ")))

	_ = cmd.RegisterFlagCompletionFunc("format", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return names, cobra.ShellCompDirectiveNoFileComp
	})
}

// ValidateFormat checks that format is one of supported.
func ValidateFormat(format string, supported []OutputFormat) error {
	for _, s := range supported {
		if format == string(s) {
			return nil
		}
	}
	return fmt.Errorf("unsupported format %q, must be one of: %s",
		format, strings.Join(formatNames(supported), ", "))
}

func formatNames(formats []OutputFormat) []string {
	names := make([]string, len(formats))
	for i, f := range formats {
		names[i] = string(f)
	}
	return names
}
