// Package config implements the 'cycletrack config' command family.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"

	"github.com/coral-mesh/cycletrack/internal/cli/helpers"
	"github.com/coral-mesh/cycletrack/internal/config"
)

// NewConfigCmd creates the config command and its subcommands.
func NewConfigCmd(globals *helpers.Globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage cycletrack configuration",
		Long: `Manage cycletrack configuration.

Configuration Priority:
  1. Command-line flags (highest)
  2. Environment variables
  3. Config file (~/.cycletrack/config.yaml, or --config)
  4. Built-in defaults

Environment Variables:
  CYCLETRACK_CONFIG                 Override config directory (default: ~)
  CYCLETRACK_PROFILE                Enable the sampling profiler
  CYCLETRACK_TRACE_FILE             Trace output path
  CYCLETRACK_TRACE_SAMPLE_INTERVAL  Cycles between samples
  CYCLETRACK_TRACE_FORMAT           pprof, cpuprofile or folded
  CYCLETRACK_MAX_CYCLES             Cycle limit per run
  CYCLETRACK_STORE_PATH             Run history database
  CYCLETRACK_LOG_LEVEL              Log level`,
	}

	cmd.AddCommand(newViewCmd(globals))
	cmd.AddCommand(newInitCmd(globals))
	cmd.AddCommand(newValidateCmd(globals))
	cmd.AddCommand(newPathCmd(globals))
	cmd.AddCommand(newSchemaCmd())

	return cmd
}

func configPath(globals *helpers.Globals) string {
	if globals.ConfigPath != "" {
		return globals.ConfigPath
	}
	return config.NewLoader().ConfigPath()
}

func newViewCmd(globals *helpers.Globals) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "view",
		Short: "Show the effective configuration",
		Long: `Display the configuration after defaults, the config file and
environment variables are merged.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := helpers.ValidateFormat(format, viewFormats); err != nil {
				return err
			}
			cfg, err := globals.LoadConfig()
			if err != nil {
				return err
			}
			formatter, err := helpers.NewFormatter(helpers.OutputFormat(format))
			if err != nil {
				return err
			}
			return formatter.Format(cfg, cmd.OutOrStdout())
		},
	}

	helpers.AddFormatFlag(cmd, &format, helpers.FormatYAML, viewFormats)

	return cmd
}

var viewFormats = []helpers.OutputFormat{helpers.FormatYAML, helpers.FormatJSON}

func newInitCmd(globals *helpers.Globals) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the default settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath(globals)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("config file %s already exists (use --force to overwrite)", path)
			}

			loader := config.NewLoader()
			cfg := config.DefaultConfig()
			cfg.Store.Path = loader.DefaultStorePath()
			if err := loader.SaveTo(path, cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")

	return cmd
}

func newValidateCmd(globals *helpers.Globals) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the effective configuration",
		Long: `Load the configuration from every source and report invalid values.
Exits non-zero if any value is invalid.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := globals.LoadConfig()
			if err != nil {
				return err
			}
			return runValidate(cmd.OutOrStdout(), configPath(globals), cfg)
		},
	}
}

func runValidate(w io.Writer, path string, cfg *config.Config) error {
	err := cfg.Validate()
	if err == nil {
		fmt.Fprintf(w, "✓ Configuration is valid (%s)\n", path)
		return nil
	}

	var multi *config.MultiValidationError
	if errors.As(err, &multi) {
		fmt.Fprintf(w, "✗ Configuration has %d error(s) (%s):\n", len(multi.Errors), path)
		for _, e := range multi.Errors {
			fmt.Fprintf(w, "  - %s\n", e)
		}
	}
	return err
}

func newPathCmd(globals *helpers.Globals) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), configPath(globals))
			return err
		},
	}
}

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema of the config file",
		Long: `Print a JSON schema describing config.yaml, for editor completion and
validation.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeSchema(cmd.OutOrStdout())
		},
	}
}

func writeSchema(w io.Writer) error {
	reflector := jsonschema.Reflector{
		FieldNameTag:              "yaml",
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	schema := reflector.Reflect(&config.Config{})
	schema.Title = "cycletrack configuration"

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(schema); err != nil {
		return fmt.Errorf("failed to encode schema: %w", err)
	}
	return nil
}
