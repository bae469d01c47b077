package helpers

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/coral-mesh/cycletrack/internal/config"
	"github.com/coral-mesh/cycletrack/internal/logging"
)

// Globals holds the persistent flags of the root command.
type Globals struct {
	ConfigPath string
	LogLevel   string
	LogPretty  bool
}

// AddFlags registers the global flags on cmd.
func (g *Globals) AddFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.StringVar(&g.ConfigPath, "config", "", "Config file (default ~/.cycletrack/config.yaml)")
	flags.StringVar(&g.LogLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	flags.BoolVar(&g.LogPretty, "log-pretty", false, "Human-readable log output")
}

// LoadConfig loads the layered configuration and applies the global flags.
// Command flags are applied by the caller, which must validate afterwards.
func (g *Globals) LoadConfig() (*config.Config, error) {
	cfg, err := config.NewLoader().Load(g.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if g.LogLevel != "" {
		cfg.Logging.Level = g.LogLevel
	}
	if g.LogPretty {
		cfg.Logging.Pretty = true
	}
	return cfg, nil
}

// Logger builds the process logger from cfg. Logs go to stderr so guest
// output on stdout stays clean, and are human-readable when stderr is a
// terminal.
func (g *Globals) Logger(cfg *config.Config) zerolog.Logger {
	return logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Pretty: cfg.Logging.Pretty || term.IsTerminal(int(os.Stderr.Fd())), // #nosec G115
		Output: os.Stderr,
	})
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
