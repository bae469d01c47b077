package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/coral-mesh/cycletrack/internal/constants"
	"github.com/coral-mesh/cycletrack/internal/safe"
)

// Loader handles loading and saving the configuration file.
type Loader struct {
	homeDir string
}

// NewLoader creates a new config loader.
// The base directory is resolved in this order:
//  1. CYCLETRACK_CONFIG environment variable.
//  2. User home directory (~/).
//  3. /tmp/cycletrack-fallback (environments without a home dir).
func NewLoader() *Loader {
	if baseDir := os.Getenv(constants.EnvConfigDir); baseDir != "" {
		return &Loader{homeDir: baseDir}
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		return &Loader{homeDir: homeDir}
	}
	// Config files won't exist here, so Load returns defaults + env overrides.
	return &Loader{homeDir: filepath.Join(os.TempDir(), "cycletrack-fallback")}
}

// NewLoaderAt creates a loader rooted at baseDir.
func NewLoaderAt(baseDir string) *Loader {
	return &Loader{homeDir: baseDir}
}

// ConfigPath returns the path to the config file.
func (l *Loader) ConfigPath() string {
	return filepath.Join(l.homeDir, constants.DefaultDir, constants.ConfigFile)
}

// DefaultStorePath returns the default run history database path.
func (l *Loader) DefaultStorePath() string {
	return filepath.Join(l.homeDir, constants.DefaultStorePath)
}

// Load loads the configuration from path, or from ConfigPath when path is
// empty, applying environment overrides. Defaults are used when the file does
// not exist.
func (l *Loader) Load(path string) (*Config, error) {
	if path == "" {
		path = l.ConfigPath()
	}
	cfg, err := NewLayeredLoader().Load(path)
	if err != nil {
		return nil, err
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = l.DefaultStorePath()
	}
	return cfg, nil
}

// Save writes cfg to ConfigPath.
func (l *Loader) Save(cfg *Config) error {
	return l.SaveTo(l.ConfigPath(), cfg)
}

// SaveTo writes cfg to path, replacing any existing file atomically.
func (l *Loader) SaveTo(path string, cfg *Config) error {
	//nolint:gosec // G301: Directory needs standard permissions for traversal
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	err := safe.WriteFileAtomic(path, 0644, func(w io.Writer) error {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return err
		}
		return enc.Close()
	})
	if err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
