package config

import (
	"errors"
	"fmt"
	"io/fs"

	"gopkg.in/yaml.v3"

	"github.com/coral-mesh/cycletrack/internal/safe"
)

// Layer represents a configuration layer source.
type Layer string

const (
	// LayerDefaults represents default configuration values.
	LayerDefaults Layer = "defaults"

	// LayerFile represents configuration from a file.
	LayerFile Layer = "file"

	// LayerEnv represents configuration from environment variables.
	LayerEnv Layer = "env"
)

// LayeredLoader loads configuration in layers, each overriding the previous
// one: defaults, the YAML file, then environment variables. Command-line
// flags are applied afterwards by the CLI.
type LayeredLoader struct {
	enabledLayers map[Layer]bool
}

// NewLayeredLoader creates a loader with every layer enabled.
func NewLayeredLoader() *LayeredLoader {
	return &LayeredLoader{
		enabledLayers: map[Layer]bool{
			LayerDefaults: true,
			LayerFile:     true,
			LayerEnv:      true,
		},
	}
}

// EnableLayer enables a specific configuration layer.
func (l *LayeredLoader) EnableLayer(layer Layer) {
	l.enabledLayers[layer] = true
}

// DisableLayer disables a specific configuration layer.
func (l *LayeredLoader) DisableLayer(layer Layer) {
	l.enabledLayers[layer] = false
}

// Load builds a Config. A missing file at configPath is not an error; the
// file layer is skipped.
func (l *LayeredLoader) Load(configPath string) (*Config, error) {
	cfg := &Config{}
	if l.enabledLayers[LayerDefaults] {
		cfg = DefaultConfig()
	}

	if l.enabledLayers[LayerFile] && configPath != "" {
		if err := mergeFromFile(cfg, configPath); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to load config from file: %w", err)
			}
		}
	}

	if l.enabledLayers[LayerEnv] {
		if err := LoadFromEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from environment: %w", err)
		}
	}

	return cfg, nil
}

// mergeFromFile decodes the YAML file over cfg; keys absent from the file keep
// their current values.
func mergeFromFile(cfg *Config, path string) error {
	data, err := safe.ReadFile(path, &safe.ReadFileOptions{AllowSymlinks: true})
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}
