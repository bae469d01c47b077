package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLayeredLoader_DefaultsOnly(t *testing.T) {
	loader := NewLayeredLoader()
	loader.DisableLayer(LayerFile)
	loader.DisableLayer(LayerEnv)

	cfg, err := loader.Load("")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Profiling.Enabled {
		t.Errorf("Profiling.Enabled = true, want false")
	}
	if cfg.Profiling.SampleInterval != 1 {
		t.Errorf("Profiling.SampleInterval = %d, want 1", cfg.Profiling.SampleInterval)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want info", cfg.Logging.Level)
	}
}

func TestLayeredLoader_FileThenEnv(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
profiling:
  enabled: true
  output_path: /tmp/from-file.pb.gz
  sample_interval: 50
execution:
  max_cycles: 1000
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	t.Setenv("CYCLETRACK_TRACE_SAMPLE_INTERVAL", "7")

	cfg, err := NewLayeredLoader().Load(configPath)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if !cfg.Profiling.Enabled {
		t.Errorf("Profiling.Enabled = false, want true from file")
	}
	if cfg.Profiling.OutputPath != "/tmp/from-file.pb.gz" {
		t.Errorf("Profiling.OutputPath = %q", cfg.Profiling.OutputPath)
	}
	if cfg.Profiling.SampleInterval != 7 {
		t.Errorf("Profiling.SampleInterval = %d, want 7 from env", cfg.Profiling.SampleInterval)
	}
	if cfg.Execution.MaxCycles != 1000 {
		t.Errorf("Execution.MaxCycles = %d, want 1000", cfg.Execution.MaxCycles)
	}
	// Keys absent from the file keep their defaults.
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want info", cfg.Logging.Level)
	}
}

func TestLayeredLoader_InvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("profiling: [unclosed"), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	if _, err := NewLayeredLoader().Load(configPath); err == nil {
		t.Fatal("Load() succeeded on invalid YAML, want error")
	}
}

func TestLoader_SaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	loader := NewLoaderAt(tmpDir)

	cfg, err := loader.Load("")
	if err != nil {
		t.Fatalf("Load() with no file failed: %v", err)
	}
	if cfg.Store.Path != filepath.Join(tmpDir, ".cycletrack", "history.duckdb") {
		t.Errorf("Store.Path = %q", cfg.Store.Path)
	}

	cfg.Profiling.Enabled = true
	cfg.Profiling.SampleInterval = 250
	cfg.Profiling.Format = "folded"
	if err := loader.Save(cfg); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	data, err := os.ReadFile(loader.ConfigPath())
	if err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	if !strings.Contains(string(data), "sample_interval: 250") {
		t.Errorf("saved config missing sample_interval:\n%s", data)
	}

	loaded, err := loader.Load("")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if !loaded.Profiling.Enabled || loaded.Profiling.SampleInterval != 250 || loaded.Profiling.Format != "folded" {
		t.Errorf("Profiling = %+v, want saved values", loaded.Profiling)
	}
}

func TestNewLoader_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CYCLETRACK_CONFIG", dir)

	loader := NewLoader()
	if want := filepath.Join(dir, ".cycletrack", "config.yaml"); loader.ConfigPath() != want {
		t.Errorf("ConfigPath() = %q, want %q", loader.ConfigPath(), want)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
		fields  int
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{
			name:    "zero interval",
			mutate:  func(c *Config) { c.Profiling.SampleInterval = 0 },
			wantErr: ErrInvalidSampleInterval,
			fields:  1,
		},
		{
			name:    "bad format",
			mutate:  func(c *Config) { c.Profiling.Format = "svg" },
			wantErr: ErrInvalidFormat,
			fields:  1,
		},
		{
			name: "everything wrong",
			mutate: func(c *Config) {
				c.Profiling.SampleInterval = 0
				c.Profiling.Format = "svg"
				c.Logging.Level = "loud"
			},
			wantErr: ErrInvalidSampleInterval,
			fields:  3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()

			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() = %v, want %v", err, tt.wantErr)
			}
			var multi *MultiValidationError
			if !errors.As(err, &multi) || len(multi.Errors) != tt.fields {
				t.Errorf("Validate() = %v, want %d field errors", err, tt.fields)
			}
		})
	}
}

func TestProfilingConfig_TraceFormat(t *testing.T) {
	cfg := ProfilingConfig{SampleInterval: 1, OutputPath: "out/trace.cpuprofile"}
	f, err := cfg.TraceFormat()
	if err != nil || f != "cpuprofile" {
		t.Errorf("TraceFormat() = %q, %v; want inferred cpuprofile", f, err)
	}

	cfg.Format = "pprof"
	if f, _ := cfg.TraceFormat(); f != "pprof" {
		t.Errorf("TraceFormat() = %q, want explicit pprof", f)
	}

	cfg.Format = "bogus"
	if _, err := cfg.TraceFormat(); !errors.Is(err, ErrInvalidFormat) {
		t.Errorf("TraceFormat() error = %v, want ErrInvalidFormat", err)
	}
}
