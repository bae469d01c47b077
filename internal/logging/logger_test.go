package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNew_LevelFiltering(t *testing.T) {
	tests := []struct {
		level   string
		logged  []string
		dropped []string
	}{
		{level: "trace", logged: []string{"trace message", "debug message", "info message"}},
		{level: "debug", logged: []string{"debug message", "info message"}, dropped: []string{"trace message"}},
		{level: "info", logged: []string{"info message", "warn message"}, dropped: []string{"trace message", "debug message"}},
		{level: "warn", logged: []string{"warn message"}, dropped: []string{"info message"}},
		{level: "error", logged: []string{"error message"}, dropped: []string{"warn message"}},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger := New(Config{Level: tt.level, Pretty: false, Output: &buf})

			logger.Trace().Msg("trace message")
			logger.Debug().Msg("debug message")
			logger.Info().Msg("info message")
			logger.Warn().Msg("warn message")
			logger.Error().Msg("error message")

			output := buf.String()
			for _, msg := range tt.logged {
				if !strings.Contains(output, msg) {
					t.Errorf("Expected %q to be logged at %s level", msg, tt.level)
				}
			}
			for _, msg := range tt.dropped {
				if strings.Contains(output, msg) {
					t.Errorf("Expected %q to NOT be logged at %s level", msg, tt.level)
				}
			}
		})
	}
}

func TestNew_PrettyOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "info", Pretty: true, Output: &buf})

	logger.Info().Msg("compute: 100 cycles")

	if !strings.Contains(buf.String(), "compute: 100 cycles") {
		t.Error("Expected pretty output to contain message")
	}
}

func TestNew_InvalidLevelDefaultsToInfo(t *testing.T) {
	logger := New(Config{Level: "loud", Output: &bytes.Buffer{}})
	if logger.GetLevel() != zerolog.InfoLevel {
		t.Errorf("Expected info level, got %v", logger.GetLevel())
	}
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("warn")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if level != zerolog.WarnLevel {
		t.Errorf("Expected warn level, got %v", level)
	}

	if _, err := ParseLevel("verbose"); err == nil {
		t.Error("Expected error for unknown level")
	}
}
