// Package export writes and reads sampled execution traces.
//
// Three formats are supported:
//
//   - pprof: gzip-compressed protobuf, readable by `go tool pprof` and most
//     profile viewers.
//   - cpuprofile: Chrome DevTools CPU profile JSON, readable by Chrome
//     DevTools, the Firefox Profiler and speedscope.
//   - folded: collapsed stacks for flamegraph scripts. Encode only.
package export

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/coral-mesh/cycletrack/internal/profiler"
	"github.com/coral-mesh/cycletrack/internal/safe"
)

// ErrTraceExportFailure wraps every failure to write a trace file.
var ErrTraceExportFailure = errors.New("trace export failed")

// ErrUnsupportedFormat is returned for unknown formats and for decoding a
// write-only format.
var ErrUnsupportedFormat = errors.New("unsupported trace format")

// Format is a trace file format.
type Format string

const (
	FormatPprof      Format = "pprof"
	FormatCPUProfile Format = "cpuprofile"
	FormatFolded     Format = "folded"
)

// DefaultFormat is used when none is configured.
const DefaultFormat = FormatPprof

// Formats lists every supported format.
func Formats() []Format {
	return []Format{FormatPprof, FormatCPUProfile, FormatFolded}
}

// ParseFormat parses a format name. The empty string selects DefaultFormat.
func ParseFormat(name string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(name))); f {
	case "":
		return DefaultFormat, nil
	case FormatPprof, FormatCPUProfile, FormatFolded:
		return f, nil
	case "json":
		return FormatCPUProfile, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, name)
	}
}

// FormatFromPath infers a format from a file extension, falling back to
// DefaultFormat.
func FormatFromPath(path string) Format {
	name := strings.ToLower(filepath.Base(path))
	switch {
	case strings.HasSuffix(name, ".cpuprofile"), strings.HasSuffix(name, ".json"):
		return FormatCPUProfile
	case strings.HasSuffix(name, ".folded"), strings.HasSuffix(name, ".collapsed"),
		strings.HasSuffix(name, ".txt"):
		return FormatFolded
	default:
		return DefaultFormat
	}
}

// NumberedPath inserts "-n" before the extension of path so several traces
// written from one configured path get distinct files.
func NumberedPath(path string, n int) string {
	if path == "" {
		return ""
	}
	ext := filepath.Ext(path)
	return fmt.Sprintf("%s-%d%s", strings.TrimSuffix(path, ext), n, ext)
}

// Encode writes trace to w in the given format.
func Encode(w io.Writer, trace *profiler.Trace, format Format) error {
	switch format {
	case FormatPprof:
		return encodePprof(w, trace)
	case FormatCPUProfile:
		return encodeCPUProfile(w, trace)
	case FormatFolded:
		return encodeFolded(w, trace)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// Decode reads a trace in the given format.
func Decode(r io.Reader, format Format) (*profiler.Trace, error) {
	switch format {
	case FormatPprof:
		return decodePprof(r)
	case FormatCPUProfile:
		return decodeCPUProfile(r)
	default:
		return nil, fmt.Errorf("%w: cannot decode %q", ErrUnsupportedFormat, format)
	}
}

// Export writes trace to path. The file is written to a temporary sibling,
// synced and renamed into place, so a failed export never leaves a truncated
// trace behind. Every error wraps ErrTraceExportFailure.
func Export(trace *profiler.Trace, path string, format Format) error {
	if trace == nil {
		return fmt.Errorf("%w: no trace collected", ErrTraceExportFailure)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%w: create directory: %w", ErrTraceExportFailure, err)
		}
	}

	err := safe.WriteFileAtomic(path, 0o644, func(w io.Writer) error {
		bw := bufio.NewWriter(w)
		if err := Encode(bw, trace, format); err != nil {
			return err
		}
		return bw.Flush()
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrTraceExportFailure, path, err)
	}
	return nil
}

// ReadFile decodes the trace stored at path. An empty format is inferred from
// the file extension.
func ReadFile(path string, format Format) (*profiler.Trace, error) {
	if format == "" {
		format = FormatFromPath(path)
	}
	data, err := safe.ReadFile(path, &safe.ReadFileOptions{MaxSize: maxTraceFileSize})
	if err != nil {
		return nil, fmt.Errorf("failed to read trace: %w", err)
	}
	trace, err := Decode(bytes.NewReader(data), format)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s trace %s: %w", format, path, err)
	}
	return trace, nil
}

const maxTraceFileSize = 512 << 20
