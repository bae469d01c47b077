package trace

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/cycletrack/internal/profiler"
	"github.com/coral-mesh/cycletrack/internal/profiler/export"
)

func demoTrace() *profiler.Trace {
	ft := profiler.NewFrameTable()
	t := &profiler.Trace{Program: "demo", SampleInterval: 10, TotalCycles: 45}
	stacks := [][]string{
		{"main"},
		{"main", "fib"},
		{"main", "fib", "fib"},
		{"main", "fib", "fib"},
		{"main", "print"},
	}
	for i, names := range stacks {
		t.Samples = append(t.Samples, profiler.Sample{Cycle: uint64(i) * 10, Stack: ft.InternStack(nil, names)})
	}
	t.Frames = ft.Frames()
	return t
}

func writeTrace(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, export.Export(demoTrace(), path, export.FormatFromPath(path)))
	return path
}

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewTraceCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestInspect_Table(t *testing.T) {
	out, err := runCmd(t, "inspect", writeTrace(t, "demo.pprof"))
	require.NoError(t, err)

	assert.Contains(t, out, "Program: demo")
	assert.Contains(t, out, "Samples: 5 (every 10 cycles, 45 cycles total)")
	assert.Contains(t, out, "Frames: 4")
	assert.Regexp(t, `main\s+1\s+5\s+50`, out)
	assert.Regexp(t, `fib\s+3\s+3\s+30`, out)
}

func TestInspect_CSVTop(t *testing.T) {
	out, err := runCmd(t, "inspect", writeTrace(t, "demo.cpuprofile"), "-o", "csv", "--top", "2")
	require.NoError(t, err)
	assert.Equal(t, "Function,Self,Total,Cycles\nmain,1,5,50\nfib,3,3,30\n", out)
}

func TestInspect_JSON(t *testing.T) {
	out, err := runCmd(t, "inspect", writeTrace(t, "demo.pprof"), "-o", "json")
	require.NoError(t, err)

	var summary []profiler.FrameCount
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	require.Len(t, summary, 3)
	assert.Equal(t, profiler.FrameCount{Name: "print", Self: 1, Total: 1, Cycles: 10}, summary[2])
}

func TestInspect_Tree(t *testing.T) {
	out, err := runCmd(t, "inspect", writeTrace(t, "demo.pprof"), "--tree")
	require.NoError(t, err)

	assert.Contains(t, out, "Call tree (5 samples, every 10 cycles):")
	assert.Contains(t, out, "└─ main (5 samples, self 1, 100.0%)")
	assert.Contains(t, out, "  ├─ fib (3 samples, self 1, 60.0%)")
	assert.Contains(t, out, "  │ └─ fib (2 samples, self 2, 40.0%)")
	assert.Contains(t, out, "  └─ print (1 samples, self 1, 20.0%)")
}

func TestInspect_FoldedIsNotReadable(t *testing.T) {
	_, err := runCmd(t, "inspect", writeTrace(t, "demo.folded"))
	assert.ErrorIs(t, err, export.ErrUnsupportedFormat)
}

func TestInspect_MissingFile(t *testing.T) {
	_, err := runCmd(t, "inspect", filepath.Join(t.TempDir(), "nope.pprof"))
	assert.Error(t, err)
}

func TestConvert_PprofToCPUProfile(t *testing.T) {
	in := writeTrace(t, "demo.pprof")
	dst := filepath.Join(t.TempDir(), "demo.cpuprofile")

	out, err := runCmd(t, "convert", in, dst)
	require.NoError(t, err)
	assert.Contains(t, out, "(cpuprofile, 5 samples)")

	got, err := export.ReadFile(dst, "")
	require.NoError(t, err)
	assert.Equal(t, demoTrace().Summary(), got.Summary())
}

func TestConvert_ExplicitFormat(t *testing.T) {
	in := writeTrace(t, "demo.pprof")
	dst := filepath.Join(t.TempDir(), "demo.bin")

	_, err := runCmd(t, "convert", in, dst, "--to", "cpuprofile")
	require.NoError(t, err)

	got, err := export.ReadFile(dst, export.FormatCPUProfile)
	require.NoError(t, err)
	assert.Len(t, got.Samples, 5)
}

func TestConvert_UnknownFormat(t *testing.T) {
	in := writeTrace(t, "demo.pprof")
	_, err := runCmd(t, "convert", in, filepath.Join(t.TempDir(), "x.out"), "--to", "svg")
	assert.ErrorIs(t, err, export.ErrUnsupportedFormat)
}
