package tracker

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	cycles uint64
}

func (c *fakeClock) Cycles() uint64    { return c.cycles }
func (c *fakeClock) advance(n uint64)  { c.cycles += n }
func (c *fakeClock) set(cycles uint64) { c.cycles = cycles }

func newTestScanner(t *testing.T) (*Scanner, *fakeClock, *Aggregator, *bytes.Buffer) {
	t.Helper()
	clock := &fakeClock{}
	agg := NewAggregator()
	var out bytes.Buffer
	return NewScanner(clock, agg, &out, zerolog.Nop()), clock, agg, &out
}

func TestScanner_RepeatedReportRegion(t *testing.T) {
	s, clock, agg, _ := newTestScanner(t)

	for i := 0; i < 10; i++ {
		require.True(t, s.HandleLine("cycle-tracker-report-start: compute"))
		clock.advance(100)
		require.True(t, s.HandleLine("cycle-tracker-report-end: compute"))
		clock.advance(7) // Untracked work between iterations.
	}

	report := agg.Snapshot()
	cycles, err := report.Cycles("compute")
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), cycles)
	assert.Empty(t, s.Warnings())
	assert.Zero(t, s.Depth())
}

func TestScanner_UnmatchedEndMarker(t *testing.T) {
	s, clock, agg, out := newTestScanner(t)

	require.True(t, s.HandleLine("cycle-tracker-report-start: outer"))
	clock.advance(10)
	require.True(t, s.HandleLine("cycle-tracker-report-end: foo"))
	clock.advance(5)
	require.True(t, s.HandleLine("cycle-tracker-report-end: outer"))

	warnings := s.Warnings()
	require.Len(t, warnings, 1)
	assert.ErrorIs(t, warnings[0], ErrUnmatchedCloseMarker)
	assert.Equal(t, "foo", warnings[0].Label)
	assert.Equal(t, "outer", warnings[0].Expected)
	assert.Equal(t, uint64(10), warnings[0].Cycle)

	// The stray marker did not disturb the open region.
	report := agg.Snapshot()
	assert.Equal(t, map[string]uint64{"outer": 15}, report.CycleTracker)
	_, ok := report.Get("foo")
	assert.False(t, ok)
	assert.Empty(t, out.String())
}

func TestScanner_EndMarkerOnEmptyStack(t *testing.T) {
	s, _, agg, _ := newTestScanner(t)

	require.True(t, s.HandleLine("cycle-tracker-end: foo"))

	require.Len(t, s.Warnings(), 1)
	assert.True(t, errors.Is(s.Warnings()[0], ErrUnmatchedCloseMarker))
	assert.Empty(t, s.Warnings()[0].Expected)
	assert.Empty(t, agg.Snapshot().CycleTracker)
}

func TestScanner_NestedSameLabelIsLIFO(t *testing.T) {
	s, clock, agg, _ := newTestScanner(t)

	s.HandleLine("cycle-tracker-report-start: fib") // depth 0 at 0
	clock.advance(10)
	s.HandleLine("cycle-tracker-report-start: fib") // depth 1 at 10
	clock.advance(30)
	s.HandleLine("cycle-tracker-report-end: fib") // closes depth 1: 30
	clock.advance(5)
	s.HandleLine("cycle-tracker-report-end: fib") // closes depth 0: 45

	assert.Equal(t, uint64(75), agg.Snapshot().CycleTracker["fib"])
	assert.Empty(t, s.Warnings())
}

func TestScanner_CrossedRegionsAreDetected(t *testing.T) {
	s, clock, agg, _ := newTestScanner(t)

	s.HandleLine("cycle-tracker-report-start: a")
	clock.advance(1)
	s.HandleLine("cycle-tracker-report-start: b")
	clock.advance(1)
	s.HandleLine("cycle-tracker-report-end: a") // b is innermost
	clock.advance(1)
	s.HandleLine("cycle-tracker-report-end: b")
	clock.advance(1)
	s.HandleLine("cycle-tracker-report-end: a")

	require.Len(t, s.Warnings(), 1)
	assert.ErrorIs(t, s.Warnings()[0], ErrUnmatchedCloseMarker)
	assert.Equal(t, "b", s.Warnings()[0].Expected)
	assert.Equal(t, map[string]uint64{"a": 4, "b": 2}, agg.Snapshot().CycleTracker)
}

func TestScanner_ModeMismatchIsUnmatched(t *testing.T) {
	s, _, agg, _ := newTestScanner(t)

	s.HandleLine("cycle-tracker-start: load")
	s.HandleLine("cycle-tracker-report-end: load")

	require.Len(t, s.Warnings(), 1)
	assert.ErrorIs(t, s.Warnings()[0], ErrUnmatchedCloseMarker)
	assert.Equal(t, 1, s.Depth())
	assert.Empty(t, agg.Snapshot().CycleTracker)
}

func TestScanner_PrintModeLogsAndSkipsReport(t *testing.T) {
	clock := &fakeClock{}
	agg := NewAggregator()
	var logs bytes.Buffer
	s := NewScanner(clock, agg, nil, zerolog.New(&logs))

	s.HandleLine("cycle-tracker-start: setup")
	clock.advance(42)
	s.HandleLine("cycle-tracker-end: setup")

	assert.Empty(t, agg.Snapshot().CycleTracker)
	assert.Contains(t, logs.String(), "setup: 42 cycles")
}

func TestScanner_WritePassthroughAndPartialLines(t *testing.T) {
	s, clock, agg, out := newTestScanner(t)

	_, err := s.Write([]byte("hello\ncycle-tracker-report-st"))
	require.NoError(t, err)
	_, err = s.Write([]byte("art: io\n"))
	require.NoError(t, err)
	clock.advance(12)
	_, err = s.Write([]byte("world\ncycle-tracker-report-end: io\r\ntail"))
	require.NoError(t, err)

	assert.Equal(t, "hello\nworld\n", out.String())
	require.NoError(t, s.Flush())
	assert.Equal(t, "hello\nworld\ntail", out.String())
	assert.Equal(t, uint64(12), agg.Snapshot().CycleTracker["io"])
}

func TestScanner_NonAnnotationLines(t *testing.T) {
	s, _, _, _ := newTestScanner(t)

	lines := []string{
		"cycle-tracker-start:",
		"cycle-tracker-report-start:    ",
		"  cycle-tracker-start: indented",
		"result: 42",
		"cycle-tracker-begin: x",
	}
	for _, line := range lines {
		assert.False(t, s.HandleLine(line), "line %q", line)
	}
	assert.Zero(t, s.Depth())
}

func TestScanner_LabelIsTrimmed(t *testing.T) {
	s, clock, agg, _ := newTestScanner(t)

	s.HandleLine("cycle-tracker-report-start:   verify sig  ")
	clock.advance(3)
	s.HandleLine("cycle-tracker-report-end: verify sig")

	assert.Equal(t, uint64(3), agg.Snapshot().CycleTracker["verify sig"])
}

func TestScanner_FinishReportsUnterminated(t *testing.T) {
	s, clock, agg, _ := newTestScanner(t)

	s.HandleLine("cycle-tracker-report-start: outer")
	s.HandleLine("cycle-tracker-start: inner")
	clock.set(500)

	open := s.Finish()
	require.Len(t, open, 2)
	assert.Equal(t, "outer", open[0].Name)
	assert.Equal(t, 1, open[1].Depth)

	require.Len(t, s.Warnings(), 2)
	for _, w := range s.Warnings() {
		assert.ErrorIs(t, w, ErrUnterminatedRegion)
		assert.Equal(t, uint64(500), w.Cycle)
	}
	assert.Empty(t, agg.Snapshot().CycleTracker)
	assert.Zero(t, s.Depth())
}

func TestScanner_DiscardIsSilent(t *testing.T) {
	s, _, _, _ := newTestScanner(t)

	s.HandleLine("cycle-tracker-report-start: outer")
	s.Discard()

	assert.Zero(t, s.Depth())
	assert.Empty(t, s.Warnings())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("closed pipe") }

func TestScanner_PassthroughErrorIsReturned(t *testing.T) {
	s := NewScanner(&fakeClock{}, NewAggregator(), failingWriter{}, zerolog.Nop())

	_, err := s.Write([]byte("cycle-tracker-report-start: a\nplain\n"))
	require.Error(t, err)
	assert.Equal(t, 1, s.Depth(), "annotation before the failing line is still handled")
}

func TestWarning_Error(t *testing.T) {
	w := &Warning{Kind: ErrUnmatchedCloseMarker, Label: "foo", Mode: ModeReport, Cycle: 9}
	assert.True(t, strings.HasPrefix(w.Error(), "unmatched close marker"))
	assert.Contains(t, w.Error(), `"foo"`)
}

func TestMarkers_RoundTripThroughScanner(t *testing.T) {
	s, clock, agg, _ := newTestScanner(t)

	assert.Equal(t, "cycle-tracker-report-start: hash", StartMarker(ModeReport, "hash"))
	assert.Equal(t, "cycle-tracker-end: hash", EndMarker(ModePrint, "hash"))

	require.True(t, s.HandleLine(StartMarker(ModeReport, "hash")))
	clock.advance(9)
	require.True(t, s.HandleLine(EndMarker(ModeReport, "hash")))
	assert.Equal(t, uint64(9), agg.Snapshot().CycleTracker["hash"])
}
