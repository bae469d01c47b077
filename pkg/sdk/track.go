package sdk

import (
	"fmt"
	"io"
	"sync"

	"github.com/coral-mesh/cycletrack/internal/tracker"
)

// Mode selects whether a region is logged (ModePrint) or added to the report
// (ModeReport) when it closes.
type Mode = tracker.Mode

const (
	ModePrint  = tracker.ModePrint
	ModeReport = tracker.ModeReport
)

// Start writes the start marker for label to w and returns a function that
// writes the matching end marker. The returned function is meant for defer
// and only writes once. Write errors are ignored.
func Start(w io.Writer, mode Mode, label string) func() {
	_, _ = fmt.Fprintln(w, tracker.StartMarker(mode, label))

	var once sync.Once
	return func() {
		once.Do(func() {
			_, _ = fmt.Fprintln(w, tracker.EndMarker(mode, label))
		})
	}
}

// Track runs fn inside a print-mode region.
func Track(w io.Writer, label string, fn func() error) error {
	defer Start(w, ModePrint, label)()
	return fn()
}

// TrackReport runs fn inside a report-mode region.
func TrackReport(w io.Writer, label string, fn func() error) error {
	defer Start(w, ModeReport, label)()
	return fn()
}
