package tracker

import (
	"errors"
	"fmt"
)

var (
	// ErrUnmatchedCloseMarker marks an end annotation with no open region, or
	// whose label or mode differs from the innermost open region.
	ErrUnmatchedCloseMarker = errors.New("unmatched close marker")

	// ErrUnterminatedRegion marks a region still open when the run ended.
	ErrUnterminatedRegion = errors.New("unterminated region")
)

// Warning describes an annotation problem. Warnings never fail a run; the
// offending marker or region is dropped.
type Warning struct {
	// Kind is ErrUnmatchedCloseMarker or ErrUnterminatedRegion.
	Kind error
	// Label is the annotation label involved.
	Label string
	// Mode is the mode of the marker (unmatched) or of the region (unterminated).
	Mode Mode
	// Expected is the label of the innermost open region, if any.
	Expected string
	// Cycle is the clock value when the problem was detected.
	Cycle uint64
}

func (w *Warning) Error() string {
	switch {
	case w.Expected != "":
		return fmt.Sprintf("%v: %q (%s) at cycle %d, innermost open region is %q",
			w.Kind, w.Label, w.Mode, w.Cycle, w.Expected)
	default:
		return fmt.Sprintf("%v: %q (%s) at cycle %d", w.Kind, w.Label, w.Mode, w.Cycle)
	}
}

// Unwrap lets errors.Is match the warning kind.
func (w *Warning) Unwrap() error {
	return w.Kind
}
