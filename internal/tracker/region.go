// Package tracker attributes execution cycles to named regions of a guest
// program.
//
// A guest delimits regions by writing annotation lines to its output:
//
//	cycle-tracker-start: <label>          print mode
//	cycle-tracker-end: <label>
//	cycle-tracker-report-start: <label>   report mode
//	cycle-tracker-report-end: <label>
//
// The Scanner recognizes those lines, keeps the open regions on a RegionStack
// and, when a region closes, either logs its cycle count (print mode) or
// forwards it to an Aggregator (report mode). Every type in this package is
// owned by a single execution loop and is not safe for concurrent use, except
// SharedAggregator.
package tracker

import "fmt"

// Mode selects what happens to a region's cycle count when it closes.
type Mode int

const (
	// ModePrint logs the count and discards it.
	ModePrint Mode = iota
	// ModeReport adds the count to the execution report.
	ModeReport
)

func (m Mode) String() string {
	switch m {
	case ModePrint:
		return "print"
	case ModeReport:
		return "report"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Region is an open, named interval of execution.
type Region struct {
	Name       string
	Mode       Mode
	Depth      int
	StartCycle uint64
}

// RegionDelta is the cycle count of a closed region.
type RegionDelta struct {
	Name   string
	Cycles uint64
}

// RegionStack holds the currently open regions, innermost last. Regions are
// told apart by position only, so the same label may be open at several
// depths at once.
type RegionStack struct {
	regions []Region
}

// Push opens a region at the next depth and returns it.
func (s *RegionStack) Push(name string, mode Mode, start uint64) Region {
	r := Region{
		Name:       name,
		Mode:       mode,
		Depth:      len(s.regions),
		StartCycle: start,
	}
	s.regions = append(s.regions, r)
	return r
}

// Top returns the innermost open region.
func (s *RegionStack) Top() (Region, bool) {
	if len(s.regions) == 0 {
		return Region{}, false
	}
	return s.regions[len(s.regions)-1], true
}

// Pop removes and returns the innermost open region.
func (s *RegionStack) Pop() (Region, bool) {
	r, ok := s.Top()
	if !ok {
		return Region{}, false
	}
	s.regions = s.regions[:len(s.regions)-1]
	return r, true
}

// Len returns the current nesting depth.
func (s *RegionStack) Len() int {
	return len(s.regions)
}

// Drain removes every open region and returns them outermost first.
func (s *RegionStack) Drain() []Region {
	open := s.regions
	s.regions = nil
	return open
}
