package tracker

// Clock exposes the executor's retired-instruction count. Implementations must
// be O(1), free of side effects, and monotonically non-decreasing for the
// lifetime of one execution.
type Clock interface {
	Cycles() uint64
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() uint64

// Cycles implements Clock.
func (f ClockFunc) Cycles() uint64 { return f() }

// Counter reads a Clock at region boundaries.
type Counter struct {
	clock Clock
}

// NewCounter creates a counter over clock.
func NewCounter(clock Clock) Counter {
	return Counter{clock: clock}
}

// Now returns the current cycle.
func (c Counter) Now() uint64 {
	return c.clock.Cycles()
}

// Since returns the cycles elapsed since start, or zero if the clock reads
// earlier than start.
func (c Counter) Since(start uint64) uint64 {
	now := c.clock.Cycles()
	if now < start {
		return 0
	}
	return now - start
}
