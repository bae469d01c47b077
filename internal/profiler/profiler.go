// Package profiler samples the guest call stack at a fixed cycle interval and
// builds a deduplicated call tree from the snapshots.
//
// A Profiler belongs to one execution. The executor calls Observe before every
// instruction with the current cycle; the profiler captures only when the
// cycle reaches the next multiple of the interval, so the non-sampling path is
// a single comparison.
package profiler

import (
	"errors"
	"math"
)

// ErrInvalidSampleInterval is returned for a sample interval of zero.
var ErrInvalidSampleInterval = errors.New("sample interval must be at least 1")

// StackReader exposes the executor's current call stack. CallStack appends
// the frame names, root first, to buf and returns it. Names that cannot be
// resolved are returned empty.
type StackReader interface {
	CallStack(buf []string) []string
}

// StackReaderFunc adapts a function to StackReader.
type StackReaderFunc func(buf []string) []string

// CallStack implements StackReader.
func (f StackReaderFunc) CallStack(buf []string) []string { return f(buf) }

// Profiler captures call-stack samples for one execution.
type Profiler struct {
	interval uint64
	next     uint64
	done     bool
	stack    StackReader

	frames  *FrameTable
	samples []Sample
	arena   []int
	names   []string
}

// New creates a profiler sampling every interval cycles from stack.
func New(interval uint64, stack StackReader) (*Profiler, error) {
	if interval == 0 {
		return nil, ErrInvalidSampleInterval
	}
	return &Profiler{
		interval: interval,
		stack:    stack,
		frames:   NewFrameTable(),
	}, nil
}

// Interval returns the sample interval in cycles.
func (p *Profiler) Interval() uint64 {
	return p.interval
}

// Observe offers the current cycle. A sample is taken when cycle has reached
// the next multiple of the interval; each multiple is sampled at most once.
func (p *Profiler) Observe(cycle uint64) {
	if cycle < p.next || p.done {
		return
	}
	p.capture(cycle)

	slot := cycle / p.interval
	if slot >= math.MaxUint64/p.interval {
		p.done = true
		return
	}
	p.next = (slot + 1) * p.interval
}

func (p *Profiler) capture(cycle uint64) {
	p.names = p.stack.CallStack(p.names[:0])
	start := len(p.arena)
	p.arena = p.frames.InternStack(p.arena, p.names)
	end := len(p.arena)
	p.samples = append(p.samples, Sample{
		Cycle: cycle,
		Stack: p.arena[start:end:end],
	})
}

// SampleCount returns the number of samples captured so far.
func (p *Profiler) SampleCount() int {
	return len(p.samples)
}

// FrameCount returns the number of distinct frames seen so far.
func (p *Profiler) FrameCount() int {
	return p.frames.Len()
}

// Trace returns a copy of the collected trace, stamped with totalCycles.
func (p *Profiler) Trace(totalCycles uint64) *Trace {
	t := &Trace{
		Frames:         p.frames.Frames(),
		Samples:        make([]Sample, len(p.samples)),
		SampleInterval: p.interval,
		TotalCycles:    totalCycles,
	}
	for i, s := range p.samples {
		stack := make([]int, len(s.Stack))
		copy(stack, s.Stack)
		t.Samples[i] = Sample{Cycle: s.Cycle, Stack: stack}
	}
	return t
}

// Discard drops every sample and frame, for aborted executions.
func (p *Profiler) Discard() {
	p.frames = NewFrameTable()
	p.samples = nil
	p.arena = nil
	p.names = nil
}
