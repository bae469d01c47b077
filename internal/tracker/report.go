package tracker

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
)

// ErrLabelNotRecorded is returned when a report has no entry for a label.
var ErrLabelNotRecorded = errors.New("label not recorded in report mode")

// ExecutionReport maps region labels to the total cycles spent in them.
type ExecutionReport struct {
	CycleTracker map[string]uint64 `json:"cycle_tracker" yaml:"cycle_tracker"`
}

// Get returns the total for label.
func (r ExecutionReport) Get(label string) (uint64, bool) {
	v, ok := r.CycleTracker[label]
	return v, ok
}

// Cycles returns the total for label, failing with ErrLabelNotRecorded if the
// label never closed in report mode.
func (r ExecutionReport) Cycles(label string) (uint64, error) {
	v, ok := r.CycleTracker[label]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrLabelNotRecorded, label)
	}
	return v, nil
}

// Labels returns the recorded labels in lexical order.
func (r ExecutionReport) Labels() []string {
	return slices.Sorted(maps.Keys(r.CycleTracker))
}

// Total returns the sum over all labels. Nested regions are counted once per
// label, so the total may exceed the run's cycle count.
func (r ExecutionReport) Total() uint64 {
	var total uint64
	for _, v := range r.CycleTracker {
		total += v
	}
	return total
}

// Recorder receives closed report-mode regions.
type Recorder interface {
	Record(delta RegionDelta)
}

// Accumulator is a Recorder whose totals can be read back.
type Accumulator interface {
	Recorder
	Snapshot() ExecutionReport
}

// Aggregator sums region deltas per label. It never evicts; keys only grow.
type Aggregator struct {
	totals map[string]uint64
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{totals: make(map[string]uint64)}
}

// Record adds delta.Cycles to the total for delta.Name.
func (a *Aggregator) Record(delta RegionDelta) {
	if a.totals == nil {
		a.totals = make(map[string]uint64)
	}
	a.totals[delta.Name] += delta.Cycles
}

// Merge records every entry of report.
func (a *Aggregator) Merge(report ExecutionReport) {
	for name, cycles := range report.CycleTracker {
		a.Record(RegionDelta{Name: name, Cycles: cycles})
	}
}

// Snapshot returns a copy of the current totals.
func (a *Aggregator) Snapshot() ExecutionReport {
	out := make(map[string]uint64, len(a.totals))
	maps.Copy(out, a.totals)
	return ExecutionReport{CycleTracker: out}
}

// Reset clears all totals.
func (a *Aggregator) Reset() {
	clear(a.totals)
}

// SharedAggregator is an Aggregator that may be shared between concurrent
// executions that intentionally accumulate into one report.
type SharedAggregator struct {
	mu  sync.Mutex
	agg Aggregator
}

// NewSharedAggregator creates an empty shared aggregator.
func NewSharedAggregator() *SharedAggregator {
	return &SharedAggregator{agg: Aggregator{totals: make(map[string]uint64)}}
}

// Record implements Recorder.
func (s *SharedAggregator) Record(delta RegionDelta) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agg.Record(delta)
}

// Merge records every entry of report under a single lock.
func (s *SharedAggregator) Merge(report ExecutionReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agg.Merge(report)
}

// Snapshot implements Accumulator.
func (s *SharedAggregator) Snapshot() ExecutionReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agg.Snapshot()
}

// Reset clears all totals.
func (s *SharedAggregator) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agg.Reset()
}
