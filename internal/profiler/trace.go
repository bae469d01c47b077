package profiler

import (
	"fmt"
	"slices"
	"strings"
)

// Sample is one call-stack snapshot. Stack holds frame ids root first, leaf
// last; an empty stack means nothing was executing inside a frame.
type Sample struct {
	Cycle uint64 `json:"cycle"`
	Stack []int  `json:"stack"`
}

// Trace is the result of one profiled execution.
type Trace struct {
	Program        string      `json:"program,omitempty"`
	Frames         []CallFrame `json:"frames"`
	Samples        []Sample    `json:"samples"`
	SampleInterval uint64      `json:"sample_interval"`
	TotalCycles    uint64      `json:"total_cycles"`
}

// Validate checks the structural invariants of a trace: frame ids are dense,
// parents precede children, and every sample stack is a parent chain.
func (t *Trace) Validate() error {
	if t.SampleInterval == 0 {
		return ErrInvalidSampleInterval
	}
	for i, f := range t.Frames {
		if f.ID != i {
			return fmt.Errorf("frame %d has id %d", i, f.ID)
		}
		if f.ParentID != NoParent && (f.ParentID < 0 || f.ParentID >= i) {
			return fmt.Errorf("frame %d (%s) has invalid parent %d", i, f.Name, f.ParentID)
		}
	}
	for i, s := range t.Samples {
		parent := NoParent
		for _, id := range s.Stack {
			if id < 0 || id >= len(t.Frames) {
				return fmt.Errorf("sample %d references unknown frame %d", i, id)
			}
			if t.Frames[id].ParentID != parent {
				return fmt.Errorf("sample %d: frame %d is not a child of %d", i, id, parent)
			}
			parent = id
		}
	}
	return nil
}

// StackNames resolves a sample's stack to frame names, root first.
func (t *Trace) StackNames(s Sample) []string {
	names := make([]string, 0, len(s.Stack))
	for _, id := range s.Stack {
		if id >= 0 && id < len(t.Frames) {
			names = append(names, t.Frames[id].Name)
		} else {
			names = append(names, UnknownFrame)
		}
	}
	return names
}

// FrameCount is the number of samples a frame appeared in.
type FrameCount struct {
	Name   string `json:"name" header:"Function"`
	Self   int    `json:"self" header:"Self"`
	Total  int    `json:"total" header:"Total"`
	Cycles uint64 `json:"cycles" header:"Cycles"`
}

// Summary aggregates samples per function name. Self counts samples where the
// function was the leaf; Total counts samples where it appeared anywhere on the
// stack (once per sample, even under recursion). Cycles is Total scaled by the
// sample interval. Results are ordered by Total, then Self, descending.
func (t *Trace) Summary() []FrameCount {
	byName := make(map[string]*FrameCount)
	get := func(name string) *FrameCount {
		fc, ok := byName[name]
		if !ok {
			fc = &FrameCount{Name: name}
			byName[name] = fc
		}
		return fc
	}

	seen := make(map[string]struct{})
	for _, s := range t.Samples {
		if len(s.Stack) == 0 {
			continue
		}
		clear(seen)
		names := t.StackNames(s)
		for _, name := range names {
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			get(name).Total++
		}
		get(names[len(names)-1]).Self++
	}

	out := make([]FrameCount, 0, len(byName))
	for _, fc := range byName {
		fc.Cycles = uint64(fc.Total) * t.SampleInterval
		out = append(out, *fc)
	}
	slices.SortFunc(out, func(a, b FrameCount) int {
		if a.Total != b.Total {
			return b.Total - a.Total
		}
		if a.Self != b.Self {
			return b.Self - a.Self
		}
		return strings.Compare(a.Name, b.Name)
	})
	return out
}

// Clone returns a deep copy of the trace.
func (t *Trace) Clone() *Trace {
	out := *t
	out.Frames = slices.Clone(t.Frames)
	out.Samples = make([]Sample, len(t.Samples))
	for i, s := range t.Samples {
		out.Samples[i] = Sample{Cycle: s.Cycle, Stack: slices.Clone(s.Stack)}
	}
	return &out
}
