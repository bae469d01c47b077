package export

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/pprof/profile"

	"github.com/coral-mesh/cycletrack/internal/profiler"
	"github.com/coral-mesh/cycletrack/internal/safe"
)

const (
	cycleLabel = "cycle"

	commentInterval = "sample_interval: "
	commentTotal    = "total_cycles: "
	commentProgram  = "program: "
)

// toProfile converts a trace to a pprof profile. Each frame becomes one
// location with ID frame+1; functions are shared between frames of the same
// name.
func toProfile(trace *profiler.Trace) *profile.Profile {
	interval, _ := safe.Uint64ToInt64(trace.SampleInterval)

	p := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "samples", Unit: "count"},
			{Type: "cycles", Unit: "cycles"},
		},
		DefaultSampleType: "cycles",
		PeriodType:        &profile.ValueType{Type: "cycles", Unit: "cycles"},
		Period:            interval,
		Comments: []string{
			commentInterval + strconv.FormatUint(trace.SampleInterval, 10),
			commentTotal + strconv.FormatUint(trace.TotalCycles, 10),
		},
	}
	if trace.Program != "" {
		p.Comments = append(p.Comments, commentProgram+trace.Program)
	}

	functions := make(map[string]*profile.Function)
	locations := make([]*profile.Location, len(trace.Frames))
	for i, frame := range trace.Frames {
		fn, ok := functions[frame.Name]
		if !ok {
			fn = &profile.Function{
				ID:         uint64(len(p.Function) + 1),
				Name:       frame.Name,
				SystemName: frame.Name,
			}
			functions[frame.Name] = fn
			p.Function = append(p.Function, fn)
		}
		loc := &profile.Location{
			ID:   uint64(i + 1),
			Line: []profile.Line{{Function: fn}},
		}
		locations[i] = loc
		p.Location = append(p.Location, loc)
	}

	for _, s := range trace.Samples {
		// pprof stacks are leaf first.
		locs := make([]*profile.Location, len(s.Stack))
		for i, id := range s.Stack {
			locs[len(s.Stack)-1-i] = locations[id]
		}
		cycle, _ := safe.Uint64ToInt64(s.Cycle)
		p.Sample = append(p.Sample, &profile.Sample{
			Location: locs,
			Value:    []int64{1, interval},
			NumLabel: map[string][]int64{cycleLabel: {cycle}},
			NumUnit:  map[string][]string{cycleLabel: {"cycles"}},
		})
	}
	return p
}

func encodePprof(w io.Writer, trace *profiler.Trace) error {
	p := toProfile(trace)
	if err := p.CheckValid(); err != nil {
		return fmt.Errorf("invalid pprof profile: %w", err)
	}
	return p.Write(w)
}

// decodePprof rebuilds a trace from a pprof profile. Frames are interned from
// the sample stacks by (name, parent), so a location reached from several
// callers, or recursively, becomes one frame per call path. For profiles
// written by encodePprof this reproduces the original frame ids.
func decodePprof(r io.Reader) (*profiler.Trace, error) {
	p, err := profile.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pprof profile: %w", err)
	}

	trace := &profiler.Trace{}
	if p.Period > 0 {
		trace.SampleInterval, _ = safe.Int64ToUint64(p.Period)
	}
	for _, c := range p.Comments {
		switch {
		case strings.HasPrefix(c, commentInterval):
			if v, err := strconv.ParseUint(strings.TrimPrefix(c, commentInterval), 10, 64); err == nil {
				trace.SampleInterval = v
			}
		case strings.HasPrefix(c, commentTotal):
			if v, err := strconv.ParseUint(strings.TrimPrefix(c, commentTotal), 10, 64); err == nil {
				trace.TotalCycles = v
			}
		case strings.HasPrefix(c, commentProgram):
			trace.Program = strings.TrimPrefix(c, commentProgram)
		}
	}
	if trace.SampleInterval == 0 {
		trace.SampleInterval = 1
	}

	frames := profiler.NewFrameTable()
	trace.Samples = make([]profiler.Sample, 0, len(p.Sample))
	var names []string
	for i, s := range p.Sample {
		names = stackNames(names[:0], s.Location)

		var cycle uint64
		if v := s.NumLabel[cycleLabel]; len(v) > 0 {
			cycle, _ = safe.Int64ToUint64(v[0])
		} else {
			cycle = uint64(i) * trace.SampleInterval
		}
		trace.Samples = append(trace.Samples, profiler.Sample{
			Cycle: cycle,
			Stack: frames.InternStack(nil, names),
		})
	}
	trace.Frames = frames.Frames()
	return trace, nil
}

// stackNames appends the root-first function names of a leaf-first location
// list. Inlined lines of a location are expanded, caller last.
func stackNames(dst []string, locs []*profile.Location) []string {
	for i := len(locs) - 1; i >= 0; i-- {
		loc := locs[i]
		if len(loc.Line) == 0 {
			dst = append(dst, profiler.UnknownFrame)
			continue
		}
		for j := len(loc.Line) - 1; j >= 0; j-- {
			dst = append(dst, lineName(loc.Line[j]))
		}
	}
	return dst
}

func lineName(line profile.Line) string {
	if line.Function == nil || line.Function.Name == "" {
		return profiler.UnknownFrame
	}
	return line.Function.Name
}
