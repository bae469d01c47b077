package export

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"

	"github.com/coral-mesh/cycletrack/internal/profiler"
	"github.com/coral-mesh/cycletrack/internal/safe"
)

type nodeID int64

// rootNodeID is the synthetic "(root)" node; frame i maps to node i+2.
const rootNodeID nodeID = 1

// https://chromedevtools.github.io/devtools-protocol/1-3/Profiler/#type-Profile
type cpuProfile struct {
	Nodes      []*cpuProfileNode `json:"nodes"`
	StartTime  int64             `json:"startTime"`
	EndTime    int64             `json:"endTime"`
	Samples    []nodeID          `json:"samples"`
	TimeDeltas []int64           `json:"timeDeltas"`

	// Extensions ignored by viewers.
	SampleInterval uint64 `json:"$sampleInterval,omitempty"`
	Program        string `json:"$program,omitempty"`
}

// https://chromedevtools.github.io/devtools-protocol/1-3/Profiler/#type-ProfileNode
type cpuProfileNode struct {
	ID        nodeID    `json:"id"`
	CallFrame callFrame `json:"callFrame"`
	HitCount  int64     `json:"hitCount"`
	Parent    nodeID    `json:"parent,omitempty"`
	Children  []nodeID  `json:"children,omitempty"`
}

// https://chromedevtools.github.io/devtools-protocol/1-3/Runtime/#type-CallFrame
type callFrame struct {
	FunctionName string `json:"functionName"`
	ScriptID     string `json:"scriptId"`
	URL          string `json:"url"`
	LineNumber   int64  `json:"lineNumber"`
	ColumnNumber int64  `json:"columnNumber"`
}

func newCallFrame(name string) callFrame {
	return callFrame{
		FunctionName: name,
		ScriptID:     "0",
		LineNumber:   -1,
		ColumnNumber: -1,
	}
}

func frameNode(id int) nodeID {
	return nodeID(id) + 2
}

func encodeCPUProfile(w io.Writer, trace *profiler.Trace) error {
	end, _ := safe.Uint64ToInt64(trace.TotalCycles)
	out := cpuProfile{
		Nodes:          make([]*cpuProfileNode, 0, len(trace.Frames)+1),
		EndTime:        end,
		Samples:        make([]nodeID, 0, len(trace.Samples)),
		TimeDeltas:     make([]int64, 0, len(trace.Samples)),
		SampleInterval: trace.SampleInterval,
		Program:        trace.Program,
	}

	root := &cpuProfileNode{ID: rootNodeID, CallFrame: newCallFrame("(root)")}
	out.Nodes = append(out.Nodes, root)
	for _, f := range trace.Frames {
		node := &cpuProfileNode{
			ID:        frameNode(f.ID),
			CallFrame: newCallFrame(f.Name),
			Parent:    rootNodeID,
		}
		if f.ParentID != profiler.NoParent {
			node.Parent = frameNode(f.ParentID)
		}
		out.Nodes = append(out.Nodes, node)
	}
	for _, node := range out.Nodes[1:] {
		parent := out.Nodes[node.Parent-1]
		parent.Children = append(parent.Children, node.ID)
	}

	var last uint64
	for _, s := range trace.Samples {
		leaf := rootNodeID
		if len(s.Stack) > 0 {
			leaf = frameNode(s.Stack[len(s.Stack)-1])
		}
		out.Nodes[leaf-1].HitCount++
		out.Samples = append(out.Samples, leaf)
		delta, _ := safe.Uint64ToInt64(s.Cycle - last)
		out.TimeDeltas = append(out.TimeDeltas, delta)
		last = s.Cycle
	}

	return json.NewEncoder(w).Encode(out)
}

func decodeCPUProfile(r io.Reader) (*profiler.Trace, error) {
	var in cpuProfile
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return nil, fmt.Errorf("failed to parse cpuprofile: %w", err)
	}
	if len(in.Samples) != len(in.TimeDeltas) {
		return nil, fmt.Errorf("cpuprofile has %d samples but %d time deltas", len(in.Samples), len(in.TimeDeltas))
	}

	// Profiles written elsewhere may use arbitrary ids and carry only
	// children links, so frames are numbered in node order and parents are
	// derived from both directions.
	parentOf := make(map[nodeID]nodeID, len(in.Nodes))
	for _, n := range in.Nodes {
		if n.Parent != 0 {
			parentOf[n.ID] = n.Parent
		}
		for _, c := range n.Children {
			parentOf[c] = n.ID
		}
	}

	rootID := nodeID(0)
	frameOf := make(map[nodeID]int, len(in.Nodes))
	var order []*cpuProfileNode
	for _, n := range in.Nodes {
		if _, hasParent := parentOf[n.ID]; !hasParent && n.CallFrame.FunctionName == "(root)" && rootID == 0 {
			rootID = n.ID
			continue
		}
		frameOf[n.ID] = len(order)
		order = append(order, n)
	}

	trace := &profiler.Trace{
		Frames:         make([]profiler.CallFrame, len(order)),
		Samples:        make([]profiler.Sample, 0, len(in.Samples)),
		SampleInterval: in.SampleInterval,
		Program:        in.Program,
	}
	if trace.SampleInterval == 0 {
		trace.SampleInterval = 1
	}
	for i, n := range order {
		parent := profiler.NoParent
		if p, ok := parentOf[n.ID]; ok && p != rootID {
			id, known := frameOf[p]
			if !known {
				return nil, fmt.Errorf("cpuprofile node %d has unknown parent %d", n.ID, p)
			}
			parent = id
		}
		name := n.CallFrame.FunctionName
		if name == "" {
			name = profiler.UnknownFrame
		}
		trace.Frames[i] = profiler.CallFrame{ID: i, Name: name, ParentID: parent}
	}

	var cycle uint64
	for i, leaf := range in.Samples {
		delta, _ := safe.Int64ToUint64(in.TimeDeltas[i])
		cycle += delta

		stack := []int{}
		if leaf != rootID {
			id, ok := frameOf[leaf]
			if !ok {
				return nil, fmt.Errorf("cpuprofile sample %d references unknown node %d", i, leaf)
			}
			for ; id != profiler.NoParent; id = trace.Frames[id].ParentID {
				stack = append(stack, id)
				if len(stack) > len(trace.Frames) {
					return nil, fmt.Errorf("cpuprofile node %d is part of a cycle", leaf)
				}
			}
			slices.Reverse(stack)
		}
		trace.Samples = append(trace.Samples, profiler.Sample{Cycle: cycle, Stack: stack})
	}

	end, _ := safe.Int64ToUint64(in.EndTime - in.StartTime)
	trace.TotalCycles = max(end, cycle)
	return trace, nil
}
