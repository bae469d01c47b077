package profiler

// CallNode is a frame of the call tree with its sample counts. Self counts
// samples where the frame was the leaf; Total counts samples passing through
// it.
type CallNode struct {
	Frame    CallFrame
	Self     int
	Total    int
	Children []*CallNode
}

// CallTree arranges the frame table as a tree and attaches sample counts.
// Roots and children are in frame id order, which is first-sampled order.
func (t *Trace) CallTree() []*CallNode {
	nodes := make([]*CallNode, len(t.Frames))
	for i, f := range t.Frames {
		nodes[i] = &CallNode{Frame: f}
	}

	for _, s := range t.Samples {
		for _, id := range s.Stack {
			if id >= 0 && id < len(nodes) {
				nodes[id].Total++
			}
		}
		if n := len(s.Stack); n > 0 {
			if leaf := s.Stack[n-1]; leaf >= 0 && leaf < len(nodes) {
				nodes[leaf].Self++
			}
		}
	}

	var roots []*CallNode
	for _, n := range nodes {
		parent := n.Frame.ParentID
		if parent >= 0 && parent < len(nodes) && parent != n.Frame.ID {
			nodes[parent].Children = append(nodes[parent].Children, n)
		} else {
			roots = append(roots, n)
		}
	}
	return roots
}
