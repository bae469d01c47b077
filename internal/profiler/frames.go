package profiler

// NoParent is the ParentID of root frames.
const NoParent = -1

// UnknownFrame replaces frame names the executor cannot resolve.
const UnknownFrame = "[unknown]"

// CallFrame is one node of the call tree. A frame is identified by its name
// together with its parent, so the same function reached from two callers
// yields two frames.
type CallFrame struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	ParentID int    `json:"parent_id"`
}

type frameKey struct {
	name   string
	parent int
}

// FrameTable interns call frames. IDs are dense and assigned in first-seen
// order, so Frames()[i].ID == i.
type FrameTable struct {
	index  map[frameKey]int
	frames []CallFrame
}

// NewFrameTable creates an empty table.
func NewFrameTable() *FrameTable {
	return &FrameTable{index: make(map[frameKey]int)}
}

// Intern returns the id of the frame (name, parent), creating it on first use.
func (t *FrameTable) Intern(name string, parent int) int {
	if name == "" {
		name = UnknownFrame
	}
	key := frameKey{name: name, parent: parent}
	if id, ok := t.index[key]; ok {
		return id
	}
	id := len(t.frames)
	t.frames = append(t.frames, CallFrame{ID: id, Name: name, ParentID: parent})
	t.index[key] = id
	return id
}

// InternStack interns a root-first stack of names and appends the resulting
// frame ids to dst.
func (t *FrameTable) InternStack(dst []int, names []string) []int {
	parent := NoParent
	for _, name := range names {
		parent = t.Intern(name, parent)
		dst = append(dst, parent)
	}
	return dst
}

// Len returns the number of distinct frames.
func (t *FrameTable) Len() int {
	return len(t.frames)
}

// Frame returns the frame with the given id.
func (t *FrameTable) Frame(id int) (CallFrame, bool) {
	if id < 0 || id >= len(t.frames) {
		return CallFrame{}, false
	}
	return t.frames[id], true
}

// Frames returns a copy of all frames indexed by id.
func (t *FrameTable) Frames() []CallFrame {
	out := make([]CallFrame, len(t.frames))
	copy(out, t.frames)
	return out
}
