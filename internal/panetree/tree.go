// Package panetree implements the recursive split-pane layout tree.
//
// A tree is a strict hierarchy: leaves reference terminal sessions, splits
// own an ordered list of children plus proportional sizes that always sum
// to 100. Parents own children; there are no back-references, so the
// structure can never become cyclic. All mutation goes through the panel
// controller, which serializes writers.
package panetree

import (
	"math"

	"github.com/termpanel/termpanel/internal/shared/id"
)

// Direction is the axis of a split.
type Direction string

const (
	Horizontal Direction = "horizontal"
	Vertical   Direction = "vertical"
)

// MinSizePct is the floor below which no child's proportional size may drop.
const MinSizePct = 10.0

const sumEpsilon = 1e-6

// Node is one pane in the layout. A node is either a leaf (SessionID set)
// or a split (Children and Sizes set); never both.
type Node struct {
	ID        id.PaneID    `json:"id"`
	SessionID id.SessionID `json:"session_id,omitempty"`
	Direction Direction    `json:"direction,omitempty"`
	Children  []*Node      `json:"children,omitempty"`
	Sizes     []float64    `json:"sizes,omitempty"`
}

// IsLeaf reports whether the node hosts a session directly.
func (n *Node) IsLeaf() bool {
	return len(n.Children) == 0
}

// NewLeaf creates a leaf node for a session.
func NewLeaf(sessionID id.SessionID) *Node {
	return &Node{ID: id.NewPaneID(), SessionID: sessionID}
}

// Clone returns a deep copy of the subtree, safe to encode while the
// original keeps mutating.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	cp := &Node{ID: n.ID, SessionID: n.SessionID, Direction: n.Direction}
	if len(n.Children) > 0 {
		cp.Children = make([]*Node, len(n.Children))
		for i, c := range n.Children {
			cp.Children[i] = c.Clone()
		}
		cp.Sizes = append([]float64(nil), n.Sizes...)
	}
	return cp
}

// Tree is the layout of one panel tab.
type Tree struct {
	Root *Node `json:"root"`
}

// NewTree creates an empty tree.
func NewTree() *Tree {
	return &Tree{}
}

// NewTreeWith creates a tree with a single leaf for the given session.
func NewTreeWith(sessionID id.SessionID) *Tree {
	return &Tree{Root: NewLeaf(sessionID)}
}

// Empty reports whether the tree has no panes.
func (t *Tree) Empty() bool {
	return t.Root == nil
}

// Split replaces the leaf hosting target with a two-child split, or appends
// a sibling when the leaf's parent already runs along the same direction.
// Returns the new leaf, or nil if target is not in the tree.
func (t *Tree) Split(target id.SessionID, dir Direction) *Node {
	if t.Root == nil {
		return nil
	}

	leaf, parent, idx := findLeaf(t.Root, nil, -1, target)
	if leaf == nil {
		return nil
	}

	fresh := NewLeaf("")

	if parent != nil && parent.Direction == dir {
		// Same axis: flatten into the existing split rather than nesting.
		parent.Children = append(parent.Children, nil)
		copy(parent.Children[idx+2:], parent.Children[idx+1:])
		parent.Children[idx+1] = fresh

		n := len(parent.Children)
		parent.Sizes = make([]float64, n)
		for i := range parent.Sizes {
			parent.Sizes[i] = 100.0 / float64(n)
		}
		normalize(parent.Sizes)
		return fresh
	}

	split := &Node{
		ID:        id.NewPaneID(),
		Direction: dir,
		Children:  []*Node{leaf, fresh},
		Sizes:     []float64{50, 50},
	}

	if parent == nil {
		t.Root = split
	} else {
		parent.Children[idx] = split
	}
	return fresh
}

// Resize moves the divider between children idx and idx+1 of the split
// identified by paneID. pixelDelta is converted against containerPx; a zero
// container is a no-op, as is any stale or out-of-range reference.
func (t *Tree) Resize(paneID id.PaneID, childIdx int, pixelDelta, containerPx float64) {
	if t.Root == nil || containerPx == 0 {
		return
	}

	split := findSplit(t.Root, paneID)
	if split == nil || childIdx < 0 || childIdx+1 >= len(split.Sizes) {
		return
	}

	deltaPct := pixelDelta / containerPx * 100.0

	a := split.Sizes[childIdx] + deltaPct
	b := split.Sizes[childIdx+1] - deltaPct

	// Clamp the adjacent pair against the floor before renormalizing, so a
	// large drag steals only the available headroom.
	if a < MinSizePct {
		b -= MinSizePct - a
		a = MinSizePct
	}
	if b < MinSizePct {
		a -= MinSizePct - b
		b = MinSizePct
	}

	split.Sizes[childIdx] = a
	split.Sizes[childIdx+1] = b
	normalize(split.Sizes)
}

// CloseSession removes the leaf hosting sessionID. A split left with one
// child collapses into that child; an emptied root leaves an empty tree.
// Unknown sessions are ignored.
func (t *Tree) CloseSession(sessionID id.SessionID) {
	if t.Root == nil {
		return
	}
	t.Root = removeSession(t.Root, sessionID)
}

// Sessions returns the session IDs of all leaves in depth-first order.
func (t *Tree) Sessions() []id.SessionID {
	var out []id.SessionID
	t.Walk(func(n *Node, _ int) {
		if n.IsLeaf() && n.SessionID != "" {
			out = append(out, n.SessionID)
		}
	})
	return out
}

// Walk visits every node depth-first, children in order along their axis.
func (t *Tree) Walk(visit func(n *Node, depth int)) {
	if t.Root == nil {
		return
	}
	walk(t.Root, 0, visit)
}

// Depth returns the height of the tree. An empty tree has depth 0.
func (t *Tree) Depth() int {
	var max int
	t.Walk(func(_ *Node, d int) {
		if d+1 > max {
			max = d + 1
		}
	})
	return max
}

func walk(n *Node, depth int, visit func(*Node, int)) {
	visit(n, depth)
	for _, c := range n.Children {
		walk(c, depth+1, visit)
	}
}

// findLeaf locates the leaf hosting target along with its parent split and
// its index within the parent.
func findLeaf(n, parent *Node, idx int, target id.SessionID) (*Node, *Node, int) {
	if n.IsLeaf() {
		if n.SessionID == target {
			return n, parent, idx
		}
		return nil, nil, -1
	}
	for i, c := range n.Children {
		if leaf, p, j := findLeaf(c, n, i, target); leaf != nil {
			return leaf, p, j
		}
	}
	return nil, nil, -1
}

func findSplit(n *Node, paneID id.PaneID) *Node {
	if n.IsLeaf() {
		return nil
	}
	if n.ID == paneID {
		return n
	}
	for _, c := range n.Children {
		if s := findSplit(c, paneID); s != nil {
			return s
		}
	}
	return nil
}

// removeSession rebuilds the subtree without the target leaf and returns
// the replacement node, or nil when the subtree vanishes entirely.
func removeSession(n *Node, target id.SessionID) *Node {
	if n.IsLeaf() {
		if n.SessionID == target {
			return nil
		}
		return n
	}

	children := n.Children[:0]
	sizes := n.Sizes[:0]
	for i, c := range n.Children {
		if kept := removeSession(c, target); kept != nil {
			children = append(children, kept)
			sizes = append(sizes, n.Sizes[i])
		}
	}

	switch len(children) {
	case 0:
		return nil
	case 1:
		return children[0]
	}

	n.Children = children
	n.Sizes = sizes
	normalize(n.Sizes)
	return n
}

// normalize rescales sizes so they sum to exactly 100 while honoring the
// floor. The remainder is spread proportionally rather than dumped onto one
// element, so repeated resizes do not drift.
func normalize(sizes []float64) {
	n := len(sizes)
	if n == 0 {
		return
	}

	// The floor is infeasible past 10 children; fall back to an even split.
	if MinSizePct*float64(n) > 100.0+sumEpsilon {
		for i := range sizes {
			sizes[i] = 100.0 / float64(n)
		}
		return
	}

	for i := range sizes {
		if sizes[i] < MinSizePct {
			sizes[i] = MinSizePct
		}
	}

	sum := 0.0
	for _, s := range sizes {
		sum += s
	}
	if math.Abs(sum-100.0) < sumEpsilon {
		return
	}

	if sum > 100.0 {
		// Shrink proportionally to headroom above the floor, so nothing
		// clamped at the floor is pushed back under it.
		headroom := 0.0
		for _, s := range sizes {
			headroom += s - MinSizePct
		}
		if headroom <= 0 {
			for i := range sizes {
				sizes[i] = 100.0 / float64(n)
			}
			return
		}
		excess := sum - 100.0
		for i := range sizes {
			sizes[i] -= excess * (sizes[i] - MinSizePct) / headroom
		}
	} else {
		deficit := 100.0 - sum
		for i := range sizes {
			sizes[i] += deficit * sizes[i] / sum
		}
	}
}
