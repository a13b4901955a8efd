package frametree

import (
	"fmt"

	"github.com/xlab/treeprint"

	"github.com/odvcencio/constellation/pkg/protocol"
)

// Snapshot is a read-only copy of the frame tree at one version. The
// compositor and message routing read snapshots; only the constellation
// mutates the live Tree.
type Snapshot struct {
	version uint64
	nodes   map[protocol.BrowsingContextID]Node
	roots   []protocol.BrowsingContextID
}

// Empty returns a snapshot of an empty tree.
func Empty() *Snapshot {
	return &Snapshot{nodes: map[protocol.BrowsingContextID]Node{}}
}

// Version identifies the tree mutation the snapshot was taken at.
func (s *Snapshot) Version() uint64 {
	return s.version
}

// Len returns the number of contexts.
func (s *Snapshot) Len() int {
	return len(s.nodes)
}

// Get returns the node for id. The returned Children slice must not be
// modified.
func (s *Snapshot) Get(id protocol.BrowsingContextID) (Node, bool) {
	n, ok := s.nodes[id]
	return n, ok
}

// Roots returns the window roots.
func (s *Snapshot) Roots() []protocol.BrowsingContextID {
	return append([]protocol.BrowsingContextID(nil), s.roots...)
}

// Occupant returns the active pipeline of id, or zero.
func (s *Snapshot) Occupant(id protocol.BrowsingContextID) protocol.PipelineID {
	return s.nodes[id].Active
}

// Occupants maps every displayed pipeline to its context.
func (s *Snapshot) Occupants() map[protocol.PipelineID]protocol.BrowsingContextID {
	out := make(map[protocol.PipelineID]protocol.BrowsingContextID, len(s.nodes))
	for id, n := range s.nodes {
		if n.Active.Valid() {
			out[n.Active] = id
		}
	}
	return out
}

// Placement is a node positioned in window coordinates.
type Placement struct {
	Node  Node
	Depth int

	// Bounds is the frame's rect in window coordinates.
	Bounds protocol.Rect
	// Clip is Bounds intersected with every ancestor's bounds.
	Clip protocol.Rect
}

// Layout returns the window rooted at root in paint order: parents before
// their children, siblings in document order. Later placements are on top.
func (s *Snapshot) Layout(root protocol.BrowsingContextID) []Placement {
	n, ok := s.nodes[root]
	if !ok {
		return nil
	}
	bounds := protocol.Rect{Width: n.Rect.Width, Height: n.Rect.Height}
	var out []Placement
	return s.layout(n, 0, bounds, bounds, out)
}

func (s *Snapshot) layout(n Node, depth int, bounds, clip protocol.Rect, out []Placement) []Placement {
	out = append(out, Placement{Node: n, Depth: depth, Bounds: bounds, Clip: clip})
	for _, cid := range n.Children {
		c, ok := s.nodes[cid]
		if !ok {
			continue
		}
		cb := c.Rect.Offset(bounds)
		out = s.layout(c, depth+1, cb, cb.Intersect(clip), out)
	}
	return out
}

// String renders every window as an indented tree.
func (s *Snapshot) String() string {
	tree := treeprint.New()
	for _, root := range s.roots {
		n, ok := s.nodes[root]
		if !ok {
			continue
		}
		s.print(tree.AddBranch(label(n)), n)
	}
	return tree.String()
}

func (s *Snapshot) print(branch treeprint.Tree, n Node) {
	for _, cid := range n.Children {
		c, ok := s.nodes[cid]
		if !ok {
			continue
		}
		if len(c.Children) == 0 {
			branch.AddNode(label(c))
			continue
		}
		s.print(branch.AddBranch(label(c)), c)
	}
}

func label(n Node) string {
	active := "-"
	if n.Active.Valid() {
		active = n.Active.String()
	}
	return fmt.Sprintf("%s [%s] %dx%d@%d,%d", n.ID, active, n.Rect.Width, n.Rect.Height, n.Rect.X, n.Rect.Y)
}
