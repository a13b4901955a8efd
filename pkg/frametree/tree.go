// Package frametree holds the hierarchy of browsing contexts: one root per
// window, nested frames below it, and the pipeline currently occupying each
// slot.
//
// Nodes live in an arena keyed by BrowsingContextID. Parent and child links
// are plain ids, so attaching or detaching a subtree is a reindexing step and
// never leaves dangling references.
package frametree

import (
	"errors"
	"fmt"

	"github.com/odvcencio/constellation/pkg/protocol"
)

var (
	// ErrUnknownContext is returned for ids not present in the tree.
	ErrUnknownContext = errors.New("unknown browsing context")
	// ErrDuplicateContext is returned when an id is added twice.
	ErrDuplicateContext = errors.New("browsing context already in tree")
)

// Node is one browsing context in the tree.
type Node struct {
	ID       protocol.BrowsingContextID
	Parent   protocol.BrowsingContextID // zero for a top-level context
	TopLevel protocol.BrowsingContextID
	Children []protocol.BrowsingContextID

	// Active is the pipeline currently displayed for this context. Zero while
	// the first navigation is still pending.
	Active protocol.PipelineID
	// Fault is the error code of a placeholder occupant, empty for content.
	Fault string

	// Rect is relative to the parent frame; for a top-level context it covers
	// the window viewport.
	Rect protocol.Rect
}

// IsTopLevel reports whether the node is a window root.
func (n *Node) IsTopLevel() bool {
	return !n.Parent.Valid()
}

func (n *Node) clone() Node {
	c := *n
	c.Children = append([]protocol.BrowsingContextID(nil), n.Children...)
	return c
}

// Tree is the mutable frame tree. It is not safe for concurrent use; the
// constellation's event loop is its only writer and readers use Snapshot.
type Tree struct {
	nodes   map[protocol.BrowsingContextID]*Node
	roots   []protocol.BrowsingContextID
	version uint64
}

// New returns an empty tree.
func New() *Tree {
	return &Tree{nodes: make(map[protocol.BrowsingContextID]*Node)}
}

// Version increases on every mutation.
func (t *Tree) Version() uint64 {
	return t.version
}

// Len returns the number of contexts in the tree.
func (t *Tree) Len() int {
	return len(t.nodes)
}

// AddRoot adds a top-level context covering rect.
func (t *Tree) AddRoot(id protocol.BrowsingContextID, rect protocol.Rect) error {
	if !id.Valid() {
		return fmt.Errorf("add root: %w", ErrUnknownContext)
	}
	if _, exists := t.nodes[id]; exists {
		return fmt.Errorf("add root %s: %w", id, ErrDuplicateContext)
	}
	t.nodes[id] = &Node{ID: id, TopLevel: id, Rect: rect}
	t.roots = append(t.roots, id)
	t.version++
	return nil
}

// AddChild appends a nested context as the last child of parent.
func (t *Tree) AddChild(parent, id protocol.BrowsingContextID, rect protocol.Rect) error {
	p, ok := t.nodes[parent]
	if !ok {
		return fmt.Errorf("add child of %s: %w", parent, ErrUnknownContext)
	}
	if !id.Valid() {
		return fmt.Errorf("add child: %w", ErrUnknownContext)
	}
	if _, exists := t.nodes[id]; exists {
		return fmt.Errorf("add child %s: %w", id, ErrDuplicateContext)
	}
	t.nodes[id] = &Node{ID: id, Parent: parent, TopLevel: p.TopLevel, Rect: rect}
	p.Children = append(p.Children, id)
	t.version++
	return nil
}

// Remove detaches id and its whole subtree. The removed ids are returned in
// post-order: descendants before their ancestors.
func (t *Tree) Remove(id protocol.BrowsingContextID) ([]protocol.BrowsingContextID, error) {
	n, ok := t.nodes[id]
	if !ok {
		return nil, fmt.Errorf("remove %s: %w", id, ErrUnknownContext)
	}

	removed := t.postOrder(id, nil)
	for _, rid := range removed {
		delete(t.nodes, rid)
	}

	if n.Parent.Valid() {
		if p, ok := t.nodes[n.Parent]; ok {
			p.Children = without(p.Children, id)
		}
	} else {
		t.roots = without(t.roots, id)
	}
	t.version++
	return removed, nil
}

func (t *Tree) postOrder(id protocol.BrowsingContextID, out []protocol.BrowsingContextID) []protocol.BrowsingContextID {
	n := t.nodes[id]
	for _, c := range n.Children {
		out = t.postOrder(c, out)
	}
	return append(out, id)
}

func without(ids []protocol.BrowsingContextID, id protocol.BrowsingContextID) []protocol.BrowsingContextID {
	out := ids[:0:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// SetActive records pipeline as the occupant of id.
func (t *Tree) SetActive(id protocol.BrowsingContextID, pipeline protocol.PipelineID) error {
	n, ok := t.nodes[id]
	if !ok {
		return fmt.Errorf("set active on %s: %w", id, ErrUnknownContext)
	}
	if n.Active != pipeline {
		n.Active = pipeline
		n.Fault = ""
		t.version++
	}
	return nil
}

// SetFault marks the occupant of id as an error placeholder.
func (t *Tree) SetFault(id protocol.BrowsingContextID, code string) error {
	n, ok := t.nodes[id]
	if !ok {
		return fmt.Errorf("set fault on %s: %w", id, ErrUnknownContext)
	}
	if n.Fault != code {
		n.Fault = code
		t.version++
	}
	return nil
}

// SetRect changes a frame's geometry.
func (t *Tree) SetRect(id protocol.BrowsingContextID, rect protocol.Rect) error {
	n, ok := t.nodes[id]
	if !ok {
		return fmt.Errorf("set rect on %s: %w", id, ErrUnknownContext)
	}
	if n.Rect != rect {
		n.Rect = rect
		t.version++
	}
	return nil
}

// Get returns a copy of the node for id.
func (t *Tree) Get(id protocol.BrowsingContextID) (Node, bool) {
	n, ok := t.nodes[id]
	if !ok {
		return Node{}, false
	}
	return n.clone(), true
}

// Contains reports whether id is in the tree.
func (t *Tree) Contains(id protocol.BrowsingContextID) bool {
	_, ok := t.nodes[id]
	return ok
}

// Roots returns the top-level contexts in creation order.
func (t *Tree) Roots() []protocol.BrowsingContextID {
	return append([]protocol.BrowsingContextID(nil), t.roots...)
}

// Descendants returns every context below id in pre-order, excluding id.
func (t *Tree) Descendants(id protocol.BrowsingContextID) []protocol.BrowsingContextID {
	n, ok := t.nodes[id]
	if !ok {
		return nil
	}
	var out []protocol.BrowsingContextID
	for _, c := range n.Children {
		out = append(out, c)
		out = append(out, t.Descendants(c)...)
	}
	return out
}

// TopLevelOf returns the window root containing id.
func (t *Tree) TopLevelOf(id protocol.BrowsingContextID) (protocol.BrowsingContextID, bool) {
	n, ok := t.nodes[id]
	if !ok {
		return 0, false
	}
	return n.TopLevel, true
}

// Snapshot returns an immutable deep copy of the tree.
func (t *Tree) Snapshot() *Snapshot {
	s := &Snapshot{
		version: t.version,
		nodes:   make(map[protocol.BrowsingContextID]Node, len(t.nodes)),
		roots:   t.Roots(),
	}
	for id, n := range t.nodes {
		s.nodes[id] = n.clone()
	}
	return s
}

// Dump renders the tree for debugging.
func (t *Tree) Dump() string {
	return t.Snapshot().String()
}
