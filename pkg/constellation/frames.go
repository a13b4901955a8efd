package constellation

import (
	"context"

	"github.com/odvcencio/constellation/pkg/embedder"
	"github.com/odvcencio/constellation/pkg/errors"
	"github.com/odvcencio/constellation/pkg/protocol"
)

// AttachOptions places a nested frame.
type AttachOptions struct {
	// Rect is relative to the parent frame.
	Rect protocol.Rect
}

// AttachChild creates a nested browsing context under parent and starts its
// first navigation.
func (c *Constellation) AttachChild(ctx context.Context, parent protocol.BrowsingContextID, url string, opts AttachOptions) (protocol.BrowsingContextID, error) {
	return call(ctx, c, func() (protocol.BrowsingContextID, error) {
		pbc, ok := c.contexts[parent]
		if !ok {
			return 0, errors.StaleHandle("context", parent)
		}
		if url == "" {
			return 0, errors.New(errors.ErrCodeInvalidInput, "url is required")
		}
		if err := c.admit(nil, nil, 1); err != nil {
			return 0, err
		}

		id := c.ids.NextContext()
		if err := c.tree.AddChild(parent, id, opts.Rect); err != nil {
			return 0, errors.Wrap(err, errors.ErrCodeInternal, "attach frame")
		}
		c.contexts[id] = &browsingContext{id: id, parent: parent, topLevel: pbc.topLevel}
		if _, err := c.navigate(id, url, false, nil); err != nil {
			_, _ = c.tree.Remove(id)
			delete(c.contexts, id)
			return 0, err
		}
		c.publishTree()
		return id, nil
	})
}

// Detach removes a context and all of its descendants, discarding their
// pipelines and pruning their history. Detaching a top-level context closes
// the window.
func (c *Constellation) Detach(ctx context.Context, id protocol.BrowsingContextID) error {
	return do(ctx, c, func() error {
		return c.detach(id)
	})
}

func (c *Constellation) detach(id protocol.BrowsingContextID) error {
	bc, ok := c.contexts[id]
	if !ok {
		return errors.StaleHandle("context", id)
	}
	top := bc.topLevel
	if tr := c.traversals[top]; tr != nil {
		c.abortTraversal(tr, errors.Superseded("frame tree change"))
	}

	removed, err := c.tree.Remove(id)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "detach frame")
	}
	c.dropContexts(removed, "detached")

	if id == top {
		delete(c.windows, top)
		metricWindows.Dec()
		c.publishTree()
		c.emit(embedder.WindowClosed(top))
		return nil
	}
	if w := c.windows[top]; w != nil {
		w.history.Prune(removed...)
		c.emit(embedder.HistoryChanged(w.history.View()))
	}
	c.publishTree()
	return nil
}

// dropContexts forgets contexts already removed from the frame tree,
// cancelling their loads and discarding their occupants.
func (c *Constellation) dropContexts(ids []protocol.BrowsingContextID, reason string) {
	for _, id := range ids {
		bc := c.contexts[id]
		if bc == nil {
			continue
		}
		if bc.pending != nil {
			c.cancelLoad(bc.pending, reason)
		}
		if p, ok := c.pipelines[bc.active]; ok {
			c.discard(p, reason)
		}
		delete(c.contexts, id)
	}
}

// clearFrames removes the nested frames of bc. They belong to the document
// bc is leaving, so their history goes with them.
func (c *Constellation) clearFrames(bc *browsingContext, reason string) {
	n, ok := c.tree.Get(bc.id)
	if !ok || len(n.Children) == 0 {
		return
	}
	if tr := c.traversals[bc.topLevel]; tr != nil {
		c.abortTraversal(tr, errors.Superseded("frame tree change"))
	}
	var removed []protocol.BrowsingContextID
	for _, child := range n.Children {
		ids, err := c.tree.Remove(child)
		if err != nil {
			c.log.Error("remove nested frame", "context", child.String(), "err", err)
			continue
		}
		removed = append(removed, ids...)
	}
	c.dropContexts(removed, reason)
	if w := c.windows[bc.topLevel]; w != nil {
		w.history.Prune(removed...)
	}
}

// Resize changes a window's viewport and sends new layout constraints to
// every pipeline in it.
func (c *Constellation) Resize(ctx context.Context, topLevel protocol.BrowsingContextID, size protocol.Size) error {
	return do(ctx, c, func() error {
		w, ok := c.windows[topLevel]
		if !ok {
			return errors.StaleHandle("context", topLevel)
		}
		if size.Empty() {
			return errors.New(errors.ErrCodeInvalidInput, "window size must be positive")
		}
		w.size = size
		if err := c.tree.SetRect(topLevel, protocol.RectFromSize(size)); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "resize window")
		}
		c.reflow(topLevel)
		for _, id := range c.tree.Descendants(topLevel) {
			c.reflow(id)
		}
		c.publishTree()
		return nil
	})
}

// ResizeFrame moves or resizes a frame within its parent.
func (c *Constellation) ResizeFrame(ctx context.Context, id protocol.BrowsingContextID, rect protocol.Rect) error {
	return do(ctx, c, func() error {
		bc, ok := c.contexts[id]
		if !ok {
			return errors.StaleHandle("context", id)
		}
		if !bc.parent.Valid() {
			return errors.New(errors.ErrCodeInvalidInput, "use Resize for a window").WithContext("context", id.String())
		}
		if err := c.tree.SetRect(id, rect); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "resize frame")
		}
		c.reflow(id)
		c.publishTree()
		return nil
	})
}

// reflow sends a context's constraints to its occupant and to any pipeline
// still loading for it.
func (c *Constellation) reflow(id protocol.BrowsingContextID) {
	bc, ok := c.contexts[id]
	if !ok {
		return
	}
	rect := c.constraints(id)
	if p, ok := c.pipelines[bc.active]; ok && !p.IsPlaceholder() {
		_ = p.Reflow(rect)
	}
	for _, l := range c.loads {
		if l.pipeline.Context == id && l.pipeline.Workers() != nil {
			_ = l.pipeline.Reflow(rect)
		}
	}
}
