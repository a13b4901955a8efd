package constellation

import (
	"context"
	stderrors "errors"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/odvcencio/constellation/pkg/embedder"
	"github.com/odvcencio/constellation/pkg/errors"
	"github.com/odvcencio/constellation/pkg/history"
	"github.com/odvcencio/constellation/pkg/observability"
	"github.com/odvcencio/constellation/pkg/protocol"
)

// traversal is a planned history step whose pipelines are still loading.
// Nothing in the frame tree or history changes until every one is ready.
type traversal struct {
	topLevel protocol.BrowsingContextID
	plan     history.Traversal
	loads    map[protocol.BrowsingContextID]*load
	span     trace.Span
}

func (tr *traversal) allReady() bool {
	for _, l := range tr.loads {
		if !l.ready {
			return false
		}
	}
	return true
}

// TraverseHistory moves a window delta steps through its joint history
// (negative is back). The range is validated before returning; the step
// itself is applied once every affected context has a ready pipeline.
func (c *Constellation) TraverseHistory(ctx context.Context, topLevel protocol.BrowsingContextID, delta int) error {
	return do(ctx, c, func() error {
		return c.traverse(topLevel, delta)
	})
}

// GoBack traverses n steps back.
func (c *Constellation) GoBack(ctx context.Context, topLevel protocol.BrowsingContextID, n int) error {
	return c.TraverseHistory(ctx, topLevel, -n)
}

// GoForward traverses n steps forward.
func (c *Constellation) GoForward(ctx context.Context, topLevel protocol.BrowsingContextID, n int) error {
	return c.TraverseHistory(ctx, topLevel, n)
}

func (c *Constellation) traverse(topLevel protocol.BrowsingContextID, delta int) error {
	w, ok := c.windows[topLevel]
	if !ok {
		return errors.StaleHandle("context", topLevel)
	}
	plan, err := w.history.Plan(delta)
	if err != nil {
		code := errors.ErrCodeInternal
		if stderrors.Is(err, history.ErrOutOfRange) {
			code = errors.ErrCodeHistoryOutOfRange
		}
		return errors.Wrap(err, code, "traverse history").WithContext("delta", delta)
	}

	if delta == 0 {
		return nil
	}

	// Nothing is cancelled until the step is known to be startable.
	targets := make([]protocol.BrowsingContextID, 0, len(plan.Changes))
	for _, ch := range plan.Changes {
		if _, ok := c.contexts[ch.Context]; !ok {
			return errors.StaleHandle("context", ch.Context)
		}
		targets = append(targets, ch.Context)
	}
	if err := c.admit(c.windowLoads(topLevel), targets, 0); err != nil {
		return err
	}

	if prev := c.traversals[topLevel]; prev != nil {
		c.abortTraversal(prev, errors.Superseded("traversal"))
	}
	for _, id := range append([]protocol.BrowsingContextID{topLevel}, c.tree.Descendants(topLevel)...) {
		if bc := c.contexts[id]; bc != nil && bc.pending != nil {
			c.cancelLoad(bc.pending, "superseded")
			metricSuperseded.Inc()
		}
	}
	if plan.Empty() {
		// Every affected context already shows its target entry.
		if err := w.history.Commit(plan); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "commit traversal")
		}
		metricTraversals.WithLabelValues("committed").Inc()
		c.emit(embedder.HistoryChanged(w.history.View()))
		return nil
	}

	tr := &traversal{
		topLevel: topLevel,
		plan:     plan,
		loads:    make(map[protocol.BrowsingContextID]*load, len(plan.Changes)),
	}
	_, tr.span = c.tracer.Start(c.ctx, "constellation.traverse", trace.WithAttributes(
		observability.AttrTopLevel.String(topLevel.String()),
		observability.AttrDelta.Int(delta),
	))
	for _, ch := range plan.Changes {
		bc := c.contexts[ch.Context]
		l := c.startLoad(bc, ch.Entry.URL, ch.Entry.State)
		l.pipeline.Title = ch.Entry.Title
		l.traversal = tr
		tr.loads[bc.id] = l
	}
	c.traversals[topLevel] = tr
	metricTraversals.WithLabelValues("started").Inc()
	return nil
}

// commitTraversal switches every affected context to its restored pipeline
// and moves the history cursors, all in the current loop iteration. Frames
// nested in a replaced document are removed.
func (c *Constellation) commitTraversal(tr *traversal) {
	delete(c.traversals, tr.topLevel)
	w, ok := c.windows[tr.topLevel]
	if !ok {
		c.abortTraversal(tr, errors.StaleHandle("context", tr.topLevel))
		return
	}

	plan := tr.plan
	for i := range plan.Changes {
		plan.Changes[i].Pipeline = tr.loads[plan.Changes[i].Context].pipeline.ID
	}
	if err := w.history.Commit(plan); err != nil {
		c.abortTraversal(tr, errors.Wrap(err, errors.ErrCodeTraversalAborted, "history changed during traversal"))
		return
	}

	for _, ch := range plan.Changes {
		l := tr.loads[ch.Context]
		p := l.pipeline
		c.finishLoad(l)
		if err := p.Activate(l.epoch); err != nil {
			c.log.Error("activate restored pipeline", "pipeline", p.ID.String(), "err", err)
		}
		c.replaceOccupant(c.contexts[ch.Context], p.ID, "traversed away")
		l.span.SetAttributes(observability.AttrOutcome.String("activated"))
		l.span.SetStatus(codes.Ok, "")
		l.span.End()
	}
	for _, ch := range plan.Changes {
		// An earlier change may already have removed this context.
		if bc, ok := c.contexts[ch.Context]; ok {
			c.clearFrames(bc, "traversed away")
		}
	}
	c.publishTree()

	tr.span.SetAttributes(observability.AttrOutcome.String("committed"))
	tr.span.SetStatus(codes.Ok, "")
	tr.span.End()
	metricTraversals.WithLabelValues("committed").Inc()
	c.log.TraversalCommitted(tr.topLevel.String(), plan.Delta, len(plan.Changes))

	for _, ch := range plan.Changes {
		if _, ok := c.contexts[ch.Context]; !ok {
			continue
		}
		p := tr.loads[ch.Context].pipeline
		c.emit(embedder.LoadStateChanged(ch.Context, p.ID, embedder.LoadComplete, p.URL))
	}
	c.emit(embedder.HistoryChanged(w.history.View()))
}

// abortTraversal discards every pipeline the traversal created. The frame
// tree and history are left exactly as they were.
func (c *Constellation) abortTraversal(tr *traversal, cause error) {
	if c.traversals[tr.topLevel] == tr {
		delete(c.traversals, tr.topLevel)
	}
	for _, l := range tr.loads {
		if _, live := c.loads[l.pipeline.ID]; live {
			c.cancelLoad(l, "traversal aborted")
		}
	}
	outcome := "aborted"
	if errors.IsCode(cause, errors.ErrCodeSuperseded) {
		outcome = "superseded"
	}
	if tr.span != nil {
		tr.span.RecordError(cause)
		tr.span.SetAttributes(observability.AttrOutcome.String(outcome))
		tr.span.SetStatus(codes.Error, outcome)
		tr.span.End()
	}
	metricTraversals.WithLabelValues(outcome).Inc()
	c.log.Info("history traversal abandoned",
		"top_level", tr.topLevel.String(),
		"delta", tr.plan.Delta,
		"outcome", outcome,
		"err", cause,
	)
}
