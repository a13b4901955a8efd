package constellation

import (
	"context"

	"go.opentelemetry.io/otel/codes"

	"github.com/odvcencio/constellation/pkg/embedder"
	"github.com/odvcencio/constellation/pkg/errors"
	"github.com/odvcencio/constellation/pkg/observability"
	"github.com/odvcencio/constellation/pkg/pipeline"
	"github.com/odvcencio/constellation/pkg/protocol"
)

// HandlePipelineFailure reports that a pipeline's workers crashed, hung or
// became unreachable. The pipeline is replaced by an error placeholder in its
// context; every other context and its history are untouched. A nil cause is
// treated as a broken transport.
func (c *Constellation) HandlePipelineFailure(ctx context.Context, id protocol.PipelineID, cause error) error {
	return do(ctx, c, func() error {
		p, ok := c.pipelines[id]
		if !ok || p.IsPlaceholder() {
			return errors.StaleHandle("pipeline", id)
		}
		if cause == nil {
			cause = errors.New(errors.ErrCodeTransportBroken, "pipeline unreachable")
		}
		c.fail(id, cause)
		return nil
	})
}

// fail contains a pipeline failure. Failures of pipelines that are already
// gone are ignored: the pipeline was superseded or detached while the report
// was in flight.
func (c *Constellation) fail(id protocol.PipelineID, cause error) {
	p, ok := c.pipelines[id]
	if !ok || p.IsPlaceholder() {
		metricStaleFailures.Inc()
		return
	}
	code := errors.GetCode(cause)
	metricFaults.WithLabelValues(string(code)).Inc()
	c.log.PipelineFaulted(id.String(), p.Context.String(), string(code), cause)
	c.emit(embedder.PipelineFaulted(p.Context, id, cause))

	l := c.loads[id]
	if l != nil && l.traversal != nil {
		c.abortTraversal(l.traversal, errors.Wrap(cause, errors.ErrCodeTraversalAborted, "restored pipeline failed"))
		return
	}
	if l != nil {
		c.finishLoad(l)
		l.span.RecordError(cause)
		l.span.SetAttributes(observability.AttrOutcome.String("failed"))
		l.span.SetStatus(codes.Error, string(code))
		l.span.End()
	}
	c.discard(p, "failed")

	bc, ok := c.contexts[p.Context]
	if !ok {
		return
	}
	ph := pipeline.NewPlaceholder(c.ids.NextPipeline(), bc.id, bc.parent, bc.topLevel, p.URL, code)
	ph.Title = p.Title
	c.pipelines[ph.ID] = ph
	c.replaceOccupant(bc, ph.ID, "replaced by placeholder")
	if err := c.tree.SetFault(bc.id, string(code)); err != nil {
		c.log.Error("mark placeholder", "context", bc.id.String(), "err", err)
	}
	if l != nil {
		// The failed navigation still commits, so the user can go back from
		// the error page.
		c.clearFrames(bc, "parent navigated")
		c.commitEntry(bc, ph, l.replace)
	} else if w := c.windows[bc.topLevel]; w != nil {
		c.rebindEntry(w, bc, ph.ID)
	}
	c.publishTree()
	c.emit(embedder.LoadStateChanged(bc.id, ph.ID, embedder.LoadComplete, ph.URL))
}

// rebindEntry points the context's current history entry at a replacement
// pipeline without adding a step.
func (c *Constellation) rebindEntry(w *window, bc *browsingContext, id protocol.PipelineID) {
	_, current := w.history.Entries(bc.id)
	if err := w.history.SetPipeline(bc.id, current, id); err != nil {
		c.log.Debug("rebind history entry", "context", bc.id.String(), "err", err)
	}
}
