package constellation

import (
	"context"

	"github.com/odvcencio/constellation/pkg/embedder"
	"github.com/odvcencio/constellation/pkg/errors"
	"github.com/odvcencio/constellation/pkg/pipeline"
	"github.com/odvcencio/constellation/pkg/protocol"
)

// handleWorkerMessage dispatches a script worker message. Senders that are
// neither pending nor active are ignored.
func (c *Constellation) handleWorkerMessage(env *protocol.Envelope) {
	p, ok := c.pipelines[env.Pipeline]
	if !ok || p.IsPlaceholder() || p.Context != env.Context {
		c.dropMessage(env, "pipeline not live")
		return
	}

	switch env.Kind {
	case protocol.KindReadyToDisplay:
		c.onReady(p, env.Epoch)
	case protocol.KindNavigationRequested:
		c.onNavigationRequested(p, env)
	case protocol.KindFault:
		reason := env.Reason
		if reason == "" {
			reason = "script fault"
		}
		c.fail(p.ID, errors.New(errors.ErrCodeScriptFault, reason).WithContext("pipeline", p.ID.String()))
	case protocol.KindTitleChanged:
		c.onTitleChanged(p, env.Title)
	case protocol.KindRouteRequest:
		if err := c.routeMessage(p.ID, env.Peer, env.Payload); err != nil {
			c.dropMessage(env, "route target not active")
		}
	default:
		c.dropMessage(env, "unexpected kind")
	}
}

func (c *Constellation) dropMessage(env *protocol.Envelope, reason string) {
	metricDropped.WithLabelValues(env.Kind.String()).Inc()
	c.log.MessageDropped(env.Pipeline.String(), env.Kind.String(), reason)
}

// isCurrent reports whether p is its context's occupant or pending
// navigation.
func (c *Constellation) isCurrent(p *pipeline.Pipeline) bool {
	bc, ok := c.contexts[p.Context]
	if !ok {
		return false
	}
	return bc.active == p.ID || (bc.pending != nil && bc.pending.pipeline == p)
}

func (c *Constellation) onNavigationRequested(p *pipeline.Pipeline, env *protocol.Envelope) {
	if !c.isCurrent(p) {
		c.dropMessage(env, "sender is not current")
		return
	}
	bc := c.contexts[p.Context]

	target := bc.id
	switch env.Target.Kind {
	case protocol.TargetParent:
		if bc.parent.Valid() {
			target = bc.parent
		}
	case protocol.TargetTop:
		target = bc.topLevel
	case protocol.TargetContext:
		t, ok := c.contexts[env.Target.Context]
		if !ok || t.topLevel != bc.topLevel {
			c.dropMessage(env, "target context outside the frame tree")
			return
		}
		target = t.id
	}

	if _, err := c.navigate(target, env.URL, env.Replace, nil); err != nil {
		c.log.Warn("script navigation rejected",
			"pipeline", p.ID.String(),
			"target", target.String(),
			"url", env.URL,
			"err", err,
		)
	}
}

func (c *Constellation) onTitleChanged(p *pipeline.Pipeline, title string) {
	if p.Title == title {
		return
	}
	p.Title = title
	bc, ok := c.contexts[p.Context]
	if !ok {
		return
	}
	if bc.active == p.ID {
		if w := c.windows[bc.topLevel]; w != nil && w.history.SetTitle(bc.id, p.ID, title) {
			c.emit(embedder.HistoryChanged(w.history.View()))
		}
	}
	c.emit(embedder.TitleChanged(bc.id, p.ID, title))
}

// RouteMessage forwards an opaque payload from one script to another. The
// destination must be an active content pipeline.
func (c *Constellation) RouteMessage(ctx context.Context, from, to protocol.PipelineID, payload []byte) error {
	return do(ctx, c, func() error {
		return c.routeMessage(from, to, payload)
	})
}

func (c *Constellation) routeMessage(from, to protocol.PipelineID, payload []byte) error {
	target, ok := c.pipelines[to]
	if !ok || target.IsPlaceholder() || target.LifecycleState() != pipeline.StateActive {
		return errors.StaleHandle("pipeline", to)
	}
	return target.Send(&protocol.Envelope{
		Kind:    protocol.KindPostMessage,
		Peer:    from,
		Payload: payload,
	})
}

// DispatchInput delivers an input event to the pipeline it was hit-tested
// against, provided that pipeline still occupies the context. Events for
// anything else are dropped without error.
func (c *Constellation) DispatchInput(ctx context.Context, ev protocol.InputEvent) error {
	return do(ctx, c, func() error {
		bc, ok := c.contexts[ev.Context]
		if !ok || bc.active != ev.Pipeline {
			metricInputDropped.Inc()
			return nil
		}
		p, ok := c.pipelines[ev.Pipeline]
		if !ok || p.IsPlaceholder() {
			metricInputDropped.Inc()
			return nil
		}
		if err := p.Send(&protocol.Envelope{Kind: protocol.KindInput, Input: &ev}); err != nil {
			metricInputDropped.Inc()
			c.log.Debug("input not delivered", "pipeline", p.ID.String(), "err", err)
		}
		return nil
	})
}
