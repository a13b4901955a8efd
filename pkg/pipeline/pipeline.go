package pipeline

import (
	"fmt"
	"time"

	"github.com/odvcencio/constellation/pkg/errors"
	"github.com/odvcencio/constellation/pkg/protocol"
	"github.com/odvcencio/constellation/pkg/transport"
)

// Workers are the two remote halves of a pipeline.
type Workers struct {
	Script transport.Endpoint
	Layout transport.Endpoint
}

// Close closes both endpoints.
func (w *Workers) Close() {
	if w == nil {
		return
	}
	if w.Script != nil {
		w.Script.Close()
	}
	if w.Layout != nil {
		w.Layout.Close()
	}
}

// Pipeline is owned by the constellation's event loop and is not safe for
// concurrent use. Other goroutines read it through Info.
type Pipeline struct {
	ID       protocol.PipelineID
	Context  protocol.BrowsingContextID
	Parent   protocol.BrowsingContextID
	TopLevel protocol.BrowsingContextID
	URL      string
	Kind     Kind

	// State is the opaque document state handed to the workers on spawn,
	// taken from a session history entry when restoring.
	State []byte

	Epoch uint64
	Title string

	// Cause is set on placeholders to the failure they stand in for.
	Cause errors.ErrorCode

	CreatedAt   time.Time
	ActivatedAt time.Time

	state   State
	workers *Workers
}

// New returns a Pending content pipeline.
func New(id protocol.PipelineID, ctx, parent, topLevel protocol.BrowsingContextID, url string) *Pipeline {
	return &Pipeline{
		ID:        id,
		Context:   ctx,
		Parent:    parent,
		TopLevel:  topLevel,
		URL:       url,
		Kind:      KindContent,
		CreatedAt: time.Now(),
		state:     StatePending,
	}
}

// NewPlaceholder returns an error placeholder standing in for a failed
// pipeline. It is Active from birth and has no workers.
func NewPlaceholder(id protocol.PipelineID, ctx, parent, topLevel protocol.BrowsingContextID, url string, cause errors.ErrorCode) *Pipeline {
	now := time.Now()
	return &Pipeline{
		ID:          id,
		Context:     ctx,
		Parent:      parent,
		TopLevel:    topLevel,
		URL:         url,
		Kind:        KindPlaceholder,
		Cause:       cause,
		CreatedAt:   now,
		ActivatedAt: now,
		state:       StateActive,
	}
}

// LifecycleState returns where the pipeline is in its lifecycle.
func (p *Pipeline) LifecycleState() State {
	return p.state
}

// IsPlaceholder reports whether p stands in for a failed pipeline.
func (p *Pipeline) IsPlaceholder() bool {
	return p.Kind == KindPlaceholder
}

// Workers returns the pipeline's endpoints, nil before spawn and for
// placeholders.
func (p *Pipeline) Workers() *Workers {
	return p.workers
}

// Transition moves the pipeline to state to.
func (p *Pipeline) Transition(to State) error {
	if !p.state.CanTransition(to) {
		return fmt.Errorf("%s: %s -> %s: %w", p.ID, p.state, to, ErrInvalidTransition)
	}
	p.state = to
	recordTransition(to)
	return nil
}

// Load hands freshly spawned workers their initial commands and moves the
// pipeline to Loading.
func (p *Pipeline) Load(w *Workers, viewport protocol.Rect) error {
	if p.state != StatePending {
		return fmt.Errorf("%s: load while %s: %w", p.ID, p.state, ErrInvalidTransition)
	}
	if w == nil || w.Script == nil || w.Layout == nil {
		return errors.New(errors.ErrCodeInternal, "load without workers").WithContext("pipeline", p.ID.String())
	}
	p.workers = w
	if err := p.Transition(StateLoading); err != nil {
		return err
	}
	if err := w.Script.Send(&protocol.Envelope{
		Kind:     protocol.KindLoad,
		Pipeline: p.ID,
		Context:  p.Context,
		URL:      p.URL,
		Payload:  p.State,
	}); err != nil {
		return err
	}
	return w.Layout.Send(&protocol.Envelope{
		Kind:     protocol.KindReflow,
		Pipeline: p.ID,
		Context:  p.Context,
		Rect:     viewport,
	})
}

// Activate promotes a Loading pipeline after its first ready-to-display.
func (p *Pipeline) Activate(epoch uint64) error {
	if err := p.Transition(StateActive); err != nil {
		return err
	}
	p.ActivatedAt = time.Now()
	if epoch > p.Epoch {
		p.Epoch = epoch
	}
	observeLoad(p.ActivatedAt.Sub(p.CreatedAt))
	return nil
}

// Discard tears the pipeline down: a Loading pipeline is told to Stop, every
// live pipeline is told to Unload, then both endpoints are closed. It returns
// false if the pipeline was already discarded.
func (p *Pipeline) Discard() bool {
	prev := p.state
	if prev == StateDiscarded {
		return false
	}
	p.state = StateDiscarded
	recordTransition(StateDiscarded)

	if w := p.workers; w != nil {
		if prev == StateLoading {
			_ = w.Script.Send(&protocol.Envelope{Kind: protocol.KindStop, Pipeline: p.ID, Context: p.Context})
		}
		_ = w.Script.Send(&protocol.Envelope{Kind: protocol.KindUnload, Pipeline: p.ID, Context: p.Context})
		w.Close()
	}
	return true
}

// Send delivers env to the script worker. It fails with a stale handle error
// once the pipeline is discarded or if it has no workers.
func (p *Pipeline) Send(env *protocol.Envelope) error {
	if p.state == StateDiscarded || p.workers == nil {
		return errors.StaleHandle("pipeline", p.ID)
	}
	env.Pipeline = p.ID
	env.Context = p.Context
	return p.workers.Script.Send(env)
}

// Reflow sends new layout constraints to the layout worker.
func (p *Pipeline) Reflow(rect protocol.Rect) error {
	if p.state == StateDiscarded || p.workers == nil {
		return errors.StaleHandle("pipeline", p.ID)
	}
	return p.workers.Layout.Send(&protocol.Envelope{
		Kind:     protocol.KindReflow,
		Pipeline: p.ID,
		Context:  p.Context,
		Rect:     rect,
	})
}

// Info is a read-only copy of a pipeline's attributes.
type Info struct {
	ID          protocol.PipelineID        `json:"id"`
	Context     protocol.BrowsingContextID `json:"context"`
	Parent      protocol.BrowsingContextID `json:"parent,omitempty"`
	TopLevel    protocol.BrowsingContextID `json:"top_level"`
	URL         string                     `json:"url"`
	Kind        Kind                       `json:"kind"`
	State       State                      `json:"state"`
	Epoch       uint64                     `json:"epoch"`
	Title       string                     `json:"title,omitempty"`
	Cause       errors.ErrorCode           `json:"cause,omitempty"`
	CreatedAt   time.Time                  `json:"created_at"`
	ActivatedAt time.Time                  `json:"activated_at,omitempty"`
}

// Info returns a copy of p's attributes.
func (p *Pipeline) Info() Info {
	return Info{
		ID:          p.ID,
		Context:     p.Context,
		Parent:      p.Parent,
		TopLevel:    p.TopLevel,
		URL:         p.URL,
		Kind:        p.Kind,
		State:       p.state,
		Epoch:       p.Epoch,
		Title:       p.Title,
		Cause:       p.Cause,
		CreatedAt:   p.CreatedAt,
		ActivatedAt: p.ActivatedAt,
	}
}
