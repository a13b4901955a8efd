package constellation

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/odvcencio/constellation/pkg/embedder"
	"github.com/odvcencio/constellation/pkg/errors"
	"github.com/odvcencio/constellation/pkg/history"
	"github.com/odvcencio/constellation/pkg/observability"
	"github.com/odvcencio/constellation/pkg/pipeline"
	"github.com/odvcencio/constellation/pkg/protocol"
)

// NavigateOptions modifies a navigation.
type NavigateOptions struct {
	// ReplaceCurrentEntry overwrites the context's current history entry
	// instead of appending one.
	ReplaceCurrentEntry bool
}

// CreateTopLevel opens a window of the given size and starts its first
// navigation. A zero size uses the configured viewport.
func (c *Constellation) CreateTopLevel(ctx context.Context, url string, size protocol.Size) (protocol.BrowsingContextID, error) {
	return call(ctx, c, func() (protocol.BrowsingContextID, error) {
		if url == "" {
			return 0, errors.New(errors.ErrCodeInvalidInput, "url is required")
		}
		if size.Empty() {
			size = c.opts.Viewport
		}
		if err := c.admit(nil, nil, 1); err != nil {
			return 0, err
		}

		id := c.ids.NextContext()
		if err := c.tree.AddRoot(id, protocol.RectFromSize(size)); err != nil {
			return 0, errors.Wrap(err, errors.ErrCodeInternal, "add window")
		}
		c.contexts[id] = &browsingContext{id: id, topLevel: id}
		c.windows[id] = &window{
			id:      id,
			size:    size,
			history: history.NewJoint(id, &c.seq, c.opts.HistoryMaxEntries),
		}
		if _, err := c.navigate(id, url, false, nil); err != nil {
			_, _ = c.tree.Remove(id)
			delete(c.contexts, id)
			delete(c.windows, id)
			return 0, err
		}
		metricWindows.Inc()
		c.publishTree()
		return id, nil
	})
}

// Navigate starts loading url in a context. A navigation already pending in
// that context is superseded and its pipeline discarded immediately; the new
// document replaces the displayed one only once it is ready.
func (c *Constellation) Navigate(ctx context.Context, id protocol.BrowsingContextID, url string, opts NavigateOptions) error {
	return do(ctx, c, func() error {
		_, err := c.navigate(id, url, opts.ReplaceCurrentEntry, nil)
		return err
	})
}

// Reload re-creates the pipeline of the context's current entry, replacing
// that entry when it becomes ready.
func (c *Constellation) Reload(ctx context.Context, id protocol.BrowsingContextID) error {
	return do(ctx, c, func() error {
		bc, ok := c.contexts[id]
		if !ok {
			return errors.StaleHandle("context", id)
		}
		w := c.windows[bc.topLevel]
		if e, ok := w.history.Current(id); ok {
			_, err := c.navigate(id, e.URL, true, e.State)
			return err
		}
		if bc.pending != nil {
			_, err := c.navigate(id, bc.pending.pipeline.URL, false, bc.pending.pipeline.State)
			return err
		}
		return errors.New(errors.ErrCodeInternal, "context has nothing to reload").WithContext("context", id.String())
	})
}

func (c *Constellation) navigate(id protocol.BrowsingContextID, url string, replace bool, state []byte) (protocol.PipelineID, error) {
	bc, ok := c.contexts[id]
	if !ok {
		return 0, errors.StaleHandle("context", id)
	}
	if url == "" {
		return 0, errors.New(errors.ErrCodeInvalidInput, "url is required")
	}

	tr := c.traversals[bc.topLevel]
	superseded := bc.pending
	var cancelled []*load
	if tr != nil {
		for _, l := range tr.loads {
			if _, live := c.loads[l.pipeline.ID]; live {
				cancelled = append(cancelled, l)
			}
		}
	}
	if superseded != nil {
		cancelled = append(cancelled, superseded)
	}
	if err := c.admit(cancelled, []protocol.BrowsingContextID{id}, 0); err != nil {
		return 0, err
	}

	if tr != nil {
		c.abortTraversal(tr, errors.Superseded("navigation"))
	}
	if superseded != nil {
		c.cancelLoad(superseded, "superseded")
		metricSuperseded.Inc()
	}

	l := c.startLoad(bc, url, state)
	l.replace = replace
	bc.pending = l
	if superseded != nil {
		c.log.NavigationSuperseded(id.String(), superseded.pipeline.ID.String(), l.pipeline.ID.String())
	}
	return l.pipeline.ID, nil
}

// startLoad creates a Pending pipeline for bc and spawns its workers off the
// loop.
func (c *Constellation) startLoad(bc *browsingContext, url string, state []byte) *load {
	id := c.ids.NextPipeline()
	p := pipeline.New(id, bc.id, bc.parent, bc.topLevel, url)
	p.State = state
	c.pipelines[id] = p
	metricSpawned.Inc()
	metricLive.Set(float64(len(c.pipelines)))

	_, span := c.tracer.Start(c.ctx, "constellation.load", trace.WithAttributes(
		append(observability.PipelineAttrs(id, bc.id),
			observability.AttrURL.String(url),
			observability.AttrTopLevel.String(bc.topLevel.String()),
		)...,
	))
	l := &load{pipeline: p, span: span}
	l.timer = time.AfterFunc(c.opts.LoadTimeout, func() {
		c.post(func() { c.loadTimedOut(id) })
	})
	c.loads[id] = l

	c.spawn(p, c.constraints(bc.id))
	c.log.PipelineSpawned(id.String(), bc.id.String(), url)
	c.emit(embedder.LoadStateChanged(bc.id, id, embedder.LoadPending, url))
	return l
}

func (c *Constellation) spawn(p *pipeline.Pipeline, viewport protocol.Rect) {
	id, ctxID := p.ID, p.Context
	req := pipeline.SpawnRequest{
		Pipeline: id,
		Context:  ctxID,
		Parent:   p.Parent,
		URL:      p.URL,
		Viewport: viewport,
		State:    p.State,
		OnBroken: func(err error) {
			c.post(func() { c.fail(id, err) })
		},
	}

	c.spawns.Add(1)
	go func() {
		defer c.spawns.Done()
		ctx, cancel := context.WithTimeout(c.ctx, c.opts.SpawnTimeout)
		defer cancel()

		start := time.Now()
		w, err := c.spawner.Spawn(ctx, req)
		metricSpawnLatency.Observe(time.Since(start).Seconds())
		if !c.post(func() { c.spawned(id, ctxID, w, err) }) && err == nil {
			pipeline.Release(id, ctxID, w)
		}
	}()
}

// spawned hands freshly started workers to their pipeline, or releases them
// if the pipeline was discarded while the spawn was in flight.
func (c *Constellation) spawned(id protocol.PipelineID, ctxID protocol.BrowsingContextID, w *pipeline.Workers, err error) {
	p, ok := c.pipelines[id]
	if !ok {
		if err == nil {
			pipeline.Release(id, ctxID, w)
		}
		return
	}
	if err != nil {
		c.fail(id, err)
		return
	}
	if err := p.Load(w, c.constraints(ctxID)); err != nil {
		if p.Workers() == nil {
			pipeline.Release(id, ctxID, w)
		}
		c.fail(id, err)
		return
	}
	c.emit(embedder.LoadStateChanged(ctxID, id, embedder.LoadLoading, p.URL))
}

func (c *Constellation) onReady(p *pipeline.Pipeline, epoch uint64) {
	l, ok := c.loads[p.ID]
	if !ok || p.LifecycleState() != pipeline.StateLoading {
		// Later readiness of an active pipeline is just a new epoch.
		if epoch > p.Epoch {
			p.Epoch = epoch
		}
		return
	}
	if l.traversal != nil {
		l.ready = true
		l.epoch = epoch
		l.timer.Stop()
		if l.traversal.allReady() {
			c.commitTraversal(l.traversal)
		}
		return
	}
	c.activate(l, epoch)
}

// activate promotes a navigation's pipeline, discards the previous occupant
// with its nested frames and records the new history entry.
func (c *Constellation) activate(l *load, epoch uint64) {
	p := l.pipeline
	c.finishLoad(l)
	if err := p.Activate(epoch); err != nil {
		c.fail(p.ID, err)
		return
	}
	bc := c.contexts[p.Context]
	c.replaceOccupant(bc, p.ID, "navigated away")
	c.clearFrames(bc, "parent navigated")
	kind := c.commitEntry(bc, p, l.replace)
	c.publishTree()

	metricNavigations.WithLabelValues(kind).Inc()
	c.log.PipelineActivated(p.ID.String(), p.Context.String(), p.Epoch, p.ActivatedAt.Sub(p.CreatedAt))
	l.span.SetAttributes(observability.AttrOutcome.String("activated"))
	l.span.SetStatus(codes.Ok, "")
	l.span.End()

	c.emit(embedder.LoadStateChanged(bc.id, p.ID, embedder.LoadComplete, p.URL))
	if p.Title != "" {
		c.emit(embedder.TitleChanged(bc.id, p.ID, p.Title))
	}
}

// commitEntry records p as the context's newest history entry and returns
// how it was recorded.
func (c *Constellation) commitEntry(bc *browsingContext, p *pipeline.Pipeline, replace bool) string {
	w := c.windows[bc.topLevel]
	entry := history.Entry{Pipeline: p.ID, URL: p.URL, Title: p.Title, State: p.State}

	kind := "push"
	var err error
	switch {
	case !w.history.Has(bc.id):
		kind = "initial"
		_, err = w.history.AddContext(bc.id, entry)
	case replace:
		kind = "replace"
		_, err = w.history.Replace(bc.id, entry)
	default:
		_, err = w.history.Push(bc.id, entry)
	}
	if err != nil {
		c.log.Error("record history entry", "context", bc.id.String(), "err", err)
	}
	if tr := c.traversals[bc.topLevel]; tr != nil {
		c.abortTraversal(tr, errors.Superseded("history change"))
	}
	c.emit(embedder.HistoryChanged(w.history.View()))
	return kind
}

// replaceOccupant makes id the context's displayed pipeline, discarding the
// previous one.
func (c *Constellation) replaceOccupant(bc *browsingContext, id protocol.PipelineID, reason string) {
	if old := bc.active; old.Valid() && old != id {
		if p, ok := c.pipelines[old]; ok {
			c.discard(p, reason)
		}
	}
	bc.active = id
	if err := c.tree.SetActive(bc.id, id); err != nil {
		c.log.Error("set frame occupant", "context", bc.id.String(), "err", err)
	}
}

// finishLoad stops tracking l without touching its pipeline.
func (c *Constellation) finishLoad(l *load) {
	l.timer.Stop()
	delete(c.loads, l.pipeline.ID)
	if bc, ok := c.contexts[l.pipeline.Context]; ok && bc.pending == l {
		bc.pending = nil
	}
}

// cancelLoad abandons a load and discards its pipeline.
func (c *Constellation) cancelLoad(l *load, reason string) {
	c.finishLoad(l)
	p := l.pipeline
	c.discard(p, reason)
	l.span.SetAttributes(observability.AttrOutcome.String(reason))
	l.span.SetStatus(codes.Error, reason)
	l.span.End()
	c.emit(embedder.LoadStateChanged(p.Context, p.ID, embedder.LoadAborted, p.URL))
}

func (c *Constellation) loadTimedOut(id protocol.PipelineID) {
	l, ok := c.loads[id]
	if !ok || l.ready {
		return
	}
	c.fail(id, errors.Newf(errors.ErrCodeLoadTimeout, "not ready within %s", c.opts.LoadTimeout).
		WithContext("pipeline", id.String()))
}
