// Package compositor turns layout worker output into presented frames. It
// keeps the newest frame of every pipeline and, on each presentation, draws
// every window from the constellation's current frame tree so that a context
// only ever shows content from the pipeline occupying it.
package compositor

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"

	"github.com/odvcencio/constellation/pkg/bus"
	"github.com/odvcencio/constellation/pkg/embedder"
	"github.com/odvcencio/constellation/pkg/errors"
	"github.com/odvcencio/constellation/pkg/frametree"
	"github.com/odvcencio/constellation/pkg/logging"
	"github.com/odvcencio/constellation/pkg/protocol"
	"github.com/odvcencio/constellation/pkg/transport"
)

const (
	DefaultFrameRate = 60
	DefaultTick      = 250 * time.Millisecond
	DefaultRetention = 10 * time.Second
)

// TreeSource returns the current frame tree. The constellation implements
// it.
type TreeSource interface {
	FrameTree() *frametree.Snapshot
}

// InputSink receives hit-tested input. The constellation implements it.
type InputSink interface {
	DispatchInput(ctx context.Context, ev protocol.InputEvent) error
}

// Options configures a Compositor.
type Options struct {
	Bus     bus.MessageBus
	Tree    TreeSource
	Backend Backend
	Input   InputSink
	Events  embedder.Publisher
	Logger  *logging.Logger

	// FrameRate caps presentations per second.
	FrameRate float64
	// Tick is how often Run checks the frame tree for changes.
	Tick time.Duration
	// Retention is how long a frame from a pipeline that does not occupy a
	// context is kept. A pending navigation renders before it is activated.
	Retention time.Duration
}

type frame struct {
	epoch    uint64
	url      string
	rect     protocol.Rect
	content  []byte
	received time.Time
}

// Compositor presents windows through a Backend.
type Compositor struct {
	opts    Options
	log     *logging.Logger
	limiter *rate.Limiter
	dirty   chan struct{}

	mu        sync.Mutex
	frames    map[protocol.PipelineID]frame
	presented map[protocol.BrowsingContextID]*Scene
	version   uint64
	hasShown  bool
}

// New creates a compositor. Call Run to start receiving frames.
func New(opts Options) (*Compositor, error) {
	if opts.Bus == nil {
		return nil, errors.New(errors.ErrCodeInvalidInput, "compositor requires a message bus")
	}
	if opts.Tree == nil {
		return nil, errors.New(errors.ErrCodeInvalidInput, "compositor requires a frame tree source")
	}
	if opts.Backend == nil {
		return nil, errors.New(errors.ErrCodeInvalidInput, "compositor requires a backend")
	}
	if opts.FrameRate <= 0 {
		opts.FrameRate = DefaultFrameRate
	}
	if opts.Tick <= 0 {
		opts.Tick = DefaultTick
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.Events == nil {
		opts.Events = embedder.Discard
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	return &Compositor{
		opts:      opts,
		log:       opts.Logger.Component("compositor"),
		limiter:   rate.NewLimiter(rate.Limit(opts.FrameRate), 1),
		dirty:     make(chan struct{}, 1),
		frames:    make(map[protocol.PipelineID]frame),
		presented: make(map[protocol.BrowsingContextID]*Scene),
	}, nil
}

// Run receives frame updates and presents whenever a frame arrives or the
// frame tree changes, until ctx is cancelled.
func (c *Compositor) Run(ctx context.Context) error {
	sub, err := transport.Listen(ctx, c.opts.Bus, bus.SubjectCompositor, func(env *protocol.Envelope) {
		c.Accept(env)
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeTransportBroken, "subscribe to compositor subject")
	}
	defer func() { _ = sub.Unsubscribe() }()

	tick := time.NewTicker(c.opts.Tick)
	defer tick.Stop()

	c.log.Info("compositor running", "frame_rate", c.opts.FrameRate, "tick", c.opts.Tick)

	for {
		select {
		case <-ctx.Done():
			return nil
		case p := <-c.opts.Backend.Presented():
			c.opts.Events.Publish(embedder.FramePresented(p.Window, p.FrameID))
			continue
		case <-c.dirty:
		case <-tick.C:
			if !c.treeChanged() {
				continue
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil
		}
		if _, err := c.Present(ctx); err != nil {
			c.log.Warn("present failed", "err", err)
		}
	}
}

// Accept records a frame update if it is newer than the pipeline's last
// one. It reports whether the update was kept.
func (c *Compositor) Accept(env *protocol.Envelope) bool {
	if env == nil || env.Kind != protocol.KindFrameUpdate || !env.Pipeline.Valid() {
		recordUpdate("invalid")
		return false
	}
	c.mu.Lock()
	if prev, ok := c.frames[env.Pipeline]; ok && prev.epoch >= env.Epoch {
		c.mu.Unlock()
		recordUpdate("stale_epoch")
		return false
	}
	c.frames[env.Pipeline] = frame{
		epoch:    env.Epoch,
		url:      env.URL,
		rect:     env.Rect,
		content:  env.Payload,
		received: time.Now(),
	}
	c.mu.Unlock()
	recordUpdate("accepted")

	select {
	case c.dirty <- struct{}{}:
	default:
	}
	return true
}

func (c *Compositor) treeChanged() bool {
	v := c.opts.Tree.FrameTree().Version()
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.hasShown || v != c.version
}

// Present builds a scene for every window from the current frame tree and
// submits it. Scenes the backend rejects are returned too but do not
// replace the window's last presented geometry.
func (c *Compositor) Present(ctx context.Context) ([]*Scene, error) {
	start := time.Now()
	snap := c.opts.Tree.FrameTree()

	c.mu.Lock()
	c.prune(snap, start)
	roots := snap.Roots()
	scenes := make([]*Scene, 0, len(roots))
	for _, root := range roots {
		if s := c.scene(snap, root); s != nil {
			scenes = append(scenes, s)
		}
	}
	for w := range c.presented {
		if _, ok := snap.Get(w); !ok {
			delete(c.presented, w)
		}
	}
	c.version = snap.Version()
	c.hasShown = true
	c.mu.Unlock()

	var firstErr error
	for _, s := range scenes {
		if err := c.opts.Backend.Submit(ctx, s); err != nil {
			metricScenes.WithLabelValues("rejected").Inc()
			if firstErr == nil {
				firstErr = errors.Wrap(err, errors.ErrCodeInternal, "submit scene").
					WithContext("window", s.Window.String())
			}
			continue
		}
		metricScenes.WithLabelValues("submitted").Inc()
		c.mu.Lock()
		c.presented[s.Window] = s
		c.mu.Unlock()
	}
	observePresent(time.Since(start))
	return scenes, firstErr
}

// prune drops frames of pipelines that no longer occupy a context once
// they are older than the retention window. Callers hold mu.
func (c *Compositor) prune(snap *frametree.Snapshot, now time.Time) {
	occupants := snap.Occupants()
	for id, f := range c.frames {
		if _, ok := occupants[id]; ok {
			continue
		}
		if now.Sub(f.received) >= c.opts.Retention {
			delete(c.frames, id)
			metricPruned.Inc()
		}
	}
}

func (c *Compositor) scene(snap *frametree.Snapshot, root protocol.BrowsingContextID) *Scene {
	placements := snap.Layout(root)
	if len(placements) == 0 {
		return nil
	}
	s := &Scene{
		FrameID:     ulid.Make().String(),
		Window:      root,
		Size:        placements[0].Bounds.Size(),
		TreeVersion: snap.Version(),
		Layers:      make([]Layer, 0, len(placements)),
	}
	for _, pl := range placements {
		if pl.Depth > 0 && pl.Clip.Empty() {
			continue
		}
		l := c.layer(pl)
		recordLayer(l.Kind)
		s.Layers = append(s.Layers, l)
	}
	return s
}

// layer draws the occupant of a placement. Frames of any other pipeline are
// never consulted.
func (c *Compositor) layer(pl frametree.Placement) Layer {
	n := pl.Node
	l := Layer{
		Context:  n.ID,
		Pipeline: n.Active,
		Kind:     LayerBlank,
		Depth:    pl.Depth,
		Bounds:   pl.Bounds,
		Clip:     pl.Clip,
	}
	if n.Fault != "" {
		l.Kind = LayerError
		l.Fault = n.Fault
		return l
	}
	if !n.Active.Valid() {
		return l
	}
	f, ok := c.frames[n.Active]
	if !ok {
		return l
	}
	l.Kind = LayerContent
	l.Epoch = f.epoch
	l.URL = f.url
	l.Content = f.content
	l.Stale = f.rect.Size() != pl.Bounds.Size()
	return l
}

// Presented returns the last scene submitted for a window.
func (c *Compositor) Presented(window protocol.BrowsingContextID) (*Scene, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.presented[window]
	return s, ok
}

// HitTest finds the layer under p in the window's last presented scene. The
// deepest frame on top wins.
func (c *Compositor) HitTest(window protocol.BrowsingContextID, p protocol.Point) (Layer, bool) {
	c.mu.Lock()
	s := c.presented[window]
	c.mu.Unlock()
	return s.HitTest(p)
}

// HandlePointer hit-tests a pointer event in window coordinates and forwards
// it to the pipeline under it, with the point made frame-relative. Events
// that land on a blank or error layer, or outside the window, are dropped.
func (c *Compositor) HandlePointer(ctx context.Context, window protocol.BrowsingContextID, ev protocol.InputEvent) error {
	if !ev.IsPointer() {
		return errors.New(errors.ErrCodeInvalidInput, "not a pointer event")
	}
	if c.opts.Input == nil {
		return errors.New(errors.ErrCodeInternal, "compositor has no input sink")
	}
	l, ok := c.HitTest(window, ev.Point)
	if !ok || l.Kind != LayerContent {
		metricInputMissed.Inc()
		return nil
	}
	ev.Context = l.Context
	ev.Pipeline = l.Pipeline
	ev.Point = protocol.Point{X: ev.Point.X - l.Bounds.X, Y: ev.Point.Y - l.Bounds.Y}
	return c.opts.Input.DispatchInput(ctx, ev)
}
