// Package constellation is the orchestrator of the engine. It owns the frame
// tree, the joint session history of every window and the lifecycle of every
// pipeline, and it is the only component that mutates them.
//
// All state lives on one goroutine (Run). Public methods post a closure to the
// loop's mailbox and wait for its reply; worker messages, spawn completions and
// timers are posted the same way. The loop itself never blocks on a pipeline:
// spawns run on their own goroutines and sends go through endpoint queues.
package constellation

import (
	"context"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/odvcencio/constellation/pkg/bus"
	"github.com/odvcencio/constellation/pkg/embedder"
	"github.com/odvcencio/constellation/pkg/errors"
	"github.com/odvcencio/constellation/pkg/frametree"
	"github.com/odvcencio/constellation/pkg/history"
	"github.com/odvcencio/constellation/pkg/logging"
	"github.com/odvcencio/constellation/pkg/observability"
	"github.com/odvcencio/constellation/pkg/pipeline"
	"github.com/odvcencio/constellation/pkg/protocol"
	"github.com/odvcencio/constellation/pkg/transport"
)

// Defaults applied by New for zero Options fields.
const (
	DefaultLoadTimeout       = 10 * time.Second
	DefaultHeartbeatInterval = 2 * time.Second
	DefaultSpawnTimeout      = 5 * time.Second
)

// DefaultViewport is the window size used when CreateTopLevel gets none.
var DefaultViewport = protocol.Size{Width: 800, Height: 600}

// Options configures a Constellation.
type Options struct {
	// Bus carries worker messages to the constellation. Required.
	Bus bus.MessageBus
	// Spawner starts pipeline workers. Defaults to a BusSpawner on Bus.
	Spawner pipeline.Spawner
	// Events receives embedder notifications. Defaults to embedder.Discard.
	Events embedder.Publisher
	Logger *logging.Logger
	Tracer trace.Tracer

	// MaxPipelines caps content pipelines; zero is unlimited. A navigation
	// borrows the slot of the document it replaces until it commits, so a
	// window that fits can always navigate its frames.
	MaxPipelines      int
	LoadTimeout       time.Duration
	HeartbeatInterval time.Duration
	SpawnTimeout      time.Duration
	AckTimeout        time.Duration
	// HistoryMaxEntries bounds each window's joint history; zero is unbounded.
	HistoryMaxEntries int
	Viewport          protocol.Size
}

type browsingContext struct {
	id       protocol.BrowsingContextID
	parent   protocol.BrowsingContextID
	topLevel protocol.BrowsingContextID

	// active is the occupant shown in the frame tree.
	active protocol.PipelineID
	// pending is the navigation in flight, if any.
	pending *load
}

type window struct {
	id      protocol.BrowsingContextID
	size    protocol.Size
	history *history.Joint
}

// load tracks a pipeline that has not been activated yet. It belongs either
// to a navigation (browsingContext.pending) or to a traversal.
type load struct {
	pipeline  *pipeline.Pipeline
	replace   bool
	traversal *traversal
	timer     *time.Timer
	span      trace.Span

	ready bool
	epoch uint64
}

// Constellation orchestrates pipelines, the frame tree and session history.
type Constellation struct {
	opts    Options
	bus     bus.MessageBus
	spawner pipeline.Spawner
	events  embedder.Publisher
	log     *logging.Logger
	tracer  trace.Tracer

	ids protocol.IDAllocator
	seq history.Sequencer

	inbox    *bus.Mailbox[func()]
	snapshot atomic.Pointer[frametree.Snapshot]

	// ctx bounds spawn requests; it is cancelled when the loop exits.
	ctx    context.Context
	cancel context.CancelFunc

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	started  atomic.Bool
	spawns   sync.WaitGroup

	// Owned by the loop.
	tree       *frametree.Tree
	contexts   map[protocol.BrowsingContextID]*browsingContext
	windows    map[protocol.BrowsingContextID]*window
	pipelines  map[protocol.PipelineID]*pipeline.Pipeline
	loads      map[protocol.PipelineID]*load
	traversals map[protocol.BrowsingContextID]*traversal
}

// New creates a constellation. Call Run to start its loop.
func New(opts Options) (*Constellation, error) {
	if opts.Bus == nil {
		return nil, errors.New(errors.ErrCodeInvalidInput, "constellation requires a message bus")
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = DefaultLoadTimeout
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.SpawnTimeout <= 0 {
		opts.SpawnTimeout = DefaultSpawnTimeout
	}
	if opts.Viewport.Empty() {
		opts.Viewport = DefaultViewport
	}
	if opts.Spawner == nil {
		opts.Spawner = pipeline.NewBusSpawner(opts.Bus, pipeline.SpawnerOptions{
			Timeout:    opts.SpawnTimeout,
			AckTimeout: opts.AckTimeout,
		})
	}
	if opts.Events == nil {
		opts.Events = embedder.Discard
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Tracer == nil {
		opts.Tracer = observability.Tracer()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Constellation{
		opts:       opts,
		bus:        opts.Bus,
		spawner:    opts.Spawner,
		events:     opts.Events,
		log:        opts.Logger.Component("constellation"),
		tracer:     opts.Tracer,
		inbox:      bus.NewMailbox[func()](),
		ctx:        ctx,
		cancel:     cancel,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		tree:       frametree.New(),
		contexts:   make(map[protocol.BrowsingContextID]*browsingContext),
		windows:    make(map[protocol.BrowsingContextID]*window),
		pipelines:  make(map[protocol.PipelineID]*pipeline.Pipeline),
		loads:      make(map[protocol.PipelineID]*load),
		traversals: make(map[protocol.BrowsingContextID]*traversal),
	}
	c.snapshot.Store(c.tree.Snapshot())
	return c, nil
}

// Run processes commands and worker messages until ctx is cancelled or Close
// is called. Every pipeline is discarded before Run returns.
func (c *Constellation) Run(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return errors.New(errors.ErrCodeInternal, "constellation is already running")
	}
	defer close(c.done)

	sub, err := transport.Listen(c.ctx, c.bus, bus.SubjectInbox, func(env *protocol.Envelope) {
		c.post(func() { c.handleWorkerMessage(env) })
	})
	if err != nil {
		c.shutdown()
		return errors.Wrap(err, errors.ErrCodeTransportBroken, "subscribe to constellation inbox")
	}
	defer func() { _ = sub.Unsubscribe() }()

	heartbeat := time.NewTicker(c.opts.HeartbeatInterval)
	defer heartbeat.Stop()

	c.log.Info("constellation running",
		"max_pipelines", c.opts.MaxPipelines,
		"load_timeout", c.opts.LoadTimeout,
		"heartbeat_interval", c.opts.HeartbeatInterval,
	)

	for {
		select {
		case <-c.inbox.Ready():
			for _, fn := range c.inbox.Drain() {
				c.exec(fn)
			}
		case <-heartbeat.C:
			c.exec(c.heartbeat)
		case <-c.stop:
			c.shutdown()
			return nil
		case <-ctx.Done():
			c.shutdown()
			return ctx.Err()
		}
	}
}

// Close stops the loop and waits for it to tear everything down.
func (c *Constellation) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })
	if c.started.Load() {
		<-c.done
	}
	return nil
}

func (c *Constellation) shutdown() {
	c.inbox.Close()
	// Closures queued before Close still run so callers get replies and
	// completed spawns are accounted for.
	for _, fn := range c.inbox.Drain() {
		c.exec(fn)
	}

	for _, tr := range c.traversals {
		c.abortTraversal(tr, errors.New(errors.ErrCodeClosed, "constellation closed"))
	}
	for _, l := range c.loads {
		c.cancelLoad(l, "shutdown")
	}
	for _, p := range c.pipelines {
		c.discard(p, "shutdown")
	}
	c.cancel()
	c.spawns.Wait()
	c.log.Info("constellation stopped")
}

// post queues fn on the loop. It returns false once the loop has stopped.
func (c *Constellation) post(fn func()) bool {
	return c.inbox.Put(fn)
}

func (c *Constellation) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.recovered(r)
		}
	}()
	fn()
}

func (c *Constellation) recovered(r any) {
	metricPanics.Inc()
	c.log.Error("recovered panic in constellation loop",
		"panic", r,
		"stack", string(debug.Stack()),
	)
}

// call runs fn on the loop and waits for its result.
func call[T any](ctx context.Context, c *Constellation, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	var zero T
	reply := make(chan result, 1)
	ok := c.post(func() {
		defer func() {
			if r := recover(); r != nil {
				c.recovered(r)
				reply <- result{err: errors.Newf(errors.ErrCodeInternal, "constellation panic: %v", r)}
			}
		}()
		v, err := fn()
		reply <- result{v: v, err: err}
	})
	if !ok {
		return zero, errors.New(errors.ErrCodeClosed, "constellation closed")
	}

	select {
	case r := <-reply:
		return r.v, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-c.done:
		select {
		case r := <-reply:
			return r.v, r.err
		default:
		}
		return zero, errors.New(errors.ErrCodeClosed, "constellation closed")
	}
}

func do(ctx context.Context, c *Constellation, fn func() error) error {
	_, err := call(ctx, c, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// FrameTree returns the current frame tree. It is safe to call from any
// goroutine and never blocks on the loop.
func (c *Constellation) FrameTree() *frametree.Snapshot {
	return c.snapshot.Load()
}

func (c *Constellation) publishTree() {
	c.snapshot.Store(c.tree.Snapshot())
}

func (c *Constellation) emit(ev embedder.Event) {
	c.events.Publish(ev)
}

// History returns the joint session history of a window.
func (c *Constellation) History(ctx context.Context, topLevel protocol.BrowsingContextID) (history.View, error) {
	return call(ctx, c, func() (history.View, error) {
		w, ok := c.windows[topLevel]
		if !ok {
			return history.View{}, errors.StaleHandle("context", topLevel)
		}
		return w.history.View(), nil
	})
}

// Pipeline returns the attributes of a live pipeline.
func (c *Constellation) Pipeline(ctx context.Context, id protocol.PipelineID) (pipeline.Info, error) {
	return call(ctx, c, func() (pipeline.Info, error) {
		p, ok := c.pipelines[id]
		if !ok {
			return pipeline.Info{}, errors.StaleHandle("pipeline", id)
		}
		return p.Info(), nil
	})
}

// LivePipelines lists every pipeline that has not been discarded, ordered by
// id.
func (c *Constellation) LivePipelines(ctx context.Context) ([]pipeline.Info, error) {
	return call(ctx, c, func() ([]pipeline.Info, error) {
		out := make([]pipeline.Info, 0, len(c.pipelines))
		for _, p := range c.pipelines {
			out = append(out, p.Info())
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		return out, nil
	})
}

func (c *Constellation) liveContent() int {
	n := 0
	for _, p := range c.pipelines {
		if !p.IsPlaceholder() {
			n++
		}
	}
	return n
}

// occupied is 1 when the context displays a content pipeline.
func (c *Constellation) occupied(id protocol.BrowsingContextID) int {
	bc, ok := c.contexts[id]
	if !ok {
		return 0
	}
	if p, ok := c.pipelines[bc.active]; ok && !p.IsPlaceholder() {
		return 1
	}
	return 0
}

// committed counts the content pipelines left once every load in flight
// resolves. A load and the occupant it replaces share one slot.
func (c *Constellation) committed() int {
	n := c.liveContent()
	for _, l := range c.loads {
		n -= c.occupied(l.pipeline.Context)
	}
	return n
}

// admit checks MaxPipelines before starting a load in each of targets plus
// fresh loads in new contexts, assuming cancelled are abandoned first. It
// changes nothing, so callers run it before cancelling anything.
func (c *Constellation) admit(cancelled []*load, targets []protocol.BrowsingContextID, fresh int) error {
	if c.opts.MaxPipelines <= 0 {
		return nil
	}
	n := c.committed() + fresh
	for _, l := range cancelled {
		n -= 1 - c.occupied(l.pipeline.Context)
	}
	for _, id := range targets {
		n += 1 - c.occupied(id)
	}
	if n > c.opts.MaxPipelines {
		metricRejected.Inc()
		return errors.Newf(errors.ErrCodeResourceExhausted, "pipeline limit of %d reached", c.opts.MaxPipelines)
	}
	return nil
}

// windowLoads returns every load in flight in a window, traversal loads
// included.
func (c *Constellation) windowLoads(topLevel protocol.BrowsingContextID) []*load {
	var out []*load
	for _, l := range c.loads {
		if bc, ok := c.contexts[l.pipeline.Context]; ok && bc.topLevel == topLevel {
			out = append(out, l)
		}
	}
	return out
}

// constraints returns the layout rect handed to a context's workers: its
// frame size at the origin.
func (c *Constellation) constraints(id protocol.BrowsingContextID) protocol.Rect {
	n, ok := c.tree.Get(id)
	if !ok {
		return protocol.RectFromSize(c.opts.Viewport)
	}
	return protocol.RectFromSize(n.Rect.Size())
}

// discard tears p down and forgets it.
func (c *Constellation) discard(p *pipeline.Pipeline, reason string) {
	if p.Discard() {
		metricDiscarded.WithLabelValues(reason).Inc()
		c.log.PipelineDiscarded(p.ID.String(), p.Context.String(), reason)
	}
	delete(c.pipelines, p.ID)
	metricLive.Set(float64(len(c.pipelines)))
}

func (c *Constellation) heartbeat() {
	for _, p := range c.pipelines {
		if p.IsPlaceholder() || p.Workers() == nil {
			continue
		}
		// A dead worker breaks the endpoint, which reports the failure
		// through OnBroken.
		_ = p.Send(&protocol.Envelope{Kind: protocol.KindPing})
	}
}
