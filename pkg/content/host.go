// Package content is a simulated content engine. It implements the script
// and layout worker contracts over the bus so the constellation can be run
// and tested without a real DOM, script engine or rasterizer.
package content

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/odvcencio/constellation/pkg/bus"
	"github.com/odvcencio/constellation/pkg/logging"
	"github.com/odvcencio/constellation/pkg/protocol"
)

// Options configures a Host.
type Options struct {
	// MaxWorkers caps live workers, two per pipeline. Zero is unlimited.
	MaxWorkers int
	// SlowDelay is the readiness delay of "slow:" documents.
	SlowDelay time.Duration
	// Behavior overrides ParseBehavior.
	Behavior BehaviorFunc
	Logger   *logging.Logger
}

// Host starts a script worker and a layout worker for every pipeline the
// constellation spawns on it.
type Host struct {
	bus  bus.MessageBus
	opts Options
	log  *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	sub    bus.Subscription

	mu   sync.Mutex
	docs map[protocol.PipelineID]*document
}

// NewHost creates a host on b. Call Start to accept spawns.
func NewHost(b bus.MessageBus, opts Options) *Host {
	if opts.SlowDelay <= 0 {
		opts.SlowDelay = 200 * time.Millisecond
	}
	if opts.Behavior == nil {
		delay := opts.SlowDelay
		opts.Behavior = func(url string) Behavior { return ParseBehavior(url, delay) }
	}
	log := opts.Logger
	if log == nil {
		log = logging.Nop()
	}
	return &Host{
		bus:  b,
		opts: opts,
		log:  log.Component("content"),
		docs: make(map[protocol.PipelineID]*document),
	}
}

// Start joins the content host queue group on the spawn subject.
func (h *Host) Start(ctx context.Context) error {
	h.ctx, h.cancel = context.WithCancel(ctx)
	sub, err := h.bus.QueueSubscribe(h.ctx, bus.SubjectSpawn, bus.SpawnQueue, h.handleSpawn)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", bus.SubjectSpawn, err)
	}
	h.sub = sub
	return nil
}

// Close stops accepting spawns and tears down every worker.
func (h *Host) Close() error {
	if h.sub != nil {
		_ = h.sub.Unsubscribe()
	}
	h.mu.Lock()
	ids := make([]protocol.PipelineID, 0, len(h.docs))
	for id := range h.docs {
		ids = append(ids, id)
	}
	h.mu.Unlock()
	for _, id := range ids {
		h.remove(id)
	}
	if h.cancel != nil {
		h.cancel()
	}
	return nil
}

// Live returns the number of running workers.
func (h *Host) Live() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return 2 * len(h.docs)
}

// Pipelines returns the pipelines with running workers, in id order.
func (h *Host) Pipelines() []protocol.PipelineID {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]protocol.PipelineID, 0, len(h.docs))
	for id := range h.docs {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Kill makes a pipeline's workers disappear without telling anyone, the way
// a crashed content process would.
func (h *Host) Kill(id protocol.PipelineID) bool {
	if !h.remove(id) {
		return false
	}
	h.log.Info("workers killed", "pipeline", id.String())
	return true
}

// Messages returns the payloads a pipeline's script worker received through
// PostMessage.
func (h *Host) Messages(id protocol.PipelineID) []Message {
	d := h.doc(id)
	if d == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Message(nil), d.messages...)
}

// Inputs returns the input events a pipeline's script worker received.
func (h *Host) Inputs(id protocol.PipelineID) []protocol.InputEvent {
	d := h.doc(id)
	if d == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]protocol.InputEvent(nil), d.inputs...)
}

// PostTo makes the script of pipeline from ask the constellation to route
// payload to pipeline to.
func (h *Host) PostTo(from, to protocol.PipelineID, payload []byte) error {
	d := h.doc(from)
	if d == nil {
		return fmt.Errorf("no workers for %s", from)
	}
	return d.publish(&protocol.Envelope{Kind: protocol.KindRouteRequest, Peer: to, Payload: payload})
}

func (h *Host) doc(id protocol.PipelineID) *document {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.docs[id]
}

func (h *Host) handleSpawn(msg *bus.Message) []byte {
	env, err := protocol.Unmarshal(msg.Data)
	if err != nil {
		return reply(protocol.Nack("", err.Error()))
	}

	h.mu.Lock()
	if _, dup := h.docs[env.Pipeline]; dup {
		h.mu.Unlock()
		return reply(protocol.Nack(env.RequestID, "pipeline already hosted"))
	}
	if h.opts.MaxWorkers > 0 && 2*(len(h.docs)+1) > h.opts.MaxWorkers {
		h.mu.Unlock()
		h.log.Warn("spawn refused", "pipeline", env.Pipeline.String(), "live", 2*len(h.docs))
		return reply(protocol.Nack(env.RequestID, protocol.NackResourceExhausted))
	}
	d := &document{
		host:     h,
		id:       env.Pipeline,
		context:  env.Context,
		url:      env.URL,
		viewport: env.Rect,
		state:    env.Payload,
	}
	h.docs[env.Pipeline] = d
	h.mu.Unlock()

	if err := d.start(h.ctx); err != nil {
		h.remove(env.Pipeline)
		return reply(protocol.Nack(env.RequestID, err.Error()))
	}
	recordLive(h.Live())
	h.log.Debug("workers started", "pipeline", env.Pipeline.String(), "context", env.Context.String())
	return reply(protocol.Ack(env.RequestID))
}

// remove stops a pipeline's workers. Safe to call from the workers' own
// handlers.
func (h *Host) remove(id protocol.PipelineID) bool {
	h.mu.Lock()
	d, ok := h.docs[id]
	delete(h.docs, id)
	live := 2 * len(h.docs)
	h.mu.Unlock()
	if !ok {
		return false
	}
	d.shutdown()
	recordLive(live)
	return true
}

func reply(env *protocol.Envelope) []byte {
	data, _ := protocol.Marshal(env)
	return data
}
