package content

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/odvcencio/constellation/pkg/bus"
	"github.com/odvcencio/constellation/pkg/protocol"
	"github.com/odvcencio/constellation/pkg/transport"
)

// Message is a payload delivered to a script worker by PostMessage.
type Message struct {
	From    protocol.PipelineID
	Payload []byte
}

// document is the private state of one pipeline's two workers. Script and
// layout handlers run on separate goroutines and share it under mu.
type document struct {
	host    *Host
	id      protocol.PipelineID
	context protocol.BrowsingContextID

	ctx       context.Context
	scriptSub bus.Subscription
	layoutSub bus.Subscription

	mu       sync.Mutex
	url      string
	state    []byte
	viewport protocol.Rect
	behavior Behavior
	epoch    uint64
	loaded   bool
	stopped  bool
	timer    *time.Timer
	messages []Message
	inputs   []protocol.InputEvent
}

func (d *document) start(ctx context.Context) error {
	d.ctx = ctx
	b := d.host.bus
	script, err := transport.Serve(ctx, b, bus.ScriptSubject(d.id), d.handleScript)
	if err != nil {
		return fmt.Errorf("start script worker: %w", err)
	}
	layout, err := transport.Serve(ctx, b, bus.LayoutSubject(d.id), d.handleLayout)
	if err != nil {
		_ = script.Unsubscribe()
		return fmt.Errorf("start layout worker: %w", err)
	}
	d.mu.Lock()
	d.scriptSub, d.layoutSub = script, layout
	d.mu.Unlock()
	return nil
}

func (d *document) shutdown() {
	d.mu.Lock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	script, layout := d.scriptSub, d.layoutSub
	d.mu.Unlock()
	if script != nil {
		_ = script.Unsubscribe()
	}
	if layout != nil {
		_ = layout.Unsubscribe()
	}
}

func (d *document) handleScript(env *protocol.Envelope) error {
	switch env.Kind {
	case protocol.KindLoad:
		d.load(env.URL, env.Payload)
	case protocol.KindStop:
		d.mu.Lock()
		d.stopped = true
		if d.timer != nil {
			d.timer.Stop()
		}
		d.mu.Unlock()
	case protocol.KindUnload:
		d.host.remove(d.id)
	case protocol.KindPostMessage:
		d.mu.Lock()
		d.messages = append(d.messages, Message{From: env.Peer, Payload: append([]byte(nil), env.Payload...)})
		d.mu.Unlock()
	case protocol.KindInput:
		if env.Input == nil {
			return fmt.Errorf("input envelope without event")
		}
		d.mu.Lock()
		d.inputs = append(d.inputs, *env.Input)
		d.mu.Unlock()
		if env.Input.Kind == protocol.InputPointerDown {
			d.paint()
		}
	case protocol.KindPing:
	default:
		return fmt.Errorf("script worker cannot handle %s", env.Kind)
	}
	return nil
}

func (d *document) handleLayout(env *protocol.Envelope) error {
	if env.Kind != protocol.KindReflow {
		return fmt.Errorf("layout worker cannot handle %s", env.Kind)
	}
	d.mu.Lock()
	changed := d.viewport != env.Rect
	d.viewport = env.Rect
	visible := d.loaded && !d.stopped
	d.mu.Unlock()
	if changed && visible {
		d.paint()
	}
	return nil
}

func (d *document) load(url string, state []byte) {
	behavior := d.host.opts.Behavior(url)

	d.mu.Lock()
	d.url = url
	d.state = state
	d.behavior = behavior
	if behavior.Delay > 0 && !behavior.Hang {
		d.timer = time.AfterFunc(behavior.Delay, d.ready)
	}
	d.mu.Unlock()

	if !behavior.Hang && behavior.Delay <= 0 {
		d.ready()
	}
}

// ready paints the first frame and reports the document ready to display,
// then plays out the rest of its behavior.
func (d *document) ready() {
	d.mu.Lock()
	if d.stopped || d.loaded {
		d.mu.Unlock()
		return
	}
	d.loaded = true
	b := d.behavior
	d.mu.Unlock()

	epoch := d.paint()
	_ = d.publish(&protocol.Envelope{Kind: protocol.KindReadyToDisplay, Epoch: epoch})
	if b.Title != "" {
		_ = d.publish(&protocol.Envelope{Kind: protocol.KindTitleChanged, Title: b.Title})
	}

	switch {
	case b.Crash:
		_ = d.publish(&protocol.Envelope{Kind: protocol.KindFault, Reason: "script crashed"})
	case b.Die:
		d.host.Kill(d.id)
	case b.Navigate != "":
		_ = d.publish(&protocol.Envelope{
			Kind:    protocol.KindNavigationRequested,
			URL:     b.Navigate,
			Target:  b.Target,
			Replace: b.Replace,
		})
	}
}

// paint produces a frame at a new epoch and hands it to the compositor.
func (d *document) paint() uint64 {
	d.mu.Lock()
	d.epoch++
	env := &protocol.Envelope{
		Kind:     protocol.KindFrameUpdate,
		Pipeline: d.id,
		Context:  d.context,
		Epoch:    d.epoch,
		URL:      d.url,
		Rect:     d.viewport,
		Payload:  []byte(fmt.Sprintf("%s #%d", d.url, d.epoch)),
	}
	d.mu.Unlock()

	_ = transport.Publish(d.ctx, d.host.bus, bus.SubjectCompositor, env)
	return env.Epoch
}

// publish reports to the constellation.
func (d *document) publish(env *protocol.Envelope) error {
	env.Pipeline = d.id
	env.Context = d.context
	return transport.Publish(d.ctx, d.host.bus, bus.SubjectInbox, env)
}
