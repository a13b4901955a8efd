// Package transport implements the channel transport: ordered, asynchronous,
// point-to-point delivery of envelopes between the constellation and the
// workers of each pipeline.
package transport

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/odvcencio/constellation/pkg/bus"
	"github.com/odvcencio/constellation/pkg/errors"
	"github.com/odvcencio/constellation/pkg/protocol"
)

// DefaultAckTimeout bounds how long a remote worker may take to accept an
// envelope before the endpoint is considered broken.
const DefaultAckTimeout = 2 * time.Second

// Endpoint is the sending half of a channel to one remote worker.
//
// Send never blocks on the remote. Envelopes are delivered in send order.
// Once the remote is found unreachable the endpoint is broken: Broken is
// closed, Err reports why, and every later Send fails.
type Endpoint interface {
	Send(env *protocol.Envelope) error
	Close()
	Broken() <-chan struct{}
	Err() error
}

// Options configures a BusEndpoint.
type Options struct {
	AckTimeout time.Duration

	// OnBroken is called once, from the endpoint's own goroutine, when the
	// remote becomes unreachable. It is not called after Close.
	OnBroken func(err error)
}

type outbound struct {
	kind protocol.Kind
	data []byte
}

// BusEndpoint implements Endpoint over a bus.MessageBus. A pump goroutine
// sends queued envelopes one at a time with Request and waits for the
// remote's Ack before sending the next.
type BusEndpoint struct {
	bus     bus.MessageBus
	subject string
	opts    Options

	queue  *bus.Mailbox[outbound]
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	err    error
	closed bool

	broken chan struct{}
	done   chan struct{}
}

// NewBusEndpoint opens an endpoint to whoever serves subject and starts its
// pump.
func NewBusEndpoint(b bus.MessageBus, subject string, opts Options) *BusEndpoint {
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = DefaultAckTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &BusEndpoint{
		bus:     b,
		subject: subject,
		opts:    opts,
		queue:   bus.NewMailbox[outbound](),
		ctx:     ctx,
		cancel:  cancel,
		broken:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	go e.pump()
	return e
}

// Subject returns the remote subject.
func (e *BusEndpoint) Subject() string {
	return e.subject
}

// Send queues env for delivery.
func (e *BusEndpoint) Send(env *protocol.Envelope) error {
	data, err := protocol.Marshal(env)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInvalidInput, "encode envelope")
	}

	e.mu.Lock()
	brokenErr, closed := e.err, e.closed
	e.mu.Unlock()
	if brokenErr != nil {
		return brokenErr
	}
	if closed {
		return errors.New(errors.ErrCodeClosed, "endpoint closed").WithContext("subject", e.subject)
	}

	if !e.queue.Put(outbound{kind: env.Kind, data: data}) {
		return errors.New(errors.ErrCodeClosed, "endpoint closed").WithContext("subject", e.subject)
	}
	return nil
}

// Close stops accepting envelopes. Envelopes already queued are still
// delivered; Close does not wait for that.
func (e *BusEndpoint) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()
	e.queue.Close()
}

// Abort drops anything still queued and stops the pump immediately.
func (e *BusEndpoint) Abort() {
	e.Close()
	e.cancel()
}

// Broken is closed when the remote is found unreachable.
func (e *BusEndpoint) Broken() <-chan struct{} {
	return e.broken
}

// Done is closed once the pump has exited.
func (e *BusEndpoint) Done() <-chan struct{} {
	return e.done
}

// Err returns the reason the endpoint broke, or nil.
func (e *BusEndpoint) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

func (e *BusEndpoint) pump() {
	defer close(e.done)
	defer e.cancel()

	for {
		select {
		case <-e.queue.Ready():
			if !e.deliver(e.queue.Drain()) {
				return
			}
		case <-e.queue.Done():
			e.deliver(e.queue.Drain())
			return
		case <-e.ctx.Done():
			return
		}
	}
}

// deliver sends items in order and reports whether the endpoint is still
// usable.
func (e *BusEndpoint) deliver(items []outbound) bool {
	for _, item := range items {
		if e.ctx.Err() != nil {
			return false
		}
		start := time.Now()
		reply, err := e.bus.Request(e.ctx, e.subject, item.data, e.opts.AckTimeout)
		if err != nil {
			if stderrors.Is(err, context.Canceled) {
				return false
			}
			e.markBroken(item.kind, err)
			return false
		}
		ack, err := protocol.Unmarshal(reply)
		if err != nil {
			e.markBroken(item.kind, err)
			return false
		}
		if ack.Kind == protocol.KindNack {
			e.markBroken(item.kind, fmt.Errorf("nack: %s", ack.Reason))
			return false
		}
		observeDelivery(item.kind, time.Since(start))
	}
	return true
}

func (e *BusEndpoint) markBroken(kind protocol.Kind, cause error) {
	err := errors.Wrap(cause, errors.ErrCodeTransportBroken, "remote endpoint unreachable").
		WithContext("subject", e.subject).
		WithContext("kind", kind.String())

	e.mu.Lock()
	if e.err != nil {
		e.mu.Unlock()
		return
	}
	e.err = err
	closed := e.closed
	e.mu.Unlock()

	close(e.broken)
	// Drop whatever is still queued; nobody will ever read it.
	e.queue.Close()
	e.queue.Drain()
	recordBroken()

	if !closed && e.opts.OnBroken != nil {
		e.opts.OnBroken(err)
	}
}
