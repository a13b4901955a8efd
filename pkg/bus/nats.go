package bus

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSBus carries engine traffic over a NATS server. Content hosts started
// with the worker command join the same server and answer SubjectSpawn.
type NATSBus struct {
	conn    *nats.Conn
	timeout time.Duration
	closed  atomic.Bool
}

// NewNATSBus dials cfg.URL, reconnecting forever once connected.
func NewNATSBus(cfg Config) (*NATSBus, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRequestTimeout
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.Timeout(cfg.Timeout),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("bus: dial %s: %w", cfg.URL, err)
	}
	return &NATSBus{conn: conn, timeout: cfg.Timeout}, nil
}

func (b *NATSBus) Publish(_ context.Context, subject string, data []byte) error {
	if b.closed.Load() {
		return ErrClosed
	}
	return b.conn.Publish(subject, data)
}

// Subscribe lifts the pending limits: a slow worker must not lose messages,
// MemoryBus never does.
func (b *NATSBus) Subscribe(_ context.Context, subject string, handler MessageHandler) (Subscription, error) {
	return b.subscribe(func(cb nats.MsgHandler) (*nats.Subscription, error) {
		return b.conn.Subscribe(subject, cb)
	}, handler)
}

func (b *NATSBus) QueueSubscribe(_ context.Context, subject, queue string, handler MessageHandler) (Subscription, error) {
	return b.subscribe(func(cb nats.MsgHandler) (*nats.Subscription, error) {
		return b.conn.QueueSubscribe(subject, queue, cb)
	}, handler)
}

func (b *NATSBus) subscribe(open func(nats.MsgHandler) (*nats.Subscription, error), handler MessageHandler) (Subscription, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	sub, err := open(func(msg *nats.Msg) {
		reply := handler(&Message{Subject: msg.Subject, Data: msg.Data, ReplyTo: msg.Reply})
		if reply != nil && msg.Reply != "" {
			_ = msg.Respond(reply)
		}
	})
	if err != nil {
		return nil, err
	}
	if err := sub.SetPendingLimits(-1, -1); err != nil {
		_ = sub.Unsubscribe()
		return nil, err
	}
	return natsSubscription{sub}, nil
}

// Request translates NATS failures into the bus errors callers classify on.
func (b *NATSBus) Request(ctx context.Context, subject string, data []byte, timeout time.Duration) ([]byte, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout <= 0 {
		timeout = b.timeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msg, err := b.conn.RequestWithContext(reqCtx, subject, data)
	switch {
	case err == nil:
		return msg.Data, nil
	case errors.Is(err, nats.ErrNoResponders):
		return nil, ErrNoResponders
	case errors.Is(err, nats.ErrConnectionClosed):
		return nil, ErrClosed
	case errors.Is(err, nats.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		if ctx.Err() != nil {
			// The caller gave up first.
			return nil, ctx.Err()
		}
		return nil, ErrTimeout
	default:
		return nil, err
	}
}

// Close drains in-flight handlers before closing the connection.
func (b *NATSBus) Close() error {
	if b.closed.Swap(true) {
		return ErrClosed
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
	}
	return nil
}

type natsSubscription struct {
	sub *nats.Subscription
}

func (s natsSubscription) Unsubscribe() error { return s.sub.Unsubscribe() }
func (s natsSubscription) Subject() string    { return s.sub.Subject }
