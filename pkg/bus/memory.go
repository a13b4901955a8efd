package bus

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
)

// MemoryBus runs the whole engine in one process. Every subscription drains
// its own unbounded Mailbox on one goroutine: nothing is dropped and messages
// from one publisher arrive in order.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[uint64]*memorySub
	nextID atomic.Uint64
	rr     atomic.Uint64
	closed atomic.Bool
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[uint64]*memorySub)}
}

func (b *MemoryBus) Publish(_ context.Context, subject string, data []byte) error {
	if b.closed.Load() {
		return ErrClosed
	}
	b.route(&Message{Subject: subject, Data: data})
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, subject string, handler MessageHandler) (Subscription, error) {
	s, err := b.add(ctx, subject, "", handler)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (b *MemoryBus) QueueSubscribe(ctx context.Context, subject, queue string, handler MessageHandler) (Subscription, error) {
	s, err := b.add(ctx, subject, queue, handler)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Request listens on a fresh _INBOX subject for the first reply.
func (b *MemoryBus) Request(ctx context.Context, subject string, data []byte, timeout time.Duration) ([]byte, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	inbox := "_INBOX." + ulid.Make().String()
	replies := make(chan []byte, 1)
	sub, err := b.add(context.Background(), inbox, "", func(msg *Message) []byte {
		select {
		case replies <- msg.Data:
		default:
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe()

	if !b.route(&Message{Subject: subject, Data: data, ReplyTo: inbox}) {
		return nil, ErrNoResponders
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case reply := <-replies:
		return reply, nil
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops every subscription. Messages still queued are discarded.
func (b *MemoryBus) Close() error {
	if b.closed.Swap(true) {
		return ErrClosed
	}
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[uint64]*memorySub)
	b.mu.Unlock()

	for _, s := range subs {
		s.stop()
	}
	return nil
}

// route queues msg for every matching plain subscription and for one member
// of each matching queue group, chosen round robin. It reports whether any
// subscription accepted it.
func (b *MemoryBus) route(msg *Message) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	accepted := false
	var groups map[string][]*memorySub
	for _, s := range b.subs {
		if !matchSubject(s.pattern, msg.Subject) {
			continue
		}
		if s.queue == "" {
			accepted = s.inbox.Put(msg) || accepted
			continue
		}
		if groups == nil {
			groups = make(map[string][]*memorySub)
		}
		groups[s.queue] = append(groups[s.queue], s)
	}
	for _, members := range groups {
		slices.SortFunc(members, func(x, y *memorySub) int { return cmp.Compare(x.id, y.id) })
		pick := members[b.rr.Add(1)%uint64(len(members))]
		accepted = pick.inbox.Put(msg) || accepted
	}
	return accepted
}

func (b *MemoryBus) add(ctx context.Context, pattern, queue string, handler MessageHandler) (*memorySub, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	if ctx == nil {
		ctx = context.Background()
	}
	s := &memorySub{
		id:      b.nextID.Add(1),
		pattern: pattern,
		queue:   queue,
		inbox:   NewMailbox[*Message](),
		handler: handler,
		bus:     b,
	}

	b.mu.Lock()
	if b.closed.Load() {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.subs[s.id] = s
	b.mu.Unlock()

	go s.loop(ctx)
	return s, nil
}

type memorySub struct {
	id      uint64
	pattern string
	queue   string
	inbox   *Mailbox[*Message]
	handler MessageHandler
	bus     *MemoryBus
	gone    atomic.Bool
}

func (s *memorySub) Subject() string { return s.pattern }

// Unsubscribe never waits for the drain goroutine, so a handler may call it.
func (s *memorySub) Unsubscribe() error {
	if !s.stop() {
		return nil
	}
	s.bus.mu.Lock()
	delete(s.bus.subs, s.id)
	s.bus.mu.Unlock()
	return nil
}

// stop reports whether this call did the stopping.
func (s *memorySub) stop() bool {
	if s.gone.Swap(true) {
		return false
	}
	s.inbox.Close()
	return true
}

func (s *memorySub) loop(ctx context.Context) {
	for {
		select {
		case <-s.inbox.Ready():
			for _, msg := range s.inbox.Drain() {
				if s.gone.Load() {
					return
				}
				if reply := s.handler(msg); reply != nil && msg.ReplyTo != "" {
					_ = s.bus.Publish(ctx, msg.ReplyTo, reply)
				}
			}
		case <-s.inbox.Done():
			return
		case <-ctx.Done():
			_ = s.Unsubscribe()
			return
		}
	}
}

// matchSubject applies NATS wildcard rules: "*" matches exactly one token and
// a trailing ">" matches one or more.
func matchSubject(pattern, subject string) bool {
	if pattern == subject {
		return true
	}
	want := strings.Split(pattern, ".")
	have := strings.Split(subject, ".")
	for i, tok := range want {
		if tok == ">" {
			return i == len(want)-1 && len(have) > i
		}
		if i >= len(have) || (tok != "*" && tok != have[i]) {
			return false
		}
	}
	return len(want) == len(have)
}
