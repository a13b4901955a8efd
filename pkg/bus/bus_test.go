package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/constellation/pkg/protocol"
)

const (
	waitFor = time.Second
	tick    = 5 * time.Millisecond
)

func newBus(t *testing.T) *MemoryBus {
	t.Helper()
	b := NewMemoryBus()
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func counter(n *atomic.Int32) MessageHandler {
	return func(*Message) []byte {
		n.Add(1)
		return nil
	}
}

func TestMemoryBus_DeliversToScriptWorker(t *testing.T) {
	b := newBus(t)
	ctx := context.Background()
	got := make(chan *Message, 1)

	sub, err := b.Subscribe(ctx, ScriptSubject(7), func(msg *Message) []byte {
		got <- msg
		return nil
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()
	assert.Equal(t, "constellation.pipeline.7.script", sub.Subject())

	require.NoError(t, b.Publish(ctx, ScriptSubject(7), []byte("load a.test")))
	select {
	case msg := <-got:
		assert.Equal(t, "load a.test", string(msg.Data))
		assert.Equal(t, ScriptSubject(7), msg.Subject)
		assert.Empty(t, msg.ReplyTo)
	case <-time.After(waitFor):
		t.Fatal("script worker never received the message")
	}
}

// Frame updates from a layout worker arrive in order and none are lost, even
// when the publisher outruns the handler.
func TestMemoryBus_OrderedAndLossless(t *testing.T) {
	b := newBus(t)
	ctx := context.Background()
	const total = 5000

	var mu sync.Mutex
	var seen []int
	sub, err := b.Subscribe(ctx, SubjectCompositor, func(msg *Message) []byte {
		mu.Lock()
		seen = append(seen, int(msg.Data[0])<<8|int(msg.Data[1]))
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	for i := 0; i < total; i++ {
		require.NoError(t, b.Publish(ctx, SubjectCompositor, []byte{byte(i >> 8), byte(i)}))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == total
	}, 5*time.Second, tick)

	mu.Lock()
	defer mu.Unlock()
	for i, v := range seen {
		require.Equal(t, i, v, "frame %d out of order", i)
	}
}

func TestMemoryBus_Wildcards(t *testing.T) {
	b := newBus(t)
	ctx := context.Background()

	var scripts, all atomic.Int32
	s1, err := b.Subscribe(ctx, "constellation.pipeline.*.script", counter(&scripts))
	require.NoError(t, err)
	defer s1.Unsubscribe()
	s2, err := b.Subscribe(ctx, "constellation.>", counter(&all))
	require.NoError(t, err)
	defer s2.Unsubscribe()

	_ = b.Publish(ctx, ScriptSubject(1), nil)
	_ = b.Publish(ctx, ScriptSubject(2), nil)
	_ = b.Publish(ctx, LayoutSubject(1), nil)
	_ = b.Publish(ctx, SubjectInbox, nil)
	_ = b.Publish(ctx, "metrics.flush", nil)

	require.Eventually(t, func() bool { return all.Load() == 4 }, waitFor, tick)
	assert.Equal(t, int32(2), scripts.Load())
}

func TestMemoryBus_Request(t *testing.T) {
	ctx := context.Background()

	t.Run("reply", func(t *testing.T) {
		b := newBus(t)
		sub, err := b.Subscribe(ctx, SubjectSpawn, func(msg *Message) []byte {
			return append([]byte("ready "), msg.Data...)
		})
		require.NoError(t, err)
		defer sub.Unsubscribe()

		reply, err := b.Request(ctx, SubjectSpawn, []byte("p3"), waitFor)
		require.NoError(t, err)
		assert.Equal(t, "ready p3", string(reply))
	})

	t.Run("no responders", func(t *testing.T) {
		b := newBus(t)
		_, err := b.Request(ctx, SubjectSpawn, nil, 100*time.Millisecond)
		assert.ErrorIs(t, err, ErrNoResponders)
	})

	t.Run("timeout", func(t *testing.T) {
		b := newBus(t)
		sub, err := b.Subscribe(ctx, SubjectSpawn, func(*Message) []byte { return nil })
		require.NoError(t, err)
		defer sub.Unsubscribe()

		start := time.Now()
		_, err = b.Request(ctx, SubjectSpawn, nil, 50*time.Millisecond)
		assert.ErrorIs(t, err, ErrTimeout)
		assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	})

	t.Run("canceled", func(t *testing.T) {
		b := newBus(t)
		sub, err := b.Subscribe(ctx, SubjectSpawn, func(*Message) []byte { return nil })
		require.NoError(t, err)
		defer sub.Unsubscribe()

		cctx, cancel := context.WithCancel(ctx)
		time.AfterFunc(20*time.Millisecond, cancel)
		_, err = b.Request(cctx, SubjectSpawn, nil, waitFor)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("after unsubscribe", func(t *testing.T) {
		b := newBus(t)
		sub, err := b.Subscribe(ctx, ScriptSubject(4), func(*Message) []byte { return []byte("ack") })
		require.NoError(t, err)
		require.NoError(t, sub.Unsubscribe())

		_, err = b.Request(ctx, ScriptSubject(4), nil, 100*time.Millisecond)
		assert.ErrorIs(t, err, ErrNoResponders)
	})
}

// Spawn requests reach exactly one content host per queue group while plain
// subscribers still see every one.
func TestMemoryBus_QueueGroup(t *testing.T) {
	b := newBus(t)
	ctx := context.Background()

	var hosts [3]atomic.Int32
	var observer atomic.Int32
	for i := range hosts {
		sub, err := b.QueueSubscribe(ctx, SubjectSpawn, SpawnQueue, counter(&hosts[i]))
		require.NoError(t, err)
		defer sub.Unsubscribe()
	}
	sub, err := b.Subscribe(ctx, SubjectSpawn, counter(&observer))
	require.NoError(t, err)
	defer sub.Unsubscribe()

	const total = 30
	for i := 0; i < total; i++ {
		_ = b.Publish(ctx, SubjectSpawn, nil)
	}

	sum := func() int32 { return hosts[0].Load() + hosts[1].Load() + hosts[2].Load() }
	require.Eventually(t, func() bool { return sum() == total && observer.Load() == total }, waitFor, tick)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(total), sum())
	for i := range hosts {
		assert.NotZero(t, hosts[i].Load(), "host %d got no spawns", i)
	}
}

func TestMemoryBus_Unsubscribe(t *testing.T) {
	b := newBus(t)
	ctx := context.Background()

	var n atomic.Int32
	sub, err := b.Subscribe(ctx, SubjectInbox, counter(&n))
	require.NoError(t, err)

	_ = b.Publish(ctx, SubjectInbox, nil)
	require.Eventually(t, func() bool { return n.Load() == 1 }, waitFor, tick)

	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, sub.Unsubscribe())
	_ = b.Publish(ctx, SubjectInbox, nil)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), n.Load())
}

// A worker tearing itself down from its own handler must not deadlock.
func TestMemoryBus_UnsubscribeFromHandler(t *testing.T) {
	b := newBus(t)
	ctx := context.Background()

	var sub Subscription
	var mu sync.Mutex
	var n atomic.Int32
	done := make(chan struct{})

	s, err := b.Subscribe(ctx, LayoutSubject(2), func(*Message) []byte {
		n.Add(1)
		mu.Lock()
		defer mu.Unlock()
		_ = sub.Unsubscribe()
		close(done)
		return nil
	})
	require.NoError(t, err)
	mu.Lock()
	sub = s
	mu.Unlock()

	_ = b.Publish(ctx, LayoutSubject(2), nil)
	_ = b.Publish(ctx, LayoutSubject(2), nil)

	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("handler deadlocked unsubscribing itself")
	}
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), n.Load())
}

func TestMemoryBus_ContextCancelUnsubscribes(t *testing.T) {
	b := newBus(t)
	ctx, cancel := context.WithCancel(context.Background())

	_, err := b.Subscribe(ctx, ScriptSubject(5), func(*Message) []byte { return []byte("ok") })
	require.NoError(t, err)
	cancel()

	require.Eventually(t, func() bool {
		_, err := b.Request(context.Background(), ScriptSubject(5), nil, 20*time.Millisecond)
		return err == ErrNoResponders
	}, waitFor, tick)
}

func TestMemoryBus_Closed(t *testing.T) {
	b := NewMemoryBus()
	require.NoError(t, b.Close())
	assert.ErrorIs(t, b.Close(), ErrClosed)

	ctx := context.Background()
	assert.ErrorIs(t, b.Publish(ctx, SubjectInbox, nil), ErrClosed)
	_, err := b.Subscribe(ctx, SubjectInbox, nil)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = b.QueueSubscribe(ctx, SubjectSpawn, SpawnQueue, nil)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = b.Request(ctx, SubjectSpawn, nil, time.Second)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMailbox(t *testing.T) {
	mb := NewMailbox[int]()
	for i := 0; i < 4; i++ {
		require.True(t, mb.Put(i))
	}
	assert.Equal(t, 4, mb.Len())

	select {
	case <-mb.Ready():
	default:
		t.Fatal("mailbox not ready after Put")
	}
	assert.Equal(t, []int{0, 1, 2, 3}, mb.Drain())

	mb.Close()
	mb.Close()
	assert.False(t, mb.Put(9))
	select {
	case <-mb.Done():
	default:
		t.Fatal("Done not closed")
	}
}

func TestSubjects(t *testing.T) {
	assert.Equal(t, "constellation.pipeline.12.script", ScriptSubject(protocol.PipelineID(12)))
	assert.Equal(t, "constellation.pipeline.12.layout", LayoutSubject(protocol.PipelineID(12)))
}

func TestMatchSubject(t *testing.T) {
	tests := []struct {
		pattern, subject string
		want             bool
	}{
		{SubjectInbox, SubjectInbox, true},
		{SubjectInbox, SubjectCompositor, false},
		{"constellation.pipeline.*.script", "constellation.pipeline.3.script", true},
		{"constellation.pipeline.*.script", "constellation.pipeline.3.layout", false},
		{"constellation.pipeline.*.script", "constellation.pipeline.3", false},
		{"constellation.pipeline.*", "constellation.pipeline.3.script", false},
		{"*.spawn", SubjectSpawn, true},
		{"constellation.>", "constellation.pipeline.3.layout", true},
		{"constellation.>", "constellation", false},
		{"_INBOX.*", "_INBOX.01HZY", true},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+"|"+tt.subject, func(t *testing.T) {
			assert.Equal(t, tt.want, matchSubject(tt.pattern, tt.subject))
		})
	}
}
