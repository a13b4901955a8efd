package compositor_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/constellation/pkg/bus"
	"github.com/odvcencio/constellation/pkg/compositor"
	"github.com/odvcencio/constellation/pkg/constellation"
	"github.com/odvcencio/constellation/pkg/content"
	"github.com/odvcencio/constellation/pkg/embedder"
	"github.com/odvcencio/constellation/pkg/protocol"
)

// TestCompositor_NeverShowsAnotherPipelinesFrame drives real navigations and
// checks every presented layer against the URL its pipeline loaded.
func TestCompositor_NeverShowsAnotherPipelinesFrame(t *testing.T) {
	b := bus.NewMemoryBus()
	host := content.NewHost(b, content.Options{SlowDelay: 50 * time.Millisecond})
	require.NoError(t, host.Start(context.Background()))
	hub := embedder.NewHubWithBuffer(1024)
	events, unsubscribe := hub.Subscribe()

	c, err := constellation.New(constellation.Options{
		Bus:               b,
		Events:            hub,
		HeartbeatInterval: time.Hour,
	})
	require.NoError(t, err)
	backend := compositor.NewMemoryBackend(1024)
	comp, err := compositor.New(compositor.Options{
		Bus:     b,
		Tree:    c,
		Backend: backend,
		Input:   c,
		Tick:    5 * time.Millisecond,
	})
	require.NoError(t, err)

	var (
		mu   sync.Mutex
		urls = map[protocol.PipelineID]string{}
	)
	go func() {
		for ev := range events {
			if ev.Type == embedder.EventLoadStateChanged && ev.Pipeline.Valid() {
				mu.Lock()
				urls[ev.Pipeline] = ev.URL
				mu.Unlock()
			}
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = c.Run(ctx) }()
	go func() { defer wg.Done(); _ = comp.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
		unsubscribe()
		_ = host.Close()
		_ = b.Close()
		hub.Close()
	})

	showing := func(window protocol.BrowsingContextID, url string) func() bool {
		return func() bool {
			s, ok := backend.Last(window)
			if !ok {
				return false
			}
			l, ok := s.Layer(window)
			return ok && l.Kind == compositor.LayerContent && l.URL == url
		}
	}

	top, err := c.CreateTopLevel(ctx, "a.test", protocol.Size{Width: 80, Height: 24})
	require.NoError(t, err)
	require.Eventually(t, showing(top, "a.test"), waitFor, tick)

	require.NoError(t, c.Navigate(ctx, top, "slow:b.test", constellation.NavigateOptions{}))
	require.NoError(t, c.Navigate(ctx, top, "c.test", constellation.NavigateOptions{}))
	require.Eventually(t, showing(top, "c.test"), waitFor, tick)

	require.NoError(t, c.GoBack(ctx, top, 1))
	require.Eventually(t, showing(top, "a.test"), waitFor, tick)

	mu.Lock()
	defer mu.Unlock()
	for _, s := range backend.Scenes() {
		for _, l := range s.Layers {
			if l.Kind != compositor.LayerContent {
				continue
			}
			assert.Equal(t, urls[l.Pipeline], l.URL, "frame %s shows pipeline %s", s.FrameID, l.Pipeline)
			assert.NotEqual(t, "slow:b.test", l.URL, "superseded navigation must never be shown")
		}
	}
}
