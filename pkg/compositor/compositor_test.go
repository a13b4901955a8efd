package compositor_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/odvcencio/constellation/pkg/bus"
	"github.com/odvcencio/constellation/pkg/compositor"
	"github.com/odvcencio/constellation/pkg/compositor/mocks"
	"github.com/odvcencio/constellation/pkg/embedder"
	"github.com/odvcencio/constellation/pkg/errors"
	"github.com/odvcencio/constellation/pkg/frametree"
	"github.com/odvcencio/constellation/pkg/protocol"
	"github.com/odvcencio/constellation/pkg/transport"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// liveTree publishes snapshots of a tree the test mutates.
type liveTree struct {
	mu   sync.Mutex
	tree *frametree.Tree
}

func newLiveTree(t *testing.T) *liveTree {
	t.Helper()
	tr := frametree.New()
	require.NoError(t, tr.AddRoot(1, protocol.Rect{Width: 100, Height: 50}))
	require.NoError(t, tr.AddChild(1, 2, protocol.Rect{X: 10, Y: 10, Width: 40, Height: 20}))
	require.NoError(t, tr.AddChild(2, 3, protocol.Rect{X: 5, Y: 5, Width: 10, Height: 10}))
	return &liveTree{tree: tr}
}

func (l *liveTree) FrameTree() *frametree.Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tree.Snapshot()
}

func (l *liveTree) set(t *testing.T, fn func(*frametree.Tree) error) {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	require.NoError(t, fn(l.tree))
}

type inputRecorder struct {
	mu     sync.Mutex
	events []protocol.InputEvent
}

func (r *inputRecorder) DispatchInput(_ context.Context, ev protocol.InputEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *inputRecorder) all() []protocol.InputEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.InputEvent(nil), r.events...)
}

func update(pid protocol.PipelineID, ctx protocol.BrowsingContextID, epoch uint64, size protocol.Size) *protocol.Envelope {
	return &protocol.Envelope{
		Kind:     protocol.KindFrameUpdate,
		Pipeline: pid,
		Context:  ctx,
		Epoch:    epoch,
		URL:      "https://example.test/" + pid.String(),
		Rect:     protocol.RectFromSize(size),
		Payload:  []byte(pid.String()),
	}
}

func newCompositor(t *testing.T, tree compositor.TreeSource, backend compositor.Backend, mutate func(*compositor.Options)) *compositor.Compositor {
	t.Helper()
	b := bus.NewMemoryBus()
	t.Cleanup(func() { _ = b.Close() })
	opts := compositor.Options{Bus: b, Tree: tree, Backend: backend}
	if mutate != nil {
		mutate(&opts)
	}
	c, err := compositor.New(opts)
	require.NoError(t, err)
	return c
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := compositor.New(compositor.Options{})
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidInput))

	_, err = compositor.New(compositor.Options{Bus: bus.NewMemoryBus()})
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidInput))
}

func TestAccept_KeepsNewestEpoch(t *testing.T) {
	tree := newLiveTree(t)
	c := newCompositor(t, tree, compositor.NewMemoryBackend(0), nil)

	assert.True(t, c.Accept(update(10, 1, 2, protocol.Size{Width: 100, Height: 50})))
	assert.False(t, c.Accept(update(10, 1, 2, protocol.Size{Width: 100, Height: 50})), "equal epoch")
	assert.False(t, c.Accept(update(10, 1, 1, protocol.Size{Width: 100, Height: 50})), "older epoch")
	assert.False(t, c.Accept(&protocol.Envelope{Kind: protocol.KindReflow, Pipeline: 10}))

	tree.set(t, func(tr *frametree.Tree) error { return tr.SetActive(1, 10) })
	scenes, err := c.Present(context.Background())
	require.NoError(t, err)
	require.Len(t, scenes, 1)
	l, ok := scenes[0].Layer(1)
	require.True(t, ok)
	assert.Equal(t, uint64(2), l.Epoch)
}

func TestPresent_DrawsOnlyTheOccupant(t *testing.T) {
	tree := newLiveTree(t)
	tree.set(t, func(tr *frametree.Tree) error { return tr.SetActive(1, 10) })
	c := newCompositor(t, tree, compositor.NewMemoryBackend(0), nil)

	// 11 is a newer navigation for the same context that is not active yet.
	c.Accept(update(10, 1, 1, protocol.Size{Width: 100, Height: 50}))
	c.Accept(update(11, 1, 7, protocol.Size{Width: 100, Height: 50}))

	scenes, err := c.Present(context.Background())
	require.NoError(t, err)
	l, _ := scenes[0].Layer(1)
	assert.Equal(t, compositor.LayerContent, l.Kind)
	assert.Equal(t, protocol.PipelineID(10), l.Pipeline)
	assert.Equal(t, []byte("p10"), l.Content)

	// After activation the retained frame of 11 is shown immediately.
	tree.set(t, func(tr *frametree.Tree) error { return tr.SetActive(1, 11) })
	scenes, err = c.Present(context.Background())
	require.NoError(t, err)
	l, _ = scenes[0].Layer(1)
	assert.Equal(t, protocol.PipelineID(11), l.Pipeline)
	assert.Equal(t, uint64(7), l.Epoch)
	assert.Equal(t, []byte("p11"), l.Content)
}

func TestPresent_BlankAndErrorLayers(t *testing.T) {
	tree := newLiveTree(t)
	tree.set(t, func(tr *frametree.Tree) error {
		if err := tr.SetActive(1, 10); err != nil {
			return err
		}
		if err := tr.SetActive(2, 20); err != nil {
			return err
		}
		return tr.SetFault(2, string(errors.ErrCodeLoadTimeout))
	})
	c := newCompositor(t, tree, compositor.NewMemoryBackend(0), nil)

	scenes, err := c.Present(context.Background())
	require.NoError(t, err)
	require.Len(t, scenes, 1)
	s := scenes[0]
	assert.NotEmpty(t, s.FrameID)
	assert.Equal(t, protocol.Size{Width: 100, Height: 50}, s.Size)

	root, _ := s.Layer(1)
	assert.Equal(t, compositor.LayerBlank, root.Kind, "occupant without a frame yet")
	child, _ := s.Layer(2)
	assert.Equal(t, compositor.LayerError, child.Kind)
	assert.Equal(t, string(errors.ErrCodeLoadTimeout), child.Fault)
	grandchild, _ := s.Layer(3)
	assert.Equal(t, compositor.LayerBlank, grandchild.Kind)
	assert.False(t, grandchild.Pipeline.Valid(), "first navigation still pending")
}

func TestPresent_MarksContentLaidOutForAnotherSize(t *testing.T) {
	tree := newLiveTree(t)
	tree.set(t, func(tr *frametree.Tree) error { return tr.SetActive(1, 10) })
	c := newCompositor(t, tree, compositor.NewMemoryBackend(0), nil)
	c.Accept(update(10, 1, 1, protocol.Size{Width: 100, Height: 50}))

	tree.set(t, func(tr *frametree.Tree) error { return tr.SetRect(1, protocol.Rect{Width: 200, Height: 80}) })
	scenes, err := c.Present(context.Background())
	require.NoError(t, err)
	l, _ := scenes[0].Layer(1)
	assert.Equal(t, compositor.LayerContent, l.Kind)
	assert.True(t, l.Stale)
	assert.Equal(t, protocol.PipelineID(10), l.Pipeline)

	c.Accept(update(10, 1, 2, protocol.Size{Width: 200, Height: 80}))
	scenes, err = c.Present(context.Background())
	require.NoError(t, err)
	l, _ = scenes[0].Layer(1)
	assert.False(t, l.Stale)
}

func TestPresent_PrunesFramesOfDepartedPipelines(t *testing.T) {
	tree := newLiveTree(t)
	tree.set(t, func(tr *frametree.Tree) error { return tr.SetActive(1, 10) })
	c := newCompositor(t, tree, compositor.NewMemoryBackend(0), func(o *compositor.Options) {
		o.Retention = time.Millisecond
	})
	c.Accept(update(10, 1, 1, protocol.Size{Width: 100, Height: 50}))
	c.Accept(update(11, 1, 1, protocol.Size{Width: 100, Height: 50}))
	time.Sleep(5 * time.Millisecond)

	_, err := c.Present(context.Background())
	require.NoError(t, err)

	tree.set(t, func(tr *frametree.Tree) error { return tr.SetActive(1, 11) })
	scenes, err := c.Present(context.Background())
	require.NoError(t, err)
	l, _ := scenes[0].Layer(1)
	assert.Equal(t, compositor.LayerBlank, l.Kind, "frame of 11 outlived its retention")
}

func TestPresent_ClosedWindowsAreForgotten(t *testing.T) {
	tree := newLiveTree(t)
	backend := compositor.NewMemoryBackend(0)
	c := newCompositor(t, tree, backend, nil)

	_, err := c.Present(context.Background())
	require.NoError(t, err)
	_, ok := c.Presented(1)
	require.True(t, ok)

	tree.set(t, func(tr *frametree.Tree) error {
		_, err := tr.Remove(1)
		return err
	})
	scenes, err := c.Present(context.Background())
	require.NoError(t, err)
	assert.Empty(t, scenes)
	_, ok = c.Presented(1)
	assert.False(t, ok)
}

func TestPresent_RejectedSceneKeepsPreviousGeometry(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := mocks.NewMockBackend(ctrl)
	tree := newLiveTree(t)
	c := newCompositor(t, tree, backend, nil)

	gomock.InOrder(
		backend.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(nil),
		backend.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(assert.AnError),
	)

	first, err := c.Present(context.Background())
	require.NoError(t, err)

	_, err = c.Present(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInternal))

	shown, ok := c.Presented(1)
	require.True(t, ok)
	assert.Equal(t, first[0].FrameID, shown.FrameID)
}

func TestHitTest_DeepestFrameWins(t *testing.T) {
	tree := newLiveTree(t)
	c := newCompositor(t, tree, compositor.NewMemoryBackend(0), nil)

	_, ok := c.HitTest(1, protocol.Point{X: 1, Y: 1})
	assert.False(t, ok, "nothing presented yet")

	_, err := c.Present(context.Background())
	require.NoError(t, err)

	cases := []struct {
		point protocol.Point
		want  protocol.BrowsingContextID
	}{
		{protocol.Point{X: 1, Y: 1}, 1},
		{protocol.Point{X: 12, Y: 12}, 2},
		{protocol.Point{X: 16, Y: 16}, 3},
		{protocol.Point{X: 49, Y: 29}, 2},
	}
	for _, tc := range cases {
		l, ok := c.HitTest(1, tc.point)
		require.True(t, ok, "%+v", tc.point)
		assert.Equal(t, tc.want, l.Context, "%+v", tc.point)
	}

	_, ok = c.HitTest(1, protocol.Point{X: 100, Y: 10})
	assert.False(t, ok)
}

func TestHandlePointer_ResolvesTarget(t *testing.T) {
	tree := newLiveTree(t)
	tree.set(t, func(tr *frametree.Tree) error {
		if err := tr.SetActive(1, 10); err != nil {
			return err
		}
		return tr.SetActive(2, 20)
	})
	sink := &inputRecorder{}
	c := newCompositor(t, tree, compositor.NewMemoryBackend(0), func(o *compositor.Options) {
		o.Input = sink
	})
	c.Accept(update(20, 2, 1, protocol.Size{Width: 40, Height: 20}))
	_, err := c.Present(context.Background())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, c.HandlePointer(ctx, 1, protocol.InputEvent{Kind: protocol.InputPointerDown, Point: protocol.Point{X: 30, Y: 12}}))
	// Root has no frame yet: dropped.
	require.NoError(t, c.HandlePointer(ctx, 1, protocol.InputEvent{Kind: protocol.InputPointerDown, Point: protocol.Point{X: 1, Y: 1}}))

	err = c.HandlePointer(ctx, 1, protocol.InputEvent{Kind: protocol.InputKeyDown, Key: "a"})
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidInput))

	got := sink.all()
	require.Len(t, got, 1)
	assert.Equal(t, protocol.BrowsingContextID(2), got[0].Context)
	assert.Equal(t, protocol.PipelineID(20), got[0].Pipeline)
	assert.Equal(t, protocol.Point{X: 20, Y: 2}, got[0].Point)
}

func TestRun_PresentsUpdatesAndReportsFrames(t *testing.T) {
	b := bus.NewMemoryBus()
	t.Cleanup(func() { _ = b.Close() })
	hub := embedder.NewHubWithBuffer(64)
	t.Cleanup(hub.Close)
	events, unsubscribe := hub.Subscribe()
	t.Cleanup(unsubscribe)

	tree := newLiveTree(t)
	tree.set(t, func(tr *frametree.Tree) error { return tr.SetActive(1, 10) })
	backend := compositor.NewMemoryBackend(0)
	c, err := compositor.New(compositor.Options{
		Bus:     b,
		Tree:    tree,
		Backend: backend,
		Events:  hub,
		Tick:    10 * time.Millisecond,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.Eventually(t, func() bool {
		_, ok := backend.Last(1)
		return ok
	}, waitFor, tick, "initial tree is presented on the first tick")

	require.NoError(t, transport.Publish(ctx, b, bus.SubjectCompositor, update(10, 1, 3, protocol.Size{Width: 100, Height: 50})))
	require.Eventually(t, func() bool {
		s, ok := backend.Last(1)
		if !ok {
			return false
		}
		l, _ := s.Layer(1)
		return l.Kind == compositor.LayerContent && l.Epoch == 3
	}, waitFor, tick)

	select {
	case ev := <-events:
		assert.Equal(t, embedder.EventFramePresented, ev.Type)
		assert.Equal(t, protocol.BrowsingContextID(1), ev.TopLevel)
		assert.NotEmpty(t, ev.FrameID)
	case <-time.After(waitFor):
		t.Fatal("no FramePresented event")
	}
}

func TestMemoryBackend_KeepLast(t *testing.T) {
	b := compositor.NewMemoryBackend(1).KeepLast(2)
	ctx := context.Background()
	for _, id := range []string{"f1", "f2", "f3"} {
		require.NoError(t, b.Submit(ctx, &compositor.Scene{FrameID: id, Window: 1}))
	}

	scenes := b.Scenes()
	require.Len(t, scenes, 2)
	assert.Equal(t, "f2", scenes[0].FrameID)
	assert.Equal(t, "f3", scenes[1].FrameID)

	last, ok := b.Last(1)
	require.True(t, ok)
	assert.Equal(t, "f3", last.FrameID)
	assert.Len(t, b.Presented(), 1, "presentations beyond the buffer are dropped")
}
