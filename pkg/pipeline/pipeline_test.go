package pipeline

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/constellation/pkg/errors"
	"github.com/odvcencio/constellation/pkg/protocol"
)

type recordingEndpoint struct {
	mu     sync.Mutex
	sent   []*protocol.Envelope
	closed bool
	broken chan struct{}
}

func newRecordingEndpoint() *recordingEndpoint {
	return &recordingEndpoint{broken: make(chan struct{})}
}

func (r *recordingEndpoint) Send(env *protocol.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.New(errors.ErrCodeClosed, "closed")
	}
	r.sent = append(r.sent, env)
	return nil
}

func (r *recordingEndpoint) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

func (r *recordingEndpoint) Broken() <-chan struct{} { return r.broken }
func (r *recordingEndpoint) Err() error              { return nil }

func (r *recordingEndpoint) kinds() []protocol.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]protocol.Kind, len(r.sent))
	for i, env := range r.sent {
		out[i] = env.Kind
	}
	return out
}

func testWorkers() (*Workers, *recordingEndpoint, *recordingEndpoint) {
	script, layout := newRecordingEndpoint(), newRecordingEndpoint()
	return &Workers{Script: script, Layout: layout}, script, layout
}

func TestStateTransitions(t *testing.T) {
	tests := []struct {
		from, to State
		ok       bool
	}{
		{StatePending, StateLoading, true},
		{StatePending, StateDiscarded, true},
		{StatePending, StateActive, false},
		{StateLoading, StateActive, true},
		{StateLoading, StateDiscarded, true},
		{StateLoading, StatePending, false},
		{StateActive, StateDiscarded, true},
		{StateActive, StateLoading, false},
		{StateDiscarded, StateActive, false},
		{StateDiscarded, StatePending, false},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.from.CanTransition(tt.to))
		})
	}
}

func TestPipeline_LoadSendsInitialCommands(t *testing.T) {
	p := New(7, 1, 0, 1, "a.test")
	p.State = []byte("scroll=40")
	w, script, layout := testWorkers()

	viewport := protocol.Rect{Width: 800, Height: 600}
	require.NoError(t, p.Load(w, viewport))
	assert.Equal(t, StateLoading, p.LifecycleState())

	require.Len(t, script.sent, 1)
	assert.Equal(t, protocol.KindLoad, script.sent[0].Kind)
	assert.Equal(t, "a.test", script.sent[0].URL)
	assert.Equal(t, []byte("scroll=40"), script.sent[0].Payload)

	require.Len(t, layout.sent, 1)
	assert.Equal(t, protocol.KindReflow, layout.sent[0].Kind)
	assert.Equal(t, viewport, layout.sent[0].Rect)
}

func TestPipeline_LoadTwiceFails(t *testing.T) {
	p := New(7, 1, 0, 1, "a.test")
	w, _, _ := testWorkers()
	require.NoError(t, p.Load(w, protocol.Rect{}))
	assert.ErrorIs(t, p.Load(w, protocol.Rect{}), ErrInvalidTransition)
}

func TestPipeline_ActivateTracksEpoch(t *testing.T) {
	p := New(7, 1, 0, 1, "a.test")
	w, _, _ := testWorkers()
	require.NoError(t, p.Load(w, protocol.Rect{}))
	require.NoError(t, p.Activate(3))
	assert.Equal(t, StateActive, p.LifecycleState())
	assert.Equal(t, uint64(3), p.Epoch)
	assert.False(t, p.ActivatedAt.IsZero())

	assert.ErrorIs(t, p.Activate(4), ErrInvalidTransition)
}

func TestPipeline_DiscardWhileLoadingStopsThenUnloads(t *testing.T) {
	p := New(7, 1, 0, 1, "a.test")
	w, script, layout := testWorkers()
	require.NoError(t, p.Load(w, protocol.Rect{}))

	assert.True(t, p.Discard())
	assert.Equal(t, []protocol.Kind{protocol.KindLoad, protocol.KindStop, protocol.KindUnload}, script.kinds())
	assert.True(t, script.closed)
	assert.True(t, layout.closed)

	assert.False(t, p.Discard(), "second discard is a no-op")
	assert.Len(t, script.kinds(), 3)
}

func TestPipeline_DiscardActiveOnlyUnloads(t *testing.T) {
	p := New(7, 1, 0, 1, "a.test")
	w, script, _ := testWorkers()
	require.NoError(t, p.Load(w, protocol.Rect{}))
	require.NoError(t, p.Activate(1))

	assert.True(t, p.Discard())
	assert.Equal(t, []protocol.Kind{protocol.KindLoad, protocol.KindUnload}, script.kinds())
}

func TestPipeline_DiscardPendingHasNothingToTearDown(t *testing.T) {
	p := New(7, 1, 0, 1, "a.test")
	assert.True(t, p.Discard())
	assert.Equal(t, StateDiscarded, p.LifecycleState())
}

func TestPipeline_SendAfterDiscardIsStale(t *testing.T) {
	p := New(7, 1, 0, 1, "a.test")
	w, _, _ := testWorkers()
	require.NoError(t, p.Load(w, protocol.Rect{}))
	p.Discard()

	err := p.Send(&protocol.Envelope{Kind: protocol.KindPing})
	assert.True(t, errors.IsCode(err, errors.ErrCodeStaleHandle))
	assert.True(t, errors.IsCode(p.Reflow(protocol.Rect{}), errors.ErrCodeStaleHandle))
}

func TestPipeline_SendStampsIdentity(t *testing.T) {
	p := New(7, 3, 1, 1, "child.test")
	w, script, _ := testWorkers()
	require.NoError(t, p.Load(w, protocol.Rect{}))

	require.NoError(t, p.Send(&protocol.Envelope{Kind: protocol.KindPostMessage, Peer: 9}))
	last := script.sent[len(script.sent)-1]
	assert.Equal(t, protocol.PipelineID(7), last.Pipeline)
	assert.Equal(t, protocol.BrowsingContextID(3), last.Context)
	assert.Equal(t, protocol.PipelineID(9), last.Peer)
}

func TestPlaceholder(t *testing.T) {
	p := NewPlaceholder(9, 1, 0, 1, "crash.test", errors.ErrCodeTransportBroken)
	assert.True(t, p.IsPlaceholder())
	assert.Equal(t, StateActive, p.LifecycleState())
	assert.Nil(t, p.Workers())
	assert.True(t, errors.IsCode(p.Send(&protocol.Envelope{Kind: protocol.KindPing}), errors.ErrCodeStaleHandle))

	info := p.Info()
	assert.Equal(t, KindPlaceholder, info.Kind)
	assert.Equal(t, errors.ErrCodeTransportBroken, info.Cause)
	assert.True(t, p.Discard())
}

func TestRelease(t *testing.T) {
	w, script, layout := testWorkers()
	Release(4, 2, w)
	assert.Equal(t, []protocol.Kind{protocol.KindUnload}, script.kinds())
	assert.True(t, layout.closed)

	Release(4, 2, nil)
}
