package pipeline_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/odvcencio/constellation/pkg/bus"
	"github.com/odvcencio/constellation/pkg/errors"
	"github.com/odvcencio/constellation/pkg/pipeline"
	"github.com/odvcencio/constellation/pkg/pipeline/mocks"
	"github.com/odvcencio/constellation/pkg/protocol"
	"github.com/odvcencio/constellation/pkg/transport"
)

func encode(t *testing.T, env *protocol.Envelope) []byte {
	t.Helper()
	data, err := protocol.Marshal(env)
	require.NoError(t, err)
	return data
}

func TestBusSpawner_Spawn(t *testing.T) {
	b := bus.NewMemoryBus()
	defer b.Close()
	ctx := context.Background()

	var mu sync.Mutex
	var loaded []string
	var spawnReq *protocol.Envelope

	_, err := b.QueueSubscribe(ctx, bus.SubjectSpawn, bus.SpawnQueue, func(msg *bus.Message) []byte {
		env, err := protocol.Unmarshal(msg.Data)
		require.NoError(t, err)
		mu.Lock()
		spawnReq = env
		mu.Unlock()

		_, err = transport.Serve(ctx, b, bus.ScriptSubject(env.Pipeline), func(in *protocol.Envelope) error {
			mu.Lock()
			loaded = append(loaded, in.URL)
			mu.Unlock()
			return nil
		})
		require.NoError(t, err)
		_, err = transport.Serve(ctx, b, bus.LayoutSubject(env.Pipeline), func(*protocol.Envelope) error { return nil })
		require.NoError(t, err)
		return encode(t, protocol.Ack(env.RequestID))
	})
	require.NoError(t, err)

	sp := pipeline.NewBusSpawner(b, pipeline.SpawnerOptions{Timeout: time.Second})
	w, err := sp.Spawn(ctx, pipeline.SpawnRequest{
		Pipeline: 5,
		Context:  1,
		URL:      "a.test",
		Viewport: protocol.Rect{Width: 640, Height: 480},
	})
	require.NoError(t, err)
	defer w.Close()

	mu.Lock()
	assert.Equal(t, protocol.KindSpawn, spawnReq.Kind)
	assert.NotEmpty(t, spawnReq.RequestID)
	assert.Equal(t, protocol.PipelineID(5), spawnReq.Pipeline)
	assert.Equal(t, 640, spawnReq.Rect.Width)
	mu.Unlock()

	p := pipeline.New(5, 1, 0, 1, "a.test")
	require.NoError(t, p.Load(w, protocol.Rect{Width: 640, Height: 480}))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(loaded) == 1 && loaded[0] == "a.test"
	}, time.Second, 5*time.Millisecond)
}

func TestBusSpawner_NoHost(t *testing.T) {
	b := bus.NewMemoryBus()
	defer b.Close()

	sp := pipeline.NewBusSpawner(b, pipeline.SpawnerOptions{Timeout: 100 * time.Millisecond})
	_, err := sp.Spawn(context.Background(), pipeline.SpawnRequest{Pipeline: 1, Context: 1, URL: "a.test"})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeTransportBroken))
}

func TestBusSpawner_ResourceExhausted(t *testing.T) {
	b := bus.NewMemoryBus()
	defer b.Close()
	ctx := context.Background()

	_, err := b.QueueSubscribe(ctx, bus.SubjectSpawn, bus.SpawnQueue, func(msg *bus.Message) []byte {
		env, _ := protocol.Unmarshal(msg.Data)
		return encode(t, protocol.Nack(env.RequestID, protocol.NackResourceExhausted))
	})
	require.NoError(t, err)

	sp := pipeline.NewBusSpawner(b, pipeline.SpawnerOptions{Timeout: time.Second})
	_, err = sp.Spawn(ctx, pipeline.SpawnRequest{Pipeline: 1, Context: 1, URL: "a.test"})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeResourceExhausted))
	assert.ErrorIs(t, err, errors.ErrResourceExhausted)
}

func TestBusSpawner_OtherNackIsBroken(t *testing.T) {
	b := bus.NewMemoryBus()
	defer b.Close()
	ctx := context.Background()

	_, err := b.QueueSubscribe(ctx, bus.SubjectSpawn, bus.SpawnQueue, func(msg *bus.Message) []byte {
		env, _ := protocol.Unmarshal(msg.Data)
		return encode(t, protocol.Nack(env.RequestID, "unsupported scheme"))
	})
	require.NoError(t, err)

	sp := pipeline.NewBusSpawner(b, pipeline.SpawnerOptions{Timeout: time.Second})
	_, err = sp.Spawn(ctx, pipeline.SpawnRequest{Pipeline: 1, Context: 1, URL: "ftp://a.test"})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeTransportBroken))
	assert.Contains(t, err.Error(), "unsupported scheme")
}

func TestMockSpawner(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	sp := mocks.NewMockSpawner(ctrl)
	sp.EXPECT().
		Spawn(gomock.Any(), gomock.Any()).
		Return(nil, errors.New(errors.ErrCodeResourceExhausted, "full"))

	var s pipeline.Spawner = sp
	_, err := s.Spawn(context.Background(), pipeline.SpawnRequest{Pipeline: 1})
	assert.True(t, errors.IsCode(err, errors.ErrCodeResourceExhausted))
}
