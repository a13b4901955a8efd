package pipeline

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/google/uuid"

	"github.com/odvcencio/constellation/pkg/bus"
	"github.com/odvcencio/constellation/pkg/errors"
	"github.com/odvcencio/constellation/pkg/protocol"
	"github.com/odvcencio/constellation/pkg/transport"
)

//go:generate mockgen -package=mocks -destination=mocks/mock_spawner.go github.com/odvcencio/constellation/pkg/pipeline Spawner

// SpawnRequest asks a content host for the workers of a new pipeline.
type SpawnRequest struct {
	Pipeline protocol.PipelineID
	Context  protocol.BrowsingContextID
	Parent   protocol.BrowsingContextID
	URL      string
	Viewport protocol.Rect
	State    []byte

	// OnBroken is invoked once if either worker becomes unreachable.
	OnBroken func(err error)
}

// Spawner starts the script and layout workers of a pipeline. Spawn may
// block; the constellation always calls it off its event loop.
type Spawner interface {
	Spawn(ctx context.Context, req SpawnRequest) (*Workers, error)
}

// SpawnerOptions configures a BusSpawner.
type SpawnerOptions struct {
	// Timeout bounds the spawn handshake.
	Timeout time.Duration
	// AckTimeout is handed to the endpoints of spawned workers.
	AckTimeout time.Duration
}

// BusSpawner requests workers from whichever content host answers on
// bus.SubjectSpawn and connects endpoints to the subjects they serve.
type BusSpawner struct {
	bus  bus.MessageBus
	opts SpawnerOptions
}

// NewBusSpawner creates a spawner over b.
func NewBusSpawner(b bus.MessageBus, opts SpawnerOptions) *BusSpawner {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = transport.DefaultAckTimeout
	}
	return &BusSpawner{bus: b, opts: opts}
}

// Spawn performs the handshake. A host refusing with
// protocol.NackResourceExhausted yields a RESOURCE_EXHAUSTED error; no host
// or no answer yields TRANSPORT_BROKEN.
func (s *BusSpawner) Spawn(ctx context.Context, req SpawnRequest) (*Workers, error) {
	start := time.Now()
	env := &protocol.Envelope{
		Kind:      protocol.KindSpawn,
		RequestID: uuid.NewString(),
		Pipeline:  req.Pipeline,
		Context:   req.Context,
		Parent:    req.Parent,
		URL:       req.URL,
		Rect:      req.Viewport,
		Payload:   req.State,
	}
	data, err := protocol.Marshal(env)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "encode spawn request")
	}

	reply, err := s.bus.Request(ctx, bus.SubjectSpawn, data, s.opts.Timeout)
	if err != nil {
		recordSpawn("error")
		switch {
		case stderrors.Is(err, bus.ErrNoResponders):
			return nil, errors.Wrap(err, errors.ErrCodeTransportBroken, "no content host available").
				WithContext("pipeline", req.Pipeline.String())
		case stderrors.Is(err, bus.ErrTimeout):
			return nil, errors.Wrap(err, errors.ErrCodeTransportBroken, "spawn handshake timed out").
				WithContext("pipeline", req.Pipeline.String())
		default:
			return nil, errors.Wrap(err, errors.ErrCodeTransportBroken, "spawn request failed").
				WithContext("pipeline", req.Pipeline.String())
		}
	}

	ack, err := protocol.Unmarshal(reply)
	if err != nil {
		recordSpawn("error")
		return nil, errors.Wrap(err, errors.ErrCodeTransportBroken, "decode spawn reply")
	}
	if ack.Kind == protocol.KindNack {
		if ack.Reason == protocol.NackResourceExhausted {
			recordSpawn("exhausted")
			return nil, errors.New(errors.ErrCodeResourceExhausted, "content host cannot start more workers").
				WithContext("pipeline", req.Pipeline.String())
		}
		recordSpawn("error")
		return nil, errors.New(errors.ErrCodeTransportBroken, "spawn refused: "+ack.Reason).
			WithContext("pipeline", req.Pipeline.String())
	}

	endpointOpts := transport.Options{AckTimeout: s.opts.AckTimeout, OnBroken: req.OnBroken}
	workers := &Workers{
		Script: transport.NewBusEndpoint(s.bus, bus.ScriptSubject(req.Pipeline), endpointOpts),
		Layout: transport.NewBusEndpoint(s.bus, bus.LayoutSubject(req.Pipeline), endpointOpts),
	}
	recordSpawn("ok")
	observeSpawn(time.Since(start))
	return workers, nil
}

// Release tells workers that were spawned for a pipeline nobody wants any
// more to unload, then closes their endpoints.
func Release(id protocol.PipelineID, ctx protocol.BrowsingContextID, w *Workers) {
	if w == nil {
		return
	}
	if w.Script != nil {
		_ = w.Script.Send(&protocol.Envelope{Kind: protocol.KindUnload, Pipeline: id, Context: ctx})
	}
	w.Close()
}
