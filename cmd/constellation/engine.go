package main

import (
	"context"
	stdliberrors "errors"
	"io"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/odvcencio/constellation/pkg/bus"
	"github.com/odvcencio/constellation/pkg/compositor"
	"github.com/odvcencio/constellation/pkg/config"
	"github.com/odvcencio/constellation/pkg/constellation"
	"github.com/odvcencio/constellation/pkg/content"
	"github.com/odvcencio/constellation/pkg/embedder"
	"github.com/odvcencio/constellation/pkg/embedder/journal"
	"github.com/odvcencio/constellation/pkg/errors"
	"github.com/odvcencio/constellation/pkg/logging"
	"github.com/odvcencio/constellation/pkg/observability"
)

// engine is one orchestrator process: the bus, optionally an embedded content
// host, the constellation and the compositor presenting to backend.
type engine struct {
	cfg *config.Config
	log *logging.Logger

	bus           bus.MessageBus
	host          *content.Host
	hub           *embedder.Hub
	constellation *constellation.Constellation
	compositor    *compositor.Compositor
	journal       *journal.Journal
	tracing       *observability.TracerProvider
}

func newBus(cfg config.TransportConfig) (bus.MessageBus, error) {
	switch cfg.Mode {
	case "nats":
		return bus.NewNATSBus(bus.Config{
			URL:     cfg.NATS.URL,
			Name:    cfg.NATS.Name,
			Timeout: cfg.NATS.RequestTimeout,
		})
	default:
		return bus.NewMemoryBus(), nil
	}
}

func newTracing(cfg config.TracingConfig, out io.Writer) (*observability.TracerProvider, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	return observability.NewTracerProvider(observability.Options{
		ServiceName: cfg.ServiceName,
		Version:     version,
		Writer:      out,
		SampleRatio: cfg.SampleRatio,
	})
}

// newEngine wires an engine. Nothing runs until start.
func newEngine(ctx context.Context, cfg *config.Config, log *logging.Logger, backend compositor.Backend) (_ *engine, err error) {
	e := &engine{cfg: cfg, log: log, hub: embedder.NewHubWithBuffer(cfg.Server.EventBufferSize)}
	defer func() {
		if err != nil {
			e.close()
		}
	}()

	if e.tracing, err = newTracing(cfg.Tracing, os.Stderr); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "start tracing")
	}
	if e.bus, err = newBus(cfg.Transport); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeTransportBroken, "connect message bus").
			WithContext("mode", cfg.Transport.Mode)
	}

	if cfg.Content.Embedded {
		e.host = content.NewHost(e.bus, content.Options{
			MaxWorkers: cfg.Content.MaxWorkers,
			SlowDelay:  cfg.Content.SlowDelay,
			Logger:     log,
		})
		if err = e.host.Start(ctx); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeTransportBroken, "start content host")
		}
	}

	cc := cfg.Constellation
	e.constellation, err = constellation.New(constellation.Options{
		Bus:               e.bus,
		Events:            e.hub,
		Logger:            log,
		MaxPipelines:      cc.MaxPipelines,
		LoadTimeout:       cc.LoadTimeout,
		HeartbeatInterval: cc.HeartbeatInterval,
		SpawnTimeout:      cc.SpawnTimeout,
		AckTimeout:        cc.AckTimeout,
		HistoryMaxEntries: cc.HistoryMaxEntries,
		Viewport:          cc.Viewport,
	})
	if err != nil {
		return nil, err
	}

	e.compositor, err = compositor.New(compositor.Options{
		Bus:       e.bus,
		Tree:      e.constellation,
		Backend:   backend,
		Input:     e.constellation,
		Events:    e.hub,
		Logger:    log,
		FrameRate: cfg.Compositor.FrameRate,
		Tick:      cfg.Compositor.Tick,
		Retention: cfg.Compositor.Retention,
	})
	if err != nil {
		return nil, err
	}

	if cfg.Journal.Enabled {
		if e.journal, err = journal.Open(cfg.JournalPath(), log); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// start runs the engine's loops on g. They stop when ctx is cancelled.
func (e *engine) start(ctx context.Context, g *errgroup.Group) {
	g.Go(func() error {
		return ignoreCanceled(e.constellation.Run(ctx))
	})
	g.Go(func() error {
		return e.compositor.Run(ctx)
	})
	if e.journal != nil {
		g.Go(func() error {
			return e.journal.Run(ctx, e.hub)
		})
	}
}

// close releases everything newEngine acquired. The loops must have
// returned.
func (e *engine) close() {
	if e.constellation != nil {
		_ = e.constellation.Close()
	}
	if e.host != nil {
		_ = e.host.Close()
	}
	if e.journal != nil {
		_ = e.journal.Close()
	}
	if e.bus != nil {
		_ = e.bus.Close()
	}
	e.hub.Close()
	if e.tracing != nil {
		_ = e.tracing.Shutdown(context.Background())
	}
}

func ignoreCanceled(err error) error {
	if stdliberrors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
