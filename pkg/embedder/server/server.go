// Package server exposes the embedder surface over HTTP: commands as JSON
// endpoints and the event stream as a websocket.
package server

import (
	"context"
	stdliberrors "errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/odvcencio/constellation/pkg/embedder"
	"github.com/odvcencio/constellation/pkg/errors"
	"github.com/odvcencio/constellation/pkg/logging"
	"github.com/odvcencio/constellation/pkg/protocol"
)

const (
	defaultListen            = "127.0.0.1:4480"
	defaultReadHeaderTimeout = 5 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
	defaultBodyMaxSize       = 1 << 20
)

// EventSource is where the event stream subscribes. embedder.Hub implements
// it.
type EventSource interface {
	Subscribe() (<-chan embedder.Event, func())
}

// PointerHandler routes window-relative pointer events. The compositor
// implements it.
type PointerHandler interface {
	HandlePointer(ctx context.Context, window protocol.BrowsingContextID, ev protocol.InputEvent) error
}

// Options configures a Server.
type Options struct {
	Controller embedder.Controller
	Events     EventSource
	// Pointer is optional; without it the input endpoint answers 501.
	Pointer PointerHandler
	Logger  *logging.Logger

	Listen             string
	ReadHeaderTimeout  time.Duration
	ShutdownTimeout    time.Duration
	RequestBodyMaxSize int64
	// AllowedOrigins are host patterns accepted for cross-origin requests
	// and websocket upgrades.
	AllowedOrigins []string
}

// Server is the embedder HTTP surface.
type Server struct {
	opts   Options
	log    *logging.Logger
	router chi.Router
}

// New builds the router. Call Run to listen.
func New(opts Options) (*Server, error) {
	if opts.Controller == nil {
		return nil, errors.New(errors.ErrCodeInvalidInput, "server requires a controller")
	}
	if opts.Events == nil {
		return nil, errors.New(errors.ErrCodeInvalidInput, "server requires an event source")
	}
	if opts.Listen == "" {
		opts.Listen = defaultListen
	}
	if opts.ReadHeaderTimeout <= 0 {
		opts.ReadHeaderTimeout = defaultReadHeaderTimeout
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = defaultShutdownTimeout
	}
	if opts.RequestBodyMaxSize <= 0 {
		opts.RequestBodyMaxSize = defaultBodyMaxSize
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	s := &Server{opts: opts, log: opts.Logger.Component("server")}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(securityHeadersMiddleware)
	r.Use(s.accessLogMiddleware)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/tree", s.handleTree)
		r.Get("/pipelines", s.handlePipelines)
		r.Get("/events", s.handleEvents)

		r.Route("/windows", func(r chi.Router) {
			r.Post("/", s.handleCreateWindow)
			r.Route("/{window}", func(r chi.Router) {
				r.Post("/traverse", s.handleTraverse)
				r.Put("/size", s.handleResize)
				r.Get("/history", s.handleHistory)
				r.Post("/input", s.handleInput)
			})
		})

		r.Route("/contexts/{context}", func(r chi.Router) {
			r.Post("/navigate", s.handleNavigate)
			r.Post("/reload", s.handleReload)
			r.Post("/children", s.handleAttachChild)
			r.Delete("/", s.handleDetach)
		})
	})
	return r
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Listen)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "listen").WithContext("addr", s.opts.Listen)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: s.opts.ReadHeaderTimeout,
		IdleTimeout:       2 * time.Minute,
		MaxHeaderBytes:    1 << 20,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	serverErr := make(chan error, 1)
	go func() {
		s.log.Info("serving embedder API", "addr", ln.Addr().String())
		if err := httpServer.Serve(ln); err != nil && !stdliberrors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-serverErr:
		return errors.Wrap(err, errors.ErrCodeInternal, "serve")
	}
}
