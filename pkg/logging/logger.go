// Package logging provides the structured slog logger used across the engine,
// with helpers for the pipeline lifecycle events the orchestrator reports.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Format selects the slog handler.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Options configures New.
type Options struct {
	Level     slog.Level
	Format    Format
	Writer    io.Writer
	Component string
}

// Logger is a structured logger for engine components
type Logger struct {
	*slog.Logger
}

// New creates a logger writing to Options.Writer (stderr by default).
// The "error" key is normalised to "err".
func New(opts Options) *Logger {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	handlerOpts := &slog.HandlerOptions{
		Level: opts.Level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == "error" {
				a.Key = "err"
			}
			return a
		},
	}

	var handler slog.Handler
	if opts.Format == FormatText {
		handler = slog.NewTextHandler(w, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(w, handlerOpts)
	}

	logger := slog.New(handler).With(slog.String("system", "constellation"))
	if opts.Component != "" {
		logger = logger.With(slog.String("component", opts.Component))
	}
	return &Logger{Logger: logger}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// ParseLevel maps a config string to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Component returns a child logger tagged with a component name.
func (l *Logger) Component(name string) *Logger {
	return &Logger{Logger: l.Logger.With(slog.String("component", name))}
}

// WithContext returns a logger carrying the trace and span ids of ctx, if any.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return l
	}
	return &Logger{
		Logger: l.Logger.With(
			slog.String("trace_id", spanCtx.TraceID().String()),
			slog.String("span_id", spanCtx.SpanID().String()),
		),
	}
}

// WithPipeline returns a logger with pipeline-specific fields
func (l *Logger) WithPipeline(pipeline, context string) *Logger {
	return &Logger{
		Logger: l.Logger.With(
			slog.String("pipeline", pipeline),
			slog.String("context", context),
		),
	}
}

// PipelineSpawned logs that workers were requested for a pipeline.
func (l *Logger) PipelineSpawned(pipeline, context, url string) {
	l.Debug("pipeline spawned",
		slog.String("pipeline", pipeline),
		slog.String("context", context),
		slog.String("url", url),
	)
}

// PipelineActivated logs a Loading -> Active promotion.
func (l *Logger) PipelineActivated(pipeline, context string, epoch uint64, loadTime time.Duration) {
	l.Info("pipeline activated",
		slog.String("pipeline", pipeline),
		slog.String("context", context),
		slog.Uint64("epoch", epoch),
		slog.Duration("load_time", loadTime),
	)
}

// PipelineDiscarded logs a pipeline reaching its terminal state.
func (l *Logger) PipelineDiscarded(pipeline, context, reason string) {
	l.Debug("pipeline discarded",
		slog.String("pipeline", pipeline),
		slog.String("context", context),
		slog.String("reason", reason),
	)
}

// PipelineFaulted logs a contained pipeline failure.
func (l *Logger) PipelineFaulted(pipeline, context, cause string, err error) {
	attrs := []any{
		slog.String("pipeline", pipeline),
		slog.String("context", context),
		slog.String("cause", cause),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	l.Warn("pipeline faulted", attrs...)
}

// NavigationSuperseded logs a pending navigation being replaced by a newer one.
func (l *Logger) NavigationSuperseded(context, oldPipeline, newPipeline string) {
	l.Debug("navigation superseded",
		slog.String("context", context),
		slog.String("superseded", oldPipeline),
		slog.String("by", newPipeline),
	)
}

// TraversalCommitted logs a joint history step applied across contexts.
func (l *Logger) TraversalCommitted(topLevel string, delta, affected int) {
	l.Info("history traversal committed",
		slog.String("top_level", topLevel),
		slog.Int("delta", delta),
		slog.Int("affected_contexts", affected),
	)
}

// MessageDropped logs a worker message ignored because its sender is stale.
func (l *Logger) MessageDropped(pipeline, kind, reason string) {
	l.Debug("message dropped",
		slog.String("pipeline", pipeline),
		slog.String("kind", kind),
		slog.String("reason", reason),
	)
}
