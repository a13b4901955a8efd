// Package observability configures OpenTelemetry tracing for the engine and
// names the span attributes every component shares.
package observability

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/odvcencio/constellation/pkg/protocol"
)

const (
	tracerName = "github.com/odvcencio/constellation"
)

// Options configures NewTracerProvider.
type Options struct {
	ServiceName string
	Version     string
	// Writer receives exported spans. Defaults to stdout.
	Writer io.Writer
	// SampleRatio is the fraction of traces kept. Zero keeps everything.
	SampleRatio float64
}

// TracerProvider holds the OpenTelemetry tracer provider
type TracerProvider struct {
	provider *sdktrace.TracerProvider
}

// NewTracerProvider creates a tracer provider exporting to a writer and
// installs it globally.
func NewTracerProvider(opts Options) (*TracerProvider, error) {
	exporterOpts := []stdouttrace.Option{stdouttrace.WithPrettyPrint()}
	if opts.Writer != nil {
		exporterOpts = append(exporterOpts, stdouttrace.WithWriter(opts.Writer))
	}
	exporter, err := stdouttrace.New(exporterOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	if opts.ServiceName == "" {
		opts.ServiceName = "constellation"
	}
	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(opts.ServiceName),
			semconv.ServiceVersionKey.String(opts.Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	sampler := sdktrace.AlwaysSample()
	if opts.SampleRatio > 0 && opts.SampleRatio < 1 {
		sampler = sdktrace.TraceIDRatioBased(opts.SampleRatio)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(provider)

	return &TracerProvider{provider: provider}, nil
}

// Shutdown flushes pending spans and stops the provider.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	return tp.provider.Shutdown(ctx)
}

// Tracer returns the engine tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a new span with the given name
func StartSpan(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, spanName, opts...)
}

// Common attribute keys
var (
	AttrPipeline = attribute.Key("constellation.pipeline.id")
	AttrContext  = attribute.Key("constellation.context.id")
	AttrTopLevel = attribute.Key("constellation.top_level.id")
	AttrURL      = attribute.Key("constellation.url")
	AttrReplace  = attribute.Key("constellation.navigation.replace")
	AttrDelta    = attribute.Key("constellation.traversal.delta")
	AttrOutcome  = attribute.Key("constellation.outcome")
)

// PipelineAttrs returns the attributes identifying a pipeline in its context.
func PipelineAttrs(id protocol.PipelineID, ctx protocol.BrowsingContextID) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrPipeline.String(id.String()),
		AttrContext.String(ctx.String()),
	}
}
