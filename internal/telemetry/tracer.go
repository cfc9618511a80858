// Package telemetry sets up OpenTelemetry tracing. Tracing is a noop unless an
// OTLP endpoint or debug output is configured.
package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const serviceName = "certagent"

var (
	tracer         trace.Tracer
	tracerProvider *sdktrace.TracerProvider
	initOnce       sync.Once
)

// Config holds telemetry configuration
type Config struct {
	ServiceVersion string
	// OTLPEndpoint is the OTLP gRPC collector endpoint (e.g., localhost:4317)
	OTLPEndpoint string
	// Debug prints spans to stdout
	Debug bool
}

// Init initializes the tracer once
func Init(cfg Config) error {
	var err error
	initOnce.Do(func() {
		err = initTracer(cfg)
	})
	return err
}

func initTracer(cfg Config) error {
	if cfg.OTLPEndpoint == "" && !cfg.Debug {
		tracer = noop.NewTracerProvider().Tracer(serviceName)
		return nil
	}
	if cfg.ServiceVersion == "" {
		cfg.ServiceVersion = "dev"
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return err
	}

	var exporter sdktrace.SpanExporter
	if cfg.Debug {
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		exporter, err = otlptrace.New(ctx, otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		))
	}
	if err != nil {
		return err
	}

	tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tracerProvider)
	tracer = tracerProvider.Tracer(serviceName)
	return nil
}

// Shutdown flushes pending spans
func Shutdown(ctx context.Context) error {
	if tracerProvider != nil {
		return tracerProvider.Shutdown(ctx)
	}
	return nil
}

// Tracer returns the configured tracer or a noop one
func Tracer() trace.Tracer {
	if tracer == nil {
		return noop.NewTracerProvider().Tracer(serviceName)
	}
	return tracer
}

// StartSpan starts a new span with the given name
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// TraceRenewal starts the span of one renewal run
func TraceRenewal(ctx context.Context, id, name string) (context.Context, trace.Span) {
	return StartSpan(ctx, "renewal.run",
		trace.WithAttributes(
			attribute.String("renewal.id", id),
			attribute.String("renewal.name", name),
		),
	)
}

// TraceStage starts a span for one pipeline stage
func TraceStage(ctx context.Context, stage, plugin string) (context.Context, trace.Span) {
	return StartSpan(ctx, "renewal."+stage,
		trace.WithAttributes(
			attribute.String("stage", stage),
			attribute.String("plugin", plugin),
		),
	)
}

// End records err, if any, and ends the span
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
