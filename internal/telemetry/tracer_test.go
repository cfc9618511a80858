package telemetry

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracerIsNoopByDefault(t *testing.T) {
	_, span := StartSpan(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsValid())
	End(span, errors.New("ignored"))
}

func TestRenewalAndStageSpans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	prev := tracer
	tracer = sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)).Tracer(serviceName)
	defer func() { tracer = prev }()

	ctx, run := TraceRenewal(context.Background(), "r-1", "site")
	_, stage := TraceStage(ctx, "validation", "http-01-self")
	End(stage, errors.New("challenge failed"))
	End(run, nil)

	spans := rec.Ended()
	require.Len(t, spans, 2)

	assert.Equal(t, "renewal.validation", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Contains(t, spans[0].Attributes(), attribute.String("plugin", "http-01-self"))
	assert.Equal(t, spans[1].SpanContext().SpanID(), spans[0].Parent().SpanID())

	assert.Equal(t, "renewal.run", spans[1].Name())
	assert.Equal(t, codes.Unset, spans[1].Status().Code)
	assert.Contains(t, spans[1].Attributes(), attribute.String("renewal.id", "r-1"))
}
