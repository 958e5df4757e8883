package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"
)

func withRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	prev := otel.GetTracerProvider()
	sr := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return sr
}

func attrValue(attrs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, kv := range attrs {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestTraceBatchSuccess(t *testing.T) {
	sr := withRecorder(t)
	ct := NewConnectorTracer("loki", "prod")

	called := false
	err := ct.TraceBatch(context.Background(), 3, "emit", func(ctx context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "loki.emit", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)

	size, ok := attrValue(spans[0].Attributes(), "batch.size")
	require.True(t, ok)
	assert.Equal(t, int64(3), size.AsInt64())
	name, ok := attrValue(spans[0].Attributes(), "connector.name")
	require.True(t, ok)
	assert.Equal(t, "prod", name.AsString())
}

func TestTraceBatchError(t *testing.T) {
	sr := withRecorder(t)
	ct := NewConnectorTracer("loki", "prod")

	boom := errors.New("insert rejected")
	err := ct.TraceBatch(context.Background(), 1, "emit", func(ctx context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "insert rejected", spans[0].Status().Description)
	require.Len(t, spans[0].Events(), 1)
}

func TestInitTracingExports(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	exp := tracetest.NewInMemoryExporter()
	shutdown, err := InitTracing(TracingConfig{
		ServiceName:  "lokitail-test",
		SamplingRate: 1.0,
		Exporter:     exp,
	})
	require.NoError(t, err)

	_, span := Tracer().Start(context.Background(), "emit")
	span.End()

	// the in-memory exporter forgets its spans on shutdown
	require.NoError(t, Flush(context.Background()))
	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "emit", spans[0].Name)
	require.NoError(t, shutdown(context.Background()))
}

func TestFlushWithoutProvider(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	otel.SetTracerProvider(noop.NewTracerProvider())
	assert.NoError(t, Flush(context.Background()))
}

func TestInitTracingNeverSample(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	exp := tracetest.NewInMemoryExporter()
	shutdown, err := InitTracing(TracingConfig{SamplingRate: 0, Exporter: exp})
	require.NoError(t, err)

	_, span := Tracer().Start(context.Background(), "dropped")
	span.End()

	require.NoError(t, Flush(context.Background()))
	assert.Empty(t, exp.GetSpans())
	require.NoError(t, shutdown(context.Background()))
}
