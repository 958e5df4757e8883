// Package observability provides OpenTelemetry tracing for lokitail.
//
// Tracing is off until InitTracing installs a tracer provider; until then
// spans go to the global no-op provider and cost almost nothing.
package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName names the tracer used by all lokitail components
const InstrumentationName = "github.com/ajitpratap0/lokitail"

// TracingConfig contains tracing configuration
type TracingConfig struct {
	ServiceName    string
	ServiceVersion string
	SamplingRate   float64
	BatchTimeout   time.Duration
	// Writer receives exported spans; defaults to stderr so stdout stays clean for the jsonl sink
	Writer io.Writer
	// Exporter overrides the stdout exporter, mainly for tests
	Exporter sdktrace.SpanExporter
}

// ShutdownFunc flushes and stops the tracer provider
type ShutdownFunc func(ctx context.Context) error

// InitTracing installs a global tracer provider exporting spans as JSON.
func InitTracing(config TracingConfig) (ShutdownFunc, error) {
	if config.ServiceName == "" {
		config.ServiceName = "lokitail"
	}
	if config.BatchTimeout <= 0 {
		config.BatchTimeout = 5 * time.Second
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(config.ServiceName),
			semconv.ServiceVersionKey.String(config.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter := config.Exporter
	if exporter == nil {
		w := config.Writer
		if w == nil {
			w = os.Stderr
		}
		exporter, err = stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
	}

	var sampler sdktrace.Sampler
	switch {
	case config.SamplingRate <= 0:
		sampler = sdktrace.NeverSample()
	case config.SamplingRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(config.SamplingRate)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(config.BatchTimeout)),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// Tracer returns the lokitail tracer from the current global provider
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}

// Flush exports spans still queued in the installed tracer provider without
// stopping it. It is a no-op when InitTracing has not run.
func Flush(ctx context.Context) error {
	if tp, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider); ok {
		return tp.ForceFlush(ctx)
	}
	return nil
}

// ConnectorTracer provides connector-specific tracing utilities
type ConnectorTracer struct {
	connectorType string
	connectorName string
}

// NewConnectorTracer creates a new connector tracer
func NewConnectorTracer(connectorType, connectorName string) *ConnectorTracer {
	return &ConnectorTracer{
		connectorType: connectorType,
		connectorName: connectorName,
	}
}

// StartSpan starts a span named "<type>.<operation>" carrying connector attributes
func (ct *ConnectorTracer) StartSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs,
		attribute.String("connector.type", ct.connectorType),
		attribute.String("connector.name", ct.connectorName),
	)
	return Tracer().Start(ctx, ct.connectorType+"."+operation, trace.WithAttributes(attrs...))
}

// TraceBatch runs fn inside a span describing a batch of batchSize records
func (ct *ConnectorTracer) TraceBatch(ctx context.Context, batchSize int, operation string, fn func(ctx context.Context) error) error {
	ctx, span := ct.StartSpan(ctx, operation, attribute.Int("batch.size", batchSize))
	defer span.End()

	err := fn(ctx)
	SetSpanStatus(span, err)
	return err
}

// SetSpanStatus records err on the span, or marks it Ok when err is nil
func SetSpanStatus(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}
