// Package tracing wires OpenTelemetry spans around upstream exchange calls.
package tracing

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "tradingroad_backend"

// Config controls the tracer provider
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	// Writer receives exported spans; stdout when nil
	Writer io.Writer
}

var (
	mu             sync.RWMutex
	tracer         trace.Tracer
	tracerProvider *sdktrace.TracerProvider
	enabled        bool
)

// Init installs a stdout-exporting tracer provider when tracing is enabled
func Init(cfg Config) error {
	if !cfg.Enabled {
		return nil
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "tradingroad-backend"
	}
	if cfg.ServiceVersion == "" {
		cfg.ServiceVersion = "1.0.0"
	}
	w := cfg.Writer
	if w == nil {
		w = os.Stdout
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return err
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	mu.Lock()
	tracerProvider = provider
	tracer = provider.Tracer(instrumentationName)
	enabled = true
	mu.Unlock()
	return nil
}

// Shutdown flushes pending spans
func Shutdown(ctx context.Context) error {
	mu.Lock()
	provider := tracerProvider
	tracerProvider, tracer, enabled = nil, nil, false
	mu.Unlock()

	if provider != nil {
		return provider.Shutdown(ctx)
	}
	return nil
}

// StartSpan starts a span, or returns the context's current (possibly no-op) span when disabled
func StartSpan(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	mu.RLock()
	t, on := tracer, enabled
	mu.RUnlock()

	if !on || t == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.Start(ctx, spanName, opts...)
}

// Enabled reports whether a tracer provider is installed
func Enabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return enabled
}

// LogFields returns trace and span ids for log correlation
func LogFields(ctx context.Context) logrus.Fields {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return logrus.Fields{}
	}
	return logrus.Fields{
		"trace_id": sc.TraceID().String(),
		"span_id":  sc.SpanID().String(),
	}
}
