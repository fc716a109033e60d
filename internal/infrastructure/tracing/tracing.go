// Package tracing installs the OpenTelemetry tracer provider.
package tracing

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config selects the span exporter.
type Config struct {
	Exporter     string // none, stdout or otlp
	OTLPEndpoint string
	ServiceName  string
	Version      string
	Output       io.Writer // stdout exporter only; defaults to os.Stdout
}

// ShutdownFunc flushes and stops the provider.
type ShutdownFunc func(ctx context.Context) error

// Setup installs a global tracer provider. With the "none" exporter the
// global no-op provider is left in place.
func Setup(ctx context.Context, cfg Config) (ShutdownFunc, error) {
	exp, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if exp == nil {
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	return tp.Shutdown, nil
}

func newExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "", "none":
		return nil, nil
	case "stdout":
		out := cfg.Output
		if out == nil {
			out = os.Stdout
		}
		return stdouttrace.New(stdouttrace.WithWriter(out))
	case "otlp":
		if cfg.OTLPEndpoint == "" {
			return nil, fmt.Errorf("otlp exporter: endpoint not configured")
		}
		return otlptracegrpc.New(ctx, otlptracegrpc.WithEndpointURL(cfg.OTLPEndpoint))
	default:
		return nil, fmt.Errorf("unknown trace exporter: %q", cfg.Exporter)
	}
}
