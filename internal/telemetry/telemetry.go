// Package telemetry wires OpenTelemetry span export for capture operations.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/zjrosen/timeline/internal/config"
	"github.com/zjrosen/timeline/internal/log"
)

// ServiceName is reported as service.name on every exported span.
const ServiceName = "timeline"

// Provider owns the tracer provider for the process.
type Provider struct {
	tp       trace.TracerProvider
	shutdown func(context.Context) error
}

// Tracer returns a named tracer from the provider.
func (p *Provider) Tracer(name string) trace.Tracer {
	return p.tp.Tracer(name)
}

// Shutdown flushes pending spans and stops the exporter.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.shutdown == nil {
		return nil
	}
	return p.shutdown(ctx)
}

// Option configures Setup.
type Option func(*options)

type options struct {
	writer io.Writer
}

// WithWriter sets where the stdout exporter writes. Defaults to os.Stderr
// so span output does not mix with command output.
func WithWriter(w io.Writer) Option {
	return func(o *options) {
		o.writer = w
	}
}

// Setup builds a provider for cfg and installs it as the global tracer
// provider. The "none" exporter installs a no-op provider.
func Setup(ctx context.Context, cfg config.TelemetryConfig, opts ...Option) (*Provider, error) {
	o := options{writer: os.Stderr}
	for _, opt := range opts {
		opt(&o)
	}

	var exporter sdktrace.SpanExporter
	switch cfg.Exporter {
	case "", config.ExporterNone:
		tp := noop.NewTracerProvider()
		otel.SetTracerProvider(tp)
		return &Provider{tp: tp}, nil

	case config.ExporterStdout:
		exp, err := stdouttrace.New(stdouttrace.WithWriter(o.writer))
		if err != nil {
			return nil, fmt.Errorf("creating stdout exporter: %w", err)
		}
		exporter = exp

	case config.ExporterOTLP:
		exp, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("creating otlp exporter: %w", err)
		}
		exporter = exp

	default:
		return nil, fmt.Errorf("unknown telemetry exporter %q", cfg.Exporter)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", ServiceName),
		)),
	)
	otel.SetTracerProvider(tp)
	log.Info(log.CatConfig, "telemetry enabled", "exporter", cfg.Exporter, "endpoint", cfg.Endpoint)

	return &Provider{tp: tp, shutdown: tp.Shutdown}, nil
}
