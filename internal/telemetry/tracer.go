// Package telemetry provides OpenTelemetry tracing initialization.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// ServiceName is the resource service name reported with every span.
const ServiceName = "cspwatch"

// Config selects the trace exporter.
type Config struct {
	// Endpoint is the OTLP gRPC collector address. Empty disables tracing.
	Endpoint string
	Version  string
	// SampleRatio is the fraction of audits traced; values outside (0,1]
	// trace everything.
	SampleRatio float64
	Secure      bool
}

// Shutdown flushes and stops the exporter.
type Shutdown func(context.Context) error

// InitTracer sets up an OTLP trace exporter. If the endpoint is empty, returns
// a noop tracer and a no-op shutdown function.
func InitTracer(ctx context.Context, cfg Config) (trace.Tracer, Shutdown, error) {
	if cfg.Endpoint == "" {
		t := noop.NewTracerProvider().Tracer(ServiceName)
		return t, func(context.Context) error { return nil }, nil
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if !cfg.Secure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("creating OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(ServiceName),
			semconv.ServiceVersion(cfg.Version),
		),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("creating resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
	)
	otel.SetTracerProvider(tp)

	return tp.Tracer(ServiceName), tp.Shutdown, nil
}

func sampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.AlwaysSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}
