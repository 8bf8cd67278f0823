// Package telemetry wires tracing and error reporting. Both are opt-in and
// stay no-ops while their endpoint is not configured.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"featuregate/internal/config"

	"github.com/getsentry/sentry-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const serviceName = "featuregate"

// Setup starts the tracer provider and the Sentry client. The returned
// shutdown flushes both and must be called on exit.
func Setup(ctx context.Context, cfg config.TelemetryConfig, environment string) (func(context.Context) error, error) {
	shutdownTracing, err := setupTracing(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}
	if err := setupSentry(cfg, environment); err != nil {
		_ = shutdownTracing(ctx)
		return nil, fmt.Errorf("sentry: %w", err)
	}

	return func(ctx context.Context) error {
		if cfg.SentryDSN != "" {
			sentry.Flush(2 * time.Second)
		}
		return shutdownTracing(ctx)
	}, nil
}

func setupTracing(ctx context.Context, cfg config.TelemetryConfig) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	if cfg.OTLPEndpoint == "" {
		return noop, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(cfg.OTLPEndpoint))
	if err != nil {
		return noop, err
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return noop, err
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRate > 0 && cfg.SampleRate < 1 {
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	return tp.Shutdown, nil
}

func setupSentry(cfg config.TelemetryConfig, environment string) error {
	if cfg.SentryDSN == "" {
		return nil
	}
	return sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.SentryDSN,
		Environment:      environment,
		ServerName:       serviceName,
		AttachStacktrace: true,
		SampleRate:       1.0,
	})
}
