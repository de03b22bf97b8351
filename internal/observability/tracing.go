// Package observability wires OpenTelemetry tracing. Failures disable
// tracing instead of failing startup.
package observability

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config selects the OTLP destination.
type Config struct {
	// Endpoint is the OTLP HTTP collector host:port. Empty disables tracing.
	Endpoint string
	// ServiceName names this service in exported spans.
	ServiceName string
	// Environment tags spans with a deployment environment.
	Environment string
}

// Setup installs a global tracer provider exporting to the configured OTLP
// collector. It returns a shutdown func flushing pending spans; when tracing
// is disabled or the exporter cannot be created, the returned func is a
// no-op.
func Setup(ctx context.Context, cfg Config, logger *slog.Logger) func() {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Endpoint == "" {
		return func() {}
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.Endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		logger.Warn("creating trace exporter, tracing disabled", "error", err)
		return func() {}
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.DeploymentEnvironment(cfg.Environment),
	))
	if err != nil {
		logger.Warn("building trace resource, tracing disabled", "error", err)
		return func() {}
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	logger.Debug("tracing enabled",
		"endpoint", cfg.Endpoint, "service", cfg.ServiceName, "environment", cfg.Environment)

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutting down tracer provider", "error", err)
		}
	}
}
