// Package traces wires OpenTelemetry spans around job enqueue and execution.
package traces

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName  = "github.com/mbd888/riskintake"
	serviceName = "riskintake"
)

// Config selects the collector and sampling.
type Config struct {
	Endpoint    string  // OTLP gRPC endpoint; empty disables export
	SampleRatio float64 // fraction of root spans kept, clamped to [0, 1]
	Environment string
	Version     string
}

// Init installs a global tracer provider exporting to cfg.Endpoint. With no
// endpoint it leaves the global no-op provider in place. The returned
// function flushes and stops the exporter.
func Init(ctx context.Context, cfg Config, logger *slog.Logger) (func(context.Context) error, error) {
	if cfg.Endpoint == "" {
		logger.Info("tracing disabled (no OTEL_EXPORTER_OTLP_ENDPOINT set)")
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	tp := NewProvider(sdktrace.WithBatcher(exporter), cfg)
	otel.SetTracerProvider(tp)

	logger.Info("tracing enabled", "endpoint", cfg.Endpoint, "sample_ratio", sampleRatio(cfg.SampleRatio))
	return tp.Shutdown, nil
}

// NewProvider builds a tracer provider around an arbitrary span processor.
func NewProvider(sp sdktrace.TracerProviderOption, cfg Config) *sdktrace.TracerProvider {
	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	res := resource.NewWithAttributes(semconv.SchemaURL,
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(version),
		semconv.DeploymentEnvironment(cfg.Environment),
	)
	return sdktrace.NewTracerProvider(
		sp,
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRatio(cfg.SampleRatio)))),
	)
}

func sampleRatio(r float64) float64 {
	switch {
	case r < 0:
		return 0
	case r > 1:
		return 1
	}
	return r
}

// StartSpan starts a span on the global provider.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// End records err on span, if any, and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func JobID(id string) attribute.KeyValue {
	return attribute.String("job.id", id)
}

func JobType(t string) attribute.KeyValue {
	return attribute.String("job.type", t)
}

func UserID(id string) attribute.KeyValue {
	return attribute.String("user.id", id)
}

// RowCounts describes what a finished job did.
func RowCounts(inserted, updated, skipped int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int("rows.inserted", inserted),
		attribute.Int("rows.updated", updated),
		attribute.Int("rows.skipped", skipped),
	}
}
