// Package observability wires OpenTelemetry tracing for pipeline runs.
//
// Until InitTracing installs a provider, spans go to the global no-op
// provider, so engine code can start spans unconditionally.
package observability

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/ajitpratap0/voxelflow"

// TracingConfig contains tracing configuration
type TracingConfig struct {
	Enabled        bool    `mapstructure:"enabled" yaml:"enabled"`
	ServiceName    string  `mapstructure:"service_name" yaml:"service_name"`
	ServiceVersion string  `mapstructure:"service_version" yaml:"service_version"`
	SamplingRate   float64 `mapstructure:"sampling_rate" yaml:"sampling_rate"`
	// Output is "stdout", "stderr" or a file path.
	Output      string `mapstructure:"output" yaml:"output"`
	PrettyPrint bool   `mapstructure:"pretty_print" yaml:"pretty_print"`
}

// ShutdownFunc flushes and stops the installed provider.
type ShutdownFunc func(ctx context.Context) error

// InitTracing installs a tracer provider exporting to cfg.Output. When
// tracing is disabled it returns a no-op shutdown.
func InitTracing(cfg TracingConfig) (ShutdownFunc, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	w, closeOut, err := openOutput(cfg.Output)
	if err != nil {
		return nil, err
	}

	opts := []stdouttrace.Option{stdouttrace.WithWriter(w)}
	if cfg.PrettyPrint {
		opts = append(opts, stdouttrace.WithPrettyPrint())
	}
	exporter, err := stdouttrace.New(opts...)
	if err != nil {
		closeOut()
		return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case cfg.SamplingRate <= 0:
		sampler = sdktrace.NeverSample()
	case cfg.SamplingRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(cfg.SamplingRate)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
	)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		defer closeOut()
		return tp.Shutdown(ctx)
	}, nil
}

func openOutput(out string) (io.Writer, func(), error) {
	switch out {
	case "", "stdout":
		return os.Stdout, func() {}, nil
	case "stderr":
		return os.Stderr, func() {}, nil
	default:
		f, err := os.OpenFile(out, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open trace output: %w", err)
		}
		return f, func() { _ = f.Close() }, nil
	}
}

// Tracer returns the tracer used by the engine.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// StartPipelineSpan starts the span covering one pipeline phase.
func StartPipelineSpan(ctx context.Context, phase, pipeline, runID string, filters int) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "pipeline."+phase, trace.WithAttributes(
		attribute.String("pipeline.name", pipeline),
		attribute.String("pipeline.run_id", runID),
		attribute.Int("pipeline.filters", filters),
	))
}

// StartFilterSpan starts the span covering one filter phase.
func StartFilterSpan(ctx context.Context, phase, class string, index int) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "filter."+phase, trace.WithAttributes(
		attribute.String("filter.class", class),
		attribute.Int("filter.index", index),
	))
}

// EndFilterSpan records the filter outcome and ends span.
func EndFilterSpan(span trace.Span, code int, message string) {
	span.SetAttributes(attribute.Int("filter.error_code", code))
	if code < 0 {
		span.SetStatus(codes.Error, message)
	}
	span.End()
}
