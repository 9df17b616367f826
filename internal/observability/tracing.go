package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/oshokin/geofencer/internal/logger"
)

const (
	// ExporterStdout prints spans to stdout.
	ExporterStdout = "stdout"
	// ExporterOTLP ships spans to an OTLP/gRPC collector.
	ExporterOTLP = "otlp"

	// defaultOTLPEndpoint is used when no endpoint is configured.
	defaultOTLPEndpoint = "localhost:4317"
	// shutdownTimeout bounds flushing spans on exit.
	shutdownTimeout = 5 * time.Second
)

// errUnsupportedExporter is returned for unknown exporter names.
var errUnsupportedExporter = errors.New("unsupported tracing exporter")

// ShutdownFunc flushes and stops the tracer provider.
type ShutdownFunc func(context.Context) error

// TracingConfig governs how tracing is initialised.
type TracingConfig struct {
	// Enabled turns tracing on; otherwise a noop provider is installed.
	Enabled bool
	// ServiceName is reported as service.name.
	ServiceName string
	// Exporter is ExporterStdout or ExporterOTLP.
	Exporter string
	// Endpoint is the OTLP collector address.
	Endpoint string
	// SampleRatio is the fraction of root spans sampled.
	SampleRatio float64
	// Writer receives stdout spans, os.Stdout when nil.
	Writer io.Writer
}

// InitTracing installs the global tracer provider and propagators.
func InitTracing(ctx context.Context, cfg TracingConfig) (ShutdownFunc, error) {
	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		otel.SetTextMapPropagator(propagation.TraceContext{})
		logger.Debug(ctx, "Tracing disabled")

		return func(context.Context) error { return nil }, nil
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.namespace", "geofencer"),
	))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.InfoKV(ctx, "Tracing enabled",
		"exporter", cfg.Exporter,
		"service_name", cfg.ServiceName,
		"sample_ratio", cfg.SampleRatio,
	)

	return provider.Shutdown, nil
}

// newExporter builds the span exporter named in cfg.
//
//nolint:ireturn // The SDK accepts any SpanExporter.
func newExporter(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	switch strings.ToLower(cfg.Exporter) {
	case ExporterStdout, "":
		w := cfg.Writer
		if w == nil {
			w = os.Stdout
		}

		return stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithoutTimestamps())
	case ExporterOTLP:
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = defaultOTLPEndpoint
		}

		client := otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)

		return otlptrace.New(ctx, client)
	default:
		return nil, fmt.Errorf("%w: %s", errUnsupportedExporter, cfg.Exporter)
	}
}

// ShutdownWithTimeout flushes spans with a bounded timeout, logging failures.
func ShutdownWithTimeout(ctx context.Context, shutdown ShutdownFunc) {
	if shutdown == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := shutdown(ctx); err != nil {
		logger.WarnKV(ctx, "Tracing shutdown failed", "error", err)
	}
}
