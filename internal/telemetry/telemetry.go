package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/CodeMonkeyCybersecurity/dhascan/internal/config"
	"github.com/CodeMonkeyCybersecurity/dhascan/internal/core"
	"github.com/CodeMonkeyCybersecurity/dhascan/pkg/types"
)

const serviceVersion = "2.0.0"

type telemetry struct {
	tracer         trace.Tracer
	meter          metric.Meter
	tracerProvider *sdktrace.TracerProvider

	scanCounter    metric.Int64Counter
	scanDuration   metric.Float64Histogram
	probeCounter   metric.Int64Counter
	findingCounter metric.Int64Counter
}

// New returns the OpenTelemetry-backed recorder, or a no-op one when
// telemetry is disabled.
func New(ctx context.Context, cfg config.TelemetryConfig) (core.Telemetry, error) {
	if !cfg.Enabled {
		return NewNoop(), nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	var exporter sdktrace.SpanExporter

	switch cfg.ExporterType {
	case "otlp":
		client := otlptracehttp.NewClient(
			otlptracehttp.WithEndpoint(cfg.Endpoint),
			otlptracehttp.WithInsecure(),
		)
		exp, err := otlptrace.New(ctx, client)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
		exporter = exp
	default:
		return nil, fmt.Errorf("unsupported exporter type: %s", cfg.ExporterType)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SampleRate)),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	t, err := newInstruments(otel.Meter(cfg.ServiceName))
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, err
	}
	t.tracer = tp.Tracer(cfg.ServiceName)
	t.tracerProvider = tp
	return t, nil
}

func newInstruments(meter metric.Meter) (*telemetry, error) {
	scanCounter, err := meter.Int64Counter("dhascan.scans.total",
		metric.WithDescription("Total number of scans"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	scanDuration, err := meter.Float64Histogram("dhascan.scan.duration",
		metric.WithDescription("Scan duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	probeCounter, err := meter.Int64Counter("dhascan.probes.total",
		metric.WithDescription("Probe executions by outcome"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	findingCounter, err := meter.Int64Counter("dhascan.findings.total",
		metric.WithDescription("Confirmed findings by severity"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	return &telemetry{
		meter:          meter,
		scanCounter:    scanCounter,
		scanDuration:   scanDuration,
		probeCounter:   probeCounter,
		findingCounter: findingCounter,
	}, nil
}

func (t *telemetry) RecordScan(ctx context.Context, duration time.Duration, success bool) {
	attrs := metric.WithAttributes(attribute.Bool("scan.success", success))
	t.scanCounter.Add(ctx, 1, attrs)
	t.scanDuration.Record(ctx, duration.Seconds(), attrs)
}

func (t *telemetry) RecordProbe(ctx context.Context, category types.Category, outcome string) {
	t.probeCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("probe.category", string(category)),
		attribute.String("probe.outcome", outcome),
	))
}

func (t *telemetry) RecordFinding(ctx context.Context, severity types.Severity) {
	t.findingCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("finding.severity", string(severity)),
	))
}

func (t *telemetry) Close() error {
	if t.tracerProvider == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return t.tracerProvider.Shutdown(ctx)
}

type noopTelemetry struct{}

// NewNoop returns a recorder that drops everything.
func NewNoop() core.Telemetry { return &noopTelemetry{} }

func (n *noopTelemetry) RecordScan(context.Context, time.Duration, bool)     {}
func (n *noopTelemetry) RecordProbe(context.Context, types.Category, string) {}
func (n *noopTelemetry) RecordFinding(context.Context, types.Severity)       {}
func (n *noopTelemetry) Close() error                                        { return nil }
