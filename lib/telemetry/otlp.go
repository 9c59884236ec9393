package telemetry

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// otlpTarget is where one signal is exported, grpc wins when both endpoints
// are set and a target with neither is not exported at all.
type otlpTarget struct {
	GrpcEndpoint string            `json:"grpc_endpoint"`
	HttpEndpoint string            `json:"http_endpoint"`
	Headers      map[string]string `json:"headers"`
}

func (t otlpTarget) enabled() bool {
	return t.GrpcEndpoint != "" || t.HttpEndpoint != ""
}

func (t otlpTarget) log(signal string) {
	if t.GrpcEndpoint != "" {
		slog.Debug("otlp exporter", "signal", signal, "transport", "grpc", "endpoint", t.GrpcEndpoint)
		return
	}
	slog.Debug("otlp exporter", "signal", signal, "transport", "http", "endpoint", t.HttpEndpoint)
}

type config struct {
	Otlp struct {
		Traces  otlpTarget `json:"traces"`
		Metrics otlpTarget `json:"metrics"`
	} `json:"otlp"`
	// MetricInterval is how often metrics are pushed, defaults to 15s.
	MetricInterval string `json:"metric_interval"`
}

const exporterTimeout = 3 * time.Second

func newResource(serviceName string) (*resource.Resource, error) {
	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		),
	)
}

func newSpanExporter(ctx context.Context, t otlpTarget) (trace.SpanExporter, error) {
	ctx, cancel := context.WithTimeout(ctx, exporterTimeout)
	defer cancel()

	t.log("traces")
	if t.GrpcEndpoint != "" {
		return otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpointURL(t.GrpcEndpoint),
			otlptracegrpc.WithHeaders(t.Headers),
		)
	}
	return otlptracehttp.New(ctx,
		otlptracehttp.WithEndpointURL(t.HttpEndpoint),
		otlptracehttp.WithHeaders(t.Headers),
	)
}

func newMetricExporter(ctx context.Context, t otlpTarget) (metric.Exporter, error) {
	ctx, cancel := context.WithTimeout(ctx, exporterTimeout)
	defer cancel()

	t.log("metrics")
	if t.GrpcEndpoint != "" {
		return otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpointURL(t.GrpcEndpoint),
			otlpmetricgrpc.WithHeaders(t.Headers),
		)
	}
	return otlpmetrichttp.New(ctx,
		otlpmetrichttp.WithEndpointURL(t.HttpEndpoint),
		otlpmetrichttp.WithHeaders(t.Headers),
	)
}

// newTraceProvider returns nil when traces are not configured.
func newTraceProvider(ctx context.Context, r *resource.Resource, cfg config) (*trace.TracerProvider, error) {
	if !cfg.Otlp.Traces.enabled() {
		return nil, nil
	}
	exporter, err := newSpanExporter(ctx, cfg.Otlp.Traces)
	if err != nil {
		return nil, err
	}
	return trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(r),
	), nil
}

// newMetricProvider returns nil when metrics are not configured.
func newMetricProvider(ctx context.Context, r *resource.Resource, cfg config) (*metric.MeterProvider, error) {
	if !cfg.Otlp.Metrics.enabled() {
		return nil, nil
	}
	interval := 15 * time.Second
	if cfg.MetricInterval != "" {
		parsed, err := time.ParseDuration(cfg.MetricInterval)
		if err != nil {
			return nil, err
		}
		interval = parsed
	}

	exporter, err := newMetricExporter(ctx, cfg.Otlp.Metrics)
	if err != nil {
		return nil, err
	}
	return metric.NewMeterProvider(
		metric.WithReader(metric.NewPeriodicReader(exporter, metric.WithInterval(interval))),
		metric.WithResource(r),
	), nil
}
