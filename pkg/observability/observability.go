// Package observability sets up OpenTelemetry providers that export the
// engine's decision metrics and evaluation spans over OTLP/gRPC.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const defaultExportInterval = 15 * time.Second

// Config configures OTLP export.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string        // host:port of the collector, e.g. "localhost:4317"
	SampleRate     float64       // fraction of evaluations traced, 0.0 to 1.0
	BatchTimeout   time.Duration // span batching delay
	ExportInterval time.Duration // metric export period
	Insecure       bool          // plaintext gRPC, dev only
}

// DefaultConfig returns the kora defaults for a collector at endpoint. An
// empty endpoint yields a disabled provider.
func DefaultConfig(endpoint string) *Config {
	return &Config{
		ServiceName:    "kora",
		ServiceVersion: "0.1.0",
		Environment:    "development",
		OTLPEndpoint:   endpoint,
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		ExportInterval: defaultExportInterval,
	}
}

// Provider owns the exporting trace and metric providers handed to the
// budget engine.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	logger         *slog.Logger
}

// New builds a provider and installs it as the otel global. With a nil
// config or an empty endpoint it is disabled and hands out the current
// global (no-op) providers instead.
func New(ctx context.Context, config *Config) (*Provider, error) {
	p := &Provider{logger: slog.Default().With("component", "observability")}
	if config == nil || config.OTLPEndpoint == "" {
		return p, nil
	}

	res, err := engineResource(config)
	if err != nil {
		return nil, fmt.Errorf("observability: resource: %w", err)
	}
	if p.tracerProvider, err = newTracerProvider(ctx, config, res); err != nil {
		return nil, fmt.Errorf("observability: traces: %w", err)
	}
	if p.meterProvider, err = newMeterProvider(ctx, config, res); err != nil {
		_ = p.tracerProvider.Shutdown(ctx)
		return nil, fmt.Errorf("observability: metrics: %w", err)
	}

	otel.SetTracerProvider(p.tracerProvider)
	otel.SetMeterProvider(p.meterProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	p.logger.InfoContext(ctx, "exporting budget telemetry",
		"service", config.ServiceName,
		"endpoint", config.OTLPEndpoint,
		"sample_rate", config.SampleRate,
		"insecure", config.Insecure,
	)
	return p, nil
}

func engineResource(config *Config) (*resource.Resource, error) {
	// Schemaless so the default resource's schema URL wins the merge.
	return resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName(config.ServiceName),
		semconv.ServiceVersion(config.ServiceVersion),
		semconv.DeploymentEnvironment(config.Environment),
		attribute.String("kora.component", "engine"),
	))
}

func newTracerProvider(ctx context.Context, config *Config, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(config.OTLPEndpoint)}
	if config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(config.BatchTimeout)),
		sdktrace.WithSampler(samplerFor(config.SampleRate)),
	), nil
}

func newMeterProvider(ctx context.Context, config *Config, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(config.OTLPEndpoint)}
	if config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, err
	}
	interval := config.ExportInterval
	if interval <= 0 {
		interval = defaultExportInterval
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
	), nil
}

// samplerFor honours the parent's decision and samples root spans at rate.
func samplerFor(rate float64) sdktrace.Sampler {
	var root sdktrace.Sampler
	switch {
	case rate >= 1:
		root = sdktrace.AlwaysSample()
	case rate <= 0:
		root = sdktrace.NeverSample()
	default:
		root = sdktrace.TraceIDRatioBased(rate)
	}
	return sdktrace.ParentBased(root)
}

// Enabled reports whether telemetry is exported.
func (p *Provider) Enabled() bool {
	return p.tracerProvider != nil
}

// TracerProvider returns the exporting provider, or the global one when
// disabled.
func (p *Provider) TracerProvider() trace.TracerProvider {
	if p.tracerProvider == nil {
		return otel.GetTracerProvider()
	}
	return p.tracerProvider
}

// MeterProvider returns the exporting provider, or the global one when
// disabled.
func (p *Provider) MeterProvider() metric.MeterProvider {
	if p.meterProvider == nil {
		return otel.GetMeterProvider()
	}
	return p.meterProvider
}

// Shutdown flushes pending spans and metrics. Export failures are logged
// and not returned.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.WarnContext(ctx, "trace flush failed", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.WarnContext(ctx, "metric flush failed", "error", err)
		}
	}
	return nil
}
