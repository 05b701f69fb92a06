// Package otel wires OpenTelemetry tracing and metrics for the swarm:
// OTLP/gRPC export when an endpoint is configured, a Prometheus scrape
// handler always.
package otel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc/credentials"

	"github.com/bsvalues/TerraBuild-sub001/internal/config"
)

// ShutdownFunc flushes and shuts down the providers.
type ShutdownFunc func(ctx context.Context) error

// Telemetry holds the installed providers and the Prometheus handler.
type Telemetry struct {
	MetricsHandler http.Handler
	Shutdown       ShutdownFunc
}

// Setup installs global tracer and meter providers. Spans and OTLP metrics
// are exported only when cfg.Endpoint is set; the Prometheus reader is
// always registered so /metrics works without a collector.
func Setup(ctx context.Context, cfg config.OTel, version string) (*Telemetry, error) {
	res, err := newResource(ctx, cfg.ServiceName, version)
	if err != nil {
		return nil, err
	}

	promExporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("otel prometheus exporter: %w", err)
	}
	readers := []sdkmetric.Option{sdkmetric.WithResource(res), sdkmetric.WithReader(promExporter)}

	traceOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
	}

	if cfg.Endpoint != "" {
		traceExp, err := otlptracegrpc.New(ctx, traceClientOptions(cfg)...)
		if err != nil {
			return nil, fmt.Errorf("otel trace exporter: %w", err)
		}
		traceOpts = append(traceOpts, sdktrace.WithBatcher(traceExp))

		metricExp, err := otlpmetricgrpc.New(ctx, metricClientOptions(cfg)...)
		if err != nil {
			return nil, fmt.Errorf("otel metric exporter: %w", err)
		}
		readers = append(readers, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(metricExp, sdkmetric.WithInterval(15*time.Second)),
		))
	}

	tp := sdktrace.NewTracerProvider(traceOpts...)
	mp := sdkmetric.NewMeterProvider(readers...)
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))

	slog.Info("otel initialized", "service", cfg.ServiceName, "endpoint", cfg.Endpoint, "sample_rate", cfg.SampleRate)

	return &Telemetry{
		MetricsHandler: promclient.Handler(),
		Shutdown: func(ctx context.Context) error {
			return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
		},
	}, nil
}

// newResource describes this process. Service attributes are added without
// a schema URL so they merge with whatever schema the SDK detectors use.
func newResource(ctx context.Context, service, version string) (*resource.Resource, error) {
	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			semconv.ServiceName(service),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}
	return res, nil
}

func traceClientOptions(cfg config.OTel) []otlptracegrpc.Option {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		return append(opts, otlptracegrpc.WithInsecure())
	}
	return append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, "")))
}

func metricClientOptions(cfg config.OTel) []otlpmetricgrpc.Option {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		return append(opts, otlpmetricgrpc.WithInsecure())
	}
	return append(opts, otlpmetricgrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, "")))
}
