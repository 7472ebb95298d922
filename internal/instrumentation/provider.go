// Package instrumentation wires OpenTelemetry metrics with a
// Prometheus exporter so watch mode can expose them over HTTP.
package instrumentation

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const serviceName = "mailbox"

// Provider owns the meter provider and the Prometheus exporter backing
// it. The exporter registers with the default Prometheus registry, so
// Handler serves everything recorded through Metrics.
type Provider struct {
	meterProvider *sdkmetric.MeterProvider
	metrics       *Metrics
}

// NewProvider sets up the Prometheus-backed meter provider and the
// metrics recorder.
func NewProvider(ctx context.Context, version string) (*Provider, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(version),
	}
	if hostname, err := os.Hostname(); err == nil {
		attrs = append(attrs, semconv.ServiceInstanceID(hostname))
	}

	res, err := resource.New(ctx, resource.WithAttributes(attrs...))
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("creating prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(mp)

	metrics, err := NewMetrics(mp.Meter(serviceName))
	if err != nil {
		_ = mp.Shutdown(ctx)
		return nil, err
	}

	return &Provider{meterProvider: mp, metrics: metrics}, nil
}

// Metrics returns the metrics recorder.
func (p *Provider) Metrics() *Metrics {
	return p.metrics
}

// Handler serves the Prometheus scrape endpoint.
func (p *Provider) Handler() http.Handler {
	return promhttp.Handler()
}

// Shutdown flushes pending telemetry.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.meterProvider == nil {
		return nil
	}
	return p.meterProvider.Shutdown(ctx)
}
