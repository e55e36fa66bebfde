// Package observability provides OpenTelemetry metrics exported to Prometheus.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
)

// InitMetrics initializes the OpenTelemetry metrics provider with a Prometheus exporter.
// It returns the HTTP handler for the /metrics endpoint and a shutdown function.
func InitMetrics() (http.Handler, func(context.Context) error, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := metric.NewMeterProvider(
		metric.WithReader(exporter),
	)

	otel.SetMeterProvider(provider)

	return promhttp.Handler(), provider.Shutdown, nil
}

// Metrics records scene outcomes and waits
type Metrics struct {
	scenes     otelmetric.Int64Counter
	generation otelmetric.Float64Histogram
	queueWait  otelmetric.Float64Histogram
	degraded   otelmetric.Int64Counter
}

// NewMetrics creates the instruments on the global meter provider, so call
// it after InitMetrics
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("flowreel")
	m := &Metrics{}
	var err error

	if m.scenes, err = meter.Int64Counter("flowreel.scenes",
		otelmetric.WithDescription("Scenes finished, by outcome")); err != nil {
		return nil, err
	}
	if m.generation, err = meter.Float64Histogram("flowreel.scene.duration",
		otelmetric.WithDescription("Time from queue gate to terminal state"),
		otelmetric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.queueWait, err = meter.Float64Histogram("flowreel.queue.wait",
		otelmetric.WithDescription("Time spent waiting for a queue slot"),
		otelmetric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.degraded, err = meter.Int64Counter("flowreel.resolutions.degraded",
		otelmetric.WithDescription("Artifacts resolved without novelty")); err != nil {
		return nil, err
	}
	return m, nil
}

// SceneFinished counts one terminal scene
func (m *Metrics) SceneFinished(ctx context.Context, outcome string, d time.Duration) {
	attrs := otelmetric.WithAttributes(attribute.String("outcome", outcome))
	m.scenes.Add(ctx, 1, attrs)
	m.generation.Record(ctx, d.Seconds(), attrs)
}

// QueueWaited records one queue gate wait
func (m *Metrics) QueueWaited(ctx context.Context, d time.Duration) {
	m.queueWait.Record(ctx, d.Seconds())
}

// DegradedResolution counts a low-confidence artifact pick
func (m *Metrics) DegradedResolution(ctx context.Context) {
	m.degraded.Add(ctx, 1)
}
