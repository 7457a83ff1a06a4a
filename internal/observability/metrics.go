package observability

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsCollector manages the service-level metrics: active scenes,
// broadcast batches, notification outcomes, and presence touches. All record
// methods are nil-safe so a disabled collector can be passed around freely.
type MetricsCollector struct {
	meter metric.Meter

	scenesActive      metric.Int64UpDownCounter
	broadcasts        metric.Int64Counter
	broadcastMatched  metric.Int64Counter
	broadcastUpdated  metric.Int64Counter
	broadcastDuration metric.Float64Histogram

	notifications metric.Int64Counter

	presenceTouches metric.Int64Counter

	// Server for Prometheus scraping
	prometheusServer *http.Server
}

// MetricsConfig configures the metrics collector
type MetricsConfig struct {
	Enabled        bool `yaml:"enabled"`
	PrometheusPort int  `yaml:"prometheus_port"`
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(config MetricsConfig) (*MetricsCollector, error) {
	if !config.Enabled {
		return &MetricsCollector{}, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(provider)

	meter := provider.Meter("scenehub")

	scenesActive, err := meter.Int64UpDownCounter(
		"scenehub.scenes.active",
		metric.WithDescription("Number of live scene sessions in the directory"),
		metric.WithUnit("{scene}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create scenes_active gauge: %w", err)
	}

	broadcasts, err := meter.Int64Counter(
		"scenehub.broadcasts.total",
		metric.WithDescription("Total number of broadcast batches"),
		metric.WithUnit("{batch}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create broadcasts counter: %w", err)
	}

	broadcastMatched, err := meter.Int64Counter(
		"scenehub.broadcasts.matched",
		metric.WithDescription("Total scenes matched by broadcast filters"),
		metric.WithUnit("{scene}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create broadcast_matched counter: %w", err)
	}

	broadcastUpdated, err := meter.Int64Counter(
		"scenehub.broadcasts.updated",
		metric.WithDescription("Total scenes successfully refreshed or closed by broadcasts"),
		metric.WithUnit("{scene}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create broadcast_updated counter: %w", err)
	}

	broadcastDuration, err := meter.Float64Histogram(
		"scenehub.broadcasts.duration",
		metric.WithDescription("Broadcast batch duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create broadcast_duration histogram: %w", err)
	}

	notifications, err := meter.Int64Counter(
		"scenehub.notifications.total",
		metric.WithDescription("Total notification dispatch outcomes by status"),
		metric.WithUnit("{notification}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create notifications counter: %w", err)
	}

	presenceTouches, err := meter.Int64Counter(
		"scenehub.presence.touches.total",
		metric.WithDescription("Total presence heartbeats recorded"),
		metric.WithUnit("{touch}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create presence_touches counter: %w", err)
	}

	collector := &MetricsCollector{
		meter:             meter,
		scenesActive:      scenesActive,
		broadcasts:        broadcasts,
		broadcastMatched:  broadcastMatched,
		broadcastUpdated:  broadcastUpdated,
		broadcastDuration: broadcastDuration,
		notifications:     notifications,
		presenceTouches:   presenceTouches,
	}

	if config.PrometheusPort > 0 {
		if err := collector.StartPrometheusServer(config.PrometheusPort); err != nil {
			return nil, fmt.Errorf("failed to start prometheus server: %w", err)
		}
	}

	return collector, nil
}

// StartPrometheusServer starts the Prometheus metrics server
func (m *MetricsCollector) StartPrometheusServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promclient.Handler())

	m.prometheusServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		log.Printf("Prometheus metrics server listening on :%d", port)
		if err := m.prometheusServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Prometheus server error: %v", err)
		}
	}()

	return nil
}

// Shutdown gracefully shuts down the metrics collector
func (m *MetricsCollector) Shutdown(ctx context.Context) error {
	if m.prometheusServer != nil {
		return m.prometheusServer.Shutdown(ctx)
	}
	return nil
}

// IncActiveScenes records one more live scene session.
func (m *MetricsCollector) IncActiveScenes(ctx context.Context) {
	if m == nil || m.scenesActive == nil {
		return
	}
	m.scenesActive.Add(ctx, 1)
}

// DecActiveScenes records one fewer live scene session.
func (m *MetricsCollector) DecActiveScenes(ctx context.Context) {
	if m == nil || m.scenesActive == nil {
		return
	}
	m.scenesActive.Add(ctx, -1)
}

// RecordBroadcast records the outcome of one broadcast batch.
func (m *MetricsCollector) RecordBroadcast(ctx context.Context, action string, total, updated int, elapsed time.Duration) {
	if m == nil || m.broadcasts == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("action", action))
	m.broadcasts.Add(ctx, 1, attrs)
	m.broadcastMatched.Add(ctx, int64(total), attrs)
	m.broadcastUpdated.Add(ctx, int64(updated), attrs)
	m.broadcastDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordNotification records one notification dispatch outcome.
func (m *MetricsCollector) RecordNotification(ctx context.Context, status string) {
	if m == nil || m.notifications == nil {
		return
	}
	m.notifications.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordPresenceTouch records one presence heartbeat.
func (m *MetricsCollector) RecordPresenceTouch(ctx context.Context) {
	if m == nil || m.presenceTouches == nil {
		return
	}
	m.presenceTouches.Add(ctx, 1)
}
