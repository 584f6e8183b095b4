package observability

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// MetricsProvider exposes OpenTelemetry/Prometheus instrumentation for the
// simulation kernel. It is wired into the tick scheduler and matching engine
// so that tick duration, trade throughput, and slow-tick counts are visible
// to whatever scraper an external transport layer attaches.
type MetricsProvider struct {
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter
	registry      *prometheus.Registry

	tickDuration     metric.Float64Histogram
	ticksProcessed   metric.Int64Counter
	slowTicks        metric.Int64Counter
	tradesExecuted   metric.Int64Counter
	ordersAccepted   metric.Int64Counter
	ordersRejected   metric.Int64Counter
	activeOrderCount metric.Int64UpDownCounter
	bailoutsIssued   metric.Int64Counter
}

// MetricsConfig contains metrics configuration.
type MetricsConfig struct {
	ServiceName    string
	ServiceVersion string
	Namespace      string
	Enabled        bool
}

// NewMetricsProvider creates a new metrics provider. When disabled it returns
// a zero-value provider whose Record* methods are no-ops.
func NewMetricsProvider(cfg MetricsConfig) (*MetricsProvider, error) {
	if !cfg.Enabled {
		return &MetricsProvider{}, nil
	}

	registry := prometheus.NewRegistry()

	exporter, err := otelprom.New(
		otelprom.WithRegisterer(registry),
		otelprom.WithNamespace(cfg.Namespace),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(meterProvider)

	meter := meterProvider.Meter(cfg.ServiceName)

	mp := &MetricsProvider{
		meterProvider: meterProvider,
		meter:         meter,
		registry:      registry,
	}

	if err := mp.initializeMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	return mp, nil
}

func (mp *MetricsProvider) initializeMetrics() error {
	var err error

	mp.tickDuration, err = mp.meter.Float64Histogram(
		"kernel_tick_duration_seconds",
		metric.WithDescription("Wall-clock duration of a simulation tick"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1),
	)
	if err != nil {
		return fmt.Errorf("failed to create kernel_tick_duration_seconds histogram: %w", err)
	}

	mp.ticksProcessed, err = mp.meter.Int64Counter(
		"kernel_ticks_total",
		metric.WithDescription("Total number of ticks processed"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create kernel_ticks_total counter: %w", err)
	}

	mp.slowTicks, err = mp.meter.Int64Counter(
		"kernel_slow_ticks_total",
		metric.WithDescription("Total number of ticks that exceeded the slow-tick threshold"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create kernel_slow_ticks_total counter: %w", err)
	}

	mp.tradesExecuted, err = mp.meter.Int64Counter(
		"kernel_trades_total",
		metric.WithDescription("Total number of trades executed by the matching engine"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create kernel_trades_total counter: %w", err)
	}

	mp.ordersAccepted, err = mp.meter.Int64Counter(
		"kernel_orders_accepted_total",
		metric.WithDescription("Total number of orders accepted into a book"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create kernel_orders_accepted_total counter: %w", err)
	}

	mp.ordersRejected, err = mp.meter.Int64Counter(
		"kernel_orders_rejected_total",
		metric.WithDescription("Total number of orders rejected at submission"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create kernel_orders_rejected_total counter: %w", err)
	}

	mp.activeOrderCount, err = mp.meter.Int64UpDownCounter(
		"kernel_active_orders",
		metric.WithDescription("Current number of active (open or partial) orders across all books"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create kernel_active_orders gauge: %w", err)
	}

	mp.bailoutsIssued, err = mp.meter.Int64Counter(
		"kernel_bailouts_total",
		metric.WithDescription("Total number of competitor cash bailouts issued"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create kernel_bailouts_total counter: %w", err)
	}

	return nil
}

// RecordTick records the duration of a completed tick.
func (mp *MetricsProvider) RecordTick(ctx context.Context, duration time.Duration, slow bool) {
	if mp.tickDuration == nil {
		return
	}
	mp.tickDuration.Record(ctx, duration.Seconds())
	mp.ticksProcessed.Add(ctx, 1)
	if slow {
		mp.slowTicks.Add(ctx, 1)
	}
}

// RecordTrade records a single executed trade for a commodity.
func (mp *MetricsProvider) RecordTrade(ctx context.Context, commodity string) {
	if mp.tradesExecuted == nil {
		return
	}
	mp.tradesExecuted.Add(ctx, 1, metric.WithAttributes(attribute.String("commodity", commodity)))
}

// RecordOrderAccepted increments the accepted-order counter and the active gauge.
func (mp *MetricsProvider) RecordOrderAccepted(ctx context.Context, commodity string) {
	if mp.ordersAccepted == nil {
		return
	}
	mp.ordersAccepted.Add(ctx, 1, metric.WithAttributes(attribute.String("commodity", commodity)))
	mp.activeOrderCount.Add(ctx, 1)
}

// RecordOrderRemoved decrements the active-order gauge (fill, cancel, or expiry).
func (mp *MetricsProvider) RecordOrderRemoved(ctx context.Context) {
	if mp.activeOrderCount == nil {
		return
	}
	mp.activeOrderCount.Add(ctx, -1)
}

// RecordOrderRejected increments the rejected-order counter.
func (mp *MetricsProvider) RecordOrderRejected(ctx context.Context, reason string) {
	if mp.ordersRejected == nil {
		return
	}
	mp.ordersRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordBailout increments the bailout counter.
func (mp *MetricsProvider) RecordBailout(ctx context.Context) {
	if mp.bailoutsIssued == nil {
		return
	}
	mp.bailoutsIssued.Add(ctx, 1)
}

// Shutdown gracefully shuts down the metrics provider.
func (mp *MetricsProvider) Shutdown(ctx context.Context) error {
	if mp.meterProvider == nil {
		return nil
	}
	return mp.meterProvider.Shutdown(ctx)
}
