package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the instrumentation scope used for ORM metrics.
const MeterName = "relorm"

// QueryMetrics records statement execution and hydration counts.
// A nil *QueryMetrics is valid and records nothing.
type QueryMetrics struct {
	queryDuration   metric.Float64Histogram
	queryCounter    metric.Int64Counter
	errorCounter    metric.Int64Counter
	rowsHydrated    metric.Int64Counter
	objectsHydrated metric.Int64Counter
}

// InitQueryMetrics creates the ORM instruments on the global meter provider.
func InitQueryMetrics() (*QueryMetrics, error) {
	return NewQueryMetrics(otel.Meter(MeterName))
}

// NewQueryMetrics creates the ORM instruments on the given meter.
func NewQueryMetrics(meter metric.Meter) (*QueryMetrics, error) {
	queryDuration, err := meter.Float64Histogram(
		"orm.query.duration",
		metric.WithDescription("Duration of ORM statements in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create query duration histogram: %w", err)
	}

	queryCounter, err := meter.Int64Counter(
		"orm.queries.total",
		metric.WithDescription("Total number of ORM statements executed"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create query counter: %w", err)
	}

	errorCounter, err := meter.Int64Counter(
		"orm.query.errors.total",
		metric.WithDescription("Total number of failed ORM statements"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create query error counter: %w", err)
	}

	rowsHydrated, err := meter.Int64Counter(
		"orm.rows.hydrated",
		metric.WithDescription("Number of result rows consumed by the hydrator"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create hydrated rows counter: %w", err)
	}

	objectsHydrated, err := meter.Int64Counter(
		"orm.objects.hydrated",
		metric.WithDescription("Number of root objects produced by the hydrator"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create hydrated objects counter: %w", err)
	}

	return &QueryMetrics{
		queryDuration:   queryDuration,
		queryCounter:    queryCounter,
		errorCounter:    errorCounter,
		rowsHydrated:    rowsHydrated,
		objectsHydrated: objectsHydrated,
	}, nil
}

// RecordQuery records one executed statement.
func (m *QueryMetrics) RecordQuery(ctx context.Context, operation, model string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("model", model),
	)
	m.queryDuration.Record(ctx, float64(duration.Microseconds())/1000, attrs)
	m.queryCounter.Add(ctx, 1, attrs)
	if err != nil {
		m.errorCounter.Add(ctx, 1, attrs)
	}
}

// RecordHydration records how many rows collapsed into how many root objects.
func (m *QueryMetrics) RecordHydration(ctx context.Context, model string, rows, objects int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("model", model))
	m.rowsHydrated.Add(ctx, int64(rows), attrs)
	m.objectsHydrated.Add(ctx, int64(objects), attrs)
}
