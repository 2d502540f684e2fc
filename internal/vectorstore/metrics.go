package vectorstore

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/mailindex/internal/vectorstore"

// Metrics holds the index metrics.
type Metrics struct {
	meter    metric.Meter
	logger   *zap.Logger
	inserted metric.Int64Counter
	skipped  metric.Int64Counter
	absent   metric.Int64Counter
	search   metric.Float64Histogram
	errors   metric.Int64Counter
}

// NewMetrics creates the index instruments on the global meter provider.
func NewMetrics(logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Metrics{
		meter:  otel.Meter(instrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

func (m *Metrics) init() {
	var err error

	m.inserted, err = m.meter.Int64Counter(
		"mailindex.index.records_inserted_total",
		metric.WithDescription("Email records written to a collection"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		m.logger.Warn("failed to create inserted counter", zap.Error(err))
	}

	m.skipped, err = m.meter.Int64Counter(
		"mailindex.index.records_skipped_total",
		metric.WithDescription("Email records skipped because their id was already stored"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		m.logger.Warn("failed to create skipped counter", zap.Error(err))
	}

	m.absent, err = m.meter.Int64Counter(
		"mailindex.index.records_absent_total",
		metric.WithDescription("Email records dropped because they had no embedding"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		m.logger.Warn("failed to create absent counter", zap.Error(err))
	}

	m.search, err = m.meter.Float64Histogram(
		"mailindex.index.search_duration_seconds",
		metric.WithDescription("Duration of nearest-neighbor queries in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0),
	)
	if err != nil {
		m.logger.Warn("failed to create search histogram", zap.Error(err))
	}

	m.errors, err = m.meter.Int64Counter(
		"mailindex.index.errors_total",
		metric.WithDescription("Backend failures by operation"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		m.logger.Warn("failed to create errors counter", zap.Error(err))
	}
}

// RecordAdd records the outcome of one Add call.
func (m *Metrics) RecordAdd(ctx context.Context, collection string, res AddResult) {
	attrs := metric.WithAttributes(attribute.String("collection", collection))
	if m.inserted != nil && res.Inserted > 0 {
		m.inserted.Add(ctx, int64(res.Inserted), attrs)
	}
	if m.skipped != nil && res.Skipped > 0 {
		m.skipped.Add(ctx, int64(res.Skipped), attrs)
	}
	if m.absent != nil && res.Absent > 0 {
		m.absent.Add(ctx, int64(res.Absent), attrs)
	}
}

// RecordSearch records one query.
func (m *Metrics) RecordSearch(ctx context.Context, collection string, d time.Duration) {
	if m.search != nil {
		m.search.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("collection", collection)))
	}
}

// RecordError records a backend failure.
func (m *Metrics) RecordError(ctx context.Context, collection, operation string) {
	if m.errors != nil {
		m.errors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("collection", collection),
			attribute.String("operation", operation),
		))
	}
}
