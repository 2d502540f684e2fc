package embeddings

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mailindex/pkg/collections"
)

const embeddingsInstrumentationName = "github.com/fyrsmithlabs/mailindex/internal/embeddings"

// usage tracks one model's embedding traffic. Texts are counted by result so
// the share of absent vectors per model is visible without log scraping.
type usage struct {
	model   attribute.KeyValue
	latency metric.Float64Histogram
	texts   metric.Int64Counter
	probes  metric.Int64Counter
}

func newUsage(meter metric.Meter, id collections.ModelIdentity, logger *zap.Logger) *usage {
	if meter == nil {
		meter = otel.Meter(embeddingsInstrumentationName)
	}
	u := &usage{model: attribute.String("model_id", id.String())}

	var err error
	if u.latency, err = meter.Float64Histogram(
		"mailindex.embedding.request.duration",
		metric.WithDescription("Latency of one backend request, single text or one batch chunk."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60),
	); err != nil {
		logger.Warn("failed to create embedding latency histogram", zap.Error(err))
	}
	if u.texts, err = meter.Int64Counter(
		"mailindex.embedding.texts",
		metric.WithDescription("Texts sent for embedding, by result (embedded, absent)."),
		metric.WithUnit("{text}"),
	); err != nil {
		logger.Warn("failed to create embedding text counter", zap.Error(err))
	}
	if u.probes, err = meter.Int64Counter(
		"mailindex.embedding.dimension_probes",
		metric.WithDescription("Canary embeddings sent to learn a model's dimension, by result."),
		metric.WithUnit("{probe}"),
	); err != nil {
		logger.Warn("failed to create dimension probe counter", zap.Error(err))
	}
	return u
}

// request records one backend call covering texts inputs of which absent
// came back without a vector.
func (u *usage) request(ctx context.Context, op string, took time.Duration, texts, absent int) {
	if u.latency != nil {
		u.latency.Record(ctx, took.Seconds(), metric.WithAttributes(u.model, attribute.String("operation", op)))
	}
	if u.texts == nil {
		return
	}
	if ok := texts - absent; ok > 0 {
		u.texts.Add(ctx, int64(ok), metric.WithAttributes(u.model, attribute.String("result", "embedded")))
	}
	if absent > 0 {
		u.texts.Add(ctx, int64(absent), metric.WithAttributes(u.model, attribute.String("result", "absent")))
	}
}

func (u *usage) probe(ctx context.Context, err error) {
	if u.probes == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "failed"
	}
	u.probes.Add(ctx, 1, metric.WithAttributes(u.model, attribute.String("result", result)))
}
