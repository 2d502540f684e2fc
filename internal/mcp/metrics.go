package mcp

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mailindex/internal/embeddings"
	"github.com/fyrsmithlabs/mailindex/internal/resolver"
	"github.com/fyrsmithlabs/mailindex/internal/services"
	"github.com/fyrsmithlabs/mailindex/internal/vectorstore"
)

const instrumentationName = "mailindex.mcp"

// toolMetrics counts tool calls, their latency and how many emails or
// collections each call handed back to the assistant.
type toolMetrics struct {
	calls   metric.Int64Counter
	latency metric.Float64Histogram
	results metric.Int64Histogram
	running metric.Int64UpDownCounter
}

func newToolMetrics(meter metric.Meter, logger *zap.Logger) *toolMetrics {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &toolMetrics{}

	var err error
	if m.calls, err = meter.Int64Counter(
		"mailindex.mcp.tool.calls",
		metric.WithDescription("Tool calls by tool and outcome."),
		metric.WithUnit("{call}"),
	); err != nil {
		logger.Warn("failed to create tool call counter", zap.Error(err))
	}
	if m.latency, err = meter.Float64Histogram(
		"mailindex.mcp.tool.latency",
		metric.WithDescription("Tool call latency. sync_emails calls can run for minutes."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.25, 1, 5, 30, 120, 600),
	); err != nil {
		logger.Warn("failed to create tool latency histogram", zap.Error(err))
	}
	if m.results, err = meter.Int64Histogram(
		"mailindex.mcp.tool.results",
		metric.WithDescription("Items returned per successful call: emails found, collections listed or emails inserted."),
		metric.WithUnit("{item}"),
		metric.WithExplicitBucketBoundaries(0, 1, 5, 10, 25, 50, 100, 1000),
	); err != nil {
		logger.Warn("failed to create tool results histogram", zap.Error(err))
	}
	if m.running, err = meter.Int64UpDownCounter(
		"mailindex.mcp.tool.running",
		metric.WithDescription("Tool calls in progress."),
		metric.WithUnit("{call}"),
	); err != nil {
		logger.Warn("failed to create running tool counter", zap.Error(err))
	}
	return m
}

// toolCall is one call in flight. end must be called exactly once.
type toolCall struct {
	m     *toolMetrics
	ctx   context.Context
	tool  attribute.KeyValue
	start time.Time
}

func (m *toolMetrics) begin(ctx context.Context, tool string) *toolCall {
	c := &toolCall{m: m, ctx: ctx, tool: attribute.String("tool", tool), start: time.Now()}
	if m.running != nil {
		m.running.Add(ctx, 1, metric.WithAttributes(c.tool))
	}
	return c
}

// end records the outcome. results is ignored when err is set.
func (c *toolCall) end(err error, results int) {
	m := c.m
	if m.running != nil {
		m.running.Add(c.ctx, -1, metric.WithAttributes(c.tool))
	}
	attrs := metric.WithAttributes(c.tool, attribute.String("outcome", outcomeOf(err)))
	if m.calls != nil {
		m.calls.Add(c.ctx, 1, attrs)
	}
	if m.latency != nil {
		m.latency.Record(c.ctx, time.Since(c.start).Seconds(), attrs)
	}
	if err == nil && m.results != nil {
		m.results.Record(c.ctx, int64(results), metric.WithAttributes(c.tool))
	}
}

// outcomeOf maps a tool error to a low-cardinality outcome label.
func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, services.ErrInvalidRequest), errors.Is(err, embeddings.ErrUnknownProvider):
		return "invalid"
	case errors.Is(err, services.ErrEmailNotFound),
		errors.Is(err, vectorstore.ErrCollectionNotFound),
		errors.Is(err, resolver.ErrNoMatchingCollection):
		return "not_found"
	case errors.Is(err, vectorstore.ErrDimensionMismatch):
		return "dimension_mismatch"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.Is(err, vectorstore.ErrIndexUnavailable), errors.Is(err, embeddings.ErrProviderUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
