package mcp

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/fyrsmithlabs/mailindex/internal/embeddings"
	"github.com/fyrsmithlabs/mailindex/internal/resolver"
	"github.com/fyrsmithlabs/mailindex/internal/services"
	"github.com/fyrsmithlabs/mailindex/internal/vectorstore"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := map[string]metricdata.Aggregation{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func TestToolMetrics_CallLifecycle(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m := newToolMetrics(mp.Meter(instrumentationName), nil)
	ctx := context.Background()

	m.begin(ctx, "search_emails").end(nil, 7)
	m.begin(ctx, "search_emails").end(resolver.ErrNoMatchingCollection, 0)
	pending := m.begin(ctx, "sync_emails")

	data := collect(t, reader)

	calls, ok := data["mailindex.mcp.tool.calls"].(metricdata.Sum[int64])
	require.True(t, ok)
	outcomes := map[string]int64{}
	for _, dp := range calls.DataPoints {
		o, _ := dp.Attributes.Value("outcome")
		outcomes[o.AsString()] += dp.Value
	}
	assert.Equal(t, map[string]int64{"ok": 1, "not_found": 1}, outcomes)

	results, ok := data["mailindex.mcp.tool.results"].(metricdata.Histogram[int64])
	require.True(t, ok)
	require.Len(t, results.DataPoints, 1, "failed calls record no results")
	assert.Equal(t, uint64(1), results.DataPoints[0].Count)
	assert.Equal(t, int64(7), results.DataPoints[0].Sum)

	running, ok := data["mailindex.mcp.tool.running"].(metricdata.Sum[int64])
	require.True(t, ok)
	var inFlight int64
	for _, dp := range running.DataPoints {
		inFlight += dp.Value
	}
	assert.Equal(t, int64(1), inFlight)

	pending.end(nil, 12)
	running = collect(t, reader)["mailindex.mcp.tool.running"].(metricdata.Sum[int64])
	inFlight = 0
	for _, dp := range running.DataPoints {
		inFlight += dp.Value
	}
	assert.Zero(t, inFlight)
}

func TestOutcomeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"success", nil, "ok"},
		{"invalid request", fmt.Errorf("%w: query is required", services.ErrInvalidRequest), "invalid"},
		{"unknown provider", embeddings.ErrUnknownProvider, "invalid"},
		{"no collection", fmt.Errorf("%w: provider=\"openai\"", resolver.ErrNoMatchingCollection), "not_found"},
		{"missing email", services.ErrEmailNotFound, "not_found"},
		{"missing collection", vectorstore.ErrCollectionNotFound, "not_found"},
		{"dimension", vectorstore.ErrDimensionMismatch, "dimension_mismatch"},
		{"client went away", context.Canceled, "canceled"},
		{"deadline", context.DeadlineExceeded, "canceled"},
		{"index down", vectorstore.ErrIndexUnavailable, "unavailable"},
		{"provider down", embeddings.ErrProviderUnavailable, "unavailable"},
		{"anything else", errors.New("boom"), "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, outcomeOf(tt.err))
		})
	}
}
