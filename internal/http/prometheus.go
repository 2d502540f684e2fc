package http

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mailindex/internal/services"
)

// collectionCollector reports per-collection member counts and sync age at
// scrape time.
type collectionCollector struct {
	reg    services.Registry
	logger *zap.Logger

	members  *prometheus.Desc
	lastSync *prometheus.Desc
	up       *prometheus.Desc
}

func newCollectionCollector(reg services.Registry, logger *zap.Logger) *collectionCollector {
	return &collectionCollector{
		reg:    reg,
		logger: logger,
		members: prometheus.NewDesc("mailindex_collection_members",
			"Emails stored per collection.", []string{"collection", "model_id"}, nil),
		lastSync: prometheus.NewDesc("mailindex_collection_last_sync_timestamp_seconds",
			"Unix time of the last sync that inserted emails.", []string{"collection"}, nil),
		up: prometheus.NewDesc("mailindex_index_up",
			"Whether the index answered the last scrape.", nil, nil),
	}
}

func (c *collectionCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.members
	ch <- c.lastSync
	ch <- c.up
}

func (c *collectionCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	infos, err := services.Collections(ctx, c.reg)
	if err != nil {
		c.logger.Warn("metrics scrape could not list collections", zap.Error(err))
		ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, 0)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, 1)
	for _, info := range infos {
		ch <- prometheus.MustNewConstMetric(c.members, prometheus.GaugeValue,
			float64(info.MemberCount), info.Name, info.ModelID)
		if info.Synced() {
			ch <- prometheus.MustNewConstMetric(c.lastSync, prometheus.GaugeValue,
				float64(info.LastSync.Unix()), info.Name)
		}
	}
}

// apiMetrics counts API outcomes.
type apiMetrics struct {
	searches    *prometheus.CounterVec
	searchHits  prometheus.Histogram
	syncRuns    *prometheus.CounterVec
	syncRecords *prometheus.CounterVec
}

func newAPIMetrics() *apiMetrics {
	return &apiMetrics{
		searches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailindex_search_requests_total",
			Help: "Search requests by outcome.",
		}, []string{"outcome"}),
		searchHits: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mailindex_search_results",
			Help:    "Results returned per search.",
			Buckets: []float64{0, 1, 5, 10, 25, 50},
		}),
		syncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailindex_sync_runs_total",
			Help: "Sync runs by outcome.",
		}, []string{"outcome"}),
		syncRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailindex_sync_records_total",
			Help: "Records handled by sync runs, by result (inserted, skipped, absent).",
		}, []string{"collection", "result"}),
	}
}

// newPrometheusRegistry returns a registry with the process, Go runtime,
// API and collection collectors.
func newPrometheusRegistry(reg services.Registry, m *apiMetrics, logger *zap.Logger) *prometheus.Registry {
	pr := prometheus.NewRegistry()
	pr.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.searches,
		m.searchHits,
		m.syncRuns,
		m.syncRecords,
		newCollectionCollector(reg, logger),
	)
	return pr
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
