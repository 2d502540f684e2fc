package monitor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/prometheus/common/model"
)

// MetricsClient scrapes the /metrics endpoint of a running mailindex server.
type MetricsClient struct {
	baseURL string
	client  *http.Client
}

// CollectionSample is one collection as reported by the server.
type CollectionSample struct {
	Name     string
	ModelID  string
	Members  float64
	LastSync time.Time
}

// Sample is a single scrape. Counters are raw totals; the dashboard turns
// consecutive samples into rates.
type Sample struct {
	At              time.Time
	IndexUp         bool
	SearchOK        float64
	SearchErrors    float64
	SearchResults   float64 // sum of the results histogram
	SyncRuns        float64
	SyncErrors      float64
	RecordsInserted float64
	RecordsSkipped  float64
	RecordsAbsent   float64
	Collections     []CollectionSample
	Goroutines      float64
	ResidentBytes   float64
	StartTime       time.Time
}

// NewMetricsClient creates a client for the server at baseURL.
func NewMetricsClient(baseURL string) *MetricsClient {
	return &MetricsClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 2 * time.Second,
		},
	}
}

// Scrape fetches and parses one exposition.
func (c *MetricsClient) Scrape(ctx context.Context) (Sample, error) {
	u, err := url.Parse(c.baseURL + "/metrics")
	if err != nil {
		return Sample{}, fmt.Errorf("invalid base URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Sample{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/plain")

	resp, err := c.client.Do(req)
	if err != nil {
		return Sample{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Sample{}, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}
	return parseSample(resp.Body, time.Now())
}

func parseSample(r io.Reader, at time.Time) (Sample, error) {
	parser := expfmt.NewTextParser(model.UTF8Validation)
	families, err := parser.TextToMetricFamilies(r)
	if err != nil {
		return Sample{}, fmt.Errorf("failed to parse metrics: %w", err)
	}

	s := Sample{At: at}
	s.IndexUp = gauge(families["mailindex_index_up"], nil) == 1
	s.SearchOK = counter(families["mailindex_search_requests_total"], map[string]string{"outcome": "ok"})
	s.SearchErrors = counter(families["mailindex_search_requests_total"], map[string]string{"outcome": "error"})
	s.SyncRuns = counter(families["mailindex_sync_runs_total"], nil)
	s.SyncErrors = counter(families["mailindex_sync_runs_total"], map[string]string{"outcome": "error"})
	s.RecordsInserted = counter(families["mailindex_sync_records_total"], map[string]string{"result": "inserted"})
	s.RecordsSkipped = counter(families["mailindex_sync_records_total"], map[string]string{"result": "skipped"})
	s.RecordsAbsent = counter(families["mailindex_sync_records_total"], map[string]string{"result": "absent"})
	s.Goroutines = gauge(families["go_goroutines"], nil)
	s.ResidentBytes = gauge(families["process_resident_memory_bytes"], nil)
	if start := gauge(families["process_start_time_seconds"], nil); start > 0 {
		s.StartTime = time.Unix(int64(start), 0)
	}
	if h := families["mailindex_search_results"]; h != nil {
		for _, m := range h.GetMetric() {
			s.SearchResults += m.GetHistogram().GetSampleSum()
		}
	}
	s.Collections = collections(families)
	return s, nil
}

func collections(families map[string]*dto.MetricFamily) []CollectionSample {
	byName := map[string]*CollectionSample{}
	get := func(name string) *CollectionSample {
		if c, ok := byName[name]; ok {
			return c
		}
		c := &CollectionSample{Name: name}
		byName[name] = c
		return c
	}

	if f := families["mailindex_collection_members"]; f != nil {
		for _, m := range f.GetMetric() {
			labels := labelMap(m)
			c := get(labels["collection"])
			c.ModelID = labels["model_id"]
			c.Members = m.GetGauge().GetValue()
		}
	}
	if f := families["mailindex_collection_last_sync_timestamp_seconds"]; f != nil {
		for _, m := range f.GetMetric() {
			c := get(labelMap(m)["collection"])
			if v := m.GetGauge().GetValue(); v > 0 {
				c.LastSync = time.Unix(int64(v), 0)
			}
		}
	}

	out := make([]CollectionSample, 0, len(byName))
	for _, c := range byName {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func labelMap(m *dto.Metric) map[string]string {
	labels := make(map[string]string, len(m.GetLabel()))
	for _, lp := range m.GetLabel() {
		labels[lp.GetName()] = lp.GetValue()
	}
	return labels
}

func matches(m *dto.Metric, want map[string]string) bool {
	labels := labelMap(m)
	for k, v := range want {
		if labels[k] != v {
			return false
		}
	}
	return true
}

// counter sums every series in f whose labels include want.
func counter(f *dto.MetricFamily, want map[string]string) float64 {
	if f == nil {
		return 0
	}
	var total float64
	for _, m := range f.GetMetric() {
		if matches(m, want) {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func gauge(f *dto.MetricFamily, want map[string]string) float64 {
	if f == nil {
		return 0
	}
	var total float64
	for _, m := range f.GetMetric() {
		if matches(m, want) {
			total += m.GetGauge().GetValue()
		}
	}
	return total
}

// perMinute converts the change between two counter readings to a rate.
// A counter reset yields zero.
func perMinute(prev, cur float64, elapsed time.Duration) float64 {
	if elapsed <= 0 || cur < prev {
		return 0
	}
	return (cur - prev) / elapsed.Minutes()
}
