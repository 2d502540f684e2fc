package monitor

import (
	"fmt"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewModel(t *testing.T) {
	model := NewModel("http://localhost:8787", 5*time.Second)
	assert.Equal(t, "http://localhost:8787", model.serverURL)
	assert.Equal(t, 5*time.Second, model.interval)
	assert.False(t, model.quitting)
}

func TestModel_Init(t *testing.T) {
	model := NewModel("http://localhost:8787", 5*time.Second)
	assert.NotNil(t, model.Init())
}

func TestModel_Update_QuitKey(t *testing.T) {
	model := NewModel("http://localhost:8787", 5*time.Second)

	keyMsg := tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}}
	updatedModel, cmd := model.Update(keyMsg)

	m := updatedModel.(Model)
	assert.True(t, m.quitting)
	assert.NotNil(t, cmd)
	assert.Empty(t, m.View())
}

func TestModel_Update_RefreshKey(t *testing.T) {
	model := NewModel("http://localhost:8787", 5*time.Second)

	keyMsg := tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'r'}}
	updatedModel, cmd := model.Update(keyMsg)

	m := updatedModel.(Model)
	assert.False(t, m.quitting)
	assert.NotNil(t, cmd)
}

func TestModel_Update_TickMsg(t *testing.T) {
	model := NewModel("http://localhost:8787", 5*time.Second)

	updatedModel, cmd := model.Update(tickMsg(time.Now()))

	m := updatedModel.(Model)
	assert.False(t, m.quitting)
	assert.NotNil(t, cmd)
}

func TestModel_Update_SampleMsg(t *testing.T) {
	model := NewModel("http://localhost:8787", 5*time.Second)
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	first := Sample{At: start, IndexUp: true, SearchOK: 10, SearchResults: 50, RecordsInserted: 100, ResidentBytes: 64 << 20}
	updated, cmd := model.Update(sampleMsg(first))
	assert.Nil(t, cmd)
	m := updated.(Model)
	assert.Zero(t, m.metrics.SearchRate, "a single scrape has no rate")
	assert.Empty(t, m.metrics.SearchHistory)
	assert.Equal(t, 5.0, m.metrics.ResultsPerQuery)
	assert.Equal(t, start, m.lastUpdate)

	second := Sample{At: start.Add(30 * time.Second), IndexUp: true, SearchOK: 25, SearchErrors: 1, SearchResults: 110, RecordsInserted: 400, ResidentBytes: 1024 << 20}
	updated, _ = m.Update(sampleMsg(second))
	m = updated.(Model)
	assert.InDelta(t, 32.0, m.metrics.SearchRate, 1e-9)
	assert.InDelta(t, 2.0, m.metrics.SearchErrorRate, 1e-9)
	assert.InDelta(t, 600.0, m.metrics.InsertRate, 1e-9)
	assert.Len(t, m.metrics.SearchHistory, 1)
	assert.Len(t, m.metrics.MemoryHistory, 2)
	assert.Equal(t, 1024.0, m.metrics.MemoryCeiling, "memory ceiling follows the largest reading")
}

func TestModel_Update_ErrMsg(t *testing.T) {
	model := NewModel("http://localhost:8787", 5*time.Second)

	updatedModel, cmd := model.Update(errMsg(fmt.Errorf("connection refused")))

	m := updatedModel.(Model)
	require.Error(t, m.err)
	assert.Contains(t, m.err.Error(), "connection refused")
	assert.Nil(t, cmd)
}

func TestSeries_Push(t *testing.T) {
	var h series
	for i := 0; i < historySize+5; i++ {
		h = h.push(float64(i))
	}
	assert.Len(t, h, historySize)
	assert.Equal(t, 5.0, h[0])
	assert.Equal(t, float64(historySize+4), h[len(h)-1])
}

func TestStatusBadge(t *testing.T) {
	tests := []struct {
		name string
		s    MetricsSnapshot
		want string
	}{
		{"index down", MetricsSnapshot{}, "INDEX DOWN"},
		{"search errors", MetricsSnapshot{Sample: Sample{IndexUp: true}, SearchErrorRate: 1, SyncErrorRate: 1}, "SEARCH ERRORS"},
		{"sync failing", MetricsSnapshot{Sample: Sample{IndexUp: true}, SyncErrorRate: 0.5}, "SYNC FAILING"},
		{"healthy", MetricsSnapshot{Sample: Sample{IndexUp: true}}, "HEALTHY"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, statusBadge(tt.s), tt.want)
		})
	}
}

func TestModel_View_WithMetrics(t *testing.T) {
	model := NewModel("http://localhost:8787", 5*time.Second)
	now := time.Date(2024, 1, 1, 12, 34, 56, 0, time.UTC)
	model.apply(Sample{
		At:            now,
		IndexUp:       true,
		SearchOK:      1234,
		SyncRuns:      3,
		Goroutines:    42,
		ResidentBytes: 24 << 20,
		StartTime:     now.Add(-135 * time.Minute),
		Collections: []CollectionSample{
			{Name: "emails_ollama_nomic_embed_text", ModelID: "ollama_nomic_embed_text", Members: 1200, LastSync: now.Add(-2 * time.Hour)},
		},
	})

	view := model.View()

	assert.Contains(t, view, "mailindex Monitor")
	assert.Contains(t, view, "HEALTHY")
	assert.Contains(t, view, "12:34:56")
	assert.Contains(t, view, "2h 15m")
	assert.Contains(t, view, "Search")
	assert.Contains(t, view, "1,234")
	assert.Contains(t, view, "Collections")
	assert.Contains(t, view, "emails_ollama_nomic_embed_text")
	assert.Contains(t, view, "1,200")
	assert.Contains(t, view, "2h 0m ago")
	assert.Contains(t, view, "24.0 MB")
	assert.Contains(t, view, "42")
	assert.Contains(t, view, "[q]")
	assert.Contains(t, view, "[r]")
}

func TestModel_View_IndexDown(t *testing.T) {
	model := NewModel("http://localhost:8787", 5*time.Second)
	model.apply(Sample{At: time.Now()})

	view := model.View()
	assert.Contains(t, view, "INDEX DOWN")
	assert.Contains(t, view, "mailindex sync")
}

func TestModel_View_WithError(t *testing.T) {
	model := NewModel("http://localhost:8787", 5*time.Second)
	model.err = fmt.Errorf("connection refused")

	view := model.View()

	assert.Contains(t, view, "Cannot reach mailindex server")
	assert.Contains(t, view, "connection refused")
	assert.Contains(t, view, "http://localhost:8787")
	assert.Contains(t, view, "[q]")
	assert.Contains(t, view, "[r]")
}

func TestModel_View_NoData(t *testing.T) {
	model := NewModel("http://localhost:8787", 5*time.Second)

	view := model.View()

	assert.Contains(t, view, "mailindex Monitor")
	assert.Contains(t, view, "Never")
	assert.Contains(t, view, "[q]")
}
