// Package monitor is a terminal dashboard for a running mailindex server.
package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	historySize     = 30

	scrapeTimeout = 5 * time.Second
	mib           = 1 << 20
)

// series keeps the last historySize points of one rate for a sparkline.
type series []float64

func (s series) push(v float64) series {
	s = append(s, v)
	if len(s) > historySize {
		s = s[len(s)-historySize:]
	}
	return s
}

func (s series) render() string {
	if len(s) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparklineWidth, "no data"))
	}
	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range s {
		spark.Push(v)
	}
	spark.Draw()
	return sparkStyle.Render(spark.View())
}

// MetricsSnapshot is the latest scrape plus what only two scrapes can
// tell: per-minute rates and their recent history.
type MetricsSnapshot struct {
	Sample

	SearchRate      float64
	SearchErrorRate float64
	SyncErrorRate   float64
	ResultsPerQuery float64
	InsertRate      float64

	SearchHistory series
	InsertHistory series
	MemoryHistory series

	// MemoryCeiling scales the memory bar, in MiB. It starts at 512 and
	// grows with the largest reading.
	MemoryCeiling float64
}

// Model is the bubbletea model behind mailindex monitor.
type Model struct {
	serverURL  string
	interval   time.Duration
	lastUpdate time.Time
	metrics    MetricsSnapshot
	prev       *Sample
	err        error
	quitting   bool

	memoryBar progress.Model
	shareBar  progress.Model
}

func NewModel(serverURL string, interval time.Duration) Model {
	return Model{
		serverURL: serverURL,
		interval:  interval,
		memoryBar: progress.New(progress.WithGradient("#00ff00", "#ffff00"), progress.WithWidth(40)),
		shareBar:  progress.New(progress.WithGradient("#00ffff", "#ff00ff"), progress.WithWidth(20)),
		metrics:   MetricsSnapshot{MemoryCeiling: 512},
	}
}

type (
	tickMsg   time.Time
	sampleMsg Sample
	errMsg    error
)

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.tick(), m.scrape())
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) scrape() tea.Cmd {
	url := m.serverURL
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), scrapeTimeout)
		defer cancel()
		s, err := NewMetricsClient(url).Scrape(ctx)
		if err != nil {
			return errMsg(err)
		}
		return sampleMsg(s)
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, m.scrape()
		}
	case tickMsg:
		return m, tea.Batch(m.tick(), m.scrape())
	case sampleMsg:
		m.apply(Sample(msg))
		m.err = nil
	case errMsg:
		m.err = msg
	}
	return m, nil
}

// apply folds a scrape into the snapshot. The first scrape yields no rates.
func (m *Model) apply(s Sample) {
	prev := m.metrics
	next := MetricsSnapshot{
		Sample:        s,
		SearchHistory: prev.SearchHistory,
		InsertHistory: prev.InsertHistory,
		MemoryCeiling: prev.MemoryCeiling,
	}
	if s.SearchOK > 0 {
		next.ResultsPerQuery = s.SearchResults / s.SearchOK
	}
	if p := m.prev; p != nil {
		elapsed := s.At.Sub(p.At)
		next.SearchRate = perMinute(p.SearchOK+p.SearchErrors, s.SearchOK+s.SearchErrors, elapsed)
		next.SearchErrorRate = perMinute(p.SearchErrors, s.SearchErrors, elapsed)
		next.SyncErrorRate = perMinute(p.SyncErrors, s.SyncErrors, elapsed)
		next.InsertRate = perMinute(p.RecordsInserted, s.RecordsInserted, elapsed)
		next.SearchHistory = next.SearchHistory.push(next.SearchRate)
		next.InsertHistory = next.InsertHistory.push(next.InsertRate)
	}

	residentMiB := s.ResidentBytes / mib
	next.MemoryHistory = prev.MemoryHistory.push(residentMiB)
	next.MemoryCeiling = max(next.MemoryCeiling, residentMiB)

	m.metrics = next
	m.prev = &s
	m.lastUpdate = s.At
}

func statusBadge(s MetricsSnapshot) string {
	switch {
	case !s.IndexUp:
		return badStyle.Render("✗ INDEX DOWN")
	case s.SearchErrorRate > 0:
		return warnStyle.Render("⚠ SEARCH ERRORS")
	case s.SyncErrorRate > 0:
		return warnStyle.Render("⚠ SYNC FAILING")
	default:
		return okStyle.Render("✓ HEALTHY")
	}
}

func (m Model) View() string {
	switch {
	case m.quitting:
		return ""
	case m.err != nil:
		return m.viewUnreachable()
	default:
		return m.viewDashboard()
	}
}

func (m Model) viewUnreachable() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(" mailindex Monitor ") + "\n\n")
	b.WriteString(badStyle.Render("⚠ Cannot reach mailindex server") + "\n\n")
	b.WriteString(dimStyle.Render("URL: ") + valueStyle.Render(m.serverURL) + "\n")
	b.WriteString(dimStyle.Render("Error: ") + badStyle.Render(m.err.Error()) + "\n\n")
	b.WriteString(dimStyle.Render("Start the API with: mailindex serve") + "\n\n")
	b.WriteString(keys("q", "quit", "r", "retry"))
	return frameStyle.Render(b.String())
}

func (m Model) viewDashboard() string {
	s := m.metrics
	var b strings.Builder

	updated, uptime := "Never", "-"
	if !m.lastUpdate.IsZero() {
		updated = m.lastUpdate.Format("3:04:05 PM")
		if !s.StartTime.IsZero() {
			uptime = FormatDuration(int64(m.lastUpdate.Sub(s.StartTime).Seconds()))
		}
	}
	b.WriteString(headerStyle.Render(" mailindex Monitor ") + "\n")
	fmt.Fprintf(&b, "%s   %s %s   %s\n",
		statusBadge(s), dimStyle.Render("Uptime:"), valueStyle.Render(uptime), dimStyle.Render(updated))

	b.WriteString(section("Search"))
	b.WriteString(labelStyle.Render("  Rate: ") + valueStyle.Render(FormatRate(s.SearchRate)) +
		"   " + s.SearchHistory.render() + "\n")
	b.WriteString(stat("Total", FormatCount(s.SearchOK+s.SearchErrors),
		"errors", FormatCount(s.SearchErrors),
		"results/query", fmt.Sprintf("%.1f", s.ResultsPerQuery)))

	b.WriteString(section("Sync"))
	b.WriteString(labelStyle.Render("  Inserted: ") + valueStyle.Render(FormatRate(s.InsertRate)) +
		"   " + s.InsertHistory.render() + "\n")
	b.WriteString(stat("Runs", FormatCount(s.SyncRuns),
		"failed", FormatCount(s.SyncErrors),
		"inserted", FormatCount(s.RecordsInserted),
		"skipped", FormatCount(s.RecordsSkipped),
		"absent", FormatCount(s.RecordsAbsent)))

	b.WriteString(section("Collections"))
	b.WriteString(m.viewCollections() + "\n")

	b.WriteString(section("System"))
	fill := 0.0
	if s.MemoryCeiling > 0 {
		fill = min(s.ResidentBytes/mib/s.MemoryCeiling, 1)
	}
	b.WriteString(labelStyle.Render("  Memory: ") + m.memoryBar.ViewAs(fill) +
		" " + dimStyle.Render(FormatMemory(uint64(s.ResidentBytes))) + "\n")
	b.WriteString(stat("Goroutines", fmt.Sprintf("%.0f", s.Goroutines)))

	b.WriteString("\n" + keys("q", "quit", "r", "refresh") + dimStyle.Render(fmt.Sprintf("Auto: %v", m.interval)))
	return frameStyle.Render(b.String())
}

// stat renders "  Label: v  k1 v1  k2 v2".
func stat(label, value string, kv ...string) string {
	line := labelStyle.Render("  "+label+": ") + valueStyle.Render(value)
	for i := 0; i+1 < len(kv); i += 2 {
		line += dimStyle.Render("  "+kv[i]+" ") + valueStyle.Render(kv[i+1])
	}
	return line + "\n"
}

// viewCollections shows each collection's share of all indexed emails.
func (m Model) viewCollections() string {
	cols := m.metrics.Collections
	if len(cols) == 0 {
		return dimStyle.Render("  none yet; run mailindex sync")
	}
	var total float64
	for _, c := range cols {
		total += c.Members
	}
	rows := make([][]string, 0, len(cols))
	for _, c := range cols {
		share := 0.0
		if total > 0 {
			share = c.Members / total
		}
		rows = append(rows, []string{
			c.Name,
			m.shareBar.ViewAs(share),
			FormatCount(c.Members),
			FormatAge(c.LastSync, m.lastUpdate),
		})
	}
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(border)).
		Headers("collection", "share", "emails", "synced").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return labelStyle.Padding(0, 1)
			case col == 2:
				return valueStyle.Padding(0, 1).Align(lipgloss.Right)
			default:
				return lipgloss.NewStyle().Padding(0, 1)
			}
		}).
		Render()
}
