package monitor

import "github.com/charmbracelet/lipgloss"

var (
	cyan   = lipgloss.Color("51")
	teal   = lipgloss.Color("45")
	white  = lipgloss.Color("231")
	grey   = lipgloss.Color("245")
	border = lipgloss.Color("238")

	bold = lipgloss.NewStyle().Bold(true)

	headerStyle  = bold.Foreground(lipgloss.Color("0")).Background(cyan).Padding(0, 1)
	sectionStyle = bold.Foreground(cyan).MarginTop(1)
	labelStyle   = lipgloss.NewStyle().Foreground(teal)
	valueStyle   = bold.Foreground(white)
	dimStyle     = lipgloss.NewStyle().Foreground(grey)

	okStyle   = bold.Foreground(lipgloss.Color("46"))
	warnStyle = bold.Foreground(lipgloss.Color("226"))
	badStyle  = bold.Foreground(lipgloss.Color("196"))

	frameStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(border).
			Padding(1, 2)

	keyStyle   = bold.Foreground(cyan)
	sparkStyle = lipgloss.NewStyle().Foreground(cyan)
)

func section(title string) string {
	return "\n" + sectionStyle.Render("┃ "+title) + "\n"
}

// keys renders the footer, e.g. "[q] quit  [r] refresh".
func keys(pairs ...string) string {
	out := ""
	for i := 0; i+1 < len(pairs); i += 2 {
		out += keyStyle.Render("["+pairs[i]+"]") + dimStyle.Render(" "+pairs[i+1]+"  ")
	}
	return out
}
