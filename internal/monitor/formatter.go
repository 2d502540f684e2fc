package monitor

import (
	"fmt"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

// FormatRate renders a per-minute rate, e.g. searches or inserted emails.
func FormatRate(perMinute float64) string {
	return fmt.Sprintf("%.1f/min", perMinute)
}

// FormatCount renders a counter with thousands separators: 12,408.
// Fractions are truncated.
func FormatCount(n float64) string {
	return printer.Sprintf("%d", int64(n))
}

// FormatMemory renders the server's resident set size in binary units.
func FormatMemory(bytes uint64) string {
	if bytes < 1024 {
		return fmt.Sprintf("%d B", bytes)
	}
	v := float64(bytes) / 1024
	for _, unit := range []string{"KB", "MB"} {
		if v < 1024 {
			return fmt.Sprintf("%.1f %s", v, unit)
		}
		v /= 1024
	}
	return fmt.Sprintf("%.1f GB", v)
}

// FormatDuration renders whole minutes, with hours once there are any.
func FormatDuration(seconds int64) string {
	d := time.Duration(seconds) * time.Second
	h, m := int64(d/time.Hour), int64(d%time.Hour/time.Minute)
	if h == 0 {
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%dh %dm", h, m)
}

// FormatAge is the "synced ..." column of the collections panel.
func FormatAge(t, now time.Time) string {
	switch d := now.Sub(t); {
	case t.IsZero():
		return "never"
	case d < time.Minute:
		return "just now"
	default:
		return FormatDuration(int64(d.Seconds())) + " ago"
	}
}
