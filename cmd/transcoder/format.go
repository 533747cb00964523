package main

import (
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

func formatSize(bytes int64) string {
	if bytes <= 0 {
		return "-"
	}
	return humanize.IBytes(uint64(bytes))
}

func formatBitrate(bitsPerSecond int64) string {
	if bitsPerSecond <= 0 {
		return "-"
	}
	return humanize.SIWithDigits(float64(bitsPerSecond), 1, "bps")
}

// formatAge renders the time since the last transition relative to now.
func formatAge(age time.Duration, now time.Time) string {
	if age <= 0 {
		return "-"
	}
	return humanize.RelTime(now.Add(-age), now, "ago", "from now")
}

// truncate shortens s to at most width runes.
func truncate(s string, width int) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "\n", " "))
	runes := []rune(s)
	if width <= 0 || len(runes) <= width {
		return s
	}
	if width <= 3 {
		return string(runes[:width])
	}
	return string(runes[:width-3]) + "..."
}
