package recorder

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/zjrosen/timeline/internal/log"
	"github.com/zjrosen/timeline/internal/ui/styles"
)

// levelTags are checked in order; the first tag found decides the level.
var levelTags = []struct {
	tag   string
	level log.Level
}{
	{"[ERROR]", log.LevelError},
	{"[WARN]", log.LevelWarn},
	{"[INFO]", log.LevelInfo},
	{"[DEBUG]", log.LevelDebug},
}

// entryLevel extracts the level from a formatted log line. Lines without a
// level tag report ok=false.
func entryLevel(entry string) (log.Level, bool) {
	for _, t := range levelTags {
		if strings.Contains(entry, t.tag) {
			return t.level, true
		}
	}
	return log.LevelDebug, false
}

// recentLogs returns the last n buffered log lines at or above minLevel.
func recentLogs(n int, minLevel log.Level) []string {
	var out []string
	for _, entry := range log.GetRecentLogs(n) {
		if lvl, ok := entryLevel(entry); ok && lvl < minLevel {
			continue
		}
		out = append(out, entry)
	}
	return out
}

// renderLogs colors and truncates entries to width.
func renderLogs(entries []string, width int) string {
	if len(entries) == 0 {
		return lipgloss.NewStyle().
			Foreground(styles.TextMutedColor).
			Italic(true).
			Render("No logs to display")
	}

	lines := make([]string, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSuffix(entry, "\n")
		if width > 3 && ansi.StringWidth(entry) > width {
			entry = ansi.Truncate(entry, width-3, "...")
		}
		lvl, ok := entryLevel(entry)
		name := ""
		if ok {
			name = lvl.String()
		}
		lines = append(lines, styles.LevelStyle(name).Render(entry))
	}
	return strings.Join(lines, "\n")
}
