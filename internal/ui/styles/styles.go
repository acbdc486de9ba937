// Package styles holds the shared colors and styles for terminal output.
package styles

import "github.com/charmbracelet/lipgloss"

// Colors adapt to light and dark terminals.
var (
	TextPrimaryColor   = lipgloss.AdaptiveColor{Light: "#1A1A1A", Dark: "#E6E6E6"}
	TextMutedColor     = lipgloss.AdaptiveColor{Light: "#8A8A8A", Dark: "#6C6C6C"}
	AccentColor        = lipgloss.AdaptiveColor{Light: "#0B63CE", Dark: "#54A0FF"}
	RecordingColor     = lipgloss.AdaptiveColor{Light: "#C0392B", Dark: "#FF6B6B"}
	StatusSuccessColor = lipgloss.AdaptiveColor{Light: "#1E8449", Dark: "#2ECC71"}
	StatusWarningColor = lipgloss.AdaptiveColor{Light: "#B9770E", Dark: "#FECA57"}
	StatusErrorColor   = lipgloss.AdaptiveColor{Light: "#C0392B", Dark: "#FF6B6B"}
	BorderColor        = lipgloss.AdaptiveColor{Light: "#BFBFBF", Dark: "#444444"}
)

var (
	TitleStyle = lipgloss.NewStyle().Bold(true).Foreground(AccentColor)
	MutedStyle = lipgloss.NewStyle().Foreground(TextMutedColor)
	ErrorStyle = lipgloss.NewStyle().Foreground(StatusErrorColor)
	OKStyle    = lipgloss.NewStyle().Foreground(StatusSuccessColor)
)

// LevelStyle returns the style for a formatted log line based on its level
// tag.
func LevelStyle(level string) lipgloss.Style {
	switch level {
	case "ERROR":
		return lipgloss.NewStyle().Foreground(StatusErrorColor)
	case "WARN":
		return lipgloss.NewStyle().Foreground(StatusWarningColor)
	case "INFO":
		return lipgloss.NewStyle().Foreground(AccentColor)
	case "DEBUG":
		return lipgloss.NewStyle().Foreground(TextMutedColor)
	default:
		return lipgloss.NewStyle().Foreground(TextPrimaryColor)
	}
}
