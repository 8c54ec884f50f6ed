package output

import (
	"io"

	"github.com/charmbracelet/lipgloss"
)

var (
	colorError   = lipgloss.Color("#f38ba8")
	colorWarning = lipgloss.Color("#f9e2af")
	colorSuccess = lipgloss.Color("#a6e3a1")
	colorInfo    = lipgloss.Color("#89b4fa")
	colorSubtle  = lipgloss.Color("#a6adc8")
	colorMuted   = lipgloss.Color("#6c7086")
)

// Tone classifies a status word for coloring.
type Tone int

const (
	ToneNeutral Tone = iota
	ToneGood
	ToneWarn
	ToneBad
)

// ToneOf maps the node states, outcomes and connection words used by
// gnbdash to a tone.
func ToneOf(word string) Tone {
	switch word {
	case "RUNNING", "UP", "ok", "success", "completed":
		return ToneGood
	case "INITIALISING", "busy":
		return ToneWarn
	case "OFF", "DOWN", "timeout", "process_terminated_unexpectedly", "execution_error", "error":
		return ToneBad
	}
	return ToneNeutral
}

// Badge renders word colored by its tone when w is a color terminal.
func Badge(w io.Writer, word string) string {
	if !useColor(w) {
		return word
	}
	style := lipgloss.NewStyle().Bold(true)
	switch ToneOf(word) {
	case ToneGood:
		style = style.Foreground(colorSuccess)
	case ToneWarn:
		style = style.Foreground(colorWarning)
	case ToneBad:
		style = style.Foreground(colorError)
	default:
		style = style.Foreground(colorInfo)
	}
	return style.Render(word)
}
