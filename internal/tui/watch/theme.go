// Package watch implements the spool watch TUI: a live view of the
// in-memory request table and the event stream, fed by the status API.
package watch

import "github.com/charmbracelet/lipgloss"

// Theme keeps every colour used by the watch TUI and the status command.
type Theme struct {
	StatusOK      lipgloss.Style
	StatusPending lipgloss.Style
	StatusFailed  lipgloss.Style
	StatusExpired lipgloss.Style

	Border    lipgloss.Style
	Title     lipgloss.Style
	Header    lipgloss.Style
	Dim       lipgloss.Style
	Highlight lipgloss.Style

	PulseOn  lipgloss.Style
	PulseOff lipgloss.Style
}

func NewDefaultTheme() Theme {
	purple := lipgloss.Color("#874BFD")

	return Theme{
		StatusOK:      lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		StatusPending: lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00")),
		StatusFailed:  lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),
		StatusExpired: lipgloss.NewStyle().Foreground(lipgloss.Color("#666666")),

		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(purple),
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1),
		Header: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#61AFEF")),
		Dim:       lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		Highlight: lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),

		PulseOn:  lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		PulseOff: lipgloss.NewStyle().Foreground(lipgloss.Color("#444444")),
	}
}

// OutcomeStyle picks the colour for a ledger outcome or event type suffix.
func (t Theme) OutcomeStyle(outcome string) lipgloss.Style {
	switch outcome {
	case "dispatched", "ingested":
		return t.StatusOK
	case "rejected", "adapter_failed", "duplicate":
		return t.StatusFailed
	case "expired":
		return t.StatusExpired
	default:
		return t.Dim
	}
}
