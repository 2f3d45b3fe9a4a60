package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/spool/internal/events"
)

const eventLogSize = 50

func renderEventStream(eventLog []events.Event, theme Theme, width, rows int) string {
	innerWidth := width - 4

	body := theme.Dim.Render("  Waiting for events...")
	if len(eventLog) > 0 {
		lines := make([]string, 0, rows)
		for i, e := range eventLog {
			if i >= rows {
				break
			}
			lines = append(lines, formatEvent(e, theme))
		}
		body = lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
	}

	return theme.Border.Width(innerWidth).Render(
		lipgloss.JoinVertical(lipgloss.Left, theme.Title.Render("EVENT STREAM"), body),
	)
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Format("15:04:05"))
	suffix := e.Type[strings.LastIndex(e.Type, ".")+1:]
	typeName := theme.OutcomeStyle(suffix).Render(fmt.Sprintf("%-24s", e.Type))
	return fmt.Sprintf("%s %s %s", ts, typeName, describeEvent(e))
}

func describeEvent(e events.Event) string {
	switch e.Type {
	case events.QueueDuplicate:
		var d events.DuplicateData
		if err := json.Unmarshal(e.Data, &d); err == nil {
			return strings.Join(d.Keys, ", ")
		}
	default:
		var d events.RequestData
		if err := json.Unmarshal(e.Data, &d); err == nil && d.Key != "" {
			desc := d.Key
			if len(d.ID) > 8 {
				desc += " [" + d.ID[:8] + "]"
			}
			if d.Error != "" {
				desc += " " + d.Error
			}
			return desc
		}
	}

	raw := string(e.Data)
	if len(raw) > 60 {
		raw = raw[:60] + "..."
	}
	return raw
}
