package watch

import (
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/spool/internal/request"
)

func newRequestTable() table.Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 2},
			{Title: "Key", Width: 28},
			{Title: "ID", Width: 10},
			{Title: "Age", Width: 8},
			{Title: "State", Width: 10},
		}),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)
	return t
}

// requestRows turns the in-memory table into table rows, keeping the
// order the API returned.
func requestRows(snaps []request.Snapshot, now time.Time) []table.Row {
	rows := make([]table.Row, 0, len(snaps))
	for _, s := range snaps {
		icon, state := "○", "pending"
		switch {
		case s.Failed:
			icon, state = "✗", "rejected"
		case !s.Alive:
			icon, state = "✓", "resolved"
		}

		id := s.ID
		if len(id) > 8 {
			id = id[:8]
		}
		age := now.Sub(s.CreatedAt).Round(time.Second)
		if age < 0 {
			age = 0
		}

		rows = append(rows, table.Row{icon, s.Key, id, formatDuration(age), state})
	}
	return rows
}

func renderRequests(t table.Model, count int, theme Theme, width int) string {
	innerWidth := width - 4
	title := theme.Title.Render("REQUESTS")
	if count == 0 {
		return theme.Border.Width(innerWidth).Render(
			lipgloss.JoinVertical(lipgloss.Left, title, theme.Dim.Render("  Inbox is quiet.")),
		)
	}
	return theme.Border.Width(innerWidth).Render(
		lipgloss.JoinVertical(lipgloss.Left, title, t.View()),
	)
}
