package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// HealthState tracks spool health from /healthz polling.
type HealthState struct {
	Status         string
	UptimeSeconds  int64
	InMemory       int
	Alive          int
	PollIntervalMs int64
	Connected      bool
	LastCheck      time.Time
}

func renderHeader(health HealthState, pulse Pulse, theme Theme, width int, now time.Time) string {
	innerWidth := width - 4

	statusText := theme.StatusOK.Render("HEALTHY")
	switch {
	case !health.Connected:
		statusText = theme.StatusFailed.Render("CONNECTING")
	case health.Status != "ok" && health.Status != "":
		statusText = theme.StatusFailed.Render("DEGRADED")
	}

	lastEvent := "never"
	if !pulse.LastEvent().IsZero() {
		lastEvent = fmt.Sprintf("%s ago", now.Sub(pulse.LastEvent()).Round(time.Second))
	}

	title := " SPOOL WATCH"
	clock := theme.Dim.Render(now.Format("15:04:05"))
	pad := max(1, innerWidth-lipgloss.Width(title)-lipgloss.Width(clock)-4)
	titleLine := title + strings.Repeat(" ", pad) + clock + " "

	poll := time.Duration(health.PollIntervalMs) * time.Millisecond
	statsLine := fmt.Sprintf(" %s  up %s  in memory: %d  alive: %d  poll: %s",
		statusText,
		formatDuration(time.Duration(health.UptimeSeconds)*time.Second),
		health.InMemory,
		health.Alive,
		theme.Highlight.Render(poll.String()),
	)

	activityLine := fmt.Sprintf(" Last event: %s %s", lastEvent, pulse.Render(theme))

	return theme.Border.Width(innerWidth).Render(
		lipgloss.JoinVertical(lipgloss.Left, titleLine, statsLine, activityLine),
	)
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
