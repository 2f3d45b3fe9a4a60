package watch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/spool/internal/events"
)

const refreshEvery = 2 * time.Second

// Model is the main BubbleTea model for the watch TUI.
type Model struct {
	client Client

	width  int
	height int

	health   HealthState
	requests table.Model
	count    int
	eventLog []events.Event
	pulse    Pulse
	theme    Theme
	now      func() time.Time

	hubEvents chan events.Event

	lastError string
}

// New creates a new watch TUI model.
func New(apiURL, apiKey string) *Model {
	return &Model{
		client:    Client{BaseURL: apiURL, APIKey: apiKey},
		requests:  newRequestTable(),
		eventLog:  make([]events.Event, 0),
		hubEvents: make(chan events.Event, 100),
		theme:     NewDefaultTheme(),
		now:       time.Now,
	}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.client, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		fetchHealth(m.client),
		fetchRequests(m.client),
		tick(),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, tea.Batch(fetchHealth(m.client), fetchRequests(m.client))
		}
		var cmd tea.Cmd
		m.requests, cmd = m.requests.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.requests.SetWidth(max(20, m.width-8))
		m.requests.SetHeight(max(5, m.height/3))

	case tickMsg:
		m.pulse.Decay(time.Time(msg))
		return m, tick()

	case eventMsg:
		e := events.Event(msg)
		m.eventLog = append([]events.Event{e}, m.eventLog...)
		if len(m.eventLog) > eventLogSize {
			m.eventLog = m.eventLog[:eventLogSize]
		}
		m.pulse.OnEvent(m.now())
		m.health.Connected = true
		m.lastError = ""
		return m, tea.Batch(receiveNextEvent(m.hubEvents), fetchRequests(m.client))

	case healthMsg:
		m.health.Status = msg.Status
		m.health.UptimeSeconds = msg.UptimeSeconds
		m.health.InMemory = msg.InMemory
		m.health.Alive = msg.Alive
		m.health.PollIntervalMs = msg.PollIntervalMs
		m.health.Connected = true
		m.health.LastCheck = m.now()
		m.lastError = ""
		return m, tea.Tick(refreshEvery, func(time.Time) tea.Msg {
			return fetchHealth(m.client)()
		})

	case requestsMsg:
		m.count = len(msg.Requests)
		m.requests.SetRows(requestRows(msg.Requests, m.now()))

	case sseDisconnectedMsg:
		m.health.Connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		return m, tea.Tick(3*time.Second, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		return m, subscribeToEvents(m.client, m.hubEvents)

	case errMsg:
		m.health.Connected = false
		m.lastError = msg.Error()
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg {
			return fetchHealth(m.client)()
		})
	}

	return m, nil
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to spool..."
	}

	now := m.now()
	header := renderHeader(m.health, m.pulse, m.theme, m.width, now)
	requests := renderRequests(m.requests, m.count, m.theme, m.width)
	eventRows := max(5, m.height-lipgloss.Height(header)-lipgloss.Height(requests)-8)
	eventStream := renderEventStream(m.eventLog, m.theme, m.width, eventRows)

	parts := []string{header, requests, eventStream}
	if m.lastError != "" {
		parts = append(parts, m.theme.StatusFailed.Render(fmt.Sprintf(" ⚠ %s", m.lastError)))
	}
	parts = append(parts, lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render(" [q] Quit • [r] Refresh • [↑/↓] Scroll"))

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}
