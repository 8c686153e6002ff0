package watch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/punchkit/punchclock/internal/events"
)

// Model is the main BubbleTea model for the watch TUI.
type Model struct {
	apiURL string
	apiKey string

	width  int
	height int

	health    HealthState
	timers    []timerRow
	eventLog  []events.Event
	lastEvent time.Time

	timerTable table.Model
	theme      Theme

	hubEvents chan events.Event

	lastError string
}

// New creates a new watch TUI model.
func New(apiURL, apiKey string) *Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "User", Width: 12},
			{Title: "Task", Width: 14},
			{Title: "State", Width: 8},
			{Title: "Session", Width: 10},
			{Title: "Status", Width: 28},
		}),
		table.WithFocused(true),
		table.WithHeight(8),
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

	return &Model{
		apiURL:     apiURL,
		apiKey:     apiKey,
		eventLog:   make([]events.Event, 0),
		hubEvents:  make(chan events.Event, 100),
		timerTable: t,
		theme:      NewDefaultTheme(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.apiURL, m.apiKey, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		func() tea.Msg { return fetchHealth(m.apiURL, m.apiKey) },
		func() tea.Msg { return fetchTimers(m.apiURL, m.apiKey) },
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, func() tea.Msg { return fetchTimers(m.apiURL, m.apiKey) }
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.timerTable.SetWidth(m.width - 6)

	case tickMsg:
		// Session durations advance client-side between polls.
		m.timerTable.SetRows(m.tableRows())
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case eventMsg:
		e := events.Event(msg)

		// Newest first.
		m.eventLog = append([]events.Event{e}, m.eventLog...)
		if len(m.eventLog) > eventLogDepth {
			m.eventLog = m.eventLog[:eventLogDepth]
		}
		m.lastEvent = time.Now()
		m.health.Connected = true
		m.lastError = ""

		cmds := []tea.Cmd{receiveNextEvent(m.hubEvents)}
		switch e.Type {
		case events.TypeTimerStarted, events.TypeTimerStopped, events.TypeTimerRefreshed:
			cmds = append(cmds, func() tea.Msg { return fetchTimers(m.apiURL, m.apiKey) })
		}
		return m, tea.Batch(cmds...)

	case timersMsg:
		m.timers = msg
		m.timerTable.SetRows(m.tableRows())
		return m, tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
			return fetchTimers(m.apiURL, m.apiKey)
		})

	case healthMsg:
		m.health.Status = msg.Status
		m.health.Uptime = time.Duration(msg.UptimeMS) * time.Millisecond
		m.health.Connected = true
		m.health.LastCheck = time.Now()
		m.lastError = ""
		return m, tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
			return fetchHealth(m.apiURL, m.apiKey)
		})

	case sseDisconnectedMsg:
		m.health.Connected = false
		m.lastError = "SSE disconnected, reconnecting..."
		return m, tea.Tick(3*time.Second, func(t time.Time) tea.Msg {
			return reconnectMsg{}
		})

	case reconnectMsg:
		return m, subscribeToEvents(m.apiURL, m.apiKey, m.hubEvents)

	case errMsg:
		m.lastError = msg.Error()
		return m, tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
			return fetchHealth(m.apiURL, m.apiKey)
		})
	}

	m.timerTable, cmd = m.timerTable.Update(msg)
	return m, cmd
}

func (m Model) tableRows() []table.Row {
	rows := make([]table.Row, 0, len(m.timers))
	for _, t := range m.timers {
		state := "stopped"
		session := "-"
		if t.Running {
			state = "running"
			if t.StartedAt != nil {
				session = time.Since(*t.StartedAt).Truncate(time.Second).String()
			}
		}
		rows = append(rows, table.Row{t.UserID, t.TaskID, state, session, t.Status})
	}
	return rows
}

func (m Model) runningCount() int {
	n := 0
	for _, t := range m.timers {
		if t.Running {
			n++
		}
	}
	return n
}

func (m Model) View() string {
	if m.width == 0 {
		return "Initializing watch..."
	}

	header := renderHeader(m.health, m.runningCount(), m.lastEvent, m.theme, m.width)

	tableContent := lipgloss.JoinVertical(lipgloss.Left,
		m.theme.Title.Render("TIMERS"),
		m.timerTable.View(),
	)
	timers := m.theme.Border.Width(m.width - 4).Render(tableContent)

	eventStream := renderEventStream(m.eventLog, m.theme, m.width)

	var errBar string
	if m.lastError != "" {
		errBar = m.theme.StatusFailed.Render(fmt.Sprintf(" ⚠ %s", m.lastError))
	}

	help := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render(" [q] Quit • [r] Refresh • [↑/↓] Navigate")

	parts := []string{header, timers, eventStream}
	if errBar != "" {
		parts = append(parts, errBar)
	}
	parts = append(parts, help)

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}
