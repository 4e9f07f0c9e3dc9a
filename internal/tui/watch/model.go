package watch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattjoyce/relay/internal/events"
	"github.com/mattjoyce/relay/internal/monitor"
)

const (
	maxEventLog     = 50
	workersInterval = time.Second
	healthInterval  = 5 * time.Second
	reconnectDelay  = 3 * time.Second
)

// Model is the main BubbleTea model for the watch TUI.
type Model struct {
	apiURL string
	apiKey string

	width  int
	height int

	// State
	health      HealthState
	workers     []monitor.WorkerStatus
	eventLog    []events.Event
	lastEventID int64
	now         time.Time

	// Live indicators
	ticker  Ticker
	spinner Spinner

	// UI state
	theme Theme
	table table.Model

	// Communication
	hubEvents chan events.Event

	// Error display
	lastError string
}

// New creates a new watch TUI model for the server at apiURL. apiKey needs
// the workers:ro and events:ro scopes.
func New(apiURL, apiKey string) *Model {
	theme := NewDefaultTheme()
	return &Model{
		apiURL:    apiURL,
		apiKey:    apiKey,
		eventLog:  make([]events.Event, 0),
		hubEvents: make(chan events.Event, 100),
		now:       time.Now(),
		ticker:    NewTicker(),
		spinner:   NewSpinner(),
		theme:     theme,
		table:     newWorkerTable(theme),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.apiURL, m.apiKey, 0, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		func() tea.Msg { return fetchHealth(m.apiURL, m.apiKey) },
		func() tea.Msg { return fetchWorkers(m.apiURL, m.apiKey) },
		tick(),
		tea.EnterAltScreen,
	)
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.table, cmd = m.table.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.refreshTable()

	case tickMsg:
		m.now = time.Time(msg)
		m.ticker.Tick()
		m.spinner.Decay(m.now)
		return m, tick()

	case eventMsg:
		e := events.Event(msg)

		// Replays after a reconnect can overlap what we already have.
		if e.ID != 0 && e.ID <= m.lastEventID {
			return m, receiveNextEvent(m.hubEvents)
		}
		if e.ID > m.lastEventID {
			m.lastEventID = e.ID
		}

		// Newest first
		m.eventLog = append([]events.Event{e}, m.eventLog...)
		if len(m.eventLog) > maxEventLog {
			m.eventLog = m.eventLog[:maxEventLog]
		}

		m.spinner.OnEvent(e.At)
		m.health.Connected = true
		m.lastError = ""

		return m, receiveNextEvent(m.hubEvents)

	case workersMsg:
		m.workers = msg.Workers
		m.refreshTable()
		m.health.Connected = true
		m.lastError = ""
		return m, tea.Tick(workersInterval, func(time.Time) tea.Msg {
			return fetchWorkers(m.apiURL, m.apiKey)
		})

	case healthMsg:
		m.health.Status = msg.Status
		m.health.ClientState = msg.ClientState
		m.health.Session = msg.Session
		m.health.UptimeSeconds = msg.UptimeSeconds
		m.health.Workers = msg.Workers
		m.health.WorkersOnline = msg.WorkersOnline
		m.health.WorkersTimeout = msg.WorkersTimeout
		m.health.Connected = true
		m.health.LastCheck = m.now
		m.lastError = ""

		return m, tea.Tick(healthInterval, func(time.Time) tea.Msg {
			return fetchHealth(m.apiURL, m.apiKey)
		})

	case sseDisconnectedMsg:
		m.health.Connected = false
		m.lastError = "SSE disconnected, reconnecting..."
		// The pending receiveNextEvent keeps reading the same channel, so
		// the new subscription only needs to be started.
		return m, tea.Tick(reconnectDelay, func(time.Time) tea.Msg {
			return reconnectMsg{}
		})

	case reconnectMsg:
		return m, subscribeToEvents(m.apiURL, m.apiKey, m.lastEventID, m.hubEvents)

	case errMsg:
		// Only the event subscription reports errMsg.
		m.lastError = msg.Error()
		return m, tea.Tick(reconnectDelay, func(time.Time) tea.Msg {
			return reconnectMsg{}
		})

	case pollErrMsg:
		m.lastError = msg.err.Error()
		if msg.workers {
			return m, tea.Tick(healthInterval, func(time.Time) tea.Msg {
				return fetchWorkers(m.apiURL, m.apiKey)
			})
		}
		m.health.Connected = false
		return m, tea.Tick(healthInterval, func(time.Time) tea.Msg {
			return fetchHealth(m.apiURL, m.apiKey)
		})
	}

	return m, nil
}

func (m *Model) refreshTable() {
	width := m.width
	if width == 0 {
		width = 80
	}
	resizeWorkerTable(&m.table, width, len(m.workers))
	cols := m.table.Columns()
	m.table.SetRows(workerRows(m.workers, cols[len(cols)-1].Width))
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to relay..."
	}

	header := renderHeader(m.health, m.ticker, m.spinner, m.theme, m.width, m.now)
	workers := renderWorkers(m.table, m.workers, m.theme, m.width)
	eventStream := renderEventStream(m.eventLog, m.theme, m.width)

	parts := []string{header, workers, eventStream}
	if m.lastError != "" {
		parts = append(parts, m.theme.StatusFailed.Render(fmt.Sprintf(" ⚠ %s", m.lastError)))
	}
	parts = append(parts, lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render(" [q] Quit • [↑/↓] Select worker"))

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}
