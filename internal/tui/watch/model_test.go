package watch

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattjoyce/relay/internal/api"
	"github.com/mattjoyce/relay/internal/events"
	"github.com/mattjoyce/relay/internal/monitor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok)
	return out
}

func sampleWorkers() []monitor.WorkerStatus {
	return []monitor.WorkerStatus{
		{Worker: 1, Online: true, Processor: "node-1", PID: 1001},
		{Worker: 2, Online: true, Busy: true, Processor: "node-2", PID: 1002, Command: "sum(\n  xs)"},
		{Worker: 3, Online: true, Timeout: true, Processor: "node-3", PID: 1003},
	}
}

func TestModel_ViewBeforeResize(t *testing.T) {
	m := *New("http://localhost:0", "")
	assert.Equal(t, "Connecting to relay...", m.View())
}

func TestModel_WorkersRendered(t *testing.T) {
	m := *New("http://localhost:0", "")
	m = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})
	m = update(t, m, workersMsg{Workers: sampleWorkers()})

	view := m.View()
	assert.Contains(t, view, "node-1")
	assert.Contains(t, view, "1002")
	assert.Contains(t, view, "sum( xs)")
	assert.Contains(t, view, "1 idle")
	assert.Contains(t, view, "1 busy")
	assert.Contains(t, view, "1 timeout")
	assert.True(t, m.health.Connected)
}

func TestModel_EventLogNewestFirstAndDeduped(t *testing.T) {
	m := *New("http://localhost:0", "")
	m = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	m = update(t, m, eventMsg{ID: 1, Type: events.CommandQueued, At: at, Data: []byte(`{"id":7,"mode":"eval"}`)})
	m = update(t, m, eventMsg{ID: 2, Type: events.CommandFailed, At: at, Data: []byte(`{"id":7,"worker":2,"failure_detail":"boom"}`)})
	// A replay after reconnect repeats id 1.
	m = update(t, m, eventMsg{ID: 1, Type: events.CommandQueued, At: at, Data: []byte(`{"id":7}`)})

	require.Len(t, m.eventLog, 2)
	assert.Equal(t, events.CommandFailed, m.eventLog[0].Type)
	assert.Equal(t, int64(2), m.lastEventID)
	assert.Equal(t, at, m.spinner.LastEvent())

	view := m.View()
	assert.Contains(t, view, "#7 worker 2 boom")
	assert.Contains(t, view, "#7 eval")
}

func TestModel_EventLogBounded(t *testing.T) {
	m := *New("http://localhost:0", "")
	for i := 1; i <= maxEventLog+10; i++ {
		m = update(t, m, eventMsg{ID: int64(i), Type: events.CommandSent, At: time.Now(), Data: []byte(`{}`)})
	}
	require.Len(t, m.eventLog, maxEventLog)
	assert.Equal(t, int64(maxEventLog+10), m.eventLog[0].ID)
}

func TestModel_HealthAndDisconnect(t *testing.T) {
	m := *New("http://localhost:0", "")
	m = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})
	m = update(t, m, healthMsg{Status: "ok", ClientState: "running", Session: "abcdef0123", Workers: 3, WorkersOnline: 2})

	view := m.View()
	assert.Contains(t, view, "RUNNING")
	assert.Contains(t, view, "abcdef01")
	assert.Contains(t, view, "2/3 online")

	m = update(t, m, sseDisconnectedMsg{})
	assert.False(t, m.health.Connected)
	assert.Contains(t, m.View(), "reconnecting")
}

func TestModel_QuitKey(t *testing.T) {
	m := *New("http://localhost:0", "")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestSpinnerDecay(t *testing.T) {
	var s Spinner
	start := time.Now()
	s.OnEvent(start)
	s.Decay(start.Add(3 * time.Second))
	assert.Equal(t, 4, s.dots)
	s.Decay(start.Add(time.Minute))
	assert.Equal(t, 0, s.dots)
}

func TestReadEvents(t *testing.T) {
	stream := strings.Join([]string{
		"id: 4",
		"event: command.completed",
		`data: {"id":3,"worker":1}`,
		"",
		": keepalive",
		"",
		"id: 5",
		"event: worker.timeout",
		`data: {"worker":2}`,
		"",
		"",
	}, "\n")

	ch := make(chan events.Event, 4)
	readEvents(bufio.NewScanner(strings.NewReader(stream)), ch)
	close(ch)

	var got []events.Event
	for e := range ch {
		got = append(got, e)
	}
	require.Len(t, got, 2)
	assert.Equal(t, int64(4), got[0].ID)
	assert.Equal(t, events.CommandCompleted, got[0].Type)
	assert.JSONEq(t, `{"id":3,"worker":1}`, string(got[0].Data))
	assert.Equal(t, events.WorkerTimeout, got[1].Type)
}

func TestFetchWorkersAndHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer key" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: "unauthorized"})
			return
		}
		switch r.URL.Path {
		case "/workers":
			_ = json.NewEncoder(w).Encode(api.WorkersResponse{Workers: sampleWorkers()})
		case "/healthz":
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(api.HealthzResponse{Status: "unavailable", ClientState: "stopped"})
		}
	}))
	defer srv.Close()

	msg := fetchWorkers(srv.URL, "key")
	workers, ok := msg.(workersMsg)
	require.True(t, ok, "got %T", msg)
	assert.Len(t, workers.Workers, 3)

	msg = fetchHealth(srv.URL, "key")
	health, ok := msg.(healthMsg)
	require.True(t, ok, "got %T", msg)
	assert.Equal(t, "stopped", health.ClientState)

	msg = fetchWorkers(srv.URL, "wrong")
	perr, ok := msg.(pollErrMsg)
	require.True(t, ok, "got %T", msg)
	assert.True(t, perr.workers)
	assert.Contains(t, perr.err.Error(), "unauthorized")
}
