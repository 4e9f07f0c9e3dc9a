package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattjoyce/relay/internal/events"
)

// maxVisibleEvents bounds the event pane; the model keeps a longer log.
const maxVisibleEvents = 10

func renderEventStream(eventLog []events.Event, theme Theme, width int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("EVENT STREAM"),
			theme.Dim.Render("  Waiting for events..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	var lines []string
	for i, e := range eventLog {
		if i >= maxVisibleEvents {
			break
		}
		lines = append(lines, formatEvent(e, theme))
	}

	eventsText := lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("EVENT STREAM"),
		eventsText,
	)
	return theme.Border.Width(innerWidth).Render(content)
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Format("15:04:05"))

	var typeStyle lipgloss.Style
	switch e.Type {
	case events.CommandCompleted, events.WorkerOnline, events.WorkerRecovered, events.ClientStarted:
		typeStyle = theme.StatusOK
	case events.CommandFailed, events.CommandTimedOut, events.CommandAborted, events.WorkerTimeout:
		typeStyle = theme.StatusFailed
	case events.CommandSent:
		typeStyle = theme.StatusRunning
	case events.LogLevelChanged, events.ClientStopped:
		typeStyle = theme.Highlight
	default:
		typeStyle = theme.Dim
	}

	typeName := typeStyle.Render(fmt.Sprintf("%-18s", e.Type))
	return fmt.Sprintf("%s %s %s", ts, typeName, describeEvent(e))
}

// describeEvent pulls the interesting fields out of an event payload.
func describeEvent(e events.Event) string {
	data := make(map[string]any)
	_ = json.Unmarshal(e.Data, &data)

	var parts []string
	if id, ok := data["id"].(float64); ok {
		parts = append(parts, fmt.Sprintf("#%d", int64(id)))
	}
	if worker, ok := data["worker"].(float64); ok {
		parts = append(parts, fmt.Sprintf("worker %d", int(worker)))
	}
	if processor, ok := data["processor"].(string); ok && processor != "" {
		parts = append(parts, processor)
	}
	if mode, ok := data["mode"].(string); ok && mode != "" {
		parts = append(parts, mode)
	}
	if status, ok := data["status"].(string); ok && status != "" {
		parts = append(parts, status)
	}
	if level, ok := data["level"].(string); ok {
		parts = append(parts, "level="+level)
	}
	if detail, ok := data["failure_detail"].(string); ok && detail != "" {
		parts = append(parts, oneLine(detail))
	}

	if len(parts) == 0 {
		raw := string(e.Data)
		if len(raw) > 60 {
			raw = raw[:60] + "..."
		}
		return raw
	}
	return strings.Join(parts, " ")
}
