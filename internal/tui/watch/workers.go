package watch

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattjoyce/relay/internal/monitor"
)

func newWorkerTable(theme Theme) table.Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ID", Width: 4},
			{Title: "State", Width: 8},
			{Title: "Processor", Width: 16},
			{Title: "PID", Width: 8},
			{Title: "Command", Width: 40},
		}),
		table.WithFocused(true),
		table.WithHeight(6),
	)

	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderBottom(true).
		Bold(true)
	styles.Selected = theme.Selected
	t.SetStyles(styles)
	return t
}

// workerRows renders one row per worker in id order.
func workerRows(workers []monitor.WorkerStatus, commandWidth int) []table.Row {
	rows := make([]table.Row, 0, len(workers))
	for _, w := range workers {
		pid := "-"
		if w.PID > 0 {
			pid = strconv.Itoa(w.PID)
		}
		processor := w.Processor
		if processor == "" {
			processor = "-"
		}
		rows = append(rows, table.Row{
			strconv.Itoa(w.Worker),
			w.State(),
			processor,
			pid,
			truncate(oneLine(w.Command), commandWidth),
		})
	}
	return rows
}

// resizeWorkerTable gives the command column whatever width is left.
func resizeWorkerTable(t *table.Model, width, rows int) {
	cols := t.Columns()
	fixed := 0
	for _, c := range cols[:len(cols)-1] {
		fixed += c.Width + 2
	}
	cmdWidth := width - 8 - fixed
	if cmdWidth < 10 {
		cmdWidth = 10
	}
	cols[len(cols)-1].Width = cmdWidth
	t.SetColumns(cols)

	// Header plus its border take two lines.
	height := rows + 2
	if height < 4 {
		height = 4
	}
	if height > 14 {
		height = 14
	}
	t.SetHeight(height)
}

func renderWorkers(t table.Model, workers []monitor.WorkerStatus, theme Theme, width int) string {
	innerWidth := width - 4
	if len(workers) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("WORKERS"),
			theme.Dim.Render("  No workers reported"),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	counts := make(map[string]int)
	for _, w := range workers {
		counts[w.State()]++
	}
	var summary []string
	for _, state := range []string{"idle", "busy", "timeout", "offline"} {
		if n := counts[state]; n > 0 {
			summary = append(summary, theme.stateStyle(state).Render(fmt.Sprintf("%d %s", n, state)))
		}
	}

	title := theme.Title.Render("WORKERS") + " " + strings.Join(summary, theme.Dim.Render(" · "))
	content := lipgloss.JoinVertical(lipgloss.Left, title, t.View())
	return theme.Border.Width(innerWidth).Render(content)
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 1 || len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
