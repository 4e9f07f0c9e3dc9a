// Package inspect renders a single journalled command for humans or as JSON.
package inspect

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mattjoyce/relay/internal/journal"
	"github.com/mattjoyce/relay/internal/registry"
)

// Source looks up one journal entry.
type Source interface {
	Get(ctx context.Context, session string, id int64) (journal.Entry, error)
}

// Report is the structured JSON representation of a command report.
type Report struct {
	Session       string          `json:"session"`
	ID            int64           `json:"id"`
	Command       string          `json:"command"`
	Mode          string          `json:"mode"`
	Status        string          `json:"status"`
	Outcome       string          `json:"outcome"`
	Target        *int            `json:"target,omitempty"`
	Worker        *int            `json:"worker,omitempty"`
	Parameters    json.RawMessage `json:"parameters,omitempty"`
	ReturnValue   json.RawMessage `json:"return_value,omitempty"`
	FailureDetail string          `json:"failure_detail,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	// Latency is CompletedAt - CreatedAt in milliseconds.
	LatencyMS *int64 `json:"latency_ms,omitempty"`
}

// Outcomes reported in Report.Outcome.
const (
	OutcomePending   = "pending"
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeTimedOut  = "timed_out"
)

// BuildReport renders a terminal-friendly report for a command.
func BuildReport(ctx context.Context, src Source, session string, id int64) (string, error) {
	report, err := gatherReportData(ctx, src, session, id)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Command Report\n")
	fmt.Fprintf(&out, "Session     : %s\n", report.Session)
	fmt.Fprintf(&out, "ID          : %d\n", report.ID)
	fmt.Fprintf(&out, "Mode        : %s\n", report.Mode)
	fmt.Fprintf(&out, "Status      : %s\n", report.Status)
	fmt.Fprintf(&out, "Outcome     : %s\n", report.Outcome)
	fmt.Fprintf(&out, "Target      : %s\n", renderWorker(report.Target, "any idle worker"))
	fmt.Fprintf(&out, "Worker      : %s\n", renderWorker(report.Worker, "<unassigned>"))
	fmt.Fprintf(&out, "Created     : %s\n", report.CreatedAt.Format(time.RFC3339Nano))
	if report.CompletedAt != nil {
		fmt.Fprintf(&out, "Completed   : %s\n", report.CompletedAt.Format(time.RFC3339Nano))
	}
	if report.LatencyMS != nil {
		fmt.Fprintf(&out, "Latency     : %s\n", time.Duration(*report.LatencyMS)*time.Millisecond)
	}

	fmt.Fprintf(&out, "\nCommand:\n%s\n", indent(report.Command))
	if len(report.Parameters) > 0 {
		fmt.Fprintf(&out, "\nParameters:\n%s\n", indent(prettyJSON(report.Parameters)))
	}
	switch report.Outcome {
	case OutcomeSucceeded:
		fmt.Fprintf(&out, "\nReturn value:\n%s\n", indent(renderUnset(prettyJSON(report.ReturnValue), "<none>")))
	case OutcomeFailed, OutcomeTimedOut:
		fmt.Fprintf(&out, "\nFailure:\n%s\n", indent(renderUnset(report.FailureDetail, "<no detail>")))
	}

	return out.String(), nil
}

// BuildJSONReport returns the report as indented JSON.
func BuildJSONReport(ctx context.Context, src Source, session string, id int64) (string, error) {
	report, err := gatherReportData(ctx, src, session, id)
	if err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}
	return string(data), nil
}

func gatherReportData(ctx context.Context, src Source, session string, id int64) (*Report, error) {
	e, err := src.Get(ctx, session, id)
	if err != nil {
		return nil, fmt.Errorf("lookup command %d: %w", id, err)
	}

	report := &Report{
		Session:       e.Session,
		ID:            e.ID,
		Command:       e.Command,
		Mode:          string(e.Mode),
		Status:        string(e.Status),
		Target:        e.Target,
		Worker:        e.Worker,
		Parameters:    e.Parameters,
		ReturnValue:   e.ReturnValue,
		FailureDetail: e.FailureDetail,
		CreatedAt:     e.CreatedAt,
		CompletedAt:   e.CompletedAt,
	}

	switch {
	case e.Successful == nil:
		report.Outcome = OutcomePending
	case *e.Successful:
		report.Outcome = OutcomeSucceeded
	case e.Status == registry.StatusTimedOut:
		report.Outcome = OutcomeTimedOut
	default:
		report.Outcome = OutcomeFailed
	}

	if e.CompletedAt != nil {
		ms := e.CompletedAt.Sub(e.CreatedAt).Milliseconds()
		report.LatencyMS = &ms
	}
	return report, nil
}

func prettyJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(raw)
	}
	return string(out)
}

func renderWorker(w *int, fallback string) string {
	if w == nil {
		return fallback
	}
	return "worker " + strconv.Itoa(*w)
}

func indent(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = "    " + l
	}
	return strings.Join(lines, "\n")
}

func renderUnset(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
