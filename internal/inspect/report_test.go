package inspect

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/relay/internal/journal"
	"github.com/mattjoyce/relay/internal/protocol"
	"github.com/mattjoyce/relay/internal/registry"
	"github.com/mattjoyce/relay/internal/storage"
)

func seedJournal(t *testing.T) *journal.Journal {
	t.Helper()
	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	j := journal.New(db)

	created := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	target := 2
	reqs := []registry.Request{
		{ID: 1, Command: "a * b", Mode: protocol.ModeExpression, Parameters: map[string]any{"a": 6, "b": 7}, Target: &target, Status: registry.StatusQueued, CreatedAt: created},
		{ID: 2, Command: "select {}", Mode: protocol.ModeStatement, Status: registry.StatusQueued, CreatedAt: created},
		{ID: 3, Command: "1 + 1", Mode: protocol.ModeExpression, Status: registry.StatusQueued, CreatedAt: created},
	}
	for _, r := range reqs {
		if err := j.Record(ctx, "sess-1", r); err != nil {
			t.Fatalf("Record(%d): %v", r.ID, err)
		}
	}
	if err := j.Complete(ctx, "sess-1", registry.Response{
		ID: 1, Worker: 2, Successful: true, ReturnValue: json.RawMessage(`42`),
		Status: registry.StatusResponseReceived, ReceivedAt: created.Add(1500 * time.Millisecond),
	}); err != nil {
		t.Fatalf("Complete(1): %v", err)
	}
	if err := j.Complete(ctx, "sess-1", registry.Response{
		ID: 2, Worker: 1, FailureDetail: "timeout of assigned worker 1 deployed at node-1 with PID 1001",
		Status: registry.StatusTimedOut, ReceivedAt: created.Add(time.Minute),
	}); err != nil {
		t.Fatalf("Complete(2): %v", err)
	}
	return j
}

func TestBuildReportSucceeded(t *testing.T) {
	t.Parallel()
	j := seedJournal(t)

	out, err := BuildReport(context.Background(), j, "sess-1", 1)
	if err != nil {
		t.Fatalf("BuildReport: %v", err)
	}
	for _, want := range []string{
		"Outcome     : succeeded",
		"Target      : worker 2",
		"Worker      : worker 2",
		"Latency     : 1.5s",
		"    a * b",
		`"a": 6`,
		"Return value:\n    42",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("report missing %q:\n%s", want, out)
		}
	}
}

func TestBuildReportTimedOutAndPending(t *testing.T) {
	t.Parallel()
	j := seedJournal(t)
	ctx := context.Background()

	out, err := BuildReport(ctx, j, "", 2)
	if err != nil {
		t.Fatalf("BuildReport: %v", err)
	}
	if !strings.Contains(out, "Outcome     : timed_out") || !strings.Contains(out, "PID 1001") {
		t.Fatalf("unexpected timed out report:\n%s", out)
	}

	out, err = BuildReport(ctx, j, "sess-1", 3)
	if err != nil {
		t.Fatalf("BuildReport: %v", err)
	}
	if !strings.Contains(out, "Outcome     : pending") || !strings.Contains(out, "any idle worker") {
		t.Fatalf("unexpected pending report:\n%s", out)
	}
	if strings.Contains(out, "Latency") {
		t.Fatalf("pending report should have no latency:\n%s", out)
	}
}

func TestBuildJSONReport(t *testing.T) {
	t.Parallel()
	j := seedJournal(t)

	out, err := BuildJSONReport(context.Background(), j, "sess-1", 1)
	if err != nil {
		t.Fatalf("BuildJSONReport: %v", err)
	}
	var report Report
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if report.Outcome != OutcomeSucceeded || report.LatencyMS == nil || *report.LatencyMS != 1500 {
		t.Fatalf("unexpected report: %+v", report)
	}
}

func TestBuildReportUnknownCommand(t *testing.T) {
	t.Parallel()
	j := seedJournal(t)

	_, err := BuildReport(context.Background(), j, "sess-1", 99)
	if err == nil || !strings.Contains(err.Error(), "command not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
}
