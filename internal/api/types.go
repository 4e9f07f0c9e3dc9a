package api

import (
	"time"

	"github.com/mattjoyce/relay/internal/journal"
	"github.com/mattjoyce/relay/internal/monitor"
	"github.com/mattjoyce/relay/internal/registry"
)

// SubmitRequest is the JSON body for POST /commands.
type SubmitRequest struct {
	Command string `json:"command"`
	// Mode is "auto" (default), "eval" or "exec".
	Mode       string         `json:"mode,omitempty"`
	Targets    []int          `json:"targets,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Block      bool           `json:"block,omitempty"`
}

// SubmitResponse is returned by POST /commands. Responses is set for
// blocking submits.
type SubmitResponse struct {
	IDs       []int64             `json:"ids"`
	Responses []registry.Response `json:"responses,omitempty"`
	Pending   []int64             `json:"pending,omitempty"`
}

// CommandStatusResponse is returned by GET /commands/{id} while the
// command has no response yet.
type CommandStatusResponse struct {
	ID        int64           `json:"id"`
	Command   string          `json:"command"`
	Status    registry.Status `json:"status"`
	Worker    *int            `json:"worker,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	SentAt    *time.Time      `json:"sent_at,omitempty"`
}

// PollRequest is the JSON body for POST /commands/poll.
type PollRequest struct {
	IDs   []int64 `json:"ids"`
	Block bool    `json:"block,omitempty"`
}

// PollResponse is returned by POST /commands/poll. Pending lists requested
// ids without a response.
type PollResponse struct {
	Responses []registry.Response `json:"responses"`
	Pending   []int64             `json:"pending,omitempty"`
}

// WorkersResponse is returned by GET /workers.
type WorkersResponse struct {
	Workers []monitor.WorkerStatus `json:"workers"`
}

// HistoryResponse is returned by GET /history.
type HistoryResponse struct {
	Session string          `json:"session,omitempty"`
	Entries []journal.Entry `json:"entries"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
	// Kind classifies client errors: "compile", "invalid_target" or "not_running".
	Kind string `json:"kind,omitempty"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status         string `json:"status"`
	ClientState    string `json:"client_state"`
	Session        string `json:"session"`
	UptimeSeconds  int64  `json:"uptime_seconds"`
	Workers        int    `json:"workers"`
	WorkersOnline  int    `json:"workers_online"`
	WorkersTimeout int    `json:"workers_timeout"`
}
