package registry

import (
	"encoding/json"
	"time"

	"github.com/mattjoyce/relay/internal/protocol"
)

// Status is the lifecycle state of a command request.
type Status string

const (
	StatusQueued           Status = "queued"
	StatusSent             Status = "sent"
	StatusResponseReceived Status = "response_received"
	StatusTimedOut         Status = "timed_out"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusResponseReceived || s == StatusTimedOut
}

// Request is a command as tracked by the registry.
type Request struct {
	ID         int64
	Command    string
	Mode       protocol.Mode
	Parameters map[string]any
	// Target is the pre-assigned worker, or the worker chosen by Match for
	// untargeted requests. Nil while unassigned.
	Target    *int
	Status    Status
	CreatedAt time.Time
	SentAt    *time.Time
}

// Worker returns the assigned worker, if any.
func (r Request) Worker() (int, bool) {
	if r.Target == nil {
		return 0, false
	}
	return *r.Target, true
}

// Response is the single result recorded for a request, either reported by
// a worker or synthesized locally.
type Response struct {
	ID            int64           `json:"id"`
	Worker        int             `json:"worker"`
	Successful    bool            `json:"successful"`
	ReturnValue   json.RawMessage `json:"return_value,omitempty"`
	FailureDetail string          `json:"failure_detail,omitempty"`
	Mode          protocol.Mode   `json:"mode"`
	Command       string          `json:"command"`
	Status        Status          `json:"status"`
	ReceivedAt    time.Time       `json:"received_at"`
}

// Value decodes the return value. It returns nil when none was recorded.
func (r Response) Value() (any, error) {
	if len(r.ReturnValue) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(r.ReturnValue, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// FromWire converts a worker reply into a registry response.
func FromWire(resp protocol.CommandResponse) Response {
	return Response{
		ID:            resp.ID,
		Worker:        resp.Worker,
		Successful:    resp.Successful,
		ReturnValue:   resp.ReturnValue,
		FailureDetail: resp.FailureDetail,
		Mode:          resp.Mode,
	}
}

func (r Request) clone() Request {
	out := r
	if r.Target != nil {
		t := *r.Target
		out.Target = &t
	}
	if r.SentAt != nil {
		s := *r.SentAt
		out.SentAt = &s
	}
	return out
}

func (r Response) clone() Response {
	out := r
	if r.ReturnValue != nil {
		out.ReturnValue = append(json.RawMessage(nil), r.ReturnValue...)
	}
	return out
}
