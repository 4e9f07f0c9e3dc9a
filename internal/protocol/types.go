package protocol

import (
	"encoding/json"
	"time"
)

// Version is the envelope protocol version spoken between controller and workers.
const Version = 1

// Kind discriminates the payload carried by an Envelope.
type Kind string

const (
	KindControl      Kind = "control"
	KindControlReply Kind = "control_reply"
	KindCommand      Kind = "command"
	KindCommandReply Kind = "command_reply"
	KindPing         Kind = "ping"
	KindPong         Kind = "pong"
)

// Signal names a control-service request broadcast to every worker.
type Signal string

const (
	SignalStart          Signal = "start"
	SignalStop           Signal = "stop"
	SignalProcessControl Signal = "process_control"
	SignalSetLogLevel    Signal = "set_log_level"
)

// Mode tells a worker whether a return value is expected.
type Mode string

const (
	ModeExpression Mode = "eval"
	ModeStatement  Mode = "exec"
)

// Envelope is one NDJSON line on a worker link. Exactly one payload field is
// set, matching Kind.
type Envelope struct {
	Protocol     int              `json:"protocol"`
	Kind         Kind             `json:"kind"`
	Control      *ControlRequest  `json:"control,omitempty"`
	ControlReply *ControlResponse `json:"control_reply,omitempty"`
	Command      *CommandRequest  `json:"command,omitempty"`
	CommandReply *CommandResponse `json:"command_reply,omitempty"`
	Heartbeat    *Heartbeat       `json:"heartbeat,omitempty"`
}

// ControlRequest is a control-service broadcast (start, stop, process control).
type ControlRequest struct {
	Signal         Signal `json:"signal"`
	Session        string `json:"session,omitempty"`
	ForceInterrupt bool   `json:"force_interrupt,omitempty"`
	Finalize       bool   `json:"finalize,omitempty"`
	SendResponse   bool   `json:"send_response,omitempty"`
	Command        string `json:"command,omitempty"`
	LogLevel       string `json:"log_level,omitempty"`
}

// ControlResponse is a worker's reply to a control request. Replies to the
// start signal carry the worker identity.
type ControlResponse struct {
	Worker     int    `json:"worker"`
	Signal     Signal `json:"signal"`
	Processor  string `json:"processor,omitempty"`
	PID        int    `json:"pid,omitempty"`
	Successful bool   `json:"successful"`
	Detail     string `json:"detail,omitempty"`
}

// CommandRequest is sent point-to-point to the worker that will run it.
type CommandRequest struct {
	ID         int64          `json:"id"`
	Command    string         `json:"command"`
	Mode       Mode           `json:"mode"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// CommandResponse is a worker's result for one CommandRequest.
type CommandResponse struct {
	ID            int64           `json:"id"`
	Worker        int             `json:"worker"`
	Successful    bool            `json:"successful"`
	ReturnValue   json.RawMessage `json:"return_value,omitempty"`
	FailureDetail string          `json:"failure_detail,omitempty"`
	Mode          Mode            `json:"mode,omitempty"`
}

// Heartbeat is carried by ping and pong envelopes.
type Heartbeat struct {
	Worker int       `json:"worker"`
	Seq    int64     `json:"seq"`
	At     time.Time `json:"at"`
}

// NewControl wraps a control request in an envelope.
func NewControl(req ControlRequest) *Envelope {
	return &Envelope{Protocol: Version, Kind: KindControl, Control: &req}
}

// NewControlReply wraps a control response in an envelope.
func NewControlReply(resp ControlResponse) *Envelope {
	return &Envelope{Protocol: Version, Kind: KindControlReply, ControlReply: &resp}
}

// NewCommand wraps a command request in an envelope.
func NewCommand(req CommandRequest) *Envelope {
	return &Envelope{Protocol: Version, Kind: KindCommand, Command: &req}
}

// NewCommandReply wraps a command response in an envelope.
func NewCommandReply(resp CommandResponse) *Envelope {
	return &Envelope{Protocol: Version, Kind: KindCommandReply, CommandReply: &resp}
}

// NewPing builds a heartbeat probe for worker.
func NewPing(worker int, seq int64) *Envelope {
	return &Envelope{Protocol: Version, Kind: KindPing, Heartbeat: &Heartbeat{Worker: worker, Seq: seq, At: time.Now().UTC()}}
}

// NewPong answers a ping.
func NewPong(hb Heartbeat) *Envelope {
	hb.At = time.Now().UTC()
	return &Envelope{Protocol: Version, Kind: KindPong, Heartbeat: &hb}
}
