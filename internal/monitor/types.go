package monitor

import "time"

// Status keys accepted by SetStatus and Status.
const (
	KeyBusy      = "busy"
	KeyProcessor = "processor"
	KeyPID       = "pid"
	KeyTimeout   = "timeout"
	KeyCommand   = "command"
	KeyOnline    = "online"
)

// WorkerStatus is the observable state of one worker.
type WorkerStatus struct {
	Worker    int            `json:"worker"`
	Online    bool           `json:"online"`
	Busy      bool           `json:"busy"`
	Timeout   bool           `json:"timeout"`
	Processor string         `json:"processor,omitempty"`
	PID       int            `json:"pid,omitempty"`
	Command   string         `json:"command,omitempty"`
	LastSeen  time.Time      `json:"last_seen,omitzero"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// Available reports whether the worker can take a command.
func (s WorkerStatus) Available() bool {
	return s.Online && !s.Busy && !s.Timeout
}

// State summarizes the worker for display.
func (s WorkerStatus) State() string {
	switch {
	case s.Timeout:
		return "timeout"
	case !s.Online:
		return "offline"
	case s.Busy:
		return "busy"
	default:
		return "idle"
	}
}

// Pinger sends heartbeats and reports the last answer seen from a worker.
type Pinger interface {
	Ping(worker int) error
	LastPong(worker int) time.Time
}

// Config tunes the heartbeat loop.
type Config struct {
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = time.Second
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = 10 * c.HeartbeatInterval
	}
	return c
}
