package client

import (
	"context"

	"github.com/mattjoyce/relay/internal/monitor"
	"github.com/mattjoyce/relay/internal/protocol"
	"github.com/mattjoyce/relay/internal/registry"
)

//go:generate mockgen -destination=mocks/mock_client.go -package=mocks github.com/mattjoyce/relay/internal/client Communicator,Monitor

// Communicator moves control and command messages between the client and
// its workers. Receive calls never block; callers probe first.
type Communicator interface {
	BroadcastControl(req protocol.ControlRequest) error
	ControlResponseAvailable() bool
	ReceiveControlResponse() (protocol.ControlResponse, error)
	SendCommand(req protocol.CommandRequest, worker int) error
	CommandResponseAvailable() bool
	ReceiveCommandResponse() (protocol.CommandResponse, error)
}

// Monitor tracks per-worker liveness and busy state.
type Monitor interface {
	Workers() []int
	AvailableWorkers() []int
	TimedOutWorkers() []int
	SetStatus(worker int, key string, value any)
	Status(worker int, key string) any
	WorkerStatus(worker int) (monitor.WorkerStatus, bool)
	AllStatus() map[int]monitor.WorkerStatus
	Start()
	Stop()
}

// Recorder persists command requests and their outcomes.
type Recorder interface {
	Record(ctx context.Context, session string, req registry.Request) error
	Complete(ctx context.Context, session string, resp registry.Response) error
}
