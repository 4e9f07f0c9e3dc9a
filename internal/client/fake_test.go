package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/mattjoyce/relay/internal/protocol"
)

// fakeComm answers the handshake for its workers and passes commands to
// handle. A nil reply from handle leaves the command outstanding until
// reply is called.
type fakeComm struct {
	mu         sync.Mutex
	workers    []int
	silent     map[int]bool
	control    []protocol.ControlResponse
	replies    []protocol.CommandResponse
	sent       []sentCommand
	broadcasts []protocol.ControlRequest
	inflight   map[int]int64
	violations []string

	handle  func(req protocol.CommandRequest, worker int) *protocol.CommandResponse
	sendErr error
}

type sentCommand struct {
	req    protocol.CommandRequest
	worker int
}

func newFakeComm(workers ...int) *fakeComm {
	return &fakeComm{workers: workers, silent: map[int]bool{}, inflight: map[int]int64{}}
}

func echo(value any) func(protocol.CommandRequest, int) *protocol.CommandResponse {
	return func(req protocol.CommandRequest, worker int) *protocol.CommandResponse {
		raw, _ := json.Marshal(value)
		return &protocol.CommandResponse{ID: req.ID, Worker: worker, Successful: true, ReturnValue: raw, Mode: req.Mode}
	}
}

func (f *fakeComm) BroadcastControl(req protocol.ControlRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, req)

	reply := req.Signal == protocol.SignalStart || req.SendResponse
	if !reply {
		return nil
	}
	for _, w := range f.workers {
		if f.silent[w] {
			continue
		}
		f.control = append(f.control, protocol.ControlResponse{
			Worker:     w,
			Signal:     req.Signal,
			Processor:  fmt.Sprintf("node-%d", w),
			PID:        1000 + w,
			Successful: true,
		})
	}
	return nil
}

func (f *fakeComm) ControlResponseAvailable() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.control) > 0
}

func (f *fakeComm) ReceiveControlResponse() (protocol.ControlResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.control) == 0 {
		return protocol.ControlResponse{}, errors.New("empty")
	}
	r := f.control[0]
	f.control = f.control[1:]
	return r, nil
}

func (f *fakeComm) SendCommand(req protocol.CommandRequest, worker int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	if other, busy := f.inflight[worker]; busy {
		f.violations = append(f.violations, fmt.Sprintf("worker %d got %d while running %d", worker, req.ID, other))
	}
	f.inflight[worker] = req.ID
	f.sent = append(f.sent, sentCommand{req: req, worker: worker})
	if f.handle != nil {
		if resp := f.handle(req, worker); resp != nil {
			f.replies = append(f.replies, *resp)
		}
	}
	return nil
}

func (f *fakeComm) CommandResponseAvailable() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.replies) > 0
}

func (f *fakeComm) ReceiveCommandResponse() (protocol.CommandResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.replies) == 0 {
		return protocol.CommandResponse{}, errors.New("empty")
	}
	r := f.replies[0]
	f.replies = f.replies[1:]
	delete(f.inflight, r.Worker)
	return r, nil
}

func (f *fakeComm) reply(resp protocol.CommandResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, resp)
}

func (f *fakeComm) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeComm) broadcastsOf(signal protocol.Signal) []protocol.ControlRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []protocol.ControlRequest
	for _, b := range f.broadcasts {
		if b.Signal == signal {
			out = append(out, b)
		}
	}
	return out
}
