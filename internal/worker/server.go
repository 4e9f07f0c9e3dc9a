package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/mattjoyce/relay/internal/log"
	"github.com/mattjoyce/relay/internal/protocol"
)

// Server answers one controller link: control signals, heartbeats and
// commands. At most one command runs at a time.
type Server struct {
	id     int
	exec   Executor
	logger *slog.Logger

	enc      *protocol.Encoder
	controls chan protocol.ControlRequest

	mu      sync.Mutex
	cancel  context.CancelFunc
	running int64
	wg      sync.WaitGroup
}

func NewServer(id int, exec Executor, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		id:     id,
		exec:   exec,
		logger: logger.With("component", "worker", "worker", id),
	}
}

// Serve reads envelopes from r and writes replies to w until the stream
// ends, a stop signal arrives or ctx is cancelled.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	s.enc = protocol.NewEncoder(w)
	dec := protocol.NewDecoder(r)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.wg.Wait()

	// process_control statements run off the read loop so pings are still
	// answered, one at a time in arrival order.
	s.controls = make(chan protocol.ControlRequest, 16)
	defer close(s.controls)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for req := range s.controls {
			s.processControl(ctx, req)
		}
	}()

	type decoded struct {
		env *protocol.Envelope
		err error
	}
	in := make(chan decoded)
	go func() {
		for {
			env, err := dec.Decode()
			select {
			case in <- decoded{env, err}:
			case <-ctx.Done():
				return
			}
			if err != nil && !errors.Is(err, protocol.ErrMalformed) {
				return
			}
		}
	}()

	for {
		var msg decoded
		select {
		case <-ctx.Done():
			s.interrupt()
			return ctx.Err()
		case msg = <-in:
		}

		if msg.err != nil {
			if errors.Is(msg.err, io.EOF) {
				s.logger.Info("Controller link closed")
				return nil
			}
			if errors.Is(msg.err, protocol.ErrMalformed) {
				s.logger.Error("Dropping malformed envelope", "error", msg.err)
				continue
			}
			s.interrupt()
			return msg.err
		}

		switch msg.env.Kind {
		case protocol.KindPing:
			s.reply(protocol.NewPong(*msg.env.Heartbeat))
		case protocol.KindCommand:
			s.startCommand(ctx, *msg.env.Command)
		case protocol.KindControl:
			if stop := s.handleControl(ctx, *msg.env.Control); stop {
				if msg.env.Control.ForceInterrupt {
					cancel()
				}
				return nil
			}
		default:
			s.logger.Warn("Unexpected envelope kind", "kind", msg.env.Kind)
		}
	}
}

func (s *Server) handleControl(ctx context.Context, req protocol.ControlRequest) (stop bool) {
	switch req.Signal {
	case protocol.SignalStart:
		host, err := os.Hostname()
		if err != nil {
			host = "unknown"
		}
		s.logger.Info("Control service started", "session", req.Session)
		s.reply(protocol.NewControlReply(protocol.ControlResponse{
			Worker:     s.id,
			Signal:     req.Signal,
			Processor:  host,
			PID:        os.Getpid(),
			Successful: true,
		}))
	case protocol.SignalStop:
		if req.ForceInterrupt {
			s.logger.Warn("Stop requested with force interrupt")
			s.interrupt()
		} else {
			s.logger.Info("Stop requested, finishing current command")
		}
		return true
	case protocol.SignalSetLogLevel:
		log.SetLevel(req.LogLevel)
		s.logger.Info("Log level changed", "level", req.LogLevel)
		if req.SendResponse {
			s.reply(protocol.NewControlReply(protocol.ControlResponse{Worker: s.id, Signal: req.Signal, Successful: true}))
		}
	case protocol.SignalProcessControl:
		select {
		case s.controls <- req:
		case <-ctx.Done():
		}
	default:
		s.logger.Warn("Unknown control signal", "signal", req.Signal)
	}
	return false
}

func (s *Server) processControl(ctx context.Context, req protocol.ControlRequest) {
	err := s.exec.Exec(ctx, req.Command, nil)
	if err != nil {
		s.logger.Error("Control command failed", "error", err)
	}
	if req.SendResponse {
		resp := protocol.ControlResponse{Worker: s.id, Signal: req.Signal, Successful: err == nil}
		if err != nil {
			resp.Detail = detail(err)
		}
		s.reply(protocol.NewControlReply(resp))
	}
}

func (s *Server) startCommand(ctx context.Context, req protocol.CommandRequest) {
	s.mu.Lock()
	if s.cancel != nil {
		busy := s.running
		s.mu.Unlock()
		s.reply(protocol.NewCommandReply(protocol.CommandResponse{
			ID:            req.ID,
			Worker:        s.id,
			Mode:          req.Mode,
			FailureDetail: fmt.Sprintf("worker %d is busy with command %d", s.id, busy),
		}))
		return
	}
	cctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = req.ID
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			s.cancel = nil
			s.running = 0
			s.mu.Unlock()
			cancel()
		}()
		s.reply(protocol.NewCommandReply(s.run(cctx, req)))
	}()
}

func (s *Server) run(ctx context.Context, req protocol.CommandRequest) protocol.CommandResponse {
	logger := s.logger.With("command_id", req.ID, "mode", req.Mode)
	resp := protocol.CommandResponse{ID: req.ID, Worker: s.id, Mode: req.Mode}

	if req.Mode == protocol.ModeStatement {
		if err := s.exec.Exec(ctx, req.Command, req.Parameters); err != nil {
			logger.Debug("Command failed", "error", err)
			resp.FailureDetail = detail(err)
			return resp
		}
		resp.Successful = true
		return resp
	}

	v, err := s.exec.Eval(ctx, req.Command, req.Parameters)
	if err != nil {
		logger.Debug("Command failed", "error", err)
		resp.FailureDetail = detail(err)
		return resp
	}
	raw, err := json.Marshal(v)
	if err != nil {
		// Values JSON cannot carry (funcs, channels) are returned as text.
		raw, _ = json.Marshal(fmt.Sprint(v))
	}
	resp.Successful = true
	resp.ReturnValue = raw
	return resp
}

func (s *Server) interrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Server) reply(env *protocol.Envelope) {
	if err := s.enc.Encode(env); err != nil {
		s.logger.Error("Failed to write reply", "kind", env.Kind, "error", err)
	}
}

func detail(err error) string {
	if msg := err.Error(); msg != "" {
		return msg
	}
	return "command failed"
}
