package client

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/relay/internal/events"
	"github.com/mattjoyce/relay/internal/log"
	"github.com/mattjoyce/relay/internal/monitor"
	"github.com/mattjoyce/relay/internal/protocol"
	"github.com/mattjoyce/relay/internal/registry"
)

// State is the client lifecycle state.
type State string

const (
	StateNotStarted State = "not_started"
	StateRunning    State = "running"
	StateStopped    State = "stopped"
)

// LogLevels lists the levels accepted by SetLogLevel.
var LogLevels = []string{"debug", "info", "warn", "error"}

// Config holds the polling intervals of the client loops.
type Config struct {
	DispatchInterval   time.Duration
	CollectInterval    time.Duration
	BlockPollInterval  time.Duration
	StartCheckInterval time.Duration
	// HandshakeTimeout bounds Start's wait for worker identities. Zero
	// waits until the context passed to Start is done.
	HandshakeTimeout time.Duration
	// RecordTimeout bounds each journal write.
	RecordTimeout time.Duration
}

// DefaultConfig returns the intervals used when a field is left zero.
func DefaultConfig() Config {
	return Config{
		DispatchInterval:   50 * time.Millisecond,
		CollectInterval:    50 * time.Millisecond,
		BlockPollInterval:  50 * time.Millisecond,
		StartCheckInterval: 50 * time.Millisecond,
		RecordTimeout:      5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DispatchInterval <= 0 {
		c.DispatchInterval = d.DispatchInterval
	}
	if c.CollectInterval <= 0 {
		c.CollectInterval = d.CollectInterval
	}
	if c.BlockPollInterval <= 0 {
		c.BlockPollInterval = d.BlockPollInterval
	}
	if c.StartCheckInterval <= 0 {
		c.StartCheckInterval = d.StartCheckInterval
	}
	if c.RecordTimeout <= 0 {
		c.RecordTimeout = d.RecordTimeout
	}
	return c
}

// Options carries optional collaborators.
type Options struct {
	Config   Config
	Events   events.Publisher
	Recorder Recorder
	Logger   *slog.Logger
	// Session identifies this client run in broadcasts and the journal.
	// A random UUID is used when empty.
	Session string
}

// SubmitRequest describes one submission. Mode ModeAuto classifies the
// command text. Without Targets a single untargeted request is queued;
// otherwise one request per target.
type SubmitRequest struct {
	Command    string
	Mode       protocol.Mode
	Targets    []int
	Parameters map[string]any
	Block      bool
}

// SubmitResult holds the allocated ids and, for blocking submits, the
// responses in the same order.
type SubmitResult struct {
	IDs       []int64
	Responses []registry.Response
}

// PollOptions controls Poll.
type PollOptions struct {
	Block   bool
	Verbose bool
}

// ControlCommand is a process-control statement broadcast to every worker.
type ControlCommand struct {
	Command      string
	WaitResponse bool
}

// Client submits commands to a pool of workers and tracks their responses.
type Client struct {
	cfg      Config
	comm     Communicator
	monitor  Monitor
	registry *registry.Registry
	events   events.Publisher
	recorder Recorder
	logger   *slog.Logger
	session  string

	dispatcher *service
	collector  *service

	lifecycle sync.Mutex
	controlMu sync.Mutex

	stateMu sync.RWMutex
	state   State
}

// New builds a client over comm and mon. The client does nothing until Start.
func New(comm Communicator, mon Monitor, opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = log.Get()
	}
	pub := opts.Events
	if pub == nil {
		pub = events.Nop{}
	}
	session := opts.Session
	if session == "" {
		session = uuid.NewString()
	}
	cfg := opts.Config.withDefaults()

	c := &Client{
		cfg:      cfg,
		comm:     comm,
		monitor:  mon,
		registry: registry.New(logger),
		events:   pub,
		recorder: opts.Recorder,
		logger:   logger.With("component", "client", "session", session),
		session:  session,
		state:    StateNotStarted,
	}
	c.dispatcher = newService("dispatcher", cfg.DispatchInterval, c.dispatchCycle, logger)
	c.collector = newService("collector", cfg.CollectInterval, c.collectCycle, logger)
	return c
}

// Session returns the session id of this client.
func (c *Client) Session() string { return c.session }

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
}

// Start performs the worker handshake and then starts the monitor, the
// dispatcher and the collector in that order. Calling Start on a client
// that is running or stopped logs a warning and does nothing.
func (c *Client) Start(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if st := c.State(); st != StateNotStarted {
		c.logger.Warn("Start ignored, client is not in not-started state", "state", st)
		return nil
	}

	if c.cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
		defer cancel()
	}
	if err := c.handshake(ctx); err != nil {
		return err
	}

	c.monitor.Start()
	c.dispatcher.Start()
	c.collector.Start()
	c.setState(StateRunning)

	c.logger.Info("Client started", "workers", len(c.monitor.Workers()))
	c.events.Publish(events.ClientStarted, map[string]any{"session": c.session, "workers": c.monitor.Workers()})
	return nil
}

func (c *Client) handshake(ctx context.Context) error {
	c.controlMu.Lock()
	defer c.controlMu.Unlock()

	pending := make(map[int]struct{})
	for _, id := range c.monitor.Workers() {
		pending[id] = struct{}{}
	}

	c.logger.Info("Starting control service on workers", "workers", len(pending))
	if err := c.comm.BroadcastControl(protocol.ControlRequest{Signal: protocol.SignalStart, Session: c.session}); err != nil {
		return fmt.Errorf("broadcast start: %w", err)
	}

	err := c.collectControl(ctx, pending, protocol.SignalStart, func(resp protocol.ControlResponse) {
		c.monitor.SetStatus(resp.Worker, monitor.KeyProcessor, resp.Processor)
		c.monitor.SetStatus(resp.Worker, monitor.KeyPID, resp.PID)
		c.monitor.SetStatus(resp.Worker, monitor.KeyOnline, true)
		c.logger.Info("Worker started", "worker", resp.Worker, "processor", resp.Processor, "pid", resp.PID)
		c.events.Publish(events.WorkerOnline, resp)
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrHandshakeTimeout, err)
	}
	return nil
}

// collectControl drains control replies for signal until every worker in
// pending has answered. Replies from other workers or for other signals are
// logged and dropped. Must be called with controlMu held.
func (c *Client) collectControl(ctx context.Context, pending map[int]struct{}, signal protocol.Signal, onReply func(protocol.ControlResponse)) error {
	ticker := time.NewTicker(c.cfg.StartCheckInterval)
	defer ticker.Stop()

	for len(pending) > 0 {
		for c.comm.ControlResponseAvailable() {
			resp, err := c.comm.ReceiveControlResponse()
			if err != nil {
				c.logger.Error("Failed to receive control response", "error", err)
				break
			}
			if _, ok := pending[resp.Worker]; !ok || resp.Signal != signal {
				c.logger.Debug("Ignoring control response", "worker", resp.Worker, "signal", resp.Signal)
				continue
			}
			delete(pending, resp.Worker)
			onReply(resp)
		}
		if len(pending) == 0 {
			break
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			missing := make([]int, 0, len(pending))
			for id := range pending {
				missing = append(missing, id)
			}
			sort.Ints(missing)
			return fmt.Errorf("%s signal unanswered by workers %v: %w", signal, missing, ctx.Err())
		}
	}
	return nil
}

// Stop shuts the client down: it stops the monitor, logs every outstanding
// request as aborted, stops the dispatcher and collector and broadcasts the
// stop signal. Force interrupt is turned on when any worker has timed out.
// Stop is idempotent and never panics.
func (c *Client) Stop(forceInterrupt bool) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	switch st := c.State(); st {
	case StateNotStarted:
		c.logger.Warn("Stop ignored, client was never started")
		return
	case StateStopped:
		c.logger.Warn("Stop ignored, client already stopped")
		return
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Unexpected failure while stopping client", "panic", r)
		}
		c.setState(StateStopped)
		c.events.Publish(events.ClientStopped, map[string]any{"session": c.session})
	}()

	timedOut := c.monitor.TimedOutWorkers()
	if len(timedOut) > 0 && !forceInterrupt {
		c.logger.Warn("Workers timed out, forcing interrupt on stop", "workers", timedOut)
		forceInterrupt = true
	}

	c.monitor.Stop()

	for _, req := range c.registry.Pending() {
		attrs := []any{"command_id", req.ID, "status", req.Status, "command", req.Command}
		if w, ok := req.Worker(); ok {
			attrs = append(attrs, "worker", w)
		}
		c.logger.Warn("Aborting command request", attrs...)
		c.events.Publish(events.CommandAborted, map[string]any{"id": req.ID, "status": req.Status})
	}

	c.dispatcher.Stop()
	c.collector.Stop()

	err := c.comm.BroadcastControl(protocol.ControlRequest{
		Signal:         protocol.SignalStop,
		Session:        c.session,
		ForceInterrupt: forceInterrupt,
		Finalize:       len(timedOut) == 0,
	})
	if err != nil {
		c.logger.Error("Failed to broadcast stop", "error", err)
	}
	c.logger.Info("Client stopped", "force_interrupt", forceInterrupt)
}

// Close stops the client with force interrupt. It is the cleanup hook to
// defer in the embedding program.
func (c *Client) Close() error {
	c.Stop(true)
	return nil
}

// Submit validates and queues a command. Compile and target errors are
// returned before anything is queued. With Block set, Submit waits for
// every request to resolve.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	if c.State() != StateRunning {
		return SubmitResult{}, ErrNotRunning
	}

	mode, err := resolveMode(req.Command, req.Mode)
	if err != nil {
		return SubmitResult{}, err
	}
	if err := c.validateTargets(req.Targets); err != nil {
		return SubmitResult{}, err
	}

	var targets []*int
	if len(req.Targets) == 0 {
		targets = []*int{nil}
	}
	for _, t := range req.Targets {
		targets = append(targets, &t)
	}

	ids := make([]int64, 0, len(targets))
	for _, target := range targets {
		r := registry.Request{
			Command:    req.Command,
			Mode:       mode,
			Parameters: req.Parameters,
			Target:     target,
		}
		id := c.registry.Allocate(r)
		ids = append(ids, id)

		stored, _, _ := c.registry.Lookup(id)
		attrs := []any{"command_id", id, "mode", mode}
		if target != nil {
			attrs = append(attrs, "worker", *target)
		}
		c.logger.Info("Command request queued", attrs...)
		c.events.Publish(events.CommandQueued, map[string]any{"id": id, "mode": mode, "target": target})
		c.recordRequest(stored)
	}

	if !req.Block {
		return SubmitResult{IDs: ids}, nil
	}
	responses, err := c.Poll(ctx, ids, PollOptions{Block: true})
	return SubmitResult{IDs: ids, Responses: responses}, err
}

func (c *Client) validateTargets(targets []int) error {
	if len(targets) == 0 {
		return nil
	}
	known := make(map[int]struct{})
	for _, id := range c.monitor.Workers() {
		known[id] = struct{}{}
	}
	for _, t := range targets {
		if _, ok := known[t]; !ok {
			return &InvalidTargetError{Worker: t, Reason: "does not exist"}
		}
		if timeout, _ := c.monitor.Status(t, monitor.KeyTimeout).(bool); timeout {
			return &InvalidTargetError{Worker: t, Reason: "has timed out"}
		}
	}
	return nil
}

// Poll returns copies of the responses recorded for ids. Without Block,
// ids still outstanding are omitted (and described in the log when Verbose
// is set). With Block, Poll waits until every known id has a response or a
// synthesized timeout, and returns them in the order of ids. Unknown ids
// are never waited for.
func (c *Client) Poll(ctx context.Context, ids []int64, opts PollOptions) ([]registry.Response, error) {
	if !opts.Block {
		var out []registry.Response
		for _, id := range ids {
			if resp, ok := c.resolve(id, opts.Verbose); ok {
				out = append(out, resp)
			}
		}
		return out, nil
	}

	resolved := make(map[int64]registry.Response, len(ids))
	for {
		for _, id := range ids {
			if _, done := resolved[id]; done {
				continue
			}
			if _, _, known := c.registry.Lookup(id); !known {
				c.logger.Warn("Not waiting for unknown command request", "command_id", id)
				resolved[id] = registry.Response{}
				continue
			}
			if resp, ok := c.resolve(id, false); ok {
				resolved[id] = resp
			}
		}
		if len(resolved) == len(uniq(ids)) {
			break
		}
		if c.State() == StateStopped {
			return collect(ids, resolved), fmt.Errorf("%w: %d command requests left outstanding", ErrNotRunning, len(uniq(ids))-len(resolved))
		}

		timer := time.NewTimer(c.cfg.BlockPollInterval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return collect(ids, resolved), ctx.Err()
		}
	}
	return collect(ids, resolved), nil
}

// Await blocks until every id resolves.
func (c *Client) Await(ctx context.Context, ids []int64) ([]registry.Response, error) {
	return c.Poll(ctx, ids, PollOptions{Block: true})
}

// Group returns a channel that is closed once every id has a response.
func (c *Client) Group(ids []int64) (<-chan struct{}, error) {
	return c.registry.NewGroup(ids)
}

// resolve returns the response for id, synthesizing a timeout when the
// assigned worker has stopped answering.
func (c *Client) resolve(id int64, verbose bool) (registry.Response, bool) {
	req, resp, ok := c.registry.Lookup(id)
	if !ok {
		if verbose {
			c.logger.Info("Command request not found", "command_id", id)
		}
		return registry.Response{}, false
	}
	if resp != nil {
		return *resp, true
	}

	worker, assigned := req.Worker()
	if assigned {
		if timeout, _ := c.monitor.Status(worker, monitor.KeyTimeout).(bool); timeout {
			return c.timeOut(req, worker), true
		}
	}

	if verbose {
		switch {
		case req.Status == registry.StatusSent:
			c.logger.Info(fmt.Sprintf("Command request with id# %d is in %s state assigned to worker %d", id, req.Status, worker),
				"command_id", id, "worker", worker)
		case assigned:
			c.logger.Info(fmt.Sprintf("Command request with id# %d is in %s state waiting for worker %d", id, req.Status, worker),
				"command_id", id, "worker", worker)
		default:
			c.logger.Info(fmt.Sprintf("Command request with id# %d is in %s state waiting for an available worker", id, req.Status),
				"command_id", id)
		}
	}
	return registry.Response{}, false
}

func (c *Client) timeOut(req registry.Request, worker int) registry.Response {
	processor, _ := c.monitor.Status(worker, monitor.KeyProcessor).(string)
	pid, _ := c.monitor.Status(worker, monitor.KeyPID).(int)
	detail := fmt.Sprintf("timeout of assigned worker %d deployed at %s with PID %d", worker, processor, pid)

	resp, created := c.registry.MarkTimedOut(req.ID, detail)
	if created {
		c.logger.Error("Command request timed out", "command_id", req.ID, "worker", worker, "processor", processor, "pid", pid)
		c.events.Publish(events.CommandTimedOut, map[string]any{"id": req.ID, "worker": worker})
		c.recordCompletion(resp)
	}
	return resp
}

// record stores a response and reports it.
func (c *Client) record(resp registry.Response) {
	if !c.registry.RecordResponse(resp) {
		return
	}
	_, stored, _ := c.registry.Lookup(resp.ID)
	if stored == nil {
		return
	}

	logger := c.logger.With("command_id", stored.ID, "worker", stored.Worker)
	if stored.Successful {
		logger.Debug("Command request succeeded", "mode", stored.Mode)
		c.events.Publish(events.CommandCompleted, map[string]any{"id": stored.ID, "worker": stored.Worker})
	} else {
		logger.Error("Command request failed", "failure_detail", stored.FailureDetail)
		c.events.Publish(events.CommandFailed, map[string]any{"id": stored.ID, "worker": stored.Worker, "failure_detail": stored.FailureDetail})
	}
	c.recordCompletion(*stored)
}

func (c *Client) recordRequest(req registry.Request) {
	if c.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RecordTimeout)
	defer cancel()
	if err := c.recorder.Record(ctx, c.session, req); err != nil {
		c.logger.Error("Failed to journal command request", "command_id", req.ID, "error", err)
	}
}

func (c *Client) recordCompletion(resp registry.Response) {
	if c.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RecordTimeout)
	defer cancel()
	if err := c.recorder.Complete(ctx, c.session, resp); err != nil {
		c.logger.Error("Failed to journal command response", "command_id", resp.ID, "error", err)
	}
}

// WorkerStatus returns the monitor's view of one worker.
func (c *Client) WorkerStatus(worker int) (monitor.WorkerStatus, bool) {
	return c.monitor.WorkerStatus(worker)
}

// WorkersStatus returns the monitor's view of every worker.
func (c *Client) WorkersStatus() map[int]monitor.WorkerStatus {
	return c.monitor.AllStatus()
}

// Requests snapshots every request submitted so far.
func (c *Client) Requests() []registry.Request {
	return c.registry.Requests()
}

// Responses snapshots every response recorded so far.
func (c *Client) Responses() []registry.Response {
	return c.registry.Responses()
}

// Lookup returns one request and its response, if any.
func (c *Client) Lookup(id int64) (registry.Request, *registry.Response, bool) {
	return c.registry.Lookup(id)
}

// SendControl broadcasts a process-control statement. With WaitResponse it
// waits for a reply from every online worker that has not timed out and
// returns the replies ordered by worker.
func (c *Client) SendControl(ctx context.Context, cmd ControlCommand) ([]protocol.ControlResponse, error) {
	if c.State() != StateRunning {
		return nil, ErrNotRunning
	}
	return c.broadcastAndWait(ctx, protocol.ControlRequest{
		Signal:       protocol.SignalProcessControl,
		Session:      c.session,
		Command:      cmd.Command,
		SendResponse: cmd.WaitResponse,
	})
}

// SetLogLevel changes the log level of the client and of every worker.
func (c *Client) SetLogLevel(ctx context.Context, level string) error {
	level = strings.ToLower(strings.TrimSpace(level))
	valid := false
	for _, l := range LogLevels {
		if l == level {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("unknown log level %q (want one of %s)", level, strings.Join(LogLevels, ", "))
	}

	log.SetLevel(level)
	c.logger.Info("Log level changed", "level", level)
	c.events.Publish(events.LogLevelChanged, map[string]any{"level": level})

	if c.State() != StateRunning {
		return nil
	}
	replies, err := c.broadcastAndWait(ctx, protocol.ControlRequest{
		Signal:       protocol.SignalSetLogLevel,
		Session:      c.session,
		LogLevel:     level,
		SendResponse: true,
	})
	if err != nil {
		return fmt.Errorf("propagate log level: %w", err)
	}
	var failed []string
	for _, r := range replies {
		if !r.Successful {
			failed = append(failed, fmt.Sprintf("worker %d: %s", r.Worker, r.Detail))
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("propagate log level: %s", strings.Join(failed, "; "))
	}
	return nil
}

func (c *Client) broadcastAndWait(ctx context.Context, req protocol.ControlRequest) ([]protocol.ControlResponse, error) {
	c.controlMu.Lock()
	defer c.controlMu.Unlock()

	pending := make(map[int]struct{})
	for id, st := range c.monitor.AllStatus() {
		if st.Online && !st.Timeout {
			pending[id] = struct{}{}
		}
	}

	if err := c.comm.BroadcastControl(req); err != nil {
		return nil, fmt.Errorf("broadcast %s: %w", req.Signal, err)
	}
	if !req.SendResponse {
		return nil, nil
	}

	var replies []protocol.ControlResponse
	err := c.collectControl(ctx, pending, req.Signal, func(resp protocol.ControlResponse) {
		replies = append(replies, resp)
	})
	sort.Slice(replies, func(i, j int) bool { return replies[i].Worker < replies[j].Worker })
	return replies, err
}

func uniq(ids []int64) map[int64]struct{} {
	out := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}

// collect orders resolved responses by ids, dropping unknown ids.
func collect(ids []int64, resolved map[int64]registry.Response) []registry.Response {
	out := make([]registry.Response, 0, len(ids))
	for _, id := range ids {
		if resp, ok := resolved[id]; ok && resp.ID != 0 {
			out = append(out, resp)
		}
	}
	return out
}
