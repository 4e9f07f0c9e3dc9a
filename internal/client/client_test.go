package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/mattjoyce/relay/internal/client/mocks"
	"github.com/mattjoyce/relay/internal/events"
	"github.com/mattjoyce/relay/internal/log"
	"github.com/mattjoyce/relay/internal/monitor"
	"github.com/mattjoyce/relay/internal/protocol"
	"github.com/mattjoyce/relay/internal/registry"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR")
	goleak.VerifyTestMain(m)
}

const tick = 2 * time.Millisecond

func fastConfig() Config {
	return Config{
		DispatchInterval:   tick,
		CollectInterval:    tick,
		BlockPollInterval:  tick,
		StartCheckInterval: tick,
		HandshakeTimeout:   2 * time.Second,
	}
}

func newMonitor(ids ...int) *monitor.Monitor {
	return monitor.New(ids, nil, monitor.Config{HeartbeatInterval: time.Hour}, nil, nil)
}

func startClient(t *testing.T, comm Communicator, mon Monitor, opts Options) *Client {
	t.Helper()
	opts.Config = fastConfig()
	c := New(comm, mon, opts)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { c.Stop(true) })
	return c
}

// signalIs matches a ControlRequest by signal.
type signalIs protocol.Signal

func (s signalIs) Matches(x any) bool {
	req, ok := x.(protocol.ControlRequest)
	return ok && req.Signal == protocol.Signal(s)
}

func (s signalIs) String() string { return "control request with signal " + string(s) }

func TestSubmitBlockingExpression(t *testing.T) {
	comm := newFakeComm(1)
	comm.handle = echo(4)
	c := startClient(t, comm, newMonitor(1), Options{})

	res, err := c.Submit(context.Background(), SubmitRequest{Command: "2+2", Block: true})
	require.NoError(t, err)
	require.Len(t, res.IDs, 1)
	require.Len(t, res.Responses, 1)

	resp := res.Responses[0]
	assert.True(t, resp.Successful)
	assert.Equal(t, protocol.ModeExpression, resp.Mode)
	v, err := resp.Value()
	require.NoError(t, err)
	assert.Equal(t, float64(4), v)

	req, _, _ := c.Lookup(res.IDs[0])
	assert.Equal(t, registry.StatusResponseReceived, req.Status)
}

func TestSubmitUnknownTargetRejected(t *testing.T) {
	comm := newFakeComm(1, 2)
	c := startClient(t, comm, newMonitor(1, 2), Options{})

	_, err := c.Submit(context.Background(), SubmitRequest{Command: "x = 1", Targets: []int{7}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTarget)

	var target *InvalidTargetError
	require.ErrorAs(t, err, &target)
	assert.Equal(t, 7, target.Worker)
	assert.Empty(t, c.Requests())
}

func TestSubmitTimedOutTargetRejected(t *testing.T) {
	mon := newMonitor(1, 2)
	c := startClient(t, newFakeComm(1, 2), mon, Options{})
	mon.SetStatus(2, monitor.KeyTimeout, true)

	_, err := c.Submit(context.Background(), SubmitRequest{Command: "1", Targets: []int{1, 2}})
	assert.ErrorIs(t, err, ErrInvalidTarget)
	assert.Empty(t, c.Requests(), "nothing queued when any target is invalid")
}

func TestSubmitCompileError(t *testing.T) {
	c := startClient(t, newFakeComm(1), newMonitor(1), Options{})

	_, err := c.Submit(context.Background(), SubmitRequest{Command: "2 +* )"})
	var compileErr *CompileError
	require.ErrorAs(t, err, &compileErr)
	assert.Empty(t, c.Requests())
}

func TestSubmitBeforeStart(t *testing.T) {
	c := New(newFakeComm(1), newMonitor(1), Options{Config: fastConfig()})
	_, err := c.Submit(context.Background(), SubmitRequest{Command: "1"})
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestOneWorkerTwoCommands(t *testing.T) {
	comm := newFakeComm(1)
	mon := newMonitor(1)
	mon.SetStatus(1, monitor.KeyOnline, true)
	c := New(comm, mon, Options{Config: fastConfig()})
	// Drive the dispatch and collect cycles by hand.
	c.setState(StateRunning)

	first, err := c.Submit(context.Background(), SubmitRequest{Command: "1"})
	require.NoError(t, err)
	second, err := c.Submit(context.Background(), SubmitRequest{Command: "2"})
	require.NoError(t, err)

	assert.True(t, c.dispatchCycle())

	r1, _, _ := c.Lookup(first.IDs[0])
	r2, _, _ := c.Lookup(second.IDs[0])
	assert.Equal(t, registry.StatusSent, r1.Status)
	assert.Equal(t, registry.StatusQueued, r2.Status)
	assert.Equal(t, true, mon.Status(1, monitor.KeyBusy))
	assert.Equal(t, "1", mon.Status(1, monitor.KeyCommand))

	assert.False(t, c.dispatchCycle(), "busy worker must not take a second command")
	r2, _, _ = c.Lookup(second.IDs[0])
	assert.Equal(t, registry.StatusQueued, r2.Status)

	comm.reply(protocol.CommandResponse{ID: first.IDs[0], Worker: 1, Successful: true})
	assert.True(t, c.collectCycle())
	assert.Equal(t, false, mon.Status(1, monitor.KeyBusy))

	assert.True(t, c.dispatchCycle())
	r2, _, _ = c.Lookup(second.IDs[0])
	assert.Equal(t, registry.StatusSent, r2.Status)
}

func TestBlockingPollReturnsOnWorkerTimeout(t *testing.T) {
	comm := newFakeComm(1, 2, 3)
	mon := newMonitor(1, 2, 3)
	c := startClient(t, comm, mon, Options{})

	res, err := c.Submit(context.Background(), SubmitRequest{Command: "slow()", Targets: []int{3}})
	require.NoError(t, err)
	id := res.IDs[0]
	require.Eventually(t, func() bool {
		req, _, _ := c.Lookup(id)
		return req.Status == registry.StatusSent
	}, time.Second, tick)

	mon.SetStatus(3, monitor.KeyTimeout, true)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	began := time.Now()
	responses, err := c.Poll(ctx, []int64{id}, PollOptions{Block: true})
	require.NoError(t, err)
	assert.Less(t, time.Since(began), 500*time.Millisecond)

	require.Len(t, responses, 1)
	assert.False(t, responses[0].Successful)
	assert.Contains(t, responses[0].FailureDetail, "worker 3")
	assert.Contains(t, responses[0].FailureDetail, "node-3")
	assert.Contains(t, responses[0].FailureDetail, "PID 1003")

	req, _, _ := c.Lookup(id)
	assert.Equal(t, registry.StatusTimedOut, req.Status)

	// A late reply is ignored.
	comm.reply(protocol.CommandResponse{ID: id, Worker: 3, Successful: true})
	require.Eventually(t, func() bool { return !comm.CommandResponseAvailable() }, time.Second, tick)
	_, resp, _ := c.Lookup(id)
	assert.False(t, resp.Successful)
}

func TestBlockingSubmitTerminatesOnTimeout(t *testing.T) {
	comm := newFakeComm(1)
	mon := newMonitor(1)
	c := startClient(t, comm, mon, Options{})

	go func() {
		if assert.Eventually(t, func() bool { return comm.sentCount() == 1 }, time.Second, tick) {
			mon.SetStatus(1, monitor.KeyTimeout, true)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := c.Submit(ctx, SubmitRequest{Command: "hang()", Targets: []int{1}, Block: true})
	require.NoError(t, err)
	require.Len(t, res.Responses, 1)
	assert.False(t, res.Responses[0].Successful)
}

func TestStopBeforeStartIsNoop(t *testing.T) {
	ctrl := gomock.NewController(t)
	comm := mocks.NewMockCommunicator(ctrl)
	mon := mocks.NewMockMonitor(ctrl)

	c := New(comm, mon, Options{})
	assert.NotPanics(t, func() { c.Stop(false) })
	assert.Equal(t, StateNotStarted, c.State())
	assert.NoError(t, c.Close())
}

func TestStopIsIdempotent(t *testing.T) {
	ctrl := gomock.NewController(t)
	comm := mocks.NewMockCommunicator(ctrl)

	gomock.InOrder(
		comm.EXPECT().BroadcastControl(signalIs(protocol.SignalStart)).Return(nil),
		comm.EXPECT().ControlResponseAvailable().Return(true),
		comm.EXPECT().ReceiveControlResponse().Return(protocol.ControlResponse{
			Worker: 1, Signal: protocol.SignalStart, Processor: "node-a", PID: 42, Successful: true,
		}, nil),
	)
	comm.EXPECT().ControlResponseAvailable().Return(false).AnyTimes()
	comm.EXPECT().CommandResponseAvailable().Return(false).AnyTimes()
	comm.EXPECT().BroadcastControl(signalIs(protocol.SignalStop)).Return(nil).Times(1)

	mon := newMonitor(1)
	c := New(comm, mon, Options{Config: fastConfig()})
	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.Start(context.Background()), "second start is a no-op")

	st, ok := c.WorkerStatus(1)
	require.True(t, ok)
	assert.Equal(t, "node-a", st.Processor)
	assert.Equal(t, 42, st.PID)
	assert.True(t, st.Online)

	c.Stop(false)
	c.Stop(false)
	require.NoError(t, c.Close())
	assert.Equal(t, StateStopped, c.State())
	require.NoError(t, c.Start(context.Background()), "start after stop is a no-op")
	assert.Equal(t, StateStopped, c.State())
}

func TestSendFailureBecomesResponse(t *testing.T) {
	ctrl := gomock.NewController(t)
	comm := mocks.NewMockCommunicator(ctrl)
	comm.EXPECT().SendCommand(gomock.Any(), 2).Return(errors.New("link closed"))

	mon := newMonitor(2)
	mon.SetStatus(2, monitor.KeyOnline, true)
	c := New(comm, mon, Options{Config: fastConfig()})
	c.setState(StateRunning)

	res, err := c.Submit(context.Background(), SubmitRequest{Command: "1"})
	require.NoError(t, err)
	require.True(t, c.dispatchCycle())

	responses, err := c.Poll(context.Background(), res.IDs, PollOptions{})
	require.NoError(t, err)
	require.Len(t, responses, 1)
	assert.False(t, responses[0].Successful)
	assert.Contains(t, responses[0].FailureDetail, "link closed")
	assert.Equal(t, 2, responses[0].Worker)
	assert.Equal(t, []int{2}, mon.AvailableWorkers(), "worker released after failed send")

	req, _, _ := c.Lookup(res.IDs[0])
	assert.Equal(t, registry.StatusResponseReceived, req.Status)
	assert.NotNil(t, req.SentAt)
}

func TestHandshakeTimeout(t *testing.T) {
	comm := newFakeComm(1, 2)
	comm.silent[2] = true
	cfg := fastConfig()
	cfg.HandshakeTimeout = 20 * time.Millisecond

	c := New(comm, newMonitor(1, 2), Options{Config: cfg})
	err := c.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHandshakeTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "[2]")
	assert.Equal(t, StateNotStarted, c.State())
}

func TestStopForcesInterruptWhenWorkerTimedOut(t *testing.T) {
	comm := newFakeComm(1, 2)
	mon := newMonitor(1, 2)
	c := New(comm, mon, Options{Config: fastConfig()})
	require.NoError(t, c.Start(context.Background()))

	mon.SetStatus(2, monitor.KeyTimeout, true)
	c.Stop(false)

	stops := comm.broadcastsOf(protocol.SignalStop)
	require.Len(t, stops, 1)
	assert.True(t, stops[0].ForceInterrupt)
	assert.False(t, stops[0].Finalize)
}

func TestStopLeavesOutstandingRequests(t *testing.T) {
	hub := events.NewHub(64)
	comm := newFakeComm(1)
	c := New(comm, newMonitor(1), Options{Config: fastConfig(), Events: hub})
	require.NoError(t, c.Start(context.Background()))

	res, err := c.Submit(context.Background(), SubmitRequest{Command: "wait()", Targets: []int{1}})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return comm.sentCount() == 1 }, time.Second, tick)

	c.Stop(false)
	stops := comm.broadcastsOf(protocol.SignalStop)
	require.Len(t, stops, 1)
	assert.False(t, stops[0].ForceInterrupt)
	assert.True(t, stops[0].Finalize)

	req, resp, ok := c.Lookup(res.IDs[0])
	require.True(t, ok)
	assert.Nil(t, resp)
	assert.Equal(t, registry.StatusSent, req.Status)

	got, err := c.Poll(context.Background(), res.IDs, PollOptions{Verbose: true})
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = c.Poll(context.Background(), res.IDs, PollOptions{Block: true})
	assert.ErrorIs(t, err, ErrNotRunning)

	var aborted int
	for _, ev := range hub.SnapshotSince(0) {
		if ev.Type == events.CommandAborted {
			aborted++
		}
	}
	assert.Equal(t, 1, aborted)
}

func TestIDsStrictlyIncrease(t *testing.T) {
	comm := newFakeComm(1, 2)
	comm.handle = echo(true)
	c := startClient(t, comm, newMonitor(1, 2), Options{})

	var last int64
	for i := 0; i < 20; i++ {
		res, err := c.Submit(context.Background(), SubmitRequest{Command: "true", Targets: []int{1, 2}})
		require.NoError(t, err)
		require.Len(t, res.IDs, 2)
		for _, id := range res.IDs {
			assert.Greater(t, id, last)
			last = id
		}
	}
}

func TestBusyFlagExclusive(t *testing.T) {
	comm := newFakeComm(1, 2, 3)
	comm.handle = echo("ok")
	c := startClient(t, comm, newMonitor(1, 2, 3), Options{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_, err := c.Submit(context.Background(), SubmitRequest{Command: `"x"`})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	var ids []int64
	for _, r := range c.Requests() {
		ids = append(ids, r.ID)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	responses, err := c.Await(ctx, ids)
	require.NoError(t, err)
	assert.Len(t, responses, 80)

	comm.mu.Lock()
	assert.Empty(t, comm.violations)
	comm.mu.Unlock()

	seen := map[int64]bool{}
	for _, r := range c.Responses() {
		assert.False(t, seen[r.ID])
		seen[r.ID] = true
	}
}

func TestStatementReturnsNoValue(t *testing.T) {
	comm := newFakeComm(1)
	comm.handle = echo(1)
	c := startClient(t, comm, newMonitor(1), Options{})

	res, err := c.Submit(context.Background(), SubmitRequest{Command: "x := 1", Block: true})
	require.NoError(t, err)
	require.Len(t, res.Responses, 1)
	assert.Equal(t, protocol.ModeStatement, res.Responses[0].Mode)
	assert.Nil(t, res.Responses[0].ReturnValue)
}

func TestExplicitModeSkipsClassification(t *testing.T) {
	comm := newFakeComm(1)
	comm.handle = echo(nil)
	c := startClient(t, comm, newMonitor(1), Options{})

	res, err := c.Submit(context.Background(), SubmitRequest{Command: "anything goes", Mode: protocol.ModeStatement, Block: true})
	require.NoError(t, err)
	require.Len(t, res.Responses, 1)
	comm.mu.Lock()
	defer comm.mu.Unlock()
	require.Len(t, comm.sent, 1)
	assert.Equal(t, protocol.ModeStatement, comm.sent[0].req.Mode)
}

func TestPollUnknownAndOrder(t *testing.T) {
	comm := newFakeComm(1)
	comm.handle = echo(1)
	c := startClient(t, comm, newMonitor(1), Options{})

	a, err := c.Submit(context.Background(), SubmitRequest{Command: "1", Block: true})
	require.NoError(t, err)
	b, err := c.Submit(context.Background(), SubmitRequest{Command: "2", Block: true})
	require.NoError(t, err)

	got, err := c.Poll(context.Background(), []int64{b.IDs[0], 999, a.IDs[0]}, PollOptions{Block: true})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, b.IDs[0], got[0].ID)
	assert.Equal(t, a.IDs[0], got[1].ID)
}

func TestPollHonoursContext(t *testing.T) {
	comm := newFakeComm(1)
	c := startClient(t, comm, newMonitor(1), Options{})

	res, err := c.Submit(context.Background(), SubmitRequest{Command: "1"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Poll(ctx, res.IDs, PollOptions{Block: true})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGroupCompletes(t *testing.T) {
	comm := newFakeComm(1, 2)
	c := startClient(t, comm, newMonitor(1, 2), Options{})

	res, err := c.Submit(context.Background(), SubmitRequest{Command: "1", Targets: []int{1, 2}})
	require.NoError(t, err)
	done, err := c.Group(res.IDs)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return comm.sentCount() == 2 }, time.Second, tick)
	comm.reply(protocol.CommandResponse{ID: res.IDs[0], Worker: 1, Successful: true})
	comm.reply(protocol.CommandResponse{ID: res.IDs[1], Worker: 2, Successful: false, FailureDetail: "boom"})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("group did not complete")
	}
}

func TestSetLogLevel(t *testing.T) {
	comm := newFakeComm(1, 2)
	c := startClient(t, comm, newMonitor(1, 2), Options{})
	t.Cleanup(func() { log.SetLevel("error") })

	assert.Error(t, c.SetLogLevel(context.Background(), "verbose"))
	require.NoError(t, c.SetLogLevel(context.Background(), "DEBUG"))

	sent := comm.broadcastsOf(protocol.SignalSetLogLevel)
	require.Len(t, sent, 1)
	assert.Equal(t, "debug", sent[0].LogLevel)
}

func TestSendControlWaitsForOnlineWorkers(t *testing.T) {
	comm := newFakeComm(1, 2, 3)
	mon := newMonitor(1, 2, 3)
	c := startClient(t, comm, mon, Options{})
	mon.SetStatus(3, monitor.KeyTimeout, true)

	replies, err := c.SendControl(context.Background(), ControlCommand{Command: "flush()", WaitResponse: true})
	require.NoError(t, err)
	require.Len(t, replies, 2)
	assert.Equal(t, 1, replies[0].Worker)
	assert.Equal(t, 2, replies[1].Worker)

	replies, err = c.SendControl(context.Background(), ControlCommand{Command: "flush()"})
	require.NoError(t, err)
	assert.Empty(t, replies)
}

type countingRecorder struct {
	mu        sync.Mutex
	requests  int
	responses []registry.Response
}

func (r *countingRecorder) Record(_ context.Context, _ string, _ registry.Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests++
	return nil
}

func (r *countingRecorder) Complete(_ context.Context, _ string, resp registry.Response) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses = append(r.responses, resp)
	return nil
}

func TestRecorderSeesRequestsAndResponses(t *testing.T) {
	rec := &countingRecorder{}
	comm := newFakeComm(1)
	comm.handle = echo(2)
	c := startClient(t, comm, newMonitor(1), Options{Recorder: rec})

	_, err := c.Submit(context.Background(), SubmitRequest{Command: "1+1", Block: true})
	require.NoError(t, err)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, 1, rec.requests)
	require.Len(t, rec.responses, 1)
	assert.Equal(t, registry.StatusResponseReceived, rec.responses[0].Status)
}

// lateSendComm queues the worker's reply before SendCommand returns.
type lateSendComm struct {
	*fakeComm
	delay time.Duration
}

func (l *lateSendComm) SendCommand(req protocol.CommandRequest, worker int) error {
	err := l.fakeComm.SendCommand(req, worker)
	time.Sleep(l.delay)
	return err
}

func TestReplyBeforeSendReturnsStillPassesSent(t *testing.T) {
	fake := newFakeComm(1)
	fake.handle = echo(7)
	comm := &lateSendComm{fakeComm: fake, delay: 20 * time.Millisecond}
	hub := events.NewHub(64)
	c := startClient(t, comm, newMonitor(1), Options{Events: hub})

	res, err := c.Submit(context.Background(), SubmitRequest{Command: "7", Block: true})
	require.NoError(t, err)
	require.Len(t, res.Responses, 1)
	assert.True(t, res.Responses[0].Successful)

	req, resp, ok := c.Lookup(res.IDs[0])
	require.True(t, ok)
	require.NotNil(t, resp)
	assert.Equal(t, registry.StatusResponseReceived, req.Status)
	assert.NotNil(t, req.SentAt, "request skipped Sent")

	var order []string
	for _, ev := range hub.SnapshotSince(0) {
		if ev.Type == events.CommandSent || ev.Type == events.CommandCompleted {
			order = append(order, ev.Type)
		}
	}
	assert.Equal(t, []string{events.CommandSent, events.CommandCompleted}, order)
}
