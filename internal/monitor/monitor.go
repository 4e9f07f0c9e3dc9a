package monitor

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mattjoyce/relay/internal/events"
)

// Monitor tracks liveness and busy state for a fixed set of workers.
type Monitor struct {
	cfg    Config
	pinger Pinger
	events events.Publisher
	logger *slog.Logger
	now    func() time.Time

	mu      sync.RWMutex
	workers map[int]*WorkerStatus
	started time.Time
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates a Monitor for workerIDs. pinger may be nil, in which case the
// heartbeat loop only ages LastSeen and never flags timeouts on its own.
func New(workerIDs []int, pinger Pinger, cfg Config, pub events.Publisher, logger *slog.Logger) *Monitor {
	if pub == nil {
		pub = events.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Monitor{
		cfg:     cfg.withDefaults(),
		pinger:  pinger,
		events:  pub,
		logger:  logger.With("component", "monitor"),
		now:     time.Now,
		workers: make(map[int]*WorkerStatus, len(workerIDs)),
	}
	for _, id := range workerIDs {
		m.workers[id] = &WorkerStatus{Worker: id}
	}
	return m
}

// Workers lists every known worker id in ascending order.
func (m *Monitor) Workers() []int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]int, 0, len(m.workers))
	for id := range m.workers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// AvailableWorkers lists online workers that are neither busy nor timed out.
func (m *Monitor) AvailableWorkers() []int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []int
	for id, st := range m.workers {
		if st.Available() {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}

// TimedOutWorkers lists workers flagged as not answering heartbeats.
func (m *Monitor) TimedOutWorkers() []int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []int
	for id, st := range m.workers {
		if st.Timeout {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}

// SetStatus sets one status keyword. Unknown keywords are kept in Extra.
// Values of the wrong type are logged and ignored.
func (m *Monitor) SetStatus(worker int, key string, value any) {
	m.mu.Lock()
	st, ok := m.workers[worker]
	if !ok {
		m.mu.Unlock()
		m.logger.Warn("Status update for unknown worker ignored", "worker", worker, "key", key)
		return
	}
	wasTimeout := st.Timeout
	if err := apply(st, key, value); err != nil {
		m.mu.Unlock()
		m.logger.Warn("Invalid status update ignored", "worker", worker, "key", key, "error", err)
		return
	}
	nowTimeout := st.Timeout
	m.mu.Unlock()

	if key == KeyTimeout && wasTimeout != nowTimeout {
		m.publishTimeout(worker, nowTimeout)
	}
}

// Status returns one status keyword, or nil when unset or unknown.
func (m *Monitor) Status(worker int, key string) any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.workers[worker]
	if !ok {
		return nil
	}
	switch key {
	case KeyBusy:
		return st.Busy
	case KeyProcessor:
		return st.Processor
	case KeyPID:
		return st.PID
	case KeyTimeout:
		return st.Timeout
	case KeyCommand:
		return st.Command
	case KeyOnline:
		return st.Online
	default:
		return st.Extra[key]
	}
}

// WorkerStatus returns a copy of one worker's status.
func (m *Monitor) WorkerStatus(worker int) (WorkerStatus, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.workers[worker]
	if !ok {
		return WorkerStatus{}, false
	}
	return st.copy(), true
}

// AllStatus returns a copy of every worker's status.
func (m *Monitor) AllStatus() map[int]WorkerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[int]WorkerStatus, len(m.workers))
	for id, st := range m.workers {
		out[id] = st.copy()
	}
	return out
}

// Start begins the heartbeat loop. Calling Start on a running monitor is a no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.started = m.now()
	m.stopCh = make(chan struct{})
	m.mu.Unlock()

	m.logger.Info("Starting monitor", "workers", len(m.workers), "heartbeat_interval", m.cfg.HeartbeatInterval)
	m.wg.Add(1)
	go m.heartbeatLoop(m.stopCh)
}

// Stop halts the heartbeat loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Info("Monitor stopped")
}

func (m *Monitor) heartbeatLoop(stopCh <-chan struct{}) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.check()
		case <-stopCh:
			return
		}
	}
}

// check pings every online worker and flags the ones whose last answer is
// older than the heartbeat timeout.
func (m *Monitor) check() {
	if m.pinger == nil {
		return
	}
	now := m.now()

	for _, id := range m.Workers() {
		if err := m.pinger.Ping(id); err != nil {
			m.logger.Debug("Heartbeat ping failed", "worker", id, "error", err)
		}

		last := m.pinger.LastPong(id)
		m.mu.Lock()
		st := m.workers[id]
		if !st.Online {
			m.mu.Unlock()
			continue
		}
		if last.After(st.LastSeen) {
			st.LastSeen = last
		}
		seen := st.LastSeen
		m.mu.Unlock()

		baseline := seen
		if baseline.IsZero() || baseline.Before(m.started) {
			baseline = m.started
		}
		late := now.Sub(baseline) > m.cfg.HeartbeatTimeout

		switch {
		case late && m.Status(id, KeyTimeout) == false:
			m.logger.Warn("Worker missed heartbeats, flagging timeout", "worker", id, "last_seen", seen)
			m.SetStatus(id, KeyTimeout, true)
		case !late && m.Status(id, KeyTimeout) == true:
			m.logger.Info("Worker answering heartbeats again", "worker", id)
			m.SetStatus(id, KeyTimeout, false)
		}
	}
}

func (m *Monitor) publishTimeout(worker int, timeout bool) {
	if timeout {
		m.events.Publish(events.WorkerTimeout, map[string]any{"worker": worker})
		return
	}
	m.events.Publish(events.WorkerRecovered, map[string]any{"worker": worker})
}

func apply(st *WorkerStatus, key string, value any) error {
	switch key {
	case KeyBusy, KeyTimeout, KeyOnline:
		b, ok := value.(bool)
		if !ok {
			return fmt.Errorf("expected bool, got %T", value)
		}
		switch key {
		case KeyBusy:
			st.Busy = b
		case KeyTimeout:
			st.Timeout = b
		default:
			st.Online = b
		}
	case KeyProcessor, KeyCommand:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("expected string, got %T", value)
		}
		if key == KeyProcessor {
			st.Processor = s
		} else {
			st.Command = s
		}
	case KeyPID:
		pid, ok := value.(int)
		if !ok {
			return fmt.Errorf("expected int, got %T", value)
		}
		st.PID = pid
	default:
		if st.Extra == nil {
			st.Extra = make(map[string]any)
		}
		st.Extra[key] = value
	}
	return nil
}

func (s *WorkerStatus) copy() WorkerStatus {
	out := *s
	if s.Extra != nil {
		out.Extra = make(map[string]any, len(s.Extra))
		for k, v := range s.Extra {
			out.Extra[k] = v
		}
	}
	return out
}
