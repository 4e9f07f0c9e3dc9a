package client

import (
	"log/slog"
	"sync"
	"time"
)

// service runs cycle repeatedly on its own goroutine. A cycle that reports
// no work is followed by a sleep of interval, which is the loop's only
// suspension point.
type service struct {
	name     string
	interval time.Duration
	cycle    func() bool
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func newService(name string, interval time.Duration, cycle func() bool, logger *slog.Logger) *service {
	return &service{
		name:     name,
		interval: interval,
		cycle:    cycle,
		logger:   logger.With("component", name),
	}
}

// Start launches the loop and returns once it is running.
func (s *service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})

	started := make(chan struct{})
	s.wg.Add(1)
	go s.loop(s.stopCh, started)
	<-started
	s.logger.Debug("Service started", "interval", s.interval)
}

// Stop signals the loop and waits for the current cycle to finish.
func (s *service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Debug("Service stopped")
}

func (s *service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *service) loop(stopCh <-chan struct{}, started chan<- struct{}) {
	defer s.wg.Done()
	close(started)

	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		if s.safeCycle() {
			continue
		}

		timer.Reset(s.interval)
		select {
		case <-timer.C:
		case <-stopCh:
			return
		}
	}
}

// safeCycle keeps a panicking cycle from killing the loop.
func (s *service) safeCycle() (worked bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Service cycle panicked", "panic", r)
			worked = false
		}
	}()
	return s.cycle()
}
