package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/mattjoyce/relay/internal/worker"
)

// ExecutorFactory builds the executor for one in-process worker.
type ExecutorFactory func(worker int) (worker.Executor, error)

// Local runs workers as goroutines connected through in-memory pipes.
type Local struct {
	*Communicator

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewLocal starts n in-process workers with ids 1..n.
func NewLocal(ctx context.Context, n int, factory ExecutorFactory, logger *slog.Logger) (*Local, error) {
	if n <= 0 {
		return nil, fmt.Errorf("worker count must be positive, got %d", n)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if factory == nil {
		factory = func(int) (worker.Executor, error) { return worker.NewInterpreter() }
	}

	ctx, cancel := context.WithCancel(ctx)
	l := &Local{Communicator: NewCommunicator(logger), cancel: cancel}

	for id := 1; id <= n; id++ {
		exec, err := factory(id)
		if err != nil {
			_ = l.Close()
			return nil, fmt.Errorf("create executor for worker %d: %w", id, err)
		}

		toWorker, ctrlOut := io.Pipe()
		ctrlIn, fromWorker := io.Pipe()
		srv := worker.NewServer(id, exec, logger)

		l.wg.Add(1)
		go func(id int) {
			defer l.wg.Done()
			if err := srv.Serve(ctx, toWorker, fromWorker); err != nil && ctx.Err() == nil {
				logger.Error("Local worker exited", "worker", id, "error", err)
			}
			_ = fromWorker.Close()
			_ = toWorker.Close()
		}(id)

		l.Attach(id, ctrlIn, ctrlOut)
	}
	return l, nil
}

// Close shuts down every worker and waits for them to exit.
func (l *Local) Close() error {
	var err error
	l.once.Do(func() {
		err = l.CloseLinks()
		l.cancel()
		l.wg.Wait()
	})
	return err
}
