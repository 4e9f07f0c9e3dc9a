package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	// maxStderrBytes caps the amount of stderr kept per worker process.
	maxStderrBytes = 64 * 1024

	// terminationGracePeriod is the time we wait after SIGTERM before sending SIGKILL.
	terminationGracePeriod = 5 * time.Second
)

// ProcessConfig describes how worker processes are launched. Occurrences of
// "{id}" in Args are replaced with the worker id.
type ProcessConfig struct {
	Count      int
	Entrypoint string
	Args       []string
	Env        []string
	// StopGrace is how long a worker may take to exit after its link is
	// closed before SIGTERM is sent.
	StopGrace time.Duration
}

func (c ProcessConfig) withDefaults() (ProcessConfig, error) {
	if c.Entrypoint == "" {
		self, err := os.Executable()
		if err != nil {
			return c, fmt.Errorf("resolve own executable: %w", err)
		}
		c.Entrypoint = self
	}
	if len(c.Args) == 0 {
		c.Args = []string{"worker", "--id", "{id}"}
	}
	if c.StopGrace <= 0 {
		c.StopGrace = 5 * time.Second
	}
	return c, nil
}

// Process runs each worker as a child process speaking NDJSON on stdin/stdout.
type Process struct {
	*Communicator

	cfg    ProcessConfig
	logger *slog.Logger
	procs  []*workerProc
	once   sync.Once
}

type workerProc struct {
	id     int
	cmd    *exec.Cmd
	stderr *cappedBuffer
	done   chan error
}

// StartProcesses launches cfg.Count workers with ids 1..Count.
func StartProcesses(ctx context.Context, cfg ProcessConfig, logger *slog.Logger) (*Process, error) {
	if cfg.Count <= 0 {
		return nil, fmt.Errorf("worker count must be positive, got %d", cfg.Count)
	}
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &Process{
		Communicator: NewCommunicator(logger),
		cfg:          cfg,
		logger:       logger.With("component", "process"),
		procs:        make([]*workerProc, cfg.Count),
	}

	g, _ := errgroup.WithContext(ctx)
	for i := range cfg.Count {
		id := i + 1
		g.Go(func() error {
			wp, err := p.spawn(id)
			if err != nil {
				return err
			}
			p.procs[i] = wp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		_ = p.Close()
		return nil, err
	}
	return p, nil
}

func (p *Process) spawn(id int) (*workerProc, error) {
	args := make([]string, len(p.cfg.Args))
	for i, a := range p.cfg.Args {
		args[i] = strings.ReplaceAll(a, "{id}", strconv.Itoa(id))
	}

	// Not CommandContext: termination is escalated by Close.
	cmd := exec.Command(p.cfg.Entrypoint, args...)
	cmd.Env = append(os.Environ(), p.cfg.Env...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe for worker %d: %w", id, err)
	}
	// Wait closes pipes from StdoutPipe before reads finish, so stdout goes
	// through an io.Pipe closed after Wait returns.
	stdout, stdoutW := io.Pipe()
	cmd.Stdout = stdoutW
	stderr := &cappedBuffer{limit: maxStderrBytes}
	cmd.Stderr = stderr

	p.logger.Debug("spawning worker", "worker", id, "entrypoint", p.cfg.Entrypoint, "args", args)
	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		_ = stdoutW.Close()
		return nil, fmt.Errorf("start worker %d: %w", id, err)
	}

	wp := &workerProc{id: id, cmd: cmd, stderr: stderr, done: make(chan error, 1)}
	p.Attach(id, stdout, stdin)
	go func() {
		err := cmd.Wait()
		_ = stdoutW.Close()
		wp.done <- err
		close(wp.done)
	}()
	return wp, nil
}

// Stderr returns the captured stderr of worker id.
func (p *Process) Stderr(id int) string {
	for _, wp := range p.procs {
		if wp != nil && wp.id == id {
			return wp.stderr.String()
		}
	}
	return ""
}

// Close closes every worker's stdin, waits StopGrace for it to exit, then
// escalates to SIGTERM and finally SIGKILL.
func (p *Process) Close() error {
	var err error
	p.once.Do(func() {
		var g errgroup.Group
		for _, wp := range p.procs {
			if wp == nil {
				continue
			}
			g.Go(func() error { return p.terminate(wp) })
		}
		err = errors.Join(g.Wait(), p.CloseLinks())
	})
	return err
}

func (p *Process) terminate(wp *workerProc) error {
	logger := p.logger.With("worker", wp.id)
	if c, ok := p.linkCloser(wp.id); ok {
		_ = c.Close()
	}

	grace := time.NewTimer(p.cfg.StopGrace)
	defer grace.Stop()
	select {
	case err := <-wp.done:
		return exitError(wp.id, err)
	case <-grace.C:
	}

	logger.Warn("worker did not exit after stdin closed, sending SIGTERM")
	if err := wp.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		logger.Error("failed to send SIGTERM", "error", err)
	}

	kill := time.NewTimer(terminationGracePeriod)
	defer kill.Stop()
	select {
	case err := <-wp.done:
		logger.Info("worker exited after SIGTERM")
		return exitError(wp.id, err)
	case <-kill.C:
	}

	logger.Warn("worker did not exit after SIGTERM, sending SIGKILL")
	if err := wp.cmd.Process.Kill(); err != nil {
		logger.Error("failed to send SIGKILL", "error", err)
	}
	<-wp.done
	return nil
}

func (p *Process) linkCloser(id int) (io.Closer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.links[id]
	if !ok || l.closer == nil || l.closed.Swap(true) {
		return nil, false
	}
	return l.closer, true
}

func exitError(id int, err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return fmt.Errorf("worker %d exited with status %d", id, exitErr.ExitCode())
	}
	return fmt.Errorf("wait for worker %d: %w", id, err)
}

// cappedBuffer keeps the first limit bytes written to it.
type cappedBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
