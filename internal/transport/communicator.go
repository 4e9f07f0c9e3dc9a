package transport

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattjoyce/relay/internal/protocol"
)

// ErrNoMessage is returned by the receive calls when their mailbox is empty.
var ErrNoMessage = errors.New("no message available")

// ErrUnknownWorker is returned when sending to a worker without a link.
var ErrUnknownWorker = errors.New("unknown worker")

// Communicator routes envelopes over one NDJSON link per worker. Inbound
// traffic is demultiplexed into control and command mailboxes that callers
// probe and drain without blocking.
type Communicator struct {
	logger *slog.Logger
	seq    atomic.Int64

	mu      sync.Mutex
	links   map[int]*link
	control []protocol.ControlResponse
	replies []protocol.CommandResponse
	pongs   map[int]time.Time

	readers sync.WaitGroup
}

type link struct {
	worker int
	enc    *protocol.Encoder
	closer io.Closer
	closed atomic.Bool
}

func NewCommunicator(logger *slog.Logger) *Communicator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Communicator{
		logger: logger.With("component", "transport"),
		links:  make(map[int]*link),
		pongs:  make(map[int]time.Time),
	}
}

// Attach registers the link for worker and starts reading from r. w is
// closed by Close when it implements io.Closer.
func (c *Communicator) Attach(worker int, r io.Reader, w io.Writer) {
	l := &link{worker: worker, enc: protocol.NewEncoder(w)}
	if cl, ok := w.(io.Closer); ok {
		l.closer = cl
	}

	c.mu.Lock()
	c.links[worker] = l
	c.mu.Unlock()

	c.readers.Add(1)
	go c.readLoop(l, protocol.NewDecoder(r))
}

// Workers lists attached worker ids in ascending order.
func (c *Communicator) Workers() []int {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]int, 0, len(c.links))
	for id := range c.links {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// BroadcastControl sends req to every attached worker.
func (c *Communicator) BroadcastControl(req protocol.ControlRequest) error {
	var errs []error
	for _, id := range c.Workers() {
		if err := c.send(id, protocol.NewControl(req)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Communicator) ControlResponseAvailable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.control) > 0
}

func (c *Communicator) ReceiveControlResponse() (protocol.ControlResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.control) == 0 {
		return protocol.ControlResponse{}, ErrNoMessage
	}
	resp := c.control[0]
	c.control = c.control[1:]
	return resp, nil
}

// SendCommand writes req to worker's link.
func (c *Communicator) SendCommand(req protocol.CommandRequest, worker int) error {
	return c.send(worker, protocol.NewCommand(req))
}

func (c *Communicator) CommandResponseAvailable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.replies) > 0
}

func (c *Communicator) ReceiveCommandResponse() (protocol.CommandResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.replies) == 0 {
		return protocol.CommandResponse{}, ErrNoMessage
	}
	resp := c.replies[0]
	c.replies = c.replies[1:]
	return resp, nil
}

// Ping sends a heartbeat probe to worker.
func (c *Communicator) Ping(worker int) error {
	return c.send(worker, protocol.NewPing(worker, c.seq.Add(1)))
}

// LastPong reports when worker last answered a ping. Zero if never.
func (c *Communicator) LastPong(worker int) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pongs[worker]
}

// CloseLinks closes the write side of every link and waits for the readers
// to drain.
func (c *Communicator) CloseLinks() error {
	c.mu.Lock()
	links := make([]*link, 0, len(c.links))
	for _, l := range c.links {
		links = append(links, l)
	}
	c.mu.Unlock()

	var errs []error
	for _, l := range links {
		if l.closer == nil || l.closed.Swap(true) {
			continue
		}
		if err := l.closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close link to worker %d: %w", l.worker, err))
		}
	}
	c.readers.Wait()
	return errors.Join(errs...)
}

func (c *Communicator) send(worker int, env *protocol.Envelope) error {
	c.mu.Lock()
	l, ok := c.links[worker]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("send to worker %d: %w", worker, ErrUnknownWorker)
	}
	if l.closed.Load() {
		return fmt.Errorf("send to worker %d: link closed", worker)
	}
	if err := l.enc.Encode(env); err != nil {
		return fmt.Errorf("send to worker %d: %w", worker, err)
	}
	return nil
}

func (c *Communicator) readLoop(l *link, dec *protocol.Decoder) {
	defer c.readers.Done()
	logger := c.logger.With("worker", l.worker)

	for {
		env, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			logger.Info("Worker link closed")
			l.closed.Store(true)
			return
		}
		if errors.Is(err, protocol.ErrMalformed) {
			logger.Error("Dropping malformed envelope", "error", err)
			continue
		}
		if err != nil {
			logger.Error("Worker link failed", "error", err)
			l.closed.Store(true)
			return
		}

		c.mu.Lock()
		switch env.Kind {
		case protocol.KindControlReply:
			reply := *env.ControlReply
			reply.Worker = l.worker
			c.control = append(c.control, reply)
		case protocol.KindCommandReply:
			reply := *env.CommandReply
			reply.Worker = l.worker
			c.replies = append(c.replies, reply)
		case protocol.KindPong:
			c.pongs[l.worker] = time.Now()
		default:
			logger.Warn("Unexpected envelope from worker", "kind", env.Kind)
		}
		c.mu.Unlock()
	}
}
