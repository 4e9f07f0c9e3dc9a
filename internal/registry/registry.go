package registry

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mattjoyce/relay/internal/protocol"
)

// Registry owns command identity, request data and response data. All
// mutations go through one mutex.
type Registry struct {
	mu        sync.Mutex
	lastID    int64
	requests  map[int64]*Request
	responses map[int64]*Response
	queue     []int64
	groups    []*group
	logger    *slog.Logger
}

type group struct {
	waiting map[int64]struct{}
	done    chan struct{}
}

func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		requests:  make(map[int64]*Request),
		responses: make(map[int64]*Response),
		logger:    logger.With("component", "registry"),
	}
}

// Allocate assigns the next id, stores req as queued and appends it to the
// dispatch queue.
func (r *Registry) Allocate(req Request) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastID++
	req.ID = r.lastID
	req.Status = StatusQueued
	req.SentAt = nil
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	stored := req.clone()
	r.requests[req.ID] = &stored
	r.queue = append(r.queue, req.ID)
	return req.ID
}

// Match pairs queued requests with available workers and removes the matched
// requests from the queue. Targeted requests only match their own worker;
// untargeted requests take whatever workers remain. At most
// min(len(queue), len(available)) requests are returned, each with Target set.
func (r *Registry) Match(available []int) []Request {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(available) == 0 || len(r.queue) == 0 {
		return nil
	}

	free := append([]int(nil), available...)
	limit := len(free)

	var (
		targeted   []int64
		untargeted []int64
	)
	for _, id := range r.queue {
		if len(targeted)+len(untargeted) >= limit {
			break
		}
		req := r.requests[id]
		if w, ok := req.Worker(); ok {
			if idx := indexOf(free, w); idx >= 0 {
				free = append(free[:idx], free[idx+1:]...)
				targeted = append(targeted, id)
			}
			continue
		}
		untargeted = append(untargeted, id)
	}

	matched := make(map[int64]struct{}, len(targeted)+len(untargeted))
	out := make([]Request, 0, len(targeted)+len(untargeted))
	for _, id := range targeted {
		matched[id] = struct{}{}
		out = append(out, r.requests[id].clone())
	}
	for _, id := range untargeted {
		if len(free) == 0 {
			break
		}
		w := free[len(free)-1]
		free = free[:len(free)-1]
		req := r.requests[id]
		req.Target = &w
		matched[id] = struct{}{}
		out = append(out, req.clone())
	}

	kept := r.queue[:0]
	for _, id := range r.queue {
		if _, ok := matched[id]; !ok {
			kept = append(kept, id)
		}
	}
	r.queue = kept

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// MarkSent moves a queued request to sent.
func (r *Registry) MarkSent(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[id]
	if !ok || req.Status != StatusQueued {
		return false
	}
	now := time.Now().UTC()
	req.Status = StatusSent
	req.SentAt = &now
	return true
}

// RecordResponse stores resp and marks its request as response received. An
// unknown id, or one that already has a response (for instance a
// synthesized timeout), is logged and ignored.
func (r *Registry) RecordResponse(resp Response) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[resp.ID]
	if !ok {
		r.logger.Warn("Response for unknown command request ignored", "command_id", resp.ID, "worker", resp.Worker)
		return false
	}
	if existing, dup := r.responses[resp.ID]; dup {
		r.logger.Warn(
			"Duplicate response ignored",
			"command_id", resp.ID,
			"worker", resp.Worker,
			"recorded_status", existing.Status,
		)
		return false
	}

	r.dequeueLocked(resp.ID)
	req.Status = StatusResponseReceived
	r.storeLocked(req, resp)
	return true
}

// MarkTimedOut synthesizes a failed response for id because its assigned
// worker stopped answering. If a response already exists it is returned
// unchanged with false.
func (r *Registry) MarkTimedOut(id int64, detail string) (Response, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.responses[id]; ok {
		return existing.clone(), false
	}
	req, ok := r.requests[id]
	if !ok {
		return Response{}, false
	}

	resp := Response{ID: id, Successful: false, FailureDetail: detail}
	if w, ok := req.Worker(); ok {
		resp.Worker = w
	}
	r.dequeueLocked(id)
	req.Status = StatusTimedOut
	stored := r.storeLocked(req, resp)
	return stored.clone(), true
}

// Lookup returns the request and its response, if any. Unknown ids report
// ok=false and are not an error.
func (r *Registry) Lookup(id int64) (Request, *Response, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[id]
	if !ok {
		return Request{}, nil, false
	}
	if resp, ok := r.responses[id]; ok {
		c := resp.clone()
		return req.clone(), &c, true
	}
	return req.clone(), nil, true
}

// Pending lists requests without a response, oldest first.
func (r *Registry) Pending() []Request {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Request
	for id, req := range r.requests {
		if _, done := r.responses[id]; !done {
			out = append(out, req.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// QueueLen reports how many requests wait for a worker.
func (r *Registry) QueueLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// Requests snapshots every request, oldest first.
func (r *Registry) Requests() []Request {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Request, 0, len(r.requests))
	for _, req := range r.requests {
		out = append(out, req.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Responses snapshots every recorded response, ordered by id.
func (r *Registry) Responses() []Response {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Response, 0, len(r.responses))
	for _, resp := range r.responses {
		out = append(out, resp.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// NewGroup returns a channel closed once every id in ids has a response.
func (r *Registry) NewGroup(ids []int64) (<-chan struct{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g := &group{waiting: make(map[int64]struct{}), done: make(chan struct{})}
	for _, id := range ids {
		if _, ok := r.requests[id]; !ok {
			return nil, fmt.Errorf("command request %d not found", id)
		}
		if _, ok := r.responses[id]; !ok {
			g.waiting[id] = struct{}{}
		}
	}
	if len(g.waiting) == 0 {
		close(g.done)
		return g.done, nil
	}
	r.groups = append(r.groups, g)
	return g.done, nil
}

func (r *Registry) storeLocked(req *Request, resp Response) *Response {
	resp.Mode = req.Mode
	resp.Command = req.Command
	resp.Status = req.Status
	if !resp.Successful || req.Mode != protocol.ModeExpression {
		resp.ReturnValue = nil
	}
	if resp.ReceivedAt.IsZero() {
		resp.ReceivedAt = time.Now().UTC()
	}
	stored := resp.clone()
	r.responses[resp.ID] = &stored
	r.notifyGroupsLocked(resp.ID)
	return &stored
}

func (r *Registry) notifyGroupsLocked(id int64) {
	kept := r.groups[:0]
	for _, g := range r.groups {
		delete(g.waiting, id)
		if len(g.waiting) == 0 {
			close(g.done)
			continue
		}
		kept = append(kept, g)
	}
	r.groups = kept
}

func (r *Registry) dequeueLocked(id int64) {
	for i, qid := range r.queue {
		if qid == id {
			r.queue = append(r.queue[:i], r.queue[i+1:]...)
			return
		}
	}
}

func indexOf(xs []int, v int) int {
	for i, x := range xs {
		if x == v {
			return i
		}
	}
	return -1
}
