package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/relay/internal/client"
	"github.com/mattjoyce/relay/internal/monitor"
	"github.com/mattjoyce/relay/internal/registry"
)

const maxBodyBytes = 1 << 20

// handleHealthz handles GET /healthz.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	state := s.client.State()
	resp := HealthzResponse{
		Status:        "ok",
		ClientState:   string(state),
		Session:       s.client.Session(),
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	}
	if state != client.StateRunning {
		resp.Status = "unavailable"
	}
	for _, st := range s.client.WorkersStatus() {
		resp.Workers++
		if st.Online {
			resp.WorkersOnline++
		}
		if st.Timeout {
			resp.WorkersTimeout++
		}
	}

	code := http.StatusOK
	if resp.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, resp)
}

// handleSubmit handles POST /commands.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var body SubmitRequest
	if err := decodeBody(w, r, &body); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	mode, err := client.ParseMode(body.Mode)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	if body.Block {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.MaxBlock)
		defer cancel()
	}

	res, err := s.client.Submit(ctx, client.SubmitRequest{
		Command:    body.Command,
		Mode:       mode,
		Targets:    body.Targets,
		Parameters: body.Parameters,
		Block:      body.Block,
	})
	switch {
	case err == nil:
	case len(res.IDs) > 0 && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)):
		// Queued, but the wait ran out.
		respondJSON(w, http.StatusAccepted, SubmitResponse{
			IDs:       res.IDs,
			Responses: res.Responses,
			Pending:   pending(res.IDs, res.Responses),
		})
		return
	default:
		s.writeClientError(w, err)
		return
	}

	if !body.Block {
		respondJSON(w, http.StatusAccepted, SubmitResponse{IDs: res.IDs})
		return
	}
	respondJSON(w, http.StatusOK, SubmitResponse{IDs: res.IDs, Responses: res.Responses})
}

// handleGetCommand handles GET /commands/{id}.
func (s *Server) handleGetCommand(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, http.StatusBadRequest, "invalid command id")
		return
	}

	// Poll rather than Lookup so a dead worker's command reports its timeout.
	responses, err := s.client.Poll(r.Context(), []int64{id}, client.PollOptions{})
	if err != nil {
		s.writeClientError(w, err)
		return
	}
	if len(responses) == 1 {
		respondJSON(w, http.StatusOK, responses[0])
		return
	}

	req, _, ok := s.client.Lookup(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "command not found")
		return
	}
	resp := CommandStatusResponse{
		ID:        req.ID,
		Command:   req.Command,
		Status:    req.Status,
		CreatedAt: req.CreatedAt,
		SentAt:    req.SentAt,
	}
	if worker, assigned := req.Worker(); assigned {
		resp.Worker = &worker
	}
	respondJSON(w, http.StatusAccepted, resp)
}

// handlePoll handles POST /commands/poll.
func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	var body PollRequest
	if err := decodeBody(w, r, &body); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(body.IDs) == 0 {
		s.writeError(w, http.StatusBadRequest, "ids is required")
		return
	}

	ctx := r.Context()
	if body.Block {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.MaxBlock)
		defer cancel()
	}

	responses, err := s.client.Poll(ctx, body.IDs, client.PollOptions{Block: body.Block})
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) && !errors.Is(err, client.ErrNotRunning) {
		s.writeClientError(w, err)
		return
	}
	if responses == nil {
		responses = []registry.Response{}
	}
	respondJSON(w, http.StatusOK, PollResponse{Responses: responses, Pending: s.pendingKnown(body.IDs, responses)})
}

// handleListWorkers handles GET /workers.
func (s *Server) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	all := s.client.WorkersStatus()
	out := make([]monitor.WorkerStatus, 0, len(all))
	for _, st := range all {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Worker < out[j].Worker })
	respondJSON(w, http.StatusOK, WorkersResponse{Workers: out})
}

// handleGetWorker handles GET /workers/{id}.
func (s *Server) handleGetWorker(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid worker id")
		return
	}
	st, ok := s.client.WorkerStatus(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "worker not found")
		return
	}
	respondJSON(w, http.StatusOK, st)
}

// handleHistory handles GET /history. The current session is listed unless
// ?session= names another; ?session=all lists every session.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, http.StatusNotFound, "journal disabled")
		return
	}

	session := r.URL.Query().Get("session")
	switch session {
	case "":
		session = s.client.Session()
	case "all":
		session = ""
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	entries, err := s.history.List(r.Context(), session, limit)
	if err != nil {
		s.logger.Error("failed to list journal", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list journal")
		return
	}
	respondJSON(w, http.StatusOK, HistoryResponse{Session: session, Entries: entries})
}

// pendingKnown lists ids the client knows that have no response yet.
func (s *Server) pendingKnown(ids []int64, responses []registry.Response) []int64 {
	var out []int64
	for _, id := range pending(ids, responses) {
		if _, _, ok := s.client.Lookup(id); ok {
			out = append(out, id)
		}
	}
	return out
}

func pending(ids []int64, responses []registry.Response) []int64 {
	done := make(map[int64]struct{}, len(responses))
	for _, r := range responses {
		done[r.ID] = struct{}{}
	}
	var out []int64
	for _, id := range ids {
		if _, ok := done[id]; !ok {
			out = append(out, id)
			done[id] = struct{}{}
		}
	}
	return out
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.New("invalid JSON body: " + strings.TrimPrefix(err.Error(), "json: "))
	}
	return nil
}

// writeClientError maps dispatch client errors onto HTTP statuses.
func (s *Server) writeClientError(w http.ResponseWriter, err error) {
	var compileErr *client.CompileError
	switch {
	case errors.As(err, &compileErr):
		respondJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Kind: "compile"})
	case errors.Is(err, client.ErrInvalidTarget):
		respondJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Kind: "invalid_target"})
	case errors.Is(err, client.ErrNotRunning):
		respondJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: err.Error(), Kind: "not_running"})
	default:
		s.logger.Error("dispatch client error", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
