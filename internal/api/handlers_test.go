package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/relay/internal/auth"
	"github.com/mattjoyce/relay/internal/client"
	"github.com/mattjoyce/relay/internal/journal"
	"github.com/mattjoyce/relay/internal/log"
	"github.com/mattjoyce/relay/internal/monitor"
	"github.com/mattjoyce/relay/internal/registry"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR")
	os.Exit(m.Run())
}

// mockClient implements CommandClient for testing
type mockClient struct {
	submitFunc func(ctx context.Context, req client.SubmitRequest) (client.SubmitResult, error)
	pollFunc   func(ctx context.Context, ids []int64, opts client.PollOptions) ([]registry.Response, error)
	lookupFunc func(id int64) (registry.Request, *registry.Response, bool)
	workers    map[int]monitor.WorkerStatus
	state      client.State
}

func (m *mockClient) Submit(ctx context.Context, req client.SubmitRequest) (client.SubmitResult, error) {
	return m.submitFunc(ctx, req)
}

func (m *mockClient) Poll(ctx context.Context, ids []int64, opts client.PollOptions) ([]registry.Response, error) {
	if m.pollFunc == nil {
		return nil, nil
	}
	return m.pollFunc(ctx, ids, opts)
}

func (m *mockClient) Lookup(id int64) (registry.Request, *registry.Response, bool) {
	if m.lookupFunc == nil {
		return registry.Request{}, nil, false
	}
	return m.lookupFunc(id)
}

func (m *mockClient) WorkerStatus(worker int) (monitor.WorkerStatus, bool) {
	st, ok := m.workers[worker]
	return st, ok
}

func (m *mockClient) WorkersStatus() map[int]monitor.WorkerStatus { return m.workers }

func (m *mockClient) State() client.State {
	if m.state == "" {
		return client.StateRunning
	}
	return m.state
}

func (m *mockClient) Session() string { return "sess-1" }

type mockHistory struct {
	gotSession string
	gotLimit   int
}

func (m *mockHistory) List(_ context.Context, session string, limit int) ([]journal.Entry, error) {
	m.gotSession, m.gotLimit = session, limit
	return []journal.Entry{{Session: session, ID: 1, Command: "1"}}, nil
}

const (
	adminKey   = "admin-key"
	readerKey  = "reader-key"
	workersKey = "workers-key"
)

func newTestServer(c CommandClient, h History) http.Handler {
	return New(Config{
		APIKey: adminKey,
		Tokens: []auth.TokenConfig{
			{Token: readerKey, Scopes: []string{auth.ScopeCommandsRO}},
			{Token: workersKey, Scopes: []string{auth.ScopeWorkersRO}},
		},
		MaxBlock: time.Second,
	}, c, h, nil, nil).Handler()
}

func do(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuth(t *testing.T) {
	h := newTestServer(&mockClient{workers: map[int]monitor.WorkerStatus{}}, nil)

	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/workers", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/workers", "wrong", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/workers", workersKey, nil).Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/workers", adminKey, nil).Code)

	rec := do(t, h, http.MethodPost, "/commands", readerKey, SubmitRequest{Command: "1"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, http.StatusForbidden, do(t, h, http.MethodGet, "/events", workersKey, nil).Code)
}

func TestHealthzNeedsNoAuth(t *testing.T) {
	c := &mockClient{workers: map[int]monitor.WorkerStatus{
		1: {Worker: 1, Online: true},
		2: {Worker: 2, Online: true, Timeout: true},
	}}
	rec := do(t, newTestServer(c, nil), http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthzResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 2, resp.Workers)
	assert.Equal(t, 2, resp.WorkersOnline)
	assert.Equal(t, 1, resp.WorkersTimeout)

	c.state = client.StateStopped
	rec = do(t, newTestServer(c, nil), http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSubmit(t *testing.T) {
	tests := []struct {
		name     string
		body     any
		result   client.SubmitResult
		err      error
		wantCode int
		wantKind string
	}{
		{
			name:     "queued",
			body:     SubmitRequest{Command: "x := 1", Targets: []int{1}},
			result:   client.SubmitResult{IDs: []int64{7}},
			wantCode: http.StatusAccepted,
		},
		{
			name: "blocking",
			body: SubmitRequest{Command: "2+2", Block: true},
			result: client.SubmitResult{IDs: []int64{1}, Responses: []registry.Response{
				{ID: 1, Worker: 1, Successful: true, ReturnValue: json.RawMessage(`4`)},
			}},
			wantCode: http.StatusOK,
		},
		{
			name:     "blocking wait ran out",
			body:     SubmitRequest{Command: "slow()", Block: true},
			result:   client.SubmitResult{IDs: []int64{3}},
			err:      context.DeadlineExceeded,
			wantCode: http.StatusAccepted,
		},
		{
			name:     "compile error",
			body:     SubmitRequest{Command: "2 +* )"},
			err:      &client.CompileError{Command: "2 +* )", Err: fmt.Errorf("expected operand")},
			wantCode: http.StatusBadRequest,
			wantKind: "compile",
		},
		{
			name:     "invalid target",
			body:     SubmitRequest{Command: "1", Targets: []int{7}},
			err:      &client.InvalidTargetError{Worker: 7, Reason: "does not exist"},
			wantCode: http.StatusBadRequest,
			wantKind: "invalid_target",
		},
		{
			name:     "not running",
			body:     SubmitRequest{Command: "1"},
			err:      client.ErrNotRunning,
			wantCode: http.StatusServiceUnavailable,
			wantKind: "not_running",
		},
		{
			name:     "bad mode",
			body:     SubmitRequest{Command: "1", Mode: "compile"},
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "unknown field",
			body:     `{"command":"1","priority":9}`,
			wantCode: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &mockClient{submitFunc: func(ctx context.Context, req client.SubmitRequest) (client.SubmitResult, error) {
				return tt.result, tt.err
			}}
			rec := do(t, newTestServer(c, nil), http.MethodPost, "/commands", adminKey, tt.body)
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())

			if tt.wantKind != "" {
				var e ErrorResponse
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&e))
				assert.Equal(t, tt.wantKind, e.Kind)
			}
		})
	}
}

func TestSubmitPassesRequest(t *testing.T) {
	var got client.SubmitRequest
	c := &mockClient{submitFunc: func(ctx context.Context, req client.SubmitRequest) (client.SubmitResult, error) {
		got = req
		return client.SubmitResult{IDs: []int64{1, 2}}, nil
	}}
	rec := do(t, newTestServer(c, nil), http.MethodPost, "/commands", adminKey, SubmitRequest{
		Command:    "a + b",
		Mode:       "eval",
		Targets:    []int{1, 2},
		Parameters: map[string]any{"a": 1.0, "b": 2.0},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp SubmitResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, []int64{1, 2}, resp.IDs)
	assert.Equal(t, "eval", string(got.Mode))
	assert.Equal(t, []int{1, 2}, got.Targets)
	assert.Equal(t, 2.0, got.Parameters["b"])
}

func TestGetCommand(t *testing.T) {
	worker := 2
	sent := time.Now()
	c := &mockClient{
		pollFunc: func(ctx context.Context, ids []int64, opts client.PollOptions) ([]registry.Response, error) {
			if ids[0] == 1 {
				return []registry.Response{{ID: 1, Worker: 1, Successful: true}}, nil
			}
			return nil, nil
		},
		lookupFunc: func(id int64) (registry.Request, *registry.Response, bool) {
			if id == 2 {
				return registry.Request{ID: 2, Command: "wait()", Target: &worker, Status: registry.StatusSent, SentAt: &sent}, nil, true
			}
			return registry.Request{}, nil, false
		},
	}
	h := newTestServer(c, nil)

	rec := do(t, h, http.MethodGet, "/commands/1", readerKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp registry.Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.Successful)

	rec = do(t, h, http.MethodGet, "/commands/2", readerKey, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var status CommandStatusResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.Equal(t, registry.StatusSent, status.Status)
	require.NotNil(t, status.Worker)
	assert.Equal(t, 2, *status.Worker)

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/commands/3", readerKey, nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/commands/abc", readerKey, nil).Code)
}

func TestPoll(t *testing.T) {
	c := &mockClient{
		pollFunc: func(ctx context.Context, ids []int64, opts client.PollOptions) ([]registry.Response, error) {
			assert.True(t, opts.Block)
			return []registry.Response{{ID: 1, Successful: true}}, context.DeadlineExceeded
		},
		lookupFunc: func(id int64) (registry.Request, *registry.Response, bool) {
			return registry.Request{ID: id}, nil, id == 2
		},
	}
	h := newTestServer(c, nil)

	rec := do(t, h, http.MethodPost, "/commands/poll", readerKey, PollRequest{IDs: []int64{1, 2, 99}, Block: true})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp PollResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Len(t, resp.Responses, 1)
	assert.Equal(t, []int64{2}, resp.Pending, "unknown ids are not pending")

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/commands/poll", readerKey, PollRequest{}).Code)
}

func TestWorkers(t *testing.T) {
	c := &mockClient{workers: map[int]monitor.WorkerStatus{
		2: {Worker: 2, Online: true, Busy: true, Command: "x"},
		1: {Worker: 1, Online: true, Processor: "node-a", PID: 10},
	}}
	h := newTestServer(c, nil)

	rec := do(t, h, http.MethodGet, "/workers", workersKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list WorkersResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	require.Len(t, list.Workers, 2)
	assert.Equal(t, 1, list.Workers[0].Worker)
	assert.Equal(t, "node-a", list.Workers[0].Processor)

	rec = do(t, h, http.MethodGet, "/workers/2", workersKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var one monitor.WorkerStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&one))
	assert.True(t, one.Busy)

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/workers/9", workersKey, nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/workers/x", workersKey, nil).Code)
}

func TestHistory(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, do(t, newTestServer(&mockClient{}, nil), http.MethodGet, "/history", adminKey, nil).Code)

	hist := &mockHistory{}
	h := newTestServer(&mockClient{}, hist)

	rec := do(t, h, http.MethodGet, "/history?limit=5", adminKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sess-1", hist.gotSession)
	assert.Equal(t, 5, hist.gotLimit)

	do(t, h, http.MethodGet, "/history?session=all", adminKey, nil)
	assert.Equal(t, "", hist.gotSession)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/history?limit=-1", adminKey, nil).Code)
	assert.Equal(t, http.StatusForbidden, do(t, h, http.MethodGet, "/history", readerKey, nil).Code)
}

func TestOpenAPIDoc(t *testing.T) {
	rec := do(t, newTestServer(&mockClient{}, nil), http.MethodGet, "/openapi.json", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var doc map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&doc))
	paths, ok := doc["paths"].(map[string]any)
	require.True(t, ok)
	for _, rt := range routes {
		assert.Contains(t, paths, rt.path)
	}
	assert.True(t, strings.HasPrefix(doc["openapi"].(string), "3."))
}
