package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/relay/internal/client"
	"github.com/mattjoyce/relay/internal/events"
	"github.com/mattjoyce/relay/internal/log"
	"github.com/mattjoyce/relay/internal/monitor"
	"github.com/mattjoyce/relay/internal/registry"
	"github.com/mattjoyce/relay/internal/transport"
)

// startStack runs a real client over two in-process interpreter workers.
func startStack(t *testing.T) http.Handler {
	t.Helper()
	ctx := context.Background()

	local, err := transport.NewLocal(ctx, 2, nil, log.Get())
	require.NoError(t, err)

	hub := events.NewHub(64)
	mon := monitor.New(local.Workers(), local, monitor.Config{
		HeartbeatInterval: 50 * time.Millisecond,
		HeartbeatTimeout:  5 * time.Second,
	}, hub, nil)
	c := client.New(local, mon, client.Options{
		Config: client.Config{
			DispatchInterval:   5 * time.Millisecond,
			CollectInterval:    5 * time.Millisecond,
			BlockPollInterval:  5 * time.Millisecond,
			StartCheckInterval: 5 * time.Millisecond,
			HandshakeTimeout:   5 * time.Second,
		},
		Events: hub,
	})
	require.NoError(t, c.Start(ctx))
	t.Cleanup(func() {
		c.Stop(false)
		_ = local.Close()
	})

	return New(Config{APIKey: adminKey, MaxBlock: 5 * time.Second}, c, nil, hub, nil).Handler()
}

func TestIntegrationSubmitAndPoll(t *testing.T) {
	h := startStack(t)

	rec := do(t, h, http.MethodPost, "/commands", adminKey, SubmitRequest{Command: "2+2", Block: true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp SubmitResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Responses, 1)
	assert.True(t, resp.Responses[0].Successful)
	assert.JSONEq(t, `4`, string(resp.Responses[0].ReturnValue))

	rec = do(t, h, http.MethodPost, "/commands", adminKey, SubmitRequest{
		Command:    "a * b",
		Targets:    []int{1, 2},
		Parameters: map[string]any{"a": 6, "b": 7},
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.IDs, 2)

	rec = do(t, h, http.MethodPost, "/commands/poll", adminKey, PollRequest{IDs: resp.IDs, Block: true})
	require.Equal(t, http.StatusOK, rec.Code)
	var polled PollResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&polled))
	require.Len(t, polled.Responses, 2)
	workers := map[int]bool{}
	for _, r := range polled.Responses {
		assert.True(t, r.Successful, r.FailureDetail)
		assert.JSONEq(t, `42`, string(r.ReturnValue))
		assert.Equal(t, registry.StatusResponseReceived, r.Status)
		workers[r.Worker] = true
	}
	assert.Len(t, workers, 2)

	rec = do(t, h, http.MethodPost, "/commands", adminKey, SubmitRequest{Command: "x = 1", Targets: []int{9}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/workers", adminKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list WorkersResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	require.Len(t, list.Workers, 2)
	for _, w := range list.Workers {
		assert.True(t, w.Online)
		assert.NotZero(t, w.PID)
	}
}

func TestIntegrationFailedCommand(t *testing.T) {
	h := startStack(t)

	rec := do(t, h, http.MethodPost, "/commands", adminKey, SubmitRequest{Command: "undefinedName + 1", Block: true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp SubmitResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Responses, 1)
	assert.False(t, resp.Responses[0].Successful)
	assert.NotEmpty(t, resp.Responses[0].FailureDetail)
	assert.Nil(t, resp.Responses[0].ReturnValue)
}
