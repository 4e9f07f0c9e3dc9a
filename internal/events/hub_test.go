package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubRingBufferKeepsNewest(t *testing.T) {
	t.Parallel()

	h := NewHub(3)
	for i := 1; i <= 5; i++ {
		h.Publish(CommandQueued, map[string]any{"id": i})
	}

	snap := h.SnapshotSince(0)
	require.Len(t, snap, 3)
	assert.Equal(t, int64(3), snap[0].ID)
	assert.Equal(t, int64(5), snap[2].ID)

	after := h.SnapshotSince(4)
	require.Len(t, after, 1)
	assert.Equal(t, int64(5), after[0].ID)

	var payload map[string]int
	require.NoError(t, json.Unmarshal(after[0].Data, &payload))
	assert.Equal(t, 5, payload["id"])
}

func TestHubSubscribeFiltersByPrefix(t *testing.T) {
	t.Parallel()

	h := NewHub(10)
	workers, cancel := h.Subscribe("worker.")
	defer cancel()

	h.Publish(CommandSent, nil)
	h.Publish(WorkerTimeout, map[string]int{"worker": 3})

	select {
	case ev := <-workers:
		assert.Equal(t, WorkerTimeout, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("expected worker event")
	}

	select {
	case ev := <-workers:
		t.Fatalf("unexpected event %s", ev.Type)
	default:
	}
}

func TestHubCancelClosesChannel(t *testing.T) {
	t.Parallel()

	h := NewHub(0)
	ch, cancel := h.Subscribe()
	cancel()
	cancel()

	_, open := <-ch
	assert.False(t, open)

	h.Publish(ClientStopped, nil)
}
