package client

import (
	"fmt"

	"github.com/mattjoyce/relay/internal/events"
	"github.com/mattjoyce/relay/internal/monitor"
	"github.com/mattjoyce/relay/internal/protocol"
	"github.com/mattjoyce/relay/internal/registry"
)

// dispatchCycle matches queued commands to available workers and sends
// them. It reports whether anything was sent.
func (c *Client) dispatchCycle() bool {
	available := c.monitor.AvailableWorkers()
	if len(available) == 0 {
		return false
	}
	matches := c.registry.Match(available)
	if len(matches) == 0 {
		return false
	}
	for _, req := range matches {
		c.dispatch(req)
	}
	return true
}

func (c *Client) dispatch(req registry.Request) {
	worker := *req.Target
	logger := c.logger.With("command_id", req.ID, "worker", worker)

	c.monitor.SetStatus(worker, monitor.KeyBusy, true)
	c.monitor.SetStatus(worker, monitor.KeyCommand, req.Command)

	// Sent is recorded before the write so a reply collected while
	// SendCommand is still returning cannot overtake it.
	c.registry.MarkSent(req.ID)
	c.events.Publish(events.CommandSent, map[string]any{"id": req.ID, "worker": worker})

	err := c.comm.SendCommand(protocol.CommandRequest{
		ID:         req.ID,
		Command:    req.Command,
		Mode:       req.Mode,
		Parameters: req.Parameters,
	}, worker)
	if err != nil {
		logger.Error("Failed to send command request", "error", err)
		// Nothing reached the worker, so it is free again.
		c.monitor.SetStatus(worker, monitor.KeyBusy, false)
		c.monitor.SetStatus(worker, monitor.KeyCommand, "")
		c.record(registry.Response{
			ID:            req.ID,
			Worker:        worker,
			Successful:    false,
			FailureDetail: fmt.Sprintf("failed to send command request to worker %d: %v", worker, err),
		})
		return
	}
	logger.Debug("Command request sent", "mode", req.Mode)
}
