package client

import (
	"github.com/mattjoyce/relay/internal/monitor"
	"github.com/mattjoyce/relay/internal/registry"
)

// collectCycle drains one response from the communicator into the registry.
// It reports whether a response was handled.
func (c *Client) collectCycle() bool {
	if !c.comm.CommandResponseAvailable() {
		return false
	}
	wire, err := c.comm.ReceiveCommandResponse()
	if err != nil {
		c.logger.Error("Failed to receive command response", "error", err)
		return false
	}

	// Free the worker before anything else.
	c.monitor.SetStatus(wire.Worker, monitor.KeyBusy, false)
	c.monitor.SetStatus(wire.Worker, monitor.KeyCommand, "")

	c.record(registry.FromWire(wire))
	return true
}
