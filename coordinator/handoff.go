package coordinator

import (
	"encoding/json"
	"os"

	"github.com/itsneelabh/gomind-refine/core"
)

// WriteHandoff persists a durable payload from one agent to the next
// sequential agent's mailbox.
func (c *Coordinator) WriteHandoff(fromRequestID, toRequestID string, payload map[string]string) error {
	h := &Handoff{
		FromRequestID: fromRequestID,
		ToRequestID:   toRequestID,
		Payload:       payload,
		CreatedAt:     c.clock.Now(),
	}
	return c.mailbox.writeHandoff(h)
}

// ReadHandoff retrieves the payload a prior agent left for toRequestID and
// consumes it: a handoff may only be read once. A second read returns
// ErrHandoffConsumed rather than silently succeeding again.
func (c *Coordinator) ReadHandoff(fromRequestID, toRequestID string) (*Handoff, error) {
	path := c.mailbox.path("handoffs", fromRequestID+"__"+toRequestID+".json")
	consumedPath := path + ".consumed"

	data, err := os.ReadFile(path)
	if err != nil {
		if _, statErr := os.Stat(consumedPath); statErr == nil {
			return nil, core.ErrHandoffConsumed
		}
		return nil, core.ErrHandoffNotFound
	}

	var h Handoff
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, core.NewFrameworkError("coordinator.ReadHandoff", core.KindInvalidInput, err)
	}

	_ = os.Rename(path, consumedPath)
	return &h, nil
}
