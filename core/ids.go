package core

import "github.com/google/uuid"

// NewID generates a new unique identifier for requests, handoffs, experts,
// and memory records. Collision probability follows UUIDv4's ~2^-122 per
// pair, comfortably under the coordinator's required < 10^-8 per second.
func NewID() string {
	return uuid.NewString()
}
