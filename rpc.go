package raft

import "github.com/google/uuid"

// NewRequestID mints an identifier for an outbound RPC, used to correlate a
// SubmitCommandResponse (and, transitively, a client future) back to the
// request that produced it.
func NewRequestID() string {
	return uuid.NewString()
}
