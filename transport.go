package raft

import "context"

// RPC is a single inbound request dispatched from the transport onto the
// replica's single-writer goroutine, paired with a channel the handler
// uses to send the reply back to the transport.
type RPC struct {
	ID       string
	Request  any
	response chan rpcResponse
}

type rpcResponse struct {
	value any
	err   error
}

func NewRPC(id string, request any) *RPC {
	return &RPC{ID: id, Request: request, response: make(chan rpcResponse, 1)}
}

func (r *RPC) Respond(value any, err error) {
	r.response <- rpcResponse{value: value, err: err}
}

func (r *RPC) Response() (any, error) {
	res := <-r.response
	return res.value, res.err
}

// Transport is the replica's external collaborator for the peer protocol
// (§6). Its wire framing is out of scope for the core (§1); the core only
// needs to receive RPCs and dial out AppendEntries/RequestVote/SubmitCommand
// calls to a named peer.
type Transport interface {
	// Endpoint returns the address this transport listens on.
	Endpoint() string

	// RPC returns the channel of inbound requests dispatched onto the
	// engine's single-writer goroutine.
	RPC() <-chan *RPC

	// Serve blocks, accepting inbound connections, until Close is called.
	Serve() error

	// Close stops accepting connections and disconnects all peers.
	Close() error

	AppendEntries(ctx context.Context, peer MemberID, req *AppendEntriesRequest) (*AppendEntriesResponse, error)
	RequestVote(ctx context.Context, peer MemberID, req *RequestVoteRequest) (*RequestVoteResponse, error)
	SubmitCommand(ctx context.Context, peer MemberID, req *SubmitCommandRequest) (*SubmitCommandResponse, error)
}
