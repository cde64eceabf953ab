package raft

// Request/response shapes for the three wire operations (§6). These are
// the core's API; the gRPC transport
// (transportgrpc) maps its own wire structs onto these at the edge, so the
// core never depends on any particular wire encoding.

type AppendEntriesRequest struct {
	ID           string
	Term         Term
	LeaderID     MemberID
	PrevLogIndex LogIndex
	PrevLogTerm  Term
	Entries      []*Entry
	CommitIndex  LogIndex
}

type AppendEntriesResponse struct {
	ID           string
	Term         Term
	Success      bool
	LastLogIndex LogIndex
}

type RequestVoteRequest struct {
	ID           string
	Term         Term
	Candidate    MemberID
	LastLogIndex LogIndex
	LastLogTerm  Term
}

type RequestVoteResponse struct {
	ID          string
	Term        Term
	VoteGranted bool
}

type SubmitCommandRequest struct {
	ID      string
	Command string
	Args    []byte
}

type SubmitCommandResponse struct {
	ID           string
	Result       []byte
	ErrorMessage string
}
