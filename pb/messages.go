// Package pb holds the wire-level shapes exchanged by the gRPC transport
// (transportgrpc): a msgpack-encoded envelope per RPC plus the Peer type
// used for dial information and logging. These are deliberately plain
// structs rather than protoc-generated code (see DESIGN.md) and are
// mapped onto the core's own request/response types in
// transportgrpc/convert.go.
package pb

// Peer identifies one member of the cluster for transport purposes: an
// opaque id matching raft.MemberID and the network endpoint to dial.
type Peer struct {
	Id       string
	Endpoint string
}

type Entry struct {
	Index   uint64
	Term    uint64
	Type    uint8
	Command string
	Args    []byte
	Members []string

	SnapshotTerm   uint64
	SnapshotData   []byte
	SnapshotLength uint64
}

type AppendEntriesRequest struct {
	ID           string
	Term         uint64
	LeaderID     string
	PrevLogIndex uint64
	PrevLogTerm  uint64
	Entries      []Entry
	CommitIndex  uint64
}

type AppendEntriesResponse struct {
	ID           string
	Term         uint64
	Success      bool
	LastLogIndex uint64
}

type RequestVoteRequest struct {
	ID           string
	Term         uint64
	Candidate    string
	LastLogIndex uint64
	LastLogTerm  uint64
}

type RequestVoteResponse struct {
	ID          string
	Term        uint64
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
