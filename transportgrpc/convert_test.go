package transportgrpc

import (
	"testing"

	raft "github.com/raftkit/engine"
	"github.com/stretchr/testify/assert"
)

func TestEntryToFromWireCommand(t *testing.T) {
	e := &raft.Entry{Index: 1, Term: 2, Payload: raft.CommandPayload{Command: "set", Args: []byte("v")}}
	got := entryFromWire(entryToWire(e))
	assert.Equal(t, e.Index, got.Index)
	assert.Equal(t, e.Term, got.Term)
	assert.Equal(t, e.Payload, got.Payload)
}

func TestEntryToFromWireConfiguration(t *testing.T) {
	e := &raft.Entry{Index: 1, Term: 2, Payload: raft.ConfigurationPayload{Members: []raft.MemberID{"a", "b"}}}
	got := entryFromWire(entryToWire(e))
	assert.Equal(t, e.Payload, got.Payload)
}

func TestEntryToFromWireSnapshotVariants(t *testing.T) {
	start := &raft.Entry{Index: 1, Term: 2, Payload: raft.SnapshotStartPayload{Term: 2, Members: []raft.MemberID{"a"}}}
	assert.Equal(t, start.Payload, entryFromWire(entryToWire(start)).Payload)

	chunk := &raft.Entry{Index: 2, Term: 2, Payload: raft.SnapshotChunkPayload{Data: []byte("chunk")}}
	assert.Equal(t, chunk.Payload, entryFromWire(entryToWire(chunk)).Payload)

	end := &raft.Entry{Index: 3, Term: 2, Payload: raft.SnapshotEndPayload{Length: 9}}
	assert.Equal(t, end.Payload, entryFromWire(entryToWire(end)).Payload)
}

func TestEntryToFromWireNoOp(t *testing.T) {
	e := &raft.Entry{Index: 1, Term: 1, Payload: raft.NoOpPayload{}}
	got := entryFromWire(entryToWire(e))
	assert.Equal(t, raft.NoOpPayload{}, got.Payload)
}

func TestAppendEntriesRoundTrip(t *testing.T) {
	req := &raft.AppendEntriesRequest{
		ID:           "r1",
		Term:         3,
		LeaderID:     "leader",
		PrevLogIndex: 5,
		PrevLogTerm:  2,
		Entries: []*raft.Entry{
			{Index: 6, Term: 3, Payload: raft.CommandPayload{Command: "set", Args: []byte("v")}},
		},
		CommitIndex: 4,
	}
	got := appendEntriesFromWire(appendEntriesToWire(req))
	assert.Equal(t, req.ID, got.ID)
	assert.Equal(t, req.Term, got.Term)
	assert.Equal(t, req.LeaderID, got.LeaderID)
	assert.Equal(t, req.PrevLogIndex, got.PrevLogIndex)
	assert.Equal(t, req.PrevLogTerm, got.PrevLogTerm)
	assert.Equal(t, req.CommitIndex, got.CommitIndex)
	assert.Equal(t, req.Entries[0].Payload, got.Entries[0].Payload)

	resp := &raft.AppendEntriesResponse{ID: "r1", Term: 3, Success: true, LastLogIndex: 6}
	assert.Equal(t, resp, appendEntriesRespFromWire(appendEntriesRespToWire(resp)))
}

func TestRequestVoteRoundTrip(t *testing.T) {
	req := &raft.RequestVoteRequest{ID: "v1", Term: 2, Candidate: "c", LastLogIndex: 3, LastLogTerm: 1}
	assert.Equal(t, req, requestVoteFromWire(requestVoteToWire(req)))

	resp := &raft.RequestVoteResponse{ID: "v1", Term: 2, VoteGranted: true}
	assert.Equal(t, resp, requestVoteRespFromWire(requestVoteRespToWire(resp)))
}

func TestSubmitCommandRoundTrip(t *testing.T) {
	req := &raft.SubmitCommandRequest{ID: "s1", Command: "set", Args: []byte("v")}
	assert.Equal(t, req, submitCommandFromWire(submitCommandToWire(req)))

	resp := &raft.SubmitCommandResponse{ID: "s1", Result: []byte("ok")}
	assert.Equal(t, resp, submitCommandRespFromWire(submitCommandRespToWire(resp)))
}
