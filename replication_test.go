package raft

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, id MemberID, peers ...MemberID) *Engine {
	t.Helper()
	e, err := NewEngine(id, newFakeLog(), NewMemoryStableStore(), &fakeStateMachine{}, &fakeTransport{id: id, rpcCh: make(chan *RPC, 16), doneCh: make(chan struct{})})
	require.NoError(t, err)
	e.Cluster().SetMembers(peers)
	return e
}

func TestAppendEntriesRejectsStaleTerm(t *testing.T) {
	e := newTestEngine(t, "local", "leader")
	require.NoError(t, e.ctx.SetTerm(5))

	resp, demote := e.repl.AppendEntries(&AppendEntriesRequest{ID: "r1", Term: 3, LeaderID: "leader"})
	assert.False(t, resp.Success)
	assert.Equal(t, Term(5), resp.Term)
	assert.False(t, demote)
}

func TestAppendEntriesObservesHigherTermAndDemotes(t *testing.T) {
	e := newTestEngine(t, "local", "leader")

	resp, demote := e.repl.AppendEntries(&AppendEntriesRequest{ID: "r1", Term: 2, LeaderID: "leader"})
	assert.True(t, resp.Success)
	assert.True(t, demote)
	assert.Equal(t, Term(2), e.ctx.CurrentTerm())
	assert.Equal(t, MemberID("leader"), e.ctx.CurrentLeader())
}

func TestAppendEntriesSameTermPreservesExistingVote(t *testing.T) {
	e := newTestEngine(t, "local", "leader", "candidate")
	require.NoError(t, e.ctx.SetTerm(5))
	require.NoError(t, e.ctx.SetVote(5, "candidate"))

	resp, demote := e.repl.AppendEntries(&AppendEntriesRequest{ID: "r1", Term: 5, LeaderID: "leader"})
	assert.True(t, resp.Success)
	assert.True(t, demote)
	assert.Equal(t, Term(5), e.ctx.CurrentTerm())
	assert.Equal(t, MemberID("leader"), e.ctx.CurrentLeader())
	assert.Equal(t, MemberID("candidate"), e.ctx.VotedFor())
}

func TestAppendEntriesRejectsLogInconsistency(t *testing.T) {
	e := newTestEngine(t, "local", "leader")
	resp, _ := e.repl.AppendEntries(&AppendEntriesRequest{
		ID: "r1", Term: 1, LeaderID: "leader",
		PrevLogIndex: 5, PrevLogTerm: 1,
	})
	assert.False(t, resp.Success, "a prevLogIndex past the local log must fail")
}

func TestAppendEntriesAppendsAndAdvancesCommit(t *testing.T) {
	e := newTestEngine(t, "local", "leader")
	req := &AppendEntriesRequest{
		ID: "r1", Term: 1, LeaderID: "leader",
		Entries: []*Entry{
			{Index: 1, Term: 1, Payload: CommandPayload{Command: "set", Args: []byte("a")}},
			{Index: 2, Term: 1, Payload: CommandPayload{Command: "set", Args: []byte("b")}},
		},
		CommitIndex: 2,
	}
	resp, _ := e.repl.AppendEntries(req)
	require.True(t, resp.Success)
	assert.Equal(t, LogIndex(2), resp.LastLogIndex)
	assert.Equal(t, LogIndex(2), e.ctx.CommitIndex())
	assert.Equal(t, LogIndex(2), e.ctx.LastApplied())
}

func TestAppendEntriesTruncatesOnConflict(t *testing.T) {
	e := newTestEngine(t, "local", "leader")
	log := e.ctx.Log()
	require.NoError(t, log.AppendEntries([]*Entry{
		{Index: 1, Term: 1, Payload: NoOpPayload{}},
		{Index: 2, Term: 1, Payload: CommandPayload{Command: "set", Args: []byte("stale")}},
		{Index: 3, Term: 1, Payload: CommandPayload{Command: "set", Args: []byte("stale2")}},
	}))

	// Leader sends a conflicting entry at index 2 from a later term; indices
	// 2 and 3 must be truncated and replaced.
	resp, _ := e.repl.AppendEntries(&AppendEntriesRequest{
		ID: "r1", Term: 2, LeaderID: "leader",
		PrevLogIndex: 1, PrevLogTerm: 1,
		Entries: []*Entry{{Index: 2, Term: 2, Payload: CommandPayload{Command: "set", Args: []byte("fresh")}}},
	})
	require.True(t, resp.Success)
	assert.Equal(t, LogIndex(2), log.LastIndex())
	entry, err := log.GetEntry(2)
	require.NoError(t, err)
	assert.Equal(t, Term(2), entry.Term)
}

func TestRequestVoteGrantsWhenLogUpToDate(t *testing.T) {
	e := newTestEngine(t, "local", "candidate")
	resp, demote := e.repl.RequestVote(&RequestVoteRequest{ID: "v1", Term: 1, Candidate: "candidate"})
	assert.True(t, resp.VoteGranted)
	assert.True(t, demote)
	assert.Equal(t, MemberID("candidate"), e.ctx.VotedFor())
}

func TestRequestVoteDeniesSecondVoteSameTerm(t *testing.T) {
	e := newTestEngine(t, "local", "candidate1", "candidate2")
	resp1, _ := e.repl.RequestVote(&RequestVoteRequest{ID: "v1", Term: 1, Candidate: "candidate1"})
	require.True(t, resp1.VoteGranted)

	resp2, _ := e.repl.RequestVote(&RequestVoteRequest{ID: "v2", Term: 1, Candidate: "candidate2"})
	assert.False(t, resp2.VoteGranted, "a replica must not cast two votes in the same term")
}

func TestRequestVoteDeniesUnknownCandidate(t *testing.T) {
	e := newTestEngine(t, "local", "known")
	resp, _ := e.repl.RequestVote(&RequestVoteRequest{ID: "v1", Term: 1, Candidate: "stranger"})
	assert.False(t, resp.VoteGranted)
}

func TestRequestVoteDeniesStaleCandidateLog(t *testing.T) {
	e := newTestEngine(t, "local", "candidate")
	require.NoError(t, e.ctx.Log().AppendEntries([]*Entry{{Index: 1, Term: 5, Payload: NoOpPayload{}}}))

	resp, _ := e.repl.RequestVote(&RequestVoteRequest{ID: "v1", Term: 5, Candidate: "candidate", LastLogIndex: 0, LastLogTerm: 0})
	assert.False(t, resp.VoteGranted, "a candidate behind on the log must be denied")
}

func TestSubmitCommandRejectedWhenNotLeader(t *testing.T) {
	e := newTestEngine(t, "local", "leader")
	rpc := NewRPC("s1", &SubmitCommandRequest{ID: "s1", Command: "set"})
	e.repl.SubmitCommand(rpc, &SubmitCommandRequest{ID: "s1", Command: "set"})
	resp, err := rpc.Response()
	require.NoError(t, err)
	assert.Equal(t, ErrNotLeader.Error(), resp.(*SubmitCommandResponse).ErrorMessage)
}

func TestSubmitCommandAsLeaderResolvesOnApply(t *testing.T) {
	e := newTestEngine(t, "local")
	e.fsm.setRole(Leader)

	rpc := NewRPC("s1", &SubmitCommandRequest{ID: "s1", Command: "set", Args: []byte("v")})
	e.repl.SubmitCommand(rpc, &SubmitCommandRequest{ID: "s1", Command: "set", Args: []byte("v")})

	// Single-member cluster: quorum is 1, so the leader can commit on its
	// own immediately.
	e.repl.advanceCommitAndApply(e.ctx.Log().LastIndex())

	resp, err := rpc.Response()
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), resp.(*SubmitCommandResponse).Result)
}
