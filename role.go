package raft

import (
	"context"
	"math/rand"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// RoleStateMachine is C5: the Follower/Candidate/Leader FSM. It owns the
// election timer, candidate vote solicitation, leader heartbeat, and the
// per-follower replication cursors. It holds a non-owning handle back to
// the owning Engine.
//
// One goroutine runs a select loop per role, with a reselect flag that
// forces the loop to re-evaluate which role to run after any external
// event changes it.
type RoleStateMachine struct {
	e *Engine

	role     atomic.Int32
	reselect atomic.Bool
}

func newRoleStateMachine(e *Engine) *RoleStateMachine {
	r := &RoleStateMachine{e: e}
	r.role.Store(int32(Follower))
	return r
}

func (r *RoleStateMachine) Role() Role { return Role(r.role.Load()) }

func (r *RoleStateMachine) setRole(role Role) {
	r.role.Store(int32(role))
	r.e.ctx.Events().Publish(Event{Kind: EventRoleChanged, Role: role, Member: r.e.id, Term: r.e.ctx.CurrentTerm()})
}

func (r *RoleStateMachine) markReselect() { r.reselect.Store(true) }
func (r *RoleStateMachine) shouldReselect() bool { return r.reselect.Swap(false) }

// forceFollower is the "armed post-reply transition" fired after
// AppendEntries/RequestVote observe a higher term (§4.1 step 1, §4.4). It
// is a no-op when already a Follower.
func (r *RoleStateMachine) forceFollower() {
	if r.Role() == Follower {
		return
	}
	if r.Role() == Leader {
		r.e.cancelAllPending(ErrLeadershipLost)
	}
	r.setRole(Follower)
	r.markReselect()
}

func (r *RoleStateMachine) randomElectionTimeout() time.Duration {
	min, max := r.e.opts.electionTimeoutMin, r.e.opts.electionTimeoutMax
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}

// Run is the replica's single-writer loop: it repeatedly runs whichever
// per-role loop matches the current role until the engine shuts down.
func (r *RoleStateMachine) Run() {
	for !r.e.isShutdown() {
		switch r.Role() {
		case Follower:
			r.runFollower()
		case Candidate:
			r.runCandidate()
		case Leader:
			r.runLeader()
		}
	}
}

// dispatch handles one inbound RPC on the single-writer goroutine,
// replying before any armed role transition fires (§5 ordering
// guarantee).
func (r *RoleStateMachine) dispatch(rpc *RPC) {
	switch req := rpc.Request.(type) {
	case *AppendEntriesRequest:
		resp, demote := r.e.repl.AppendEntries(req)
		rpc.Respond(resp, nil)
		if demote {
			r.forceFollower()
		}
	case *RequestVoteRequest:
		resp, demote := r.e.repl.RequestVote(req)
		rpc.Respond(resp, nil)
		if demote {
			r.forceFollower()
		}
	case *SubmitCommandRequest:
		r.e.repl.SubmitCommand(rpc, req)
	default:
		rpc.Respond(nil, ErrShutdown)
	}
}

func (r *RoleStateMachine) runFollower() {
	r.e.logger.Infow("running follower loop", r.e.logFields()...)
	timer := time.NewTimer(r.randomElectionTimeout())
	defer timer.Stop()

	for r.Role() == Follower {
		select {
		case rpc := <-r.e.trans.RPC():
			r.dispatch(rpc)
			if _, ok := rpc.Request.(*AppendEntriesRequest); ok {
				timer.Reset(r.randomElectionTimeout())
			}
		case rpc := <-r.e.localCh:
			r.dispatch(rpc)
		case <-timer.C:
			r.e.logger.Infow("election timeout elapsed, becoming candidate", r.e.logFields()...)
			r.setRole(Candidate)
			r.markReselect()
		case err := <-r.e.shutdownCh:
			r.e.internalShutdown(err)
			return
		}
		if r.shouldReselect() {
			return
		}
	}
}

func (r *RoleStateMachine) runCandidate() {
	r.e.logger.Infow("running candidate loop", r.e.logFields()...)
	ctx := r.e.ctx

	if err := ctx.SetVote(ctx.CurrentTerm()+1, r.e.id); err != nil {
		r.e.logger.Warnw("failed to persist self-vote term", r.e.logFields(zap.Error(err))...)
	}
	r.e.ctx.Events().Publish(Event{Kind: EventVoteCast, Term: ctx.CurrentTerm(), Member: r.e.id})

	timer := time.NewTimer(r.randomElectionTimeout())
	defer timer.Stop()

	voteCh, cancel := r.solicitVotes()
	defer cancel()

	granted := map[MemberID]bool{r.e.id: true}
	quorum := ctx.Cluster().Quorum()

	for r.Role() == Candidate {
		select {
		case result := <-voteCh:
			if result.resp.Term > ctx.CurrentTerm() {
				if err := ctx.SetTerm(result.resp.Term); err != nil {
					r.e.logger.Warnw("failed to persist observed term", r.e.logFields(zap.Error(err))...)
				}
				r.forceFollower()
				return
			}
			if result.resp.VoteGranted {
				granted[result.peer] = true
			}
			if len(granted) >= quorum {
				r.e.logger.Infow("won election", r.e.logFields("votes", len(granted))...)
				r.becomeLeader()
				return
			}
		case <-timer.C:
			r.e.logger.Infow("candidate election timed out, restarting", r.e.logFields()...)
			r.markReselect()
			return
		case rpc := <-r.e.trans.RPC():
			r.dispatch(rpc)
		case rpc := <-r.e.localCh:
			r.dispatch(rpc)
		case err := <-r.e.shutdownCh:
			r.e.internalShutdown(err)
			return
		}
		if r.shouldReselect() {
			return
		}
	}
}

// voteResult pairs a RequestVote response with the peer that cast it,
// since the wire response's ID field correlates to the request, not the
// voter, and the candidate loop needs to dedup by voter.
type voteResult struct {
	peer MemberID
	resp *RequestVoteResponse
}

// solicitVotes fans RequestVote out to every known peer concurrently,
// returning a channel of responses (including a synthetic self-vote) and a
// cancel function.
func (r *RoleStateMachine) solicitVotes() (<-chan voteResult, context.CancelFunc) {
	ctx := r.e.ctx
	voteCtx, cancel := context.WithCancel(context.Background())

	peers := ctx.Cluster().Members()
	resCh := make(chan voteResult, len(peers)+1)

	var lastIndex LogIndex
	var lastTerm Term
	if last := ctx.Log().LastIndex(); last > 0 {
		if entry, err := ctx.Log().GetEntry(last); err == nil && entry != nil {
			lastIndex, lastTerm = last, entry.Term
		}
	}

	req := &RequestVoteRequest{
		ID:           NewRequestID(),
		Term:         ctx.CurrentTerm(),
		Candidate:    r.e.id,
		LastLogIndex: lastIndex,
		LastLogTerm:  lastTerm,
	}

	for _, peer := range peers {
		peer := peer
		go func() {
			resp, err := r.e.trans.RequestVote(voteCtx, peer, req)
			if err != nil {
				r.e.logger.Debugw("error requesting vote", r.e.logFields("peer", peer, zap.Error(err))...)
				return
			}
			select {
			case resCh <- voteResult{peer: peer, resp: resp}:
			case <-voteCtx.Done():
			}
		}()
	}

	resCh <- voteResult{peer: r.e.id, resp: &RequestVoteResponse{ID: req.ID, Term: ctx.CurrentTerm(), VoteGranted: true}}
	return resCh, cancel
}

func (r *RoleStateMachine) becomeLeader() {
	ctx := r.e.ctx
	r.setRole(Leader)
	ctx.SetCurrentLeader(r.e.id)
	r.e.ctx.Events().Publish(Event{Kind: EventLeaderChanged, Member: r.e.id, Term: ctx.CurrentTerm()})

	// Commit a NoOp at the start of the term so prior-term entries can
	// become committed indirectly (the standard Raft no-op technique).
	noop := &Entry{Index: ctx.Log().LastIndex() + 1, Term: ctx.CurrentTerm(), Payload: NoOpPayload{}}
	if err := ctx.Log().AppendEntries([]*Entry{noop}); err != nil {
		r.e.logger.Warnw("failed to append no-op entry on leader assumption", r.e.logFields(zap.Error(err))...)
	}
}

// followerCursor tracks the per-follower replication state a Leader needs:
// the next index to send and the highest index known to be replicated.
type followerCursor struct {
	nextIndex  LogIndex
	matchIndex LogIndex
}

func (r *RoleStateMachine) runLeader() {
	r.e.logger.Infow("running leader loop", r.e.logFields()...)
	ctx := r.e.ctx

	cursors := map[MemberID]*followerCursor{}
	for _, peer := range ctx.Cluster().Members() {
		cursors[peer] = &followerCursor{nextIndex: ctx.Log().LastIndex() + 1}
	}

	stepdownCh := make(chan Term, 1)
	replyCh := make(chan replicateReply, len(cursors)+1)

	heartbeat := time.NewTicker(r.e.opts.heartbeatInterval)
	defer heartbeat.Stop()

	replicateAll := func() {
		for peer, cursor := range cursors {
			go r.replicateTo(peer, cursor.nextIndex, stepdownCh, replyCh)
		}
	}
	replicateAll()

	for r.Role() == Leader {
		select {
		case <-heartbeat.C:
			replicateAll()
		case reply := <-replyCh:
			if cursor, ok := cursors[reply.peer]; ok {
				if reply.success {
					if reply.lastSent > 0 {
						cursor.matchIndex = reply.lastSent
						cursor.nextIndex = reply.lastSent + 1
					}
				} else if cursor.nextIndex > 1 {
					cursor.nextIndex--
				}
			}
			r.maybeAdvanceCommit(cursors)
		case term := <-stepdownCh:
			r.e.logger.Infow("stepping down: observed higher term", r.e.logFields("new_term", term)...)
			if err := ctx.SetTerm(term); err != nil {
				r.e.logger.Warnw("failed to persist observed term", r.e.logFields(zap.Error(err))...)
			}
			r.forceFollower()
			return
		case rpc := <-r.e.trans.RPC():
			r.dispatch(rpc)
		case rpc := <-r.e.localCh:
			r.dispatch(rpc)
		case err := <-r.e.shutdownCh:
			r.e.internalShutdown(err)
			return
		}
		if r.shouldReselect() {
			return
		}
	}
}

// replicateReply is what a replicateTo goroutine hands back to the leader
// loop. Cursor state itself is only ever mutated by the leader loop
// goroutine (the single-writer discipline of §5 extends to replication
// bookkeeping, not just the log and ReplicaContext), so replicateTo reports
// outcomes instead of mutating a shared *followerCursor concurrently.
type replicateReply struct {
	peer     MemberID
	success  bool
	lastSent LogIndex // highest index sent, valid when success && len(entries) > 0
}

// replicateTo sends one AppendEntries to peer (heartbeat or with entries
// starting at nextIndex) and reports the outcome on replyCh for the leader
// loop to fold into its cursor map.
func (r *RoleStateMachine) replicateTo(peer MemberID, nextIndex LogIndex, stepdownCh chan<- Term, replyCh chan<- replicateReply) {
	ctx := r.e.ctx
	log := ctx.Log()

	if first := log.FirstIndex(); nextIndex < first {
		// The follower's cursor points before the leader's compacted
		// prefix: there is no prevLogIndex entry left to anchor a
		// consistency check against, so fast-forward to FirstIndex and let
		// the snapshot's own Start/Chunk/End entries there bring it
		// current through normal replication.
		nextIndex = first
	}

	prevIndex := nextIndex - 1
	var prevTerm Term
	if prevIndex > 0 {
		if entry, err := log.GetEntry(prevIndex); err == nil && entry != nil {
			prevTerm = entry.Term
		}
	}

	var entries []*Entry
	for i := nextIndex; i <= log.LastIndex(); i++ {
		entry, err := log.GetEntry(i)
		if err != nil || entry == nil {
			break
		}
		entries = append(entries, entry)
	}

	req := &AppendEntriesRequest{
		ID:           NewRequestID(),
		Term:         ctx.CurrentTerm(),
		LeaderID:     r.e.id,
		PrevLogIndex: prevIndex,
		PrevLogTerm:  prevTerm,
		Entries:      entries,
		CommitIndex:  ctx.CommitIndex(),
	}

	rpcCtx, cancel := context.WithTimeout(context.Background(), r.e.opts.heartbeatInterval*4)
	defer cancel()
	resp, err := r.e.trans.AppendEntries(rpcCtx, peer, req)
	if err != nil {
		r.e.logger.Debugw("error replicating to peer", r.e.logFields("peer", peer, zap.Error(err))...)
		return
	}

	if resp.Term > ctx.CurrentTerm() {
		select {
		case stepdownCh <- resp.Term:
		default:
		}
		return
	}

	reply := replicateReply{peer: peer, success: resp.Success}
	if resp.Success && len(entries) > 0 {
		reply.lastSent = entries[len(entries)-1].Index
	}
	select {
	case replyCh <- reply:
	default:
	}
}

// maybeAdvanceCommit applies the standard Raft majority-match rule: the
// new commit index is the highest index replicated to a quorum whose term
// equals the leader's current term (the leader-completeness safeguard
// against committing a prior-leader's entry on count alone).
func (r *RoleStateMachine) maybeAdvanceCommit(cursors map[MemberID]*followerCursor) {
	ctx := r.e.ctx
	log := ctx.Log()
	quorum := ctx.Cluster().Quorum()

	candidate := ctx.CommitIndex()
	for n := log.LastIndex(); n > ctx.CommitIndex(); n-- {
		entry, err := log.GetEntry(n)
		if err != nil || entry == nil || entry.Term != ctx.CurrentTerm() {
			continue
		}
		count := 1 // the leader itself
		for _, cursor := range cursors {
			if cursor.matchIndex >= n {
				count++
			}
		}
		if count >= quorum {
			candidate = n
			break
		}
	}
	if candidate > ctx.CommitIndex() {
		r.e.repl.advanceCommitAndApply(candidate)
	}
}
