package raft

import "go.uber.org/zap"

// ReplicationHandler is C6: the incoming-request handlers for
// AppendEntries, RequestVote, and SubmitCommand, plus the apply-loop and
// compaction trigger that follow a successful commit-index advance (§4.1,
// §4.2, §4.5, §4.3). It holds a non-owning handle back to the owning
// Engine.
//
// Joint-consensus configuration changes are out of scope here; membership
// changes apply as plain single-entry Configuration entries instead.
type ReplicationHandler struct {
	e *Engine
}

func newReplicationHandler(e *Engine) *ReplicationHandler {
	return &ReplicationHandler{e: e}
}

// AppendEntries implements §4.1. It returns the response to send and
// whether the engine must transition to Follower once that response has
// been delivered (the "armed post-reply transition" of step 1).
func (h *ReplicationHandler) AppendEntries(req *AppendEntriesRequest) (*AppendEntriesResponse, bool) {
	ctx := h.e.ctx
	log := ctx.Log()

	demote := false

	// Step 1: term observation. A strictly higher term clears votedFor (a
	// new term with no vote cast yet); an equal term with no known leader
	// only records the leader, leaving any vote already cast this term
	// untouched.
	if req.Term > ctx.CurrentTerm() {
		if err := ctx.SetTerm(req.Term); err != nil {
			h.e.logger.Warnw("failed to persist observed term", h.e.logFields(zap.Error(err))...)
		}
		ctx.SetCurrentLeader(req.LeaderID)
		demote = true
	} else if req.Term == ctx.CurrentTerm() && ctx.CurrentLeader() == "" {
		ctx.SetCurrentLeader(req.LeaderID)
		demote = true
	}

	// Step 2: stale leader.
	if req.Term < ctx.CurrentTerm() {
		return &AppendEntriesResponse{
			ID: req.ID, Term: ctx.CurrentTerm(), Success: false, LastLogIndex: log.LastIndex(),
		}, demote
	}

	// Step 3: previous-entry consistency.
	if req.PrevLogIndex > 0 && req.PrevLogTerm > 0 {
		if req.PrevLogIndex > log.LastIndex() {
			return &AppendEntriesResponse{ID: req.ID, Term: ctx.CurrentTerm(), Success: false, LastLogIndex: log.LastIndex()}, demote
		}
		entry, err := log.GetEntry(req.PrevLogIndex)
		if err != nil {
			h.e.logger.Warnw("error reading previous log entry", h.e.logFields(zap.Error(err))...)
			return &AppendEntriesResponse{ID: req.ID, Term: ctx.CurrentTerm(), Success: false, LastLogIndex: log.LastIndex()}, demote
		}
		if entry == nil || entry.Term != req.PrevLogTerm {
			return &AppendEntriesResponse{ID: req.ID, Term: ctx.CurrentTerm(), Success: false, LastLogIndex: log.LastIndex()}, demote
		}
	}

	// Step 4: append, truncating on conflict.
	if err := h.appendEntries(req); err != nil {
		h.e.logger.Warnw("error appending entries", h.e.logFields(zap.Error(err))...)
		return &AppendEntriesResponse{ID: req.ID, Term: ctx.CurrentTerm(), Success: false, LastLogIndex: log.LastIndex()}, demote
	}

	// Step 5: commit advance and apply.
	newCommit := req.CommitIndex
	if ctx.CommitIndex() > newCommit {
		newCommit = ctx.CommitIndex()
	}
	if last := log.LastIndex(); newCommit > last {
		newCommit = last
	}
	h.advanceCommitAndApply(newCommit)

	return &AppendEntriesResponse{ID: req.ID, Term: ctx.CurrentTerm(), Success: true, LastLogIndex: log.LastIndex()}, demote
}

// appendEntries is §4.1 step 4. For each request entry at 1-based slot k,
// a local entry that exists with a different term triggers a truncation at
// prevLogIndex+k-1 followed by appending the remaining request entries.
func (h *ReplicationHandler) appendEntries(req *AppendEntriesRequest) error {
	if len(req.Entries) == 0 {
		return nil
	}
	log := h.e.ctx.Log()
	for k, entry := range req.Entries {
		slot := req.PrevLogIndex + LogIndex(k+1)
		local, err := log.GetEntry(slot)
		if err != nil {
			return err
		}
		if local != nil && local.Term != entry.Term {
			if err := log.RemoveAfter(slot - 1); err != nil {
				return err
			}
			return log.AppendEntries(req.Entries[k:])
		}
		if local != nil {
			continue
		}
		// Local log is short: append the tail starting here.
		return log.AppendEntries(req.Entries[k:])
	}
	return nil
}

// RequestVote implements §4.2.
func (h *ReplicationHandler) RequestVote(req *RequestVoteRequest) (*RequestVoteResponse, bool) {
	ctx := h.e.ctx
	demote := false

	// Rule 1.
	if req.Term > ctx.CurrentTerm() {
		if err := ctx.SetTerm(req.Term); err != nil {
			h.e.logger.Warnw("failed to persist observed term", h.e.logFields(zap.Error(err))...)
		}
		ctx.SetCurrentLeader("")
		demote = true
	}

	deny := func() (*RequestVoteResponse, bool) {
		return &RequestVoteResponse{ID: req.ID, Term: ctx.CurrentTerm(), VoteGranted: false}, demote
	}
	grant := func(candidate MemberID) (*RequestVoteResponse, bool) {
		if err := ctx.SetVote(ctx.CurrentTerm(), candidate); err != nil {
			h.e.logger.Warnw("failed to persist vote", h.e.logFields(zap.Error(err))...)
		}
		ctx.Events().Publish(Event{Kind: EventVoteCast, Term: ctx.CurrentTerm(), Member: candidate})
		return &RequestVoteResponse{ID: req.ID, Term: ctx.CurrentTerm(), VoteGranted: true}, demote
	}

	// Rule 2.
	if req.Term < ctx.CurrentTerm() {
		return deny()
	}

	// Rule 3: self-vote.
	if req.Candidate == h.e.id {
		return grant(req.Candidate)
	}

	// Rule 4.
	if !ctx.Cluster().Contains(req.Candidate) {
		return deny()
	}

	// Rule 5.
	votedFor := ctx.VotedFor()
	if votedFor != "" && votedFor != req.Candidate {
		return deny()
	}
	log := ctx.Log()
	if log.LastIndex() == 0 {
		return grant(req.Candidate)
	}
	localLast, err := log.GetEntry(log.LastIndex())
	if err != nil || localLast == nil {
		h.e.logger.Warnw("error reading last log entry", h.e.logFields(zap.Error(err))...)
		return deny()
	}
	if req.LastLogIndex >= log.LastIndex() && req.LastLogTerm >= localLast.Term {
		return grant(req.Candidate)
	}
	return deny()
}

// SubmitCommand implements §4.5. A non-leader reply is produced
// synchronously; a leader reply is deferred until the entry's index has
// been committed and applied (resolvePending, driven from the apply
// loop below).
func (h *ReplicationHandler) SubmitCommand(rpc *RPC, req *SubmitCommandRequest) {
	if h.e.role() != Leader {
		rpc.Respond(&SubmitCommandResponse{ID: req.ID, ErrorMessage: ErrNotLeader.Error()}, nil)
		return
	}
	log := h.e.ctx.Log()
	entry := &Entry{
		Index:   log.LastIndex() + 1,
		Term:    h.e.ctx.CurrentTerm(),
		Payload: CommandPayload{Command: req.Command, Args: req.Args},
	}
	if err := log.AppendEntries([]*Entry{entry}); err != nil {
		rpc.Respond(&SubmitCommandResponse{ID: req.ID, ErrorMessage: err.Error()}, nil)
		return
	}
	h.e.registerPending(entry.Index, req.ID, rpc)
}

// advanceCommitAndApply sets ctx.commitIndex and runs the apply loop up to
// it, then gives the snapshot pipeline a chance to compact. Used by
// AppendEntries (§4.1 step 5) and by the Leader's own quorum-driven commit
// advance (role.go).
func (h *ReplicationHandler) advanceCommitAndApply(newCommit LogIndex) {
	ctx := h.e.ctx
	ctx.setCommitIndex(newCommit)
	for ctx.LastApplied() < ctx.CommitIndex() {
		h.applyEntry(ctx.LastApplied() + 1)
	}
	h.e.snap.MaybeCompact()
}

// applyEntry dispatches a single committed entry by variant (§4.3).
func (h *ReplicationHandler) applyEntry(index LogIndex) {
	ctx := h.e.ctx
	entry, err := ctx.Log().GetEntry(index)
	if err != nil || entry == nil {
		panic(newProgrammerError("missing entry at index %d during apply: %v", index, err))
	}

	switch p := entry.Payload.(type) {
	case CommandPayload:
		result, err := h.e.sm.Apply(p.Command, p.Args)
		if err != nil {
			h.e.logger.Warnw("command application failed, advancing lastApplied anyway",
				h.e.logFields("index", index, zap.Error(err))...)
		}
		ctx.advanceLastApplied(index)
		h.resolvePending(index, result, err)
		ctx.Events().Publish(Event{Kind: EventCommandApplied, Index: index, Command: p.Command, Args: p.Args})

	case ConfigurationPayload:
		ctx.Cluster().SetMembers(p.Members)
		ctx.advanceLastApplied(index)
		h.resolvePending(index, nil, nil)

	case SnapshotStartPayload, SnapshotChunkPayload:
		ctx.advanceLastApplied(index)

	case SnapshotEndPayload:
		installed, err := h.e.snap.InstallFromBackwardScan(index)
		if err != nil {
			h.e.logger.Warnw("snapshot install failed, advancing lastApplied anyway",
				h.e.logFields("index", index, zap.Error(err))...)
		}
		if !installed {
			ctx.advanceLastApplied(index)
		}

	default:
		ctx.advanceLastApplied(index)
	}
}

// resolvePending completes a leader's deferred SubmitCommand reply, if the
// just-applied index has one outstanding.
func (h *ReplicationHandler) resolvePending(index LogIndex, result []byte, applyErr error) {
	p, ok := h.e.takePending(index)
	if !ok {
		return
	}
	resp := &SubmitCommandResponse{ID: p.requestID, Result: result}
	if applyErr != nil {
		resp.ErrorMessage = applyErr.Error()
	}
	p.rpc.Respond(resp, nil)
}
