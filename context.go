package raft

import "sync"

// ReplicaContext is the hub of the engine (C4): durable election state,
// volatile commit/apply indices, the current leader hint, and non-owning
// references to the log (C1) and cluster view (C3). RoleStateMachine (C5)
// and ReplicationHandler (C6) hold a pointer to a ReplicaContext but never
// own it — it is constructed and destroyed by Engine.
//
// Every field here is mutated only from the replica's single-writer
// goroutine (§5); the mutex exists solely so read-only accessors (used by
// Engine.States and by tests) can be called from other goroutines safely.
type ReplicaContext struct {
	mu sync.RWMutex

	stable StableStore

	currentTerm Term
	votedFor    MemberID // "" means unvoted

	currentLeader MemberID // "" means unknown

	commitIndex  LogIndex
	lastApplied  LogIndex

	log     PersistentLog
	cluster *ClusterView
	events  *EventBus
}

// NewReplicaContext loads durable state from stable and wires the given
// collaborators. It must be called once, before the engine starts serving.
func NewReplicaContext(stable StableStore, log PersistentLog, cluster *ClusterView, events *EventBus) (*ReplicaContext, error) {
	term, votedFor, err := stable.Load()
	if err != nil {
		return nil, err
	}
	return &ReplicaContext{
		stable:      stable,
		currentTerm: term,
		votedFor:    votedFor,
		log:         log,
		cluster:     cluster,
		events:      events,
	}, nil
}

func (c *ReplicaContext) CurrentTerm() Term {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentTerm
}

func (c *ReplicaContext) VotedFor() MemberID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.votedFor
}

// SetTerm sets currentTerm and clears votedFor, persisting both. Used when
// a higher term is observed (§4.1 step 1, §4.2 rule 1).
func (c *ReplicaContext) SetTerm(term Term) error {
	return c.setTermAndVote(term, "")
}

// SetVote records a vote for candidate in the given term, persisting both.
func (c *ReplicaContext) SetVote(term Term, candidate MemberID) error {
	return c.setTermAndVote(term, candidate)
}

func (c *ReplicaContext) setTermAndVote(term Term, votedFor MemberID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.stable.Save(term, votedFor); err != nil {
		return err
	}
	c.currentTerm = term
	c.votedFor = votedFor
	return nil
}

// MaybeAdvanceTerm raises currentTerm to term if term is greater, leaving
// votedFor untouched. Used by snapshot install (§4.3 step 5), which must
// not clear an in-progress vote the way SetTerm's term-observation does.
func (c *ReplicaContext) MaybeAdvanceTerm(term Term) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if term <= c.currentTerm {
		return nil
	}
	if err := c.stable.Save(term, c.votedFor); err != nil {
		return err
	}
	c.currentTerm = term
	return nil
}

func (c *ReplicaContext) CurrentLeader() MemberID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentLeader
}

func (c *ReplicaContext) SetCurrentLeader(leader MemberID) {
	c.mu.Lock()
	c.currentLeader = leader
	c.mu.Unlock()
	c.cluster.SetLeader(leader)
}

func (c *ReplicaContext) CommitIndex() LogIndex {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.commitIndex
}

func (c *ReplicaContext) setCommitIndex(index LogIndex) {
	c.mu.Lock()
	c.commitIndex = index
	c.mu.Unlock()
}

func (c *ReplicaContext) LastApplied() LogIndex {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastApplied
}

// advanceLastApplied enforces invariant C-Apply-Mono: lastApplied only
// ever increases, and applying index must be exactly lastApplied+1.
// Violations are a ProgrammerError, not a recoverable condition (§7).
func (c *ReplicaContext) advanceLastApplied(index LogIndex) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index != c.lastApplied+1 {
		panic(newProgrammerError("apply out of order: lastApplied=%d, applying=%d", c.lastApplied, index))
	}
	c.lastApplied = index
}

// setLastAppliedForInstall is used exclusively by snapshot install (§4.3
// step 6), which sets lastApplied to an arbitrary target index rather than
// advancing by one, since a whole range of indices was just subsumed.
func (c *ReplicaContext) setLastAppliedForInstall(index LogIndex) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index < c.lastApplied {
		panic(newProgrammerError("snapshot install would move lastApplied backwards: lastApplied=%d, target=%d", c.lastApplied, index))
	}
	c.lastApplied = index
}

func (c *ReplicaContext) Log() PersistentLog   { return c.log }
func (c *ReplicaContext) Cluster() *ClusterView { return c.cluster }
func (c *ReplicaContext) Events() *EventBus     { return c.events }
