package raft

import "sync"

// ClusterView is the local replica's view of cluster membership (C3): its
// own identity, the other known members, and the address of the current
// leader if known. Its member set is set by the caller before Serve and
// replaced by applied ConfigurationEntries (§4.3) and by snapshot install;
// the leader field follows ReplicaContext.SetCurrentLeader.
//
// Dynamic reconfiguration beyond applying a single committed configuration
// entry (joint consensus, adding/removing members mid-flight) is a stated
// Non-goal; ClusterView always replaces its member set wholesale.
type ClusterView struct {
	mu sync.RWMutex

	local   MemberID
	members map[MemberID]struct{} // remote members only, local excluded
	leader  MemberID               // "" when unknown
}

// NewClusterView creates a view for local, with no known remote members
// and no known leader.
func NewClusterView(local MemberID) *ClusterView {
	return &ClusterView{local: local, members: map[MemberID]struct{}{}}
}

func (c *ClusterView) Local() MemberID {
	return c.local
}

// SetMembers replaces the remote member set. The local id is always
// excluded even if present in members, matching §4.3's "members \
// {localMember}" replacement rule.
func (c *ClusterView) SetMembers(members []MemberID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := make(map[MemberID]struct{}, len(members))
	for _, m := range members {
		if m == c.local {
			continue
		}
		next[m] = struct{}{}
	}
	c.members = next
}

// Members returns the known remote members, local excluded.
func (c *ClusterView) Members() []MemberID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]MemberID, 0, len(c.members))
	for m := range c.members {
		out = append(out, m)
	}
	return out
}

// AllMembers returns Members() plus the local id, used for quorum math.
func (c *ClusterView) AllMembers() []MemberID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]MemberID, 0, len(c.members)+1)
	out = append(out, c.local)
	for m := range c.members {
		out = append(out, m)
	}
	return out
}

// Contains reports whether id is a known member (remote or local).
func (c *ClusterView) Contains(id MemberID) bool {
	if id == c.local {
		return true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.members[id]
	return ok
}

// Quorum returns the strict-majority size for the current membership,
// including the local replica.
func (c *ClusterView) Quorum() int {
	c.mu.RLock()
	n := len(c.members) + 1
	c.mu.RUnlock()
	return n/2 + 1
}

func (c *ClusterView) Leader() MemberID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.leader
}

func (c *ClusterView) SetLeader(leader MemberID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.leader = leader
}
