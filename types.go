package raft

import "fmt"

// Term identifies an election epoch. Terms are monotonically non-decreasing
// and durable.
type Term uint64

// LogIndex is the 1-based position of an entry within the log. An index of
// 0 means "no entry".
type LogIndex uint64

// Role is one of Follower, Candidate, or Leader. The zero value is Follower.
type Role uint8

const (
	Follower Role = iota
	Candidate
	Leader
)

func (r Role) String() string {
	switch r {
	case Follower:
		return "Follower"
	case Candidate:
		return "Candidate"
	case Leader:
		return "Leader"
	default:
		return fmt.Sprintf("Role(%d)", uint8(r))
	}
}

// MemberID identifies a replica within the cluster. The transport is
// responsible for mapping a MemberID to a dialable address.
type MemberID string
