package transportgrpc

import (
	raft "github.com/raftkit/engine"
	"github.com/raftkit/engine/pb"
)

func entryToWire(e *raft.Entry) pb.Entry {
	w := pb.Entry{Index: uint64(e.Index), Term: uint64(e.Term), Type: uint8(e.Type())}
	switch p := e.Payload.(type) {
	case raft.CommandPayload:
		w.Command = p.Command
		w.Args = p.Args
	case raft.ConfigurationPayload:
		w.Members = membersToWire(p.Members)
	case raft.SnapshotStartPayload:
		w.SnapshotTerm = uint64(p.Term)
		w.Members = membersToWire(p.Members)
	case raft.SnapshotChunkPayload:
		w.SnapshotData = p.Data
	case raft.SnapshotEndPayload:
		w.SnapshotLength = p.Length
	}
	return w
}

func entryFromWire(w pb.Entry) *raft.Entry {
	e := &raft.Entry{Index: raft.LogIndex(w.Index), Term: raft.Term(w.Term)}
	switch raft.EntryType(w.Type) {
	case raft.EntryCommand:
		e.Payload = raft.CommandPayload{Command: w.Command, Args: w.Args}
	case raft.EntryConfiguration:
		e.Payload = raft.ConfigurationPayload{Members: membersFromWire(w.Members)}
	case raft.EntrySnapshotStart:
		e.Payload = raft.SnapshotStartPayload{Term: raft.Term(w.SnapshotTerm), Members: membersFromWire(w.Members)}
	case raft.EntrySnapshotChunk:
		e.Payload = raft.SnapshotChunkPayload{Data: w.SnapshotData}
	case raft.EntrySnapshotEnd:
		e.Payload = raft.SnapshotEndPayload{Length: w.SnapshotLength}
	default:
		e.Payload = raft.NoOpPayload{}
	}
	return e
}

func membersToWire(members []raft.MemberID) []string {
	out := make([]string, len(members))
	for i, m := range members {
		out[i] = string(m)
	}
	return out
}

func membersFromWire(members []string) []raft.MemberID {
	out := make([]raft.MemberID, len(members))
	for i, m := range members {
		out[i] = raft.MemberID(m)
	}
	return out
}

func appendEntriesToWire(req *raft.AppendEntriesRequest) *pb.AppendEntriesRequest {
	entries := make([]pb.Entry, len(req.Entries))
	for i, e := range req.Entries {
		entries[i] = entryToWire(e)
	}
	return &pb.AppendEntriesRequest{
		ID:           req.ID,
		Term:         uint64(req.Term),
		LeaderID:     string(req.LeaderID),
		PrevLogIndex: uint64(req.PrevLogIndex),
		PrevLogTerm:  uint64(req.PrevLogTerm),
		Entries:      entries,
		CommitIndex:  uint64(req.CommitIndex),
	}
}

func appendEntriesFromWire(w *pb.AppendEntriesRequest) *raft.AppendEntriesRequest {
	entries := make([]*raft.Entry, len(w.Entries))
	for i, e := range w.Entries {
		entries[i] = entryFromWire(e)
	}
	return &raft.AppendEntriesRequest{
		ID:           w.ID,
		Term:         raft.Term(w.Term),
		LeaderID:     raft.MemberID(w.LeaderID),
		PrevLogIndex: raft.LogIndex(w.PrevLogIndex),
		PrevLogTerm:  raft.Term(w.PrevLogTerm),
		Entries:      entries,
		CommitIndex:  raft.LogIndex(w.CommitIndex),
	}
}

func appendEntriesRespToWire(r *raft.AppendEntriesResponse) *pb.AppendEntriesResponse {
	return &pb.AppendEntriesResponse{ID: r.ID, Term: uint64(r.Term), Success: r.Success, LastLogIndex: uint64(r.LastLogIndex)}
}

func appendEntriesRespFromWire(w *pb.AppendEntriesResponse) *raft.AppendEntriesResponse {
	return &raft.AppendEntriesResponse{ID: w.ID, Term: raft.Term(w.Term), Success: w.Success, LastLogIndex: raft.LogIndex(w.LastLogIndex)}
}

func requestVoteToWire(req *raft.RequestVoteRequest) *pb.RequestVoteRequest {
	return &pb.RequestVoteRequest{
		ID:           req.ID,
		Term:         uint64(req.Term),
		Candidate:    string(req.Candidate),
		LastLogIndex: uint64(req.LastLogIndex),
		LastLogTerm:  uint64(req.LastLogTerm),
	}
}

func requestVoteFromWire(w *pb.RequestVoteRequest) *raft.RequestVoteRequest {
	return &raft.RequestVoteRequest{
		ID:           w.ID,
		Term:         raft.Term(w.Term),
		Candidate:    raft.MemberID(w.Candidate),
		LastLogIndex: raft.LogIndex(w.LastLogIndex),
		LastLogTerm:  raft.Term(w.LastLogTerm),
	}
}

func requestVoteRespToWire(r *raft.RequestVoteResponse) *pb.RequestVoteResponse {
	return &pb.RequestVoteResponse{ID: r.ID, Term: uint64(r.Term), VoteGranted: r.VoteGranted}
}

func requestVoteRespFromWire(w *pb.RequestVoteResponse) *raft.RequestVoteResponse {
	return &raft.RequestVoteResponse{ID: w.ID, Term: raft.Term(w.Term), VoteGranted: w.VoteGranted}
}

func submitCommandToWire(req *raft.SubmitCommandRequest) *pb.SubmitCommandRequest {
	return &pb.SubmitCommandRequest{ID: req.ID, Command: req.Command, Args: req.Args}
}

func submitCommandFromWire(w *pb.SubmitCommandRequest) *raft.SubmitCommandRequest {
	return &raft.SubmitCommandRequest{ID: w.ID, Command: w.Command, Args: w.Args}
}

func submitCommandRespToWire(r *raft.SubmitCommandResponse) *pb.SubmitCommandResponse {
	return &pb.SubmitCommandResponse{ID: r.ID, Result: r.Result, ErrorMessage: r.ErrorMessage}
}

func submitCommandRespFromWire(w *pb.SubmitCommandResponse) *raft.SubmitCommandResponse {
	return &raft.SubmitCommandResponse{ID: w.ID, Result: w.Result, ErrorMessage: w.ErrorMessage}
}
