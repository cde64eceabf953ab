package raft

// EntryPayload is the sum type of everything a log Entry can carry. The
// source represents this as a class hierarchy with runtime type checks;
// here it is a closed interface with an unexported marker method so the
// compiler enforces exhaustive handling at every switch.
type EntryPayload interface {
	entryPayload()
}

// CommandPayload carries an opaque command identifier and argument bytes
// destined for the StateMachine.
type CommandPayload struct {
	Command string
	Args    []byte
}

func (CommandPayload) entryPayload() {}

// ConfigurationPayload carries the full member set that defines the cluster
// once this entry commits.
type ConfigurationPayload struct {
	Members []MemberID
}

func (ConfigurationPayload) entryPayload() {}

// SnapshotStartPayload marks the beginning of a chunked snapshot. It
// carries the term and member set that were current when the snapshot was
// taken.
type SnapshotStartPayload struct {
	Term    Term
	Members []MemberID
}

func (SnapshotStartPayload) entryPayload() {}

// SnapshotChunkPayload carries one slice of the serialized state machine.
type SnapshotChunkPayload struct {
	Data []byte
}

func (SnapshotChunkPayload) entryPayload() {}

// SnapshotEndPayload closes a chunked snapshot and states its total length
// in bytes. Reassembly does not check the chunks against Length.
type SnapshotEndPayload struct {
	Length uint64
}

func (SnapshotEndPayload) entryPayload() {}

// NoOpPayload carries nothing but a term. The Leader appends one on
// assuming leadership so it can commit entries from prior terms indirectly
// (the standard Raft no-op-on-election technique).
type NoOpPayload struct{}

func (NoOpPayload) entryPayload() {}

// Entry is one record in the replicated log.
type Entry struct {
	Index   LogIndex
	Term    Term
	Payload EntryPayload
}

// EntryType identifies which EntryPayload variant an Entry carries, without
// requiring a type assertion. It exists for callers (snapshot scanning,
// logging) that want to branch on shape before touching the payload.
type EntryType uint8

const (
	EntryUnknown EntryType = iota
	EntryCommand
	EntryConfiguration
	EntrySnapshotStart
	EntrySnapshotChunk
	EntrySnapshotEnd
	EntryNoOp
)

func (e *Entry) Type() EntryType {
	switch e.Payload.(type) {
	case CommandPayload:
		return EntryCommand
	case ConfigurationPayload:
		return EntryConfiguration
	case SnapshotStartPayload:
		return EntrySnapshotStart
	case SnapshotChunkPayload:
		return EntrySnapshotChunk
	case SnapshotEndPayload:
		return EntrySnapshotEnd
	case NoOpPayload:
		return EntryNoOp
	default:
		return EntryUnknown
	}
}

func (t EntryType) String() string {
	switch t {
	case EntryCommand:
		return "Command"
	case EntryConfiguration:
		return "Configuration"
	case EntrySnapshotStart:
		return "SnapshotStart"
	case EntrySnapshotChunk:
		return "SnapshotChunk"
	case EntrySnapshotEnd:
		return "SnapshotEnd"
	case EntryNoOp:
		return "NoOp"
	default:
		return "Unknown"
	}
}

// Copy returns a deep-enough copy of the entry for handoff across the
// apply/replication boundary; byte slices are copied so a caller can't
// mutate an entry still referenced by the log.
func (e *Entry) Copy() *Entry {
	if e == nil {
		return nil
	}
	cp := *e
	switch p := e.Payload.(type) {
	case CommandPayload:
		args := append([]byte(nil), p.Args...)
		cp.Payload = CommandPayload{Command: p.Command, Args: args}
	case ConfigurationPayload:
		members := append([]MemberID(nil), p.Members...)
		cp.Payload = ConfigurationPayload{Members: members}
	case SnapshotStartPayload:
		members := append([]MemberID(nil), p.Members...)
		cp.Payload = SnapshotStartPayload{Term: p.Term, Members: members}
	case SnapshotChunkPayload:
		data := append([]byte(nil), p.Data...)
		cp.Payload = SnapshotChunkPayload{Data: data}
	}
	return &cp
}
