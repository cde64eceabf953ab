package raft

// PersistentLog is the abstract ordered store of typed Entry values the
// core depends on (C1). The core never reaches past this interface into a
// concrete encoding; memlog and filelog are the two implementations
// shipped alongside it.
//
// Invariant L-Gap-Free: at all times the set of populated indices is
// exactly [FirstIndex()..LastIndex()], with no gaps. An empty log has
// FirstIndex() == LastIndex()+1 (conventionally FirstIndex()==1,
// LastIndex()==0).
//
// The backup/Commit/Restore triple is the log's transactional contract
// used by compaction (§4.3): Backup stages the current state so Restore
// can undo everything performed since, and Commit discards the staged
// copy once a compaction has succeeded. The shipped implementations hold
// their lock only for the duration of each call, so appends and truncations
// are not blocked during a Backup..Commit/Restore window; the engine runs
// compaction on its single-writer goroutine, which also performs its appends.
type PersistentLog interface {
	// FirstIndex returns the index of the oldest entry retained. It is
	// LastIndex()+1 when the log is empty.
	FirstIndex() LogIndex

	// LastIndex returns the index of the newest entry. It is 0 when the
	// log is empty (and FirstIndex() is 1).
	LastIndex() LogIndex

	// GetEntry returns the entry at index, or nil if index is outside
	// [FirstIndex(), LastIndex()].
	GetEntry(index LogIndex) (*Entry, error)

	// AppendEntries appends entries after LastIndex(). Callers are
	// responsible for giving entries contiguous, increasing indices
	// starting at LastIndex()+1.
	AppendEntries(entries []*Entry) error

	// RemoveAfter truncates the log so LastIndex() becomes index. index
	// must be >= FirstIndex()-1.
	RemoveAfter(index LogIndex) error

	// RemoveBefore drops the prefix of the log so FirstIndex() becomes
	// index. index must be <= LastIndex()+1.
	RemoveBefore(index LogIndex) error

	// PrependEntries inserts entries before the current FirstIndex(),
	// contiguously. Used to splice in snapshot entries during compaction.
	PrependEntries(entries []*Entry) error

	// Backup stages the current log state so a later Restore can undo any
	// mutation performed since. Backup does not hold a lock after it
	// returns; the staged copy stays until Commit or Restore.
	Backup() error

	// Commit discards the staged backup, keeping the log's current state.
	Commit() error

	// Restore reverts the log to the state captured by the last Backup.
	Restore() error

	// SizeBytes reports an implementation-defined estimate of the log's
	// on-disk (or in-memory) footprint, used to decide when to compact.
	SizeBytes() int64
}
