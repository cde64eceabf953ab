package raft

import "io"

// StateMachine is the opaque target of applied commands (C2). The engine
// never inspects command bytes; it only sequences Apply calls and drives
// the snapshot handshake around Snapshot/InstallSnapshot.
type StateMachine interface {
	// Apply executes a single committed command and returns an opaque
	// result to surface back to the submitting client. Errors are logged
	// and swallowed by the engine (§4.3) — the commit contract is about
	// ordering, not the success of any one command.
	Apply(command string, args []byte) ([]byte, error)

	// Snapshot serializes the entire state machine to w. The engine calls
	// it during compaction, synchronously on the replica's single-writer
	// goroutine; implementations that are also read or mutated from other
	// goroutines take their own lock.
	Snapshot(w io.Writer) error

	// InstallSnapshot replaces the state machine's contents with the bytes
	// previously produced by Snapshot. It is called from the apply path
	// with the replica's single-writer goroutine; it must not block on
	// I/O longer than necessary.
	InstallSnapshot(r io.Reader) error
}
