// Package filelog is a durable PersistentLog that keeps entries
// msgpack-encoded in a single segment file and holds them decoded in
// memory, rebuilt by scanning the segment on open. Every mutation
// (appends included) rewrites the whole segment, trading write
// amplification for a simple, auditable persistence format, which is the
// right trade for a teaching engine whose log sizes are bounded by
// maxLogBytes.
package filelog

import (
	"io"
	"os"
	"sync"

	engine "github.com/raftkit/engine"
	"github.com/ugorji/go/codec"
)

var mh = &codec.MsgpackHandle{}

// wireEntry is the on-disk shape of an Entry. EntryPayload is a closed
// interface, so it cannot be msgpack-encoded directly; wireEntry flattens
// it into a tagged struct instead.
type wireEntry struct {
	Index   uint64
	Term    uint64
	Type    engine.EntryType
	Command string
	Args    []byte
	Members []string
	SSTerm  uint64
	Chunk   []byte
	Length  uint64
}

func toWire(e *engine.Entry) wireEntry {
	w := wireEntry{Index: uint64(e.Index), Term: uint64(e.Term), Type: e.Type()}
	switch p := e.Payload.(type) {
	case engine.CommandPayload:
		w.Command = p.Command
		w.Args = p.Args
	case engine.ConfigurationPayload:
		w.Members = membersToStrings(p.Members)
	case engine.SnapshotStartPayload:
		w.SSTerm = uint64(p.Term)
		w.Members = membersToStrings(p.Members)
	case engine.SnapshotChunkPayload:
		w.Chunk = p.Data
	case engine.SnapshotEndPayload:
		w.Length = p.Length
	}
	return w
}

func fromWire(w wireEntry) *engine.Entry {
	e := &engine.Entry{Index: engine.LogIndex(w.Index), Term: engine.Term(w.Term)}
	switch w.Type {
	case engine.EntryCommand:
		e.Payload = engine.CommandPayload{Command: w.Command, Args: w.Args}
	case engine.EntryConfiguration:
		e.Payload = engine.ConfigurationPayload{Members: membersFromStrings(w.Members)}
	case engine.EntrySnapshotStart:
		e.Payload = engine.SnapshotStartPayload{Term: engine.Term(w.SSTerm), Members: membersFromStrings(w.Members)}
	case engine.EntrySnapshotChunk:
		e.Payload = engine.SnapshotChunkPayload{Data: w.Chunk}
	case engine.EntrySnapshotEnd:
		e.Payload = engine.SnapshotEndPayload{Length: w.Length}
	case engine.EntryNoOp:
		e.Payload = engine.NoOpPayload{}
	}
	return e
}

func membersToStrings(members []engine.MemberID) []string {
	out := make([]string, len(members))
	for i, m := range members {
		out[i] = string(m)
	}
	return out
}

func membersFromStrings(strs []string) []engine.MemberID {
	out := make([]engine.MemberID, len(strs))
	for i, s := range strs {
		out[i] = engine.MemberID(s)
	}
	return out
}

// Log is a durable raft.PersistentLog backed by a single segment file.
type Log struct {
	mu sync.RWMutex

	path       string
	firstIndex engine.LogIndex
	entries    []*engine.Entry

	backupFirstIndex engine.LogIndex
	backupEntries    []*engine.Entry
	backedUp         bool
}

// Open reads path (creating it if absent) and rebuilds the in-memory index
// by decoding every entry in sequence.
func Open(path string) (*Log, error) {
	l := &Log{path: path, firstIndex: 1}
	f, err := os.OpenFile(path, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := codec.NewDecoder(f, mh)
	for {
		var w wireEntry
		if err := dec.Decode(&w); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		l.entries = append(l.entries, fromWire(w))
	}
	if len(l.entries) > 0 {
		l.firstIndex = l.entries[0].Index
	}
	return l, nil
}

func (l *Log) FirstIndex() engine.LogIndex {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.firstIndex
}

func (l *Log) LastIndex() engine.LogIndex {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastIndexLocked()
}

func (l *Log) lastIndexLocked() engine.LogIndex {
	return l.firstIndex + engine.LogIndex(len(l.entries)) - 1
}

func (l *Log) GetEntry(index engine.LogIndex) (*engine.Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if index < l.firstIndex || index > l.lastIndexLocked() {
		return nil, nil
	}
	return l.entries[index-l.firstIndex], nil
}

func (l *Log) AppendEntries(entries []*engine.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entries...)
	return l.rewriteLocked()
}

func (l *Log) RemoveAfter(index engine.LogIndex) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if index < l.firstIndex-1 {
		index = l.firstIndex - 1
	}
	keep := int(index - l.firstIndex + 1)
	if keep < 0 {
		keep = 0
	}
	if keep >= len(l.entries) {
		return nil
	}
	l.entries = l.entries[:keep]
	return l.rewriteLocked()
}

func (l *Log) RemoveBefore(index engine.LogIndex) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if index <= l.firstIndex {
		return nil
	}
	drop := int(index - l.firstIndex)
	if drop > len(l.entries) {
		drop = len(l.entries)
	}
	l.entries = l.entries[drop:]
	l.firstIndex = index
	return l.rewriteLocked()
}

func (l *Log) PrependEntries(entries []*engine.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(append([]*engine.Entry(nil), entries...), l.entries...)
	l.firstIndex = entries[0].Index
	return l.rewriteLocked()
}

// rewriteLocked serializes the full in-memory entry slice back to the
// segment file. Caller must hold l.mu.
func (l *Log) rewriteLocked() error {
	tmp := l.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	enc := codec.NewEncoder(f, mh)
	for _, e := range l.entries {
		if err := enc.Encode(toWire(e)); err != nil {
			f.Close()
			return err
		}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, l.path)
}

func (l *Log) backupPath() string { return l.path + ".bak" }

// Backup copies the live segment aside and snapshots the in-memory index,
// establishing the exclusive window compaction needs (§5). Caller (the
// engine's single writer goroutine) is expected to serialize all log
// mutation during the Backup..Commit/Restore window; Backup itself only
// needs l.mu for the snapshot, not for the whole window.
func (l *Log) Backup() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := copyFile(l.path, l.backupPath()); err != nil {
		return err
	}
	l.backupFirstIndex = l.firstIndex
	l.backupEntries = append([]*engine.Entry(nil), l.entries...)
	l.backedUp = true
	return nil
}

func (l *Log) Commit() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.backedUp {
		return nil
	}
	l.backedUp = false
	l.backupEntries = nil
	return os.Remove(l.backupPath())
}

func (l *Log) Restore() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.backedUp {
		return nil
	}
	if err := copyFile(l.backupPath(), l.path); err != nil {
		return err
	}
	l.firstIndex = l.backupFirstIndex
	l.entries = l.backupEntries
	l.backupEntries = nil
	l.backedUp = false
	return os.Remove(l.backupPath())
}

func (l *Log) SizeBytes() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	info, err := os.Stat(l.path)
	if err != nil {
		return 0
	}
	return info.Size()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
