// Package memlog is an in-memory PersistentLog. Nothing it holds survives
// a restart; cmd/raftnode does not use it.
package memlog

import (
	"sync"

	engine "github.com/raftkit/engine"
)

// Log is a slice-backed raft.PersistentLog guarded by a single mutex. Each
// method, Backup/Commit/Restore included, holds the mutex only while it
// runs; appends and truncations made between Backup and Commit/Restore are
// not blocked, and Restore discards them.
type Log struct {
	mu sync.RWMutex

	// firstIndex-1 is the index of entries[0]-1; entries[i] holds the entry
	// at index firstIndex+i.
	firstIndex engine.LogIndex
	entries    []*engine.Entry

	backup *backupState
}

type backupState struct {
	firstIndex engine.LogIndex
	entries    []*engine.Entry
}

// New returns an empty log with FirstIndex()==1.
func New() *Log {
	return &Log{firstIndex: 1}
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
	return nil
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
	return nil
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
	return nil
}

func (l *Log) PrependEntries(entries []*engine.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(append([]*engine.Entry(nil), entries...), l.entries...)
	l.firstIndex = entries[0].Index
	return nil
}

func (l *Log) Backup() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.backup = &backupState{
		firstIndex: l.firstIndex,
		entries:    append([]*engine.Entry(nil), l.entries...),
	}
	return nil
}

func (l *Log) Commit() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.backup = nil
	return nil
}

func (l *Log) Restore() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.backup == nil {
		return nil
	}
	l.firstIndex = l.backup.firstIndex
	l.entries = l.backup.entries
	l.backup = nil
	return nil
}

func (l *Log) SizeBytes() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var total int64
	for _, e := range l.entries {
		total += entrySizeEstimate(e)
	}
	return total
}

func entrySizeEstimate(e *engine.Entry) int64 {
	const overhead = 32
	switch p := e.Payload.(type) {
	case engine.CommandPayload:
		return overhead + int64(len(p.Command)) + int64(len(p.Args))
	case engine.ConfigurationPayload:
		return overhead + int64(len(p.Members))*16
	case engine.SnapshotStartPayload:
		return overhead + int64(len(p.Members))*16
	case engine.SnapshotChunkPayload:
		return overhead + int64(len(p.Data))
	default:
		return overhead
	}
}
