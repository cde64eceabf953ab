package raft

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// fakeLog is a minimal in-memory PersistentLog for unit tests in this
// package (memlog itself imports this package, so it cannot be used here
// without an import cycle).
type fakeLog struct {
	mu         sync.Mutex
	firstIndex LogIndex
	entries    []*Entry

	backupFirstIndex LogIndex
	backupEntries    []*Entry
	backedUp         bool
}

func newFakeLog() *fakeLog {
	return &fakeLog{firstIndex: 1}
}

func (l *fakeLog) FirstIndex() LogIndex {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.firstIndex
}

func (l *fakeLog) lastIndexLocked() LogIndex {
	return l.firstIndex + LogIndex(len(l.entries)) - 1
}

func (l *fakeLog) LastIndex() LogIndex {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastIndexLocked()
}

func (l *fakeLog) GetEntry(index LogIndex) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if index < l.firstIndex || index > l.lastIndexLocked() {
		return nil, nil
	}
	return l.entries[index-l.firstIndex], nil
}

func (l *fakeLog) AppendEntries(entries []*Entry) error {
	if len(entries) == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entries...)
	return nil
}

func (l *fakeLog) RemoveAfter(index LogIndex) error {
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

func (l *fakeLog) RemoveBefore(index LogIndex) error {
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

func (l *fakeLog) PrependEntries(entries []*Entry) error {
	if len(entries) == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(append([]*Entry(nil), entries...), l.entries...)
	l.firstIndex = entries[0].Index
	return nil
}

func (l *fakeLog) Backup() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.backupFirstIndex = l.firstIndex
	l.backupEntries = append([]*Entry(nil), l.entries...)
	l.backedUp = true
	return nil
}

func (l *fakeLog) Commit() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.backedUp = false
	l.backupEntries = nil
	return nil
}

func (l *fakeLog) Restore() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.backedUp {
		return nil
	}
	l.firstIndex = l.backupFirstIndex
	l.entries = l.backupEntries
	l.backedUp = false
	return nil
}

func (l *fakeLog) SizeBytes() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return int64(len(l.entries)) * 64
}

// fakeStateMachine is a trivial StateMachine for unit tests: Apply just
// echoes args back, Snapshot/InstallSnapshot round-trip through a single
// stored blob.
type fakeStateMachine struct {
	mu   sync.Mutex
	data []byte
}

func (m *fakeStateMachine) Apply(command string, args []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = append([]byte(nil), args...)
	return append([]byte(nil), args...), nil
}

func (m *fakeStateMachine) Snapshot(w io.Writer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := w.Write(m.data)
	return err
}

func (m *fakeStateMachine) InstallSnapshot(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data = data
	m.mu.Unlock()
	return nil
}

// fakeRegistry wires a set of fakeTransports together in-process, so
// role_test.go can exercise real elections and
// replication without a network.
type fakeRegistry struct {
	mu         sync.Mutex
	transports map[MemberID]*fakeTransport
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{transports: map[MemberID]*fakeTransport{}}
}

func (r *fakeRegistry) transport(id MemberID) *fakeTransport {
	t := &fakeTransport{id: id, rpcCh: make(chan *RPC, 64), doneCh: make(chan struct{}), registry: r}
	r.mu.Lock()
	r.transports[id] = t
	r.mu.Unlock()
	return t
}

type fakeTransport struct {
	id       MemberID
	rpcCh    chan *RPC
	registry *fakeRegistry

	closeOnce sync.Once
	doneCh    chan struct{}
}

func (t *fakeTransport) Endpoint() string { return string(t.id) }
func (t *fakeTransport) RPC() <-chan *RPC { return t.rpcCh }
func (t *fakeTransport) Serve() error     { <-t.doneCh; return nil }
func (t *fakeTransport) Close() error {
	t.closeOnce.Do(func() { close(t.doneCh) })
	return nil
}

func (t *fakeTransport) closed() bool {
	select {
	case <-t.doneCh:
		return true
	default:
		return false
	}
}

func (t *fakeTransport) dispatch(peer MemberID, request any) (any, error) {
	t.registry.mu.Lock()
	target, ok := t.registry.transports[peer]
	t.registry.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("fakeTransport: unknown peer %s", peer)
	}
	if target.closed() {
		return nil, fmt.Errorf("fakeTransport: peer %s is closed", peer)
	}
	rpc := NewRPC(NewRequestID(), request)
	select {
	case target.rpcCh <- rpc:
	case <-target.doneCh:
		return nil, fmt.Errorf("fakeTransport: peer %s closed mid-dispatch", peer)
	}
	return rpc.Response()
}

func (t *fakeTransport) AppendEntries(ctx context.Context, peer MemberID, req *AppendEntriesRequest) (*AppendEntriesResponse, error) {
	resp, err := t.dispatch(peer, req)
	if err != nil {
		return nil, err
	}
	return resp.(*AppendEntriesResponse), nil
}

func (t *fakeTransport) RequestVote(ctx context.Context, peer MemberID, req *RequestVoteRequest) (*RequestVoteResponse, error) {
	resp, err := t.dispatch(peer, req)
	if err != nil {
		return nil, err
	}
	return resp.(*RequestVoteResponse), nil
}

func (t *fakeTransport) SubmitCommand(ctx context.Context, peer MemberID, req *SubmitCommandRequest) (*SubmitCommandResponse, error) {
	resp, err := t.dispatch(peer, req)
	if err != nil {
		return nil, err
	}
	return resp.(*SubmitCommandResponse), nil
}
