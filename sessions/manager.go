// Package sessions is the client-session collaborator (§6): OpenSession,
// KeepAlive, and CloseSession over a single local Engine. It tracks a
// session id, a per-session command sequence number, and a liveness state,
// and drives a keep-alive ticker. It never reaches into the engine's
// internals (ReplicaContext, ClusterView, the log) — its only contact with
// the core is Engine.SubmitCommand; it does not read the event feed.
//
// The manager keeps no leader hint and does not retry: a submit that comes
// back ErrNotLeader or ErrLeadershipLost is returned to the caller.
package sessions

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	raft "github.com/raftkit/engine"
)

// State is the session's liveness as seen by the local client, mirroring
// §6's KeepAlive outcomes (CONNECTED / SUSPENDED).
type State uint8

const (
	StateConnected State = iota
	StateSuspended
)

func (s State) String() string {
	if s == StateSuspended {
		return "Suspended"
	}
	return "Connected"
}

// Submitter is the subset of Engine a Manager depends on, so tests can
// supply a fake without standing up a full replica.
type Submitter interface {
	SubmitCommand(ctx context.Context, command string, args []byte) ([]byte, error)
	Events() *raft.EventBus
}

// Manager is one client session: an id, a command sequence counter, a
// liveness state, and a keep-alive loop. It talks to a single local Engine
// rather than fanning RPCs out across a server list itself — cross-replica
// redirection is the transport's job (§6), not the session layer's.
type Manager struct {
	id     string
	engine Submitter

	seq atomic.Uint64

	mu    sync.Mutex
	state State

	keepAliveInterval time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// Open starts a new session against engine with the given session timeout
// (§6's sessionTimeout), deriving the keep-alive cadence as
// min(sessionTimeout)/2 per §5's Cancellation note — here there is only one
// timeout to take the min of, so it degenerates to sessionTimeout/2.
func Open(engine Submitter, sessionTimeout time.Duration) *Manager {
	m := &Manager{
		id:                uuid.NewString(),
		engine:            engine,
		state:             StateConnected,
		keepAliveInterval: sessionTimeout / 2,
		stopCh:            make(chan struct{}),
		doneCh:            make(chan struct{}),
	}
	go m.runKeepAlive()
	return m
}

func (m *Manager) ID() string { return m.id }

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// Submit passes command and the caller-supplied args to the engine
// unchanged and, on success, advances the session's sequence counter. The
// sequence number is not added to args (callers that need exactly-once
// semantics should include Seq() in their own command encoding; the
// manager only hands out the counter, it does not interpret command
// payloads).
func (m *Manager) Submit(ctx context.Context, command string, args []byte) ([]byte, error) {
	result, err := m.engine.SubmitCommand(ctx, command, args)
	if err != nil {
		if errors.Is(err, raft.ErrNotLeader) || errors.Is(err, raft.ErrLeadershipLost) {
			// No cross-replica list to rotate through here (§6's
			// retry-on-redirect is the transport's job); surface the
			// error so the caller's own client-side transport can
			// redial against the current leader hint.
			return nil, err
		}
		return nil, err
	}
	m.seq.Add(1)
	return result, nil
}

// Seq returns the number of commands this session has successfully
// submitted so far.
func (m *Manager) Seq() uint64 { return m.seq.Load() }

// KeepAlive sends one keep-alive heartbeat now, outside of the background
// ticker — used by tests and by callers that want to force a liveness
// check before an operation.
func (m *Manager) KeepAlive(ctx context.Context) error {
	_, err := m.engine.SubmitCommand(ctx, "", nil)
	if err != nil {
		if errors.Is(err, raft.ErrNotLeader) || errors.Is(err, raft.ErrLeadershipLost) {
			// Known leader rejected us as stale or we're not talking
			// to the leader: §6 says mark SUSPENDED and let the next
			// tick retry.
			m.setState(StateSuspended)
			return err
		}
		m.setState(StateSuspended)
		return err
	}
	m.setState(StateConnected)
	return nil
}

func (m *Manager) runKeepAlive() {
	defer close(m.doneCh)
	if m.keepAliveInterval <= 0 {
		return
	}
	ticker := time.NewTicker(m.keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.keepAliveInterval)
			_ = m.KeepAlive(ctx)
			cancel()
		case <-m.stopCh:
			return
		}
	}
}

// Close stops the keep-alive loop. It does not notify the engine, which
// keeps no per-session state.
func (m *Manager) Close() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	<-m.doneCh
}
