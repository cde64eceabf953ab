package raft

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Engine is the hub of the replica: it owns the ReplicaContext, the state
// machine, the transport, and the three collaborators that react to
// incoming RPCs and the passage of time (ReplicationHandler,
// RoleStateMachine, SnapshotPipeline). Every collaborator holds a
// non-owning *Engine handle, constructed here and never stored anywhere
// else.
//
// A single rpcCh (supplied by the transport) plus a handful of control
// channels owned directly by this struct replace what would otherwise be
// many dedicated per-purpose channels.
type Engine struct {
	id   MemberID
	opts *engineOptions

	logger *zap.SugaredLogger

	ctx   *ReplicaContext
	sm    StateMachine
	trans Transport

	repl *ReplicationHandler
	snap *SnapshotPipeline
	fsm  *RoleStateMachine

	pendingMu sync.Mutex
	pending   map[LogIndex]*pendingSubmit

	// localCh carries RPCs submitted in-process (SubmitCommand below)
	// into the same single-writer dispatch loop that drains trans.RPC(),
	// so a local caller and a remote peer are indistinguishable once
	// past this point.
	localCh chan *RPC

	serveFlag    uint32
	shutdownOnce sync.Once
	shutdownFlag atomic.Bool
	shutdownCh   chan error
	serveErrCh   chan error
	doneCh       chan struct{}
}

type pendingSubmit struct {
	requestID string
	rpc       *RPC
}

// NewEngine wires a replica's collaborators together. The log, state
// machine, and transport are supplied by the caller (they are the pieces
// deliberately left external, §1/§6); everything else is constructed here.
func NewEngine(id MemberID, log PersistentLog, stable StableStore, sm StateMachine, trans Transport, opts ...EngineOption) (*Engine, error) {
	o := applyEngineOptions(opts...)

	events := NewEventBus()
	cluster := NewClusterView(id)
	ctx, err := NewReplicaContext(stable, log, cluster, events)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		id:         id,
		opts:       o,
		ctx:        ctx,
		sm:         sm,
		trans:      trans,
		pending:    map[LogIndex]*pendingSubmit{},
		localCh:    make(chan *RPC, 16),
		shutdownCh: make(chan error, 1),
		serveErrCh: make(chan error, 1),
		doneCh:     make(chan struct{}),
	}
	e.logger = newLogger(o.logLevel)
	e.repl = newReplicationHandler(e)
	e.snap = newSnapshotPipeline(e)
	e.fsm = newRoleStateMachine(e)
	return e, nil
}

func (e *Engine) role() Role { return e.fsm.Role() }

// Context returns the engine's ReplicaContext, mostly useful to tests and
// to collaborators (sessions, benchmarks) that only need to read state.
func (e *Engine) Context() *ReplicaContext { return e.ctx }

func (e *Engine) Cluster() *ClusterView { return e.ctx.Cluster() }

func (e *Engine) Events() *EventBus { return e.ctx.Events() }

func (e *Engine) ID() MemberID { return e.id }

func (e *Engine) Endpoint() string { return e.trans.Endpoint() }

// States is a point-in-time snapshot of the replica's visible state.
type States struct {
	ID           MemberID
	Endpoint     string
	Leader       MemberID
	Role         string
	CurrentTerm  Term
	VotedFor     MemberID
	LastLogIndex LogIndex
	CommitIndex  LogIndex
	LastApplied  LogIndex
}

func (e *Engine) States() States {
	return States{
		ID:           e.id,
		Endpoint:     e.Endpoint(),
		Leader:       e.ctx.CurrentLeader(),
		Role:         e.role().String(),
		CurrentTerm:  e.ctx.CurrentTerm(),
		VotedFor:     e.ctx.VotedFor(),
		LastLogIndex: e.ctx.Log().LastIndex(),
		CommitIndex:  e.ctx.CommitIndex(),
		LastApplied:  e.ctx.LastApplied(),
	}
}

// Serve starts accepting transport connections and runs the replica's
// single-writer event loop until Shutdown is called or the transport dies.
// It blocks until the engine stops serving.
func (e *Engine) Serve() error {
	if !atomic.CompareAndSwapUint32(&e.serveFlag, 0, 1) {
		return errors.New("raft: Serve() can only be called once")
	}

	if len(e.ctx.Cluster().AllMembers()) == 1 {
		e.logger.Infow("bootstrapping single-member cluster", e.logFields()...)
	}

	go func() {
		if err := e.trans.Serve(); err != nil {
			e.internalShutdown(err)
		}
	}()

	go e.fsm.Run()

	return <-e.serveErrCh
}

func (e *Engine) Shutdown(err error) {
	e.shutdownCh <- err
}

func (e *Engine) internalShutdown(err error) {
	e.shutdownOnce.Do(func() {
		e.shutdownFlag.Store(true)
		e.logger.Infow("engine shutting down", e.logFields(zap.Error(err))...)
		e.cancelAllPending(ErrShutdown)
		if closeErr := e.trans.Close(); closeErr != nil {
			e.logger.Warnw("error closing transport", e.logFields(zap.Error(closeErr))...)
		}
		close(e.doneCh)
		e.serveErrCh <- err
	})
}

// isShutdown reports whether internalShutdown has run, used by the role
// loop to stop re-entering a per-role loop after shutdown.
func (e *Engine) isShutdown() bool { return e.shutdownFlag.Load() }

// Done returns a channel closed once the engine has finished shutting
// down, for callers that want to wait without inspecting Serve's error.
func (e *Engine) Done() <-chan struct{} { return e.doneCh }

// SubmitCommand is the local entry point used by in-process collaborators
// (the session manager, benchmarks) to submit a command without going
// through the wire transport. It behaves exactly like an inbound
// SubmitCommandRequest delivered over RPC: if the local replica is not the
// leader the caller gets ErrNotLeader back immediately and is expected to
// retry against the known leader.
func (e *Engine) SubmitCommand(ctx context.Context, command string, args []byte) ([]byte, error) {
	req := &SubmitCommandRequest{ID: NewRequestID(), Command: command, Args: args}
	rpc := NewRPC(req.ID, req)
	select {
	case e.localCh <- rpc:
	case <-e.doneCh:
		return nil, ErrShutdown
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	var res rpcResponse
	select {
	case res = <-rpc.response:
	case <-e.doneCh:
		return nil, ErrShutdown
	}
	if res.err != nil {
		return nil, res.err
	}
	resp := res.value.(*SubmitCommandResponse)
	if resp.ErrorMessage != "" {
		for _, sentinel := range []error{ErrNotLeader, ErrLeadershipLost, ErrShutdown} {
			if resp.ErrorMessage == sentinel.Error() {
				return nil, sentinel
			}
		}
		return nil, errors.New(resp.ErrorMessage)
	}
	return resp.Result, nil
}

func (e *Engine) registerPending(index LogIndex, requestID string, rpc *RPC) {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	e.pending[index] = &pendingSubmit{requestID: requestID, rpc: rpc}
}

func (e *Engine) takePending(index LogIndex) (*pendingSubmit, bool) {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	p, ok := e.pending[index]
	if ok {
		delete(e.pending, index)
	}
	return p, ok
}

// cancelAllPending fails every outstanding SubmitCommand future with err.
// Called when the replica steps down from Leader (§4.4, §5 "Cancellation")
// and on shutdown.
func (e *Engine) cancelAllPending(err error) {
	e.pendingMu.Lock()
	pending := e.pending
	e.pending = map[LogIndex]*pendingSubmit{}
	e.pendingMu.Unlock()
	for _, p := range pending {
		p.rpc.Respond(&SubmitCommandResponse{ID: p.requestID, ErrorMessage: err.Error()}, nil)
	}
}
