// Package transportgrpc is the gRPC Transport (§6) for the engine: it
// carries AppendEntries, RequestVote, and SubmitCommand between replicas.
// The wire service is declared by hand against grpc.ServiceDesc instead of
// protoc-gen-go-grpc stubs (protoc cannot be run in this environment; see
// DESIGN.md), with msgpackCodec standing in for protobuf marshaling.
//
// Outbound calls go through a lazy connect-and-retry client pool
// (tryClient/connectLocked/disconnectLocked); inbound calls are fed into
// the engine's single-writer loop through one buffered rpcCh.
package transportgrpc

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"

	raft "github.com/raftkit/engine"
	"github.com/raftkit/engine/pb"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"
)

const serviceName = "raft.Transport"

func init() {
	encoding.RegisterCodec(newMsgpackCodec())
}

type transportServer interface {
	AppendEntries(ctx context.Context, req *pb.AppendEntriesRequest) (*pb.AppendEntriesResponse, error)
	RequestVote(ctx context.Context, req *pb.RequestVoteRequest) (*pb.RequestVoteResponse, error)
	SubmitCommand(ctx context.Context, req *pb.SubmitCommandRequest) (*pb.SubmitCommandResponse, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*transportServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "AppendEntries", Handler: handleAppendEntries},
		{MethodName: "RequestVote", Handler: handleRequestVote},
		{MethodName: "SubmitCommand", Handler: handleSubmitCommand},
	},
	Metadata: "raftkit/engine/transportgrpc",
}

func handleAppendEntries(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(pb.AppendEntriesRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(transportServer).AppendEntries(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/AppendEntries"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(transportServer).AppendEntries(ctx, req.(*pb.AppendEntriesRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func handleRequestVote(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(pb.RequestVoteRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(transportServer).RequestVote(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/RequestVote"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(transportServer).RequestVote(ctx, req.(*pb.RequestVoteRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func handleSubmitCommand(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(pb.SubmitCommandRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(transportServer).SubmitCommand(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/SubmitCommand"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(transportServer).SubmitCommand(ctx, req.(*pb.SubmitCommandRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// grpcTransService implements transportServer by handing each inbound call
// to the engine's single-writer loop as an *raft.RPC and blocking for the
// handler's reply.
type grpcTransService struct {
	rpcCh chan *raft.RPC
}

func (s *grpcTransService) AppendEntries(ctx context.Context, req *pb.AppendEntriesRequest) (*pb.AppendEntriesResponse, error) {
	r := raft.NewRPC(req.ID, appendEntriesFromWire(req))
	s.rpcCh <- r
	resp, err := r.Response()
	if err != nil {
		return nil, err
	}
	return appendEntriesRespToWire(resp.(*raft.AppendEntriesResponse)), nil
}

func (s *grpcTransService) RequestVote(ctx context.Context, req *pb.RequestVoteRequest) (*pb.RequestVoteResponse, error) {
	r := raft.NewRPC(req.ID, requestVoteFromWire(req))
	s.rpcCh <- r
	resp, err := r.Response()
	if err != nil {
		return nil, err
	}
	return requestVoteRespToWire(resp.(*raft.RequestVoteResponse)), nil
}

func (s *grpcTransService) SubmitCommand(ctx context.Context, req *pb.SubmitCommandRequest) (*pb.SubmitCommandResponse, error) {
	r := raft.NewRPC(req.ID, submitCommandFromWire(req))
	s.rpcCh <- r
	resp, err := r.Response()
	if err != nil {
		return nil, err
	}
	return submitCommandRespToWire(resp.(*raft.SubmitCommandResponse)), nil
}

type grpcTransClient struct {
	conn *grpc.ClientConn
}

// GRPCTransport implements raft.Transport over gRPC with the msgpack codec,
// dialing peers lazily and caching connections by raft.MemberID the way the
// teacher's GRPCTransport caches by pb.Peer.Id.
type GRPCTransport struct {
	service *grpcTransService
	server  *grpc.Server

	listener net.Listener

	serveFlag uint32

	peers     map[raft.MemberID]*pb.Peer // member id -> dial info
	clients   map[raft.MemberID]*grpcTransClient
	clientsMu sync.RWMutex

	logger *zap.SugaredLogger
}

// NewGRPCTransport listens on listenAddr and resolves peer ids to dial
// addresses via peers, supplied up front because the core's ClusterView
// only knows MemberIDs, not endpoints (§6). Each entry is copied into a
// pb.Peer cached by Id, so the cached copy can't be mutated out from under
// a connected client by the caller's map.
func NewGRPCTransport(listenAddr string, peers map[raft.MemberID]string) (*GRPCTransport, error) {
	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, err
	}
	known := make(map[raft.MemberID]*pb.Peer, len(peers))
	logged := make(pb.PeerArray, 0, len(peers))
	for id, endpoint := range peers {
		p := (&pb.Peer{Id: string(id), Endpoint: endpoint}).Copy()
		known[id] = p
		logged = append(logged, p)
	}
	logger := zap.NewNop().Sugar()
	logger.Debugw("transportgrpc: configured with peers", zap.Array("peers", logged))
	return &GRPCTransport{
		service:  &grpcTransService{rpcCh: make(chan *raft.RPC, 16)},
		listener: listener,
		peers:    known,
		clients:  map[raft.MemberID]*grpcTransClient{},
		logger:   logger,
	}, nil
}

func (t *GRPCTransport) connectLocked(peer raft.MemberID) error {
	if _, ok := t.clients[peer]; ok {
		return nil
	}
	p, ok := t.peers[peer]
	if !ok {
		return errors.New("transportgrpc: unknown peer " + string(peer))
	}
	conn, err := grpc.NewClient(p.Endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(newMsgpackCodec().Name())))
	if err != nil {
		return err
	}
	t.logger.Infow("transportgrpc: connected to peer", zap.Object("peer", p))
	t.clients[peer] = &grpcTransClient{conn: conn}
	return nil
}

func (t *GRPCTransport) disconnectLocked(peer raft.MemberID) {
	if client, ok := t.clients[peer]; ok {
		delete(t.clients, peer)
		client.conn.Close()
		if p, ok := t.peers[peer]; ok {
			t.logger.Infow("transportgrpc: disconnected from peer", zap.Object("peer", p))
		}
	}
}

// tryClient runs fn against peer's connection, lazily connecting first and
// reconnecting once on a transport-level failure.
func (t *GRPCTransport) tryClient(peer raft.MemberID, fn func(*grpcTransClient) error) error {
	t.clientsMu.RLock()
	client, ok := t.clients[peer]
	t.clientsMu.RUnlock()

	if !ok {
		t.clientsMu.Lock()
		if client, ok = t.clients[peer]; !ok {
			if err := t.connectLocked(peer); err != nil {
				t.clientsMu.Unlock()
				return err
			}
			client = t.clients[peer]
		}
		t.clientsMu.Unlock()
	}

	if err := fn(client); err != nil {
		if status.Code(err) == codes.Unavailable {
			t.clientsMu.Lock()
			t.disconnectLocked(peer)
			reconnectErr := t.connectLocked(peer)
			retryClient := t.clients[peer]
			t.clientsMu.Unlock()
			if reconnectErr != nil {
				return err
			}
			return fn(retryClient)
		}
		return err
	}
	return nil
}

func (t *GRPCTransport) Endpoint() string { return t.listener.Addr().String() }

func (t *GRPCTransport) RPC() <-chan *raft.RPC { return t.service.rpcCh }

func (t *GRPCTransport) Serve() error {
	if !atomic.CompareAndSwapUint32(&t.serveFlag, 0, 1) {
		return errors.New("transportgrpc: Serve() can only be called once")
	}
	t.server = grpc.NewServer()
	t.server.RegisterService(&serviceDesc, t.service)
	return t.server.Serve(t.listener)
}

func (t *GRPCTransport) Close() error {
	t.clientsMu.Lock()
	for peer := range t.clients {
		t.disconnectLocked(peer)
	}
	t.clientsMu.Unlock()
	if t.server != nil {
		t.server.GracefulStop()
	}
	return nil
}

func (t *GRPCTransport) AppendEntries(ctx context.Context, peer raft.MemberID, req *raft.AppendEntriesRequest) (*raft.AppendEntriesResponse, error) {
	var resp *pb.AppendEntriesResponse
	if err := t.tryClient(peer, func(c *grpcTransClient) error {
		out := new(pb.AppendEntriesResponse)
		if err := c.conn.Invoke(ctx, "/"+serviceName+"/AppendEntries", appendEntriesToWire(req), out); err != nil {
			return err
		}
		resp = out
		return nil
	}); err != nil {
		return nil, err
	}
	return appendEntriesRespFromWire(resp), nil
}

func (t *GRPCTransport) RequestVote(ctx context.Context, peer raft.MemberID, req *raft.RequestVoteRequest) (*raft.RequestVoteResponse, error) {
	var resp *pb.RequestVoteResponse
	if err := t.tryClient(peer, func(c *grpcTransClient) error {
		out := new(pb.RequestVoteResponse)
		if err := c.conn.Invoke(ctx, "/"+serviceName+"/RequestVote", requestVoteToWire(req), out); err != nil {
			return err
		}
		resp = out
		return nil
	}); err != nil {
		return nil, err
	}
	return requestVoteRespFromWire(resp), nil
}

func (t *GRPCTransport) SubmitCommand(ctx context.Context, peer raft.MemberID, req *raft.SubmitCommandRequest) (*raft.SubmitCommandResponse, error) {
	var resp *pb.SubmitCommandResponse
	if err := t.tryClient(peer, func(c *grpcTransClient) error {
		out := new(pb.SubmitCommandResponse)
		if err := c.conn.Invoke(ctx, "/"+serviceName+"/SubmitCommand", submitCommandToWire(req), out); err != nil {
			return err
		}
		resp = out
		return nil
	}); err != nil {
		return nil, err
	}
	return submitCommandRespFromWire(resp), nil
}
