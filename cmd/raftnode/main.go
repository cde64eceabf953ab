// Command raftnode is a thin CLI wrapper around raft.Engine: parse flags,
// wire a log, a state machine, and a gRPC transport together, bootstrap
// cluster membership, and Serve until a terminal signal arrives. No
// benchmark harness or config framework is included (DESIGN.md).
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	raft "github.com/raftkit/engine"
	"github.com/raftkit/engine/filelog"
	"github.com/raftkit/engine/kvstatemachine"
	"github.com/raftkit/engine/mapset"
	"github.com/raftkit/engine/transportgrpc"
	"go.uber.org/zap/zapcore"
)

func main() {
	var (
		id        = flag.String("id", "", "this replica's member id")
		listen    = flag.String("listen", "127.0.0.1:0", "address to listen on for the peer protocol")
		peersFlag = flag.String("peers", "", "comma-separated id=endpoint pairs for every other member")
		dataDir   = flag.String("data-dir", "", "directory for the durable log segment (required)")
		smName    = flag.String("statemachine", "kv", "state machine to run: kv or mapset")
		logLevel  = flag.String("log-level", "info", "zap log level: debug, info, warn, error")
	)
	flag.Parse()

	if *id == "" {
		fmt.Fprintln(os.Stderr, "raftnode: -id is required")
		os.Exit(2)
	}

	peers, err := parsePeers(*peersFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, "raftnode:", err)
		os.Exit(2)
	}

	log, err := openLog(*dataDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "raftnode: opening log:", err)
		os.Exit(1)
	}

	sm, err := openStateMachine(*smName)
	if err != nil {
		fmt.Fprintln(os.Stderr, "raftnode:", err)
		os.Exit(2)
	}

	trans, err := transportgrpc.NewGRPCTransport(*listen, peers)
	if err != nil {
		fmt.Fprintln(os.Stderr, "raftnode: listening:", err)
		os.Exit(1)
	}

	level, err := parseLevel(*logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "raftnode:", err)
		os.Exit(2)
	}

	stable := raft.NewMemoryStableStore()
	engine, err := raft.NewEngine(raft.MemberID(*id), log, stable, sm, trans, raft.WithLogLevel(level))
	if err != nil {
		fmt.Fprintln(os.Stderr, "raftnode: constructing engine:", err)
		os.Exit(1)
	}

	members := make([]raft.MemberID, 0, len(peers))
	for peerID := range peers {
		members = append(members, peerID)
	}
	engine.Cluster().SetMembers(members)

	go func() {
		<-terminalSignalCh()
		engine.Shutdown(nil)
	}()

	if err := engine.Serve(); err != nil {
		fmt.Fprintln(os.Stderr, "raftnode: serve exited:", err)
		os.Exit(1)
	}
}

func parsePeers(s string) (map[raft.MemberID]string, error) {
	peers := map[raft.MemberID]string{}
	if strings.TrimSpace(s) == "" {
		return peers, nil
	}
	for _, pair := range strings.Split(s, ",") {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid -peers entry %q, want id=endpoint", pair)
		}
		peers[raft.MemberID(parts[0])] = parts[1]
	}
	return peers, nil
}

func openLog(dataDir string) (raft.PersistentLog, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("raftnode: -data-dir is required")
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}
	return filelog.Open(dataDir + "/log.msgpack")
}

func openStateMachine(name string) (raft.StateMachine, error) {
	switch name {
	case "kv":
		return kvstatemachine.New(), nil
	case "mapset":
		return mapset.New(), nil
	default:
		return nil, fmt.Errorf("unknown -statemachine %q, want kv or mapset", name)
	}
}

func parseLevel(s string) (zapcore.Level, error) {
	var level zapcore.Level
	if err := level.Set(s); err != nil {
		return level, fmt.Errorf("invalid -log-level %q: %w", s, err)
	}
	return level, nil
}
