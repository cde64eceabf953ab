package main

import (
	"testing"

	raft "github.com/raftkit/engine"
	"github.com/raftkit/engine/kvstatemachine"
	"github.com/raftkit/engine/mapset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParsePeersEmptyString(t *testing.T) {
	peers, err := parsePeers("")
	require.NoError(t, err)
	assert.Empty(t, peers)
}

func TestParsePeersParsesPairs(t *testing.T) {
	peers, err := parsePeers("a=127.0.0.1:9001,b=127.0.0.1:9002")
	require.NoError(t, err)
	assert.Equal(t, map[raft.MemberID]string{
		"a": "127.0.0.1:9001",
		"b": "127.0.0.1:9002",
	}, peers)
}

func TestParsePeersRejectsMalformedEntry(t *testing.T) {
	_, err := parsePeers("a=,b=127.0.0.1:9002")
	assert.Error(t, err)

	_, err = parsePeers("noequalsign")
	assert.Error(t, err)
}

func TestOpenStateMachine(t *testing.T) {
	sm, err := openStateMachine("kv")
	require.NoError(t, err)
	assert.IsType(t, &kvstatemachine.StateMachine{}, sm)

	sm, err = openStateMachine("mapset")
	require.NoError(t, err)
	assert.IsType(t, &mapset.StateMachine{}, sm)

	_, err = openStateMachine("bogus")
	assert.Error(t, err)
}

func TestOpenLogRequiresDataDir(t *testing.T) {
	_, err := openLog("")
	assert.Error(t, err)
}

func TestOpenLogCreatesSegmentUnderDataDir(t *testing.T) {
	log, err := openLog(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, raft.LogIndex(1), log.FirstIndex())
}

func TestParseLevel(t *testing.T) {
	level, err := parseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, level)

	_, err = parseLevel("not-a-level")
	assert.Error(t, err)
}
