package raft

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestDefaultEngineOptions(t *testing.T) {
	o := applyEngineOptions()
	assert.Equal(t, int64(64<<20), o.maxLogBytes)
	assert.Equal(t, 4096, o.snapshotChunkBytes)
	assert.Equal(t, zapcore.InfoLevel, o.logLevel)
}

func TestEngineOptionsOverrideDefaults(t *testing.T) {
	o := applyEngineOptions(
		WithMaxLogBytes(1024),
		WithSnapshotChunkBytes(8),
		WithElectionTimeout(20*time.Millisecond, 40*time.Millisecond),
		WithHeartbeatInterval(5*time.Millisecond),
		WithSessionTimeout(time.Minute),
		WithLogLevel(zapcore.DebugLevel),
	)
	assert.Equal(t, int64(1024), o.maxLogBytes)
	assert.Equal(t, 8, o.snapshotChunkBytes)
	assert.Equal(t, 20*time.Millisecond, o.electionTimeoutMin)
	assert.Equal(t, 40*time.Millisecond, o.electionTimeoutMax)
	assert.Equal(t, 5*time.Millisecond, o.heartbeatInterval)
	assert.Equal(t, time.Minute, o.sessionTimeout)
	assert.Equal(t, zapcore.DebugLevel, o.logLevel)
}

func TestEngineOptionsPanicsWhenHeartbeatNotStrictlyLessThanElectionMin(t *testing.T) {
	assert.Panics(t, func() {
		applyEngineOptions(WithElectionTimeout(10*time.Millisecond, 20*time.Millisecond), WithHeartbeatInterval(10*time.Millisecond))
	})
}
