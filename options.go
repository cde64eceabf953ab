package raft

import (
	"time"

	"go.uber.org/zap/zapcore"
)

// engineOptions holds every tunable configuration option (§6). It is
// built by applying EngineOption functions over a set of defaults, the
// standard functional-options shape.
type engineOptions struct {
	maxLogBytes         int64
	snapshotChunkBytes  int
	electionTimeoutMin  time.Duration
	electionTimeoutMax  time.Duration
	heartbeatInterval   time.Duration
	sessionTimeout      time.Duration
	logLevel            zapcore.Level
}

func defaultEngineOptions() *engineOptions {
	return &engineOptions{
		maxLogBytes:        64 << 20, // 64 MiB
		snapshotChunkBytes: 4096,
		electionTimeoutMin: 150 * time.Millisecond,
		electionTimeoutMax: 300 * time.Millisecond,
		heartbeatInterval:  50 * time.Millisecond,
		sessionTimeout:     10 * time.Second,
		logLevel:           zapcore.InfoLevel,
	}
}

// EngineOption configures an Engine at construction time.
type EngineOption func(*engineOptions)

func WithMaxLogBytes(n int64) EngineOption {
	return func(o *engineOptions) { o.maxLogBytes = n }
}

func WithSnapshotChunkBytes(n int) EngineOption {
	return func(o *engineOptions) { o.snapshotChunkBytes = n }
}

// WithElectionTimeout sets the randomized election timeout range. heartbeat
// interval must remain strictly less than min, or the engine panics at
// construction (§6 "heartbeatInterval: strict < min(electionTimeoutRange)").
func WithElectionTimeout(min, max time.Duration) EngineOption {
	return func(o *engineOptions) { o.electionTimeoutMin, o.electionTimeoutMax = min, max }
}

func WithHeartbeatInterval(d time.Duration) EngineOption {
	return func(o *engineOptions) { o.heartbeatInterval = d }
}

func WithSessionTimeout(d time.Duration) EngineOption {
	return func(o *engineOptions) { o.sessionTimeout = d }
}

func WithLogLevel(level zapcore.Level) EngineOption {
	return func(o *engineOptions) { o.logLevel = level }
}

func applyEngineOptions(opts ...EngineOption) *engineOptions {
	o := defaultEngineOptions()
	for _, opt := range opts {
		opt(o)
	}
	if o.heartbeatInterval >= o.electionTimeoutMin {
		panic("raft: heartbeatInterval must be strictly less than the minimum election timeout")
	}
	return o
}
