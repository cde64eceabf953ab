package raft

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newLogger builds a SugaredLogger at the given level: development-friendly
// console output below Warn, JSON above it would be overkill for a single
// binary, so this keeps one encoder throughout.
func newLogger(level zapcore.Level) *zap.SugaredLogger {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	logger, err := cfg.Build()
	if err != nil {
		// Fall back to a no-op logger rather than failing engine
		// construction over a logging misconfiguration.
		logger = zap.NewNop()
	}
	return logger.Sugar()
}

// logFields prefixes the engine's identity and role onto a set of
// structured fields so every log line can be attributed to a replica
// without repeating the same two calls at every call site.
func (e *Engine) logFields(extra ...any) []any {
	fields := []any{"replica_id", string(e.id), "role", e.role().String(), "term", uint64(e.ctx.CurrentTerm())}
	return append(fields, extra...)
}
