// Package obslog wraps zap for the engine's ambient logging concerns:
// execgraph's logger.Error/logger.Debug obligations (spec.md §4.3) and
// engine lifecycle tracing (start, close, cache stats on shutdown).
package obslog

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the sugared zap logger, aliased so callers don't import zap
// directly just to hold a reference.
type Logger = zap.SugaredLogger

// Level mirrors config.yaml's log_level field.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// New builds a production-profile zap logger at the given level, writing
// human-readable console output (suited to a CLI) rather than JSON.
func New(level Level) (*Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	cfg.EncoderConfig.TimeKey = "ts"

	var zl zapcore.Level
	if err := zl.UnmarshalText([]byte(level)); err != nil {
		zl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(zl)

	base, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return base.Sugar(), nil
}

// Nop returns a logger that discards everything, for tests and for any
// caller that did not configure logging explicitly.
func Nop() *Logger {
	return zap.NewNop().Sugar()
}

// GraphLogger adapts a *Logger to execgraph.Logger's two-method contract.
type GraphLogger struct {
	L *Logger
}

func (g GraphLogger) Error(msg string) { g.L.Error(msg) }
func (g GraphLogger) Debug(msg string) { g.L.Debug(msg) }
