// Package logger owns construction of the process-wide zap logger.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Logger is the global logger instance. Components receive it (or a
	// Named child) by constructor injection; nothing else in the codebase
	// reads this global directly.
	Logger *zap.SugaredLogger
)

func init() {
	// Safe no-op logger until Initialize runs, so package-level use before
	// main() cannot panic.
	Logger = zap.NewNop().Sugar()
}

// Initialize sets up the global logger.
//
// jsonOutput selects machine-readable production output; otherwise a
// human-readable console encoder is used. debug lowers the level to Debug.
func Initialize(jsonOutput, debug bool) error {
	level := zap.InfoLevel
	if debug {
		level = zap.DebugLevel
	}

	var cfg zap.Config
	if jsonOutput {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(level)

	zapLogger, err := cfg.Build()
	if err != nil {
		return err
	}

	Logger = zapLogger.Sugar()
	return nil
}

// NewTest returns a logger suitable for tests: development encoding, no
// globals touched.
func NewTest() *zap.SugaredLogger {
	l, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop().Sugar()
	}
	return l.Sugar()
}
