// Package logging initializes the process-wide zap logger used by every
// other package in the hub. Verbosity is controlled by a simple counter
// (the CLI's repeatable -v flag) rather than a boolean; any count of one
// or more selects debug, zero selects info.
package logging

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu  sync.RWMutex
	log *zap.SugaredLogger
)

// Init builds the process logger. verbosity 0 is info-and-above,
// verbosity 1+ enables debug.
func Init(verbosity int) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	if verbosity > 0 {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	l, err := cfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: failed to build zap logger: %v\n", err)
		l = zap.NewNop()
	}

	mu.Lock()
	log = l.Sugar()
	mu.Unlock()
}

// L returns the process logger, falling back to a no-op logger if Init
// hasn't run yet (useful in tests that don't care about log output).
func L() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	if log == nil {
		return zap.NewNop().Sugar()
	}
	return log
}

// Sync flushes any buffered log entries. Call before process exit.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	if log != nil {
		_ = log.Sync()
	}
}
