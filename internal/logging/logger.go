// Package logging provides the ambient structured logger shared by the CLI
// and the runtime package: a process-wide *zap.Logger, no-op until an embedder
// opts in, grounded on wippyai-wasm-runtime's engine.Logger() pattern.
package logging

import (
	"sync"

	"go.uber.org/zap"
)

var (
	logger     *zap.Logger
	loggerOnce sync.Once
)

// Logger returns the process-wide logger, defaulting to a no-op logger the
// first time it's called.
func Logger() *zap.Logger {
	loggerOnce.Do(func() {
		if logger == nil {
			logger = zap.NewNop()
		}
	})
	return logger
}

// SetLogger replaces the process-wide logger, e.g. with zap.NewProduction()
// or a CLI's verbose development logger. Call before first use of Logger;
// once loggerOnce has fired, only direct calls to SetLogger are observed
// since Logger itself no longer assigns a default.
func SetLogger(l *zap.Logger) {
	loggerOnce.Do(func() {})
	logger = l
}
