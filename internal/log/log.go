// Package log provides the shared logging setup for evidra.
//
// Loggers are injected, never global: every component receives its logger
// through its constructor and narrows it with logger.With("component", ...).
// The ledger, index and backend packages all log through handles created here.
//
// Usage:
//
//	logger := log.New(log.Config{Level: slog.LevelDebug})
//	led, err := ledger.Open(path, logger.With("component", "ledger"))
//
// In tests, use NewNop or NewWithWriter with a bytes.Buffer to capture output.
package log

import (
	"io"
	"log/slog"
	"os"
)

// Logger aliases *slog.Logger so components depend on the standard type
// while taking the dependency from this package.
type Logger = *slog.Logger

// Config holds logger construction options.
type Config struct {
	// Level is the minimum level emitted. Default: slog.LevelInfo.
	Level slog.Level

	// JSON switches output from text to JSON records.
	JSON bool

	// AddSource annotates records with the emitting file and line.
	AddSource bool
}

// New creates a logger writing to os.Stderr.
func New(cfg Config) Logger {
	return NewWithWriter(os.Stderr, cfg)
}

// NewWithWriter creates a logger writing to w. Used directly by tests that
// need to assert on emitted records.
func NewWithWriter(w io.Writer, cfg Config) Logger {
	opts := &slog.HandlerOptions{
		Level:     cfg.Level,
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// NewNop returns a logger that discards everything. Test-only; production
// callers always construct a real logger via New.
func NewNop() Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
