package pmem2

import (
	"io"
	"log/slog"
	"os"
	"sync/atomic"
)

// Logger wraps slog.Logger with pmem2-specific helpers.
// Field names are consistent across helpers: addr, length, granularity.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses a warn-level text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelWarn,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return NewLogger(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	}))
}

var defaultLog atomic.Pointer[Logger]

// SetDefaultLogger replaces the logger used when no WithLogger option is
// given. nil restores the warn-level stderr logger.
func SetDefaultLogger(l *Logger) {
	if l == nil {
		l = NewLogger(nil)
	}
	defaultLog.Store(l)
}

func defaultLogger() *Logger {
	if l := defaultLog.Load(); l != nil {
		return l
	}
	l := NewLogger(nil)
	if defaultLog.CompareAndSwap(nil, l) {
		return l
	}
	return defaultLog.Load()
}

// WithAddress adds an addr field to the logger.
func (l *Logger) WithAddress(addr uintptr) *Logger {
	return &Logger{
		Logger: l.Logger.With("addr", addr),
	}
}

// LogMap logs a map operation.
func (l *Logger) LogMap(addr uintptr, length uint64, g Granularity, err error) {
	if err != nil {
		l.Error("map failed",
			"length", length,
			"code", CodeOf(err),
			"error", err,
		)
		return
	}
	l.Debug("map completed",
		"addr", addr,
		"length", length,
		"granularity", g.String(),
	)
}

// LogUnmap logs a mapping deletion.
func (l *Logger) LogUnmap(addr uintptr, length uint64, err error) {
	if err != nil {
		l.Error("unmap failed",
			"addr", addr,
			"length", length,
			"error", err,
		)
		return
	}
	l.Debug("unmap completed",
		"addr", addr,
		"length", length,
	)
}

// LogReservation logs creation or deletion of a VM reservation.
func (l *Logger) LogReservation(op string, addr uintptr, size uint64, err error) {
	if err != nil {
		l.Error("vm reservation "+op+" failed",
			"addr", addr,
			"size", size,
			"error", err,
		)
		return
	}
	l.Debug("vm reservation "+op,
		"addr", addr,
		"size", size,
	)
}

// LogGranularityOverride logs an environment granularity override.
func (l *Logger) LogGranularityOverride(g Granularity) {
	l.Info("store granularity overridden by environment",
		"variable", ForceGranularityEnv,
		"granularity", g.String(),
	)
}
