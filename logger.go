package framealloc

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with allocator-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithFrameSize adds a frame_size field to the logger.
func (l *Logger) WithFrameSize(size int) *Logger {
	return &Logger{
		Logger: l.Logger.With("frame_size", size),
	}
}

// LogCreate logs allocator construction.
// Use WithFrameSize first to attach the frame size.
func (l *Logger) LogCreate(ctx context.Context, frames int) {
	l.DebugContext(ctx, "creating frame allocator",
		"frames", frames,
	)
}

// LogReserveFailure logs a region the memory budget refused.
func (l *Logger) LogReserveFailure(ctx context.Context, regionBytes int, err error) {
	l.WarnContext(ctx, "memory budget refused region",
		"region_bytes", regionBytes,
		"error", err,
	)
}

// LogMapFailure logs a failure to obtain the backing region.
func (l *Logger) LogMapFailure(ctx context.Context, regionBytes int, err error) {
	l.ErrorContext(ctx, "could not allocate region pages",
		"region_bytes", regionBytes,
		"error", err,
	)
}

// LogClose logs allocator teardown.
func (l *Logger) LogClose(ctx context.Context, stats Stats, err error) {
	if err != nil {
		l.ErrorContext(ctx, "frame allocator close failed",
			"region_bytes", stats.RegionBytes,
			"error", err,
		)
		return
	}
	if stats.Outstanding > 0 {
		l.WarnContext(ctx, "frame allocator closed with outstanding frames",
			"outstanding", stats.Outstanding,
			"allocs", stats.Allocs,
			"frees", stats.Frees,
		)
		return
	}
	l.DebugContext(ctx, "frame allocator closed",
		"allocs", stats.Allocs,
		"frees", stats.Frees,
		"cas_retries", stats.Retries,
	)
}

// LogExhausted logs an allocation that found the free list empty.
func (l *Logger) LogExhausted(ctx context.Context, frames int) {
	l.DebugContext(ctx, "no more space in allocator",
		"frames", frames,
	)
}
