package rango

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with rango-specific context.
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
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithBatch adds a batch field to the logger.
func (l *Logger) WithBatch(batch int) *Logger {
	return &Logger{
		Logger: l.Logger.With("batch", batch),
	}
}

// WithRadius adds a radius field to the logger.
func (l *Logger) WithRadius(radius float32) *Logger {
	return &Logger{
		Logger: l.Logger.With("radius", radius),
	}
}

// WithK adds a k (neighbor capacity) field to the logger.
func (l *Logger) WithK(k int) *Logger {
	return &Logger{
		Logger: l.Logger.With("k", k),
	}
}

// WithDevice adds a device name field to the logger.
func (l *Logger) WithDevice(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("device", name),
	}
}

// LogContextCreate logs device context creation.
func (l *Logger) LogContextCreate(ctx context.Context, name string, lanes int, elapsed time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "context create failed",
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "context created",
			"device", name,
			"lanes", lanes,
			"elapsed", elapsed,
		)
	}
}

// LogGeometryBuild logs the acceleration-structure build over all batches.
func (l *Logger) LogGeometryBuild(ctx context.Context, batches, numPrims int, elapsed time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "geometry build failed",
			"batches", batches,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "geometry built",
			"batches", batches,
			"prims", numPrims,
			"elapsed", elapsed,
		)
	}
}

// LogCompaction logs one batch's structure buffer outcome.
func (l *Logger) LogCompaction(ctx context.Context, batch int, buildBytes, finalBytes int64, compacted bool) {
	l.DebugContext(ctx, "structure build completed",
		"batch", batch,
		"build_bytes", buildBytes,
		"final_bytes", finalBytes,
		"compacted", compacted,
	)
}

// LogPipelineLink logs pipeline assembly.
func (l *Logger) LogPipelineLink(ctx context.Context, stackCapacity int, elapsed time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "pipeline link failed",
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "pipeline linked",
			"stack_capacity", stackCapacity,
			"elapsed", elapsed,
		)
	}
}

// LogBindingTable logs binding table assembly.
func (l *Logger) LogBindingTable(ctx context.Context, elapsed time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "binding table build failed",
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "binding table built",
			"elapsed", elapsed,
		)
	}
}

// LogDispatch logs one batch dispatch.
func (l *Logger) LogDispatch(ctx context.Context, batch, width int, elapsed time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "dispatch failed",
			"batch", batch,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "dispatch completed",
			"batch", batch,
			"width", width,
			"elapsed", elapsed,
		)
	}
}

// LogReadback logs the device-to-host result copy.
func (l *Logger) LogReadback(ctx context.Context, bytes int64, elapsed time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "readback failed",
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "readback completed",
			"bytes", bytes,
			"elapsed", elapsed,
		)
	}
}

// LogValidate logs a validation pass over one batch's results.
func (l *Logger) LogValidate(ctx context.Context, totalNeighbors, wrongNeighbors int64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "sanity check failed",
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "sanity check done",
			"neighbors", totalNeighbors,
			"wrong", wrongNeighbors,
		)
	}
}

// LogSnapshot logs a snapshot save or load.
func (l *Logger) LogSnapshot(ctx context.Context, op, manifest string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "snapshot "+op+" failed",
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "snapshot "+op+" completed",
			"manifest", manifest,
		)
	}
}
