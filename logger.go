package feather

import (
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with feather-specific helpers.
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

// LogOpen logs a store open.
func (l *Logger) LogOpen(path string, records int, modalities int, err error) {
	if err != nil {
		l.Error("open failed",
			"path", path,
			"error", err,
		)
	} else {
		l.Info("store opened",
			"path", path,
			"records", records,
			"modalities", modalities,
		)
	}
}

// LogAdd logs an add operation.
func (l *Logger) LogAdd(id uint64, modality string, dimension int, err error) {
	if err != nil {
		l.Error("add failed",
			"id", id,
			"modality", modality,
			"dimension", dimension,
			"error", err,
		)
	} else {
		l.Debug("add completed",
			"id", id,
			"modality", modality,
			"dimension", dimension,
		)
	}
}

// LogSearch logs a search operation.
func (l *Logger) LogSearch(modality string, k, resultsFound int, err error) {
	if err != nil {
		l.Error("search failed",
			"modality", modality,
			"k", k,
			"error", err,
		)
	} else {
		l.Debug("search completed",
			"modality", modality,
			"k", k,
			"results", resultsFound,
		)
	}
}

// LogLink logs an edge write.
func (l *Logger) LogLink(from, to uint64, relType string, created bool) {
	l.Debug("link",
		"from", from,
		"to", to,
		"rel_type", relType,
		"created", created,
	)
}

// LogContextChain logs a context chain query.
func (l *Logger) LogContextChain(modality string, k, hops, nodes, edges int) {
	l.Debug("context chain completed",
		"modality", modality,
		"k", k,
		"hops", hops,
		"nodes", nodes,
		"edges", edges,
	)
}

// LogSave logs a save operation.
func (l *Logger) LogSave(path string, records int, err error) {
	if err != nil {
		l.Error("save failed",
			"path", path,
			"error", err,
		)
	} else {
		l.Info("store saved",
			"path", path,
			"records", records,
		)
	}
}

// LogBackup logs a backup or restore operation.
func (l *Logger) LogBackup(op, name string, err error) {
	if err != nil {
		l.Error("backup operation failed",
			"op", op,
			"name", name,
			"error", err,
		)
	} else {
		l.Info("backup operation completed",
			"op", op,
			"name", name,
		)
	}
}
