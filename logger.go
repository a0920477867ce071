package bypass

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger wraps slog.Logger with field helpers for modules and swaps.
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

// NewJSONLogger creates a Logger that outputs JSON-formatted logs to w.
func NewJSONLogger(w io.Writer, level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// NewTextLogger creates a Logger that outputs human-readable text logs to w.
func NewTextLogger(w io.Writer, level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return NewLogger(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.Level(1000),
	}))
}

// LoggerFromConfig builds the logger described by cfg, writing to stderr.
func LoggerFromConfig(cfg Config) *Logger {
	level := ParseLevel(cfg.LogLevel)
	if strings.EqualFold(cfg.LogFormat, "json") {
		return NewJSONLogger(os.Stderr, level)
	}
	return NewTextLogger(os.Stderr, level)
}

// ParseLevel maps debug, info, warn and error to slog levels; anything else is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithModule tags records with a module's identity.
func (l *Logger) WithModule(m *Module) *Logger {
	return &Logger{
		Logger: l.Logger.With("module", m.Path, "version", m.Version, "instance", m.ID.String()),
	}
}

// LogLoad logs a module load attempt.
func (l *Logger) LogLoad(path, version string, err error) {
	if err != nil {
		l.Error("module load failed",
			"path", path,
			"version", version,
			"error", err,
		)
	} else {
		l.Info("module loaded",
			"path", path,
			"version", version,
		)
	}
}

// LogSwap logs the outcome of a module swap.
func (l *Logger) LogSwap(from, to string, err error) {
	if err != nil {
		l.Error("module swap aborted",
			"from", from,
			"to", to,
			"error", err,
		)
	} else {
		l.Info("module swapped",
			"from", from,
			"to", to,
		)
	}
}

// LogCheck logs one update check.
func (l *Logger) LogCheck(current string, u Update, found bool, err error) {
	switch {
	case err != nil:
		l.Warn("update check failed",
			"current", current,
			"error", err,
		)
	case found:
		l.Info("update found",
			"current", current,
			"version", u.Version,
			"path", u.Path,
		)
	default:
		l.Debug("no update",
			"current", current,
		)
	}
}
