// Package logger configures the hub's structured logging: a global level
// filter over one or more writers, plus per-call-session child loggers
// tagging every line with the remote URI and leg. Adapted from the
// teacher's multi-output slog.Handler (sebacius-switchboard's
// internal/logger), trimmed of its TUI/websocket-console concerns since
// this hub has no interactive UI surface.
package logger

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
)

var levelVar slog.LevelVar

func init() {
	levelVar.Set(slog.LevelInfo)
}

// SetLevel sets the global log level from a string (debug/info/warn/error).
func SetLevel(levelStr string) {
	levelVar.Set(ParseLevel(levelStr))
}

// ParseLevel parses a string to an slog.Level, defaulting to Info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// multiHandler fans every record out to several outputs, all sharing the
// single global level filter.
type multiHandler struct {
	outs []io.Writer
	mu   sync.Mutex
	base slog.Handler
}

// InitLogger initializes the default slog logger to write to every output,
// formatted as text with source-free, timestamped lines.
func InitLogger(outputs ...io.Writer) {
	h := &multiHandler{outs: outputs}
	h.base = slog.NewTextHandler(io.MultiWriter(outputs...), &slog.HandlerOptions{
		Level: &levelVar,
	})
	slog.SetDefault(slog.New(h))
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= levelVar.Level()
}

func (h *multiHandler) Handle(ctx context.Context, record slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.base.Handle(ctx, record)
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &multiHandler{outs: h.outs, base: h.base.WithAttrs(attrs)}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	return &multiHandler{outs: h.outs, base: h.base.WithGroup(name)}
}

// NewSessionLogger returns a child logger tagged with the leg and remote
// URI for the duration of one call, mirroring the original Python hub's
// session_logger.session_start(remote_uri) (original_source/.../sw_hub.py).
func NewSessionLogger(leg int, remoteURI string) *slog.Logger {
	return slog.Default().With("leg", leg, "remote_uri", remoteURI)
}

// Convenience wrappers over the default logger, matching the teacher's
// logger.Debug/Info/Warn/Error free functions.
func Debug(msg string, args ...any) { slog.Debug(msg, args...) }
func Info(msg string, args ...any)  { slog.Info(msg, args...) }
func Warn(msg string, args ...any)  { slog.Warn(msg, args...) }
func Error(msg string, args ...any) { slog.Error(msg, args...) }
