// Package logger wraps log/slog with the attribute helpers and constructor
// shape used across this module's components.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// New builds a *slog.Logger writing JSON records to w (os.Stdout if w is
// nil) at the given level. Level is parsed case-insensitively; an unknown
// value falls back to slog.LevelInfo.
func New(level string, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: parseLevel(level)}))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// NodeID returns the slog attribute identifying the node a log line
// originates from.
func NodeID(id string) slog.Attr {
	return slog.String("node_id", id)
}

// ThreadID returns the slog attribute identifying the conversation thread a
// log line concerns.
func ThreadID(id string) slog.Attr {
	return slog.String("thread_id", id)
}

// Peer returns the slog attribute identifying the remote peer a log line
// concerns.
func Peer(id string) slog.Attr {
	return slog.String("peer", id)
}

// Error returns the slog attribute wrapping err under the conventional
// "error" key. Returns a no-op attribute when err is nil.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String("error", err.Error())
}
