package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// LogLevel represents the available logging levels
type LogLevel string

const (
	LogLevelError LogLevel = "error"
	LogLevelWarn  LogLevel = "warn"
	LogLevelInfo  LogLevel = "info"
	LogLevelDebug LogLevel = "debug"
)

// parseLogLevel converts a string to a LogLevel
func parseLogLevel(level string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "error":
		return LogLevelError, nil
	case "warn", "warning":
		return LogLevelWarn, nil
	case "info":
		return LogLevelInfo, nil
	case "debug":
		return LogLevelDebug, nil
	default:
		return "", fmt.Errorf("invalid log level: %s (must be error, warn, info, or debug)", level)
	}
}

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case LogLevelError:
		return slog.LevelError
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelDebug:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// setupLogger creates a text slog logger writing to w.
func setupLogger(level LogLevel, w io.Writer) *slog.Logger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level.slogLevel(),
	})
	return slog.New(handler)
}
