package util

import (
	"bytes"
	"context"
	"log"
	"log/slog"
)

// ComponentLogger returns the global logger tagged with a component name.
func ComponentLogger(component string) *slog.Logger {
	return GetLogger().With("component", component)
}

// SetupGlobalLogger replaces the standard log package logger
func SetupGlobalLogger() {
	log.SetFlags(0)
	log.SetOutput(&logWriter{logger: GetLogger(), level: slog.LevelInfo})
}

// NewStdLogger returns a *log.Logger that forwards into slog at the given
// level. net/http only accepts a *log.Logger for ErrorLog.
func NewStdLogger(component string, level slog.Level) *log.Logger {
	return log.New(&logWriter{logger: ComponentLogger(component), level: level}, "", 0)
}

type logWriter struct {
	logger *slog.Logger
	level  slog.Level
}

func (w *logWriter) Write(p []byte) (n int, err error) {
	w.logger.Log(context.Background(), w.level, string(bytes.TrimRight(p, "\n")))
	return len(p), nil
}
