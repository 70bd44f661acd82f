package logging

import (
	"io"
	"log/slog"
)

// ForPass returns a logger scoped to a single build run and pass, the
// shape every C5-C9 component logs through: build_run_id and pass_name are
// attached once so every subsequent log line carries them. A nil l yields
// a logger that discards every line.
func ForPass(l *Logger, buildRunID, passName string) *Logger {
	if l == nil {
		return &Logger{slog: slog.New(slog.NewTextHandler(io.Discard, nil))}
	}
	return l.With("build_run_id", buildRunID, "pass", passName)
}
