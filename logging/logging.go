// Package logging provides the repository engine's shared slog.Logger
// handling: every package that needs to log a non-fatal, best-effort
// failure (cleanup after a commit, cache eviction, extension subtree
// teardown) takes a *slog.Logger and falls back to this package's default
// if the caller passes nil, rather than defining its own ad hoc fallback.
package logging

import (
	"context"
	"log/slog"
	"os"
)

var (
	defaultLevel   slog.LevelVar
	defaultHandler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: &defaultLevel,
	})
	defaultLogger  = slog.New(defaultHandler)
	disabledLogger = slog.New(&disabledHandler{})
)

// disabledHandler is a slog.Handler that is disabled for all levels.
type disabledHandler struct{}

func (d *disabledHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (d *disabledHandler) Handle(context.Context, slog.Record) error { return nil }
func (d *disabledHandler) WithAttrs([]slog.Attr) slog.Handler        { return d }
func (d *disabledHandler) WithGroup(string) slog.Handler             { return d }

// DefaultLogger returns the module's default logger (text handler on
// stderr).
func DefaultLogger() *slog.Logger {
	return defaultLogger
}

// SetDefaultLevel sets the logging level for the default logger.
func SetDefaultLevel(l slog.Level) {
	defaultLevel.Set(l)
}

// DisabledLogger returns a logger disabled for all levels, for callers that
// want to opt out of logging entirely without passing around a nil check.
func DisabledLogger() *slog.Logger {
	return disabledLogger
}

// OrDefault returns l, or DefaultLogger() if l is nil.
func OrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return defaultLogger
	}
	return l
}
