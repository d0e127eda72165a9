// Package logging provides the module's ambient structured logger, a thin
// wrapper around log/slog so the engine can thread a *slog.Logger through
// context.Context without widening every function signature.
package logging

import (
	"context"
	"log/slog"
	"os"
)

type ctxKey struct{}

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

// DefaultLogger returns the module's package-level logger.
func DefaultLogger() *slog.Logger { return defaultLogger }

// SetDefaultLevel sets the logging level for the default logger.
func SetDefaultLevel(l slog.Level) { defaultLevel.Set(l) }

// DisabledLogger returns a logger that discards everything.
func DisabledLogger() *slog.Logger { return disabledLogger }

// WithLogger returns a context carrying logger for later retrieval with
// FromContext.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext returns the logger stored in ctx by WithLogger, or the
// default logger if ctx carries none.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return defaultLogger
}
