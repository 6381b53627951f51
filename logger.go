package hwc

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// nopHandler drops every record. Enabled reports false, so disabled calls
// on the frame path return before any attribute is formatted.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

var (
	silent = slog.New(nopHandler{})

	// installed is nil until SetLogger runs.
	installed atomic.Pointer[slog.Logger]
)

// SetLogger installs l for hwc and every package below it. Until it is
// called nothing is logged; a nil l goes back to that. It may be called
// while displays are composing.
//
// Levels:
//   - [slog.LevelDebug]: frame plans, pipe and rotator bookkeeping, fences
//   - [slog.LevelInfo]: connects, hotplug, overlay transitions
//   - [slog.LevelWarn]: GPU fallbacks, sync timeouts, display resets
//
// The hwcsim tool installs a text handler for --verbose:
//
//	hwc.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = silent
	}
	installed.Store(l)
}

// Logger returns the logger installed by SetLogger.
func Logger() *slog.Logger {
	if l := installed.Load(); l != nil {
		return l
	}
	return silent
}

// SessionLogger returns Logger tagged with a display and the composition
// session driving it.
func SessionLogger(id DisplayID, session string) *slog.Logger {
	return Logger().With("display", id.String(), "session", session)
}
