package logger

import (
	"context"
	"io"
	"log/slog"
)

// ColorTextHandler wraps slog.TextHandler and prefixes each message with a
// colorized level tag for interactive terminals. Records carrying a "stream"
// attribute are captured drift engine output, not daemon logging, and get an
// extra engine marker so the two are distinguishable at a glance.
type ColorTextHandler struct {
	*slog.TextHandler
	showTime bool
}

// NewColorTextHandler creates a new ColorTextHandler
func NewColorTextHandler(w io.Writer, opts *slog.HandlerOptions, showTime bool) *ColorTextHandler {
	return &ColorTextHandler{
		TextHandler: slog.NewTextHandler(w, opts),
		showTime:    showTime,
	}
}

const (
	colorReset = "\033[0m"
	colorDim   = "\033[2m"
)

func levelColor(l slog.Level) string {
	switch l {
	case slog.LevelDebug:
		return "\033[36m" // cyan
	case slog.LevelInfo:
		return "\033[32m" // green
	case slog.LevelWarn:
		return "\033[33m" // yellow
	case slog.LevelError:
		return "\033[31m" // red
	default:
		return colorReset
	}
}

// Handle implements slog.Handler
func (h *ColorTextHandler) Handle(ctx context.Context, r slog.Record) error {
	tag := levelColor(r.Level) + r.Level.String() + colorReset
	if fromEngine(r) {
		tag += " " + colorDim + "engine" + colorReset
	}
	r.Message = tag + "  " + r.Message
	return h.TextHandler.Handle(ctx, r)
}

// fromEngine reports whether the record is a captured backend output line.
// The supervisor's capture path attaches the originating stream ("stdout" or
// "stderr") to everything it logs.
func fromEngine(r slog.Record) bool {
	found := false
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "stream" {
			found = true
			return false
		}
		return true
	})
	return found
}
