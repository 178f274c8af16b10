// Package alog wraps log/slog with the project's two renderings: a terse,
// human-friendly console handler for interactive use and a JSON handler for
// production daemons where logs are scraped.
package alog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger wraps slog.Logger with a couple of CLI conveniences.
type Logger struct {
	*slog.Logger
}

// consoleHandler formats logs as "<level emoji> message key=value, key=value".
type consoleHandler struct {
	level slog.Level
	out   io.Writer
	attrs []slog.Attr
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *consoleHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder

	switch r.Level {
	case slog.LevelDebug:
		b.WriteString("🔍 ")
	case slog.LevelInfo:
		b.WriteString("ℹ️  ")
	case slog.LevelWarn:
		b.WriteString("⚠️  ")
	case slog.LevelError:
		b.WriteString("❌ ")
	}

	b.WriteString(r.Message)

	writeAttr := func(a slog.Attr, first *bool) {
		if *first {
			b.WriteString(" ")
			*first = false
		} else {
			b.WriteString(", ")
		}
		b.WriteString(a.Key)
		b.WriteString("=")
		b.WriteString(a.Value.String())
	}

	first := true
	for _, a := range h.attrs {
		writeAttr(a, &first)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(a, &first)
		return true
	})

	b.WriteString("\n")
	_, err := h.out.Write([]byte(b.String()))
	return err
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &consoleHandler{level: h.level, out: h.out, attrs: merged}
}

func (h *consoleHandler) WithGroup(_ string) slog.Handler {
	return h
}

// NewConsole builds a Logger using the terse console handler, appropriate
// for interactive CLI use.
func NewConsole(level slog.Level, out io.Writer) *Logger {
	if out == nil {
		out = os.Stdout
	}
	return &Logger{Logger: slog.New(&consoleHandler{level: level, out: out})}
}

// NewJSON builds a Logger emitting structured JSON lines, appropriate for a
// long-running daemon whose logs are scraped.
func NewJSON(level slog.Level, out io.Writer) *Logger {
	if out == nil {
		out = os.Stdout
	}
	h := slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
	return &Logger{Logger: slog.New(h)}
}

// ParseLevel maps the LOG_LEVEL values the daemon accepts onto slog.Level.
// Unrecognized values fall back to Info.
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

// NewDefault creates a console logger at INFO level.
func NewDefault() *Logger {
	return NewConsole(slog.LevelInfo, os.Stdout)
}

// NewQuiet creates a console logger at WARN level.
func NewQuiet() *Logger {
	return NewConsole(slog.LevelWarn, os.Stdout)
}

// NewVerbose creates a console logger at DEBUG level.
func NewVerbose() *Logger {
	return NewConsole(slog.LevelDebug, os.Stdout)
}

// Fatal logs at ERROR level and exits with code 1.
func (l *Logger) Fatal(msg string, args ...any) {
	l.Error(msg, args...)
	os.Exit(1)
}

// Fatalf formats and logs at ERROR level, then exits with code 1.
func (l *Logger) Fatalf(format string, args ...any) {
	l.Error(fmt.Sprintf(format, args...))
	os.Exit(1)
}
