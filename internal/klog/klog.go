// Package klog builds the kernel's structured loggers on top of a hal.Logger
// line sink.
package klog

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"sync"

	"ember/hal"
)

// ParseLevel maps a config string onto a slog level. Unknown strings map to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New returns a text logger that emits one record per sink line.
func New(sink hal.Logger, level string) *slog.Logger {
	if sink == nil {
		return Discard()
	}
	handler := slog.NewTextHandler(&lineWriter{sink: sink}, &slog.HandlerOptions{
		Level: ParseLevel(level),
	})
	return slog.New(handler)
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Or returns l, or a discarding logger when l is nil.
func Or(l *slog.Logger) *slog.Logger {
	if l == nil {
		return Discard()
	}
	return l
}

// lineWriter adapts a hal.Logger to io.Writer. Partial lines are held until
// their newline arrives.
type lineWriter struct {
	mu   sync.Mutex
	sink hal.Logger
	buf  []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.sink.WriteLineBytes(w.buf[:i])
		w.buf = w.buf[i+1:]
	}
	if len(w.buf) == 0 {
		w.buf = nil
	}
	return len(p), nil
}
