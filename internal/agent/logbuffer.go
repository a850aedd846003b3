package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// logBufferSize is how many recent records the agent retains for the
// get_logs control command.
const logBufferSize = 500

// LogBuffer retains recent log records in memory so an operator can pull
// them over the control channel without shell access to the worker host.
type LogBuffer struct {
	mu      sync.Mutex
	entries []logEntry
	next    int
	full    bool
}

type logEntry struct {
	Time    time.Time
	Level   string
	Message string
}

// NewLogBuffer creates a LogBuffer.
func NewLogBuffer() *LogBuffer {
	return &LogBuffer{entries: make([]logEntry, logBufferSize)}
}

// add records one entry in the ring.
func (b *LogBuffer) add(e logEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[b.next] = e
	b.next = (b.next + 1) % len(b.entries)
	if b.next == 0 {
		b.full = true
	}
}

// Recent returns up to limit formatted records, oldest first.
func (b *LogBuffer) Recent(limit int) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var ordered []logEntry
	if b.full {
		ordered = append(ordered, b.entries[b.next:]...)
		ordered = append(ordered, b.entries[:b.next]...)
	} else {
		ordered = b.entries[:b.next]
	}
	if limit > 0 && len(ordered) > limit {
		ordered = ordered[len(ordered)-limit:]
	}

	out := make([]string, 0, len(ordered))
	for _, e := range ordered {
		out = append(out, fmt.Sprintf("%s %s %s", e.Time.Format(time.RFC3339), e.Level, e.Message))
	}
	return out
}

// WrapHandler returns a slog.Handler that records into the buffer and then
// delegates to wrapped.
func (b *LogBuffer) WrapHandler(wrapped slog.Handler) slog.Handler {
	return &bufferHandler{buffer: b, wrapped: wrapped}
}

type bufferHandler struct {
	buffer  *LogBuffer
	wrapped slog.Handler
}

func (h *bufferHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.wrapped.Enabled(ctx, level)
}

func (h *bufferHandler) Handle(ctx context.Context, r slog.Record) error {
	msg := r.Message
	r.Attrs(func(a slog.Attr) bool {
		msg += " " + a.Key + "=" + a.Value.String()
		return true
	})
	h.buffer.add(logEntry{Time: r.Time, Level: r.Level.String(), Message: msg})
	return h.wrapped.Handle(ctx, r)
}

func (h *bufferHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &bufferHandler{buffer: h.buffer, wrapped: h.wrapped.WithAttrs(attrs)}
}

func (h *bufferHandler) WithGroup(name string) slog.Handler {
	return &bufferHandler{buffer: h.buffer, wrapped: h.wrapped.WithGroup(name)}
}
