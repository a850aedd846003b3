package agent

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogBufferRecent(t *testing.T) {
	buf := NewLogBuffer()
	logger := slog.New(buf.WrapHandler(slog.NewTextHandler(io.Discard, nil)))

	logger.Info("first", slog.String("k", "v"))
	logger.Warn("second")

	lines := buf.Recent(0)
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "INFO first k=v")
	assert.Contains(t, lines[1], "WARN second")
}

func TestLogBufferLimit(t *testing.T) {
	buf := NewLogBuffer()
	logger := slog.New(buf.WrapHandler(slog.NewTextHandler(io.Discard, nil)))

	for i := 0; i < 10; i++ {
		logger.Info(fmt.Sprintf("line %d", i))
	}

	lines := buf.Recent(3)
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "line 7")
	assert.Contains(t, lines[2], "line 9")
}

func TestLogBufferWraps(t *testing.T) {
	buf := NewLogBuffer()
	logger := slog.New(buf.WrapHandler(slog.NewTextHandler(io.Discard, nil)))

	for i := 0; i < logBufferSize+5; i++ {
		logger.Info(fmt.Sprintf("line %d", i))
	}

	lines := buf.Recent(0)
	require.Len(t, lines, logBufferSize)
	assert.Contains(t, lines[0], "line 5")
	assert.Contains(t, lines[len(lines)-1], fmt.Sprintf("line %d", logBufferSize+4))
}

func TestLogBufferRespectsLevel(t *testing.T) {
	buf := NewLogBuffer()
	handler := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo})
	logger := slog.New(buf.WrapHandler(handler))

	logger.Debug("hidden")
	logger.Info("visible")

	lines := buf.Recent(0)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "visible")
}

func TestBufferHandlerWithAttrs(t *testing.T) {
	buf := NewLogBuffer()
	base := buf.WrapHandler(slog.NewTextHandler(io.Discard, nil))
	derived := base.WithAttrs([]slog.Attr{slog.String("component", "test")})

	require.NoError(t, derived.Handle(context.Background(), slog.Record{Message: "derived", Level: slog.LevelInfo}))
	lines := buf.Recent(0)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "derived")
}
