package agent

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vlogmedia/vlog/internal/bus"
	"github.com/vlogmedia/vlog/internal/config"
)

// flushRunner is a fakeRunner that also supports flush_remaining.
type flushRunner struct {
	fakeRunner
	flushed atomic.Int32
}

func (r *flushRunner) FlushRemaining() {
	r.flushed.Add(1)
}

func newCommandAgent(runner JobRunner) *Agent {
	logs := NewLogBuffer()
	logger := slog.New(logs.WrapHandler(slog.NewTextHandler(io.Discard, nil)))
	return New(config.WorkerConfig{}, nil, nil, runner, logs, logger)
}

func TestHandleCommandGetMetrics(t *testing.T) {
	a := newCommandAgent(&fakeRunner{})

	resp := a.handleCommand(context.Background(), bus.CommandEvent{Command: bus.CommandGetMetrics})
	require.True(t, resp.Success)
	assert.Equal(t, bus.EventTypeMetricsResponse, resp.Type)
	assert.Contains(t, resp.Result, "hostname")
	assert.Contains(t, resp.Result, "os")
	assert.Contains(t, resp.Result, "agent_uptime_s")
}

func TestHandleCommandGetLogs(t *testing.T) {
	a := newCommandAgent(&fakeRunner{})
	for i := 0; i < 5; i++ {
		a.logger.Info(fmt.Sprintf("event %d", i))
	}

	resp := a.handleCommand(context.Background(), bus.CommandEvent{
		Command: bus.CommandGetLogs,
		Args:    map[string]string{"limit": "2"},
	})
	require.True(t, resp.Success)
	assert.Equal(t, bus.EventTypeLogsResponse, resp.Type)
	lines, ok := resp.Result["lines"].([]string)
	require.True(t, ok)
	require.Len(t, lines, 2)
	// The reply holds the newest lines from before the command arrived,
	// not the handler's own log line.
	assert.Contains(t, lines[0], "event 3")
	assert.Contains(t, lines[1], "event 4")
}

func TestHandleCommandStopDrains(t *testing.T) {
	a := newCommandAgent(&fakeRunner{})

	resp := a.handleCommand(context.Background(), bus.CommandEvent{Command: bus.CommandStop})
	require.True(t, resp.Success)
	assert.Equal(t, true, resp.Result["draining"])
	assert.True(t, a.isDraining())
}

func TestHandleCommandRestartDrains(t *testing.T) {
	a := newCommandAgent(&fakeRunner{})

	resp := a.handleCommand(context.Background(), bus.CommandEvent{Command: bus.CommandRestart})
	require.True(t, resp.Success)
	assert.Equal(t, true, resp.Result["restart"])
	assert.True(t, a.isDraining())
}

func TestHandleCommandFlushRemaining(t *testing.T) {
	runner := &flushRunner{}
	a := newCommandAgent(runner)

	resp := a.handleCommand(context.Background(), bus.CommandEvent{Command: bus.CommandFlushRemaining})
	require.True(t, resp.Success)
	assert.Equal(t, int32(1), runner.flushed.Load())
}

func TestHandleCommandFlushUnsupported(t *testing.T) {
	a := newCommandAgent(&fakeRunner{})

	resp := a.handleCommand(context.Background(), bus.CommandEvent{Command: bus.CommandFlushRemaining})
	require.False(t, resp.Success)
	assert.Contains(t, resp.Error, "does not support")
}

func TestHandleCommandUpdateDrains(t *testing.T) {
	a := newCommandAgent(&fakeRunner{})

	resp := a.handleCommand(context.Background(), bus.CommandEvent{Command: bus.CommandUpdate})
	require.True(t, resp.Success)
	assert.Equal(t, true, resp.Result["update"])
	assert.Equal(t, true, resp.Result["draining"])
	assert.True(t, a.isDraining())
}

func TestHandleCommandUnknown(t *testing.T) {
	a := newCommandAgent(&fakeRunner{})

	resp := a.handleCommand(context.Background(), bus.CommandEvent{Command: "reboot-the-moon"})
	require.False(t, resp.Success)
	assert.Contains(t, resp.Error, "unknown command")
}
