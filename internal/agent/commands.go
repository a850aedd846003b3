package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"

	"github.com/vlogmedia/vlog/internal/bus"
)

// commandLoop listens on the worker's control channel and the broadcast
// channel and answers operator commands until ctx ends.
func (a *Agent) commandLoop(ctx context.Context) {
	msgs, err := a.events.Subscribe(ctx, bus.CommandChannel(a.workerID), bus.ChannelWorkersCommands)
	if err != nil {
		a.logger.Warn("control channel unavailable", slog.String("error", err.Error()))
		return
	}
	a.logger.Info("control channel connected")

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var cmd bus.CommandEvent
			if err := json.Unmarshal(msg.Payload, &cmd); err != nil {
				a.logger.Debug("skipping malformed command", slog.String("error", err.Error()))
				continue
			}
			resp := a.handleCommand(ctx, cmd)
			resp.RequestID = cmd.RequestID
			resp.WorkerID = a.workerID
			if err := a.events.PublishCommandResponse(ctx, resp); err != nil {
				a.logger.Warn("command response not delivered",
					slog.String("command", cmd.Command),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// handleCommand executes one control command and builds the reply.
func (a *Agent) handleCommand(ctx context.Context, cmd bus.CommandEvent) bus.CommandResponseEvent {
	// Snapshot logs before announcing the command so a get_logs reply does
	// not include its own arrival.
	var logLines []string
	if cmd.Command == bus.CommandGetLogs {
		limit := 100
		if raw, ok := cmd.Args["limit"]; ok {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 {
				limit = n
			}
		}
		logLines = a.logs.Recent(limit)
	}

	a.logger.Info("command received", slog.String("command", cmd.Command))

	switch cmd.Command {
	case bus.CommandGetMetrics:
		return bus.CommandResponseEvent{
			Type:    bus.EventTypeMetricsResponse,
			Success: true,
			Result:  a.metrics.Snapshot(ctx),
		}

	case bus.CommandGetLogs:
		return bus.CommandResponseEvent{
			Type:    bus.EventTypeLogsResponse,
			Success: true,
			Result:  map[string]any{"lines": logLines},
		}

	case bus.CommandStop:
		a.Drain()
		return bus.CommandResponseEvent{
			Success: true,
			Result:  map[string]any{"draining": true},
		}

	case bus.CommandRestart:
		// The agent exits after draining; the process supervisor restarts it.
		a.Drain()
		return bus.CommandResponseEvent{
			Success: true,
			Result:  map[string]any{"draining": true, "restart": true},
		}

	case bus.CommandFlushRemaining:
		if flusher, ok := a.runner.(Flusher); ok {
			flusher.FlushRemaining()
			return bus.CommandResponseEvent{Success: true}
		}
		return bus.CommandResponseEvent{
			Success: false,
			Error:   "runner does not support flushing",
		}

	case bus.CommandUpdate:
		// Drain and exit; the process supervisor swaps the binary and
		// restarts the agent.
		a.Drain()
		return bus.CommandResponseEvent{
			Success: true,
			Result:  map[string]any{"draining": true, "update": true},
		}

	default:
		return bus.CommandResponseEvent{
			Success: false,
			Error:   "unknown command: " + cmd.Command,
		}
	}
}
