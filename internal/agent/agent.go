// Package agent implements the vlog worker: a long-running process that
// registers with the coordinator, heartbeats, claims transcoding jobs, and
// executes them through the pipeline. Operator commands arrive over the
// Redis control channel when one is configured.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/vlogmedia/vlog/internal/bus"
	"github.com/vlogmedia/vlog/internal/config"
	"github.com/vlogmedia/vlog/internal/coordinator"
	"github.com/vlogmedia/vlog/internal/models"
	"github.com/vlogmedia/vlog/pkg/client"
)

// JobRunner executes one claimed job end to end.
type JobRunner interface {
	Run(ctx context.Context, claimed *coordinator.ClaimedJob) error
}

// Flusher is implemented by runners that can push buffered segments out
// early in response to the flush_remaining command.
type Flusher interface {
	FlushRemaining()
}

// Agent is the worker main loop.
type Agent struct {
	cfg     config.WorkerConfig
	client  *client.Client
	events  *bus.Bus
	runner  JobRunner
	metrics *MetricsCollector
	logs    *LogBuffer
	logger  *slog.Logger

	workerID string
	caps     models.Capabilities

	mu       sync.Mutex
	busy     bool
	draining bool
	drainCh  chan struct{}
}

// New creates an Agent. events may be nil; the control channel is then
// disabled and only the HTTP data plane is used.
func New(cfg config.WorkerConfig, c *client.Client, events *bus.Bus, runner JobRunner, logs *LogBuffer, log *slog.Logger) *Agent {
	if log == nil {
		log = slog.Default()
	}
	if logs == nil {
		logs = NewLogBuffer()
	}
	return &Agent{
		cfg:     cfg,
		client:  c,
		events:  events,
		runner:  runner,
		metrics: NewMetricsCollector(cfg.WorkDir),
		logs:    logs,
		logger:  log.With(slog.String("component", "agent")),
		drainCh: make(chan struct{}),
	}
}

// Run executes the agent until ctx ends or Drain finishes the current job.
func (a *Agent) Run(ctx context.Context) error {
	a.caps = DetectCapabilities(ctx, a.cfg.FFmpegPath, a.cfg.HWAccel)

	if err := a.ensureIdentity(ctx); err != nil {
		return err
	}

	// First heartbeat announces the worker before any claim attempt.
	if _, err := a.client.Heartbeat(ctx, models.WorkerStatusActive, a.heartbeatMetadata(ctx), &a.caps); err != nil {
		return fmt.Errorf("initial heartbeat: %w", err)
	}
	a.logger.Info("worker online",
		slog.String("worker_id", a.workerID),
		slog.String("hwaccel", a.caps.HWAccel),
		slog.String("ffmpeg_version", a.caps.FFmpegVersion),
	)

	go a.heartbeatLoop(ctx)
	if a.events != nil && a.workerID != "" {
		go a.commandLoop(ctx)
	}

	return a.pollLoop(ctx)
}

// Drain stops the agent from claiming new work. The current job, if any,
// runs to completion before Run returns.
func (a *Agent) Drain() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.draining {
		return
	}
	a.draining = true
	close(a.drainCh)
	a.logger.Info("draining, no further jobs will be claimed")
}

// isDraining reports whether Drain was called.
func (a *Agent) isDraining() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.draining
}

// setBusy flips the status reported on heartbeats.
func (a *Agent) setBusy(busy bool) {
	a.mu.Lock()
	a.busy = busy
	a.mu.Unlock()
}

// status derives the heartbeat status from the current job state.
func (a *Agent) status() models.WorkerStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.busy {
		return models.WorkerStatusBusy
	}
	return models.WorkerStatusIdle
}

// ensureIdentity loads the persisted identity, falls back to a configured
// key, or registers a fresh worker and persists the result.
func (a *Agent) ensureIdentity(ctx context.Context) error {
	st, err := LoadState(a.cfg.StateFile)
	if err != nil {
		return err
	}
	if st != nil {
		a.workerID = st.WorkerID
		a.client.SetAPIKey(st.APIKey)
		a.logger.Debug("identity loaded", slog.String("worker_id", st.WorkerID))
		return nil
	}

	if a.cfg.APIKey != "" {
		// Operator-supplied key, e.g. after a rotate-key. The worker ID is
		// unknown here, so the control channel stays off until the next
		// registration writes a state file.
		a.client.SetAPIKey(a.cfg.APIKey)
		a.logger.Warn("using configured API key without a state file, control channel disabled")
		return nil
	}

	name := a.cfg.Name
	if name == "" {
		name, _ = os.Hostname()
	}
	resp, err := a.client.Register(ctx, client.RegisterRequest{
		WorkerName:   name,
		WorkerType:   models.WorkerType(a.cfg.Type),
		Capabilities: &a.caps,
		Metadata: models.WorkerMetadata{
			"hostname": a.metrics.hostname,
		},
	})
	if err != nil {
		return fmt.Errorf("registering worker: %w", err)
	}

	a.workerID = resp.WorkerID
	if err := SaveState(a.cfg.StateFile, &State{WorkerID: resp.WorkerID, APIKey: resp.APIKey}); err != nil {
		return fmt.Errorf("persisting identity: %w", err)
	}
	a.logger.Info("worker registered", slog.String("worker_id", resp.WorkerID))
	return nil
}

// heartbeatMetadata summarizes host health for the coordinator's worker list.
func (a *Agent) heartbeatMetadata(ctx context.Context) models.WorkerMetadata {
	snapshot := a.metrics.Snapshot(ctx)
	md := models.WorkerMetadata{}
	if v, ok := snapshot["load_1m"].(float64); ok {
		md["load_1m"] = strconv.FormatFloat(v, 'f', 2, 64)
	}
	if v, ok := snapshot["memory_percent"].(float64); ok {
		md["memory_percent"] = strconv.FormatFloat(v, 'f', 1, 64)
	}
	if v, ok := snapshot["disk_percent"].(float64); ok {
		md["disk_percent"] = strconv.FormatFloat(v, 'f', 1, 64)
	}
	return md
}

// heartbeatLoop reports liveness until ctx ends. Repeated failures are
// logged but never fatal; the HTTP data plane keeps retrying.
func (a *Agent) heartbeatLoop(ctx context.Context) {
	interval := a.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	consecutiveFailures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, err := a.client.Heartbeat(ctx, a.status(), a.heartbeatMetadata(ctx), nil)
			if err != nil {
				consecutiveFailures++
				a.logger.Warn("heartbeat failed",
					slog.String("error", err.Error()),
					slog.Int("consecutive_failures", consecutiveFailures),
				)
				continue
			}
			if consecutiveFailures > 0 {
				a.logger.Info("heartbeat recovered", slog.Int("previous_failures", consecutiveFailures))
			}
			consecutiveFailures = 0
		}
	}
}

// pollLoop claims and runs jobs until ctx ends or a drain completes.
func (a *Agent) pollLoop(ctx context.Context) error {
	interval := a.cfg.PollInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}

	for {
		if a.isDraining() {
			a.logger.Info("drain complete")
			return nil
		}

		claimed, err := a.client.Claim(ctx)
		switch {
		case errors.Is(err, client.ErrNoWork):
			// Idle; wait for the next poll.
		case client.IsUnauthorized(err):
			return fmt.Errorf("coordinator rejected credentials, re-register this worker: %w", err)
		case err != nil:
			a.logger.Warn("claim attempt failed", slog.String("error", err.Error()))
		default:
			a.runJob(ctx, claimed)
			// Claim again immediately; the queue may hold more work.
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.drainCh:
		case <-time.After(interval):
		}
	}
}

// runJob executes one claimed job. Failures inside the runner are reported
// by the runner itself; this only tracks busy state and logs the outcome.
func (a *Agent) runJob(ctx context.Context, claimed *coordinator.ClaimedJob) {
	a.setBusy(true)
	defer a.setBusy(false)

	slug := ""
	if claimed.Video != nil {
		slug = claimed.Video.Slug
	}
	a.logger.Info("job started",
		slog.String("job_id", claimed.Job.ID.String()),
		slog.String("video_slug", slug),
		slog.Int("attempt", claimed.Job.AttemptNumber),
	)

	start := time.Now()
	if err := a.runner.Run(ctx, claimed); err != nil {
		a.logger.Error("job failed",
			slog.String("job_id", claimed.Job.ID.String()),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("error", err.Error()),
		)
		return
	}
	a.logger.Info("job finished",
		slog.String("job_id", claimed.Job.ID.String()),
		slog.Duration("elapsed", time.Since(start)),
	)
}
