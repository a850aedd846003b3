package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/vlogmedia/vlog/internal/bus"
	"github.com/vlogmedia/vlog/internal/config"
	"github.com/vlogmedia/vlog/internal/models"
	"github.com/vlogmedia/vlog/internal/repository"
	"github.com/vlogmedia/vlog/internal/service"
)

// SessionPurger is the slice of the session service the reaper needs.
type SessionPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// OfflineMarker is the slice of the worker service the reaper needs.
type OfflineMarker interface {
	MarkSilentOffline(ctx context.Context) ([]string, error)
}

// AuditSink receives audit entries for recovery actions.
type AuditSink interface {
	Record(entry service.AuditEntry)
}

// Reaper runs the periodic maintenance sweeps: expired claim recovery,
// stale checkpoint failure, offline worker detection, and session purging.
type Reaper struct {
	jobs     repository.JobRepository
	workers  OfflineMarker
	sessions SessionPurger
	events   *bus.Bus
	audit    AuditSink
	logger   *slog.Logger

	cron        *cron.Cron
	interval    time.Duration
	staleAfter  time.Duration
	maxAttempts int
}

// NewReaper creates a Reaper. Start schedules it; Stop drains it.
func NewReaper(
	jobs repository.JobRepository,
	workers OfflineMarker,
	sessions SessionPurger,
	events *bus.Bus,
	audit AuditSink,
	cfg config.TranscodingConfig,
	log *slog.Logger,
) *Reaper {
	if log == nil {
		log = slog.Default()
	}
	return &Reaper{
		jobs:        jobs,
		workers:     workers,
		sessions:    sessions,
		events:      events,
		audit:       audit,
		logger:      log.With(slog.String("component", "reaper")),
		cron:        cron.New(),
		interval:    cfg.ReapInterval,
		staleAfter:  cfg.StaleCheckpoint,
		maxAttempts: cfg.MaxAttempts,
	}
}

// Start schedules the sweeps and runs one immediately so a restart does not
// wait a full interval to recover orphaned claims.
func (r *Reaper) Start(ctx context.Context) error {
	spec := fmt.Sprintf("@every %s", r.interval)
	if _, err := r.cron.AddFunc(spec, func() { r.Sweep(ctx) }); err != nil {
		return fmt.Errorf("scheduling reaper: %w", err)
	}
	// Sessions accumulate slowly; an hourly purge is plenty.
	if _, err := r.cron.AddFunc("@every 1h", func() { r.purgeSessions(ctx) }); err != nil {
		return fmt.Errorf("scheduling session purge: %w", err)
	}

	go r.Sweep(ctx)
	r.cron.Start()
	r.logger.Info("reaper started", slog.Duration("interval", r.interval))
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (r *Reaper) Stop() {
	<-r.cron.Stop().Done()
}

// Sweep performs one maintenance pass.
func (r *Reaper) Sweep(ctx context.Context) {
	now := models.Now()

	expired, err := r.jobs.ReapExpired(ctx, now)
	if err != nil {
		r.logger.Error("reaping expired claims failed", slog.String("error", err.Error()))
	}
	for _, job := range expired {
		workerID := ""
		if job.WorkerID != nil {
			workerID = *job.WorkerID
		}
		r.logger.Warn("claim expired, job requeued",
			slog.String("job_id", job.ID.String()),
			slog.String("worker_id", workerID),
			slog.Int("attempt", job.AttemptNumber),
		)
		if r.audit != nil {
			r.audit.Record(service.AuditEntry{
				Action:  "job_claim_reaped",
				Actor:   workerID,
				Subject: job.ID.String(),
				Success: true,
			})
		}
	}

	stale, err := r.jobs.FailStale(ctx, now, r.staleAfter, r.maxAttempts)
	if err != nil {
		r.logger.Error("failing stale jobs failed", slog.String("error", err.Error()))
	}
	for _, job := range stale {
		r.logger.Warn("job stalled past checkpoint window",
			slog.String("job_id", job.ID.String()),
			slog.String("worker_id", job.ProcessedByWorkerID),
			slog.Int("attempt", job.AttemptNumber),
		)
		_ = r.events.PublishJobFailed(ctx, bus.JobFailedEvent{
			JobID:       job.ID,
			VideoID:     job.VideoID,
			WorkerID:    job.ProcessedByWorkerID,
			WorkerName:  job.ProcessedByWorkerName,
			Error:       "transcoding stalled",
			Attempt:     job.AttemptNumber,
			MaxAttempts: job.MaxAttempts,
			WillRetry:   job.AttemptNumber < job.MaxAttempts,
		})
	}

	if r.workers != nil {
		if _, err := r.workers.MarkSilentOffline(ctx); err != nil {
			r.logger.Error("marking silent workers offline failed", slog.String("error", err.Error()))
		}
	}
}

func (r *Reaper) purgeSessions(ctx context.Context) {
	if r.sessions == nil {
		return
	}
	if _, err := r.sessions.PurgeExpired(ctx); err != nil {
		r.logger.Error("purging sessions failed", slog.String("error", err.Error()))
	}
}
