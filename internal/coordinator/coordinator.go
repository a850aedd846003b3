// Package coordinator orchestrates the transcoding control plane: claim
// hand-out, progress and heartbeat processing, verified segment intake, and
// job completion or failure. State changes go through the catalog first;
// events on the bus are a best-effort echo.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/vlogmedia/vlog/internal/bus"
	"github.com/vlogmedia/vlog/internal/config"
	"github.com/vlogmedia/vlog/internal/models"
	"github.com/vlogmedia/vlog/internal/repository"
	"github.com/vlogmedia/vlog/internal/storage"
)

// ErrClaimLost mirrors the repository sentinel so HTTP handlers can map it
// to a 409 without importing the repository package.
var ErrClaimLost = repository.ErrClaimLost

// Coordinator drives the job lifecycle on behalf of workers.
type Coordinator struct {
	videos   repository.VideoRepository
	jobs     repository.JobRepository
	segments repository.SegmentRepository
	store    *storage.Store
	events   *bus.Bus
	logger   *slog.Logger

	lease           time.Duration
	minReadyQuality models.Quality
}

// New creates a Coordinator.
func New(
	videos repository.VideoRepository,
	jobs repository.JobRepository,
	segments repository.SegmentRepository,
	store *storage.Store,
	events *bus.Bus,
	cfg config.TranscodingConfig,
	log *slog.Logger,
) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	minReady := models.Quality(cfg.MinReadyQuality)
	if !models.ValidQuality(minReady) {
		minReady = models.Quality480p
	}
	return &Coordinator{
		videos:          videos,
		jobs:            jobs,
		segments:        segments,
		store:           store,
		events:          events,
		logger:          log.With(slog.String("component", "coordinator")),
		lease:           cfg.ClaimLease,
		minReadyQuality: minReady,
	}
}

// ClaimedJob is the payload handed to a worker on a successful claim.
type ClaimedJob struct {
	Job            *models.Job   `json:"job"`
	Video          *models.Video `json:"video"`
	ClaimExpiresAt models.Time   `json:"claim_expires_at"`
	LeaseSeconds   int           `json:"lease_seconds"`
}

// Claim hands the oldest compatible job to the worker, or nil when the
// queue is empty for its capabilities.
func (c *Coordinator) Claim(ctx context.Context, worker *models.Worker) (*ClaimedJob, error) {
	now := models.Now()
	job, err := c.jobs.ClaimNext(ctx, worker.WorkerID, worker.Capabilities, now, c.lease)
	if err != nil {
		return nil, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return nil, nil
	}

	video, err := c.videos.GetByID(ctx, job.VideoID)
	if err != nil {
		return nil, fmt.Errorf("loading claimed video: %w", err)
	}

	c.logger.Info("job claimed",
		slog.String("job_id", job.ID.String()),
		slog.String("video_slug", video.Slug),
		slog.String("worker_id", worker.WorkerID),
		slog.Int("attempt", job.AttemptNumber),
	)
	return &ClaimedJob{
		Job:            job,
		Video:          video,
		ClaimExpiresAt: models.AsUTC(*job.ClaimExpiresAt),
		LeaseSeconds:   int(c.lease.Seconds()),
	}, nil
}

// ExtendClaim processes a job heartbeat, pushing the lease forward.
func (c *Coordinator) ExtendClaim(ctx context.Context, worker *models.Worker, jobID models.ULID) (time.Time, error) {
	return c.jobs.ExtendClaim(ctx, jobID, worker.WorkerID, models.Now(), c.lease)
}

// QualityUpdate is one per-variant progress report inside a progress call.
type QualityUpdate struct {
	Quality           models.Quality       `json:"quality"`
	Status            models.QualityStatus `json:"status"`
	ProgressPercent   float64              `json:"progress_percent"`
	SegmentsTotal     int                  `json:"segments_total"`
	SegmentsCompleted int                  `json:"segments_completed"`
}

// Progress records a worker's progress report. The update doubles as a
// heartbeat; it refreshes the lease and the stall checkpoint.
func (c *Coordinator) Progress(ctx context.Context, worker *models.Worker, jobID models.ULID, step string, percent float64, qualities []QualityUpdate) error {
	now := models.Now()
	if err := c.jobs.UpdateProgress(ctx, jobID, worker.WorkerID, now, c.lease, step, percent); err != nil {
		return err
	}

	for _, q := range qualities {
		if !models.ValidQuality(q.Quality) {
			continue
		}
		qp := &models.QualityProgress{
			JobID:             jobID,
			Quality:           q.Quality,
			Status:            q.Status,
			ProgressPercent:   q.ProgressPercent,
			SegmentsTotal:     q.SegmentsTotal,
			SegmentsCompleted: q.SegmentsCompleted,
		}
		if err := c.jobs.UpsertQualityProgress(ctx, qp); err != nil {
			c.logger.Warn("quality progress not recorded",
				slog.String("job_id", jobID.String()),
				slog.String("quality", string(q.Quality)),
				slog.String("error", err.Error()),
			)
		}
	}

	if job, err := c.jobs.GetByID(ctx, jobID); err == nil {
		_ = c.events.PublishProgress(ctx, bus.ProgressEvent{
			JobID:           job.ID,
			VideoID:         job.VideoID,
			CurrentStep:     step,
			ProgressPercent: percent,
			Qualities:       eventQualities(qualities),
			Attempt:         job.AttemptNumber,
			WorkerID:        worker.WorkerID,
			LastError:       job.LastError,
		})
	}
	return nil
}

// eventQualities converts per-variant updates into the wire shape carried
// on the progress channels.
func eventQualities(qualities []QualityUpdate) []bus.EventQuality {
	out := make([]bus.EventQuality, 0, len(qualities))
	for _, q := range qualities {
		out = append(out, bus.EventQuality{
			Name:     string(q.Quality),
			Status:   string(q.Status),
			Progress: q.ProgressPercent,
		})
	}
	return out
}

// UploadSegment verifies claim ownership, streams the segment through
// checksum verification into storage, and records its metadata. A lapsed
// claim yields ErrClaimLost before any bytes are written.
func (c *Coordinator) UploadSegment(ctx context.Context, worker *models.Worker, jobID models.ULID, quality models.Quality, filename string, size int64, sha256Hex string, body io.Reader) error {
	job, err := c.jobs.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	now := models.Now()
	if !job.HeldBy(worker.WorkerID, now) {
		return ErrClaimLost
	}

	video, err := c.videos.GetByID(ctx, job.VideoID)
	if err != nil {
		return err
	}

	if err := c.store.WriteSegment(video.Slug, video.StreamingFormat, quality, filename, body, size, sha256Hex); err != nil {
		return err
	}

	seg := &models.Segment{
		VideoID:   video.ID,
		Quality:   quality,
		Filename:  filename,
		SizeBytes: size,
		SHA256:    sha256Hex,
	}
	if err := c.segments.Upsert(ctx, seg); err != nil {
		return err
	}

	// A successful upload is also proof of life.
	if _, err := c.jobs.ExtendClaim(ctx, jobID, worker.WorkerID, now, c.lease); err != nil && !errors.Is(err, repository.ErrClaimLost) {
		c.logger.Debug("claim extension after upload failed", slog.String("error", err.Error()))
	}
	return nil
}

// UploadPlaylist persists a variant or master playlist for the claimed job.
func (c *Coordinator) UploadPlaylist(ctx context.Context, worker *models.Worker, jobID models.ULID, quality models.Quality, filename string, data []byte) error {
	job, err := c.jobs.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	if !job.HeldBy(worker.WorkerID, models.Now()) {
		return ErrClaimLost
	}
	video, err := c.videos.GetByID(ctx, job.VideoID)
	if err != nil {
		return err
	}
	return c.store.WritePlaylist(video.Slug, video.StreamingFormat, quality, filename, data)
}

// MediaInfo is the probe result a worker reports once per source.
type MediaInfo struct {
	DurationSeconds float64 `json:"duration_seconds"`
	Width           int     `json:"width"`
	Height          int     `json:"height"`
}

// ReportMedia records probed source metadata on the video.
func (c *Coordinator) ReportMedia(ctx context.Context, worker *models.Worker, jobID models.ULID, info MediaInfo) error {
	job, err := c.jobs.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	if !job.HeldBy(worker.WorkerID, models.Now()) {
		return ErrClaimLost
	}
	return c.videos.UpdateMedia(ctx, job.VideoID, info.DurationSeconds, info.Width, info.Height)
}

// CompletionReport is the worker's final per-variant accounting.
type CompletionReport struct {
	Qualities       []QualityUpdate `json:"qualities"`
	DurationSeconds float64         `json:"duration_seconds"`
}

// Complete finishes a job. The video becomes ready when every variant
// completed, or when at least the minimum ready quality did; otherwise the
// completion is converted into a terminal failure.
func (c *Coordinator) Complete(ctx context.Context, worker *models.Worker, jobID models.ULID, report CompletionReport) error {
	job, err := c.jobs.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	now := models.Now()
	if !job.HeldBy(worker.WorkerID, now) {
		return ErrClaimLost
	}

	for _, q := range report.Qualities {
		if !models.ValidQuality(q.Quality) {
			continue
		}
		qp := &models.QualityProgress{
			JobID:             jobID,
			Quality:           q.Quality,
			Status:            q.Status,
			ProgressPercent:   q.ProgressPercent,
			SegmentsTotal:     q.SegmentsTotal,
			SegmentsCompleted: q.SegmentsCompleted,
		}
		if err := c.jobs.UpsertQualityProgress(ctx, qp); err != nil {
			c.logger.Warn("final quality progress not recorded", slog.String("error", err.Error()))
		}
	}

	if !c.readyEnough(report) {
		c.logger.Warn("completion below minimum ready quality",
			slog.String("job_id", jobID.String()),
			slog.String("min_ready", string(c.minReadyQuality)),
		)
		return c.Fail(ctx, worker, jobID, "no variant at or above "+string(c.minReadyQuality)+" completed", false)
	}

	video, err := c.videos.GetByID(ctx, job.VideoID)
	if err != nil {
		return err
	}
	if !c.store.HasMasterPlaylist(video.Slug) {
		return c.Fail(ctx, worker, jobID, "master playlist missing at completion", true)
	}

	if err := c.jobs.Complete(ctx, jobID, worker.WorkerID, now); err != nil {
		return err
	}

	c.logger.Info("job completed",
		slog.String("job_id", jobID.String()),
		slog.String("video_slug", video.Slug),
		slog.String("worker_id", worker.WorkerID),
	)
	_ = c.events.PublishJobCompleted(ctx, bus.JobCompletedEvent{
		JobID:           jobID,
		VideoID:         video.ID,
		VideoSlug:       video.Slug,
		WorkerID:        worker.WorkerID,
		WorkerName:      worker.WorkerName,
		Qualities:       eventQualities(report.Qualities),
		DurationSeconds: report.DurationSeconds,
	})
	return nil
}

// readyEnough applies the partial-completion policy: ready when at least one
// successful variant sits at or above the minimum ready quality.
func (c *Coordinator) readyEnough(report CompletionReport) bool {
	for _, q := range report.Qualities {
		if q.Status == models.QualityCompleted && q.Quality.AtLeast(c.minReadyQuality) {
			return true
		}
	}
	return false
}

// Fail records a worker-reported failure and fans it out.
func (c *Coordinator) Fail(ctx context.Context, worker *models.Worker, jobID models.ULID, errMsg string, retry bool) error {
	job, err := c.jobs.Fail(ctx, jobID, worker.WorkerID, errMsg, retry, models.Now())
	if err != nil {
		return err
	}

	willRetry := job.StateAt(models.Now()) == models.JobStateRetrying
	c.logger.Warn("job failed",
		slog.String("job_id", jobID.String()),
		slog.String("worker_id", worker.WorkerID),
		slog.Int("attempt", job.AttemptNumber),
		slog.Bool("will_retry", willRetry),
		slog.String("error", errMsg),
	)

	ev := bus.JobFailedEvent{
		JobID:       job.ID,
		VideoID:     job.VideoID,
		WorkerID:    worker.WorkerID,
		WorkerName:  worker.WorkerName,
		Error:       errMsg,
		Attempt:     job.AttemptNumber,
		MaxAttempts: job.MaxAttempts,
		WillRetry:   willRetry,
	}
	if video, verr := c.videos.GetByID(ctx, job.VideoID); verr == nil {
		ev.VideoSlug = video.Slug
	}
	_ = c.events.PublishJobFailed(ctx, ev)
	return nil
}
