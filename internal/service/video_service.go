package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"

	"github.com/vlogmedia/vlog/internal/models"
	"github.com/vlogmedia/vlog/internal/repository"
	"github.com/vlogmedia/vlog/internal/storage"
)

// ErrSlugTaken is returned when the requested slug already exists.
var ErrSlugTaken = errors.New("slug already taken")

// VideoService manages the video catalog and its companion jobs.
type VideoService struct {
	videos   repository.VideoRepository
	jobs     repository.JobRepository
	segments repository.SegmentRepository
	store    *storage.Store
	audit    *AuditLogger
	logger   *slog.Logger

	maxAttempts int
}

// NewVideoService creates a VideoService.
func NewVideoService(
	videos repository.VideoRepository,
	jobs repository.JobRepository,
	segments repository.SegmentRepository,
	store *storage.Store,
	maxAttempts int,
	audit *AuditLogger,
	log *slog.Logger,
) *VideoService {
	if log == nil {
		log = slog.Default()
	}
	return &VideoService{
		videos:      videos,
		jobs:        jobs,
		segments:    segments,
		store:       store,
		audit:       audit,
		logger:      log.With(slog.String("component", "videos")),
		maxAttempts: maxAttempts,
	}
}

// CreateVideoInput carries the fields of an upload request.
type CreateVideoInput struct {
	Slug            string
	Title           string
	Description     string
	Category        string
	StreamingFormat models.StreamingFormat
	PrimaryCodec    models.Codec
}

// Create registers a video, stores its source, and enqueues the companion
// transcoding job. The job row is what workers poll for.
func (s *VideoService) Create(ctx context.Context, in CreateVideoInput, source io.Reader, actor string) (*models.Video, error) {
	slug := in.Slug
	if slug == "" {
		slug = Slugify(in.Title)
	}

	video := &models.Video{
		Slug:            slug,
		Title:           in.Title,
		Description:     in.Description,
		Category:        in.Category,
		Status:          models.VideoStatusPending,
		StreamingFormat: in.StreamingFormat,
		PrimaryCodec:    in.PrimaryCodec,
	}
	if video.StreamingFormat == "" {
		video.StreamingFormat = models.FormatHLSTS
	}
	if video.PrimaryCodec == "" {
		video.PrimaryCodec = models.CodecH264
	}
	if err := video.Validate(); err != nil {
		return nil, err
	}

	if err := s.videos.Create(ctx, video); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrSlugTaken
		}
		return nil, err
	}

	size, err := s.store.SaveSource(video.ID.String(), source)
	if err != nil {
		// Roll the catalog row back; a video without a source is unclaimable
		// garbage.
		_ = s.videos.Delete(ctx, video.ID)
		return nil, fmt.Errorf("storing source: %w", err)
	}
	video.SourceSizeBytes = size
	if err := s.videos.Update(ctx, video); err != nil {
		return nil, err
	}

	job := &models.Job{
		VideoID:       video.ID,
		AttemptNumber: 1,
		MaxAttempts:   s.maxAttempts,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("enqueueing job: %w", err)
	}

	s.logger.Info("video created",
		slog.String("video_id", video.ID.String()),
		slog.String("slug", video.Slug),
		slog.Int64("source_bytes", size),
	)
	s.recordAudit(AuditEntry{Action: "video.create", Actor: actor, Subject: video.Slug, Success: true})
	return video, nil
}

// Get returns a video by slug.
func (s *VideoService) Get(ctx context.Context, slug string) (*models.Video, error) {
	if !models.ValidSlug(slug) {
		return nil, repository.ErrNotFound
	}
	return s.videos.GetBySlug(ctx, slug)
}

// GetByID returns a video by ID.
func (s *VideoService) GetByID(ctx context.Context, id models.ULID) (*models.Video, error) {
	return s.videos.GetByID(ctx, id)
}

// List returns a page of videos, newest first, optionally category-scoped.
func (s *VideoService) List(ctx context.Context, category string, offset, limit int) ([]*models.Video, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	if category != "" {
		return s.videos.ListByCategory(ctx, category, offset, limit)
	}
	return s.videos.List(ctx, offset, limit)
}

// Categories returns distinct categories with counts.
func (s *VideoService) Categories(ctx context.Context) ([]repository.CategoryCount, error) {
	return s.videos.Categories(ctx)
}

// VideoProgress is the public processing status of one video.
type VideoProgress struct {
	Video       *models.Video             `json:"video"`
	State       models.JobState           `json:"state"`
	Step        string                    `json:"current_step,omitempty"`
	Percent     float64                   `json:"progress_percent"`
	Attempt     int                       `json:"attempt_number"`
	MaxAttempts int                       `json:"max_attempts"`
	StartedAt   *models.Time              `json:"started_at,omitempty"`
	LastError   string                    `json:"last_error,omitempty"`
	Qualities   []*models.QualityProgress `json:"qualities,omitempty"`
}

// Progress returns the job state and per-variant breakdown for a video.
func (s *VideoService) Progress(ctx context.Context, slug string) (*VideoProgress, error) {
	video, err := s.Get(ctx, slug)
	if err != nil {
		return nil, err
	}
	job, err := s.jobs.GetByVideoID(ctx, video.ID)
	if err != nil {
		return nil, err
	}
	qualities, err := s.jobs.QualityProgress(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	return &VideoProgress{
		Video:       video,
		State:       job.StateAt(models.Now()),
		Step:        job.CurrentStep,
		Percent:     job.ProgressPercent,
		Attempt:     job.AttemptNumber,
		MaxAttempts: job.MaxAttempts,
		StartedAt:   job.ClaimedAt,
		LastError:   job.LastError,
		Qualities:   qualities,
	}, nil
}

// Update edits video metadata (title, description, category).
func (s *VideoService) Update(ctx context.Context, slug, title, description, category, actor string) (*models.Video, error) {
	video, err := s.Get(ctx, slug)
	if err != nil {
		return nil, err
	}
	if title != "" {
		video.Title = title
	}
	video.Description = description
	video.Category = category
	if err := s.videos.Update(ctx, video); err != nil {
		return nil, err
	}
	s.recordAudit(AuditEntry{Action: "video.update", Actor: actor, Subject: slug, Success: true})
	return video, nil
}

// Delete soft-deletes the video and removes its artifacts: segment rows,
// transcoded output, and the source file.
func (s *VideoService) Delete(ctx context.Context, slug, actor string) error {
	video, err := s.Get(ctx, slug)
	if err != nil {
		return err
	}

	if err := s.videos.Delete(ctx, video.ID); err != nil {
		return err
	}
	if err := s.segments.DeleteForVideo(ctx, video.ID); err != nil {
		s.logger.Warn("segment rows not removed", slog.String("slug", slug), slog.String("error", err.Error()))
	}
	if err := s.store.RemoveVideo(video.Slug); err != nil {
		s.logger.Warn("video output not removed", slog.String("slug", slug), slog.String("error", err.Error()))
	}
	if err := s.store.RemoveSource(video.ID.String()); err != nil {
		s.logger.Warn("video source not removed", slog.String("slug", slug), slog.String("error", err.Error()))
	}

	s.logger.Info("video deleted", slog.String("slug", slug))
	s.recordAudit(AuditEntry{Action: "video.delete", Actor: actor, Subject: slug, Success: true})
	return nil
}

// Requeue resets a failed video for a fresh transcoding run.
func (s *VideoService) Requeue(ctx context.Context, slug, actor string) error {
	video, err := s.Get(ctx, slug)
	if err != nil {
		return err
	}
	job, err := s.jobs.GetByVideoID(ctx, video.ID)
	if err != nil {
		return err
	}
	if err := s.jobs.Requeue(ctx, job.ID); err != nil {
		return err
	}
	s.recordAudit(AuditEntry{Action: "video.requeue", Actor: actor, Subject: slug, Success: true})
	return nil
}

func (s *VideoService) recordAudit(entry AuditEntry) {
	if s.audit != nil {
		s.audit.Record(entry)
	}
}

// slugInvalidChars matches everything a slug cannot contain.
var slugInvalidChars = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify derives a URL-safe slug from a free-form title.
func Slugify(title string) string {
	slug := strings.ToLower(strings.TrimSpace(title))
	slug = slugInvalidChars.ReplaceAllString(slug, "-")
	slug = strings.Trim(slug, "-")
	return slug
}
