package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vlogmedia/vlog/internal/models"
	"github.com/vlogmedia/vlog/internal/repository"
)

// JobForVideo resolves the video's job and verifies the worker holds its
// claim. Video-keyed worker endpoints go through here before touching bytes.
func (c *Coordinator) JobForVideo(ctx context.Context, worker *models.Worker, videoID models.ULID) (*models.Job, *models.Video, error) {
	job, err := c.jobs.GetByVideoID(ctx, videoID)
	if err != nil {
		return nil, nil, err
	}
	if !job.HeldBy(worker.WorkerID, models.Now()) {
		return nil, nil, ErrClaimLost
	}
	video, err := c.videos.GetByID(ctx, videoID)
	if err != nil {
		return nil, nil, err
	}
	return job, video, nil
}

// SegmentName returns the conventional filename of segment index for the
// given container format.
func SegmentName(format models.StreamingFormat, quality models.Quality, index int) string {
	if format == models.FormatCMAF {
		return fmt.Sprintf("%04d.m4s", index)
	}
	return fmt.Sprintf("%s_%04d.ts", quality, index)
}

// VariantPlaylistName returns the conventional variant playlist filename.
// CMAF variants keep a playlist.m3u8 inside their quality directory; HLS-TS
// uses a quality-named playlist in the flat video directory.
func VariantPlaylistName(format models.StreamingFormat, quality models.Quality) string {
	if format == models.FormatCMAF {
		return "playlist.m3u8"
	}
	return string(quality) + ".m3u8"
}

// FinalizeResult is the outcome of a per-variant finalization check.
type FinalizeResult struct {
	Complete         bool     `json:"complete"`
	MissingSegments  []string `json:"missing_segments,omitempty"`
	ManifestVerified bool     `json:"manifest_verified"`
}

// Finalize verifies that every numbered segment of a variant arrived and
// that the stored variant playlist matches the declared manifest checksum.
// An incomplete variant reports the missing segment names so the worker can
// re-upload just those.
func (c *Coordinator) Finalize(ctx context.Context, worker *models.Worker, videoID models.ULID, quality models.Quality, segmentCount int, manifestSHA256 string) (*FinalizeResult, error) {
	if !models.ValidQuality(quality) {
		return nil, fmt.Errorf("%w: unknown quality %q", models.ErrInvalidQuality, quality)
	}
	if segmentCount < 0 {
		return nil, fmt.Errorf("%w: negative segment count", models.ErrInvalidQuality)
	}

	job, video, err := c.JobForVideo(ctx, worker, videoID)
	if err != nil {
		return nil, err
	}

	stored, err := c.segments.FilenamesForQuality(ctx, videoID, quality)
	if err != nil {
		return nil, err
	}
	have := make(map[string]bool, len(stored))
	for _, name := range stored {
		have[name] = true
	}

	result := &FinalizeResult{Complete: true}
	for i := 0; i < segmentCount; i++ {
		name := SegmentName(video.StreamingFormat, quality, i)
		if !have[name] {
			result.Complete = false
			result.MissingSegments = append(result.MissingSegments, name)
		}
	}

	if manifestSHA256 != "" {
		playlist := VariantPlaylistName(video.StreamingFormat, quality)
		got, herr := c.store.FileSHA256(video.Slug, video.StreamingFormat, quality, playlist)
		if herr == nil && strings.EqualFold(got, manifestSHA256) {
			result.ManifestVerified = true
		} else {
			result.Complete = false
		}
	}

	if result.Complete {
		qp := &models.QualityProgress{
			JobID:             job.ID,
			Quality:           quality,
			Status:            models.QualityUploaded,
			ProgressPercent:   100,
			SegmentsTotal:     segmentCount,
			SegmentsCompleted: segmentCount,
		}
		if err := c.jobs.UpsertQualityProgress(ctx, qp); err != nil {
			c.logger.Warn("finalized quality progress not recorded",
				slog.String("job_id", job.ID.String()),
				slog.String("quality", string(quality)),
				slog.String("error", err.Error()),
			)
		}
	}

	// Finalization is also proof of life.
	if _, err := c.jobs.ExtendClaim(ctx, job.ID, worker.WorkerID, models.Now(), c.lease); err != nil && !errors.Is(err, repository.ErrClaimLost) {
		c.logger.Debug("claim extension after finalize failed", slog.String("error", err.Error()))
	}
	return result, nil
}
