package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vlogmedia/vlog/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// claimableSQL is the claimability predicate: UNCLAIMED or RETRYING.
// EXPIRED jobs become claimable only after the reaper clears the claim.
// Defined once so the in-memory and in-DB classifications cannot drift.
const claimableSQL = "jobs.completed_at IS NULL AND jobs.claimed_at IS NULL AND (jobs.last_error = '' OR jobs.attempt_number < jobs.max_attempts)"

// jobRepo implements JobRepository using GORM.
type jobRepo struct {
	db *gorm.DB
}

// NewJobRepository creates a new JobRepository.
func NewJobRepository(db *gorm.DB) *jobRepo {
	return &jobRepo{db: db}
}

// Create creates the companion job for a video.
func (r *jobRepo) Create(ctx context.Context, job *models.Job) error {
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("creating job: %w", err)
	}
	return nil
}

// GetByID retrieves a job by ID.
func (r *jobRepo) GetByID(ctx context.Context, id models.ULID) (*models.Job, error) {
	var job models.Job
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting job by ID: %w", err)
	}
	return &job, nil
}

// GetByVideoID retrieves the job for a video.
func (r *jobRepo) GetByVideoID(ctx context.Context, videoID models.ULID) (*models.Job, error) {
	var job models.Job
	if err := r.db.WithContext(ctx).Where("video_id = ?", videoID).First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting job by video ID: %w", err)
	}
	return &job, nil
}

// ClaimNext atomically claims the oldest claimable job. The claim predicate
// sits in the UPDATE's WHERE clause, so a lost race affects zero rows and the
// next candidate is tried; two concurrent claimers can never both win.
func (r *jobRepo) ClaimNext(ctx context.Context, workerID string, caps models.Capabilities, now time.Time, lease time.Duration) (*models.Job, error) {
	codecs := []string{string(models.CodecH264)}
	for _, c := range caps.Codecs {
		if c != string(models.CodecH264) {
			codecs = append(codecs, c)
		}
	}

	var claimed *models.Job
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var worker models.Worker
		if err := tx.Where("worker_id = ?", workerID).First(&worker).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("loading worker: %w", err)
		}

		// FIFO by video upload time, tie-broken by job ID.
		var candidates []models.Job
		if err := tx.
			Joins("JOIN videos ON videos.id = jobs.video_id").
			Where(claimableSQL).
			Where("videos.status = ?", models.VideoStatusPending).
			Where("videos.primary_codec IN ?", codecs).
			Where("videos.deleted_at IS NULL").
			Order("videos.created_at ASC, jobs.id ASC").
			Limit(5).
			Find(&candidates).Error; err != nil {
			return fmt.Errorf("selecting claim candidates: %w", err)
		}

		expires := now.Add(lease)
		for i := range candidates {
			res := tx.Model(&models.Job{}).
				Where("id = ?", candidates[i].ID).
				Where(claimableSQL).
				Updates(map[string]any{
					"claimed_at":       now,
					"claim_expires_at": expires,
					"worker_id":        workerID,
					"last_checkpoint":  now,
					"current_step":     "claimed",
					// Re-claiming after a failure starts the next attempt.
					// Reaped expiries keep last_error empty, so an expired
					// claim is never charged as an attempt.
					"attempt_number":           gorm.Expr("CASE WHEN last_error <> '' THEN attempt_number + 1 ELSE attempt_number END"),
					"last_error":               "",
					"processed_by_worker_id":   workerID,
					"processed_by_worker_name": worker.WorkerName,
				})
			if res.Error != nil {
				return fmt.Errorf("claiming job: %w", res.Error)
			}
			if res.RowsAffected == 0 {
				// Lost the race for this candidate; try the next.
				continue
			}

			if err := tx.Model(&models.Video{}).
				Where("id = ?", candidates[i].VideoID).
				Update("status", models.VideoStatusProcessing).Error; err != nil {
				return fmt.Errorf("marking video processing: %w", err)
			}
			if err := tx.Model(&models.Worker{}).
				Where("worker_id = ?", workerID).
				Updates(map[string]any{
					"current_job_id": candidates[i].ID,
					"status":         models.WorkerStatusBusy,
				}).Error; err != nil {
				return fmt.Errorf("recording worker claim: %w", err)
			}

			var job models.Job
			if err := tx.Where("id = ?", candidates[i].ID).First(&job).Error; err != nil {
				return fmt.Errorf("reloading claimed job: %w", err)
			}
			claimed = &job
			return nil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// ExtendClaim pushes the lease forward if the worker still holds the claim.
// The new expiry never falls below the current one.
func (r *jobRepo) ExtendClaim(ctx context.Context, jobID models.ULID, workerID string, now time.Time, lease time.Duration) (time.Time, error) {
	expires := now.Add(lease)

	res := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND worker_id = ? AND completed_at IS NULL AND claim_expires_at > ?", jobID, workerID, now).
		Updates(map[string]any{
			"claim_expires_at": gorm.Expr("CASE WHEN claim_expires_at > ? THEN claim_expires_at ELSE ? END", expires, expires),
			"last_checkpoint":  now,
		})
	if res.Error != nil {
		return time.Time{}, fmt.Errorf("extending claim: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return time.Time{}, ErrClaimLost
	}

	var job models.Job
	if err := r.db.WithContext(ctx).Select("claim_expires_at").Where("id = ?", jobID).First(&job).Error; err != nil {
		return time.Time{}, fmt.Errorf("reloading claim expiry: %w", err)
	}
	return models.AsUTC(*job.ClaimExpiresAt), nil
}

// UpdateProgress records step and percent and extends the claim. Progress
// updates are monotone in last_checkpoint and never overtake completion.
func (r *jobRepo) UpdateProgress(ctx context.Context, jobID models.ULID, workerID string, now time.Time, lease time.Duration, step string, percent float64) error {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	res := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND worker_id = ? AND completed_at IS NULL AND claim_expires_at > ?", jobID, workerID, now).
		Updates(map[string]any{
			"current_step":     step,
			"progress_percent": percent,
			"claim_expires_at": now.Add(lease),
			"last_checkpoint":  now,
		})
	if res.Error != nil {
		return fmt.Errorf("updating progress: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrClaimLost
	}
	return nil
}

// Complete finishes the job and marks its video ready. Requires the active
// claim; a lapsed or stolen claim yields ErrClaimLost.
func (r *jobRepo) Complete(ctx context.Context, jobID models.ULID, workerID string, now time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Job{}).
			Where("id = ? AND worker_id = ? AND completed_at IS NULL AND claim_expires_at > ?", jobID, workerID, now).
			Updates(map[string]any{
				"completed_at":     now,
				"current_step":     "completed",
				"progress_percent": 100.0,
				"last_error":       "",
				"last_checkpoint":  now,
			})
		if res.Error != nil {
			return fmt.Errorf("completing job: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrClaimLost
		}

		var job models.Job
		if err := tx.Where("id = ?", jobID).First(&job).Error; err != nil {
			return fmt.Errorf("reloading job: %w", err)
		}
		if err := tx.Model(&models.Video{}).
			Where("id = ?", job.VideoID).
			Update("status", models.VideoStatusReady).Error; err != nil {
			return fmt.Errorf("marking video ready: %w", err)
		}
		return clearWorkerJob(tx, workerID)
	})
}

// Fail records a failure from the owning worker. Transient failures
// (retry=true with attempts remaining) clear the claim and leave the job
// retrying; anything else is terminal and fails the video.
func (r *jobRepo) Fail(ctx context.Context, jobID models.ULID, workerID string, errMsg string, retry bool, now time.Time) (*models.Job, error) {
	var failed *models.Job
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job models.Job
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", jobID).First(&job).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("loading job: %w", err)
		}
		if job.CompletedAt != nil {
			return ErrClaimLost
		}
		if job.WorkerID == nil || *job.WorkerID != workerID {
			return ErrClaimLost
		}

		updates := map[string]any{
			"last_error":       errMsg,
			"claimed_at":       nil,
			"claim_expires_at": nil,
			"worker_id":        nil,
			"last_checkpoint":  now,
		}
		willRetry := retry && job.AttemptNumber < job.MaxAttempts
		if !willRetry && job.AttemptNumber < job.MaxAttempts {
			// Permanent errors skip the remaining attempts.
			updates["attempt_number"] = job.MaxAttempts
		}

		if err := tx.Model(&models.Job{}).Where("id = ?", jobID).Updates(updates).Error; err != nil {
			return fmt.Errorf("failing job: %w", err)
		}
		if !willRetry {
			if err := tx.Model(&models.Video{}).
				Where("id = ?", job.VideoID).
				Update("status", models.VideoStatusFailed).Error; err != nil {
				return fmt.Errorf("marking video failed: %w", err)
			}
		} else {
			// Back to pending so the scheduler's claim query sees it.
			if err := tx.Model(&models.Video{}).
				Where("id = ?", job.VideoID).
				Update("status", models.VideoStatusPending).Error; err != nil {
				return fmt.Errorf("requeueing video: %w", err)
			}
		}
		if err := clearWorkerJob(tx, workerID); err != nil {
			return err
		}

		var reloaded models.Job
		if err := tx.Where("id = ?", jobID).First(&reloaded).Error; err != nil {
			return fmt.Errorf("reloading job: %w", err)
		}
		failed = &reloaded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return failed, nil
}

// Requeue resets a terminal job for a fresh attempt (admin re-queue).
func (r *jobRepo) Requeue(ctx context.Context, jobID models.ULID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job models.Job
		if err := tx.Where("id = ?", jobID).First(&job).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("loading job: %w", err)
		}

		if err := tx.Model(&models.Job{}).Where("id = ?", jobID).Updates(map[string]any{
			"claimed_at":       nil,
			"claim_expires_at": nil,
			"worker_id":        nil,
			"completed_at":     nil,
			"last_error":       "",
			"current_step":     "",
			"progress_percent": 0.0,
			"attempt_number":   1,
		}).Error; err != nil {
			return fmt.Errorf("requeueing job: %w", err)
		}
		if err := tx.Model(&models.Video{}).
			Where("id = ?", job.VideoID).
			Update("status", models.VideoStatusPending).Error; err != nil {
			return fmt.Errorf("resetting video status: %w", err)
		}
		return tx.Where("job_id = ?", jobID).Delete(&models.QualityProgress{}).Error
	})
}

// ReapExpired clears claims on jobs whose lease lapsed. Attempt numbers are
// left unchanged; expiry is not a failed attempt.
func (r *jobRepo) ReapExpired(ctx context.Context, now time.Time) ([]*models.Job, error) {
	var expired []*models.Job
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("claimed_at IS NOT NULL AND claim_expires_at <= ? AND completed_at IS NULL", now).
			Find(&expired).Error; err != nil {
			return fmt.Errorf("selecting expired claims: %w", err)
		}
		for _, job := range expired {
			res := tx.Model(&models.Job{}).
				Where("id = ? AND claimed_at IS NOT NULL AND claim_expires_at <= ? AND completed_at IS NULL", job.ID, now).
				Updates(map[string]any{
					"claimed_at":       nil,
					"claim_expires_at": nil,
					"worker_id":        nil,
				})
			if res.Error != nil {
				return fmt.Errorf("clearing expired claim: %w", res.Error)
			}
			if job.VideoID.IsZero() {
				continue
			}
			if err := tx.Model(&models.Video{}).
				Where("id = ? AND status = ?", job.VideoID, models.VideoStatusProcessing).
				Update("status", models.VideoStatusPending).Error; err != nil {
				return fmt.Errorf("resetting video of expired claim: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return expired, nil
}

// FailStale soft-fails non-terminal jobs whose last_checkpoint stalled. A
// stall counts as one failed attempt, attributed to the last known worker.
func (r *jobRepo) FailStale(ctx context.Context, now time.Time, staleAfter time.Duration, maxAttempts int) ([]*models.Job, error) {
	cutoff := now.Add(-staleAfter)

	var stale []*models.Job
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("completed_at IS NULL AND last_checkpoint IS NOT NULL AND last_checkpoint < ?", cutoff).
			Where("last_error = '' OR attempt_number < max_attempts").
			Find(&stale).Error; err != nil {
			return fmt.Errorf("selecting stale jobs: %w", err)
		}

		for _, job := range stale {
			updates := map[string]any{
				"last_error":       "transcoding stalled: no checkpoint since " + cutoff.UTC().Format(time.RFC3339),
				"claimed_at":       nil,
				"claim_expires_at": nil,
				"worker_id":        nil,
				"last_checkpoint":  now,
			}
			terminal := job.AttemptNumber >= job.MaxAttempts
			if err := tx.Model(&models.Job{}).Where("id = ?", job.ID).Updates(updates).Error; err != nil {
				return fmt.Errorf("soft-failing stale job: %w", err)
			}
			status := models.VideoStatusPending
			if terminal {
				status = models.VideoStatusFailed
			}
			if err := tx.Model(&models.Video{}).
				Where("id = ?", job.VideoID).
				Update("status", status).Error; err != nil {
				return fmt.Errorf("updating video of stale job: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stale, nil
}

// QualityProgress returns the per-variant rows for a job.
func (r *jobRepo) QualityProgress(ctx context.Context, jobID models.ULID) ([]*models.QualityProgress, error) {
	var rows []*models.QualityProgress
	if err := r.db.WithContext(ctx).Where("job_id = ?", jobID).Order("quality ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("getting quality progress: %w", err)
	}
	return rows, nil
}

// UpsertQualityProgress writes one per-variant row keyed on (job_id, quality).
func (r *jobRepo) UpsertQualityProgress(ctx context.Context, qp *models.QualityProgress) error {
	if qp.ID.IsZero() {
		qp.ID = models.NewULID()
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "job_id"}, {Name: "quality"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "progress_percent", "segments_total", "segments_completed", "updated_at",
		}),
	}).Create(qp).Error
	if err != nil {
		return fmt.Errorf("upserting quality progress: %w", err)
	}
	return nil
}

// clearWorkerJob detaches the worker from its current job.
func clearWorkerJob(tx *gorm.DB, workerID string) error {
	if err := tx.Model(&models.Worker{}).
		Where("worker_id = ?", workerID).
		Updates(map[string]any{
			"current_job_id": nil,
			"status":         models.WorkerStatusIdle,
		}).Error; err != nil {
		return fmt.Errorf("clearing worker job: %w", err)
	}
	return nil
}

// Ensure jobRepo implements JobRepository at compile time.
var _ JobRepository = (*jobRepo)(nil)
