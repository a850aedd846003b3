package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vlogmedia/vlog/internal/models"
	"gorm.io/gorm"
)

// workerRepo implements WorkerRepository using GORM.
type workerRepo struct {
	db *gorm.DB
}

// NewWorkerRepository creates a new WorkerRepository.
func NewWorkerRepository(db *gorm.DB) *workerRepo {
	return &workerRepo{db: db}
}

// Create registers a new worker.
func (r *workerRepo) Create(ctx context.Context, worker *models.Worker) error {
	if err := r.db.WithContext(ctx).Create(worker).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("creating worker: %w", err)
	}
	return nil
}

// GetByID retrieves a worker by its UUID.
func (r *workerRepo) GetByID(ctx context.Context, workerID string) (*models.Worker, error) {
	var worker models.Worker
	if err := r.db.WithContext(ctx).Where("worker_id = ?", workerID).First(&worker).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting worker: %w", err)
	}
	return &worker, nil
}

// GetAll retrieves all workers ordered by registration time.
func (r *workerRepo) GetAll(ctx context.Context) ([]*models.Worker, error) {
	var workers []*models.Worker
	if err := r.db.WithContext(ctx).Order("registered_at ASC").Find(&workers).Error; err != nil {
		return nil, fmt.Errorf("listing workers: %w", err)
	}
	return workers, nil
}

// Heartbeat updates last_heartbeat, status, and optional metadata. A
// heartbeat from an offline worker brings it back without re-registration.
func (r *workerRepo) Heartbeat(ctx context.Context, workerID string, status models.WorkerStatus, metadata models.WorkerMetadata, now time.Time) error {
	updates := map[string]any{
		"last_heartbeat": now,
		"status":         status,
	}
	if metadata != nil {
		if err := metadata.Validate(); err != nil {
			return err
		}
		updates["metadata"] = metadata
	}

	res := r.db.WithContext(ctx).Model(&models.Worker{}).
		Where("worker_id = ? AND status <> ?", workerID, models.WorkerStatusDisabled).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("recording heartbeat: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// Either unknown or disabled; the caller distinguishes via GetByID.
		return ErrNotFound
	}
	return nil
}

// SetCurrentJob points the worker at its claimed job (nil to clear).
func (r *workerRepo) SetCurrentJob(ctx context.Context, workerID string, jobID *models.ULID) error {
	res := r.db.WithContext(ctx).Model(&models.Worker{}).
		Where("worker_id = ?", workerID).
		Update("current_job_id", jobID)
	if res.Error != nil {
		return fmt.Errorf("setting current job: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateCapabilities replaces the reported capabilities.
func (r *workerRepo) UpdateCapabilities(ctx context.Context, workerID string, caps models.Capabilities) error {
	if err := caps.Validate(); err != nil {
		return err
	}
	res := r.db.WithContext(ctx).Model(&models.Worker{}).
		Where("worker_id = ?", workerID).
		Update("capabilities", caps)
	if res.Error != nil {
		return fmt.Errorf("updating capabilities: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetStatus sets the worker status.
func (r *workerRepo) SetStatus(ctx context.Context, workerID string, status models.WorkerStatus) error {
	res := r.db.WithContext(ctx).Model(&models.Worker{}).
		Where("worker_id = ?", workerID).
		Update("status", status)
	if res.Error != nil {
		return fmt.Errorf("setting worker status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkOffline marks workers silent since cutoff as offline and clears their
// current job. Disabled workers keep their status.
func (r *workerRepo) MarkOffline(ctx context.Context, cutoff time.Time) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Worker{}).
			Where("last_heartbeat IS NOT NULL AND last_heartbeat < ?", cutoff).
			Where("status NOT IN ?", []models.WorkerStatus{models.WorkerStatusOffline, models.WorkerStatusDisabled}).
			Pluck("worker_id", &ids).Error; err != nil {
			return fmt.Errorf("selecting silent workers: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Model(&models.Worker{}).
			Where("worker_id IN ?", ids).
			Updates(map[string]any{
				"status":         models.WorkerStatusOffline,
				"current_job_id": nil,
			}).Error; err != nil {
			return fmt.Errorf("marking workers offline: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Delete removes a worker permanently.
func (r *workerRepo) Delete(ctx context.Context, workerID string) error {
	res := r.db.WithContext(ctx).Where("worker_id = ?", workerID).Delete(&models.Worker{})
	if res.Error != nil {
		return fmt.Errorf("deleting worker: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

var _ WorkerRepository = (*workerRepo)(nil)
