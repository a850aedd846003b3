package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/vlogmedia/vlog/internal/models"
	"gorm.io/gorm"
)

// deploymentRepo implements DeploymentRepository using GORM.
type deploymentRepo struct {
	db *gorm.DB
}

// NewDeploymentRepository creates a new DeploymentRepository.
func NewDeploymentRepository(db *gorm.DB) *deploymentRepo {
	return &deploymentRepo{db: db}
}

// Create appends a deployment event.
func (r *deploymentRepo) Create(ctx context.Context, event *models.DeploymentEvent) error {
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("creating deployment event: %w", err)
	}
	return nil
}

// Complete sets the terminal status of an event.
func (r *deploymentRepo) Complete(ctx context.Context, id models.ULID, status models.DeploymentEventStatus, now time.Time) error {
	res := r.db.WithContext(ctx).Model(&models.DeploymentEvent{}).
		Where("id = ? AND status = ?", id, models.DeploymentStatusPending).
		Updates(map[string]any{
			"status":       status,
			"completed_at": now,
		})
	if res.Error != nil {
		return fmt.Errorf("completing deployment event: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListForWorker retrieves events for a worker, newest first.
func (r *deploymentRepo) ListForWorker(ctx context.Context, workerID string, limit int) ([]*models.DeploymentEvent, error) {
	var events []*models.DeploymentEvent
	if err := r.db.WithContext(ctx).
		Where("worker_id = ?", workerID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&events).Error; err != nil {
		return nil, fmt.Errorf("listing deployment events: %w", err)
	}
	return events, nil
}

var _ DeploymentRepository = (*deploymentRepo)(nil)
