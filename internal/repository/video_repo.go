package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vlogmedia/vlog/internal/models"
	"gorm.io/gorm"
)

// videoRepo implements VideoRepository using GORM.
type videoRepo struct {
	db *gorm.DB
}

// NewVideoRepository creates a new VideoRepository.
func NewVideoRepository(db *gorm.DB) *videoRepo {
	return &videoRepo{db: db}
}

// Create creates a new video.
func (r *videoRepo) Create(ctx context.Context, video *models.Video) error {
	if err := r.db.WithContext(ctx).Create(video).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("creating video: %w", err)
	}
	return nil
}

// GetByID retrieves a video by ID.
func (r *videoRepo) GetByID(ctx context.Context, id models.ULID) (*models.Video, error) {
	var video models.Video
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&video).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting video by ID: %w", err)
	}
	return &video, nil
}

// GetBySlug retrieves a video by slug.
func (r *videoRepo) GetBySlug(ctx context.Context, slug string) (*models.Video, error) {
	var video models.Video
	if err := r.db.WithContext(ctx).Where("slug = ?", slug).First(&video).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting video by slug: %w", err)
	}
	return &video, nil
}

// List retrieves videos with pagination, newest first.
func (r *videoRepo) List(ctx context.Context, offset, limit int) ([]*models.Video, int64, error) {
	return r.list(ctx, r.db.WithContext(ctx).Model(&models.Video{}), offset, limit)
}

// ListByCategory retrieves videos in a category, newest first.
func (r *videoRepo) ListByCategory(ctx context.Context, category string, offset, limit int) ([]*models.Video, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.Video{}).Where("category = ?", category)
	return r.list(ctx, q, offset, limit)
}

func (r *videoRepo) list(ctx context.Context, q *gorm.DB, offset, limit int) ([]*models.Video, int64, error) {
	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting videos: %w", err)
	}

	var videos []*models.Video
	if err := q.Order("created_at DESC, id DESC").Offset(offset).Limit(limit).Find(&videos).Error; err != nil {
		return nil, 0, fmt.Errorf("listing videos: %w", err)
	}
	return videos, total, nil
}

// Categories returns distinct non-empty categories with counts, sorted by name.
func (r *videoRepo) Categories(ctx context.Context) ([]CategoryCount, error) {
	var counts []CategoryCount
	err := r.db.WithContext(ctx).Model(&models.Video{}).
		Select("category, COUNT(*) as count").
		Where("category <> ''").
		Group("category").
		Order("category ASC").
		Scan(&counts).Error
	if err != nil {
		return nil, fmt.Errorf("listing categories: %w", err)
	}
	return counts, nil
}

// UpdateStatus sets the video status.
func (r *videoRepo) UpdateStatus(ctx context.Context, id models.ULID, status models.VideoStatus) error {
	res := r.db.WithContext(ctx).Model(&models.Video{}).Where("id = ?", id).Update("status", status)
	if res.Error != nil {
		return fmt.Errorf("updating video status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateMedia records probed duration and dimensions.
func (r *videoRepo) UpdateMedia(ctx context.Context, id models.ULID, duration float64, width, height int) error {
	res := r.db.WithContext(ctx).Model(&models.Video{}).Where("id = ?", id).Updates(map[string]any{
		"duration_seconds": duration,
		"source_width":     width,
		"source_height":    height,
	})
	if res.Error != nil {
		return fmt.Errorf("updating video media info: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Update saves the full video row.
func (r *videoRepo) Update(ctx context.Context, video *models.Video) error {
	if err := r.db.WithContext(ctx).Save(video).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("updating video: %w", err)
	}
	return nil
}

// Delete soft-deletes a video.
func (r *videoRepo) Delete(ctx context.Context, id models.ULID) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Video{})
	if res.Error != nil {
		return fmt.Errorf("deleting video: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// isUniqueViolation detects unique-constraint errors across the supported
// drivers without importing driver-specific error types.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "unique failed") ||
		strings.Contains(msg, "duplicate entry") ||
		strings.Contains(msg, "duplicate key")
}

var _ VideoRepository = (*videoRepo)(nil)
