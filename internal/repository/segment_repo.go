package repository

import (
	"context"
	"fmt"

	"github.com/vlogmedia/vlog/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// segmentRepo implements SegmentRepository using GORM.
type segmentRepo struct {
	db *gorm.DB
}

// NewSegmentRepository creates a new SegmentRepository.
func NewSegmentRepository(db *gorm.DB) *segmentRepo {
	return &segmentRepo{db: db}
}

// Upsert records a verified segment. Re-uploads of the same
// (video, quality, filename) overwrite the previous row.
func (r *segmentRepo) Upsert(ctx context.Context, segment *models.Segment) error {
	if segment.ID.IsZero() {
		segment.ID = models.NewULID()
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "video_id"}, {Name: "quality"}, {Name: "filename"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"size_bytes", "sha256", "updated_at",
		}),
	}).Create(segment).Error
	if err != nil {
		return fmt.Errorf("upserting segment: %w", err)
	}
	return nil
}

// CountForQuality returns how many segments a quality has.
func (r *segmentRepo) CountForQuality(ctx context.Context, videoID models.ULID, quality models.Quality) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Segment{}).
		Where("video_id = ? AND quality = ?", videoID, quality).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting segments: %w", err)
	}
	return count, nil
}

// FilenamesForQuality lists segment filenames for a quality in name order.
func (r *segmentRepo) FilenamesForQuality(ctx context.Context, videoID models.ULID, quality models.Quality) ([]string, error) {
	var names []string
	if err := r.db.WithContext(ctx).Model(&models.Segment{}).
		Where("video_id = ? AND quality = ?", videoID, quality).
		Order("filename ASC").
		Pluck("filename", &names).Error; err != nil {
		return nil, fmt.Errorf("listing segment filenames: %w", err)
	}
	return names, nil
}

// DeleteForVideo removes all segment rows of a video.
func (r *segmentRepo) DeleteForVideo(ctx context.Context, videoID models.ULID) error {
	if err := r.db.WithContext(ctx).
		Where("video_id = ?", videoID).
		Delete(&models.Segment{}).Error; err != nil {
		return fmt.Errorf("deleting segments: %w", err)
	}
	return nil
}

var _ SegmentRepository = (*segmentRepo)(nil)
