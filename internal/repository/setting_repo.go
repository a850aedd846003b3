package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/vlogmedia/vlog/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// settingRepo implements SettingRepository using GORM.
type settingRepo struct {
	db *gorm.DB
}

// NewSettingRepository creates a new SettingRepository.
func NewSettingRepository(db *gorm.DB) *settingRepo {
	return &settingRepo{db: db}
}

// Get retrieves a setting by key.
func (r *settingRepo) Get(ctx context.Context, key string) (*models.Setting, error) {
	var setting models.Setting
	if err := r.db.WithContext(ctx).Where("key = ?", key).First(&setting).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting setting: %w", err)
	}
	return &setting, nil
}

// GetAll retrieves all settings ordered by key.
func (r *settingRepo) GetAll(ctx context.Context) ([]*models.Setting, error) {
	var settings []*models.Setting
	if err := r.db.WithContext(ctx).Order("key ASC").Find(&settings).Error; err != nil {
		return nil, fmt.Errorf("listing settings: %w", err)
	}
	return settings, nil
}

// GetByCategory retrieves settings in a category.
func (r *settingRepo) GetByCategory(ctx context.Context, category string) ([]*models.Setting, error) {
	var settings []*models.Setting
	if err := r.db.WithContext(ctx).
		Where("category = ?", category).
		Order("key ASC").
		Find(&settings).Error; err != nil {
		return nil, fmt.Errorf("listing settings by category: %w", err)
	}
	return settings, nil
}

// Upsert creates or updates a setting after constraint validation.
func (r *settingRepo) Upsert(ctx context.Context, setting *models.Setting) error {
	if err := setting.Validate(); err != nil {
		return err
	}
	if setting.ID.IsZero() {
		setting.ID = models.NewULID()
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"value", "type", "category", "constraints", "updated_by", "updated_at",
		}),
	}).Create(setting).Error
	if err != nil {
		return fmt.Errorf("upserting setting: %w", err)
	}
	return nil
}

// Delete removes a setting.
func (r *settingRepo) Delete(ctx context.Context, key string) error {
	res := r.db.WithContext(ctx).Where("key = ?", key).Delete(&models.Setting{})
	if res.Error != nil {
		return fmt.Errorf("deleting setting: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

var _ SettingRepository = (*settingRepo)(nil)
