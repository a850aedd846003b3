package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/vlogmedia/vlog/internal/models"
	"gorm.io/gorm"
)

// apiKeyRepo implements APIKeyRepository using GORM.
type apiKeyRepo struct {
	db *gorm.DB
}

// NewAPIKeyRepository creates a new APIKeyRepository.
func NewAPIKeyRepository(db *gorm.DB) *apiKeyRepo {
	return &apiKeyRepo{db: db}
}

// Create stores a new hashed key.
func (r *apiKeyRepo) Create(ctx context.Context, key *models.APIKey) error {
	if err := r.db.WithContext(ctx).Create(key).Error; err != nil {
		return fmt.Errorf("creating API key: %w", err)
	}
	return nil
}

// CandidatesByPrefix returns non-revoked, unexpired keys matching the prefix.
// The prefix only narrows the verification set; authentication is the
// constant-time hash comparison done by the caller.
func (r *apiKeyRepo) CandidatesByPrefix(ctx context.Context, prefix string, now time.Time) ([]*models.APIKey, error) {
	var keys []*models.APIKey
	err := r.db.WithContext(ctx).
		Where("key_prefix = ?", prefix).
		Where("revoked_at IS NULL").
		Where("expires_at IS NULL OR expires_at > ?", now).
		Find(&keys).Error
	if err != nil {
		return nil, fmt.Errorf("looking up API keys: %w", err)
	}
	return keys, nil
}

// TouchLastUsed updates last_used_at.
func (r *apiKeyRepo) TouchLastUsed(ctx context.Context, id models.ULID, now time.Time) error {
	if err := r.db.WithContext(ctx).Model(&models.APIKey{}).
		Where("id = ?", id).
		Update("last_used_at", now).Error; err != nil {
		return fmt.Errorf("touching API key: %w", err)
	}
	return nil
}

// RevokeForWorker revokes all active keys of a worker.
func (r *apiKeyRepo) RevokeForWorker(ctx context.Context, workerID string, now time.Time) error {
	if err := r.db.WithContext(ctx).Model(&models.APIKey{}).
		Where("worker_id = ? AND revoked_at IS NULL", workerID).
		Update("revoked_at", now).Error; err != nil {
		return fmt.Errorf("revoking API keys: %w", err)
	}
	return nil
}

var _ APIKeyRepository = (*apiKeyRepo)(nil)
