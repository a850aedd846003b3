package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vlogmedia/vlog/internal/models"
	"gorm.io/gorm"
)

// sessionRepo implements SessionRepository using GORM.
type sessionRepo struct {
	db *gorm.DB
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(db *gorm.DB) *sessionRepo {
	return &sessionRepo{db: db}
}

// Create stores a new session.
func (r *sessionRepo) Create(ctx context.Context, session *models.AdminSession) error {
	if err := r.db.WithContext(ctx).Create(session).Error; err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	return nil
}

// GetByTokenHash retrieves a session by token hash.
func (r *sessionRepo) GetByTokenHash(ctx context.Context, tokenHash string) (*models.AdminSession, error) {
	var session models.AdminSession
	if err := r.db.WithContext(ctx).Where("token_hash = ?", tokenHash).First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting session: %w", err)
	}
	return &session, nil
}

// TouchLastUsed updates last_used_at.
func (r *sessionRepo) TouchLastUsed(ctx context.Context, id models.ULID, now time.Time) error {
	if err := r.db.WithContext(ctx).Model(&models.AdminSession{}).
		Where("id = ?", id).
		Update("last_used_at", now).Error; err != nil {
		return fmt.Errorf("touching session: %w", err)
	}
	return nil
}

// Delete removes a session (logout or rotation).
func (r *sessionRepo) Delete(ctx context.Context, tokenHash string) error {
	if err := r.db.WithContext(ctx).
		Where("token_hash = ?", tokenHash).
		Delete(&models.AdminSession{}).Error; err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// DeleteExpired purges sessions past expiry.
func (r *sessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("expires_at <= ?", now).
		Delete(&models.AdminSession{})
	if res.Error != nil {
		return 0, fmt.Errorf("purging expired sessions: %w", res.Error)
	}
	return res.RowsAffected, nil
}

var _ SessionRepository = (*sessionRepo)(nil)
