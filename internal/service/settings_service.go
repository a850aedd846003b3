package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/vlogmedia/vlog/internal/models"
	"github.com/vlogmedia/vlog/internal/repository"
)

// SettingsService resolves runtime settings with a short-lived read cache.
// Resolution order: catalog row, then the predictable VLOG_ environment
// fallback, then the caller's default. Writes validate against the declared
// constraints and invalidate the cache immediately.
type SettingsService struct {
	repo   repository.SettingRepository
	logger *slog.Logger
	ttl    time.Duration

	mu        sync.RWMutex
	cache     map[string]*models.Setting
	fetchedAt time.Time
}

// NewSettingsService creates a SettingsService with the given cache TTL.
func NewSettingsService(repo repository.SettingRepository, ttl time.Duration, log *slog.Logger) *SettingsService {
	if log == nil {
		log = slog.Default()
	}
	return &SettingsService{
		repo:   repo,
		logger: log.With(slog.String("component", "settings")),
		ttl:    ttl,
	}
}

// Get returns the resolved string value for key, falling back to the VLOG_
// environment variable and then to def.
func (s *SettingsService) Get(ctx context.Context, key, def string) string {
	if setting := s.cached(ctx, key); setting != nil {
		return setting.Value
	}
	if v, ok := os.LookupEnv(models.EnvName(key)); ok {
		return v
	}
	return def
}

// GetInt resolves key as an integer, falling back on parse failure.
func (s *SettingsService) GetInt(ctx context.Context, key string, def int) int {
	raw := s.Get(ctx, key, strconv.Itoa(def))
	n, err := strconv.Atoi(raw)
	if err != nil {
		s.logger.Warn("setting is not an integer", slog.String("key", key), slog.String("value", raw))
		return def
	}
	return n
}

// GetBool resolves key as a boolean, falling back on parse failure.
func (s *SettingsService) GetBool(ctx context.Context, key string, def bool) bool {
	raw := s.Get(ctx, key, strconv.FormatBool(def))
	b, err := strconv.ParseBool(raw)
	if err != nil {
		s.logger.Warn("setting is not a boolean", slog.String("key", key), slog.String("value", raw))
		return def
	}
	return b
}

// GetDuration resolves key as a duration, falling back on parse failure.
func (s *SettingsService) GetDuration(ctx context.Context, key string, def time.Duration) time.Duration {
	raw := s.Get(ctx, key, def.String())
	d, err := time.ParseDuration(raw)
	if err != nil {
		s.logger.Warn("setting is not a duration", slog.String("key", key), slog.String("value", raw))
		return def
	}
	return d
}

// List returns all settings from the catalog, bypassing the cache.
func (s *SettingsService) List(ctx context.Context) ([]*models.Setting, error) {
	return s.repo.GetAll(ctx)
}

// ListByCategory returns the settings of one category.
func (s *SettingsService) ListByCategory(ctx context.Context, category string) ([]*models.Setting, error) {
	return s.repo.GetByCategory(ctx, category)
}

// Describe returns the full setting row for key, or ErrNotFound.
func (s *SettingsService) Describe(ctx context.Context, key string) (*models.Setting, error) {
	return s.repo.Get(ctx, key)
}

// Set validates and persists a setting value, then invalidates the cache so
// the next read observes the new value.
func (s *SettingsService) Set(ctx context.Context, key, value, updatedBy string) (*models.Setting, error) {
	setting, err := s.repo.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		// First write of an undeclared key defaults to a free-form string.
		setting = &models.Setting{Key: key, Type: models.SettingTypeString}
	}

	if err := setting.ValidateValue(value); err != nil {
		return nil, err
	}
	setting.Value = value
	setting.UpdatedBy = updatedBy

	if err := s.repo.Upsert(ctx, setting); err != nil {
		return nil, fmt.Errorf("persisting setting: %w", err)
	}
	s.Invalidate()
	return setting, nil
}

// Delete removes a setting and invalidates the cache.
func (s *SettingsService) Delete(ctx context.Context, key string) error {
	if err := s.repo.Delete(ctx, key); err != nil {
		return err
	}
	s.Invalidate()
	return nil
}

// Invalidate drops the read cache.
func (s *SettingsService) Invalidate() {
	s.mu.Lock()
	s.cache = nil
	s.mu.Unlock()
}

// cached returns the setting row from the TTL cache, refreshing it as a
// whole when stale. Cache misses after a fresh load mean the key truly has
// no catalog row.
func (s *SettingsService) cached(ctx context.Context, key string) *models.Setting {
	s.mu.RLock()
	fresh := s.cache != nil && time.Since(s.fetchedAt) < s.ttl
	if fresh {
		setting := s.cache[key]
		s.mu.RUnlock()
		return setting
	}
	s.mu.RUnlock()

	all, err := s.repo.GetAll(ctx)
	if err != nil {
		s.logger.Warn("settings refresh failed", slog.String("error", err.Error()))
		return nil
	}

	next := make(map[string]*models.Setting, len(all))
	for _, setting := range all {
		next[setting.Key] = setting
	}

	s.mu.Lock()
	s.cache = next
	s.fetchedAt = time.Now()
	setting := s.cache[key]
	s.mu.Unlock()
	return setting
}
