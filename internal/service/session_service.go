package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vlogmedia/vlog/internal/auth"
	"github.com/vlogmedia/vlog/internal/models"
	"github.com/vlogmedia/vlog/internal/repository"
)

// ErrUnauthorized is returned for any failed admin authentication. It is
// deliberately generic; the boundary never explains which check failed.
var ErrUnauthorized = errors.New("unauthorized")

// SessionService manages admin sessions: login against the configured
// secret, opaque-token validation, logout, and expiry purging.
type SessionService struct {
	repo        repository.SessionRepository
	adminSecret string
	ttl         time.Duration
	audit       *AuditLogger
	logger      *slog.Logger
}

// NewSessionService creates a SessionService.
func NewSessionService(repo repository.SessionRepository, adminSecret string, ttl time.Duration, audit *AuditLogger, log *slog.Logger) *SessionService {
	if log == nil {
		log = slog.Default()
	}
	return &SessionService{
		repo:        repo,
		adminSecret: adminSecret,
		ttl:         ttl,
		audit:       audit,
		logger:      log.With(slog.String("component", "sessions")),
	}
}

// Login verifies the admin secret and mints a new session. The returned
// token is the only copy; the store keeps its hash.
func (s *SessionService) Login(ctx context.Context, secret, ip, userAgent string) (string, *models.AdminSession, error) {
	ok := s.adminSecret != "" && auth.ConstantTimeEquals(secret, s.adminSecret)
	s.recordAudit(AuditEntry{
		Action:    "admin.login",
		IPAddress: ip,
		UserAgent: userAgent,
		Success:   ok,
	})
	if !ok {
		return "", nil, ErrUnauthorized
	}

	token, tokenHash, err := auth.GenerateSessionToken()
	if err != nil {
		return "", nil, err
	}

	session := &models.AdminSession{
		TokenHash: tokenHash,
		ExpiresAt: models.Now().Add(s.ttl),
		IPAddress: ip,
		UserAgent: truncate(userAgent, maxAuditUserAgentLen),
	}
	if err := s.repo.Create(ctx, session); err != nil {
		return "", nil, fmt.Errorf("creating session: %w", err)
	}
	return token, session, nil
}

// Validate resolves a session token to its live session. Expired sessions
// are deleted on sight.
func (s *SessionService) Validate(ctx context.Context, token string) (*models.AdminSession, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}
	tokenHash := auth.HashSessionToken(token)

	session, err := s.repo.GetByTokenHash(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}

	now := models.Now()
	if session.Expired(now) {
		_ = s.repo.Delete(ctx, tokenHash)
		return nil, ErrUnauthorized
	}

	if err := s.repo.TouchLastUsed(ctx, session.ID, now); err != nil {
		s.logger.Debug("session touch failed", slog.String("error", err.Error()))
	}
	return session, nil
}

// Logout deletes the session for token. Unknown tokens are a no-op.
func (s *SessionService) Logout(ctx context.Context, token, ip string) error {
	if token == "" {
		return nil
	}
	s.recordAudit(AuditEntry{Action: "admin.logout", IPAddress: ip, Success: true})
	return s.repo.Delete(ctx, auth.HashSessionToken(token))
}

// PurgeExpired removes sessions past expiry. Run periodically.
func (s *SessionService) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.repo.DeleteExpired(ctx, models.Now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("purged expired admin sessions", slog.Int64("count", n))
	}
	return n, nil
}

// VerifySecret checks a raw X-Admin-Secret header value.
func (s *SessionService) VerifySecret(secret string) bool {
	return s.adminSecret != "" && auth.ConstantTimeEquals(secret, s.adminSecret)
}

func (s *SessionService) recordAudit(entry AuditEntry) {
	if s.audit != nil {
		s.audit.Record(entry)
	}
}
