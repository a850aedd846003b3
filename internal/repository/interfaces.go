// Package repository defines data access interfaces for vlog entities.
// All database access goes through these interfaces; the catalog is the
// only writer of persistent state and every claim-sensitive mutation is a
// transactional update with its predicate in the WHERE clause.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/vlogmedia/vlog/internal/models"
)

// Sentinel errors surfaced by repositories.
var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrClaimLost is returned when the caller no longer holds the claim
	// it is trying to act on. Non-fatal; the worker aborts cleanly.
	ErrClaimLost = errors.New("claim lost")
	// ErrDuplicate is returned on unique-constraint conflicts.
	ErrDuplicate = errors.New("duplicate")
)

// VideoRepository defines operations for video persistence.
type VideoRepository interface {
	// Create creates a new video.
	Create(ctx context.Context, video *models.Video) error
	// GetByID retrieves a video by ID.
	GetByID(ctx context.Context, id models.ULID) (*models.Video, error)
	// GetBySlug retrieves a video by slug.
	GetBySlug(ctx context.Context, slug string) (*models.Video, error)
	// List retrieves videos with pagination, newest first.
	List(ctx context.Context, offset, limit int) ([]*models.Video, int64, error)
	// ListByCategory retrieves videos in a category.
	ListByCategory(ctx context.Context, category string, offset, limit int) ([]*models.Video, int64, error)
	// Categories returns distinct non-empty categories with counts.
	Categories(ctx context.Context) ([]CategoryCount, error)
	// UpdateStatus sets the video status.
	UpdateStatus(ctx context.Context, id models.ULID, status models.VideoStatus) error
	// UpdateMedia records probed duration and dimensions.
	UpdateMedia(ctx context.Context, id models.ULID, duration float64, width, height int) error
	// Update saves the full video row.
	Update(ctx context.Context, video *models.Video) error
	// Delete soft-deletes a video.
	Delete(ctx context.Context, id models.ULID) error
}

// CategoryCount is a distinct category with its video count.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int64  `json:"count"`
}

// JobRepository defines the transactional claim/lease primitives of the
// catalog. All claim-sensitive operations verify ownership inside the
// UPDATE's WHERE clause so two coordinators cannot disagree.
type JobRepository interface {
	// Create creates the companion job for a video.
	Create(ctx context.Context, job *models.Job) error
	// GetByID retrieves a job by ID.
	GetByID(ctx context.Context, id models.ULID) (*models.Job, error)
	// GetByVideoID retrieves the job for a video.
	GetByVideoID(ctx context.Context, videoID models.ULID) (*models.Job, error)
	// ClaimNext atomically claims the oldest claimable job whose video is
	// pending and whose codec the capabilities cover. Returns nil when no
	// work is available.
	ClaimNext(ctx context.Context, workerID string, caps models.Capabilities, now time.Time, lease time.Duration) (*models.Job, error)
	// ExtendClaim pushes claim_expires_at to now+lease if workerID still
	// holds the claim; returns ErrClaimLost otherwise. Never reduces the
	// expiry.
	ExtendClaim(ctx context.Context, jobID models.ULID, workerID string, now time.Time, lease time.Duration) (time.Time, error)
	// UpdateProgress records step/percent and advances last_checkpoint,
	// extending the claim like a heartbeat. Requires an active claim.
	UpdateProgress(ctx context.Context, jobID models.ULID, workerID string, now time.Time, lease time.Duration, step string, percent float64) error
	// Complete finishes the job: requires the active claim, writes
	// completed_at, and marks the video ready.
	Complete(ctx context.Context, jobID models.ULID, workerID string, now time.Time) error
	// Fail records a failure. With retry and attempts remaining the claim
	// is cleared and the job becomes retrying; otherwise the job and its
	// video become terminally failed. The next claim starts a new attempt.
	Fail(ctx context.Context, jobID models.ULID, workerID string, errMsg string, retry bool, now time.Time) (*models.Job, error)
	// Requeue resets a terminal job for a fresh attempt (admin re-queue).
	Requeue(ctx context.Context, jobID models.ULID) error
	// ReapExpired clears claims on jobs whose lease lapsed. Returns the
	// affected jobs for auditing.
	ReapExpired(ctx context.Context, now time.Time) ([]*models.Job, error)
	// FailStale soft-fails non-terminal jobs whose last_checkpoint is older
	// than cutoff, attributed to the last known worker.
	FailStale(ctx context.Context, now time.Time, staleAfter time.Duration, maxAttempts int) ([]*models.Job, error)
	// QualityProgress returns the per-variant rows for a job.
	QualityProgress(ctx context.Context, jobID models.ULID) ([]*models.QualityProgress, error)
	// UpsertQualityProgress writes one per-variant row keyed on (job_id, quality).
	UpsertQualityProgress(ctx context.Context, qp *models.QualityProgress) error
}

// WorkerRepository defines operations for worker persistence.
type WorkerRepository interface {
	// Create registers a new worker.
	Create(ctx context.Context, worker *models.Worker) error
	// GetByID retrieves a worker by its UUID.
	GetByID(ctx context.Context, workerID string) (*models.Worker, error)
	// GetAll retrieves all workers.
	GetAll(ctx context.Context) ([]*models.Worker, error)
	// Heartbeat updates last_heartbeat, status, and optional metadata.
	Heartbeat(ctx context.Context, workerID string, status models.WorkerStatus, metadata models.WorkerMetadata, now time.Time) error
	// SetCurrentJob points the worker at its claimed job (nil to clear).
	SetCurrentJob(ctx context.Context, workerID string, jobID *models.ULID) error
	// UpdateCapabilities replaces the reported capabilities.
	UpdateCapabilities(ctx context.Context, workerID string, caps models.Capabilities) error
	// SetStatus sets the worker status.
	SetStatus(ctx context.Context, workerID string, status models.WorkerStatus) error
	// MarkOffline marks workers silent since cutoff as offline and clears
	// their current job; returns the affected worker IDs.
	MarkOffline(ctx context.Context, cutoff time.Time) ([]string, error)
	// Delete removes a worker permanently.
	Delete(ctx context.Context, workerID string) error
}

// APIKeyRepository defines operations for API key persistence.
type APIKeyRepository interface {
	// Create stores a new hashed key.
	Create(ctx context.Context, key *models.APIKey) error
	// CandidatesByPrefix returns non-revoked, unexpired keys matching the
	// prefix. The prefix narrows lookup but never authenticates.
	CandidatesByPrefix(ctx context.Context, prefix string, now time.Time) ([]*models.APIKey, error)
	// TouchLastUsed updates last_used_at.
	TouchLastUsed(ctx context.Context, id models.ULID, now time.Time) error
	// RevokeForWorker revokes all keys of a worker.
	RevokeForWorker(ctx context.Context, workerID string, now time.Time) error
}

// SessionRepository defines operations for admin session persistence.
type SessionRepository interface {
	// Create stores a new session.
	Create(ctx context.Context, session *models.AdminSession) error
	// GetByTokenHash retrieves a session by token hash.
	GetByTokenHash(ctx context.Context, tokenHash string) (*models.AdminSession, error)
	// TouchLastUsed updates last_used_at.
	TouchLastUsed(ctx context.Context, id models.ULID, now time.Time) error
	// Delete removes a session (logout or rotation).
	Delete(ctx context.Context, tokenHash string) error
	// DeleteExpired purges sessions past expiry; returns the count removed.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// SettingRepository defines operations for runtime settings.
type SettingRepository interface {
	// Get retrieves a setting by key.
	Get(ctx context.Context, key string) (*models.Setting, error)
	// GetAll retrieves all settings ordered by key.
	GetAll(ctx context.Context) ([]*models.Setting, error)
	// GetByCategory retrieves settings in a category.
	GetByCategory(ctx context.Context, category string) ([]*models.Setting, error)
	// Upsert creates or updates a setting after constraint validation.
	Upsert(ctx context.Context, setting *models.Setting) error
	// Delete removes a setting.
	Delete(ctx context.Context, key string) error
}

// DeploymentRepository defines operations for deployment events.
type DeploymentRepository interface {
	// Create appends a deployment event.
	Create(ctx context.Context, event *models.DeploymentEvent) error
	// Complete sets the terminal status of an event.
	Complete(ctx context.Context, id models.ULID, status models.DeploymentEventStatus, now time.Time) error
	// ListForWorker retrieves events for a worker, newest first.
	ListForWorker(ctx context.Context, workerID string, limit int) ([]*models.DeploymentEvent, error)
}

// SegmentRepository defines operations for verified segment metadata.
type SegmentRepository interface {
	// Upsert records a verified segment; the (video, quality, filename)
	// key makes re-uploads idempotent.
	Upsert(ctx context.Context, segment *models.Segment) error
	// CountForQuality returns how many segments a quality has.
	CountForQuality(ctx context.Context, videoID models.ULID, quality models.Quality) (int64, error)
	// FilenamesForQuality lists segment filenames for a quality.
	FilenamesForQuality(ctx context.Context, videoID models.ULID, quality models.Quality) ([]string, error)
	// DeleteForVideo removes all segment rows of a video.
	DeleteForVideo(ctx context.Context, videoID models.ULID) error
}
