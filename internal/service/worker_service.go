// Package service implements the business logic between the HTTP layer and
// the repositories.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/vlogmedia/vlog/internal/auth"
	"github.com/vlogmedia/vlog/internal/bus"
	"github.com/vlogmedia/vlog/internal/models"
	"github.com/vlogmedia/vlog/internal/repository"
)

// commandTimeout bounds how long an operator command waits for the worker's
// reply on the response channel.
const commandTimeout = 10 * time.Second

// WorkerService manages the worker registry: registration with key
// issuance, per-request authentication, heartbeats, and the operator
// control channel.
type WorkerService struct {
	workers     repository.WorkerRepository
	keys        repository.APIKeyRepository
	deployments repository.DeploymentRepository
	events      *bus.Bus
	audit       *AuditLogger
	logger      *slog.Logger

	offlineAfter time.Duration
}

// NewWorkerService creates a WorkerService.
func NewWorkerService(
	workers repository.WorkerRepository,
	keys repository.APIKeyRepository,
	deployments repository.DeploymentRepository,
	events *bus.Bus,
	offlineAfter time.Duration,
	audit *AuditLogger,
	log *slog.Logger,
) *WorkerService {
	if log == nil {
		log = slog.Default()
	}
	return &WorkerService{
		workers:      workers,
		keys:         keys,
		deployments:  deployments,
		events:       events,
		audit:        audit,
		logger:       log.With(slog.String("component", "workers")),
		offlineAfter: offlineAfter,
	}
}

// RegisteredWorker is the result of a successful registration. PlainKey is
// the only copy of the credential; it is never stored or logged.
type RegisteredWorker struct {
	Worker   *models.Worker
	PlainKey string
}

// Register creates a worker identity and issues its API key.
func (s *WorkerService) Register(ctx context.Context, name string, workerType models.WorkerType, caps models.Capabilities, metadata models.WorkerMetadata) (*RegisteredWorker, error) {
	if err := caps.Validate(); err != nil {
		return nil, err
	}
	if metadata != nil {
		if err := metadata.Validate(); err != nil {
			return nil, err
		}
	}

	worker := &models.Worker{
		WorkerID:     uuid.NewString(),
		WorkerName:   name,
		WorkerType:   workerType,
		RegisteredAt: models.Now(),
		Status:       models.WorkerStatusActive,
		Capabilities: caps,
		Metadata:     metadata,
	}
	if err := s.workers.Create(ctx, worker); err != nil {
		return nil, fmt.Errorf("registering worker: %w", err)
	}

	plainKey, err := s.issueKey(ctx, worker.WorkerID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("worker registered",
		slog.String("worker_id", worker.WorkerID),
		slog.String("worker_name", name),
		slog.String("worker_type", string(workerType)),
	)
	s.recordDeployment(ctx, worker.WorkerID, models.DeploymentEventDeploy, "", caps.FFmpegVersion, "register")
	s.publishStatus(ctx, worker)

	return &RegisteredWorker{Worker: worker, PlainKey: plainKey}, nil
}

// issueKey mints, hashes, and stores a fresh API key for a worker.
func (s *WorkerService) issueKey(ctx context.Context, workerID string) (string, error) {
	plainKey, prefix, err := auth.GenerateAPIKey()
	if err != nil {
		return "", err
	}
	keyHash, err := auth.HashAPIKey(plainKey)
	if err != nil {
		return "", err
	}
	key := &models.APIKey{
		WorkerID:    workerID,
		KeyHash:     keyHash,
		KeyPrefix:   prefix,
		HashVersion: models.HashVersionArgon2id,
	}
	if err := s.keys.Create(ctx, key); err != nil {
		return "", fmt.Errorf("storing API key: %w", err)
	}
	return plainKey, nil
}

// Authenticate resolves an X-Worker-API-Key value to its worker. All
// failures collapse into ErrInvalidCredentials.
func (s *WorkerService) Authenticate(ctx context.Context, plainKey string) (*models.Worker, error) {
	if len(plainKey) < models.KeyPrefixLen {
		return nil, auth.ErrInvalidCredentials
	}

	now := models.Now()
	candidates, err := s.keys.CandidatesByPrefix(ctx, plainKey[:models.KeyPrefixLen], now)
	if err != nil {
		return nil, fmt.Errorf("resolving API key: %w", err)
	}

	for _, key := range candidates {
		if auth.VerifyAPIKey(plainKey, key.KeyHash, key.HashVersion) != nil {
			continue
		}
		worker, err := s.workers.GetByID(ctx, key.WorkerID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, auth.ErrInvalidCredentials
			}
			return nil, err
		}
		if worker.Status == models.WorkerStatusDisabled {
			return nil, auth.ErrInvalidCredentials
		}
		if err := s.keys.TouchLastUsed(ctx, key.ID, now); err != nil {
			s.logger.Debug("API key touch failed", slog.String("error", err.Error()))
		}
		return worker, nil
	}
	return nil, auth.ErrInvalidCredentials
}

// RotateKey revokes a worker's keys and issues a replacement.
func (s *WorkerService) RotateKey(ctx context.Context, workerID, actor string) (string, error) {
	if _, err := s.workers.GetByID(ctx, workerID); err != nil {
		return "", err
	}
	now := models.Now()
	if err := s.keys.RevokeForWorker(ctx, workerID, now); err != nil {
		return "", err
	}
	plainKey, err := s.issueKey(ctx, workerID)
	if err != nil {
		return "", err
	}
	s.recordAudit(AuditEntry{Action: "worker.rotate_key", Actor: actor, Subject: workerID, Success: true})
	return plainKey, nil
}

// Heartbeat records a worker's liveness report and, when status changed,
// fans the change out on the event bus.
func (s *WorkerService) Heartbeat(ctx context.Context, worker *models.Worker, status models.WorkerStatus, metadata models.WorkerMetadata) error {
	now := models.Now()
	changed := worker.Status != status

	if err := s.workers.Heartbeat(ctx, worker.WorkerID, status, metadata, now); err != nil {
		return err
	}
	if changed {
		worker.Status = status
		s.publishStatus(ctx, worker)
	}
	return nil
}

// UpdateCapabilities replaces the reported capabilities, recording a version
// change event when the FFmpeg version moved.
func (s *WorkerService) UpdateCapabilities(ctx context.Context, worker *models.Worker, caps models.Capabilities) error {
	if err := caps.Validate(); err != nil {
		return err
	}
	if err := s.workers.UpdateCapabilities(ctx, worker.WorkerID, caps); err != nil {
		return err
	}
	if worker.Capabilities.FFmpegVersion != "" && caps.FFmpegVersion != worker.Capabilities.FFmpegVersion {
		s.recordDeployment(ctx, worker.WorkerID, models.DeploymentEventVersionChange,
			worker.Capabilities.FFmpegVersion, caps.FFmpegVersion, "heartbeat")
	}
	worker.Capabilities = caps
	return nil
}

// Get returns one worker.
func (s *WorkerService) Get(ctx context.Context, workerID string) (*models.Worker, error) {
	return s.workers.GetByID(ctx, workerID)
}

// List returns all workers with their derived online state applied: a
// worker whose heartbeat lapsed is reported offline even before the reaper
// persists the flip.
func (s *WorkerService) List(ctx context.Context) ([]*models.Worker, error) {
	workers, err := s.workers.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	now := models.Now()
	for _, w := range workers {
		if w.Status != models.WorkerStatusDisabled && w.Status != models.WorkerStatusOffline && w.IsOffline(now, s.offlineAfter) {
			w.Status = models.WorkerStatusOffline
		}
	}
	return workers, nil
}

// SetEnabled enables or disables a worker. Disabling revokes nothing; the
// worker simply fails authentication until re-enabled.
func (s *WorkerService) SetEnabled(ctx context.Context, workerID string, enabled bool, actor string) error {
	status := models.WorkerStatusDisabled
	action := "worker.disable"
	if enabled {
		status = models.WorkerStatusIdle
		action = "worker.enable"
	}
	if err := s.workers.SetStatus(ctx, workerID, status); err != nil {
		return err
	}
	s.recordAudit(AuditEntry{Action: action, Actor: actor, Subject: workerID, Success: true})

	if worker, err := s.workers.GetByID(ctx, workerID); err == nil {
		s.publishStatus(ctx, worker)
	}
	return nil
}

// Delete removes a worker and revokes its keys.
func (s *WorkerService) Delete(ctx context.Context, workerID, actor string) error {
	if err := s.keys.RevokeForWorker(ctx, workerID, models.Now()); err != nil {
		return err
	}
	if err := s.workers.Delete(ctx, workerID); err != nil {
		return err
	}
	s.recordAudit(AuditEntry{Action: "worker.delete", Actor: actor, Subject: workerID, Success: true})
	return nil
}

// SendCommand publishes an operator command on the worker's command channel
// and waits for the reply. Deployment-shaped commands are recorded as
// deployment events with their outcome.
func (s *WorkerService) SendCommand(ctx context.Context, workerID, command string, args map[string]string, actor string) (*bus.CommandResponseEvent, error) {
	worker, err := s.workers.GetByID(ctx, workerID)
	if err != nil {
		return nil, err
	}
	if worker.Status == models.WorkerStatusOffline || worker.Status == models.WorkerStatusDisabled {
		return nil, fmt.Errorf("worker %s is %s", workerID, worker.Status)
	}

	requestID := uuid.NewString()
	var eventID models.ULID
	if evType, ok := deploymentEventFor(command); ok {
		ev := &models.DeploymentEvent{
			WorkerID:    workerID,
			EventType:   evType,
			Status:      models.DeploymentStatusPending,
			TriggeredBy: actor,
		}
		if err := s.deployments.Create(ctx, ev); err != nil {
			s.logger.Warn("deployment event not recorded", slog.String("error", err.Error()))
		} else {
			eventID = ev.ID
		}
	}

	cmdCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	// Subscribe before publishing so the reply cannot be missed.
	type result struct {
		resp *bus.CommandResponseEvent
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := s.events.AwaitResponse(cmdCtx, workerID, requestID)
		done <- result{resp, err}
	}()

	if err := s.events.PublishCommand(cmdCtx, workerID, bus.CommandEvent{
		RequestID: requestID,
		Command:   command,
		Args:      args,
	}); err != nil {
		cancel()
		<-done
		s.completeDeployment(ctx, eventID, models.DeploymentStatusFailed)
		return nil, fmt.Errorf("sending command: %w", err)
	}

	r := <-done
	s.recordAudit(AuditEntry{
		Action:  "worker.command." + command,
		Actor:   actor,
		Subject: workerID,
		Success: r.err == nil && r.resp != nil && r.resp.Success,
	})
	if r.err != nil {
		s.completeDeployment(ctx, eventID, models.DeploymentStatusFailed)
		return nil, fmt.Errorf("awaiting command response: %w", r.err)
	}
	if r.resp.Success {
		s.completeDeployment(ctx, eventID, models.DeploymentStatusCompleted)
	} else {
		s.completeDeployment(ctx, eventID, models.DeploymentStatusFailed)
	}
	return r.resp, nil
}

// DeploymentHistory lists recorded deployment events for a worker.
func (s *WorkerService) DeploymentHistory(ctx context.Context, workerID string, limit int) ([]*models.DeploymentEvent, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.deployments.ListForWorker(ctx, workerID, limit)
}

// MarkSilentOffline flips workers whose heartbeats lapsed and fans out the
// status change. Called by the reaper.
func (s *WorkerService) MarkSilentOffline(ctx context.Context) ([]string, error) {
	cutoff := models.Now().Add(-s.offlineAfter)
	ids, err := s.workers.MarkOffline(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		s.logger.Warn("worker went offline", slog.String("worker_id", id))
		if worker, err := s.workers.GetByID(ctx, id); err == nil {
			s.publishStatus(ctx, worker)
		}
	}
	return ids, nil
}

// deploymentEventFor maps operator commands to deployment event types.
func deploymentEventFor(command string) (models.DeploymentEventType, bool) {
	switch command {
	case bus.CommandRestart:
		return models.DeploymentEventRestart, true
	case bus.CommandStop:
		return models.DeploymentEventStop, true
	case bus.CommandUpdate:
		return models.DeploymentEventUpdate, true
	default:
		return "", false
	}
}

func (s *WorkerService) completeDeployment(ctx context.Context, id models.ULID, status models.DeploymentEventStatus) {
	if id.IsZero() {
		return
	}
	if err := s.deployments.Complete(ctx, id, status, models.Now()); err != nil {
		s.logger.Debug("deployment event completion failed", slog.String("error", err.Error()))
	}
}

func (s *WorkerService) publishStatus(ctx context.Context, worker *models.Worker) {
	if s.events == nil {
		return
	}
	_ = s.events.PublishWorkerStatus(ctx, bus.WorkerStatusEvent{
		WorkerID:   worker.WorkerID,
		WorkerName: worker.WorkerName,
		Status:     worker.Status,
	})
}

func (s *WorkerService) recordAudit(entry AuditEntry) {
	if s.audit != nil {
		s.audit.Record(entry)
	}
}

func (s *WorkerService) recordDeployment(ctx context.Context, workerID string, evType models.DeploymentEventType, oldVersion, newVersion, triggeredBy string) {
	ev := &models.DeploymentEvent{
		WorkerID:    workerID,
		EventType:   evType,
		OldVersion:  oldVersion,
		NewVersion:  newVersion,
		Status:      models.DeploymentStatusCompleted,
		TriggeredBy: triggeredBy,
	}
	now := models.Now()
	ev.CompletedAt = &now
	if err := s.deployments.Create(ctx, ev); err != nil {
		s.logger.Debug("deployment event not recorded", slog.String("error", err.Error()))
	}
}
