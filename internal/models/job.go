package models

import (
	"time"

	"gorm.io/gorm"
)

// JobState is the derived state of a transcoding job. It is not stored;
// it is computed from the job's nullable fields and the clock.
type JobState string

const (
	// JobStateUnclaimed indicates the job has never been claimed.
	JobStateUnclaimed JobState = "unclaimed"
	// JobStateClaimed indicates a worker holds an unexpired claim.
	JobStateClaimed JobState = "claimed"
	// JobStateExpired indicates the claim lease lapsed without completion.
	JobStateExpired JobState = "expired"
	// JobStateCompleted indicates the job finished successfully.
	JobStateCompleted JobState = "completed"
	// JobStateFailed indicates the job exhausted its attempts.
	JobStateFailed JobState = "failed"
	// JobStateRetrying indicates a failed attempt awaiting re-claim.
	JobStateRetrying JobState = "retrying"
)

// Job represents one transcoding attempt lifecycle for a video. A video has
// exactly one non-terminal job at any time.
type Job struct {
	BaseModel

	VideoID ULID   `gorm:"not null;uniqueIndex;type:varchar(26)" json:"video_id"`
	Video   *Video `gorm:"foreignKey:VideoID" json:"-"`

	// Claim fields. Either both ClaimedAt and ClaimExpiresAt are NULL or
	// both are set; WorkerID is the claim-only holder, cleared on retry.
	ClaimedAt      *Time   `json:"claimed_at,omitempty"`
	ClaimExpiresAt *Time   `json:"claim_expires_at,omitempty"`
	WorkerID       *string `gorm:"size:36;index" json:"worker_id,omitempty"`

	CompletedAt *Time `json:"completed_at,omitempty"`

	CurrentStep     string  `gorm:"size:255" json:"current_step,omitempty"`
	ProgressPercent float64 `gorm:"default:0" json:"progress_percent"`

	// LastCheckpoint advances monotonically with every progress update and
	// heartbeat extension; the reaper treats a long stall as a soft failure.
	LastCheckpoint *Time `json:"last_checkpoint,omitempty"`

	AttemptNumber int    `gorm:"not null;default:1" json:"attempt_number"`
	MaxAttempts   int    `gorm:"not null;default:3" json:"max_attempts"`
	LastError     string `gorm:"size:4096" json:"last_error,omitempty"`

	// ProcessedByWorkerID/Name record which worker last handled the job.
	// Unlike WorkerID these survive claim clearing, for attribution.
	ProcessedByWorkerID   string `gorm:"size:36" json:"processed_by_worker_id,omitempty"`
	ProcessedByWorkerName string `gorm:"size:255" json:"processed_by_worker_name,omitempty"`
}

// TableName returns the table name for Job.
func (Job) TableName() string {
	return "jobs"
}

// StateAt computes the job state at the given moment. The predicate order is
// fixed: completed, failed, claimed, expired, retrying, unclaimed. The
// predicates are mutually exclusive and exhaustive for a fixed clock.
func (j *Job) StateAt(now time.Time) JobState {
	now = AsUTC(now)

	switch {
	case j.CompletedAt != nil:
		return JobStateCompleted
	case j.LastError != "" && j.AttemptNumber >= j.MaxAttempts && j.CompletedAt == nil:
		return JobStateFailed
	case j.ClaimedAt != nil && j.ClaimExpiresAt != nil && AsUTC(*j.ClaimExpiresAt).After(now):
		return JobStateClaimed
	case j.ClaimedAt != nil:
		// Expiry at exactly now is EXPIRED, not CLAIMED (strict >).
		return JobStateExpired
	case j.LastError != "" && j.AttemptNumber < j.MaxAttempts:
		return JobStateRetrying
	default:
		return JobStateUnclaimed
	}
}

// IsClaimable reports whether the job may be handed to a worker.
func (j *Job) IsClaimable(now time.Time) bool {
	s := j.StateAt(now)
	return s == JobStateUnclaimed || s == JobStateRetrying
}

// IsTerminal reports whether the job can make no further progress.
func (j *Job) IsTerminal(now time.Time) bool {
	s := j.StateAt(now)
	return s == JobStateCompleted || s == JobStateFailed
}

// HeldBy reports whether workerID holds an active claim at now.
func (j *Job) HeldBy(workerID string, now time.Time) bool {
	return j.StateAt(now) == JobStateClaimed && j.WorkerID != nil && *j.WorkerID == workerID
}

// ClearClaim removes the claim fields, returning the job to a claimable
// state. AttemptNumber is left unchanged; retry accounting is the caller's
// decision.
func (j *Job) ClearClaim() {
	j.ClaimedAt = nil
	j.ClaimExpiresAt = nil
	j.WorkerID = nil
}

// Validate performs basic validation on the job.
func (j *Job) Validate() error {
	if j.VideoID.IsZero() {
		return ErrVideoRequired
	}
	// Claim fields are either both NULL or both set.
	if (j.ClaimedAt == nil) != (j.ClaimExpiresAt == nil) {
		return ErrClaimFieldsMismatch
	}
	if j.ProgressPercent < 0 || j.ProgressPercent > 100 {
		return ErrProgressOutOfRange
	}
	if j.AttemptNumber < 1 {
		return ErrAttemptNumberInvalid
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the job and generates its ULID.
func (j *Job) BeforeCreate(tx *gorm.DB) error {
	if err := j.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return j.Validate()
}
