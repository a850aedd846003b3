package models

import "errors"

// Validation errors shared by model hooks and services.
var (
	// ErrInvalidSlug is returned for slugs that fail the URL-safe pattern.
	ErrInvalidSlug = errors.New("invalid slug")
	// ErrTitleRequired is returned when a video has no title.
	ErrTitleRequired = errors.New("title is required")
	// ErrVideoRequired is returned when a job has no video reference.
	ErrVideoRequired = errors.New("video_id is required")
	// ErrClaimFieldsMismatch is returned when exactly one of claimed_at /
	// claim_expires_at is set.
	ErrClaimFieldsMismatch = errors.New("claim fields must both be set or both be null")
	// ErrProgressOutOfRange is returned for progress outside [0,100].
	ErrProgressOutOfRange = errors.New("progress_percent must be within [0,100]")
	// ErrAttemptNumberInvalid is returned for attempt numbers below 1.
	ErrAttemptNumberInvalid = errors.New("attempt_number must be at least 1")
	// ErrWorkerIDRequired is returned when a worker has no ID.
	ErrWorkerIDRequired = errors.New("worker_id is required")
	// ErrWorkerNameRequired is returned when a worker has no name.
	ErrWorkerNameRequired = errors.New("worker_name is required")
	// ErrRecordTooLarge is returned when a structured record exceeds its
	// serialized size bound.
	ErrRecordTooLarge = errors.New("structured record exceeds size limit")
	// ErrRecordStringTooLong is returned when a record string field exceeds
	// its length bound.
	ErrRecordStringTooLong = errors.New("structured record string too long")
	// ErrInvalidQuality is returned for unknown quality ladder rungs.
	ErrInvalidQuality = errors.New("invalid quality")
	// ErrSettingKeyRequired is returned when a setting has no key.
	ErrSettingKeyRequired = errors.New("setting key is required")
	// ErrSettingInvalid is returned when a setting value fails its declared
	// type or constraints.
	ErrSettingInvalid = errors.New("setting value invalid")
)
