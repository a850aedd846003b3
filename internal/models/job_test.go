package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func timePtr(t time.Time) *Time {
	tt := Time(t)
	return &tt
}

func strPtr(s string) *string {
	return &s
}

func TestJob_TableName(t *testing.T) {
	assert.Equal(t, "jobs", Job{}.TableName())
}

func TestJob_StateAt(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		job  Job
		want JobState
	}{
		{
			name: "fresh job is unclaimed",
			job:  Job{AttemptNumber: 1, MaxAttempts: 3},
			want: JobStateUnclaimed,
		},
		{
			name: "active claim",
			job: Job{
				AttemptNumber:  1,
				MaxAttempts:    3,
				ClaimedAt:      timePtr(now.Add(-time.Minute)),
				ClaimExpiresAt: timePtr(now.Add(time.Minute)),
				WorkerID:       strPtr("w1"),
			},
			want: JobStateClaimed,
		},
		{
			name: "claim expiring exactly now is expired, not claimed",
			job: Job{
				AttemptNumber:  1,
				MaxAttempts:    3,
				ClaimedAt:      timePtr(now.Add(-2 * time.Minute)),
				ClaimExpiresAt: timePtr(now),
				WorkerID:       strPtr("w1"),
			},
			want: JobStateExpired,
		},
		{
			name: "lapsed claim",
			job: Job{
				AttemptNumber:  1,
				MaxAttempts:    3,
				ClaimedAt:      timePtr(now.Add(-10 * time.Minute)),
				ClaimExpiresAt: timePtr(now.Add(-8 * time.Minute)),
				WorkerID:       strPtr("w1"),
			},
			want: JobStateExpired,
		},
		{
			name: "completed wins over everything",
			job: Job{
				AttemptNumber:  3,
				MaxAttempts:    3,
				LastError:      "earlier failure",
				CompletedAt:    timePtr(now.Add(-time.Minute)),
				ClaimedAt:      timePtr(now.Add(-2 * time.Minute)),
				ClaimExpiresAt: timePtr(now.Add(-time.Minute)),
			},
			want: JobStateCompleted,
		},
		{
			name: "exhausted attempts are terminal failed",
			job: Job{
				AttemptNumber: 3,
				MaxAttempts:   3,
				LastError:     "encode failed",
			},
			want: JobStateFailed,
		},
		{
			name: "failed wins over an active claim",
			job: Job{
				AttemptNumber:  3,
				MaxAttempts:    3,
				LastError:      "encode failed",
				ClaimedAt:      timePtr(now.Add(-time.Minute)),
				ClaimExpiresAt: timePtr(now.Add(time.Minute)),
				WorkerID:       strPtr("w1"),
			},
			want: JobStateFailed,
		},
		{
			name: "failed attempt below max is retrying",
			job: Job{
				AttemptNumber: 2,
				MaxAttempts:   3,
				LastError:     "transient",
			},
			want: JobStateRetrying,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.job.StateAt(now))
		})
	}
}

// The six state predicates must be mutually exclusive and exhaustive for a
// fixed clock: every combination of nullable fields yields exactly one state.
func TestJob_StateAt_Exhaustive(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	claims := []struct {
		claimedAt, expiresAt *Time
	}{
		{nil, nil},
		{timePtr(now.Add(-time.Minute)), timePtr(now.Add(time.Minute))},
		{timePtr(now.Add(-time.Minute)), timePtr(now)},
		{timePtr(now.Add(-time.Hour)), timePtr(now.Add(-time.Minute))},
	}
	completions := []*Time{nil, timePtr(now.Add(-time.Second))}
	errorsAndAttempts := []struct {
		lastError string
		attempt   int
	}{
		{"", 1},
		{"boom", 1},
		{"boom", 3},
	}

	for _, c := range claims {
		for _, done := range completions {
			for _, ea := range errorsAndAttempts {
				job := Job{
					AttemptNumber:  ea.attempt,
					MaxAttempts:    3,
					LastError:      ea.lastError,
					ClaimedAt:      c.claimedAt,
					ClaimExpiresAt: c.expiresAt,
					CompletedAt:    done,
				}
				state := job.StateAt(now)
				assert.Contains(t, []JobState{
					JobStateUnclaimed, JobStateClaimed, JobStateExpired,
					JobStateCompleted, JobStateFailed, JobStateRetrying,
				}, state)

				if done != nil {
					assert.Equal(t, JobStateCompleted, state)
				}
			}
		}
	}
}

func TestJob_IsClaimable(t *testing.T) {
	now := time.Now().UTC()

	unclaimed := Job{AttemptNumber: 1, MaxAttempts: 3}
	assert.True(t, unclaimed.IsClaimable(now))

	retrying := Job{AttemptNumber: 2, MaxAttempts: 3, LastError: "x"}
	assert.True(t, retrying.IsClaimable(now))

	claimed := Job{
		AttemptNumber:  1,
		MaxAttempts:    3,
		ClaimedAt:      timePtr(now),
		ClaimExpiresAt: timePtr(now.Add(time.Minute)),
	}
	assert.False(t, claimed.IsClaimable(now))

	failed := Job{AttemptNumber: 3, MaxAttempts: 3, LastError: "x"}
	assert.False(t, failed.IsClaimable(now))
}

func TestJob_HeldBy(t *testing.T) {
	now := time.Now().UTC()

	job := Job{
		AttemptNumber:  1,
		MaxAttempts:    3,
		ClaimedAt:      timePtr(now),
		ClaimExpiresAt: timePtr(now.Add(time.Minute)),
		WorkerID:       strPtr("w1"),
	}
	assert.True(t, job.HeldBy("w1", now))
	assert.False(t, job.HeldBy("w2", now))

	// Expired claims are held by nobody.
	job.ClaimExpiresAt = timePtr(now.Add(-time.Second))
	assert.False(t, job.HeldBy("w1", now))
}

func TestJob_Validate(t *testing.T) {
	videoID := NewULID()

	job := Job{VideoID: videoID, AttemptNumber: 1, MaxAttempts: 3}
	require.NoError(t, job.Validate())

	// Exactly one claim field set is a programming error.
	now := Now()
	job.ClaimedAt = &now
	assert.ErrorIs(t, job.Validate(), ErrClaimFieldsMismatch)

	job.ClaimExpiresAt = &now
	require.NoError(t, job.Validate())

	job.ProgressPercent = 101
	assert.ErrorIs(t, job.Validate(), ErrProgressOutOfRange)
}
