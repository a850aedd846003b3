package coordinator

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vlogmedia/vlog/internal/config"
	"github.com/vlogmedia/vlog/internal/models"
	"github.com/vlogmedia/vlog/internal/repository"
	"github.com/vlogmedia/vlog/internal/service"
)

// reaperJobs stubs the two sweep queries; everything else panics if touched.
type reaperJobs struct {
	repository.JobRepository
	expired []*models.Job
}

func (s *reaperJobs) ReapExpired(ctx context.Context, now time.Time) ([]*models.Job, error) {
	return s.expired, nil
}

func (s *reaperJobs) FailStale(ctx context.Context, now time.Time, staleAfter time.Duration, maxAttempts int) ([]*models.Job, error) {
	return nil, nil
}

func TestReaperSweepAuditsExpiredClaims(t *testing.T) {
	workerID := "worker-abc"
	job := &models.Job{
		BaseModel:     models.BaseModel{ID: models.NewULID()},
		VideoID:       models.NewULID(),
		WorkerID:      &workerID,
		AttemptNumber: 1,
		MaxAttempts:   3,
	}

	audit := service.NewAuditLogger(config.AuditConfig{
		Path:      filepath.Join(t.TempDir(), "audit.log"),
		MaxSizeMB: 1,
	}, nil)
	t.Cleanup(func() { _ = audit.Close() })

	reaper := NewReaper(&reaperJobs{expired: []*models.Job{job}}, nil, nil, nil, audit,
		config.TranscodingConfig{ReapInterval: time.Minute, StaleCheckpoint: time.Minute, MaxAttempts: 3}, nil)

	reaper.Sweep(context.Background())

	entries, err := audit.Tail(10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "job_claim_reaped", entries[0].Action)
	assert.Equal(t, workerID, entries[0].Actor)
	assert.Equal(t, job.ID.String(), entries[0].Subject)
	assert.True(t, entries[0].Success)
}
