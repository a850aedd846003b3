package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vlogmedia/vlog/internal/models"
)

func TestVideoRepo_SlugUniqueAndLookup(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewVideoRepository(db)

	v := &models.Video{Slug: "my-video", Title: "My Video", Category: "talks"}
	require.NoError(t, repo.Create(ctx, v))

	dup := &models.Video{Slug: "my-video", Title: "Duplicate"}
	require.ErrorIs(t, repo.Create(ctx, dup), ErrDuplicate)

	got, err := repo.GetBySlug(ctx, "my-video")
	require.NoError(t, err)
	require.Equal(t, v.ID, got.ID)

	_, err = repo.GetBySlug(ctx, "no-such-slug")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestVideoRepo_ListAndCategories(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewVideoRepository(db)

	for _, v := range []*models.Video{
		{Slug: "talk-1", Title: "Talk 1", Category: "talks"},
		{Slug: "talk-2", Title: "Talk 2", Category: "talks"},
		{Slug: "demo-1", Title: "Demo 1", Category: "demos"},
		{Slug: "uncategorized", Title: "Loose"},
	} {
		require.NoError(t, repo.Create(ctx, v))
	}

	all, total, err := repo.List(ctx, 0, 10)
	require.NoError(t, err)
	require.Equal(t, int64(4), total)
	require.Len(t, all, 4)

	page, total, err := repo.List(ctx, 0, 2)
	require.NoError(t, err)
	require.Equal(t, int64(4), total)
	require.Len(t, page, 2)

	talks, total, err := repo.ListByCategory(ctx, "talks", 0, 10)
	require.NoError(t, err)
	require.Equal(t, int64(2), total)
	require.Len(t, talks, 2)

	cats, err := repo.Categories(ctx)
	require.NoError(t, err)
	require.Equal(t, []CategoryCount{
		{Category: "demos", Count: 1},
		{Category: "talks", Count: 2},
	}, cats)
}

func TestVideoRepo_SoftDeleteHidesVideo(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewVideoRepository(db)

	v := &models.Video{Slug: "gone-soon", Title: "Gone Soon"}
	require.NoError(t, repo.Create(ctx, v))
	require.NoError(t, repo.Delete(ctx, v.ID))

	_, err := repo.GetByID(ctx, v.ID)
	require.ErrorIs(t, err, ErrNotFound)

	_, total, err := repo.List(ctx, 0, 10)
	require.NoError(t, err)
	require.Zero(t, total)
}

func TestWorkerRepo_HeartbeatAndOffline(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewWorkerRepository(db)

	w := createWorker(t, db, "encoder-1", h264Caps())
	now := models.Now()

	require.NoError(t, repo.Heartbeat(ctx, w.WorkerID, models.WorkerStatusIdle, models.WorkerMetadata{"cpu": "35.2"}, now))

	got, err := repo.GetByID(ctx, w.WorkerID)
	require.NoError(t, err)
	require.Equal(t, models.WorkerStatusIdle, got.Status)
	require.NotNil(t, got.LastHeartbeat)
	require.Equal(t, "35.2", got.Metadata["cpu"])

	// Silence past the cutoff flips the worker offline.
	ids, err := repo.MarkOffline(ctx, now.Add(2*time.Minute))
	require.NoError(t, err)
	require.Equal(t, []string{w.WorkerID}, ids)

	got, err = repo.GetByID(ctx, w.WorkerID)
	require.NoError(t, err)
	require.Equal(t, models.WorkerStatusOffline, got.Status)

	// A fresh heartbeat revives it without re-registration.
	require.NoError(t, repo.Heartbeat(ctx, w.WorkerID, models.WorkerStatusIdle, nil, now.Add(3*time.Minute)))
	got, err = repo.GetByID(ctx, w.WorkerID)
	require.NoError(t, err)
	require.Equal(t, models.WorkerStatusIdle, got.Status)
}

func TestWorkerRepo_DisabledIgnoresHeartbeat(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewWorkerRepository(db)

	w := createWorker(t, db, "encoder-1", h264Caps())
	require.NoError(t, repo.SetStatus(ctx, w.WorkerID, models.WorkerStatusDisabled))

	err := repo.Heartbeat(ctx, w.WorkerID, models.WorkerStatusIdle, nil, models.Now())
	require.ErrorIs(t, err, ErrNotFound)

	got, err := repo.GetByID(ctx, w.WorkerID)
	require.NoError(t, err)
	require.Equal(t, models.WorkerStatusDisabled, got.Status)
}

func TestAPIKeyRepo_CandidateFiltering(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewAPIKeyRepository(db)

	w := createWorker(t, db, "encoder-1", h264Caps())
	now := models.Now()
	past := now.Add(-time.Hour)

	active := &models.APIKey{WorkerID: w.WorkerID, KeyHash: "hash-a", KeyPrefix: "aaaaaaaa", HashVersion: models.HashVersionArgon2id}
	expired := &models.APIKey{WorkerID: w.WorkerID, KeyHash: "hash-b", KeyPrefix: "aaaaaaaa", ExpiresAt: &past}
	require.NoError(t, repo.Create(ctx, active))
	require.NoError(t, repo.Create(ctx, expired))

	keys, err := repo.CandidatesByPrefix(ctx, "aaaaaaaa", now)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	require.Equal(t, active.ID, keys[0].ID)

	require.NoError(t, repo.RevokeForWorker(ctx, w.WorkerID, now))
	keys, err = repo.CandidatesByPrefix(ctx, "aaaaaaaa", now)
	require.NoError(t, err)
	require.Empty(t, keys)
}

func TestSessionRepo_PurgeExpired(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewSessionRepository(db)

	now := models.Now()
	live := &models.AdminSession{TokenHash: "hash-live", ExpiresAt: now.Add(time.Hour)}
	dead := &models.AdminSession{TokenHash: "hash-dead", ExpiresAt: now.Add(-time.Hour)}
	require.NoError(t, repo.Create(ctx, live))
	require.NoError(t, repo.Create(ctx, dead))

	purged, err := repo.DeleteExpired(ctx, now)
	require.NoError(t, err)
	require.Equal(t, int64(1), purged)

	_, err = repo.GetByTokenHash(ctx, "hash-dead")
	require.ErrorIs(t, err, ErrNotFound)

	got, err := repo.GetByTokenHash(ctx, "hash-live")
	require.NoError(t, err)
	require.Equal(t, live.ID, got.ID)
}

func TestSettingRepo_UpsertValidatesAndOverwrites(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewSettingRepository(db)

	s := &models.Setting{
		Key:      "transcoding.hls_segment_duration",
		Value:    "6",
		Type:     models.SettingTypeInt,
		Category: "transcoding",
		Constraints: models.SettingConstraints{
			Min: floatPtr(1),
			Max: floatPtr(30),
		},
	}
	require.NoError(t, repo.Upsert(ctx, s))

	s.Value = "45"
	require.ErrorIs(t, repo.Upsert(ctx, s), models.ErrSettingInvalid)

	s.Value = "10"
	require.NoError(t, repo.Upsert(ctx, s))

	got, err := repo.Get(ctx, "transcoding.hls_segment_duration")
	require.NoError(t, err)
	require.Equal(t, "10", got.Value)

	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestSegmentRepo_UpsertIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewSegmentRepository(db)

	video, _ := createVideoJob(t, db, "segmented", models.CodecH264)

	seg := &models.Segment{
		VideoID:   video.ID,
		Quality:   models.Quality720p,
		Filename:  "segment_000.ts",
		SizeBytes: 1024,
		SHA256:    "abc",
	}
	require.NoError(t, repo.Upsert(ctx, seg))

	// Re-upload of the same segment replaces, not duplicates.
	again := &models.Segment{
		VideoID:   video.ID,
		Quality:   models.Quality720p,
		Filename:  "segment_000.ts",
		SizeBytes: 2048,
		SHA256:    "def",
	}
	require.NoError(t, repo.Upsert(ctx, again))

	count, err := repo.CountForQuality(ctx, video.ID, models.Quality720p)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	names, err := repo.FilenamesForQuality(ctx, video.ID, models.Quality720p)
	require.NoError(t, err)
	require.Equal(t, []string{"segment_000.ts"}, names)

	require.NoError(t, repo.DeleteForVideo(ctx, video.ID))
	count, err = repo.CountForQuality(ctx, video.ID, models.Quality720p)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestDeploymentRepo_AppendAndComplete(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewDeploymentRepository(db)

	w := createWorker(t, db, "encoder-1", h264Caps())

	ev := &models.DeploymentEvent{
		WorkerID:    w.WorkerID,
		EventType:   models.DeploymentEventRestart,
		Status:      models.DeploymentStatusPending,
		TriggeredBy: "admin",
	}
	require.NoError(t, repo.Create(ctx, ev))
	require.NoError(t, repo.Complete(ctx, ev.ID, models.DeploymentStatusCompleted, models.Now()))

	// Completing again has no pending row to act on.
	require.ErrorIs(t, repo.Complete(ctx, ev.ID, models.DeploymentStatusCompleted, models.Now()), ErrNotFound)

	events, err := repo.ListForWorker(ctx, w.WorkerID, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, models.DeploymentStatusCompleted, events[0].Status)
	require.NotNil(t, events[0].CompletedAt)
}

func floatPtr(f float64) *float64 { return &f }
