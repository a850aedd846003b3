package service

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"github.com/vlogmedia/vlog/internal/auth"
	"github.com/vlogmedia/vlog/internal/models"
	"github.com/vlogmedia/vlog/internal/repository"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.Video{},
		&models.Job{},
		&models.QualityProgress{},
		&models.Worker{},
		&models.APIKey{},
		&models.AdminSession{},
		&models.Setting{},
		&models.DeploymentEvent{},
		&models.Segment{},
	))
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{"My Great Video", "my-great-video"},
		{"  Spaces  Everywhere  ", "spaces-everywhere"},
		{"Ünïcode & Symbols!!", "n-code-symbols"},
		{"already-a-slug", "already-a-slug"},
		{"---", ""},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, Slugify(tt.title), "title=%q", tt.title)
	}
}

func TestWorkerService_RegisterAndAuthenticate(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	svc := NewWorkerService(
		repository.NewWorkerRepository(db),
		repository.NewAPIKeyRepository(db),
		repository.NewDeploymentRepository(db),
		nil, // no event bus in unit tests
		90*time.Second,
		nil,
		nil,
	)

	reg, err := svc.Register(ctx, "encoder-1", models.WorkerTypeRemote,
		models.Capabilities{Codecs: []string{"h264"}, CPUCores: 8}, nil)
	require.NoError(t, err)
	require.NotEmpty(t, reg.PlainKey)
	require.NotEmpty(t, reg.Worker.WorkerID)

	// The stored key is a hash, never the plaintext.
	var key models.APIKey
	require.NoError(t, db.First(&key, "worker_id = ?", reg.Worker.WorkerID).Error)
	require.NotEqual(t, reg.PlainKey, key.KeyHash)
	require.Equal(t, models.HashVersionArgon2id, key.HashVersion)

	worker, err := svc.Authenticate(ctx, reg.PlainKey)
	require.NoError(t, err)
	require.Equal(t, reg.Worker.WorkerID, worker.WorkerID)

	_, err = svc.Authenticate(ctx, "totally-wrong-key-of-plausible-length")
	require.ErrorIs(t, err, auth.ErrInvalidCredentials)
	_, err = svc.Authenticate(ctx, "short")
	require.ErrorIs(t, err, auth.ErrInvalidCredentials)

	// Registration itself leaves a deploy event behind.
	events, err := svc.DeploymentHistory(ctx, reg.Worker.WorkerID, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, models.DeploymentEventDeploy, events[0].EventType)
}

func TestWorkerService_DisabledWorkerCannotAuthenticate(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	svc := NewWorkerService(
		repository.NewWorkerRepository(db),
		repository.NewAPIKeyRepository(db),
		repository.NewDeploymentRepository(db),
		nil, 90*time.Second, nil, nil,
	)

	reg, err := svc.Register(ctx, "encoder-1", models.WorkerTypeRemote, models.Capabilities{}, nil)
	require.NoError(t, err)

	require.NoError(t, svc.SetEnabled(ctx, reg.Worker.WorkerID, false, "admin"))
	_, err = svc.Authenticate(ctx, reg.PlainKey)
	require.ErrorIs(t, err, auth.ErrInvalidCredentials)

	require.NoError(t, svc.SetEnabled(ctx, reg.Worker.WorkerID, true, "admin"))
	_, err = svc.Authenticate(ctx, reg.PlainKey)
	require.NoError(t, err)
}

func TestWorkerService_RotateKeyInvalidatesOld(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	svc := NewWorkerService(
		repository.NewWorkerRepository(db),
		repository.NewAPIKeyRepository(db),
		repository.NewDeploymentRepository(db),
		nil, 90*time.Second, nil, nil,
	)

	reg, err := svc.Register(ctx, "encoder-1", models.WorkerTypeRemote, models.Capabilities{}, nil)
	require.NoError(t, err)

	newKey, err := svc.RotateKey(ctx, reg.Worker.WorkerID, "admin")
	require.NoError(t, err)
	require.NotEqual(t, reg.PlainKey, newKey)

	_, err = svc.Authenticate(ctx, reg.PlainKey)
	require.ErrorIs(t, err, auth.ErrInvalidCredentials)
	_, err = svc.Authenticate(ctx, newKey)
	require.NoError(t, err)
}

func TestSessionService_LoginValidateLogout(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	svc := NewSessionService(repository.NewSessionRepository(db), "s3cret", time.Hour, nil, nil)

	_, _, err := svc.Login(ctx, "wrong", "127.0.0.1", "test-agent")
	require.ErrorIs(t, err, ErrUnauthorized)

	token, session, err := svc.Login(ctx, "s3cret", "127.0.0.1", "test-agent")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.Equal(t, "127.0.0.1", session.IPAddress)

	got, err := svc.Validate(ctx, token)
	require.NoError(t, err)
	require.Equal(t, session.ID, got.ID)

	_, err = svc.Validate(ctx, "forged-token")
	require.ErrorIs(t, err, ErrUnauthorized)

	require.NoError(t, svc.Logout(ctx, token, "127.0.0.1"))
	_, err = svc.Validate(ctx, token)
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestSessionService_EmptySecretRejectsAll(t *testing.T) {
	db := newTestDB(t)
	svc := NewSessionService(repository.NewSessionRepository(db), "", time.Hour, nil, nil)

	_, _, err := svc.Login(context.Background(), "", "127.0.0.1", "")
	require.ErrorIs(t, err, ErrUnauthorized)
	require.False(t, svc.VerifySecret(""))
}

func TestSettingsService_CacheAndInvalidate(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := repository.NewSettingRepository(db)
	svc := NewSettingsService(repo, time.Minute, nil)

	require.Equal(t, "fallback", svc.Get(ctx, "playback.theme", "fallback"))

	_, err := svc.Set(ctx, "playback.theme", "dark", "admin")
	require.NoError(t, err)
	require.Equal(t, "dark", svc.Get(ctx, "playback.theme", "fallback"))

	// A direct repo write is invisible until the cache is invalidated.
	require.NoError(t, repo.Upsert(ctx, &models.Setting{
		Key: "playback.theme", Value: "light", Type: models.SettingTypeString,
	}))
	require.Equal(t, "dark", svc.Get(ctx, "playback.theme", "fallback"))
	svc.Invalidate()
	require.Equal(t, "light", svc.Get(ctx, "playback.theme", "fallback"))
}

func TestSettingsService_EnvFallback(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	svc := NewSettingsService(repository.NewSettingRepository(db), time.Minute, nil)

	t.Setenv("VLOG_SEGMENT_LENGTH", "8")
	require.Equal(t, 8, svc.GetInt(ctx, "transcoding.segment_length", 6))

	// A catalog row outranks the environment.
	_, err := svc.Set(ctx, "transcoding.segment_length", "4", "admin")
	require.NoError(t, err)
	require.Equal(t, 4, svc.GetInt(ctx, "transcoding.segment_length", 6))
}

func TestSettingsService_SetValidatesConstraints(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := repository.NewSettingRepository(db)
	svc := NewSettingsService(repo, time.Minute, nil)

	require.NoError(t, repo.Upsert(ctx, &models.Setting{
		Key:   "transcoding.format",
		Value: "hls_ts",
		Type:  models.SettingTypeEnum,
		Constraints: models.SettingConstraints{
			EnumValues: []string{"hls_ts", "cmaf"},
		},
	}))

	_, err := svc.Set(ctx, "transcoding.format", "dash", "admin")
	require.ErrorIs(t, err, models.ErrSettingInvalid)

	_, err = svc.Set(ctx, "transcoding.format", "cmaf", "admin")
	require.NoError(t, err)
}
