package handlers_test

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/vlogmedia/vlog/internal/bus"
	"github.com/vlogmedia/vlog/internal/config"
	"github.com/vlogmedia/vlog/internal/coordinator"
	vloghttp "github.com/vlogmedia/vlog/internal/http"
	"github.com/vlogmedia/vlog/internal/models"
	"github.com/vlogmedia/vlog/internal/repository"
	"github.com/vlogmedia/vlog/internal/service"
	"github.com/vlogmedia/vlog/internal/storage"
)

type testEnv struct {
	server *httptest.Server
	cfg    *config.Config
}

func newTestEnv(t *testing.T) *testEnv {
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
		&models.Video{}, &models.Job{}, &models.QualityProgress{},
		&models.Worker{}, &models.APIKey{}, &models.AdminSession{},
		&models.Setting{}, &models.DeploymentEvent{}, &models.Segment{},
	))

	mr := miniredis.RunT(t)
	events, err := bus.New(config.RedisConfig{Addr: mr.Addr()}, slog.Default())
	require.NoError(t, err)

	dir := t.TempDir()
	cfg := &config.Config{}
	cfg.Server.TrustedProxies = nil
	cfg.Storage = config.StorageConfig{
		VideosDir:      filepath.Join(dir, "videos"),
		SourcesDir:     filepath.Join(dir, "sources"),
		MaxUploadBytes: 64 << 20,
		HealthCacheTTL: time.Second,
	}
	cfg.Transcoding = config.TranscodingConfig{
		ClaimLease:      2 * time.Minute,
		MaxAttempts:     3,
		MinReadyQuality: "480p",
	}
	cfg.Security = config.SecurityConfig{
		AdminSecret:     "sesame",
		SessionTTL:      time.Hour,
		RateLimitPerMin: 600,
		RateLimitBurst:  200,
	}
	cfg.Worker.HeartbeatInterval = 30 * time.Second

	store, err := storage.New(cfg.Storage, slog.Default())
	require.NoError(t, err)

	videos := repository.NewVideoRepository(db)
	jobs := repository.NewJobRepository(db)
	segments := repository.NewSegmentRepository(db)
	workers := repository.NewWorkerRepository(db)
	keys := repository.NewAPIKeyRepository(db)
	sessions := repository.NewSessionRepository(db)
	settings := repository.NewSettingRepository(db)
	deployments := repository.NewDeploymentRepository(db)

	coord := coordinator.New(videos, jobs, segments, store, events, cfg.Transcoding, slog.Default())
	videoSvc := service.NewVideoService(videos, jobs, segments, store, cfg.Transcoding.MaxAttempts, nil, slog.Default())
	workerSvc := service.NewWorkerService(workers, keys, deployments, events, cfg.Worker.OfflineAfter(), nil, slog.Default())
	settingSvc := service.NewSettingsService(settings, time.Second, slog.Default())
	sessionSvc := service.NewSessionService(sessions, cfg.Security.AdminSecret, cfg.Security.SessionTTL, nil, slog.Default())

	srv := vloghttp.NewServer(cfg.Server, slog.Default(), "test")
	srv.RegisterRoutes(vloghttp.Deps{
		DB:          db,
		Events:      events,
		Store:       store,
		Coordinator: coord,
		Videos:      videoSvc,
		Workers:     workerSvc,
		Settings:    settingSvc,
		Sessions:    sessionSvc,
		Config:      cfg,
		Version:     "test",
		Logger:      slog.Default(),
	})

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &testEnv{server: ts, cfg: cfg}
}

func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, mod func(*http.Request)) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.server.URL+path, body)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if mod != nil {
		mod(req)
	}
	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
}

// registerWorker registers a worker and returns its identity and key.
func registerWorker(t *testing.T, env *testEnv) (string, string) {
	t.Helper()
	body := bytes.NewBufferString(`{"worker_name":"encoder-1","worker_type":"remote","capabilities":{"codecs":["h264"]}}`)
	resp := env.do(t, http.MethodPost, "/api/worker/register", body, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var reg struct {
		WorkerID string `json:"worker_id"`
		APIKey   string `json:"api_key"`
	}
	decodeBody(t, resp, &reg)
	require.NotEmpty(t, reg.WorkerID)
	require.NotEmpty(t, reg.APIKey)
	return reg.WorkerID, reg.APIKey
}

// uploadVideo uploads a small source through the admin surface.
func uploadVideo(t *testing.T, env *testEnv, slug, title string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("title", title))
	require.NoError(t, mw.WriteField("slug", slug))
	fw, err := mw.CreateFormFile("file", "source.mp4")
	require.NoError(t, err)
	_, err = fw.Write([]byte("fake source bytes"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp := env.do(t, http.MethodPost, "/api/admin/videos", &buf, func(r *http.Request) {
		r.Header.Set("Content-Type", mw.FormDataContentType())
		r.Header.Set("X-Admin-Secret", "sesame")
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()
}

func withKey(key string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("X-Worker-API-Key", key) }
}

func TestWorkerLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	_, key := registerWorker(t, env)
	uploadVideo(t, env, "my-video", "My Video")

	// Unauthenticated worker calls are rejected uniformly.
	resp := env.do(t, http.MethodPost, "/api/worker/claim", nil, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	// Claim the job.
	resp = env.do(t, http.MethodPost, "/api/worker/claim", nil, withKey(key))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var claimed struct {
		Job struct {
			ID      string `json:"id"`
			VideoID string `json:"video_id"`
		} `json:"job"`
		Video struct {
			Slug string `json:"slug"`
		} `json:"video"`
		LeaseSeconds int `json:"lease_seconds"`
	}
	decodeBody(t, resp, &claimed)
	require.Equal(t, "my-video", claimed.Video.Slug)
	require.Equal(t, 120, claimed.LeaseSeconds)

	// A second claim finds no work.
	resp = env.do(t, http.MethodPost, "/api/worker/claim", nil, withKey(key))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var noWork map[string]string
	decodeBody(t, resp, &noWork)
	assert.Equal(t, "no work", noWork["message"])

	// Download the source.
	resp = env.do(t, http.MethodGet, "/api/worker/source/"+claimed.Job.VideoID, nil, withKey(key))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	src, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "fake source bytes", string(src))

	// Report progress.
	progress := bytes.NewBufferString(`{"current_step":"transcoding","progress_percent":42}`)
	resp = env.do(t, http.MethodPost, "/api/worker/"+claimed.Job.ID+"/progress", progress, withKey(key))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// Upload three verified segments.
	for i := 0; i < 3; i++ {
		data := bytes.Repeat([]byte{byte(i)}, 1024)
		sum := sha256.Sum256(data)
		path := fmt.Sprintf("/api/worker/upload-segment/%s?quality=720p&filename=720p_%04d.ts&sha256=%s",
			claimed.Job.VideoID, i, hex.EncodeToString(sum[:]))
		resp = env.do(t, http.MethodPost, path, bytes.NewReader(data), func(r *http.Request) {
			r.Header.Set("X-Worker-API-Key", key)
			r.Header.Set("Content-Type", "application/octet-stream")
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var verified map[string]bool
		decodeBody(t, resp, &verified)
		assert.True(t, verified["checksum_verified"])
	}

	// A corrupt segment is a 200 with a negative verdict; the worker reads
	// checksum_verified and re-sends. Only malformed parameters are a 400.
	data := []byte("corrupt")
	path := fmt.Sprintf("/api/worker/upload-segment/%s?quality=720p&filename=720p_0099.ts&sha256=%s",
		claimed.Job.VideoID, hex.EncodeToString(bytes.Repeat([]byte{0xab}, 32)))
	resp = env.do(t, http.MethodPost, path, bytes.NewReader(data), withKey(key))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var unverified map[string]bool
	decodeBody(t, resp, &unverified)
	assert.False(t, unverified["checksum_verified"])

	// The rejected segment was not persisted.
	resp = env.do(t, http.MethodGet, "/videos/my-video/720p_0099.ts", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	// A malformed sha256 parameter stays a validation error.
	badPath := fmt.Sprintf("/api/worker/upload-segment/%s?quality=720p&filename=720p_0099.ts&sha256=tooshort",
		claimed.Job.VideoID)
	resp = env.do(t, http.MethodPost, badPath, bytes.NewReader(data), withKey(key))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	// Upload variant and master playlists.
	playlist := []byte("#EXTM3U\n")
	resp = env.do(t, http.MethodPost,
		"/api/worker/playlist/"+claimed.Job.VideoID+"?quality=720p&filename=720p.m3u8",
		bytes.NewReader(playlist), withKey(key))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	resp = env.do(t, http.MethodPost,
		"/api/worker/playlist/"+claimed.Job.VideoID+"?filename=master.m3u8",
		bytes.NewReader(playlist), withKey(key))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// Finalize the variant; all three segments are accounted for.
	manifestSum := sha256.Sum256(playlist)
	fin := bytes.NewBufferString(fmt.Sprintf(`{"segment_count":3,"manifest_sha256":"%s"}`, hex.EncodeToString(manifestSum[:])))
	resp = env.do(t, http.MethodPost, "/api/worker/finalize/"+claimed.Job.VideoID+"/720p", fin, withKey(key))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var finResult struct {
		Complete         bool     `json:"complete"`
		MissingSegments  []string `json:"missing_segments"`
		ManifestVerified bool     `json:"manifest_verified"`
	}
	decodeBody(t, resp, &finResult)
	assert.True(t, finResult.Complete)
	assert.True(t, finResult.ManifestVerified)
	assert.Empty(t, finResult.MissingSegments)

	// Complete the job.
	complete := bytes.NewBufferString(`{"qualities":[{"quality":"720p","status":"completed","progress_percent":100}],"duration_seconds":12.5,"source_width":1280,"source_height":720}`)
	resp = env.do(t, http.MethodPost, "/api/worker/"+claimed.Job.ID+"/complete", complete, withKey(key))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// Public progress reflects the outcome.
	resp = env.do(t, http.MethodGet, "/api/videos/my-video/progress", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var pr struct {
		Status      string  `json:"status"`
		State       string  `json:"state"`
		Attempt     int     `json:"attempt"`
		MaxAttempts int     `json:"max_attempts"`
		Percent     float64 `json:"progress_percent"`
	}
	decodeBody(t, resp, &pr)
	assert.Equal(t, "ready", pr.Status)
	assert.Equal(t, "completed", pr.State)
	assert.Equal(t, 1, pr.Attempt)
	assert.Equal(t, 3, pr.MaxAttempts)

	// Completing again is a conflict; the claim is gone.
	complete = bytes.NewBufferString(`{"qualities":[{"quality":"720p","status":"completed"}]}`)
	resp = env.do(t, http.MethodPost, "/api/worker/"+claimed.Job.ID+"/complete", complete, withKey(key))
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()
}

func TestFinalizeReportsMissingSegments(t *testing.T) {
	env := newTestEnv(t)
	_, key := registerWorker(t, env)
	uploadVideo(t, env, "gappy", "Gappy Upload")

	resp := env.do(t, http.MethodPost, "/api/worker/claim", nil, withKey(key))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var claimed struct {
		Job struct {
			VideoID string `json:"video_id"`
		} `json:"job"`
	}
	decodeBody(t, resp, &claimed)

	// Upload only segment 1 of an expected 3.
	data := []byte("segment one")
	sum := sha256.Sum256(data)
	path := fmt.Sprintf("/api/worker/upload-segment/%s?quality=480p&filename=480p_0001.ts&sha256=%s",
		claimed.Job.VideoID, hex.EncodeToString(sum[:]))
	resp = env.do(t, http.MethodPost, path, bytes.NewReader(data), withKey(key))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	fin := bytes.NewBufferString(`{"segment_count":3}`)
	resp = env.do(t, http.MethodPost, "/api/worker/finalize/"+claimed.Job.VideoID+"/480p", fin, withKey(key))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result struct {
		Complete        bool     `json:"complete"`
		MissingSegments []string `json:"missing_segments"`
	}
	decodeBody(t, resp, &result)
	assert.False(t, result.Complete)
	assert.Equal(t, []string{"480p_0000.ts", "480p_0002.ts"}, result.MissingSegments)
}

func TestStaticStreamingHeaders(t *testing.T) {
	env := newTestEnv(t)
	_, key := registerWorker(t, env)
	uploadVideo(t, env, "streamer", "Streamer")

	resp := env.do(t, http.MethodPost, "/api/worker/claim", nil, withKey(key))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var claimed struct {
		Job struct {
			VideoID string `json:"video_id"`
		} `json:"job"`
	}
	decodeBody(t, resp, &claimed)

	data := []byte("ts segment payload")
	sum := sha256.Sum256(data)
	path := fmt.Sprintf("/api/worker/upload-segment/%s?quality=720p&filename=720p_0000.ts&sha256=%s",
		claimed.Job.VideoID, hex.EncodeToString(sum[:]))
	resp = env.do(t, http.MethodPost, path, bytes.NewReader(data), withKey(key))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	playlist := []byte("#EXTM3U\n")
	resp = env.do(t, http.MethodPost,
		"/api/worker/playlist/"+claimed.Job.VideoID+"?filename=master.m3u8",
		bytes.NewReader(playlist), withKey(key))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// Segment: long-lived cache, range support.
	resp = env.do(t, http.MethodGet, "/videos/streamer/720p_0000.ts", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "video/mp2t", resp.Header.Get("Content-Type"))
	assert.Equal(t, "public, max-age=31536000", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "bytes", resp.Header.Get("Accept-Ranges"))
	resp.Body.Close()

	// Range request yields 206.
	resp = env.do(t, http.MethodGet, "/videos/streamer/720p_0000.ts", nil, func(r *http.Request) {
		r.Header.Set("Range", "bytes=0-4")
	})
	require.Equal(t, http.StatusPartialContent, resp.StatusCode)
	partial, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "ts se", string(partial))

	// Playlist: never cached.
	resp = env.do(t, http.MethodGet, "/videos/streamer/master.m3u8", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/vnd.apple.mpegurl", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))
	resp.Body.Close()

	// Traversal is rejected without touching disk.
	resp = env.do(t, http.MethodGet, "/videos/streamer/..%2f..%2fetc%2fpasswd", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestAdminAuthBoundary(t *testing.T) {
	env := newTestEnv(t)

	// No credentials.
	resp := env.do(t, http.MethodGet, "/api/admin/workers", nil, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	// Wrong secret.
	resp = env.do(t, http.MethodGet, "/api/admin/workers", nil, func(r *http.Request) {
		r.Header.Set("X-Admin-Secret", "wrong")
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	// Shared secret header works.
	resp = env.do(t, http.MethodGet, "/api/admin/workers", nil, func(r *http.Request) {
		r.Header.Set("X-Admin-Secret", "sesame")
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// Session cookie works end to end.
	resp = env.do(t, http.MethodPost, "/api/auth/login", bytes.NewBufferString(`{"secret":"sesame"}`), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cookies := resp.Cookies()
	resp.Body.Close()
	require.NotEmpty(t, cookies)
	assert.True(t, cookies[0].HttpOnly)
	assert.Equal(t, http.SameSiteStrictMode, cookies[0].SameSite)

	resp = env.do(t, http.MethodGet, "/api/admin/workers", nil, func(r *http.Request) {
		for _, c := range cookies {
			r.AddCookie(c)
		}
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// Logout invalidates the session.
	resp = env.do(t, http.MethodPost, "/api/auth/logout", nil, func(r *http.Request) {
		for _, c := range cookies {
			r.AddCookie(c)
		}
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = env.do(t, http.MethodGet, "/api/admin/workers", nil, func(r *http.Request) {
		for _, c := range cookies {
			r.AddCookie(c)
		}
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestPublicCatalogAPI(t *testing.T) {
	env := newTestEnv(t)
	uploadVideo(t, env, "first", "First Video")
	uploadVideo(t, env, "second", "Second Video")

	resp := env.do(t, http.MethodGet, "/api/videos", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list struct {
		Videos []struct {
			Slug string `json:"slug"`
		} `json:"videos"`
		Total int64 `json:"total"`
	}
	decodeBody(t, resp, &list)
	require.Equal(t, int64(2), list.Total)
	require.Len(t, list.Videos, 2)
	slugs := []string{list.Videos[0].Slug, list.Videos[1].Slug}
	assert.ElementsMatch(t, []string{"first", "second"}, slugs)

	resp = env.do(t, http.MethodGet, "/api/videos/first", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// Traversal-shaped slugs are not found, never resolved.
	resp = env.do(t, http.MethodGet, "/api/videos/..%2fsecret", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp = env.do(t, http.MethodGet, "/api/videos/does-not-exist", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var health struct {
		Status     string `json:"status"`
		Version    string `json:"version"`
		Components struct {
			Database struct {
				Status string `json:"status"`
			} `json:"database"`
			Bus struct {
				Status       string `json:"status"`
				BreakerState string `json:"breaker_state"`
			} `json:"bus"`
			Storage struct {
				Status string `json:"status"`
			} `json:"storage"`
		} `json:"components"`
	}
	decodeBody(t, resp, &health)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "test", health.Version)
	assert.Equal(t, "ok", health.Components.Database.Status)
	assert.Equal(t, "ok", health.Components.Bus.Status)
	assert.Equal(t, "closed", health.Components.Bus.BreakerState)
	assert.Equal(t, "ok", health.Components.Storage.Status)
}

func TestAdminSettingsRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	admin := func(r *http.Request) { r.Header.Set("X-Admin-Secret", "sesame") }

	resp := env.do(t, http.MethodPut, "/api/admin/settings/transcoding.segment_length",
		bytes.NewBufferString(`{"value":"10"}`), admin)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = env.do(t, http.MethodGet, "/api/admin/settings/transcoding.segment_length", nil, admin)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var setting struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	decodeBody(t, resp, &setting)
	assert.Equal(t, "10", setting.Value)

	resp = env.do(t, http.MethodDelete, "/api/admin/settings/transcoding.segment_length", nil, admin)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp = env.do(t, http.MethodGet, "/api/admin/settings/transcoding.segment_length", nil, admin)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}
