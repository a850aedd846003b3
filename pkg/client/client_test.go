package client

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vlogmedia/vlog/internal/models"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(Config{BaseURL: srv.URL, APIKey: "test-key", AdminSecret: "sesame"})
	require.NoError(t, err)
	return c, srv
}

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestRegisterInstallsKey(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/worker/register", r.URL.Path)
		// Registration is the one call that must not send a key.
		assert.Empty(t, r.Header.Get("X-Worker-API-Key"))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"worker_id": "w-123",
			"api_key":   "vlog_fresh_key",
		})
	}))
	c.SetAPIKey("")

	resp, err := c.Register(context.Background(), RegisterRequest{
		WorkerName: "bench-1",
		WorkerType: models.WorkerTypeRemote,
	})
	require.NoError(t, err)
	assert.Equal(t, "w-123", resp.WorkerID)
	assert.Equal(t, "vlog_fresh_key", c.apiKey)
}

func TestClaimNoWork(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("X-Worker-API-Key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message":"no work"}`))
	}))

	_, err := c.Claim(context.Background())
	require.ErrorIs(t, err, ErrNoWork)
}

func TestClaimReturnsJob(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"job": {"id":"01HZZZZZZZZZZZZZZZZZZZZZZZ","video_id":"01HYYYYYYYYYYYYYYYYYYYYYYY","attempt_number":1,"max_attempts":3,"progress_percent":0},
			"video": {"id":"01HYYYYYYYYYYYYYYYYYYYYYYY","slug":"demo","title":"Demo","status":"processing","streaming_format":"hls_ts","primary_codec":"h264"},
			"claim_expires_at": "2026-08-24T12:00:00Z",
			"lease_seconds": 120
		}`))
	}))

	claimed, err := c.Claim(context.Background())
	require.NoError(t, err)
	require.NotNil(t, claimed.Job)
	require.NotNil(t, claimed.Video)
	assert.Equal(t, "demo", claimed.Video.Slug)
	assert.Equal(t, 120, claimed.LeaseSeconds)
}

func TestClaimLostMapsToConflict(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"detail":"claim lost","error":"claim_lost"}`))
	}))

	err := c.ReportProgress(context.Background(), models.ULID{}, "encode", 50, nil)
	require.Error(t, err)
	assert.True(t, IsClaimLost(err))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "claim lost", apiErr.Detail)
}

func TestUploadSegmentWire(t *testing.T) {
	payload := []byte("segment bytes")
	sum := sha256.Sum256(payload)
	shaHex := hex.EncodeToString(sum[:])

	var got struct {
		quality, filename, sha string
		body                   []byte
		contentLength          int64
	}
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasPrefix(r.URL.Path, "/api/worker/upload-segment/"))
		got.quality = r.URL.Query().Get("quality")
		got.filename = r.URL.Query().Get("filename")
		got.sha = r.URL.Query().Get("sha256")
		got.contentLength = r.ContentLength
		got.body, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"checksum_verified":true}`))
	}))

	err := c.UploadSegment(context.Background(), models.ULID{}, models.Quality720p, "720p_0000.ts", shaHex, int64(len(payload)), strings.NewReader(string(payload)))
	require.NoError(t, err)
	assert.Equal(t, "720p", got.quality)
	assert.Equal(t, "720p_0000.ts", got.filename)
	assert.Equal(t, shaHex, got.sha)
	assert.Equal(t, payload, got.body)
	assert.Equal(t, int64(len(payload)), got.contentLength)
}

func TestUploadSegmentChecksumRejected(t *testing.T) {
	// A mismatch is a 200 carrying a negative verdict, not an HTTP error.
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"checksum_verified":false}`))
	}))

	err := c.UploadSegment(context.Background(), models.ULID{}, models.Quality720p, "720p_0000.ts",
		strings.Repeat("a", 64), 4, strings.NewReader("data"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum")
	assert.False(t, IsClaimLost(err))
}

func TestDownloadSourceResumes(t *testing.T) {
	full := []byte("0123456789abcdef")

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rangeHeader := r.Header.Get("Range")
		if rangeHeader == "" {
			_, _ = w.Write(full)
			return
		}
		require.Equal(t, "bytes=8-", rangeHeader)
		w.Header().Set("Content-Range", "bytes 8-15/16")
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write(full[8:])
	}))

	dest := filepath.Join(t.TempDir(), "source")

	// Seed a partial file and resume.
	require.NoError(t, os.WriteFile(dest, full[:8], 0o644))
	require.NoError(t, c.DownloadSource(context.Background(), models.ULID{}, dest))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, full, data)
}

func TestDownloadSourceFullFetch(t *testing.T) {
	full := []byte("fresh content")
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Server ignores the range and sends the whole body; the stale
		// partial file must be truncated, not appended to.
		_, _ = w.Write(full)
	}))

	dest := filepath.Join(t.TempDir(), "source")
	require.NoError(t, os.WriteFile(dest, []byte("stale partial data longer than full"), 0o644))
	require.NoError(t, c.DownloadSource(context.Background(), models.ULID{}, dest))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, full, data)
}

func TestAdminCallsCarrySecret(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sesame", r.Header.Get("X-Admin-Secret"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"workers":[]}`))
	}))

	workers, err := c.ListWorkers(context.Background())
	require.NoError(t, err)
	assert.Empty(t, workers)
}

func TestDecodeErrorPlainBody(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream exploded"))
	}))

	_, err := c.ListVideos(context.Background(), "", 0, 0)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "upstream exploded", apiErr.Detail)
}
