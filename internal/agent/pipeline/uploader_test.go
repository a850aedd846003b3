package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vlogmedia/vlog/internal/models"
	"github.com/vlogmedia/vlog/pkg/client"
)

func newUploaderClient(t *testing.T, srv *httptest.Server) *client.Client {
	t.Helper()
	c, err := client.New(client.Config{BaseURL: srv.URL, APIKey: "test-key"})
	require.NoError(t, err)
	return c
}

func writeTestSegment(t *testing.T, dir, name string, data []byte) SegmentFile {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return SegmentFile{Path: path, Name: name}
}

func TestUploaderHashesAndUploads(t *testing.T) {
	videoID := models.NewULID()
	data := []byte("segment payload")
	sum := sha256.Sum256(data)

	var gotSHA, gotQuality, gotFilename atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSHA.Store(r.URL.Query().Get("sha256"))
		gotQuality.Store(r.URL.Query().Get("quality"))
		gotFilename.Store(r.URL.Query().Get("filename"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, data, body)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"checksum_verified":true}`))
	}))
	defer srv.Close()

	u := NewUploader(newUploaderClient(t, srv), videoID, models.Quality720p, 3, nil)

	dir := t.TempDir()
	segments := make(chan SegmentFile, 1)
	segments <- writeTestSegment(t, dir, "0001.m4s", data)
	close(segments)

	uploaded, bytes, err := u.Run(context.Background(), segments)
	require.NoError(t, err)
	assert.Equal(t, 1, uploaded)
	assert.Equal(t, int64(len(data)), bytes)
	assert.Equal(t, hex.EncodeToString(sum[:]), gotSHA.Load())
	assert.Equal(t, "720p", gotQuality.Load())
	assert.Equal(t, "0001.m4s", gotFilename.Load())
}

func TestUploaderReportsProgressPerUpload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"checksum_verified":true}`))
	}))
	defer srv.Close()

	u := NewUploader(newUploaderClient(t, srv), models.NewULID(), models.Quality720p, 3, nil)

	type report struct {
		segments int
		bytes    int64
	}
	var reports []report
	u.OnProgress = func(completed int, bytes int64) {
		reports = append(reports, report{completed, bytes})
	}

	dir := t.TempDir()
	segments := make(chan SegmentFile, 3)
	segments <- writeTestSegment(t, dir, "720p_0000.ts", []byte("aaaa"))
	segments <- writeTestSegment(t, dir, "720p_0001.ts", []byte("bb"))
	segments <- writeTestSegment(t, dir, "720p_0002.ts", []byte("cccccc"))
	close(segments)

	uploaded, bytes, err := u.Run(context.Background(), segments)
	require.NoError(t, err)
	assert.Equal(t, 3, uploaded)
	assert.Equal(t, int64(12), bytes)
	require.Len(t, reports, 3)
	assert.Equal(t, report{1, 4}, reports[0])
	assert.Equal(t, report{2, 6}, reports[1])
	assert.Equal(t, report{3, 12}, reports[2])
}

func TestUploaderRetriesChecksumRejection(t *testing.T) {
	// The coordinator answers 200 with a negative verdict; the uploader
	// treats that like any transient failure and re-sends.
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			_, _ = w.Write([]byte(`{"checksum_verified":false}`))
			return
		}
		_, _ = w.Write([]byte(`{"checksum_verified":true}`))
	}))
	defer srv.Close()

	u := NewUploader(newUploaderClient(t, srv), models.NewULID(), models.Quality480p, 3, nil)
	u.retryBase = time.Millisecond

	dir := t.TempDir()
	segments := make(chan SegmentFile, 1)
	segments <- writeTestSegment(t, dir, "480p_0000.ts", []byte("ts"))
	close(segments)

	uploaded, _, err := u.Run(context.Background(), segments)
	require.NoError(t, err)
	assert.Equal(t, 1, uploaded)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestUploaderRetriesTransientFailures(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"checksum_verified":true}`))
	}))
	defer srv.Close()

	u := NewUploader(newUploaderClient(t, srv), models.NewULID(), models.Quality480p, 3, nil)
	u.retryBase = time.Millisecond

	dir := t.TempDir()
	segments := make(chan SegmentFile, 1)
	segments <- writeTestSegment(t, dir, "480p_0000.ts", []byte("ts"))
	close(segments)

	uploaded, _, err := u.Run(context.Background(), segments)
	require.NoError(t, err)
	assert.Equal(t, 1, uploaded)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestUploaderGivesUpAfterRetries(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	u := NewUploader(newUploaderClient(t, srv), models.NewULID(), models.Quality480p, 2, nil)
	u.retryBase = time.Millisecond

	dir := t.TempDir()
	segments := make(chan SegmentFile, 1)
	segments <- writeTestSegment(t, dir, "480p_0000.ts", []byte("ts"))
	close(segments)

	uploaded, _, err := u.Run(context.Background(), segments)
	require.Error(t, err)
	assert.Equal(t, 0, uploaded)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestUploaderAbortsOnLostClaim(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"detail":"claim lost","error":"claim_lost"}`))
	}))
	defer srv.Close()

	u := NewUploader(newUploaderClient(t, srv), models.NewULID(), models.Quality480p, 3, nil)
	u.retryBase = time.Millisecond

	dir := t.TempDir()
	segments := make(chan SegmentFile, 1)
	segments <- writeTestSegment(t, dir, "480p_0000.ts", []byte("ts"))
	close(segments)

	_, _, err := u.Run(context.Background(), segments)
	require.Error(t, err)
	assert.True(t, client.IsClaimLost(err))
	assert.Equal(t, int32(1), attempts.Load(), "a lost claim must not be retried")
}

func TestUploaderUploadFileMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected for a missing file")
	}))
	defer srv.Close()

	u := NewUploader(newUploaderClient(t, srv), models.NewULID(), models.Quality480p, 1, nil)
	err := u.UploadFile(context.Background(), filepath.Join(t.TempDir(), "gone.ts"), "gone.ts")
	require.Error(t, err)
}
