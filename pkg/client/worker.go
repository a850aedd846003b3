package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	"github.com/vlogmedia/vlog/internal/coordinator"
	"github.com/vlogmedia/vlog/internal/models"
)

// RegisterRequest is the worker registration payload.
type RegisterRequest struct {
	WorkerName   string                `json:"worker_name,omitempty"`
	WorkerType   models.WorkerType     `json:"worker_type"`
	Capabilities *models.Capabilities  `json:"capabilities,omitempty"`
	Metadata     models.WorkerMetadata `json:"metadata,omitempty"`
}

// RegisterResponse carries the issued identity. The API key is visible only
// in this response; callers persist it immediately.
type RegisterResponse struct {
	WorkerID string `json:"worker_id"`
	APIKey   string `json:"api_key"`
}

// Register creates a worker identity. The returned key is installed on the
// client for subsequent calls.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*RegisterResponse, error) {
	var resp RegisterResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/worker/register", req, &resp, authNone); err != nil {
		return nil, err
	}
	c.SetAPIKey(resp.APIKey)
	return &resp, nil
}

// HeartbeatResponse tells the worker when the next heartbeat is due.
type HeartbeatResponse struct {
	ServerTime      models.Time `json:"server_time"`
	NextHeartbeatBy models.Time `json:"next_heartbeat_by"`
}

// heartbeatRequest mirrors the coordinator's heartbeat payload.
type heartbeatRequest struct {
	Status       models.WorkerStatus   `json:"status"`
	Metadata     models.WorkerMetadata `json:"metadata,omitempty"`
	Capabilities *models.Capabilities  `json:"capabilities,omitempty"`
}

// Heartbeat reports liveness and, optionally, refreshed capabilities.
func (c *Client) Heartbeat(ctx context.Context, status models.WorkerStatus, metadata models.WorkerMetadata, caps *models.Capabilities) (*HeartbeatResponse, error) {
	req := heartbeatRequest{Status: status, Metadata: metadata, Capabilities: caps}
	var resp HeartbeatResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/worker/heartbeat", req, &resp, authWorker); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Claim asks for the oldest compatible job. ErrNoWork means the queue is
// empty for this worker's capabilities.
func (c *Client) Claim(ctx context.Context) (*coordinator.ClaimedJob, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/api/worker/claim", nil, authWorker)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("claiming job: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	// The claim endpoint answers with either a claimed job or a no-work
	// message; sniff which one arrived.
	var envelope struct {
		Message string          `json:"message"`
		Job     json.RawMessage `json:"job"`
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading claim response: %w", err)
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("decoding claim response: %w", err)
	}
	if len(envelope.Job) == 0 {
		return nil, ErrNoWork
	}

	var claimed coordinator.ClaimedJob
	if err := json.Unmarshal(raw, &claimed); err != nil {
		return nil, fmt.Errorf("decoding claimed job: %w", err)
	}
	return &claimed, nil
}

// DownloadSource streams the source file of a claimed video to destPath.
// A partial file left by an interrupted transfer is resumed with a range
// request rather than refetched.
func (c *Client) DownloadSource(ctx context.Context, videoID models.ULID, destPath string) error {
	var offset int64
	if info, err := os.Stat(destPath); err == nil {
		offset = info.Size()
	}

	req, err := c.newRequest(ctx, http.MethodGet, "/api/worker/source/"+videoID.String(), nil, authWorker)
	if err != nil {
		return err
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("downloading source: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// Full body; any partial file is stale.
		offset = 0
	case http.StatusPartialContent:
	case http.StatusRequestedRangeNotSatisfiable:
		// Local file already covers the source.
		return nil
	default:
		return decodeError(resp)
	}

	flags := os.O_CREATE | os.O_WRONLY
	if offset > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(destPath, flags, 0o644)
	if err != nil {
		return fmt.Errorf("opening destination: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		return fmt.Errorf("writing source: %w", err)
	}
	return f.Close()
}

// progressRequest mirrors the coordinator's progress payload.
type progressRequest struct {
	CurrentStep     string                      `json:"current_step"`
	ProgressPercent float64                     `json:"progress_percent"`
	QualityProgress []coordinator.QualityUpdate `json:"quality_progress,omitempty"`
}

// ReportProgress sends a progress update, which also extends the claim lease.
func (c *Client) ReportProgress(ctx context.Context, jobID models.ULID, step string, percent float64, qualities []coordinator.QualityUpdate) error {
	req := progressRequest{CurrentStep: step, ProgressPercent: percent, QualityProgress: qualities}
	return c.doJSON(ctx, http.MethodPost, "/api/worker/"+jobID.String()+"/progress", req, nil, authWorker)
}

// UploadSegment streams one segment body with its declared checksum. The
// coordinator verifies the hash and answers with its verdict; an unverified
// segment surfaces as a retryable error.
func (c *Client) UploadSegment(ctx context.Context, videoID models.ULID, quality models.Quality, filename, sha256Hex string, size int64, body io.Reader) error {
	q := url.Values{}
	q.Set("quality", string(quality))
	q.Set("filename", filename)
	q.Set("sha256", sha256Hex)
	path := "/api/worker/upload-segment/" + videoID.String() + "?" + q.Encode()

	req, err := c.newRequest(ctx, http.MethodPost, path, body, authWorker)
	if err != nil {
		return err
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("uploading segment %s: %w", filename, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	var verdict struct {
		ChecksumVerified bool `json:"checksum_verified"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&verdict); err != nil {
		return fmt.Errorf("decoding upload response for %s: %w", filename, err)
	}
	if !verdict.ChecksumVerified {
		return fmt.Errorf("segment %s failed checksum verification, re-send it", filename)
	}
	return nil
}

// UploadPlaylist stores a variant playlist, or the master playlist when
// quality is empty.
func (c *Client) UploadPlaylist(ctx context.Context, videoID models.ULID, quality models.Quality, filename string, data []byte) error {
	q := url.Values{}
	if quality != "" {
		q.Set("quality", string(quality))
	}
	q.Set("filename", filename)
	path := "/api/worker/playlist/" + videoID.String() + "?" + q.Encode()

	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(data), authWorker)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/vnd.apple.mpegurl")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("uploading playlist %s: %w", filename, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// finalizeRequest mirrors the coordinator's finalize payload.
type finalizeRequest struct {
	SegmentCount   int    `json:"segment_count"`
	ManifestSHA256 string `json:"manifest_sha256,omitempty"`
}

// Finalize asks the coordinator to verify that all declared segments of a
// variant arrived and the playlist checksum matches.
func (c *Client) Finalize(ctx context.Context, videoID models.ULID, quality models.Quality, segmentCount int, manifestSHA256 string) (*coordinator.FinalizeResult, error) {
	req := finalizeRequest{SegmentCount: segmentCount, ManifestSHA256: manifestSHA256}
	var result coordinator.FinalizeResult
	path := "/api/worker/finalize/" + videoID.String() + "/" + string(quality)
	if err := c.doJSON(ctx, http.MethodPost, path, req, &result, authWorker); err != nil {
		return nil, err
	}
	return &result, nil
}

// completeRequest mirrors the coordinator's completion payload.
type completeRequest struct {
	Qualities       []coordinator.QualityUpdate `json:"qualities"`
	DurationSeconds float64                     `json:"duration_seconds,omitempty"`
	SourceWidth     int                         `json:"source_width,omitempty"`
	SourceHeight    int                         `json:"source_height,omitempty"`
}

// Complete reports job completion together with probed media facts.
func (c *Client) Complete(ctx context.Context, jobID models.ULID, qualities []coordinator.QualityUpdate, info coordinator.MediaInfo) error {
	req := completeRequest{
		Qualities:       qualities,
		DurationSeconds: info.DurationSeconds,
		SourceWidth:     info.Width,
		SourceHeight:    info.Height,
	}
	return c.doJSON(ctx, http.MethodPost, "/api/worker/"+jobID.String()+"/complete", req, nil, authWorker)
}

// failRequest mirrors the coordinator's failure payload.
type failRequest struct {
	ErrorMessage string `json:"error_message"`
	Retry        bool   `json:"retry"`
}

// Fail reports a job failure. With retry true the coordinator may hand the
// job to another worker.
func (c *Client) Fail(ctx context.Context, jobID models.ULID, message string, retry bool) error {
	req := failRequest{ErrorMessage: message, Retry: retry}
	return c.doJSON(ctx, http.MethodPost, "/api/worker/"+jobID.String()+"/fail", req, nil, authWorker)
}
