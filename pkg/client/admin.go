package client

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"

	"github.com/vlogmedia/vlog/internal/models"
)

// VideoList is a page of catalog videos.
type VideoList struct {
	Videos []*models.Video `json:"videos"`
	Total  int64           `json:"total"`
	Offset int             `json:"offset"`
	Limit  int             `json:"limit"`
}

// ListVideos returns a catalog page, newest first.
func (c *Client) ListVideos(ctx context.Context, category string, offset, limit int) (*VideoList, error) {
	q := url.Values{}
	if category != "" {
		q.Set("category", category)
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/videos"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var list VideoList
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &list, authNone); err != nil {
		return nil, err
	}
	return &list, nil
}

// GetVideo returns one video by slug.
func (c *Client) GetVideo(ctx context.Context, slug string) (*models.Video, error) {
	var video models.Video
	if err := c.doJSON(ctx, http.MethodGet, "/api/videos/"+slug, nil, &video, authNone); err != nil {
		return nil, err
	}
	return &video, nil
}

// QualityProgressView is one variant's public progress.
type QualityProgressView struct {
	Name     string  `json:"name"`
	Status   string  `json:"status"`
	Progress float64 `json:"progress"`
}

// VideoProgress is the public processing status of one video.
type VideoProgress struct {
	Status          models.VideoStatus    `json:"status"`
	State           models.JobState       `json:"state"`
	CurrentStep     string                `json:"current_step,omitempty"`
	ProgressPercent float64               `json:"progress_percent"`
	Qualities       []QualityProgressView `json:"qualities"`
	Attempt         int                   `json:"attempt"`
	MaxAttempts     int                   `json:"max_attempts"`
	StartedAt       *models.Time          `json:"started_at,omitempty"`
	LastError       string                `json:"last_error,omitempty"`
}

// GetProgress returns the transcoding progress of a video.
func (c *Client) GetProgress(ctx context.Context, slug string) (*VideoProgress, error) {
	var progress VideoProgress
	if err := c.doJSON(ctx, http.MethodGet, "/api/videos/"+slug+"/progress", nil, &progress, authNone); err != nil {
		return nil, err
	}
	return &progress, nil
}

// CategoryCount is a distinct category with its video count.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int64  `json:"count"`
}

// ListCategories returns the categories present in the catalog.
func (c *Client) ListCategories(ctx context.Context) ([]CategoryCount, error) {
	var resp struct {
		Categories []CategoryCount `json:"categories"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/categories", nil, &resp, authNone); err != nil {
		return nil, err
	}
	return resp.Categories, nil
}

// UploadVideoRequest describes a new video upload.
type UploadVideoRequest struct {
	Title       string
	Slug        string
	Description string
	Category    string
	Format      string
	Codec       string
	// Filename is the form filename of the source part.
	Filename string
}

// UploadVideo streams a new source file to the admin upload endpoint. The
// metadata fields precede the file part so the coordinator can create the
// catalog row before the transfer starts.
func (c *Client) UploadVideo(ctx context.Context, req UploadVideoRequest, source io.Reader) (*models.Video, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		err := writeUploadForm(mw, req, source)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	httpReq, err := c.newRequest(ctx, http.MethodPost, "/api/admin/videos", pr, authAdmin)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("uploading video: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, decodeError(resp)
	}
	var video models.Video
	if err := jsonDecode(resp.Body, &video); err != nil {
		return nil, err
	}
	return &video, nil
}

// writeUploadForm writes the multipart fields in the order the coordinator
// expects: metadata first, file last.
func writeUploadForm(mw *multipart.Writer, req UploadVideoRequest, source io.Reader) error {
	fields := []struct{ name, value string }{
		{"title", req.Title},
		{"slug", req.Slug},
		{"description", req.Description},
		{"category", req.Category},
		{"format", req.Format},
		{"codec", req.Codec},
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		if err := mw.WriteField(f.name, f.value); err != nil {
			return fmt.Errorf("writing field %s: %w", f.name, err)
		}
	}

	filename := req.Filename
	if filename == "" {
		filename = "source"
	}
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return fmt.Errorf("creating file part: %w", err)
	}
	if _, err := io.Copy(part, source); err != nil {
		return fmt.Errorf("streaming source: %w", err)
	}
	return nil
}

// UpdateVideoRequest carries mutable catalog fields; nil means unchanged.
type UpdateVideoRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Category    *string `json:"category,omitempty"`
}

// UpdateVideo patches catalog metadata of one video.
func (c *Client) UpdateVideo(ctx context.Context, slug string, req UpdateVideoRequest) (*models.Video, error) {
	var video models.Video
	if err := c.doJSON(ctx, http.MethodPatch, "/api/admin/videos/"+slug, req, &video, authAdmin); err != nil {
		return nil, err
	}
	return &video, nil
}

// DeleteVideo removes a video and its stored artifacts.
func (c *Client) DeleteVideo(ctx context.Context, slug string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/admin/videos/"+slug, nil, nil, authAdmin)
}

// RequeueVideo resets a failed video for another transcoding run.
func (c *Client) RequeueVideo(ctx context.Context, slug string) error {
	return c.doJSON(ctx, http.MethodPost, "/api/admin/videos/"+slug+"/requeue", nil, nil, authAdmin)
}

// ListWorkers returns all registered workers.
func (c *Client) ListWorkers(ctx context.Context) ([]*models.Worker, error) {
	var resp struct {
		Workers []*models.Worker `json:"workers"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/admin/workers", nil, &resp, authAdmin); err != nil {
		return nil, err
	}
	return resp.Workers, nil
}

// GetWorker returns one worker.
func (c *Client) GetWorker(ctx context.Context, workerID string) (*models.Worker, error) {
	var worker models.Worker
	if err := c.doJSON(ctx, http.MethodGet, "/api/admin/workers/"+workerID, nil, &worker, authAdmin); err != nil {
		return nil, err
	}
	return &worker, nil
}

// EnableWorker re-enables a disabled worker.
func (c *Client) EnableWorker(ctx context.Context, workerID string) error {
	return c.doJSON(ctx, http.MethodPost, "/api/admin/workers/"+workerID+"/enable", nil, nil, authAdmin)
}

// DisableWorker disables a worker; its keys stop authenticating.
func (c *Client) DisableWorker(ctx context.Context, workerID string) error {
	return c.doJSON(ctx, http.MethodPost, "/api/admin/workers/"+workerID+"/disable", nil, nil, authAdmin)
}

// DeleteWorker removes a worker permanently.
func (c *Client) DeleteWorker(ctx context.Context, workerID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/admin/workers/"+workerID, nil, nil, authAdmin)
}

// RotateWorkerKey revokes all keys of a worker and returns the fresh one.
func (c *Client) RotateWorkerKey(ctx context.Context, workerID string) (string, error) {
	var resp struct {
		APIKey string `json:"api_key"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/admin/workers/"+workerID+"/rotate-key", nil, &resp, authAdmin); err != nil {
		return "", err
	}
	return resp.APIKey, nil
}

// CommandResult is a worker's reply to a control-channel command.
type CommandResult struct {
	RequestID string         `json:"request_id"`
	WorkerID  string         `json:"worker_id"`
	Success   bool           `json:"success"`
	Error     string         `json:"error,omitempty"`
	Result    map[string]any `json:"result,omitempty"`
}

// SendWorkerCommand sends a command over the control channel and returns the
// worker's reply.
func (c *Client) SendWorkerCommand(ctx context.Context, workerID, command string, args map[string]string) (*CommandResult, error) {
	req := struct {
		Command string            `json:"command"`
		Args    map[string]string `json:"args,omitempty"`
	}{Command: command, Args: args}

	var result CommandResult
	if err := c.doJSON(ctx, http.MethodPost, "/api/admin/workers/"+workerID+"/command", req, &result, authAdmin); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListSettings returns runtime settings, optionally narrowed to a category.
func (c *Client) ListSettings(ctx context.Context, category string) ([]*models.Setting, error) {
	path := "/api/admin/settings"
	if category != "" {
		path += "?category=" + url.QueryEscape(category)
	}
	var resp struct {
		Settings []*models.Setting `json:"settings"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp, authAdmin); err != nil {
		return nil, err
	}
	return resp.Settings, nil
}

// GetSetting returns one setting with its constraints.
func (c *Client) GetSetting(ctx context.Context, key string) (*models.Setting, error) {
	var setting models.Setting
	if err := c.doJSON(ctx, http.MethodGet, "/api/admin/settings/"+key, nil, &setting, authAdmin); err != nil {
		return nil, err
	}
	return &setting, nil
}

// PutSetting creates or updates a setting.
func (c *Client) PutSetting(ctx context.Context, key, value string) (*models.Setting, error) {
	req := struct {
		Value string `json:"value"`
	}{Value: value}
	var setting models.Setting
	if err := c.doJSON(ctx, http.MethodPut, "/api/admin/settings/"+key, req, &setting, authAdmin); err != nil {
		return nil, err
	}
	return &setting, nil
}

// DeleteSetting removes a setting, restoring the environment fallback.
func (c *Client) DeleteSetting(ctx context.Context, key string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/admin/settings/"+key, nil, nil, authAdmin)
}
