package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vlogmedia/vlog/internal/coordinator"
	"github.com/vlogmedia/vlog/internal/http/middleware"
	"github.com/vlogmedia/vlog/internal/models"
	"github.com/vlogmedia/vlog/internal/service"
	"github.com/vlogmedia/vlog/internal/storage"
)

// maxFailureMessageLen bounds a worker-reported error message.
const maxFailureMessageLen = 500

// WorkerAPIHandler serves the worker data plane: registration, heartbeats,
// claims, streaming uploads, and completion reporting.
type WorkerAPIHandler struct {
	workers *service.WorkerService
	coord   *coordinator.Coordinator
	store   *storage.Store

	heartbeatInterval time.Duration
	maxUploadBytes    int64
	logger            *slog.Logger
}

// NewWorkerAPIHandler creates a worker API handler.
func NewWorkerAPIHandler(
	workers *service.WorkerService,
	coord *coordinator.Coordinator,
	store *storage.Store,
	heartbeatInterval time.Duration,
	maxUploadBytes int64,
	logger *slog.Logger,
) *WorkerAPIHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkerAPIHandler{
		workers:           workers,
		coord:             coord,
		store:             store,
		heartbeatInterval: heartbeatInterval,
		maxUploadBytes:    maxUploadBytes,
		logger:            logger,
	}
}

// RegisterRoute registers the unauthenticated registration endpoint. A
// worker cannot present a key it does not have yet; rate limiting is the
// only gate here.
func (h *WorkerAPIHandler) RegisterRoute(r chi.Router) {
	r.Post("/register", h.Register)
}

// Routes registers the key-authenticated worker endpoints.
func (h *WorkerAPIHandler) Routes(r chi.Router) {
	r.Post("/heartbeat", h.Heartbeat)
	r.Post("/claim", h.Claim)
	r.Get("/source/{videoID}", h.DownloadSource)
	r.Post("/{jobID}/progress", h.Progress)
	r.Post("/upload-segment/{videoID}", h.UploadSegment)
	r.Post("/playlist/{videoID}", h.UploadPlaylist)
	r.Post("/finalize/{videoID}/{quality}", h.Finalize)
	r.Post("/{jobID}/complete", h.Complete)
	r.Post("/{jobID}/fail", h.Fail)
}

type registerRequest struct {
	WorkerName   string                `json:"worker_name"`
	WorkerType   models.WorkerType     `json:"worker_type"`
	Capabilities *models.Capabilities  `json:"capabilities,omitempty"`
	Metadata     models.WorkerMetadata `json:"metadata,omitempty"`
}

type registerResponse struct {
	WorkerID string `json:"worker_id"`
	APIKey   string `json:"api_key"`
}

// Register creates a worker identity and issues its one-time-visible key.
func (h *WorkerAPIHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if req.WorkerType == "" {
		req.WorkerType = models.WorkerTypeRemote
	}
	if req.WorkerType != models.WorkerTypeLocal && req.WorkerType != models.WorkerTypeRemote {
		writeJSON(w, http.StatusBadRequest, errorBody{Detail: "worker_type must be local or remote", Error: "validation_error"})
		return
	}

	var caps models.Capabilities
	if req.Capabilities != nil {
		caps = *req.Capabilities
	}
	registered, err := h.workers.Register(r.Context(), req.WorkerName, req.WorkerType, caps, req.Metadata)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, registerResponse{
		WorkerID: registered.Worker.WorkerID,
		APIKey:   registered.PlainKey,
	})
}

type heartbeatRequest struct {
	Status       models.WorkerStatus   `json:"status"`
	Metadata     models.WorkerMetadata `json:"metadata,omitempty"`
	Capabilities *models.Capabilities  `json:"capabilities,omitempty"`
}

type heartbeatResponse struct {
	ServerTime      models.Time `json:"server_time"`
	NextHeartbeatBy models.Time `json:"next_heartbeat_by"`
}

// Heartbeat records a worker liveness report.
func (h *WorkerAPIHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	worker := middleware.GetWorker(r.Context())

	var req heartbeatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	switch req.Status {
	case models.WorkerStatusActive, models.WorkerStatusIdle, models.WorkerStatusBusy:
	default:
		writeJSON(w, http.StatusBadRequest, errorBody{Detail: "status must be active, idle, or busy", Error: "validation_error"})
		return
	}

	if err := h.workers.Heartbeat(r.Context(), worker, req.Status, req.Metadata); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if req.Capabilities != nil {
		if err := h.workers.UpdateCapabilities(r.Context(), worker, *req.Capabilities); err != nil {
			writeError(w, r, h.logger, err)
			return
		}
	}

	now := models.Now()
	writeJSON(w, http.StatusOK, heartbeatResponse{
		ServerTime:      now,
		NextHeartbeatBy: now.Add(h.heartbeatInterval),
	})
}

// Claim hands out the oldest compatible job, or "no work".
func (h *WorkerAPIHandler) Claim(w http.ResponseWriter, r *http.Request) {
	worker := middleware.GetWorker(r.Context())

	claimed, err := h.coord.Claim(r.Context(), worker)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if claimed == nil {
		writeJSON(w, http.StatusOK, map[string]string{"message": "no work"})
		return
	}
	writeJSON(w, http.StatusOK, claimed)
}

// DownloadSource streams the source file of a claimed video with range
// support, so an interrupted transfer can resume.
func (h *WorkerAPIHandler) DownloadSource(w http.ResponseWriter, r *http.Request) {
	worker := middleware.GetWorker(r.Context())

	videoID, err := models.ParseULID(chi.URLParam(r, "videoID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Detail: "invalid video id", Error: "validation_error"})
		return
	}
	if _, _, err := h.coord.JobForVideo(r.Context(), worker, videoID); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	f, info, err := h.store.OpenSource(videoID.String())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	http.ServeContent(w, r, videoID.String(), info.ModTime(), f)
}

type progressRequest struct {
	CurrentStep     string                      `json:"current_step"`
	ProgressPercent float64                     `json:"progress_percent"`
	QualityProgress []coordinator.QualityUpdate `json:"quality_progress,omitempty"`
}

// Progress records a progress report, which doubles as a heartbeat on the
// claim lease.
func (h *WorkerAPIHandler) Progress(w http.ResponseWriter, r *http.Request) {
	worker := middleware.GetWorker(r.Context())

	jobID, err := models.ParseULID(chi.URLParam(r, "jobID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Detail: "invalid job id", Error: "validation_error"})
		return
	}
	var req progressRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	if err := h.coord.Progress(r.Context(), worker, jobID, req.CurrentStep, req.ProgressPercent, req.QualityProgress); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"claim_extended": true})
}

// UploadSegment streams one verified segment into storage. The declared
// SHA-256 travels as a query parameter; the body is the raw segment.
func (h *WorkerAPIHandler) UploadSegment(w http.ResponseWriter, r *http.Request) {
	worker := middleware.GetWorker(r.Context())

	videoID, err := models.ParseULID(chi.URLParam(r, "videoID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Detail: "invalid video id", Error: "validation_error"})
		return
	}

	quality := models.Quality(r.URL.Query().Get("quality"))
	filename := r.URL.Query().Get("filename")
	sha := r.URL.Query().Get("sha256")
	if !models.ValidQuality(quality) || !storage.ValidFilename(filename) || len(sha) != 64 {
		writeJSON(w, http.StatusBadRequest, errorBody{Detail: "quality, filename, and sha256 are required", Error: "validation_error"})
		return
	}

	job, _, err := h.coord.JobForVideo(r.Context(), worker, videoID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	body := http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	defer body.Close()

	if err := h.coord.UploadSegment(r.Context(), worker, job.ID, quality, filename, r.ContentLength, sha, body); err != nil {
		// A checksum mismatch is a valid outcome of a well-formed request;
		// the worker reads the verdict and re-sends the segment.
		if errors.Is(err, storage.ErrChecksumMismatch) {
			writeJSON(w, http.StatusOK, map[string]bool{"checksum_verified": false})
			return
		}
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"checksum_verified": true})
}

// UploadPlaylist stores a variant playlist, or the master playlist when no
// quality is given.
func (h *WorkerAPIHandler) UploadPlaylist(w http.ResponseWriter, r *http.Request) {
	worker := middleware.GetWorker(r.Context())

	videoID, err := models.ParseULID(chi.URLParam(r, "videoID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Detail: "invalid video id", Error: "validation_error"})
		return
	}

	quality := models.Quality(r.URL.Query().Get("quality"))
	filename := r.URL.Query().Get("filename")
	if quality != "" && !models.ValidQuality(quality) {
		writeJSON(w, http.StatusBadRequest, errorBody{Detail: "unknown quality", Error: "validation_error"})
		return
	}
	if !storage.ValidFilename(filename) {
		writeJSON(w, http.StatusBadRequest, errorBody{Detail: "filename is required", Error: "validation_error"})
		return
	}

	job, _, err := h.coord.JobForVideo(r.Context(), worker, videoID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxJSONBody))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	if err := h.coord.UploadPlaylist(r.Context(), worker, job.ID, quality, filename, data); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"stored": true})
}

type finalizeRequest struct {
	SegmentCount   int    `json:"segment_count"`
	ManifestSHA256 string `json:"manifest_sha256,omitempty"`
}

// Finalize verifies that a variant's segments all arrived and its playlist
// matches the declared checksum.
func (h *WorkerAPIHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	worker := middleware.GetWorker(r.Context())

	videoID, err := models.ParseULID(chi.URLParam(r, "videoID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Detail: "invalid video id", Error: "validation_error"})
		return
	}
	quality := models.Quality(chi.URLParam(r, "quality"))

	var req finalizeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	result, err := h.coord.Finalize(r.Context(), worker, videoID, quality, req.SegmentCount, req.ManifestSHA256)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type completeRequest struct {
	Qualities       []coordinator.QualityUpdate `json:"qualities"`
	DurationSeconds float64                     `json:"duration_seconds,omitempty"`
	SourceWidth     int                         `json:"source_width,omitempty"`
	SourceHeight    int                         `json:"source_height,omitempty"`
}

// Complete finishes a job, recording probed media facts along the way.
func (h *WorkerAPIHandler) Complete(w http.ResponseWriter, r *http.Request) {
	worker := middleware.GetWorker(r.Context())

	jobID, err := models.ParseULID(chi.URLParam(r, "jobID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Detail: "invalid job id", Error: "validation_error"})
		return
	}
	var req completeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	if req.DurationSeconds > 0 {
		info := coordinator.MediaInfo{
			DurationSeconds: req.DurationSeconds,
			Width:           req.SourceWidth,
			Height:          req.SourceHeight,
		}
		if err := h.coord.ReportMedia(r.Context(), worker, jobID, info); err != nil {
			writeError(w, r, h.logger, err)
			return
		}
	}

	report := coordinator.CompletionReport{
		Qualities:       req.Qualities,
		DurationSeconds: req.DurationSeconds,
	}
	if err := h.coord.Complete(r.Context(), worker, jobID, report); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"completed": true})
}

type failRequest struct {
	ErrorMessage string `json:"error_message"`
	Retry        bool   `json:"retry"`
}

// Fail records a worker-reported job failure.
func (h *WorkerAPIHandler) Fail(w http.ResponseWriter, r *http.Request) {
	worker := middleware.GetWorker(r.Context())

	jobID, err := models.ParseULID(chi.URLParam(r, "jobID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Detail: "invalid job id", Error: "validation_error"})
		return
	}
	var req failRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if len(req.ErrorMessage) > maxFailureMessageLen {
		req.ErrorMessage = req.ErrorMessage[:maxFailureMessageLen]
	}

	if err := h.coord.Fail(r.Context(), worker, jobID, req.ErrorMessage, req.Retry); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"recorded": true})
}
