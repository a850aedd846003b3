package handlers

import (
	"context"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"github.com/vlogmedia/vlog/internal/models"
	"github.com/vlogmedia/vlog/internal/service"
)

// adminActor attributes admin-surface mutations in the audit log. The admin
// boundary has a single operator identity.
const adminActor = "admin"

// AdminVideoHandler serves the video management surface.
type AdminVideoHandler struct {
	videos         *service.VideoService
	maxUploadBytes int64
	logger         *slog.Logger
}

// NewAdminVideoHandler creates an admin video handler.
func NewAdminVideoHandler(videos *service.VideoService, maxUploadBytes int64, logger *slog.Logger) *AdminVideoHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminVideoHandler{videos: videos, maxUploadBytes: maxUploadBytes, logger: logger}
}

// Register registers the JSON admin video routes with the API.
func (h *AdminVideoHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "updateVideo",
		Method:      "PATCH",
		Path:        "/videos/{slug}",
		Summary:     "Update video metadata",
		Tags:        []string{"Admin"},
	}, h.UpdateVideo)

	huma.Register(api, huma.Operation{
		OperationID:   "deleteVideo",
		Method:        "DELETE",
		Path:          "/videos/{slug}",
		Summary:       "Delete a video and its artifacts",
		Tags:          []string{"Admin"},
		DefaultStatus: http.StatusNoContent,
	}, h.DeleteVideo)

	huma.Register(api, huma.Operation{
		OperationID: "requeueVideo",
		Method:      "POST",
		Path:        "/videos/{slug}/requeue",
		Summary:     "Reset a failed video for a fresh transcoding run",
		Tags:        []string{"Admin"},
	}, h.RequeueVideo)
}

// UploadRoute registers the multipart upload endpoint. It stays a raw route
// so the source file streams to disk instead of buffering in memory.
func (h *AdminVideoHandler) UploadRoute(r chi.Router) {
	r.Post("/videos", h.Upload)
}

// Upload accepts a multipart source upload and enqueues its transcoding job.
func (h *AdminVideoHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	reader, err := r.MultipartReader()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Detail: "multipart body required", Error: "validation_error"})
		return
	}

	// Metadata fields must precede the file part so the catalog row can be
	// created before bytes start streaming.
	in := service.CreateVideoInput{}
	var video *models.Video
	for {
		part, err := reader.NextPart()
		if err != nil {
			break
		}
		switch part.FormName() {
		case "title":
			in.Title = formValue(part)
		case "slug":
			in.Slug = formValue(part)
		case "description":
			in.Description = formValue(part)
		case "category":
			in.Category = formValue(part)
		case "format":
			in.StreamingFormat = models.StreamingFormat(formValue(part))
		case "codec":
			in.PrimaryCodec = models.Codec(formValue(part))
		case "file":
			video, err = h.videos.Create(r.Context(), in, part, adminActor)
			if err != nil {
				writeError(w, r, h.logger, err)
				return
			}
		}
	}

	if video == nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Detail: "file part is required", Error: "validation_error"})
		return
	}
	writeJSON(w, http.StatusCreated, video)
}

// formValue reads a small multipart text field.
func formValue(p *multipart.Part) string {
	b, _ := io.ReadAll(io.LimitReader(p, 4096))
	return strings.TrimSpace(string(b))
}

// UpdateVideoInput carries editable video metadata.
type UpdateVideoInput struct {
	Slug string `path:"slug" maxLength:"255"`
	Body struct {
		Title       string `json:"title,omitempty" maxLength:"255"`
		Description string `json:"description,omitempty" maxLength:"4096"`
		Category    string `json:"category,omitempty" maxLength:"255"`
	}
}

// UpdateVideo edits title, description, and category.
func (h *AdminVideoHandler) UpdateVideo(ctx context.Context, input *UpdateVideoInput) (*GetVideoOutput, error) {
	video, err := h.videos.Update(ctx, input.Slug, input.Body.Title, input.Body.Description, input.Body.Category, adminActor)
	if err != nil {
		return nil, humaError(err)
	}
	return &GetVideoOutput{Body: video}, nil
}

// DeleteVideo removes a video, its segment records, and its files.
func (h *AdminVideoHandler) DeleteVideo(ctx context.Context, input *GetVideoInput) (*struct{}, error) {
	if err := h.videos.Delete(ctx, input.Slug, adminActor); err != nil {
		return nil, humaError(err)
	}
	return &struct{}{}, nil
}

// RequeueOutput reports a requeue result.
type RequeueOutput struct {
	Body struct {
		Requeued bool `json:"requeued"`
	}
}

// RequeueVideo resets the video's job for a fresh attempt.
func (h *AdminVideoHandler) RequeueVideo(ctx context.Context, input *GetVideoInput) (*RequeueOutput, error) {
	if err := h.videos.Requeue(ctx, input.Slug, adminActor); err != nil {
		return nil, humaError(err)
	}
	out := &RequeueOutput{}
	out.Body.Requeued = true
	return out, nil
}
