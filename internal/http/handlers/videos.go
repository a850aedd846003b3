package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/vlogmedia/vlog/internal/models"
	"github.com/vlogmedia/vlog/internal/repository"
	"github.com/vlogmedia/vlog/internal/service"
)

// VideoHandler serves the public read-only catalog API.
type VideoHandler struct {
	videos *service.VideoService
}

// NewVideoHandler creates a video handler.
func NewVideoHandler(videos *service.VideoService) *VideoHandler {
	return &VideoHandler{videos: videos}
}

// Register registers the public video routes with the API.
func (h *VideoHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listVideos",
		Method:      "GET",
		Path:        "/api/videos",
		Summary:     "List videos",
		Tags:        []string{"Videos"},
	}, h.ListVideos)

	huma.Register(api, huma.Operation{
		OperationID: "getVideo",
		Method:      "GET",
		Path:        "/api/videos/{slug}",
		Summary:     "Get a video by slug",
		Tags:        []string{"Videos"},
	}, h.GetVideo)

	huma.Register(api, huma.Operation{
		OperationID: "getVideoProgress",
		Method:      "GET",
		Path:        "/api/videos/{slug}/progress",
		Summary:     "Get transcoding progress for a video",
		Tags:        []string{"Videos"},
	}, h.GetProgress)

	huma.Register(api, huma.Operation{
		OperationID: "listCategories",
		Method:      "GET",
		Path:        "/api/categories",
		Summary:     "List categories with video counts",
		Tags:        []string{"Categories"},
	}, h.ListCategories)

	huma.Register(api, huma.Operation{
		OperationID: "listCategoryVideos",
		Method:      "GET",
		Path:        "/api/categories/{slug}",
		Summary:     "List videos in a category",
		Tags:        []string{"Categories"},
	}, h.ListCategoryVideos)
}

// ListVideosInput is the input for listing videos.
type ListVideosInput struct {
	Category string `query:"category" doc:"Filter by category"`
	Offset   int    `query:"offset" minimum:"0" doc:"Pagination offset"`
	Limit    int    `query:"limit" maximum:"100" doc:"Page size (default 20)"`
}

// VideoListResponse is a page of videos.
type VideoListResponse struct {
	Videos []*models.Video `json:"videos"`
	Total  int64           `json:"total"`
	Offset int             `json:"offset"`
	Limit  int             `json:"limit"`
}

// ListVideosOutput is the output for listing videos.
type ListVideosOutput struct {
	Body VideoListResponse
}

// ListVideos returns a page of videos, newest first.
func (h *VideoHandler) ListVideos(ctx context.Context, input *ListVideosInput) (*ListVideosOutput, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = 20
	}
	videos, total, err := h.videos.List(ctx, input.Category, input.Offset, limit)
	if err != nil {
		return nil, humaError(err)
	}
	return &ListVideosOutput{Body: VideoListResponse{
		Videos: videos,
		Total:  total,
		Offset: input.Offset,
		Limit:  limit,
	}}, nil
}

// GetVideoInput identifies a video by slug.
type GetVideoInput struct {
	Slug string `path:"slug" maxLength:"255" doc:"Video slug"`
}

// GetVideoOutput is the output for fetching one video.
type GetVideoOutput struct {
	Body *models.Video
}

// GetVideo returns one video by slug.
func (h *VideoHandler) GetVideo(ctx context.Context, input *GetVideoInput) (*GetVideoOutput, error) {
	video, err := h.videos.Get(ctx, input.Slug)
	if err != nil {
		return nil, humaError(err)
	}
	return &GetVideoOutput{Body: video}, nil
}

// QualityProgressView is the public shape of one variant's progress.
type QualityProgressView struct {
	Name     string  `json:"name"`
	Status   string  `json:"status"`
	Progress float64 `json:"progress"`
}

// ProgressResponse is the public processing status of one video.
type ProgressResponse struct {
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

// GetProgressOutput is the output for the progress endpoint.
type GetProgressOutput struct {
	Body ProgressResponse
}

// GetProgress returns the job state and per-variant breakdown for a video.
func (h *VideoHandler) GetProgress(ctx context.Context, input *GetVideoInput) (*GetProgressOutput, error) {
	progress, err := h.videos.Progress(ctx, input.Slug)
	if err != nil {
		return nil, humaError(err)
	}

	qualities := make([]QualityProgressView, 0, len(progress.Qualities))
	for _, q := range progress.Qualities {
		qualities = append(qualities, QualityProgressView{
			Name:     string(q.Quality),
			Status:   string(q.Status),
			Progress: q.ProgressPercent,
		})
	}

	return &GetProgressOutput{Body: ProgressResponse{
		Status:          progress.Video.Status,
		State:           progress.State,
		CurrentStep:     progress.Step,
		ProgressPercent: progress.Percent,
		Qualities:       qualities,
		Attempt:         progress.Attempt,
		MaxAttempts:     progress.MaxAttempts,
		StartedAt:       progress.StartedAt,
		LastError:       progress.LastError,
	}}, nil
}

// ListCategoriesOutput is the output for listing categories.
type ListCategoriesOutput struct {
	Body struct {
		Categories []repository.CategoryCount `json:"categories"`
	}
}

// ListCategories returns distinct categories with their video counts.
func (h *VideoHandler) ListCategories(ctx context.Context, _ *struct{}) (*ListCategoriesOutput, error) {
	categories, err := h.videos.Categories(ctx)
	if err != nil {
		return nil, humaError(err)
	}
	out := &ListCategoriesOutput{}
	out.Body.Categories = categories
	return out, nil
}

// ListCategoryVideosInput identifies a category page.
type ListCategoryVideosInput struct {
	Slug   string `path:"slug" maxLength:"255" doc:"Category name"`
	Offset int    `query:"offset" minimum:"0"`
	Limit  int    `query:"limit" maximum:"100"`
}

// ListCategoryVideos returns the videos of one category.
func (h *VideoHandler) ListCategoryVideos(ctx context.Context, input *ListCategoryVideosInput) (*ListVideosOutput, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = 20
	}
	videos, total, err := h.videos.List(ctx, input.Slug, input.Offset, limit)
	if err != nil {
		return nil, humaError(err)
	}
	return &ListVideosOutput{Body: VideoListResponse{
		Videos: videos,
		Total:  total,
		Offset: input.Offset,
		Limit:  limit,
	}}, nil
}
