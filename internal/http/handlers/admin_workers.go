package handlers

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/vlogmedia/vlog/internal/bus"
	"github.com/vlogmedia/vlog/internal/models"
	"github.com/vlogmedia/vlog/internal/service"
)

// AdminWorkerHandler serves the worker management surface.
type AdminWorkerHandler struct {
	workers *service.WorkerService
}

// NewAdminWorkerHandler creates an admin worker handler.
func NewAdminWorkerHandler(workers *service.WorkerService) *AdminWorkerHandler {
	return &AdminWorkerHandler{workers: workers}
}

// Register registers the admin worker routes with the API.
func (h *AdminWorkerHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listWorkers",
		Method:      "GET",
		Path:        "/workers",
		Summary:     "List registered workers",
		Tags:        []string{"Admin"},
	}, h.ListWorkers)

	huma.Register(api, huma.Operation{
		OperationID: "getWorker",
		Method:      "GET",
		Path:        "/workers/{id}",
		Summary:     "Get one worker",
		Tags:        []string{"Admin"},
	}, h.GetWorker)

	huma.Register(api, huma.Operation{
		OperationID: "enableWorker",
		Method:      "POST",
		Path:        "/workers/{id}/enable",
		Summary:     "Re-enable a disabled worker",
		Tags:        []string{"Admin"},
	}, h.EnableWorker)

	huma.Register(api, huma.Operation{
		OperationID: "disableWorker",
		Method:      "POST",
		Path:        "/workers/{id}/disable",
		Summary:     "Disable a worker; its key stops authenticating",
		Tags:        []string{"Admin"},
	}, h.DisableWorker)

	huma.Register(api, huma.Operation{
		OperationID:   "deleteWorker",
		Method:        "DELETE",
		Path:          "/workers/{id}",
		Summary:       "Remove a worker and revoke its keys",
		Tags:          []string{"Admin"},
		DefaultStatus: http.StatusNoContent,
	}, h.DeleteWorker)

	huma.Register(api, huma.Operation{
		OperationID: "rotateWorkerKey",
		Method:      "POST",
		Path:        "/workers/{id}/rotate-key",
		Summary:     "Revoke all keys of a worker and issue a fresh one",
		Tags:        []string{"Admin"},
	}, h.RotateKey)

	huma.Register(api, huma.Operation{
		OperationID: "sendWorkerCommand",
		Method:      "POST",
		Path:        "/workers/{id}/command",
		Summary:     "Send a command to a worker over the control channel",
		Tags:        []string{"Admin"},
	}, h.SendCommand)

	huma.Register(api, huma.Operation{
		OperationID: "listWorkerEvents",
		Method:      "GET",
		Path:        "/workers/{id}/events",
		Summary:     "List deployment events of a worker, newest first",
		Tags:        []string{"Admin"},
	}, h.ListEvents)
}

// WorkerIDInput identifies a worker.
type WorkerIDInput struct {
	ID string `path:"id" maxLength:"36" doc:"Worker UUID"`
}

// ListWorkersOutput is the output for listing workers.
type ListWorkersOutput struct {
	Body struct {
		Workers []*models.Worker `json:"workers"`
	}
}

// ListWorkers returns all registered workers with derived offline status.
func (h *AdminWorkerHandler) ListWorkers(ctx context.Context, _ *struct{}) (*ListWorkersOutput, error) {
	workers, err := h.workers.List(ctx)
	if err != nil {
		return nil, humaError(err)
	}
	out := &ListWorkersOutput{}
	out.Body.Workers = workers
	return out, nil
}

// GetWorkerOutput is the output for fetching one worker.
type GetWorkerOutput struct {
	Body *models.Worker
}

// GetWorker returns one worker.
func (h *AdminWorkerHandler) GetWorker(ctx context.Context, input *WorkerIDInput) (*GetWorkerOutput, error) {
	worker, err := h.workers.Get(ctx, input.ID)
	if err != nil {
		return nil, humaError(err)
	}
	return &GetWorkerOutput{Body: worker}, nil
}

// WorkerToggleOutput reports an enable/disable result.
type WorkerToggleOutput struct {
	Body struct {
		Status models.WorkerStatus `json:"status"`
	}
}

// EnableWorker re-enables a disabled worker.
func (h *AdminWorkerHandler) EnableWorker(ctx context.Context, input *WorkerIDInput) (*WorkerToggleOutput, error) {
	if err := h.workers.SetEnabled(ctx, input.ID, true, adminActor); err != nil {
		return nil, humaError(err)
	}
	out := &WorkerToggleOutput{}
	out.Body.Status = models.WorkerStatusIdle
	return out, nil
}

// DisableWorker disables a worker.
func (h *AdminWorkerHandler) DisableWorker(ctx context.Context, input *WorkerIDInput) (*WorkerToggleOutput, error) {
	if err := h.workers.SetEnabled(ctx, input.ID, false, adminActor); err != nil {
		return nil, humaError(err)
	}
	out := &WorkerToggleOutput{}
	out.Body.Status = models.WorkerStatusDisabled
	return out, nil
}

// DeleteWorker removes a worker permanently.
func (h *AdminWorkerHandler) DeleteWorker(ctx context.Context, input *WorkerIDInput) (*struct{}, error) {
	if err := h.workers.Delete(ctx, input.ID, adminActor); err != nil {
		return nil, humaError(err)
	}
	return &struct{}{}, nil
}

// RotateKeyOutput carries the one-time-visible replacement key.
type RotateKeyOutput struct {
	Body struct {
		APIKey string `json:"api_key"`
	}
}

// RotateKey revokes every key of a worker and returns a fresh one.
func (h *AdminWorkerHandler) RotateKey(ctx context.Context, input *WorkerIDInput) (*RotateKeyOutput, error) {
	key, err := h.workers.RotateKey(ctx, input.ID, adminActor)
	if err != nil {
		return nil, humaError(err)
	}
	out := &RotateKeyOutput{}
	out.Body.APIKey = key
	return out, nil
}

// SendCommandInput carries a control-channel command for one worker.
type SendCommandInput struct {
	ID   string `path:"id" maxLength:"36"`
	Body struct {
		Command string            `json:"command" minLength:"1" maxLength:"64" doc:"restart, stop, update, get_metrics, get_logs, flush_remaining"`
		Args    map[string]string `json:"args,omitempty"`
	}
}

// SendCommandOutput is the worker's reply, or a timeout report.
type SendCommandOutput struct {
	Body *bus.CommandResponseEvent
}

// SendCommand publishes a command on the worker's control channel and waits
// for its reply.
func (h *AdminWorkerHandler) SendCommand(ctx context.Context, input *SendCommandInput) (*SendCommandOutput, error) {
	resp, err := h.workers.SendCommand(ctx, input.ID, input.Body.Command, input.Body.Args, adminActor)
	if err != nil {
		return nil, humaError(err)
	}
	return &SendCommandOutput{Body: resp}, nil
}

// ListEventsInput identifies a worker's deployment history page.
type ListEventsInput struct {
	ID    string `path:"id" maxLength:"36"`
	Limit int    `query:"limit" maximum:"100"`
}

// ListEventsOutput is the output for deployment history.
type ListEventsOutput struct {
	Body struct {
		Events []*models.DeploymentEvent `json:"events"`
	}
}

// ListEvents returns a worker's deployment events, newest first.
func (h *AdminWorkerHandler) ListEvents(ctx context.Context, input *ListEventsInput) (*ListEventsOutput, error) {
	events, err := h.workers.DeploymentHistory(ctx, input.ID, input.Limit)
	if err != nil {
		return nil, humaError(err)
	}
	out := &ListEventsOutput{}
	out.Body.Events = events
	return out, nil
}
