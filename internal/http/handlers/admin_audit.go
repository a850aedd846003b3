package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/vlogmedia/vlog/internal/service"
)

// AdminAuditHandler serves the audit log query endpoint.
type AdminAuditHandler struct {
	audit *service.AuditLogger
}

// NewAdminAuditHandler creates an admin audit handler.
func NewAdminAuditHandler(audit *service.AuditLogger) *AdminAuditHandler {
	return &AdminAuditHandler{audit: audit}
}

// Register registers the audit route with the API.
func (h *AdminAuditHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "queryAudit",
		Method:      "GET",
		Path:        "/audit",
		Summary:     "Query recent audit entries, newest first",
		Tags:        []string{"Admin"},
	}, h.Query)
}

// QueryAuditInput bounds the audit page size.
type QueryAuditInput struct {
	Limit int `query:"limit" maximum:"500" doc:"Entries to return (default 100)"`
}

// QueryAuditOutput is the output for the audit query.
type QueryAuditOutput struct {
	Body struct {
		Entries []service.AuditEntry `json:"entries"`
	}
}

// Query returns the most recent audit entries from the current log file.
func (h *AdminAuditHandler) Query(ctx context.Context, input *QueryAuditInput) (*QueryAuditOutput, error) {
	entries, err := h.audit.Tail(input.Limit)
	if err != nil {
		return nil, humaError(err)
	}
	out := &QueryAuditOutput{}
	out.Body.Entries = entries
	return out, nil
}
