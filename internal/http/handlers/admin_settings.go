package handlers

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/vlogmedia/vlog/internal/models"
	"github.com/vlogmedia/vlog/internal/service"
)

// AdminSettingHandler serves runtime setting management.
type AdminSettingHandler struct {
	settings *service.SettingsService
}

// NewAdminSettingHandler creates an admin setting handler.
func NewAdminSettingHandler(settings *service.SettingsService) *AdminSettingHandler {
	return &AdminSettingHandler{settings: settings}
}

// Register registers the settings routes with the API.
func (h *AdminSettingHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listSettings",
		Method:      "GET",
		Path:        "/settings",
		Summary:     "List runtime settings",
		Tags:        []string{"Admin"},
	}, h.ListSettings)

	huma.Register(api, huma.Operation{
		OperationID: "getSetting",
		Method:      "GET",
		Path:        "/settings/{key}",
		Summary:     "Get one setting",
		Tags:        []string{"Admin"},
	}, h.GetSetting)

	huma.Register(api, huma.Operation{
		OperationID: "putSetting",
		Method:      "PUT",
		Path:        "/settings/{key}",
		Summary:     "Create or update a setting",
		Tags:        []string{"Admin"},
	}, h.PutSetting)

	huma.Register(api, huma.Operation{
		OperationID:   "deleteSetting",
		Method:        "DELETE",
		Path:          "/settings/{key}",
		Summary:       "Delete a setting; the environment fallback applies again",
		Tags:          []string{"Admin"},
		DefaultStatus: http.StatusNoContent,
	}, h.DeleteSetting)
}

// ListSettingsInput optionally narrows settings to one category.
type ListSettingsInput struct {
	Category string `query:"category" maxLength:"255"`
}

// ListSettingsOutput is the output for listing settings.
type ListSettingsOutput struct {
	Body struct {
		Settings []*models.Setting `json:"settings"`
	}
}

// ListSettings returns all settings, optionally category-scoped.
func (h *AdminSettingHandler) ListSettings(ctx context.Context, input *ListSettingsInput) (*ListSettingsOutput, error) {
	var (
		settings []*models.Setting
		err      error
	)
	if input.Category != "" {
		settings, err = h.settings.ListByCategory(ctx, input.Category)
	} else {
		settings, err = h.settings.List(ctx)
	}
	if err != nil {
		return nil, humaError(err)
	}
	out := &ListSettingsOutput{}
	out.Body.Settings = settings
	return out, nil
}

// SettingKeyInput identifies one setting.
type SettingKeyInput struct {
	Key string `path:"key" maxLength:"255"`
}

// SettingOutput is the output for one setting.
type SettingOutput struct {
	Body *models.Setting
}

// GetSetting returns one setting with its constraints.
func (h *AdminSettingHandler) GetSetting(ctx context.Context, input *SettingKeyInput) (*SettingOutput, error) {
	setting, err := h.settings.Describe(ctx, input.Key)
	if err != nil {
		return nil, humaError(err)
	}
	return &SettingOutput{Body: setting}, nil
}

// PutSettingInput carries a setting write.
type PutSettingInput struct {
	Key  string `path:"key" maxLength:"255"`
	Body struct {
		Value string `json:"value" maxLength:"4096"`
	}
}

// PutSetting writes a setting after constraint validation.
func (h *AdminSettingHandler) PutSetting(ctx context.Context, input *PutSettingInput) (*SettingOutput, error) {
	setting, err := h.settings.Set(ctx, input.Key, input.Body.Value, adminActor)
	if err != nil {
		return nil, humaError(err)
	}
	return &SettingOutput{Body: setting}, nil
}

// DeleteSetting removes a setting.
func (h *AdminSettingHandler) DeleteSetting(ctx context.Context, input *SettingKeyInput) (*struct{}, error) {
	if err := h.settings.Delete(ctx, input.Key); err != nil {
		return nil, humaError(err)
	}
	return &struct{}{}, nil
}
