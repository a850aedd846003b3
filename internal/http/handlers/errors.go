// Package handlers provides the HTTP API handlers for vlog: the public
// catalog API, the admin surface, the worker data plane, and static
// HLS/CMAF serving.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/vlogmedia/vlog/internal/models"
	"github.com/vlogmedia/vlog/internal/repository"
	"github.com/vlogmedia/vlog/internal/service"
	"github.com/vlogmedia/vlog/internal/storage"
)

// errBadJSON marks an unparseable request body.
var errBadJSON = errors.New("invalid json")

// maxJSONBody bounds JSON request bodies on raw chi routes.
const maxJSONBody = 1 << 20

// errorBody is the wire shape of every error response.
type errorBody struct {
	Detail string `json:"detail"`
	Error  string `json:"error"`
}

// statusFor maps an error to an HTTP status and a sanitized detail. The
// original error never reaches the client; path fragments, constraint names,
// and encoder diagnostics stay in the server log.
func statusFor(err error) (int, errorBody) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound, errorBody{Detail: "not found", Error: "not_found"}
	case errors.Is(err, repository.ErrClaimLost):
		return http.StatusConflict, errorBody{Detail: "claim lost", Error: "claim_lost"}
	case errors.Is(err, service.ErrSlugTaken):
		return http.StatusConflict, errorBody{Detail: "slug already taken", Error: "conflict"}
	case errors.Is(err, service.ErrUnauthorized):
		return http.StatusUnauthorized, errorBody{Detail: "authentication required", Error: "unauthorized"}
	case errors.Is(err, storage.ErrUnsafePath),
		errors.Is(err, storage.ErrChecksumMismatch),
		errors.Is(err, storage.ErrSizeMismatch),
		errors.Is(err, models.ErrInvalidSlug),
		errors.Is(err, models.ErrTitleRequired),
		errors.Is(err, models.ErrInvalidQuality),
		errors.Is(err, models.ErrProgressOutOfRange),
		errors.Is(err, models.ErrRecordTooLarge),
		errors.Is(err, models.ErrRecordStringTooLong),
		errors.Is(err, models.ErrSettingInvalid),
		errors.Is(err, models.ErrSettingKeyRequired),
		errors.Is(err, errBadJSON):
		return http.StatusBadRequest, errorBody{Detail: err.Error(), Error: "validation_error"}
	default:
		return http.StatusInternalServerError, errorBody{Detail: "internal server error", Error: "internal_error"}
	}
}

// writeJSON writes v as a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the sanitized error response and logs the original.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status, body := statusFor(err)
	if status >= 500 && logger != nil {
		logger.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	writeJSON(w, status, body)
}

// humaError converts an error into a huma status error with the same
// sanitization as writeError.
func humaError(err error) error {
	status, body := statusFor(err)
	return huma.NewError(status, body.Detail)
}

// decodeJSON reads a bounded JSON body into dst.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: malformed request body", errBadJSON)
	}
	return nil
}
