// Package handler is the HTTP layer: it decodes requests, calls the services
// and maps their results and domain errors to JSON responses.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/sakif/survey-access/internal/apperror"
)

// maxJSONBody bounds every JSON request body.
const maxJSONBody = 1 << 20

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error   string                `json:"error"`            // machine-readable kind, e.g. "not_found"
	Message string                `json:"message"`          // human-readable description
	Fields  []apperror.FieldError `json:"fields,omitempty"` // every rejected field on validation errors
	Detail  string                `json:"detail,omitempty"` // cause of a dependency failure
}

// MessageResponse is the body of replies that only confirm an action.
type MessageResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// errorStatus maps a domain error to its HTTP status and error kind.
// Duplicate registrations and second submissions are conflicts but answer
// 400, which is what the survey frontend expects.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, apperror.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, apperror.ErrConflict):
		return http.StatusBadRequest, "conflict"
	case errors.Is(err, apperror.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, apperror.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperror.ErrDependency):
		return http.StatusInternalServerError, "dependency_failure"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// writeError logs err and sends the matching error response. Errors that
// are not *apperror.AppError never leak their text to the client.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status, kind := errorStatus(err)

	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	logger.Log(r.Context(), level, "request failed",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.String("error", err.Error()),
	)

	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		writeJSON(w, status, ErrorResponse{
			Error:   kind,
			Message: "An internal error occurred",
		})
		return
	}

	writeJSON(w, status, ErrorResponse{
		Error:   kind,
		Message: appErr.Message,
		Fields:  appErr.Fields,
		Detail:  appErr.Detail,
	})
}

// decodeJSON reads a bounded JSON body into dst. Malformed input becomes a
// validation error.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)

	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return apperror.ValidationFailed("body", fmt.Sprintf("request body must be %d bytes or fewer", maxErr.Limit))
		case errors.Is(err, io.EOF):
			return apperror.ValidationFailed("body", "request body is required")
		default:
			return apperror.ValidationFailed("body", "invalid JSON body")
		}
	}
	return nil
}
