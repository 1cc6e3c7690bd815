package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"
	"github.com/tendant/simple-entity/pkg/simpleentity"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// statusFor maps a service error to an HTTP status code
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, simpleentity.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, simpleentity.ErrAlreadyExists):
		return http.StatusConflict, "already_exists"
	case errors.Is(err, simpleentity.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, simpleentity.ErrPermissionDenied):
		return http.StatusForbidden, "permission_denied"
	case errors.Is(err, simpleentity.ErrInvalidState):
		return http.StatusBadRequest, "invalid_state"
	case errors.Is(err, simpleentity.ErrInvalidParameter):
		return http.StatusBadRequest, "invalid_parameter"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	} else {
		slog.Debug("Request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: code, Message: err.Error()})
}

func badRequest(w http.ResponseWriter, r *http.Request, message string) {
	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, ErrorResponse{Error: "invalid_parameter", Message: message})
}

// logStreamError records a failure after the response status was sent
func logStreamError(r *http.Request, err error) {
	slog.Warn("Failed to stream payload", "path", r.URL.Path, "error", err)
}
