package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/pocketbase/pocketbase/core"

	"temple-safety/internal/status"
)

// ErrorResponse is the body written for failed domain operations.
type ErrorResponse struct {
	Status        int    `json:"status"`
	Kind          string `json:"kind"`
	Message       string `json:"message"`
	ExistingToken string `json:"existingToken,omitempty"`
}

// HTTPStatus maps an error kind to the response code callers see.
func HTTPStatus(kind status.Kind) int {
	switch kind {
	case status.KindNotFound, status.KindEmptyQueue:
		return http.StatusNotFound
	case status.KindConflict:
		return http.StatusConflict
	case status.KindUnavailable:
		return http.StatusServiceUnavailable
	case status.KindInvalid:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func respondError(e *core.RequestEvent, err error) error {
	kind := status.KindOf(err)
	code := HTTPStatus(kind)

	body := ErrorResponse{Status: code, Kind: kind.String(), Message: err.Error()}
	var dup *status.DuplicateBookingError
	if errors.As(err, &dup) {
		body.ExistingToken = dup.ExistingToken
	}

	if code >= http.StatusInternalServerError && kind != status.KindUnavailable {
		slog.Error("Request failed", "path", e.Request.URL.Path, "error", err)
		body.Message = "internal error"
	}
	return e.JSON(code, body)
}

func queryInt(e *core.RequestEvent, key string, def int) (int, error) {
	raw := e.Request.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, status.Invalid("%s must be a non-negative integer", key)
	}
	return n, nil
}
