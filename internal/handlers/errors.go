package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"spinwheel/internal/game"
	"spinwheel/internal/wheel"
)

type errorResponse struct {
	Error string `json:"error"`
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, game.ErrWheelNotFound):
		return http.StatusNotFound
	case errors.Is(err, wheel.ErrOutOfStock), errors.Is(err, wheel.ErrSpinInProgress):
		return http.StatusConflict
	case errors.Is(err, game.ErrUnknownPlayer):
		return http.StatusUnauthorized
	case errors.Is(err, game.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, wheel.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error("request failed", zap.Error(err))
		msg = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: msg})
}
