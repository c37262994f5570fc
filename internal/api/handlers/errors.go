package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/floatchat/floatchat/internal/api/response"
	"github.com/floatchat/floatchat/internal/floaterrors"
)

// respondServiceError maps a service error to a problem response. Only validation messages reach the
// client; dependency failures get a fixed message and the cause is logged.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validationErr  *floaterrors.ValidationError
		unavailableErr *floaterrors.UnavailableError
	)

	switch {
	case errors.As(err, &validationErr):
		response.RespondBadRequest(w, validationErr.Error())
	case errors.Is(err, context.Canceled):
		slog.InfoContext(r.Context(), "request canceled by client", "path", r.URL.Path)
		response.RespondServiceUnavailable(w, "Request canceled")
	case errors.As(err, &unavailableErr) && unavailableErr.Dependency == floaterrors.DependencyEmbedder:
		slog.ErrorContext(r.Context(), "embedding service unavailable", "error", err)
		response.RespondServiceUnavailable(w, "The embedding service is unavailable, please try again later")
	default:
		slog.ErrorContext(r.Context(), "request failed", "error", err)
		response.RespondInternalServerError(w, "An unexpected error occurred")
	}
}
