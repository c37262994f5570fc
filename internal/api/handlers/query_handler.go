package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/floatchat/floatchat/internal/api/response"
	"github.com/floatchat/floatchat/internal/api/validation"
	"github.com/floatchat/floatchat/internal/models"
)

// QueryService answers natural-language profile queries.
type QueryService interface {
	Query(ctx context.Context, text string) ([]models.ProfileResult, error)
}

// QueryHandler handles POST /query.
type QueryHandler struct {
	service QueryService
}

// NewQueryHandler creates a new query handler.
func NewQueryHandler(service QueryService) *QueryHandler {
	return &QueryHandler{service: service}
}

// QueryRequest is the body of POST /query.
type QueryRequest struct {
	Query string `json:"query" validate:"notblank,no_null_bytes,max=2000"`
}

// Query handles POST /query and POST /v1/query. The response is a JSON array of results, best first.
func (h *QueryHandler) Query(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			// MaxBody middleware replaces this response with 413.
			response.RespondBadRequest(w, "Request body too large")

			return
		}

		if errors.Is(err, io.EOF) {
			response.RespondBadRequest(w, "query is required")

			return
		}

		response.RespondBadRequest(w, "Invalid request body")

		return
	}

	if err := validation.ValidateStruct(&req); err != nil {
		validation.RespondValidationError(w, err)

		return
	}

	results, err := h.service.Query(r.Context(), req.Query)
	if err != nil {
		respondServiceError(w, r, err)

		return
	}

	response.RespondJSON(w, http.StatusOK, results)
}
