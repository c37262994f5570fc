package handlers

import (
	"context"
	"net/http"

	"github.com/floatchat/floatchat/internal/api/response"
	"github.com/floatchat/floatchat/internal/api/validation"
	"github.com/floatchat/floatchat/internal/geo"
	"github.com/floatchat/floatchat/internal/models"
)

// NearestService finds the profiles closest to a point.
type NearestService interface {
	NearestProfiles(ctx context.Context, point geo.Point, limit int) ([]models.ProfileWithDistance, error)
}

// NearestHandler handles GET /v1/profiles/nearest.
type NearestHandler struct {
	service NearestService
}

// NewNearestHandler creates a new nearest-profile handler.
func NewNearestHandler(service NearestService) *NearestHandler {
	return &NearestHandler{service: service}
}

// NearestParams are the query parameters of GET /v1/profiles/nearest.
type NearestParams struct {
	Lat   *float64 `form:"lat"   validate:"required,gte=-90,lte=90"`
	Lon   *float64 `form:"lon"   validate:"required,gte=-180,lte=180"`
	Limit int      `form:"limit" validate:"omitempty,min=1,max=100"`
}

// Nearest handles GET /v1/profiles/nearest?lat=&lon=&limit=.
func (h *NearestHandler) Nearest(w http.ResponseWriter, r *http.Request) {
	var params NearestParams

	if err := validation.DecodeQueryParams(r, &params); err != nil {
		response.RespondBadRequest(w, "lat, lon and limit must be numbers")

		return
	}

	if err := validation.ValidateStruct(&params); err != nil {
		validation.RespondValidationError(w, err)

		return
	}

	profiles, err := h.service.NearestProfiles(r.Context(), geo.Point{Lat: *params.Lat, Lon: *params.Lon}, params.Limit)
	if err != nil {
		respondServiceError(w, r, err)

		return
	}

	response.RespondJSON(w, http.StatusOK, profiles)
}
