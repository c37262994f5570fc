package service

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/floatchat/floatchat/internal/floaterrors"
	"github.com/floatchat/floatchat/internal/geo"
	"github.com/floatchat/floatchat/internal/models"
	"github.com/floatchat/floatchat/internal/observability"
)

// Limits for NearestProfiles.
const (
	DefaultNearestLimit = 3
	MaxNearestLimit     = 100
)

// NearestProfiles returns the stored profiles closest to point by geodesic distance, nearest first
// (ties by profile id). limit 0 means DefaultNearestLimit. Profiles with invalid coordinates are skipped.
func (s *QueryService) NearestProfiles(ctx context.Context, point geo.Point, limit int) ([]models.ProfileWithDistance, error) {
	if !point.Valid() {
		return nil, floaterrors.NewValidationError("lat", "lat must be within [-90, 90] and lon within [-180, 180]")
	}

	if limit == 0 {
		limit = DefaultNearestLimit
	}

	if limit < 0 || limit > MaxNearestLimit {
		return nil, floaterrors.NewValidationError("limit", fmt.Sprintf("limit must be between 1 and %d", MaxNearestLimit))
	}

	ctx, span := observability.Tracer().Start(ctx, "nearest_profiles")
	defer span.End()

	lctx, cancel := withTimeout(ctx, s.storeTimeout)
	defer cancel()

	profiles, err := s.store.ListProfiles(lctx)
	if err != nil {
		span.RecordError(err)
		s.logger.ErrorContext(ctx, "nearest: list profiles failed", "error", err)

		return nil, fmt.Errorf("list profiles: %w", floaterrors.NewUnavailableError(floaterrors.DependencyStore, err))
	}

	out := make([]models.ProfileWithDistance, 0, len(profiles))

	for _, p := range profiles {
		at := geo.Point{Lat: p.Latitude, Lon: p.Longitude}
		if !at.Valid() {
			continue
		}

		out = append(out, models.ProfileWithDistance{
			ProfileID:      p.ID,
			Latitude:       p.Latitude,
			Longitude:      p.Longitude,
			ObservedAt:     p.ObservedAt,
			DistanceMeters: geo.DistanceMeters(point, at),
		})
	}

	slices.SortFunc(out, func(a, b models.ProfileWithDistance) int {
		if c := cmp.Compare(a.DistanceMeters, b.DistanceMeters); c != 0 {
			return c
		}

		return cmp.Compare(a.ProfileID, b.ProfileID)
	})

	if len(out) > limit {
		out = out[:limit]
	}

	return out, nil
}
