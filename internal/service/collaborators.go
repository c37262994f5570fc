package service

import (
	"context"

	"github.com/floatchat/floatchat/internal/geo"
	"github.com/floatchat/floatchat/internal/models"
)

// ProfileStore provides read access to stored profiles and their depth levels.
type ProfileStore interface {
	// ListProfiles returns every stored profile with its embedding. Order is not significant.
	ListProfiles(ctx context.Context) ([]models.Profile, error)
	LevelSource
}

// LevelSource returns a profile's depth levels ordered by sequence ascending (empty when none).
type LevelSource interface {
	LevelsFor(ctx context.Context, profileID int64) ([]models.DepthLevel, error)
}

// BoundedProfileStore is implemented by stores that can restrict the candidate scan to a lat/lon box.
// The box is a superset of the search radius, so exact filtering still happens in the ranker.
type BoundedProfileStore interface {
	ProfileStore
	ListProfilesInBox(ctx context.Context, box geo.Box) ([]models.Profile, error)
}

// Geocoder resolves a free-text place reference to coordinates.
// ok is false when nothing matched; errors are treated by callers as "no location".
type Geocoder interface {
	Geocode(ctx context.Context, place string) (point geo.Point, ok bool, err error)
}

// Narrator produces a natural-language explanation for one result.
type Narrator interface {
	Narrate(ctx context.Context, query string, result models.ProfileResult) (string, error)
}
