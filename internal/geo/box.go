package geo

import "math"

const (
	// Shortest length of one degree of latitude on WGS-84 (at the equator).
	minMetersPerDegreeLat = 110574.0
	// Length of one degree of longitude at the equator on WGS-84.
	metersPerDegreeLonEquator = 111319.0
	// Widens the box so float rounding at the edge never drops an in-radius profile.
	boxMargin = 1.01
)

// Box is a latitude/longitude rectangle. When MinLon > MaxLon the box wraps across the antimeridian.
// AllLongitudes is set when the box touches a pole; longitude bounds are then meaningless.
type Box struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
	AllLongitudes  bool
}

// Wraps reports whether the longitude range crosses the antimeridian.
func (b Box) Wraps() bool {
	return !b.AllLongitudes && b.MinLon > b.MaxLon
}

// Contains reports whether p lies inside the box.
func (b Box) Contains(p Point) bool {
	if p.Lat < b.MinLat || p.Lat > b.MaxLat {
		return false
	}

	if b.AllLongitudes {
		return true
	}

	if b.Wraps() {
		return p.Lon >= b.MinLon || p.Lon <= b.MaxLon
	}

	return p.Lon >= b.MinLon && p.Lon <= b.MaxLon
}

// BoundingBox returns a box guaranteed to contain every point within radiusMeters of center.
// It may contain points further away; callers still apply the exact distance test.
func BoundingBox(center Point, radiusMeters float64) Box {
	dLat := radiusMeters / minMetersPerDegreeLat * boxMargin

	box := Box{
		MinLat: math.Max(-90, center.Lat-dLat),
		MaxLat: math.Min(90, center.Lat+dLat),
	}

	maxAbsLat := math.Max(math.Abs(box.MinLat), math.Abs(box.MaxLat))
	if maxAbsLat >= 89.9 {
		box.AllLongitudes = true

		return box
	}

	dLon := radiusMeters / (metersPerDegreeLonEquator * math.Cos(maxAbsLat*math.Pi/180)) * boxMargin
	if dLon >= 180 {
		box.AllLongitudes = true

		return box
	}

	box.MinLon = normalizeLon(center.Lon - dLon)
	box.MaxLon = normalizeLon(center.Lon + dLon)

	return box
}

// normalizeLon maps a longitude into [-180, 180].
func normalizeLon(lon float64) float64 {
	for lon < -180 {
		lon += 360
	}

	for lon > 180 {
		lon -= 360
	}

	return lon
}
