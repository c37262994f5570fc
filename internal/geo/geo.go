// Package geo provides coordinate parsing, geodesic distance, and bounding boxes for profile lookup.
package geo

import (
	"fmt"
	"math"
	"regexp"
	"strconv"

	"github.com/tidwall/geodesic"
)

// Point is a WGS-84 position in decimal degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether the point has finite, in-range coordinates.
func (p Point) Valid() bool {
	return validLat(p.Lat) && validLon(p.Lon)
}

// String formats the point as "lat,lon".
func (p Point) String() string {
	return fmt.Sprintf("%.5f,%.5f", p.Lat, p.Lon)
}

func validLat(v float64) bool {
	return !math.IsNaN(v) && v >= -90 && v <= 90
}

func validLon(v float64) bool {
	return !math.IsNaN(v) && v >= -180 && v <= 180
}

var (
	latMarker = regexp.MustCompile(`(?i)\blat(?:itude)?\s*=\s*([-+]?\d*\.?\d+)`)
	lonMarker = regexp.MustCompile(`(?i)\blon(?:g|gitude)?\s*=\s*([-+]?\d*\.?\d+)`)
)

// ExtractCoordinates looks for explicit "lat=<n>" and "long=<n>" (or "lon=") markers in text.
// It returns ok=false when either marker is missing, unparseable, or out of range.
func ExtractCoordinates(text string) (Point, bool) {
	latMatch := latMarker.FindStringSubmatch(text)
	lonMatch := lonMarker.FindStringSubmatch(text)

	if latMatch == nil || lonMatch == nil {
		return Point{}, false
	}

	lat, err := strconv.ParseFloat(latMatch[1], 64)
	if err != nil {
		return Point{}, false
	}

	lon, err := strconv.ParseFloat(lonMatch[1], 64)
	if err != nil {
		return Point{}, false
	}

	p := Point{Lat: lat, Lon: lon}
	if !p.Valid() {
		return Point{}, false
	}

	return p, true
}

// DistanceMeters returns the geodesic distance between a and b on the WGS-84 ellipsoid.
func DistanceMeters(a, b Point) float64 {
	var s12 float64

	geodesic.WGS84.Inverse(a.Lat, a.Lon, b.Lat, b.Lon, &s12, nil, nil)

	return s12
}
