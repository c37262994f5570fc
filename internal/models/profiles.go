package models

import (
	"math"
	"time"
)

// ObservedAtLayout is the timestamp format used in query results.
const ObservedAtLayout = "2006-01-02 15:04:05"

// Profile is one float observation event: where and when it was taken, plus its semantic embedding.
type Profile struct {
	ID         int64     `json:"id"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	ObservedAt time.Time `json:"observed_at"`
	Embedding  []float32 `json:"embedding,omitempty"`
}

// DepthLevel is one reading in a profile's vertical column. Any field may be missing (nil) or NaN.
type DepthLevel struct {
	ProfileID   int64    `json:"profile_id"`
	Sequence    int      `json:"sequence"`
	Pressure    *float64 `json:"pressure"`
	Temperature *float64 `json:"temperature"`
	Salinity    *float64 `json:"salinity"`
}

// Reading returns the level as a LevelReading when all three fields are present and finite.
func (l DepthLevel) Reading() (LevelReading, bool) {
	if !finite(l.Pressure) || !finite(l.Temperature) || !finite(l.Salinity) {
		return LevelReading{}, false
	}

	return LevelReading{
		Pressure:    *l.Pressure,
		Temperature: *l.Temperature,
		Salinity:    *l.Salinity,
	}, true
}

func finite(v *float64) bool {
	return v != nil && !math.IsNaN(*v) && !math.IsInf(*v, 0)
}

// LevelReading is a validated pressure (dbar), temperature (°C), salinity (PSU) triple.
type LevelReading struct {
	Pressure    float64 `json:"pres"`
	Temperature float64 `json:"temp"`
	Salinity    float64 `json:"salinity"`
}

// ScoredCandidate is a profile that survived the radius filter, with its ranking components.
type ScoredCandidate struct {
	ProfileID      int64     `json:"profile_id"`
	Latitude       float64   `json:"lat"`
	Longitude      float64   `json:"lon"`
	ObservedAt     time.Time `json:"observed_at"`
	Similarity     float64   `json:"similarity"`
	DistanceMeters float64   `json:"distance_meters"`
	Score          float64   `json:"score"`
}

// ProfileResult is one entry of a query response.
type ProfileResult struct {
	ProfileID    int64          `json:"profile_id"`
	Latitude     float64        `json:"lat"`
	Longitude    float64        `json:"lon"`
	Time         string         `json:"time"`
	DepthLevels  []LevelReading `json:"depth_levels"`
	QueryExplain string         `json:"query_explain"`
	Score        float64        `json:"score"`
}

// ProfileWithDistance is a profile and its distance from a reference point (nearest-float lookup).
type ProfileWithDistance struct {
	ProfileID      int64     `json:"profile_id"`
	Latitude       float64   `json:"lat"`
	Longitude      float64   `json:"lon"`
	ObservedAt     time.Time `json:"observed_at"`
	DistanceMeters float64   `json:"distance_meters"`
}
