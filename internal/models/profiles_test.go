package models

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func ptr(v float64) *float64 { return &v }

func TestDepthLevel_Reading(t *testing.T) {
	tests := []struct {
		name   string
		level  DepthLevel
		wantOK bool
	}{
		{"all present", DepthLevel{Pressure: ptr(5), Temperature: ptr(12.1), Salinity: ptr(34.5)}, true},
		{"missing pressure", DepthLevel{Temperature: ptr(12.1), Salinity: ptr(34.5)}, false},
		{"missing temperature", DepthLevel{Pressure: ptr(5), Salinity: ptr(34.5)}, false},
		{"missing salinity", DepthLevel{Pressure: ptr(5), Temperature: ptr(12.1)}, false},
		{"NaN temperature", DepthLevel{Pressure: ptr(5), Temperature: ptr(math.NaN()), Salinity: ptr(34.5)}, false},
		{"infinite salinity", DepthLevel{Pressure: ptr(5), Temperature: ptr(12.1), Salinity: ptr(math.Inf(1))}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reading, ok := tt.level.Reading()
			assert.Equal(t, tt.wantOK, ok)

			if ok {
				assert.Equal(t, LevelReading{Pressure: 5, Temperature: 12.1, Salinity: 34.5}, reading)
			}
		})
	}
}
