package main

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/floatchat/floatchat/internal/repository/sqlite"
)

const sampleFixtures = `
profiles:
  - lat: -43.1
    lon: 147.4
    observed_at: 2023-01-05T10:30:00Z
    levels:
      - {pres: 5.0, temp: 14.2, salinity: 35.1}
      - {pres: 50.0, temp: 12.9}
  - lat: 0.5
    lon: -179.9
    observed_at: 2023-02-01T00:00:00+02:00
    embedding: [0.1, 0.2]
`

func TestLoadFixtures(t *testing.T) {
	profiles, levels, err := loadFixtures(strings.NewReader(sampleFixtures))
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	require.Len(t, levels, 2)

	assert.InDelta(t, -43.1, profiles[0].Latitude, 1e-9)
	assert.Equal(t, time.Date(2023, 1, 5, 10, 30, 0, 0, time.UTC), profiles[0].ObservedAt)
	assert.Nil(t, profiles[0].Embedding)

	require.Len(t, levels[0], 2)
	assert.Equal(t, 1, levels[0][0].Sequence)
	assert.Equal(t, 2, levels[0][1].Sequence)
	assert.Nil(t, levels[0][1].Salinity)

	assert.Equal(t, time.Date(2023, 1, 31, 22, 0, 0, 0, time.UTC), profiles[1].ObservedAt)
	assert.Equal(t, []float32{0.1, 0.2}, profiles[1].Embedding)
	assert.Empty(t, levels[1])
}

func TestLoadFixtures_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "latitude out of range", doc: "profiles:\n  - lat: 91\n    lon: 0\n    observed_at: 2023-01-01T00:00:00Z\n"},
		{name: "missing time", doc: "profiles:\n  - {lat: 1, lon: 2}\n"},
		{name: "unknown field", doc: "profiles:\n  - lat: 1\n    lon: 2\n    depth: 3\n    observed_at: 2023-01-01T00:00:00Z\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := loadFixtures(strings.NewReader(tt.doc))
			require.Error(t, err)
		})
	}
}

func TestSeed_SQLite(t *testing.T) {
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "seed.db"), 0, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	profiles, levels, err := loadFixtures(strings.NewReader(sampleFixtures))
	require.NoError(t, err)

	ids, err := seed(context.Background(), store, profiles, levels)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids)

	stored, err := store.LevelsFor(context.Background(), ids[0])
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	missing, err := store.ListProfileIDsMissingEmbedding(context.Background(), 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{ids[0]}, missing)
}
