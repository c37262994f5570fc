package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/floatchat/floatchat/internal/models"
)

var errInvalidFixture = errors.New("invalid fixture")

type fixtureFile struct {
	Profiles []fixtureProfile `yaml:"profiles"`
}

type fixtureProfile struct {
	Latitude   float64        `yaml:"lat"`
	Longitude  float64        `yaml:"lon"`
	ObservedAt time.Time      `yaml:"observed_at"`
	Embedding  []float32      `yaml:"embedding"`
	Levels     []fixtureLevel `yaml:"levels"`
}

// fixtureLevel fields may be omitted to store a missing reading.
type fixtureLevel struct {
	Pressure    *float64 `yaml:"pres"`
	Temperature *float64 `yaml:"temp"`
	Salinity    *float64 `yaml:"salinity"`
}

// profileInserter is implemented by both store drivers.
type profileInserter interface {
	InsertProfile(ctx context.Context, p models.Profile, levels []models.DepthLevel) (int64, error)
}

// loadFixtures decodes and checks a fixture document. Levels are numbered in file order from 1.
func loadFixtures(r io.Reader) ([]models.Profile, [][]models.DepthLevel, error) {
	var file fixtureFile

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	if err := dec.Decode(&file); err != nil {
		return nil, nil, fmt.Errorf("decode fixtures: %w", err)
	}

	profiles := make([]models.Profile, 0, len(file.Profiles))
	levels := make([][]models.DepthLevel, 0, len(file.Profiles))

	for i, fp := range file.Profiles {
		if fp.Latitude < -90 || fp.Latitude > 90 || fp.Longitude < -180 || fp.Longitude > 180 {
			return nil, nil, fmt.Errorf("%w: profile %d has coordinates out of range", errInvalidFixture, i)
		}

		if fp.ObservedAt.IsZero() {
			return nil, nil, fmt.Errorf("%w: profile %d has no observed_at", errInvalidFixture, i)
		}

		profiles = append(profiles, models.Profile{
			Latitude:   fp.Latitude,
			Longitude:  fp.Longitude,
			ObservedAt: fp.ObservedAt.UTC(),
			Embedding:  fp.Embedding,
		})

		pl := make([]models.DepthLevel, 0, len(fp.Levels))
		for j, l := range fp.Levels {
			pl = append(pl, models.DepthLevel{
				Sequence:    j + 1,
				Pressure:    l.Pressure,
				Temperature: l.Temperature,
				Salinity:    l.Salinity,
			})
		}

		levels = append(levels, pl)
	}

	return profiles, levels, nil
}

// seed inserts every profile and returns the new ids in fixture order.
func seed(ctx context.Context, store profileInserter, profiles []models.Profile, levels [][]models.DepthLevel) ([]int64, error) {
	ids := make([]int64, 0, len(profiles))

	for i, p := range profiles {
		id, err := store.InsertProfile(ctx, p, levels[i])
		if err != nil {
			return ids, fmt.Errorf("insert profile %d: %w", i, err)
		}

		ids = append(ids, id)
	}

	return ids, nil
}
