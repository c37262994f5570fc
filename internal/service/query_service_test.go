package service

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/floatchat/floatchat/internal/floaterrors"
	"github.com/floatchat/floatchat/internal/geo"
	"github.com/floatchat/floatchat/internal/models"
	"github.com/floatchat/floatchat/internal/observability"
	"github.com/floatchat/floatchat/internal/ranking"
)

type mockEmbeddingClient struct {
	createFunc func(ctx context.Context, input string) ([]float32, error)
	calls      atomic.Int32
}

func (m *mockEmbeddingClient) CreateEmbedding(ctx context.Context, input string) ([]float32, error) {
	m.calls.Add(1)

	if m.createFunc != nil {
		return m.createFunc(ctx, input)
	}

	return []float32{1, 0}, nil
}

type mockProfileStore struct {
	listFunc   func(ctx context.Context) ([]models.Profile, error)
	levelsFunc func(ctx context.Context, profileID int64) ([]models.DepthLevel, error)
	listCalls  atomic.Int32
}

func (m *mockProfileStore) ListProfiles(ctx context.Context) ([]models.Profile, error) {
	m.listCalls.Add(1)

	if m.listFunc != nil {
		return m.listFunc(ctx)
	}

	return nil, nil
}

func (m *mockProfileStore) LevelsFor(ctx context.Context, profileID int64) ([]models.DepthLevel, error) {
	if m.levelsFunc != nil {
		return m.levelsFunc(ctx, profileID)
	}

	return nil, nil
}

type mockBoundedStore struct {
	mockProfileStore

	boxFunc func(ctx context.Context, box geo.Box) ([]models.Profile, error)
}

func (m *mockBoundedStore) ListProfilesInBox(ctx context.Context, box geo.Box) ([]models.Profile, error) {
	return m.boxFunc(ctx, box)
}

type mockGeocoder struct {
	geocodeFunc func(ctx context.Context, place string) (geo.Point, bool, error)
	calls       atomic.Int32
}

func (m *mockGeocoder) Geocode(ctx context.Context, place string) (geo.Point, bool, error) {
	m.calls.Add(1)

	if m.geocodeFunc != nil {
		return m.geocodeFunc(ctx, place)
	}

	return geo.Point{}, false, nil
}

type mockNarrator struct {
	narrateFunc func(ctx context.Context, query string, result models.ProfileResult) (string, error)
}

func (m *mockNarrator) Narrate(ctx context.Context, query string, result models.ProfileResult) (string, error) {
	return m.narrateFunc(ctx, query, result)
}

// recordingQueryMetrics captures what the pipeline reports.
type recordingQueryMetrics struct {
	mu        sync.Mutex
	outcomes  []string
	locations []string
	malformed map[string]int
	fallbacks []string
	scanned   int
}

func (r *recordingQueryMetrics) RecordQuery(_ context.Context, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func (r *recordingQueryMetrics) RecordStage(context.Context, string, time.Duration) {}

func (r *recordingQueryMetrics) RecordCandidates(_ context.Context, scanned, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scanned += scanned
}

func (r *recordingQueryMetrics) RecordMalformed(_ context.Context, reason string, count int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.malformed == nil {
		r.malformed = map[string]int{}
	}

	r.malformed[reason] += count
}

func (r *recordingQueryMetrics) RecordLocation(_ context.Context, source string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.locations = append(r.locations, source)
}

func (r *recordingQueryMetrics) RecordNarrationFallback(_ context.Context, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks = append(r.fallbacks, reason)
}

type recordingCacheMetrics struct {
	hits, misses atomic.Int32
}

func (r *recordingCacheMetrics) RecordHit(context.Context, string)  { r.hits.Add(1) }
func (r *recordingCacheMetrics) RecordMiss(context.Context, string) { r.misses.Add(1) }

func withSimilarity(s float64) []float32 {
	return []float32{float32(s), float32(math.Sqrt(1 - s*s))}
}

func ptr(v float64) *float64 { return &v }

var observedAt = time.Date(2023, 1, 5, 10, 30, 0, 0, time.UTC)

func testProfile(id int64, lat, lon, similarity float64) models.Profile {
	return models.Profile{ID: id, Latitude: lat, Longitude: lon, ObservedAt: observedAt, Embedding: withSimilarity(similarity)}
}

func resultIDs(results []models.ProfileResult) []int64 {
	out := make([]int64, 0, len(results))
	for _, r := range results {
		out = append(out, r.ProfileID)
	}

	return out
}

func newTestService(p QueryServiceParams) *QueryService {
	if p.Embedder == nil {
		p.Embedder = &mockEmbeddingClient{}
	}

	if p.Dimensions == 0 {
		p.Dimensions = 2
	}

	if p.Ranker == nil {
		p.Ranker = ranking.NewRanker(ranking.Config{})
	}

	return NewQueryService(p)
}

func TestQueryService_Query_ExplicitCoordinates(t *testing.T) {
	store := &mockProfileStore{
		listFunc: func(context.Context) ([]models.Profile, error) {
			profiles := []models.Profile{testProfile(1, -43.0, 130.0, 0.9)}
			for i := range 20 {
				profiles = append(profiles, testProfile(int64(100+i), 10+float64(i), 10, 0.99))
			}

			return profiles, nil
		},
		levelsFunc: func(_ context.Context, profileID int64) ([]models.DepthLevel, error) {
			assert.Equal(t, int64(1), profileID)

			return []models.DepthLevel{
				{ProfileID: 1, Sequence: 2, Pressure: ptr(20), Temperature: ptr(11.8), Salinity: ptr(34.7)},
				{ProfileID: 1, Sequence: 0, Pressure: ptr(5), Temperature: ptr(12.1), Salinity: ptr(34.5)},
				{ProfileID: 1, Sequence: 1, Pressure: ptr(10), Temperature: ptr(math.NaN()), Salinity: ptr(34.6)},
			}, nil
		},
	}
	geocoder := &mockGeocoder{}
	metrics := &recordingQueryMetrics{}

	svc := newTestService(QueryServiceParams{Store: store, Geocoder: geocoder, Metrics: metrics})

	query := "salinity near lat=-43.037 long=130"
	results, err := svc.Query(context.Background(), "  "+query+" ")
	require.NoError(t, err)
	require.Len(t, results, 1)

	r := results[0]
	assert.Equal(t, int64(1), r.ProfileID)
	assert.InDelta(t, -43.0, r.Latitude, 1e-9)
	assert.InDelta(t, 130.0, r.Longitude, 1e-9)
	assert.Equal(t, "2023-01-05 10:30:00", r.Time)
	assert.Equal(t, []models.LevelReading{
		{Pressure: 5, Temperature: 12.1, Salinity: 34.5},
		{Pressure: 20, Temperature: 11.8, Salinity: 34.7},
	}, r.DepthLevels)
	assert.Equal(t, "Matched using weighted embedding similarity and proximity for: '"+query+"'", r.QueryExplain)
	assert.Greater(t, r.Score, ranking.SimilarityWeight*0.9)

	assert.Zero(t, geocoder.calls.Load(), "explicit coordinates take precedence over geocoding")
	assert.Equal(t, []string{observability.LocationSourceExplicit}, metrics.locations)
	assert.Equal(t, []string{observability.QueryOutcomeOK}, metrics.outcomes)
	assert.Equal(t, 21, metrics.scanned)
}

func TestQueryService_Query_NoLocationRanksBySimilarity(t *testing.T) {
	store := &mockProfileStore{
		listFunc: func(context.Context) ([]models.Profile, error) {
			return []models.Profile{
				testProfile(1, 10, 10, 0.2),
				testProfile(2, -60, 170, 0.95),
				testProfile(3, 45, -30, 0.6),
				testProfile(4, 0, 0, 0.8),
				testProfile(5, 80, 100, 0.4),
			}, nil
		},
	}

	for name, geocoder := range map[string]*mockGeocoder{
		"place not recognized": {},
		"geocoder fails": {geocodeFunc: func(context.Context, string) (geo.Point, bool, error) {
			return geo.Point{}, false, errors.New("upstream 503")
		}},
	} {
		t.Run(name, func(t *testing.T) {
			svc := newTestService(QueryServiceParams{Store: store, Geocoder: geocoder})

			results, err := svc.Query(context.Background(), "temperature at 500m")
			require.NoError(t, err)
			assert.Equal(t, []int64{2, 4, 3}, resultIDs(results))
			assert.Equal(t, int32(1), geocoder.calls.Load())

			for _, r := range results {
				assert.NotNil(t, r.DepthLevels)
			}
		})
	}
}

func TestQueryService_Query_GeocodedLocationUsesBoundedStore(t *testing.T) {
	indianOcean := geo.Point{Lat: -10, Lon: 80}

	store := &mockBoundedStore{
		boxFunc: func(_ context.Context, box geo.Box) ([]models.Profile, error) {
			assert.True(t, box.Contains(indianOcean))
			assert.False(t, box.Contains(geo.Point{Lat: -12, Lon: 80}))

			return []models.Profile{
				testProfile(7, -10.1, 80, 0.5),
				testProfile(8, -10.9, 80.9, 0.99),
			}, nil
		},
	}
	geocoder := &mockGeocoder{geocodeFunc: func(_ context.Context, place string) (geo.Point, bool, error) {
		assert.Equal(t, "temperature in the Indian Ocean", place)

		return indianOcean, true, nil
	}}

	svc := newTestService(QueryServiceParams{Store: store, Geocoder: geocoder})

	results, err := svc.Query(context.Background(), "temperature in the Indian Ocean")
	require.NoError(t, err)
	assert.Equal(t, []int64{7}, resultIDs(results), "profile 8 lies outside the radius")
	assert.Zero(t, store.listCalls.Load())
}

func TestQueryService_Query_Errors(t *testing.T) {
	t.Run("blank query is a validation error", func(t *testing.T) {
		embedder := &mockEmbeddingClient{}
		metrics := &recordingQueryMetrics{}
		svc := newTestService(QueryServiceParams{Embedder: embedder, Store: &mockProfileStore{}, Metrics: metrics})

		results, err := svc.Query(context.Background(), "   ")
		assert.Nil(t, results)
		require.ErrorIs(t, err, ErrEmptyQuery)
		assert.ErrorIs(t, err, floaterrors.ErrValidation)
		assert.Zero(t, embedder.calls.Load())
		assert.Equal(t, []string{observability.QueryOutcomeInvalid}, metrics.outcomes)
	})

	t.Run("embedder failure aborts before the store is read", func(t *testing.T) {
		store := &mockProfileStore{}
		metrics := &recordingQueryMetrics{}
		svc := newTestService(QueryServiceParams{
			Embedder: &mockEmbeddingClient{createFunc: func(context.Context, string) ([]float32, error) {
				return nil, errors.New("connection refused")
			}},
			Store:   store,
			Metrics: metrics,
		})

		results, err := svc.Query(context.Background(), "anything")
		assert.Nil(t, results)
		require.ErrorIs(t, err, floaterrors.ErrUnavailable)

		var unavailable *floaterrors.UnavailableError
		require.ErrorAs(t, err, &unavailable)
		assert.Equal(t, floaterrors.DependencyEmbedder, unavailable.Dependency)
		assert.Zero(t, store.listCalls.Load())
		assert.Equal(t, []string{observability.QueryOutcomeEmbedderUnavailable}, metrics.outcomes)
	})

	t.Run("client cancel while embedding is counted as canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		metrics := &recordingQueryMetrics{}
		svc := newTestService(QueryServiceParams{
			Embedder: &mockEmbeddingClient{createFunc: func(ctx context.Context, _ string) ([]float32, error) {
				cancel()

				return nil, ctx.Err()
			}},
			Store:   &mockProfileStore{},
			Metrics: metrics,
		})

		results, err := svc.Query(ctx, "anything")
		assert.Nil(t, results)
		require.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, []string{observability.QueryOutcomeCanceled}, metrics.outcomes)
	})

	t.Run("wrong query embedding dimension is an embedder failure", func(t *testing.T) {
		svc := newTestService(QueryServiceParams{
			Embedder: &mockEmbeddingClient{createFunc: func(context.Context, string) ([]float32, error) {
				return []float32{1, 0, 0}, nil
			}},
			Store: &mockProfileStore{},
		})

		_, err := svc.Query(context.Background(), "anything")

		var unavailable *floaterrors.UnavailableError
		require.ErrorAs(t, err, &unavailable)
		assert.Equal(t, floaterrors.DependencyEmbedder, unavailable.Dependency)
	})

	t.Run("store failure", func(t *testing.T) {
		svc := newTestService(QueryServiceParams{
			Store: &mockProfileStore{listFunc: func(context.Context) ([]models.Profile, error) {
				return nil, errors.New("database is locked")
			}},
		})

		_, err := svc.Query(context.Background(), "anything")

		var unavailable *floaterrors.UnavailableError
		require.ErrorAs(t, err, &unavailable)
		assert.Equal(t, floaterrors.DependencyStore, unavailable.Dependency)
	})

	t.Run("level lookup failure returns no partial results", func(t *testing.T) {
		svc := newTestService(QueryServiceParams{
			Store: &mockProfileStore{
				listFunc: func(context.Context) ([]models.Profile, error) {
					return []models.Profile{testProfile(1, 0, 0, 0.9), testProfile(2, 0, 0, 0.8)}, nil
				},
				levelsFunc: func(_ context.Context, id int64) ([]models.DepthLevel, error) {
					if id == 2 {
						return nil, errors.New("io error")
					}

					return nil, nil
				},
			},
		})

		results, err := svc.Query(context.Background(), "anything")
		assert.Nil(t, results)

		var unavailable *floaterrors.UnavailableError
		require.ErrorAs(t, err, &unavailable)
		assert.Equal(t, floaterrors.DependencyStore, unavailable.Dependency)
	})
}

func TestQueryService_Query_EmptyStore(t *testing.T) {
	metrics := &recordingQueryMetrics{}
	svc := newTestService(QueryServiceParams{Store: &mockProfileStore{}, Metrics: metrics})

	results, err := svc.Query(context.Background(), "lat=0 long=0")
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
	assert.Equal(t, []string{observability.QueryOutcomeEmpty}, metrics.outcomes)
}

func TestQueryService_Query_SkipsMalformedProfiles(t *testing.T) {
	bad := testProfile(2, 0, 0, 0.99)
	bad.Embedding = []float32{1, 0, 0}

	metrics := &recordingQueryMetrics{}
	svc := newTestService(QueryServiceParams{
		Store: &mockProfileStore{listFunc: func(context.Context) ([]models.Profile, error) {
			return []models.Profile{testProfile(1, 0, 0, 0.5), bad}, nil
		}},
		Metrics: metrics,
	})

	results, err := svc.Query(context.Background(), "anything")
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, resultIDs(results))
	assert.Equal(t, map[string]int{floaterrors.ReasonDimensionMismatch: 1}, metrics.malformed)
}

func TestQueryService_Query_AppliesTimeouts(t *testing.T) {
	check := func(ctx context.Context, limit time.Duration) {
		deadline, ok := ctx.Deadline()
		if assert.True(t, ok) {
			assert.LessOrEqual(t, time.Until(deadline), limit)
		}
	}

	svc := newTestService(QueryServiceParams{
		Embedder: &mockEmbeddingClient{createFunc: func(ctx context.Context, _ string) ([]float32, error) {
			check(ctx, 2*time.Second)

			return []float32{1, 0}, nil
		}},
		Geocoder: &mockGeocoder{geocodeFunc: func(ctx context.Context, _ string) (geo.Point, bool, error) {
			check(ctx, time.Second)

			return geo.Point{}, false, nil
		}},
		Store: &mockProfileStore{listFunc: func(ctx context.Context) ([]models.Profile, error) {
			check(ctx, 3*time.Second)

			return nil, nil
		}},
		EmbeddingTimeout: 2 * time.Second,
		GeocodeTimeout:   time.Second,
		StoreTimeout:     3 * time.Second,
	})

	_, err := svc.Query(context.Background(), "somewhere")
	require.NoError(t, err)
}

func TestQueryService_Query_CachesQueryEmbeddings(t *testing.T) {
	queryCache, err := NewQueryEmbeddingCache(16)
	require.NoError(t, err)

	embedder := &mockEmbeddingClient{}
	cacheMetrics := &recordingCacheMetrics{}
	svc := newTestService(QueryServiceParams{
		Embedder:     embedder,
		Store:        &mockProfileStore{},
		QueryCache:   queryCache,
		CacheMetrics: cacheMetrics,
	})

	for range 3 {
		_, err := svc.Query(context.Background(), "warm water")
		require.NoError(t, err)
	}

	_, err = svc.Query(context.Background(), " warm water ")
	require.NoError(t, err)

	assert.Equal(t, int32(1), embedder.calls.Load())
	assert.Equal(t, int32(3), cacheMetrics.hits.Load())
	assert.Equal(t, int32(1), cacheMetrics.misses.Load())
}

func TestQueryService_ResolveLocation(t *testing.T) {
	svc := newTestService(QueryServiceParams{Store: &mockProfileStore{}})

	p := svc.ResolveLocation(context.Background(), "lat=12.5 long=-40")
	require.NotNil(t, p)
	assert.Equal(t, geo.Point{Lat: 12.5, Lon: -40}, *p)

	assert.Nil(t, svc.ResolveLocation(context.Background(), "the Arabian Sea"), "no geocoder configured")

	invalid := newTestService(QueryServiceParams{
		Store: &mockProfileStore{},
		Geocoder: &mockGeocoder{geocodeFunc: func(context.Context, string) (geo.Point, bool, error) {
			return geo.Point{Lat: 200, Lon: 0}, true, nil
		}},
	})
	assert.Nil(t, invalid.ResolveLocation(context.Background(), "nowhere"))
}
