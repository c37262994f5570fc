package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/floatchat/floatchat/internal/floaterrors"
	"github.com/floatchat/floatchat/internal/geo"
	"github.com/floatchat/floatchat/internal/models"
	"github.com/floatchat/floatchat/internal/observability"
	"github.com/floatchat/floatchat/internal/ranking"
	"github.com/floatchat/floatchat/pkg/cache"
	"github.com/floatchat/floatchat/pkg/embeddings"
)

// ErrEmptyQuery is returned when the query text is missing or blank.
var ErrEmptyQuery = floaterrors.NewValidationError("query", "query is required and must be non-empty")

// errInvalidQueryEmbedding reports an embedder response that cannot be compared with stored embeddings.
var errInvalidQueryEmbedding = errors.New("query embedding has wrong dimension or non-finite values")

// QueryEmbeddingCache caches query embeddings by trimmed query text.
type QueryEmbeddingCache = cache.LoaderCache[string, []float32]

// NewQueryEmbeddingCache creates a query embedding cache holding up to size entries.
func NewQueryEmbeddingCache(size int) (*QueryEmbeddingCache, error) {
	c, err := cache.NewLoaderCache[string, []float32](size, func(s string) string { return s })
	if err != nil {
		return nil, fmt.Errorf("create query embedding cache: %w", err)
	}

	return c, nil
}

// QueryService answers natural-language profile queries: it resolves the query location, embeds the text,
// ranks stored profiles and assembles the top results.
type QueryService struct {
	embedder         EmbeddingClient
	geocoder         Geocoder
	store            ProfileStore
	ranker           *ranking.Ranker
	assembler        *Assembler
	dimensions       int
	embeddingTimeout time.Duration
	geocodeTimeout   time.Duration
	storeTimeout     time.Duration
	queryCache       *QueryEmbeddingCache
	cacheMetrics     observability.CacheMetrics
	metrics          observability.QueryMetrics
	logger           *slog.Logger
}

// QueryServiceParams configures QueryService.
// Geocoder, QueryCache, CacheMetrics and Metrics may be nil. Dimensions 0 skips the query vector length check.
type QueryServiceParams struct {
	Embedder         EmbeddingClient
	Geocoder         Geocoder
	Store            ProfileStore
	Ranker           *ranking.Ranker
	Assembler        *Assembler
	Dimensions       int
	EmbeddingTimeout time.Duration
	GeocodeTimeout   time.Duration
	StoreTimeout     time.Duration
	QueryCache       *QueryEmbeddingCache
	CacheMetrics     observability.CacheMetrics
	Metrics          observability.QueryMetrics
	Logger           *slog.Logger
}

// NewQueryService creates a QueryService. A nil Ranker or Assembler gets a default built from the other params.
func NewQueryService(p QueryServiceParams) *QueryService {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ranker := p.Ranker
	if ranker == nil {
		ranker = ranking.NewRanker(ranking.Config{Logger: logger})
	}

	assembler := p.Assembler
	if assembler == nil {
		assembler = NewAssembler(AssemblerParams{
			Levels:         p.Store,
			MaxDepthLevels: DefaultMaxDepthLevels,
			StoreTimeout:   p.StoreTimeout,
			Metrics:        p.Metrics,
			Logger:         logger,
		})
	}

	return &QueryService{
		embedder:         p.Embedder,
		geocoder:         p.Geocoder,
		store:            p.Store,
		ranker:           ranker,
		assembler:        assembler,
		dimensions:       p.Dimensions,
		embeddingTimeout: p.EmbeddingTimeout,
		geocodeTimeout:   p.GeocodeTimeout,
		storeTimeout:     p.StoreTimeout,
		queryCache:       p.QueryCache,
		cacheMetrics:     p.CacheMetrics,
		metrics:          p.Metrics,
		logger:           logger,
	}
}

// Query returns up to TopK results for text, best first. An empty slice means nothing matched.
// Errors: ErrEmptyQuery for blank text; a wrapped *floaterrors.UnavailableError when the embedder or
// the store fails. Partial results are never returned.
func (s *QueryService) Query(ctx context.Context, text string) (results []models.ProfileResult, err error) {
	start := time.Now()

	ctx, span := observability.Tracer().Start(ctx, "query")
	defer span.End()

	defer func() {
		outcome := queryOutcome(results, err)
		span.SetAttributes(attribute.String("query.outcome", outcome), attribute.Int("query.results", len(results)))

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}

		if s.metrics != nil {
			s.metrics.RecordQuery(ctx, outcome, time.Since(start))
		}
	}()

	query := strings.TrimSpace(text)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	location := s.ResolveLocation(ctx, query)

	embedding, err := s.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	candidates, err := s.listCandidates(ctx, location)
	if err != nil {
		return nil, err
	}

	ranked, err := s.rank(ctx, embedding, location, candidates)
	if err != nil {
		return nil, err
	}

	return s.assemble(ctx, query, ranked)
}

// ResolveLocation finds the query location: explicit lat=/long= markers first, then the geocoder.
// It never fails; any geocoder problem means no location.
func (s *QueryService) ResolveLocation(ctx context.Context, query string) *geo.Point {
	defer s.observeStage(ctx, observability.StageLocate, time.Now())

	if p, ok := geo.ExtractCoordinates(query); ok {
		s.recordLocation(ctx, observability.LocationSourceExplicit)

		return &p
	}

	if s.geocoder == nil {
		s.recordLocation(ctx, observability.LocationSourceNone)

		return nil
	}

	ctx, span := observability.Tracer().Start(ctx, "query.geocode")
	defer span.End()

	gctx, cancel := withTimeout(ctx, s.geocodeTimeout)
	defer cancel()

	p, ok, err := s.geocoder.Geocode(gctx, query)

	switch {
	case err != nil:
		span.RecordError(err)
		s.logger.WarnContext(ctx, "query: geocoding failed, continuing without location", "error", err)
		s.recordLocation(ctx, observability.LocationSourceFailed)

		return nil
	case !ok || !p.Valid():
		s.logger.DebugContext(ctx, "query: no location found")
		s.recordLocation(ctx, observability.LocationSourceNone)

		return nil
	}

	s.recordLocation(ctx, observability.LocationSourceGeocoded)

	return &p
}

func (s *QueryService) embedQuery(ctx context.Context, query string) ([]float32, error) {
	defer s.observeStage(ctx, observability.StageEmbed, time.Now())

	ctx, span := observability.Tracer().Start(ctx, "query.embed")
	defer span.End()

	var (
		vec []float32
		err error
	)

	if s.queryCache != nil {
		vec, err = s.getQueryEmbeddingCached(ctx, query)
	} else {
		vec, err = s.createEmbedding(ctx, query)
	}

	if err != nil {
		span.RecordError(err)

		if errors.Is(err, context.Canceled) {
			s.logger.InfoContext(ctx, "query: canceled while embedding")
		} else {
			s.logger.ErrorContext(ctx, "query: create embedding failed", "error", err)
		}

		return nil, fmt.Errorf("embed query: %w", floaterrors.NewUnavailableError(floaterrors.DependencyEmbedder, err))
	}

	return vec, nil
}

func (s *QueryService) createEmbedding(ctx context.Context, query string) ([]float32, error) {
	ctx, cancel := withTimeout(ctx, s.embeddingTimeout)
	defer cancel()

	vec, err := s.embedder.CreateEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("create embedding: %w", err)
	}

	if len(vec) == 0 || (s.dimensions > 0 && len(vec) != s.dimensions) || !embeddings.IsFinite(vec) {
		return nil, fmt.Errorf("%w: got %d values, want %d", errInvalidQueryEmbedding, len(vec), s.dimensions)
	}

	return vec, nil
}

func (s *QueryService) getQueryEmbeddingCached(ctx context.Context, query string) ([]float32, error) {
	vec, hit, err := s.queryCache.GetWithStats(ctx, query, s.createEmbedding)
	if err != nil {
		return nil, fmt.Errorf("query embedding: %w", err)
	}

	if s.cacheMetrics != nil {
		if hit {
			s.cacheMetrics.RecordHit(ctx, observability.CacheQueryEmbedding)
		} else {
			s.cacheMetrics.RecordMiss(ctx, observability.CacheQueryEmbedding)
		}
	}

	return vec, nil
}

func (s *QueryService) listCandidates(ctx context.Context, location *geo.Point) ([]models.Profile, error) {
	defer s.observeStage(ctx, observability.StageList, time.Now())

	ctx, span := observability.Tracer().Start(ctx, "query.list_profiles")
	defer span.End()

	lctx, cancel := withTimeout(ctx, s.storeTimeout)
	defer cancel()

	var (
		candidates []models.Profile
		err        error
	)

	bounded, canBound := s.store.(BoundedProfileStore)
	if location != nil && canBound {
		box := geo.BoundingBox(*location, s.ranker.RadiusMeters())
		span.SetAttributes(attribute.Bool("query.bounded", true))
		candidates, err = bounded.ListProfilesInBox(lctx, box)
	} else {
		candidates, err = s.store.ListProfiles(lctx)
	}

	if err != nil {
		span.RecordError(err)
		s.logger.ErrorContext(ctx, "query: list profiles failed", "error", err)

		return nil, fmt.Errorf("list profiles: %w", floaterrors.NewUnavailableError(floaterrors.DependencyStore, err))
	}

	span.SetAttributes(attribute.Int("query.candidates", len(candidates)))

	return candidates, nil
}

func (s *QueryService) rank(
	ctx context.Context, embedding []float32, location *geo.Point, candidates []models.Profile,
) ([]models.ScoredCandidate, error) {
	defer s.observeStage(ctx, observability.StageRank, time.Now())

	ctx, span := observability.Tracer().Start(ctx, "query.rank")
	defer span.End()

	ranked, stats, err := s.ranker.Rank(ctx, embedding, location, candidates)
	if err != nil {
		return nil, fmt.Errorf("rank profiles: %w", err)
	}

	span.SetAttributes(
		attribute.Int("rank.scanned", stats.Scanned),
		attribute.Int("rank.out_of_radius", stats.OutOfRadius),
		attribute.Int("rank.malformed", stats.MalformedTotal()),
		attribute.Int("rank.eligible", stats.Eligible),
	)

	if s.metrics != nil {
		s.metrics.RecordCandidates(ctx, stats.Scanned, stats.OutOfRadius)

		for reason, n := range stats.Malformed {
			s.metrics.RecordMalformed(ctx, reason, n)
		}
	}

	s.logger.DebugContext(ctx, "query: ranked",
		"scanned", stats.Scanned,
		"out_of_radius", stats.OutOfRadius,
		"eligible", stats.Eligible,
		"returned", len(ranked),
		"has_location", location != nil,
	)

	return ranked, nil
}

func (s *QueryService) assemble(
	ctx context.Context, query string, ranked []models.ScoredCandidate,
) ([]models.ProfileResult, error) {
	defer s.observeStage(ctx, observability.StageAssemble, time.Now())

	ctx, span := observability.Tracer().Start(ctx, "query.assemble", trace.WithAttributes(attribute.Int("query.ranked", len(ranked))))
	defer span.End()

	results := make([]models.ProfileResult, 0, len(ranked))

	for _, c := range ranked {
		r, err := s.assembler.Assemble(ctx, query, c)
		if err != nil {
			span.RecordError(err)

			return nil, fmt.Errorf("assemble results: %w", err)
		}

		results = append(results, r)
	}

	return results, nil
}

func (s *QueryService) observeStage(ctx context.Context, stage string, start time.Time) {
	if s.metrics != nil {
		s.metrics.RecordStage(ctx, stage, time.Since(start))
	}
}

func (s *QueryService) recordLocation(ctx context.Context, source string) {
	if s.metrics != nil {
		s.metrics.RecordLocation(ctx, source)
	}
}

// queryOutcome maps a Query result to a bounded metric label.
func queryOutcome(results []models.ProfileResult, err error) string {
	var unavailable *floaterrors.UnavailableError

	switch {
	case err == nil && len(results) == 0:
		return observability.QueryOutcomeEmpty
	case err == nil:
		return observability.QueryOutcomeOK
	case errors.Is(err, floaterrors.ErrValidation):
		return observability.QueryOutcomeInvalid
	case errors.Is(err, context.Canceled):
		return observability.QueryOutcomeCanceled
	case errors.As(err, &unavailable) && unavailable.Dependency == floaterrors.DependencyEmbedder:
		return observability.QueryOutcomeEmbedderUnavailable
	case errors.As(err, &unavailable):
		return observability.QueryOutcomeStoreUnavailable
	default:
		return observability.QueryOutcomeCanceled
	}
}

// withTimeout applies d when positive; otherwise it only adds a cancel func.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, d)
}
