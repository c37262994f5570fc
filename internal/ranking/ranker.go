// Package ranking scores stored profiles against a query by blending embedding similarity with
// geographic proximity, filters them by search radius, and selects the top K.
package ranking

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/floatchat/floatchat/internal/floaterrors"
	"github.com/floatchat/floatchat/internal/geo"
	"github.com/floatchat/floatchat/internal/models"
	"github.com/floatchat/floatchat/pkg/embeddings"
)

// Score weights: 70% semantic, 30% spatial.
const (
	SimilarityWeight = 0.7
	ProximityWeight  = 0.3
)

const (
	// DefaultTopK is the number of candidates returned when Config.TopK is not set.
	DefaultTopK = 3
	// DefaultRadiusMeters is the search radius around a known query location.
	DefaultRadiusMeters = 50_000.0

	// Below this many candidates scoring runs on the calling goroutine.
	parallelThreshold = 512
	// Number of malformed profile ids included in the per-pass warning.
	maxLoggedMalformedIDs = 5
)

// Config configures a Ranker. Zero values fall back to the defaults above.
type Config struct {
	TopK         int
	RadiusMeters float64
	// Workers bounds scoring goroutines; 0 uses GOMAXPROCS.
	Workers int
	Logger  *slog.Logger
}

// Stats describes one ranking pass.
type Stats struct {
	Scanned     int
	OutOfRadius int
	Eligible    int
	// Malformed counts skipped candidates by floaterrors reason.
	Malformed map[string]int
}

// MalformedTotal returns the number of skipped candidates across all reasons.
func (s Stats) MalformedTotal() int {
	total := 0
	for _, n := range s.Malformed {
		total += n
	}

	return total
}

// Ranker scores and selects candidate profiles. It holds no per-request state and is safe for concurrent use.
type Ranker struct {
	topK         int
	radiusMeters float64
	workers      int
	logger       *slog.Logger
}

// NewRanker creates a Ranker.
func NewRanker(cfg Config) *Ranker {
	r := &Ranker{
		topK:         cfg.TopK,
		radiusMeters: cfg.RadiusMeters,
		workers:      cfg.Workers,
		logger:       cfg.Logger,
	}

	if r.topK <= 0 {
		r.topK = DefaultTopK
	}

	if r.radiusMeters <= 0 {
		r.radiusMeters = DefaultRadiusMeters
	}

	if r.workers <= 0 {
		r.workers = runtime.GOMAXPROCS(0)
	}

	if r.logger == nil {
		r.logger = slog.Default()
	}

	return r
}

// TopK returns the configured result count.
func (r *Ranker) TopK() int { return r.topK }

// RadiusMeters returns the configured search radius.
func (r *Ranker) RadiusMeters() float64 { return r.radiusMeters }

// ProximityScore maps a distance in meters to (0, 1]: 1 at distance 0, decreasing toward 0.
func ProximityScore(distanceMeters float64) float64 {
	return 1 / (1 + distanceMeters)
}

// CombinedScore blends similarity and proximity with the fixed weights.
func CombinedScore(similarity, distanceMeters float64) float64 {
	return SimilarityWeight*similarity + ProximityWeight*ProximityScore(distanceMeters)
}

// Rank scores every candidate against queryEmbedding. When location is non-nil, candidates further than
// the radius are discarded; otherwise every well-formed candidate is eligible at distance 0.
// The result is ordered by score descending (ties by profile id ascending) and holds at most TopK entries.
// Malformed candidates are skipped and reported in Stats. The only error is context cancellation.
func (r *Ranker) Rank(
	ctx context.Context, queryEmbedding []float32, location *geo.Point, candidates []models.Profile,
) ([]models.ScoredCandidate, Stats, error) {
	stats := Stats{Scanned: len(candidates), Malformed: map[string]int{}}

	if len(candidates) == 0 {
		return []models.ScoredCandidate{}, stats, nil
	}

	chunks := r.partition(len(candidates))
	partials := make([]partialResult, len(chunks))

	if len(chunks) == 1 {
		partials[0] = r.scoreRange(queryEmbedding, location, candidates)
	} else {
		g, gctx := errgroup.WithContext(ctx)

		for i, c := range chunks {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}

				partials[i] = r.scoreRange(queryEmbedding, location, candidates[c.start:c.end])

				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return nil, stats, fmt.Errorf("score candidates: %w", err)
		}
	}

	scored := make([]models.ScoredCandidate, 0, len(candidates))

	var malformed []*floaterrors.MalformedRecordError

	for _, p := range partials {
		scored = append(scored, p.scored...)
		stats.OutOfRadius += p.outOfRadius
		malformed = append(malformed, p.malformed...)
	}

	for _, m := range malformed {
		stats.Malformed[m.Reason]++
	}

	stats.Eligible = len(scored)

	if len(malformed) > 0 {
		r.logMalformed(ctx, malformed)
	}

	slices.SortFunc(scored, func(a, b models.ScoredCandidate) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}

		return cmp.Compare(a.ProfileID, b.ProfileID)
	})

	if len(scored) > r.topK {
		scored = scored[:r.topK]
	}

	return scored, stats, nil
}

type span struct{ start, end int }

type partialResult struct {
	scored      []models.ScoredCandidate
	outOfRadius int
	malformed   []*floaterrors.MalformedRecordError
}

// partition splits n candidates into contiguous ranges, one per worker.
func (r *Ranker) partition(n int) []span {
	if n < parallelThreshold || r.workers <= 1 {
		return []span{{0, n}}
	}

	workers := min(r.workers, n)
	size := (n + workers - 1) / workers
	out := make([]span, 0, workers)

	for start := 0; start < n; start += size {
		out = append(out, span{start, min(start+size, n)})
	}

	return out
}

func (r *Ranker) scoreRange(queryEmbedding []float32, location *geo.Point, candidates []models.Profile) partialResult {
	var res partialResult

	for i := range candidates {
		p := &candidates[i]

		if reason := validate(p, len(queryEmbedding)); reason != "" {
			res.malformed = append(res.malformed, &floaterrors.MalformedRecordError{ProfileID: p.ID, Reason: reason})

			continue
		}

		distance := 0.0

		if location != nil {
			distance = geo.DistanceMeters(*location, geo.Point{Lat: p.Latitude, Lon: p.Longitude})
			if distance > r.radiusMeters {
				res.outOfRadius++

				continue
			}
		}

		// Lengths were checked by validate.
		similarity, _ := embeddings.CosineSimilarity(queryEmbedding, p.Embedding)

		res.scored = append(res.scored, models.ScoredCandidate{
			ProfileID:      p.ID,
			Latitude:       p.Latitude,
			Longitude:      p.Longitude,
			ObservedAt:     p.ObservedAt,
			Similarity:     similarity,
			DistanceMeters: distance,
			Score:          CombinedScore(similarity, distance),
		})
	}

	return res
}

// validate returns a floaterrors reason when the profile cannot be scored, or "" when it can.
func validate(p *models.Profile, dimensions int) string {
	switch {
	case !(geo.Point{Lat: p.Latitude, Lon: p.Longitude}).Valid():
		return floaterrors.ReasonInvalidLocation
	case len(p.Embedding) == 0:
		return floaterrors.ReasonMissingEmbedding
	case len(p.Embedding) != dimensions:
		return floaterrors.ReasonDimensionMismatch
	case !embeddings.IsFinite(p.Embedding):
		return floaterrors.ReasonInvalidEmbedding
	}

	return ""
}

func (r *Ranker) logMalformed(ctx context.Context, malformed []*floaterrors.MalformedRecordError) {
	ids := make([]int64, 0, maxLoggedMalformedIDs)
	for _, m := range malformed[:min(len(malformed), maxLoggedMalformedIDs)] {
		ids = append(ids, m.ProfileID)
	}

	r.logger.WarnContext(ctx, "ranking: skipped malformed profiles",
		"count", len(malformed),
		"first_reason", malformed[0].Reason,
		"profile_ids", ids,
	)

	for _, m := range malformed {
		r.logger.DebugContext(ctx, "ranking: malformed profile", "profile_id", m.ProfileID, "reason", m.Reason)
	}
}
