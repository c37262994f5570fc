package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/floatchat/floatchat/internal/floaterrors"
	"github.com/floatchat/floatchat/internal/models"
	"github.com/floatchat/floatchat/internal/observability"
)

// DefaultMaxDepthLevels is the number of stored levels considered per profile.
const DefaultMaxDepthLevels = 15

// TemplatedExplanation is the explanation attached when no narrator is configured or narration fails.
func TemplatedExplanation(query string) string {
	return fmt.Sprintf("Matched using weighted embedding similarity and proximity for: '%s'", query)
}

// Assembler turns ranked candidates into response entries: depth levels, formatted time, explanation.
type Assembler struct {
	levels           LevelSource
	narrator         Narrator
	maxDepthLevels   int
	narrationTimeout time.Duration
	storeTimeout     time.Duration
	metrics          observability.QueryMetrics
	logger           *slog.Logger
}

// AssemblerParams configures Assembler. Narrator and Metrics may be nil.
// MaxDepthLevels caps the stored levels read per profile (before invalid ones are dropped); 0 means no cap.
type AssemblerParams struct {
	Levels           LevelSource
	Narrator         Narrator
	MaxDepthLevels   int
	NarrationTimeout time.Duration
	StoreTimeout     time.Duration
	Metrics          observability.QueryMetrics
	Logger           *slog.Logger
}

// NewAssembler creates an Assembler.
func NewAssembler(p AssemblerParams) *Assembler {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Assembler{
		levels:           p.Levels,
		narrator:         p.Narrator,
		maxDepthLevels:   p.MaxDepthLevels,
		narrationTimeout: p.NarrationTimeout,
		storeTimeout:     p.StoreTimeout,
		metrics:          p.Metrics,
		logger:           logger,
	}
}

// Assemble builds the response entry for one candidate. A level lookup failure is returned as a store
// UnavailableError; narration failures fall back to the templated explanation.
func (a *Assembler) Assemble(ctx context.Context, query string, c models.ScoredCandidate) (models.ProfileResult, error) {
	levels, err := a.loadLevels(ctx, c.ProfileID)
	if err != nil {
		return models.ProfileResult{}, err
	}

	result := models.ProfileResult{
		ProfileID:    c.ProfileID,
		Latitude:     c.Latitude,
		Longitude:    c.Longitude,
		Time:         c.ObservedAt.UTC().Format(models.ObservedAtLayout),
		DepthLevels:  ValidReadings(levels, a.maxDepthLevels),
		QueryExplain: TemplatedExplanation(query),
		Score:        c.Score,
	}

	if a.narrator != nil {
		result.QueryExplain = a.narrate(ctx, query, result)
	}

	return result, nil
}

func (a *Assembler) loadLevels(ctx context.Context, profileID int64) ([]models.DepthLevel, error) {
	lctx, cancel := withTimeout(ctx, a.storeTimeout)
	defer cancel()

	levels, err := a.levels.LevelsFor(lctx, profileID)
	if err != nil {
		a.logger.ErrorContext(ctx, "assemble: load depth levels failed", "profile_id", profileID, "error", err)

		return nil, fmt.Errorf("levels for profile %d: %w", profileID,
			floaterrors.NewUnavailableError(floaterrors.DependencyStore, err))
	}

	return levels, nil
}

func (a *Assembler) narrate(ctx context.Context, query string, result models.ProfileResult) string {
	nctx, cancel := withTimeout(ctx, a.narrationTimeout)
	defer cancel()

	text, err := a.narrator.Narrate(nctx, query, result)

	reason := ""

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		reason = "timeout"
	case err != nil:
		reason = "error"
	case strings.TrimSpace(text) == "":
		reason = "empty"
	}

	if reason == "" {
		return strings.TrimSpace(text)
	}

	a.logger.WarnContext(ctx, "assemble: narration failed, using templated explanation",
		"profile_id", result.ProfileID, "reason", reason, "error", err)

	if a.metrics != nil {
		a.metrics.RecordNarrationFallback(ctx, reason)
	}

	return result.QueryExplain
}

// ValidReadings orders levels by sequence, keeps at most maxLevels of them (0 = all) and drops any
// level with a missing or non-finite field. The result is never nil.
func ValidReadings(levels []models.DepthLevel, maxLevels int) []models.LevelReading {
	ordered := slices.Clone(levels)
	slices.SortStableFunc(ordered, func(x, y models.DepthLevel) int {
		return cmp.Compare(x.Sequence, y.Sequence)
	})

	if maxLevels > 0 && len(ordered) > maxLevels {
		ordered = ordered[:maxLevels]
	}

	out := make([]models.LevelReading, 0, len(ordered))

	for _, l := range ordered {
		if r, ok := l.Reading(); ok {
			out = append(out, r)
		}
	}

	return out
}
