// Package workers provides River job workers (profile embedding).
package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/riverqueue/river"
	"golang.org/x/time/rate"

	"github.com/floatchat/floatchat/internal/floaterrors"
	"github.com/floatchat/floatchat/internal/models"
	"github.com/floatchat/floatchat/internal/observability"
	"github.com/floatchat/floatchat/internal/service"
)

const profileEmbeddingTimeout = 30 * time.Second

// ErrEmbeddingDimension is returned when the provider returns a vector of the wrong length.
var ErrEmbeddingDimension = errors.New("embedding dimension mismatch")

// profileEmbeddingStore is the minimal store surface needed by the worker.
type profileEmbeddingStore interface {
	GetProfile(ctx context.Context, id int64) (models.Profile, error)
	LevelsFor(ctx context.Context, profileID int64) ([]models.DepthLevel, error)
	SetProfileEmbedding(ctx context.Context, id int64, embedding []float32) error
}

// ProfileEmbeddingWorkerParams configures ProfileEmbeddingWorker.
// RateLimiter, Metrics and Logger may be nil. Dimensions <= 0 disables the length check.
type ProfileEmbeddingWorkerParams struct {
	Store       profileEmbeddingStore
	Embedder    service.EmbeddingClient
	Dimensions  int
	RateLimiter *rate.Limiter
	Metrics     observability.EmbeddingMetrics
	Logger      *slog.Logger
}

// ProfileEmbeddingWorker describes a profile, embeds the description and stores the vector.
type ProfileEmbeddingWorker struct {
	river.WorkerDefaults[service.ProfileEmbeddingArgs]

	store      profileEmbeddingStore
	embedder   service.EmbeddingClient
	dimensions int
	limiter    *rate.Limiter
	metrics    observability.EmbeddingMetrics
	logger     *slog.Logger
}

// NewProfileEmbeddingWorker creates a ProfileEmbeddingWorker.
func NewProfileEmbeddingWorker(p ProfileEmbeddingWorkerParams) *ProfileEmbeddingWorker {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &ProfileEmbeddingWorker{
		store:      p.Store,
		embedder:   p.Embedder,
		dimensions: p.Dimensions,
		limiter:    p.RateLimiter,
		metrics:    p.Metrics,
		logger:     logger,
	}
}

// Timeout limits how long a single embedding job can run.
func (w *ProfileEmbeddingWorker) Timeout(*river.Job[service.ProfileEmbeddingArgs]) time.Duration {
	return profileEmbeddingTimeout
}

// Work loads the profile, embeds its description and persists the vector.
// A profile deleted since enqueueing completes the job without retry.
func (w *ProfileEmbeddingWorker) Work(ctx context.Context, job *river.Job[service.ProfileEmbeddingArgs]) error {
	id := job.Args.ProfileID
	start := time.Now()

	profile, err := w.store.GetProfile(ctx, id)
	if err != nil {
		if errors.Is(err, floaterrors.ErrNotFound) {
			w.logger.InfoContext(ctx, "embedding: profile gone, skipping", "profile_id", id)
			w.finish(ctx, start, "skipped")

			return nil
		}

		return w.fail(ctx, job, start, "get_profile_failed", fmt.Errorf("get profile %d: %w", id, err))
	}

	levels, err := w.store.LevelsFor(ctx, id)
	if err != nil {
		return w.fail(ctx, job, start, "get_levels_failed", fmt.Errorf("get levels of profile %d: %w", id, err))
	}

	if w.limiter != nil {
		if err := w.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("embedding rate limit: %w", err)
		}
	}

	embedding, err := w.embedder.CreateEmbedding(ctx, service.DescribeProfile(profile, levels))
	if err != nil {
		return w.fail(ctx, job, start, "provider_failed", fmt.Errorf("create embedding: %w", err))
	}

	if w.dimensions > 0 && len(embedding) != w.dimensions {
		w.logger.ErrorContext(ctx, "embedding: wrong dimension",
			"profile_id", id, "got", len(embedding), "want", w.dimensions)

		if w.metrics != nil {
			w.metrics.RecordWorkerError(ctx, "dimension_mismatch")
		}

		w.finish(ctx, start, "failed_final")

		return river.JobCancel(fmt.Errorf("%w: got %d, want %d", ErrEmbeddingDimension, len(embedding), w.dimensions))
	}

	if err := w.store.SetProfileEmbedding(ctx, id, embedding); err != nil {
		if errors.Is(err, floaterrors.ErrNotFound) {
			w.logger.InfoContext(ctx, "embedding: profile deleted before store, skipping", "profile_id", id)
			w.finish(ctx, start, "skipped")

			return nil
		}

		return w.fail(ctx, job, start, "update_failed", fmt.Errorf("set profile embedding: %w", err))
	}

	w.logger.InfoContext(ctx, "embedding: stored", "profile_id", id, "attempt", job.Attempt)
	w.finish(ctx, start, "success")

	return nil
}

// fail records the error and returns it so River retries, or swallows it on the last attempt.
func (w *ProfileEmbeddingWorker) fail(
	ctx context.Context,
	job *river.Job[service.ProfileEmbeddingArgs],
	start time.Time,
	reason string,
	err error,
) error {
	if w.metrics != nil {
		w.metrics.RecordWorkerError(ctx, reason)
	}

	if job.Attempt >= job.MaxAttempts {
		w.logger.ErrorContext(ctx, "embedding: failed (final attempt)",
			"profile_id", job.Args.ProfileID, "reason", reason, "error", err)
		w.finish(ctx, start, "failed_final")

		return nil
	}

	w.logger.WarnContext(ctx, "embedding: failed, will retry",
		"profile_id", job.Args.ProfileID, "reason", reason, "attempt", job.Attempt, "error", err)
	w.finish(ctx, start, "retry")

	return err
}

func (w *ProfileEmbeddingWorker) finish(ctx context.Context, start time.Time, status string) {
	if w.metrics == nil {
		return
	}

	w.metrics.RecordEmbeddingOutcome(ctx, status)
	w.metrics.RecordEmbeddingDuration(ctx, time.Since(start), status)
}
