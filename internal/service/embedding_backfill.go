package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/riverqueue/river"

	"github.com/floatchat/floatchat/internal/observability"
)

const defaultBackfillBatchSize = 500

// MissingEmbeddingLister pages through ids of profiles that have no stored embedding, ascending.
type MissingEmbeddingLister interface {
	ListProfileIDsMissingEmbedding(ctx context.Context, afterID int64, limit int) ([]int64, error)
}

// EmbeddingBackfillService enqueues one profile_embedding job per profile lacking an embedding.
type EmbeddingBackfillService struct {
	lister      MissingEmbeddingLister
	inserter    ProfileEmbeddingInserter
	queueName   string
	maxAttempts int
	batchSize   int
	metrics     observability.EmbeddingMetrics
	logger      *slog.Logger
}

// EmbeddingBackfillParams configures EmbeddingBackfillService. Metrics and Logger may be nil.
type EmbeddingBackfillParams struct {
	Lister      MissingEmbeddingLister
	Inserter    ProfileEmbeddingInserter
	QueueName   string
	MaxAttempts int
	BatchSize   int
	Metrics     observability.EmbeddingMetrics
	Logger      *slog.Logger
}

// NewEmbeddingBackfillService creates an EmbeddingBackfillService.
func NewEmbeddingBackfillService(p EmbeddingBackfillParams) *EmbeddingBackfillService {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	queue := p.QueueName
	if queue == "" {
		queue = EmbeddingsQueueName
	}

	batch := p.BatchSize
	if batch <= 0 {
		batch = defaultBackfillBatchSize
	}

	return &EmbeddingBackfillService{
		lister:      p.Lister,
		inserter:    p.Inserter,
		queueName:   queue,
		maxAttempts: p.MaxAttempts,
		batchSize:   batch,
		metrics:     p.Metrics,
		logger:      logger,
	}
}

// EnqueueMissing enqueues jobs for every profile without an embedding and returns how many were inserted.
// Jobs already queued for a profile are deduplicated by River (unique by args).
func (s *EmbeddingBackfillService) EnqueueMissing(ctx context.Context) (int, error) {
	var (
		afterID int64
		total   int
	)

	opts := &river.InsertOpts{
		Queue:       s.queueName,
		MaxAttempts: s.maxAttempts,
		UniqueOpts:  river.UniqueOpts{ByArgs: true},
	}

	for {
		ids, err := s.lister.ListProfileIDsMissingEmbedding(ctx, afterID, s.batchSize)
		if err != nil {
			return total, fmt.Errorf("list profiles missing embedding: %w", err)
		}

		if len(ids) == 0 {
			break
		}

		params := make([]river.InsertManyParams, 0, len(ids))
		for _, id := range ids {
			params = append(params, river.InsertManyParams{Args: ProfileEmbeddingArgs{ProfileID: id}, InsertOpts: opts})
		}

		results, err := s.inserter.InsertMany(ctx, params)
		if err != nil {
			return total, fmt.Errorf("enqueue embedding jobs after profile %d: %w", afterID, err)
		}

		inserted := 0

		for _, r := range results {
			if r != nil && !r.UniqueSkippedAsDuplicate {
				inserted++
			}
		}

		total += inserted

		if s.metrics != nil {
			s.metrics.RecordJobsEnqueued(ctx, int64(inserted))
		}

		s.logger.InfoContext(ctx, "embedding backfill: batch enqueued",
			"first_profile_id", ids[0], "last_profile_id", ids[len(ids)-1],
			"enqueued", inserted, "duplicates", len(results)-inserted,
		)

		afterID = ids[len(ids)-1]

		if len(ids) < s.batchSize {
			break
		}
	}

	return total, nil
}
