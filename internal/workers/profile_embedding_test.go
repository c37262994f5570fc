package workers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/floatchat/floatchat/internal/floaterrors"
	"github.com/floatchat/floatchat/internal/models"
	"github.com/floatchat/floatchat/internal/service"
)

type mockStore struct {
	getProfileFunc   func(ctx context.Context, id int64) (models.Profile, error)
	levelsForFunc    func(ctx context.Context, id int64) ([]models.DepthLevel, error)
	setEmbeddingFunc func(ctx context.Context, id int64, embedding []float32) error
}

func (m *mockStore) GetProfile(ctx context.Context, id int64) (models.Profile, error) {
	if m.getProfileFunc != nil {
		return m.getProfileFunc(ctx, id)
	}

	return models.Profile{ID: id, Latitude: -43, Longitude: 147, ObservedAt: time.Date(2023, 1, 5, 0, 0, 0, 0, time.UTC)}, nil
}

func (m *mockStore) LevelsFor(ctx context.Context, id int64) ([]models.DepthLevel, error) {
	if m.levelsForFunc != nil {
		return m.levelsForFunc(ctx, id)
	}

	return []models.DepthLevel{}, nil
}

func (m *mockStore) SetProfileEmbedding(ctx context.Context, id int64, embedding []float32) error {
	if m.setEmbeddingFunc != nil {
		return m.setEmbeddingFunc(ctx, id, embedding)
	}

	return nil
}

type mockEmbedder struct {
	createFunc func(ctx context.Context, input string) ([]float32, error)
}

func (m *mockEmbedder) CreateEmbedding(ctx context.Context, input string) ([]float32, error) {
	return m.createFunc(ctx, input)
}

type recordingMetrics struct {
	outcomes []string
	reasons  []string
}

func (m *recordingMetrics) RecordJobsEnqueued(context.Context, int64) {}
func (m *recordingMetrics) RecordEmbeddingOutcome(_ context.Context, status string) {
	m.outcomes = append(m.outcomes, status)
}

func (m *recordingMetrics) RecordWorkerError(_ context.Context, reason string) {
	m.reasons = append(m.reasons, reason)
}
func (m *recordingMetrics) RecordEmbeddingDuration(context.Context, time.Duration, string) {}
func (m *recordingMetrics) SetRiverQueueDepth(int)                                        {}

func newJob(id int64, attempt, maxAttempts int) *river.Job[service.ProfileEmbeddingArgs] {
	return &river.Job[service.ProfileEmbeddingArgs]{
		JobRow: &rivertype.JobRow{Attempt: attempt, MaxAttempts: maxAttempts},
		Args:   service.ProfileEmbeddingArgs{ProfileID: id},
	}
}

func TestProfileEmbeddingWorker_Success(t *testing.T) {
	var stored []float32

	store := &mockStore{setEmbeddingFunc: func(_ context.Context, id int64, embedding []float32) error {
		assert.Equal(t, int64(7), id)
		stored = embedding

		return nil
	}}
	embedder := &mockEmbedder{createFunc: func(_ context.Context, input string) ([]float32, error) {
		assert.NotEmpty(t, input)

		return []float32{0.1, 0.2, 0.3}, nil
	}}
	metrics := &recordingMetrics{}

	w := NewProfileEmbeddingWorker(ProfileEmbeddingWorkerParams{Store: store, Embedder: embedder, Dimensions: 3, Metrics: metrics})

	require.NoError(t, w.Work(context.Background(), newJob(7, 1, 5)))
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, stored)
	assert.Equal(t, []string{"success"}, metrics.outcomes)
}

func TestProfileEmbeddingWorker_ProfileGone(t *testing.T) {
	store := &mockStore{getProfileFunc: func(context.Context, int64) (models.Profile, error) {
		return models.Profile{}, floaterrors.NewNotFoundError("profile", "profile 7 not found")
	}}
	embedder := &mockEmbedder{createFunc: func(context.Context, string) ([]float32, error) {
		t.Fatal("embedder must not be called")

		return nil, nil
	}}
	metrics := &recordingMetrics{}

	w := NewProfileEmbeddingWorker(ProfileEmbeddingWorkerParams{Store: store, Embedder: embedder, Metrics: metrics})

	require.NoError(t, w.Work(context.Background(), newJob(7, 1, 5)))
	assert.Equal(t, []string{"skipped"}, metrics.outcomes)
}

func TestProfileEmbeddingWorker_ProviderFailure(t *testing.T) {
	embedder := &mockEmbedder{createFunc: func(context.Context, string) ([]float32, error) {
		return nil, errors.New("provider down")
	}}

	t.Run("retries before last attempt", func(t *testing.T) {
		metrics := &recordingMetrics{}
		w := NewProfileEmbeddingWorker(ProfileEmbeddingWorkerParams{Store: &mockStore{}, Embedder: embedder, Metrics: metrics})

		err := w.Work(context.Background(), newJob(1, 1, 3))
		require.Error(t, err)
		assert.Equal(t, []string{"retry"}, metrics.outcomes)
		assert.Equal(t, []string{"provider_failed"}, metrics.reasons)
	})

	t.Run("gives up on last attempt", func(t *testing.T) {
		metrics := &recordingMetrics{}
		w := NewProfileEmbeddingWorker(ProfileEmbeddingWorkerParams{Store: &mockStore{}, Embedder: embedder, Metrics: metrics})

		require.NoError(t, w.Work(context.Background(), newJob(1, 3, 3)))
		assert.Equal(t, []string{"failed_final"}, metrics.outcomes)
	})
}

func TestProfileEmbeddingWorker_DimensionMismatch(t *testing.T) {
	store := &mockStore{setEmbeddingFunc: func(context.Context, int64, []float32) error {
		t.Fatal("a wrong-sized vector must not be stored")

		return nil
	}}
	embedder := &mockEmbedder{createFunc: func(context.Context, string) ([]float32, error) {
		return []float32{1, 2}, nil
	}}

	w := NewProfileEmbeddingWorker(ProfileEmbeddingWorkerParams{Store: store, Embedder: embedder, Dimensions: 384})

	err := w.Work(context.Background(), newJob(1, 1, 5))
	require.ErrorIs(t, err, ErrEmbeddingDimension)
}

func TestProfileEmbeddingWorker_Timeout(t *testing.T) {
	w := NewProfileEmbeddingWorker(ProfileEmbeddingWorkerParams{})
	assert.Equal(t, 30*time.Second, w.Timeout(nil))
}

func TestErrorHandler_DefaultRetry(t *testing.T) {
	h := &ErrorHandler{}
	job := &rivertype.JobRow{ID: 1, Kind: "profile_embedding", Attempt: 1, MaxAttempts: 5}

	assert.Nil(t, h.HandleError(context.Background(), job, errors.New("boom")))
	assert.Nil(t, h.HandlePanic(context.Background(), job, "panic", "trace"))
}
