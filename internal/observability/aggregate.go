package observability

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all FloatChat metric collectors. When metrics are disabled, all fields are nil.
// Components that accept one of the interfaces can receive the corresponding field; they handle nil.
type Metrics struct {
	Query      QueryMetrics
	Cache      CacheMetrics
	API        APIMetrics
	Embeddings EmbeddingMetrics
}

// NewMetrics creates every collector from the given meter.
// Returns (nil, nil) when meter is nil (metrics disabled).
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		//nolint:nilnil // intentional: callers use "if metrics != nil" when metrics disabled
		return nil, nil
	}

	query, err := NewQueryMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("query metrics: %w", err)
	}

	cache, err := NewCacheMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("cache metrics: %w", err)
	}

	api, err := NewAPIMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("api metrics: %w", err)
	}

	embeddings, err := NewEmbeddingMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("embedding metrics: %w", err)
	}

	return &Metrics{
		Query:      query,
		Cache:      cache,
		API:        api,
		Embeddings: embeddings,
	}, nil
}
