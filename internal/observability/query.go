package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// QueryMetrics records query pipeline metrics. All attributes come from bounded sets.
type QueryMetrics interface {
	RecordQuery(ctx context.Context, outcome string, duration time.Duration)
	RecordStage(ctx context.Context, stage string, duration time.Duration)
	RecordCandidates(ctx context.Context, scanned, outOfRadius int)
	RecordMalformed(ctx context.Context, reason string, count int)
	RecordLocation(ctx context.Context, source string)
	RecordNarrationFallback(ctx context.Context, reason string)
}

type queryMetrics struct {
	queries            metric.Int64Counter
	duration           metric.Float64Histogram
	stageDuration      metric.Float64Histogram
	scanned            metric.Int64Counter
	outOfRadius        metric.Int64Counter
	malformed          metric.Int64Counter
	locations          metric.Int64Counter
	narrationFallbacks metric.Int64Counter
}

// NewQueryMetrics creates QueryMetrics. Returns (nil, nil) when meter is nil (metrics disabled).
func NewQueryMetrics(meter metric.Meter) (QueryMetrics, error) {
	if meter == nil {
		//nolint:nilnil // intentional: callers use "if metrics != nil" when metrics disabled
		return nil, nil
	}

	queries, err := meter.Int64Counter(
		MetricNameQueries,
		metric.WithDescription("Total profile queries by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("create queries counter: %w", err)
	}

	duration, err := meter.Float64Histogram(
		MetricNameQueryDuration,
		metric.WithDescription("End-to-end query duration (seconds)"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create query duration histogram: %w", err)
	}

	stageDuration, err := meter.Float64Histogram(
		MetricNameStageDuration,
		metric.WithDescription("Duration of one query pipeline stage (seconds). Label stage: embed, locate, list, rank, assemble."),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create stage duration histogram: %w", err)
	}

	scanned, err := meter.Int64Counter(
		MetricNameCandidatesScanned,
		metric.WithDescription("Total stored profiles considered by the ranker"),
	)
	if err != nil {
		return nil, fmt.Errorf("create candidates scanned counter: %w", err)
	}

	outOfRadius, err := meter.Int64Counter(
		MetricNameCandidatesOutOfRadius,
		metric.WithDescription("Total candidates discarded for lying outside the search radius"),
	)
	if err != nil {
		return nil, fmt.Errorf("create out of radius counter: %w", err)
	}

	malformed, err := meter.Int64Counter(
		MetricNameMalformedRecords,
		metric.WithDescription("Total stored profiles skipped as malformed, by reason"),
	)
	if err != nil {
		return nil, fmt.Errorf("create malformed records counter: %w", err)
	}

	locations, err := meter.Int64Counter(
		MetricNameLocationResolutions,
		metric.WithDescription("Query location resolution by source (explicit, geocoded, none, failed)"),
	)
	if err != nil {
		return nil, fmt.Errorf("create location resolutions counter: %w", err)
	}

	narrationFallbacks, err := meter.Int64Counter(
		MetricNameNarrationFallbacks,
		metric.WithDescription("Total narrated explanations replaced by the templated sentence"),
	)
	if err != nil {
		return nil, fmt.Errorf("create narration fallbacks counter: %w", err)
	}

	return &queryMetrics{
		queries:            queries,
		duration:           duration,
		stageDuration:      stageDuration,
		scanned:            scanned,
		outOfRadius:        outOfRadius,
		malformed:          malformed,
		locations:          locations,
		narrationFallbacks: narrationFallbacks,
	}, nil
}

func (q *queryMetrics) RecordQuery(ctx context.Context, outcome string, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String(AttrOutcome, NormalizeReason(outcome, AllowedQueryOutcomes)))
	q.queries.Add(ctx, 1, attrs)
	q.duration.Record(ctx, duration.Seconds(), attrs)
}

func (q *queryMetrics) RecordStage(ctx context.Context, stage string, duration time.Duration) {
	q.stageDuration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(attribute.String(AttrStage, NormalizeReason(stage, AllowedStages))))
}

func (q *queryMetrics) RecordCandidates(ctx context.Context, scanned, outOfRadius int) {
	q.scanned.Add(ctx, int64(scanned))
	q.outOfRadius.Add(ctx, int64(outOfRadius))
}

func (q *queryMetrics) RecordMalformed(ctx context.Context, reason string, count int) {
	q.malformed.Add(ctx, int64(count),
		metric.WithAttributes(attribute.String(AttrReason, NormalizeReason(reason, AllowedMalformedReasons))))
}

func (q *queryMetrics) RecordLocation(ctx context.Context, source string) {
	q.locations.Add(ctx, 1,
		metric.WithAttributes(attribute.String(AttrSource, NormalizeReason(source, AllowedLocationSources))))
}

func (q *queryMetrics) RecordNarrationFallback(ctx context.Context, reason string) {
	q.narrationFallbacks.Add(ctx, 1,
		metric.WithAttributes(attribute.String(AttrReason, NormalizeReason(reason, AllowedNarrationFallbackReasons))))
}
