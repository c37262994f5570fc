// Package observability provides OpenTelemetry metrics and tracing for the FloatChat API.
package observability

import "github.com/floatchat/floatchat/internal/floaterrors"

// Metric names (Prometheus / OpenTelemetry).
const (
	MetricNameQueries               = "floatchat_queries_total"
	MetricNameQueryDuration         = "floatchat_query_duration_seconds"
	MetricNameCandidatesScanned     = "floatchat_candidates_scanned_total"
	MetricNameCandidatesOutOfRadius = "floatchat_candidates_out_of_radius_total"
	MetricNameMalformedRecords      = "floatchat_malformed_records_total"
	MetricNameLocationResolutions   = "floatchat_location_resolutions_total"
	MetricNameNarrationFallbacks    = "floatchat_narration_fallbacks_total"
	MetricNameStageDuration         = "floatchat_query_stage_duration_seconds"

	MetricNameCacheHits   = "floatchat_cache_hits_total"
	MetricNameCacheMisses = "floatchat_cache_misses_total"

	MetricNameHTTPRequests        = "floatchat_http_requests_total"
	MetricNameHTTPRequestDuration = "floatchat_http_request_duration_seconds"
	MetricNameRequestBodyTooLarge = "floatchat_request_body_too_large_total"

	MetricNameEmbeddingJobsEnqueued = "floatchat_embedding_jobs_enqueued_total"
	MetricNameEmbeddingOutcomes     = "floatchat_embedding_outcomes_total"
	MetricNameEmbeddingWorkerErrors = "floatchat_embedding_worker_errors_total"
	MetricNameEmbeddingDuration     = "floatchat_embedding_duration_seconds"
	MetricNameRiverQueueDepth       = "floatchat_river_queue_depth"
)

// Attribute keys.
const (
	AttrCache   = "cache"
	AttrOutcome = "outcome"
	AttrReason  = "reason"
	AttrSource  = "source"
	AttrStage   = "stage"
	AttrStatus  = "status"
)

// Query outcomes for floatchat_queries_total.
const (
	QueryOutcomeOK                  = "ok"
	QueryOutcomeEmpty               = "empty"
	QueryOutcomeInvalid             = "invalid"
	QueryOutcomeEmbedderUnavailable = "embedder_unavailable"
	QueryOutcomeStoreUnavailable    = "store_unavailable"
	QueryOutcomeCanceled            = "canceled"
)

// AllowedQueryOutcomes for floatchat_queries_total and floatchat_query_duration_seconds.
var AllowedQueryOutcomes = map[string]bool{
	QueryOutcomeOK:                  true,
	QueryOutcomeEmpty:               true,
	QueryOutcomeInvalid:             true,
	QueryOutcomeEmbedderUnavailable: true,
	QueryOutcomeStoreUnavailable:    true,
	QueryOutcomeCanceled:            true,
}

// Location sources for floatchat_location_resolutions_total.
const (
	LocationSourceExplicit = "explicit"
	LocationSourceGeocoded = "geocoded"
	LocationSourceNone     = "none"
	LocationSourceFailed   = "failed"
)

// AllowedLocationSources for floatchat_location_resolutions_total.
var AllowedLocationSources = map[string]bool{
	LocationSourceExplicit: true,
	LocationSourceGeocoded: true,
	LocationSourceNone:     true,
	LocationSourceFailed:   true,
}

// AllowedMalformedReasons for floatchat_malformed_records_total.
var AllowedMalformedReasons = map[string]bool{
	floaterrors.ReasonDimensionMismatch: true,
	floaterrors.ReasonMissingEmbedding:  true,
	floaterrors.ReasonInvalidEmbedding:  true,
	floaterrors.ReasonInvalidLocation:   true,
	floaterrors.ReasonInvalidTimestamp:  true,
	floaterrors.ReasonInvalidLevel:      true,
}

// AllowedNarrationFallbackReasons for floatchat_narration_fallbacks_total.
var AllowedNarrationFallbackReasons = map[string]bool{
	"error":   true,
	"timeout": true,
	"empty":   true,
}

// Pipeline stages for floatchat_query_stage_duration_seconds.
const (
	StageEmbed    = "embed"
	StageLocate   = "locate"
	StageList     = "list"
	StageRank     = "rank"
	StageAssemble = "assemble"
)

// AllowedStages for floatchat_query_stage_duration_seconds.
var AllowedStages = map[string]bool{
	StageEmbed:    true,
	StageLocate:   true,
	StageList:     true,
	StageRank:     true,
	StageAssemble: true,
}

// Cache names.
const (
	CacheQueryEmbedding = "query_embedding"
	CacheGeocode        = "geocode"
)

// AllowedCacheNames for floatchat_cache_hits_total and floatchat_cache_misses_total.
var AllowedCacheNames = map[string]bool{
	CacheQueryEmbedding: true,
	CacheGeocode:        true,
}

// AllowedEmbeddingStatuses for floatchat_embedding_outcomes_total and floatchat_embedding_duration_seconds.
var AllowedEmbeddingStatuses = map[string]bool{
	"success": true,
	"failed":  true,
	"skipped": true,
}

// AllowedEmbeddingWorkerReasons for floatchat_embedding_worker_errors_total.
var AllowedEmbeddingWorkerReasons = map[string]bool{
	"get_profile_failed": true,
	"provider_failed":    true,
	"dimension_mismatch": true,
	"update_failed":      true,
	"rate_limit_wait":    true,
}

// NormalizeReason returns reason if in allowed, otherwise "other".
func NormalizeReason(reason string, allowed map[string]bool) string {
	if allowed[reason] {
		return reason
	}

	return "other"
}

// NormalizeCacheName returns name if it is a known cache, otherwise "other".
func NormalizeCacheName(name string) string {
	return NormalizeReason(name, AllowedCacheNames)
}
