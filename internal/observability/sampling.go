package observability

import (
	"os"
	"strconv"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Sampling follows the standard OTEL_TRACES_SAMPLER variables directly; config.Config does not mirror them.
const (
	envTracesSampler    = "OTEL_TRACES_SAMPLER"
	envTracesSamplerArg = "OTEL_TRACES_SAMPLER_ARG"
)

// fullSampleRatio applies when a ratio sampler is selected without a usable ratio.
const fullSampleRatio = 1.0

// newSampler picks the query tracing sampler. Unset or unrecognised names fall back to
// parentbased_always_on, matching the SDK.
func newSampler() sdktrace.Sampler {
	name := os.Getenv(envTracesSampler)
	ratio := func() float64 { return samplerRatio(os.Getenv(envTracesSamplerArg)) }

	switch name {
	case "always_on":
		return sdktrace.AlwaysSample()
	case "always_off":
		return sdktrace.NeverSample()
	case "traceidratio":
		return sdktrace.TraceIDRatioBased(ratio())
	case "parentbased_traceidratio":
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio()))
	case "parentbased_always_off":
		return sdktrace.ParentBased(sdktrace.NeverSample())
	default:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
}

// samplerRatio parses a ratio in [0, 1].
func samplerRatio(raw string) float64 {
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f < 0 || f > 1 {
		return fullSampleRatio
	}

	return f
}
