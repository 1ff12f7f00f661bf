// Package observe provides application-wide observability primitives for
// presay: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all presay metrics.
const meterName = "github.com/MrWong99/presay"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// SynthesisDuration tracks one outbound TTS synthesis attempt. Use with
	// attributes:
	//   attribute.String("endpoint", ...), attribute.String("status", ...)
	SynthesisDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram

	// --- Counters ---

	// SynthesisRequests counts outbound synthesis attempts. Use with
	// attributes:
	//   attribute.String("endpoint", ...), attribute.String("status", ...)
	SynthesisRequests metric.Int64Counter

	// SynthesisRetries counts synthesis attempts beyond the first for a
	// single segment.
	SynthesisRetries metric.Int64Counter

	// CacheHits counts cache lookups that found an entry, whatever its
	// state.
	CacheHits metric.Int64Counter

	// CacheMisses counts cache lookups that found nothing.
	CacheMisses metric.Int64Counter

	// PrefetchSubmissions counts segments accepted for background synthesis.
	PrefetchSubmissions metric.Int64Counter

	// SegmentsEmitted counts segments produced by the streaming splitter.
	SegmentsEmitted metric.Int64Counter

	// ChatRequests counts proxied chat-completion requests. Use with
	// attributes:
	//   attribute.Bool("stream", ...), attribute.Bool("tts", ...)
	ChatRequests metric.Int64Counter

	// --- Gauges ---

	// CacheEntries tracks the number of live cache entries.
	CacheEntries metric.Int64UpDownCounter

	// EndpointInflight tracks in-flight synthesis requests per endpoint. Use
	// with attribute:
	//   attribute.String("endpoint", ...)
	EndpointInflight metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for synthesis and proxy latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.SynthesisDuration, err = m.Float64Histogram("presay.synthesis.duration",
		metric.WithDescription("Latency of one outbound TTS synthesis attempt."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("presay.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.SynthesisRequests, err = m.Int64Counter("presay.synthesis.requests",
		metric.WithDescription("Total outbound synthesis attempts by endpoint and status."),
	); err != nil {
		return nil, err
	}
	if met.SynthesisRetries, err = m.Int64Counter("presay.synthesis.retries",
		metric.WithDescription("Synthesis attempts beyond the first for one segment."),
	); err != nil {
		return nil, err
	}
	if met.CacheHits, err = m.Int64Counter("presay.cache.hits",
		metric.WithDescription("Cache lookups that found an entry."),
	); err != nil {
		return nil, err
	}
	if met.CacheMisses, err = m.Int64Counter("presay.cache.misses",
		metric.WithDescription("Cache lookups that found nothing."),
	); err != nil {
		return nil, err
	}
	if met.PrefetchSubmissions, err = m.Int64Counter("presay.prefetch.submissions",
		metric.WithDescription("Segments accepted for background synthesis."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsEmitted, err = m.Int64Counter("presay.segments.emitted",
		metric.WithDescription("Segments produced by the streaming splitter."),
	); err != nil {
		return nil, err
	}
	if met.ChatRequests, err = m.Int64Counter("presay.chat.requests",
		metric.WithDescription("Proxied chat-completion requests by stream mode and TTS flag."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.CacheEntries, err = m.Int64UpDownCounter("presay.cache.entries",
		metric.WithDescription("Number of live cache entries."),
	); err != nil {
		return nil, err
	}
	if met.EndpointInflight, err = m.Int64UpDownCounter("presay.endpoint.inflight",
		metric.WithDescription("In-flight synthesis requests per endpoint."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordSynthesis records one completed synthesis attempt: the request
// counter and the latency histogram, both tagged with endpoint and status.
func (m *Metrics) RecordSynthesis(ctx context.Context, endpoint, status string, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("status", status),
	)
	m.SynthesisRequests.Add(ctx, 1, attrs)
	m.SynthesisDuration.Record(ctx, seconds, attrs)
}

// RecordCacheLookup records a cache hit or miss.
func (m *Metrics) RecordCacheLookup(ctx context.Context, hit bool) {
	if hit {
		m.CacheHits.Add(ctx, 1)
		return
	}
	m.CacheMisses.Add(ctx, 1)
}

// RecordChatRequest records a proxied chat-completion request.
func (m *Metrics) RecordChatRequest(ctx context.Context, stream, ttsEnabled bool) {
	m.ChatRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.Bool("stream", stream),
			attribute.Bool("tts", ttsEnabled),
		),
	)
}
