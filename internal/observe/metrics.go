// Package observe provides application-wide observability primitives for
// voicegate: OpenTelemetry metrics, distributed tracing, and HTTP middleware
// that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. [InitProvider]
// installs a Prometheus exporter as the global meter provider; voicegate's
// HTTP server registers no /metrics route. A package-level default
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

// meterName is the instrumentation scope name used for all voicegate metrics.
const meterName = "github.com/glyphgate/voicegate"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// TurnDuration tracks end-to-end voice-turn latency: STT transcription
	// plus the agent-runtime chat.send round trip.
	TurnDuration metric.Float64Histogram

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// AgentSendDuration tracks the agent-runtime chat.send round-trip
	// latency, from request frame to the terminal chat event.
	AgentSendDuration metric.Float64Histogram

	// --- Counters ---

	// TurnsTotal counts completed voice turns. Use with attribute:
	//   attribute.String("status", ...)
	TurnsTotal metric.Int64Counter

	// ProviderRequests counts STT provider calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts STT provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("code", ...)
	ProviderErrors metric.Int64Counter

	// TurnErrors counts turn failures by taxonomy code. Use with attribute:
	//   attribute.String("code", ...)
	TurnErrors metric.Int64Counter

	// --- Rebuild counter ---

	// RebuildsTotal tracks the number of config-triggered provider/client
	// rebuilds since startup. Use with attribute:
	//   attribute.String("kind", ...) // "stt" or "agent"
	RebuildsTotal metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram

	// HTTPUploadBytes tracks the size of incoming request bodies, primarily
	// the audio payload on POST /api/voice/turn, so operators can see upload
	// sizes trending toward the configured MaxAudioBytes limit before
	// CodeAudioTooLarge starts firing. Use with attribute:
	//   attribute.String("path", ...)
	HTTPUploadBytes metric.Int64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// uploadByteBuckets defines histogram bucket boundaries (in bytes) sized
// around typical smart-glasses audio clip uploads (tens of KB to a few MB).
var uploadByteBuckets = []float64{
	1 << 10, 16 << 10, 64 << 10, 256 << 10, 1 << 20, 4 << 20, 16 << 20,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TurnDuration, err = m.Float64Histogram("voicegate.turn.duration",
		metric.WithDescription("End-to-end voice-turn latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.STTDuration, err = m.Float64Histogram("voicegate.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AgentSendDuration, err = m.Float64Histogram("voicegate.agent.send.duration",
		metric.WithDescription("Latency of the agent-runtime chat.send round trip."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.TurnsTotal, err = m.Int64Counter("voicegate.turns.total",
		metric.WithDescription("Total completed voice turns by status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("voicegate.provider.requests",
		metric.WithDescription("Total STT provider requests by provider and status."),
	); err != nil {
		return nil, err
	}

	if met.ProviderErrors, err = m.Int64Counter("voicegate.provider.errors",
		metric.WithDescription("Total STT provider errors by provider and code."),
	); err != nil {
		return nil, err
	}
	if met.TurnErrors, err = m.Int64Counter("voicegate.turn.errors",
		metric.WithDescription("Total turn failures by taxonomy code."),
	); err != nil {
		return nil, err
	}

	if met.RebuildsTotal, err = m.Int64Counter("voicegate.rebuilds.total",
		metric.WithDescription("Total config-triggered provider/client rebuilds by kind."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("voicegate.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if met.HTTPUploadBytes, err = m.Int64Histogram("voicegate.http.upload.bytes",
		metric.WithDescription("Size of incoming HTTP request bodies, primarily voice-turn audio uploads."),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(uploadByteBuckets...),
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

// RecordTurn is a convenience method that records a completed turn's
// duration and status.
func (m *Metrics) RecordTurn(ctx context.Context, seconds float64, status string) {
	m.TurnDuration.Record(ctx, seconds)
	m.TurnsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, code string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("code", code),
		),
	)
}

// RecordTurnError is a convenience method that records a turn failure
// counter increment by taxonomy code.
func (m *Metrics) RecordTurnError(ctx context.Context, code string) {
	m.TurnErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("code", code)))
}

// RecordRebuild is a convenience method that records a config-triggered
// rebuild counter increment.
func (m *Metrics) RecordRebuild(ctx context.Context, kind string) {
	m.RebuildsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
