// Package observe provides application-wide observability primitives for
// Voxseg: OpenTelemetry metrics, distributed tracing, structured logging,
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
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/voxseg/pkg/segment"
)

// meterName is the instrumentation scope name used for all Voxseg metrics.
const meterName = "github.com/MrWong99/voxseg"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	meter metric.Meter

	// --- Histograms ---

	// ClipDuration tracks the audio length of emitted clips.
	ClipDuration metric.Float64Histogram

	// SpeechDuration tracks the length of detected utterances, including
	// ones discarded for being too short.
	SpeechDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram

	// --- Counters ---

	// ClipsEmitted counts finished clips. Use with attribute:
	//   attribute.String("backend", ...)
	ClipsEmitted metric.Int64Counter

	// ClipBytes counts total encoded WAV bytes emitted.
	ClipBytes metric.Int64Counter

	// UtterancesDiscarded counts utterances dropped below the minimum
	// speech duration.
	UtterancesDiscarded metric.Int64Counter

	// EngineErrors counts errors surfaced by the engine. Use with attribute:
	//   attribute.String("kind", ...)
	EngineErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live segmentation sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- Engine snapshot instruments (observed on scrape) ---

	// FramesProcessed reports the engine's cumulative drained-frame count.
	FramesProcessed metric.Int64ObservableCounter

	// BufferedSamples reports the size of the currently open utterance.
	BufferedSamples metric.Int64ObservableGauge
}

// speechBuckets defines histogram bucket boundaries (in seconds) sized for
// spoken utterances.
var speechBuckets = []float64{
	0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{meter: m}

	// Histograms.
	if met.ClipDuration, err = m.Float64Histogram("voxseg.clip.duration",
		metric.WithDescription("Audio length of emitted clips."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(speechBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SpeechDuration, err = m.Float64Histogram("voxseg.speech.duration",
		metric.WithDescription("Length of detected utterances, including discarded ones."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(speechBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxseg.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ClipsEmitted, err = m.Int64Counter("voxseg.clips.emitted",
		metric.WithDescription("Total clips emitted by capture backend."),
	); err != nil {
		return nil, err
	}
	if met.ClipBytes, err = m.Int64Counter("voxseg.clip.bytes",
		metric.WithDescription("Total encoded WAV bytes emitted."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.UtterancesDiscarded, err = m.Int64Counter("voxseg.utterances.discarded",
		metric.WithDescription("Total utterances dropped below the minimum speech duration."),
	); err != nil {
		return nil, err
	}
	if met.EngineErrors, err = m.Int64Counter("voxseg.engine.errors",
		metric.WithDescription("Total engine errors by kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("voxseg.active_sessions",
		metric.WithDescription("Number of live segmentation sessions."),
	); err != nil {
		return nil, err
	}

	// Engine snapshot instruments.
	if met.FramesProcessed, err = m.Int64ObservableCounter("voxseg.frames.processed",
		metric.WithDescription("Cumulative capture frames drained and classified."),
	); err != nil {
		return nil, err
	}
	if met.BufferedSamples, err = m.Int64ObservableGauge("voxseg.buffer.samples",
		metric.WithDescription("Samples held in the currently open utterance."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// RegisterEngineStats wires the snapshot instruments to eng: every metrics
// scrape reads [segment.Engine.Stats]. The returned registration must be
// unregistered before eng is discarded.
func (met *Metrics) RegisterEngineStats(eng *segment.Engine) (metric.Registration, error) {
	return met.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		s := eng.Stats()
		o.ObserveInt64(met.FramesProcessed, int64(s.FramesProcessed))
		o.ObserveInt64(met.BufferedSamples, s.BufferedSamples)
		return nil
	}, met.FramesProcessed, met.BufferedSamples)
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

// RecordClip records one emitted clip: the per-backend counter, the byte
// counter and the duration histogram.
func (met *Metrics) RecordClip(ctx context.Context, backend string, duration time.Duration, sizeBytes int) {
	met.ClipsEmitted.Add(ctx, 1,
		metric.WithAttributes(attribute.String("backend", backend)),
	)
	met.ClipBytes.Add(ctx, int64(sizeBytes))
	met.ClipDuration.Record(ctx, duration.Seconds())
}

// RecordSpeech records the length of a detected utterance.
func (met *Metrics) RecordSpeech(ctx context.Context, duration time.Duration) {
	met.SpeechDuration.Record(ctx, duration.Seconds())
}

// RecordDiscard records an utterance dropped below the minimum duration.
func (met *Metrics) RecordDiscard(ctx context.Context) {
	met.UtterancesDiscarded.Add(ctx, 1)
}

// RecordEngineError records an engine error with its kind ("acquisition",
// "encode", ...).
func (met *Metrics) RecordEngineError(ctx context.Context, kind string) {
	met.EngineErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// SessionStarted increments the live-session gauge.
func (met *Metrics) SessionStarted(ctx context.Context) {
	met.ActiveSessions.Add(ctx, 1)
}

// SessionStopped decrements the live-session gauge.
func (met *Metrics) SessionStopped(ctx context.Context) {
	met.ActiveSessions.Add(ctx, -1)
}
