// Package observe provides application-wide observability for Beaky:
// OpenTelemetry metrics, tracing, and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so the kiosk's /metrics
// endpoint can be scraped. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Beaky metrics.
const meterName = "github.com/beakylabs/beaky"

// Metrics holds all OpenTelemetry metric instruments for the kiosk pipeline.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	meter metric.Meter

	// TurnDuration tracks end-to-end turn latency, utterance to drained
	// playback.
	TurnDuration metric.Float64Histogram

	// BargeIns counts turns cancelled by the visitor speaking over the reply.
	BargeIns metric.Int64Counter

	// StreamedTokens counts LLM chunks received across all turns.
	StreamedTokens metric.Int64Counter

	// SynthesisQueueDepth observes how many sentence chunks are pending in
	// the speech pipeline. Registered via [Metrics.ObserveQueueDepth].
	SynthesisQueueDepth metric.Int64ObservableGauge

	// RenderClients observes the number of connected WebSocket render
	// clients. Registered via [Metrics.ObserveRenderClients].
	RenderClients metric.Int64ObservableGauge

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for the
// conversational turn cycle, which routinely spans several seconds.
var latencyBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{meter: m}

	if met.TurnDuration, err = m.Float64Histogram("beaky.turn.duration",
		metric.WithDescription("End-to-end latency of a committed conversation turn."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.BargeIns, err = m.Int64Counter("beaky.turn.barge_ins",
		metric.WithDescription("Turns cancelled by the visitor interrupting the reply."),
	); err != nil {
		return nil, err
	}
	if met.StreamedTokens, err = m.Int64Counter("beaky.llm.streamed_tokens",
		metric.WithDescription("LLM stream chunks received across all turns."),
	); err != nil {
		return nil, err
	}
	if met.SynthesisQueueDepth, err = m.Int64ObservableGauge("beaky.speech.queue_depth",
		metric.WithDescription("Sentence chunks pending in the synthesis pipeline."),
	); err != nil {
		return nil, err
	}
	if met.RenderClients, err = m.Int64ObservableGauge("beaky.display.clients",
		metric.WithDescription("Connected WebSocket render clients."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("beaky.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// ObserveQueueDepth registers fn as the source for the synthesis queue depth
// gauge. fn must be cheap and safe to call from the metrics reader.
func (m *Metrics) ObserveQueueDepth(fn func() int) error {
	_, err := m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(m.SynthesisQueueDepth, int64(fn()))
		return nil
	}, m.SynthesisQueueDepth)
	return err
}

// ObserveRenderClients registers fn as the source for the render client gauge.
func (m *Metrics) ObserveRenderClients(fn func() int) error {
	_, err := m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(m.RenderClients, int64(fn()))
		return nil
	}, m.RenderClients)
	return err
}

// ---- kiosk.Metrics implementation ----

// TurnFinished records one committed turn's end-to-end latency.
func (m *Metrics) TurnFinished(d time.Duration) {
	m.TurnDuration.Record(context.Background(), d.Seconds())
}

// BargeIn counts one interrupted turn.
func (m *Metrics) BargeIn() {
	m.BargeIns.Add(context.Background(), 1)
}

// TokensStreamed counts chunks received for one reply.
func (m *Metrics) TokensStreamed(n int) {
	m.StreamedTokens.Add(context.Background(), int64(n))
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
