// Package observe provides application-wide observability primitives for
// FluentLoop: OpenTelemetry metrics and the Prometheus exporter bridge.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
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

// meterName is the instrumentation scope name used for all FluentLoop metrics.
const meterName = "github.com/fluentloop/fluentloop"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ScoringDuration tracks the remote scoring round-trip latency.
	ScoringDuration metric.Float64Histogram

	// PlaybackDuration tracks agent utterance playback time, from the
	// platform's started event to its ended event.
	PlaybackDuration metric.Float64Histogram

	// --- Counters ---

	// ScoringRequests counts scoring calls. Use with attribute:
	//   attribute.String("status", "ok"|"error"|"stale")
	ScoringRequests metric.Int64Counter

	// Turns counts committed transcript turns. Use with attribute:
	//   attribute.String("speaker", "user"|"agent")
	Turns metric.Int64Counter

	// SessionsStarted counts accepted session starts.
	SessionsStarted metric.Int64Counter

	// QuotaRefusals counts session starts refused for exhausted quota.
	QuotaRefusals metric.Int64Counter

	// CaptureRestarts counts automatic recognition restarts after
	// platform-initiated ends.
	CaptureRestarts metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live practice sessions.
	ActiveSessions metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// a conversational round trip.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ScoringDuration, err = m.Float64Histogram("fluentloop.scoring.duration",
		metric.WithDescription("Latency of the remote scoring round trip."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PlaybackDuration, err = m.Float64Histogram("fluentloop.playback.duration",
		metric.WithDescription("Agent utterance playback time."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ScoringRequests, err = m.Int64Counter("fluentloop.scoring.requests",
		metric.WithDescription("Total scoring requests by status."),
	); err != nil {
		return nil, err
	}
	if met.Turns, err = m.Int64Counter("fluentloop.turns",
		metric.WithDescription("Total committed transcript turns by speaker."),
	); err != nil {
		return nil, err
	}
	if met.SessionsStarted, err = m.Int64Counter("fluentloop.sessions.started",
		metric.WithDescription("Total practice sessions started."),
	); err != nil {
		return nil, err
	}
	if met.QuotaRefusals, err = m.Int64Counter("fluentloop.quota.refusals",
		metric.WithDescription("Session starts refused because the daily quota was exhausted."),
	); err != nil {
		return nil, err
	}
	if met.CaptureRestarts, err = m.Int64Counter("fluentloop.capture.restarts",
		metric.WithDescription("Automatic recognition restarts after platform-initiated ends."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("fluentloop.active_sessions",
		metric.WithDescription("Number of live practice sessions."),
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

// RecordScoringRequest records a scoring request counter increment with the
// standard status attribute.
func (m *Metrics) RecordScoringRequest(ctx context.Context, status string) {
	m.ScoringRequests.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordTurn records a committed transcript turn for the given speaker.
func (m *Metrics) RecordTurn(ctx context.Context, speaker string) {
	m.Turns.Add(ctx, 1,
		metric.WithAttributes(attribute.String("speaker", speaker)),
	)
}
