package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "relayhub"
)

// Metrics holds all the OpenTelemetry metric instruments. Without an SDK
// meter provider installed every instrument is a no-op.
type Metrics struct {
	// Session metrics
	SessionsCreatedTotal metric.Int64Counter
	SessionsClosedTotal  metric.Int64Counter

	// Relay metrics
	EventsRoutedTotal        metric.Int64Counter
	ActiveConnections        metric.Int64UpDownCounter
	ControllerEvictionsTotal metric.Int64Counter
	JoinAttemptsRejected     metric.Int64Counter

	// Challenge metrics
	ChallengesCreatedTotal metric.Int64Counter
	AttemptsRecordedTotal  metric.Int64Counter

	// Persistence metrics
	PersistFlushesTotal metric.Int64Counter
	PersistErrorsTotal  metric.Int64Counter

	// Upstream metrics
	UpstreamErrorsTotal metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	m.SessionsCreatedTotal, _ = meter.Int64Counter(
		"relayhub.sessions.created.total",
		metric.WithDescription("Total number of sessions created"),
		metric.WithUnit("{session}"),
	)

	m.SessionsClosedTotal, _ = meter.Int64Counter(
		"relayhub.sessions.closed.total",
		metric.WithDescription("Total number of sessions closed, by reason"),
		metric.WithUnit("{session}"),
	)

	m.EventsRoutedTotal, _ = meter.Int64Counter(
		"relayhub.events.routed.total",
		metric.WithDescription("Total number of envelopes sequenced and routed, by source"),
		metric.WithUnit("{event}"),
	)

	m.ActiveConnections, _ = meter.Int64UpDownCounter(
		"relayhub.connections.active",
		metric.WithDescription("Number of live websocket connections"),
		metric.WithUnit("{connection}"),
	)

	m.ControllerEvictionsTotal, _ = meter.Int64Counter(
		"relayhub.connections.evicted.total",
		metric.WithDescription("Controller connections replaced by a newer controller"),
		metric.WithUnit("{connection}"),
	)

	m.JoinAttemptsRejected, _ = meter.Int64Counter(
		"relayhub.join.rejected.total",
		metric.WithDescription("Room-code join attempts rejected by the rate limiter"),
		metric.WithUnit("{attempt}"),
	)

	m.ChallengesCreatedTotal, _ = meter.Int64Counter(
		"relayhub.challenges.created.total",
		metric.WithDescription("Total number of challenges created"),
		metric.WithUnit("{challenge}"),
	)

	m.AttemptsRecordedTotal, _ = meter.Int64Counter(
		"relayhub.challenges.attempts.total",
		metric.WithDescription("Total number of challenge attempts scored"),
		metric.WithUnit("{attempt}"),
	)

	m.PersistFlushesTotal, _ = meter.Int64Counter(
		"relayhub.persist.flushes.total",
		metric.WithDescription("Snapshot flushes written"),
		metric.WithUnit("{flush}"),
	)

	m.PersistErrorsTotal, _ = meter.Int64Counter(
		"relayhub.persist.errors.total",
		metric.WithDescription("Snapshot flushes that failed"),
		metric.WithUnit("{error}"),
	)

	m.UpstreamErrorsTotal, _ = meter.Int64Counter(
		"relayhub.upstream.errors.total",
		metric.WithDescription("Failed calls to trivia or audio providers, by provider"),
		metric.WithUnit("{error}"),
	)

	return m
}

// Inc adds one to counter with an optional single string attribute.
func Inc(counter metric.Int64Counter, key, value string) {
	if counter == nil {
		return
	}
	if key == "" {
		counter.Add(context.Background(), 1)
		return
	}
	counter.Add(context.Background(), 1, metric.WithAttributes(attribute.String(key, value)))
}
