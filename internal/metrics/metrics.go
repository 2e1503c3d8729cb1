// Package metrics defines the Prometheus instruments of the watcher.
package metrics

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

// MetricsSubsystem is a subsystem shared by all metrics exposed by this
// package.
const MetricsSubsystem = "watcher"

// Metrics contains metrics exposed by the engine, feed and alert sinks.
type Metrics struct {
	// Feed events consumed, labeled by kind.
	Events metrics.Counter
	// Raw feed messages that failed to decode.
	DecodeErrors metrics.Counter
	// Events for symbols no view tracks.
	Untracked metrics.Counter
	// Trial data events skipped.
	TrialSkipped metrics.Counter
	// Events waiting in the dispatch queue.
	QueueDepth metrics.Gauge
	// Events dropped, labeled by reason.
	Dropped metrics.Counter
	// Dispatcher state as its ordinal.
	State metrics.Gauge
	// Acknowledged subscriptions.
	Subscriptions metrics.Gauge
	// Subscription requests not acknowledged in time.
	AckTimeouts metrics.Counter
	// (view, symbol) pairs that latched hit-before-threshold.
	LimitLatched metrics.Counter
	// Feed connections established.
	Connects metrics.Counter
	// Alerts delivered, labeled by sink and result.
	Alerts metrics.Counter
}

// PrometheusMetrics returns Metrics built using the Prometheus client
// library and registered with the default registry. Optionally, labels can
// be provided along with their values ("foo", "fooValue").
func PrometheusMetrics(namespace string, labelsAndValues ...string) *Metrics {
	labels := []string{}
	for i := 0; i < len(labelsAndValues); i += 2 {
		labels = append(labels, labelsAndValues[i])
	}
	return &Metrics{
		Events: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "events_total",
			Help:      "Feed events consumed, by kind.",
		}, append(labels, "kind")).With(labelsAndValues...),
		DecodeErrors: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "decode_errors_total",
			Help:      "Feed messages that failed to decode.",
		}, labels).With(labelsAndValues...),
		Untracked: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "untracked_events_total",
			Help:      "Events for symbols no view tracks.",
		}, labels).With(labelsAndValues...),
		TrialSkipped: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "trial_skipped_total",
			Help:      "Trial-match data events skipped.",
		}, labels).With(labelsAndValues...),
		QueueDepth: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "queue_depth",
			Help:      "Events waiting in the dispatch queue.",
		}, labels).With(labelsAndValues...),
		Dropped: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "dropped_total",
			Help:      "Events dropped before processing, by reason.",
		}, append(labels, "reason")).With(labelsAndValues...),
		State: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "state",
			Help:      "Dispatcher state (0 disconnected .. 4 streaming).",
		}, labels).With(labelsAndValues...),
		Subscriptions: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "subscriptions",
			Help:      "Acknowledged symbol subscriptions.",
		}, labels).With(labelsAndValues...),
		AckTimeouts: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "ack_timeouts_total",
			Help:      "Subscription requests not acknowledged in time.",
		}, labels).With(labelsAndValues...),
		LimitLatched: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "limit_latched_total",
			Help:      "Rows that hit the limit before the threshold.",
		}, labels).With(labelsAndValues...),
		Connects: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "connects_total",
			Help:      "Feed connections established.",
		}, labels).With(labelsAndValues...),
		Alerts: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "alerts_total",
			Help:      "Alerts delivered, by sink and result.",
		}, append(labels, "sink", "result")).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		Events:        discard.NewCounter(),
		DecodeErrors:  discard.NewCounter(),
		Untracked:     discard.NewCounter(),
		TrialSkipped:  discard.NewCounter(),
		QueueDepth:    discard.NewGauge(),
		Dropped:       discard.NewCounter(),
		State:         discard.NewGauge(),
		Subscriptions: discard.NewGauge(),
		AckTimeouts:   discard.NewCounter(),
		LimitLatched:  discard.NewCounter(),
		Connects:      discard.NewCounter(),
		Alerts:        discard.NewCounter(),
	}
}
