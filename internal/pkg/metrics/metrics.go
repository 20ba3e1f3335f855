package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Page loads by result: ok, error, skipped, stale.
	LoadTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_load_total",
			Help: "Notification page loads by result",
		},
		[]string{"result"},
	)

	LoadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "notify_load_duration_seconds",
			Help:    "Remote notification page fetch duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		},
	)

	// Optimistic mutations by kind (mark_read, mark_all_read, delete) and
	// final phase (confirmed, rolled_back, skipped).
	MutationTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_mutations_total",
			Help: "Optimistic notification mutations by kind and final phase",
		},
		[]string{"kind", "phase"},
	)

	// Push events by op and result (applied, ignored, foreign).
	StreamEventTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_stream_events_total",
			Help: "Push stream events received by op and result",
		},
		[]string{"op", "result"},
	)

	AlertsEmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_alerts_emitted_total",
			Help: "Ephemeral alerts emitted by kind",
		},
		[]string{"kind"},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notify_active_sessions",
			Help: "Principals with an initialized notification session",
		},
	)
)

// RecordLoad records the outcome of one Load call.
func RecordLoad(result string, duration time.Duration) {
	LoadTotal.WithLabelValues(result).Inc()
	if duration > 0 {
		LoadDuration.Observe(duration.Seconds())
	}
}

// RecordMutation records a finished optimistic mutation.
func RecordMutation(kind, phase string) {
	MutationTotal.WithLabelValues(kind, phase).Inc()
}

// RecordStreamEvent records a push event.
func RecordStreamEvent(op, result string) {
	StreamEventTotal.WithLabelValues(op, result).Inc()
}

// RecordAlert records an emitted alert.
func RecordAlert(kind string) {
	AlertsEmittedTotal.WithLabelValues(kind).Inc()
}
