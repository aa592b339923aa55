package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	verificationOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gate_verification_outcomes_total",
			Help: "Terminal outcomes of verification sessions",
		},
		[]string{"outcome", "error_kind"},
	)

	authorityCalls = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gate_authority_call_duration_seconds",
			Help:    "Duration of ticket backend calls",
			Buckets: prometheus.ExponentialBuckets(0.025, 2, 10),
		},
		[]string{"op", "result"},
	)

	activeSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gate_active_sessions",
			Help: "Verification consoles currently open",
		},
	)

	ignoredDecodes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gate_ignored_decodes_total",
			Help: "Decoded payloads dropped because a payload was already latched",
		},
	)

	manualEntries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gate_manual_entries_total",
			Help: "Operator typed identifiers",
		},
		[]string{"status"},
	)
)

// Track a terminal session outcome
func TrackOutcome(outcome, errorKind string) {
	verificationOutcomes.WithLabelValues(outcome, errorKind).Inc()
}

// Track a ticket backend call; result is empty on success.
func TrackAuthorityCall(op, result string, duration time.Duration) {
	if result == "" {
		result = "ok"
	}
	authorityCalls.WithLabelValues(op, result).Observe(duration.Seconds())
}

func SessionOpened() { activeSessions.Inc() }

func SessionClosed() { activeSessions.Dec() }

func TrackIgnoredDecode() { ignoredDecodes.Inc() }

func TrackManualEntry(status string) {
	manualEntries.WithLabelValues(status).Inc()
}
