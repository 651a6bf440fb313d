// Package metrics exposes the Prometheus collectors for Threadnote.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "threadnote"

var (
	// HTTP requests by route pattern
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"method", "route"},
	)

	ThreadsCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "threads",
			Name:      "created_total",
			Help:      "Total threads created",
		},
	)

	NotesCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notes",
			Name:      "created_total",
			Help:      "Total user notes created",
		},
		[]string{"type"},
	)

	// Enrichment runs by outcome (success, failed, skipped)
	EnrichmentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "enrichment",
			Name:      "runs_total",
			Help:      "Total enrichment runs",
		},
		[]string{"outcome"},
	)

	EnrichmentDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "enrichment",
			Name:      "duration_seconds",
			Help:      "Enrichment duration in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30},
		},
	)

	// Transcriptions by mode (batch, stream) and outcome
	TranscriptionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transcription",
			Name:      "requests_total",
			Help:      "Total transcription requests",
		},
		[]string{"mode", "outcome"},
	)

	LiveSubscriptions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "live",
			Name:      "subscriptions",
			Help:      "Active live subscriptions",
		},
		[]string{"kind"},
	)
)

// Handler returns the Prometheus metrics handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records an HTTP request
func RecordRequest(method, route, status string, durationSec float64) {
	RequestsTotal.WithLabelValues(method, route, status).Inc()
	RequestDuration.WithLabelValues(method, route).Observe(durationSec)
}

// RecordThreadCreated records a new thread
func RecordThreadCreated() {
	ThreadsCreatedTotal.Inc()
}

// RecordNoteCreated records a user note of the given type
func RecordNoteCreated(noteType string) {
	NotesCreatedTotal.WithLabelValues(noteType).Inc()
}

// RecordEnrichment records an enrichment run
func RecordEnrichment(outcome string, durationSec float64) {
	EnrichmentTotal.WithLabelValues(outcome).Inc()
	if outcome != "skipped" {
		EnrichmentDuration.Observe(durationSec)
	}
}

// RecordTranscription records a transcription attempt
func RecordTranscription(mode, outcome string) {
	TranscriptionsTotal.WithLabelValues(mode, outcome).Inc()
}
