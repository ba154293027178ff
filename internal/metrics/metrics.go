package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Run metrics
var (
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailsort_runs_total",
			Help: "Total number of sorting runs by result",
		},
		[]string{"result"},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mailsort_run_duration_seconds",
			Help:    "Duration of sorting runs in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)

	DriftRebuildsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailsort_drift_rebuilds_total",
			Help: "Total number of folder tree rebuilds by drift reason",
		},
		[]string{"reason"},
	)
)

// Classification metrics
var (
	MessagesScannedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mailsort_messages_scanned_total",
			Help: "Total number of candidate messages evaluated",
		},
	)

	CopiesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailsort_copies_total",
			Help: "Total number of copy attempts into taxonomy folders by result",
		},
		[]string{"result"},
	)

	UnclassifiedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mailsort_unclassified_total",
			Help: "Total number of messages placed in the unclassified folder",
		},
	)

	RelocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailsort_relocations_total",
			Help: "Total number of relocation requests by result",
		},
		[]string{"result"},
	)
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
