package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Probe and scan result labels
const (
	ResultReceipt    = "receipt"
	ResultNotReceipt = "not_receipt"
	ResultUnreadable = "unreadable"
	ResultModelError = "model_error"
	ResultParsed     = "parsed"
	ResultEmpty      = "empty"
)

var (
	once sync.Once

	// ProbesTotal counts batch image probes by outcome.
	ProbesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "expiry_tracker",
		Subsystem: "scanner",
		Name:      "probes_total",
		Help:      "Total number of images probed for receipts, labeled by result.",
	}, []string{"result"})

	// ProbeDurationSeconds is the time spent on one image, including the model call.
	ProbeDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "expiry_tracker",
		Subsystem: "scanner",
		Name:      "probe_duration_seconds",
		Help:      "Time to probe a single image.",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 60, 120, 300},
	})

	// ScansTotal counts receipt item scans by outcome.
	ScansTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "expiry_tracker",
		Subsystem: "scanner",
		Name:      "receipt_scans_total",
		Help:      "Total number of receipt item extractions, labeled by result.",
	}, []string{"result"})

	// InFlight is the number of model calls currently running.
	InFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "expiry_tracker",
		Subsystem: "scanner",
		Name:      "model_calls_in_flight",
		Help:      "Current number of in-flight vision model calls.",
	})
)

// Register registers all collectors with the default registry. Safe to call more than once.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			ProbesTotal,
			ProbeDurationSeconds,
			ScansTotal,
			InFlight,
		)
	})
}
