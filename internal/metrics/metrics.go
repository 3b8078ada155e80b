package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "argo_insight"

const (
	// OutcomeSuccess labels translations that produced a safe query.
	OutcomeSuccess = "success"
	// OutcomeNoQuery labels translations that fell back to zero confidence.
	OutcomeNoQuery = "no_query"
	// OutcomeError labels failed requests (execution or dependency issues).
	OutcomeError = "error"
	// OutcomeTimeout labels capability calls cut off by the pool deadline.
	OutcomeTimeout = "timeout"
)

var (
	translationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "translations_total",
			Help:      "Total number of natural-language translations, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	translationDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "translation_seconds",
			Help:      "End-to-end query latency in seconds (retrieve, translate, execute).",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 8, 13},
		},
	)

	capabilityCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capability_calls_total",
			Help:      "Embedding and generation calls, partitioned by capability and outcome.",
		},
		[]string{"capability", "outcome"},
	)

	measurementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "measurements_ingested_total",
			Help:      "Measurement points seen by the detector, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	anomalyEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomaly_events_total",
			Help:      "Anomaly event transitions, partitioned by type and action.",
		},
		[]string{"type", "action"},
	)
)

// Register attaches argo-insight collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		translationsTotal,
		translationDurationSeconds,
		capabilityCallsTotal,
		measurementsTotal,
		anomalyEventsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveTranslation records a query duration and outcome label.
func ObserveTranslation(duration time.Duration, outcome string) {
	switch outcome {
	case OutcomeSuccess, OutcomeNoQuery, OutcomeError:
	default:
		outcome = OutcomeError
	}
	translationsTotal.WithLabelValues(outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	translationDurationSeconds.Observe(duration.Seconds())
}

// ObserveCapabilityCall counts one embed or generate call.
func ObserveCapabilityCall(capability, outcome string) {
	capabilityCallsTotal.WithLabelValues(capability, outcome).Inc()
}

// ObserveMeasurement counts one detector outcome (absorbed, flagged, skipped, rejected).
func ObserveMeasurement(outcome string) {
	measurementsTotal.WithLabelValues(outcome).Inc()
}

// ObserveEvent counts an anomaly event transition (opened, updated, closed).
func ObserveEvent(anomalyType, action string) {
	anomalyEventsTotal.WithLabelValues(anomalyType, action).Inc()
}
