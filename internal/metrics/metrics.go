package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mirador_adapt"

const (
	// OutcomeProcessed labels samples that produced a decision.
	OutcomeProcessed = "processed"
	// OutcomeSkipped labels samples dropped because of a per-sample error.
	OutcomeSkipped = "skipped"

	// OutcomeSuccess and OutcomeError label model trainings.
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

var (
	samplesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_total",
			Help:      "Samples handled by the pipeline, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	sampleDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sample_processing_seconds",
			Help:      "Time spent extracting, scoring and deciding one sample.",
			Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		},
	)

	anomalyProbability = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "anomaly_probability",
			Help:      "Anomaly probability of the most recent sample.",
		},
	)

	decisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Decisions emitted, by action and severity.",
		},
		[]string{"action", "severity"},
	)

	executorActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executor_actions_total",
			Help:      "Recovery actions forwarded to the executor, by action and status.",
		},
		[]string{"action", "status"},
	)

	exportDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "export_dropped_total",
			Help:      "Export records dropped because a sink queue was full or failed.",
		},
		[]string{"sink"},
	)

	modelTrainingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_trainings_total",
			Help:      "Anomaly model trainings, by outcome.",
		},
		[]string{"outcome"},
	)

	severityBias = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "severity_bias",
			Help:      "Current adaptive shift applied to the severity cutoffs.",
		},
	)
)

// Register attaches mirador-adapt collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		samplesTotal,
		sampleDurationSeconds,
		anomalyProbability,
		decisionsTotal,
		executorActionsTotal,
		exportDroppedTotal,
		modelTrainingsTotal,
		severityBias,
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

// ObserveSample records one processed or skipped sample.
func ObserveSample(duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeSkipped {
		label = OutcomeProcessed
	}
	samplesTotal.WithLabelValues(label).Inc()
	if duration < 0 {
		duration = 0
	}
	sampleDurationSeconds.Observe(duration.Seconds())
}

// ObserveDecision records a decision and the probability that produced it.
func ObserveDecision(action, severity string, probability float64) {
	decisionsTotal.WithLabelValues(action, severity).Inc()
	anomalyProbability.Set(probability)
}

// ObserveExecution records an executor outcome.
func ObserveExecution(action, status string) {
	executorActionsTotal.WithLabelValues(action, status).Inc()
}

// ObserveExportDrop records a record a sink could not accept.
func ObserveExportDrop(sink string) {
	exportDroppedTotal.WithLabelValues(sink).Inc()
}

// ObserveTraining records a model training attempt.
func ObserveTraining(err error) {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeError
	}
	modelTrainingsTotal.WithLabelValues(outcome).Inc()
}

// SetSeverityBias publishes the adaptive cutoff shift.
func SetSeverityBias(bias float64) {
	severityBias.Set(bias)
}
