package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	predictions *prometheus.CounterVec
	risks       *prometheus.CounterVec
	backfills   *prometheus.CounterVec
	errorsTotal *prometheus.CounterVec
	latency     *prometheus.HistogramVec
}

// New registers the recorder on the default registry.
func New() *Recorder {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers the recorder on reg. Tests pass a fresh prometheus.NewRegistry().
func NewWithRegisterer(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		predictions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storyrisk_predictions_total",
				Help: "Predictor calls by mode and result",
			},
			[]string{"mode", "result"},
		),
		risks: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storyrisk_risk_assessments_total",
				Help: "Risk assessments written, by level",
			},
			[]string{"level"},
		),
		backfills: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storyrisk_backfill_writes_total",
				Help: "Backfill writes by result (ok, conflict, error)",
			},
			[]string{"result"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storyrisk_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "storyrisk_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"operation"},
		),
	}
}

// RecordPrediction counts a predictor call.
func (r *Recorder) RecordPrediction(mode, result string) {
	r.predictions.WithLabelValues(mode, result).Inc()
}

// RecordRisk counts an assessment at level.
func (r *Recorder) RecordRisk(level string) {
	r.risks.WithLabelValues(level).Inc()
}

// RecordBackfill counts a backfill write outcome.
func (r *Recorder) RecordBackfill(result string) {
	r.backfills.WithLabelValues(result).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// Noop discards every observation.
type Noop struct{}

func (Noop) RecordPrediction(string, string) {}
func (Noop) RecordRisk(string)               {}
func (Noop) RecordBackfill(string)           {}
func (Noop) RecordError(string)              {}
func (Noop) RecordLatency(string, float64)   {}
