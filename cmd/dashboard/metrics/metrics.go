// Package metrics provides Prometheus instrumentation for the dashboard.
//
// Metrics exposed, each carrying a const "dataset" label:
//   - junctioncast_dataset_records: Gauge of records loaded from the CSV
//   - junctioncast_model_train_seconds: Histogram of model fitting time
//   - junctioncast_model_load_total: Counter of model loads by source (cache, trained)
//   - junctioncast_model_train_r2: Gauge of in-sample R² after training
//   - junctioncast_predict_seconds: Histogram of single-prediction latency
//   - junctioncast_predictions_total: Counter of predictions by traffic level
//   - junctioncast_errors_total: Counter of errors by component and reason
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/HatiCode/junctioncast/pkg/congestion"
)

type Metrics struct {
	DatasetRecords    prometheus.Gauge
	ModelTrainSeconds prometheus.Histogram
	ModelLoadTotal    *prometheus.CounterVec
	ModelTrainR2      prometheus.Gauge
	PredictSeconds    prometheus.Histogram
	PredictionsTotal  *prometheus.CounterVec
	ErrorsTotal       *prometheus.CounterVec
}

// New registers the dashboard metrics with the default registry.
func New(dataset string) *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer, dataset)
}

// NewWithRegistry registers the dashboard metrics with reg.
func NewWithRegistry(reg prometheus.Registerer, dataset string) *Metrics {
	factory := promauto.With(reg)
	labels := prometheus.Labels{"dataset": dataset}

	return &Metrics{
		DatasetRecords: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "junctioncast_dataset_records",
			Help:        "Number of traffic records loaded from the dataset",
			ConstLabels: labels,
		}),

		ModelTrainSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:        "junctioncast_model_train_seconds",
			Help:        "Time spent fitting the traffic model",
			ConstLabels: labels,
			Buckets:     []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		}),

		ModelLoadTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "junctioncast_model_load_total",
			Help:        "Total model loads by source",
			ConstLabels: labels,
		}, []string{"source"}),

		ModelTrainR2: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "junctioncast_model_train_r2",
			Help:        "In-sample coefficient of determination of the last trained model",
			ConstLabels: labels,
		}),

		PredictSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:        "junctioncast_predict_seconds",
			Help:        "Time spent producing a single prediction",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),

		PredictionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "junctioncast_predictions_total",
			Help:        "Total predictions by traffic level",
			ConstLabels: labels,
		}, []string{"level"}),

		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "junctioncast_errors_total",
			Help:        "Total number of errors by component and reason",
			ConstLabels: labels,
		}, []string{"component", "reason"}),
	}
}

func (m *Metrics) SetDatasetRecords(n int) {
	m.DatasetRecords.Set(float64(n))
}

func (m *Metrics) ObserveTrain(d time.Duration) {
	m.ModelTrainSeconds.Observe(d.Seconds())
}

func (m *Metrics) RecordModelLoad(source string) {
	m.ModelLoadTotal.WithLabelValues(source).Inc()
}

func (m *Metrics) SetTrainR2(r2 float64) {
	m.ModelTrainR2.Set(r2)
}

// ObservePrediction implements prediction.Observer.
func (m *Metrics) ObservePrediction(level congestion.Level, took time.Duration) {
	m.PredictSeconds.Observe(took.Seconds())
	m.PredictionsTotal.WithLabelValues(level.String()).Inc()
}

func (m *Metrics) RecordError(component, reason string) {
	m.ErrorsTotal.WithLabelValues(component, reason).Inc()
}
