package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/HatiCode/junctioncast/pkg/congestion"
	"github.com/HatiCode/junctioncast/pkg/prediction"
)

var _ prediction.Observer = (*Metrics)(nil)

func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewWithRegistry(reg, "traffic.csv"), reg
}

func TestNew(t *testing.T) {
	m, _ := newTestMetrics(t)

	if m.DatasetRecords == nil {
		t.Error("DatasetRecords should not be nil")
	}
	if m.ModelTrainSeconds == nil {
		t.Error("ModelTrainSeconds should not be nil")
	}
	if m.ModelLoadTotal == nil {
		t.Error("ModelLoadTotal should not be nil")
	}
	if m.ModelTrainR2 == nil {
		t.Error("ModelTrainR2 should not be nil")
	}
	if m.PredictSeconds == nil {
		t.Error("PredictSeconds should not be nil")
	}
	if m.PredictionsTotal == nil {
		t.Error("PredictionsTotal should not be nil")
	}
	if m.ErrorsTotal == nil {
		t.Error("ErrorsTotal should not be nil")
	}
}

func TestSetDatasetRecords(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.SetDatasetRecords(48120)

	if got := testutil.ToFloat64(m.DatasetRecords); got != 48120 {
		t.Errorf("DatasetRecords = %v, want 48120", got)
	}
}

func TestRecordModelLoad(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordModelLoad("trained")
	m.RecordModelLoad("cache")
	m.RecordModelLoad("cache")

	if got := testutil.ToFloat64(m.ModelLoadTotal.WithLabelValues("cache")); got != 2 {
		t.Errorf("cache loads = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ModelLoadTotal.WithLabelValues("trained")); got != 1 {
		t.Errorf("trained loads = %v, want 1", got)
	}
}

func TestObserveTrain(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.ObserveTrain(3 * time.Second)
	m.SetTrainR2(0.91)

	if count := testutil.CollectAndCount(m.ModelTrainSeconds); count != 1 {
		t.Errorf("expected 1 histogram, got %d", count)
	}
	if got := testutil.ToFloat64(m.ModelTrainR2); got != 0.91 {
		t.Errorf("ModelTrainR2 = %v, want 0.91", got)
	}
}

func TestObservePrediction(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.ObservePrediction(congestion.Low, time.Millisecond)
	m.ObservePrediction(congestion.High, 2*time.Millisecond)
	m.ObservePrediction(congestion.High, time.Millisecond)

	if got := testutil.ToFloat64(m.PredictionsTotal.WithLabelValues("High")); got != 2 {
		t.Errorf("High predictions = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.PredictionsTotal.WithLabelValues("Low")); got != 1 {
		t.Errorf("Low predictions = %v, want 1", got)
	}
	if count := testutil.CollectAndCount(m.PredictSeconds); count != 1 {
		t.Errorf("expected 1 histogram, got %d", count)
	}
}

func TestRecordError(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordError("http", "invalid_request")
	m.RecordError("http", "invalid_request")
	m.RecordError("model", "predict")

	if got := testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("http", "invalid_request")); got != 2 {
		t.Errorf("http errors = %v, want 2", got)
	}
	if count := testutil.CollectAndCount(m.ErrorsTotal); count != 2 {
		t.Errorf("expected 2 label sets, got %d", count)
	}
}

func TestConstLabels(t *testing.T) {
	m, reg := newTestMetrics(t)
	m.SetDatasetRecords(10)

	expected := `
# HELP junctioncast_dataset_records Number of traffic records loaded from the dataset
# TYPE junctioncast_dataset_records gauge
junctioncast_dataset_records{dataset="traffic.csv"} 10
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "junctioncast_dataset_records"); err != nil {
		t.Errorf("unexpected metric output: %v", err)
	}
}

func TestNew_DefaultRegistry(t *testing.T) {
	m := New("default.csv")
	m.SetDatasetRecords(1)
	if got := testutil.ToFloat64(m.DatasetRecords); got != 1 {
		t.Errorf("DatasetRecords = %v, want 1", got)
	}
}
