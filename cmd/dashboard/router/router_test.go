package router

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/HatiCode/junctioncast/pkg/congestion"
	"github.com/HatiCode/junctioncast/pkg/dataset"
	"github.com/HatiCode/junctioncast/pkg/features"
	"github.com/HatiCode/junctioncast/pkg/models"
	"github.com/HatiCode/junctioncast/pkg/prediction"
)

const testCSV = `DateTime,Junction,Vehicles,ID
2015-11-01 00:00:00,1,15,20151101001
2015-11-01 01:00:00,1,13,20151101011
2015-11-01 00:00:00,2,6,20151101002
2016-03-05 08:00:00,2,20,20160305082
2017-06-30 08:00:00,3,70,20170630083
`

type countingErrors struct {
	reasons []string
}

func (c *countingErrors) RecordError(component, reason string) {
	c.reasons = append(c.reasons, component+"/"+reason)
}

func setup(t *testing.T) (*http.ServeMux, *countingErrors) {
	t.Helper()
	deps, errs := testDeps(t)
	return SetupRoutes(deps, slog.New(slog.NewTextHandler(io.Discard, nil))), errs
}

func testDeps(t *testing.T) (Deps, *countingErrors) {
	t.Helper()

	table, err := dataset.Load(strings.NewReader(testCSV), "test.csv")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	builder := features.NewBuilder()
	frame, err := builder.BuildFeatures(table)
	if err != nil {
		t.Fatalf("BuildFeatures() error = %v", err)
	}
	model := models.NewBaselineModel(features.BaselineKeys...)
	if err := model.Train(context.Background(), frame); err != nil {
		t.Fatalf("Train() error = %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := prediction.NewService(model, builder, congestion.DefaultPolicy(), table.Junctions(), prediction.WithLogger(logger))
	errs := &countingErrors{}
	r2 := 0.5

	deps := Deps{
		Predictor: svc,
		Table:     table,
		Model: ModelInfo{
			Name:        model.Name(),
			Source:      "trained",
			Fingerprint: table.Fingerprint,
			Columns:     builder.Columns(),
			TrainR2:     &r2,
		},
		TrendWindow: 3,
		Errors:      errs,
	}
	return deps, errs
}

func do(t *testing.T, mux *http.ServeMux, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to unmarshal %q: %v", w.Body.String(), err)
	}
	return v
}

func TestHealthEndpoint(t *testing.T) {
	mux, _ := setup(t)

	w := do(t, mux, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusOK)
	}
	if body := w.Body.String(); body != "OK" {
		t.Errorf("body = %q, want %q", body, "OK")
	}
}

func TestReadyEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		ready    func() error
		wantCode int
		wantBody string
	}{
		{name: "no check", wantCode: http.StatusOK, wantBody: "OK"},
		{name: "ready", ready: func() error { return nil }, wantCode: http.StatusOK, wantBody: "OK"},
		{
			name:     "cache down",
			ready:    func() error { return errors.New("model cache redis: connection refused") },
			wantCode: http.StatusServiceUnavailable,
			wantBody: `{"error":"model cache redis: connection refused"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps, _ := testDeps(t)
			deps.Ready = tt.ready
			mux := SetupRoutes(deps, slog.New(slog.NewTextHandler(io.Discard, nil)))

			w := do(t, mux, http.MethodGet, "/readyz", "")
			if w.Code != tt.wantCode {
				t.Errorf("status code = %d, want %d", w.Code, tt.wantCode)
			}
			if body := strings.TrimSpace(w.Body.String()); body != tt.wantBody {
				t.Errorf("body = %q, want %q", body, tt.wantBody)
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	mux, _ := setup(t)

	w := do(t, mux, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusOK)
	}
	if w.Header().Get("Content-Type") == "" {
		t.Error("Content-Type header should be set for metrics endpoint")
	}
}

func TestJunctionsEndpoint(t *testing.T) {
	mux, _ := setup(t)

	w := do(t, mux, http.MethodGet, "/api/junctions", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d", w.Code, http.StatusOK)
	}
	got := decode[junctionsResponse](t, w)
	if len(got.Junctions) != 3 || got.Junctions[0] != 1 || got.Junctions[2] != 3 {
		t.Errorf("junctions = %v, want [1 2 3]", got.Junctions)
	}
}

func TestPredictEndpoint_Query(t *testing.T) {
	mux, _ := setup(t)

	// 2017-06-30 is a Friday, the same weekday and hour as the junction 3 record.
	w := do(t, mux, http.MethodGet, "/api/predict?junction=3&date=2017-06-30&time=08:00", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}

	got := decode[prediction.Result](t, w)
	if got.Vehicles != 70 {
		t.Errorf("Vehicles = %d, want 70", got.Vehicles)
	}
	if got.Level != congestion.High || got.Banner != "Heavy Traffic" || got.Color != "red" {
		t.Errorf("level = %v/%q/%q, want High/Heavy Traffic/red", got.Level, got.Banner, got.Color)
	}
	if !got.KnownJunction {
		t.Error("expected known junction")
	}
}

func TestPredictEndpoint_Body(t *testing.T) {
	mux, _ := setup(t)

	w := do(t, mux, http.MethodPost, "/api/predict", `{"junction": 9, "date": "2017-07-01", "time": "10:30"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}
	got := decode[prediction.Result](t, w)
	if got.KnownJunction {
		t.Error("expected junction 9 to be reported unknown")
	}
	if got.Vehicles < 0 {
		t.Errorf("Vehicles = %d, want >= 0", got.Vehicles)
	}
}

func TestPredictEndpoint_BadRequests(t *testing.T) {
	tests := []struct {
		name   string
		method string
		target string
		body   string
	}{
		{"missing params", http.MethodGet, "/api/predict", ""},
		{"bad junction", http.MethodGet, "/api/predict?junction=x&date=2017-06-30&time=08:00", ""},
		{"bad date", http.MethodGet, "/api/predict?junction=1&date=30-06-2017&time=08:00", ""},
		{"bad time", http.MethodGet, "/api/predict?junction=1&date=2017-06-30&time=8am", ""},
		{"malformed body", http.MethodPost, "/api/predict", `{"junction":`},
		{"unknown field", http.MethodPost, "/api/predict", `{"junction": 1, "lane": 2}`},
		{"bad body date", http.MethodPost, "/api/predict", `{"junction": 1, "date": "soon", "time": "08:00"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux, errs := setup(t)
			w := do(t, mux, tt.method, tt.target, tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status code = %d, want %d", w.Code, http.StatusBadRequest)
			}
			if got := decode[map[string]string](t, w); got["error"] == "" {
				t.Error("expected error message in body")
			}
			if len(errs.reasons) != 1 || errs.reasons[0] != "http/invalid_request" {
				t.Errorf("recorded errors = %v, want [http/invalid_request]", errs.reasons)
			}
		})
	}
}

func TestPredictEndpoint_MethodNotAllowed(t *testing.T) {
	mux, _ := setup(t)

	w := do(t, mux, http.MethodDelete, "/api/predict", "")
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
}

func TestTrendEndpoint(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		wantStatus int
		wantPoints int
		wantLimit  int
	}{
		{"default window", "/api/trend", http.StatusOK, 3, 3},
		{"explicit limit", "/api/trend?limit=10", http.StatusOK, 5, 10},
		{"one junction", "/api/trend?junction=2", http.StatusOK, 2, 3},
		{"all junctions", "/api/trend?junction=all&limit=1", http.StatusOK, 1, 1},
		{"bad limit", "/api/trend?limit=0", http.StatusBadRequest, 0, 0},
		{"bad junction", "/api/trend?junction=north", http.StatusBadRequest, 0, 0},
		{"unknown junction", "/api/trend?junction=7", http.StatusNotFound, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux, _ := setup(t)
			w := do(t, mux, http.MethodGet, tt.target, "")
			if w.Code != tt.wantStatus {
				t.Fatalf("status code = %d, want %d: %s", w.Code, tt.wantStatus, w.Body.String())
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			got := decode[trendResponse](t, w)
			if len(got.Points) != tt.wantPoints {
				t.Errorf("len(points) = %d, want %d", len(got.Points), tt.wantPoints)
			}
			if got.Limit != tt.wantLimit {
				t.Errorf("limit = %d, want %d", got.Limit, tt.wantLimit)
			}
		})
	}
}

func TestAnalyticsEndpoints(t *testing.T) {
	mux, _ := setup(t)

	w := do(t, mux, http.MethodGet, "/api/analytics/monthly", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d", w.Code, http.StatusOK)
	}
	monthly := decode[seriesResponse](t, w)
	if monthly.Period != "month" {
		t.Errorf("period = %q, want %q", monthly.Period, "month")
	}
	var total int64
	for _, p := range monthly.Points {
		total += p.Vehicles
	}
	if total != 124 {
		t.Errorf("sum of monthly vehicles = %d, want 124", total)
	}

	w = do(t, mux, http.MethodGet, "/api/analytics/yearly?junction=1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d", w.Code, http.StatusOK)
	}
	yearly := decode[seriesResponse](t, w)
	if len(yearly.Points) != 1 || yearly.Points[0].Key != 2015 || yearly.Points[0].Vehicles != 28 {
		t.Errorf("yearly points = %+v, want one 2015 bucket with 28 vehicles", yearly.Points)
	}

	w = do(t, mux, http.MethodGet, "/api/analytics/yearly?junction=8", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestModelEndpoint(t *testing.T) {
	mux, _ := setup(t)

	w := do(t, mux, http.MethodGet, "/api/model", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d", w.Code, http.StatusOK)
	}
	got := decode[map[string]any](t, w)
	if got["name"] != "baseline" {
		t.Errorf("name = %v, want baseline", got["name"])
	}
	if got["source"] != "trained" {
		t.Errorf("source = %v, want trained", got["source"])
	}
	if got["train_r2"] != 0.5 {
		t.Errorf("train_r2 = %v, want 0.5", got["train_r2"])
	}
	if _, ok := got["train_mae"]; ok {
		t.Error("train_mae should be omitted when unset")
	}
}
