// Package router configures the dashboard's HTTP API.
//
// Routes configured:
//   - GET /healthz - Health check endpoint (returns 200 OK)
//   - GET /readyz - Readiness check (503 while the model cache is unreachable)
//   - GET /metrics - Prometheus metrics endpoint
//   - GET /api/junctions - Junction ids for selectors
//   - GET /api/predict?junction=&date=&time= - Predict one hour
//   - POST /api/predict - Same, with a JSON body
//   - GET /api/trend?limit=&junction= - Leading records for the trend chart
//   - GET /api/analytics/monthly?junction= - Vehicles by calendar month
//   - GET /api/analytics/yearly?junction= - Vehicles by year
//   - GET /api/model - Metadata about the serving model
//
// The junction filter on trend and analytics accepts a junction id, "all" or
// nothing; unknown junctions answer 404.
package router

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/HatiCode/junctioncast/pkg/dataset"
	"github.com/HatiCode/junctioncast/pkg/httpx"
	"github.com/HatiCode/junctioncast/pkg/prediction"
)

// ErrorRecorder counts handler failures.
type ErrorRecorder interface {
	RecordError(component, reason string)
}

// ModelInfo is the body of GET /api/model.
type ModelInfo struct {
	Name            string    `json:"name"`
	Source          string    `json:"source"`
	TrainedAt       time.Time `json:"trained_at"`
	Fingerprint     string    `json:"fingerprint"`
	DataFingerprint string    `json:"data_fingerprint"`
	Stale           bool      `json:"stale"`
	Columns         []string  `json:"columns"`
	TrainR2         *float64  `json:"train_r2,omitempty"`
	TrainMAE        *float64  `json:"train_mae,omitempty"`
	Trees           int       `json:"trees,omitempty"`
	Leaves          int       `json:"leaves,omitempty"`
}

// Deps is everything the handlers read. All of it is immutable once the
// dashboard has bootstrapped.
type Deps struct {
	Predictor   *prediction.Service
	Table       *dataset.Table
	Model       ModelInfo
	TrendWindow int
	Errors      ErrorRecorder
	// Ready backs /readyz. A nil Ready always reports ready.
	Ready func() error
}

type predictRequest struct {
	Junction int    `json:"junction"`
	Date     string `json:"date"`
	Time     string `json:"time"`
}

type junctionsResponse struct {
	Junctions []int `json:"junctions"`
}

type trendPoint struct {
	DateTime time.Time `json:"date_time"`
	Junction int       `json:"junction"`
	Vehicles int       `json:"vehicles"`
}

type trendResponse struct {
	Junction int          `json:"junction"`
	Limit    int          `json:"limit"`
	Points   []trendPoint `json:"points"`
}

type seriesResponse struct {
	Junction int             `json:"junction"`
	Period   string          `json:"period"`
	Points   []dataset.Point `json:"points"`
}

// SetupRoutes configures HTTP endpoints for the dashboard.
func SetupRoutes(deps Deps, logger *slog.Logger) *http.ServeMux {
	if logger == nil {
		logger = slog.Default()
	}
	h := &handlers{deps: deps, logger: logger}

	mux := http.NewServeMux()

	ready := deps.Ready
	if ready == nil {
		ready = func() error { return nil }
	}

	mux.Handle("/healthz", httpx.HealthHandler())
	mux.Handle("GET /readyz", httpx.HealthHandlerWithCheck(ready))
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("GET /api/junctions", h.junctions)
	mux.HandleFunc("GET /api/predict", h.predictQuery)
	mux.HandleFunc("POST /api/predict", h.predictBody)
	mux.HandleFunc("GET /api/trend", h.trend)
	mux.HandleFunc("GET /api/analytics/monthly", h.series("month", (*dataset.Table).Monthly))
	mux.HandleFunc("GET /api/analytics/yearly", h.series("year", (*dataset.Table).Yearly))
	mux.HandleFunc("GET /api/model", h.model)

	return mux
}

type handlers struct {
	deps   Deps
	logger *slog.Logger
}

func (h *handlers) recordError(reason string) {
	if h.deps.Errors != nil {
		h.deps.Errors.RecordError("http", reason)
	}
}

func (h *handlers) junctions(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, junctionsResponse{Junctions: h.deps.Predictor.Junctions()})
}

func (h *handlers) predictQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	junction, at, err := prediction.ParseRequest(q.Get("junction"), q.Get("date"), q.Get("time"))
	if err != nil {
		h.recordError("invalid_request")
		httpx.WriteError(w, http.StatusBadRequest, err)
		return
	}
	h.predict(w, r, junction, at)
}

func (h *handlers) predictBody(w http.ResponseWriter, r *http.Request) {
	var req predictRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.recordError("invalid_request")
		httpx.WriteError(w, http.StatusBadRequest, err)
		return
	}
	at, err := prediction.ParseDateTime(req.Date, req.Time)
	if err != nil {
		h.recordError("invalid_request")
		httpx.WriteError(w, http.StatusBadRequest, err)
		return
	}
	h.predict(w, r, req.Junction, at)
}

func (h *handlers) predict(w http.ResponseWriter, r *http.Request, junction int, at time.Time) {
	result, err := h.deps.Predictor.Predict(r.Context(), junction, at)
	if err != nil {
		h.recordError("predict")
		h.logger.Error("prediction failed", "junction", junction, "at", at, "error", err)
		httpx.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, result)
}

func (h *handlers) trend(w http.ResponseWriter, r *http.Request) {
	junction, ok := h.junctionFilter(w, r)
	if !ok {
		return
	}

	limit := h.deps.TrendWindow
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.recordError("invalid_request")
			httpx.WriteErrorMessage(w, http.StatusBadRequest, fmt.Sprintf("limit %q must be a positive integer", raw))
			return
		}
		limit = n
	}

	records := h.deps.Table.Head(limit, junction)
	points := make([]trendPoint, len(records))
	for i, rec := range records {
		points[i] = trendPoint{DateTime: rec.DateTime, Junction: rec.Junction, Vehicles: rec.Vehicles}
	}

	httpx.WriteJSON(w, http.StatusOK, trendResponse{Junction: junction, Limit: limit, Points: points})
}

func (h *handlers) series(period string, group func(*dataset.Table, int) []dataset.Point) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		junction, ok := h.junctionFilter(w, r)
		if !ok {
			return
		}
		httpx.WriteJSON(w, http.StatusOK, seriesResponse{
			Junction: junction,
			Period:   period,
			Points:   group(h.deps.Table, junction),
		})
	}
}

func (h *handlers) model(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, h.deps.Model)
}

var errUnknownJunction = errors.New("unknown junction")

// junctionFilter parses ?junction= and writes the error reply itself.
func (h *handlers) junctionFilter(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("junction")
	if raw == "" || raw == "all" {
		return dataset.AllJunctions, true
	}

	junction, err := strconv.Atoi(raw)
	if err != nil || junction == dataset.AllJunctions {
		h.recordError("invalid_request")
		httpx.WriteErrorMessage(w, http.StatusBadRequest, fmt.Sprintf("junction %q must be a junction id or \"all\"", raw))
		return 0, false
	}
	if !h.deps.Table.HasJunction(junction) {
		h.recordError("unknown_junction")
		httpx.WriteError(w, http.StatusNotFound, fmt.Errorf("%w: %d", errUnknownJunction, junction))
		return 0, false
	}
	return junction, true
}
