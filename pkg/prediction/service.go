// Package prediction answers "how many vehicles at this junction at this
// time" using a trained model and the traffic-level policy.
package prediction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/HatiCode/junctioncast/pkg/congestion"
	"github.com/HatiCode/junctioncast/pkg/features"
	"github.com/HatiCode/junctioncast/pkg/models"
)

// ErrInvalidRequest is returned for requests that cannot be turned into a feature row.
var ErrInvalidRequest = errors.New("invalid prediction request")

// DateLayout is the date format accepted by ParseRequest.
const DateLayout = "2006-01-02"

var clockLayouts = []string{"15:04", "15:04:05"}

// Result is a single prediction.
type Result struct {
	Junction      int                `json:"junction"`
	At            time.Time          `json:"at"`
	Vehicles      int                `json:"vehicles"`
	Level         congestion.Level   `json:"level"`
	Banner        string             `json:"banner"`
	Color         string             `json:"color"`
	KnownJunction bool               `json:"known_junction"`
	Features      map[string]float64 `json:"features"`
}

// Observer receives a callback for each completed prediction.
type Observer interface {
	ObservePrediction(level congestion.Level, took time.Duration)
}

// Service predicts traffic volume. It is safe for concurrent use once
// constructed because the model is read-only after training.
type Service struct {
	model     models.Model
	builder   *features.Builder
	policy    congestion.Policy
	junctions []int
	logger    *slog.Logger
	observer  Observer
}

// Option configures a Service.
type Option func(*Service)

// WithObserver registers an observer for completed predictions.
func WithObserver(o Observer) Option {
	return func(s *Service) { s.observer = o }
}

// WithLogger sets the logger used for warnings.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService creates a Service. junctions lists the ids present in the
// training data.
func NewService(model models.Model, builder *features.Builder, policy congestion.Policy, junctions []int, opts ...Option) *Service {
	s := &Service{
		model:     model,
		builder:   builder,
		policy:    policy.Sanitize(),
		junctions: slices.Clone(junctions),
		logger:    slog.Default(),
	}
	slices.Sort(s.junctions)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Junctions returns the sorted junction ids seen during training.
func (s *Service) Junctions() []int {
	return slices.Clone(s.junctions)
}

// Policy returns the traffic-level thresholds in use.
func (s *Service) Policy() congestion.Policy {
	return s.policy
}

// Predict runs the model for a junction at the given time.
func (s *Service) Predict(ctx context.Context, junction int, at time.Time) (Result, error) {
	start := time.Now()

	row := s.builder.Row(junction, at)
	y, err := s.model.Predict(ctx, row)
	if err != nil {
		return Result{}, fmt.Errorf("predict junction %d: %w", junction, err)
	}

	vehicles := toCount(y)
	level := s.policy.Classify(vehicles)

	_, known := slices.BinarySearch(s.junctions, junction)
	if !known {
		s.logger.Warn("prediction for junction not present in training data",
			"junction", junction,
			"known", s.junctions,
		)
	}

	cols := s.builder.Columns()
	feats := make(map[string]float64, len(cols))
	for i, c := range cols {
		feats[c] = row[i]
	}

	if s.observer != nil {
		s.observer.ObservePrediction(level, time.Since(start))
	}

	return Result{
		Junction:      junction,
		At:            at,
		Vehicles:      vehicles,
		Level:         level,
		Banner:        level.Banner(),
		Color:         level.Color(),
		KnownJunction: known,
		Features:      feats,
	}, nil
}

// toCount truncates toward zero and clamps at zero. NaN counts as zero.
func toCount(y float64) int {
	if math.IsNaN(y) || y <= 0 {
		return 0
	}
	if y >= math.MaxInt32 {
		return math.MaxInt32
	}
	return int(y)
}

// ParseRequest parses a junction id, a YYYY-MM-DD date and an HH:MM[:SS]
// clock time into a timestamp in UTC.
func ParseRequest(junction, date, clock string) (int, time.Time, error) {
	j, err := strconv.Atoi(strings.TrimSpace(junction))
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("%w: junction %q is not an integer", ErrInvalidRequest, junction)
	}
	at, err := ParseDateTime(date, clock)
	if err != nil {
		return 0, time.Time{}, err
	}
	return j, at, nil
}

// ParseDateTime combines a YYYY-MM-DD date and an HH:MM[:SS] clock time.
func ParseDateTime(date, clock string) (time.Time, error) {
	day, err := time.Parse(DateLayout, strings.TrimSpace(date))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q must be YYYY-MM-DD", ErrInvalidRequest, date)
	}

	clock = strings.TrimSpace(clock)
	for _, layout := range clockLayouts {
		tod, err := time.Parse(layout, clock)
		if err != nil {
			continue
		}
		return time.Date(day.Year(), day.Month(), day.Day(), tod.Hour(), tod.Minute(), tod.Second(), 0, time.UTC), nil
	}
	return time.Time{}, fmt.Errorf("%w: time %q must be HH:MM", ErrInvalidRequest, clock)
}
