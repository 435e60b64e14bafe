// Package models provides the regressors that map calendar feature rows to a
// predicted vehicle count.
package models

import (
	"context"
	"errors"
	"fmt"

	"gonum.org/v1/gonum/stat"
)

var (
	// ErrNotTrained is returned when Predict is called before Train or UnmarshalBinary.
	ErrNotTrained = errors.New("model is not trained")
	// ErrFeatureWidth is returned when a row does not match the trained column count.
	ErrFeatureWidth = errors.New("feature row width mismatch")
	// ErrEmptyFrame is returned when training on a frame without rows.
	ErrEmptyFrame = errors.New("feature frame is empty")
)

// FeatureFrame is a dense design matrix. Rows[i] holds one value per entry
// in Columns, Target[i] is the observed vehicle count for that row.
type FeatureFrame struct {
	Columns []string
	Rows    [][]float64
	Target  []float64
}

// Validate checks that the frame is rectangular and that targets line up with rows.
func (f FeatureFrame) Validate() error {
	if len(f.Rows) == 0 {
		return ErrEmptyFrame
	}
	if len(f.Target) != len(f.Rows) {
		return fmt.Errorf("target length %d does not match %d rows", len(f.Target), len(f.Rows))
	}
	for i, row := range f.Rows {
		if len(row) != len(f.Columns) {
			return fmt.Errorf("%w: row %d has %d values, want %d", ErrFeatureWidth, i, len(row), len(f.Columns))
		}
	}
	return nil
}

// ColumnIndex returns the position of name in Columns, or -1.
func (f FeatureFrame) ColumnIndex(name string) int {
	for i, c := range f.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Model is implemented by every regressor. Train fits the model on a frame;
// MarshalBinary and UnmarshalBinary move the fitted state in and out of a
// cache artifact so a restored model predicts exactly like the original.
type Model interface {
	Name() string
	Train(ctx context.Context, frame FeatureFrame) error
	Predict(ctx context.Context, row []float64) (float64, error)
	MarshalBinary() ([]byte, error)
	UnmarshalBinary(data []byte) error
}

// Evaluation summarizes how well a model fits a frame.
type Evaluation struct {
	R2  float64
	MAE float64
}

// Evaluate predicts every row of frame and compares against its targets.
func Evaluate(ctx context.Context, m Model, frame FeatureFrame) (Evaluation, error) {
	if err := frame.Validate(); err != nil {
		return Evaluation{}, err
	}

	estimates := make([]float64, len(frame.Rows))
	var absErr float64
	for i, row := range frame.Rows {
		y, err := m.Predict(ctx, row)
		if err != nil {
			return Evaluation{}, err
		}
		estimates[i] = y
		d := y - frame.Target[i]
		if d < 0 {
			d = -d
		}
		absErr += d
	}

	return Evaluation{
		R2:  stat.RSquaredFrom(estimates, frame.Target, nil),
		MAE: absErr / float64(len(frame.Rows)),
	}, nil
}
