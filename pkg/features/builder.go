// Package features turns traffic records into the calendar feature rows the
// regressors are trained on.
package features

import (
	"errors"
	"slices"
	"time"

	"github.com/HatiCode/junctioncast/pkg/dataset"
	"github.com/HatiCode/junctioncast/pkg/models"
)

// Feature column names, in model order.
const (
	Junction = "Junction"
	Hour     = "Hour"
	Day      = "Day"
	Month    = "Month"
	Weekday  = "Weekday"
)

// Schema is the ordered list of feature columns. A cached model is only
// valid for the schema it was trained with.
var Schema = []string{Junction, Hour, Day, Month, Weekday}

// BaselineKeys are the grouping columns used by the group-mean model.
var BaselineKeys = []string{Junction, Hour, Weekday}

// Builder constructs feature frames from traffic records, decomposing each
// timestamp into calendar features and dropping the timestamp and record id.
type Builder struct{}

// NewBuilder creates a new feature builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Columns returns a copy of the feature schema.
func (b *Builder) Columns() []string {
	return slices.Clone(Schema)
}

// BuildFeatures converts a table into a FeatureFrame. Each row holds:
//   - Junction: the junction id
//   - Hour: hour of day (0-23)
//   - Day: day of month (1-31)
//   - Month: month of year (1-12)
//   - Weekday: day of week (0-6, Monday=0)
//
// The target is the vehicle count.
func (b *Builder) BuildFeatures(table *dataset.Table) (models.FeatureFrame, error) {
	if table == nil || table.Len() == 0 {
		return models.FeatureFrame{}, errors.New("table is empty")
	}

	records := table.Records()
	frame := models.FeatureFrame{
		Columns: b.Columns(),
		Rows:    make([][]float64, len(records)),
		Target:  make([]float64, len(records)),
	}

	for i, r := range records {
		frame.Rows[i] = b.Row(r.Junction, r.DateTime)
		frame.Target[i] = float64(r.Vehicles)
	}

	return frame, nil
}

// Row builds a single feature row for a junction at a point in time.
func (b *Builder) Row(junction int, at time.Time) []float64 {
	return []float64{
		float64(junction),
		float64(at.Hour()),
		float64(at.Day()),
		float64(at.Month()),
		float64(MondayWeekday(at)),
	}
}

// MondayWeekday returns the day of week with Monday=0 and Sunday=6.
func MondayWeekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}
