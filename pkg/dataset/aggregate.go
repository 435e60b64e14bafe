package dataset

import (
	"slices"

	"gonum.org/v1/gonum/stat"
)

// DefaultTrendWindow is the number of leading records shown on the trend chart.
const DefaultTrendWindow = 300

// AllJunctions disables the junction filter on aggregate views.
const AllJunctions = 0

// Point is one bucket of an aggregate series.
type Point struct {
	Key      int     `json:"key"`
	Vehicles int64   `json:"vehicles"`
	Mean     float64 `json:"mean"`
	Count    int     `json:"count"`
}

// Junctions returns the distinct junction ids in ascending order.
func (t *Table) Junctions() []int {
	seen := make(map[int]struct{})
	for _, r := range t.records {
		seen[r.Junction] = struct{}{}
	}

	out := make([]int, 0, len(seen))
	for j := range seen {
		out = append(out, j)
	}
	slices.Sort(out)
	return out
}

// HasJunction reports whether any record belongs to junction.
func (t *Table) HasJunction(junction int) bool {
	for _, r := range t.records {
		if r.Junction == junction {
			return true
		}
	}
	return false
}

// Head returns the first n records in file order, optionally restricted to
// one junction. n <= 0 selects DefaultTrendWindow.
func (t *Table) Head(n, junction int) []Record {
	if n <= 0 {
		n = DefaultTrendWindow
	}

	out := make([]Record, 0, min(n, len(t.records)))
	for _, r := range t.records {
		if len(out) == n {
			break
		}
		if junction != AllJunctions && r.Junction != junction {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Monthly sums vehicles by calendar month (1-12) across all years.
func (t *Table) Monthly(junction int) []Point {
	return t.groupBy(junction, func(r Record) int { return int(r.DateTime.Month()) })
}

// Yearly sums vehicles by year.
func (t *Table) Yearly(junction int) []Point {
	return t.groupBy(junction, func(r Record) int { return r.DateTime.Year() })
}

func (t *Table) groupBy(junction int, key func(Record) int) []Point {
	groups := make(map[int][]float64)
	for _, r := range t.records {
		if junction != AllJunctions && r.Junction != junction {
			continue
		}
		k := key(r)
		groups[k] = append(groups[k], float64(r.Vehicles))
	}

	keys := make([]int, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	out := make([]Point, 0, len(keys))
	for _, k := range keys {
		values := groups[k]
		var total int64
		for _, v := range values {
			total += int64(v)
		}
		out = append(out, Point{
			Key:      k,
			Vehicles: total,
			Mean:     stat.Mean(values, nil),
			Count:    len(values),
		})
	}
	return out
}
