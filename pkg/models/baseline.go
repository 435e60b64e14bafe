package models

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/stat"
	"google.golang.org/protobuf/encoding/protowire"
)

// BaselineModel predicts the historical mean of the most specific group a
// row falls into.
//
// Algorithm:
//  1. Group training rows by the key columns, e.g. (Junction, Hour, Weekday)
//  2. Also group by every prefix of the key: (Junction, Hour), (Junction)
//  3. Predict the mean of the longest prefix seen during training
//  4. Fall back to the global mean when no prefix matches
//
// Training is a single pass and the fitted state is a handful of means, so
// the model is a cheap alternative to the forest and a reference point for it.
type BaselineModel struct {
	// keys are the grouping column names, most general first
	keys []string

	// index holds the position of each key column in a feature row
	index []int

	// width is the trained feature row width
	width int

	// means maps "level|v1,v2,..." to the mean target of that group
	means map[string]float64

	global  float64
	trained bool
}

// NewBaselineModel creates a group-mean model keyed on the named columns.
func NewBaselineModel(keys ...string) *BaselineModel {
	return &BaselineModel{
		keys:  append([]string(nil), keys...),
		means: make(map[string]float64),
	}
}

// Name returns the model identifier.
func (m *BaselineModel) Name() string {
	return "baseline"
}

// Train computes group means for every key prefix.
func (m *BaselineModel) Train(ctx context.Context, frame FeatureFrame) error {
	if err := frame.Validate(); err != nil {
		return err
	}

	index := make([]int, len(m.keys))
	for i, k := range m.keys {
		pos := frame.ColumnIndex(k)
		if pos < 0 {
			return fmt.Errorf("baseline key column %q not in frame", k)
		}
		index[i] = pos
	}

	groups := make(map[string][]float64)
	for r, row := range frame.Rows {
		for level := 1; level <= len(index); level++ {
			key := groupKey(row, index[:level])
			groups[key] = append(groups[key], frame.Target[r])
		}
	}

	means := make(map[string]float64, len(groups))
	for key, values := range groups {
		means[key] = stat.Mean(values, nil)
	}

	m.index = index
	m.width = len(frame.Columns)
	m.means = means
	m.global = stat.Mean(frame.Target, nil)
	m.trained = true
	return nil
}

// Predict returns the mean of the most specific matching group.
func (m *BaselineModel) Predict(ctx context.Context, row []float64) (float64, error) {
	if !m.trained {
		return 0, ErrNotTrained
	}
	if len(row) != m.width {
		return 0, fmt.Errorf("%w: got %d values, want %d", ErrFeatureWidth, len(row), m.width)
	}

	for level := len(m.index); level >= 1; level-- {
		if mean, ok := m.means[groupKey(row, m.index[:level])]; ok {
			return mean, nil
		}
	}
	return m.global, nil
}

func groupKey(row []float64, index []int) string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(len(index)))
	b.WriteByte('|')
	for i, pos := range index {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(row[pos], 'g', -1, 64))
	}
	return b.String()
}

const (
	baselineKey    protowire.Number = 1
	baselineIndex  protowire.Number = 2
	baselineWidth  protowire.Number = 3
	baselineGlobal protowire.Number = 4
	baselineGroup  protowire.Number = 5

	groupName protowire.Number = 1
	groupMean protowire.Number = 2
)

// MarshalBinary encodes key columns and group means.
func (m *BaselineModel) MarshalBinary() ([]byte, error) {
	if !m.trained {
		return nil, ErrNotTrained
	}

	var b []byte
	for i, k := range m.keys {
		b = protowire.AppendTag(b, baselineKey, protowire.BytesType)
		b = protowire.AppendString(b, k)
		b = appendVarintField(b, baselineIndex, uint64(m.index[i]))
	}
	b = appendVarintField(b, baselineWidth, uint64(m.width))
	b = appendFloatField(b, baselineGlobal, m.global)

	for _, key := range slices.Sorted(maps.Keys(m.means)) {
		mean := m.means[key]
		var g []byte
		g = protowire.AppendTag(g, groupName, protowire.BytesType)
		g = protowire.AppendString(g, key)
		g = appendFloatField(g, groupMean, mean)
		b = appendMessageField(b, baselineGroup, g)
	}
	return b, nil
}

// UnmarshalBinary restores state written by MarshalBinary.
func (m *BaselineModel) UnmarshalBinary(data []byte) error {
	var (
		keys  []string
		index []int
		width int
		mean  float64
	)
	means := make(map[string]float64)

	err := walkFields(data, func(f field) error {
		switch f.num {
		case baselineKey:
			keys = append(keys, string(f.bytes))
		case baselineIndex:
			index = append(index, int(f.varint))
		case baselineWidth:
			width = int(f.varint)
		case baselineGlobal:
			mean = float64frombits(f.varint)
		case baselineGroup:
			var name string
			var v float64
			err := walkFields(f.bytes, func(g field) error {
				switch g.num {
				case groupName:
					name = string(g.bytes)
				case groupMean:
					v = float64frombits(g.varint)
				}
				return nil
			})
			if err != nil {
				return err
			}
			means[name] = v
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("decode baseline: %w", err)
	}
	if len(keys) != len(index) {
		return errors.New("decode baseline: key and index counts differ")
	}
	for _, pos := range index {
		if pos >= width {
			return fmt.Errorf("decode baseline: key index %d out of range", pos)
		}
	}

	m.keys = keys
	m.index = index
	m.width = width
	m.global = mean
	m.means = means
	m.trained = true
	return nil
}
