package models

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime"

	"golang.org/x/sync/errgroup"
	"google.golang.org/protobuf/encoding/protowire"
)

// ForestConfig controls random forest fitting. Zero values select the
// defaults noted on each field.
type ForestConfig struct {
	// Trees is the number of bagged trees (default 100).
	Trees int
	// MaxDepth limits tree depth; 0 grows trees until leaves are pure.
	MaxDepth int
	// MinSamplesSplit is the smallest node that may be split (default 2).
	MinSamplesSplit int
	// MinSamplesLeaf is the smallest allowed leaf (default 1).
	MinSamplesLeaf int
	// Seed makes bootstrap sampling reproducible (default 42).
	Seed uint64
	// Workers bounds how many trees are fitted concurrently (default GOMAXPROCS).
	Workers int
}

func (c ForestConfig) withDefaults() ForestConfig {
	if c.Trees <= 0 {
		c.Trees = 100
	}
	if c.MaxDepth < 0 {
		c.MaxDepth = 0
	}
	if c.MinSamplesSplit < 2 {
		c.MinSamplesSplit = 2
	}
	if c.MinSamplesLeaf < 1 {
		c.MinSamplesLeaf = 1
	}
	if c.Seed == 0 {
		c.Seed = 42
	}
	if c.Workers <= 0 {
		c.Workers = runtime.GOMAXPROCS(0)
	}
	return c
}

// RandomForest is a bagged ensemble of CART regression trees. Every split
// considers all features, each tree is fitted on a bootstrap sample, and the
// prediction is the mean over trees.
//
// Tree i draws its bootstrap sample from a PCG stream seeded with (Seed, i),
// so the fitted forest does not depend on Workers or scheduling order.
type RandomForest struct {
	cfg   ForestConfig
	width int
	trees []*regressionTree
}

// NewRandomForest creates an untrained forest.
func NewRandomForest(cfg ForestConfig) *RandomForest {
	return &RandomForest{cfg: cfg.withDefaults()}
}

// Name returns the model identifier.
func (m *RandomForest) Name() string {
	return "random_forest"
}

// Config returns the effective configuration.
func (m *RandomForest) Config() ForestConfig {
	return m.cfg
}

// Size returns the number of trees and the total number of leaves.
func (m *RandomForest) Size() (trees, leaves int) {
	for _, t := range m.trees {
		leaves += t.leaves()
	}
	return len(m.trees), leaves
}

// Train fits the forest on frame. Cancelling ctx stops fitting before the
// next tree starts and returns the context error.
func (m *RandomForest) Train(ctx context.Context, frame FeatureFrame) error {
	if err := frame.Validate(); err != nil {
		return err
	}

	cfg := m.cfg
	params := treeParams{
		maxDepth:        cfg.MaxDepth,
		minSamplesSplit: cfg.MinSamplesSplit,
		minSamplesLeaf:  cfg.MinSamplesLeaf,
	}
	width := len(frame.Columns)
	n := len(frame.Rows)
	trees := make([]*regressionTree, cfg.Trees)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)

	for i := range cfg.Trees {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			rng := rand.New(rand.NewPCG(cfg.Seed, uint64(i)))
			idx := make([]int, n)
			for k := range idx {
				idx[k] = rng.IntN(n)
			}

			trees[i] = growTree(frame.Rows, frame.Target, idx, width, params)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("fit forest: %w", err)
	}

	m.width = width
	m.trees = trees
	return nil
}

// Predict returns the mean prediction of all trees for row.
func (m *RandomForest) Predict(ctx context.Context, row []float64) (float64, error) {
	if len(m.trees) == 0 {
		return 0, ErrNotTrained
	}
	if len(row) != m.width {
		return 0, fmt.Errorf("%w: got %d values, want %d", ErrFeatureWidth, len(row), m.width)
	}

	var sum float64
	for _, t := range m.trees {
		sum += t.predict(row)
	}
	return sum / float64(len(m.trees)), nil
}

// Forest wire fields.
const (
	forestWidth           protowire.Number = 1
	forestTree            protowire.Number = 2
	forestMaxDepth        protowire.Number = 3
	forestMinSamplesSplit protowire.Number = 4
	forestMinSamplesLeaf  protowire.Number = 5
	forestSeed            protowire.Number = 6
)

// Tree wire fields, all packed.
const (
	treeFeature   protowire.Number = 1
	treeThreshold protowire.Number = 2
	treeLeft      protowire.Number = 3
	treeRight     protowire.Number = 4
	treeValue     protowire.Number = 5
)

// MarshalBinary encodes the fitted trees.
func (m *RandomForest) MarshalBinary() ([]byte, error) {
	if len(m.trees) == 0 {
		return nil, ErrNotTrained
	}

	var b []byte
	b = appendVarintField(b, forestWidth, uint64(m.width))
	b = appendVarintField(b, forestMaxDepth, uint64(m.cfg.MaxDepth))
	b = appendVarintField(b, forestMinSamplesSplit, uint64(m.cfg.MinSamplesSplit))
	b = appendVarintField(b, forestMinSamplesLeaf, uint64(m.cfg.MinSamplesLeaf))
	b = appendVarintField(b, forestSeed, m.cfg.Seed)
	for _, t := range m.trees {
		b = appendMessageField(b, forestTree, t.marshal())
	}
	return b, nil
}

// UnmarshalBinary restores trees written by MarshalBinary. Trees and
// fitting parameters come from data; Workers keeps its current value.
func (m *RandomForest) UnmarshalBinary(data []byte) error {
	var (
		width int
		raw   [][]byte
		cfg   = m.cfg
	)

	err := walkFields(data, func(f field) error {
		switch f.num {
		case forestWidth:
			width = int(f.varint)
		case forestMaxDepth:
			cfg.MaxDepth = int(f.varint)
		case forestMinSamplesSplit:
			cfg.MinSamplesSplit = int(f.varint)
		case forestMinSamplesLeaf:
			cfg.MinSamplesLeaf = int(f.varint)
		case forestSeed:
			cfg.Seed = f.varint
		case forestTree:
			raw = append(raw, f.bytes)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("decode forest: %w", err)
	}
	if len(raw) == 0 {
		return errors.New("decode forest: no trees")
	}
	if width <= 0 {
		return errors.New("decode forest: missing feature width")
	}

	trees := make([]*regressionTree, len(raw))
	for i, b := range raw {
		t, err := unmarshalTree(b, width)
		if err != nil {
			return fmt.Errorf("decode forest: tree %d: %w", i, err)
		}
		trees[i] = t
	}

	cfg.Trees = len(trees)
	m.cfg = cfg
	m.width = width
	m.trees = trees
	return nil
}

func (t *regressionTree) marshal() []byte {
	features := make([]int64, len(t.nodes))
	thresholds := make([]float64, len(t.nodes))
	lefts := make([]int64, len(t.nodes))
	rights := make([]int64, len(t.nodes))
	values := make([]float64, len(t.nodes))
	for i, n := range t.nodes {
		features[i] = int64(n.feature)
		thresholds[i] = n.threshold
		lefts[i] = int64(n.left)
		rights[i] = int64(n.right)
		values[i] = n.value
	}

	var b []byte
	b = appendPackedInts(b, treeFeature, features)
	b = appendPackedFloats(b, treeThreshold, thresholds)
	b = appendPackedInts(b, treeLeft, lefts)
	b = appendPackedInts(b, treeRight, rights)
	b = appendPackedFloats(b, treeValue, values)
	return b
}

// unmarshalTree decodes a tree and checks every reference so that predict
// can never index out of range or loop.
func unmarshalTree(b []byte, width int) (*regressionTree, error) {
	var (
		features, lefts, rights []int64
		thresholds, values      []float64
	)

	err := walkFields(b, func(f field) error {
		var err error
		switch f.num {
		case treeFeature:
			features, err = consumePackedInts(f.bytes)
		case treeThreshold:
			thresholds, err = consumePackedFloats(f.bytes)
		case treeLeft:
			lefts, err = consumePackedInts(f.bytes)
		case treeRight:
			rights, err = consumePackedInts(f.bytes)
		case treeValue:
			values, err = consumePackedFloats(f.bytes)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	count := len(features)
	if count == 0 {
		return nil, errors.New("empty tree")
	}
	if len(thresholds) != count || len(lefts) != count || len(rights) != count || len(values) != count {
		return nil, errors.New("node column lengths differ")
	}

	nodes := make([]node, count)
	for i := range nodes {
		n := node{
			feature:   int32(features[i]),
			threshold: thresholds[i],
			left:      int32(lefts[i]),
			right:     int32(rights[i]),
			value:     values[i],
		}
		if n.feature != leafFeature {
			if n.feature < 0 || int(n.feature) >= width {
				return nil, fmt.Errorf("node %d: feature %d out of range", i, n.feature)
			}
			// Children are always written after their parent.
			if int(n.left) <= i || int(n.left) >= count || int(n.right) <= i || int(n.right) >= count {
				return nil, fmt.Errorf("node %d: invalid children", i)
			}
		}
		nodes[i] = n
	}

	return &regressionTree{nodes: nodes}, nil
}
