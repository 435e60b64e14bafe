package models

import (
	"cmp"
	"slices"
)

const leafFeature = -1

// node is one entry in a flattened regression tree. Leaves carry
// feature == leafFeature; internal nodes route x[feature] <= threshold left.
type node struct {
	feature   int32
	threshold float64
	left      int32
	right     int32
	value     float64
}

type regressionTree struct {
	nodes []node
}

type treeParams struct {
	maxDepth        int
	minSamplesSplit int
	minSamplesLeaf  int
}

// growTree fits a CART regression tree with the squared-error criterion on
// the rows referenced by idx. idx may contain repeats (bootstrap samples)
// and is reordered in place.
func growTree(x [][]float64, y []float64, idx []int, width int, p treeParams) *regressionTree {
	t := &regressionTree{nodes: make([]node, 0, 64)}
	b := treeBuilder{x: x, y: y, width: width, params: p, tree: t}
	b.build(idx, 0)
	return t
}

type treeBuilder struct {
	x      [][]float64
	y      []float64
	width  int
	params treeParams
	tree   *regressionTree
}

type split struct {
	feature   int
	threshold float64
	score     float64
}

func (b *treeBuilder) build(idx []int, depth int) int32 {
	var sum, sumSq float64
	for _, i := range idx {
		v := b.y[i]
		sum += v
		sumSq += v * v
	}
	n := float64(len(idx))
	mean := sum / n

	pos := int32(len(b.tree.nodes))
	b.tree.nodes = append(b.tree.nodes, node{feature: leafFeature, value: mean})

	if len(idx) < b.params.minSamplesSplit || len(idx) < 2*b.params.minSamplesLeaf {
		return pos
	}
	if b.params.maxDepth > 0 && depth >= b.params.maxDepth {
		return pos
	}
	// Pure node: variance is zero up to rounding.
	if sumSq-sum*mean <= 1e-9*max(1, sumSq) {
		return pos
	}

	best, ok := b.bestSplit(idx, sum)
	if !ok {
		return pos
	}

	mid := partition(idx, func(i int) bool { return b.x[i][best.feature] <= best.threshold })
	left := b.build(idx[:mid], depth+1)
	right := b.build(idx[mid:], depth+1)

	b.tree.nodes[pos] = node{
		feature:   int32(best.feature),
		threshold: best.threshold,
		left:      left,
		right:     right,
		value:     mean,
	}
	return pos
}

// bestSplit maximizes sumL²/nL + sumR²/nR, which is equivalent to minimizing
// the summed squared error of both children.
func (b *treeBuilder) bestSplit(idx []int, total float64) (split, bool) {
	best := split{score: -1}
	found := false
	n := len(idx)
	minLeaf := b.params.minSamplesLeaf

	for f := 0; f < b.width; f++ {
		slices.SortFunc(idx, func(i, j int) int {
			return cmp.Compare(b.x[i][f], b.x[j][f])
		})

		var leftSum float64
		for k := 0; k < n-1; k++ {
			leftSum += b.y[idx[k]]
			leftN := k + 1
			rightN := n - leftN

			cur := b.x[idx[k]][f]
			next := b.x[idx[k+1]][f]
			if cur == next {
				continue
			}
			if leftN < minLeaf || rightN < minLeaf {
				continue
			}

			rightSum := total - leftSum
			score := leftSum*leftSum/float64(leftN) + rightSum*rightSum/float64(rightN)
			if !found || score > best.score {
				best = split{feature: f, threshold: cur + (next-cur)/2, score: score}
				found = true
			}
		}
	}

	return best, found
}

// partition moves entries satisfying left to the front and returns their count.
func partition(idx []int, left func(int) bool) int {
	i, j := 0, len(idx)-1
	for i <= j {
		if left(idx[i]) {
			i++
			continue
		}
		idx[i], idx[j] = idx[j], idx[i]
		j--
	}
	return i
}

func (t *regressionTree) predict(row []float64) float64 {
	pos := int32(0)
	for {
		n := t.nodes[pos]
		if n.feature == leafFeature {
			return n.value
		}
		if row[n.feature] <= n.threshold {
			pos = n.left
		} else {
			pos = n.right
		}
	}
}

func (t *regressionTree) leaves() int {
	count := 0
	for _, n := range t.nodes {
		if n.feature == leafFeature {
			count++
		}
	}
	return count
}
