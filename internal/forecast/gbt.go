package forecast

import (
	"errors"
	"fmt"
	"sort"
)

// Regressor is the fit/predict contract the forecast model is built around.
type Regressor interface {
	Fit(X [][]float64, y []float64) error
	Predict(x []float64) float64
	// Importance returns one non-negative weight per feature, summing to 1
	// (or all zeros when the model never split).
	Importance() []float64
}

// TreeParams tune the gradient-boosted tree regressor.
type TreeParams struct {
	Trees          int     `json:"trees"`
	MaxDepth       int     `json:"max_depth"`
	MinSamplesLeaf int     `json:"min_samples_leaf"`
	LearningRate   float64 `json:"learning_rate"`
}

// DefaultTreeParams mirror a small, conservative boosting setup.
func DefaultTreeParams() TreeParams {
	return TreeParams{Trees: 150, MaxDepth: 3, MinSamplesLeaf: 5, LearningRate: 0.05}
}

type treeNode struct {
	Leaf      bool    `json:"leaf,omitempty"`
	Value     float64 `json:"v"`
	Feature   int     `json:"f,omitempty"`
	Threshold float64 `json:"t,omitempty"`
	Left      int     `json:"l,omitempty"`
	Right     int     `json:"r,omitempty"`
}

type regressionTree struct {
	Nodes []treeNode `json:"nodes"`
}

func (t regressionTree) predict(x []float64) float64 {
	idx := 0
	for {
		n := t.Nodes[idx]
		if n.Leaf {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			idx = n.Left
		} else {
			idx = n.Right
		}
	}
}

// GradientBoosting is a squared-error gradient-boosted regression tree ensemble.
type GradientBoosting struct {
	Params   TreeParams       `json:"params"`
	Base     float64          `json:"base"`
	Trees    []regressionTree `json:"trees"`
	Gains    []float64        `json:"gains"`
	Features int              `json:"features"`
}

// NewGradientBoosting returns an unfitted ensemble.
func NewGradientBoosting(params TreeParams) *GradientBoosting {
	if params.Trees <= 0 {
		params.Trees = DefaultTreeParams().Trees
	}
	if params.MaxDepth <= 0 {
		params.MaxDepth = DefaultTreeParams().MaxDepth
	}
	if params.MinSamplesLeaf <= 0 {
		params.MinSamplesLeaf = 1
	}
	if params.LearningRate <= 0 || params.LearningRate > 1 {
		params.LearningRate = DefaultTreeParams().LearningRate
	}
	return &GradientBoosting{Params: params}
}

// Fit trains the ensemble from scratch.
func (g *GradientBoosting) Fit(X [][]float64, y []float64) error {
	if len(X) == 0 || len(X) != len(y) {
		return fmt.Errorf("fit: %d rows vs %d targets", len(X), len(y))
	}
	width := len(X[0])
	if width == 0 {
		return errors.New("fit: rows have no features")
	}
	for i, row := range X {
		if len(row) != width {
			return fmt.Errorf("fit: row %d has %d features, want %d", i, len(row), width)
		}
	}

	g.Features = width
	g.Gains = make([]float64, width)
	g.Trees = g.Trees[:0]

	var sum float64
	for _, v := range y {
		sum += v
	}
	g.Base = sum / float64(len(y))

	pred := make([]float64, len(y))
	for i := range pred {
		pred[i] = g.Base
	}
	residual := make([]float64, len(y))
	indices := make([]int, len(y))

	for t := 0; t < g.Params.Trees; t++ {
		for i := range y {
			residual[i] = y[i] - pred[i]
			indices[i] = i
		}
		b := &treeBuilder{X: X, y: residual, params: g.Params, gains: g.Gains}
		b.build(indices, 0)
		tree := regressionTree{Nodes: b.nodes}
		for i, row := range X {
			pred[i] += g.Params.LearningRate * tree.predict(row)
		}
		g.Trees = append(g.Trees, tree)
	}
	return nil
}

// Predict scores a single row.
func (g *GradientBoosting) Predict(x []float64) float64 {
	out := g.Base
	for _, tree := range g.Trees {
		out += g.Params.LearningRate * tree.predict(x)
	}
	return out
}

// Importance returns split-gain importance normalised to sum to 1.
func (g *GradientBoosting) Importance() []float64 {
	out := make([]float64, len(g.Gains))
	var total float64
	for _, v := range g.Gains {
		total += v
	}
	if total == 0 {
		return out
	}
	for i, v := range g.Gains {
		out[i] = v / total
	}
	return out
}

type treeBuilder struct {
	X      [][]float64
	y      []float64
	params TreeParams
	gains  []float64
	nodes  []treeNode
}

func (b *treeBuilder) build(indices []int, depth int) int {
	id := len(b.nodes)
	b.nodes = append(b.nodes, treeNode{Leaf: true, Value: b.mean(indices)})

	if depth >= b.params.MaxDepth || len(indices) < 2*b.params.MinSamplesLeaf {
		return id
	}

	feature, threshold, gain, ok := b.bestSplit(indices)
	if !ok || gain <= 0 {
		return id
	}

	left := make([]int, 0, len(indices))
	right := make([]int, 0, len(indices))
	for _, i := range indices {
		if b.X[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	b.gains[feature] += gain
	l := b.build(left, depth+1)
	r := b.build(right, depth+1)
	b.nodes[id] = treeNode{Feature: feature, Threshold: threshold, Left: l, Right: r}
	return id
}

func (b *treeBuilder) mean(indices []int) float64 {
	if len(indices) == 0 {
		return 0
	}
	var sum float64
	for _, i := range indices {
		sum += b.y[i]
	}
	return sum / float64(len(indices))
}

// bestSplit scans every feature for the threshold with the largest reduction
// in squared error, honouring the minimum leaf size.
func (b *treeBuilder) bestSplit(indices []int) (int, float64, float64, bool) {
	n := len(indices)
	var total, totalSq float64
	for _, i := range indices {
		total += b.y[i]
		totalSq += b.y[i] * b.y[i]
	}
	parentSSE := totalSq - total*total/float64(n)

	bestGain := 0.0
	bestFeature := -1
	bestThreshold := 0.0
	sorted := make([]int, n)

	for f := 0; f < len(b.X[indices[0]]); f++ {
		copy(sorted, indices)
		sort.Slice(sorted, func(a, c int) bool { return b.X[sorted[a]][f] < b.X[sorted[c]][f] })

		var leftSum, leftSq float64
		for k := 0; k < n-1; k++ {
			v := b.y[sorted[k]]
			leftSum += v
			leftSq += v * v

			leftN := k + 1
			rightN := n - leftN
			if leftN < b.params.MinSamplesLeaf || rightN < b.params.MinSamplesLeaf {
				continue
			}
			cur := b.X[sorted[k]][f]
			next := b.X[sorted[k+1]][f]
			if cur == next {
				continue
			}

			rightSum := total - leftSum
			rightSq := totalSq - leftSq
			sse := (leftSq - leftSum*leftSum/float64(leftN)) + (rightSq - rightSum*rightSum/float64(rightN))
			gain := parentSSE - sse
			if gain > bestGain {
				bestGain = gain
				bestFeature = f
				bestThreshold = (cur + next) / 2
			}
		}
	}

	if bestFeature < 0 {
		return 0, 0, 0, false
	}
	return bestFeature, bestThreshold, bestGain, true
}

var _ Regressor = (*GradientBoosting)(nil)
