// Package tree implements CART decision trees for classification and
// regression. The growing core is shared with the ensembles in
// sklearn/ensemble and the imputer in sklearn/impute.
package tree

import (
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Leaf marks a terminal node in Node.Feature.
const Leaf = -1

// Node is one node of a fitted tree. Children are indices into Tree.Nodes.
type Node struct {
	Feature   int
	Threshold float64
	Left      int
	Right     int
	// MissingLeft routes NaN values of Feature to the left child.
	MissingLeft bool
	// Value holds class probabilities (classification) or the mean (regression).
	Value    []float64
	NSamples int
	Impurity float64
}

// Tree is a fitted CART tree stored as a flat node array; Nodes[0] is the root.
type Tree struct {
	Nodes     []Node
	NFeatures int
	// Gain is the unnormalized weighted impurity decrease per feature.
	Gain []float64
}

// Leaf returns the index of the leaf x falls into.
func (t *Tree) Leaf(x []float64) int {
	i := 0
	for {
		n := &t.Nodes[i]
		if n.Feature == Leaf {
			return i
		}
		v := x[n.Feature]
		switch {
		case math.IsNaN(v):
			if n.MissingLeft {
				i = n.Left
			} else {
				i = n.Right
			}
		case v <= n.Threshold:
			i = n.Left
		default:
			i = n.Right
		}
	}
}

// Value returns the leaf value for x.
func (t *Tree) Value(x []float64) []float64 {
	return t.Nodes[t.Leaf(x)].Value
}

// Depth returns the depth of the tree; a single leaf has depth 0.
func (t *Tree) Depth() int {
	if len(t.Nodes) == 0 {
		return 0
	}
	var walk func(i int) int
	walk = func(i int) int {
		n := t.Nodes[i]
		if n.Feature == Leaf {
			return 0
		}
		return 1 + max(walk(n.Left), walk(n.Right))
	}
	return walk(0)
}

// NLeaves returns the number of leaves.
func (t *Tree) NLeaves() int {
	c := 0
	for _, n := range t.Nodes {
		if n.Feature == Leaf {
			c++
		}
	}
	return c
}

// Dataset is a column-major copy of a feature matrix.
type Dataset struct {
	Cols [][]float64
	N    int
}

// NewDataset copies X column by column.
func NewDataset(X mat.Matrix) *Dataset {
	r, c := X.Dims()
	d := &Dataset{Cols: make([][]float64, c), N: r}
	for j := 0; j < c; j++ {
		d.Cols[j] = mat.Col(nil, j, X)
	}
	return d
}

// Row returns row i as a fresh slice.
func (d *Dataset) Row(i int) []float64 {
	x := make([]float64, len(d.Cols))
	for j, col := range d.Cols {
		x[j] = col[i]
	}
	return x
}

// Target supplies additive sufficient statistics for a split criterion.
type Target interface {
	// Width is the length of a statistics vector.
	Width() int
	// Accumulate adds sample i to dst.
	Accumulate(dst []float64, i int)
	// Count is the number of samples summarized by v.
	Count(v []float64) float64
	// Impurity of a node summarized by v.
	Impurity(v []float64) float64
	// Leaf converts statistics into a node value.
	Leaf(v []float64) []float64
	// Pure reports that a node summarized by v cannot be improved by a split.
	Pure(v []float64) bool
}

// ClassTarget is a classification target with labels in [0, K).
type ClassTarget struct {
	Y         []int
	K         int
	Criterion string
}

func (c ClassTarget) Width() int                      { return c.K }
func (c ClassTarget) Accumulate(dst []float64, i int) { dst[c.Y[i]]++ }

func (c ClassTarget) Count(v []float64) float64 {
	s := 0.0
	for _, x := range v {
		s += x
	}
	return s
}

func (c ClassTarget) Impurity(v []float64) float64 {
	n := c.Count(v)
	if n == 0 {
		return 0
	}
	imp := 0.0
	if c.Criterion == "entropy" {
		for _, x := range v {
			if x > 0 {
				p := x / n
				imp -= p * math.Log2(p)
			}
		}
		return imp
	}
	imp = 1
	for _, x := range v {
		p := x / n
		imp -= p * p
	}
	return imp
}

func (c ClassTarget) Pure(v []float64) bool { return c.Impurity(v) <= 1e-12 }

func (c ClassTarget) Leaf(v []float64) []float64 {
	n := c.Count(v)
	out := make([]float64, len(v))
	for k, x := range v {
		out[k] = x / n
	}
	return out
}

// RegTarget is a regression target scored by mean squared error.
type RegTarget struct {
	Y []float64
}

func (RegTarget) Width() int { return 3 }

func (r RegTarget) Accumulate(dst []float64, i int) {
	y := r.Y[i]
	dst[0]++
	dst[1] += y
	dst[2] += y * y
}

func (RegTarget) Count(v []float64) float64 { return v[0] }

func (RegTarget) Impurity(v []float64) float64 {
	if v[0] == 0 {
		return 0
	}
	m := v[1] / v[0]
	return math.Max(v[2]/v[0]-m*m, 0)
}

func (r RegTarget) Pure(v []float64) bool { return r.Impurity(v) <= 1e-12 }

func (RegTarget) Leaf(v []float64) []float64 {
	return []float64{v[1] / v[0]}
}

// Params controls tree growth.
type Params struct {
	// MaxDepth <= 0 means unlimited.
	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
	// MaxFeatures is the number of features drawn per node; <= 0 means all.
	MaxFeatures int
}

// Grow fits a tree on the given sample indices. Repeated indices act as
// bootstrap weights. rng is only used when MaxFeatures < number of features.
func Grow(d *Dataset, t Target, samples []int, p Params, rng *rand.Rand) *Tree {
	g := &grower{
		d:       d,
		t:       t,
		p:       p,
		rng:     rng,
		tree:    &Tree{NFeatures: len(d.Cols), Gain: make([]float64, len(d.Cols))},
		feats:   make([]int, len(d.Cols)),
		left:    make([]float64, t.Width()),
		right:   make([]float64, t.Width()),
		miss:    make([]float64, t.Width()),
		comb:    make([]float64, t.Width()),
		scratch: make([]float64, t.Width()),
	}
	for j := range g.feats {
		g.feats[j] = j
	}
	if g.p.MinSamplesSplit < 2 {
		g.p.MinSamplesSplit = 2
	}
	if g.p.MinSamplesLeaf < 1 {
		g.p.MinSamplesLeaf = 1
	}
	g.grow(append([]int(nil), samples...), 0)
	return g.tree
}

type grower struct {
	d    *Dataset
	t    Target
	p    Params
	rng  *rand.Rand
	tree *Tree

	feats                            []int
	left, right, miss, comb, scratch []float64
}

type split struct {
	feature     int
	threshold   float64
	missingLeft bool
	gain        float64
}

func (g *grower) stats(samples []int) []float64 {
	v := make([]float64, g.t.Width())
	for _, i := range samples {
		g.t.Accumulate(v, i)
	}
	return v
}

func (g *grower) grow(samples []int, depth int) int {
	v := g.stats(samples)
	imp := g.t.Impurity(v)
	idx := len(g.tree.Nodes)
	g.tree.Nodes = append(g.tree.Nodes, Node{
		Feature:  Leaf,
		Value:    g.t.Leaf(v),
		NSamples: len(samples),
		Impurity: imp,
	})

	if len(samples) < g.p.MinSamplesSplit ||
		(g.p.MaxDepth > 0 && depth >= g.p.MaxDepth) ||
		g.t.Pure(v) {
		return idx
	}

	best, ok := g.bestSplit(samples, v, imp)
	if !ok {
		return idx
	}

	var l, r []int
	col := g.d.Cols[best.feature]
	for _, i := range samples {
		x := col[i]
		if (math.IsNaN(x) && best.missingLeft) || x <= best.threshold {
			l = append(l, i)
		} else {
			r = append(r, i)
		}
	}
	g.tree.Gain[best.feature] += best.gain

	li := g.grow(l, depth+1)
	ri := g.grow(r, depth+1)
	n := &g.tree.Nodes[idx]
	n.Feature = best.feature
	n.Threshold = best.threshold
	n.MissingLeft = best.missingLeft
	n.Left, n.Right = li, ri
	return idx
}

func (g *grower) candidateFeatures() []int {
	k := g.p.MaxFeatures
	if k <= 0 || k >= len(g.feats) || g.rng == nil {
		return g.feats
	}
	// 部分 Fisher-Yates
	for i := 0; i < k; i++ {
		j := i + g.rng.IntN(len(g.feats)-i)
		g.feats[i], g.feats[j] = g.feats[j], g.feats[i]
	}
	return g.feats[:k]
}

func (g *grower) bestSplit(samples []int, parent []float64, parentImp float64) (split, bool) {
	nParent := g.t.Count(parent)
	best := split{gain: 1e-12}
	found := false
	minLeaf := float64(g.p.MinSamplesLeaf)

	present := make([]int, 0, len(samples))
	for _, f := range g.candidateFeatures() {
		col := g.d.Cols[f]
		present = present[:0]
		clear(g.miss)
		for _, i := range samples {
			if math.IsNaN(col[i]) {
				g.t.Accumulate(g.miss, i)
			} else {
				present = append(present, i)
			}
		}
		if len(present) < 2 {
			continue
		}
		sort.Slice(present, func(a, b int) bool { return col[present[a]] < col[present[b]] })
		nMiss := g.t.Count(g.miss)

		clear(g.left)
		for k := range g.right {
			g.right[k] = parent[k] - g.miss[k]
		}
		for k := 0; k < len(present)-1; k++ {
			i := present[k]
			g.addTo(g.left, i, 1)
			g.addTo(g.right, i, -1)
			lo, hi := col[i], col[present[k+1]]
			if lo == hi {
				continue
			}
			th := lo + (hi-lo)/2
			if th >= hi {
				th = lo
			}
			for _, missLeft := range []bool{true, false} {
				if nMiss == 0 && !missLeft {
					break
				}
				gain, ok := g.evaluate(missLeft, nParent, parentImp, minLeaf)
				if ok && gain > best.gain {
					best = split{feature: f, threshold: th, missingLeft: missLeft, gain: gain}
					found = true
				}
			}
		}
		if nMiss > 0 {
			// 観測値すべてを左、欠損を右
			for k := range g.left {
				g.left[k] = parent[k] - g.miss[k]
			}
			clear(g.right)
			gain, ok := g.evaluate(false, nParent, parentImp, minLeaf)
			if ok && gain > best.gain {
				best = split{feature: f, threshold: col[present[len(present)-1]], missingLeft: false, gain: gain}
				found = true
			}
		}
	}
	if found && g.countMissing(samples, best.feature) == 0 {
		// 学習時に欠損がない特徴量は多い方の子へ送る
		best.missingLeft = g.leftIsLarger(samples, best)
	}
	return best, found
}

// addTo adds (sign=1) or removes (sign=-1) sample i from v.
func (g *grower) addTo(v []float64, i int, sign float64) {
	clear(g.scratch)
	g.t.Accumulate(g.scratch, i)
	for k, x := range g.scratch {
		v[k] += sign * x
	}
}

func (g *grower) evaluate(missLeft bool, nParent, parentImp, minLeaf float64) (float64, bool) {
	l, r := g.left, g.right
	if g.t.Count(g.miss) > 0 {
		comb := g.comb
		if missLeft {
			for k := range comb {
				comb[k] = g.left[k] + g.miss[k]
			}
			l = comb
		} else {
			for k := range comb {
				comb[k] = g.right[k] + g.miss[k]
			}
			r = comb
		}
	}
	nl, nr := g.t.Count(l), g.t.Count(r)
	if nl < minLeaf || nr < minLeaf {
		return 0, false
	}
	return nParent*parentImp - nl*g.t.Impurity(l) - nr*g.t.Impurity(r), true
}

func (g *grower) countMissing(samples []int, f int) int {
	c := 0
	for _, i := range samples {
		if math.IsNaN(g.d.Cols[f][i]) {
			c++
		}
	}
	return c
}

// leftIsLarger reports whether the left child of s receives at least as many
// samples as the right.
func (g *grower) leftIsLarger(samples []int, s split) bool {
	nl := 0
	for _, i := range samples {
		if g.d.Cols[s.feature][i] <= s.threshold {
			nl++
		}
	}
	return 2*nl >= len(samples)
}

// Importances normalizes Gain to sum to one. A tree without splits has all
// zero importances.
func (t *Tree) Importances() []float64 {
	out := make([]float64, len(t.Gain))
	total := 0.0
	for _, g := range t.Gain {
		total += g
	}
	if total <= 0 {
		return out
	}
	for j, g := range t.Gain {
		out[j] = g / total
	}
	return out
}
