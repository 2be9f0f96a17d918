// Package model_selection provides k-fold splitters and hyperparameter search
// scored by cross-validated accuracy.
package model_selection

import (
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/sipredict/pkg/errors"
)

// Splitter partitions rows into cross-validation folds.
type Splitter interface {
	Split(X, y mat.Matrix) ([]Fold, error)
	GetNSplits() int
}

// Fold holds the row indices of one train/test partition.
type Fold struct {
	TrainIndices []int
	TestIndices  []int
}

// KFold splits rows into NSplits contiguous (optionally shuffled) folds.
type KFold struct {
	NSplits int
	Shuffle bool
	Seed    uint64
}

// NewKFold creates a k-fold splitter.
func NewKFold(nSplits int, shuffle bool, seed uint64) *KFold {
	return &KFold{NSplits: nSplits, Shuffle: shuffle, Seed: seed}
}

// GetNSplits returns the number of folds.
func (kf *KFold) GetNSplits() int { return kf.NSplits }

// Split returns NSplits folds; the first n % NSplits folds get one extra row.
func (kf *KFold) Split(X, _ mat.Matrix) ([]Fold, error) {
	n, _ := X.Dims()
	if kf.NSplits < 2 || kf.NSplits > n {
		return nil, errors.NewValidationError("n_splits", "must be within [2, n_samples]", kf.NSplits)
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	if kf.Shuffle {
		rng := rand.New(rand.NewPCG(kf.Seed, 0x6b66))
		rng.Shuffle(n, func(a, b int) { idx[a], idx[b] = idx[b], idx[a] })
	}
	assign := make([]int, n)
	size, rem := n/kf.NSplits, n%kf.NSplits
	pos := 0
	for f := 0; f < kf.NSplits; f++ {
		take := size
		if f < rem {
			take++
		}
		for _, i := range idx[pos : pos+take] {
			assign[i] = f
		}
		pos += take
	}
	return buildFolds(assign, kf.NSplits), nil
}

// StratifiedKFold keeps class proportions roughly equal across folds.
type StratifiedKFold struct {
	NSplits int
	Shuffle bool
	Seed    uint64
}

// NewStratifiedKFold creates a stratified k-fold splitter.
func NewStratifiedKFold(nSplits int, shuffle bool, seed uint64) *StratifiedKFold {
	return &StratifiedKFold{NSplits: nSplits, Shuffle: shuffle, Seed: seed}
}

// GetNSplits returns the number of folds.
func (skf *StratifiedKFold) GetNSplits() int { return skf.NSplits }

// Split deals each class's rows round-robin over the folds. The starting fold
// continues where the previous class stopped so fold sizes differ by at most
// one.
func (skf *StratifiedKFold) Split(X, y mat.Matrix) ([]Fold, error) {
	n, _ := X.Dims()
	if skf.NSplits < 2 || skf.NSplits > n {
		return nil, errors.NewValidationError("n_splits", "must be within [2, n_samples]", skf.NSplits)
	}
	if yr, _ := y.Dims(); yr != n {
		return nil, errors.NewDimensionError("StratifiedKFold.Split", n, yr, 0)
	}
	byClass := map[float64][]int{}
	for i := 0; i < n; i++ {
		byClass[y.At(i, 0)] = append(byClass[y.At(i, 0)], i)
	}
	labels := make([]float64, 0, len(byClass))
	for l := range byClass {
		labels = append(labels, l)
	}
	sort.Float64s(labels)

	var rng *rand.Rand
	if skf.Shuffle {
		rng = rand.New(rand.NewPCG(skf.Seed, 0x736b66))
	}
	assign := make([]int, n)
	next := 0
	for _, l := range labels {
		rows := byClass[l]
		if rng != nil {
			rng.Shuffle(len(rows), func(a, b int) { rows[a], rows[b] = rows[b], rows[a] })
		}
		for _, i := range rows {
			assign[i] = next
			next = (next + 1) % skf.NSplits
		}
	}
	return buildFolds(assign, skf.NSplits), nil
}

func buildFolds(assign []int, k int) []Fold {
	folds := make([]Fold, k)
	for i, f := range assign {
		for g := range folds {
			if g == f {
				folds[g].TestIndices = append(folds[g].TestIndices, i)
			} else {
				folds[g].TrainIndices = append(folds[g].TrainIndices, i)
			}
		}
	}
	return folds
}

// Subset copies the rows idx of X and y.
func Subset(X, y mat.Matrix, idx []int) (*mat.Dense, *mat.Dense) {
	_, p := X.Dims()
	xs := mat.NewDense(len(idx), p, nil)
	ys := mat.NewDense(len(idx), 1, nil)
	row := make([]float64, p)
	for k, i := range idx {
		mat.Row(row, i, X)
		xs.SetRow(k, row)
		ys.Set(k, 0, y.At(i, 0))
	}
	return xs, ys
}
