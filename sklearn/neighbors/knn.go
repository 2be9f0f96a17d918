// Package neighbors implements k-nearest-neighbour classification.
package neighbors

import (
	"encoding/gob"
	"fmt"
	"math"
	"sort"

	"github.com/spf13/cast"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/sipredict/core/model"
	"github.com/YuminosukeSato/sipredict/core/parallel"
	"github.com/YuminosukeSato/sipredict/pkg/errors"
	"github.com/YuminosukeSato/sipredict/sklearn/tree"
)

func init() {
	gob.Register(&KNeighborsClassifier{})
}

// KNeighborsClassifier votes among the K training rows closest in Euclidean
// distance. Probabilities are vote shares. Inputs are expected to be on a
// common scale; the caller standardizes.
type KNeighborsClassifier struct {
	State *model.StateManager

	K int

	// 学習データ (行優先)
	Train   [][]float64
	Codes   []int
	Classes []float64
}

// Option configures a KNeighborsClassifier.
type Option func(*KNeighborsClassifier)

// WithK sets the number of neighbours.
func WithK(k int) Option {
	return func(c *KNeighborsClassifier) { c.K = k }
}

// NewKNeighborsClassifier creates a 5-nearest-neighbour classifier.
func NewKNeighborsClassifier(opts ...Option) *KNeighborsClassifier {
	c := &KNeighborsClassifier{State: model.NewStateManager(), K: 5}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fit stores the training rows.
func (c *KNeighborsClassifier) Fit(X, y mat.Matrix) error {
	r, p := X.Dims()
	if r == 0 || p == 0 {
		return errors.NewModelError("KNeighborsClassifier.Fit", "empty data", errors.ErrEmptyData)
	}
	if yr, _ := y.Dims(); yr != r {
		return errors.NewDimensionError("KNeighborsClassifier.Fit", r, yr, 0)
	}
	if c.K <= 0 {
		return errors.NewValidationError("k", "must be positive", c.K)
	}
	if c.K > r {
		return errors.NewValidationError("k", fmt.Sprintf("exceeds training rows (%d)", r), c.K)
	}
	train := make([][]float64, r)
	for i := range train {
		train[i] = mat.Row(nil, i, X)
		if floats.HasNaN(train[i]) {
			return errors.NewValueError("KNeighborsClassifier.Fit", fmt.Sprintf("row %d contains NaN", i))
		}
	}
	c.Classes, c.Codes = tree.EncodeLabels(mat.Col(nil, 0, y))
	c.Train = train
	if c.State == nil {
		c.State = model.NewStateManager()
	}
	c.State.SetDimensions(p, r)
	c.State.SetFitted()
	return nil
}

type neighbour struct {
	dist float64
	idx  int
}

// votes returns per-class vote shares for x. Distance ties are broken by
// training row order.
func (c *KNeighborsClassifier) votes(x []float64, nb []neighbour, out []float64) {
	for i, row := range c.Train {
		nb[i] = neighbour{dist: floats.Distance(x, row, 2), idx: i}
	}
	sort.Slice(nb, func(a, b int) bool {
		if nb[a].dist != nb[b].dist {
			return nb[a].dist < nb[b].dist
		}
		return nb[a].idx < nb[b].idx
	})
	clear(out)
	for _, n := range nb[:c.K] {
		out[c.Codes[n.idx]]++
	}
	for k := range out {
		out[k] /= float64(c.K)
	}
}

// PredictProba returns the vote share of each class per row.
func (c *KNeighborsClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	if err := c.State.RequireFitted("KNeighborsClassifier", "PredictProba"); err != nil {
		return nil, err
	}
	r, p := X.Dims()
	if err := c.State.RequireFeatures("KNeighborsClassifier.PredictProba", p); err != nil {
		return nil, err
	}
	for i := 0; i < r; i++ {
		for j := 0; j < p; j++ {
			if math.IsNaN(X.At(i, j)) {
				return nil, errors.NewValueError("KNeighborsClassifier.PredictProba", fmt.Sprintf("row %d contains NaN", i))
			}
		}
	}
	k := len(c.Classes)
	out := mat.NewDense(r, k, nil)
	parallel.ParallelizeWithThreshold(r, 32, func(start, end int) {
		x := make([]float64, p)
		nb := make([]neighbour, len(c.Train))
		share := make([]float64, k)
		for i := start; i < end; i++ {
			mat.Row(x, i, X)
			c.votes(x, nb, share)
			out.SetRow(i, share)
		}
	})
	return out, nil
}

// Predict returns the majority class; ties go to the lower class.
func (c *KNeighborsClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	proba, err := c.PredictProba(X)
	if err != nil {
		return nil, err
	}
	r, k := proba.Dims()
	out := mat.NewDense(r, 1, nil)
	for i := 0; i < r; i++ {
		best := 0
		for j := 1; j < k; j++ {
			if proba.At(i, j) > proba.At(i, best) {
				best = j
			}
		}
		out.Set(i, 0, c.Classes[best])
	}
	return out, nil
}

// IsFitted reports whether Fit has completed.
func (c *KNeighborsClassifier) IsFitted() bool { return c.State.IsFitted() }

// GetParams returns the hyperparameters.
func (c *KNeighborsClassifier) GetParams() map[string]interface{} {
	return map[string]interface{}{"k": c.K}
}

// SetParams updates hyperparameters by name.
func (c *KNeighborsClassifier) SetParams(params map[string]interface{}) error {
	for key, v := range params {
		switch key {
		case "k", "n_neighbors":
			k, err := cast.ToIntE(v)
			if err != nil {
				return errors.NewValidationError(key, err.Error(), v)
			}
			c.K = k
		default:
			return errors.NewValidationError(key, "unknown parameter", v)
		}
	}
	return nil
}

func (c *KNeighborsClassifier) String() string {
	return fmt.Sprintf("KNeighborsClassifier(k=%d)", c.K)
}
