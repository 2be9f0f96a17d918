// Package impute fills missing feature values with models fitted on
// training rows only.
package impute

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/sipredict/core/model"
	"github.com/YuminosukeSato/sipredict/core/parallel"
	"github.com/YuminosukeSato/sipredict/pkg/errors"
	"github.com/YuminosukeSato/sipredict/pkg/log"
	"github.com/YuminosukeSato/sipredict/sklearn/ensemble"
)

// BaggedTreeImputer は列ごとに、他の全列から予測するバギング回帰木を学習する。
// 説明変数側の欠損は学習時の中央値で埋めてから予測する。
// Transform は欠損セルだけを書き換え、観測値は変更しない。
type BaggedTreeImputer struct {
	State *model.StateManager

	NBags       int
	RandomState uint64
	NJobs       int
	// Binary 列は予測値を 0.5 で閾値処理して 0/1 にする
	Binary []bool

	Medians []float64
	Models  []*ensemble.BaggingRegressor
}

// Option configures a BaggedTreeImputer.
type Option func(*BaggedTreeImputer)

// WithBags sets the number of bootstrap trees per column.
func WithBags(n int) Option {
	return func(b *BaggedTreeImputer) { b.NBags = n }
}

// WithRandomState seeds every column model.
func WithRandomState(seed uint64) Option {
	return func(b *BaggedTreeImputer) { b.RandomState = seed }
}

// WithNJobs sets the number of columns fitted concurrently.
func WithNJobs(n int) Option {
	return func(b *BaggedTreeImputer) { b.NJobs = n }
}

// WithBinaryColumns marks column indices whose imputations are thresholded.
func WithBinaryColumns(nFeatures int, idx ...int) Option {
	return func(b *BaggedTreeImputer) {
		b.Binary = make([]bool, nFeatures)
		for _, j := range idx {
			b.Binary[j] = true
		}
	}
}

// NewBaggedTreeImputer creates an imputer with 25 bags per column.
func NewBaggedTreeImputer(opts ...Option) *BaggedTreeImputer {
	b := &BaggedTreeImputer{
		State: model.NewStateManager(),
		NBags: 25,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Fit learns medians and one bagged model per column from X.
func (b *BaggedTreeImputer) Fit(X mat.Matrix) error {
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return errors.NewModelError("BaggedTreeImputer.Fit", "empty data", errors.ErrEmptyData)
	}
	if b.Binary != nil && len(b.Binary) != c {
		return errors.NewDimensionError("BaggedTreeImputer.Fit", len(b.Binary), c, 1)
	}
	if c < 2 {
		return errors.NewValidationError("X", "need at least two columns to impute from", c)
	}

	medians := make([]float64, c)
	for j := 0; j < c; j++ {
		m, n := median(mat.Col(nil, j, X))
		if n < 2 {
			return errors.NewValidationError("X", "column has fewer than two observed values", j)
		}
		medians[j] = m
	}
	filled := prefill(X, medians)

	models := make([]*ensemble.BaggingRegressor, c)
	err := parallel.ForEach(c, b.NJobs, func(j int) error {
		var rows []int
		for i := 0; i < r; i++ {
			if !math.IsNaN(X.At(i, j)) {
				rows = append(rows, i)
			}
		}
		Xj := mat.NewDense(len(rows), c-1, nil)
		yj := mat.NewDense(len(rows), 1, nil)
		for k, i := range rows {
			Xj.SetRow(k, without(filled.RawRowView(i), j))
			yj.Set(k, 0, X.At(i, j))
		}
		m := ensemble.NewBaggingRegressor(
			ensemble.WithBags(b.NBags),
			ensemble.WithBaggingSeed(b.RandomState+uint64(j)),
			ensemble.WithBaggingNJobs(1),
		)
		if err := m.Fit(Xj, yj); err != nil {
			return errors.Wrapf(err, "column %d", j)
		}
		models[j] = m
		return nil
	})
	if err != nil {
		return errors.NewModelError("BaggedTreeImputer.Fit", "column model", err)
	}

	b.Medians = medians
	b.Models = models
	if b.State == nil {
		b.State = model.NewStateManager()
	}
	b.State.SetDimensions(c, r)
	b.State.SetFitted()

	logger := log.GetLoggerWithName("impute")
	for j, m := range models {
		logger.Debug("column imputation model fitted",
			"column_index", j,
			"oob_rmse", m.OOBRMSE,
		)
	}
	return nil
}

// Transform returns a copy of X with missing cells predicted. The imputer
// itself is not modified.
func (b *BaggedTreeImputer) Transform(X mat.Matrix) (mat.Matrix, error) {
	if err := b.State.RequireFitted("BaggedTreeImputer", "Transform"); err != nil {
		return nil, err
	}
	r, c := X.Dims()
	if err := b.State.RequireFeatures("BaggedTreeImputer.Transform", c); err != nil {
		return nil, err
	}
	filled := prefill(X, b.Medians)
	out := mat.DenseCopyOf(X)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if !math.IsNaN(X.At(i, j)) {
				continue
			}
			v := b.Models[j].PredictRow(without(filled.RawRowView(i), j))
			if b.Binary != nil && b.Binary[j] {
				if v >= 0.5 {
					v = 1
				} else {
					v = 0
				}
			}
			out.Set(i, j, v)
		}
	}
	return out, nil
}

// FitTransform fits on X and imputes X.
func (b *BaggedTreeImputer) FitTransform(X mat.Matrix) (mat.Matrix, error) {
	if err := b.Fit(X); err != nil {
		return nil, err
	}
	return b.Transform(X)
}

// IsFitted reports whether Fit has completed.
func (b *BaggedTreeImputer) IsFitted() bool { return b.State.IsFitted() }

// median returns the median of the non-NaN values and their count.
func median(v []float64) (float64, int) {
	obs := v[:0:0]
	for _, x := range v {
		if !math.IsNaN(x) {
			obs = append(obs, x)
		}
	}
	n := len(obs)
	if n == 0 {
		return math.NaN(), 0
	}
	sort.Float64s(obs)
	if n%2 == 1 {
		return obs[n/2], n
	}
	return (obs[n/2-1] + obs[n/2]) / 2, n
}

func prefill(X mat.Matrix, medians []float64) *mat.Dense {
	out := mat.DenseCopyOf(X)
	r, c := out.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if math.IsNaN(out.At(i, j)) {
				out.Set(i, j, medians[j])
			}
		}
	}
	return out
}

func without(row []float64, j int) []float64 {
	out := make([]float64, 0, len(row)-1)
	out = append(out, row[:j]...)
	return append(out, row[j+1:]...)
}
