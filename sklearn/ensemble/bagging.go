package ensemble

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/sipredict/core/model"
	"github.com/YuminosukeSato/sipredict/core/parallel"
	"github.com/YuminosukeSato/sipredict/metrics"
	"github.com/YuminosukeSato/sipredict/pkg/errors"
	"github.com/YuminosukeSato/sipredict/sklearn/tree"
)

// BaggingRegressor averages regression trees grown on bootstrap samples.
type BaggingRegressor struct {
	State *model.StateManager

	NEstimators    int
	MaxDepth       int
	MinSamplesLeaf int
	RandomState    uint64
	NJobs          int

	Trees []*tree.Tree
	// OOBRMSE は out-of-bag 予測の RMSE。OOB 予測が得られない場合は NaN
	OOBRMSE float64
}

// BaggingOption configures a BaggingRegressor.
type BaggingOption func(*BaggingRegressor)

// WithBags sets the number of bootstrap trees.
func WithBags(n int) BaggingOption {
	return func(b *BaggingRegressor) { b.NEstimators = n }
}

// WithBaggingSeed seeds the bootstrap draws.
func WithBaggingSeed(seed uint64) BaggingOption {
	return func(b *BaggingRegressor) { b.RandomState = seed }
}

// WithBaggingMinSamplesLeaf sets the leaf size of every tree.
func WithBaggingMinSamplesLeaf(n int) BaggingOption {
	return func(b *BaggingRegressor) { b.MinSamplesLeaf = n }
}

// WithBaggingMaxDepth limits tree depth.
func WithBaggingMaxDepth(d int) BaggingOption {
	return func(b *BaggingRegressor) { b.MaxDepth = d }
}

// WithBaggingNJobs sets the number of worker goroutines.
func WithBaggingNJobs(n int) BaggingOption {
	return func(b *BaggingRegressor) { b.NJobs = n }
}

// NewBaggingRegressor creates a 25-tree bagged regressor.
func NewBaggingRegressor(opts ...BaggingOption) *BaggingRegressor {
	b := &BaggingRegressor{
		State:          model.NewStateManager(),
		NEstimators:    25,
		MinSamplesLeaf: 5,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Fit grows the trees. y must be complete; X may contain NaN.
func (b *BaggingRegressor) Fit(X, y mat.Matrix) error {
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return errors.NewModelError("BaggingRegressor.Fit", "empty data", errors.ErrEmptyData)
	}
	if yr, _ := y.Dims(); yr != r {
		return errors.NewDimensionError("BaggingRegressor.Fit", r, yr, 0)
	}
	target := mat.Col(nil, 0, y)
	if err := errors.CheckNumericalStability("BaggingRegressor.Fit", target, 0); err != nil {
		return err
	}
	data := tree.NewDataset(X)
	params := tree.Params{MaxDepth: b.MaxDepth, MinSamplesLeaf: b.MinSamplesLeaf}

	trees := make([]*tree.Tree, b.NEstimators)
	inBags := make([][]bool, b.NEstimators)
	err := parallel.ForEach(b.NEstimators, workers(b.NJobs), func(t int) error {
		rng := rand.New(rand.NewPCG(b.RandomState, uint64(t)))
		var samples []int
		samples, inBags[t] = bootstrap(rng, r)
		trees[t] = tree.Grow(data, tree.RegTarget{Y: target}, samples, params, rng)
		return nil
	})
	if err != nil {
		return errors.NewModelError("BaggingRegressor.Fit", "tree growth", err)
	}
	b.Trees = trees
	b.OOBRMSE = oobRMSE(data, target, trees, inBags)

	if b.State == nil {
		b.State = model.NewStateManager()
	}
	b.State.SetDimensions(c, r)
	b.State.SetFitted()
	return nil
}

func oobRMSE(data *tree.Dataset, y []float64, trees []*tree.Tree, inBags [][]bool) float64 {
	var truth, pred []float64
	for i := 0; i < data.N; i++ {
		sum, n := 0.0, 0
		x := data.Row(i)
		for t, tr := range trees {
			if inBags[t][i] {
				continue
			}
			sum += tr.Value(x)[0]
			n++
		}
		if n == 0 {
			continue
		}
		truth = append(truth, y[i])
		pred = append(pred, sum/float64(n))
	}
	if len(truth) == 0 {
		return math.NaN()
	}
	rmse, err := metrics.RMSE(mat.NewVecDense(len(truth), truth), mat.NewVecDense(len(pred), pred))
	if err != nil {
		return math.NaN()
	}
	return rmse
}

// PredictRow returns the bagged prediction for one feature vector.
func (b *BaggingRegressor) PredictRow(x []float64) float64 {
	sum := 0.0
	for _, t := range b.Trees {
		sum += t.Value(x)[0]
	}
	return sum / float64(len(b.Trees))
}

// Predict returns the mean tree prediction per row.
func (b *BaggingRegressor) Predict(X mat.Matrix) (mat.Matrix, error) {
	if err := b.State.RequireFitted("BaggingRegressor", "Predict"); err != nil {
		return nil, err
	}
	r, c := X.Dims()
	if err := b.State.RequireFeatures("BaggingRegressor.Predict", c); err != nil {
		return nil, err
	}
	out := mat.NewDense(r, 1, nil)
	x := make([]float64, c)
	for i := 0; i < r; i++ {
		mat.Row(x, i, X)
		out.Set(i, 0, b.PredictRow(x))
	}
	return out, nil
}

// IsFitted reports whether Fit has completed.
func (b *BaggingRegressor) IsFitted() bool { return b.State.IsFitted() }
