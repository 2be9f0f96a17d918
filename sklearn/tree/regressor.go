package tree

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/sipredict/core/model"
	"github.com/YuminosukeSato/sipredict/pkg/errors"
)

// DecisionTreeRegressor is a CART regressor minimizing squared error.
type DecisionTreeRegressor struct {
	State *model.StateManager

	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
	MaxFeatures     int
	RandomState     uint64

	Tree *Tree
}

// NewDecisionTreeRegressor creates a regressor. It accepts the same options
// as the classifier; the criterion is ignored.
func NewDecisionTreeRegressor(opts ...Option) *DecisionTreeRegressor {
	c := NewDecisionTreeClassifier(opts...)
	return &DecisionTreeRegressor{
		State:           model.NewStateManager(),
		MaxDepth:        c.MaxDepth,
		MinSamplesSplit: c.MinSamplesSplit,
		MinSamplesLeaf:  c.MinSamplesLeaf,
		MaxFeatures:     c.MaxFeatures,
		RandomState:     c.RandomState,
	}
}

// Fit grows the tree. y must not contain NaN.
func (dt *DecisionTreeRegressor) Fit(X, y mat.Matrix) error {
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return errors.NewModelError("DecisionTreeRegressor.Fit", "empty data", errors.ErrEmptyData)
	}
	yr, _ := y.Dims()
	if yr != r {
		return errors.NewDimensionError("DecisionTreeRegressor.Fit", r, yr, 0)
	}
	target := mat.Col(nil, 0, y)
	if err := errors.CheckNumericalStability("DecisionTreeRegressor.Fit", target, 0); err != nil {
		return err
	}
	samples := make([]int, r)
	for i := range samples {
		samples[i] = i
	}
	rng := rand.New(rand.NewPCG(dt.RandomState, 0x7265677200000000))
	dt.Tree = Grow(NewDataset(X), RegTarget{Y: target}, samples, Params{
		MaxDepth:        dt.MaxDepth,
		MinSamplesSplit: dt.MinSamplesSplit,
		MinSamplesLeaf:  dt.MinSamplesLeaf,
		MaxFeatures:     dt.MaxFeatures,
	}, rng)
	if dt.State == nil {
		dt.State = model.NewStateManager()
	}
	dt.State.SetDimensions(c, r)
	dt.State.SetFitted()
	return nil
}

// Predict returns the leaf mean per row.
func (dt *DecisionTreeRegressor) Predict(X mat.Matrix) (mat.Matrix, error) {
	if err := dt.State.RequireFitted("DecisionTreeRegressor", "Predict"); err != nil {
		return nil, err
	}
	r, c := X.Dims()
	if err := dt.State.RequireFeatures("DecisionTreeRegressor.Predict", c); err != nil {
		return nil, err
	}
	out := mat.NewDense(r, 1, nil)
	x := make([]float64, c)
	for i := 0; i < r; i++ {
		mat.Row(x, i, X)
		out.Set(i, 0, dt.Tree.Value(x)[0])
	}
	return out, nil
}

// IsFitted reports whether Fit has completed.
func (dt *DecisionTreeRegressor) IsFitted() bool { return dt.State.IsFitted() }

// FeatureImportances returns impurity-decrease importances summing to one.
func (dt *DecisionTreeRegressor) FeatureImportances() ([]float64, error) {
	if err := dt.State.RequireFitted("DecisionTreeRegressor", "FeatureImportances"); err != nil {
		return nil, err
	}
	return dt.Tree.Importances(), nil
}
