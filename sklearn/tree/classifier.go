package tree

import (
	"encoding/gob"
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/spf13/cast"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/sipredict/core/model"
	"github.com/YuminosukeSato/sipredict/pkg/errors"
)

func init() {
	gob.Register(&DecisionTreeClassifier{})
	gob.Register(&DecisionTreeRegressor{})
}

// DecisionTreeClassifier is a CART classifier.
type DecisionTreeClassifier struct {
	State *model.StateManager

	// Hyperparameters
	Criterion       string // "gini" or "entropy"
	MaxDepth        int    // <= 0 は無制限
	MinSamplesSplit int
	MinSamplesLeaf  int
	MaxFeatures     int // <= 0 は全特徴量
	RandomState     uint64

	// Fitted
	Tree     *Tree
	Classes  []float64
	NClasses int
}

// Option configures a decision tree.
type Option func(*DecisionTreeClassifier)

// WithCriterion sets the split criterion ("gini" or "entropy").
func WithCriterion(c string) Option {
	return func(dt *DecisionTreeClassifier) { dt.Criterion = c }
}

// WithMaxDepth limits the depth of the tree.
func WithMaxDepth(d int) Option {
	return func(dt *DecisionTreeClassifier) { dt.MaxDepth = d }
}

// WithMinSamplesSplit sets the minimum node size that may be split.
func WithMinSamplesSplit(n int) Option {
	return func(dt *DecisionTreeClassifier) { dt.MinSamplesSplit = n }
}

// WithMinSamplesLeaf sets the minimum number of samples in a leaf.
func WithMinSamplesLeaf(n int) Option {
	return func(dt *DecisionTreeClassifier) { dt.MinSamplesLeaf = n }
}

// WithMaxFeatures sets the number of features drawn at each node.
func WithMaxFeatures(n int) Option {
	return func(dt *DecisionTreeClassifier) { dt.MaxFeatures = n }
}

// WithRandomState seeds the feature sampling.
func WithRandomState(seed uint64) Option {
	return func(dt *DecisionTreeClassifier) { dt.RandomState = seed }
}

// NewDecisionTreeClassifier creates a classifier with gini impurity and no
// depth limit.
func NewDecisionTreeClassifier(opts ...Option) *DecisionTreeClassifier {
	dt := &DecisionTreeClassifier{
		State:           model.NewStateManager(),
		Criterion:       "gini",
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
	}
	for _, opt := range opts {
		opt(dt)
	}
	return dt
}

func (dt *DecisionTreeClassifier) params() Params {
	return Params{
		MaxDepth:        dt.MaxDepth,
		MinSamplesSplit: dt.MinSamplesSplit,
		MinSamplesLeaf:  dt.MinSamplesLeaf,
		MaxFeatures:     dt.MaxFeatures,
	}
}

// Fit grows the tree on X (NaN allowed) and class labels y.
func (dt *DecisionTreeClassifier) Fit(X, y mat.Matrix) error {
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return errors.NewModelError("DecisionTreeClassifier.Fit", "empty data", errors.ErrEmptyData)
	}
	yr, _ := y.Dims()
	if yr != r {
		return errors.NewDimensionError("DecisionTreeClassifier.Fit", r, yr, 0)
	}
	if dt.Criterion != "gini" && dt.Criterion != "entropy" {
		return errors.NewValidationError("criterion", "must be gini or entropy", dt.Criterion)
	}

	classes, codes := EncodeLabels(mat.Col(nil, 0, y))
	samples := make([]int, r)
	for i := range samples {
		samples[i] = i
	}
	rng := rand.New(rand.NewPCG(dt.RandomState, 0x7472656500000000))
	dt.Tree = Grow(NewDataset(X), ClassTarget{Y: codes, K: len(classes), Criterion: dt.Criterion}, samples, dt.params(), rng)
	dt.Classes = classes
	dt.NClasses = len(classes)

	if dt.State == nil {
		dt.State = model.NewStateManager()
	}
	dt.State.SetDimensions(c, r)
	dt.State.SetFitted()
	return nil
}

// EncodeLabels maps arbitrary label values to codes 0..K-1 in ascending
// label order.
func EncodeLabels(y []float64) (classes []float64, codes []int) {
	seen := map[float64]bool{}
	for _, v := range y {
		if !seen[v] {
			seen[v] = true
			classes = append(classes, v)
		}
	}
	sort.Float64s(classes)
	index := make(map[float64]int, len(classes))
	for k, v := range classes {
		index[v] = k
	}
	codes = make([]int, len(y))
	for i, v := range y {
		codes[i] = index[v]
	}
	return classes, codes
}

func (dt *DecisionTreeClassifier) check(method string, X mat.Matrix) error {
	if err := dt.State.RequireFitted("DecisionTreeClassifier", method); err != nil {
		return err
	}
	_, c := X.Dims()
	return dt.State.RequireFeatures("DecisionTreeClassifier."+method, c)
}

// PredictProba returns one column per class in Classes order.
func (dt *DecisionTreeClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	if err := dt.check("PredictProba", X); err != nil {
		return nil, err
	}
	r, c := X.Dims()
	out := mat.NewDense(r, dt.NClasses, nil)
	x := make([]float64, c)
	for i := 0; i < r; i++ {
		mat.Row(x, i, X)
		out.SetRow(i, dt.Tree.Value(x))
	}
	return out, nil
}

// Predict returns the most probable class per row.
func (dt *DecisionTreeClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	proba, err := dt.PredictProba(X)
	if err != nil {
		return nil, err
	}
	r, _ := proba.Dims()
	out := mat.NewDense(r, 1, nil)
	for i := 0; i < r; i++ {
		out.Set(i, 0, dt.Classes[argmax(mat.Row(nil, i, proba))])
	}
	return out, nil
}

func argmax(v []float64) int {
	best := 0
	for k := 1; k < len(v); k++ {
		if v[k] > v[best] {
			best = k
		}
	}
	return best
}

// Score returns the accuracy on (X, y); 0 when prediction fails.
func (dt *DecisionTreeClassifier) Score(X, y mat.Matrix) float64 {
	pred, err := dt.Predict(X)
	if err != nil {
		return 0
	}
	r, _ := y.Dims()
	correct := 0
	for i := 0; i < r; i++ {
		if pred.At(i, 0) == y.At(i, 0) {
			correct++
		}
	}
	return float64(correct) / float64(r)
}

// IsFitted reports whether Fit has completed.
func (dt *DecisionTreeClassifier) IsFitted() bool { return dt.State.IsFitted() }

// FeatureImportances returns impurity-decrease importances summing to one.
func (dt *DecisionTreeClassifier) FeatureImportances() ([]float64, error) {
	if err := dt.State.RequireFitted("DecisionTreeClassifier", "FeatureImportances"); err != nil {
		return nil, err
	}
	return dt.Tree.Importances(), nil
}

// Depth returns the fitted depth.
func (dt *DecisionTreeClassifier) Depth() int {
	if dt.Tree == nil {
		return 0
	}
	return dt.Tree.Depth()
}

// NLeaves returns the number of leaves.
func (dt *DecisionTreeClassifier) NLeaves() int {
	if dt.Tree == nil {
		return 0
	}
	return dt.Tree.NLeaves()
}

// GetParams returns the hyperparameters.
func (dt *DecisionTreeClassifier) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"criterion":         dt.Criterion,
		"max_depth":         dt.MaxDepth,
		"min_samples_split": dt.MinSamplesSplit,
		"min_samples_leaf":  dt.MinSamplesLeaf,
		"max_features":      dt.MaxFeatures,
		"random_state":      dt.RandomState,
	}
}

// SetParams updates hyperparameters by name.
func (dt *DecisionTreeClassifier) SetParams(params map[string]interface{}) error {
	for k, v := range params {
		var err error
		switch k {
		case "criterion":
			dt.Criterion, err = cast.ToStringE(v)
		case "max_depth":
			dt.MaxDepth, err = cast.ToIntE(v)
		case "min_samples_split":
			dt.MinSamplesSplit, err = cast.ToIntE(v)
		case "min_samples_leaf":
			dt.MinSamplesLeaf, err = cast.ToIntE(v)
		case "max_features":
			dt.MaxFeatures, err = cast.ToIntE(v)
		case "random_state":
			dt.RandomState, err = cast.ToUint64E(v)
		default:
			return errors.NewValidationError(k, "unknown parameter", v)
		}
		if err != nil {
			return errors.NewValidationError(k, err.Error(), v)
		}
	}
	return nil
}

func (dt *DecisionTreeClassifier) String() string {
	return fmt.Sprintf("DecisionTreeClassifier(criterion=%s, max_depth=%d, min_samples_leaf=%d)",
		dt.Criterion, dt.MaxDepth, dt.MinSamplesLeaf)
}
