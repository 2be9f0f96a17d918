// Package ensemble provides bootstrap-aggregated tree ensembles: a random
// forest classifier and a bagged regression-tree regressor.
package ensemble

import (
	"encoding/gob"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"

	"github.com/spf13/cast"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/sipredict/core/model"
	"github.com/YuminosukeSato/sipredict/core/parallel"
	"github.com/YuminosukeSato/sipredict/metrics"
	"github.com/YuminosukeSato/sipredict/pkg/errors"
	"github.com/YuminosukeSato/sipredict/pkg/log"
	"github.com/YuminosukeSato/sipredict/sklearn/tree"
)

func init() {
	gob.Register(&RandomForestClassifier{})
	gob.Register(&BaggingRegressor{})
}

// RandomForestClassifier はブートストラップ標本と特徴量サブサンプリングによる
// 決定木のアンサンブル。確率は各木の葉のクラス比率の平均。
type RandomForestClassifier struct {
	State *model.StateManager

	NEstimators    int
	MaxFeatures    int // <= 0 は floor(sqrt(p))
	MaxDepth       int
	MinSamplesLeaf int
	Criterion      string
	Bootstrap      bool
	ComputeOOB     bool
	RandomState    uint64
	NJobs          int // <= 0 は GOMAXPROCS

	Trees       []*tree.Tree
	Classes     []float64
	Importances []float64
	// OOBAccuracy は ComputeOOB が true の場合のみ設定される
	OOBAccuracy float64
}

// ForestOption configures a RandomForestClassifier.
type ForestOption func(*RandomForestClassifier)

// WithNEstimators sets the number of trees.
func WithNEstimators(n int) ForestOption {
	return func(rf *RandomForestClassifier) { rf.NEstimators = n }
}

// WithMaxFeatures sets the number of features tried per split (mtry).
func WithMaxFeatures(n int) ForestOption {
	return func(rf *RandomForestClassifier) { rf.MaxFeatures = n }
}

// WithForestMaxDepth limits tree depth.
func WithForestMaxDepth(d int) ForestOption {
	return func(rf *RandomForestClassifier) { rf.MaxDepth = d }
}

// WithForestMinSamplesLeaf sets the minimum leaf size.
func WithForestMinSamplesLeaf(n int) ForestOption {
	return func(rf *RandomForestClassifier) { rf.MinSamplesLeaf = n }
}

// WithOOBScore enables out-of-bag accuracy.
func WithOOBScore(on bool) ForestOption {
	return func(rf *RandomForestClassifier) { rf.ComputeOOB = on }
}

// WithRandomState seeds the forest. Each tree derives its own stream from
// the seed and its index, so results do not depend on NJobs.
func WithRandomState(seed uint64) ForestOption {
	return func(rf *RandomForestClassifier) { rf.RandomState = seed }
}

// WithNJobs sets the number of worker goroutines.
func WithNJobs(n int) ForestOption {
	return func(rf *RandomForestClassifier) { rf.NJobs = n }
}

// NewRandomForestClassifier creates a forest of 500 gini trees with
// bootstrap sampling.
func NewRandomForestClassifier(opts ...ForestOption) *RandomForestClassifier {
	rf := &RandomForestClassifier{
		State:          model.NewStateManager(),
		NEstimators:    500,
		MinSamplesLeaf: 1,
		Criterion:      "gini",
		Bootstrap:      true,
	}
	for _, opt := range opts {
		opt(rf)
	}
	return rf
}

func workers(n int) int {
	if n <= 0 {
		return runtime.GOMAXPROCS(0)
	}
	return n
}

// bootstrap draws n indices with replacement and marks the in-bag rows.
func bootstrap(rng *rand.Rand, n int) ([]int, []bool) {
	idx := make([]int, n)
	inBag := make([]bool, n)
	for i := range idx {
		j := rng.IntN(n)
		idx[i] = j
		inBag[j] = true
	}
	return idx, inBag
}

// Fit grows NEstimators trees in parallel.
func (rf *RandomForestClassifier) Fit(X, y mat.Matrix) error {
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return errors.NewModelError("RandomForestClassifier.Fit", "empty data", errors.ErrEmptyData)
	}
	if yr, _ := y.Dims(); yr != r {
		return errors.NewDimensionError("RandomForestClassifier.Fit", r, yr, 0)
	}
	if rf.NEstimators <= 0 {
		return errors.NewValidationError("n_estimators", "must be positive", rf.NEstimators)
	}

	classes, codes := tree.EncodeLabels(mat.Col(nil, 0, y))
	mtry := rf.MaxFeatures
	if mtry <= 0 {
		mtry = max(1, int(math.Floor(math.Sqrt(float64(c)))))
	}
	data := tree.NewDataset(X)
	target := tree.ClassTarget{Y: codes, K: len(classes), Criterion: rf.Criterion}
	params := tree.Params{
		MaxDepth:       rf.MaxDepth,
		MinSamplesLeaf: rf.MinSamplesLeaf,
		MaxFeatures:    mtry,
	}

	trees := make([]*tree.Tree, rf.NEstimators)
	inBags := make([][]bool, rf.NEstimators)
	err := parallel.ForEach(rf.NEstimators, workers(rf.NJobs), func(t int) error {
		rng := rand.New(rand.NewPCG(rf.RandomState, uint64(t)))
		var samples []int
		if rf.Bootstrap {
			samples, inBags[t] = bootstrap(rng, r)
		} else {
			samples = make([]int, r)
			for i := range samples {
				samples[i] = i
			}
		}
		trees[t] = tree.Grow(data, target, samples, params, rng)
		return nil
	})
	if err != nil {
		return errors.NewModelError("RandomForestClassifier.Fit", "tree growth", err)
	}

	rf.Trees = trees
	rf.Classes = classes
	rf.Importances = meanImportances(trees, c)
	if rf.State == nil {
		rf.State = model.NewStateManager()
	}
	rf.State.SetDimensions(c, r)
	rf.State.SetFitted()

	if rf.ComputeOOB && rf.Bootstrap {
		rf.OOBAccuracy = rf.oobAccuracy(data, y, inBags)
	}
	log.GetLoggerWithName("ensemble").Debug("random forest fitted",
		log.OperationKey, log.OperationFit,
		log.SamplesKey, r,
		log.FeaturesKey, c,
		"n_estimators", rf.NEstimators,
		"mtry", mtry,
		"oob_accuracy", rf.OOBAccuracy,
	)
	return nil
}

func meanImportances(trees []*tree.Tree, p int) []float64 {
	out := make([]float64, p)
	for _, t := range trees {
		for j, v := range t.Importances() {
			out[j] += v
		}
	}
	for j := range out {
		out[j] /= float64(len(trees))
	}
	return out
}

func (rf *RandomForestClassifier) oobAccuracy(data *tree.Dataset, y mat.Matrix, inBags [][]bool) float64 {
	k := len(rf.Classes)
	var truth, pred []float64
	for i := 0; i < data.N; i++ {
		votes := make([]float64, k)
		seen := 0
		x := data.Row(i)
		for t, tr := range rf.Trees {
			if inBags[t][i] {
				continue
			}
			for c, v := range tr.Value(x) {
				votes[c] += v
			}
			seen++
		}
		if seen == 0 {
			continue
		}
		truth = append(truth, y.At(i, 0))
		pred = append(pred, rf.Classes[argmax(votes)])
	}
	if len(truth) == 0 {
		return math.NaN()
	}
	acc, err := metrics.Accuracy(mat.NewVecDense(len(truth), truth), mat.NewVecDense(len(pred), pred))
	if err != nil {
		return math.NaN()
	}
	return acc
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

func (rf *RandomForestClassifier) check(method string, X mat.Matrix) error {
	if err := rf.State.RequireFitted("RandomForestClassifier", method); err != nil {
		return err
	}
	_, c := X.Dims()
	return rf.State.RequireFeatures("RandomForestClassifier."+method, c)
}

// PredictProba averages the leaf class distributions over all trees.
func (rf *RandomForestClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	if err := rf.check("PredictProba", X); err != nil {
		return nil, err
	}
	r, c := X.Dims()
	k := len(rf.Classes)
	out := mat.NewDense(r, k, nil)
	parallel.ParallelizeWithThreshold(r, 64, func(start, end int) {
		x := make([]float64, c)
		row := make([]float64, k)
		for i := start; i < end; i++ {
			mat.Row(x, i, X)
			clear(row)
			for _, t := range rf.Trees {
				for j, v := range t.Value(x) {
					row[j] += v
				}
			}
			for j := range row {
				row[j] /= float64(len(rf.Trees))
			}
			out.SetRow(i, row)
		}
	})
	return out, nil
}

// Predict returns the class with the highest averaged probability.
func (rf *RandomForestClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	proba, err := rf.PredictProba(X)
	if err != nil {
		return nil, err
	}
	r, _ := proba.Dims()
	out := mat.NewDense(r, 1, nil)
	for i := 0; i < r; i++ {
		out.Set(i, 0, rf.Classes[argmax(mat.Row(nil, i, proba))])
	}
	return out, nil
}

// IsFitted reports whether Fit has completed.
func (rf *RandomForestClassifier) IsFitted() bool { return rf.State.IsFitted() }

// FeatureImportances returns the mean impurity importance across trees.
func (rf *RandomForestClassifier) FeatureImportances() ([]float64, error) {
	if err := rf.State.RequireFitted("RandomForestClassifier", "FeatureImportances"); err != nil {
		return nil, err
	}
	return append([]float64(nil), rf.Importances...), nil
}

// GetParams returns the hyperparameters.
func (rf *RandomForestClassifier) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"n_estimators":     rf.NEstimators,
		"max_features":     rf.MaxFeatures,
		"max_depth":        rf.MaxDepth,
		"min_samples_leaf": rf.MinSamplesLeaf,
		"random_state":     rf.RandomState,
	}
}

// SetParams updates hyperparameters by name.
func (rf *RandomForestClassifier) SetParams(params map[string]interface{}) error {
	for k, v := range params {
		var err error
		switch k {
		case "n_estimators":
			rf.NEstimators, err = cast.ToIntE(v)
		case "max_features", "mtry":
			rf.MaxFeatures, err = cast.ToIntE(v)
		case "max_depth":
			rf.MaxDepth, err = cast.ToIntE(v)
		case "min_samples_leaf":
			rf.MinSamplesLeaf, err = cast.ToIntE(v)
		case "random_state":
			rf.RandomState, err = cast.ToUint64E(v)
		default:
			return errors.NewValidationError(k, "unknown parameter", v)
		}
		if err != nil {
			return errors.NewValidationError(k, err.Error(), v)
		}
	}
	return nil
}

func (rf *RandomForestClassifier) String() string {
	return fmt.Sprintf("RandomForestClassifier(n_estimators=%d, max_features=%d)", rf.NEstimators, rf.MaxFeatures)
}
