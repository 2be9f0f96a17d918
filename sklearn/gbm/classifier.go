// Package gbm implements stochastic gradient boosting of regression trees for
// binary classification. Each round fits a tree to the gradient and hessian
// of the Bernoulli deviance and adds its Newton leaf values, scaled by the
// learning rate, to the raw score.
package gbm

import (
	"context"
	"encoding/gob"
	"fmt"
	"math/rand/v2"

	"github.com/spf13/cast"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/sipredict/core/model"
	"github.com/YuminosukeSato/sipredict/core/parallel"
	"github.com/YuminosukeSato/sipredict/pkg/errors"
	"github.com/YuminosukeSato/sipredict/pkg/log"
	"github.com/YuminosukeSato/sipredict/sklearn/tree"
)

func init() {
	gob.Register(&Classifier{})
}

// Classifier is a binary gradient boosting classifier.
type Classifier struct {
	State *model.StateManager

	NEstimators    int     // boosting rounds
	MaxDepth       int     // interaction depth
	LearningRate   float64 // shrinkage
	MinSamplesLeaf int
	Subsample      float64 // fraction of rows drawn without replacement per round
	Lambda         float64 // L2 regularization on leaf values
	RandomState    uint64

	Trees       []*tree.Tree
	InitScore   float64
	Classes     []float64
	Importances []float64
	// TrainLoss は各ラウンド後の学習データ平均 deviance
	TrainLoss []float64
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithNEstimators sets the number of boosting rounds.
func WithNEstimators(n int) Option {
	return func(c *Classifier) { c.NEstimators = n }
}

// WithMaxDepth sets the depth of each tree.
func WithMaxDepth(d int) Option {
	return func(c *Classifier) { c.MaxDepth = d }
}

// WithLearningRate sets the shrinkage.
func WithLearningRate(lr float64) Option {
	return func(c *Classifier) { c.LearningRate = lr }
}

// WithMinSamplesLeaf sets the minimum number of rows per leaf.
func WithMinSamplesLeaf(n int) Option {
	return func(c *Classifier) { c.MinSamplesLeaf = n }
}

// WithSubsample sets the per-round row fraction.
func WithSubsample(f float64) Option {
	return func(c *Classifier) { c.Subsample = f }
}

// WithLambda sets the leaf L2 penalty.
func WithLambda(l float64) Option {
	return func(c *Classifier) { c.Lambda = l }
}

// WithRandomState seeds row subsampling.
func WithRandomState(seed uint64) Option {
	return func(c *Classifier) { c.RandomState = seed }
}

// NewClassifier creates a booster with 100 depth-1 trees, shrinkage 0.1,
// half-sample bagging and minimum leaf size 10.
func NewClassifier(opts ...Option) *Classifier {
	c := &Classifier{
		State:          model.NewStateManager(),
		NEstimators:    100,
		MaxDepth:       1,
		LearningRate:   0.1,
		MinSamplesLeaf: 10,
		Subsample:      0.5,
		Lambda:         1.0,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Classifier) validate() error {
	switch {
	case c.NEstimators <= 0:
		return errors.NewValidationError("n_estimators", "must be positive", c.NEstimators)
	case c.MaxDepth <= 0:
		return errors.NewValidationError("max_depth", "must be positive", c.MaxDepth)
	case c.LearningRate <= 0 || c.LearningRate > 1:
		return errors.NewValidationError("learning_rate", "must be within (0, 1]", c.LearningRate)
	case c.Subsample <= 0 || c.Subsample > 1:
		return errors.NewValidationError("subsample", "must be within (0, 1]", c.Subsample)
	case c.Lambda < 0:
		return errors.NewValidationError("lambda", "must be non-negative", c.Lambda)
	}
	return nil
}

// Fit runs NEstimators boosting rounds.
func (c *Classifier) Fit(X, y mat.Matrix) error {
	r, p := X.Dims()
	if r == 0 || p == 0 {
		return errors.NewModelError("gbm.Classifier.Fit", "empty data", errors.ErrEmptyData)
	}
	if yr, _ := y.Dims(); yr != r {
		return errors.NewDimensionError("gbm.Classifier.Fit", r, yr, 0)
	}
	if err := c.validate(); err != nil {
		return err
	}
	classes, codes := tree.EncodeLabels(mat.Col(nil, 0, y))
	if len(classes) != 2 {
		return errors.Wrapf(errors.ErrSingleClass, "gbm.Classifier.Fit: need exactly two classes, got %d", len(classes))
	}
	target := make([]float64, r)
	for i, k := range codes {
		target[i] = float64(k)
	}

	obj := BinaryLogloss{}
	data := tree.NewDataset(X)
	rows := make([][]float64, r)
	for i := range rows {
		rows[i] = data.Row(i)
	}
	init := obj.GetInitScore(target)
	score := make([]float64, r)
	for i := range score {
		score[i] = init
	}
	grad := make([]float64, r)
	hess := make([]float64, r)
	rng := rand.New(rand.NewPCG(c.RandomState, 0x9b4d))
	params := tree.Params{MaxDepth: c.MaxDepth, MinSamplesLeaf: c.MinSamplesLeaf}
	nSub := max(1, int(c.Subsample*float64(r)))
	perm := make([]int, r)
	for i := range perm {
		perm[i] = i
	}

	trees := make([]*tree.Tree, 0, c.NEstimators)
	losses := make([]float64, 0, c.NEstimators)
	gain := make([]float64, p)
	logger := log.GetLoggerWithName("gbm")
	for m := 0; m < c.NEstimators; m++ {
		for i := range grad {
			grad[i] = obj.CalculateGradient(score[i], target[i])
			hess[i] = obj.CalculateHessian(score[i], target[i])
		}
		samples := perm
		if nSub < r {
			rng.Shuffle(r, func(a, b int) { perm[a], perm[b] = perm[b], perm[a] })
			samples = perm[:nSub]
		}
		t := tree.Grow(data, gradTarget{grad: grad, hess: hess, lambda: c.Lambda}, samples, params, nil)
		for j, g := range t.Gain {
			gain[j] += g
		}
		parallel.ParallelizeWithThreshold(r, 256, func(start, end int) {
			for i := start; i < end; i++ {
				score[i] += c.LearningRate * t.Value(rows[i])[0]
			}
		})
		loss := 0.0
		for i := range score {
			loss += obj.CalculateLoss(score[i], target[i])
		}
		loss /= float64(r)
		if err := errors.CheckScalar("gbm.Classifier.Fit", loss, m); err != nil {
			return err
		}
		trees = append(trees, t)
		losses = append(losses, loss)
		if logger.Enabled(context.Background(), log.LevelDebug) && (m+1)%50 == 0 {
			logger.Debug("boosting round", log.IterationKey, m+1, log.LossKey, loss)
		}
	}

	c.Trees = trees
	c.InitScore = init
	c.Classes = classes
	c.TrainLoss = losses
	c.Importances = normalize(gain)
	if c.State == nil {
		c.State = model.NewStateManager()
	}
	c.State.SetDimensions(p, r)
	c.State.SetFitted()
	return nil
}

func normalize(v []float64) []float64 {
	out := make([]float64, len(v))
	total := 0.0
	for _, x := range v {
		total += x
	}
	if total <= 0 {
		return out
	}
	for j, x := range v {
		out[j] = x / total
	}
	return out
}

// DecisionFunction returns the raw logit score per row.
func (c *Classifier) DecisionFunction(X mat.Matrix) ([]float64, error) {
	if err := c.State.RequireFitted("gbm.Classifier", "DecisionFunction"); err != nil {
		return nil, err
	}
	r, p := X.Dims()
	if err := c.State.RequireFeatures("gbm.Classifier.DecisionFunction", p); err != nil {
		return nil, err
	}
	out := make([]float64, r)
	parallel.ParallelizeWithThreshold(r, 64, func(start, end int) {
		x := make([]float64, p)
		for i := start; i < end; i++ {
			mat.Row(x, i, X)
			s := c.InitScore
			for _, t := range c.Trees {
				s += c.LearningRate * t.Value(x)[0]
			}
			out[i] = s
		}
	})
	return out, nil
}

// PredictProba returns [P(class 0), P(class 1)] per row.
func (c *Classifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	raw, err := c.DecisionFunction(X)
	if err != nil {
		return nil, err
	}
	out := mat.NewDense(len(raw), 2, nil)
	for i, s := range raw {
		p1 := sigmoid(s)
		out.Set(i, 0, 1-p1)
		out.Set(i, 1, p1)
	}
	return out, nil
}

// Predict thresholds the positive probability at 0.5.
func (c *Classifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	raw, err := c.DecisionFunction(X)
	if err != nil {
		return nil, err
	}
	out := mat.NewDense(len(raw), 1, nil)
	for i, s := range raw {
		if s >= 0 {
			out.Set(i, 0, c.Classes[1])
		} else {
			out.Set(i, 0, c.Classes[0])
		}
	}
	return out, nil
}

// IsFitted reports whether Fit has completed.
func (c *Classifier) IsFitted() bool { return c.State.IsFitted() }

// FeatureImportances returns total split gain per feature, normalized to one.
func (c *Classifier) FeatureImportances() ([]float64, error) {
	if err := c.State.RequireFitted("gbm.Classifier", "FeatureImportances"); err != nil {
		return nil, err
	}
	return append([]float64(nil), c.Importances...), nil
}

// GetParams returns the hyperparameters.
func (c *Classifier) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"n_estimators":     c.NEstimators,
		"max_depth":        c.MaxDepth,
		"learning_rate":    c.LearningRate,
		"min_samples_leaf": c.MinSamplesLeaf,
		"subsample":        c.Subsample,
		"lambda":           c.Lambda,
		"random_state":     c.RandomState,
	}
}

// SetParams updates hyperparameters by name.
func (c *Classifier) SetParams(params map[string]interface{}) error {
	for k, v := range params {
		var err error
		switch k {
		case "n_estimators", "n_trees":
			c.NEstimators, err = cast.ToIntE(v)
		case "max_depth", "interaction_depth":
			c.MaxDepth, err = cast.ToIntE(v)
		case "learning_rate", "shrinkage":
			c.LearningRate, err = cast.ToFloat64E(v)
		case "min_samples_leaf":
			c.MinSamplesLeaf, err = cast.ToIntE(v)
		case "subsample":
			c.Subsample, err = cast.ToFloat64E(v)
		case "lambda":
			c.Lambda, err = cast.ToFloat64E(v)
		case "random_state":
			c.RandomState, err = cast.ToUint64E(v)
		default:
			return errors.NewValidationError(k, "unknown parameter", v)
		}
		if err != nil {
			return errors.NewValidationError(k, err.Error(), v)
		}
	}
	return nil
}

func (c *Classifier) String() string {
	return fmt.Sprintf("gbm.Classifier(n_estimators=%d, max_depth=%d, learning_rate=%g)",
		c.NEstimators, c.MaxDepth, c.LearningRate)
}
