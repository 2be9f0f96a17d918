package linear_model

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/sipredict/core/model"
	"github.com/YuminosukeSato/sipredict/core/parallel"
	"github.com/YuminosukeSato/sipredict/pkg/errors"
	"github.com/YuminosukeSato/sipredict/pkg/log"
)

// StepwiseLogisticRegression fits an unpenalized logistic model and then
// removes features one at a time while doing so lowers the AIC.
type StepwiseLogisticRegression struct {
	State *model.StateManager

	MaxIter int
	Tol     float64
	NJobs   int

	Selected []int
	Model    *LogisticRegression
	AICPath  []float64
}

// NewStepwiseLogisticRegression returns a backward-elimination wrapper.
func NewStepwiseLogisticRegression() *StepwiseLogisticRegression {
	return &StepwiseLogisticRegression{
		State:   model.NewStateManager(),
		MaxIter: 100,
		Tol:     1e-8,
	}
}

func (s *StepwiseLogisticRegression) fitSubset(X, y mat.Matrix, cols []int) (*LogisticRegression, float64, error) {
	lr := NewLogisticRegression(
		WithLRPenalty("none"),
		WithLRSolver("newton"),
		WithLRMaxIter(s.MaxIter),
		WithLRTol(s.Tol),
	)
	if len(cols) == 0 {
		// 切片のみのモデル
		n, _ := X.Dims()
		lr.Coef = nil
		return lr, interceptOnlyAIC(y, n), nil
	}
	if err := lr.Fit(columns(X, cols), y); err != nil {
		return nil, 0, err
	}
	aic, err := lr.AIC()
	return lr, aic, err
}

// interceptOnlyAIC は切片のみモデルの AIC
func interceptOnlyAIC(y mat.Matrix, n int) float64 {
	pos := 0.0
	classes, codes := encode(y)
	if len(classes) < 2 {
		return 2
	}
	for _, c := range codes {
		pos += float64(c)
	}
	p := pos / float64(n)
	ll := pos*logSafe(p) + (float64(n)-pos)*logSafe(1-p)
	return 2 - 2*ll
}

// Fit runs backward elimination starting from all features.
func (s *StepwiseLogisticRegression) Fit(X, y mat.Matrix) error {
	_, p := X.Dims()
	current := make([]int, p)
	for j := range current {
		current[j] = j
	}
	best, bestAIC, err := s.fitSubset(X, y, current)
	if err != nil {
		return errors.Wrap(err, "stepwise: full model")
	}
	s.AICPath = []float64{bestAIC}
	logger := log.GetLoggerWithName("linear_model.stepwise")

	for len(current) > 0 {
		cands := make([]*LogisticRegression, len(current))
		aics := make([]float64, len(current))
		err := parallel.ForEach(len(current), s.NJobs, func(k int) error {
			m, aic, err := s.fitSubset(X, y, without(current, k))
			cands[k], aics[k] = m, aic
			return err
		})
		if err != nil {
			return errors.Wrap(err, "stepwise: candidate fit")
		}
		drop := -1
		for k, aic := range aics {
			if aic < bestAIC && (drop < 0 || aic < aics[drop]) {
				drop = k
			}
		}
		if drop < 0 {
			break
		}
		logger.Debug("stepwise drop", "feature", current[drop], "aic", aics[drop])
		best, bestAIC = cands[drop], aics[drop]
		current = without(current, drop)
		s.AICPath = append(s.AICPath, bestAIC)
	}
	if len(current) == 0 {
		// 全特徴量が落ちた場合は切片だけのモデルを残す
		best = NewLogisticRegression(WithLRPenalty("none"), WithLRSolver("newton"))
		best.Coef = []float64{}
		classes, codes := encode(y)
		if len(classes) != 2 {
			return errors.Wrapf(errors.ErrSingleClass, "stepwise: need two classes, got %d", len(classes))
		}
		pos := 0.0
		for _, c := range codes {
			pos += float64(c)
		}
		frac := errors.ClipValue(pos/float64(len(codes)), 1e-12, 1-1e-12)
		best.Intercept = logSafe(frac) - logSafe(1-frac)
		best.Classes = classes
		best.State.SetDimensions(0, len(codes))
		best.State.SetFitted()
	}

	s.Selected = current
	s.Model = best
	if s.State == nil {
		s.State = model.NewStateManager()
	}
	n, _ := X.Dims()
	s.State.SetDimensions(p, n)
	s.State.SetFitted()
	return nil
}

// PredictProba projects X onto the selected features.
func (s *StepwiseLogisticRegression) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	if err := s.State.RequireFitted("StepwiseLogisticRegression", "PredictProba"); err != nil {
		return nil, err
	}
	_, p := X.Dims()
	if err := s.State.RequireFeatures("StepwiseLogisticRegression.PredictProba", p); err != nil {
		return nil, err
	}
	if len(s.Selected) == 0 {
		n, _ := X.Dims()
		p1 := sigmoid(s.Model.Intercept)
		out := mat.NewDense(n, 2, nil)
		for i := 0; i < n; i++ {
			out.Set(i, 0, 1-p1)
			out.Set(i, 1, p1)
		}
		return out, nil
	}
	return s.Model.PredictProba(columns(X, s.Selected))
}

// Predict returns hard labels at 0.5.
func (s *StepwiseLogisticRegression) Predict(X mat.Matrix) (mat.Matrix, error) {
	proba, err := s.PredictProba(X)
	if err != nil {
		return nil, err
	}
	n, _ := proba.Dims()
	out := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		if proba.At(i, 1) >= 0.5 {
			out.Set(i, 0, s.Model.Classes[1])
		} else {
			out.Set(i, 0, s.Model.Classes[0])
		}
	}
	return out, nil
}

// IsFitted reports whether Fit has completed.
func (s *StepwiseLogisticRegression) IsFitted() bool { return s.State.IsFitted() }

// FeatureImportances returns |coef| on the original feature axis; dropped
// features get 0.
func (s *StepwiseLogisticRegression) FeatureImportances() ([]float64, error) {
	if err := s.State.RequireFitted("StepwiseLogisticRegression", "FeatureImportances"); err != nil {
		return nil, err
	}
	nFeatures, _ := s.State.GetDimensions()
	out := make([]float64, nFeatures)
	for k, j := range s.Selected {
		c := s.Model.Coef[k]
		if c < 0 {
			c = -c
		}
		out[j] = c
	}
	return out, nil
}

func (s *StepwiseLogisticRegression) String() string {
	return fmt.Sprintf("StepwiseLogisticRegression(selected=%v)", s.Selected)
}

func columns(X mat.Matrix, cols []int) *mat.Dense {
	n, _ := X.Dims()
	out := mat.NewDense(n, len(cols), nil)
	for i := 0; i < n; i++ {
		for k, j := range cols {
			out.Set(i, k, X.At(i, j))
		}
	}
	return out
}

func without(idx []int, k int) []int {
	out := make([]int, 0, len(idx)-1)
	out = append(out, idx[:k]...)
	return append(out, idx[k+1:]...)
}
