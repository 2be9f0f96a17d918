// Package svm implements a binary C-support vector classifier trained by
// sequential minimal optimization with maximal-violating-pair working set
// selection.
package svm

import (
	"encoding/gob"
	"fmt"
	"math"

	"github.com/spf13/cast"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/sipredict/core/model"
	"github.com/YuminosukeSato/sipredict/core/parallel"
	"github.com/YuminosukeSato/sipredict/pkg/errors"
	"github.com/YuminosukeSato/sipredict/pkg/log"
	"github.com/YuminosukeSato/sipredict/sklearn/tree"
)

func init() {
	gob.Register(&SVC{})
}

const tau = 1e-12

// SVC is a C-support vector classifier. It produces hard labels only.
type SVC struct {
	State *model.StateManager

	Kernel  string
	C       float64
	Gamma   float64 // rbf: exp(-Gamma·|a-b|²); <= 0 means 1/n_features
	Degree  int     // poly
	Scale   float64 // poly: (Scale·<a,b> + Offset)^Degree
	Offset  float64
	Tol     float64
	MaxIter int

	SupportVectors [][]float64
	// DualCoef は α_i·y_i
	DualCoef []float64
	Rho      float64
	Classes  []float64
	NIter    int
}

// Option configures an SVC.
type Option func(*SVC)

// WithKernel selects linear, rbf or poly.
func WithKernel(k string) Option { return func(s *SVC) { s.Kernel = k } }

// WithC sets the box constraint.
func WithC(c float64) Option { return func(s *SVC) { s.C = c } }

// WithGamma sets the rbf width.
func WithGamma(g float64) Option { return func(s *SVC) { s.Gamma = g } }

// WithDegree sets the polynomial degree.
func WithDegree(d int) Option { return func(s *SVC) { s.Degree = d } }

// WithScale sets the polynomial inner-product scale.
func WithScale(v float64) Option { return func(s *SVC) { s.Scale = v } }

// WithTol sets the KKT violation tolerance.
func WithTol(t float64) Option { return func(s *SVC) { s.Tol = t } }

// WithMaxIter caps SMO iterations.
func WithMaxIter(n int) Option { return func(s *SVC) { s.MaxIter = n } }

// NewSVC creates a linear SVC with C=1.
func NewSVC(opts ...Option) *SVC {
	s := &SVC{
		State:   model.NewStateManager(),
		Kernel:  KernelLinear,
		C:       1,
		Degree:  3,
		Scale:   1,
		Offset:  1,
		Tol:     1e-3,
		MaxIter: 100000,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Fit solves the dual problem
//
//	min ½ αᵀQα - eᵀα  s.t. 0 ≤ α ≤ C, yᵀα = 0,  Q_ij = y_i y_j k(x_i, x_j)
func (s *SVC) Fit(X, y mat.Matrix) error {
	n, p := X.Dims()
	if n == 0 || p == 0 {
		return errors.NewModelError("SVC.Fit", "empty data", errors.ErrEmptyData)
	}
	if yr, _ := y.Dims(); yr != n {
		return errors.NewDimensionError("SVC.Fit", n, yr, 0)
	}
	if s.C <= 0 {
		return errors.NewValidationError("C", "must be positive", s.C)
	}
	kf, err := s.kernel(p)
	if err != nil {
		return err
	}
	classes, codes := tree.EncodeLabels(mat.Col(nil, 0, y))
	if len(classes) != 2 {
		return errors.Wrapf(errors.ErrSingleClass, "SVC.Fit: need exactly two classes, got %d", len(classes))
	}
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = mat.Row(nil, i, X)
		if floats.HasNaN(rows[i]) {
			return errors.NewValueError("SVC.Fit", fmt.Sprintf("row %d contains NaN", i))
		}
	}
	sign := make([]float64, n)
	for i, c := range codes {
		sign[i] = float64(2*c - 1)
	}

	// カーネル行列 Q を前計算
	Q := make([]float64, n*n)
	parallel.ParallelizeWithThreshold(n, 32, func(start, end int) {
		for i := start; i < end; i++ {
			for j := 0; j < n; j++ {
				Q[i*n+j] = sign[i] * sign[j] * kf(rows[i], rows[j])
			}
		}
	})

	alpha := make([]float64, n)
	G := make([]float64, n)
	for i := range G {
		G[i] = -1
	}
	C := s.C
	upper := func(t int) bool {
		return (sign[t] > 0 && alpha[t] < C) || (sign[t] < 0 && alpha[t] > 0)
	}
	lower := func(t int) bool {
		return (sign[t] > 0 && alpha[t] > 0) || (sign[t] < 0 && alpha[t] < C)
	}

	iter := 0
	converged := false
	for ; iter < s.MaxIter; iter++ {
		i, j := -1, -1
		gmax, gmin := math.Inf(-1), math.Inf(1)
		for t := 0; t < n; t++ {
			v := -sign[t] * G[t]
			if upper(t) && v > gmax {
				gmax, i = v, t
			}
			if lower(t) && v < gmin {
				gmin, j = v, t
			}
		}
		if i < 0 || j < 0 || gmax-gmin < s.Tol {
			converged = true
			break
		}

		Qi, Qj := Q[i*n:(i+1)*n], Q[j*n:(j+1)*n]
		oldI, oldJ := alpha[i], alpha[j]
		if sign[i] != sign[j] {
			quad := Qi[i] + Qj[j] + 2*Qi[j]
			if quad <= 0 {
				quad = tau
			}
			delta := (-G[i] - G[j]) / quad
			diff := alpha[i] - alpha[j]
			alpha[i] += delta
			alpha[j] += delta
			if diff > 0 {
				if alpha[j] < 0 {
					alpha[j], alpha[i] = 0, diff
				}
			} else if alpha[i] < 0 {
				alpha[i], alpha[j] = 0, -diff
			}
			if diff > 0 {
				if alpha[i] > C {
					alpha[i], alpha[j] = C, C-diff
				}
			} else if alpha[j] > C {
				alpha[j], alpha[i] = C, C+diff
			}
		} else {
			quad := Qi[i] + Qj[j] - 2*Qi[j]
			if quad <= 0 {
				quad = tau
			}
			delta := (G[i] - G[j]) / quad
			sum := alpha[i] + alpha[j]
			alpha[i] -= delta
			alpha[j] += delta
			if sum > C {
				if alpha[i] > C {
					alpha[i], alpha[j] = C, sum-C
				}
				if alpha[j] > C {
					alpha[j], alpha[i] = C, sum-C
				}
			} else {
				if alpha[j] < 0 {
					alpha[j], alpha[i] = 0, sum
				}
				if alpha[i] < 0 {
					alpha[i], alpha[j] = 0, sum
				}
			}
		}
		dI, dJ := alpha[i]-oldI, alpha[j]-oldJ
		for t := 0; t < n; t++ {
			G[t] += Qi[t]*dI + Qj[t]*dJ
		}
	}
	if !converged {
		errors.Warn(errors.NewConvergenceWarning("smo", s.MaxIter, "KKT violation above tolerance"))
	}

	s.Rho = rho(alpha, G, sign, C)
	s.SupportVectors = s.SupportVectors[:0]
	s.DualCoef = s.DualCoef[:0]
	for t := 0; t < n; t++ {
		if alpha[t] > 0 {
			s.SupportVectors = append(s.SupportVectors, rows[t])
			s.DualCoef = append(s.DualCoef, alpha[t]*sign[t])
		}
	}
	s.Classes = classes
	s.NIter = iter
	if s.State == nil {
		s.State = model.NewStateManager()
	}
	s.State.SetDimensions(p, n)
	s.State.SetFitted()
	log.GetLoggerWithName("svm").Debug("svc fitted",
		log.OperationKey, log.OperationFit,
		log.SamplesKey, n,
		"kernel", s.Kernel,
		"support_vectors", len(s.DualCoef),
		log.IterationKey, iter,
	)
	return nil
}

// rho は自由なサポートベクトルの y·G の平均。自由なものがなければ上下界の中点
func rho(alpha, G, sign []float64, C float64) float64 {
	ub, lb := math.Inf(1), math.Inf(-1)
	sum, free := 0.0, 0
	for t := range alpha {
		yG := sign[t] * G[t]
		switch {
		case alpha[t] >= C:
			if sign[t] < 0 {
				ub = math.Min(ub, yG)
			} else {
				lb = math.Max(lb, yG)
			}
		case alpha[t] <= 0:
			if sign[t] > 0 {
				ub = math.Min(ub, yG)
			} else {
				lb = math.Max(lb, yG)
			}
		default:
			free++
			sum += yG
		}
	}
	if free > 0 {
		return sum / float64(free)
	}
	return (ub + lb) / 2
}

// DecisionFunction returns Σ α_i y_i k(x_i, x) - ρ per row.
func (s *SVC) DecisionFunction(X mat.Matrix) ([]float64, error) {
	if err := s.State.RequireFitted("SVC", "DecisionFunction"); err != nil {
		return nil, err
	}
	r, p := X.Dims()
	if err := s.State.RequireFeatures("SVC.DecisionFunction", p); err != nil {
		return nil, err
	}
	kf, err := s.kernel(p)
	if err != nil {
		return nil, err
	}
	out := make([]float64, r)
	parallel.ParallelizeWithThreshold(r, 32, func(start, end int) {
		x := make([]float64, p)
		for i := start; i < end; i++ {
			mat.Row(x, i, X)
			f := -s.Rho
			for k, sv := range s.SupportVectors {
				f += s.DualCoef[k] * kf(sv, x)
			}
			out[i] = f
		}
	})
	return out, nil
}

// Predict returns Classes[1] where the decision function is non-negative.
func (s *SVC) Predict(X mat.Matrix) (mat.Matrix, error) {
	f, err := s.DecisionFunction(X)
	if err != nil {
		return nil, err
	}
	out := mat.NewDense(len(f), 1, nil)
	for i, v := range f {
		if v >= 0 {
			out.Set(i, 0, s.Classes[1])
		} else {
			out.Set(i, 0, s.Classes[0])
		}
	}
	return out, nil
}

// IsFitted reports whether Fit has completed.
func (s *SVC) IsFitted() bool { return s.State.IsFitted() }

// GetParams returns the hyperparameters.
func (s *SVC) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"kernel": s.Kernel,
		"C":      s.C,
		"gamma":  s.Gamma,
		"degree": s.Degree,
		"scale":  s.Scale,
		"tol":    s.Tol,
	}
}

// SetParams updates hyperparameters by name. "sigma" is accepted for gamma.
func (s *SVC) SetParams(params map[string]interface{}) error {
	for k, v := range params {
		var err error
		switch k {
		case "kernel":
			s.Kernel, err = cast.ToStringE(v)
		case "C":
			s.C, err = cast.ToFloat64E(v)
		case "gamma", "sigma":
			s.Gamma, err = cast.ToFloat64E(v)
		case "degree":
			s.Degree, err = cast.ToIntE(v)
		case "scale":
			s.Scale, err = cast.ToFloat64E(v)
		case "tol":
			s.Tol, err = cast.ToFloat64E(v)
		case "max_iter":
			s.MaxIter, err = cast.ToIntE(v)
		default:
			return errors.NewValidationError(k, "unknown parameter", v)
		}
		if err != nil {
			return errors.NewValidationError(k, err.Error(), v)
		}
	}
	return nil
}

func (s *SVC) String() string {
	return fmt.Sprintf("SVC(kernel=%s, C=%g, gamma=%g, degree=%d)", s.Kernel, s.C, s.Gamma, s.Degree)
}
