// Package linear_model provides binary logistic regression with three
// solvers (L-BFGS, Newton/IRLS and elastic-net coordinate descent) and
// AIC-based backward stepwise selection.
package linear_model

import (
	"encoding/gob"
	"fmt"
	"math"

	"github.com/spf13/cast"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/YuminosukeSato/sipredict/core/model"
	"github.com/YuminosukeSato/sipredict/pkg/errors"
	"github.com/YuminosukeSato/sipredict/sklearn/tree"
)

func init() {
	gob.Register(&LogisticRegression{})
	gob.Register(&StepwiseLogisticRegression{})
}

// LogisticRegression implements binary logistic regression.
//
// Penalties:
//   - "none": maximum likelihood
//   - "l2": 0.5/C * ||w||² added to the negative log-likelihood
//   - "l1", "elasticnet": glmnet objective
//     -(1/n)·loglik + Lambda·((1-L1Ratio)/2·||w||² + L1Ratio·||w||₁),
//     solved by coordinate descent on standardized features
//
// The intercept is never penalized.
type LogisticRegression struct {
	State *model.StateManager

	// Hyperparameters
	Penalty      string  // "none", "l2", "l1", "elasticnet"
	C            float64 // Inverse regularization strength for "l2"
	Lambda       float64 // Penalty strength for "l1"/"elasticnet"
	L1Ratio      float64 // Elastic-net mixing (glmnet alpha)
	Solver       string  // "lbfgs", "newton", "cd"
	FitIntercept bool
	MaxIter      int
	Tol          float64

	// Fitted parameters
	Coef      []float64
	Intercept float64
	Classes   []float64
	NIter     int
	LogLik    float64
	NSamples  int
}

// LogisticRegressionOption is a functional option for LogisticRegression
type LogisticRegressionOption func(*LogisticRegression)

// NewLogisticRegression creates an L2-penalized model solved by L-BFGS.
func NewLogisticRegression(opts ...LogisticRegressionOption) *LogisticRegression {
	lr := &LogisticRegression{
		State:        model.NewStateManager(),
		Penalty:      "l2",
		C:            1.0,
		L1Ratio:      0.5,
		Solver:       "lbfgs",
		FitIntercept: true,
		MaxIter:      100,
		Tol:          1e-4,
	}
	for _, opt := range opts {
		opt(lr)
	}
	return lr
}

// WithLRPenalty sets the regularization type
func WithLRPenalty(penalty string) LogisticRegressionOption {
	return func(lr *LogisticRegression) { lr.Penalty = penalty }
}

// WithLRC sets the inverse regularization strength
func WithLRC(c float64) LogisticRegressionOption {
	return func(lr *LogisticRegression) { lr.C = c }
}

// WithLRLambda sets the elastic-net penalty strength
func WithLRLambda(lambda float64) LogisticRegressionOption {
	return func(lr *LogisticRegression) { lr.Lambda = lambda }
}

// WithLRL1Ratio sets the elastic-net mixing parameter
func WithLRL1Ratio(r float64) LogisticRegressionOption {
	return func(lr *LogisticRegression) { lr.L1Ratio = r }
}

// WithLogisticFitIntercept sets whether to fit intercept
func WithLogisticFitIntercept(fit bool) LogisticRegressionOption {
	return func(lr *LogisticRegression) { lr.FitIntercept = fit }
}

// WithLRSolver sets the optimization solver
func WithLRSolver(solver string) LogisticRegressionOption {
	return func(lr *LogisticRegression) { lr.Solver = solver }
}

// WithLRMaxIter sets the maximum number of iterations
func WithLRMaxIter(maxIter int) LogisticRegressionOption {
	return func(lr *LogisticRegression) { lr.MaxIter = maxIter }
}

// WithLRTol sets the tolerance for stopping criteria
func WithLRTol(tol float64) LogisticRegressionOption {
	return func(lr *LogisticRegression) { lr.Tol = tol }
}

func (lr *LogisticRegression) solver() (string, error) {
	switch lr.Penalty {
	case "none", "l2":
		if lr.Solver == "cd" {
			return "", errors.NewValidationError("solver", "cd requires an l1 or elasticnet penalty", lr.Solver)
		}
		return lr.Solver, nil
	case "l1", "elasticnet":
		return "cd", nil
	default:
		return "", errors.NewValidationError("penalty", "must be none, l2, l1 or elasticnet", lr.Penalty)
	}
}

// Fit trains the model on binary labels y.
func (lr *LogisticRegression) Fit(X, y mat.Matrix) error {
	nSamples, nFeatures := X.Dims()
	yRows, yCols := y.Dims()
	if nSamples == 0 || nFeatures == 0 {
		return errors.NewModelError("LogisticRegression.Fit", "empty data", errors.ErrEmptyData)
	}
	if nSamples != yRows {
		return errors.NewDimensionError("LogisticRegression.Fit", nSamples, yRows, 0)
	}
	if yCols != 1 {
		return errors.NewValueError("LogisticRegression.Fit", fmt.Sprintf("y must be a column vector: got shape (%d, %d)", yRows, yCols))
	}
	solver, err := lr.solver()
	if err != nil {
		return err
	}

	classes, codes := encode(y)
	if len(classes) != 2 {
		return errors.Wrapf(errors.ErrSingleClass, "LogisticRegression.Fit: need exactly two classes, got %d", len(classes))
	}
	target := make([]float64, nSamples)
	for i, c := range codes {
		target[i] = float64(c)
	}
	Xd := mat.DenseCopyOf(X)
	if err := errors.CheckNumericalStability("LogisticRegression.Fit", Xd.RawMatrix().Data, 0); err != nil {
		return err
	}

	switch solver {
	case "lbfgs":
		err = lr.fitLBFGS(Xd, target)
	case "newton":
		err = lr.fitNewton(Xd, target)
	case "cd":
		err = lr.fitCD(Xd, target)
	default:
		return errors.NewValidationError("solver", "must be lbfgs, newton or cd", lr.Solver)
	}
	if err != nil {
		return err
	}

	lr.Classes = classes
	lr.NSamples = nSamples
	lr.LogLik = logLikelihood(Xd, target, lr.Coef, lr.Intercept)
	if lr.State == nil {
		lr.State = model.NewStateManager()
	}
	lr.State.SetDimensions(nFeatures, nSamples)
	lr.State.SetFitted()
	return nil
}

func (lr *LogisticRegression) l2() float64 {
	if lr.Penalty == "l2" && lr.C > 0 {
		return 1 / lr.C
	}
	return 0
}

// fitLBFGS minimizes the penalized negative log-likelihood with gonum's L-BFGS.
func (lr *LogisticRegression) fitLBFGS(X *mat.Dense, y []float64) error {
	n, p := X.Dims()
	alpha := lr.l2()
	eta := make([]float64, n)

	// パラメータベクトル: [w_0..w_{p-1}, b]
	unpack := func(x []float64) ([]float64, float64) {
		if lr.FitIntercept {
			return x[:p], x[p]
		}
		return x[:p], 0
	}
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			w, b := unpack(x)
			linear(X, w, b, eta)
			f := 0.0
			for i, e := range eta {
				f += logOnePlusExp(e) - y[i]*e
			}
			for _, v := range w {
				f += 0.5 * alpha * v * v
			}
			return f
		},
		Grad: func(grad, x []float64) {
			w, b := unpack(x)
			linear(X, w, b, eta)
			clear(grad)
			for i, e := range eta {
				r := sigmoid(e) - y[i]
				row := X.RawRowView(i)
				for j := 0; j < p; j++ {
					grad[j] += r * row[j]
				}
				if lr.FitIntercept {
					grad[p] += r
				}
			}
			for j := 0; j < p; j++ {
				grad[j] += alpha * x[j]
			}
		},
	}
	dim := p
	if lr.FitIntercept {
		dim++
	}
	settings := &optimize.Settings{
		GradientThreshold: lr.Tol,
		MajorIterations:   lr.MaxIter,
	}
	res, err := optimize.Minimize(problem, make([]float64, dim), settings, &optimize.LBFGS{})
	if res == nil {
		return errors.NewModelError("LogisticRegression.Fit", "lbfgs", err)
	}
	if err != nil || res.Status == optimize.IterationLimit {
		errors.Warn(errors.NewConvergenceWarning("lbfgs", res.Stats.MajorIterations,
			fmt.Sprintf("status %v", res.Status)))
	}
	w, b := unpack(res.X)
	lr.Coef = append([]float64(nil), w...)
	lr.Intercept = b
	lr.NIter = res.Stats.MajorIterations
	return nil
}

// fitNewton runs iteratively reweighted least squares.
func (lr *LogisticRegression) fitNewton(X *mat.Dense, y []float64) error {
	n, p := X.Dims()
	alpha := lr.l2()
	// 切片列を付けた計画行列
	dim := p
	if lr.FitIntercept {
		dim++
	}
	Z := mat.NewDense(n, dim, nil)
	for i := 0; i < n; i++ {
		row := Z.RawRowView(i)
		copy(row, X.RawRowView(i))
		if lr.FitIntercept {
			row[p] = 1
		}
	}

	beta := make([]float64, dim)
	eta := make([]float64, n)
	grad := mat.NewVecDense(dim, nil)
	H := mat.NewSymDense(dim, nil)
	var step mat.VecDense
	converged := false
	iter := 0
	for iter = 1; iter <= lr.MaxIter; iter++ {
		linearZ(Z, beta, eta)
		for a := 0; a < dim; a++ {
			for b := a; b < dim; b++ {
				H.SetSym(a, b, 0)
			}
			grad.SetVec(a, 0)
		}
		for i := 0; i < n; i++ {
			mu := sigmoid(eta[i])
			w := math.Max(mu*(1-mu), 1e-10)
			r := y[i] - mu
			row := Z.RawRowView(i)
			for a := 0; a < dim; a++ {
				grad.SetVec(a, grad.AtVec(a)+row[a]*r)
				for b := a; b < dim; b++ {
					H.SetSym(a, b, H.At(a, b)+w*row[a]*row[b])
				}
			}
		}
		for j := 0; j < p; j++ {
			grad.SetVec(j, grad.AtVec(j)-alpha*beta[j])
			// 完全分離時の特異性を避ける微小リッジ
			H.SetSym(j, j, H.At(j, j)+alpha+1e-8)
		}
		var chol mat.Cholesky
		if ok := chol.Factorize(H); !ok {
			return errors.NewModelError("LogisticRegression.Fit", "newton", errors.ErrSingularMatrix)
		}
		if err := chol.SolveVecTo(&step, grad); err != nil {
			return errors.NewModelError("LogisticRegression.Fit", "newton", err)
		}
		maxStep := 0.0
		for a := 0; a < dim; a++ {
			beta[a] += step.AtVec(a)
			maxStep = math.Max(maxStep, math.Abs(step.AtVec(a)))
		}
		if err := errors.CheckNumericalStability("LogisticRegression.newton", beta, iter); err != nil {
			return err
		}
		if maxStep < lr.Tol {
			converged = true
			break
		}
	}
	if !converged {
		errors.Warn(errors.NewConvergenceWarning("newton", lr.MaxIter, "IRLS did not converge; data may be separable"))
		iter = lr.MaxIter
	}
	lr.Coef = append([]float64(nil), beta[:p]...)
	lr.Intercept = 0
	if lr.FitIntercept {
		lr.Intercept = beta[p]
	}
	lr.NIter = iter
	return nil
}

// fitCD solves the glmnet elastic-net objective by coordinate descent over a
// sequence of quadratic approximations.
func (lr *LogisticRegression) fitCD(X *mat.Dense, y []float64) error {
	n, p := X.Dims()
	l1r := lr.L1Ratio
	if lr.Penalty == "l1" {
		l1r = 1
	}
	if l1r < 0 || l1r > 1 {
		return errors.NewValidationError("l1_ratio", "must be within [0, 1]", l1r)
	}
	if lr.Lambda < 0 {
		return errors.NewValidationError("lambda", "must be non-negative", lr.Lambda)
	}

	// 標準化 (母標準偏差)
	means := make([]float64, p)
	sds := make([]float64, p)
	Xs := mat.NewDense(n, p, nil)
	for j := 0; j < p; j++ {
		col := mat.Col(nil, j, X)
		m := 0.0
		for _, v := range col {
			m += v
		}
		m /= float64(n)
		ss := 0.0
		for _, v := range col {
			ss += (v - m) * (v - m)
		}
		sd := math.Sqrt(ss / float64(n))
		if sd < 1e-12 {
			sd = 1
		}
		means[j], sds[j] = m, sd
		for i, v := range col {
			Xs.Set(i, j, (v-m)/sd)
		}
	}

	beta := make([]float64, p)
	b0 := 0.0
	if lr.FitIntercept {
		ybar := 0.0
		for _, v := range y {
			ybar += v
		}
		ybar = errors.ClipValue(ybar/float64(n), 1e-6, 1-1e-6)
		b0 = math.Log(ybar / (1 - ybar))
	}
	eta := make([]float64, n)
	w := make([]float64, n)
	z := make([]float64, n)
	l1 := lr.Lambda * l1r
	l2 := lr.Lambda * (1 - l1r)

	iter := 0
	converged := false
	for iter = 1; iter <= lr.MaxIter; iter++ {
		linear(Xs, beta, b0, eta)
		for i, e := range eta {
			mu := sigmoid(e)
			w[i] = math.Max(mu*(1-mu), 1e-5)
			z[i] = e + (y[i]-mu)/w[i]
		}
		// 作業残差 r = z - eta
		r := make([]float64, n)
		for i := range r {
			r[i] = z[i] - eta[i]
		}
		maxDelta := 0.0
		for inner := 0; inner < 1000; inner++ {
			innerDelta := 0.0
			if lr.FitIntercept {
				num, den := 0.0, 0.0
				for i := range r {
					num += w[i] * r[i]
					den += w[i]
				}
				d := num / den
				b0 += d
				for i := range r {
					r[i] -= d
				}
				innerDelta = math.Max(innerDelta, math.Abs(d))
			}
			for j := 0; j < p; j++ {
				num, den := 0.0, 0.0
				for i := 0; i < n; i++ {
					xij := Xs.At(i, j)
					num += w[i] * xij * (r[i] + xij*beta[j])
					den += w[i] * xij * xij
				}
				num /= float64(n)
				den /= float64(n)
				nb := softThreshold(num, l1) / (den + l2)
				d := nb - beta[j]
				if d != 0 {
					for i := 0; i < n; i++ {
						r[i] -= d * Xs.At(i, j)
					}
					beta[j] = nb
				}
				innerDelta = math.Max(innerDelta, math.Abs(d))
			}
			maxDelta = math.Max(maxDelta, innerDelta)
			if innerDelta < lr.Tol*0.1 {
				break
			}
		}
		if err := errors.CheckNumericalStability("LogisticRegression.cd", beta, iter); err != nil {
			return err
		}
		if maxDelta < lr.Tol {
			converged = true
			break
		}
	}
	if !converged {
		errors.Warn(errors.NewConvergenceWarning("cd", lr.MaxIter, "coordinate descent did not converge"))
		iter = lr.MaxIter
	}

	lr.Coef = make([]float64, p)
	lr.Intercept = b0
	for j := 0; j < p; j++ {
		lr.Coef[j] = beta[j] / sds[j]
		lr.Intercept -= lr.Coef[j] * means[j]
	}
	if !lr.FitIntercept {
		lr.Intercept = 0
	}
	lr.NIter = iter
	return nil
}

func softThreshold(v, t float64) float64 {
	switch {
	case v > t:
		return v - t
	case v < -t:
		return v + t
	default:
		return 0
	}
}

func linear(X *mat.Dense, w []float64, b float64, out []float64) {
	n, p := X.Dims()
	for i := 0; i < n; i++ {
		row := X.RawRowView(i)
		s := b
		for j := 0; j < p; j++ {
			s += row[j] * w[j]
		}
		out[i] = s
	}
}

func linearZ(Z *mat.Dense, beta, out []float64) {
	linear(Z, beta, 0, out)
}

// logOnePlusExp は log(1+exp(x)) を桁あふれなく計算する
func logOnePlusExp(x float64) float64 {
	if x > 0 {
		return x + math.Log1p(math.Exp(-x))
	}
	return math.Log1p(math.Exp(x))
}

func logLikelihood(X *mat.Dense, y, w []float64, b float64) float64 {
	n, _ := X.Dims()
	eta := make([]float64, n)
	linear(X, w, b, eta)
	ll := 0.0
	for i, e := range eta {
		ll += y[i]*e - logOnePlusExp(e)
	}
	return ll
}

// DecisionFunction returns the linear predictor per row.
func (lr *LogisticRegression) DecisionFunction(X mat.Matrix) ([]float64, error) {
	if err := lr.State.RequireFitted("LogisticRegression", "DecisionFunction"); err != nil {
		return nil, err
	}
	n, p := X.Dims()
	if err := lr.State.RequireFeatures("LogisticRegression.DecisionFunction", p); err != nil {
		return nil, err
	}
	out := make([]float64, n)
	linear(mat.DenseCopyOf(X), lr.Coef, lr.Intercept, out)
	return out, nil
}

// PredictProba returns P(class 0), P(class 1) per row.
func (lr *LogisticRegression) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	eta, err := lr.DecisionFunction(X)
	if err != nil {
		return nil, err
	}
	out := mat.NewDense(len(eta), 2, nil)
	for i, e := range eta {
		p1 := sigmoid(e)
		out.Set(i, 0, 1-p1)
		out.Set(i, 1, p1)
	}
	return out, nil
}

// Predict returns Classes[1] where P(class 1) >= 0.5.
func (lr *LogisticRegression) Predict(X mat.Matrix) (mat.Matrix, error) {
	eta, err := lr.DecisionFunction(X)
	if err != nil {
		return nil, err
	}
	out := mat.NewDense(len(eta), 1, nil)
	for i, e := range eta {
		if e >= 0 {
			out.Set(i, 0, lr.Classes[1])
		} else {
			out.Set(i, 0, lr.Classes[0])
		}
	}
	return out, nil
}

// Score returns the mean accuracy on the given test data and labels
func (lr *LogisticRegression) Score(X, y mat.Matrix) float64 {
	pred, err := lr.Predict(X)
	if err != nil {
		return 0
	}
	n, _ := X.Dims()
	correct := 0
	for i := 0; i < n; i++ {
		if pred.At(i, 0) == y.At(i, 0) {
			correct++
		}
	}
	return float64(correct) / float64(n)
}

// IsFitted reports whether Fit has completed.
func (lr *LogisticRegression) IsFitted() bool { return lr.State.IsFitted() }

// NParams counts the estimated parameters: non-zero coefficients plus the
// intercept.
func (lr *LogisticRegression) NParams() int {
	k := 0
	for _, c := range lr.Coef {
		if c != 0 {
			k++
		}
	}
	if lr.FitIntercept {
		k++
	}
	return k
}

// AIC returns 2k - 2·loglik on the training data.
func (lr *LogisticRegression) AIC() (float64, error) {
	if err := lr.State.RequireFitted("LogisticRegression", "AIC"); err != nil {
		return 0, err
	}
	return 2*float64(lr.NParams()) - 2*lr.LogLik, nil
}

// FeatureImportances returns absolute coefficients.
func (lr *LogisticRegression) FeatureImportances() ([]float64, error) {
	if err := lr.State.RequireFitted("LogisticRegression", "FeatureImportances"); err != nil {
		return nil, err
	}
	out := make([]float64, len(lr.Coef))
	for j, c := range lr.Coef {
		out[j] = math.Abs(c)
	}
	return out, nil
}

// GetParams returns the model hyperparameters
func (lr *LogisticRegression) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"penalty":       lr.Penalty,
		"C":             lr.C,
		"lambda":        lr.Lambda,
		"l1_ratio":      lr.L1Ratio,
		"solver":        lr.Solver,
		"fit_intercept": lr.FitIntercept,
		"max_iter":      lr.MaxIter,
		"tol":           lr.Tol,
	}
}

// SetParams sets the model hyperparameters
func (lr *LogisticRegression) SetParams(params map[string]interface{}) error {
	for key, value := range params {
		var err error
		switch key {
		case "penalty":
			lr.Penalty, err = cast.ToStringE(value)
		case "C":
			lr.C, err = cast.ToFloat64E(value)
		case "lambda":
			lr.Lambda, err = cast.ToFloat64E(value)
		case "l1_ratio", "alpha":
			lr.L1Ratio, err = cast.ToFloat64E(value)
		case "solver":
			lr.Solver, err = cast.ToStringE(value)
		case "fit_intercept":
			lr.FitIntercept, err = cast.ToBoolE(value)
		case "max_iter":
			lr.MaxIter, err = cast.ToIntE(value)
		case "tol":
			lr.Tol, err = cast.ToFloat64E(value)
		default:
			return errors.NewValidationError(key, "unknown parameter", value)
		}
		if err != nil {
			return errors.NewValidationError(key, err.Error(), value)
		}
	}
	return nil
}

func (lr *LogisticRegression) String() string {
	return fmt.Sprintf("LogisticRegression(penalty=%s, solver=%s, C=%g, lambda=%g, l1_ratio=%g)",
		lr.Penalty, lr.Solver, lr.C, lr.Lambda, lr.L1Ratio)
}

// sigmoid computes the sigmoid function
func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1.0 / (1.0 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

func encode(y mat.Matrix) ([]float64, []int) {
	return tree.EncodeLabels(mat.Col(nil, 0, y))
}

func logSafe(v float64) float64 {
	return math.Log(math.Max(v, 1e-300))
}
