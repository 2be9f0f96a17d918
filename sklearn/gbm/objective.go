package gbm

import "math"

// ObjectiveFunction defines the per-sample loss used for boosting.
type ObjectiveFunction interface {
	// CalculateGradient returns dL/dF at raw score prediction.
	CalculateGradient(prediction, target float64) float64
	// CalculateHessian returns d²L/dF².
	CalculateHessian(prediction, target float64) float64
	// CalculateLoss returns the loss for a single sample
	CalculateLoss(prediction, target float64) float64
	// GetInitScore returns the constant raw score that minimizes the loss
	GetInitScore(targets []float64) float64
	Name() string
}

// BinaryLogloss is the Bernoulli deviance on the logit scale.
type BinaryLogloss struct{}

func (BinaryLogloss) CalculateGradient(prediction, target float64) float64 {
	return sigmoid(prediction) - target
}

func (BinaryLogloss) CalculateHessian(prediction, target float64) float64 {
	p := sigmoid(prediction)
	return math.Max(p*(1-p), 1e-16)
}

func (BinaryLogloss) CalculateLoss(prediction, target float64) float64 {
	// log(1+exp(F)) - y*F
	if prediction > 0 {
		return prediction + math.Log1p(math.Exp(-prediction)) - target*prediction
	}
	return math.Log1p(math.Exp(prediction)) - target*prediction
}

func (BinaryLogloss) GetInitScore(targets []float64) float64 {
	if len(targets) == 0 {
		return 0
	}
	pos := 0.0
	for _, t := range targets {
		pos += t
	}
	p := pos / float64(len(targets))
	p = math.Min(math.Max(p, 1e-15), 1-1e-15)
	return math.Log(p / (1 - p))
}

func (BinaryLogloss) Name() string { return "binary" }

func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}
