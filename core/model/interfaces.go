package model

import (
	"gonum.org/v1/gonum/mat"
)

// Classifier is a fitted binary classifier over {0, 1} labels.
// Predict returns hard labels.
type Classifier interface {
	Estimator
	Fitter
	Predictor
}

// ProbabilisticClassifier is a classifier that can score the positive class.
type ProbabilisticClassifier interface {
	Classifier

	// PredictProba returns an n×2 matrix of class probabilities; column 1 is
	// the positive class.
	PredictProba(X mat.Matrix) (mat.Matrix, error)
}

// Regressor is a fitted single-output regressor.
type Regressor interface {
	Estimator
	Fitter
	Predictor
}

// FeatureImportancer exposes per-feature importance after fitting.
type FeatureImportancer interface {
	FeatureImportances() ([]float64, error)
}

// ParameterGetter is the interface for models that expose their parameters.
type ParameterGetter interface {
	GetParams() map[string]interface{}
}

// ParameterSetter is the interface for models that allow parameter modification.
type ParameterSetter interface {
	SetParams(params map[string]interface{}) error
}

// ClassifierFactory builds a fresh, unfitted classifier from hyperparameters.
// Search and cross-validation use it so that every fold starts clean.
type ClassifierFactory func(params map[string]interface{}) (Classifier, error)

// PositiveScores returns one score per row: the positive-class probability
// when c can produce it, otherwise the hard label from Predict.
func PositiveScores(c Classifier, X mat.Matrix) ([]float64, error) {
	n, _ := X.Dims()
	out := make([]float64, n)
	if pc, ok := c.(ProbabilisticClassifier); ok {
		proba, err := pc.PredictProba(X)
		if err != nil {
			return nil, err
		}
		for i := 0; i < n; i++ {
			out[i] = proba.At(i, 1)
		}
		return out, nil
	}
	pred, err := c.Predict(X)
	if err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		out[i] = pred.At(i, 0)
	}
	return out, nil
}
