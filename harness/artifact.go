package harness

import (
	"encoding/gob"
	"fmt"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/sipredict/core/model"
	"github.com/YuminosukeSato/sipredict/dataset/outcomes"
	"github.com/YuminosukeSato/sipredict/pkg/errors"
	"github.com/YuminosukeSato/sipredict/pkg/log"
	"github.com/YuminosukeSato/sipredict/preprocessing"
	"github.com/YuminosukeSato/sipredict/sklearn/linear_model"
	"github.com/YuminosukeSato/sipredict/tabular"
)

func init() {
	gob.Register(&Artifact{})
}

// ArtifactKey identifies one trained model.
type ArtifactKey struct {
	Family   Family
	Variant  Variant
	Resample int
}

// ModelName is the column name used for the model's predictions: the family,
// suffixed with "_boruta" for the selected-feature variant.
func (k ArtifactKey) ModelName() string {
	if k.Variant == VariantBoruta {
		return string(k.Family) + "_boruta"
	}
	return string(k.Family)
}

// String renders the key as a store path, e.g. "svm_poly_boruta/r2".
func (k ArtifactKey) String() string {
	return fmt.Sprintf("%s/r%d", k.ModelName(), k.Resample)
}

// Artifact is a fitted model with everything needed to score new rows.
type Artifact struct {
	Key      ArtifactKey
	Features []string
	// Scaler is set for families trained on standardized predictors.
	Scaler    *preprocessing.StandardScaler
	Model     model.Classifier
	Params    map[string]interface{}
	CVScore   float64
	TrainRows int
}

// FitModel trains one family on the given predictors of a balanced resample.
// The outcome is ideation.
func (h *Harness) FitModel(set *tabular.Frame, key ArtifactKey, features []string) (*Artifact, error) {
	tr, ok := families[key.Family]
	if !ok {
		return nil, errors.NewValidationError("family", "unknown family", key.Family)
	}
	if len(features) == 0 {
		return nil, errors.NewValueError("FitModel", key.String()+": no features")
	}
	X, err := set.Matrix(features)
	if err != nil {
		return nil, err
	}
	y, err := set.Vector(outcomes.Ideation)
	if err != nil {
		return nil, err
	}
	if err := errors.CheckNumericalStability("FitModel", X.RawMatrix().Data, 0); err != nil {
		return nil, errors.Wrapf(err, "%s: predictors must be imputed", key)
	}

	start := time.Now()
	var scaler *preprocessing.StandardScaler
	if tr.scaled {
		scaler = preprocessing.NewStandardScaler()
		Xs, err := scaler.FitTransform(X)
		if err != nil {
			return nil, err
		}
		X = mat.DenseCopyOf(Xs)
	}
	seed := derive(h.cfg.Seed, saltModel, uint64(key.Resample), key.Family.ordinal(), key.Variant.ordinal())
	f, err := tr.fit(h, X, y, seed)
	if err != nil {
		return nil, errors.NewModelError("FitModel", key.String(), err)
	}
	h.logger.Info("model fitted",
		log.ModelFamilyKey, key.Family,
		log.VariantKey, key.Variant,
		log.ResampleKey, key.Resample,
		log.FeaturesKey, len(features),
		log.HyperParamsKey, fmt.Sprint(f.params),
		log.CVScoreKey, f.cvScore,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return &Artifact{
		Key:       key,
		Features:  append([]string(nil), features...),
		Scaler:    scaler,
		Model:     f.model,
		Params:    f.params,
		CVScore:   f.cvScore,
		TrainRows: set.NRows(),
	}, nil
}

// Summary returns a human-readable description of the artifact.
func (a *Artifact) Summary() *model.Summary {
	s := &model.Summary{
		ModelType:       fmt.Sprintf("%T", a.Model),
		Version:         "1",
		Features:        a.Features,
		Hyperparameters: a.Params,
		Metadata: map[string]interface{}{
			"model":      a.Key.ModelName(),
			"resample":   a.Key.Resample,
			"cv_score":   a.CVScore,
			"train_rows": a.TrainRows,
		},
	}
	switch m := a.Model.(type) {
	case *linear_model.LogisticRegression:
		s.Coefficients, s.Intercept = m.Coef, m.Intercept
	case *linear_model.StepwiseLogisticRegression:
		if imp, err := m.FeatureImportances(); err == nil {
			s.Importances = imp
		}
		if m.Model != nil {
			s.Intercept = m.Model.Intercept
		}
	case model.FeatureImportancer:
		if imp, err := m.FeatureImportances(); err == nil {
			s.Importances = imp
		}
	}
	return s
}
