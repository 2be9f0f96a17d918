package harness

import (
	"encoding/gob"

	"github.com/YuminosukeSato/sipredict/pkg/errors"
	"github.com/YuminosukeSato/sipredict/pkg/log"
	"github.com/YuminosukeSato/sipredict/sklearn/impute"
	"github.com/YuminosukeSato/sipredict/tabular"
)

func init() {
	gob.Register(&Imputer{})
}

// Imputer is a bagged-tree imputer bound to the predictor columns it was
// fitted on.
type Imputer struct {
	Features []string
	Model    *impute.BaggedTreeImputer
}

// FitImputer fits the imputer on the training predictors. Outcomes and the
// subject key never enter the model.
func (h *Harness) FitImputer(train *tabular.Frame) (*Imputer, error) {
	features := PredictorNames(train)
	X, err := train.Matrix(features)
	if err != nil {
		return nil, errors.NewStageError("impute", err)
	}
	var binary []int
	for j, name := range features {
		if c, _ := train.Column(name); c.Kind == tabular.KindBinary {
			binary = append(binary, j)
		}
	}
	m := impute.NewBaggedTreeImputer(
		impute.WithBags(h.cfg.ImputeBags),
		impute.WithRandomState(derive(h.cfg.Seed, saltImpute)),
		impute.WithNJobs(h.cfg.NJobs),
		impute.WithBinaryColumns(len(features), binary...),
	)
	if err := m.Fit(X); err != nil {
		return nil, errors.NewStageError("impute", err)
	}
	h.logger.Info("imputer fitted",
		log.SamplesKey, train.NRows(),
		log.FeaturesKey, len(features),
		"binary_features", len(binary),
	)
	return &Imputer{Features: features, Model: m}, nil
}

// Apply returns a copy of f with every missing predictor cell filled.
// Observed cells are left untouched.
func (im *Imputer) Apply(f *tabular.Frame) (*tabular.Frame, error) {
	if im == nil || im.Model == nil || !im.Model.IsFitted() {
		return nil, errors.NewNotFittedError("Imputer", "Apply")
	}
	X, err := f.Matrix(im.Features)
	if err != nil {
		return nil, err
	}
	filled, err := im.Model.Transform(X)
	if err != nil {
		return nil, err
	}
	out := f.Clone()
	if err := out.SetFromMatrix(im.Features, filled, true); err != nil {
		return nil, err
	}
	return out, nil
}
