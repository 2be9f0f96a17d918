package harness

import (
	"encoding/gob"

	"github.com/YuminosukeSato/sipredict/dataset/outcomes"
	"github.com/YuminosukeSato/sipredict/pkg/errors"
	"github.com/YuminosukeSato/sipredict/pkg/log"
	"github.com/YuminosukeSato/sipredict/sklearn/feature_selection"
	"github.com/YuminosukeSato/sipredict/tabular"
)

func init() {
	gob.Register(&Selection{})
}

// Selection is the Boruta outcome for one balanced resample.
type Selection struct {
	Resample int
	// Features are the confirmed predictors in table order.
	Features []string
	Result   *feature_selection.Result
}

// SelectFeatures runs Boruta on one balanced resample with b. The outcome is
// ideation; the subject key and action are excluded.
func SelectFeatures(set *tabular.Frame, b *feature_selection.Boruta) (*feature_selection.Result, error) {
	names := PredictorNames(set)
	X, err := set.Matrix(names)
	if err != nil {
		return nil, err
	}
	y, err := set.Vector(outcomes.Ideation)
	if err != nil {
		return nil, err
	}
	return b.Fit(X, y, names)
}

// SelectFeatures runs the configured Boruta on resample r.
func (h *Harness) SelectFeatures(set *tabular.Frame, r int) (*Selection, error) {
	b := feature_selection.NewBoruta(
		feature_selection.WithMaxRuns(h.cfg.BorutaRuns),
		feature_selection.WithPValue(h.cfg.BorutaPValue),
		feature_selection.WithNEstimators(h.cfg.BorutaTrees),
		feature_selection.WithRandomState(derive(h.cfg.Seed, saltBoruta, uint64(r))),
		feature_selection.WithNJobs(h.cfg.NJobs),
	)
	res, err := SelectFeatures(set, b)
	if err != nil {
		return nil, errors.NewStageError("select", errors.Wrapf(err, "resample %d", r))
	}
	sel := &Selection{Resample: r, Features: res.Selected(), Result: res}
	h.logger.Info("features selected",
		log.ResampleKey, r,
		log.FeaturesKey, len(sel.Features),
		"candidates", len(res.Features),
		"runs", res.Runs,
	)
	if len(sel.Features) == 0 {
		h.logger.Warn("boruta confirmed no features", log.ResampleKey, r)
	}
	return sel, nil
}
