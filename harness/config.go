// Package harness splits the assembled table, imputes and balances the
// training rows, fits every model family on every resample, and scores the
// held-out subjects.
package harness

import (
	"github.com/YuminosukeSato/sipredict/pkg/errors"
)

// ScaleMode selects the statistics used to standardize kNN test rows.
type ScaleMode string

const (
	// ScaleTrain reuses the scaler fitted on the training resample.
	ScaleTrain ScaleMode = "train"
	// ScaleTest re-standardizes the test rows on their own mean and sd.
	ScaleTest ScaleMode = "test"
)

// Config holds every tunable of the harness.
type Config struct {
	Seed          uint64
	TrainFraction float64
	Resamples     int
	CVFolds       int
	ForestTrees   int
	ImputeBags    int

	SelectFeatures bool
	BorutaRuns     int
	BorutaPValue   float64
	BorutaTrees    int

	Families []Family
	// SearchIter は svm_radial / svm_poly のランダムサーチ候補数
	SearchIter   int
	KNNScaleMode ScaleMode

	// NJobs bounds concurrent model fits; <= 0 uses GOMAXPROCS.
	NJobs int
}

// DefaultConfig returns the settings used for the published models.
func DefaultConfig() Config {
	return Config{
		Seed:           1234,
		TrainFraction:  0.75,
		Resamples:      4,
		CVFolds:        10,
		ForestTrees:    500,
		ImputeBags:     25,
		SelectFeatures: true,
		BorutaRuns:     100,
		BorutaPValue:   0.01,
		BorutaTrees:    500,
		Families:       AllFamilies(),
		SearchIter:     10,
		KNNScaleMode:   ScaleTrain,
	}
}

// Validate checks ranges and family names.
func (c Config) Validate() error {
	switch {
	case c.TrainFraction <= 0 || c.TrainFraction >= 1:
		return errors.NewValidationError("train_fraction", "must be within (0, 1)", c.TrainFraction)
	case c.Resamples < 1:
		return errors.NewValidationError("resamples", "must be at least 1", c.Resamples)
	case c.CVFolds < 2:
		return errors.NewValidationError("cv_folds", "must be at least 2", c.CVFolds)
	case c.ForestTrees < 1:
		return errors.NewValidationError("forest_trees", "must be at least 1", c.ForestTrees)
	case c.ImputeBags < 1:
		return errors.NewValidationError("impute_bags", "must be at least 1", c.ImputeBags)
	case c.SearchIter < 1:
		return errors.NewValidationError("search_iter", "must be at least 1", c.SearchIter)
	case len(c.Families) == 0:
		return errors.NewValidationError("families", "at least one family is required", c.Families)
	}
	if c.SelectFeatures {
		if c.BorutaRuns < 1 {
			return errors.NewValidationError("boruta_runs", "must be at least 1", c.BorutaRuns)
		}
		if c.BorutaPValue <= 0 || c.BorutaPValue >= 1 {
			return errors.NewValidationError("boruta_p_value", "must be within (0, 1)", c.BorutaPValue)
		}
		if c.BorutaTrees < 1 {
			return errors.NewValidationError("boruta_trees", "must be at least 1", c.BorutaTrees)
		}
	}
	switch c.KNNScaleMode {
	case ScaleTrain, ScaleTest:
	default:
		return errors.NewValidationError("knn_scale_mode", "must be train or test", c.KNNScaleMode)
	}
	seen := make(map[Family]bool, len(c.Families))
	for _, f := range c.Families {
		if _, ok := families[f]; !ok {
			return errors.NewValidationError("families", "unknown family "+string(f), f)
		}
		if seen[f] {
			return errors.NewValidationError("families", "duplicate family "+string(f), f)
		}
		seen[f] = true
	}
	return nil
}

// Variants returns the feature-set variants this configuration trains.
func (c Config) Variants() []Variant {
	if c.SelectFeatures {
		return []Variant{VariantAll, VariantBoruta}
	}
	return []Variant{VariantAll}
}
