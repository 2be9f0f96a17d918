package harness

import (
	"math/rand/v2"

	"github.com/YuminosukeSato/sipredict/dataset/outcomes"
	"github.com/YuminosukeSato/sipredict/pkg/errors"
	"github.com/YuminosukeSato/sipredict/pkg/log"
	"github.com/YuminosukeSato/sipredict/tabular"
)

// Split assigns every subject to train with probability frac, independently
// of its outcome. Row order is preserved within each part.
func Split(f *tabular.Frame, frac float64, rng *rand.Rand) (train, test *tabular.Frame, err error) {
	if f.NRows() == 0 {
		return nil, nil, errors.ErrEmptyData
	}
	if frac <= 0 || frac >= 1 {
		return nil, nil, errors.NewValidationError("frac", "must be within (0, 1)", frac)
	}
	keep := make([]bool, f.NRows())
	rest := make([]bool, f.NRows())
	for i := range keep {
		keep[i] = rng.Float64() < frac
		rest[i] = !keep[i]
	}
	train, test = f.Filter(keep), f.Filter(rest)
	if train.NRows() == 0 || test.NRows() == 0 {
		return nil, nil, errors.NewValueError("Split", "one side of the split is empty")
	}
	return train, test, nil
}

// Split runs Split with the configured fraction and seed and logs the class
// balance of both parts.
func (h *Harness) Split(f *tabular.Frame) (train, test *tabular.Frame, err error) {
	train, test, err = Split(f, h.cfg.TrainFraction, newRand(h.cfg.Seed, saltSplit))
	if err != nil {
		return nil, nil, errors.NewStageError("split", err)
	}
	for _, part := range []struct {
		name string
		f    *tabular.Frame
	}{{"train", train}, {"test", test}} {
		pos, neg, err := classCounts(part.f)
		if err != nil {
			return nil, nil, errors.NewStageError("split", err)
		}
		h.logger.Info("split part",
			log.TableKey, part.name,
			log.RowsKey, part.f.NRows(),
			log.PositivesKey, pos,
			log.NegativesKey, neg,
		)
	}
	return train, test, nil
}

// Balance pairs every minority (ideation) row with each of nSets disjoint
// partitions of the majority rows. Partitions differ in size by at most one.
func Balance(train *tabular.Frame, nSets int, rng *rand.Rand) ([]*tabular.Frame, error) {
	if nSets < 1 {
		return nil, errors.NewValidationError("n_sets", "must be at least 1", nSets)
	}
	flags, err := train.Binary(outcomes.Ideation)
	if err != nil {
		return nil, err
	}
	var minority, majority []int
	for i, v := range flags {
		switch v {
		case tabular.True:
			minority = append(minority, i)
		case tabular.False:
			majority = append(majority, i)
		default:
			return nil, errors.NewValueError("Balance", "ideation is missing in a training row")
		}
	}
	if len(minority) == 0 {
		return nil, errors.Wrap(errors.ErrSingleClass, "Balance: no subjects with ideation")
	}
	if len(majority) < nSets {
		return nil, errors.NewValueError("Balance", "fewer majority rows than resamples")
	}
	rng.Shuffle(len(majority), func(i, j int) { majority[i], majority[j] = majority[j], majority[i] })

	sets := make([]*tabular.Frame, nSets)
	for s := 0; s < nSets; s++ {
		lo, hi := s*len(majority)/nSets, (s+1)*len(majority)/nSets
		idx := make([]int, 0, len(minority)+hi-lo)
		idx = append(idx, minority...)
		idx = append(idx, majority[lo:hi]...)
		sets[s] = train.Take(idx)
	}
	return sets, nil
}

// Balance runs Balance with the configured resample count and seed.
func (h *Harness) Balance(train *tabular.Frame) ([]*tabular.Frame, error) {
	sets, err := Balance(train, h.cfg.Resamples, newRand(h.cfg.Seed, saltBalance))
	if err != nil {
		return nil, errors.NewStageError("balance", err)
	}
	for r, s := range sets {
		pos, neg, _ := classCounts(s)
		h.logger.Info("balanced resample",
			log.ResampleKey, r,
			log.PositivesKey, pos,
			log.NegativesKey, neg,
		)
	}
	return sets, nil
}
