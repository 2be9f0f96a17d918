package harness

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/YuminosukeSato/sipredict/pkg/errors"
	"github.com/YuminosukeSato/sipredict/pkg/log"
	"github.com/YuminosukeSato/sipredict/tabular"
)

func (h *Harness) workers() int {
	if h.cfg.NJobs > 0 {
		return h.cfg.NJobs
	}
	return runtime.GOMAXPROCS(0)
}

// SelectAll runs Boruta on every resample concurrently. Each resample owns
// its random stream, so the result does not depend on scheduling.
func (h *Harness) SelectAll(ctx context.Context, sets []*tabular.Frame) ([]*Selection, error) {
	out := make([]*Selection, len(sets))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(h.workers())
	for r, set := range sets {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			sel, err := h.SelectFeatures(set, r)
			out[r] = sel
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

type task struct {
	key      ArtifactKey
	features []string
}

// tasks enumerates resample × variant × family. A boruta variant with no
// confirmed features is skipped.
func (h *Harness) tasks(sets []*tabular.Frame, sels []*Selection) ([]task, error) {
	if h.cfg.SelectFeatures && len(sels) != len(sets) {
		return nil, errors.NewDimensionError("Train", len(sets), len(sels), 0)
	}
	var out []task
	for r, set := range sets {
		for _, v := range h.cfg.Variants() {
			features := PredictorNames(set)
			if v == VariantBoruta {
				features = sels[r].Features
				if len(features) == 0 {
					h.logger.Warn("skipping boruta variant without features", log.ResampleKey, r)
					continue
				}
			}
			for _, f := range h.cfg.Families {
				out = append(out, task{key: ArtifactKey{Family: f, Variant: v, Resample: r}, features: features})
			}
		}
	}
	return out, nil
}

// Train fits every configured family on every resample and variant. sels is
// ignored when feature selection is off. The first failure cancels the
// remaining fits.
func (h *Harness) Train(ctx context.Context, sets []*tabular.Frame, sels []*Selection) ([]*Artifact, error) {
	tasks, err := h.tasks(sets, sels)
	if err != nil {
		return nil, errors.NewStageError("train", err)
	}
	h.logger.Info("training models", "models", len(tasks), "resamples", len(sets))

	out := make([]*Artifact, len(tasks))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(h.workers())
	for i, t := range tasks {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			a, err := h.FitModel(sets[t.key.Resample], t.key, t.features)
			out[i] = a
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.NewStageError("train", err)
	}
	return out, nil
}
