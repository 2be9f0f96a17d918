// Package pipeline wires the dataset builders, the harness, the store and
// the report into the stages the CLI exposes.
package pipeline

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/YuminosukeSato/sipredict/dataset/assemble"
	"github.com/YuminosukeSato/sipredict/dataset/outcomes"
	"github.com/YuminosukeSato/sipredict/dataset/predictors"
	"github.com/YuminosukeSato/sipredict/harness"
	"github.com/YuminosukeSato/sipredict/internal/config"
	"github.com/YuminosukeSato/sipredict/pkg/errors"
	"github.com/YuminosukeSato/sipredict/pkg/log"
	"github.com/YuminosukeSato/sipredict/report"
	"github.com/YuminosukeSato/sipredict/store"
	"github.com/YuminosukeSato/sipredict/tabular"
)

// Stage names, in execution order.
const (
	StagePredictors = "predictors"
	StageOutcomes   = "outcomes"
	StageAssemble   = "assemble"
	StageSplit      = "split"
	StageTrain      = "train"
	StageEvaluate   = "evaluate"
)

const objAssembleReport = "assemble_report"

// Runner executes stages against one store. Every stage reads its inputs
// from the store and writes its outputs back, so stages can run in separate
// processes.
type Runner struct {
	cfg    *config.Config
	store  store.Store
	h      *harness.Harness
	logger log.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// New returns a Runner.
func New(cfg *config.Config, st store.Store, opts ...Option) (*Runner, error) {
	r := &Runner{cfg: cfg, store: st, logger: log.GetLoggerWithName("pipeline")}
	for _, o := range opts {
		o(r)
	}
	h, err := harness.New(cfg.HarnessConfig(), harness.WithLogger(r.logger.With(log.ComponentKey, "harness")))
	if err != nil {
		return nil, err
	}
	r.h = h
	return r, nil
}

func (r *Runner) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return errors.NewStageError(name, err)
	}
	start := time.Now()
	r.logger.Info("stage started", log.StageKey, name)
	if err := fn(ctx); err != nil {
		var se *errors.StageError
		if errors.As(err, &se) {
			return err
		}
		return errors.NewStageError(name, err)
	}
	r.logger.Info("stage finished", log.StageKey, name, log.DurationMsKey, time.Since(start).Milliseconds())
	return nil
}

// ensureRun starts a run when the store has none.
func (r *Runner) ensureRun(ctx context.Context, label string) error {
	_, ok, err := r.store.Current(ctx)
	if err != nil || ok {
		return err
	}
	run, err := r.store.BeginRun(ctx, label)
	if err != nil {
		return err
	}
	r.logger.Info("run started", log.RunIDKey, run.ID)
	return nil
}

// readExport loads a raw export; .xlsx files are read from their first sheet.
// Callers pass tabular.WithColumns so administrative columns outside the
// builder's list are skipped.
func readExport(path string, opts ...tabular.ReadOption) (*tabular.Frame, error) {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return tabular.ReadXLSXFile(path, "", opts...)
	}
	return tabular.ReadCSVFile(path, opts...)
}

func (r *Runner) inputPath(file string) string {
	return filepath.Join(r.cfg.Input.Dir, file)
}

// Predictors builds the predictor table and starts a new run.
func (r *Runner) Predictors(ctx context.Context) error {
	return r.stage(ctx, StagePredictors, func(ctx context.Context) error {
		run, err := r.store.BeginRun(ctx, StagePredictors)
		if err != nil {
			return err
		}
		r.logger.Info("run started", log.RunIDKey, run.ID)
		b := predictors.NewBuilder(predictors.WithLogger(r.logger.With(log.ComponentKey, "predictors")))
		raw := make(map[string]*tabular.Frame, len(b.Sources()))
		for _, s := range b.Sources() {
			file := s.File
			if override, ok := r.cfg.Input.Files[s.Name]; ok {
				file = override
			}
			f, err := readExport(r.inputPath(file),
				tabular.WithTextColumns(s.Text...), tabular.WithColumns(s.Required()...))
			if err != nil {
				return errors.Wrapf(err, "source %s", s.Name)
			}
			raw[s.Name] = f
		}
		out, err := b.Build(ctx, raw)
		if err != nil {
			return err
		}
		return r.store.PutTable(ctx, store.TablePredictors, out)
	})
}

// Outcomes builds the outcome label table from both interview reports.
func (r *Runner) Outcomes(ctx context.Context) error {
	return r.stage(ctx, StageOutcomes, func(ctx context.Context) error {
		if err := r.ensureRun(ctx, StageOutcomes); err != nil {
			return err
		}
		b := outcomes.NewBuilder(outcomes.WithLogger(r.logger.With(log.ComponentKey, "outcomes")))
		parent, err := readExport(r.inputPath(r.cfg.Input.ParentKSADS),
			tabular.WithColumns(b.Columns(outcomes.ParentReport)...))
		if err != nil {
			return err
		}
		youth, err := readExport(r.inputPath(r.cfg.Input.YouthKSADS),
			tabular.WithColumns(b.Columns(outcomes.YouthReport)...))
		if err != nil {
			return err
		}
		labels, err := b.Build(parent, youth)
		if err != nil {
			return err
		}
		f, err := outcomes.ToFrame(labels)
		if err != nil {
			return err
		}
		return r.store.PutTable(ctx, store.TableOutcomes, f)
	})
}

// Assemble joins predictors and outcomes into the per-subject table.
func (r *Runner) Assemble(ctx context.Context) error {
	return r.stage(ctx, StageAssemble, func(ctx context.Context) error {
		preds, err := r.store.Table(ctx, store.TablePredictors)
		if err != nil {
			return err
		}
		outs, err := r.store.Table(ctx, store.TableOutcomes)
		if err != nil {
			return err
		}
		a := assemble.New(
			assemble.WithOptions(r.cfg.AssembleOptions()),
			assemble.WithLogger(r.logger.With(log.ComponentKey, "assemble")),
		)
		res, err := a.Assemble(preds, outs)
		if err != nil {
			return err
		}
		if err := r.store.PutTable(ctx, store.TableObservations, res.Observations); err != nil {
			return err
		}
		if err := r.store.PutTable(ctx, store.TableSubjects, res.Subjects); err != nil {
			return err
		}
		return r.store.PutObject(ctx, objAssembleReport, res.Report)
	})
}

// Split divides the subjects into raw train and test tables and fits the
// imputer on the training rows.
func (r *Runner) Split(ctx context.Context) error {
	return r.stage(ctx, StageSplit, func(ctx context.Context) error {
		subjects, err := r.store.Table(ctx, store.TableSubjects)
		if err != nil {
			return err
		}
		train, test, err := r.h.Split(subjects)
		if err != nil {
			return err
		}
		im, err := r.h.FitImputer(train)
		if err != nil {
			return err
		}
		// models of the previous split saw subjects that may now be in test
		if err := r.clearModels(ctx); err != nil {
			return err
		}
		if err := r.store.PutTable(ctx, store.TableTrain, train); err != nil {
			return err
		}
		if err := r.store.PutTable(ctx, store.TableTest, test); err != nil {
			return err
		}
		return r.store.PutObject(ctx, store.PrefixImputer, im)
	})
}

func (r *Runner) imputed(ctx context.Context, table string) (*tabular.Frame, error) {
	f, err := r.store.Table(ctx, table)
	if err != nil {
		return nil, err
	}
	var im harness.Imputer
	if err := r.store.Object(ctx, store.PrefixImputer, &im); err != nil {
		return nil, err
	}
	return im.Apply(f)
}

func selectionKey(resample int) string {
	return store.PrefixSelection + "r" + strconv.Itoa(resample)
}

// Train balances the imputed training table, selects features per resample
// and fits every model. Each artifact is stored once under its key.
func (r *Runner) Train(ctx context.Context) error {
	return r.stage(ctx, StageTrain, func(ctx context.Context) error {
		train, err := r.imputed(ctx, store.TableTrain)
		if err != nil {
			return err
		}
		sets, err := r.h.Balance(train)
		if err != nil {
			return err
		}
		if err := r.clearModels(ctx); err != nil {
			return err
		}
		for i, s := range sets {
			if err := r.store.PutTable(ctx, store.PrefixResample+"r"+strconv.Itoa(i), s); err != nil {
				return err
			}
		}
		var sels []*harness.Selection
		if r.h.Config().SelectFeatures {
			if sels, err = r.h.SelectAll(ctx, sets); err != nil {
				return err
			}
			for _, s := range sels {
				if err := r.store.PutObject(ctx, selectionKey(s.Resample), s); err != nil {
					return err
				}
			}
		}
		arts, err := r.h.Train(ctx, sets, sels)
		if err != nil {
			return err
		}
		for _, a := range arts {
			if err := r.store.PutObject(ctx, store.PrefixArtifact+a.Key.String(), a); err != nil {
				return err
			}
			if r.logger.Enabled(ctx, log.LevelDebug) {
				if js, err := a.Summary().ToJSON(); err == nil {
					r.logger.Debug("model summary", log.ModelNameKey, a.Key.String(), "summary", string(js))
				}
			}
		}
		return nil
	})
}

// clearModels drops the selections and artifacts of the current run so
// Evaluate only sees what the latest Train wrote.
func (r *Runner) clearModels(ctx context.Context) error {
	for _, prefix := range []string{store.PrefixArtifact, store.PrefixSelection} {
		n, err := r.store.DeleteObjects(ctx, prefix)
		if err != nil {
			return err
		}
		if n > 0 {
			r.logger.Info("stale objects removed", log.PathKey, prefix, "count", n)
		}
	}
	return nil
}

func (r *Runner) artifacts(ctx context.Context) ([]*harness.Artifact, error) {
	keys, err := r.store.Keys(ctx, store.PrefixArtifact)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, errors.Wrap(errors.ErrArtifactNotFound, "no trained models in the current run")
	}
	out := make([]*harness.Artifact, 0, len(keys))
	for _, k := range keys {
		a := new(harness.Artifact)
		if err := r.store.Object(ctx, k, a); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (r *Runner) selections(ctx context.Context) ([]*harness.Selection, error) {
	keys, err := r.store.Keys(ctx, store.PrefixSelection)
	if err != nil {
		return nil, err
	}
	out := make([]*harness.Selection, 0, len(keys))
	for _, k := range keys {
		s := new(harness.Selection)
		if err := r.store.Object(ctx, k, s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Evaluate scores the imputed test table with every stored artifact,
// calibrates and evaluates the models, and writes the report.
func (r *Runner) Evaluate(ctx context.Context) (*report.Files, error) {
	var files *report.Files
	err := r.stage(ctx, StageEvaluate, func(ctx context.Context) error {
		test, err := r.imputed(ctx, store.TableTest)
		if err != nil {
			return err
		}
		arts, err := r.artifacts(ctx)
		if err != nil {
			return err
		}
		preds, err := r.h.Predict(arts, test)
		if err != nil {
			return err
		}
		pf, err := harness.PredictionsToFrame(preds)
		if err != nil {
			return err
		}
		if err := r.store.PutTable(ctx, store.TablePredictions, pf); err != nil {
			return err
		}
		_, ms, err := r.h.Evaluate(preds)
		if err != nil {
			return err
		}
		mf, err := report.MetricsFrame(ms)
		if err != nil {
			return err
		}
		if err := r.store.PutTable(ctx, store.TableMetrics, mf); err != nil {
			return err
		}
		sels, err := r.selections(ctx)
		if err != nil {
			return err
		}
		files, err = report.Write(r.cfg.Output.Dir, preds, ms, sels)
		return err
	})
	return files, err
}

// Run starts a new run and executes every stage.
func (r *Runner) Run(ctx context.Context) (*report.Files, error) {
	for _, step := range []func(context.Context) error{
		r.Predictors, r.Outcomes, r.Assemble, r.Split, r.Train,
	} {
		if err := step(ctx); err != nil {
			return nil, err
		}
	}
	return r.Evaluate(ctx)
}
