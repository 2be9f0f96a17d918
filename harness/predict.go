package harness

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/sipredict/core/model"
	"github.com/YuminosukeSato/sipredict/dataset/outcomes"
	"github.com/YuminosukeSato/sipredict/pkg/errors"
	"github.com/YuminosukeSato/sipredict/pkg/log"
	"github.com/YuminosukeSato/sipredict/preprocessing"
	"github.com/YuminosukeSato/sipredict/tabular"
)

// ResampleColumn holds the resample index in the prediction table.
const ResampleColumn = "resample"

// Prediction is the score of every model trained on one resample for one
// test subject. SVM scores are hard 0/1 labels; the others are the
// probability of ideation.
type Prediction struct {
	SubjectID string
	Ideation  bool
	Action    bool
	Resample  int
	Scores    map[string]float64
}

type truth struct {
	ids              []string
	ideation, action []bool
}

func readTruth(test *tabular.Frame) (*truth, error) {
	ids, err := test.Text(tabular.SubjectKey)
	if err != nil {
		return nil, err
	}
	t := &truth{ids: ids}
	for _, name := range []string{outcomes.Ideation, outcomes.Action} {
		flags, err := test.Binary(name)
		if err != nil {
			return nil, err
		}
		dst := make([]bool, len(flags))
		for i, v := range flags {
			if v == tabular.Missing {
				return nil, errors.NewValueError("Predict", name+" is missing for subject "+ids[i])
			}
			dst[i] = v == tabular.True
		}
		if name == outcomes.Ideation {
			t.ideation = dst
		} else {
			t.action = dst
		}
	}
	return t, nil
}

// Score returns one score per row of test.
func (a *Artifact) Score(test *tabular.Frame, mode ScaleMode) ([]float64, error) {
	X, err := test.Matrix(a.Features)
	if err != nil {
		return nil, err
	}
	var in mat.Matrix = X
	if a.Scaler != nil {
		if mode == ScaleTest && a.Key.Family == FamilyKNN {
			in, err = preprocessing.NewStandardScaler().FitTransform(X)
		} else {
			in, err = a.Scaler.Transform(X)
		}
		if err != nil {
			return nil, err
		}
	}
	return model.PositiveScores(a.Model, in)
}

// Predict scores the imputed test table with every artifact. The result has
// one Prediction per subject and resample, ordered by resample then row.
func (h *Harness) Predict(artifacts []*Artifact, test *tabular.Frame) ([]Prediction, error) {
	if len(artifacts) == 0 {
		return nil, errors.NewValueError("Predict", "no artifacts")
	}
	t, err := readTruth(test)
	if err != nil {
		return nil, errors.NewStageError("predict", err)
	}
	byResample := make(map[int][]Prediction)
	for _, a := range artifacts {
		r := a.Key.Resample
		rows, ok := byResample[r]
		if !ok {
			rows = make([]Prediction, test.NRows())
			for i := range rows {
				rows[i] = Prediction{
					SubjectID: t.ids[i],
					Ideation:  t.ideation[i],
					Action:    t.action[i],
					Resample:  r,
					Scores:    make(map[string]float64),
				}
			}
			byResample[r] = rows
		}
		scores, err := a.Score(test, h.cfg.KNNScaleMode)
		if err != nil {
			return nil, errors.NewStageError("predict", errors.Wrapf(err, "%s", a.Key))
		}
		name := a.Key.ModelName()
		for i, s := range scores {
			rows[i].Scores[name] = s
		}
	}

	resamples := make([]int, 0, len(byResample))
	for r := range byResample {
		resamples = append(resamples, r)
	}
	sort.Ints(resamples)
	out := make([]Prediction, 0, len(resamples)*test.NRows())
	for _, r := range resamples {
		out = append(out, byResample[r]...)
	}
	h.logger.Info("predictions made",
		log.PredsKey, len(out),
		"models", len(artifacts),
		log.SamplesKey, test.NRows(),
	)
	return out, nil
}

// ModelNames returns every model name that appears in preds, sorted.
func ModelNames(preds []Prediction) []string {
	seen := make(map[string]bool)
	for _, p := range preds {
		for name := range p.Scores {
			seen[name] = true
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// PredictionsToFrame lays predictions out as subject_id, ideation, action,
// resample and one score column per model. Absent scores are NaN.
func PredictionsToFrame(preds []Prediction) (*tabular.Frame, error) {
	n := len(preds)
	if n == 0 {
		return nil, errors.ErrEmptyData
	}
	ids := make([]string, n)
	ide := make([]tabular.Flag, n)
	act := make([]tabular.Flag, n)
	res := make([]float64, n)
	for i, p := range preds {
		ids[i] = p.SubjectID
		ide[i] = tabular.FlagOf(p.Ideation)
		act[i] = tabular.FlagOf(p.Action)
		res[i] = float64(p.Resample)
	}
	f := tabular.NewFrame(n)
	if err := f.AddText(tabular.SubjectKey, ids); err != nil {
		return nil, err
	}
	if err := f.AddBinary(outcomes.Ideation, ide); err != nil {
		return nil, err
	}
	if err := f.AddBinary(outcomes.Action, act); err != nil {
		return nil, err
	}
	if err := f.AddNumeric(ResampleColumn, res); err != nil {
		return nil, err
	}
	for _, name := range ModelNames(preds) {
		col := make([]float64, n)
		for i, p := range preds {
			v, ok := p.Scores[name]
			if !ok {
				v = math.NaN()
			}
			col[i] = v
		}
		if err := f.AddNumeric(name, col); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// PredictionsFromFrame is the inverse of PredictionsToFrame. NaN scores are
// left out of Scores.
func PredictionsFromFrame(f *tabular.Frame) ([]Prediction, error) {
	ids, err := f.Text(tabular.SubjectKey)
	if err != nil {
		return nil, err
	}
	ide, err := f.Binary(outcomes.Ideation)
	if err != nil {
		return nil, err
	}
	act, err := f.Binary(outcomes.Action)
	if err != nil {
		return nil, err
	}
	res, err := f.Numeric(ResampleColumn)
	if err != nil {
		return nil, err
	}
	var scoreCols []*tabular.Column
	for _, c := range f.Columns() {
		switch c.Name {
		case tabular.SubjectKey, outcomes.Ideation, outcomes.Action, ResampleColumn:
			continue
		}
		if c.Kind == tabular.KindText {
			return nil, errors.NewSchemaErrorf("predictions", c.Name, "score columns must be numeric")
		}
		scoreCols = append(scoreCols, c)
	}
	out := make([]Prediction, f.NRows())
	for i := range out {
		p := Prediction{
			SubjectID: ids[i],
			Ideation:  ide[i] == tabular.True,
			Action:    act[i] == tabular.True,
			Resample:  int(res[i]),
			Scores:    make(map[string]float64, len(scoreCols)),
		}
		for _, c := range scoreCols {
			if v := c.Float(i); !math.IsNaN(v) {
				p.Scores[c.Name] = v
			}
		}
		out[i] = p
	}
	return out, nil
}
