package model_selection

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/YuminosukeSato/sipredict/core/model"
	"github.com/YuminosukeSato/sipredict/core/parallel"
	"github.com/YuminosukeSato/sipredict/metrics"
	"github.com/YuminosukeSato/sipredict/pkg/errors"
	"github.com/YuminosukeSato/sipredict/pkg/log"
)

// CandidateResult is the cross-validated accuracy of one parameter set.
type CandidateResult struct {
	Params     map[string]interface{}
	FoldScores []float64
	MeanScore  float64
	StdScore   float64
	// Failed は少なくとも 1 つの fold で学習に失敗した場合 true
	Failed bool
}

// SearchResult summarizes a hyperparameter search.
type SearchResult struct {
	Candidates    []CandidateResult
	BestIndex     int
	BestParams    map[string]interface{}
	BestScore     float64
	BestEstimator model.Classifier
}

// CrossValScore returns the accuracy of a fresh factory(params) model on
// every fold.
func CrossValScore(factory model.ClassifierFactory, params map[string]interface{},
	X, y mat.Matrix, cv Splitter, nJobs int) ([]float64, error) {
	folds, err := cv.Split(X, y)
	if err != nil {
		return nil, err
	}
	scores := make([]float64, len(folds))
	err = parallel.ForEach(len(folds), nJobs, func(f int) error {
		s, err := foldScore(factory, params, X, y, folds[f])
		scores[f] = s
		return err
	})
	return scores, err
}

func foldScore(factory model.ClassifierFactory, params map[string]interface{}, X, y mat.Matrix, fold Fold) (float64, error) {
	m, err := factory(params)
	if err != nil {
		return math.NaN(), err
	}
	xTr, yTr := Subset(X, y, fold.TrainIndices)
	xTe, yTe := Subset(X, y, fold.TestIndices)
	if err := m.Fit(xTr, yTr); err != nil {
		return math.NaN(), err
	}
	pred, err := m.Predict(xTe)
	if err != nil {
		return math.NaN(), err
	}
	n := len(fold.TestIndices)
	return metrics.Accuracy(mat.NewVecDense(n, mat.Col(nil, 0, yTe)), mat.NewVecDense(n, mat.Col(nil, 0, pred)))
}

// evaluate scores every candidate on the same folds, then refits the best one
// on all rows. Ties keep the earliest candidate.
func evaluate(factory model.ClassifierFactory, candidates []map[string]interface{},
	X, y mat.Matrix, cv Splitter, nJobs int, name string) (*SearchResult, error) {
	if len(candidates) == 0 {
		return nil, errors.NewValidationError("param_grid", "no candidates", 0)
	}
	folds, err := cv.Split(X, y)
	if err != nil {
		return nil, err
	}
	k := len(folds)
	scores := make([]float64, len(candidates)*k)
	fails := make([]error, len(candidates)*k)
	// 失敗した fold は NaN として記録し、候補ごと除外する
	_ = parallel.ForEach(len(scores), nJobs, func(t int) error {
		c, f := t/k, t%k
		scores[t], fails[t] = foldScore(factory, candidates[c], X, y, folds[f])
		return nil
	})

	logger := log.GetLoggerWithName("model_selection")
	res := &SearchResult{Candidates: make([]CandidateResult, len(candidates)), BestIndex: -1}
	for c, params := range candidates {
		fs := scores[c*k : (c+1)*k]
		cr := CandidateResult{Params: params, FoldScores: append([]float64(nil), fs...)}
		for f := 0; f < k; f++ {
			if fails[c*k+f] != nil {
				cr.Failed = true
				logger.Warn("candidate fold failed", log.HyperParamsKey, params, "fold", f, "error", fails[c*k+f].Error())
			}
		}
		if cr.Failed {
			cr.MeanScore, cr.StdScore = math.NaN(), math.NaN()
		} else {
			cr.MeanScore, cr.StdScore = stat.MeanStdDev(fs, nil)
			if res.BestIndex < 0 || cr.MeanScore > res.Candidates[res.BestIndex].MeanScore {
				res.BestIndex = c
			}
		}
		res.Candidates[c] = cr
	}
	if res.BestIndex < 0 {
		return nil, errors.Newf("%s: every candidate failed", name)
	}
	best := res.Candidates[res.BestIndex]
	res.BestParams = best.Params
	res.BestScore = best.MeanScore

	m, err := factory(best.Params)
	if err != nil {
		return nil, err
	}
	if err := m.Fit(X, y); err != nil {
		return nil, errors.Wrapf(err, "%s: refit with best parameters", name)
	}
	res.BestEstimator = m
	logger.Debug("search finished",
		"search", name,
		"candidates", len(candidates),
		log.FoldsKey, k,
		log.HyperParamsKey, fmt.Sprint(best.Params),
		log.CVScoreKey, best.MeanScore,
	)
	return res, nil
}

// ParamGrid maps a parameter name to the values to try.
type ParamGrid map[string][]interface{}

// Expand returns the cartesian product of the grid in a stable order: keys
// sorted by name, last key varying fastest.
func (g ParamGrid) Expand() []map[string]interface{} {
	keys := make([]string, 0, len(g))
	for k := range g {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := []map[string]interface{}{{}}
	for _, k := range keys {
		var next []map[string]interface{}
		for _, base := range out {
			for _, v := range g[k] {
				m := make(map[string]interface{}, len(base)+1)
				for bk, bv := range base {
					m[bk] = bv
				}
				m[k] = v
				next = append(next, m)
			}
		}
		out = next
	}
	return out
}

// GridSearchCV evaluates every grid point by cross-validated accuracy.
type GridSearchCV struct {
	Factory model.ClassifierFactory
	Grid    ParamGrid
	CV      Splitter
	NJobs   int
}

// Fit runs the search and refits the winner on X, y.
func (gs *GridSearchCV) Fit(X, y mat.Matrix) (*SearchResult, error) {
	return evaluate(gs.Factory, gs.Grid.Expand(), X, y, gs.CV, gs.NJobs, "GridSearchCV")
}

// Distribution draws a parameter value.
type Distribution interface {
	Sample(rng *rand.Rand) interface{}
}

// Choice draws uniformly from a fixed list.
type Choice []interface{}

func (c Choice) Sample(rng *rand.Rand) interface{} { return c[rng.IntN(len(c))] }

// LogUniform draws exp(U(log Low, log High)).
type LogUniform struct{ Low, High float64 }

func (d LogUniform) Sample(rng *rand.Rand) interface{} {
	u := distuv.Uniform{Min: math.Log(d.Low), Max: math.Log(d.High), Src: rng}
	return math.Exp(u.Rand())
}

// Uniform draws from U(Low, High).
type Uniform struct{ Low, High float64 }

func (d Uniform) Sample(rng *rand.Rand) interface{} {
	return distuv.Uniform{Min: d.Low, Max: d.High, Src: rng}.Rand()
}

// IntRange draws an integer uniformly from [Low, High].
type IntRange struct{ Low, High int }

func (d IntRange) Sample(rng *rand.Rand) interface{} { return d.Low + rng.IntN(d.High-d.Low+1) }

// RandomizedSearchCV evaluates NIter parameter sets drawn from Distributions.
type RandomizedSearchCV struct {
	Factory       model.ClassifierFactory
	Distributions map[string]Distribution
	NIter         int
	CV            Splitter
	Seed          uint64
	NJobs         int
}

// Candidates draws the parameter sets; keys are sampled in sorted order so a
// seed always yields the same sets.
func (rs *RandomizedSearchCV) Candidates() []map[string]interface{} {
	keys := make([]string, 0, len(rs.Distributions))
	for k := range rs.Distributions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rng := rand.New(rand.NewPCG(rs.Seed, 0x7273))
	out := make([]map[string]interface{}, rs.NIter)
	for i := range out {
		m := make(map[string]interface{}, len(keys))
		for _, k := range keys {
			m[k] = rs.Distributions[k].Sample(rng)
		}
		out[i] = m
	}
	return out
}

// Fit runs the search and refits the winner on X, y.
func (rs *RandomizedSearchCV) Fit(X, y mat.Matrix) (*SearchResult, error) {
	if rs.NIter <= 0 {
		return nil, errors.NewValidationError("n_iter", "must be positive", rs.NIter)
	}
	return evaluate(rs.Factory, rs.Candidates(), X, y, rs.CV, rs.NJobs, "RandomizedSearchCV")
}
