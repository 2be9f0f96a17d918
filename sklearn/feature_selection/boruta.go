// Package feature_selection implements the Boruta all-relevant feature
// selection procedure on top of the random forest in sklearn/ensemble.
package feature_selection

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/YuminosukeSato/sipredict/pkg/errors"
	"github.com/YuminosukeSato/sipredict/pkg/log"
	"github.com/YuminosukeSato/sipredict/sklearn/ensemble"
)

// Decision is the Boruta verdict for one feature.
type Decision int

const (
	Tentative Decision = iota
	Confirmed
	Rejected
)

func (d Decision) String() string {
	switch d {
	case Confirmed:
		return "Confirmed"
	case Rejected:
		return "Rejected"
	default:
		return "Tentative"
	}
}

// MarshalText renders the decision by name.
func (d Decision) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// UnmarshalText parses a decision name.
func (d *Decision) UnmarshalText(b []byte) error {
	switch string(b) {
	case "Confirmed":
		*d = Confirmed
	case "Rejected":
		*d = Rejected
	case "Tentative":
		*d = Tentative
	default:
		return errors.Newf("unknown Boruta decision %q", string(b))
	}
	return nil
}

// Boruta compares every feature's forest importance against the best of
// randomly permuted copies ("shadows") over repeated runs. A feature is
// confirmed when it beats the best shadow significantly more often than
// chance, and rejected when it does so significantly less often.
type Boruta struct {
	MaxRuns     int
	PValue      float64
	NEstimators int
	RandomState uint64
	NJobs       int
	// RoughFix decides remaining tentative features by comparing their median
	// importance with the median best-shadow importance.
	RoughFix bool
}

// Option configures Boruta.
type Option func(*Boruta)

// WithMaxRuns sets the maximum number of forest runs.
func WithMaxRuns(n int) Option { return func(b *Boruta) { b.MaxRuns = n } }

// WithPValue sets the significance level before Bonferroni correction.
func WithPValue(p float64) Option { return func(b *Boruta) { b.PValue = p } }

// WithNEstimators sets the trees per forest.
func WithNEstimators(n int) Option { return func(b *Boruta) { b.NEstimators = n } }

// WithRandomState seeds shadow permutation and the forests.
func WithRandomState(seed uint64) Option { return func(b *Boruta) { b.RandomState = seed } }

// WithNJobs sets forest parallelism.
func WithNJobs(n int) Option { return func(b *Boruta) { b.NJobs = n } }

// WithRoughFix toggles the tentative rough fix.
func WithRoughFix(on bool) Option { return func(b *Boruta) { b.RoughFix = on } }

// NewBoruta creates a selector with 100 runs, p = 0.01 and 500-tree forests.
func NewBoruta(opts ...Option) *Boruta {
	b := &Boruta{MaxRuns: 100, PValue: 0.01, NEstimators: 500, RoughFix: true}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Result is the outcome of a Boruta run.
type Result struct {
	Features []string
	// Decisions は rough fix 適用後の最終判定
	Decisions []Decision
	// RawDecisions は rough fix 前の判定
	RawDecisions []Decision
	Hits         []int
	Runs         int
	// ImportanceHistory[run][feature]; NaN once a feature has been rejected.
	ImportanceHistory [][]float64
	ShadowMax         []float64
	MedianImportance  []float64
}

// Selected returns the names of the confirmed features in input order.
func (r *Result) Selected() []string {
	var out []string
	for j, d := range r.Decisions {
		if d == Confirmed {
			out = append(out, r.Features[j])
		}
	}
	return out
}

func (b *Boruta) validate(p int) error {
	switch {
	case b.MaxRuns < 1:
		return errors.NewValidationError("max_runs", "must be positive", b.MaxRuns)
	case b.PValue <= 0 || b.PValue >= 1:
		return errors.NewValidationError("p_value", "must be within (0, 1)", b.PValue)
	case b.NEstimators < 1:
		return errors.NewValidationError("n_estimators", "must be positive", b.NEstimators)
	case p == 0:
		return errors.NewModelError("Boruta.Fit", "no features", errors.ErrEmptyData)
	}
	return nil
}

// Fit runs the selection on X (n × p, no missing values) with binary y.
// names labels the columns of X.
func (b *Boruta) Fit(X, y mat.Matrix, names []string) (*Result, error) {
	n, p := X.Dims()
	if err := b.validate(p); err != nil {
		return nil, err
	}
	if len(names) != p {
		return nil, errors.NewDimensionError("Boruta.Fit", p, len(names), 1)
	}
	if yr, _ := y.Dims(); yr != n {
		return nil, errors.NewDimensionError("Boruta.Fit", n, yr, 0)
	}
	cols := make([][]float64, p)
	for j := range cols {
		cols[j] = mat.Col(nil, j, X)
	}

	res := &Result{
		Features:  append([]string(nil), names...),
		Decisions: make([]Decision, p),
		Hits:      make([]int, p),
	}
	logger := log.GetLoggerWithName("feature_selection.boruta")

	for run := 1; run <= b.MaxRuns; run++ {
		active := make([]int, 0, p)
		for j, d := range res.Decisions {
			if d != Rejected {
				active = append(active, j)
			}
		}
		imp, err := b.runOnce(cols, active, y, n, uint64(run))
		if err != nil {
			return nil, errors.Wrapf(err, "Boruta run %d", run)
		}
		shadowMax := 0.0
		for _, v := range imp[len(active):] {
			shadowMax = math.Max(shadowMax, v)
		}
		hist := make([]float64, p)
		for j := range hist {
			hist[j] = math.NaN()
		}
		for k, j := range active {
			hist[j] = imp[k]
			if imp[k] > shadowMax {
				res.Hits[j]++
			}
		}
		res.ImportanceHistory = append(res.ImportanceHistory, hist)
		res.ShadowMax = append(res.ShadowMax, shadowMax)
		res.Runs = run

		b.test(res)
		undecided := 0
		for _, d := range res.Decisions {
			if d == Tentative {
				undecided++
			}
		}
		logger.Debug("boruta run", log.IterationKey, run, "undecided", undecided, "shadow_max", shadowMax)
		if undecided == 0 {
			break
		}
	}

	res.RawDecisions = append([]Decision(nil), res.Decisions...)
	res.MedianImportance = medians(res.ImportanceHistory, p)
	if b.RoughFix {
		roughFix(res)
	}
	logger.Info("boruta finished",
		"runs", res.Runs,
		log.FeaturesKey, p,
		"confirmed", len(res.Selected()),
	)
	return res, nil
}

// runOnce fits one forest on the active features plus a shuffled copy of
// each and returns importances: active features first, then shadows.
func (b *Boruta) runOnce(cols [][]float64, active []int, y mat.Matrix, n int, run uint64) ([]float64, error) {
	a := len(active)
	rng := rand.New(rand.NewPCG(b.RandomState, run))
	Z := mat.NewDense(n, 2*a, nil)
	perm := make([]int, n)
	for k, j := range active {
		for i := range perm {
			perm[i] = i
		}
		rng.Shuffle(n, func(x, y int) { perm[x], perm[y] = perm[y], perm[x] })
		for i := 0; i < n; i++ {
			Z.Set(i, k, cols[j][i])
			Z.Set(i, a+k, cols[j][perm[i]])
		}
	}
	rf := ensemble.NewRandomForestClassifier(
		ensemble.WithNEstimators(b.NEstimators),
		ensemble.WithRandomState(b.RandomState^(run<<32)),
		ensemble.WithNJobs(b.NJobs),
	)
	if err := rf.Fit(Z, y); err != nil {
		return nil, err
	}
	return rf.FeatureImportances()
}

// test applies two-sided binomial tests with Bonferroni correction over the
// currently undecided features.
func (b *Boruta) test(res *Result) {
	undecided := 0
	for _, d := range res.Decisions {
		if d == Tentative {
			undecided++
		}
	}
	if undecided == 0 {
		return
	}
	binom := distuv.Binomial{N: float64(res.Runs), P: 0.5}
	for j, d := range res.Decisions {
		if d != Tentative {
			continue
		}
		h := float64(res.Hits[j])
		pHigh := 1 - binom.CDF(h-1) // P(X >= h)
		pLow := binom.CDF(h)        // P(X <= h)
		switch {
		case math.Min(1, pHigh*float64(undecided)) < b.PValue:
			res.Decisions[j] = Confirmed
		case math.Min(1, pLow*float64(undecided)) < b.PValue:
			res.Decisions[j] = Rejected
		}
	}
}

func medians(history [][]float64, p int) []float64 {
	out := make([]float64, p)
	for j := range out {
		var v []float64
		for _, h := range history {
			if !math.IsNaN(h[j]) {
				v = append(v, h[j])
			}
		}
		out[j] = median(v)
	}
	return out
}

func median(v []float64) float64 {
	if len(v) == 0 {
		return math.NaN()
	}
	s := append([]float64(nil), v...)
	sort.Float64s(s)
	m := len(s) / 2
	if len(s)%2 == 1 {
		return s[m]
	}
	return (s[m-1] + s[m]) / 2
}

func roughFix(res *Result) {
	shadow := median(res.ShadowMax)
	for j, d := range res.Decisions {
		if d != Tentative {
			continue
		}
		if res.MedianImportance[j] > shadow {
			res.Decisions[j] = Confirmed
		} else {
			res.Decisions[j] = Rejected
		}
	}
}

func (r *Result) String() string {
	c, t, x := 0, 0, 0
	for _, d := range r.Decisions {
		switch d {
		case Confirmed:
			c++
		case Rejected:
			x++
		default:
			t++
		}
	}
	return fmt.Sprintf("Boruta(runs=%d, confirmed=%d, tentative=%d, rejected=%d)", r.Runs, c, t, x)
}
