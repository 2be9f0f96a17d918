// Package assemble joins the predictor and outcome tables, remediates
// sentinels and missingness, and aggregates observations to one row per
// subject.
package assemble

import (
	"math"
	"sort"

	"github.com/YuminosukeSato/sipredict/dataset/outcomes"
	"github.com/YuminosukeSato/sipredict/dataset/predictors"
	"github.com/YuminosukeSato/sipredict/pkg/errors"
	"github.com/YuminosukeSato/sipredict/pkg/log"
	"github.com/YuminosukeSato/sipredict/tabular"
)

// Options controls the remediation rules.
type Options struct {
	// Numeric cells outside [SentinelMin, SentinelMax] become missing.
	SentinelMin float64
	SentinelMax float64
	// MaxMissing is the row and column missing-fraction threshold.
	MaxMissing float64
	// EnforceColumnRecheck drops columns still above MaxMissing after the
	// row filter. When false they are only reported.
	EnforceColumnRecheck bool

	// AdminColumns are dropped before aggregation.
	AdminColumns []string
	// EverColumns are binary after aggregation: true when any observation
	// was true.
	EverColumns []string
	// BinaryColumns are binary after aggregation: mean >= 0.5.
	BinaryColumns []string
	// DefaultNo columns have missing values imputed to false.
	DefaultNo []string
	// DropPrefixes removes whole column families.
	DropPrefixes []string
	// Redundant columns are removed last.
	Redundant []string
}

// DefaultOptions returns the rules used for the modelling table.
func DefaultOptions() Options {
	return Options{
		SentinelMin:          0,
		SentinelMax:          500,
		MaxMissing:           0.15,
		EnforceColumnRecheck: true,
		AdminColumns:         []string{predictors.InterviewDate},
		EverColumns:          []string{outcomes.Ideation, outcomes.Action},
		BinaryColumns: []string{
			predictors.SexAtBirth,
			predictors.DetentionSusp,
			predictors.SchoolProblem,
		},
		DefaultNo:    []string{predictors.DetentionSusp, predictors.SchoolProblem},
		DropPrefixes: []string{predictors.TeacherPrefix},
		Redundant: []string{
			"cbcl_scr_syn_internal_r",
			"cbcl_scr_syn_external_r",
			"cbcl_scr_syn_totprob_r",
			"bpm_y_scr_totalprob_r",
			"pps_y_ss_number",
		},
	}
}

// Validate checks the thresholds.
func (o Options) Validate() error {
	if o.SentinelMin > o.SentinelMax {
		return errors.NewValidationError("sentinel_min", "must not exceed sentinel_max", o.SentinelMin)
	}
	if o.MaxMissing < 0 || o.MaxMissing > 1 {
		return errors.NewValidationError("max_missing", "must be within [0, 1]", o.MaxMissing)
	}
	return nil
}

// Report describes the remediation applied.
type Report struct {
	Observations     int
	Subjects         int
	SentinelCells    int
	RecodedCodes     int
	RowsDropped      []string
	ColumnsDropped   []string
	ColumnsOverLimit map[string]float64
	ImputedDefaultNo int
}

// Result holds both emitted tables.
type Result struct {
	// Observations is the sanitised per-(subject, event) table.
	Observations *tabular.Frame
	// Subjects is the final per-subject modelling table.
	Subjects *tabular.Frame
	Report   Report
}

// Assembler runs the assembly steps.
type Assembler struct {
	opts   Options
	logger log.Logger
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithOptions replaces DefaultOptions.
func WithOptions(o Options) Option {
	return func(a *Assembler) { a.opts = o }
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(a *Assembler) { a.logger = l }
}

// New creates an Assembler.
func New(opts ...Option) *Assembler {
	a := &Assembler{opts: DefaultOptions()}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = log.GetLoggerWithName("assemble")
	}
	return a
}

// Assemble combines the predictor and outcome tables.
func (a *Assembler) Assemble(preds, outs *tabular.Frame) (*Result, error) {
	if err := a.opts.Validate(); err != nil {
		return nil, err
	}
	res := &Result{Report: Report{ColumnsOverLimit: map[string]float64{}}}

	// 1. join and order
	obs, err := tabular.OuterJoin([]tabular.Named{
		{Name: "predictors", Frame: preds},
		{Name: "outcomes", Frame: outs},
	}, tabular.SubjectKey, tabular.EventKey)
	if err != nil {
		return nil, err
	}
	for _, name := range []string{outcomes.Ideation, outcomes.Action} {
		if !obs.Has(name) {
			return nil, errors.NewSchemaError("outcomes", name)
		}
	}

	// 2. sentinels
	res.Report.SentinelCells = a.clearOutOfRange(obs)

	// 3. categorical recodes
	res.Report.RecodedCodes = recodeCategories(obs)

	// 4. per-observation table
	res.Observations = obs.Clone()
	res.Report.Observations = obs.NRows()

	// 5. aggregate per subject
	work := obs.Clone()
	work.Drop(append([]string{tabular.EventKey}, a.opts.AdminColumns...)...)
	subjects, err := tabular.GroupMean(work, tabular.SubjectKey)
	if err != nil {
		return nil, err
	}

	// 6. re-derive integer codes
	if v, err := subjects.Numeric(predictors.SexAtBirth); err == nil {
		for i := range v {
			v[i] = math.Round(v[i]) - 1
		}
	}
	if v, err := subjects.Numeric(predictors.Gender); err == nil {
		for i := range v {
			v[i] = math.Round(v[i])
		}
	}

	// 7. recast binary fields
	if err := recast(subjects, a.opts.EverColumns, func(v float64) tabular.Flag {
		if math.IsNaN(v) {
			return tabular.Missing
		}
		return tabular.FlagOf(v > 0)
	}); err != nil {
		return nil, err
	}
	if err := recast(subjects, a.opts.BinaryColumns, tabular.FlagFromFloat); err != nil {
		return nil, err
	}

	// 8. narrow default imputation
	for _, name := range a.opts.DefaultNo {
		flags, err := subjects.Binary(name)
		if err != nil {
			continue
		}
		for i, f := range flags {
			if f == tabular.Missing {
				flags[i] = tabular.False
				res.Report.ImputedDefaultNo++
			}
		}
	}

	// 9. drop column families
	for _, p := range a.opts.DropPrefixes {
		res.Report.ColumnsDropped = append(res.Report.ColumnsDropped, subjects.DropPrefix(p)...)
	}

	// outcome flags are never imputed; a subject without one cannot be used.
	// Dropped before the thresholds so the kept rows define the fractions.
	if err := requireOutcomes(subjects, &res.Report); err != nil {
		return nil, err
	}

	// 10-12. row filter, column recheck and redundant columns. Each drop can
	// push the other axis over the limit, so repeat until nothing changes.
	for pass := 0; ; pass++ {
		rows := a.filterRows(subjects, &res.Report)
		cols := a.recheckColumns(subjects, &res.Report)
		if pass == 0 {
			for _, name := range a.opts.Redundant {
				if subjects.Has(name) {
					subjects.Drop(name)
					res.Report.ColumnsDropped = append(res.Report.ColumnsDropped, name)
					cols++
				}
			}
		}
		if rows == 0 && cols == 0 {
			break
		}
	}

	res.Subjects = subjects
	res.Report.Subjects = subjects.NRows()
	sort.Strings(res.Report.RowsDropped)

	a.logger.Info("modelling table assembled",
		log.RowsKey, subjects.NRows(),
		log.ColumnsKey, subjects.NCols(),
		"observations", res.Report.Observations,
		"sentinel_cells", res.Report.SentinelCells,
		"rows_dropped", len(res.Report.RowsDropped),
		"columns_dropped", len(res.Report.ColumnsDropped),
	)
	for name, frac := range res.Report.ColumnsOverLimit {
		a.logger.Warn("column above missingness threshold",
			log.ColumnKey, name,
			log.MissingFractionKey, frac,
			"dropped", a.opts.EnforceColumnRecheck,
		)
	}
	return res, nil
}

// filterRows drops subjects above MaxMissing and returns how many went.
func (a *Assembler) filterRows(f *tabular.Frame, rep *Report) int {
	fr := f.RowMissingFractions(tabular.SubjectKey)
	keep := make([]bool, len(fr))
	ids, _ := f.Text(tabular.SubjectKey)
	n := 0
	for i, frac := range fr {
		keep[i] = frac <= a.opts.MaxMissing
		if !keep[i] {
			rep.RowsDropped = append(rep.RowsDropped, ids[i])
			n++
		}
	}
	if n > 0 {
		*f = *f.Filter(keep)
	}
	return n
}

// recheckColumns reports columns above MaxMissing and drops them when the
// recheck is enforced. It returns the number dropped.
func (a *Assembler) recheckColumns(f *tabular.Frame, rep *Report) int {
	var over []string
	for _, c := range f.Columns() {
		if c.Name == tabular.SubjectKey {
			continue
		}
		frac := c.MissingFraction()
		if frac <= a.opts.MaxMissing {
			continue
		}
		if _, seen := rep.ColumnsOverLimit[c.Name]; !seen {
			errors.Warn(errors.NewMissingnessWarning(c.Name, frac, a.opts.MaxMissing))
		}
		rep.ColumnsOverLimit[c.Name] = frac
		over = append(over, c.Name)
	}
	if !a.opts.EnforceColumnRecheck || len(over) == 0 {
		return 0
	}
	f.Drop(over...)
	rep.ColumnsDropped = append(rep.ColumnsDropped, over...)
	return len(over)
}

func (a *Assembler) clearOutOfRange(f *tabular.Frame) int {
	n := 0
	for _, c := range f.Columns() {
		if c.Kind != tabular.KindNumeric {
			continue
		}
		for i, v := range c.Num {
			if math.IsNaN(v) {
				continue
			}
			if v < a.opts.SentinelMin || v > a.opts.SentinelMax {
				c.Num[i] = math.NaN()
				n++
			}
		}
	}
	return n
}

// recodeCategories swaps gender codes 2 and 3 and clears orientation and
// gender-identity codes above 3.
func recodeCategories(f *tabular.Frame) int {
	n := 0
	if v, err := f.Numeric(predictors.Gender); err == nil {
		for i, x := range v {
			switch x {
			case 2:
				v[i] = 3
				n++
			case 3:
				v[i] = 2
				n++
			}
		}
	}
	for _, name := range []string{predictors.SexOrientation, predictors.TransID} {
		v, err := f.Numeric(name)
		if err != nil {
			continue
		}
		for i, x := range v {
			if x > 3 {
				v[i] = math.NaN()
				n++
			}
		}
	}
	return n
}

func recast(f *tabular.Frame, names []string, conv func(float64) tabular.Flag) error {
	for _, name := range names {
		c, ok := f.Column(name)
		if !ok {
			continue
		}
		if c.Kind == tabular.KindBinary {
			continue
		}
		flags := make([]tabular.Flag, c.Len())
		for i := range flags {
			flags[i] = conv(c.Float(i))
		}
		if err := f.AddBinary(name, flags); err != nil {
			return err
		}
	}
	return nil
}

func requireOutcomes(f *tabular.Frame, rep *Report) error {
	ide, err := f.Binary(outcomes.Ideation)
	if err != nil {
		return errors.NewSchemaErrorf("subjects", outcomes.Ideation, "outcome column missing after assembly: %v", err)
	}
	act, err := f.Binary(outcomes.Action)
	if err != nil {
		return errors.NewSchemaErrorf("subjects", outcomes.Action, "outcome column missing after assembly: %v", err)
	}
	keep := make([]bool, f.NRows())
	dropped := false
	ids, _ := f.Text(tabular.SubjectKey)
	for i := range keep {
		keep[i] = ide[i] != tabular.Missing && act[i] != tabular.Missing
		if !keep[i] {
			dropped = true
			rep.RowsDropped = append(rep.RowsDropped, ids[i])
		}
	}
	if dropped {
		*f = *f.Filter(keep)
	}
	return nil
}
