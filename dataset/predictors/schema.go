// Package predictors builds the joined predictor table from the raw
// questionnaire exports.
//
// Every source is described by a static Source value. The columns a source
// needs are known before any file is read, so a renamed or missing export
// column is reported as a SchemaError instead of being silently skipped.
package predictors

import (
	"math"

	"github.com/YuminosukeSato/sipredict/pkg/errors"
	"github.com/YuminosukeSato/sipredict/tabular"
)

// Sum is a composite score: the row-wise sum of Items after recoding.
// The sum is missing when any item is missing.
type Sum struct {
	Output string
	Items  []string
	// Reverse maps an item to k; the item is rescored as k - old before
	// summation (k = 6 for items on a 1..5 scale).
	Reverse map[string]float64
	// Sentinels maps a raw value to its replacement for every item, e.g.
	// 999 ("stem answered no") to 0.
	Sentinels map[float64]float64
}

// QualityGate keeps Raw only when NoAnswer/Total <= MaxRatio.
type QualityGate struct {
	Output   string
	Raw      string
	NoAnswer string
	Total    string
	MaxRatio float64
}

// Source is the static schema of one questionnaire export.
type Source struct {
	Name string
	File string
	// Keep lists columns copied unchanged (after Recode).
	Keep []string
	// Text lists administrative columns kept as strings.
	Text []string
	// Recode maps a kept column to value substitutions.
	Recode map[string]map[float64]float64
	Sums   []Sum
	Gates  []QualityGate
}

// Required returns every raw column the source reads, join keys included.
func (s Source) Required() []string {
	out := []string{tabular.SubjectKey, tabular.EventKey}
	seen := map[string]bool{tabular.SubjectKey: true, tabular.EventKey: true}
	add := func(names ...string) {
		for _, n := range names {
			if !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
	}
	add(s.Text...)
	add(s.Keep...)
	for _, sum := range s.Sums {
		add(sum.Items...)
	}
	for _, g := range s.Gates {
		add(g.Raw, g.NoAnswer, g.Total)
	}
	return out
}

// Outputs returns the predictor columns the source contributes.
func (s Source) Outputs() []string {
	var out []string
	out = append(out, s.Text...)
	out = append(out, s.Keep...)
	for _, sum := range s.Sums {
		out = append(out, sum.Output)
	}
	for _, g := range s.Gates {
		out = append(out, g.Output)
	}
	return out
}

// Validate checks the schema itself: a name, at least one output and no
// output collisions.
func (s Source) Validate() error {
	if s.Name == "" {
		return errors.NewValidationError("source.name", "must not be empty", s.Name)
	}
	outs := s.Outputs()
	if len(outs) == 0 {
		return errors.NewSchemaErrorf(s.Name, "", "source declares no output columns")
	}
	seen := make(map[string]bool, len(outs))
	for _, o := range outs {
		if seen[o] {
			return errors.NewSchemaErrorf(s.Name, o, "output declared twice")
		}
		seen[o] = true
	}
	for _, sum := range s.Sums {
		for item := range sum.Reverse {
			if !contains(sum.Items, item) {
				return errors.NewSchemaErrorf(s.Name, item, "reverse-scored item is not part of %s", sum.Output)
			}
		}
	}
	for _, g := range s.Gates {
		if g.MaxRatio < 0 || g.MaxRatio > 1 {
			return errors.NewValidationError(s.Name+"."+g.Output+".max_ratio", "must be within [0, 1]", g.MaxRatio)
		}
	}
	return nil
}

// Apply derives the source's predictor columns from its raw export.
// The result holds the join keys followed by Outputs().
func (s Source) Apply(raw *tabular.Frame) (*tabular.Frame, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	for _, col := range s.Required() {
		if !raw.Has(col) {
			return nil, errors.NewSchemaError(s.Name, col)
		}
	}
	if err := raw.CheckUniqueKeys(s.Name, tabular.SubjectKey, tabular.EventKey); err != nil {
		return nil, err
	}

	n := raw.NRows()
	out, err := raw.Select(tabular.SubjectKey, tabular.EventKey)
	if err != nil {
		return nil, err
	}
	for _, name := range s.Text {
		vals, err := textOf(s.Name, raw, name)
		if err != nil {
			return nil, err
		}
		if err := out.AddText(name, vals); err != nil {
			return nil, err
		}
	}
	for _, name := range s.Keep {
		vals, err := numericOf(s.Name, raw, name)
		if err != nil {
			return nil, err
		}
		vals = append([]float64(nil), vals...)
		if rc, ok := s.Recode[name]; ok {
			for i, v := range vals {
				if r, hit := rc[v]; hit {
					vals[i] = r
				}
			}
		}
		if err := out.AddNumeric(name, vals); err != nil {
			return nil, err
		}
	}
	for _, sum := range s.Sums {
		vals := make([]float64, n)
		items := make([][]float64, len(sum.Items))
		for j, item := range sum.Items {
			if items[j], err = numericOf(s.Name, raw, item); err != nil {
				return nil, err
			}
		}
		for i := 0; i < n; i++ {
			total := 0.0
			for j, item := range sum.Items {
				v := items[j][i]
				if r, hit := sum.Sentinels[v]; hit {
					v = r
				}
				if k, rev := sum.Reverse[item]; rev && !math.IsNaN(v) {
					v = k - v
				}
				total += v
			}
			vals[i] = total
		}
		if err := out.AddNumeric(sum.Output, vals); err != nil {
			return nil, err
		}
	}
	for _, g := range s.Gates {
		rawVals, err := numericOf(s.Name, raw, g.Raw)
		if err != nil {
			return nil, err
		}
		nm, err := numericOf(s.Name, raw, g.NoAnswer)
		if err != nil {
			return nil, err
		}
		nt, err := numericOf(s.Name, raw, g.Total)
		if err != nil {
			return nil, err
		}
		vals := make([]float64, n)
		for i := range vals {
			vals[i] = gate(rawVals[i], nm[i], nt[i], g.MaxRatio)
		}
		if err := out.AddNumeric(g.Output, vals); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// gate returns raw unless the no-answer ratio is undefined or above max.
func gate(raw, noAnswer, total, maxRatio float64) float64 {
	if math.IsNaN(noAnswer) || math.IsNaN(total) || total <= 0 {
		return math.NaN()
	}
	if noAnswer/total > maxRatio {
		return math.NaN()
	}
	return raw
}

func numericOf(source string, f *tabular.Frame, name string) ([]float64, error) {
	c, ok := f.Column(name)
	if !ok {
		return nil, errors.NewSchemaError(source, name)
	}
	if c.Kind != tabular.KindNumeric {
		return nil, errors.NewSchemaErrorf(source, name, "expected numeric column, got %s", c.Kind)
	}
	return c.Num, nil
}

func textOf(source string, f *tabular.Frame, name string) ([]string, error) {
	c, ok := f.Column(name)
	if !ok {
		return nil, errors.NewSchemaError(source, name)
	}
	if c.Kind != tabular.KindText {
		out := make([]string, c.Len())
		for i := range out {
			out[i] = tabular.FormatCell(c, i)
		}
		return out, nil
	}
	return append([]string(nil), c.Text...), nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
