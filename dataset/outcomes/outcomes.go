// Package outcomes derives the suicidal ideation and action labels from the
// parent-report and youth-report structured interview exports.
package outcomes

import (
	"fmt"
	"math"
	"sort"

	"github.com/YuminosukeSato/sipredict/pkg/errors"
	"github.com/YuminosukeSato/sipredict/pkg/log"
	"github.com/YuminosukeSato/sipredict/tabular"
)

// Output column names.
const (
	Ideation = "ideation"
	Action   = "action"
)

// Report identifies an interview informant.
type Report struct {
	Name   string
	Suffix string
}

var (
	// ParentReport columns are ksads_23_<code>_p.
	ParentReport = Report{Name: "parent", Suffix: "p"}
	// YouthReport columns are ksads_23_<code>_t.
	YouthReport = Report{Name: "youth", Suffix: "t"}
)

// Column returns the export column of an item code for this report.
func (r Report) Column(code int) string {
	return fmt.Sprintf("ksads_23_%d_%s", code, r.Suffix)
}

// ItemCodes lists the interview items that define the labels.
type ItemCodes struct {
	// Ideation items; any nonzero response sets ideation.
	Ideation []int
	// Action items, a subset of Ideation; any nonzero response sets action.
	Action []int
	// NoIsTwo items code "answered no" as 2; it is recoded to 0.
	NoIsTwo []int
}

// DefaultItemCodes returns the item lists used for both reports.
func DefaultItemCodes() ItemCodes {
	return ItemCodes{
		Ideation: []int{822, 823, 824, 825, 826, 827, 828, 829, 830, 831, 832, 1112, 1113, 1114},
		Action:   []int{830, 831, 832, 1112, 1113},
		NoIsTwo:  []int{1113, 1114},
	}
}

// Validate checks that Action and NoIsTwo are subsets of Ideation.
func (c ItemCodes) Validate() error {
	if len(c.Ideation) == 0 {
		return errors.NewValidationError("ideation_items", "must not be empty", c.Ideation)
	}
	set := make(map[int]bool, len(c.Ideation))
	for _, code := range c.Ideation {
		set[code] = true
	}
	for _, code := range c.Action {
		if !set[code] {
			return errors.NewValidationError("action_items", fmt.Sprintf("item %d is not an ideation item", code), c.Action)
		}
	}
	for _, code := range c.NoIsTwo {
		if !set[code] {
			return errors.NewValidationError("no_is_two_items", fmt.Sprintf("item %d is not an ideation item", code), c.NoIsTwo)
		}
	}
	return nil
}

// Label is the outcome of one (subject, event).
type Label struct {
	SubjectID string
	EventName string
	Ideation  bool
	Action    bool
}

// Stats counts what happened while labelling one report.
type Stats struct {
	Rows int
	// CoalescedCells counts missing responses treated as "no".
	CoalescedCells int
	// RowsAllMissing counts rows where every item was missing.
	RowsAllMissing int
}

// Builder labels interview exports.
type Builder struct {
	codes  ItemCodes
	logger log.Logger
}

// Option configures a Builder.
type Option func(*Builder)

// WithItemCodes replaces the default item lists.
func WithItemCodes(c ItemCodes) Option {
	return func(b *Builder) { b.codes = c }
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(b *Builder) { b.logger = l }
}

// NewBuilder creates a Builder with DefaultItemCodes.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{codes: DefaultItemCodes()}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = log.GetLoggerWithName("outcomes")
	}
	return b
}

// Columns lists the export columns LabelReport reads from report r.
func (b *Builder) Columns(r Report) []string {
	out := []string{tabular.SubjectKey, tabular.EventKey}
	for _, code := range b.codes.Ideation {
		out = append(out, r.Column(code))
	}
	return out
}

// LabelReport computes per-row labels of one report. Missing responses are
// treated as "no" and counted in Stats.
func (b *Builder) LabelReport(f *tabular.Frame, r Report) ([]Label, Stats, error) {
	if err := b.codes.Validate(); err != nil {
		return nil, Stats{}, err
	}
	source := r.Name + "_interview"
	for _, k := range []string{tabular.SubjectKey, tabular.EventKey} {
		if !f.Has(k) {
			return nil, Stats{}, errors.NewSchemaError(source, k)
		}
	}
	if err := f.CheckUniqueKeys(source, tabular.SubjectKey, tabular.EventKey); err != nil {
		return nil, Stats{}, err
	}

	noIsTwo := make(map[int]bool, len(b.codes.NoIsTwo))
	for _, code := range b.codes.NoIsTwo {
		noIsTwo[code] = true
	}
	action := make(map[int]bool, len(b.codes.Action))
	for _, code := range b.codes.Action {
		action[code] = true
	}

	cols := make([][]float64, len(b.codes.Ideation))
	for j, code := range b.codes.Ideation {
		name := r.Column(code)
		c, ok := f.Column(name)
		if !ok {
			return nil, Stats{}, errors.NewSchemaError(source, name)
		}
		if c.Kind == tabular.KindText {
			return nil, Stats{}, errors.NewSchemaErrorf(source, name, "expected numeric item column")
		}
		vals := make([]float64, c.Len())
		for i := range vals {
			vals[i] = c.Float(i)
		}
		cols[j] = vals
	}

	subj, _ := f.Text(tabular.SubjectKey)
	evt, _ := f.Text(tabular.EventKey)
	stats := Stats{Rows: f.NRows()}
	labels := make([]Label, f.NRows())
	for i := range labels {
		var ideationSum, actionSum float64
		missing := 0
		for j, code := range b.codes.Ideation {
			v := cols[j][i]
			if math.IsNaN(v) {
				v = 0
				missing++
			}
			if noIsTwo[code] && v == 2 {
				v = 0
			}
			ideationSum += v
			if action[code] {
				actionSum += v
			}
		}
		stats.CoalescedCells += missing
		if missing == len(b.codes.Ideation) {
			stats.RowsAllMissing++
		}
		labels[i] = Label{
			SubjectID: subj[i],
			EventName: evt[i],
			Ideation:  ideationSum != 0,
			Action:    actionSum != 0,
		}
	}
	return labels, stats, nil
}

// Build labels both reports and merges them: per (subject, event) each flag
// is the OR across reports. The result is sorted by subject, then event.
func (b *Builder) Build(parent, youth *tabular.Frame) ([]Label, error) {
	var all []Label
	for _, in := range []struct {
		frame  *tabular.Frame
		report Report
	}{{parent, ParentReport}, {youth, YouthReport}} {
		labels, stats, err := b.LabelReport(in.frame, in.report)
		if err != nil {
			return nil, err
		}
		b.logger.Info("interview labelled",
			log.SourceKey, in.report.Name,
			log.RowsKey, stats.Rows,
			"coalesced_cells", stats.CoalescedCells,
			"rows_all_missing", stats.RowsAllMissing,
		)
		all = append(all, labels...)
	}
	merged := Merge(all)

	pos := 0
	for _, l := range merged {
		if l.Ideation {
			pos++
		}
	}
	b.logger.Info("outcome table built",
		log.TableKey, "outcomes",
		log.RowsKey, len(merged),
		log.PositivesKey, pos,
	)
	return merged, nil
}

// Merge groups labels by (subject, event) and ORs the flags.
func Merge(labels []Label) []Label {
	type key struct{ s, e string }
	idx := make(map[key]int, len(labels))
	var out []Label
	for _, l := range labels {
		k := key{l.SubjectID, l.EventName}
		if i, ok := idx[k]; ok {
			out[i].Ideation = out[i].Ideation || l.Ideation
			out[i].Action = out[i].Action || l.Action
			continue
		}
		idx[k] = len(out)
		out = append(out, l)
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].SubjectID != out[b].SubjectID {
			return out[a].SubjectID < out[b].SubjectID
		}
		return out[a].EventName < out[b].EventName
	})
	return out
}

// ToFrame renders labels as the outcome table.
func ToFrame(labels []Label) (*tabular.Frame, error) {
	n := len(labels)
	subj := make([]string, n)
	evt := make([]string, n)
	ide := make([]tabular.Flag, n)
	act := make([]tabular.Flag, n)
	for i, l := range labels {
		subj[i], evt[i] = l.SubjectID, l.EventName
		ide[i], act[i] = tabular.FlagOf(l.Ideation), tabular.FlagOf(l.Action)
	}
	f := tabular.NewFrame(n)
	for _, add := range []func() error{
		func() error { return f.AddText(tabular.SubjectKey, subj) },
		func() error { return f.AddText(tabular.EventKey, evt) },
		func() error { return f.AddBinary(Ideation, ide) },
		func() error { return f.AddBinary(Action, act) },
	} {
		if err := add(); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// FromFrame reads labels back from an outcome table.
func FromFrame(f *tabular.Frame) ([]Label, error) {
	subj, err := f.Text(tabular.SubjectKey)
	if err != nil {
		return nil, err
	}
	evt, err := f.Text(tabular.EventKey)
	if err != nil {
		return nil, err
	}
	ide, err := f.Binary(Ideation)
	if err != nil {
		return nil, err
	}
	act, err := f.Binary(Action)
	if err != nil {
		return nil, err
	}
	out := make([]Label, f.NRows())
	for i := range out {
		if ide[i] == tabular.Missing || act[i] == tabular.Missing {
			return nil, errors.NewValueError("outcomes.FromFrame",
				fmt.Sprintf("row %d: outcome flags are never missing", i))
		}
		out[i] = Label{SubjectID: subj[i], EventName: evt[i], Ideation: ide[i] == tabular.True, Action: act[i] == tabular.True}
	}
	return out, nil
}
