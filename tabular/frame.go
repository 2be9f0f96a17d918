// Package tabular provides the in-memory table shared by every pipeline stage.
//
// A Frame is an ordered set of named, typed columns over a common row count.
// Numeric cells use NaN for missing. Binary cells use Flag, the single
// boolean representation for outcome flags and two-level predictors; the
// conversion to and from text happens only in the codecs (csv.go, xlsx.go).
package tabular

import (
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/sipredict/pkg/errors"
)

// Join keys.
const (
	SubjectKey = "subject_id"
	EventKey   = "event_name"
)

// Kind is the storage type of a column.
type Kind int

const (
	KindNumeric Kind = iota
	KindBinary
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindNumeric:
		return "numeric"
	case KindBinary:
		return "binary"
	case KindText:
		return "text"
	default:
		return "unknown"
	}
}

// Flag is a nullable boolean.
type Flag int8

const (
	Missing Flag = iota
	False
	True
)

// FlagOf converts a bool to a Flag.
func FlagOf(b bool) Flag {
	if b {
		return True
	}
	return False
}

// Float returns 1, 0 or NaN.
func (f Flag) Float() float64 {
	switch f {
	case True:
		return 1
	case False:
		return 0
	default:
		return math.NaN()
	}
}

// FlagFromFloat thresholds v at 0.5; NaN becomes Missing.
func FlagFromFloat(v float64) Flag {
	if math.IsNaN(v) {
		return Missing
	}
	return FlagOf(v >= 0.5)
}

// Column is a named, typed vector. Exactly one of Num, Bin, Text is used.
type Column struct {
	Name string
	Kind Kind
	Num  []float64
	Bin  []Flag
	Text []string
}

// Len returns the number of cells.
func (c *Column) Len() int {
	switch c.Kind {
	case KindNumeric:
		return len(c.Num)
	case KindBinary:
		return len(c.Bin)
	default:
		return len(c.Text)
	}
}

// IsMissing reports whether cell i is missing.
func (c *Column) IsMissing(i int) bool {
	switch c.Kind {
	case KindNumeric:
		return math.IsNaN(c.Num[i])
	case KindBinary:
		return c.Bin[i] == Missing
	default:
		return c.Text[i] == ""
	}
}

// Float returns cell i as a float64: numeric as is, binary as 0/1, missing
// as NaN. Text cells are always NaN.
func (c *Column) Float(i int) float64 {
	switch c.Kind {
	case KindNumeric:
		return c.Num[i]
	case KindBinary:
		return c.Bin[i].Float()
	default:
		return math.NaN()
	}
}

// MissingCount returns the number of missing cells.
func (c *Column) MissingCount() int {
	n := 0
	for i := 0; i < c.Len(); i++ {
		if c.IsMissing(i) {
			n++
		}
	}
	return n
}

// MissingFraction returns MissingCount / Len, or 0 for an empty column.
func (c *Column) MissingFraction() float64 {
	if c.Len() == 0 {
		return 0
	}
	return float64(c.MissingCount()) / float64(c.Len())
}

func (c *Column) clone() *Column {
	out := &Column{Name: c.Name, Kind: c.Kind}
	switch c.Kind {
	case KindNumeric:
		out.Num = append([]float64(nil), c.Num...)
	case KindBinary:
		out.Bin = append([]Flag(nil), c.Bin...)
	default:
		out.Text = append([]string(nil), c.Text...)
	}
	return out
}

func (c *Column) take(idx []int) *Column {
	out := &Column{Name: c.Name, Kind: c.Kind}
	switch c.Kind {
	case KindNumeric:
		out.Num = make([]float64, len(idx))
		for j, i := range idx {
			out.Num[j] = c.Num[i]
		}
	case KindBinary:
		out.Bin = make([]Flag, len(idx))
		for j, i := range idx {
			out.Bin[j] = c.Bin[i]
		}
	default:
		out.Text = make([]string, len(idx))
		for j, i := range idx {
			out.Text[j] = c.Text[i]
		}
	}
	return out
}

// Frame is an ordered collection of equally long columns.
type Frame struct {
	cols  []*Column
	index map[string]int
	nrows int
}

// NewFrame creates an empty frame with nrows rows and no columns.
func NewFrame(nrows int) *Frame {
	return &Frame{index: make(map[string]int), nrows: nrows}
}

// NRows returns the number of rows.
func (f *Frame) NRows() int { return f.nrows }

// NCols returns the number of columns.
func (f *Frame) NCols() int { return len(f.cols) }

// Names returns the column names in order.
func (f *Frame) Names() []string {
	out := make([]string, len(f.cols))
	for i, c := range f.cols {
		out[i] = c.Name
	}
	return out
}

// Has reports whether a column exists.
func (f *Frame) Has(name string) bool {
	_, ok := f.index[name]
	return ok
}

// Column returns the named column.
func (f *Frame) Column(name string) (*Column, bool) {
	i, ok := f.index[name]
	if !ok {
		return nil, false
	}
	return f.cols[i], true
}

// Columns returns the columns in order. The slice must not be modified.
func (f *Frame) Columns() []*Column { return f.cols }

// Numeric returns the values of a numeric column.
func (f *Frame) Numeric(name string) ([]float64, error) {
	c, err := f.typed(name, KindNumeric)
	if err != nil {
		return nil, err
	}
	return c.Num, nil
}

// Binary returns the values of a binary column.
func (f *Frame) Binary(name string) ([]Flag, error) {
	c, err := f.typed(name, KindBinary)
	if err != nil {
		return nil, err
	}
	return c.Bin, nil
}

// Text returns the values of a text column.
func (f *Frame) Text(name string) ([]string, error) {
	c, err := f.typed(name, KindText)
	if err != nil {
		return nil, err
	}
	return c.Text, nil
}

func (f *Frame) typed(name string, kind Kind) (*Column, error) {
	c, ok := f.Column(name)
	if !ok {
		return nil, errors.NewValueError("Frame.Column", "no column named "+name)
	}
	if c.Kind != kind {
		return nil, errors.NewValueError("Frame.Column",
			"column "+name+" is "+c.Kind.String()+", not "+kind.String())
	}
	return c, nil
}

// AddColumn appends c, or replaces an existing column with the same name.
func (f *Frame) AddColumn(c *Column) error {
	if c.Len() != f.nrows {
		return errors.NewDimensionError("Frame.AddColumn("+c.Name+")", f.nrows, c.Len(), 0)
	}
	if i, ok := f.index[c.Name]; ok {
		f.cols[i] = c
		return nil
	}
	f.index[c.Name] = len(f.cols)
	f.cols = append(f.cols, c)
	return nil
}

// AddNumeric appends or replaces a numeric column.
func (f *Frame) AddNumeric(name string, vals []float64) error {
	return f.AddColumn(&Column{Name: name, Kind: KindNumeric, Num: vals})
}

// AddBinary appends or replaces a binary column.
func (f *Frame) AddBinary(name string, vals []Flag) error {
	return f.AddColumn(&Column{Name: name, Kind: KindBinary, Bin: vals})
}

// AddText appends or replaces a text column.
func (f *Frame) AddText(name string, vals []string) error {
	return f.AddColumn(&Column{Name: name, Kind: KindText, Text: vals})
}

// Drop removes the named columns; unknown names are ignored.
func (f *Frame) Drop(names ...string) {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	kept := f.cols[:0]
	for _, c := range f.cols {
		if !drop[c.Name] {
			kept = append(kept, c)
		}
	}
	f.cols = kept
	f.reindex()
}

// DropPrefix removes every column whose name starts with prefix and returns
// the removed names.
func (f *Frame) DropPrefix(prefix string) []string {
	var names []string
	for _, c := range f.cols {
		if strings.HasPrefix(c.Name, prefix) {
			names = append(names, c.Name)
		}
	}
	f.Drop(names...)
	return names
}

func (f *Frame) reindex() {
	f.index = make(map[string]int, len(f.cols))
	for i, c := range f.cols {
		f.index[c.Name] = i
	}
}

// Select returns a new frame holding copies of the named columns in the
// given order.
func (f *Frame) Select(names ...string) (*Frame, error) {
	out := NewFrame(f.nrows)
	for _, n := range names {
		c, ok := f.Column(n)
		if !ok {
			return nil, errors.NewValueError("Frame.Select", "no column named "+n)
		}
		if err := out.AddColumn(c.clone()); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Clone returns a deep copy.
func (f *Frame) Clone() *Frame {
	out := NewFrame(f.nrows)
	for _, c := range f.cols {
		out.index[c.Name] = len(out.cols)
		out.cols = append(out.cols, c.clone())
	}
	return out
}

// Take returns a new frame with the rows at idx, in that order.
func (f *Frame) Take(idx []int) *Frame {
	out := NewFrame(len(idx))
	for _, c := range f.cols {
		out.index[c.Name] = len(out.cols)
		out.cols = append(out.cols, c.take(idx))
	}
	return out
}

// Filter returns a new frame with the rows where keep is true.
func (f *Frame) Filter(keep []bool) *Frame {
	idx := make([]int, 0, f.nrows)
	for i, k := range keep {
		if k {
			idx = append(idx, i)
		}
	}
	return f.Take(idx)
}

// SortBy sorts rows by the given columns in order (stable). Text columns
// compare lexically, numeric and binary columns numerically with missing
// values last.
func (f *Frame) SortBy(names ...string) error {
	keys := make([]*Column, len(names))
	for i, n := range names {
		c, ok := f.Column(n)
		if !ok {
			return errors.NewValueError("Frame.SortBy", "no column named "+n)
		}
		keys[i] = c
	}
	idx := make([]int, f.nrows)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ia, ib := idx[a], idx[b]
		for _, c := range keys {
			if c.Kind == KindText {
				if c.Text[ia] != c.Text[ib] {
					return c.Text[ia] < c.Text[ib]
				}
				continue
			}
			va, vb := c.Float(ia), c.Float(ib)
			na, nb := math.IsNaN(va), math.IsNaN(vb)
			switch {
			case na && nb:
				continue
			case na:
				return false
			case nb:
				return true
			case va != vb:
				return va < vb
			}
		}
		return false
	})
	sorted := f.Take(idx)
	f.cols = sorted.cols
	f.reindex()
	return nil
}

// RowMissingFractions returns, per row, the fraction of missing cells among
// the columns not listed in exclude.
func (f *Frame) RowMissingFractions(exclude ...string) []float64 {
	skip := make(map[string]bool, len(exclude))
	for _, n := range exclude {
		skip[n] = true
	}
	counted := 0
	missing := make([]int, f.nrows)
	for _, c := range f.cols {
		if skip[c.Name] {
			continue
		}
		counted++
		for i := 0; i < f.nrows; i++ {
			if c.IsMissing(i) {
				missing[i]++
			}
		}
	}
	out := make([]float64, f.nrows)
	if counted == 0 {
		return out
	}
	for i, m := range missing {
		out[i] = float64(m) / float64(counted)
	}
	return out
}

// Matrix returns the named numeric or binary columns as an nrows×len(names)
// matrix. Missing cells are NaN.
func (f *Frame) Matrix(names []string) (*mat.Dense, error) {
	if f.nrows == 0 || len(names) == 0 {
		return nil, errors.ErrEmptyData
	}
	cols := make([]*Column, len(names))
	for j, n := range names {
		c, ok := f.Column(n)
		if !ok {
			return nil, errors.NewValueError("Frame.Matrix", "no column named "+n)
		}
		if c.Kind == KindText {
			return nil, errors.NewValueError("Frame.Matrix", "text column "+n+" cannot be used as a feature")
		}
		cols[j] = c
	}
	out := mat.NewDense(f.nrows, len(names), nil)
	for j, c := range cols {
		for i := 0; i < f.nrows; i++ {
			out.Set(i, j, c.Float(i))
		}
	}
	return out, nil
}

// Vector returns one numeric or binary column as an nrows×1 matrix.
func (f *Frame) Vector(name string) (*mat.Dense, error) {
	return f.Matrix([]string{name})
}

// SetFromMatrix writes column j of m back into names[j]. Binary columns are
// thresholded at 0.5. Only cells that are currently missing are written when
// onlyMissing is set.
func (f *Frame) SetFromMatrix(names []string, m mat.Matrix, onlyMissing bool) error {
	r, c := m.Dims()
	if r != f.nrows {
		return errors.NewDimensionError("Frame.SetFromMatrix", f.nrows, r, 0)
	}
	if c != len(names) {
		return errors.NewDimensionError("Frame.SetFromMatrix", len(names), c, 1)
	}
	for j, n := range names {
		col, ok := f.Column(n)
		if !ok {
			return errors.NewValueError("Frame.SetFromMatrix", "no column named "+n)
		}
		for i := 0; i < r; i++ {
			if onlyMissing && !col.IsMissing(i) {
				continue
			}
			v := m.At(i, j)
			switch col.Kind {
			case KindNumeric:
				col.Num[i] = v
			case KindBinary:
				col.Bin[i] = FlagFromFloat(v)
			default:
				return errors.NewValueError("Frame.SetFromMatrix", "text column "+n+" cannot be assigned")
			}
		}
	}
	return nil
}

// KeyOf returns the composite key of row i over the given text columns.
func (f *Frame) KeyOf(i int, keys []*Column) string {
	var b strings.Builder
	for j, c := range keys {
		if j > 0 {
			b.WriteByte('\x1f')
		}
		b.WriteString(c.Text[i])
	}
	return b.String()
}

// KeyColumns resolves names to text columns.
func (f *Frame) KeyColumns(names ...string) ([]*Column, error) {
	out := make([]*Column, len(names))
	for i, n := range names {
		c, err := f.typed(n, KindText)
		if err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}

// CheckUniqueKeys returns a DuplicateKeyError naming table when two rows
// share the same key.
func (f *Frame) CheckUniqueKeys(table string, names ...string) error {
	keys, err := f.KeyColumns(names...)
	if err != nil {
		return err
	}
	seen := make(map[string]int, f.nrows)
	for i := 0; i < f.nrows; i++ {
		k := f.KeyOf(i, keys)
		if _, dup := seen[k]; dup {
			return errors.NewDuplicateKeyError(table, "("+strings.ReplaceAll(k, "\x1f", ", ")+")", i)
		}
		seen[k] = i
	}
	return nil
}
