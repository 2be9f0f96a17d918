package tabular

import (
	"math"
	"strconv"
	"strings"

	"github.com/spf13/cast"

	"github.com/YuminosukeSato/sipredict/pkg/errors"
)

// Serialized forms of a Flag.
const (
	TrueText  = "TRUE"
	FalseText = "FALSE"
)

var missingTokens = map[string]bool{
	"":     true,
	"NA":   true,
	"N/A":  true,
	"NaN":  true,
	"nan":  true,
	"NULL": true,
	"null": true,
}

// IsMissingToken reports whether s denotes a missing cell.
func IsMissingToken(s string) bool {
	return missingTokens[strings.TrimSpace(s)]
}

// ReadOptions controls how raw cells are typed.
type ReadOptions struct {
	// TextColumns are kept as strings. Join keys are always text.
	TextColumns []string
	// BinaryColumns are parsed as booleans.
	BinaryColumns []string
	// DetectBinary types a column as binary when every non-missing cell is
	// TRUE or FALSE.
	DetectBinary bool
	// Columns, when set, limits the frame to these columns and the join
	// keys. Other columns are skipped without being parsed.
	Columns []string
}

// ReadOption mutates ReadOptions.
type ReadOption func(*ReadOptions)

// WithTextColumns keeps the named columns as text.
func WithTextColumns(names ...string) ReadOption {
	return func(o *ReadOptions) { o.TextColumns = append(o.TextColumns, names...) }
}

// WithBinaryColumns parses the named columns as booleans.
func WithBinaryColumns(names ...string) ReadOption {
	return func(o *ReadOptions) { o.BinaryColumns = append(o.BinaryColumns, names...) }
}

// WithColumns reads only the named columns and the join keys.
func WithColumns(names ...string) ReadOption {
	return func(o *ReadOptions) { o.Columns = append(o.Columns, names...) }
}

// WithoutBinaryDetection disables TRUE/FALSE auto detection.
func WithoutBinaryDetection() ReadOption {
	return func(o *ReadOptions) { o.DetectBinary = false }
}

func newReadOptions(opts []ReadOption) *ReadOptions {
	o := &ReadOptions{
		TextColumns:  []string{SubjectKey, EventKey},
		DetectBinary: true,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// FromRecords builds a frame from a header and string rows. Short rows are
// padded with missing cells. Numeric cells that do not parse become NaN and
// are reported once per column through errors.Warn.
func FromRecords(source string, header []string, records [][]string, opts ...ReadOption) (*Frame, error) {
	o := newReadOptions(opts)
	text := toSet(o.TextColumns)
	binary := toSet(o.BinaryColumns)
	var only map[string]bool
	if len(o.Columns) > 0 {
		only = toSet(append([]string{SubjectKey, EventKey}, o.Columns...))
	}

	seen := make(map[string]bool, len(header))
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if h == "" {
			return nil, errors.NewSchemaErrorf(source, strconv.Itoa(i), "empty column header")
		}
		if seen[h] {
			return nil, errors.NewSchemaErrorf(source, h, "duplicate column header")
		}
		seen[h] = true
		header[i] = h
	}

	f := NewFrame(len(records))
	for j, name := range header {
		if only != nil && !only[name] {
			continue
		}
		cells := make([]string, len(records))
		for i, rec := range records {
			if j < len(rec) {
				cells[i] = strings.TrimSpace(rec[j])
			}
		}

		var col *Column
		switch {
		case text[name]:
			col = &Column{Name: name, Kind: KindText, Text: cells}
		case binary[name] || (o.DetectBinary && looksBinary(cells)):
			vals, bad := parseFlags(cells)
			col = &Column{Name: name, Kind: KindBinary, Bin: vals}
			warnConversion(source, name, "binary", bad)
		default:
			vals, bad := parseNumbers(cells)
			col = &Column{Name: name, Kind: KindNumeric, Num: vals}
			warnConversion(source, name, "numeric", bad)
		}
		if err := f.AddColumn(col); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// Records renders the frame as a header and string rows. Numbers use the
// shortest representation that round-trips; binary cells are TRUE/FALSE;
// missing cells are empty.
func (f *Frame) Records() (header []string, rows [][]string) {
	header = f.Names()
	rows = make([][]string, f.nrows)
	for i := range rows {
		row := make([]string, len(f.cols))
		for j, c := range f.cols {
			row[j] = FormatCell(c, i)
		}
		rows[i] = row
	}
	return header, rows
}

// FormatCell renders cell i of c.
func FormatCell(c *Column, i int) string {
	switch c.Kind {
	case KindNumeric:
		v := c.Num[i]
		if math.IsNaN(v) {
			return ""
		}
		return strconv.FormatFloat(v, 'g', -1, 64)
	case KindBinary:
		switch c.Bin[i] {
		case True:
			return TrueText
		case False:
			return FalseText
		default:
			return ""
		}
	default:
		return c.Text[i]
	}
}

func looksBinary(cells []string) bool {
	found := false
	for _, s := range cells {
		if IsMissingToken(s) {
			continue
		}
		if s != TrueText && s != FalseText {
			return false
		}
		found = true
	}
	return found
}

func parseFlags(cells []string) ([]Flag, int) {
	out := make([]Flag, len(cells))
	bad := 0
	for i, s := range cells {
		if IsMissingToken(s) {
			continue
		}
		switch strings.ToLower(s) {
		case "yes", "y":
			out[i] = True
			continue
		case "no", "n":
			out[i] = False
			continue
		}
		b, err := cast.ToBoolE(s)
		if err != nil {
			bad++
			continue
		}
		out[i] = FlagOf(b)
	}
	return out, bad
}

func parseNumbers(cells []string) ([]float64, int) {
	out := make([]float64, len(cells))
	bad := 0
	for i, s := range cells {
		if IsMissingToken(s) {
			out[i] = math.NaN()
			continue
		}
		v, err := cast.ToFloat64E(s)
		if err != nil || math.IsInf(v, 0) {
			out[i] = math.NaN()
			bad++
			continue
		}
		out[i] = v
	}
	return out, bad
}

func warnConversion(source, column, kind string, bad int) {
	if bad == 0 {
		return
	}
	errors.Warn(errors.NewDataConversionWarning("text", kind,
		source+"."+column+": "+strconv.Itoa(bad)+" unparseable cells treated as missing"))
}

func toSet(names []string) map[string]bool {
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[n] = true
	}
	return out
}
