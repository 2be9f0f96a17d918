package tabular

import (
	"math"
	"sort"
	"strings"

	"github.com/YuminosukeSato/sipredict/pkg/errors"
)

// Named pairs a frame with the name used in error messages.
type Named struct {
	Name  string
	Frame *Frame
}

// OuterJoin joins the frames on the key columns. The result holds one row
// per distinct key across all inputs, sorted by key; cells with no matching
// input row are missing. Keys must be unique within each input and non-key
// column names must not collide across inputs.
func OuterJoin(frames []Named, keys ...string) (*Frame, error) {
	if len(frames) == 0 {
		return nil, errors.ErrEmptyData
	}
	if len(keys) == 0 {
		return nil, errors.NewValueError("OuterJoin", "at least one key column is required")
	}

	rows := make(map[string][]string)
	lookups := make([]map[string]int, len(frames))
	owner := make(map[string]string)

	for fi, nf := range frames {
		if err := nf.Frame.CheckUniqueKeys(nf.Name, keys...); err != nil {
			return nil, err
		}
		kc, err := nf.Frame.KeyColumns(keys...)
		if err != nil {
			return nil, errors.Wrapf(err, "table %s", nf.Name)
		}
		lookups[fi] = make(map[string]int, nf.Frame.NRows())
		for i := 0; i < nf.Frame.NRows(); i++ {
			k := nf.Frame.KeyOf(i, kc)
			lookups[fi][k] = i
			if _, ok := rows[k]; !ok {
				parts := make([]string, len(kc))
				for j, c := range kc {
					parts[j] = c.Text[i]
				}
				rows[k] = parts
			}
		}
		for _, c := range nf.Frame.Columns() {
			if isKey(c.Name, keys) {
				continue
			}
			if prev, dup := owner[c.Name]; dup {
				return nil, errors.NewSchemaErrorf(nf.Name, c.Name, "column also provided by %s", prev)
			}
			owner[c.Name] = nf.Name
		}
	}

	ordered := make([]string, 0, len(rows))
	for k := range rows {
		ordered = append(ordered, k)
	}
	sort.Slice(ordered, func(a, b int) bool {
		pa, pb := rows[ordered[a]], rows[ordered[b]]
		for j := range pa {
			if pa[j] != pb[j] {
				return pa[j] < pb[j]
			}
		}
		return false
	})

	n := len(ordered)
	out := NewFrame(n)
	for j, key := range keys {
		vals := make([]string, n)
		for i, k := range ordered {
			vals[i] = rows[k][j]
		}
		if err := out.AddText(key, vals); err != nil {
			return nil, err
		}
	}

	for fi, nf := range frames {
		for _, c := range nf.Frame.Columns() {
			if isKey(c.Name, keys) {
				continue
			}
			col := &Column{Name: c.Name, Kind: c.Kind}
			switch c.Kind {
			case KindNumeric:
				col.Num = make([]float64, n)
			case KindBinary:
				col.Bin = make([]Flag, n)
			default:
				col.Text = make([]string, n)
			}
			for i, k := range ordered {
				src, ok := lookups[fi][k]
				switch c.Kind {
				case KindNumeric:
					if ok {
						col.Num[i] = c.Num[src]
					} else {
						col.Num[i] = math.NaN()
					}
				case KindBinary:
					if ok {
						col.Bin[i] = c.Bin[src]
					}
				default:
					if ok {
						col.Text[i] = c.Text[src]
					}
				}
			}
			if err := out.AddColumn(col); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func isKey(name string, keys []string) bool {
	for _, k := range keys {
		if k == name {
			return true
		}
	}
	return false
}

// GroupMean collapses rows sharing the same value of the text column by.
// Every other column must be numeric or binary; it becomes a numeric column
// holding the mean of its non-missing values, or NaN when all are missing.
// Groups are emitted in ascending order of by.
func GroupMean(f *Frame, by string) (*Frame, error) {
	keyCol, err := f.typed(by, KindText)
	if err != nil {
		return nil, err
	}
	for _, c := range f.cols {
		if c.Name != by && c.Kind == KindText {
			return nil, errors.NewValueError("GroupMean", "text column "+c.Name+" cannot be averaged; drop it first")
		}
	}

	groups := make(map[string][]int)
	var order []string
	for i, k := range keyCol.Text {
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], i)
	}
	sort.Strings(order)

	out := NewFrame(len(order))
	if err := out.AddText(by, append([]string(nil), order...)); err != nil {
		return nil, err
	}
	for _, c := range f.cols {
		if c.Name == by {
			continue
		}
		vals := make([]float64, len(order))
		for g, k := range order {
			sum, cnt := 0.0, 0
			for _, i := range groups[k] {
				v := c.Float(i)
				if math.IsNaN(v) {
					continue
				}
				sum += v
				cnt++
			}
			if cnt == 0 {
				vals[g] = math.NaN()
			} else {
				vals[g] = sum / float64(cnt)
			}
		}
		if err := out.AddNumeric(c.Name, vals); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// FormatKey renders a composite key for messages.
func FormatKey(parts ...string) string {
	return "(" + strings.Join(parts, ", ") + ")"
}
