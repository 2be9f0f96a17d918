// Package report renders evaluation results: a metrics table (CSV and
// workbook) and ROC curves per model family.
package report

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/YuminosukeSato/sipredict/harness"
	"github.com/YuminosukeSato/sipredict/pkg/errors"
	"github.com/YuminosukeSato/sipredict/pkg/log"
	"github.com/YuminosukeSato/sipredict/tabular"
)

// Files lists what Write produced.
type Files struct {
	MetricsCSV string
	Workbook   string
	ROCPlots   []string
}

// MetricsFrame lays out one row per model.
func MetricsFrame(ms []harness.ModelMetrics) (*tabular.Frame, error) {
	if len(ms) == 0 {
		return nil, errors.ErrEmptyData
	}
	n := len(ms)
	names := make([]string, n)
	cols := map[string][]float64{}
	order := []string{"cutoff", "n", "accuracy", "sensitivity", "specificity", "auc", "log_loss", "brier", "severe_auc", "severe_n"}
	for _, k := range order {
		cols[k] = make([]float64, n)
	}
	for i, m := range ms {
		names[i] = m.Model
		cols["cutoff"][i] = m.Cutoff
		cols["n"][i] = float64(m.N)
		cols["accuracy"][i] = m.Accuracy
		cols["sensitivity"][i] = m.Sensitivity
		cols["specificity"][i] = m.Specificity
		cols["auc"][i] = m.AUC
		cols["log_loss"][i] = m.LogLoss
		cols["brier"][i] = m.Brier
		cols["severe_auc"][i] = m.SevereAUC
		cols["severe_n"][i] = float64(m.SevereN)
	}
	f := tabular.NewFrame(n)
	if err := f.AddText("model", names); err != nil {
		return nil, err
	}
	for _, k := range order {
		if err := f.AddNumeric(k, cols[k]); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// SelectionFrame lays out the Boruta decision of every feature on every
// resample.
func SelectionFrame(sels []*harness.Selection) (*tabular.Frame, error) {
	var res []float64
	var feature, decision, raw []string
	var hits, med []float64
	for _, s := range sels {
		if s == nil || s.Result == nil {
			continue
		}
		r := s.Result
		for j, name := range r.Features {
			res = append(res, float64(s.Resample))
			feature = append(feature, name)
			decision = append(decision, r.Decisions[j].String())
			raw = append(raw, r.RawDecisions[j].String())
			hits = append(hits, float64(r.Hits[j]))
			med = append(med, r.MedianImportance[j])
		}
	}
	if len(feature) == 0 {
		return nil, errors.ErrEmptyData
	}
	f := tabular.NewFrame(len(feature))
	for _, step := range []func() error{
		func() error { return f.AddNumeric("resample", res) },
		func() error { return f.AddText("feature", feature) },
		func() error { return f.AddText("decision", decision) },
		func() error { return f.AddText("raw_decision", raw) },
		func() error { return f.AddNumeric("hits", hits) },
		func() error { return f.AddNumeric("median_importance", med) },
	} {
		if err := step(); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// WriteWorkbook writes a "metrics" sheet and, when selections are given, a
// "boruta" sheet.
func WriteWorkbook(path string, ms []harness.ModelMetrics, sels []*harness.Selection) error {
	mf, err := MetricsFrame(ms)
	if err != nil {
		return err
	}
	wb := excelize.NewFile()
	defer wb.Close()
	if err := tabular.WriteXLSXSheet(wb, "metrics", mf); err != nil {
		return err
	}
	if len(sels) > 0 {
		sf, err := SelectionFrame(sels)
		if err != nil && !errors.Is(err, errors.ErrEmptyData) {
			return err
		}
		if sf != nil {
			if err := tabular.WriteXLSXSheet(wb, "boruta", sf); err != nil {
				return err
			}
		}
	}
	if err := wb.DeleteSheet("Sheet1"); err != nil {
		return errors.WithStack(err)
	}
	return errors.Wrapf(wb.SaveAs(path), "save %s", path)
}

// familyOf strips the variant suffix from a model name.
func familyOf(model string) string {
	return strings.TrimSuffix(model, "_boruta")
}

// Write renders every report file into dir.
func Write(dir string, preds []harness.Prediction, ms []harness.ModelMetrics, sels []*harness.Selection) (*Files, error) {
	logger := log.GetLoggerWithName("report")
	out := &Files{
		MetricsCSV: filepath.Join(dir, "metrics.csv"),
		Workbook:   filepath.Join(dir, "metrics.xlsx"),
	}
	mf, err := MetricsFrame(ms)
	if err != nil {
		return nil, err
	}
	if err := tabular.WriteCSVFile(out.MetricsCSV, mf); err != nil {
		return nil, err
	}
	if err := WriteWorkbook(out.Workbook, ms, sels); err != nil {
		return nil, err
	}

	curves, err := Curves(preds)
	if err != nil {
		return nil, err
	}
	byFamily := map[string][]string{}
	for name := range curves {
		byFamily[familyOf(name)] = append(byFamily[familyOf(name)], name)
	}
	families := make([]string, 0, len(byFamily))
	for fam := range byFamily {
		families = append(families, fam)
	}
	sort.Strings(families)
	for _, fam := range families {
		names := byFamily[fam]
		sort.Strings(names)
		path := filepath.Join(dir, "roc_"+fam+".png")
		if err := PlotROC(path, "ROC: "+fam, curves, names); err != nil {
			return nil, err
		}
		out.ROCPlots = append(out.ROCPlots, path)
	}
	logger.Info("report written", log.PathKey, dir, "plots", len(out.ROCPlots), "models", len(ms))
	return out, nil
}
