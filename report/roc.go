package report

import (
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/YuminosukeSato/sipredict/harness"
	"github.com/YuminosukeSato/sipredict/metrics"
	"github.com/YuminosukeSato/sipredict/pkg/errors"
)

// Curves computes the pooled ROC curve of every model in preds.
func Curves(preds []harness.Prediction) (map[string]metrics.Curve, error) {
	out := make(map[string]metrics.Curve)
	for _, name := range harness.ModelNames(preds) {
		var labels []bool
		var scores []float64
		for _, p := range preds {
			if s, ok := p.Scores[name]; ok {
				labels = append(labels, p.Ideation)
				scores = append(scores, s)
			}
		}
		c, err := metrics.ROC(labels, scores)
		if err != nil {
			return nil, errors.Wrapf(err, "roc %s", name)
		}
		out[name] = c
	}
	return out, nil
}

func points(c metrics.Curve) plotter.XYs {
	xy := make(plotter.XYs, 0, len(c.FPR)+2)
	xy = append(xy, plotter.XY{X: 0, Y: 0})
	for i := range c.FPR {
		xy = append(xy, plotter.XY{X: c.FPR[i], Y: c.TPR[i]})
	}
	return append(xy, plotter.XY{X: 1, Y: 1})
}

// PlotROC draws the named curves and the chance diagonal into a PNG.
func PlotROC(path, title string, curves map[string]metrics.Curve, names []string) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "1 - specificity"
	p.Y.Label.Text = "sensitivity"
	p.X.Min, p.X.Max = 0, 1
	p.Y.Min, p.Y.Max = 0, 1
	p.Legend.Top = false
	p.Legend.Left = false

	chance := plotter.NewFunction(func(x float64) float64 { return x })
	chance.Dashes = []vg.Length{vg.Points(2), vg.Points(2)}
	p.Add(chance)

	var lines []interface{}
	for _, name := range names {
		c, ok := curves[name]
		if !ok {
			return errors.NewValueError("PlotROC", "no curve for "+name)
		}
		lines = append(lines, name, points(c))
	}
	if err := plotutil.AddLines(p, lines...); err != nil {
		return errors.Wrap(err, "add roc lines")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "create directory for %s", path)
	}
	return errors.Wrapf(p.Save(5*vg.Inch, 5*vg.Inch, path), "save %s", path)
}
