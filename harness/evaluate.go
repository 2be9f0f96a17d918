package harness

import (
	"math"

	"github.com/YuminosukeSato/sipredict/metrics"
	"github.com/YuminosukeSato/sipredict/pkg/errors"
	"github.com/YuminosukeSato/sipredict/pkg/log"
)

// Threshold is the calibrated cutoff of one model.
type Threshold struct {
	Model  string
	Cutoff float64
	// J は Youden の J (sensitivity + specificity - 1)
	J float64
}

// ModelMetrics is the held-out performance of one model, pooled over
// resamples.
type ModelMetrics struct {
	Model       string
	Cutoff      float64
	N           int
	Accuracy    float64
	Sensitivity float64
	Specificity float64
	AUC         float64
	// LogLoss と Brier はスコアを陽性確率として扱う。SVM のハードラベルでは
	// Brier は誤分類率になる
	LogLoss float64
	Brier   float64
	// SevereAUC は対照群と (ideation かつ action) の被験者だけで計算した AUC。
	// 部分集団に片方のクラスしかなければ NaN
	SevereAUC float64
	SevereN   int
}

func pooled(preds []Prediction, name string, keep func(Prediction) bool) (labels []bool, scores []float64) {
	for _, p := range preds {
		s, ok := p.Scores[name]
		if !ok || math.IsNaN(s) || (keep != nil && !keep(p)) {
			continue
		}
		labels = append(labels, p.Ideation)
		scores = append(scores, s)
	}
	return labels, scores
}

// Calibrate picks, per model, the cutoff that maximizes Youden's J on the
// predictions pooled across resamples.
func Calibrate(preds []Prediction) (map[string]Threshold, error) {
	names := ModelNames(preds)
	if len(names) == 0 {
		return nil, errors.NewValueError("Calibrate", "no model scores")
	}
	out := make(map[string]Threshold, len(names))
	for _, name := range names {
		labels, scores := pooled(preds, name, nil)
		th, j, err := metrics.YoudenThreshold(labels, scores)
		if err != nil {
			return nil, errors.Wrapf(err, "calibrate %s", name)
		}
		out[name] = Threshold{Model: name, Cutoff: th, J: j}
	}
	return out, nil
}

// severe keeps the controls and the subjects with both ideation and action.
func severe(p Prediction) bool { return !p.Ideation || p.Action }

// Evaluate computes the metrics of every calibrated model, in model-name
// order.
func Evaluate(preds []Prediction, thresholds map[string]Threshold) ([]ModelMetrics, error) {
	var out []ModelMetrics
	for _, name := range ModelNames(preds) {
		th, ok := thresholds[name]
		if !ok {
			return nil, errors.NewValueError("Evaluate", "no threshold for "+name)
		}
		labels, scores := pooled(preds, name, nil)
		c, err := metrics.ConfusionAt(labels, scores, th.Cutoff)
		if err != nil {
			return nil, errors.Wrapf(err, "evaluate %s", name)
		}
		auc, err := metrics.AUCScores(labels, scores)
		if err != nil {
			return nil, errors.Wrapf(err, "evaluate %s", name)
		}
		loss, err := metrics.LogLossScores(labels, scores)
		if err != nil {
			return nil, errors.Wrapf(err, "evaluate %s", name)
		}
		brier, err := metrics.BrierScore(labels, scores)
		if err != nil {
			return nil, errors.Wrapf(err, "evaluate %s", name)
		}
		m := ModelMetrics{
			Model:       name,
			Cutoff:      th.Cutoff,
			N:           c.Total(),
			Accuracy:    c.Accuracy(),
			Sensitivity: c.Sensitivity(),
			Specificity: c.Specificity(),
			AUC:         auc,
			LogLoss:     loss,
			Brier:       brier,
			SevereAUC:   math.NaN(),
		}
		sl, ss := pooled(preds, name, severe)
		m.SevereN = len(sl)
		if bothClasses(sl) {
			if m.SevereAUC, err = metrics.AUCScores(sl, ss); err != nil {
				return nil, errors.Wrapf(err, "evaluate %s", name)
			}
		}
		out = append(out, m)
	}
	return out, nil
}

func bothClasses(labels []bool) bool {
	var pos, neg bool
	for _, l := range labels {
		if l {
			pos = true
		} else {
			neg = true
		}
	}
	return pos && neg
}

// Evaluate calibrates and evaluates preds, logging one line per model.
func (h *Harness) Evaluate(preds []Prediction) (map[string]Threshold, []ModelMetrics, error) {
	th, err := Calibrate(preds)
	if err != nil {
		return nil, nil, errors.NewStageError("evaluate", err)
	}
	ms, err := Evaluate(preds, th)
	if err != nil {
		return nil, nil, errors.NewStageError("evaluate", err)
	}
	for _, m := range ms {
		h.logger.Info("model evaluated",
			log.ModelNameKey, m.Model,
			log.ThresholdKey, m.Cutoff,
			log.AccuracyKey, m.Accuracy,
			log.SensitivityKey, m.Sensitivity,
			log.SpecificityKey, m.Specificity,
			log.AUCKey, m.AUC,
			log.LossKey, m.LogLoss,
			"brier", m.Brier,
			"severe_auc", m.SevereAUC,
		)
	}
	return th, ms, nil
}
