package metrics

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/sipredict/pkg/errors"
)

// Confusion は二値分類の混同行列
type Confusion struct {
	TP, FP, TN, FN int
}

// ConfusionAt は score >= threshold を陽性として混同行列を作る
func ConfusionAt(labels []bool, scores []float64, threshold float64) (Confusion, error) {
	var c Confusion
	if len(labels) == 0 {
		return c, errors.NewValueError("ConfusionAt", "empty input")
	}
	if len(scores) != len(labels) {
		return c, errors.NewDimensionError("ConfusionAt", len(labels), len(scores), 0)
	}
	for i, l := range labels {
		pos := scores[i] >= threshold
		switch {
		case l && pos:
			c.TP++
		case l:
			c.FN++
		case pos:
			c.FP++
		default:
			c.TN++
		}
	}
	return c, nil
}

// Total returns the number of observations.
func (c Confusion) Total() int { return c.TP + c.FP + c.TN + c.FN }

// Accuracy は (TP+TN)/N
func (c Confusion) Accuracy() float64 {
	if c.Total() == 0 {
		return math.NaN()
	}
	return float64(c.TP+c.TN) / float64(c.Total())
}

// Sensitivity は TP/(TP+FN)。陽性がない場合は NaN
func (c Confusion) Sensitivity() float64 {
	if c.TP+c.FN == 0 {
		errors.Warn(errors.NewUndefinedMetricWarning("sensitivity", "no positive observations", math.NaN()))
		return math.NaN()
	}
	return float64(c.TP) / float64(c.TP+c.FN)
}

// Specificity は TN/(TN+FP)。陰性がない場合は NaN
func (c Confusion) Specificity() float64 {
	if c.TN+c.FP == 0 {
		errors.Warn(errors.NewUndefinedMetricWarning("specificity", "no negative observations", math.NaN()))
		return math.NaN()
	}
	return float64(c.TN) / float64(c.TN+c.FP)
}

// Curve は ROC 曲線。Thresholds は降順で、TPR[i], FPR[i] は score >= Thresholds[i] を陽性とした率
type Curve struct {
	Thresholds []float64
	TPR        []float64
	FPR        []float64
}

// ROC は全ての候補閾値での ROC 曲線を返す。
// 候補閾値は gonum の stat.ROC から取り、各点の率は ConfusionAt で計算し直す。
func ROC(labels []bool, scores []float64) (Curve, error) {
	if len(labels) == 0 {
		return Curve{}, errors.NewValueError("ROC", "empty input")
	}
	if len(scores) != len(labels) {
		return Curve{}, errors.NewDimensionError("ROC", len(labels), len(scores), 0)
	}
	y := append([]float64(nil), scores...)
	classes := append([]bool(nil), labels...)
	stat.SortWeightedLabeled(y, classes, nil)
	_, _, thresh := stat.ROC(nil, y, classes, nil)

	curve := Curve{
		Thresholds: make([]float64, 0, len(thresh)),
		TPR:        make([]float64, 0, len(thresh)),
		FPR:        make([]float64, 0, len(thresh)),
	}
	var nPos, nNeg int
	for _, l := range labels {
		if l {
			nPos++
		} else {
			nNeg++
		}
	}
	for _, th := range thresh {
		c, err := ConfusionAt(labels, scores, th)
		if err != nil {
			return Curve{}, err
		}
		curve.Thresholds = append(curve.Thresholds, th)
		curve.TPR = append(curve.TPR, rate(c.TP, nPos))
		curve.FPR = append(curve.FPR, rate(c.FP, nNeg))
	}
	return curve, nil
}

func rate(k, n int) float64 {
	if n == 0 {
		return 0
	}
	return float64(k) / float64(n)
}

// YoudenThreshold は J = sensitivity + specificity - 1 を最大化する閾値を返す。
// 同点の場合は最も高い閾値を選ぶ。
func YoudenThreshold(labels []bool, scores []float64) (threshold, j float64, err error) {
	curve, err := ROC(labels, scores)
	if err != nil {
		return 0, 0, err
	}
	best := -1
	j = math.Inf(-1)
	for i, th := range curve.Thresholds {
		if math.IsInf(th, 0) {
			continue
		}
		v := curve.TPR[i] - curve.FPR[i]
		if v > j || (v == j && th > curve.Thresholds[best]) {
			j, best = v, i
		}
	}
	if best < 0 {
		return 0, 0, errors.NewValueError("YoudenThreshold", "no finite cutoff")
	}
	return curve.Thresholds[best], j, nil
}
