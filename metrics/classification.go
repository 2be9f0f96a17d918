// Package metrics provides classification and regression metrics: accuracy,
// confusion-matrix rates, ROC/AUC, Youden threshold calibration, log loss
// and the Brier score.
package metrics

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/sipredict/pkg/errors"
)

// Accuracy は正解率を計算する。ラベルは完全一致で比較する
func Accuracy(yTrue, yPred *mat.VecDense) (float64, error) {
	n, err := checkPair("Accuracy", yTrue, yPred)
	if err != nil {
		return 0, err
	}
	correct := 0
	for i := 0; i < n; i++ {
		if yTrue.AtVec(i) == yPred.AtVec(i) {
			correct++
		}
	}
	return float64(correct) / float64(n), nil
}

// AUCScores は bool ラベルとスコアから AUC を Mann-Whitney の順位統計量で計算する。
// 同順位は 0.5 として数える。片方のクラスしかない場合は警告を出して 0.5 を返す。
func AUCScores(labels []bool, scores []float64) (float64, error) {
	n := len(labels)
	if n == 0 {
		return 0, errors.NewValueError("AUC", "empty input")
	}
	if len(scores) != n {
		return 0, errors.NewDimensionError("AUC", n, len(scores), 0)
	}

	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return scores[idx[a]] < scores[idx[b]] })

	// 平均順位 (1-based)
	ranks := make([]float64, n)
	for i := 0; i < n; {
		j := i
		for j+1 < n && scores[idx[j+1]] == scores[idx[i]] {
			j++
		}
		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			ranks[idx[k]] = avg
		}
		i = j + 1
	}

	var nPos, nNeg int
	var rankSum float64
	for i, l := range labels {
		if l {
			nPos++
			rankSum += ranks[i]
		} else {
			nNeg++
		}
	}
	if nPos == 0 || nNeg == 0 {
		errors.Warn(errors.NewUndefinedMetricWarning("AUC", "only one class present in yTrue", 0.5))
		return 0.5, nil
	}
	u := rankSum - float64(nPos)*float64(nPos+1)/2
	return u / (float64(nPos) * float64(nNeg)), nil
}

// BinaryLogLoss は二値交差エントロピーを計算する。予測確率は [eps, 1-eps] にクリップする
func BinaryLogLoss(yTrue, yPred *mat.VecDense) (float64, error) {
	n, err := checkPair("BinaryLogLoss", yTrue, yPred)
	if err != nil {
		return 0, err
	}
	const eps = 1e-15
	var sum float64
	for i := 0; i < n; i++ {
		y := yTrue.AtVec(i)
		if y != 0 && y != 1 {
			return 0, errors.NewValueError("BinaryLogLoss", "yTrue must contain only 0 and 1")
		}
		p := errors.ClipValue(yPred.AtVec(i), eps, 1-eps)
		sum -= y*math.Log(p) + (1-y)*math.Log(1-p)
	}
	return sum / float64(n), nil
}

// LogLossScores は bool ラベルと陽性確率の BinaryLogLoss
func LogLossScores(labels []bool, scores []float64) (float64, error) {
	y, p, err := labelVectors("LogLoss", labels, scores)
	if err != nil {
		return 0, err
	}
	return BinaryLogLoss(y, p)
}

// BrierScore は陽性確率と 0/1 ラベルの平均二乗誤差。
// スコアがハードラベルなら誤分類率に一致する
func BrierScore(labels []bool, scores []float64) (float64, error) {
	y, p, err := labelVectors("BrierScore", labels, scores)
	if err != nil {
		return 0, err
	}
	return MSE(y, p)
}

func labelVectors(op string, labels []bool, scores []float64) (*mat.VecDense, *mat.VecDense, error) {
	if len(labels) == 0 {
		return nil, nil, errors.NewValueError(op, "empty input")
	}
	if len(scores) != len(labels) {
		return nil, nil, errors.NewDimensionError(op, len(labels), len(scores), 0)
	}
	y := make([]float64, len(labels))
	for i, l := range labels {
		if l {
			y[i] = 1
		}
	}
	return mat.NewVecDense(len(y), y), mat.NewVecDense(len(scores), append([]float64(nil), scores...)), nil
}
