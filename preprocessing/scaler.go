// Package preprocessing provides feature transformers fitted on training data
// and replayed on held-out data.
package preprocessing

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/sipredict/core/model"
	"github.com/YuminosukeSato/sipredict/pkg/errors"
)

// StandardScaler はデータを平均0、標準偏差1に変換する
//
// 欠損値 (NaN) は統計量の計算から除外され、変換後も NaN のまま残る。
// 分散は母分散 (n で割る)。
type StandardScaler struct {
	State *model.StateManager

	// Mean は各特徴量の平均値
	Mean []float64

	// Scale は各特徴量の標準偏差
	Scale []float64

	// WithMean は平均を引くかどうか (デフォルト: true)
	WithMean bool

	// WithStd は標準偏差で割るかどうか (デフォルト: true)
	WithStd bool
}

var _ model.Transformer = (*StandardScaler)(nil)

// ScalerOption configures a StandardScaler.
type ScalerOption func(*StandardScaler)

// WithoutMean disables centering.
func WithoutMean() ScalerOption {
	return func(s *StandardScaler) { s.WithMean = false }
}

// WithoutStd disables scaling to unit variance.
func WithoutStd() ScalerOption {
	return func(s *StandardScaler) { s.WithStd = false }
}

// NewStandardScaler は新しいStandardScalerを作成する
//
// 使用例:
//
//	scaler := preprocessing.NewStandardScaler()
//	err := scaler.Fit(X)
//	XScaled, err := scaler.Transform(X)
func NewStandardScaler(opts ...ScalerOption) *StandardScaler {
	s := &StandardScaler{
		State:    model.NewStateManager(),
		WithMean: true,
		WithStd:  true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Fit は訓練データから平均と標準偏差を計算する
func (s *StandardScaler) Fit(X mat.Matrix) error {
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return errors.NewModelError("StandardScaler.Fit", "empty data", errors.ErrEmptyData)
	}
	if s.State == nil {
		s.State = model.NewStateManager()
	}

	s.Mean = make([]float64, c)
	s.Scale = make([]float64, c)

	for j := 0; j < c; j++ {
		sum, n := 0.0, 0
		for i := 0; i < r; i++ {
			v := X.At(i, j)
			if math.IsNaN(v) {
				continue
			}
			sum += v
			n++
		}
		if s.WithMean && n > 0 {
			s.Mean[j] = sum / float64(n)
		}

		s.Scale[j] = 1.0
		if !s.WithStd || n == 0 {
			continue
		}
		// 中心化しない場合も分散は平均まわりで計算する
		mean := sum / float64(n)
		ss := 0.0
		for i := 0; i < r; i++ {
			v := X.At(i, j)
			if math.IsNaN(v) {
				continue
			}
			d := v - mean
			ss += d * d
		}
		sd := math.Sqrt(ss / float64(n))
		// 定数列はゼロ除算を避けるため 1 のまま
		if sd >= 1e-8 {
			s.Scale[j] = sd
		}
	}

	s.State.SetDimensions(c, r)
	s.State.SetFitted()
	return nil
}

// Transform は学習済みの統計情報を使ってデータを標準化する
func (s *StandardScaler) Transform(X mat.Matrix) (mat.Matrix, error) {
	return s.apply("Transform", X, func(v float64, j int) float64 {
		return (v - s.Mean[j]) / s.Scale[j]
	})
}

// FitTransform は訓練データで学習し、同じデータを変換する
func (s *StandardScaler) FitTransform(X mat.Matrix) (mat.Matrix, error) {
	if err := s.Fit(X); err != nil {
		return nil, err
	}
	return s.Transform(X)
}

// InverseTransform は標準化されたデータを元のスケールに戻す
func (s *StandardScaler) InverseTransform(X mat.Matrix) (mat.Matrix, error) {
	return s.apply("InverseTransform", X, func(v float64, j int) float64 {
		return v*s.Scale[j] + s.Mean[j]
	})
}

func (s *StandardScaler) apply(method string, X mat.Matrix, fn func(v float64, j int) float64) (mat.Matrix, error) {
	if err := s.State.RequireFitted("StandardScaler", method); err != nil {
		return nil, err
	}
	r, c := X.Dims()
	if err := s.State.RequireFeatures("StandardScaler."+method, c); err != nil {
		return nil, err
	}
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out.Set(i, j, fn(X.At(i, j), j))
		}
	}
	return out, nil
}

// IsFitted reports whether Fit has completed.
func (s *StandardScaler) IsFitted() bool { return s.State.IsFitted() }

// GetParams はスケーラーのパラメータを取得する
func (s *StandardScaler) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"with_mean": s.WithMean,
		"with_std":  s.WithStd,
	}
}

// String はスケーラーの文字列表現を返す
func (s *StandardScaler) String() string {
	if !s.IsFitted() {
		return fmt.Sprintf("StandardScaler(with_mean=%t, with_std=%t)", s.WithMean, s.WithStd)
	}
	nFeatures, _ := s.State.GetDimensions()
	return fmt.Sprintf("StandardScaler(with_mean=%t, with_std=%t, n_features=%d)",
		s.WithMean, s.WithStd, nFeatures)
}
