package model

import (
	"encoding/json"

	"github.com/YuminosukeSato/sipredict/pkg/errors"
)

// Summary はモデルの人が読める要約 (JSON 用)。
// gob のアーティファクトと並べて保存し、係数や重要度を後から確認できるようにする。
type Summary struct {
	// ModelType はモデルの種類 (RandomForestClassifier, SVC 等)
	ModelType string `json:"model_type"`

	// Version はアーティファクト形式のバージョン
	Version string `json:"version"`

	// Features は学習に使った特徴量名
	Features []string `json:"features"`

	// Coefficients は線形モデルの係数 (特徴量順)
	Coefficients []float64 `json:"coefficients,omitempty"`

	// Intercept は線形モデルの切片
	Intercept float64 `json:"intercept,omitempty"`

	// Importances は木系モデルの特徴量重要度 (特徴量順)
	Importances []float64 `json:"importances,omitempty"`

	// Hyperparameters は選択されたハイパーパラメータ
	Hyperparameters map[string]interface{} `json:"hyperparameters"`

	// Metadata は追加情報 (CV スコア, OOB スコア等)
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ToJSON はSummaryをJSON形式にシリアライズ
func (s *Summary) ToJSON() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// FromJSON はJSON形式からSummaryをデシリアライズ
func (s *Summary) FromJSON(data []byte) error {
	return json.Unmarshal(data, s)
}

// Validate はSummaryの妥当性を検証
func (s *Summary) Validate() error {
	if s.ModelType == "" {
		return errors.NewValidationError("model_type", "is required", s.ModelType)
	}
	if len(s.Features) == 0 {
		return errors.NewValidationError("features", "at least one feature is required", s.Features)
	}
	if len(s.Coefficients) > 0 && len(s.Coefficients) != len(s.Features) {
		return errors.NewDimensionError("Summary.Validate", len(s.Features), len(s.Coefficients), 1)
	}
	if len(s.Importances) > 0 && len(s.Importances) != len(s.Features) {
		return errors.NewDimensionError("Summary.Validate", len(s.Features), len(s.Importances), 1)
	}
	return nil
}
