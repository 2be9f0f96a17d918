package metrics

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestMSE(t *testing.T) {
	tests := []struct {
		name    string
		yTrue   *mat.VecDense
		yPred   *mat.VecDense
		want    float64
		wantErr bool
	}{
		{
			name:  "exact",
			yTrue: mat.NewVecDense(3, []float64{1, 2, 3}),
			yPred: mat.NewVecDense(3, []float64{1, 2, 3}),
			want:  0,
		},
		{
			name:  "mixed residuals",
			yTrue: mat.NewVecDense(4, []float64{1, 2, 3, 4}),
			yPred: mat.NewVecDense(4, []float64{2, 2, 1, 4}),
			want:  (1 + 0 + 4 + 0) / 4.0,
		},
		{
			name:    "empty",
			yTrue:   &mat.VecDense{},
			yPred:   &mat.VecDense{},
			wantErr: true,
		},
		{
			name:    "length mismatch",
			yTrue:   mat.NewVecDense(3, []float64{1, 2, 3}),
			yPred:   mat.NewVecDense(2, []float64{1, 2}),
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MSE(tt.yTrue, tt.yPred)
			if (err != nil) != tt.wantErr {
				t.Fatalf("MSE() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("MSE() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRMSE(t *testing.T) {
	tests := []struct {
		name    string
		yTrue   *mat.VecDense
		yPred   *mat.VecDense
		want    float64
		wantErr bool
	}{
		{
			name:  "unit offset",
			yTrue: mat.NewVecDense(4, []float64{0, 0, 0, 0}),
			yPred: mat.NewVecDense(4, []float64{1, 1, 1, 1}),
			want:  1,
		},
		{
			name:  "out-of-bag residuals of a rounded binary column",
			yTrue: mat.NewVecDense(4, []float64{0, 1, 1, 0}),
			yPred: mat.NewVecDense(4, []float64{0.2, 0.6, 1.0, 0.0}),
			want:  math.Sqrt((0.04 + 0.16) / 4),
		},
		{
			name:    "nil prediction",
			yTrue:   mat.NewVecDense(2, []float64{1, 2}),
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RMSE(tt.yTrue, tt.yPred)
			if (err != nil) != tt.wantErr {
				t.Fatalf("RMSE() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("RMSE() = %v, want %v", got, tt.want)
			}
		})
	}
}
