package neighbors

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestKNeighborsClassifier_Proba(t *testing.T) {
	X := mat.NewDense(6, 1, []float64{0, 1, 2, 10, 11, 12})
	y := mat.NewDense(6, 1, []float64{0, 0, 1, 1, 1, 1})

	tests := []struct {
		name  string
		k     int
		x     float64
		want1 float64
	}{
		{"k1 near zero", 1, 0.1, 0},
		{"k3 near zero", 3, 0.9, 1.0 / 3},
		{"k3 far", 3, 11, 1},
		{"k5 mixed", 5, 1, 3.0 / 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewKNeighborsClassifier(WithK(tt.k))
			if err := c.Fit(X, y); err != nil {
				t.Fatalf("Fit: %v", err)
			}
			p, err := c.PredictProba(mat.NewDense(1, 1, []float64{tt.x}))
			if err != nil {
				t.Fatalf("PredictProba: %v", err)
			}
			if math.Abs(p.At(0, 1)-tt.want1) > 1e-12 {
				t.Errorf("P(1) = %v, want %v", p.At(0, 1), tt.want1)
			}
		})
	}
}

func TestKNeighborsClassifier_Predict(t *testing.T) {
	X := mat.NewDense(4, 2, []float64{
		0, 0,
		0, 1,
		5, 5,
		5, 6,
	})
	y := mat.NewDense(4, 1, []float64{0, 0, 1, 1})
	c := NewKNeighborsClassifier(WithK(1))
	if err := c.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	pred, err := c.Predict(mat.NewDense(2, 2, []float64{0.2, 0.3, 4.8, 5.5}))
	if err != nil {
		t.Fatal(err)
	}
	if pred.At(0, 0) != 0 || pred.At(1, 0) != 1 {
		t.Errorf("predictions = [%v %v], want [0 1]", pred.At(0, 0), pred.At(1, 0))
	}
}

func TestKNeighborsClassifier_Errors(t *testing.T) {
	X := mat.NewDense(3, 1, []float64{0, 1, 2})
	y := mat.NewDense(3, 1, []float64{0, 1, 1})

	if err := NewKNeighborsClassifier(WithK(4)).Fit(X, y); err == nil {
		t.Error("expected error for k > rows")
	}
	if err := NewKNeighborsClassifier(WithK(0)).Fit(X, y); err == nil {
		t.Error("expected error for k = 0")
	}
	if err := NewKNeighborsClassifier(WithK(1)).Fit(mat.NewDense(3, 1, []float64{0, math.NaN(), 2}), y); err == nil {
		t.Error("expected error for NaN training row")
	}

	c := NewKNeighborsClassifier(WithK(1))
	if _, err := c.Predict(X); err == nil {
		t.Error("expected not-fitted error")
	}
	if err := c.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Predict(mat.NewDense(1, 2, []float64{0, 0})); err == nil {
		t.Error("expected feature count error")
	}
	if _, err := c.Predict(mat.NewDense(1, 1, []float64{math.NaN()})); err == nil {
		t.Error("expected NaN error")
	}
	if err := c.SetParams(map[string]interface{}{"n_neighbors": "7"}); err != nil || c.K != 7 {
		t.Errorf("SetParams: k=%d err=%v", c.K, err)
	}
}
