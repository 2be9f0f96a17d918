package svm

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/sipredict/core/model"
)

func separable() (*mat.Dense, *mat.Dense) {
	X := mat.NewDense(8, 2, []float64{
		0, 0,
		1, 0,
		0, 1,
		1, 1,
		3, 3,
		4, 3,
		3, 4,
		4, 4,
	})
	y := mat.NewDense(8, 1, []float64{0, 0, 0, 0, 1, 1, 1, 1})
	return X, y
}

// ring: 内側の円が陽性、外側が陰性 (線形分離不可能)
func ring(n int) (*mat.Dense, *mat.Dense) {
	X := mat.NewDense(2*n, 2, nil)
	y := mat.NewDense(2*n, 1, nil)
	for i := 0; i < n; i++ {
		a := 2 * math.Pi * float64(i) / float64(n)
		X.Set(i, 0, 0.5*math.Cos(a))
		X.Set(i, 1, 0.5*math.Sin(a))
		y.Set(i, 0, 1)
		X.Set(n+i, 0, 2*math.Cos(a+0.1))
		X.Set(n+i, 1, 2*math.Sin(a+0.1))
	}
	return X, y
}

func accuracy(t *testing.T, s *SVC, X, y mat.Matrix) float64 {
	t.Helper()
	pred, err := s.Predict(X)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	n, _ := X.Dims()
	ok := 0
	for i := 0; i < n; i++ {
		if pred.At(i, 0) == y.At(i, 0) {
			ok++
		}
	}
	return float64(ok) / float64(n)
}

func TestSVC_Kernels(t *testing.T) {
	sepX, sepY := separable()
	ringX, ringY := ring(20)
	tests := []struct {
		name string
		opts []Option
		X, y *mat.Dense
	}{
		{"linear separable", []Option{WithKernel(KernelLinear), WithC(10)}, sepX, sepY},
		{"rbf ring", []Option{WithKernel(KernelRBF), WithGamma(1), WithC(10)}, ringX, ringY},
		{"poly ring", []Option{WithKernel(KernelPoly), WithDegree(2), WithC(10)}, ringX, ringY},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSVC(tt.opts...)
			if err := s.Fit(tt.X, tt.y); err != nil {
				t.Fatalf("Fit: %v", err)
			}
			if acc := accuracy(t, s, tt.X, tt.y); acc != 1 {
				t.Errorf("training accuracy = %v, want 1", acc)
			}
		})
	}
}

func TestSVC_LinearMargin(t *testing.T) {
	X := mat.NewDense(2, 1, []float64{-1, 1})
	y := mat.NewDense(2, 1, []float64{0, 1})
	s := NewSVC(WithC(100), WithTol(1e-8))
	if err := s.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	// 最大マージン: f(x) = x
	f, err := s.DecisionFunction(mat.NewDense(3, 1, []float64{-1, 0, 2}))
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{-1, 0, 2}
	for i := range want {
		if math.Abs(f[i]-want[i]) > 1e-6 {
			t.Errorf("f(%v) = %v, want %v", want[i], f[i], want[i])
		}
	}
	if len(s.SupportVectors) != 2 {
		t.Errorf("support vectors = %d, want 2", len(s.SupportVectors))
	}
}

func TestSVC_HardLabelsOnly(t *testing.T) {
	var c model.Classifier = NewSVC()
	if _, ok := c.(model.ProbabilisticClassifier); ok {
		t.Fatal("SVC must not expose probabilities")
	}
	X, y := separable()
	if err := c.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	scores, err := model.PositiveScores(c, X)
	if err != nil {
		t.Fatal(err)
	}
	for i, s := range scores {
		if s != 0 && s != 1 {
			t.Errorf("score %d = %v, want a hard label", i, s)
		}
	}
}

func TestSVC_Errors(t *testing.T) {
	X, y := separable()
	tests := []struct {
		name string
		opts []Option
	}{
		{"kernel", []Option{WithKernel("sigmoid")}},
		{"C", []Option{WithC(0)}},
		{"degree", []Option{WithKernel(KernelPoly), WithDegree(0)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := NewSVC(tt.opts...).Fit(X, y); err == nil {
				t.Error("expected error")
			}
		})
	}
	if _, err := NewSVC().Predict(X); err == nil {
		t.Error("expected not-fitted error")
	}
	s := NewSVC()
	if err := s.SetParams(map[string]interface{}{"sigma": "0.25", "C": 4}); err != nil {
		t.Fatal(err)
	}
	if s.Gamma != 0.25 || s.C != 4 {
		t.Errorf("params not applied: %v", s.GetParams())
	}
}
