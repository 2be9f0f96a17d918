package impute

import (
	"math"
	"math/rand/v2"
	"testing"

	"gonum.org/v1/gonum/mat"
)

// correlated は col1 = 2*col0, col2 = (col0 > 5) の 3 列データを作る
func correlated(n int, seed uint64) *mat.Dense {
	rng := rand.New(rand.NewPCG(seed, 0))
	X := mat.NewDense(n, 3, nil)
	for i := 0; i < n; i++ {
		a := rng.Float64() * 10
		X.Set(i, 0, a)
		X.Set(i, 1, 2*a)
		if a > 5 {
			X.Set(i, 2, 1)
		}
	}
	return X
}

func TestBaggedTreeImputer_FillsOnlyMissing(t *testing.T) {
	nan := math.NaN()
	X := correlated(200, 1)
	X.Set(3, 1, nan)
	X.Set(7, 0, nan)
	X.Set(9, 2, nan)
	orig := mat.DenseCopyOf(X)

	imp := NewBaggedTreeImputer(WithRandomState(5), WithBinaryColumns(3, 2))
	out, err := imp.FitTransform(X)
	if err != nil {
		t.Fatalf("FitTransform failed: %v", err)
	}
	r, c := out.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := out.At(i, j)
			if math.IsNaN(v) {
				t.Fatalf("cell (%d,%d) still missing", i, j)
			}
			if o := orig.At(i, j); !math.IsNaN(o) && o != v {
				t.Fatalf("observed cell (%d,%d) changed from %v to %v", i, j, o, v)
			}
		}
	}
	want := 2 * orig.At(3, 0)
	if got := out.At(3, 1); math.Abs(got-want) > 2 {
		t.Errorf("imputed col1 = %v, want about %v", got, want)
	}
	if v := out.At(9, 2); v != 0 && v != 1 {
		t.Errorf("binary column imputed as %v", v)
	}
	if !mat.Equal(X, orig) {
		t.Error("input matrix was modified")
	}
}

func TestBaggedTreeImputer_TransformDoesNotRefit(t *testing.T) {
	train := correlated(150, 2)
	imp := NewBaggedTreeImputer(WithRandomState(1), WithBags(5))
	if err := imp.Fit(train); err != nil {
		t.Fatal(err)
	}
	medians := append([]float64(nil), imp.Medians...)
	firstTree := imp.Models[0].Trees[0]

	test := correlated(20, 3)
	test.Set(0, 0, math.NaN())
	if _, err := imp.Transform(test); err != nil {
		t.Fatal(err)
	}
	for j, m := range imp.Medians {
		if m != medians[j] {
			t.Errorf("median %d changed after Transform", j)
		}
	}
	if imp.Models[0].Trees[0] != firstTree {
		t.Error("column model replaced after Transform")
	}
}

func TestBaggedTreeImputer_Errors(t *testing.T) {
	imp := NewBaggedTreeImputer()
	if _, err := imp.Transform(mat.NewDense(1, 2, nil)); err == nil {
		t.Error("expected NotFittedError")
	}
	nan := math.NaN()
	X := mat.NewDense(3, 2, []float64{1, nan, 2, nan, 3, 1})
	if err := imp.Fit(X); err == nil {
		t.Error("expected error for column with one observed value")
	}
}

func TestMedian(t *testing.T) {
	nan := math.NaN()
	tests := []struct {
		in   []float64
		want float64
		n    int
	}{
		{[]float64{3, 1, 2}, 2, 3},
		{[]float64{4, nan, 1, 2, 3}, 2.5, 4},
		{[]float64{nan}, nan, 0},
	}
	for _, tt := range tests {
		got, n := median(tt.in)
		if n != tt.n || (got != tt.want && !(math.IsNaN(got) && math.IsNaN(tt.want))) {
			t.Errorf("median(%v) = %v,%d; want %v,%d", tt.in, got, n, tt.want, tt.n)
		}
	}
}
