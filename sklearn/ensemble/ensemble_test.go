package ensemble

import (
	"bytes"
	"math"
	"math/rand/v2"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/sipredict/core/model"
)

// twoBlobs は feature 0 で分離できる二値データを作る。feature 1, 2 はノイズ
func twoBlobs(n int, seed uint64) (*mat.Dense, *mat.Dense) {
	rng := rand.New(rand.NewPCG(seed, 1))
	X := mat.NewDense(n, 3, nil)
	y := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		cls := float64(i % 2)
		X.Set(i, 0, cls*3+rng.NormFloat64()*0.5)
		X.Set(i, 1, rng.NormFloat64())
		X.Set(i, 2, rng.NormFloat64())
		y.Set(i, 0, cls)
	}
	return X, y
}

func TestRandomForestClassifier_FitPredict(t *testing.T) {
	X, y := twoBlobs(200, 3)
	rf := NewRandomForestClassifier(WithNEstimators(50), WithRandomState(42), WithOOBScore(true))
	if err := rf.Fit(X, y); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	Xt, yt := twoBlobs(100, 4)
	pred, err := rf.Predict(Xt)
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	correct := 0
	for i := 0; i < 100; i++ {
		if pred.At(i, 0) == yt.At(i, 0) {
			correct++
		}
	}
	if correct < 90 {
		t.Errorf("test accuracy %d/100 is too low", correct)
	}
	if rf.OOBAccuracy < 0.85 {
		t.Errorf("OOB accuracy %v is too low", rf.OOBAccuracy)
	}

	imp, err := rf.FeatureImportances()
	if err != nil {
		t.Fatal(err)
	}
	if imp[0] <= imp[1] || imp[0] <= imp[2] {
		t.Errorf("feature 0 should dominate importances: %v", imp)
	}
}

func TestRandomForestClassifier_ProbabilitiesSumToOne(t *testing.T) {
	X, y := twoBlobs(60, 5)
	rf := NewRandomForestClassifier(WithNEstimators(20), WithRandomState(1))
	if err := rf.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	proba, err := rf.PredictProba(X)
	if err != nil {
		t.Fatal(err)
	}
	r, c := proba.Dims()
	if c != 2 {
		t.Fatalf("got %d columns, want 2", c)
	}
	for i := 0; i < r; i++ {
		if s := proba.At(i, 0) + proba.At(i, 1); math.Abs(s-1) > 1e-9 {
			t.Errorf("row %d sums to %v", i, s)
		}
	}
}

func TestRandomForestClassifier_DeterministicAcrossWorkers(t *testing.T) {
	X, y := twoBlobs(80, 6)
	fit := func(jobs int) mat.Matrix {
		rf := NewRandomForestClassifier(WithNEstimators(30), WithRandomState(9), WithNJobs(jobs))
		if err := rf.Fit(X, y); err != nil {
			t.Fatal(err)
		}
		p, err := rf.PredictProba(X)
		if err != nil {
			t.Fatal(err)
		}
		return p
	}
	if !mat.Equal(fit(1), fit(4)) {
		t.Error("probabilities depend on the number of workers")
	}
}

func TestRandomForestClassifier_NotFitted(t *testing.T) {
	rf := NewRandomForestClassifier()
	if _, err := rf.PredictProba(mat.NewDense(1, 1, nil)); err == nil {
		t.Error("expected NotFittedError")
	}
}

func TestRandomForestClassifier_GobRoundTrip(t *testing.T) {
	X, y := twoBlobs(40, 7)
	rf := NewRandomForestClassifier(WithNEstimators(10), WithRandomState(3))
	if err := rf.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	var c model.Classifier = rf
	if err := model.SaveModelToWriter(&c, &buf); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	var loaded model.Classifier
	if err := model.LoadModelFromReader(&loaded, &buf); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	a, _ := rf.PredictProba(X)
	b, err := loaded.(*RandomForestClassifier).PredictProba(X)
	if err != nil {
		t.Fatal(err)
	}
	if !mat.Equal(a, b) {
		t.Error("loaded forest predicts differently")
	}
}

func TestBaggingRegressor_FitPredict(t *testing.T) {
	rng := rand.New(rand.NewPCG(11, 0))
	n := 200
	X := mat.NewDense(n, 2, nil)
	y := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		a := rng.Float64() * 10
		X.Set(i, 0, a)
		X.Set(i, 1, rng.NormFloat64())
		y.Set(i, 0, 2*a)
	}
	X.Set(0, 0, math.NaN())

	b := NewBaggingRegressor(WithBaggingSeed(5))
	if err := b.Fit(X, y); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	if len(b.Trees) != 25 {
		t.Errorf("got %d trees, want 25", len(b.Trees))
	}
	pred, err := b.Predict(mat.NewDense(1, 2, []float64{5, 0}))
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(pred.At(0, 0)-10) > 1.5 {
		t.Errorf("prediction at 5 = %v, want about 10", pred.At(0, 0))
	}
	if math.IsNaN(b.OOBRMSE) || b.OOBRMSE > 2 {
		t.Errorf("OOB RMSE = %v", b.OOBRMSE)
	}
}
