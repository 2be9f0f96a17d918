package gbm

import (
	"bytes"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/sipredict/core/model"
)

// stripes: feature 0 は x>0.5 で陽性、feature 1 は無関係
func stripes(n int) (*mat.Dense, *mat.Dense) {
	X := mat.NewDense(n, 2, nil)
	y := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		x0 := float64(i) / float64(n)
		X.Set(i, 0, x0)
		X.Set(i, 1, float64((i*37)%n)/float64(n))
		if x0 > 0.5 {
			y.Set(i, 0, 1)
		}
	}
	return X, y
}

func TestClassifier_FitPredict(t *testing.T) {
	X, y := stripes(200)
	c := NewClassifier(WithNEstimators(50), WithSubsample(1), WithRandomState(3))
	if err := c.Fit(X, y); err != nil {
		t.Fatalf("Fit: %v", err)
	}

	pred, err := c.Predict(X)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	wrong := 0
	for i := 0; i < 200; i++ {
		if pred.At(i, 0) != y.At(i, 0) {
			wrong++
		}
	}
	if wrong > 0 {
		t.Errorf("%d training rows misclassified", wrong)
	}

	if first, last := c.TrainLoss[0], c.TrainLoss[len(c.TrainLoss)-1]; last >= first {
		t.Errorf("training loss did not decrease: %v -> %v", first, last)
	}

	imp, err := c.FeatureImportances()
	if err != nil {
		t.Fatalf("FeatureImportances: %v", err)
	}
	if imp[0] < 0.9 {
		t.Errorf("informative feature importance = %v, want > 0.9", imp[0])
	}
	if math.Abs(imp[0]+imp[1]-1) > 1e-9 {
		t.Errorf("importances sum to %v", imp[0]+imp[1])
	}
}

func TestClassifier_ProbabilitiesAndRaw(t *testing.T) {
	X, y := stripes(100)
	c := NewClassifier(WithNEstimators(20), WithMaxDepth(2), WithRandomState(1))
	if err := c.Fit(X, y); err != nil {
		t.Fatalf("Fit: %v", err)
	}
	proba, err := c.PredictProba(X)
	if err != nil {
		t.Fatalf("PredictProba: %v", err)
	}
	raw, _ := c.DecisionFunction(X)
	for i := 0; i < 100; i++ {
		p0, p1 := proba.At(i, 0), proba.At(i, 1)
		if math.Abs(p0+p1-1) > 1e-12 {
			t.Fatalf("row %d: probabilities sum to %v", i, p0+p1)
		}
		if math.Abs(p1-sigmoid(raw[i])) > 1e-12 {
			t.Fatalf("row %d: proba %v does not match raw score %v", i, p1, raw[i])
		}
	}
}

func TestClassifier_Deterministic(t *testing.T) {
	X, y := stripes(120)
	a := NewClassifier(WithNEstimators(30), WithRandomState(42))
	b := NewClassifier(WithNEstimators(30), WithRandomState(42))
	if err := a.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	if err := b.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	ra, _ := a.DecisionFunction(X)
	rb, _ := b.DecisionFunction(X)
	for i := range ra {
		if ra[i] != rb[i] {
			t.Fatalf("row %d differs: %v vs %v", i, ra[i], rb[i])
		}
	}
}

func TestClassifier_MissingValues(t *testing.T) {
	X, y := stripes(100)
	for i := 0; i < 100; i += 9 {
		X.Set(i, 1, math.NaN())
	}
	c := NewClassifier(WithNEstimators(10))
	if err := c.Fit(X, y); err != nil {
		t.Fatalf("Fit with NaN: %v", err)
	}
	test := mat.NewDense(1, 2, []float64{0.9, math.NaN()})
	p, err := c.PredictProba(test)
	if err != nil {
		t.Fatalf("PredictProba: %v", err)
	}
	if p.At(0, 1) <= 0.5 {
		t.Errorf("P(positive) = %v for x0=0.9", p.At(0, 1))
	}
}

func TestClassifier_Validation(t *testing.T) {
	X, y := stripes(20)
	tests := []struct {
		name string
		opt  Option
	}{
		{"rounds", WithNEstimators(0)},
		{"depth", WithMaxDepth(0)},
		{"rate", WithLearningRate(0)},
		{"subsample", WithSubsample(1.5)},
		{"lambda", WithLambda(-1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := NewClassifier(tt.opt).Fit(X, y); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	ones := mat.NewDense(20, 1, nil)
	for i := 0; i < 20; i++ {
		ones.Set(i, 0, 1)
	}
	if err := NewClassifier().Fit(X, ones); err == nil {
		t.Error("expected error for a single class")
	}
	if _, err := NewClassifier().Predict(X); err == nil {
		t.Error("expected not-fitted error")
	}
}

func TestClassifier_SetParams(t *testing.T) {
	c := NewClassifier()
	err := c.SetParams(map[string]interface{}{"n_trees": "150", "interaction_depth": 3, "shrinkage": 0.05})
	if err != nil {
		t.Fatalf("SetParams: %v", err)
	}
	if c.NEstimators != 150 || c.MaxDepth != 3 || c.LearningRate != 0.05 {
		t.Errorf("params not applied: %+v", c.GetParams())
	}
	if err := c.SetParams(map[string]interface{}{"bogus": 1}); err == nil {
		t.Error("expected error for unknown parameter")
	}
}

func TestClassifier_GobRoundTrip(t *testing.T) {
	X, y := stripes(60)
	var m model.Classifier = NewClassifier(WithNEstimators(10))
	if err := m.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := model.SaveModelToWriter(&m, &buf); err != nil {
		t.Fatalf("save: %v", err)
	}
	var loaded model.Classifier
	if err := model.LoadModelFromReader(&loaded, &buf); err != nil {
		t.Fatalf("load: %v", err)
	}
	want, _ := model.PositiveScores(m, X)
	got, err := model.PositiveScores(loaded, X)
	if err != nil {
		t.Fatal(err)
	}
	for i := range want {
		if want[i] != got[i] {
			t.Fatalf("row %d: %v != %v", i, got[i], want[i])
		}
	}
}
