package metrics

import (
	"math"
	"math/rand/v2"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestAUCScores(t *testing.T) {
	tests := []struct {
		name   string
		labels []bool
		scores []float64
		want   float64
	}{
		{"separated", []bool{false, false, true, true}, []float64{0.1, 0.2, 0.7, 0.9}, 1},
		{"inverted", []bool{false, false, true, true}, []float64{0.9, 0.7, 0.2, 0.1}, 0},
		{"one pair swapped", []bool{false, false, true, true}, []float64{0.1, 0.4, 0.35, 0.8}, 0.75},
		{"ties across classes count half", []bool{false, true, false, true}, []float64{0.2, 0.2, 0.1, 0.9}, 0.875},
		{"hard labels", []bool{false, false, true, true}, []float64{0, 1, 1, 1}, 0.75},
		{"constant scores", []bool{false, true, false, true}, []float64{0.5, 0.5, 0.5, 0.5}, 0.5},
		{"single class", []bool{true, true, true}, []float64{0.1, 0.5, 0.9}, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := AUCScores(tt.labels, tt.scores)
			if err != nil {
				t.Fatalf("AUCScores() error = %v", err)
			}
			if math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("AUCScores() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAUCScoresErrors(t *testing.T) {
	if _, err := AUCScores(nil, nil); err == nil {
		t.Error("expected error for empty input")
	}
	if _, err := AUCScores([]bool{true, false}, []float64{1}); err == nil {
		t.Error("expected dimension error")
	}
}

func TestAccuracy(t *testing.T) {
	tests := []struct {
		name    string
		yTrue   *mat.VecDense
		yPred   *mat.VecDense
		want    float64
		wantErr bool
	}{
		{
			name:  "all correct",
			yTrue: mat.NewVecDense(3, []float64{0, 1, 1}),
			yPred: mat.NewVecDense(3, []float64{0, 1, 1}),
			want:  1,
		},
		{
			name:  "half correct",
			yTrue: mat.NewVecDense(4, []float64{0, 1, 0, 1}),
			yPred: mat.NewVecDense(4, []float64{0, 0, 1, 1}),
			want:  0.5,
		},
		{
			name:    "nil",
			yTrue:   mat.NewVecDense(2, []float64{0, 1}),
			wantErr: true,
		},
		{
			name:    "length mismatch",
			yTrue:   mat.NewVecDense(2, []float64{0, 1}),
			yPred:   mat.NewVecDense(3, []float64{0, 1, 1}),
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Accuracy(tt.yTrue, tt.yPred)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Accuracy() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("Accuracy() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBinaryLogLoss(t *testing.T) {
	y := mat.NewVecDense(2, []float64{1, 0})
	got, err := BinaryLogLoss(y, mat.NewVecDense(2, []float64{0.8, 0.4}))
	if err != nil {
		t.Fatal(err)
	}
	want := -(math.Log(0.8) + math.Log(0.6)) / 2
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("BinaryLogLoss() = %v, want %v", got, want)
	}

	// 0 と 1 はクリップされて有限になる
	got, err = BinaryLogLoss(y, mat.NewVecDense(2, []float64{0, 1}))
	if err != nil {
		t.Fatal(err)
	}
	if math.IsInf(got, 0) || got < 30 {
		t.Errorf("clipped loss = %v, want large finite value", got)
	}

	if _, err := BinaryLogLoss(mat.NewVecDense(1, []float64{2}), mat.NewVecDense(1, []float64{0.5})); err == nil {
		t.Error("expected error for non-binary label")
	}
}

func TestLogLossScores(t *testing.T) {
	got, err := LogLossScores([]bool{true, false, true}, []float64{0.9, 0.2, 0.6})
	if err != nil {
		t.Fatal(err)
	}
	want := -(math.Log(0.9) + math.Log(0.8) + math.Log(0.6)) / 3
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("LogLossScores() = %v, want %v", got, want)
	}
	if _, err := LogLossScores([]bool{true}, []float64{0.1, 0.2}); err == nil {
		t.Error("expected dimension error")
	}
}

func TestBrierScore(t *testing.T) {
	tests := []struct {
		name   string
		labels []bool
		scores []float64
		want   float64
	}{
		{"probabilities", []bool{true, false}, []float64{0.8, 0.4}, (0.04 + 0.16) / 2},
		{"hard labels give error rate", []bool{true, false, true, false}, []float64{1, 1, 0, 0}, 0.5},
		{"perfect", []bool{true, false}, []float64{1, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BrierScore(tt.labels, tt.scores)
			if err != nil {
				t.Fatal(err)
			}
			if math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("BrierScore() = %v, want %v", got, tt.want)
			}
		})
	}
	if _, err := BrierScore(nil, nil); err == nil {
		t.Error("expected error for empty input")
	}
}

func BenchmarkAUCScores(b *testing.B) {
	rng := rand.New(rand.NewPCG(1, 2))
	n := 10000
	labels := make([]bool, n)
	scores := make([]float64, n)
	for i := range labels {
		labels[i] = rng.IntN(2) == 1
		scores[i] = rng.Float64()
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = AUCScores(labels, scores)
	}
}
