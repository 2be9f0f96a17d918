package gbm

// gradTarget adapts gradient/hessian statistics to the CART grower.
//
// For node statistics (n, G, H) the impurity is chosen so that the weighted
// impurity decrease equals the second-order split gain
//
//	0.5 * (GL²/(HL+λ) + GR²/(HR+λ) - G²/(H+λ))
//
// and the leaf value is the Newton step -G/(H+λ).
type gradTarget struct {
	grad, hess []float64
	lambda     float64
}

func (gradTarget) Width() int { return 3 }

func (t gradTarget) Accumulate(dst []float64, i int) {
	dst[0]++
	dst[1] += t.grad[i]
	dst[2] += t.hess[i]
}

func (gradTarget) Count(v []float64) float64 { return v[0] }

func (t gradTarget) Impurity(v []float64) float64 {
	if v[0] == 0 {
		return 0
	}
	return -0.5 * v[1] * v[1] / ((v[2] + t.lambda) * v[0])
}

func (t gradTarget) Pure(v []float64) bool {
	return v[2]+t.lambda <= 0
}

func (t gradTarget) Leaf(v []float64) []float64 {
	if v[2]+t.lambda <= 0 {
		return []float64{0}
	}
	return []float64{-v[1] / (v[2] + t.lambda)}
}
