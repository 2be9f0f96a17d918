package svm

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/YuminosukeSato/sipredict/pkg/errors"
)

// Kernel names accepted by SVC.
const (
	KernelLinear = "linear"
	KernelRBF    = "rbf"
	KernelPoly   = "poly"
)

// kernelFunc evaluates k(a, b).
type kernelFunc func(a, b []float64) float64

func (s *SVC) kernel(nFeatures int) (kernelFunc, error) {
	switch s.Kernel {
	case KernelLinear:
		return floats.Dot, nil
	case KernelRBF:
		gamma := s.Gamma
		if gamma <= 0 {
			gamma = 1 / float64(nFeatures)
		}
		return func(a, b []float64) float64 {
			d := 0.0
			for k := range a {
				t := a[k] - b[k]
				d += t * t
			}
			return math.Exp(-gamma * d)
		}, nil
	case KernelPoly:
		if s.Degree < 1 {
			return nil, errors.NewValidationError("degree", "must be at least 1", s.Degree)
		}
		scale, offset, degree := s.Scale, s.Offset, float64(s.Degree)
		return func(a, b []float64) float64 {
			return math.Pow(scale*floats.Dot(a, b)+offset, degree)
		}, nil
	default:
		return nil, errors.NewValidationError("kernel", "must be linear, rbf or poly", s.Kernel)
	}
}
