package model

import (
	"errors"
	"fmt"
	"math"

	"github.com/abworrall/multifit/pkg/emath"
)

var ErrInvalidEllipse = errors.New("model: invalid ellipse")

// Ellipse is the (e1, e2, r) parametrisation of a 2x2 covariance:
//
//	r^2/sqrt(1-e^2) * [[1+e1, e2], [e2, 1-e1]]
//
// with e^2 = e1^2 + e2^2 < 1. The determinant is r^4, so r is the geometric-mean radius.
type Ellipse struct {
	E1, E2, R float64
}

func (e Ellipse) Validate() error {
	if math.IsNaN(e.E1) || math.IsNaN(e.E2) || math.IsNaN(e.R) {
		return fmt.Errorf("%s: %w", e, ErrInvalidEllipse)
	}
	if e.E1*e.E1+e.E2*e.E2 >= 1 || e.R <= 0 || math.IsInf(e.R, 0) {
		return fmt.Errorf("%s: %w", e, ErrInvalidEllipse)
	}
	return nil
}

// Covariance assumes the ellipse is valid.
func (e Ellipse) Covariance() emath.Mat2 {
	f := 1.0 / math.Sqrt(1-e.E1*e.E1-e.E2*e.E2)
	r2 := e.R * e.R
	return emath.Sym2(r2*f*(1+e.E1), r2*f*(1-e.E1), r2*f*e.E2)
}

// CovarianceDerivatives is d(Covariance)/d(e1, e2, r).
func (e Ellipse) CovarianceDerivatives() [3]emath.Mat2 {
	f := 1.0 / math.Sqrt(1-e.E1*e.E1-e.E2*e.E2)
	f3 := f * f * f
	r2 := e.R * e.R
	a := emath.Sym2(1+e.E1, 1-e.E1, e.E2)

	return [3]emath.Mat2{
		a.Scale(r2 * e.E1 * f3).Add(emath.Diag2(1, -1).Scale(r2 * f)),
		a.Scale(r2 * e.E2 * f3).Add(emath.Sym2(0, 0, 1).Scale(r2 * f)),
		a.Scale(2 * e.R * f),
	}
}

// EllipseFromCovariance inverts Covariance; the matrix must be symmetric positive definite.
func EllipseFromCovariance(m emath.Mat2) (Ellipse, error) {
	if !m.IsFinite() || !m.IsPositiveDefinite() {
		return Ellipse{}, fmt.Errorf("covariance %v: %w", [4]float64(m), ErrInvalidEllipse)
	}
	tr := m.Trace()
	e := Ellipse{
		E1: (m[0] - m[3]) / tr,
		E2: 2 * m[1] / tr,
		R:  math.Pow(m.Det(), 0.25),
	}
	return e, e.Validate()
}

func (e Ellipse) String() string {
	return fmt.Sprintf("ellipse[e1=%.4g, e2=%.4g, r=%.4g]", e.E1, e.E2, e.R)
}
