package multifit

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// scaledCholesky factorizes a normal matrix after scaling it to unit diagonal, so the
// condition number check doesn't care what units the parameters are in (sky
// coords are tiny, fluxes are not).
type scaledCholesky struct {
	chol  mat.Cholesky
	scale []float64 // 1/sqrt(diag)
}

func factorize(h mat.Symmetric, condMax float64) (*scaledCholesky, error) {
	n := h.SymmetricDim()
	sc := scaledCholesky{scale: make([]float64, n)}
	for i := range sc.scale {
		d := h.At(i, i)
		if !(d > 0) || math.IsInf(d, 0) {
			return nil, fmt.Errorf("diagonal %d is %g: %w", i, d, ErrSingular)
		}
		sc.scale[i] = 1 / math.Sqrt(d)
	}

	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s.SetSym(i, j, h.At(i, j)*sc.scale[i]*sc.scale[j])
		}
	}

	if ok := sc.chol.Factorize(s); !ok {
		return nil, fmt.Errorf("not positive definite: %w", ErrSingular)
	}
	if c := sc.chol.Cond(); math.IsNaN(c) || c > condMax {
		return nil, fmt.Errorf("condition number %g: %w", c, ErrSingular)
	}
	return &sc, nil
}

// Solve returns x with H x = b.
func (sc *scaledCholesky) Solve(b mat.Vector) (*mat.VecDense, error) {
	n := len(sc.scale)
	sb := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		sb.SetVec(i, b.AtVec(i)*sc.scale[i])
	}
	var y mat.VecDense
	if err := sc.chol.SolveVecTo(&y, sb); err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrSingular)
	}
	for i := 0; i < n; i++ {
		y.SetVec(i, y.AtVec(i)*sc.scale[i])
	}
	return &y, nil
}

// Inverse returns H^-1.
func (sc *scaledCholesky) Inverse() (*mat.SymDense, error) {
	var inv mat.SymDense
	if err := sc.chol.InverseTo(&inv); err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrSingular)
	}
	n := len(sc.scale)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			inv.SetSym(i, j, inv.At(i, j)*sc.scale[i]*sc.scale[j])
		}
	}
	return &inv, nil
}

// damped returns H with its diagonal scaled by (1+lambda).
func damped(h *mat.SymDense, lambda float64) *mat.SymDense {
	n := h.SymmetricDim()
	hd := mat.NewSymDense(n, nil)
	hd.CopySym(h)
	for i := 0; i < n; i++ {
		hd.SetSym(i, i, h.At(i, i)*(1+lambda))
	}
	return hd
}

// stackRows puts the rows of a on top of the rows of b.
func stackRows(a, b *mat.Dense) *mat.Dense {
	ra, c := a.Dims()
	rb, _ := b.Dims()
	out := mat.NewDense(ra+rb, c, nil)
	out.Slice(0, ra, 0, c).(*mat.Dense).Copy(a)
	out.Slice(ra, ra+rb, 0, c).(*mat.Dense).Copy(b)
	return out
}

func sqrtOrNaN(v float64) float64 {
	if v < 0 {
		return math.NaN()
	}
	return math.Sqrt(v)
}
