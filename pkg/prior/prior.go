package prior

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// A Prior is a density over nonlinear parameters and amplitudes. Marginalize returns
// the negative log of the likelihood times the prior, integrated over amplitudes,
// given the amplitude quadratic form of the likelihood (gradient g and fisher F, so
// that chisq/2 = r0/2 + g.a + a.F.a/2). The r0/2 term is left to the caller.
type Prior interface {
	Evaluate(params, amplitudes []float64) float64
	Marginalize(gradient *mat.VecDense, fisher *mat.SymDense, params []float64) (float64, error)
}

// MixturePrior puts a Mixture over a subset of the nonlinear parameters, and requires
// all amplitudes to be non-negative.
type MixturePrior struct {
	mixture *Mixture
	indices []int
}

// NewMixturePrior picks which nonlinear parameters the mixture is over; with no indices
// it's the first Dim() of them.
func NewMixturePrior(m *Mixture, indices ...int) (*MixturePrior, error) {
	if len(indices) == 0 {
		for i := 0; i < m.Dim(); i++ {
			indices = append(indices, i)
		}
	}
	if len(indices) != m.Dim() {
		return nil, fmt.Errorf("%d indices for a %d dim mixture: %w", len(indices), m.Dim(), ErrDimension)
	}
	for _, i := range indices {
		if i < 0 {
			return nil, fmt.Errorf("index %d: %w", i, ErrIndex)
		}
	}
	return &MixturePrior{mixture: m, indices: append([]int{}, indices...)}, nil
}

func (p *MixturePrior) Mixture() *Mixture { return p.mixture }
func (p *MixturePrior) Indices() []int    { return append([]int{}, p.indices...) }

func (p *MixturePrior) pick(params []float64) ([]float64, error) {
	x := make([]float64, len(p.indices))
	for i, idx := range p.indices {
		if idx >= len(params) {
			return nil, fmt.Errorf("index %d with %d params: %w", idx, len(params), ErrIndex)
		}
		x[i] = params[idx]
	}
	return x, nil
}

func (p *MixturePrior) Evaluate(params, amplitudes []float64) float64 {
	for _, a := range amplitudes {
		if a < 0 {
			return 0
		}
	}
	x, err := p.pick(params)
	if err != nil {
		return 0
	}
	return p.mixture.Evaluate(x)
}

// Marginalize ignores the non-negativity of the amplitudes; the integral is over all
// of them.
func (p *MixturePrior) Marginalize(gradient *mat.VecDense, fisher *mat.SymDense, params []float64) (float64, error) {
	ig, err := IntegrateGaussian(gradient, fisher)
	if err != nil {
		return 0, err
	}
	x, err := p.pick(params)
	if err != nil {
		return 0, err
	}
	return ig - p.mixture.LogEvaluate(x), nil
}

// IntegrateGaussian returns -log of the integral over a of exp(-g.a - a.F.a/2).
func IntegrateGaussian(gradient *mat.VecDense, fisher *mat.SymDense) (float64, error) {
	n := fisher.SymmetricDim()
	if gradient.Len() != n {
		return 0, fmt.Errorf("gradient %d vs fisher %d: %w", gradient.Len(), n, ErrDimension)
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(fisher); !ok {
		return 0, ErrSingular
	}
	var x mat.VecDense
	if err := chol.SolveVecTo(&x, gradient); err != nil {
		return 0, fmt.Errorf("%v: %w", err, ErrSingular)
	}
	q := mat.Dot(gradient, &x)

	return -0.5*q + 0.5*chol.LogDet() - 0.5*float64(n)*math.Log(2*math.Pi), nil
}
