// Package prior has Bayesian priors over model parameters, and the closed-form
// gaussian integral used to marginalize amplitudes out of a least-squares problem.
package prior

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
)

var (
	ErrDimension           = errors.New("prior: dimension mismatch")
	ErrNotPositiveDefinite = errors.New("prior: covariance not positive definite")
	ErrWeights             = errors.New("prior: bad weights")
	ErrSingular            = errors.New("prior: singular fisher matrix")
	ErrNoSamples           = errors.New("prior: no samples")
	ErrIndex               = errors.New("prior: parameter index out of range")
)

// A Component is one multivariate normal of a Mixture.
type Component struct {
	Weight float64
	Mu     []float64
	Sigma  *mat.SymDense

	normal *distmv.Normal
}

// Mixture is a weighted sum of multivariate normals. Weights are normalized to sum to 1.
type Mixture struct {
	dim        int
	components []Component
}

func NewMixture(dim int, comps []Component) (*Mixture, error) {
	if dim <= 0 || len(comps) == 0 {
		return nil, fmt.Errorf("mixture dim=%d with %d components: %w", dim, len(comps), ErrDimension)
	}

	m := Mixture{dim: dim}
	tot := 0.0
	for i, c := range comps {
		if len(c.Mu) != dim || c.Sigma == nil || c.Sigma.SymmetricDim() != dim {
			return nil, fmt.Errorf("component %d: %w", i, ErrDimension)
		}
		if !(c.Weight >= 0) || math.IsInf(c.Weight, 0) {
			return nil, fmt.Errorf("component %d weight %g: %w", i, c.Weight, ErrWeights)
		}
		nc, err := newComponent(c.Weight, c.Mu, c.Sigma)
		if err != nil {
			return nil, fmt.Errorf("component %d: %w", i, err)
		}
		m.components = append(m.components, nc)
		tot += c.Weight
	}
	if !(tot > 0) {
		return nil, fmt.Errorf("total weight %g: %w", tot, ErrWeights)
	}
	for i := range m.components {
		m.components[i].Weight /= tot
	}

	return &m, nil
}

func newComponent(w float64, mu []float64, sigma mat.Symmetric) (Component, error) {
	c := Component{
		Weight: w,
		Mu:     append([]float64{}, mu...),
		Sigma:  mat.NewSymDense(sigma.SymmetricDim(), nil),
	}
	c.Sigma.CopySym(sigma)
	normal, ok := distmv.NewNormal(c.Mu, c.Sigma, nil)
	if !ok {
		return Component{}, ErrNotPositiveDefinite
	}
	c.normal = normal
	return c, nil
}

func (m *Mixture) Dim() int { return m.dim }

// Components returns copies.
func (m *Mixture) Components() []Component {
	out := make([]Component, len(m.components))
	for i, c := range m.components {
		out[i] = Component{Weight: c.Weight, Mu: append([]float64{}, c.Mu...), Sigma: mat.NewSymDense(m.dim, nil)}
		out[i].Sigma.CopySym(c.Sigma)
	}
	return out
}

// Evaluate is the probability density at x.
func (m *Mixture) Evaluate(x []float64) float64 {
	return math.Exp(m.LogEvaluate(x))
}

func (m *Mixture) LogEvaluate(x []float64) float64 {
	if len(x) != m.dim {
		return math.Inf(-1)
	}
	terms := make([]float64, 0, len(m.components))
	for _, c := range m.components {
		if c.Weight == 0 {
			continue
		}
		terms = append(terms, math.Log(c.Weight)+c.normal.LogProb(x))
	}
	if len(terms) == 0 {
		return math.Inf(-1)
	}
	return floats.LogSumExp(terms)
}

// UpdateRestriction constrains the new means and covariances in an EM update.
type UpdateRestriction interface {
	Dim() int
	RestrictMu(mu []float64)
	RestrictSigma(sigma *mat.SymDense)
}

// UpdateEM does one expectation-maximization step with weighted samples. A nil
// weights means equal weights; a nil restriction means no constraints. Components that
// end up with no samples, or a degenerate covariance, keep their old shape.
func (m *Mixture) UpdateEM(samples [][]float64, weights []float64, restriction UpdateRestriction) error {
	n := len(samples)
	if n == 0 {
		return ErrNoSamples
	}
	if weights != nil && len(weights) != n {
		return fmt.Errorf("%d weights for %d samples: %w", len(weights), n, ErrDimension)
	}
	if restriction != nil && restriction.Dim() != m.dim {
		return fmt.Errorf("restriction dim %d vs mixture %d: %w", restriction.Dim(), m.dim, ErrDimension)
	}
	for i, s := range samples {
		if len(s) != m.dim {
			return fmt.Errorf("sample %d: %w", i, ErrDimension)
		}
	}

	// E step: responsibilities, in log space
	k := len(m.components)
	resp := mat.NewDense(n, k, nil)
	logs := make([]float64, k)
	for i, s := range samples {
		for j, c := range m.components {
			logs[j] = math.Log(c.Weight) + c.normal.LogProb(s)
		}
		norm := floats.LogSumExp(logs)
		sw := 1.0
		if weights != nil {
			sw = weights[i]
		}
		for j := range logs {
			r := 0.0
			if !math.IsInf(norm, -1) {
				r = math.Exp(logs[j]-norm) * sw
			}
			resp.Set(i, j, r)
		}
	}

	// M step
	totals := make([]float64, k)
	grand := 0.0
	for j := range totals {
		totals[j] = floats.Sum(mat.Col(nil, j, resp))
		grand += totals[j]
	}
	if !(grand > 0) {
		return fmt.Errorf("total responsibility %g: %w", grand, ErrWeights)
	}

	updated := make([]Component, k)
	for j, old := range m.components {
		if !(totals[j] > 0) {
			updated[j] = old
			updated[j].Weight = 0
			continue
		}

		mu := make([]float64, m.dim)
		for i, s := range samples {
			floats.AddScaled(mu, resp.At(i, j)/totals[j], s)
		}
		if restriction != nil {
			restriction.RestrictMu(mu)
		}

		sigma := mat.NewSymDense(m.dim, nil)
		d := mat.NewVecDense(m.dim, nil)
		for i, s := range samples {
			for a := range s {
				d.SetVec(a, s[a]-mu[a])
			}
			sigma.SymRankOne(sigma, resp.At(i, j)/totals[j], d)
		}
		if restriction != nil {
			restriction.RestrictSigma(sigma)
		}

		c, err := newComponent(totals[j]/grand, mu, sigma)
		if err != nil {
			c, err = newComponent(totals[j]/grand, mu, old.Sigma)
			if err != nil {
				updated[j] = old
				continue
			}
		}
		updated[j] = c
	}

	m.components = updated
	return nil
}

// EllipseUpdateRestriction is for mixtures over (e1, e2, r): it keeps the
// distribution symmetric under rotations of the ellipse, so zero mean ellipticity,
// equal e1 and e2 variances with no correlation between them, and one shared
// ellipticity-radius covariance.
type EllipseUpdateRestriction struct{}

func (EllipseUpdateRestriction) Dim() int { return 3 }

func (EllipseUpdateRestriction) RestrictMu(mu []float64) {
	mu[0] = 0
	mu[1] = 0
}

func (EllipseUpdateRestriction) RestrictSigma(sigma *mat.SymDense) {
	avg := 0.5 * (sigma.At(0, 0) + sigma.At(1, 1))
	sigma.SetSym(0, 0, avg)
	sigma.SetSym(1, 1, avg)
	sigma.SetSym(0, 1, 0)

	cross := 0.5 * (sigma.At(0, 2) + sigma.At(1, 2))
	sigma.SetSym(0, 2, cross)
	sigma.SetSym(1, 2, cross)
}
