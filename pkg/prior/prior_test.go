package prior

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/abworrall/multifit/pkg/archive"
)

func oneD(t *testing.T, comps ...[3]float64) *Mixture {
	cs := []Component{}
	for _, c := range comps {
		cs = append(cs, Component{Weight: c[0], Mu: []float64{c[1]}, Sigma: mat.NewSymDense(1, []float64{c[2]})})
	}
	m, err := NewMixture(1, cs)
	require.NoError(t, err)
	return m
}

func TestMixtureEvaluate(t *testing.T) {
	m := oneD(t, [3]float64{3, 0, 1})
	assert.InDelta(t, 1/math.Sqrt(2*math.Pi), m.Evaluate([]float64{0}), 1e-12)
	assert.InDelta(t, 1.0, m.Components()[0].Weight, 1e-12, "weights normalized")

	m2 := oneD(t, [3]float64{1, -1, 1}, [3]float64{1, 1, 1})
	want := 0.5*math.Exp(-0.5)/math.Sqrt(2*math.Pi) + 0.5*math.Exp(-0.5)/math.Sqrt(2*math.Pi)
	assert.InDelta(t, want, m2.Evaluate([]float64{0}), 1e-12)
	assert.InDelta(t, math.Log(want), m2.LogEvaluate([]float64{0}), 1e-12)

	assert.Equal(t, math.Inf(-1), m2.LogEvaluate([]float64{0, 1}))
}

func TestNewMixtureErrors(t *testing.T) {
	_, err := NewMixture(1, nil)
	assert.ErrorIs(t, err, ErrDimension)

	_, err = NewMixture(1, []Component{{Weight: 1, Mu: []float64{0}, Sigma: mat.NewSymDense(1, []float64{-1})}})
	assert.ErrorIs(t, err, ErrNotPositiveDefinite)

	_, err = NewMixture(1, []Component{{Weight: 0, Mu: []float64{0}, Sigma: mat.NewSymDense(1, []float64{1})}})
	assert.ErrorIs(t, err, ErrWeights)

	_, err = NewMixture(2, []Component{{Weight: 1, Mu: []float64{0}, Sigma: mat.NewSymDense(1, []float64{1})}})
	assert.ErrorIs(t, err, ErrDimension)
}

func TestUpdateEMSingleComponent(t *testing.T) {
	m := oneD(t, [3]float64{1, 10, 4})
	samples := [][]float64{{1}, {3}}
	require.NoError(t, m.UpdateEM(samples, nil, nil))

	c := m.Components()[0]
	assert.InDelta(t, 2.0, c.Mu[0], 1e-12)
	assert.InDelta(t, 1.0, c.Sigma.At(0, 0), 1e-12)

	// Sample weights
	require.NoError(t, m.UpdateEM(samples, []float64{3, 1}, nil))
	c = m.Components()[0]
	assert.InDelta(t, 1.5, c.Mu[0], 1e-12)
	assert.InDelta(t, 0.75, c.Sigma.At(0, 0), 1e-12)

	assert.ErrorIs(t, m.UpdateEM(nil, nil, nil), ErrNoSamples)
	assert.ErrorIs(t, m.UpdateEM(samples, []float64{1}, nil), ErrDimension)
}

func TestEllipseUpdateRestriction(t *testing.T) {
	sigma := mat.NewSymDense(3, []float64{
		1, 0.3, 0.2,
		0.3, 3, 0.4,
		0.2, 0.4, 5,
	})
	mu := []float64{0.1, -0.2, 2}

	r := EllipseUpdateRestriction{}
	r.RestrictMu(mu)
	r.RestrictSigma(sigma)

	assert.Equal(t, []float64{0, 0, 2}, mu)
	assert.InDelta(t, 2.0, sigma.At(0, 0), 1e-12)
	assert.InDelta(t, 2.0, sigma.At(1, 1), 1e-12)
	assert.Equal(t, 0.0, sigma.At(0, 1))
	assert.InDelta(t, 0.3, sigma.At(0, 2), 1e-12)
	assert.InDelta(t, 0.3, sigma.At(2, 1), 1e-12)
	assert.Equal(t, 5.0, sigma.At(2, 2))

	m, err := NewMixture(3, []Component{{Weight: 1, Mu: []float64{0, 0, 1}, Sigma: mat.NewSymDense(3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})}})
	require.NoError(t, err)
	samples := [][]float64{{0.2, 0.1, 1}, {-0.1, 0.3, 2}, {0.3, -0.2, 1.5}, {0, 0.1, 0.5}}
	require.NoError(t, m.UpdateEM(samples, nil, r))
	c := m.Components()[0]
	assert.Equal(t, 0.0, c.Mu[0])
	assert.Equal(t, 0.0, c.Mu[1])
	assert.InDelta(t, c.Sigma.At(0, 0), c.Sigma.At(1, 1), 1e-12)

	assert.ErrorIs(t, oneD(t, [3]float64{1, 0, 1}).UpdateEM([][]float64{{1}}, nil, r), ErrDimension)
}

func TestIntegrateGaussian(t *testing.T) {
	// Integral of exp(-a - a^2) is sqrt(pi) exp(1/4)
	v, err := IntegrateGaussian(mat.NewVecDense(1, []float64{1}), mat.NewSymDense(1, []float64{2}))
	require.NoError(t, err)
	assert.InDelta(t, -0.25-0.5*math.Log(math.Pi), v, 1e-12)

	// Separable 2D case is the sum of two 1D ones
	v2, err := IntegrateGaussian(mat.NewVecDense(2, []float64{1, 0}), mat.NewSymDense(2, []float64{2, 0, 0, 1}))
	require.NoError(t, err)
	assert.InDelta(t, v-0.5*math.Log(2*math.Pi), v2, 1e-12)

	_, err = IntegrateGaussian(mat.NewVecDense(1, []float64{1}), mat.NewSymDense(1, []float64{0}))
	assert.ErrorIs(t, err, ErrSingular)
}

func TestMixturePrior(t *testing.T) {
	m := oneD(t, [3]float64{1, 2, 1})
	p, err := NewMixturePrior(m, 1)
	require.NoError(t, err)

	params := []float64{99, 2}
	assert.InDelta(t, 1/math.Sqrt(2*math.Pi), p.Evaluate(params, []float64{1, 0}), 1e-12)
	assert.Equal(t, 0.0, p.Evaluate(params, []float64{1, -0.1}), "negative amplitude")
	assert.Equal(t, 0.0, p.Evaluate([]float64{1}, nil), "index out of range")

	g := mat.NewVecDense(1, []float64{1})
	f := mat.NewSymDense(1, []float64{2})
	ig, _ := IntegrateGaussian(g, f)
	marg, err := p.Marginalize(g, f, params)
	require.NoError(t, err)
	assert.InDelta(t, ig-m.LogEvaluate([]float64{2}), marg, 1e-12)

	_, err = NewMixturePrior(m, 0, 1)
	assert.ErrorIs(t, err, ErrDimension)
}

func TestPersistence(t *testing.T) {
	m, err := NewMixture(2, []Component{
		{Weight: 1, Mu: []float64{0, 1}, Sigma: mat.NewSymDense(2, []float64{1, 0.5, 0.5, 2})},
		{Weight: 3, Mu: []float64{-1, 0.25}, Sigma: mat.NewSymDense(2, []float64{0.5, 0, 0, 0.5})},
	})
	require.NoError(t, err)
	p, err := NewMixturePrior(m, 3, 4)
	require.NoError(t, err)

	out := archive.NewOutputArchive()
	id, err := out.Put(p)
	require.NoError(t, err)
	buf := bytes.Buffer{}
	require.NoError(t, out.Encode(&buf))

	reg := archive.NewRegistry()
	require.NoError(t, RegisterFactories(reg))
	in, err := archive.Decode(&buf, reg)
	require.NoError(t, err)

	obj, err := in.Get(id)
	require.NoError(t, err)
	got := obj.(*MixturePrior)
	assert.Equal(t, []int{3, 4}, got.Indices())

	x := []float64{-0.5, 0.5}
	assert.InDelta(t, m.Evaluate(x), got.Mixture().Evaluate(x), 1e-12)
	want := m.Components()
	for i, c := range got.Mixture().Components() {
		assert.InDelta(t, want[i].Weight, c.Weight, 1e-12)
		assert.Equal(t, want[i].Mu, c.Mu)
		assert.True(t, mat.EqualApprox(want[i].Sigma, c.Sigma, 1e-12))
	}
}
