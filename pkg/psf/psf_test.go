package psf

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoubleGaussian_SingleWhenSigma2Zero(t *testing.T) {
	p, err := Create("DoubleGaussian", 19, 19, 2)
	require.NoError(t, err)

	comps := p.Components()
	require.Len(t, comps, 1)
	assert.Equal(t, 1.0, comps[0].Weight)
	assert.Equal(t, 4.0, comps[0].Sigma[0])
	assert.Equal(t, 4.0, comps[0].Sigma[3])

	w, h := p.Dimensions()
	assert.Equal(t, 19, w)
	assert.Equal(t, 19, h)
}

func TestDoubleGaussian_Weights(t *testing.T) {
	p, err := NewDoubleGaussian(21, 21, 1, 3, 0.1)
	require.NoError(t, err)

	comps := p.Components()
	require.Len(t, comps, 2)
	assert.InDelta(t, 1.0, comps[0].Weight+comps[1].Weight, 1e-12)
	// 0.1*9 vs 1
	assert.InDelta(t, 0.9/1.9, comps[1].Weight, 1e-12)
}

func TestKernel_UnitSum(t *testing.T) {
	p, err := NewDoubleGaussian(31, 31, 1.5, 3, 0.2)
	require.NoError(t, err)

	k := Kernel(p)
	assert.InDelta(t, 1.0, k.Sum(), 1e-3)
	assert.Greater(t, k.Get(15, 15), k.Get(14, 15))
}

func TestCreate_Errors(t *testing.T) {
	_, err := Create("Moffat", 19, 19, 2)
	assert.True(t, errors.Is(err, ErrUnknownPSF))

	_, err = Create("DoubleGaussian", 19, 19, -1)
	assert.True(t, errors.Is(err, ErrBadSigma))

	_, err = Create("SingleGaussian", 0, 19, 1)
	assert.True(t, errors.Is(err, ErrBadKernel))
}

func TestMoments(t *testing.T) {
	p, err := NewDoubleGaussian(19, 19, 1, 2, 1)
	require.NoError(t, err)

	// weights 1/5 and 4/5
	m := Moments(p)
	assert.InDelta(t, 0.2*1+0.8*4, m[0], 1e-12)
	assert.InDelta(t, 0.0, m[1], 1e-12)
}
