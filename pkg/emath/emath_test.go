package emath

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAff3_InvertRoundTrip(t *testing.T) {
	m := Identity().Translate(10, -4).Rotate(30).Translate(-10, 4).Mult(LinearAff3(Mat2{2, 0.5, 0, 3}))
	inv, ok := m.Invert()
	require.True(t, ok)

	p := Vec2{7.5, -2.25}
	back := inv.Apply(m.Apply(p))
	assert.InDelta(t, p[0], back[0], 1e-12)
	assert.InDelta(t, p[1], back[1], 1e-12)
}

func TestAff3_InvertSingular(t *testing.T) {
	_, ok := LinearAff3(Mat2{1, 2, 2, 4}).Invert()
	assert.False(t, ok)
}

func TestMat2_Congruent(t *testing.T) {
	rot := Identity().Rotate(90).Linear()
	cov := Diag2(4, 1)
	got := rot.Congruent(cov)
	assert.InDelta(t, 1.0, got[0], 1e-12)
	assert.InDelta(t, 4.0, got[3], 1e-12)
	assert.InDelta(t, 0.0, got[1], 1e-12)
	assert.InDelta(t, cov.Det(), got.Det(), 1e-12)
}

func TestMat2_InverseAndQuadForm(t *testing.T) {
	m := Sym2(2, 3, 0.5)
	inv, ok := m.Inverse()
	require.True(t, ok)
	id := m.Mult(inv)
	assert.InDelta(t, 1.0, id[0], 1e-12)
	assert.InDelta(t, 0.0, id[1], 1e-12)
	assert.InDelta(t, 1.0, id[3], 1e-12)

	assert.InDelta(t, 2.0, m.QuadForm(Vec2{1, 0}), 1e-12)
	assert.True(t, m.IsPositiveDefinite())
	assert.False(t, Sym2(1, 1, 2).IsPositiveDefinite())
}

func TestFloatGrid_SubAndSum(t *testing.T) {
	a := NewFloatGrid(3, 2)
	a.Fill(2)
	b := NewFloatGrid(3, 2)
	b.Set(1, 1, 5)

	d, err := a.Sub(&b)
	require.NoError(t, err)
	assert.Equal(t, -3.0, d.Get(1, 1))
	assert.Equal(t, 12.0-5.0, d.Sum())

	c := NewFloatGrid(2, 3)
	_, err = a.Sub(&c)
	assert.Error(t, err)
}

func TestAllFinite(t *testing.T) {
	assert.True(t, AllFinite([]float64{1, 2, 3}))
	assert.False(t, AllFinite([]float64{1, math.NaN()}))
	assert.False(t, AllFinite([]float64{math.Inf(-1)}))
}
