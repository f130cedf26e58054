package synth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abworrall/multifit/pkg/emath"
	"github.com/abworrall/multifit/pkg/exposure"
	"github.com/abworrall/multifit/pkg/model"
)

func TestExposureHoldsModelFlux(t *testing.T) {
	m := model.NewPointSource(34.45, emath.Vec2{35, 65})
	opts := DefaultOptions()
	opts.Background = 1

	exp, err := Exposure(m, opts)
	require.NoError(t, err)
	require.NoError(t, exp.Validate())

	assert.Equal(t, 64, exp.Image.Dx())
	assert.True(t, exp.Bounds().Min.X < 0 && exp.Bounds().Max.X > 0, "centred on pixel 0")

	sum := exp.Image.Sum() - float64(64*64)
	assert.InDelta(t, 34.45, sum, 0.01)
	assert.Equal(t, 0.25, exp.VarianceAt(0, 0))
}

func TestStackNoiseIsSeeded(t *testing.T) {
	m := model.NewPointSource(10, emath.Vec2{35, 65})
	opts := DefaultOptions()
	opts.Noise = true
	opts.Seed = 42

	a, err := Stack(m, 2, opts)
	require.NoError(t, err)
	b, err := Stack(m, 2, opts)
	require.NoError(t, err)

	assert.Equal(t, a[0].Image.Values(), b[0].Image.Values())
	assert.NotEqual(t, a[0].Image.Values(), a[1].Image.Values())
	assert.Equal(t, "synth-001", a[1].Filename)
}

func TestMaskAll(t *testing.T) {
	exp, err := Exposure(model.NewPointSource(1, emath.Vec2{35, 65}), DefaultOptions())
	require.NoError(t, err)
	require.NoError(t, MaskAll(exp, "BAD"))

	bad, _ := exp.Mask.PlaneBitMask("BAD")
	assert.Equal(t, bad, exp.MaskAt(0, 0))
	assert.ErrorIs(t, MaskAll(exp, "NOPE"), exposure.ErrUnknownPlane)
}
