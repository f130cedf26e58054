package exposure

import (
	"errors"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abworrall/multifit/pkg/emath"
	"github.com/abworrall/multifit/pkg/psf"
	"github.com/abworrall/multifit/pkg/wcs"
)

func TestMask_PlaneBitMask(t *testing.T) {
	m := NewMask(4, 4)
	bits, err := m.PlaneBitMask(BadPixelPlanes...)
	require.NoError(t, err)
	assert.Equal(t, MaskPixel(0x1f), bits)

	_, err = m.PlaneBitMask("BAD", "NOPE")
	assert.True(t, errors.Is(err, ErrUnknownPlane))

	b, err := m.AddPlane("NOPE")
	require.NoError(t, err)
	assert.Equal(t, 6, b)
	bits, err = m.PlaneBitMask("NOPE")
	require.NoError(t, err)
	assert.Equal(t, MaskPixel(1<<6), bits)
}

func TestMaskedImage_ParentCoords(t *testing.T) {
	mi := NewMaskedImage(image.Rect(-9, -9, 10, 10))
	assert.Equal(t, image.Rect(-9, -9, 10, 10), mi.Bounds())

	mi.SetImage(-9, -9, 3)
	mi.SetVariance(9, 9, 0.25)
	mi.Mask.Set(0, 0, 1)
	assert.Equal(t, 3.0, mi.Image.Get(0, 0))
	assert.Equal(t, 0.25, mi.VarianceAt(9, 9))
	assert.Equal(t, MaskPixel(1), mi.MaskAt(-9, -9))
	require.NoError(t, mi.Validate())
}

func TestExposure_Validate(t *testing.T) {
	mi := NewMaskedImage(image.Rect(0, 0, 5, 5))
	e := New(mi, nil, nil)
	assert.True(t, errors.Is(e.Validate(), ErrNoPSF))

	p, err := psf.NewDoubleGaussian(5, 5, 1, 0, 0)
	require.NoError(t, err)
	e.PSF = p
	assert.True(t, errors.Is(e.Validate(), ErrNoWCS))

	e.WCS, err = wcs.New(emath.Vec2{}, emath.Vec2{}, emath.Diag2(1, 1))
	require.NoError(t, err)
	require.NoError(t, e.Validate())

	e.Variance = emath.NewFloatGrid(4, 5)
	assert.True(t, errors.Is(e.Validate(), ErrSizeMismatch))
}
