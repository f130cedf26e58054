package model

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/abworrall/multifit/pkg/arena"
	"github.com/abworrall/multifit/pkg/emath"
	"github.com/abworrall/multifit/pkg/psf"
	"github.com/abworrall/multifit/pkg/wcs"
)

const pixScale = 0.0001

func testSetup(t *testing.T) (psf.PSF, *wcs.WCS) {
	t.Helper()
	p, err := psf.Create("DoubleGaussian", 19, 19, 2)
	require.NoError(t, err)
	w, err := wcs.New(emath.Vec2{35, 65}, emath.Vec2{0, 0}, emath.Diag2(pixScale, pixScale))
	require.NoError(t, err)
	return p, w
}

func modelImage(t *testing.T, m *Model, p psf.PSF, w *wcs.WCS, proj *Projection) []float64 {
	t.Helper()
	fresh := m.MakeProjection(p, w, proj.Footprint())
	img, err := fresh.ModelImage()
	require.NoError(t, err)
	return append([]float64{}, img...)
}

// Central differences of the model image against the analytic nonlinear derivative.
func checkNonlinearDerivative(t *testing.T, m *Model, steps []float64) {
	p, w := testSetup(t)
	proj := m.MakeProjection(p, w, m.ComputeProjectionFootprint(p, w))

	analytic, err := proj.NonlinearParameterDerivative()
	require.NoError(t, err)

	params := m.NonlinearParameters()
	for k, h := range steps {
		up, down := m.Clone(), m.Clone()
		pu := append([]float64{}, params...)
		pd := append([]float64{}, params...)
		pu[k] += h
		pd[k] -= h
		require.NoError(t, up.SetNonlinearParameters(pu))
		require.NoError(t, down.SetNonlinearParameters(pd))

		iu := modelImage(t, up, p, w, proj)
		id := modelImage(t, down, p, w, proj)

		row := mat.Row(nil, k, analytic)
		maxAbs := 0.0
		for _, v := range row {
			maxAbs = math.Max(maxAbs, math.Abs(v))
		}
		require.Greater(t, maxAbs, 0.0, "param %d has no effect", k)
		for i := range row {
			numeric := (iu[i] - id[i]) / (2 * h)
			assert.InDelta(t, numeric, row[i], 1e-5*maxAbs, "param %d pixel %d", k, i)
		}
	}
}

func TestPointSource_ImageSumsToFlux(t *testing.T) {
	p, w := testSetup(t)
	m := NewPointSource(34.45, emath.Vec2{35, 65})

	fp := m.ComputeProjectionFootprint(p, w)
	assert.Equal(t, 361, fp.NPix())

	img, err := m.MakeProjection(p, w, fp).ModelImage()
	require.NoError(t, err)
	sum := 0.0
	for _, v := range img {
		sum += v
	}
	assert.InDelta(t, 34.45, sum, 1e-2)
}

func TestPointSource_NonlinearDerivative(t *testing.T) {
	m := NewPointSource(34.45, emath.Vec2{35 + 0.3*pixScale, 65 - 0.2*pixScale})
	checkNonlinearDerivative(t, m, []float64{1e-3 * pixScale, 1e-3 * pixScale})
}

func TestSmallGalaxy_NonlinearDerivative(t *testing.T) {
	m, err := NewSmallGalaxy(100, emath.Vec2{35, 65}, Ellipse{0.2, -0.1, 2.5 * pixScale}, 1)
	require.NoError(t, err)
	checkNonlinearDerivative(t, m, []float64{1e-3 * pixScale, 1e-3 * pixScale, 1e-5, 1e-5, 1e-5 * pixScale})
}

func TestEllipseBasis_NonlinearDerivative(t *testing.T) {
	m, err := NewEllipseBasis([]float64{3, 1}, emath.Vec2{35, 65}, Ellipse{-0.3, 0.25, 2 * pixScale}, []float64{0.5, 1.5})
	require.NoError(t, err)
	checkNonlinearDerivative(t, m, []float64{1e-3 * pixScale, 1e-3 * pixScale, 1e-5, 1e-5, 1e-5 * pixScale})
}

func TestLinearDerivative_TimesAmplitudesIsModel(t *testing.T) {
	p, w := testSetup(t)
	m, err := NewEllipseBasis([]float64{3, 1.5, 0.5}, emath.Vec2{35, 65}, Ellipse{0.1, 0.1, 2 * pixScale}, []float64{0.5, 1, 2})
	require.NoError(t, err)

	proj := m.MakeProjection(p, w, m.ComputeProjectionFootprint(p, w))
	lin, err := proj.LinearParameterDerivative()
	require.NoError(t, err)
	img, err := proj.ModelImage()
	require.NoError(t, err)

	var got mat.VecDense
	got.MulVec(lin.T(), mat.NewVecDense(3, m.LinearParameters()))
	for i := range img {
		assert.InDelta(t, img[i], got.AtVec(i), 1e-12)
	}
}

func TestProjection_CachesUntilInvalidated(t *testing.T) {
	p, w := testSetup(t)
	m := NewPointSource(10, emath.Vec2{35, 65})
	proj := m.MakeProjection(p, w, m.ComputeProjectionFootprint(p, w))

	img, err := proj.ModelImage()
	require.NoError(t, err)
	before := img[180]
	assert.True(t, proj.IsValid(arena.ModelImage))

	require.NoError(t, m.SetLinearParameters([]float64{20}))
	img, err = proj.ModelImage()
	require.NoError(t, err)
	assert.Equal(t, before, img[180], "stale until invalidated")

	proj.Invalidate(arena.ModelImage)
	img, err = proj.ModelImage()
	require.NoError(t, err)
	assert.InDelta(t, 2*before, img[180], 1e-12)
}

func TestProjection_BindChecksWidth(t *testing.T) {
	p, w := testSetup(t)
	m := NewPointSource(10, emath.Vec2{35, 65})
	proj := m.MakeProjection(p, w, m.ComputeProjectionFootprint(p, w))

	a := arena.New(400, 1, 2)
	r, err := a.Range(0, 100)
	require.NoError(t, err)
	assert.Error(t, proj.Bind(a, r))

	r, err = a.Range(10, 361)
	require.NoError(t, err)
	require.NoError(t, proj.Bind(a, r))
	require.NoError(t, proj.ComputeModelImage())

	a.Release()
	proj.Invalidate()
	assert.ErrorIs(t, proj.ComputeModelImage(), arena.ErrReleased)
}

func TestModel_SetNonlinearRejectsBadEllipse(t *testing.T) {
	m, err := NewSmallGalaxy(1, emath.Vec2{1, 2}, Ellipse{0, 0, 1}, 1)
	require.NoError(t, err)

	err = m.SetNonlinearParameters([]float64{3, 4, 0.9, 0.9, 1})
	assert.True(t, errors.Is(err, ErrInvalidEllipse))
	assert.Equal(t, []float64{1, 2, 0, 0, 1}, m.NonlinearParameters())

	assert.ErrorIs(t, m.SetNonlinearParameters([]float64{1, 2}), ErrParameterSize)
	require.NoError(t, m.SetNonlinearParameters([]float64{3, 4, 0.1, 0, 2}))
	assert.Equal(t, Ellipse{0.1, 0, 2}, m.Ellipse())
}

func TestEllipse_CovarianceRoundTrip(t *testing.T) {
	e := Ellipse{0.3, -0.2, 1.7}
	cov := e.Covariance()
	assert.InDelta(t, math.Pow(1.7, 4), cov.Det(), 1e-9)

	back, err := EllipseFromCovariance(cov)
	require.NoError(t, err)
	assert.InDelta(t, e.E1, back.E1, 1e-12)
	assert.InDelta(t, e.E2, back.E2, 1e-12)
	assert.InDelta(t, e.R, back.R, 1e-12)

	_, err = EllipseFromCovariance(emath.Sym2(1, 1, 2))
	assert.ErrorIs(t, err, ErrInvalidEllipse)
}

func TestEllipse_CovarianceDerivatives(t *testing.T) {
	e := Ellipse{0.3, -0.2, 1.7}
	d := e.CovarianceDerivatives()
	h := 1e-6
	for k := 0; k < 3; k++ {
		up, down := e, e
		switch k {
		case 0:
			up.E1 += h
			down.E1 -= h
		case 1:
			up.E2 += h
			down.E2 -= h
		case 2:
			up.R += h
			down.R -= h
		}
		num := up.Covariance().Sub(down.Covariance()).Scale(1 / (2 * h))
		for i := 0; i < 4; i++ {
			assert.InDelta(t, num[i], d[k][i], 1e-6)
		}
	}
}

func TestSersicMixture(t *testing.T) {
	for _, n := range []float64{0.5, 1, 2.5, 4} {
		comps, err := sersicMixture(n)
		require.NoError(t, err, "n=%g", n)
		require.NotEmpty(t, comps)
		tot := 0.0
		for _, c := range comps {
			assert.Greater(t, c.weight, 0.0)
			assert.Greater(t, c.scale, 0.0)
			tot += c.weight
		}
		assert.InDelta(t, 1.0, tot, 1e-12)
	}

	_, err := sersicMixture(12)
	assert.ErrorIs(t, err, ErrSersicIndex)
	_, err = NewSmallGalaxy(1, emath.Vec2{}, Ellipse{0, 0, 1}, math.NaN())
	assert.ErrorIs(t, err, ErrSersicIndex)
}
