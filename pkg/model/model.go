// Package model is the closed set of parametric source models, and their projections
// onto individual exposures.
//
// Every kind is a mixture of elliptical gaussians in sky coords, so convolving with a
// gaussian PSF is just adding covariances and everything is analytic. The kinds differ
// in which parameters they have and how linear parameters map onto mixture components.
package model

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/abworrall/multifit/pkg/emath"
	"github.com/abworrall/multifit/pkg/footprint"
	"github.com/abworrall/multifit/pkg/psf"
	"github.com/abworrall/multifit/pkg/wcs"
)

var (
	ErrParameterSize = errors.New("model: wrong number of parameters")
	ErrNonFinite     = errors.New("model: non-finite value")
	ErrBasis         = errors.New("model: bad ellipse basis")
)

type Kind int

const (
	PointSource Kind = iota
	SmallGalaxy
	EllipseBasis
)

func (k Kind) String() string {
	switch k {
	case PointSource:
		return "PointSource"
	case SmallGalaxy:
		return "SmallGalaxy"
	case EllipseBasis:
		return "EllipseBasis"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

const (
	footprintNSigma       = 4.0
	maxFootprintHalfWidth = 512
)

// Model is not safe for concurrent mutation. Anything caching values derived from
// it (projections, evaluators) has to be invalidated by whoever changes it.
type Model struct {
	kind    Kind
	linear  []float64
	center  emath.Vec2 // sky coords
	ellipse Ellipse    // sky coords; unused for point sources
	fixed   []float64

	// profiles[j] is the mixture scaled by linear parameter j
	profiles [][]profileComponent
}

func NewPointSource(flux float64, center emath.Vec2) *Model {
	return &Model{
		kind:     PointSource,
		linear:   []float64{flux},
		center:   center,
		profiles: [][]profileComponent{{{weight: 1, scale: 0}}},
	}
}

func NewSmallGalaxy(flux float64, center emath.Vec2, e Ellipse, sersicIndex float64) (*Model, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	comps, err := sersicMixture(sersicIndex)
	if err != nil {
		return nil, err
	}
	return &Model{
		kind:     SmallGalaxy,
		linear:   []float64{flux},
		center:   center,
		ellipse:  e,
		fixed:    []float64{sersicIndex},
		profiles: [][]profileComponent{comps},
	}, nil
}

// NewEllipseBasis has one circular-in-ellipse-units gaussian per radius, each with
// its own amplitude.
func NewEllipseBasis(amplitudes []float64, center emath.Vec2, e Ellipse, radii []float64) (*Model, error) {
	if len(radii) == 0 || len(radii) != len(amplitudes) {
		return nil, fmt.Errorf("%d amplitudes for %d radii: %w", len(amplitudes), len(radii), ErrBasis)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	m := Model{
		kind:    EllipseBasis,
		linear:  append([]float64{}, amplitudes...),
		center:  center,
		ellipse: e,
		fixed:   append([]float64{}, radii...),
	}
	for _, r := range radii {
		if !(r > 0) || math.IsInf(r, 0) {
			return nil, fmt.Errorf("basis radius %g: %w", r, ErrBasis)
		}
		m.profiles = append(m.profiles, []profileComponent{{weight: 1, scale: r}})
	}
	return &m, nil
}

func (m *Model) Kind() Kind         { return m.kind }
func (m *Model) Center() emath.Vec2 { return m.center }
func (m *Model) Ellipse() Ellipse   { return m.ellipse }

func (m *Model) LinearParameterSize() int { return len(m.linear) }
func (m *Model) FixedParameterSize() int  { return len(m.fixed) }
func (m *Model) NonlinearParameterSize() int {
	if m.kind == PointSource {
		return 2
	}
	return 5
}

func (m *Model) LinearParameters() []float64 { return append([]float64{}, m.linear...) }
func (m *Model) FixedParameters() []float64  { return append([]float64{}, m.fixed...) }

// NonlinearParameters are [x, y] for point sources, [x, y, e1, e2, r] otherwise.
func (m *Model) NonlinearParameters() []float64 {
	if m.kind == PointSource {
		return []float64{m.center[0], m.center[1]}
	}
	return []float64{m.center[0], m.center[1], m.ellipse.E1, m.ellipse.E2, m.ellipse.R}
}

func (m *Model) SetLinearParameters(p []float64) error {
	if len(p) != len(m.linear) {
		return fmt.Errorf("%s linear %d != %d: %w", m.kind, len(p), len(m.linear), ErrParameterSize)
	}
	copy(m.linear, p)
	return nil
}

// SetNonlinearParameters leaves the model untouched if the new values are invalid.
func (m *Model) SetNonlinearParameters(p []float64) error {
	if len(p) != m.NonlinearParameterSize() {
		return fmt.Errorf("%s nonlinear %d != %d: %w", m.kind, len(p), m.NonlinearParameterSize(), ErrParameterSize)
	}
	center := emath.Vec2{p[0], p[1]}
	if !center.IsFinite() {
		return fmt.Errorf("center %s: %w", center, ErrNonFinite)
	}
	if m.kind != PointSource {
		e := Ellipse{p[2], p[3], p[4]}
		if err := e.Validate(); err != nil {
			return err
		}
		m.ellipse = e
	}
	m.center = center
	return nil
}

func (m *Model) Clone() *Model {
	m2 := *m
	m2.linear = append([]float64{}, m.linear...)
	m2.fixed = append([]float64{}, m.fixed...)
	m2.profiles = append([][]profileComponent{}, m.profiles...)
	return &m2
}

func (m *Model) String() string {
	if m.kind == PointSource {
		return fmt.Sprintf("%s[flux=%.6g, center=%s]", m.kind, m.linear[0], m.center)
	}
	return fmt.Sprintf("%s[amps=%v, center=%s, %s, fixed=%v]", m.kind, m.linear, m.center, m.ellipse, m.fixed)
}

// ComputeProjectionFootprint is the pixel box the model should be evaluated over on an
// exposure with this PSF and WCS: the PSF kernel around the projected centre, widened
// to cover the broadest convolved component out to a few sigma.
func (m *Model) ComputeProjectionFootprint(p psf.PSF, w *wcs.WCS) *footprint.Footprint {
	g := m.geometry(p, w, false)
	if !g.center.IsFinite() {
		return footprint.New(nil)
	}

	kw, kh := p.Dimensions()
	hx, hy := kw/2, kh/2
	if m.kind != PointSource {
		for _, t := range g.terms {
			hx = max(hx, int(math.Ceil(footprintNSigma*math.Sqrt(t.cov[0]))))
			hy = max(hy, int(math.Ceil(footprintNSigma*math.Sqrt(t.cov[3]))))
		}
	}
	hx, hy = min(hx, maxFootprintHalfWidth), min(hy, maxFootprintHalfWidth)

	cx, cy := emath.RoundToInt(g.center[0]), emath.RoundToInt(g.center[1])
	return footprint.NewBox(image.Rect(cx-hx, cy-hy, cx+hx+1, cy+hy+1))
}

// MakeProjection binds the model to one exposure's PSF, WCS and (clipped) footprint.
// The projection reads the model's parameters each time it computes.
func (m *Model) MakeProjection(p psf.PSF, w *wcs.WCS, fp *footprint.Footprint) *Projection {
	return &Projection{
		model: m,
		psf:   p,
		wcs:   w,
		fp:    fp,
	}
}

// term is one gaussian of the convolved model in pixel coords: a profile component of
// linear parameter `param` convolved with one PSF component.
type term struct {
	param  int
	norm   float64 // weight / (2 pi sqrt(det cov))
	cov    emath.Mat2
	inv    emath.Mat2
	dcov   [3]emath.Mat2 // d(cov)/d(e1, e2, r)
	trInvD [3]float64    // tr(inv * dcov[k])
}

type geometry struct {
	center emath.Vec2 // pixel coords
	jac    emath.Mat2 // d(pixel)/d(sky)
	terms  []term
}

func (m *Model) geometry(p psf.PSF, w *wcs.WCS, withShapeDerivs bool) geometry {
	g := geometry{
		center: w.SkyToPixel(m.center),
		jac:    w.SkyToPixelLinear(),
	}

	var skyCov emath.Mat2
	var skyDCov [3]emath.Mat2
	if m.kind != PointSource {
		skyCov = m.ellipse.Covariance()
		if withShapeDerivs {
			skyDCov = m.ellipse.CovarianceDerivatives()
		}
	}
	pixCov := g.jac.Congruent(skyCov)

	for j, profile := range m.profiles {
		for _, pc := range profile {
			s2 := pc.scale * pc.scale
			for _, c := range p.Components() {
				t := term{param: j}
				t.cov = pixCov.Scale(s2).Add(c.Sigma)
				inv, ok := t.cov.Inverse()
				if !ok {
					continue
				}
				t.inv = inv
				t.norm = pc.weight * c.Weight / (2 * math.Pi * math.Sqrt(t.cov.Det()))
				if withShapeDerivs && m.kind != PointSource {
					for k := range skyDCov {
						t.dcov[k] = g.jac.Congruent(skyDCov[k]).Scale(s2)
						t.trInvD[k] = t.inv.Contract(t.dcov[k])
					}
				}
				g.terms = append(g.terms, t)
			}
		}
	}

	return g
}
