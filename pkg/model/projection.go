package model

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/abworrall/multifit/pkg/arena"
	"github.com/abworrall/multifit/pkg/emath"
	"github.com/abworrall/multifit/pkg/footprint"
	"github.com/abworrall/multifit/pkg/psf"
	"github.com/abworrall/multifit/pkg/wcs"
)

// A Projection is a model seen through one exposure: its PSF, its WCS, and the
// footprint of pixels it covers. It writes its model image and derivatives into a
// window of an arena, and remembers which of those are up to date.
type Projection struct {
	model *Model
	psf   psf.PSF
	wcs   *wcs.WCS
	fp    *footprint.Footprint

	buffers *arena.Arena
	rng     arena.Range
	valid   arena.Validity
}

func (p *Projection) Footprint() *footprint.Footprint { return p.fp }
func (p *Projection) PSF() psf.PSF                    { return p.psf }
func (p *Projection) WCS() *wcs.WCS                   { return p.wcs }
func (p *Projection) Model() *Model                   { return p.model }

// Bind points all three outputs at window r of arena a. The window must be exactly
// as wide as the footprint. Binding forgets anything previously computed.
func (p *Projection) Bind(a *arena.Arena, r arena.Range) error {
	if r.Len != p.fp.NPix() {
		return fmt.Errorf("bind %s to %s: %w", p.fp, r, footprint.ErrLength)
	}
	if a.LinearParameterSize() != p.model.LinearParameterSize() || a.NonlinearParameterSize() != p.model.NonlinearParameterSize() {
		return fmt.Errorf("bind %s: arena sized for %d/%d params: %w", p.model.kind,
			a.LinearParameterSize(), a.NonlinearParameterSize(), ErrParameterSize)
	}
	p.buffers, p.rng = a, r
	p.valid.Reset()
	return nil
}

// A projection that nobody bound gets its own little arena.
func (p *Projection) ensureBound() error {
	if p.buffers != nil {
		return nil
	}
	a := arena.New(p.fp.NPix(), p.model.LinearParameterSize(), p.model.NonlinearParameterSize())
	return p.Bind(a, a.Whole())
}

func (p *Projection) IsValid(k arena.Kind) bool { return p.valid.Has(k) }

// Invalidate marks products stale; with no args, all of them.
func (p *Projection) Invalidate(kinds ...arena.Kind) { p.valid.Clear(kinds...) }

func (p *Projection) ComputeModelImage() error {
	if p.valid.Has(arena.ModelImage) {
		return nil
	}
	if err := p.ensureBound(); err != nil {
		return err
	}
	dst, err := p.buffers.Vector(arena.ModelImage, p.rng)
	if err != nil {
		return err
	}

	g := p.model.geometry(p.psf, p.wcs, false)
	amps := p.model.linear
	p.fp.ForEachPixel(func(i, x, y int) {
		d := emath.Vec2{float64(x), float64(y)}.Sub(g.center)
		v := 0.0
		for _, t := range g.terms {
			v += amps[t.param] * t.norm * math.Exp(-0.5*t.inv.QuadForm(d))
		}
		dst[i] = v
	})

	if !emath.AllFinite(dst) {
		return fmt.Errorf("model image of %s: %w", p.model, ErrNonFinite)
	}
	p.valid.Set(arena.ModelImage)
	return nil
}

func (p *Projection) ComputeLinearParameterDerivative() error {
	if p.valid.Has(arena.LinearDerivative) {
		return nil
	}
	if err := p.ensureBound(); err != nil {
		return err
	}
	dst, err := p.buffers.Matrix(arena.LinearDerivative, p.rng)
	if err != nil {
		return err
	}
	if dst.IsEmpty() {
		p.valid.Set(arena.LinearDerivative)
		return nil
	}
	dst.Zero()
	raw := dst.RawMatrix()

	g := p.model.geometry(p.psf, p.wcs, false)
	p.fp.ForEachPixel(func(i, x, y int) {
		d := emath.Vec2{float64(x), float64(y)}.Sub(g.center)
		for _, t := range g.terms {
			raw.Data[t.param*raw.Stride+i] += t.norm * math.Exp(-0.5*t.inv.QuadForm(d))
		}
	})

	if !matrixFinite(dst) {
		return fmt.Errorf("linear derivative of %s: %w", p.model, ErrNonFinite)
	}
	p.valid.Set(arena.LinearDerivative)
	return nil
}

// Rows are d(model)/d(x, y) in sky coords, then d/d(e1, e2, r) for the galaxy kinds.
func (p *Projection) ComputeNonlinearParameterDerivative() error {
	if p.valid.Has(arena.NonlinearDerivative) {
		return nil
	}
	if err := p.ensureBound(); err != nil {
		return err
	}
	dst, err := p.buffers.Matrix(arena.NonlinearDerivative, p.rng)
	if err != nil {
		return err
	}
	if dst.IsEmpty() {
		p.valid.Set(arena.NonlinearDerivative)
		return nil
	}
	dst.Zero()
	raw := dst.RawMatrix()
	shape := p.model.kind != PointSource

	g := p.model.geometry(p.psf, p.wcs, shape)
	amps := p.model.linear
	p.fp.ForEachPixel(func(i, x, y int) {
		d := emath.Vec2{float64(x), float64(y)}.Sub(g.center)
		for _, t := range g.terms {
			u := t.inv.Apply(d)
			v := amps[t.param] * t.norm * math.Exp(-0.5*d.Dot(u))

			// d/d(centre) in pixels is v*u; chain through the WCS
			dsky := g.jac.ApplyT(u)
			raw.Data[0*raw.Stride+i] += v * dsky[0]
			raw.Data[1*raw.Stride+i] += v * dsky[1]

			if shape {
				for k := 0; k < 3; k++ {
					raw.Data[(2+k)*raw.Stride+i] += 0.5 * v * (t.dcov[k].QuadForm(u) - t.trInvD[k])
				}
			}
		}
	})

	if !matrixFinite(dst) {
		return fmt.Errorf("nonlinear derivative of %s: %w", p.model, ErrNonFinite)
	}
	p.valid.Set(arena.NonlinearDerivative)
	return nil
}

// ModelImage computes if needed, and returns a view onto the arena.
func (p *Projection) ModelImage() ([]float64, error) {
	if err := p.ComputeModelImage(); err != nil {
		return nil, err
	}
	return p.buffers.Vector(arena.ModelImage, p.rng)
}

func (p *Projection) LinearParameterDerivative() (*mat.Dense, error) {
	if err := p.ComputeLinearParameterDerivative(); err != nil {
		return nil, err
	}
	return p.buffers.Matrix(arena.LinearDerivative, p.rng)
}

func (p *Projection) NonlinearParameterDerivative() (*mat.Dense, error) {
	if err := p.ComputeNonlinearParameterDerivative(); err != nil {
		return nil, err
	}
	return p.buffers.Matrix(arena.NonlinearDerivative, p.rng)
}

func matrixFinite(m *mat.Dense) bool {
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		if !emath.AllFinite(m.RawRowView(i)) {
			return false
		}
	}
	return true
}
