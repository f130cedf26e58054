// Package multifit evaluates a model against a list of exposures at once, and fits it.
//
// The Evaluator concatenates every accepted exposure's pixels into single vectors
// (data, variance, model image) and matrices (derivatives with respect to linear and
// nonlinear parameters), so the fitters see one big least-squares problem.
package multifit

import (
	"fmt"
	"log"

	"gonum.org/v1/gonum/mat"

	"github.com/abworrall/multifit/pkg/arena"
	"github.com/abworrall/multifit/pkg/exposure"
	"github.com/abworrall/multifit/pkg/footprint"
	"github.com/abworrall/multifit/pkg/model"
	"github.com/abworrall/multifit/pkg/psf"
	"github.com/abworrall/multifit/pkg/wcs"
)

// Projection is what the evaluator needs from a per-exposure projection of the model.
// *model.Projection is the real one.
type Projection interface {
	Footprint() *footprint.Footprint
	Bind(a *arena.Arena, r arena.Range) error
	ComputeModelImage() error
	ComputeLinearParameterDerivative() error
	ComputeNonlinearParameterDerivative() error
	Invalidate(kinds ...arena.Kind)
}

type projectionMaker func(m *model.Model, p psf.PSF, w *wcs.WCS, fp *footprint.Footprint) Projection

func makeModelProjection(m *model.Model, p psf.PSF, w *wcs.WCS, fp *footprint.Footprint) Projection {
	return m.MakeProjection(p, w, fp)
}

// Evaluator is single threaded. The model is shared, not copied: if anyone changes
// its parameters they must call Invalidate for whatever products that affects.
type Evaluator struct {
	Verbosity int

	model   *model.Model
	nMinPix int

	exposures   []*exposure.Exposure // accepted ones, in the order given
	projections []Projection
	ranges      []arena.Range
	buffers     *arena.Arena
	valid       arena.Validity

	makeProjection projectionMaker
}

func NewEvaluator(m *model.Model, nMinPix int) *Evaluator {
	return &Evaluator{
		model:          m,
		nMinPix:        nMinPix,
		buffers:        arena.New(0, m.LinearParameterSize(), m.NonlinearParameterSize()),
		makeProjection: makeModelProjection,
	}
}

func (ev *Evaluator) Model() *model.Model             { return ev.model }
func (ev *Evaluator) NMinPix() int                    { return ev.nMinPix }
func (ev *Evaluator) PixelCount() int                 { return ev.buffers.PixelCount() }
func (ev *Evaluator) ProjectionCount() int            { return len(ev.projections) }
func (ev *Evaluator) LinearParameterSize() int        { return ev.model.LinearParameterSize() }
func (ev *Evaluator) NonlinearParameterSize() int     { return ev.model.NonlinearParameterSize() }
func (ev *Evaluator) Exposures() []*exposure.Exposure { return append([]*exposure.Exposure{}, ev.exposures...) }
func (ev *Evaluator) Projections() []Projection       { return append([]Projection{}, ev.projections...) }
func (ev *Evaluator) Ranges() []arena.Range           { return append([]arena.Range{}, ev.ranges...) }

// SetNMinPix only affects the next SetExposureList.
func (ev *Evaluator) SetNMinPix(n int) { ev.nMinPix = n }

type candidate struct {
	exp *exposure.Exposure
	fp  *footprint.Footprint
}

// SetExposureList replaces the exposures. Each one gets the model's footprint, clipped
// to the image and with bad pixels removed; it is kept only if more than nMinPix pixels
// survive. Old buffers are released, new ones sized to the kept pixels are filled
// with data and variance, and every product is marked stale. On error nothing changes.
func (ev *Evaluator) SetExposureList(exposures []*exposure.Exposure) error {
	accepted := []candidate{}
	pixSum := 0

	for i, exp := range exposures {
		if exp == nil {
			return fmt.Errorf("exposure %d: nil", i)
		}
		if err := exp.Validate(); err != nil {
			return fmt.Errorf("exposure %d: %w", i, err)
		}
		bitmask, err := exp.Mask.PlaneBitMask(exposure.BadPixelPlanes...)
		if err != nil {
			return fmt.Errorf("exposure %d: %w", i, err)
		}

		fp := ev.model.ComputeProjectionFootprint(exp.PSF, exp.WCS)
		fp = footprint.ClipAndMask(fp, &exp.MaskedImage, bitmask)
		if fp.NPix() <= ev.nMinPix {
			exposuresTotal.WithLabelValues("rejected").Inc()
			if ev.Verbosity > 1 {
				log.Printf("evaluator: skipping %s, %d usable pixels (need > %d)\n", exp, fp.NPix(), ev.nMinPix)
			}
			continue
		}
		exposuresTotal.WithLabelValues("accepted").Inc()
		accepted = append(accepted, candidate{exp, fp})
		pixSum += fp.NPix()
	}

	buffers := arena.New(pixSum, ev.model.LinearParameterSize(), ev.model.NonlinearParameterSize())
	projections := make([]Projection, 0, len(accepted))
	ranges := make([]arena.Range, 0, len(accepted))
	exps := make([]*exposure.Exposure, 0, len(accepted))

	offset := 0
	for _, c := range accepted {
		r, err := buffers.Range(offset, c.fp.NPix())
		if err != nil {
			return err
		}
		data, err := buffers.Vector(arena.Data, r)
		if err != nil {
			return err
		}
		variance, err := buffers.Vector(arena.Variance, r)
		if err != nil {
			return err
		}
		if err := footprint.Compress(c.fp, &c.exp.MaskedImage, data, variance); err != nil {
			return fmt.Errorf("%s: %w", c.exp, err)
		}

		proj := ev.makeProjection(ev.model, c.exp.PSF, c.exp.WCS, c.fp)
		if err := proj.Bind(buffers, r); err != nil {
			return fmt.Errorf("%s: %w", c.exp, err)
		}

		projections = append(projections, proj)
		ranges = append(ranges, r)
		exps = append(exps, c.exp)
		offset += c.fp.NPix()
	}

	ev.buffers.Release()
	ev.buffers = buffers
	ev.projections = projections
	ev.ranges = ranges
	ev.exposures = exps
	ev.valid.Reset()

	evaluatorPixels.Observe(float64(pixSum))
	if ev.Verbosity > 0 {
		log.Printf("evaluator: %d of %d exposures, %d pixels, model %s\n", len(exps), len(exposures), pixSum, ev.model)
	}

	return nil
}

// Data is the concatenated, unweighted pixel data. Read-only; valid until the next
// SetExposureList.
func (ev *Evaluator) Data() []float64 {
	v, _ := ev.buffers.Vector(arena.Data, ev.buffers.Whole())
	return v
}

// Variance is read-only; valid until the next SetExposureList.
func (ev *Evaluator) Variance() []float64 {
	v, _ := ev.buffers.Vector(arena.Variance, ev.buffers.Whole())
	return v
}

// ModelImage brings every projection's model image up to date and returns the whole
// concatenated vector.
func (ev *Evaluator) ModelImage() ([]float64, error) {
	if !ev.valid.Has(arena.ModelImage) {
		for i, p := range ev.projections {
			if err := p.ComputeModelImage(); err != nil {
				return nil, fmt.Errorf("model image, projection %d: %w", i, err)
			}
		}
		ev.valid.Set(arena.ModelImage)
		productComputes.WithLabelValues(arena.ModelImage.String()).Inc()
	}
	return ev.buffers.Vector(arena.ModelImage, ev.buffers.Whole())
}

// LinearParameterDerivative is nLinear x pixSum. Empty if there are no pixels.
func (ev *Evaluator) LinearParameterDerivative() (*mat.Dense, error) {
	if !ev.valid.Has(arena.LinearDerivative) {
		for i, p := range ev.projections {
			if err := p.ComputeLinearParameterDerivative(); err != nil {
				return nil, fmt.Errorf("linear derivative, projection %d: %w", i, err)
			}
		}
		ev.valid.Set(arena.LinearDerivative)
		productComputes.WithLabelValues(arena.LinearDerivative.String()).Inc()
	}
	return ev.buffers.Matrix(arena.LinearDerivative, ev.buffers.Whole())
}

// NonlinearParameterDerivative is nNonlinear x pixSum. Empty if there are no pixels.
func (ev *Evaluator) NonlinearParameterDerivative() (*mat.Dense, error) {
	if !ev.valid.Has(arena.NonlinearDerivative) {
		for i, p := range ev.projections {
			if err := p.ComputeNonlinearParameterDerivative(); err != nil {
				return nil, fmt.Errorf("nonlinear derivative, projection %d: %w", i, err)
			}
		}
		ev.valid.Set(arena.NonlinearDerivative)
		productComputes.WithLabelValues(arena.NonlinearDerivative.String()).Inc()
	}
	return ev.buffers.Matrix(arena.NonlinearDerivative, ev.buffers.Whole())
}

func (ev *Evaluator) IsValid(k arena.Kind) bool { return ev.valid.Has(k) }

// Invalidate marks products stale, here and in every projection. No args means all.
func (ev *Evaluator) Invalidate(kinds ...arena.Kind) {
	ev.valid.Clear(kinds...)
	for _, p := range ev.projections {
		p.Invalidate(kinds...)
	}
}

func (ev *Evaluator) InvalidateAll() { ev.Invalidate() }

// SetParameters pushes new parameters into the model and invalidates what they feed.
// Either slice may be nil to leave that set alone.
func (ev *Evaluator) SetParameters(linear, nonlinear []float64) error {
	if nonlinear != nil {
		if err := ev.model.SetNonlinearParameters(nonlinear); err != nil {
			return err
		}
		ev.InvalidateAll()
	}
	if linear != nil {
		if err := ev.model.SetLinearParameters(linear); err != nil {
			return err
		}
		// the linear derivative doesn't depend on amplitudes
		ev.Invalidate(arena.ModelImage, arena.NonlinearDerivative)
	}
	return nil
}
