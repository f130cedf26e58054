// Package psf models point-spread functions as normalized mixtures of gaussians, in
// pixel coords. A gaussian PSF convolves analytically with a gaussian profile: the
// covariances just add.
package psf

import (
	"errors"
	"fmt"
	"math"

	"github.com/abworrall/multifit/pkg/emath"
)

var (
	ErrBadSigma   = errors.New("psf: sigma must be positive")
	ErrBadKernel  = errors.New("psf: kernel dimensions must be positive")
	ErrUnknownPSF = errors.New("psf: unknown type")
)

// A Component is one gaussian of the mixture; Sigma is its covariance in pixels^2.
type Component struct {
	Weight float64
	Sigma  emath.Mat2
}

type PSF interface {
	// Components returns the mixture; weights sum to one.
	Components() []Component

	// Dimensions is the size of the kernel image, which bounds the footprint of a
	// point source.
	Dimensions() (w, h int)
}

// DoubleGaussian is exp(-r^2/2s1^2) + b*exp(-r^2/2s2^2), normalized to unit flux.
// Sigma2 == 0 degrades to a single gaussian.
type DoubleGaussian struct {
	Width, Height  int
	Sigma1, Sigma2 float64
	B              float64

	components []Component
}

func NewDoubleGaussian(w, h int, sigma1, sigma2, b float64) (*DoubleGaussian, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("DoubleGaussian %dx%d: %w", w, h, ErrBadKernel)
	}
	if sigma1 <= 0 || sigma2 < 0 || (sigma2 > 0 && b < 0) {
		return nil, fmt.Errorf("DoubleGaussian(%g,%g,%g): %w", sigma1, sigma2, b, ErrBadSigma)
	}

	dg := DoubleGaussian{Width: w, Height: h, Sigma1: sigma1, Sigma2: sigma2, B: b}

	// The flux of an unnormalized gaussian goes as sigma^2
	w1 := sigma1 * sigma1
	w2 := 0.0
	if sigma2 > 0 {
		w2 = b * sigma2 * sigma2
	}
	tot := w1 + w2

	dg.components = append(dg.components, Component{w1 / tot, emath.Diag2(sigma1*sigma1, sigma1*sigma1)})
	if w2 > 0 {
		dg.components = append(dg.components, Component{w2 / tot, emath.Diag2(sigma2*sigma2, sigma2*sigma2)})
	}

	return &dg, nil
}

func (dg *DoubleGaussian) Components() []Component { return dg.components }
func (dg *DoubleGaussian) Dimensions() (int, int)  { return dg.Width, dg.Height }

func (dg *DoubleGaussian) String() string {
	return fmt.Sprintf("DoubleGaussian[%dx%d, s1=%g, s2=%g, b=%g]", dg.Width, dg.Height, dg.Sigma1, dg.Sigma2, dg.B)
}

// Create builds a PSF by name; params are the type specific numbers (sigma1 [, sigma2, b]).
func Create(name string, w, h int, params ...float64) (PSF, error) {
	switch name {
	case "DoubleGaussian", "doublegaussian":
		p := []float64{0, 0, 0}
		copy(p, params)
		if len(params) == 0 {
			return nil, fmt.Errorf("create %s: no sigma: %w", name, ErrBadSigma)
		}
		return NewDoubleGaussian(w, h, p[0], p[1], p[2])
	case "SingleGaussian", "singlegaussian":
		if len(params) == 0 {
			return nil, fmt.Errorf("create %s: no sigma: %w", name, ErrBadSigma)
		}
		return NewDoubleGaussian(w, h, params[0], 0, 0)
	}
	return nil, fmt.Errorf("create '%s': %w", name, ErrUnknownPSF)
}

// Moments is the flux-weighted covariance of the whole mixture.
func Moments(p PSF) emath.Mat2 {
	m := emath.Mat2{}
	for _, c := range p.Components() {
		m = m.Add(c.Sigma.Scale(c.Weight))
	}
	return m
}

// Kernel renders the PSF centred in its kernel image, pixel centres at integer coords.
func Kernel(p PSF) emath.FloatGrid {
	w, h := p.Dimensions()
	fg := emath.NewFloatGrid(w, h)
	cx, cy := float64(w/2), float64(h/2)

	for _, c := range p.Components() {
		inv, ok := c.Sigma.Inverse()
		if !ok {
			continue
		}
		norm := c.Weight / (2 * math.Pi * math.Sqrt(c.Sigma.Det()))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				d := emath.Vec2{float64(x) - cx, float64(y) - cy}
				fg.Set(x, y, fg.Get(x, y)+norm*math.Exp(-0.5*inv.QuadForm(d)))
			}
		}
	}

	return fg
}
