// Package wcs is a local, linear world coordinate system: the FITS CRVAL/CRPIX/CD
// triple, without any projection terms. Over a source's footprint that is all the
// fitting code needs.
package wcs

import (
	"errors"
	"fmt"
	"math"

	"github.com/abworrall/multifit/pkg/emath"
)

var ErrSingularCD = errors.New("wcs: CD matrix is singular")

// WCS maps pixel coords to sky coords via sky = CD * (pix - CRPix) + CRVal.
type WCS struct {
	CRVal emath.Vec2
	CRPix emath.Vec2
	CD    emath.Mat2

	pixToSky emath.Aff3
	skyToPix emath.Aff3
}

func New(crval, crpix emath.Vec2, cd emath.Mat2) (*WCS, error) {
	// Remember they compose back to front
	p2s := emath.Identity().Translate(crval[0], crval[1]).Mult(emath.LinearAff3(cd)).Translate(-crpix[0], -crpix[1])
	s2p, ok := p2s.Invert()
	if !ok {
		return nil, fmt.Errorf("new wcs %s: %w", cd.String(), ErrSingularCD)
	}
	return &WCS{
		CRVal:    crval,
		CRPix:    crpix,
		CD:       cd,
		pixToSky: p2s,
		skyToPix: s2p,
	}, nil
}

// NewRotated builds the CD matrix from the older CDELT/CROTA2 convention: scale the
// pixel axes by cdelt, then rotate by crotaDeg.
func NewRotated(crval, crpix, cdelt emath.Vec2, crotaDeg float64) (*WCS, error) {
	cd := emath.Identity().Rotate(crotaDeg).Mult(emath.LinearAff3(emath.Diag2(cdelt[0], cdelt[1]))).Linear()
	return New(crval, crpix, cd)
}

func (w *WCS) SkyToPixel(sky emath.Vec2) emath.Vec2 { return w.skyToPix.Apply(sky) }
func (w *WCS) PixelToSky(pix emath.Vec2) emath.Vec2 { return w.pixToSky.Apply(pix) }

// SkyToPixelLinear is d(pixel)/d(sky); constant for a linear WCS.
func (w *WCS) SkyToPixelLinear() emath.Mat2 { return w.skyToPix.Linear() }

// PixelToSkyLinear is d(sky)/d(pixel), i.e. the CD matrix.
func (w *WCS) PixelToSkyLinear() emath.Mat2 { return w.pixToSky.Linear() }

// PixelScale is sqrt(|det CD|), the sky size of one pixel.
func (w *WCS) PixelScale() float64 {
	det := w.CD.Det()
	if det < 0 {
		det = -det
	}
	return math.Sqrt(det)
}

func (w *WCS) String() string {
	return fmt.Sprintf("wcs[crval=%s, crpix=%s, cd=%v]", w.CRVal, w.CRPix, [4]float64(w.CD))
}
