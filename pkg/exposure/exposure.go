// Package exposure holds single observations: pixel planes plus the PSF and WCS that
// describe how the sky got onto them.
package exposure

import (
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/abworrall/multifit/pkg/emath"
	"github.com/abworrall/multifit/pkg/psf"
	"github.com/abworrall/multifit/pkg/wcs"
)

var (
	ErrSizeMismatch = errors.New("exposure: plane sizes differ")
	ErrNoPSF        = errors.New("exposure: no PSF")
	ErrNoWCS        = errors.New("exposure: no WCS")
	ErrNoMask       = errors.New("exposure: no mask")
)

// A MaskedImage is image, variance and mask planes of the same size. XY0 is the
// parent coord of the local (0,0) pixel; all the At/Set funcs take parent coords.
type MaskedImage struct {
	Image    emath.FloatGrid
	Variance emath.FloatGrid
	Mask     *Mask
	XY0      image.Point
}

func NewMaskedImage(bounds image.Rectangle) MaskedImage {
	w, h := bounds.Dx(), bounds.Dy()
	return MaskedImage{
		Image:    emath.NewFloatGrid(w, h),
		Variance: emath.NewFloatGrid(w, h),
		Mask:     NewMask(w, h),
		XY0:      bounds.Min,
	}
}

func (mi *MaskedImage) Bounds() image.Rectangle {
	return image.Rectangle{Min: mi.XY0, Max: mi.XY0.Add(image.Point{mi.Image.Dx(), mi.Image.Dy()})}
}

func (mi *MaskedImage) Validate() error {
	if mi.Mask == nil {
		return ErrNoMask
	}
	w, h := mi.Image.Dx(), mi.Image.Dy()
	if mi.Variance.Dx() != w || mi.Variance.Dy() != h || mi.Mask.Dx() != w || mi.Mask.Dy() != h {
		return fmt.Errorf("image %dx%d, variance %dx%d, mask %dx%d: %w", w, h,
			mi.Variance.Dx(), mi.Variance.Dy(), mi.Mask.Dx(), mi.Mask.Dy(), ErrSizeMismatch)
	}
	return nil
}

func (mi *MaskedImage) ImageAt(x, y int) float64    { return mi.Image.Get(x-mi.XY0.X, y-mi.XY0.Y) }
func (mi *MaskedImage) VarianceAt(x, y int) float64 { return mi.Variance.Get(x-mi.XY0.X, y-mi.XY0.Y) }
func (mi *MaskedImage) MaskAt(x, y int) MaskPixel   { return mi.Mask.Get(x-mi.XY0.X, y-mi.XY0.Y) }

func (mi *MaskedImage) SetImage(x, y int, v float64)    { mi.Image.Set(x-mi.XY0.X, y-mi.XY0.Y, v) }
func (mi *MaskedImage) SetVariance(x, y int, v float64) { mi.Variance.Set(x-mi.XY0.X, y-mi.XY0.Y, v) }

// An Exposure is read-only once handed to the fitting code, and may be shared.
type Exposure struct {
	MaskedImage

	PSF psf.PSF
	WCS *wcs.WCS

	Filename     string
	ExposureTime time.Duration
}

func New(mi MaskedImage, p psf.PSF, w *wcs.WCS) *Exposure {
	return &Exposure{MaskedImage: mi, PSF: p, WCS: w}
}

// Validate checks the exposure has everything the fitting code needs.
func (e *Exposure) Validate() error {
	if e.PSF == nil {
		return fmt.Errorf("%s: %w", e, ErrNoPSF)
	}
	if e.WCS == nil {
		return fmt.Errorf("%s: %w", e, ErrNoWCS)
	}
	if err := e.MaskedImage.Validate(); err != nil {
		return fmt.Errorf("%s: %w", e, err)
	}
	return nil
}

func (e *Exposure) String() string {
	name := e.Filename
	if name == "" {
		name = "exposure"
	}
	return fmt.Sprintf("%s%v", name, e.Bounds())
}
