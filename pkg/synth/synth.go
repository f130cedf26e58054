// Package synth makes fake exposures by rendering a model onto blank images, for tests
// and for timing runs.
package synth

import (
	"fmt"
	"image"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/abworrall/multifit/pkg/emath"
	"github.com/abworrall/multifit/pkg/exposure"
	"github.com/abworrall/multifit/pkg/footprint"
	"github.com/abworrall/multifit/pkg/model"
	"github.com/abworrall/multifit/pkg/psf"
	"github.com/abworrall/multifit/pkg/wcs"
)

type Options struct {
	Width, Height int // image size, centred on the model

	PSF psf.PSF
	WCS *wcs.WCS

	Variance float64 // per pixel, everywhere
	Noise    bool    // add gaussian noise matching Variance
	Seed     int64

	Background float64
}

// DefaultOptions is the classic test setup: a 19x19 double gaussian PSF of sigma 2, and
// a WCS with 1e-4 pixels at sky (35, 65) on pixel (0, 0).
func DefaultOptions() Options {
	p, _ := psf.NewDoubleGaussian(19, 19, 2, 0, 0)
	w, _ := wcs.New(emath.Vec2{35, 65}, emath.Vec2{0, 0}, emath.Diag2(0.0001, 0.0001))
	return Options{
		Width:    64,
		Height:   64,
		PSF:      p,
		WCS:      w,
		Variance: 0.25,
	}
}

// Exposure renders m into one new exposure.
func Exposure(m *model.Model, opts Options) (*exposure.Exposure, error) {
	if opts.PSF == nil || opts.WCS == nil {
		return nil, fmt.Errorf("synth: need a PSF and a WCS")
	}
	if opts.Width <= 0 || opts.Height <= 0 || !(opts.Variance > 0) {
		return nil, fmt.Errorf("synth: bad size %dx%d or variance %g", opts.Width, opts.Height, opts.Variance)
	}

	c := opts.WCS.SkyToPixel(m.Center())
	cx, cy := emath.RoundToInt(c[0]), emath.RoundToInt(c[1])
	bounds := image.Rect(cx-opts.Width/2, cy-opts.Height/2, cx-opts.Width/2+opts.Width, cy-opts.Height/2+opts.Height)

	mi := exposure.NewMaskedImage(bounds)
	mi.Image.Fill(opts.Background)
	mi.Variance.Fill(opts.Variance)

	// The whole image, not just the model's footprint
	fp := footprint.NewBox(bounds)
	img, err := m.MakeProjection(opts.PSF, opts.WCS, fp).ModelImage()
	if err != nil {
		return nil, err
	}
	fp.ForEachPixel(func(i, x, y int) {
		mi.SetImage(x, y, mi.ImageAt(x, y)+img[i])
	})

	if opts.Noise {
		noise := distuv.Normal{Mu: 0, Sigma: math.Sqrt(opts.Variance), Src: rand.NewPCG(uint64(opts.Seed), 0)}
		vals := mi.Image.Values()
		for i := range vals {
			vals[i] += noise.Rand()
		}
	}

	return exposure.New(mi, opts.PSF, opts.WCS), nil
}

// Stack renders n exposures of m; with noise on, each gets its own seed.
func Stack(m *model.Model, n int, opts Options) ([]*exposure.Exposure, error) {
	exps := make([]*exposure.Exposure, 0, n)
	for i := 0; i < n; i++ {
		o := opts
		o.Seed = opts.Seed + int64(i)
		exp, err := Exposure(m, o)
		if err != nil {
			return nil, err
		}
		exp.Filename = fmt.Sprintf("synth-%03d", i)
		exps = append(exps, exp)
	}
	return exps, nil
}

// MaskAll sets the given mask plane on every pixel.
func MaskAll(exp *exposure.Exposure, plane string) error {
	bit, err := exp.Mask.PlaneBitMask(plane)
	if err != nil {
		return err
	}
	for y := 0; y < exp.Mask.Dy(); y++ {
		for x := 0; x < exp.Mask.Dx(); x++ {
			exp.Mask.Or(x, y, bit)
		}
	}
	return nil
}
