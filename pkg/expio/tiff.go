package expio

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"time"

	"github.com/rwcarlsen/goexif/exif"
	"golang.org/x/image/tiff"

	"github.com/abworrall/multifit/pkg/exposure"
	"github.com/abworrall/multifit/pkg/psf"
	"github.com/abworrall/multifit/pkg/wcs"
)

// TIFFOptions fill in what a camera TIFF doesn't say: the noise model, and how the
// image maps to the sky.
type TIFFOptions struct {
	Gain      float64 // electrons per count
	ReadNoise float64 // electrons
	PSF       psf.PSF
	WCS       *wcs.WCS
}

// LoadTIFF reads a TIFF as grey counts, 0..65535. Variance is counts/gain plus the
// read noise, in counts^2. Saturated pixels get the SAT mask bit.
func LoadTIFF(filename string, opts TIFFOptions) (*exposure.Exposure, error) {
	if !(opts.Gain > 0) {
		return nil, fmt.Errorf("tiff '%s': gain %g must be positive", filename, opts.Gain)
	}

	reader, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("open+r img '%s': %w", filename, err)
	}
	defer reader.Close()

	img, err := tiff.Decode(reader)
	if err != nil {
		return nil, fmt.Errorf("tiff loading '%s': %w", filename, err)
	}

	b := img.Bounds()
	mi := exposure.NewMaskedImage(image.Rect(0, 0, b.Dx(), b.Dy()))
	sat, err := mi.Mask.PlaneBitMask("SAT")
	if err != nil {
		return nil, err
	}
	rn2 := (opts.ReadNoise / opts.Gain) * (opts.ReadNoise / opts.Gain)

	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			g := color.Gray16Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray16)
			v := float64(g.Y)
			mi.Image.Set(x, y, v)
			mi.Variance.Set(x, y, v/opts.Gain+rn2)
			if g.Y == 0xffff {
				mi.Mask.Or(x, y, sat)
			}
		}
	}

	exp := exposure.New(mi, opts.PSF, opts.WCS)
	exp.Filename = filename
	exp.ExposureTime = exifExposureTime(filename)
	return exp, nil
}

// exifExposureTime is zero if the file has no usable EXIF.
func exifExposureTime(filename string) time.Duration {
	reader, err := os.Open(filename)
	if err != nil {
		return 0
	}
	defer reader.Close()

	ex, err := exif.Decode(reader)
	if err != nil {
		return 0
	}
	tag, err := ex.Get(exif.ExposureTime)
	if err != nil {
		return 0
	}
	num, denom, err := tag.Rat2(0)
	if err != nil || denom == 0 {
		return 0
	}
	return time.Duration(float64(num) / float64(denom) * float64(time.Second))
}
