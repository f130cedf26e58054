// Package expio reads and writes exposures: FITS files carrying image, variance and
// mask planes plus WCS and PSF cards, 16-bit TIFFs from ordinary cameras, and HDR
// dumps of pixel grids for looking at.
package expio

import (
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"time"

	"github.com/astrogo/fitsio"

	"github.com/abworrall/multifit/pkg/emath"
	"github.com/abworrall/multifit/pkg/exposure"
	"github.com/abworrall/multifit/pkg/psf"
	"github.com/abworrall/multifit/pkg/wcs"
)

var (
	ErrNotImage = errors.New("expio: HDU is not a 2D image")
	ErrCard     = errors.New("expio: missing or bad header card")
)

const (
	varianceExt = "VARIANCE"
	maskExt     = "MASK"
)

func LoadFITS(filename string) (*exposure.Exposure, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("open+r '%s': %w", filename, err)
	}
	defer f.Close()

	exp, err := ReadFITS(f)
	if err != nil {
		return nil, fmt.Errorf("fits '%s': %w", filename, err)
	}
	exp.Filename = filename
	return exp, nil
}

// ReadFITS wants the image in the primary HDU. VARIANCE and MASK extensions are
// optional: without them variance is the image itself (Poisson, gain 1) and nothing is
// masked.
func ReadFITS(r io.Reader) (*exposure.Exposure, error) {
	f, err := fitsio.Open(r)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	primary, ok := f.HDU(0).(fitsio.Image)
	if !ok {
		return nil, ErrNotImage
	}
	hdr := primary.Header()

	vals, w, h, err := readPlane(primary)
	if err != nil {
		return nil, fmt.Errorf("primary: %w", err)
	}

	// LTV is the offset from parent to local pixel coords
	ltv1, _ := cardFloat(hdr, "LTV1", 0)
	ltv2, _ := cardFloat(hdr, "LTV2", 0)
	mi := exposure.NewMaskedImage(image.Rect(0, 0, w, h).Add(image.Point{-emath.RoundToInt(ltv1), -emath.RoundToInt(ltv2)}))
	copy(mi.Image.Values(), vals)

	if f.Has(varianceExt) {
		vimg, ok := f.Get(varianceExt).(fitsio.Image)
		if !ok {
			return nil, fmt.Errorf("%s: %w", varianceExt, ErrNotImage)
		}
		vv, vw, vh, err := readPlane(vimg)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", varianceExt, err)
		}
		if vw != w || vh != h {
			return nil, fmt.Errorf("%s %dx%d vs image %dx%d: %w", varianceExt, vw, vh, w, h, exposure.ErrSizeMismatch)
		}
		copy(mi.Variance.Values(), vv)
	} else {
		copy(mi.Variance.Values(), vals)
	}

	if f.Has(maskExt) {
		mimg, ok := f.Get(maskExt).(fitsio.Image)
		if !ok {
			return nil, fmt.Errorf("%s: %w", maskExt, ErrNotImage)
		}
		mv, mw, mh, err := readPlane(mimg)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", maskExt, err)
		}
		if mw != w || mh != h {
			return nil, fmt.Errorf("%s %dx%d vs image %dx%d: %w", maskExt, mw, mh, w, h, exposure.ErrSizeMismatch)
		}
		for i, v := range mv {
			mi.Mask.Set(i%w, i/w, exposure.MaskPixel(v))
		}
	}

	exp := exposure.New(mi, nil, nil)
	if exp.WCS, err = readWCS(hdr); err != nil {
		return nil, err
	}
	if exp.PSF, err = readPSF(hdr); err != nil {
		return nil, err
	}
	if t, err := cardFloat(hdr, "EXPTIME", 0); err == nil {
		exp.ExposureTime = time.Duration(t * float64(time.Second))
	}

	return exp, nil
}

// readPlane returns the pixels of a 2D image as float64s, row by row. fitsio wants
// the destination slice sized before Read.
func readPlane(img fitsio.Image) ([]float64, int, int, error) {
	hdr := img.Header()
	axes := hdr.Axes()
	if len(axes) != 2 {
		return nil, 0, 0, fmt.Errorf("%d axes: %w", len(axes), ErrNotImage)
	}
	w, h := axes[0], axes[1]
	out := make([]float64, 0, w*h)

	switch hdr.Bitpix() {
	case 8:
		v := make([]uint8, w*h)
		if err := img.Read(&v); err != nil {
			return nil, 0, 0, err
		}
		for _, x := range v {
			out = append(out, float64(x))
		}
	case 16:
		v := make([]int16, w*h)
		if err := img.Read(&v); err != nil {
			return nil, 0, 0, err
		}
		for _, x := range v {
			out = append(out, float64(x))
		}
	case 32:
		v := make([]int32, w*h)
		if err := img.Read(&v); err != nil {
			return nil, 0, 0, err
		}
		for _, x := range v {
			out = append(out, float64(x))
		}
	case -32:
		v := make([]float32, w*h)
		if err := img.Read(&v); err != nil {
			return nil, 0, 0, err
		}
		for _, x := range v {
			out = append(out, float64(x))
		}
	case -64:
		v := make([]float64, w*h)
		if err := img.Read(&v); err != nil {
			return nil, 0, 0, err
		}
		out = append(out, v...)
	default:
		return nil, 0, 0, fmt.Errorf("bitpix %d: %w", hdr.Bitpix(), ErrNotImage)
	}

	if len(out) != w*h {
		return nil, 0, 0, fmt.Errorf("read %d pixels for %dx%d: %w", len(out), w, h, ErrNotImage)
	}
	return out, w, h, nil
}

func cardFloat(hdr *fitsio.Header, name string, def float64) (float64, error) {
	c := hdr.Get(name)
	if c == nil {
		return def, fmt.Errorf("%s: %w", name, ErrCard)
	}
	switch v := c.Value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	}
	return def, fmt.Errorf("%s is %T: %w", name, c.Value, ErrCard)
}

// readWCS wants CD cards; failing those it takes CDELT1/2 plus an optional CROTA2.
func readWCS(hdr *fitsio.Header) (*wcs.WCS, error) {
	vals := map[string]float64{}
	for _, name := range []string{"CRVAL1", "CRVAL2", "CRPIX1", "CRPIX2"} {
		v, err := cardFloat(hdr, name, 0)
		if err != nil {
			return nil, fmt.Errorf("wcs: %w", err)
		}
		vals[name] = v
	}
	crval := emath.Vec2{vals["CRVAL1"], vals["CRVAL2"]}
	crpix := emath.Vec2{vals["CRPIX1"], vals["CRPIX2"]}

	if hdr.Get("CD1_1") == nil && hdr.Get("CDELT1") != nil {
		for _, name := range []string{"CDELT1", "CDELT2"} {
			v, err := cardFloat(hdr, name, 0)
			if err != nil {
				return nil, fmt.Errorf("wcs: %w", err)
			}
			vals[name] = v
		}
		crota := 0.0
		if hdr.Get("CROTA2") != nil {
			var err error
			if crota, err = cardFloat(hdr, "CROTA2", 0); err != nil {
				return nil, fmt.Errorf("wcs: %w", err)
			}
		}
		return wcs.NewRotated(crval, crpix, emath.Vec2{vals["CDELT1"], vals["CDELT2"]}, crota)
	}

	for _, name := range []string{"CD1_1", "CD1_2", "CD2_1", "CD2_2"} {
		v, err := cardFloat(hdr, name, 0)
		if err != nil {
			return nil, fmt.Errorf("wcs: %w", err)
		}
		vals[name] = v
	}
	return wcs.New(crval, crpix, emath.Mat2{vals["CD1_1"], vals["CD1_2"], vals["CD2_1"], vals["CD2_2"]})
}

func readPSF(hdr *fitsio.Header) (psf.PSF, error) {
	c := hdr.Get("PSFTYPE")
	if c == nil {
		return nil, fmt.Errorf("psf: PSFTYPE: %w", ErrCard)
	}
	name, ok := c.Value.(string)
	if !ok {
		return nil, fmt.Errorf("psf: PSFTYPE is %T: %w", c.Value, ErrCard)
	}
	w, err := cardFloat(hdr, "PSFW", 0)
	if err != nil {
		return nil, fmt.Errorf("psf: %w", err)
	}
	h, err := cardFloat(hdr, "PSFH", 0)
	if err != nil {
		return nil, fmt.Errorf("psf: %w", err)
	}
	s1, err := cardFloat(hdr, "PSFSIG1", 0)
	if err != nil {
		return nil, fmt.Errorf("psf: %w", err)
	}
	s2, _ := cardFloat(hdr, "PSFSIG2", 0)
	b, _ := cardFloat(hdr, "PSFB", 0)

	return psf.Create(name, int(w), int(h), s1, s2, b)
}

func SaveFITS(filename string, exp *exposure.Exposure) error {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("open+w '%s': %w", filename, err)
	}
	if err := WriteFITS(f, exp); err != nil {
		f.Close()
		return fmt.Errorf("fits '%s': %w", filename, err)
	}
	return f.Close()
}

// WriteFITS only knows how to describe DoubleGaussian PSFs in the header.
func WriteFITS(w io.Writer, exp *exposure.Exposure) error {
	if err := exp.Validate(); err != nil {
		return err
	}
	dg, ok := exp.PSF.(*psf.DoubleGaussian)
	if !ok {
		return fmt.Errorf("psf %T: %w", exp.PSF, psf.ErrUnknownPSF)
	}

	f, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer f.Close()

	width, height := exp.Image.Dx(), exp.Image.Dy()
	axes := []int{width, height}

	primary := fitsio.NewImage(-64, axes)
	defer primary.Close()
	cards := []fitsio.Card{
		{Name: "LTV1", Value: float64(-exp.XY0.X)},
		{Name: "LTV2", Value: float64(-exp.XY0.Y)},
		{Name: "CRVAL1", Value: exp.WCS.CRVal[0]},
		{Name: "CRVAL2", Value: exp.WCS.CRVal[1]},
		{Name: "CRPIX1", Value: exp.WCS.CRPix[0]},
		{Name: "CRPIX2", Value: exp.WCS.CRPix[1]},
		{Name: "CD1_1", Value: exp.WCS.CD[0]},
		{Name: "CD1_2", Value: exp.WCS.CD[1]},
		{Name: "CD2_1", Value: exp.WCS.CD[2]},
		{Name: "CD2_2", Value: exp.WCS.CD[3]},
		{Name: "PSFTYPE", Value: "DoubleGaussian"},
		{Name: "PSFW", Value: dg.Width},
		{Name: "PSFH", Value: dg.Height},
		{Name: "PSFSIG1", Value: dg.Sigma1},
		{Name: "PSFSIG2", Value: dg.Sigma2},
		{Name: "PSFB", Value: dg.B},
		{Name: "EXPTIME", Value: exp.ExposureTime.Seconds(), Comment: "seconds"},
	}
	if err := primary.Header().Append(cards...); err != nil {
		return err
	}
	if err := primary.Write(append([]float64{}, exp.Image.Values()...)); err != nil {
		return err
	}
	if err := f.Write(primary); err != nil {
		return err
	}

	variance := fitsio.NewImage(-64, axes)
	defer variance.Close()
	if err := variance.Header().Append(fitsio.Card{Name: "EXTNAME", Value: varianceExt}); err != nil {
		return err
	}
	if err := variance.Write(append([]float64{}, exp.Variance.Values()...)); err != nil {
		return err
	}
	if err := f.Write(variance); err != nil {
		return err
	}

	mask := fitsio.NewImage(32, axes)
	defer mask.Close()
	if err := mask.Header().Append(fitsio.Card{Name: "EXTNAME", Value: maskExt}); err != nil {
		return err
	}
	mv := make([]int32, 0, width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			mv = append(mv, int32(exp.Mask.Get(x, y)))
		}
	}
	if err := mask.Write(mv); err != nil {
		return err
	}
	return f.Write(mask)
}
