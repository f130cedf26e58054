// Package footprint describes sets of pixels as horizontal spans, and moves pixel data
// between images and the flat vectors the fitting code works with.
package footprint

import (
	"errors"
	"fmt"
	"image"
	"sort"

	"github.com/abworrall/multifit/pkg/exposure"
)

var ErrLength = errors.New("footprint: vector length does not match pixel count")

// A Span is the pixels [X0,X1] (inclusive) on row Y.
type Span struct {
	Y, X0, X1 int
}

func (s Span) Len() int { return s.X1 - s.X0 + 1 }

// A Footprint is a sorted list of non-overlapping spans. Pixel order is by row, then
// column; that order is the order of every compressed vector. Immutable.
type Footprint struct {
	spans []Span
	npix  int
	bbox  image.Rectangle
}

// New sorts the spans, merges any that touch or overlap, and drops empty ones.
func New(spans []Span) *Footprint {
	ss := []Span{}
	for _, s := range spans {
		if s.X1 >= s.X0 {
			ss = append(ss, s)
		}
	}
	sort.Slice(ss, func(i, j int) bool {
		if ss[i].Y != ss[j].Y {
			return ss[i].Y < ss[j].Y
		}
		return ss[i].X0 < ss[j].X0
	})

	fp := Footprint{}
	for _, s := range ss {
		if n := len(fp.spans); n > 0 && fp.spans[n-1].Y == s.Y && s.X0 <= fp.spans[n-1].X1+1 {
			if s.X1 > fp.spans[n-1].X1 {
				fp.spans[n-1].X1 = s.X1
			}
			continue
		}
		fp.spans = append(fp.spans, s)
	}

	for i, s := range fp.spans {
		fp.npix += s.Len()
		r := image.Rect(s.X0, s.Y, s.X1+1, s.Y+1)
		if i == 0 {
			fp.bbox = r
		} else {
			fp.bbox = fp.bbox.Union(r)
		}
	}
	return &fp
}

// NewBox covers every pixel of the rectangle (Max exclusive, as in package image).
func NewBox(r image.Rectangle) *Footprint {
	spans := []Span{}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		spans = append(spans, Span{y, r.Min.X, r.Max.X - 1})
	}
	return New(spans)
}

func (fp *Footprint) NPix() int             { return fp.npix }
func (fp *Footprint) BBox() image.Rectangle { return fp.bbox }
func (fp *Footprint) Spans() []Span         { return append([]Span{}, fp.spans...) }

// ForEachPixel visits pixels in compressed-vector order; i is the vector index.
func (fp *Footprint) ForEachPixel(f func(i, x, y int)) {
	i := 0
	for _, s := range fp.spans {
		for x := s.X0; x <= s.X1; x++ {
			f(i, x, s.Y)
			i++
		}
	}
}

func (fp *Footprint) String() string {
	return fmt.Sprintf("footprint[%d spans, %d pix, bbox=%v]", len(fp.spans), fp.npix, fp.bbox)
}

// ClipAndMask returns the part of the footprint that lies inside the masked image,
// minus any pixel with a mask bit in common with bitmask.
func ClipAndMask(fp *Footprint, mi *exposure.MaskedImage, bitmask exposure.MaskPixel) *Footprint {
	bounds := mi.Bounds()
	out := []Span{}

	for _, s := range fp.spans {
		if s.Y < bounds.Min.Y || s.Y >= bounds.Max.Y {
			continue
		}
		x0, x1 := max(s.X0, bounds.Min.X), min(s.X1, bounds.Max.X-1)
		start, open := 0, false
		for x := x0; x <= x1; x++ {
			if mi.MaskAt(x, s.Y)&bitmask != 0 {
				if open {
					out = append(out, Span{s.Y, start, x - 1})
					open = false
				}
				continue
			}
			if !open {
				start, open = x, true
			}
		}
		if open {
			out = append(out, Span{s.Y, start, x1})
		}
	}

	return New(out)
}

// Compress copies image and variance pixels under the footprint into flat vectors. The
// footprint must lie inside the masked image (see ClipAndMask).
func Compress(fp *Footprint, mi *exposure.MaskedImage, data, variance []float64) error {
	if len(data) != fp.npix || len(variance) != fp.npix {
		return fmt.Errorf("compress %d/%d into %s: %w", len(data), len(variance), fp, ErrLength)
	}
	if !fp.bbox.Empty() && !fp.bbox.In(mi.Bounds()) {
		return fmt.Errorf("compress %s from image %v: footprint not contained", fp, mi.Bounds())
	}
	fp.ForEachPixel(func(i, x, y int) {
		data[i] = mi.ImageAt(x, y)
		variance[i] = mi.VarianceAt(x, y)
	})
	return nil
}

// Expand is the inverse of Compress. A nil variance leaves that plane alone.
func Expand(fp *Footprint, data, variance []float64, mi *exposure.MaskedImage) error {
	if len(data) != fp.npix || (variance != nil && len(variance) != fp.npix) {
		return fmt.Errorf("expand %d/%d from %s: %w", len(data), len(variance), fp, ErrLength)
	}
	if !fp.bbox.Empty() && !fp.bbox.In(mi.Bounds()) {
		return fmt.Errorf("expand %s into image %v: footprint not contained", fp, mi.Bounds())
	}
	fp.ForEachPixel(func(i, x, y int) {
		mi.SetImage(x, y, data[i])
		if variance != nil {
			mi.SetVariance(x, y, variance[i])
		}
	})
	return nil
}
