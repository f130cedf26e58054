package emath

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/fogleman/gg" // Move to https://pkg.go.dev/golang.org/x/image/font#Drawer sometime
)

// A FloatGrid is a grid of floats, with some operations. It holds one plane of
// pixel data (image or variance) in local coords, (0,0) at top-left.
type FloatGrid struct {
	stride int
	values []float64
}

func NewFloatGrid(w, h int) FloatGrid {
	return FloatGrid{
		stride: w,
		values: make([]float64, w*h),
	}
}

// NewFloatGridFrom wraps row-major values; len(vals) must be a multiple of w.
func NewFloatGridFrom(w int, vals []float64) (FloatGrid, error) {
	if w <= 0 || len(vals)%w != 0 {
		return FloatGrid{}, fmt.Errorf("floatgrid: %d values do not fill rows of width %d", len(vals), w)
	}
	return FloatGrid{stride: w, values: vals}, nil
}

func (g1 *FloatGrid) NewFromThis() FloatGrid  { return NewFloatGrid(g1.Dx(), g1.Dy()) }
func (fg *FloatGrid) Set(x, y int, v float64) { fg.values[fg.stride*y+x] = v }
func (fg *FloatGrid) Get(x, y int) float64    { return fg.values[fg.stride*y+x] }
func (fg *FloatGrid) Values() []float64       { return fg.values }
func (fg *FloatGrid) Dx() int                 { return fg.stride }
func (fg *FloatGrid) Dy() int {
	if fg.stride == 0 {
		return 0
	}
	return len(fg.values) / fg.stride
}

func (g1 *FloatGrid) Copy() *FloatGrid {
	g2 := FloatGrid{stride: g1.stride, values: make([]float64, len(g1.values))}
	copy(g2.values, g1.values)
	return &g2
}

func (fg *FloatGrid) Fill(v float64) {
	for i := range fg.values {
		fg.values[i] = v
	}
}

// Sub returns g1-g2, e.g. data minus model for a residual image.
func (g1 *FloatGrid) Sub(g2 *FloatGrid) (FloatGrid, error) {
	if g1.stride != g2.stride || len(g1.values) != len(g2.values) {
		return FloatGrid{}, fmt.Errorf("floatgrid: size mismatch %dx%d vs %dx%d", g1.Dx(), g1.Dy(), g2.Dx(), g2.Dy())
	}
	out := g1.NewFromThis()
	for i := range g1.values {
		out.values[i] = g1.values[i] - g2.values[i]
	}
	return out, nil
}

func (fg *FloatGrid) Sum() float64 {
	sum := 0.0
	for _, v := range fg.values {
		sum += v
	}
	return sum
}

func (fg *FloatGrid) Stats() string {
	min := math.MaxFloat64
	max := -1.0 * min

	for i := 0; i < len(fg.values); i++ {
		if fg.values[i] > max {
			max = fg.values[i]
		}
		if fg.values[i] < min {
			min = fg.values[i]
		}
	}
	return fmt.Sprintf("fg[%dx%d, vals{%f,%f}]", fg.Dx(), fg.Dy(), min, max)
}

// ToImg saves a simple grayscale, based on the range of values in the grid, and gamma scaling the
// gray to look normal for human vision
func (fg *FloatGrid) ToImg(title, filename string) error {
	min, max := math.MaxFloat64, -math.MaxFloat64
	for i := 0; i < len(fg.values); i++ {
		if fg.values[i] > max {
			max = fg.values[i]
		}
		if fg.values[i] < min {
			min = fg.values[i]
		}
	}
	if max <= min {
		max = min + 1 // flat grid, avoid div by zero
	}

	img := image.NewRGBA64(image.Rectangle{Max: image.Point{fg.Dx(), fg.Dy()}})
	for x := 0; x < fg.Dx(); x++ {
		for y := 0; y < fg.Dy(); y++ {
			lum := fg.Get(x, y)
			gray := GammaExpand_F64((lum - min) / (max - min))
			col := color.RGBA64{uint16(gray * 65535.0), uint16(gray * 65535.0), uint16(gray * 65535.0), 0xFFFF}
			img.Set(x, y, col)
		}
	}

	dc := gg.NewContextForImage(img)
	dc.SetRGB(1, 0.2, 0.2)
	dc.DrawString(title, 4, 12)
	return dc.SavePNG(filename)
}
