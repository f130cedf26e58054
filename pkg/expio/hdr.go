package expio

import (
	"fmt"
	"image"
	"image/color"
	"log"
	"os"

	"github.com/mdouchement/hdr/codec/rgbe"
	"github.com/mdouchement/hdr/hdrcolor"

	"github.com/abworrall/multifit/pkg/emath"
)

// gridImage shows a FloatGrid as an hdr.Image: positive values grey, negative ones
// blue, so residuals can be looked at.
type gridImage struct {
	grid *emath.FloatGrid
}

func (gi gridImage) ColorModel() color.Model { return hdrcolor.RGBModel }
func (gi gridImage) Bounds() image.Rectangle { return image.Rect(0, 0, gi.grid.Dx(), gi.grid.Dy()) }
func (gi gridImage) At(x, y int) color.Color { return gi.HDRAt(x, y) }
func (gi gridImage) Size() int               { return gi.grid.Dx() * gi.grid.Dy() }

func (gi gridImage) HDRAt(x, y int) hdrcolor.Color {
	v := gi.grid.Get(x, y)
	if v < 0 {
		return hdrcolor.RGB{R: 0, G: 0, B: -v}
	}
	return hdrcolor.RGB{R: v, G: v, B: v}
}

// WriteHDR outputs a Radiance RGBE file, which keeps the full dynamic range.
func WriteHDR(filename string, g *emath.FloatGrid) error {
	if writer, err := os.Create(filename); err != nil {
		return fmt.Errorf("WriteHDR, open+w '%s': %w", filename, err)
	} else {
		defer writer.Close()
		err := rgbe.Encode(writer, gridImage{grid: g})
		if err != nil {
			log.Printf("WriteHDR, encoding RGBE file: %v\n", err)
		}
		return err
	}
}
