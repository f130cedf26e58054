package footprint

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abworrall/multifit/pkg/exposure"
)

func TestNew_MergesAndSorts(t *testing.T) {
	fp := New([]Span{{2, 5, 7}, {1, 0, 3}, {2, 0, 4}, {1, 10, 9}})
	assert.Equal(t, []Span{{1, 0, 3}, {2, 0, 7}}, fp.Spans())
	assert.Equal(t, 12, fp.NPix())
	assert.Equal(t, image.Rect(0, 1, 8, 3), fp.BBox())
}

func TestNewBox(t *testing.T) {
	fp := NewBox(image.Rect(-9, -9, 10, 10))
	assert.Equal(t, 361, fp.NPix())
	assert.Equal(t, image.Rect(-9, -9, 10, 10), fp.BBox())

	order := [][2]int{}
	NewBox(image.Rect(0, 0, 2, 2)).ForEachPixel(func(i, x, y int) {
		assert.Equal(t, len(order), i)
		order = append(order, [2]int{x, y})
	})
	assert.Equal(t, [][2]int{{0, 0}, {1, 0}, {0, 1}, {1, 1}}, order)
}

func TestClipAndMask(t *testing.T) {
	mi := exposure.NewMaskedImage(image.Rect(0, 0, 5, 5))
	bad, err := mi.Mask.PlaneBitMask("BAD")
	require.NoError(t, err)
	det, err := mi.Mask.PlaneBitMask("DETECTED")
	require.NoError(t, err)

	mi.Mask.Set(2, 2, bad)
	mi.Mask.Set(3, 2, det) // not in the bitmask, stays

	fp := ClipAndMask(NewBox(image.Rect(-2, -2, 4, 3)), &mi, bad)
	// x in [0,3], y in [0,2], minus one masked pixel
	assert.Equal(t, 4*3-1, fp.NPix())
	assert.Equal(t, []Span{{0, 0, 3}, {1, 0, 3}, {2, 0, 1}, {2, 3, 3}}, fp.Spans())

	mi.Mask.Fill(bad)
	assert.Equal(t, 0, ClipAndMask(fp, &mi, bad).NPix())
}

func TestClipAndMask_NegativeCoords(t *testing.T) {
	mi := exposure.NewMaskedImage(image.Rect(-5, -5, 5, 5))
	bad, err := mi.Mask.PlaneBitMask("BAD")
	require.NoError(t, err)

	full := ClipAndMask(NewBox(image.Rect(-9, -9, 10, 10)), &mi, bad)
	assert.Equal(t, 100, full.NPix())
	assert.Equal(t, image.Rect(-5, -5, 5, 5), full.BBox())

	// Parent pixel (-2, 0)
	mi.Mask.Set(-2-mi.XY0.X, 0-mi.XY0.Y, bad)
	fp := ClipAndMask(NewBox(image.Rect(-9, -9, 10, 10)), &mi, bad)
	assert.Equal(t, 99, fp.NPix())
	spans := fp.Spans()
	assert.Contains(t, spans, Span{0, -5, -3})
	assert.Contains(t, spans, Span{0, -1, 4})
	assert.Contains(t, spans, Span{-5, -5, 4})
}

func TestCompressExpand(t *testing.T) {
	mi := exposure.NewMaskedImage(image.Rect(10, 20, 14, 23))
	for y := 20; y < 23; y++ {
		for x := 10; x < 14; x++ {
			mi.SetImage(x, y, float64(100*y+x))
			mi.SetVariance(x, y, 0.5)
		}
	}

	fp := New([]Span{{21, 11, 12}, {22, 10, 10}})
	data, variance := make([]float64, 3), make([]float64, 3)
	require.NoError(t, Compress(fp, &mi, data, variance))
	assert.Equal(t, []float64{2111, 2112, 2210}, data)
	assert.Equal(t, []float64{0.5, 0.5, 0.5}, variance)

	out := exposure.NewMaskedImage(mi.Bounds())
	require.NoError(t, Expand(fp, data, nil, &out))
	assert.Equal(t, 2112.0, out.ImageAt(12, 21))
	assert.Equal(t, 0.0, out.ImageAt(13, 21))
	assert.Equal(t, 0.0, out.VarianceAt(12, 21))

	assert.ErrorIs(t, Compress(fp, &mi, data[:2], variance), ErrLength)
	assert.Error(t, Compress(NewBox(image.Rect(0, 0, 2, 2)), &mi, make([]float64, 4), make([]float64, 4)))
}
