package exposure

import (
	"errors"
	"fmt"
	"sort"
)

var ErrUnknownPlane = errors.New("mask: unknown plane")

type MaskPixel uint16

// The planes every mask starts with.
var DefaultPlanes = map[string]int{
	"BAD":      0,
	"SAT":      1,
	"INTRP":    2,
	"CR":       3,
	"EDGE":     4,
	"DETECTED": 5,
}

// The planes that make a pixel unusable for fitting.
var BadPixelPlanes = []string{"BAD", "INTRP", "SAT", "CR", "EDGE"}

// A Mask is a grid of bitfields, with a dictionary naming the bits. Each mask owns its
// own dictionary, there is no process-wide one.
type Mask struct {
	stride int
	values []MaskPixel
	planes map[string]int
}

func NewMask(w, h int) *Mask {
	m := Mask{
		stride: w,
		values: make([]MaskPixel, w*h),
		planes: map[string]int{},
	}
	for k, v := range DefaultPlanes {
		m.planes[k] = v
	}
	return &m
}

func (m *Mask) Set(x, y int, v MaskPixel) { m.values[m.stride*y+x] = v }
func (m *Mask) Get(x, y int) MaskPixel    { return m.values[m.stride*y+x] }
func (m *Mask) Or(x, y int, v MaskPixel)  { m.values[m.stride*y+x] |= v }
func (m *Mask) Dx() int                   { return m.stride }
func (m *Mask) Dy() int {
	if m.stride == 0 {
		return 0
	}
	return len(m.values) / m.stride
}

func (m *Mask) Fill(v MaskPixel) {
	for i := range m.values {
		m.values[i] = v
	}
}

// AddPlane names a new bit (or returns the existing one).
func (m *Mask) AddPlane(name string) (int, error) {
	if b, exists := m.planes[name]; exists {
		return b, nil
	}
	used := map[int]bool{}
	for _, b := range m.planes {
		used[b] = true
	}
	for b := 0; b < 16; b++ {
		if !used[b] {
			m.planes[name] = b
			return b, nil
		}
	}
	return 0, fmt.Errorf("mask: no free bit for plane '%s'", name)
}

func (m *Mask) PlaneBitMask(names ...string) (MaskPixel, error) {
	var bits MaskPixel
	for _, name := range names {
		b, exists := m.planes[name]
		if !exists {
			return 0, fmt.Errorf("plane '%s': %w", name, ErrUnknownPlane)
		}
		bits |= 1 << uint(b)
	}
	return bits, nil
}

func (m *Mask) PlaneNames() []string {
	names := []string{}
	for k := range m.planes {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (m *Mask) Copy() *Mask {
	m2 := Mask{stride: m.stride, values: make([]MaskPixel, len(m.values)), planes: map[string]int{}}
	copy(m2.values, m.values)
	for k, v := range m.planes {
		m2.planes[k] = v
	}
	return &m2
}
