// Package arena holds the per-pixel buffers shared by an evaluator and its projections.
//
// An Arena owns one contiguous buffer per Kind. Projections are handed a Range into
// it, never a raw slice; every access goes through the Arena and fails once the
// Arena has been released or if the Range came from a different Arena. Views that
// an accessor returns are only good until the next Release.
package arena

import (
	"errors"
	"fmt"
	"sync/atomic"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrReleased     = errors.New("arena: released")
	ErrForeignRange = errors.New("arena: range belongs to another arena")
	ErrRange        = errors.New("arena: range out of bounds")
	ErrKind         = errors.New("arena: wrong accessor for buffer kind")
)

type Kind uint8

const (
	Data Kind = iota
	Variance
	ModelImage
	LinearDerivative
	NonlinearDerivative
)

// Products are the kinds computed from the model, as opposed to read from exposures.
var Products = []Kind{ModelImage, LinearDerivative, NonlinearDerivative}

func (k Kind) String() string {
	switch k {
	case Data:
		return "data"
	case Variance:
		return "variance"
	case ModelImage:
		return "modelImage"
	case LinearDerivative:
		return "linearDerivative"
	case NonlinearDerivative:
		return "nonlinearDerivative"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

var generations uint64

// A Range is a window [Offset, Offset+Len) of pixel columns in one particular Arena.
type Range struct {
	Offset, Len int
	gen         uint64
}

func (r Range) End() int { return r.Offset + r.Len }

func (r Range) String() string { return fmt.Sprintf("[%d,%d)", r.Offset, r.End()) }

type Arena struct {
	gen        uint64
	released   bool
	pixSum     int
	nLinear    int
	nNonlinear int

	data, variance, modelImage []float64
	linear, nonlinear          *mat.Dense
}

// New allocates zeroed buffers for pixSum pixels. The derivative matrices are
// nLinear x pixSum and nNonlinear x pixSum, row-major.
func New(pixSum, nLinear, nNonlinear int) *Arena {
	a := Arena{
		gen:        atomic.AddUint64(&generations, 1),
		pixSum:     pixSum,
		nLinear:    nLinear,
		nNonlinear: nNonlinear,
		data:       make([]float64, pixSum),
		variance:   make([]float64, pixSum),
		modelImage: make([]float64, pixSum),
	}
	// gonum won't make zero sized matrices
	if pixSum > 0 && nLinear > 0 {
		a.linear = mat.NewDense(nLinear, pixSum, nil)
	}
	if pixSum > 0 && nNonlinear > 0 {
		a.nonlinear = mat.NewDense(nNonlinear, pixSum, nil)
	}
	return &a
}

func (a *Arena) PixelCount() int             { return a.pixSum }
func (a *Arena) LinearParameterSize() int    { return a.nLinear }
func (a *Arena) NonlinearParameterSize() int { return a.nNonlinear }
func (a *Arena) Released() bool              { return a.released }

// Range carves out a window of the arena.
func (a *Arena) Range(offset, n int) (Range, error) {
	if a.released {
		return Range{}, ErrReleased
	}
	if offset < 0 || n < 0 || offset+n > a.pixSum {
		return Range{}, fmt.Errorf("range [%d,%d) of %d: %w", offset, offset+n, a.pixSum, ErrRange)
	}
	return Range{Offset: offset, Len: n, gen: a.gen}, nil
}

// Whole is the range covering every pixel.
func (a *Arena) Whole() Range {
	return Range{Offset: 0, Len: a.pixSum, gen: a.gen}
}

// Release drops the buffers; every later access fails with ErrReleased.
func (a *Arena) Release() {
	a.released = true
	a.data, a.variance, a.modelImage = nil, nil, nil
	a.linear, a.nonlinear = nil, nil
}

func (a *Arena) check(r Range) error {
	if a.released {
		return ErrReleased
	}
	if r.gen != a.gen {
		return ErrForeignRange
	}
	if r.Offset < 0 || r.Len < 0 || r.End() > a.pixSum {
		return fmt.Errorf("%s of %d: %w", r, a.pixSum, ErrRange)
	}
	return nil
}

// Vector returns the window of one of the per-pixel vectors.
func (a *Arena) Vector(k Kind, r Range) ([]float64, error) {
	if err := a.check(r); err != nil {
		return nil, err
	}
	var buf []float64
	switch k {
	case Data:
		buf = a.data
	case Variance:
		buf = a.variance
	case ModelImage:
		buf = a.modelImage
	default:
		return nil, fmt.Errorf("vector(%s): %w", k, ErrKind)
	}
	return buf[r.Offset:r.End():r.End()], nil
}

// Matrix returns a view of the columns in r of a derivative matrix; writes to the view
// land in the arena. An empty range (or an empty arena) gives an empty matrix.
func (a *Arena) Matrix(k Kind, r Range) (*mat.Dense, error) {
	if err := a.check(r); err != nil {
		return nil, err
	}
	var m *mat.Dense
	var rows int
	switch k {
	case LinearDerivative:
		m, rows = a.linear, a.nLinear
	case NonlinearDerivative:
		m, rows = a.nonlinear, a.nNonlinear
	default:
		return nil, fmt.Errorf("matrix(%s): %w", k, ErrKind)
	}
	if m == nil || r.Len == 0 {
		return &mat.Dense{}, nil
	}
	if r.Offset == 0 && r.Len == a.pixSum {
		return m, nil
	}
	return m.Slice(0, rows, r.Offset, r.End()).(*mat.Dense), nil
}
