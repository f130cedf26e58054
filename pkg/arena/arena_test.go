package arena

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArena_SlicesShareStorage(t *testing.T) {
	a := New(10, 2, 3)

	r, err := a.Range(4, 3)
	require.NoError(t, err)

	v, err := a.Vector(ModelImage, r)
	require.NoError(t, err)
	require.Len(t, v, 3)
	v[0] = 7

	whole, err := a.Vector(ModelImage, a.Whole())
	require.NoError(t, err)
	assert.Equal(t, 7.0, whole[4])

	m, err := a.Matrix(NonlinearDerivative, r)
	require.NoError(t, err)
	rows, cols := m.Dims()
	assert.Equal(t, 3, rows)
	assert.Equal(t, 3, cols)
	m.Set(2, 1, 5)

	full, err := a.Matrix(NonlinearDerivative, a.Whole())
	require.NoError(t, err)
	assert.Equal(t, 5.0, full.At(2, 5))

	// appending to a window must not scribble on the neighbours
	v = append(v, 99)
	assert.Equal(t, 0.0, whole[7])
}

func TestArena_ReleasedAndForeign(t *testing.T) {
	a := New(5, 1, 2)
	b := New(5, 1, 2)
	r, err := a.Range(0, 5)
	require.NoError(t, err)

	_, err = b.Vector(Data, r)
	assert.ErrorIs(t, err, ErrForeignRange)

	a.Release()
	_, err = a.Vector(Data, r)
	assert.ErrorIs(t, err, ErrReleased)
	_, err = a.Matrix(LinearDerivative, r)
	assert.ErrorIs(t, err, ErrReleased)
	_, err = a.Range(0, 1)
	assert.ErrorIs(t, err, ErrReleased)
}

func TestArena_BadRangeAndKind(t *testing.T) {
	a := New(5, 1, 2)
	_, err := a.Range(3, 3)
	assert.ErrorIs(t, err, ErrRange)

	_, err = a.Vector(LinearDerivative, a.Whole())
	assert.ErrorIs(t, err, ErrKind)
	_, err = a.Matrix(Data, a.Whole())
	assert.ErrorIs(t, err, ErrKind)
}

func TestArena_Empty(t *testing.T) {
	a := New(0, 1, 2)
	v, err := a.Vector(Data, a.Whole())
	require.NoError(t, err)
	assert.Len(t, v, 0)

	m, err := a.Matrix(LinearDerivative, a.Whole())
	require.NoError(t, err)
	assert.True(t, m.IsEmpty())
}

func TestValidity(t *testing.T) {
	var v Validity
	v.Set(ModelImage)
	v.Set(LinearDerivative)
	assert.True(t, v.Has(ModelImage))
	assert.False(t, v.Has(NonlinearDerivative))
	assert.Equal(t, "{modelImage,linearDerivative}", v.String())

	v.Clear(ModelImage)
	assert.False(t, v.Has(ModelImage))
	assert.True(t, v.Has(LinearDerivative))

	v.Clear()
	assert.Equal(t, Validity(0), v)
}
