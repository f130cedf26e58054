package emath

// Some basic affine transformations, used by the WCS to map between pixel and sky coordinates

import (
	"fmt"
	"math"

	"golang.org/x/image/math/f64" // Will be "image/math/f64" at some point, hopefully make this file redundant
)

// Use a local type so we can hang methods off it
type Aff3 f64.Aff3

// Cut-n-pasted from image@0.7.0/draw/scale:matMul
func (p Aff3) Mult(q Aff3) Aff3 {
	return Aff3{
		p[3*0+0]*q[3*0+0] + p[3*0+1]*q[3*1+0],
		p[3*0+0]*q[3*0+1] + p[3*0+1]*q[3*1+1],
		p[3*0+0]*q[3*0+2] + p[3*0+1]*q[3*1+2] + p[3*0+2],
		p[3*1+0]*q[3*0+0] + p[3*1+1]*q[3*1+0],
		p[3*1+0]*q[3*0+1] + p[3*1+1]*q[3*1+1],
		p[3*1+0]*q[3*0+2] + p[3*1+1]*q[3*1+2] + p[3*1+2],
	}
}

func Identity() Aff3 {
	return Aff3{1, 0, 0, 0, 1, 0}
}

// LinearAff3 wraps a 2x2 matrix as an affine transform with no translation.
func LinearAff3(m Mat2) Aff3 {
	return Aff3{m[0], m[1], 0, m[2], m[3], 0}
}

func (m1 Aff3) Translate(tx, ty float64) Aff3 {
	return m1.Mult(Aff3{1, 0, tx, 0, 1, ty})
}

// Rotate turns anticlockwise by thetaDeg, about the origin, before m1 is applied.
func (m1 Aff3) Rotate(thetaDeg float64) Aff3 {
	cosTheta := math.Cos(thetaDeg * math.Pi / 180.0)
	sinTheta := math.Sin(thetaDeg * math.Pi / 180.0)
	return m1.Mult(Aff3{cosTheta, -1 * sinTheta, 0, sinTheta, cosTheta, 0})
}

// Apply maps a point through the transform.
func (m Aff3) Apply(v Vec2) Vec2 {
	return Vec2{
		m[0]*v[0] + m[1]*v[1] + m[2],
		m[3]*v[0] + m[4]*v[1] + m[5],
	}
}

// Linear is the 2x2 part of the transform, i.e. its Jacobian.
func (m Aff3) Linear() Mat2 {
	return Mat2{m[0], m[1], m[3], m[4]}
}

// Invert returns the inverse transform; false if the linear part is singular.
func (m Aff3) Invert() (Aff3, bool) {
	inv, ok := m.Linear().Inverse()
	if !ok {
		return Aff3{}, false
	}
	t := inv.Apply(Vec2{m[2], m[5]})
	return Aff3{inv[0], inv[1], -t[0], inv[2], inv[3], -t[1]}, true
}

func (m Aff3) String() string {
	return fmt.Sprintf("[%g %g %g; %g %g %g]", m[0], m[1], m[2], m[3], m[4], m[5])
}
