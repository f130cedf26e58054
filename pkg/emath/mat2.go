package emath

import (
	"fmt"
	"math"
)

// 2x2 matrices and 2-vectors; mostly covariances of elliptical gaussians, and WCS jacobians.
type Vec2 [2]float64

// Row-major: {m00, m01, m10, m11}
type Mat2 [4]float64

func (a Vec2) Add(b Vec2) Vec2      { return Vec2{a[0] + b[0], a[1] + b[1]} }
func (a Vec2) Sub(b Vec2) Vec2      { return Vec2{a[0] - b[0], a[1] - b[1]} }
func (a Vec2) Scale(s float64) Vec2 { return Vec2{s * a[0], s * a[1]} }
func (a Vec2) Dot(b Vec2) float64   { return a[0]*b[0] + a[1]*b[1] }
func (a Vec2) IsFinite() bool       { return isFinite(a[0]) && isFinite(a[1]) }
func (a Vec2) String() string       { return fmt.Sprintf("(%.6g, %.6g)", a[0], a[1]) }

func Diag2(a, b float64) Mat2      { return Mat2{a, 0, 0, b} }
func Sym2(xx, yy, xy float64) Mat2 { return Mat2{xx, xy, xy, yy} }

func (a Mat2) Mult(b Mat2) Mat2 {
	return Mat2{
		a[0]*b[0] + a[1]*b[2], a[0]*b[1] + a[1]*b[3],
		a[2]*b[0] + a[3]*b[2], a[2]*b[1] + a[3]*b[3],
	}
}

func (m Mat2) Apply(v Vec2) Vec2 {
	return Vec2{m[0]*v[0] + m[1]*v[1], m[2]*v[0] + m[3]*v[1]}
}

// ApplyT computes v^T m, i.e. m transposed applied to v.
func (m Mat2) ApplyT(v Vec2) Vec2 {
	return Vec2{m[0]*v[0] + m[2]*v[1], m[1]*v[0] + m[3]*v[1]}
}

func (a Mat2) Add(b Mat2) Mat2      { return Mat2{a[0] + b[0], a[1] + b[1], a[2] + b[2], a[3] + b[3]} }
func (a Mat2) Sub(b Mat2) Mat2      { return Mat2{a[0] - b[0], a[1] - b[1], a[2] - b[2], a[3] - b[3]} }
func (a Mat2) Scale(s float64) Mat2 { return Mat2{s * a[0], s * a[1], s * a[2], s * a[3]} }
func (m Mat2) Transpose() Mat2      { return Mat2{m[0], m[2], m[1], m[3]} }
func (m Mat2) Det() float64         { return m[0]*m[3] - m[1]*m[2] }
func (m Mat2) Trace() float64       { return m[0] + m[3] }

func (m Mat2) Inverse() (Mat2, bool) {
	det := m.Det()
	if det == 0 || !isFinite(det) {
		return Mat2{}, false
	}
	return Mat2{m[3] / det, -m[1] / det, -m[2] / det, m[0] / det}, true
}

// Congruent returns m * s * m^T; how a covariance s transforms under the linear map m.
func (m Mat2) Congruent(s Mat2) Mat2 {
	return m.Mult(s).Mult(m.Transpose())
}

// Contract is the Frobenius inner product, sum_ij a_ij b_ij.
func (a Mat2) Contract(b Mat2) float64 {
	return a[0]*b[0] + a[1]*b[1] + a[2]*b[2] + a[3]*b[3]
}

// QuadForm computes v^T m v.
func (m Mat2) QuadForm(v Vec2) float64 {
	return v.Dot(m.Apply(v))
}

// IsPositiveDefinite is only meaningful for symmetric matrices.
func (m Mat2) IsPositiveDefinite() bool {
	return m[0] > 0 && m.Det() > 0
}

func (m Mat2) IsFinite() bool {
	return isFinite(m[0]) && isFinite(m[1]) && isFinite(m[2]) && isFinite(m[3])
}

func (m Mat2) String() string {
	return fmt.Sprintf("[%10f, %10f]\n[%10f, %10f]\n", m[0], m[1], m[2], m[3])
}

func isFinite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }
