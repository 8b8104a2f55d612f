// Copyright ©2025 stelloptim. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dipole

import (
	"fmt"
	"math"
)

// Vec3 is a cartesian 3-vector: one dipole moment, polarization axis or grid point.
// Keeping moments as explicit 3-vectors per site removes the ambiguity between
// (N,3) and (3N,) layouts that a flat array would reintroduce.
type Vec3 [3]float64

// Dot computes the scalar product v·u.
func (v Vec3) Dot(u Vec3) float64 {
	return v[0]*u[0] + v[1]*u[1] + v[2]*u[2]
}

// Norm computes the Euclidean norm ‖v‖₂.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v.Dot(v))
}

// Scale returns s×v.
func (v Vec3) Scale(s float64) Vec3 {
	return Vec3{s * v[0], s * v[1], s * v[2]}
}

// Add returns v + u.
func (v Vec3) Add(u Vec3) Vec3 {
	return Vec3{v[0] + u[0], v[1] + u[1], v[2] + u[2]}
}

// Sub returns v - u.
func (v Vec3) Sub(u Vec3) Vec3 {
	return Vec3{v[0] - u[0], v[1] - u[1], v[2] - u[2]}
}

// IsZero reports whether every component of v is exactly zero.
func (v Vec3) IsZero() bool {
	return v[0] == zero && v[1] == zero && v[2] == zero
}

// Moments holds one moment vector per dipole site.
type Moments []Vec3

// NewMoments allocates an all-zero assignment for n sites.
func NewMoments(n int) Moments {
	return make(Moments, n)
}

// Clone returns an independent copy of m.
func (m Moments) Clone() Moments {
	out := make(Moments, len(m))
	copy(out, m)
	return out
}

// Flatten writes m into dst using the site-major layout [x₀ y₀ z₀ x₁ y₁ z₁ ...].
// A nil dst is allocated; otherwise len(dst) must be 3×len(m).
func (m Moments) Flatten(dst []float64) []float64 {
	if dst == nil {
		dst = make([]float64, 3*len(m))
	}
	if len(dst) != 3*len(m) {
		panic("bound check error")
	}
	for i, v := range m {
		dst[3*i+0] = v[0]
		dst[3*i+1] = v[1]
		dst[3*i+2] = v[2]
	}
	return dst
}

// FromFlat converts a site-major flat vector of length 3N into Moments.
func FromFlat(src []float64) (Moments, error) {
	if len(src)%3 != 0 {
		return nil, fmt.Errorf("%w: flat moment length %d is not a multiple of 3",
			ErrDimensionMismatch, len(src))
	}
	m := make(Moments, len(src)/3)
	for i := range m {
		m[i] = Vec3{src[3*i+0], src[3*i+1], src[3*i+2]}
	}
	return m, nil
}

// NumNonzero counts the sites carrying a nonzero moment.
func (m Moments) NumNonzero() (n int) {
	for _, v := range m {
		if !v.IsZero() {
			n++
		}
	}
	return
}

// Distance reports ‖m - u‖₂ over all sites.
func (m Moments) Distance(u Moments) float64 {
	if len(m) != len(u) {
		panic("bound check error")
	}
	sum := zero
	for i, v := range m {
		d := v.Sub(u[i])
		sum += d.Dot(d)
	}
	return math.Sqrt(sum)
}
