// Copyright ©2025 stelloptim. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dipole

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Model is the objective model consumed by every optimizer in this module:
//
//	minimize ½‖A·m − b‖² subject to ‖mᵢ‖ ≤ mmaxᵢ
//
// A maps a flat moment vector (site-major, length 3N) to the normal-field
// residual sampled at F surface points. The model is read-only for the
// duration of an optimization run; solvers copy whatever they mutate.
type Model struct {
	// A is the F×3N influence operator (dipole moment → field residual).
	A *mat.Dense
	// B is the length-F normal-field target.
	B []float64
	// Mmax holds the per-site magnitude bound, length N, all entries > 0.
	Mmax []float64

	// Axes optionally fixes one unit polarization axis per site; the discrete
	// greedy baseline restricts each moment to ± this axis at full strength.
	Axes []Vec3
	// PolVectors optionally enumerates the admissible unit polarization
	// directions per site, used by the arbitrary-vector greedy variants.
	PolVectors [][]Vec3
	// GridXYZ optionally carries the site coordinates, used by the greedy
	// variants that reason about spatial adjacency.
	GridXYZ []Vec3
	// NormalNorms optionally holds ‖surface normal‖ per field sample, used to
	// convert residuals into mean |B·n| histories.
	NormalNorms []float64

	// Coordinates records the basis of the dipole grid.
	Coordinates CoordinateSystem

	// ATAScale optionally supplies a precomputed spectral norm ‖AᵀA‖₂.
	// When zero, OperatorScale estimates it by power iteration.
	ATAScale float64
}

// NumSites returns N, the number of candidate dipole sites.
func (md *Model) NumSites() int { return len(md.Mmax) }

// NumSamples returns F, the number of field samples on the target surface.
func (md *Model) NumSamples() int { return len(md.B) }

// Validate checks the model shape before any computation starts.
func (md *Model) Validate() error {
	if md.A == nil {
		return ErrNilOperator
	}
	f, n3 := md.A.Dims()
	n := md.NumSites()
	switch {
	case n == 0:
		return fmt.Errorf("%w: model has no dipole sites", ErrDimensionMismatch)
	case n3 != 3*n:
		return fmt.Errorf("%w: operator has %d columns, want 3×%d", ErrDimensionMismatch, n3, n)
	case len(md.B) != f:
		return fmt.Errorf("%w: target length %d, operator has %d rows", ErrDimensionMismatch, len(md.B), f)
	}
	for i, b := range md.Mmax {
		if !(b > zero) {
			return fmt.Errorf("%w: mmax[%d] = %v", ErrNonPositiveBound, i, b)
		}
	}
	if md.Axes != nil && len(md.Axes) != n {
		return fmt.Errorf("%w: %d polarization axes for %d sites", ErrDimensionMismatch, len(md.Axes), n)
	}
	if md.PolVectors != nil && len(md.PolVectors) != n {
		return fmt.Errorf("%w: %d polarization sets for %d sites", ErrDimensionMismatch, len(md.PolVectors), n)
	}
	if md.GridXYZ != nil && len(md.GridXYZ) != n {
		return fmt.Errorf("%w: %d grid points for %d sites", ErrDimensionMismatch, len(md.GridXYZ), n)
	}
	if md.NormalNorms != nil && len(md.NormalNorms) != f {
		return fmt.Errorf("%w: %d normal norms for %d samples", ErrDimensionMismatch, len(md.NormalNorms), f)
	}
	return nil
}

// Residual computes r = A·x − b for a flat moment vector x, storing it in dst.
// A nil dst is allocated.
func (md *Model) Residual(x, dst []float64) []float64 {
	f := md.NumSamples()
	if dst == nil {
		dst = make([]float64, f)
	}
	if len(x) != 3*md.NumSites() || len(dst) != f {
		panic("bound check error")
	}
	r := mat.NewVecDense(f, dst)
	r.MulVec(md.A, mat.NewVecDense(len(x), x))
	floats.Sub(dst, md.B)
	return dst
}

// GradResidual computes Aᵀ·r, storing it in dst. A nil dst is allocated.
func (md *Model) GradResidual(r, dst []float64) []float64 {
	n3 := 3 * md.NumSites()
	if dst == nil {
		dst = make([]float64, n3)
	}
	if len(r) != md.NumSamples() || len(dst) != n3 {
		panic("bound check error")
	}
	g := mat.NewVecDense(n3, dst)
	g.MulVec(md.A.T(), mat.NewVecDense(len(r), r))
	return dst
}

// OperatorScale returns ‖AᵀA‖₂, preferring the precomputed ATAScale.
// The estimate uses a fixed-iteration power method on x ↦ Aᵀ(A·x) seeded with
// a constant vector, so repeated calls are deterministic.
func (md *Model) OperatorScale() float64 {
	if md.ATAScale > zero {
		return md.ATAScale
	}
	const iterations = 64
	n3 := 3 * md.NumSites()
	x := make([]float64, n3)
	ax := make([]float64, md.NumSamples())
	for i := range x {
		x[i] = one / math.Sqrt(float64(n3))
	}
	scale := zero
	for k := 0; k < iterations; k++ {
		av := mat.NewVecDense(len(ax), ax)
		av.MulVec(md.A, mat.NewVecDense(n3, x))
		xv := mat.NewVecDense(n3, x)
		xv.MulVec(md.A.T(), av)
		scale = floats.Norm(x, 2)
		if scale == zero {
			return zero
		}
		floats.Scale(one/scale, x)
	}
	return scale
}
