// Copyright ©2025 stelloptim. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dipole

import (
	"fmt"
	"math"
)

// Operators in this file are pure: they never modify their input and return a
// fresh assignment. Magnitudes are always normalized by the per-site bound
// before thresholds apply, so that strongly and weakly bounded sites are
// truncated on equal footing.

// ProjectL2Balls projects m onto the feasible region {‖mᵢ‖ ≤ mmaxᵢ}: any site
// outside its ball is rescaled onto the boundary, all others pass unchanged.
// The projection is idempotent.
func ProjectL2Balls(m Moments, mmax []float64) Moments {
	if len(m) != len(mmax) {
		panic("bound check error")
	}
	out := m.Clone()
	for i, v := range m {
		if n := v.Norm(); n > mmax[i] {
			out[i] = v.Scale(mmax[i] / n)
		}
	}
	return out
}

// ProxL0 is the proximal operator of the L0 sparsity term: a per-site hard
// threshold on the bound-normalized magnitude. A site is zeroed when
// ‖mᵢ‖/mmaxᵢ ≤ 2·reg·nu and kept unchanged otherwise.
//
// The threshold is 2·reg·nu rather than the textbook sqrt(2·reg·nu): callers
// pre-square reg (rescaling nu accordingly), and downstream tooling depends on
// this convention, so it must be preserved.
func ProxL0(m Moments, mmax []float64, reg, nu float64) Moments {
	if len(m) != len(mmax) {
		panic("bound check error")
	}
	threshold := 2 * reg * nu
	out := m.Clone()
	for i, v := range m {
		if v.Norm()/mmax[i] <= threshold {
			out[i] = Vec3{}
		}
	}
	return out
}

// ProxL1 is the proximal operator of the L1 term: a per-site soft threshold.
// The bound-normalized magnitude is shrunk by reg·nu, floored at zero, and
// rescaled by the bound; the moment direction is preserved.
func ProxL1(m Moments, mmax []float64, reg, nu float64) Moments {
	if len(m) != len(mmax) {
		panic("bound check error")
	}
	out := m.Clone()
	for i, v := range m {
		n := v.Norm()
		if n == zero {
			continue
		}
		shrunk := math.Max(n/mmax[i]-reg*nu, zero) * mmax[i]
		out[i] = v.Scale(shrunk / n)
	}
	return out
}

// SetupInitialCondition validates an initial guess against the model bounds.
// A nil guess defaults to all zeros. A non-nil guess must already lie inside
// the feasible region: it is compared against its own L2-ball projection and
// rejected with ErrInfeasibleGuess when the two differ beyond tol.
func SetupInitialCondition(md *Model, m0 Moments, tol float64) (Moments, error) {
	n := md.NumSites()
	if m0 == nil {
		return NewMoments(n), nil
	}
	if len(m0) != n {
		return nil, fmt.Errorf("%w: initial guess has %d sites, model has %d",
			ErrDimensionMismatch, len(m0), n)
	}
	repaired := ProjectL2Balls(m0, md.Mmax)
	for i, v := range m0 {
		if d := v.Sub(repaired[i]).Norm(); d > tol {
			return nil, fmt.Errorf("%w: site %d exceeds its bound by %v",
				ErrInfeasibleGuess, i, d)
		}
	}
	return m0.Clone(), nil
}
